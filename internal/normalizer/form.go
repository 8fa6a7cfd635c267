package normalizer

import (
	"sync"

	"storyteller-server/internal/model"
)

// Form хранит состояние формы генерации: поля, уровень подписки и признак явной длины.
// Смена уровня всегда пересчитывает длину, даже если пользователь менял ее раньше.
type Form struct {
	mu               sync.Mutex
	fields           Fields
	lengthOverridden bool
}

// NewForm создает форму для уровня подписки.
func NewForm(tier model.SubscriptionTier) *Form {
	f := &Form{}
	f.SetTier(tier)
	return f
}

func (f *Form) SetTier(tier model.SubscriptionTier) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fields.Tier = tier
	f.fields.StoryLength = DefaultLengthForTier(tier)
	f.lengthOverridden = false
}

// SetLength - явный выбор длины пользователем. Пустое значение сбрасывает выбор.
func (f *Form) SetLength(l model.StoryLength) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l == "" {
		f.fields.StoryLength = DefaultLengthForTier(f.fields.Tier)
		f.lengthOverridden = false
		return
	}
	f.fields.StoryLength = l
	f.lengthOverridden = true
}

// LengthOverridden - выбрал ли пользователь длину сам.
func (f *Form) LengthOverridden() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lengthOverridden
}

// Apply копирует текстовые поля; уровень и длина задаются через SetTier/SetLength.
func (f *Form) Apply(in Fields) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tier, length := f.fields.Tier, f.fields.StoryLength
	f.fields = in
	f.fields.Tier, f.fields.StoryLength = tier, length
}

// Fields возвращает копию текущих полей.
func (f *Form) Fields() Fields {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fields
}

// Reset очищает поля, сохраняя уровень подписки.
func (f *Form) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	tier := f.fields.Tier
	f.fields = Fields{Tier: tier, StoryLength: DefaultLengthForTier(tier)}
	f.lengthOverridden = false
}

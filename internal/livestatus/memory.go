package livestatus

import (
	"context"
	"sync"
	"sync/atomic"

	"storyteller-server/internal/interfaces"
)

// MemoryChannel - StatusChannel в памяти процесса. Колбэки вызываются синхронно
// в горутине, выполнившей Set/Remove; устаревшие значения подписчику не доставляются.
type MemoryChannel struct {
	mu     sync.Mutex
	values map[string]string
	subs   map[string]map[uint64]*memorySub
	nextID uint64
	seq    uint64
}

type memorySub struct {
	mu      sync.Mutex
	cb      interfaces.ValueCallback
	lastSeq uint64
	closed  atomic.Bool
}

// NewMemoryChannel создает пустой канал.
func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{
		values: make(map[string]string),
		subs:   make(map[string]map[uint64]*memorySub),
	}
}

var _ interfaces.StatusChannel = (*MemoryChannel)(nil)

type delivery struct {
	sub   *memorySub
	value string
	ok    bool
	seq   uint64
}

func (m *MemoryChannel) Set(_ context.Context, path, value string) error {
	m.mu.Lock()
	m.seq++
	m.values[path] = value
	var ds []delivery
	for _, s := range m.subs[path] {
		ds = append(ds, delivery{sub: s, value: value, ok: true, seq: m.seq})
	}
	m.mu.Unlock()

	deliver(ds)
	return nil
}

func (m *MemoryChannel) Get(_ context.Context, path string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[path]
	return v, ok, nil
}

func (m *MemoryChannel) SubscribeValue(_ context.Context, path string, cb interfaces.ValueCallback) (func(), error) {
	s := &memorySub{cb: cb}

	m.mu.Lock()
	m.nextID++
	id := m.nextID
	if m.subs[path] == nil {
		m.subs[path] = make(map[uint64]*memorySub)
	}
	m.subs[path][id] = s
	v, ok := m.values[path]
	initial := delivery{sub: s, value: v, ok: ok, seq: m.seq}
	// Начальное значение доставляется раньше любого последующего изменения.
	s.mu.Lock()
	m.mu.Unlock()
	s.lastSeq = initial.seq
	s.cb(initial.value, initial.ok)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.closed.Store(true)
			m.mu.Lock()
			delete(m.subs[path], id)
			if len(m.subs[path]) == 0 {
				delete(m.subs, path)
			}
			m.mu.Unlock()
		})
	}, nil
}

// Remove удаляет path и все вложенные пути, подписчики получают ok=false.
func (m *MemoryChannel) Remove(_ context.Context, path string) error {
	m.mu.Lock()
	m.seq++
	for k := range m.values {
		if isUnder(k, path) {
			delete(m.values, k)
		}
	}
	var ds []delivery
	for p, subs := range m.subs {
		if !isUnder(p, path) {
			continue
		}
		for _, s := range subs {
			ds = append(ds, delivery{sub: s, seq: m.seq})
		}
	}
	m.mu.Unlock()

	deliver(ds)
	return nil
}

// Len - число хранимых путей.
func (m *MemoryChannel) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}

func deliver(ds []delivery) {
	for _, d := range ds {
		if d.sub.closed.Load() {
			continue
		}
		d.sub.mu.Lock()
		if d.seq > d.sub.lastSeq && !d.sub.closed.Load() {
			d.sub.lastSeq = d.seq
			d.sub.cb(d.value, d.ok)
		}
		d.sub.mu.Unlock()
	}
}

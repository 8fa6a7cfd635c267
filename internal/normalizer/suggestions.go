package normalizer

import (
	"math/rand/v2"

	"storyteller-server/internal/model"
)

var (
	suggestedTitles = []string{
		"The Enchanted Forest", "Mystery of the Lost City", "Adventures in Space", "The Brave Knight",
		"Underwater Kingdom", "The Magic School", "Time Traveler's Quest", "The Secret Garden",
		"Dragon's Treasure", "The Friendly Robot", "Journey to the Stars", "The Talking Animals",
		"Wizard's Apprentice", "The Hidden Island", "Superhero Academy", "The Rainbow Bridge",
		"Pirate's Adventure", "The Crystal Cave", "Fairy Tale Kingdom",
	}
	suggestedPrompts = []string{
		"A young explorer discovers a hidden world beneath their garden",
		"A magical creature needs help finding its way home",
		"Friends embark on an adventure to save their town",
		"A mysterious map leads to an ancient treasure",
		"A talking animal becomes the hero of the story",
		"A child discovers they have special powers",
		"An ordinary day turns into an extraordinary adventure",
		"A group of friends must solve a magical mystery",
		"A brave character faces their biggest fear",
		"A journey to a faraway land teaches valuable lessons",
		"A magical object changes everything",
		"A character learns the importance of friendship",
	}
	suggestedGenres = []string{
		"Fantasy", "Adventure", "Mystery", "Science Fiction", "Fairy Tale",
		"Superhero", "Animal Story", "Historical", "Magical Realism", "Coming of Age",
	}
	suggestedTones = []string{
		"Funny", "Adventurous", "Mysterious", "Inspirational", "Magical", "Educational", "Heartwarming", "Exciting",
	}
	suggestedNames = []string{
		"Alex", "Sam", "Jordan", "Taylor", "Casey", "Morgan", "Riley", "Quinn",
		"Avery", "Sage", "River", "Sky", "Phoenix", "Blake", "Emery",
	}
	suggestedSettings = []string{
		"A magical forest", "An ancient castle", "A bustling city", "A quiet village", "A mysterious island",
		"A space station", "An underwater kingdom", "A mountain peak", "A desert oasis", "A hidden cave",
		"A floating city", "A time portal", "A dream world", "A parallel universe", "A secret garden",
	}
	ageGroups         = []string{"child", "teen", "adult", "senior"}
	proficiencyLevels = []string{"beginner", "intermediate", "advanced", "native"}
	storyLengths      = []model.StoryLength{model.LengthShort, model.LengthMedium, model.LengthLong}
)

// Suggest заполняет форму случайными значениями.
func Suggest(r *rand.Rand) Fields {
	if r == nil {
		r = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return Fields{
		Prompt:              pick(r, suggestedPrompts),
		Title:               pick(r, suggestedTitles),
		Genre:               pick(r, suggestedGenres),
		Tone:                pick(r, suggestedTones),
		Character:           pick(r, suggestedNames),
		Setting:             pick(r, suggestedSettings),
		AgeGroup:            pick(r, ageGroups),
		LanguageProficiency: pick(r, proficiencyLevels),
		StoryLength:         pick(r, storyLengths),
	}
}

func pick[T any](r *rand.Rand, items []T) T {
	return items[r.IntN(len(items))]
}

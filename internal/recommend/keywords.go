package recommend

import "github.com/justestif/moodtune/internal/mood"

// keywords drives the search tier.
var keywords = map[mood.Label]string{
	mood.Happy:     "upbeat pop",
	mood.Sad:       "sad acoustic",
	mood.Calm:      "ambient relaxing",
	mood.Energetic: "high energy workout",
	mood.Anxious:   "calming piano",
	mood.Angry:     "aggressive rock",
	mood.Romantic:  "love songs",
	mood.Nostalgic: "throwback classics",
	mood.Focused:   "lofi focus",
}

const defaultKeyword = "feel good hits"

// Keyword returns the search phrase for label.
func Keyword(label mood.Label) string {
	if k, ok := keywords[label]; ok {
		return k
	}
	return defaultKeyword
}

package insight

import (
	"fmt"
	"math"

	"github.com/justestif/moodtune/internal/mood"
	"github.com/justestif/moodtune/internal/patterns"
)

var trendPhrases = map[patterns.Trend]string{
	patterns.Improving: "Your mood intensity has been trending upward compared to the week before.",
	patterns.Declining: "Your mood intensity has dipped compared to the week before.",
	patterns.Stable:    "Your mood intensity has been holding steady.",
}

var trendTips = map[patterns.Trend][]string{
	patterns.Improving: {"Note what has been working this week so you can repeat it."},
	patterns.Declining: {"Try a short walk or a favourite playlist when the day feels heavy.", "Reach out to someone you trust."},
	patterns.Stable:    {"Keep logging daily to spot longer-term patterns."},
}

// Template builds an insight from the pattern alone. It does no I/O.
func Template(p patterns.Pattern) Insight {
	if p.DaysTracked == 0 {
		return noDataInsight()
	}

	phrase, ok := trendPhrases[p.Trend]
	if !ok {
		phrase = trendPhrases[patterns.Stable]
	}

	text := fmt.Sprintf(
		"Over %d tracked %s your most frequent mood was %s, with an average intensity of %.1f out of 10. Trend: %s. %s",
		p.DaysTracked, plural(p.DaysTracked, "day", "days"), p.DominantMood, p.AverageIntensity, p.Trend, phrase,
	)

	intensity := int(math.Round(p.AverageIntensity))
	return Insight{
		Text:            text,
		Source:          SourceTemplate,
		Recommendations: trendTips[p.Trend],
		Genres:          mood.MapToFeatures(p.DominantMood, intensity).GenreSeeds,
	}
}

func noDataInsight() Insight {
	return Insight{
		Text:   "Start logging your moods to unlock personal insights. A few entries over the next days is all it takes to spot a pattern.",
		Source: SourceTemplate,
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

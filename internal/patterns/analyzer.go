// Package patterns aggregates a mood history into summary statistics.
package patterns

import (
	"time"

	"github.com/justestif/moodtune/internal/mood"
)

// Trend is the week-over-week movement of mood intensity.
type Trend string

const (
	Improving Trend = "improving"
	Stable    Trend = "stable"
	Declining Trend = "declining"
)

const (
	// DefaultTrendThreshold is the intensity delta, on the 1-10 scale, needed
	// to call a trend.
	DefaultTrendThreshold = 1.0

	week = 7 * 24 * time.Hour

	// minTrendDays is how many calendar days of history a trend needs.
	minTrendDays = 14
)

// Pattern summarises a set of entries. It is always derivable from the
// entries and never stored.
type Pattern struct {
	DominantMood     mood.Label         `json:"dominant_mood"`
	Frequency        map[mood.Label]int `json:"frequency"`
	AverageIntensity float64            `json:"average_intensity"`
	Trend            Trend              `json:"trend"`
	DaysTracked      int                `json:"days_tracked"`
	Rhythms          []Rhythm           `json:"rhythms,omitempty"`
}

type options struct {
	windowDays int
	now        time.Time
	threshold  float64
	rhythms    int
}

// Option configures Analyze.
type Option func(*options)

// WithWindow keeps only entries from the trailing days before now.
// Zero or negative means no window.
func WithWindow(days int) Option {
	return func(o *options) {
		o.windowDays = days
	}
}

// WithNow sets the reference time. By default it is the newest entry's
// timestamp, so a fixed history always yields the same pattern.
func WithNow(now time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithTrendThreshold overrides DefaultTrendThreshold.
func WithTrendThreshold(t float64) Option {
	return func(o *options) {
		if t >= 0 {
			o.threshold = t
		}
	}
}

// WithRhythms also clusters the windowed entries into k daily rhythms.
func WithRhythms(k int) Option {
	return func(o *options) {
		o.rhythms = k
	}
}

// Analyze computes the pattern of entries. Entry order does not matter.
// An empty history gives a zeroed pattern with a stable trend.
func Analyze(entries []mood.Entry, opts ...Option) Pattern {
	o := options{threshold: DefaultTrendThreshold}
	for _, opt := range opts {
		opt(&o)
	}
	if o.now.IsZero() {
		o.now = newest(entries)
	}

	if o.windowDays > 0 {
		entries = within(entries, o.now.AddDate(0, 0, -o.windowDays), o.now)
	}

	p := Pattern{
		DominantMood: mood.Unknown,
		Frequency:    make(map[mood.Label]int),
		Trend:        Stable,
	}
	if len(entries) == 0 {
		return p
	}

	lastSeen := make(map[mood.Label]time.Time)
	days := make(map[civilDate]struct{})
	total := 0
	for _, e := range entries {
		label := mood.ParseLabel(string(e.Label))
		p.Frequency[label]++
		if e.CreatedAt.After(lastSeen[label]) {
			lastSeen[label] = e.CreatedAt
		}
		days[dateOf(e.CreatedAt)] = struct{}{}
		total += e.Intensity
	}

	p.DominantMood = dominant(p.Frequency, lastSeen)
	p.AverageIntensity = float64(total) / float64(len(entries))
	p.DaysTracked = len(days)
	p.Trend = trend(entries, o.now, o.threshold)
	if o.rhythms > 0 {
		p.Rhythms = DetectRhythms(entries, o.rhythms)
	}
	return p
}

// dominant picks the most frequent label; ties go to the one seen most
// recently, then to the lexically smaller label.
func dominant(freq map[mood.Label]int, lastSeen map[mood.Label]time.Time) mood.Label {
	best := mood.Unknown
	bestCount := 0
	for label, count := range freq {
		switch {
		case count > bestCount:
		case count < bestCount:
			continue
		case lastSeen[label].After(lastSeen[best]):
		case lastSeen[label].Equal(lastSeen[best]) && label < best:
		default:
			continue
		}
		best, bestCount = label, count
	}
	return best
}

// trend compares mean intensity of the trailing week with the week before.
func trend(entries []mood.Entry, now time.Time, threshold float64) Trend {
	oldest := entries[0].CreatedAt
	for _, e := range entries[1:] {
		if e.CreatedAt.Before(oldest) {
			oldest = e.CreatedAt
		}
	}
	if daysBetween(dateOf(oldest), dateOf(now))+1 < minTrendDays {
		return Stable
	}

	recent, rok := meanIntensity(within(entries, now.Add(-week), now))
	prior, pok := meanIntensity(within(entries, now.Add(-2*week), now.Add(-week)))
	if !rok || !pok {
		return Stable
	}

	switch delta := recent - prior; {
	case delta > threshold:
		return Improving
	case delta < -threshold:
		return Declining
	default:
		return Stable
	}
}

// within returns entries in the half-open interval (from, to].
func within(entries []mood.Entry, from, to time.Time) []mood.Entry {
	var out []mood.Entry
	for _, e := range entries {
		if e.CreatedAt.After(from) && !e.CreatedAt.After(to) {
			out = append(out, e)
		}
	}
	return out
}

func meanIntensity(entries []mood.Entry) (float64, bool) {
	if len(entries) == 0 {
		return 0, false
	}
	sum := 0
	for _, e := range entries {
		sum += e.Intensity
	}
	return float64(sum) / float64(len(entries)), true
}

func newest(entries []mood.Entry) time.Time {
	var t time.Time
	for _, e := range entries {
		if e.CreatedAt.After(t) {
			t = e.CreatedAt
		}
	}
	return t
}

// civilDate is a calendar date in the timestamp's own location.
type civilDate struct {
	year  int
	month time.Month
	day   int
}

func dateOf(t time.Time) civilDate {
	y, m, d := t.Date()
	return civilDate{y, m, d}
}

func daysBetween(a, b civilDate) int {
	ta := time.Date(a.year, a.month, a.day, 0, 0, 0, 0, time.UTC)
	tb := time.Date(b.year, b.month, b.day, 0, 0, 0, 0, time.UTC)
	return int(tb.Sub(ta).Hours() / 24)
}

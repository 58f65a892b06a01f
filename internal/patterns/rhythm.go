package patterns

import (
	"cmp"
	"math"
	"slices"
	"time"

	"github.com/muesli/clusters"

	"github.com/justestif/moodtune/internal/mood"
)

// Rhythm is a recurring time-of-day cluster in the mood log.
type Rhythm struct {
	Hour             float64    `json:"hour"` // Typical local hour, [0,24)
	DominantMood     mood.Label `json:"dominant_mood"`
	AverageIntensity float64    `json:"average_intensity"`
	Size             int        `json:"size"`
}

// entryObservation wraps an Entry to implement clusters.Observation.
type entryObservation struct {
	entry  *mood.Entry
	coords clusters.Coordinates
}

func (o entryObservation) Coordinates() clusters.Coordinates {
	return o.coords
}

func (o entryObservation) Distance(point clusters.Coordinates) float64 {
	return o.coords.Distance(point)
}

const (
	// maxRhythmIterations caps the Lloyd iterations in partition.
	maxRhythmIterations = 96

	// reseedEpsilon is the squared distance below which a point counts as
	// sitting on its centre.
	reseedEpsilon = 1e-9
)

// DetectRhythms groups entries by time of day and intensity using k-means.
// The hour is encoded on the unit circle so 23:00 and 01:00 are neighbours.
// Returns nil if there are fewer entries than k. Result is ordered by hour
// and the same entries always give the same rhythms.
func DetectRhythms(entries []mood.Entry, k int) []Rhythm {
	if k <= 0 || len(entries) < k {
		return nil
	}

	var obs clusters.Observations
	for i := range entries {
		obs = append(obs, entryObservation{
			entry:  &entries[i],
			coords: encode(&entries[i]),
		})
	}

	result := partition(obs, k)

	var rhythms []Rhythm
	for _, cluster := range result {
		if len(cluster.Observations) == 0 {
			continue
		}

		freq := make(map[mood.Label]int)
		lastSeen := make(map[mood.Label]time.Time)
		sum := 0
		for _, o := range cluster.Observations {
			eo, ok := o.(entryObservation)
			if !ok {
				continue
			}
			label := mood.ParseLabel(string(eo.entry.Label))
			freq[label]++
			if eo.entry.CreatedAt.After(lastSeen[label]) {
				lastSeen[label] = eo.entry.CreatedAt
			}
			sum += eo.entry.Intensity
		}

		rhythms = append(rhythms, Rhythm{
			Hour:             hourOf(cluster.Center),
			DominantMood:     dominant(freq, lastSeen),
			AverageIntensity: math.Round(float64(sum)/float64(len(cluster.Observations))*10) / 10,
			Size:             len(cluster.Observations),
		})
	}

	slices.SortFunc(rhythms, func(a, b Rhythm) int {
		return cmp.Compare(a.Hour, b.Hour)
	})
	return rhythms
}

// partition runs k-means from fixed starting centres: k hours evenly spaced
// around the clock at the mean intensity. An emptied cluster takes the point
// farthest from its own centre, so no step depends on chance.
func partition(obs clusters.Observations, k int) clusters.Clusters {
	mean, err := obs.Center()
	if err != nil {
		return nil
	}

	cc := make(clusters.Clusters, k)
	for i := range cc {
		theta := 2 * math.Pi * (float64(i) + 0.5) / float64(k)
		cc[i].Center = clusters.Coordinates{math.Cos(theta), math.Sin(theta), mean[2]}
	}

	assigned := make([]int, len(obs))
	for i := range assigned {
		assigned[i] = -1
	}

	for range maxRhythmIterations {
		changes := 0
		cc.Reset()
		for p, o := range obs {
			ci := cc.Nearest(o)
			cc[ci].Append(o)
			if assigned[p] != ci {
				assigned[p] = ci
				changes++
			}
		}

		counts := make([]int, k)
		for _, ci := range assigned {
			counts[ci]++
		}
		moved := false
		for ci := range cc {
			if counts[ci] > 0 {
				continue
			}
			if p := farthest(obs, cc, assigned, counts); p >= 0 {
				counts[assigned[p]]--
				counts[ci]++
				assigned[p] = ci
				moved = true
				changes++
			}
		}
		if moved {
			cc.Reset()
			for p, o := range obs {
				cc[assigned[p]].Append(o)
			}
		}

		cc.Recenter()
		if changes == 0 {
			break
		}
	}
	return cc
}

// farthest returns the index of the point farthest from its cluster centre
// among clusters that can spare one, or -1 if every such point sits on its
// centre. Ties go to the lower index.
func farthest(obs clusters.Observations, cc clusters.Clusters, assigned, counts []int) int {
	best, bestDist := -1, reseedEpsilon
	for p, o := range obs {
		ci := assigned[p]
		if counts[ci] < 2 {
			continue
		}
		if d := o.Distance(cc[ci].Center); d > bestDist {
			best, bestDist = p, d
		}
	}
	return best
}

// encode maps an entry to (cos θ, sin θ, intensity/10) where θ is its hour
// of day on the unit circle.
func encode(e *mood.Entry) clusters.Coordinates {
	t := e.CreatedAt
	hour := float64(t.Hour()) + float64(t.Minute())/60
	theta := 2 * math.Pi * hour / 24
	return clusters.Coordinates{
		math.Cos(theta),
		math.Sin(theta),
		float64(e.Intensity) / 10,
	}
}

// hourOf recovers the hour from a cluster centre.
func hourOf(center clusters.Coordinates) float64 {
	if len(center) < 2 {
		return 0
	}
	theta := math.Atan2(center[1], center[0])
	if theta < 0 {
		theta += 2 * math.Pi
	}
	hour := theta * 24 / (2 * math.Pi)
	return math.Mod(math.Round(hour*10)/10, 24)
}

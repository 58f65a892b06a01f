package mood

const (
	// MinTempo and MaxTempo bound the tempo target in BPM.
	MinTempo = 60.0
	MaxTempo = 180.0

	neutralValence = 0.5
	neutralEnergy  = 0.5
	neutralTempo   = 100.0
)

// FeatureVector is the audio-feature target for a recommendation query.
type FeatureVector struct {
	Valence      float64
	Energy       float64
	Tempo        float64
	Danceability *float64 // nil when the mood has no opinion
	GenreSeeds   []string
}

// axis describes how one feature moves with intensity.
// dir is +1 (up), -1 (down) or 0 (hold at base).
type axis struct {
	base   float64
	spread float64
	dir    float64
}

func (a axis) at(f float64) float64 {
	return a.base + a.dir*f*a.spread
}

type profile struct {
	valence axis
	energy  axis
	tempo   axis
	dance   axis
	genres  []string
}

// profiles is keyed by every label in All(); a test keeps it exhaustive.
var profiles = map[Label]profile{
	Happy: {
		valence: axis{0.65, 0.30, 1},
		energy:  axis{0.60, 0.30, 1},
		tempo:   axis{110, 25, 1},
		dance:   axis{0.60, 0.25, 1},
		genres:  []string{"pop", "happy", "dance"},
	},
	Sad: {
		valence: axis{0.35, 0.30, -1},
		energy:  axis{0.40, 0.30, -1},
		tempo:   axis{95, 25, -1},
		dance:   axis{0.40, 0.20, -1},
		genres:  []string{"sad", "acoustic", "piano", "indie"},
	},
	Calm: {
		valence: axis{0.50, 0, 0},
		energy:  axis{0.35, 0.25, -1},
		tempo:   axis{90, 25, -1},
		dance:   axis{0.35, 0.15, -1},
		genres:  []string{"ambient", "chill", "acoustic"},
	},
	Energetic: {
		valence: axis{0.60, 0.20, 1},
		energy:  axis{0.70, 0.30, 1},
		tempo:   axis{125, 40, 1},
		dance:   axis{0.65, 0.30, 1},
		genres:  []string{"edm", "work-out", "dance", "electronic"},
	},
	Anxious: {
		valence: axis{0.45, 0.10, 1},
		energy:  axis{0.40, 0.25, -1},
		tempo:   axis{95, 20, -1},
		dance:   axis{0.40, 0, 0},
		genres:  []string{"ambient", "chill", "classical"},
	},
	Angry: {
		valence: axis{0.35, 0.20, -1},
		energy:  axis{0.70, 0.30, 1},
		tempo:   axis{130, 40, 1},
		dance:   axis{0.50, 0, 0},
		genres:  []string{"rock", "metal", "hard-rock"},
	},
	Romantic: {
		valence: axis{0.60, 0.20, 1},
		energy:  axis{0.45, 0.20, -1},
		tempo:   axis{100, 0, 0},
		dance:   axis{0.55, 0.15, 1},
		genres:  []string{"romance", "r-n-b", "soul"},
	},
	Nostalgic: {
		valence: axis{0.50, 0.20, -1},
		energy:  axis{0.45, 0.20, -1},
		tempo:   axis{105, 0, 0},
		dance:   axis{0.50, 0, 0},
		genres:  []string{"folk", "indie", "singer-songwriter"},
	},
	Focused: {
		valence: axis{0.50, 0, 0},
		energy:  axis{0.45, 0.15, -1},
		tempo:   axis{110, 0, 0},
		dance:   axis{0.30, 0.10, -1},
		genres:  []string{"study", "classical", "piano", "ambient"},
	},
}

// MapToFeatures returns the feature target for a mood at the given intensity.
// Intensity is clamped to [1,10]. Unknown labels map to a neutral anchor.
func MapToFeatures(label Label, intensity int) FeatureVector {
	f := float64(clampInt(intensity, 1, 10)) / 10

	p, ok := profiles[ParseLabel(string(label))]
	if !ok {
		return FeatureVector{
			Valence:    neutralValence,
			Energy:     neutralEnergy,
			Tempo:      neutralTempo,
			GenreSeeds: []string{"pop", "indie"},
		}
	}

	dance := clamp(p.dance.at(f), 0, 1)
	seeds := make([]string, len(p.genres))
	copy(seeds, p.genres)

	return FeatureVector{
		Valence:      clamp(p.valence.at(f), 0, 1),
		Energy:       clamp(p.energy.at(f), 0, 1),
		Tempo:        clamp(p.tempo.at(f), MinTempo, MaxTempo),
		Danceability: &dance,
		GenreSeeds:   seeds,
	}
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}

func clampInt(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

package spotify

// Track contains the track metadata shown alongside a recommendation.
type Track struct {
	ID         string
	Name       string
	Artist     string // Comma-separated artist names
	Album      string
	ImageURL   string // Largest album image, empty if unknown
	URI        string
	DurationMs int
}

// Package mood defines the canonical mood taxonomy and maps a logged mood to
// a target audio-feature vector.
package mood

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Label is a canonical mood category.
type Label string

// Canonical labels. Anything that does not parse to one of these is Unknown.
const (
	Happy     Label = "happy"
	Sad       Label = "sad"
	Calm      Label = "calm"
	Energetic Label = "energetic"
	Anxious   Label = "anxious"
	Angry     Label = "angry"
	Romantic  Label = "romantic"
	Nostalgic Label = "nostalgic"
	Focused   Label = "focused"
	Unknown   Label = "unknown"
)

var all = []Label{Happy, Sad, Calm, Energetic, Anxious, Angry, Romantic, Nostalgic, Focused}

// aliases folds the vocabulary used by older journal clients onto the
// canonical set.
var aliases = map[string]Label{
	"excited":    Energetic,
	"peaceful":   Calm,
	"relaxed":    Calm,
	"stressed":   Anxious,
	"melancholy": Sad,
	"content":    Happy,
	"frustrated": Angry,
	"love":       Romantic,
}

// All returns every canonical label except Unknown, in a stable order.
func All() []Label {
	out := make([]Label, len(all))
	copy(out, all)
	return out
}

// ParseLabel normalizes s to a canonical label. Comparison is
// case-insensitive and ignores surrounding whitespace.
func ParseLabel(s string) Label {
	key := strings.ToLower(strings.TrimSpace(s))
	for _, l := range all {
		if string(l) == key {
			return l
		}
	}
	if l, ok := aliases[key]; ok {
		return l
	}
	return Unknown
}

// Known reports whether l is one of the canonical labels.
func (l Label) Known() bool {
	return ParseLabel(string(l)) == l && l != Unknown
}

func (l Label) String() string {
	return string(l)
}

// UnmarshalText parses the label leniently so JSON payloads using aliases or
// mixed case decode to the canonical value.
func (l *Label) UnmarshalText(text []byte) error {
	*l = ParseLabel(string(text))
	return nil
}

// SongContext is the track a user attached to a journal entry.
type SongContext struct {
	TrackID    string `json:"track_id"`
	TrackName  string `json:"track_name"`
	ArtistName string `json:"artist_name"`
}

// Entry is one logged mood. Intensity is expected in [1,10]; entries are
// validated by whoever creates them.
type Entry struct {
	ID        uuid.UUID    `json:"id"`
	Label     Label        `json:"mood"`
	Intensity int          `json:"intensity"`
	Note      string       `json:"note,omitempty"`
	Song      *SongContext `json:"song,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

package recommend

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/justestif/moodtune/internal/mood"
)

// catalogJSON holds the last-resort suggestions, keyed by mood label plus a
// "general" list used to top up short moods.
//
//go:embed catalog.json
var catalogJSON []byte

const generalKey = "general"

type catalogEntry struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
	Album  string `json:"album"`
}

// Catalog is a static, mood-tagged track list. Lookups are deterministic.
type Catalog struct {
	byMood map[string][]catalogEntry
}

// DefaultCatalog parses the embedded catalogue.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(catalogJSON)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog: %v", err))
	}
	return c
}

// ParseCatalog decodes a catalogue document. It requires a non-empty
// general list so every lookup can return something.
func ParseCatalog(data []byte) (*Catalog, error) {
	var byMood map[string][]catalogEntry
	if err := json.Unmarshal(data, &byMood); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}
	if len(byMood[generalKey]) == 0 {
		return nil, fmt.Errorf("catalog has no %q entries", generalKey)
	}
	return &Catalog{byMood: byMood}, nil
}

// Pick returns up to n results for label: the mood's own entries first, then
// general ones, without duplicates. It returns at least one result.
func (c *Catalog) Pick(label mood.Label, n int) []Result {
	n = max(n, 1)
	out := make([]Result, 0, n)
	seen := make(map[string]bool)

	for _, key := range []string{string(label), generalKey} {
		for _, e := range c.byMood[key] {
			if len(out) == n {
				return out
			}
			r := e.result()
			if seen[r.TrackID] {
				continue
			}
			seen[r.TrackID] = true
			out = append(out, r)
		}
	}
	return out
}

func (e catalogEntry) result() Result {
	q := e.Title + " " + e.Artist
	return Result{
		TrackID:     "static:" + slug(q),
		Title:       e.Title,
		Artist:      e.Artist,
		Album:       e.Album,
		URI:         "spotify:search:" + url.QueryEscape(q),
		Tier:        Fallback,
		MatchReason: "default suggestion",
	}
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

package spotify

import (
	"context"
	"fmt"
	"strings"

	"github.com/zmb3/spotify/v2"

	"github.com/justestif/moodtune/internal/failure"
	"github.com/justestif/moodtune/internal/mood"
)

// maxGenreSeeds is the API's cap on seed values per request.
const maxGenreSeeds = 5

// Recommend asks the recommendations endpoint for tracks near the target
// features, seeded by the vector's genres.
func (c *Client) Recommend(ctx context.Context, token string, fv mood.FeatureVector, limit int) ([]Track, error) {
	genres := fv.GenreSeeds
	if len(genres) > maxGenreSeeds {
		genres = genres[:maxGenreSeeds]
	}

	attrs := spotify.NewTrackAttributes().
		TargetValence(fv.Valence).
		TargetEnergy(fv.Energy).
		TargetTempo(fv.Tempo)
	if fv.Danceability != nil {
		attrs = attrs.TargetDanceability(*fv.Danceability)
	}

	recs, err := c.api(ctx, token).GetRecommendations(ctx, spotify.Seeds{Genres: genres}, attrs, spotify.Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("fetching recommendations: %w", classifyError(err))
	}
	if recs == nil {
		return nil, fmt.Errorf("fetching recommendations: %w", failure.ErrMalformedResponse)
	}

	tracks := make([]Track, 0, len(recs.Tracks))
	for _, t := range recs.Tracks {
		if t.ID == "" {
			continue
		}
		tracks = append(tracks, convertSimpleTrack(t))
	}
	return tracks, nil
}

// Search runs a free-text track search.
func (c *Client) Search(ctx context.Context, token, query string, limit int) ([]Track, error) {
	res, err := c.api(ctx, token).Search(ctx, query, spotify.SearchTypeTrack, spotify.Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("searching tracks for %q: %w", query, classifyError(err))
	}
	if res == nil || res.Tracks == nil {
		return nil, fmt.Errorf("searching tracks for %q: %w", query, failure.ErrMalformedResponse)
	}

	tracks := make([]Track, 0, len(res.Tracks.Tracks))
	for _, t := range res.Tracks.Tracks {
		if t.ID == "" {
			continue
		}
		tracks = append(tracks, convertFullTrack(t))
	}
	return tracks, nil
}

// convertSimpleTrack converts a recommendation track, which carries no album.
func convertSimpleTrack(t spotify.SimpleTrack) Track {
	return Track{
		ID:         t.ID.String(),
		Name:       t.Name,
		Artist:     joinArtists(t.Artists),
		URI:        string(t.URI),
		DurationMs: int(t.Duration),
	}
}

// convertFullTrack converts a search hit, including album name and artwork.
func convertFullTrack(t spotify.FullTrack) Track {
	track := convertSimpleTrack(t.SimpleTrack)
	track.Album = t.Album.Name
	if len(t.Album.Images) > 0 {
		// Images are ordered widest first.
		track.ImageURL = t.Album.Images[0].URL
	}
	return track
}

func joinArtists(artists []spotify.SimpleArtist) string {
	names := make([]string, len(artists))
	for i, a := range artists {
		names[i] = a.Name
	}
	return strings.Join(names, ", ")
}

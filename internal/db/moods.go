package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/justestif/moodtune/internal/mood"
)

// MoodEntryRepository reads the mood journal. Entries are written by the
// journaling app that owns the table.
type MoodEntryRepository struct {
	pool *pgxpool.Pool
}

// ListForUser returns userID's entries created after since, most recent
// first. A zero since returns the whole journal.
func (r *MoodEntryRepository) ListForUser(ctx context.Context, userID string, since time.Time) ([]mood.Entry, error) {
	query := `
		SELECT id, mood, intensity, note, track_id, track_name, artist_name, created_at
		FROM mood_entries
		WHERE user_id = $1 AND created_at > $2
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("querying mood entries: %w", err)
	}
	defer rows.Close()

	var entries []mood.Entry
	for rows.Next() {
		var (
			e                              mood.Entry
			label                          string
			trackID, trackName, artistName *string
		)
		if err := rows.Scan(
			&e.ID,
			&label,
			&e.Intensity,
			&e.Note,
			&trackID,
			&trackName,
			&artistName,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning mood entry: %w", err)
		}
		e.Label = mood.ParseLabel(label)
		e.Song = songContext(trackID, trackName, artistName)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func songContext(trackID, trackName, artistName *string) *mood.SongContext {
	if trackID == nil || *trackID == "" {
		return nil
	}
	s := &mood.SongContext{TrackID: *trackID}
	if trackName != nil {
		s.TrackName = *trackName
	}
	if artistName != nil {
		s.ArtistName = *artistName
	}
	return s
}

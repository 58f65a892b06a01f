package insight

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justestif/moodtune/internal/failure"
	"github.com/justestif/moodtune/internal/logging"
	"github.com/justestif/moodtune/internal/mood"
	"github.com/justestif/moodtune/internal/patterns"
)

type fakeCompleter struct {
	calls  atomic.Int32
	reply  string
	err    error
	block  bool
	prompt string
}

func (f *fakeCompleter) Complete(ctx context.Context, _, prompt string) (string, error) {
	f.calls.Add(1)
	f.prompt = prompt
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.reply, f.err
}

func samplePattern() patterns.Pattern {
	return patterns.Pattern{
		DominantMood:     mood.Calm,
		Frequency:        map[mood.Label]int{mood.Calm: 6, mood.Anxious: 2},
		AverageIntensity: 5.25,
		Trend:            patterns.Improving,
		DaysTracked:      9,
		Rhythms: []patterns.Rhythm{
			{Hour: 21.4, DominantMood: mood.Calm, AverageIntensity: 4, Size: 5},
		},
	}
}

func TestGenerate_NoDataSkipsModel(t *testing.T) {
	llm := &fakeCompleter{reply: `{"insight":"x"}`}
	got := New(llm).Generate(context.Background(), patterns.Pattern{})

	assert.Equal(t, SourceTemplate, got.Source)
	assert.Contains(t, got.Text, "Start logging")
	assert.Zero(t, llm.calls.Load())
}

func TestGenerate_NoDataIsClassified(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := logging.WithLogger(context.Background(), logger)

	New(nil).Generate(ctx, patterns.Pattern{})

	assert.Contains(t, buf.String(), "kind=no_data")
	require.ErrorIs(t, requireData(patterns.Pattern{}), failure.ErrNoData)
	assert.NoError(t, requireData(samplePattern()))
}

func TestGenerate_AI(t *testing.T) {
	tests := []struct {
		name       string
		reply      string
		wantText   string
		wantGenres []string
		wantRecs   []string
	}{
		{
			name:       "plain json",
			reply:      `{"insight":"You have been calmer lately.","recommendations":["keep going"],"suggested_genres":["ambient"]}`,
			wantText:   "You have been calmer lately.",
			wantGenres: []string{"ambient"},
			wantRecs:   []string{"keep going"},
		},
		{
			name:       "fenced",
			reply:      "```json\n{\"insight\":\" Evenings suit you. \",\"genres\":[\"jazz\",\"lo-fi\"]}\n```",
			wantText:   "Evenings suit you.",
			wantGenres: []string{"jazz", "lo-fi"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &fakeCompleter{reply: tt.reply}
			got := New(llm).Generate(context.Background(), samplePattern())

			assert.Equal(t, SourceAI, got.Source)
			assert.Equal(t, tt.wantText, got.Text)
			assert.Equal(t, tt.wantGenres, got.Genres)
			assert.Equal(t, tt.wantRecs, got.Recommendations)
			assert.EqualValues(t, 1, llm.calls.Load())
		})
	}
}

func TestGenerate_FallsBackToTemplate(t *testing.T) {
	tests := []struct {
		name string
		llm  *fakeCompleter
	}{
		{"model error", &fakeCompleter{err: failure.ErrNetwork}},
		{"not json", &fakeCompleter{reply: "I think you are fine"}},
		{"blank insight", &fakeCompleter{reply: `{"insight":"   "}`}},
		{"missing insight", &fakeCompleter{reply: `{"recommendations":["a"]}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(tt.llm).Generate(context.Background(), samplePattern())

			assert.Equal(t, SourceTemplate, got.Source)
			assert.Contains(t, got.Text, "calm")
			assert.Contains(t, got.Text, "5.2")
			assert.NotEmpty(t, got.Genres)
		})
	}
}

func TestGenerate_Timeout(t *testing.T) {
	llm := &fakeCompleter{block: true}
	g := New(llm, WithTimeout(20*time.Millisecond))

	start := time.Now()
	got := g.Generate(context.Background(), samplePattern())

	assert.Equal(t, SourceTemplate, got.Source)
	assert.Less(t, time.Since(start), time.Second)
}

func TestGenerate_NilCompleter(t *testing.T) {
	got := New(nil).Generate(context.Background(), samplePattern())
	assert.Equal(t, SourceTemplate, got.Source)
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt(samplePattern())

	for _, want := range []string{
		"Dominant mood: calm",
		"Average intensity: 5.2",
		"improving",
		"Days tracked: 9",
		"calm=6 anxious=2",
		"Around 21:00",
	} {
		assert.Contains(t, prompt, want)
	}
}

func TestParseReply_Malformed(t *testing.T) {
	_, err := ParseReply("nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrMalformedResponse))
}

func TestTemplate(t *testing.T) {
	p := samplePattern()
	p.Trend = patterns.Declining
	p.DaysTracked = 1

	got := Template(p)
	assert.Equal(t, SourceTemplate, got.Source)
	assert.Contains(t, got.Text, "1 tracked day ")
	assert.Contains(t, got.Text, "dipped")
	assert.Equal(t, mood.MapToFeatures(mood.Calm, 5).GenreSeeds, got.Genres)
	assert.NotEmpty(t, got.Recommendations)
}

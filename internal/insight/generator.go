// Package insight turns a mood pattern into a short natural-language summary.
// A language model writes it when available; otherwise a template does.
package insight

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/justestif/moodtune/internal/failure"
	"github.com/justestif/moodtune/internal/logging"
	"github.com/justestif/moodtune/internal/mood"
	"github.com/justestif/moodtune/internal/patterns"
)

// DefaultTimeout bounds the single model call.
const DefaultTimeout = 20 * time.Second

// Source says which path produced an Insight.
type Source string

const (
	SourceAI       Source = "ai"
	SourceTemplate Source = "template"
)

// Insight is the user-facing summary of a pattern.
type Insight struct {
	Text            string   `json:"text"`
	Source          Source   `json:"source"`
	Recommendations []string `json:"recommendations,omitempty"`
	Genres          []string `json:"genres,omitempty"`
}

// Completer is a chat-completion backend. *llm.Client implements it.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Option configures a Generator.
type Option func(*Generator)

// WithTimeout bounds the model call.
func WithTimeout(d time.Duration) Option {
	return func(g *Generator) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// Generator produces insights. A nil Completer means template only.
type Generator struct {
	llm     Completer
	timeout time.Duration
}

// New creates a Generator.
func New(llm Completer, opts ...Option) *Generator {
	g := &Generator{llm: llm, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

const systemPrompt = `You are a supportive mood-journal companion. You receive statistics about a user's recent mood log and write one short, warm, non-clinical insight about it.
Respond with ONLY a JSON object of the form:
{"insight": "<2-3 sentences>", "recommendations": ["<short actionable tip>", ...], "suggested_genres": ["<music genre>", ...]}
Never give medical advice.`

// Generate returns an insight for p. It never fails: any problem with the
// model call yields the template insight instead.
func (g *Generator) Generate(ctx context.Context, p patterns.Pattern) Insight {
	if err := requireData(p); err != nil {
		logging.FromContext(ctx).Debug("insight skipped",
			slog.String("kind", failure.KindOf(err)),
		)
		return noDataInsight()
	}
	if g.llm == nil {
		return Template(p)
	}

	ctx, span := logging.StartSpan(ctx, "insight.generate")
	defer span.End()

	out, err := g.ask(ctx, p)
	if err != nil {
		logging.FromContext(ctx).Warn("insight falling back to template",
			slog.String("kind", failure.KindOf(err)),
			slog.Any("error", err),
		)
		return Template(p)
	}
	return out
}

// requireData fails with failure.ErrNoData for an empty history.
func requireData(p patterns.Pattern) error {
	if p.DaysTracked == 0 {
		return fmt.Errorf("no days tracked: %w", failure.ErrNoData)
	}
	return nil
}

func (g *Generator) ask(ctx context.Context, p patterns.Pattern) (Insight, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	reply, err := g.llm.Complete(ctx, systemPrompt, BuildPrompt(p))
	if err != nil {
		return Insight{}, err
	}
	return ParseReply(reply)
}

// BuildPrompt renders every pattern field for the model.
func BuildPrompt(p patterns.Pattern) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dominant mood: %s\n", p.DominantMood)
	fmt.Fprintf(&b, "Average intensity: %.1f out of 10\n", p.AverageIntensity)
	fmt.Fprintf(&b, "Trend over the last two weeks: %s\n", p.Trend)
	fmt.Fprintf(&b, "Days tracked: %d\n", p.DaysTracked)

	type count struct {
		label mood.Label
		n     int
	}
	counts := make([]count, 0, len(p.Frequency))
	for l, n := range p.Frequency {
		counts = append(counts, count{l, n})
	}
	slices.SortFunc(counts, func(a, b count) int {
		if c := cmp.Compare(b.n, a.n); c != 0 {
			return c
		}
		return cmp.Compare(a.label, b.label)
	})
	b.WriteString("Mood counts:")
	for _, c := range counts {
		fmt.Fprintf(&b, " %s=%d", c.label, c.n)
	}
	b.WriteString("\n")

	for _, r := range p.Rhythms {
		fmt.Fprintf(&b, "Around %02d:00 they usually log %s (intensity %.1f, %d entries)\n",
			int(math.Floor(r.Hour)), r.DominantMood, r.AverageIntensity, r.Size)
	}
	return b.String()
}

type reply struct {
	Insight         string   `json:"insight"`
	Recommendations []string `json:"recommendations"`
	SuggestedGenres []string `json:"suggested_genres"`
	Genres          []string `json:"genres"`
}

// ParseReply decodes a model reply, tolerating a fenced code block around
// the JSON. A missing or blank insight is malformed.
func ParseReply(raw string) (Insight, error) {
	raw = stripFence(raw)

	var r reply
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return Insight{}, fmt.Errorf("decoding insight: %w: %w", failure.ErrMalformedResponse, err)
	}
	text := strings.TrimSpace(r.Insight)
	if text == "" {
		return Insight{}, fmt.Errorf("insight field missing: %w", failure.ErrMalformedResponse)
	}

	genres := r.SuggestedGenres
	if len(genres) == 0 {
		genres = r.Genres
	}
	return Insight{
		Text:            text,
		Source:          SourceAI,
		Recommendations: r.Recommendations,
		Genres:          genres,
	}, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:] // drop the language tag line
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

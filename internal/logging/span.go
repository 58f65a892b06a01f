package logging

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Span times one named operation and tags every log line emitted under it.
type Span struct {
	name   string
	logger *slog.Logger
	start  time.Time
}

// StartSpan derives a child logger tagged with a fresh span ID (and the parent
// span ID, when there is one) and stores it on the returned context.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	id := uuid.NewString()
	attrs := []any{slog.String("span", name), slog.String("span_id", id)}
	if parent, ok := ctx.Value(spanKey).(string); ok {
		attrs = append(attrs, slog.String("parent_span_id", parent))
	}

	logger := FromContext(ctx).With(attrs...)
	ctx = context.WithValue(WithLogger(ctx, logger), spanKey, id)

	return ctx, &Span{name: name, logger: logger, start: time.Now()}
}

// End logs the span duration at debug level.
func (s *Span) End() {
	if s == nil {
		return
	}
	s.logger.Debug("span done", slog.Duration("took", time.Since(s.start)))
}

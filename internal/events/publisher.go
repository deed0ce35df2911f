// Package events delivers quote events to an external subscriber-visible
// stream. Delivery is at-least-once; the stream's own durability is the
// broker's concern. Implementations satisfy quote.EventPublisher.
package events

import (
	"context"
	"log/slog"

	"quotefeed/internal/quote"
)

// LogPublisher is the dev fallback sink: events only reach the process log.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher constructs the log-only publisher.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, ev quote.Event) error {
	p.logger.InfoContext(ctx, "quote event", "id", ev.ID, "sink", "log")
	return nil
}

package quote

import (
	"context"
	"log/slog"
	"time"

	"quotefeed/internal/platform/metrics"
)

//go:generate mockgen -source=generator.go -destination=mocks/generator.go -package=mocks EventPublisher

// EventPublisher delivers quote events to the external stream, at least
// once, keyed by record id.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Generator periodically creates a quote and announces it on the external
// stream. It runs independently of any connection. Cycles are independent:
// a store failure skips the cycle, a publish failure leaves the stored quote
// in place - create-without-publish is a valid outcome, publish-without-
// create never happens.
type Generator struct {
	store     Store
	publisher EventPublisher
	source    TextSource
	period    time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

func WithGeneratorLogger(logger *slog.Logger) GeneratorOption {
	return func(g *Generator) {
		g.logger = logger
	}
}

func WithGeneratorMetrics(m *metrics.Metrics) GeneratorOption {
	return func(g *Generator) {
		g.metrics = m
	}
}

// NewGenerator constructs a generator with the given cycle period.
func NewGenerator(store Store, publisher EventPublisher, source TextSource, period time.Duration, opts ...GeneratorOption) *Generator {
	g := &Generator{
		store:     store,
		publisher: publisher,
		source:    source,
		period:    period,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Run executes one cycle per period until ctx is cancelled. It never returns
// a cycle failure; the next scheduled cycle is independent.
func (g *Generator) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			g.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single generation cycle: synthesize, create, publish.
func (g *Generator) RunOnce(ctx context.Context) {
	q := &Quote{
		Message:   g.source.Fact(),
		CreatedAt: time.Now(),
	}

	if err := g.store.Create(ctx, q); err != nil {
		g.logger.ErrorContext(ctx, "quote create failed, skipping cycle", "error", err)
		g.count(metrics.OutcomeStoreFailed)
		return
	}
	g.logger.InfoContext(ctx, "created quote", "id", q.ID)

	if err := g.publisher.Publish(ctx, Event{ID: q.ID}); err != nil {
		// Publishing is best-effort relative to persistence: the quote stays.
		g.logger.ErrorContext(ctx, "quote event publish failed", "id", q.ID, "error", err)
		g.count(metrics.OutcomePublishSkip)
		if g.metrics != nil {
			g.metrics.PublishFailures.Inc()
		}
		return
	}

	g.count(metrics.OutcomeOK)
}

func (g *Generator) count(outcome string) {
	if g.metrics != nil {
		g.metrics.GeneratorCycles.WithLabelValues(outcome).Inc()
	}
}

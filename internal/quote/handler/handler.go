// Package handler binds the quote routes to the dispatcher. Handlers stay
// thin: payload decoding and pacing here, storage and protocol semantics in
// their own layers.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"quotefeed/internal/auth"
	"quotefeed/internal/dispatch"
	"quotefeed/internal/quote"
)

// Default pacing, matching the behavior clients already depend on: one
// stream element per second, a single quote after five seconds.
const (
	DefaultStreamInterval = time.Second
	DefaultResponseDelay  = 5 * time.Second
)

// Handler owns the quote route implementations.
type Handler struct {
	store  quote.Store
	source quote.TextSource
	logger *slog.Logger

	streamInterval time.Duration
	responseDelay  time.Duration
}

// Option configures a Handler.
type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithStreamInterval overrides the quotes-stream pacing. Tests use this to
// compress time.
func WithStreamInterval(d time.Duration) Option {
	return func(h *Handler) {
		h.streamInterval = d
	}
}

// WithResponseDelay overrides the single-quote delivery delay.
func WithResponseDelay(d time.Duration) Option {
	return func(h *Handler) {
		h.responseDelay = d
	}
}

// New constructs the route handler set.
func New(store quote.Store, source quote.TextSource, opts ...Option) *Handler {
	h := &Handler{
		store:          store,
		source:         source,
		logger:         slog.Default(),
		streamInterval: DefaultStreamInterval,
		responseDelay:  DefaultResponseDelay,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds every quote route to the dispatcher. Call once at startup;
// a duplicate registration is a configuration error and fails fast.
func (h *Handler) Register(d *dispatch.Dispatcher) error {
	if err := d.RegisterStream("quotes", h.handleQuotes); err != nil {
		return err
	}
	if err := d.RegisterResponse("quote", h.handleQuote); err != nil {
		return err
	}
	if err := d.RegisterResponse("quoteById", h.handleQuoteByID, dispatch.RequireRole(auth.RoleUser)); err != nil {
		return err
	}
	if err := d.RegisterFire("log", h.handleLog); err != nil {
		return err
	}
	return nil
}

// handleQuotes streams `boundary` ephemeral quotes, one per interval, ids
// increasing from 1. Nothing is persisted and nothing is buffered ahead:
// each element is synthesized at its emission boundary, so an arbitrarily
// large boundary is safe. A boundary of zero completes immediately.
func (h *Handler) handleQuotes(ctx context.Context, _ *auth.Principal, payload json.RawMessage, out *dispatch.Sink) error {
	boundary, err := intPayload(payload)
	if err != nil {
		return err
	}
	if boundary < 0 {
		return fmt.Errorf("%w: boundary must be >= 0, got %d", dispatch.ErrInvalidPayload, boundary)
	}

	if boundary == 0 {
		return nil
	}

	ticker := time.NewTicker(h.streamInterval)
	defer ticker.Stop()

	for i := int64(1); i <= boundary; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		q := quote.Quote{ID: i, Message: h.source.Fact(), CreatedAt: time.Now()}
		if err := out.Send(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// handleQuote delivers one ephemeral quote after a fixed delay.
func (h *Handler) handleQuote(ctx context.Context, _ *auth.Principal, _ json.RawMessage) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(h.responseDelay):
	}
	return quote.Quote{ID: 1, Message: h.source.Fact(), CreatedAt: time.Now()}, nil
}

// handleQuoteByID returns the persisted quote with the requested id. The
// route requires the USER role; authorization has already run by the time
// this handler is invoked.
func (h *Handler) handleQuoteByID(ctx context.Context, _ *auth.Principal, payload json.RawMessage) (any, error) {
	id, err := intPayload(payload)
	if err != nil {
		return nil, err
	}

	q, err := h.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return q, nil
}

// handleLog records the client-supplied timestamp. Fire-and-forget: the
// caller has already been acknowledged, so failures only reach the log.
func (h *Handler) handleLog(ctx context.Context, _ *auth.Principal, payload json.RawMessage) error {
	var timestamp time.Time
	if err := json.Unmarshal(payload, &timestamp); err != nil {
		return fmt.Errorf("%w: timestamp: %v", dispatch.ErrInvalidPayload, err)
	}
	h.logger.InfoContext(ctx, "client time", "timestamp", timestamp)
	return nil
}

func intPayload(payload json.RawMessage) (int64, error) {
	if len(payload) == 0 {
		return 0, fmt.Errorf("%w: integer payload required", dispatch.ErrInvalidPayload)
	}
	var n int64
	if err := json.Unmarshal(payload, &n); err != nil {
		return 0, fmt.Errorf("%w: %v", dispatch.ErrInvalidPayload, err)
	}
	return n, nil
}

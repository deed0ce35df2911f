// Package dispatch owns the route table and the interaction-model runtime.
// It resolves inbound requests to handlers, enforces per-route authorization
// and adapts handler output to the wire contract of the declared model.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"quotefeed/internal/auth"
	"quotefeed/internal/platform/metrics"
	"quotefeed/internal/wire"
	"quotefeed/pkg/platform/sentinel"
)

// Startup-time configuration errors.
var ErrDuplicateRoute = errors.New("route already registered")

// Protocol errors. Dispatch translates these into terminal error frames and
// also returns them so sessions can log rejections.
var (
	ErrRouteNotFound    = errors.New("route not found")
	ErrProtocolMismatch = errors.New("interaction model mismatch")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidPayload   = errors.New("invalid payload")
)

// ResponseHandler produces exactly one value or fails.
type ResponseHandler func(ctx context.Context, p *auth.Principal, payload json.RawMessage) (any, error)

// StreamHandler emits values through the sink until it returns. Handlers must
// observe ctx at every emission boundary; Sink.Send does this on their
// behalf.
type StreamHandler func(ctx context.Context, p *auth.Principal, payload json.RawMessage, out *Sink) error

// FireHandler runs for effect only. Failures are logged, never surfaced.
type FireHandler func(ctx context.Context, p *auth.Principal, payload json.RawMessage) error

// FrameWriter delivers outbound frames for one connection, in order. Writes
// may block on downstream demand; a closed connection returns an error which
// the dispatcher treats as routine.
type FrameWriter interface {
	WriteFrame(ctx context.Context, f wire.Frame) error
}

// Authorizer answers per-route role checks.
type Authorizer interface {
	Authorize(p *auth.Principal, requiredRole string) bool
}

// Request is one unit of work submitted to the dispatcher. Cancellation
// travels through ctx, supplied by the owning session.
type Request struct {
	ID      string
	Route   string
	Model   wire.InteractionModel
	Payload json.RawMessage
}

type route struct {
	name         string
	model        wire.InteractionModel
	requiredRole string

	response ResponseHandler
	stream   StreamHandler
	fire     FireHandler
}

// Dispatcher is safe for concurrent use once registration is finished. The
// route table is append-only at startup and read-only while serving, so
// Dispatch needs no locking.
type Dispatcher struct {
	routes  map[string]route
	authz   Authorizer
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// New constructs a Dispatcher. Routes are added with the Register methods
// before serving begins.
func New(authz Authorizer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		routes: make(map[string]route),
		authz:  authz,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RouteOption configures a single route at registration time.
type RouteOption func(*route)

// RequireRole marks the route as authenticated: only principals carrying the
// role may invoke it.
func RequireRole(role string) RouteOption {
	return func(r *route) {
		r.requiredRole = role
	}
}

// RegisterResponse binds a request/response handler to name.
func (d *Dispatcher) RegisterResponse(name string, h ResponseHandler, opts ...RouteOption) error {
	if h == nil {
		return fmt.Errorf("route %q: nil handler", name)
	}
	return d.register(route{name: name, model: wire.ModelResponse, response: h}, opts)
}

// RegisterStream binds a request/stream handler to name.
func (d *Dispatcher) RegisterStream(name string, h StreamHandler, opts ...RouteOption) error {
	if h == nil {
		return fmt.Errorf("route %q: nil handler", name)
	}
	return d.register(route{name: name, model: wire.ModelStream, stream: h}, opts)
}

// RegisterFire binds a fire-and-forget handler to name.
func (d *Dispatcher) RegisterFire(name string, h FireHandler, opts ...RouteOption) error {
	if h == nil {
		return fmt.Errorf("route %q: nil handler", name)
	}
	return d.register(route{name: name, model: wire.ModelFireAndForget, fire: h}, opts)
}

func (d *Dispatcher) register(r route, opts []RouteOption) error {
	if r.name == "" {
		return fmt.Errorf("route name is required")
	}
	if _, exists := d.routes[r.name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRoute, r.name)
	}
	for _, opt := range opts {
		opt(&r)
	}
	d.routes[r.name] = r
	return nil
}

// Dispatch resolves and runs one request, writing every resulting frame to w.
// For response and stream requests exactly one terminal frame is written; a
// fire-and-forget request gets a single acceptance frame. The returned error
// mirrors the terminal error frame (or the rejection) and is for the caller's
// logging only - it has already been surfaced on the wire.
func (d *Dispatcher) Dispatch(ctx context.Context, p *auth.Principal, req Request, w FrameWriter) error {
	start := time.Now()

	r, found := d.routes[req.Route]
	if !found {
		return d.reject(ctx, req, w, unknownRoute, fmt.Errorf("%w: %s", ErrRouteNotFound, req.Route))
	}
	if r.model != req.Model {
		return d.reject(ctx, req, w, req.Route, fmt.Errorf("%w: route %s speaks %s, request asked for %s",
			ErrProtocolMismatch, req.Route, r.model, req.Model))
	}
	if r.requiredRole != "" && !d.authz.Authorize(p, r.requiredRole) {
		return d.reject(ctx, req, w, req.Route, fmt.Errorf("%w: route %s requires role %s",
			ErrUnauthorized, req.Route, r.requiredRole))
	}

	switch r.model {
	case wire.ModelStream:
		return d.dispatchStream(ctx, r, p, req, w, start)
	case wire.ModelFireAndForget:
		return d.dispatchFire(ctx, r, p, req, w)
	default:
		return d.dispatchResponse(ctx, r, p, req, w, start)
	}
}

func (d *Dispatcher) dispatchResponse(ctx context.Context, r route, p *auth.Principal, req Request, w FrameWriter, start time.Time) error {
	result, err := r.response(ctx, p, req.Payload)

	// Cancellation before completion suppresses the eventual result.
	if ctx.Err() != nil {
		d.writeTerminal(ctx, w, wire.Frame{RequestID: req.ID, Type: wire.FrameCancelled})
		d.count(req.Route, metrics.OutcomeCancelled)
		return ctx.Err()
	}
	if err != nil {
		d.writeTerminal(ctx, w, errorFrame(req.ID, err))
		d.count(req.Route, metrics.OutcomeError)
		return err
	}

	payload, err := json.Marshal(result)
	if err != nil {
		d.writeTerminal(ctx, w, errorFrame(req.ID, fmt.Errorf("encode response: %w", err)))
		d.count(req.Route, metrics.OutcomeError)
		return err
	}

	d.writeTerminal(ctx, w, wire.Frame{RequestID: req.ID, Type: wire.FrameComplete, Payload: payload})
	d.count(req.Route, metrics.OutcomeOK)
	d.observe(req.Route, start)
	return nil
}

func (d *Dispatcher) dispatchStream(ctx context.Context, r route, p *auth.Principal, req Request, w FrameWriter, start time.Time) error {
	if d.metrics != nil {
		d.metrics.ActiveStreams.Inc()
		defer d.metrics.ActiveStreams.Dec()
	}

	sink := &Sink{
		requestID: req.ID,
		route:     req.Route,
		writer:    w,
		metrics:   d.metrics,
	}

	err := r.stream(ctx, p, req.Payload, sink)

	switch {
	case ctx.Err() != nil:
		d.writeTerminal(ctx, w, wire.Frame{RequestID: req.ID, Type: wire.FrameCancelled})
		d.count(req.Route, metrics.OutcomeCancelled)
		return ctx.Err()
	case err != nil:
		d.writeTerminal(ctx, w, errorFrame(req.ID, err))
		d.count(req.Route, metrics.OutcomeError)
		return err
	default:
		d.writeTerminal(ctx, w, wire.Frame{RequestID: req.ID, Type: wire.FrameComplete})
		d.count(req.Route, metrics.OutcomeOK)
		d.observe(req.Route, start)
		return nil
	}
}

func (d *Dispatcher) dispatchFire(ctx context.Context, r route, p *auth.Principal, req Request, w FrameWriter) error {
	// The caller gets acceptance before the handler runs and nothing after,
	// so the handler itself is no longer cancellable.
	if err := w.WriteFrame(ctx, wire.Frame{RequestID: req.ID, Type: wire.FrameAccepted}); err != nil {
		d.logger.DebugContext(ctx, "acceptance write failed", "route", req.Route, "error", err)
	}

	if err := r.fire(context.WithoutCancel(ctx), p, req.Payload); err != nil {
		d.logger.ErrorContext(ctx, "fire-and-forget handler failed", "route", req.Route, "error", err)
		d.count(req.Route, metrics.OutcomeError)
		return nil
	}
	d.count(req.Route, metrics.OutcomeOK)
	return nil
}

// unknownRoute is the metric label for route names absent from the table.
// Client-chosen names must never become label values, or any connection
// could grow the series set without bound.
const unknownRoute = "unknown"

// reject surfaces a pre-handler failure as the request's terminal frame.
// routeLabel is the metric label: the registered name, or unknownRoute.
func (d *Dispatcher) reject(ctx context.Context, req Request, w FrameWriter, routeLabel string, err error) error {
	d.writeTerminal(ctx, w, errorFrame(req.ID, err))
	d.count(routeLabel, metrics.OutcomeRejected)
	return err
}

// writeTerminal sends a terminal frame even when the request context is
// already cancelled; a failed write means the connection is gone, which is
// routine, not an error.
func (d *Dispatcher) writeTerminal(ctx context.Context, w FrameWriter, f wire.Frame) {
	if err := w.WriteFrame(context.WithoutCancel(ctx), f); err != nil {
		d.logger.DebugContext(ctx, "terminal frame write failed", "requestId", f.RequestID, "error", err)
	}
}

func (d *Dispatcher) count(routeName, outcome string) {
	if d.metrics != nil {
		d.metrics.RequestsTotal.WithLabelValues(routeName, outcome).Inc()
	}
}

func (d *Dispatcher) observe(routeName string, start time.Time) {
	if d.metrics != nil {
		d.metrics.DispatchDuration.WithLabelValues(routeName).Observe(time.Since(start).Seconds())
	}
}

func errorFrame(requestID string, err error) wire.Frame {
	code := errorCode(err)
	msg := err.Error()
	if code == wire.CodeInternal {
		msg = "internal error"
	}
	return wire.Frame{RequestID: requestID, Type: wire.FrameError, Code: code, Message: msg}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrRouteNotFound):
		return wire.CodeRouteNotFound
	case errors.Is(err, ErrProtocolMismatch):
		return wire.CodeProtocolMismatch
	case errors.Is(err, ErrUnauthorized):
		return wire.CodeUnauthorized
	case errors.Is(err, ErrInvalidPayload):
		return wire.CodeInvalidPayload
	case errors.Is(err, sentinel.ErrNotFound):
		return wire.CodeNotFound
	default:
		return wire.CodeInternal
	}
}

// Package session binds one principal to the shared route dispatcher for the
// lifetime of a single transport connection.
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"quotefeed/internal/auth"
	"quotefeed/internal/dispatch"
	"quotefeed/internal/platform/metrics"
	"quotefeed/internal/wire"
)

// Conn is a transport connection that already speaks decoded envelopes and
// frames. Implementations must allow ReadEnvelope and WriteFrame to run
// concurrently; WriteFrame is only ever called from one goroutine.
type Conn interface {
	// ReadEnvelope blocks until the next inbound envelope or disconnect.
	ReadEnvelope() (wire.Envelope, error)
	WriteFrame(f wire.Frame) error
	// Credit is the transport's advertised outbound window: the maximum
	// number of frames that may be queued unacknowledged.
	Credit() int
	Close() error
}

// Dispatcher is the slice of the route dispatcher a session needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, p *auth.Principal, req dispatch.Request, w dispatch.FrameWriter) error
}

// Session forwards inbound envelopes to the dispatcher and frames back to the
// transport. Each request runs in its own goroutine with its own cancellable
// context; disconnect cancels them all and any late writes are swallowed.
type Session struct {
	id         string
	conn       Conn
	dispatcher Dispatcher
	principal  *auth.Principal
	logger     *slog.Logger
	metrics    *metrics.Metrics

	cancel   context.CancelFunc
	outbound chan wire.Frame
	wg       sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

// Option configures a Session.
type Option func(*Session)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// New constructs a session for one connection. principal may be nil for
// anonymous connections.
func New(conn Conn, d Dispatcher, principal *auth.Principal, opts ...Option) *Session {
	credit := conn.Credit()
	if credit < 1 {
		credit = 1
	}

	s := &Session{
		id:         uuid.NewString(),
		conn:       conn,
		dispatcher: d,
		principal:  principal,
		logger:     slog.Default(),
		outbound:   make(chan wire.Frame, credit),
		inflight:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("session", s.id)
	return s
}

// Run serves the connection until it disconnects or ctx is cancelled.
// Disconnects are routine and never returned as errors.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()

	if s.metrics != nil {
		s.metrics.ActiveSessions.Inc()
		defer s.metrics.ActiveSessions.Dec()
	}

	// Unblock the read loop when the server shuts down.
	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()

	writerDone := make(chan struct{})
	go s.writeLoop(writerDone)

	s.logger.DebugContext(ctx, "session started", "principal", principalName(s.principal))

	err := s.readLoop(ctx)

	// Disconnect: stop all in-flight work, let it finish its terminal
	// writes (discarded if the connection is gone), then release the writer.
	s.cancelInflight()
	cancel()
	s.wg.Wait()
	close(s.outbound)
	<-writerDone
	_ = s.conn.Close()

	s.logger.DebugContext(ctx, "session closed", "reason", errString(err))
	return nil
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		env, err := s.conn.ReadEnvelope()
		if err != nil {
			return err
		}

		switch env.Type {
		case wire.EnvelopeRequest:
			s.startRequest(ctx, env)
		case wire.EnvelopeCancel:
			s.cancelRequest(env.ID)
		default:
			s.enqueue(ctx, wire.Frame{
				RequestID: env.ID,
				Type:      wire.FrameError,
				Code:      wire.CodeInvalidPayload,
				Message:   "unknown envelope type",
			})
		}
	}
}

func (s *Session) startRequest(ctx context.Context, env wire.Envelope) {
	if env.ID == "" {
		s.enqueue(ctx, wire.Frame{
			Type:    wire.FrameError,
			Code:    wire.CodeInvalidPayload,
			Message: "request id is required",
		})
		return
	}

	s.mu.Lock()
	if _, exists := s.inflight[env.ID]; exists {
		s.mu.Unlock()
		s.enqueue(ctx, wire.Frame{
			RequestID: env.ID,
			Type:      wire.FrameError,
			Code:      wire.CodeInvalidPayload,
			Message:   "request id already in flight",
		})
		return
	}
	reqCtx, cancel := context.WithCancel(ctx)
	s.inflight[env.ID] = cancel
	s.mu.Unlock()

	req := dispatch.Request{ID: env.ID, Route: env.Route, Model: env.Model, Payload: env.Payload}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.finishRequest(env.ID)

		if err := s.dispatcher.Dispatch(reqCtx, s.principal, req, (*frameWriter)(s)); err != nil {
			s.logger.DebugContext(reqCtx, "request ended with error",
				"requestId", env.ID, "route", env.Route, "error", err)
		}
	}()
}

func (s *Session) cancelRequest(id string) {
	s.mu.Lock()
	cancel, found := s.inflight[id]
	s.mu.Unlock()
	if found {
		cancel()
	}
}

func (s *Session) finishRequest(id string) {
	s.mu.Lock()
	cancel, found := s.inflight[id]
	delete(s.inflight, id)
	s.mu.Unlock()
	if found {
		cancel()
	}
}

func (s *Session) cancelInflight() {
	s.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.inflight))
	for _, cancel := range s.inflight {
		cancels = append(cancels, cancel)
	}
	s.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// writeLoop is the single writer for the connection, preserving frame order.
// After the first write failure the connection is considered gone: in-flight
// work is cancelled and the remaining frames are drained and discarded.
func (s *Session) writeLoop(done chan struct{}) {
	defer close(done)
	failed := false
	for f := range s.outbound {
		if failed {
			continue
		}
		if err := s.conn.WriteFrame(f); err != nil {
			s.logger.Debug("write failed, discarding remaining frames", "error", err)
			failed = true
			s.cancelInflight()
			if s.cancel != nil {
				s.cancel()
			}
		}
	}
}

// enqueue queues a frame for the writer, giving up when ctx is cancelled.
func (s *Session) enqueue(ctx context.Context, f wire.Frame) {
	select {
	case <-ctx.Done():
	case s.outbound <- f:
	}
}

// frameWriter adapts the session's outbound queue to dispatch.FrameWriter.
// The queue's capacity is the transport's advertised credit, so enqueueing
// blocks once too many frames are unacknowledged - this is the backpressure
// stream handlers feel through Sink.Send.
type frameWriter Session

func (w *frameWriter) WriteFrame(ctx context.Context, f wire.Frame) error {
	s := (*Session)(w)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case s.outbound <- f:
		return nil
	}
}

func principalName(p *auth.Principal) string {
	if p == nil {
		return "anonymous"
	}
	return p.Name
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

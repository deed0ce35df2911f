package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"quotefeed/internal/auth"
	"quotefeed/internal/dispatch"
	"quotefeed/internal/platform/metrics"
	"quotefeed/internal/wire"
	"quotefeed/pkg/platform/sentinel"
)

// frameRecorder collects everything the dispatcher writes.
type frameRecorder struct {
	mu     sync.Mutex
	frames []wire.Frame
}

func (r *frameRecorder) WriteFrame(ctx context.Context, f wire.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
	return nil
}

func (r *frameRecorder) all() []wire.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]wire.Frame(nil), r.frames...)
}

func (r *frameRecorder) terminals() []wire.Frame {
	var out []wire.Frame
	for _, f := range r.all() {
		if f.Terminal() {
			out = append(out, f)
		}
	}
	return out
}

func (r *frameRecorder) data() []wire.Frame {
	var out []wire.Frame
	for _, f := range r.all() {
		if f.Type == wire.FrameData {
			out = append(out, f)
		}
	}
	return out
}

// roleAuthorizer authorizes exactly the principals carrying the role.
type roleAuthorizer struct{}

func (roleAuthorizer) Authorize(p *auth.Principal, requiredRole string) bool {
	return p.HasRole(requiredRole)
}

type DispatcherSuite struct {
	suite.Suite
	dispatcher *dispatch.Dispatcher
	writer     *frameRecorder
	ctx        context.Context
}

func TestDispatcherSuite(t *testing.T) {
	suite.Run(t, new(DispatcherSuite))
}

func (s *DispatcherSuite) SetupTest() {
	s.dispatcher = dispatch.New(roleAuthorizer{})
	s.writer = &frameRecorder{}
	s.ctx = context.Background()
}

func (s *DispatcherSuite) request(route string, model wire.InteractionModel, payload string) dispatch.Request {
	return dispatch.Request{
		ID:      "req-1",
		Route:   route,
		Model:   model,
		Payload: json.RawMessage(payload),
	}
}

func (s *DispatcherSuite) TestRegistration() {
	echo := func(ctx context.Context, p *auth.Principal, payload json.RawMessage) (any, error) {
		return string(payload), nil
	}

	s.Run("rejects duplicate route names", func() {
		s.Require().NoError(s.dispatcher.RegisterResponse("echo", echo))
		err := s.dispatcher.RegisterStream("echo", func(ctx context.Context, p *auth.Principal, payload json.RawMessage, out *dispatch.Sink) error {
			return nil
		})
		s.Require().ErrorIs(err, dispatch.ErrDuplicateRoute)
	})

	s.Run("rejects nil handlers", func() {
		s.Require().Error(s.dispatcher.RegisterResponse("nil", nil))
	})

	s.Run("rejects empty names", func() {
		s.Require().Error(s.dispatcher.RegisterResponse("", echo))
	})
}

func (s *DispatcherSuite) TestUnknownRoute() {
	err := s.dispatcher.Dispatch(s.ctx, nil, s.request("nope", wire.ModelResponse, `null`), s.writer)
	s.Require().ErrorIs(err, dispatch.ErrRouteNotFound)

	frames := s.writer.all()
	s.Require().Len(frames, 1)
	s.Equal(wire.FrameError, frames[0].Type)
	s.Equal(wire.CodeRouteNotFound, frames[0].Code)
}

// TestUnknownRouteMetricStaysBounded sends many requests with distinct
// made-up route names and checks they all land on the single placeholder
// series: client-chosen names must never become label values.
func (s *DispatcherSuite) TestUnknownRouteMetricStaysBounded() {
	m := metrics.New(prometheus.NewRegistry())
	d := dispatch.New(roleAuthorizer{}, dispatch.WithMetrics(m))

	const n = 50
	for i := 0; i < n; i++ {
		req := dispatch.Request{
			ID:      "req-1",
			Route:   fmt.Sprintf("noise-%d", i),
			Model:   wire.ModelResponse,
			Payload: json.RawMessage(`null`),
		}
		s.Require().ErrorIs(d.Dispatch(s.ctx, nil, req, s.writer), dispatch.ErrRouteNotFound)
	}

	s.Equal(1, testutil.CollectAndCount(m.RequestsTotal))
	s.Equal(float64(n), testutil.ToFloat64(m.RequestsTotal.WithLabelValues("unknown", "rejected")))
}

func (s *DispatcherSuite) TestModelMismatchInvokesNoHandler() {
	invoked := false
	s.Require().NoError(s.dispatcher.RegisterResponse("echo", func(ctx context.Context, p *auth.Principal, payload json.RawMessage) (any, error) {
		invoked = true
		return nil, nil
	}))

	err := s.dispatcher.Dispatch(s.ctx, nil, s.request("echo", wire.ModelStream, `null`), s.writer)
	s.Require().ErrorIs(err, dispatch.ErrProtocolMismatch)
	s.False(invoked)

	frames := s.writer.all()
	s.Require().Len(frames, 1)
	s.Equal(wire.CodeProtocolMismatch, frames[0].Code)
}

func (s *DispatcherSuite) TestAuthorization() {
	invoked := 0
	s.Require().NoError(s.dispatcher.RegisterResponse("secret", func(ctx context.Context, p *auth.Principal, payload json.RawMessage) (any, error) {
		invoked++
		return "ok", nil
	}, dispatch.RequireRole(auth.RoleUser)))

	s.Run("anonymous principal is rejected before the handler runs", func() {
		err := s.dispatcher.Dispatch(s.ctx, nil, s.request("secret", wire.ModelResponse, `null`), s.writer)
		s.Require().ErrorIs(err, dispatch.ErrUnauthorized)
		s.Equal(0, invoked)
	})

	s.Run("principal missing the role is rejected", func() {
		p := &auth.Principal{Name: "guest", Roles: []string{"OTHER"}}
		err := s.dispatcher.Dispatch(s.ctx, p, s.request("secret", wire.ModelResponse, `null`), s.writer)
		s.Require().ErrorIs(err, dispatch.ErrUnauthorized)
		s.Equal(0, invoked)
	})

	s.Run("principal with the role passes", func() {
		p := &auth.Principal{Name: "user", Roles: []string{auth.RoleUser}}
		err := s.dispatcher.Dispatch(s.ctx, p, s.request("secret", wire.ModelResponse, `null`), s.writer)
		s.Require().NoError(err)
		s.Equal(1, invoked)
	})
}

func (s *DispatcherSuite) TestResponseEmitsOneTerminalFrame() {
	s.Require().NoError(s.dispatcher.RegisterResponse("echo", func(ctx context.Context, p *auth.Principal, payload json.RawMessage) (any, error) {
		return map[string]string{"hello": "world"}, nil
	}))

	err := s.dispatcher.Dispatch(s.ctx, nil, s.request("echo", wire.ModelResponse, `null`), s.writer)
	s.Require().NoError(err)

	frames := s.writer.all()
	s.Require().Len(frames, 1)
	s.Equal(wire.FrameComplete, frames[0].Type)
	s.JSONEq(`{"hello":"world"}`, string(frames[0].Payload))
}

func (s *DispatcherSuite) TestResponseHandlerError() {
	s.Require().NoError(s.dispatcher.RegisterResponse("missing", func(ctx context.Context, p *auth.Principal, payload json.RawMessage) (any, error) {
		return nil, fmt.Errorf("record 7: %w", sentinel.ErrNotFound)
	}))

	err := s.dispatcher.Dispatch(s.ctx, nil, s.request("missing", wire.ModelResponse, `null`), s.writer)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	terminals := s.writer.terminals()
	s.Require().Len(terminals, 1)
	s.Equal(wire.FrameError, terminals[0].Type)
	s.Equal(wire.CodeNotFound, terminals[0].Code)
}

func (s *DispatcherSuite) TestResponseCancellationSuppressesResult() {
	ctx, cancel := context.WithCancel(s.ctx)
	s.Require().NoError(s.dispatcher.RegisterResponse("slow", func(ctx context.Context, p *auth.Principal, payload json.RawMessage) (any, error) {
		cancel()
		<-ctx.Done()
		return "too late", nil
	}))

	err := s.dispatcher.Dispatch(ctx, nil, s.request("slow", wire.ModelResponse, `null`), s.writer)
	s.Require().ErrorIs(err, context.Canceled)

	frames := s.writer.all()
	s.Require().Len(frames, 1)
	s.Equal(wire.FrameCancelled, frames[0].Type)
}

func (s *DispatcherSuite) TestStreamEmitsInOrder() {
	s.Require().NoError(s.dispatcher.RegisterStream("count", func(ctx context.Context, p *auth.Principal, payload json.RawMessage, out *dispatch.Sink) error {
		for i := 1; i <= 5; i++ {
			if err := out.Send(ctx, i); err != nil {
				return err
			}
		}
		return nil
	}))

	err := s.dispatcher.Dispatch(s.ctx, nil, s.request("count", wire.ModelStream, `null`), s.writer)
	s.Require().NoError(err)

	data := s.writer.data()
	s.Require().Len(data, 5)
	for i, f := range data {
		s.Equal(fmt.Sprintf("%d", i+1), string(f.Payload))
	}

	frames := s.writer.all()
	s.Equal(wire.FrameComplete, frames[len(frames)-1].Type)
	s.Len(s.writer.terminals(), 1)
}

func (s *DispatcherSuite) TestStreamStopsOnFirstError() {
	boom := errors.New("boom")
	s.Require().NoError(s.dispatcher.RegisterStream("flaky", func(ctx context.Context, p *auth.Principal, payload json.RawMessage, out *dispatch.Sink) error {
		for i := 1; i <= 3; i++ {
			if err := out.Send(ctx, i); err != nil {
				return err
			}
		}
		return boom
	}))

	err := s.dispatcher.Dispatch(s.ctx, nil, s.request("flaky", wire.ModelStream, `null`), s.writer)
	s.Require().ErrorIs(err, boom)

	s.Len(s.writer.data(), 3)
	terminals := s.writer.terminals()
	s.Require().Len(terminals, 1)
	s.Equal(wire.FrameError, terminals[0].Type)
}

func (s *DispatcherSuite) TestStreamCancellation() {
	ctx, cancel := context.WithCancel(s.ctx)
	s.Require().NoError(s.dispatcher.RegisterStream("infinite", func(ctx context.Context, p *auth.Principal, payload json.RawMessage, out *dispatch.Sink) error {
		for i := 1; ; i++ {
			if i == 3 {
				cancel()
			}
			if err := out.Send(ctx, i); err != nil {
				return err
			}
		}
	}))

	err := s.dispatcher.Dispatch(ctx, nil, s.request("infinite", wire.ModelStream, `null`), s.writer)
	s.Require().ErrorIs(err, context.Canceled)

	// Sink.Send observes cancellation at the emission boundary: element 3 is
	// never emitted and exactly one cancel-ack terminates the stream.
	s.Len(s.writer.data(), 2)
	terminals := s.writer.terminals()
	s.Require().Len(terminals, 1)
	s.Equal(wire.FrameCancelled, terminals[0].Type)
}

func (s *DispatcherSuite) TestStreamDoesNotPrematerialize() {
	// A large boundary must emit lazily; producing the first element fast is
	// the observable consequence.
	const boundary = 1_000_000
	firstElement := make(chan struct{})
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	s.Require().NoError(s.dispatcher.RegisterStream("big", func(ctx context.Context, p *auth.Principal, payload json.RawMessage, out *dispatch.Sink) error {
		for i := 1; i <= boundary; i++ {
			if err := out.Send(ctx, i); err != nil {
				return err
			}
			if i == 1 {
				close(firstElement)
			}
		}
		return nil
	}))

	go func() {
		<-firstElement
		cancel()
	}()

	start := time.Now()
	err := s.dispatcher.Dispatch(ctx, nil, s.request("big", wire.ModelStream, `null`), s.writer)
	s.Require().ErrorIs(err, context.Canceled)
	s.Less(time.Since(start), 5*time.Second)
	s.NotEmpty(s.writer.data())
}

func (s *DispatcherSuite) TestFireAndForget() {
	ran := make(chan struct{})
	s.Require().NoError(s.dispatcher.RegisterFire("effect", func(ctx context.Context, p *auth.Principal, payload json.RawMessage) error {
		close(ran)
		return errors.New("handler failure stays internal")
	}))

	err := s.dispatcher.Dispatch(s.ctx, nil, s.request("effect", wire.ModelFireAndForget, `null`), s.writer)
	s.Require().NoError(err)
	<-ran

	// Acceptance only: the handler error never reaches the wire.
	frames := s.writer.all()
	s.Require().Len(frames, 1)
	s.Equal(wire.FrameAccepted, frames[0].Type)
	s.Empty(s.writer.terminals())
}

package handler_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"quotefeed/internal/auth"
	"quotefeed/internal/dispatch"
	"quotefeed/internal/quote"
	"quotefeed/internal/quote/handler"
	"quotefeed/internal/wire"
)

type recorder struct {
	mu     sync.Mutex
	frames []wire.Frame
	times  []time.Time
}

func (r *recorder) WriteFrame(ctx context.Context, f wire.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
	r.times = append(r.times, time.Now())
	return nil
}

func (r *recorder) data() []wire.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []wire.Frame
	for _, f := range r.frames {
		if f.Type == wire.FrameData {
			out = append(out, f)
		}
	}
	return out
}

func (r *recorder) last() wire.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames[len(r.frames)-1]
}

type allowRoles struct{}

func (allowRoles) Authorize(p *auth.Principal, requiredRole string) bool {
	return p.HasRole(requiredRole)
}

type RoutesSuite struct {
	suite.Suite
	dispatcher *dispatch.Dispatcher
	store      *quote.InMemory
	writer     *recorder
	ctx        context.Context
}

func TestRoutesSuite(t *testing.T) {
	suite.Run(t, new(RoutesSuite))
}

const testInterval = 20 * time.Millisecond

func (s *RoutesSuite) SetupTest() {
	s.store = quote.NewInMemory()
	s.writer = &recorder{}
	s.ctx = context.Background()

	s.dispatcher = dispatch.New(allowRoles{})
	h := handler.New(s.store, quote.NewFactBook(1),
		handler.WithStreamInterval(testInterval),
		handler.WithResponseDelay(5*time.Millisecond),
	)
	s.Require().NoError(h.Register(s.dispatcher))
}

func (s *RoutesSuite) dispatch(route string, model wire.InteractionModel, payload string, p *auth.Principal) error {
	req := dispatch.Request{ID: "r1", Route: route, Model: model, Payload: json.RawMessage(payload)}
	return s.dispatcher.Dispatch(s.ctx, p, req, s.writer)
}

func (s *RoutesSuite) TestQuotesZeroBoundary() {
	start := time.Now()
	s.Require().NoError(s.dispatch("quotes", wire.ModelStream, `0`, nil))

	s.Empty(s.writer.data())
	s.Equal(wire.FrameComplete, s.writer.last().Type)
	// No pacing wait for an empty stream.
	s.Less(time.Since(start), testInterval)
}

func (s *RoutesSuite) TestQuotesEmitsBoundaryElements() {
	start := time.Now()
	s.Require().NoError(s.dispatch("quotes", wire.ModelStream, `3`, nil))
	elapsed := time.Since(start)

	data := s.writer.data()
	s.Require().Len(data, 3)
	for i, f := range data {
		var q quote.Quote
		s.Require().NoError(json.Unmarshal(f.Payload, &q))
		s.Equal(int64(i+1), q.ID)
		s.NotEmpty(q.Message)
	}
	s.Equal(wire.FrameComplete, s.writer.last().Type)

	// One element per interval: three elements cannot arrive faster than
	// three intervals.
	s.GreaterOrEqual(elapsed, 3*testInterval)
}

func (s *RoutesSuite) TestQuotesRejectsNegativeBoundary() {
	err := s.dispatch("quotes", wire.ModelStream, `-1`, nil)
	s.Require().ErrorIs(err, dispatch.ErrInvalidPayload)
	s.Equal(wire.CodeInvalidPayload, s.writer.last().Code)
}

func (s *RoutesSuite) TestQuotesCancellationStopsEmission() {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		req := dispatch.Request{ID: "r1", Route: "quotes", Model: wire.ModelStream, Payload: json.RawMessage(`1000`)}
		done <- s.dispatcher.Dispatch(ctx, nil, req, s.writer)
	}()

	// Let a couple of elements through, then cancel.
	time.Sleep(2*testInterval + testInterval/2)
	cancel()
	err := <-done
	s.Require().ErrorIs(err, context.Canceled)

	received := len(s.writer.data())
	s.Less(received, 1000)
	s.Equal(wire.FrameCancelled, s.writer.last().Type)

	// No further frames arrive after the cancel-ack.
	time.Sleep(3 * testInterval)
	s.Len(s.writer.data(), received)
}

func (s *RoutesSuite) TestQuoteDeliversAfterDelay() {
	start := time.Now()
	s.Require().NoError(s.dispatch("quote", wire.ModelResponse, ``, nil))

	s.GreaterOrEqual(time.Since(start), 5*time.Millisecond)
	last := s.writer.last()
	s.Equal(wire.FrameComplete, last.Type)

	var q quote.Quote
	s.Require().NoError(json.Unmarshal(last.Payload, &q))
	s.Equal(int64(1), q.ID)
	s.NotEmpty(q.Message)
}

func (s *RoutesSuite) TestQuoteByIDRequiresAuthentication() {
	err := s.dispatch("quoteById", wire.ModelResponse, `1`, nil)
	s.Require().ErrorIs(err, dispatch.ErrUnauthorized)
	s.Equal(wire.CodeUnauthorized, s.writer.last().Code)
}

func (s *RoutesSuite) TestQuoteByIDReturnsPersistedQuote() {
	created := &quote.Quote{Message: "stored fact", CreatedAt: time.Now()}
	s.Require().NoError(s.store.Create(s.ctx, created))

	p := &auth.Principal{Name: "user", Roles: []string{auth.RoleUser}}
	s.Require().NoError(s.dispatch("quoteById", wire.ModelResponse, `1`, p))

	var q quote.Quote
	s.Require().NoError(json.Unmarshal(s.writer.last().Payload, &q))
	s.Equal(created.ID, q.ID)
	s.Equal("stored fact", q.Message)
}

func (s *RoutesSuite) TestQuoteByIDMiss() {
	p := &auth.Principal{Name: "user", Roles: []string{auth.RoleUser}}
	err := s.dispatch("quoteById", wire.ModelResponse, `42`, p)
	s.Require().Error(err)
	s.Equal(wire.CodeNotFound, s.writer.last().Code)
}

func (s *RoutesSuite) TestConcurrentQuoteByIDCallsDoNotInterfere() {
	p := &auth.Principal{Name: "user", Roles: []string{auth.RoleUser}}
	const n = 10
	for i := 0; i < n; i++ {
		q := &quote.Quote{Message: "fact", CreatedAt: time.Now()}
		s.Require().NoError(s.store.Create(s.ctx, q))
	}

	var wg sync.WaitGroup
	results := make([]quote.Quote, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w := &recorder{}
			req := dispatch.Request{
				ID:      "r1",
				Route:   "quoteById",
				Model:   wire.ModelResponse,
				Payload: json.RawMessage(jsonInt(int64(i + 1))),
			}
			if err := s.dispatcher.Dispatch(s.ctx, p, req, w); err != nil {
				return
			}
			_ = json.Unmarshal(w.last().Payload, &results[i])
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		s.Equal(int64(i+1), results[i].ID)
	}
}

func (s *RoutesSuite) TestLogAcceptsAndSwallowsErrors() {
	timestamp, _ := json.Marshal(time.Now())
	s.Require().NoError(s.dispatch("log", wire.ModelFireAndForget, string(timestamp), nil))
	s.Equal(wire.FrameAccepted, s.writer.last().Type)

	// Even a malformed payload only reaches the log.
	s.Require().NoError(s.dispatch("log", wire.ModelFireAndForget, `"not a timestamp"`, nil))
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

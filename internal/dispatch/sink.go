package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"quotefeed/internal/platform/metrics"
	"quotefeed/internal/wire"
)

// Sink carries a stream handler's emissions to the connection. Send blocks
// while the connection's outbound window is full, so handlers never hold more
// unacknowledged items in flight than the transport advertised, and a
// sequence of any length can be produced one element at a time.
type Sink struct {
	requestID string
	route     string
	writer    FrameWriter
	metrics   *metrics.Metrics
	sent      int
}

// Send emits one value as a data frame. It observes cancellation at every
// emission boundary and returns the context error once the request is
// cancelled; handlers should stop on the first non-nil return.
func (s *Sink) Send(ctx context.Context, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode stream element: %w", err)
	}

	frame := wire.Frame{RequestID: s.requestID, Type: wire.FrameData, Payload: payload}
	if err := s.writer.WriteFrame(ctx, frame); err != nil {
		return fmt.Errorf("emit stream element: %w", err)
	}

	s.sent++
	if s.metrics != nil {
		s.metrics.FramesEmitted.WithLabelValues(s.route).Inc()
	}
	return nil
}

// Sent reports how many elements have been emitted so far.
func (s *Sink) Sent() int {
	return s.sent
}

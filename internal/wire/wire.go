// Package wire defines the decoded request envelopes and outbound frames
// exchanged between a connection session and the route dispatcher. Transport
// adapters are responsible for carrying these as whole messages; byte-level
// framing is the transport's concern, not ours.
package wire

import "encoding/json"

// InteractionModel describes the wire contract a route commits to.
type InteractionModel string

const (
	// ModelResponse is request/response: exactly one terminal frame, carrying
	// either the result payload or an error.
	ModelResponse InteractionModel = "response"
	// ModelStream is request/stream: zero or more data frames followed by
	// exactly one terminal frame.
	ModelStream InteractionModel = "stream"
	// ModelFireAndForget runs the handler for effect. The caller receives an
	// immediate acceptance and nothing else.
	ModelFireAndForget InteractionModel = "fire_and_forget"
)

// Valid reports whether m is one of the known interaction models.
func (m InteractionModel) Valid() bool {
	switch m {
	case ModelResponse, ModelStream, ModelFireAndForget:
		return true
	}
	return false
}

// EnvelopeType discriminates inbound envelopes.
type EnvelopeType string

const (
	EnvelopeRequest EnvelopeType = "request"
	EnvelopeCancel  EnvelopeType = "cancel"
)

// Envelope is one decoded inbound message. Route, Model and Payload are only
// set for request envelopes; a cancel envelope names the request it cancels
// through ID.
type Envelope struct {
	ID      string           `json:"id"`
	Type    EnvelopeType     `json:"type"`
	Route   string           `json:"route,omitempty"`
	Model   InteractionModel `json:"model,omitempty"`
	Payload json.RawMessage  `json:"payload,omitempty"`
}

// FrameType discriminates outbound frames. Complete, Error and Cancelled are
// terminal: a session emits exactly one of them per response or stream
// request, after which the request id is dead.
type FrameType string

const (
	FrameData      FrameType = "data"
	FrameComplete  FrameType = "complete"
	FrameError     FrameType = "error"
	FrameCancelled FrameType = "cancelled"
	FrameAccepted  FrameType = "accepted"
)

// Frame is one outbound message, always tied to the request that caused it.
type Frame struct {
	RequestID string          `json:"requestId"`
	Type      FrameType       `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Code      string          `json:"code,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// Terminal reports whether the frame ends its request.
func (f Frame) Terminal() bool {
	switch f.Type {
	case FrameComplete, FrameError, FrameCancelled:
		return true
	}
	return false
}

// Error codes carried on error frames. Stable across releases; clients match
// on these rather than on messages.
const (
	CodeRouteNotFound    = "route_not_found"
	CodeProtocolMismatch = "protocol_mismatch"
	CodeUnauthorized     = "unauthorized"
	CodeNotFound         = "not_found"
	CodeInvalidPayload   = "invalid_payload"
	CodeInternal         = "internal"
)

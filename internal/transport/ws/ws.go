// Package ws adapts websocket connections to session envelopes and frames.
// Message framing is the library's concern; each websocket message carries
// one JSON envelope or frame.
package ws

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"quotefeed/internal/auth"
	"quotefeed/internal/platform/metrics"
	"quotefeed/internal/session"
	"quotefeed/internal/wire"
)

// Handler upgrades HTTP requests to websocket connections and runs one
// session per connection. Credentials travel in the Authorization header at
// upgrade time: Basic for the credential pair, Bearer for a previously issued
// token, absent for an anonymous connection.
type Handler struct {
	upgrader   websocket.Upgrader
	dispatcher session.Dispatcher
	auth       *auth.Service
	tokens     *auth.TokenService
	credit     int
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Option configures a Handler.
type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// NewHandler constructs the websocket endpoint. credit is the outbound
// window advertised to sessions.
func NewHandler(d session.Dispatcher, authn *auth.Service, tokens *auth.TokenService, credit int, opts ...Option) *Handler {
	h := &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		dispatcher: d,
		auth:       authn,
		tokens:     tokens,
		credit:     credit,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal, err := h.principalFrom(r)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Basic realm="quotefeed"`)
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.DebugContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	sess := session.New(&wsConn{conn: conn, credit: h.credit}, h.dispatcher, principal,
		session.WithLogger(h.logger), session.WithMetrics(h.metrics))
	_ = sess.Run(r.Context())
}

// principalFrom authenticates the upgrade request. No Authorization header
// means an anonymous connection; open routes remain available to it.
func (h *Handler) principalFrom(r *http.Request) (*auth.Principal, error) {
	if username, password, ok := r.BasicAuth(); ok {
		return h.auth.Authenticate(r.Context(), auth.Credentials{Username: username, Password: password})
	}
	if token, ok := bearerToken(r); ok {
		return h.tokens.ValidateToken(token)
	}
	return nil, nil
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):], true
	}
	return "", false
}

// wsConn implements session.Conn over a gorilla websocket connection.
type wsConn struct {
	conn   *websocket.Conn
	credit int
}

func (c *wsConn) ReadEnvelope() (wire.Envelope, error) {
	var env wire.Envelope
	if err := c.conn.ReadJSON(&env); err != nil {
		return wire.Envelope{}, err
	}
	return env, nil
}

func (c *wsConn) WriteFrame(f wire.Frame) error {
	return c.conn.WriteJSON(f)
}

func (c *wsConn) Credit() int {
	return c.credit
}

func (c *wsConn) Close() error {
	err := c.conn.Close()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return err
	}
	return nil
}

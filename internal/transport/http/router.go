// Package http is the thin HTTP layer: the websocket entry point, the token
// endpoint and operational endpoints. It delegates to domain services and
// keeps transport concerns out of business logic.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires all public endpoints.
func NewRouter(connect http.Handler, token http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/connect", connect.ServeHTTP)
	r.Post("/token", token)

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

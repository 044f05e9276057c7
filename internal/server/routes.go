package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /endpoints", h.Endpoints)
	mux.HandleFunc("POST /generations", h.CreateGeneration)
	mux.HandleFunc("GET /generations", h.ListGenerations)
	mux.HandleFunc("GET /generations/{id}", h.GetGeneration)
	mux.HandleFunc("DELETE /generations/{id}", h.DeleteGeneration)
	mux.HandleFunc("GET /history", h.ListHistory)
	mux.HandleFunc("DELETE /history", h.ClearHistory)

	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}

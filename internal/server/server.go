// Package server exposes gantry as a GitHub webhook endpoint: deliveries
// are verified, translated into events, and handed to a run dispatcher in
// the background.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"gantry/internal/event"
)

// RunFunc executes one verified webhook event. The server answers the
// delivery before the run completes; implementations own their lifetime.
type RunFunc func(ev event.Event)

type config struct {
	addr    string
	secret  string
	version string
	log     *slog.Logger
}

// Option configures the server.
type Option func(*config)

// WithAddr sets the listen address.
func WithAddr(addr string) Option { return func(c *config) { c.addr = addr } }

// WithSecret sets the webhook HMAC secret. Deliveries that do not carry a
// matching X-Hub-Signature-256 are rejected.
func WithSecret(secret string) Option { return func(c *config) { c.secret = secret } }

// WithVersion sets the version string reported by /health.
func WithVersion(v string) Option { return func(c *config) { c.version = v } }

// WithLogger sets the request and webhook logger.
func WithLogger(log *slog.Logger) Option { return func(c *config) { c.log = log } }

// Server is the webhook HTTP server. Callers run it via ListenAndServe and
// stop it via Shutdown, both promoted from http.Server.
type Server struct {
	*http.Server
	log *slog.Logger
}

// New wires the router: /health plus POST /hooks/github.
func New(run RunFunc, opts ...Option) *Server {
	cfg := &config{
		addr:    ":8385",
		version: "dev",
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(cfg.log))
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth(cfg.version))

	hooks := &webhookHandler{secret: cfg.secret, run: run, log: cfg.log}
	r.Post("/hooks/github", hooks.Handle)

	return &Server{
		Server: &http.Server{
			Addr:              cfg.addr,
			Handler:           r,
			ReadHeaderTimeout: 15 * time.Second,
		},
		log: cfg.log,
	}
}

func handleHealth(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "gantry",
			"version": version,
		})
	}
}

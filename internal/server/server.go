// Package server sets up the HTTP router, middleware, and the three
// protocol mount points that hand off to the forwarder (C0).
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nolanhoward/llmproxy/internal/config"
	"github.com/nolanhoward/llmproxy/internal/forwarder"
	"github.com/nolanhoward/llmproxy/internal/protocol"
)

// Server holds the HTTP router and all dependencies that handlers need.
type Server struct {
	router chi.Router
	cfg    *config.Config
	fwd    *forwarder.Forwarder
}

// New creates a Server, wires up routes and middleware, and returns it
// ready to use as an http.Handler.
func New(cfg *config.Config, fwd *forwarder.Forwarder) *Server {
	s := &Server{cfg: cfg, fwd: fwd}
	s.routes()
	return s
}

// routes builds the chi router with all middleware and the three mount
// points a client can address: anthropic's /v1/messages, gemini's
// /v1beta/*, and openai's remaining /v1/*.
func (s *Server) routes() {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Handle("/v1/messages", s.handleProtocol(protocol.Anthropic))
	r.Handle("/v1/messages/*", s.handleProtocol(protocol.Anthropic))
	r.Handle("/v1beta/*", s.handleProtocol(protocol.Gemini))
	r.Handle("/v1/*", s.handleProtocol(protocol.OpenAI))

	s.router = r
}

func (s *Server) handleProtocol(p protocol.Protocol) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.fwd.Forward(w, r, p)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// ServeHTTP makes Server satisfy the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

type server struct {
	cfg    Config
	router *chi.Mux
}

// newServer routes the health check and, when OAuth is configured, the
// OAuth redirect. callback may be nil.
func newServer(cfg Config, log zerolog.Logger, health, callback http.Handler) *server {
	srv := &server{
		cfg:    cfg,
		router: chi.NewRouter(),
	}

	httpLog := log.With().Str("component", "http").Logger()
	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: &httpLog, NoColor: true}))
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(middleware.RealIP)
	srv.router.Use(middleware.Timeout(30 * time.Second))

	srv.router.Method(http.MethodGet, "/health", health)
	if callback != nil {
		srv.router.Method(http.MethodGet, cfg.CallbackPath(), callback)
	}

	return srv
}

func (s *server) httpServer() *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      45 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}

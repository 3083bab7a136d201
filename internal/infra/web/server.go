package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"dental-backoffice/internal/config"
	"dental-backoffice/internal/domain/ports/adapter"
	"dental-backoffice/internal/usecase"
)

// Sockets is the push hub as seen by HTTP.
type Sockets interface {
	Serve(w http.ResponseWriter, r *http.Request, userID int64)
	Owner(connectionID string) (int64, bool)
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	eligibility usecase.EligibilityUseCase
	credentials usecase.CredentialUseCase
	agents      adapter.AgentDirectory
	sockets     Sockets
	db          Pinger
	auth        *AuthManager
	cfg         config.HTTPConfig
	log         *zerolog.Logger

	srv *http.Server
}

func NewServer(
	cfg config.HTTPConfig,
	eligibility usecase.EligibilityUseCase,
	credentials usecase.CredentialUseCase,
	agents adapter.AgentDirectory,
	sockets Sockets,
	db Pinger,
	auth *AuthManager,
	logger *zerolog.Logger,
) *Server {
	l := logger.With().Str("component", "HTTPServer").Logger()
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 90 * time.Second
	}
	s := &Server{
		eligibility: eligibility,
		credentials: credentials,
		agents:      agents,
		sockets:     sockets,
		db:          db,
		auth:        auth,
		cfg:         cfg,
		log:         &l,
	}
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Routes(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
	}
	return s
}

// Routes builds the router. Exposed for tests.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(TraceID())
	r.Use(RequestLog(s.log))
	r.Use(Recover(s.log))

	r.Get("/health", s.handleHealth)
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	// The socket outlives any request timeout.
	r.With(RequireUser(s.auth)).Get("/ws", s.handleWS)

	r.Group(func(r chi.Router) {
		r.Use(Timeout(s.cfg.RequestTimeout))
		r.Use(RequireUser(s.auth))

		r.Route("/api/insurance-status/{provider}", func(r chi.Router) {
			r.Post("/eligibility", s.handleStart)
			r.Post("/submit-otp", s.handleSubmitOTP)
			r.Get("/session/{sid}/final", s.handleFinal)
		})
		r.Get("/api/insurance-status/providers", s.handleProviders)

		r.Route("/api/insurance-credentials", func(r chi.Router) {
			r.Get("/", s.handleListCredentials)
			r.Post("/", s.handleSaveCredential)
			r.Put("/", s.handleSaveCredential)
			r.Delete("/{id}", s.handleDeleteCredential)
		})
	})
	return r
}

// Start blocks until the listener stops. http.ErrServerClosed is not an error.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.cfg.Addr).Msg("HTTP server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

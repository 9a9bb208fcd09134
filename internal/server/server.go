package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jjudge-oj/authserver/config"
	"github.com/jjudge-oj/authserver/internal/auth"
	"github.com/jjudge-oj/authserver/internal/db"
	"github.com/jjudge-oj/authserver/internal/handlers"
	"github.com/jjudge-oj/authserver/internal/logging"
	"github.com/jjudge-oj/authserver/internal/mq"
	"github.com/jjudge-oj/authserver/internal/services"
	"github.com/jjudge-oj/authserver/internal/store"
)

// Server owns the HTTP listener and the connections it shuts down.
type Server struct {
	httpServer *http.Server
	db         *sql.DB
	queue      *mq.MQ
	logger     *slog.Logger
}

// Components holds the collaborators shared by the HTTP server and the CLI
// commands that run without it.
type Components struct {
	DB          *sql.DB
	Credentials *services.CredentialStore
	Tokens      *auth.TokenIssuer
}

// NewComponents opens the database and builds the credential store and the
// token issuer from cfg.
func NewComponents(ctx context.Context, cfg config.Config) (*Components, error) {
	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	hasher := auth.NewHasher(cfg.Auth.BcryptCost, cfg.Auth.HashConcurrency)
	credentials := services.NewCredentialStore(
		store.NewUserRepository(dbConn),
		hasher,
		cfg.Auth.AllowedRoles,
		cfg.Auth.AllowedPermissions,
	)

	return &Components{
		DB:          dbConn,
		Credentials: credentials,
		Tokens:      auth.NewTokenIssuer(cfg.Auth.SecretKey, cfg.Auth.TokenLifetime()),
	}, nil
}

// New constructs a Server with basic middleware and defaults.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Discard()
	}

	components, err := NewComponents(ctx, cfg)
	if err != nil {
		return nil, err
	}

	publisher, queue, err := newEventPublisher(ctx, cfg.MQ, logger)
	if err != nil {
		_ = components.DB.Close()
		return nil, err
	}

	logger.Info("token issuer ready", "lifetime", components.Tokens.Lifetime().String())
	authService := services.NewAuthService(components.Credentials, components.Tokens, publisher, logger)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		logging.RequestLogger(logger),
		middleware.Recoverer,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, authService, components.Tokens, logger)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		db:         components.DB,
		queue:      queue,
		logger:     logger,
	}, nil
}

// Start runs the HTTP server. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then releases the broker and the
// database pool.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.queue != nil {
		if cerr := s.queue.Close(); cerr != nil {
			s.logger.Warn("failed to close message broker", "error", cerr)
		}
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return err
}

func newEventPublisher(ctx context.Context, cfg config.MQConfig, logger *slog.Logger) (services.EventPublisher, *mq.MQ, error) {
	backend, err := mq.NewBackend(ctx, cfg)
	if errors.Is(err, mq.ErrDisabled) {
		logger.Info("account events disabled")
		return services.NopEventPublisher{}, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("connect message broker: %w", err)
	}

	logger.Info("publishing account events", "backend", cfg.Backend, "channel", cfg.Channel)
	queue := mq.New(backend)
	return services.NewMQEventPublisher(queue, cfg.Channel), queue, nil
}

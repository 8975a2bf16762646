package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nexocrm/authsvc/config"
	"github.com/nexocrm/authsvc/internal/auth"
	"github.com/nexocrm/authsvc/internal/db"
	"github.com/nexocrm/authsvc/internal/mq"
	"github.com/nexocrm/authsvc/internal/services"
	"github.com/nexocrm/authsvc/internal/storage"
	"github.com/nexocrm/authsvc/internal/store"
	"github.com/rs/zerolog/log"
)

// Server wraps the HTTP server and the connections it owns.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	events     *mq.UserEvents
	objects    storage.ObjectStorage
}

// New connects to Postgres and, when configured, the message broker and
// object storage, then wires the services and routes.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	jwtSecret := strings.TrimSpace(cfg.Auth.JWTSecret)
	if jwtSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &Server{db: dbConn}

	var publisher services.EventPublisher = services.NoopPublisher{}
	broker, err := mq.Open(ctx, cfg.MQ)
	switch {
	case errors.Is(err, mq.ErrNotConfigured):
		log.Info().Msg("no message broker configured, user events are disabled")
	case err != nil:
		s.close()
		return nil, fmt.Errorf("open message broker: %w", err)
	default:
		s.events = mq.NewUserEvents(broker, cfg.MQ.UserEventsChannel)
		publisher = s.events
	}

	objects, err := storage.Open(ctx, cfg.Storage)
	switch {
	case errors.Is(err, storage.ErrNotConfigured):
		log.Info().Msg("no object storage configured, avatar routes are disabled")
	case err != nil:
		s.close()
		return nil, fmt.Errorf("open object storage: %w", err)
	default:
		s.objects = objects
	}

	userRepo := store.NewUserRepository(dbConn)
	roleRepo := store.NewRoleRepository(dbConn)
	txManager := store.NewTxManager(dbConn)
	hasher := auth.NewPasswordHasher(cfg.Auth.BcryptCost)
	tokens := auth.NewTokenManager(jwtSecret)

	deps := Deps{
		Auth:           services.NewAuthService(userRepo, roleRepo, hasher, tokens, publisher),
		Users:          services.NewUserService(txManager, userRepo, roleRepo, hasher, publisher),
		Roles:          services.NewRoleService(roleRepo),
		Tokens:         tokens,
		Health:         dbConn,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	}
	if s.objects != nil {
		deps.Avatars = services.NewAvatarService(userRepo, s.objects)
	}

	s.router = NewRouter(deps)

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 65 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start serves HTTP until Shutdown is called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("auth service listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and then closes owned connections.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.close()
	return err
}

func (s *Server) close() {
	if s.events != nil {
		if err := s.events.Close(); err != nil {
			log.Warn().Err(err).Msg("close message broker")
		}
	}
	if s.objects != nil {
		if err := s.objects.Close(); err != nil {
			log.Warn().Err(err).Msg("close object storage")
		}
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}

package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leasehold/apiserver/config"
	"github.com/leasehold/apiserver/internal/auth"
	"github.com/leasehold/apiserver/internal/db"
	"github.com/leasehold/apiserver/internal/handlers"
	"github.com/leasehold/apiserver/internal/mq"
	"github.com/leasehold/apiserver/internal/services"
	"github.com/leasehold/apiserver/internal/storage"
	"github.com/leasehold/apiserver/internal/store"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	logger     *slog.Logger
	closers    []io.Closer
}

// New connects to the database, the blob store and, when configured, the
// message broker, and builds the router on top of them.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hasher, err := auth.NewHasher(cfg.Auth.BcryptCost, cfg.Auth.HashWorkers)
	if err != nil {
		return nil, err
	}
	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.Issuer)
	if err != nil {
		return nil, err
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &Server{db: dbConn, logger: logger}

	backend, err := openObjectStorage(ctx, cfg.Storage)
	if err != nil {
		_ = s.close()
		return nil, fmt.Errorf("open object storage: %w", err)
	}
	if closer, ok := backend.(io.Closer); ok {
		s.closers = append(s.closers, closer)
	}
	blobs := storage.NewStorage(backend)
	if err := blobs.EnsureBucket(ctx); err != nil {
		_ = s.close()
		return nil, fmt.Errorf("ensure bucket %s: %w", blobs.Bucket(), err)
	}

	var events services.EventPublisher
	broker, err := mq.Open(ctx, cfg.MQ)
	if err != nil {
		_ = s.close()
		return nil, fmt.Errorf("open message broker: %w", err)
	}
	if broker != nil {
		rentalEvents := mq.NewRentalEvents(broker, cfg.MQ.Channel)
		s.closers = append(s.closers, rentalEvents)
		events = rentalEvents
	}

	userRepo := store.NewUserRepository(dbConn)
	rentalRepo := store.NewRentalRepository(dbConn)

	authService := services.NewAuthService(userRepo, hasher, tokens, logger)
	rentalService := services.NewRentalService(rentalRepo, userRepo, blobs, events, cfg.PublicBaseURL, logger)

	authMiddleware := handlers.RequireAuth(authService)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(cfg.RequestTimeout),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Handle("/metrics", promhttp.Handler())
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, authService)
	})
	router.Route("/rentals", func(r chi.Router) {
		handlers.RentalRouter(r, rentalService, cfg.MaxUploadBytes, authMiddleware)
	})
	router.Route("/images", func(r chi.Router) {
		handlers.AssetRouter(r, blobs)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	s.router = router
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.RequestTimeout,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("server configured", slog.Any("config", cfg), slog.String("bucket", blobs.Bucket()))
	return s, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones until ctx
// ends, then releases the database, blob store and broker.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	return errors.Join(err, s.close())
}

func (s *Server) close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i].Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}

func openObjectStorage(ctx context.Context, cfg config.StorageConfig) (storage.ObjectStorage, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "minio":
		return storage.NewMinioClient(cfg.Minio)
	case "gcs":
		return storage.NewGCSClient(ctx, cfg.GCS)
	case "bucket", "":
		return storage.NewBucketClient(ctx, cfg.BucketURL)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

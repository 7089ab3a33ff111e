package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"taskboard-api/api"
	"taskboard-api/config"
	"taskboard-api/domain"
	"taskboard-api/events"
	"taskboard-api/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := log.StandardLogger()
	cfg.Log.Apply(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer closeStore()

	broker := api.NewBroker()
	var (
		base       domain.Store = store
		health     api.Pinger
		publishers events.Multi
		deduper    api.Deduper
	)
	if p, ok := store.(api.Pinger); ok {
		health = p
	}

	if cfg.Redis.ConnectionString != "" {
		rc, err := storage.NewRedisClient(cfg.Redis.ConnectionString)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rc.Close()

		cache := storage.NewCache(store, rc, cfg.Redis.CacheTTL)
		base, health = cache, cache
		deduper = api.NewRedisDeduper(rc, cfg.Redis.IdempotencyTTL)
		// Stream clients are fed from the channel so every instance sees
		// every change.
		publishers = append(publishers, events.NewBreaker("redis", events.NewRedisPublisher(rc, cfg.Redis.EventsChannel),
			cfg.Events.BreakerFailures, cfg.Events.BreakerTimeout))
		go events.Subscribe(ctx, rc, cfg.Redis.EventsChannel, func(ev domain.Event) {
			_ = broker.Publish(ctx, ev)
		})
	} else {
		publishers = append(publishers, broker)
	}

	if cfg.Events.Queue != "" {
		qp, err := events.NewQueuePublisher(cfg.Store.ConnectionString, cfg.Events.Queue)
		if err != nil {
			return fmt.Errorf("events queue: %w", err)
		}
		publishers = append(publishers, events.NewBreaker("queue", qp, cfg.Events.BreakerFailures, cfg.Events.BreakerTimeout))
	}

	boards := domain.NewBoardService(base, publishers)
	todos := domain.NewTodoService(base, boards, publishers)

	auth, err := newAuth(cfg.Auth)
	if err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.Server.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentEncoding, api.HeaderIdempotencyKey},
	}))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	api.RegisterMetrics(e, reg)

	api.Register(e, api.Server{
		Boards:    boards,
		Todos:     todos,
		Auth:      auth,
		Broker:    broker,
		Health:    health,
		Deduper:   deduper,
		Logger:    logger,
		Heartbeat: cfg.Server.Heartbeat,
		RateLimit: cfg.Server.RateLimit,
		RateBurst: cfg.Server.RateBurst,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(log.Fields{"port": cfg.Server.Port, "backend": cfg.Store.Backend}).Info("taskboard api listening")
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	logger.Info("shutting down")
	return e.Shutdown(shutdownCtx)
}

// openStore builds the configured backend and returns a function releasing
// its resources.
func openStore(ctx context.Context, cfg config.StoreConfig) (domain.Store, func(), error) {
	switch cfg.Backend {
	case config.BackendTable:
		s, err := storage.NewTableStore(cfg.ConnectionString, cfg.Table)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	case config.BackendPostgres:
		s, err := storage.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.BackendMemory:
		log.Warn("using in-memory storage; data is lost on restart")
		return storage.NewMemoryStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func newAuth(cfg config.AuthConfig) (*api.Auth, error) {
	if cfg.TestMode {
		log.Warn("auth test mode enabled; accepting HS256 tokens")
		return api.NewTestAuth([]byte(cfg.TestSecret), "", ""), nil
	}
	jwks, err := keyfunc.Get(cfg.JWKSURL(), keyfunc.Options{
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			log.WithError(err).Error("jwks refresh failed")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return api.NewAuth(jwks, cfg.Audience, cfg.Issuer(), cfg.JWKSCacheTTL), nil
}

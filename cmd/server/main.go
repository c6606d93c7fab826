package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-insights/internal/auth"
	"github.com/ukydev/fleet-insights/internal/config"
	"github.com/ukydev/fleet-insights/internal/db"
	"github.com/ukydev/fleet-insights/internal/events"
	"github.com/ukydev/fleet-insights/internal/handlers"
	"github.com/ukydev/fleet-insights/internal/logger"
	"github.com/ukydev/fleet-insights/internal/middleware"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.WithError(err).Fatal("Failed to load .env")
	}
	cfg, err := config.LoadServer()
	if err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}
	lg := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, lg); err != nil {
		lg.WithError(err).Error("Server stopped")
		os.Exit(1)
	}
}

// app is the wired server plus whatever must be released on exit.
type app struct {
	handler http.Handler
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func setup(ctx context.Context, cfg config.ServerConfig, lg log.FieldLogger) (*app, error) {
	a := &app{}

	if cfg.JWTSecret == config.DefaultJWTSecret {
		lg.Warn("JWT_SECRET is not set; using the development secret")
	}
	authService, err := auth.NewService(cfg.JWTSecret, cfg.JWTExpiry)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg, lg, a)
	if err != nil {
		a.close()
		return nil, err
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.MQTT.Enabled() {
		bus, err := events.Dial(events.Config{
			BrokerURL:   cfg.MQTT.BrokerURL,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		}, lg)
		if err != nil {
			// mutations still succeed without the bus; clients fall back to
			// their stale times
			lg.WithError(err).Warn("MQTT unavailable, invalidation events disabled")
		} else {
			publisher = bus
			a.closers = append(a.closers, bus.Close)
		}
	}

	var limiter middleware.Limiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rdb.Ping(ctx).Err(); err != nil {
			lg.WithError(err).WithField("addr", cfg.RedisAddr).Warn("Redis unreachable, rate limiting per instance")
			_ = rdb.Close()
			limiter = middleware.NewMemoryLimiter(cfg.RateLimit, cfg.RateWindow)
		} else {
			limiter = middleware.NewRedisLimiter(rdb, cfg.RateLimit, cfg.RateWindow)
			a.closers = append(a.closers, func() { _ = rdb.Close() })
		}
	} else {
		limiter = middleware.NewMemoryLimiter(cfg.RateLimit, cfg.RateWindow)
	}

	a.handler = handlers.NewRouter(handlers.RouterConfig{
		Store:     store,
		Auth:      authService,
		Publisher: publisher,
		Limiter:   limiter,
		Logger:    lg,
		Location:  cfg.TimeZone,
	})
	return a, nil
}

func openStore(ctx context.Context, cfg config.ServerConfig, lg log.FieldLogger, a *app) (*db.Store, error) {
	if cfg.StoreBackend == "memory" {
		lg.Warn("Using the in-memory store; data is lost on exit")
		return db.NewMemoryStore(), nil
	}
	client, err := db.ConnectMongo(ctx, cfg.MongoURI)
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	a.closers = append(a.closers, func() { _ = client.Disconnect(context.Background()) })

	database := client.Database(cfg.MongoDatabase)
	if err := db.EnsureIndexes(ctx, database); err != nil {
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	lg.WithField("database", cfg.MongoDatabase).Info("Connected to MongoDB")
	return db.NewMongoStore(database), nil
}

func run(ctx context.Context, cfg config.ServerConfig, lg log.FieldLogger) error {
	a, err := setup(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer a.close()

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      a.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		lg.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	lg.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/goliatone/go-authsession"
	"github.com/goliatone/go-authsession/activitymap"
	"github.com/goliatone/go-authsession/config"
	"github.com/goliatone/go-authsession/gotrue"
	"github.com/goliatone/go-authsession/httpapi"
	"github.com/goliatone/go-authsession/logging"
	"github.com/goliatone/go-authsession/profiles"
	"github.com/goliatone/go-authsession/store"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zl, err := logging.NewZap(cfg.Logger.Level)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer zl.Sync() //nolint:errcheck
	logger := logging.New(zl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessions, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		zl.Fatal("failed to open session store", zap.Error(err))
	}
	defer closeStore()

	backend := gotrue.New(gotrue.Config{
		URL:           cfg.Supabase.URL,
		APIKey:        cfg.Supabase.Key,
		Store:         sessions,
		StorageKey:    cfg.Session.StorageKey,
		AutoRefresh:   cfg.Session.AutoRefresh,
		RefreshMargin: cfg.Session.RefreshMargin(),
		Logger:        logger.Named("gotrue"),
	})
	defer backend.Close()

	client := authsession.NewClient(backend,
		authsession.WithLogger(logger.Named("client")),
		authsession.WithActivitySink(activitymap.Sink(func(_ context.Context, r activitymap.Record) error {
			logger.Info("auth activity", "verb", r.Verb, "actor_id", r.ActorID, "metadata", r.Metadata)
			return nil
		})),
	)
	defer client.Close()

	if err := backend.Start(ctx); err != nil {
		logger.Warn("session restore failed", "error", err)
	}

	observer := authsession.NewObserver(client, authsession.WithObserverLogger(logger.Named("observer")))
	observer.Activate(ctx)
	defer observer.Deactivate()

	bearer := httpapi.BearerConfigFrom(cfg.Auth)
	if cfg.Auth.JWTSecret == "" && cfg.Auth.JWKSURL == "" {
		bearer.JWKSetURL = cfg.Supabase.URL + "/auth/v1/.well-known/jwks.json"
	}

	app := httpapi.New(httpapi.Config{
		Auth:     observer,
		Sessions: backend,
		Profiles: profiles.NewRepository(profiles.Config{
			URL:    cfg.Supabase.URL,
			APIKey: cfg.Supabase.Key,
		}),
		Bearer:         bearer,
		Logger:         logger.Named("http"),
		RequestTimeout: cfg.App.RequestTimeout(),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr); err != nil {
			zl.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Session.Store {
	case config.StoreSQLite:
		sqldb, err := sql.Open(sqliteshim.ShimName, cfg.Session.SQLiteDSN)
		if err != nil {
			return nil, nil, err
		}
		db := bun.NewDB(sqldb, sqlitedialect.New())
		s := store.NewBun(db)
		if err := s.CreateSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return s, func() { _ = db.Close() }, nil
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return store.NewRedis(client), func() { _ = client.Close() }, nil
	default:
		return store.NewMemory(), func() {}, nil
	}
}

func waitForShutdown(logger authsession.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())
}

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	appcmd "github.com/yaoshining/horizon/cmd"
	"github.com/yaoshining/horizon/docstore"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"
)

func main() {
	cfg, err := loadConfig(os.Getenv)
	if err != nil {
		slog.Default().Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.LogFormat)
	slog.SetDefault(logger)

	store, closeStore, err := openStore(logger, cfg)
	if err != nil {
		logger.Error("open store", "store", cfg.Store, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	metrics := docstore.NewPrometheusAppMetrics()
	upserter := docstore.NewUpserter(store,
		docstore.WithAuthorizer(newAuthorizer(logger, cfg)),
		docstore.WithAppMetrics(metrics),
		docstore.WithLogger(logger),
	)

	appCfg := appcmd.AppConfig{
		Address:           cfg.HTTPAddr,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.ShutdownTimeout,
		RequestTimeout:    cfg.RequestTimeout,
		MaxBatch:          cfg.MaxBatch,
		Logger:            logger,
		Metrics:           metrics,
	}
	app := appcmd.NewApp(upserter, appCfg)

	if err := app.Start(); err != nil {
		logger.Error("start app", "error", err)
		closeStore()
		os.Exit(1)
	}
	logger.Info("horizon listening", "address", app.Address(), "store", cfg.Store, "auth", cfg.AuthMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), appCfg.ShutdownTimeout)
		defer cancel()
		if err := app.Stop(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	if err := app.Wait(); err != nil {
		logger.Error("app exited with error", "error", err)
		closeStore()
		os.Exit(1)
	}
}

func newLogger(format string) *slog.Logger {
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

// openStore connects the configured document store. The returned close
// function is safe to call more than once.
func openStore(logger *slog.Logger, cfg Config) (docstore.Store, func(), error) {
	switch cfg.Store {
	case storeRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer pingCancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		store, err := docstore.NewRedisStore(client, cfg.RedisPrefix)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		logger.Info("configured redis store", "addr", cfg.RedisAddr, "prefix", store.Prefix)
		return store, sync.OnceFunc(func() { _ = client.Close() }), nil

	case storeMongo:
		client, err := mongo.Connect(mongooptions.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, err
		}
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer pingCancel()
		disconnect := sync.OnceFunc(func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(disconnectCtx)
		})
		if err := client.Ping(pingCtx, nil); err != nil {
			disconnect()
			return nil, nil, err
		}
		logger.Info("configured mongo store", "db", cfg.MongoDB)
		return docstore.NewMongoStore(client.Database(cfg.MongoDB)), disconnect, nil

	default:
		logger.Info("configured in-memory store", "hint", "set HORIZON_STORE=redis or mongo to persist documents")
		return docstore.NewMemoryStore(), func() {}, nil
	}
}

func newAuthorizer(logger *slog.Logger, cfg Config) docstore.Authorizer {
	if cfg.AuthMode == authOwner {
		logger.Info("configured owner authorizer", "field", cfg.OwnerField)
		return docstore.OwnerAuthorizer{Field: cfg.OwnerField}
	}
	logger.Warn("all writes are authorized", "hint", "set HORIZON_AUTH_MODE=owner to enforce document ownership")
	return docstore.AllowAll{}
}

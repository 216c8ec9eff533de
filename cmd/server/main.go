package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/koopa0/system-design/redis-backed-cache/internal"
	"github.com/koopa0/system-design/redis-backed-cache/internal/cache"
	"github.com/koopa0/system-design/redis-backed-cache/internal/migrations"
	apperrors "github.com/koopa0/system-design/redis-backed-cache/pkg/errors"
	"github.com/koopa0/system-design/redis-backed-cache/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (defaults only when empty)")
	flag.Parse()

	// 載入配置
	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 設定日誌
	log, err := logger.New(config.Log.Level, config.Log.Format, config.Log.Output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(log)

	ctx := context.Background()

	// 建立後端連線與 bucket 工廠
	factory, ready, closeBackend, err := openBackend(ctx, config, log)
	if err != nil {
		log.Error("failed to open cache backend", "backend", config.Cache.Backend, "error", err)
		os.Exit(1)
	}
	defer closeBackend()

	// 設定變更事件發佈（可選）
	if config.NATS.URL != "" {
		conn, err := nats.Connect(
			config.NATS.URL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(time.Second),
			nats.PingInterval(20*time.Second),
		)
		if err != nil {
			log.Error("failed to connect to nats", "url", config.NATS.URL, "error", err)
			closeBackend()
			os.Exit(1)
		}
		defer conn.Drain() //nolint:errcheck

		factory = internal.NotifyingFactory(factory, conn, config.NATS.SubjectPrefix, log)
		log.Info("publishing change events", "url", config.NATS.URL, "prefix", config.NATS.SubjectPrefix)
	}

	handler := internal.NewHandler(factory, ready, log)

	// 設定 HTTP 伺服器
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Server.Port),
		Handler:      handler.Routes(),
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("starting server", "port", config.Server.Port, "backend", config.Cache.Backend)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			closeBackend()
			os.Exit(1)
		}

	case sig := <-shutdown:
		log.Info("shutdown signal received", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error("failed to shutdown server", "error", err)
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("failed to force close server", "error", closeErr)
			}
		}
	}

	log.Info("server stopped")
}

// openBackend 依配置連線 Redis 或 PostgreSQL
//
// 返回的 close 函數可重複呼叫，只有第一次會關閉連線。
func openBackend(ctx context.Context, config *internal.Config, log *slog.Logger) (internal.Factory, internal.ReadyFunc, func(), error) {
	switch config.Cache.Backend {
	case internal.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:         config.Redis.Addr,
			Password:     config.Redis.Password,
			DB:           config.Redis.DB,
			PoolSize:     config.Redis.PoolSize,
			MinIdleConns: config.Redis.MinIdleConns,
			MaxRetries:   config.RedisMaxRetries(),
			DialTimeout:  config.Redis.DialTimeout,
			ReadTimeout:  config.Redis.ReadTimeout,
			WriteTimeout: config.Redis.WriteTimeout,
		})

		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, apperrors.ErrRedisUnavailable.Message)
		}

		factory := func(bucket string) (cache.Cache, error) {
			return cache.NewRedisCache(client, bucket, cache.WithLogger(log))
		}
		ready := func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}
		return factory, ready, closeOnce(func() { _ = client.Close() }), nil

	case internal.BackendPostgres:
		dsn := config.PostgresURL()

		m, err := migrations.New(dsn, log)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := m.Up(); err != nil {
			_ = m.Close()
			return nil, nil, nil, err
		}
		if err := m.Close(); err != nil {
			log.Warn("failed to close migrator", "error", err)
		}

		pgConfig, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("parse postgres config: %w", err)
		}
		pgConfig.MaxConns = config.Postgres.MaxConns
		pgConfig.MinConns = config.Postgres.MinConns

		pool, err := pgxpool.NewWithConfig(ctx, pgConfig)
		if err != nil {
			return nil, nil, nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, apperrors.ErrDatabaseUnavailable.Message)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, apperrors.ErrDatabaseUnavailable.Message)
		}

		factory := func(bucket string) (cache.Cache, error) {
			return cache.NewPostgresCache(pool, bucket, cache.WithLogger(log))
		}
		return factory, pool.Ping, closeOnce(pool.Close), nil

	default:
		return nil, nil, nil, apperrors.ErrUnsupportedBackend.WithDetails("backend=" + config.Cache.Backend)
	}
}

func closeOnce(fn func()) func() {
	done := false
	return func() {
		if done {
			return
		}
		done = true
		fn()
	}
}

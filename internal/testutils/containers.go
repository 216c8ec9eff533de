// Package testutils 提供測試用的共用工具和輔助函數
//
// 本套件實作了測試容器（testcontainers）的管理，包括：
//   - Redis 測試容器
//   - PostgreSQL 測試容器（含 cache_entries 遷移）
//   - 記憶體版 Cache mock
//
// 所有測試容器都會在測試結束時自動清理。
package testutils

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/koopa0/system-design/redis-backed-cache/internal/migrations"
)

const (
	redisImage    = "redis:7-alpine"
	postgresImage = "postgres:16-alpine"
)

// TestEnvironment 封裝測試環境
type TestEnvironment struct {
	RedisClient    *redis.Client
	PostgresPool   *pgxpool.Pool
	RedisContainer tc.Container
	PgContainer    tc.Container
	RedisAddr      string
	PostgresURL    string
	Logger         *slog.Logger
	ctx            context.Context
}

// SetupRedis 只啟動 Redis 容器
//
// 使用範例：
//
//	func TestSomething(t *testing.T) {
//	    env := testutils.SetupRedis(t)
//	    c, _ := cache.NewRedisCache(env.RedisClient, "test")
//	}
func SetupRedis(t testing.TB) *TestEnvironment {
	t.Helper()
	skipIfShort(t)

	env := newEnvironment()
	t.Cleanup(env.Cleanup)
	env.setupRedis(t)
	return env
}

// SetupPostgres 只啟動 PostgreSQL 容器並執行遷移
func SetupPostgres(t testing.TB) *TestEnvironment {
	t.Helper()
	skipIfShort(t)

	env := newEnvironment()
	t.Cleanup(env.Cleanup)
	env.setupPostgreSQL(t)
	return env
}

// SetupTestEnvironment 同時啟動 Redis 與 PostgreSQL
func SetupTestEnvironment(t testing.TB) *TestEnvironment {
	t.Helper()
	skipIfShort(t)

	env := newEnvironment()
	t.Cleanup(env.Cleanup)
	env.setupRedis(t)
	env.setupPostgreSQL(t)
	return env
}

func newEnvironment() *TestEnvironment {
	return &TestEnvironment{
		ctx: context.Background(),
		Logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelWarn, // 測試時減少日誌噪音
		})),
	}
}

func skipIfShort(t testing.TB) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in -short mode")
	}
}

// setupRedis 啟動 Redis 測試容器
func (env *TestEnvironment) setupRedis(t testing.TB) {
	t.Helper()

	ctx := env.ctx

	redisContainer, err := tcredis.Run(ctx,
		redisImage,
		tcredis.WithLogLevel(tcredis.LogLevelVerbose),
	)
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	env.RedisContainer = redisContainer

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}
	env.RedisAddr = endpoint

	env.RedisClient = redis.NewClient(&redis.Options{
		Addr:         endpoint,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := env.RedisClient.Ping(pingCtx).Err(); err != nil {
		t.Fatalf("failed to ping redis: %v", err)
	}
}

// setupPostgreSQL 啟動 PostgreSQL 測試容器並執行遷移
func (env *TestEnvironment) setupPostgreSQL(t testing.TB) {
	t.Helper()

	ctx := env.ctx

	pgContainer, err := tcpostgres.Run(ctx,
		postgresImage,
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		tc.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	env.PgContainer = pgContainer

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}
	env.PostgresURL = dsn

	env.runMigrations(t)

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("failed to parse postgres config: %v", err)
	}
	config.MaxConns = 10
	config.MinConns = 1

	env.PostgresPool, err = pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		t.Fatalf("failed to create postgres pool: %v", err)
	}

	if err := env.PostgresPool.Ping(ctx); err != nil {
		t.Fatalf("failed to ping postgres: %v", err)
	}
}

// runMigrations 以正式的遷移檔建立表結構
func (env *TestEnvironment) runMigrations(t testing.TB) {
	t.Helper()

	m, err := migrations.New(env.PostgresURL, env.Logger)
	if err != nil {
		t.Fatalf("failed to create migrator: %v", err)
	}
	defer func() { _ = m.Close() }()

	if err := m.Up(); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
}

// Cleanup 清理測試環境
func (env *TestEnvironment) Cleanup() {
	ctx := context.Background()

	if env.RedisClient != nil {
		_ = env.RedisClient.Close()
		env.RedisClient = nil
	}

	if env.PostgresPool != nil {
		env.PostgresPool.Close()
		env.PostgresPool = nil
	}

	if env.RedisContainer != nil {
		_ = env.RedisContainer.Terminate(ctx)
		env.RedisContainer = nil
	}

	if env.PgContainer != nil {
		_ = env.PgContainer.Terminate(ctx)
		env.PgContainer = nil
	}
}

// FlushRedis 清空 Redis 資料（用於測試之間的清理）
func (env *TestEnvironment) FlushRedis(t testing.TB) {
	t.Helper()

	if err := env.RedisClient.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("failed to flush redis: %v", err)
	}
}

// TruncateEntries 清空 cache_entries 表（用於測試之間的清理）
func (env *TestEnvironment) TruncateEntries(t testing.TB) {
	t.Helper()

	if _, err := env.PostgresPool.Exec(context.Background(), "TRUNCATE TABLE cache_entries"); err != nil {
		t.Fatalf("failed to truncate cache_entries: %v", err)
	}
}

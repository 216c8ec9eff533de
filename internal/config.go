package internal

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/koopa0/system-design/redis-backed-cache/pkg/errors"
)

// 後端類型
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config 整個應用的配置
type Config struct {
	Server struct {
		Port         int           `yaml:"port"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"server"`

	Redis struct {
		Addr         string        `yaml:"addr"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db"`
		PoolSize     int           `yaml:"pool_size"`
		MinIdleConns int           `yaml:"min_idle_conns"`
		MaxRetries   int           `yaml:"max_retries"` // 0 表示不重試，見 RedisMaxRetries
		DialTimeout  time.Duration `yaml:"dial_timeout"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"redis"`

	Postgres struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		DBName   string `yaml:"dbname"`
		MaxConns int32  `yaml:"max_conns"`
		MinConns int32  `yaml:"min_conns"`
	} `yaml:"postgres"`

	NATS struct {
		URL           string `yaml:"url"`            // 空字串表示不發佈變更事件
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`

	Cache struct {
		Backend       string `yaml:"backend"`        // "redis" 或 "postgres"
		DefaultBucket string `yaml:"default_bucket"` // cachectl 未指定 --bucket 時使用
	} `yaml:"cache"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"log"`
}

// DefaultConfig 返回預設配置
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Port = 8080
	cfg.Server.ReadTimeout = 5 * time.Second
	cfg.Server.WriteTimeout = 10 * time.Second

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.PoolSize = 10
	cfg.Redis.MinIdleConns = 2
	cfg.Redis.DialTimeout = 5 * time.Second
	cfg.Redis.ReadTimeout = 3 * time.Second
	cfg.Redis.WriteTimeout = 3 * time.Second

	cfg.Postgres.Host = "localhost"
	cfg.Postgres.Port = 5432
	cfg.Postgres.User = "postgres"
	cfg.Postgres.DBName = "cache"
	cfg.Postgres.MaxConns = 10
	cfg.Postgres.MinConns = 2

	cfg.NATS.SubjectPrefix = "cache"

	cfg.Cache.Backend = BackendRedis
	cfg.Cache.DefaultBucket = "default"

	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	cfg.Log.Output = "stdout"

	return cfg
}

// LoadConfig 載入配置檔案
//
// 檔案中沒寫的欄位沿用 DefaultConfig 的值；path 為空時只使用預設值與環境變數。
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		// #nosec G304 - path 來自命令列參數
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 環境變數覆蓋（容器部署常用）
func (c *Config) applyEnv() {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}
	if backend := os.Getenv("CACHE_BACKEND"); backend != "" {
		c.Cache.Backend = backend
	}
}

// Validate 檢查配置
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case BackendRedis:
		if c.Redis.Addr == "" {
			return apperrors.New(apperrors.ErrCodeInvalidInput, "redis.addr required")
		}
	case BackendPostgres:
		if os.Getenv("DATABASE_URL") == "" && c.Postgres.Host == "" {
			return apperrors.New(apperrors.ErrCodeInvalidInput, "postgres.host required")
		}
	default:
		return apperrors.ErrUnsupportedBackend.WithDetails("backend=" + c.Cache.Backend)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "server.port out of range").
			WithDetails("port=" + strconv.Itoa(c.Server.Port))
	}
	return nil
}

// RedisMaxRetries 返回傳給 go-redis 的 MaxRetries
//
// go-redis 把 0 當成預設的 3 次重試，只有 -1 才停用重試。
// 配置中的 0（以及負數）在這裡轉成 -1，讓每個操作只對 Redis 呼叫一次。
func (c *Config) RedisMaxRetries() int {
	if c.Redis.MaxRetries <= 0 {
		return -1
	}
	return c.Redis.MaxRetries
}

// PostgresURL 生成 PostgreSQL 連線 URL
//
// pgxpool 與 golang-migrate 都接受 postgres:// 形式。
func (c *Config) PostgresURL() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Postgres.User, c.Postgres.Password),
		Host:     net.JoinHostPort(c.Postgres.Host, strconv.Itoa(c.Postgres.Port)),
		Path:     "/" + c.Postgres.DBName,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

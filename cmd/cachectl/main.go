// cachectl 是直接操作 Redis bucket 的命令列工具
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/koopa0/system-design/redis-backed-cache/internal"
	"github.com/koopa0/system-design/redis-backed-cache/internal/cache"
	apperrors "github.com/koopa0/system-design/redis-backed-cache/pkg/errors"
	"github.com/koopa0/system-design/redis-backed-cache/pkg/logger"
)

func main() {
	s := &session{}
	if err := run(context.Background(), s, newRootCmd(s)); err != nil {
		os.Exit(1)
	}
}

// run 執行命令並在結束時關閉連線
//
// 子命令的 RunE 失敗時 cobra 不會執行 PersistentPostRunE，所以關閉放在這裡。
func run(ctx context.Context, s *session, cmd *cobra.Command) (err error) {
	defer func() {
		if closeErr := s.close(); err == nil {
			err = closeErr
		}
	}()
	return cmd.ExecuteContext(ctx)
}

// session 保存一次命令執行所需的連線與 bucket
type session struct {
	configPath string
	addr       string
	bucket     string

	client *redis.Client
	cache  *cache.RedisCache
}

func newRootCmd(s *session) *cobra.Command {
	root := &cobra.Command{
		Use:           "cachectl",
		Short:         "Inspect and modify a Redis-backed cache bucket",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return s.open(cmd.Context())
		},
	}

	root.PersistentFlags().StringVar(&s.configPath, "config", "", "path to YAML config file")
	root.PersistentFlags().StringVar(&s.addr, "addr", "", "redis address, overrides the config file")
	root.PersistentFlags().StringVar(&s.bucket, "bucket", "", "bucket name, defaults to cache.default_bucket")

	root.AddCommand(
		newPutCmd(s),
		newGetCmd(s),
		newDelCmd(s),
		newLenCmd(s),
	)
	return root
}

func (s *session) open(ctx context.Context) error {
	cfg, err := internal.LoadConfig(s.configPath)
	if err != nil {
		return fmt.Errorf("unable to read config: %w", err)
	}
	if s.addr != "" {
		cfg.Redis.Addr = s.addr
	}
	if s.bucket == "" {
		s.bucket = cfg.Cache.DefaultBucket
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, "stderr")
	if err != nil {
		return err
	}

	s.client = redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		MaxRetries:   cfg.RedisMaxRetries(),
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err := s.client.Ping(ctx).Err(); err != nil {
		_ = s.close()
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, apperrors.ErrRedisUnavailable.Message)
	}

	s.cache, err = cache.NewRedisCache(s.client, s.bucket, cache.WithLogger(log))
	if err != nil {
		_ = s.close()
		return err
	}
	return nil
}

func (s *session) close() error {
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func newPutCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <json>",
		Short: "Store a JSON value under key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := []byte(args[1])
			if !json.Valid(raw) {
				return apperrors.New(apperrors.ErrCodeInvalidInput, "value must be valid JSON")
			}
			return s.cache.Put(cmd.Context(), args[0], json.RawMessage(raw))
		},
	}
}

func newGetCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the JSON value stored under key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, found, err := cache.Get[json.RawMessage](cmd.Context(), s.cache, args[0])
			if err != nil {
				return err
			}
			if !found {
				return apperrors.ErrEntryNotFound.WithDetails("bucket=" + s.bucket + " key=" + args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(value))
			return nil
		},
	}
}

func newDelCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "del <key>",
		Short: "Remove key from the bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.cache.Del(cmd.Context(), args[0])
		},
	}
}

func newLenCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "len",
		Short: "Print the number of keys in the bucket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := s.cache.Len(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}

// Package migrations 管理 PostgreSQL 後端的表結構
//
// SQL 檔以 embed 打包進執行檔，啟動時由 cmd/server 呼叫 Up。
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed all:migrations
var migrationsFS embed.FS

// Migrator 管理資料庫遷移
type Migrator struct {
	migrate *migrate.Migrate
	logger  *slog.Logger
}

// New 建立遷移管理器
//
// databaseURL 必須是 postgres:// 形式（golang-migrate 依 scheme 選擇驅動）。
func New(databaseURL string, logger *slog.Logger) (*Migrator, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}

	return &Migrator{
		migrate: m,
		logger:  logger,
	}, nil
}

// Up 執行所有待處理的遷移
//
// 若上次遷移中斷導致 dirty 狀態，先強制回到記錄的版本再重跑。
func (m *Migrator) Up() error {
	version, dirty, err := m.migrate.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read schema version: %w", err)
	}

	if dirty {
		m.logger.Warn("schema is dirty, forcing version", "version", version)
		const maxInt = int(^uint(0) >> 1)
		if version > uint(maxInt) {
			return fmt.Errorf("schema version out of range: %d", version)
		}
		if err := m.migrate.Force(int(version)); err != nil {
			return fmt.Errorf("force schema version: %w", err)
		}
	}

	if err := m.migrate.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Info("schema is up to date", "version", version)
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}

	newVersion, _, _ := m.migrate.Version()
	m.logger.Info("schema migrated", "version", newVersion)
	return nil
}

// Down 回滾一個版本
func (m *Migrator) Down() error {
	if err := m.migrate.Steps(-1); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Info("nothing to roll back")
			return nil
		}
		return fmt.Errorf("roll back migration: %w", err)
	}

	version, _, _ := m.migrate.Version()
	m.logger.Info("schema rolled back", "version", version)
	return nil
}

// Version 獲取當前版本
func (m *Migrator) Version() (uint, bool, error) {
	return m.migrate.Version()
}

// Close 關閉遷移管理器
func (m *Migrator) Close() error {
	sourceErr, dbErr := m.migrate.Close()
	if sourceErr != nil {
		return fmt.Errorf("close migration source: %w", sourceErr)
	}
	if dbErr != nil {
		return fmt.Errorf("close migration database: %w", dbErr)
	}
	return nil
}

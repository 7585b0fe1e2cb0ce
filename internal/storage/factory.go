package storage

import (
	"fmt"

	"github.com/yourname/sleepstreak/internal"
	"github.com/yourname/sleepstreak/internal/config"
)

// New opens the backend selected by cfg.DBType.
func New(cfg *config.Config, logger internal.Logger) (Store, error) {
	switch cfg.DBType {
	case "memory":
		return NewMemoryStorage(), nil
	case "file":
		return NewFileStorage(cfg.FileSessions, cfg.FileUsers, logger)
	case "sqlite":
		return NewSQLiteStorage(cfg.SQLitePath, logger)
	case "postgres":
		if cfg.DBDSN == "" {
			return nil, fmt.Errorf("storage: POSTGRES_DSN is required for postgres")
		}
		return NewPostgresStorage(cfg.DBDSN, logger)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.DBType)
	}
}

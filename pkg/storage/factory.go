package storage

import (
	"context"
	"database/sql"
	"fmt"

	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/sipeed/wabridge/pkg/logger"
)

// DeviceStore owns the database handle and the whatsmeow container built on it.
type DeviceStore struct {
	db        *sql.DB
	dialect   string
	Container *sqlstore.Container
}

// Open creates the device store for cfg.Type and runs the whatsmeow schema upgrade.
// Supported types: "sqlite", "postgres".
func Open(ctx context.Context, cfg Config) (*DeviceStore, error) {
	var (
		db      *sql.DB
		dialect string
		err     error
	)

	switch cfg.Type {
	case "sqlite":
		db, err = openSQLite(cfg.Path)
		dialect = "sqlite"
	case "postgres":
		db, err = openPostgres(cfg)
		dialect = "postgres"
	default:
		return nil, fmt.Errorf("unsupported store type: %s (supported: sqlite, postgres)", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s device store: %w", dialect, err)
	}

	dbLog := waLog.Zerolog(logger.Component("whatsapp-db"))
	container := sqlstore.NewWithDB(db, dialect, dbLog)
	if err := container.Upgrade(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to upgrade whatsmeow database: %w", err)
	}

	logger.InfoCF("storage", "Device store ready", map[string]interface{}{
		"type": cfg.Type,
	})

	return &DeviceStore{db: db, dialect: dialect, Container: container}, nil
}

func (s *DeviceStore) Dialect() string {
	return s.dialect
}

func (s *DeviceStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *DeviceStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Package storage opens the database that backs the whatsmeow device store.
package storage

import (
	"strings"
	"time"

	"github.com/sipeed/wabridge/pkg/config"
)

// Config holds device store configuration for the supported backends.
type Config struct {
	Type         string        // "sqlite" or "postgres"
	Path         string        // sqlite database file
	DatabaseURL  string        // postgres connection string
	SSLEnabled   bool          // adds sslmode=require when the URL does not set sslmode
	MaxIdleConns int           // postgres pool - max idle connections
	MaxOpenConns int           // postgres pool - max open connections
	MaxLifetime  time.Duration // postgres pool - max connection lifetime
}

// DefaultConfig returns pool defaults for the given backend.
func DefaultConfig(storeType string) Config {
	return Config{
		Type:         storeType,
		MaxIdleConns: 2,
		MaxOpenConns: 10,
		MaxLifetime:  5 * time.Minute,
	}
}

func ConfigFromWhatsApp(wa config.WhatsAppConfig) Config {
	storeType := strings.ToLower(strings.TrimSpace(wa.StoreType))
	if storeType == "" {
		storeType = "sqlite"
	}
	cfg := DefaultConfig(storeType)
	cfg.Path = wa.StorePath
	cfg.DatabaseURL = wa.DatabaseURL
	cfg.SSLEnabled = wa.SSLEnabled
	return cfg
}

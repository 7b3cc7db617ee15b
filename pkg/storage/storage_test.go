package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/wabridge/pkg/config"
)

func TestWithSSLMode(t *testing.T) {
	assert.Equal(t, "postgres://h/db?sslmode=disable", withSSLMode("postgres://h/db", false))
	assert.Equal(t, "postgres://h/db?x=1&sslmode=require", withSSLMode("postgres://h/db?x=1", true))
	assert.Equal(t, "postgres://h/db?sslmode=verify-full", withSSLMode("postgres://h/db?sslmode=verify-full", false))
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	assert.Equal(t, filepath.Join(home, "x.db"), expandHome("~/x.db"))
	assert.Equal(t, "/var/x.db", expandHome("/var/x.db"))
}

func TestConfigFromWhatsApp(t *testing.T) {
	cfg := ConfigFromWhatsApp(config.WhatsAppConfig{StoreType: " Postgres ", DatabaseURL: "postgres://h/db", SSLEnabled: true})
	assert.Equal(t, "postgres", cfg.Type)
	assert.True(t, cfg.SSLEnabled)
	assert.Equal(t, 10, cfg.MaxOpenConns)

	assert.Equal(t, "sqlite", ConfigFromWhatsApp(config.WhatsAppConfig{}).Type)
}

func TestOpenRejectsUnknownType(t *testing.T) {
	_, err := Open(context.Background(), Config{Type: "mongo"})
	assert.Error(t, err)
}

func TestOpenPostgresRequiresURL(t *testing.T) {
	_, err := Open(context.Background(), DefaultConfig("postgres"))
	assert.Error(t, err)
}

func TestOpenSQLiteCreatesStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "whatsapp.db")

	store, err := Open(context.Background(), Config{Type: "sqlite", Path: path})
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, "sqlite", store.Dialect())
	assert.NoError(t, store.Ping(context.Background()))
	assert.FileExists(t, path)

	device, err := store.Container.GetFirstDevice(context.Background())
	require.NoError(t, err)
	assert.Nil(t, device.ID)
}

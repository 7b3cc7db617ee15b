package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestDefaultConfigDurations(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 30*time.Second, cfg.HealthInterval())
	assert.Equal(t, 5*time.Minute, cfg.WatchdogInterval())
	assert.Equal(t, 15*time.Minute, cfg.MaxIdle())
	assert.Equal(t, 5*time.Second, cfg.RestartDelay())
	assert.Equal(t, 30*time.Second, cfg.SendTimeout())
	assert.Equal(t, time.Second, cfg.ImagePause())
	assert.Equal(t, "s.whatsapp.net", cfg.WhatsApp.UserServer)
}

func TestZeroDurationsFallBackToDefaults(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, 30*time.Second, cfg.HealthInterval())
	assert.Equal(t, 15*time.Minute, cfg.MaxIdle())
	assert.Equal(t, time.Second, cfg.ImagePause())

	cfg.Supervisor.ImagePauseMillis = -1
	assert.Equal(t, time.Duration(0), cfg.ImagePause())
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, 4002, cfg.Server.Port)
}

func TestLoadConfigFromFileKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server":{"port":9000},"webhooks":{"message_url":"http://hooks/in"}}`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "http://hooks/in", cfg.Webhooks.MessageURL)
	assert.Equal(t, 30, cfg.Supervisor.SendTimeoutSeconds)
}

func TestLoadConfigRejectsBrokenJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server":`), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestEnvOverridesHonorLegacyNames(t *testing.T) {
	t.Setenv("ONMESSAGE", "http://hooks/message")
	t.Setenv("ONDOWN", "http://hooks/down")
	t.Setenv("TOKENACCESS", "s3cret")
	t.Setenv("PORT", "8080")
	t.Setenv("WABRIDGE_RECOVERY_PROCESS_PATTERNS", "media-worker, ffmpeg ,")

	cfg := DefaultConfig()
	changed := applyEnvOverrides(cfg)

	assert.True(t, changed)
	assert.Equal(t, "http://hooks/message", cfg.Webhooks.MessageURL)
	assert.Equal(t, "http://hooks/down", cfg.Webhooks.DownURL)
	assert.Equal(t, "s3cret", cfg.Server.AccessToken)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"media-worker", "ffmpeg"}, cfg.Recovery.ProcessPatterns)
}

func TestEnvOverridesPrefixedNameWins(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("WABRIDGE_PORT", "9090")
	t.Setenv("WABRIDGE_PRINT_QR", "not-a-bool")

	cfg := DefaultConfig()
	applyEnvOverrides(cfg)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.WhatsApp.PrintQR)
}

func TestSecretMaskMap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.AccessToken = "abcdefghij"
	cfg.WhatsApp.DatabaseURL = "postgres://wa:hunter2@db:5432/wa?sslmode=disable"

	masked := SecretMaskMap(cfg)
	assert.Equal(t, "*****fghij", masked["server.access_token"])
	assert.Equal(t, "postgres://wa:***@db:5432/wa?sslmode=disable", masked["whatsapp.database_url"])
	_, ok := masked["broker.url"]
	assert.False(t, ok)
}

func TestEnsureAccessTokenKeepsConfiguredValue(t *testing.T) {
	keyring.MockInit()
	cfg := DefaultConfig()
	cfg.Server.AccessToken = "configured"

	token, generated, err := cfg.EnsureAccessToken()
	require.NoError(t, err)
	assert.Equal(t, "configured", token)
	assert.False(t, generated)
}

func TestEnsureAccessTokenGeneratesAndReusesKeyringValue(t *testing.T) {
	keyring.MockInit()
	t.Setenv("HOME", t.TempDir())

	first := DefaultConfig()
	token, generated, err := first.EnsureAccessToken()
	require.NoError(t, err)
	assert.True(t, generated)
	assert.NotEmpty(t, token)

	second := DefaultConfig()
	again, generated, err := second.EnsureAccessToken()
	require.NoError(t, err)
	assert.False(t, generated)
	assert.Equal(t, token, again)
}

func TestEnsureAccessTokenFallsBackToFile(t *testing.T) {
	keyring.MockInitWithError(errors.New("no keyring"))
	defer keyring.MockInit()
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := DefaultConfig()
	token, generated, err := cfg.EnsureAccessToken()
	require.NoError(t, err)
	assert.True(t, generated)

	data, err := os.ReadFile(filepath.Join(home, ".wabridge", ".access-token"))
	require.NoError(t, err)
	assert.Equal(t, token, string(data))

	reloaded := DefaultConfig()
	again, generated, err := reloaded.EnsureAccessToken()
	require.NoError(t, err)
	assert.False(t, generated)
	assert.Equal(t, token, again)
}

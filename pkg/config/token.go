package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	keyringService  = "wabridge"
	keyringTokenKey = "api-access-token"
)

// EnsureAccessToken makes sure the HTTP API has a bearer token. Resolution order:
// configured value, system keyring, fallback file, freshly generated token. A generated
// token is stored in the keyring, or in the fallback file when no keyring is available.
// The second return value reports whether a new token was generated.
func (c *Config) EnsureAccessToken() (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if token := strings.TrimSpace(c.Server.AccessToken); token != "" {
		return token, false, nil
	}

	if token, err := keyring.Get(keyringService, keyringTokenKey); err == nil && strings.TrimSpace(token) != "" {
		c.Server.AccessToken = token
		return token, false, nil
	}

	// Headless hosts usually have no keyring daemon.
	if token, err := loadTokenFromFallbackFile(); err == nil {
		c.Server.AccessToken = token
		return token, false, nil
	}

	token, err := generateToken(24)
	if err != nil {
		return "", false, err
	}

	if setErr := keyring.Set(keyringService, keyringTokenKey, token); setErr != nil {
		if err := saveTokenToFallbackFile(token); err != nil {
			return "", false, err
		}
	}

	c.Server.AccessToken = token
	return token, true, nil
}

func generateToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func fallbackTokenPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wabridge", ".access-token")
}

func loadTokenFromFallbackFile() (string, error) {
	data, err := os.ReadFile(fallbackTokenPath())
	if err != nil {
		return "", err
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", errors.New("fallback access token file is empty")
	}
	return token, nil
}

func saveTokenToFallbackFile(token string) error {
	path := fallbackTokenPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(token), 0600)
}

package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type Config struct {
	Server      ServerConfig      `json:"server"`
	Webhooks    WebhookConfig     `json:"webhooks"`
	WhatsApp    WhatsAppConfig    `json:"whatsapp"`
	Supervisor  SupervisorConfig  `json:"supervisor"`
	Recovery    RecoveryConfig    `json:"recovery"`
	Calls       CallConfig        `json:"calls"`
	Broker      BrokerConfig      `json:"broker"`
	Maintenance MaintenanceConfig `json:"maintenance"`
	Log         LogConfig         `json:"log"`

	mu sync.RWMutex
}

type ServerConfig struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	AccessToken string `json:"access_token"`
}

// WebhookConfig holds the two independently configured outbound endpoints.
type WebhookConfig struct {
	MessageURL     string `json:"message_url"`
	DownURL        string `json:"down_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type WhatsAppConfig struct {
	StoreType    string `json:"store_type"` // "sqlite" or "postgres"
	StorePath    string `json:"store_path"`
	DatabaseURL  string `json:"database_url"`
	SSLEnabled   bool   `json:"ssl_enabled"`
	UserServer   string `json:"user_server"`
	PrintQR      bool   `json:"print_qr"`
	MediaTimeout int    `json:"media_timeout_seconds"`
}

type SupervisorConfig struct {
	HealthIntervalSeconds   int `json:"health_interval_seconds"`
	WatchdogIntervalSeconds int `json:"watchdog_interval_seconds"`
	MaxIdleSeconds          int `json:"max_idle_seconds"`
	RestartDelaySeconds     int `json:"restart_delay_seconds"`
	SendTimeoutSeconds      int `json:"send_timeout_seconds"`
	ImagePauseMillis        int `json:"image_pause_millis"`
}

// RecoveryConfig describes what lock cleanup touches on the local machine.
type RecoveryConfig struct {
	ProcessPatterns []string `json:"process_patterns"`
	LockFile        string   `json:"lock_file"`
}

type CallConfig struct {
	DeclineText string `json:"decline_text"`
	RelayText   string `json:"relay_text"` // formatted with the caller id
}

type BrokerConfig struct {
	URL      string `json:"url"`
	Exchange string `json:"exchange"`
}

type MaintenanceConfig struct {
	MemorySchedule string `json:"memory_schedule"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Pretty bool   `json:"pretty"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 4002,
		},
		Webhooks: WebhookConfig{
			TimeoutSeconds: 15,
		},
		WhatsApp: WhatsAppConfig{
			StoreType:    "sqlite",
			StorePath:    filepath.Join(home, ".wabridge", "whatsapp.db"),
			UserServer:   "s.whatsapp.net",
			PrintQR:      true,
			MediaTimeout: 30,
		},
		Supervisor: SupervisorConfig{
			HealthIntervalSeconds:   30,
			WatchdogIntervalSeconds: 5 * 60,
			MaxIdleSeconds:          15 * 60,
			RestartDelaySeconds:     5,
			SendTimeoutSeconds:      30,
			ImagePauseMillis:        1000,
		},
		Recovery: RecoveryConfig{
			// Client processes to kill during lock cleanup; none run out of process by default.
			LockFile: filepath.Join(home, ".wabridge", "session", "SingletonLock"),
		},
		Calls: CallConfig{
			DeclineText: "Calls cannot be received on this number",
			RelayText:   "Call declined from number: %s",
		},
		Broker: BrokerConfig{
			Exchange: "wabridge.events",
		},
		Maintenance: MaintenanceConfig{
			MemorySchedule: "*/30 * * * *",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadConfig reads the JSON file at path when it exists, then applies environment
// overrides. A missing file is not an error: defaults plus environment are enough to run.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		loaded, err := LoadConfigFromFile(path)
		switch {
		case err == nil:
			cfg = loaded
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, err
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func (c *Config) HealthInterval() time.Duration {
	return seconds(c.Supervisor.HealthIntervalSeconds, 30)
}

func (c *Config) WatchdogInterval() time.Duration {
	return seconds(c.Supervisor.WatchdogIntervalSeconds, 5*60)
}

func (c *Config) MaxIdle() time.Duration {
	return seconds(c.Supervisor.MaxIdleSeconds, 15*60)
}

func (c *Config) RestartDelay() time.Duration {
	return seconds(c.Supervisor.RestartDelaySeconds, 5)
}

func (c *Config) SendTimeout() time.Duration {
	return seconds(c.Supervisor.SendTimeoutSeconds, 30)
}

func (c *Config) ImagePause() time.Duration {
	if c.Supervisor.ImagePauseMillis < 0 {
		return 0
	}
	if c.Supervisor.ImagePauseMillis == 0 {
		return time.Second
	}
	return time.Duration(c.Supervisor.ImagePauseMillis) * time.Millisecond
}

func (c *Config) WebhookTimeout() time.Duration {
	return seconds(c.Webhooks.TimeoutSeconds, 15)
}

func (c *Config) MediaTimeout() time.Duration {
	return seconds(c.WhatsApp.MediaTimeout, 30)
}

func seconds(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Second
}

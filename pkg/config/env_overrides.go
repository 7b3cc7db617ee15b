package config

import (
	"os"
	"strconv"
	"strings"
)

// applyEnvOverrides applies selected runtime environment variables into config.
// It returns true when any value changed. The unprefixed names (ONMESSAGE, ONDOWN,
// TOKENACCESS, PORT) are kept for deployments that already export them.
func applyEnvOverrides(cfg *Config) bool {
	if cfg == nil {
		return false
	}

	changed := false

	setString := func(dst *string, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		if *dst != value {
			*dst = value
			changed = true
		}
	}
	setInt := func(dst *int, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return
		}
		if *dst != parsed {
			*dst = parsed
			changed = true
		}
	}
	setBool := func(dst *bool, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return
		}
		if *dst != parsed {
			*dst = parsed
			changed = true
		}
	}
	setList := func(dst *[]string, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		var parts []string
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		*dst = parts
		changed = true
	}

	env := func(keys ...string) string {
		for _, key := range keys {
			if value := strings.TrimSpace(os.Getenv(key)); value != "" {
				return value
			}
		}
		return ""
	}

	setString(&cfg.Server.Host, env("WABRIDGE_HOST"))
	setInt(&cfg.Server.Port, env("WABRIDGE_PORT", "PORT"))
	setString(&cfg.Server.AccessToken, env("WABRIDGE_ACCESS_TOKEN", "TOKENACCESS"))

	setString(&cfg.Webhooks.MessageURL, env("WABRIDGE_WEBHOOK_MESSAGE_URL", "ONMESSAGE"))
	setString(&cfg.Webhooks.DownURL, env("WABRIDGE_WEBHOOK_DOWN_URL", "ONDOWN"))
	setInt(&cfg.Webhooks.TimeoutSeconds, env("WABRIDGE_WEBHOOK_TIMEOUT_SECONDS"))

	setString(&cfg.WhatsApp.StoreType, env("WABRIDGE_STORE_TYPE"))
	setString(&cfg.WhatsApp.StorePath, env("WABRIDGE_STORE_PATH"))
	setString(&cfg.WhatsApp.DatabaseURL, env("WABRIDGE_STORE_DATABASE_URL", "DATABASE_URL"))
	setBool(&cfg.WhatsApp.SSLEnabled, env("WABRIDGE_STORE_SSL_ENABLED"))
	setBool(&cfg.WhatsApp.PrintQR, env("WABRIDGE_PRINT_QR"))

	setInt(&cfg.Supervisor.HealthIntervalSeconds, env("WABRIDGE_HEALTH_INTERVAL_SECONDS"))
	setInt(&cfg.Supervisor.WatchdogIntervalSeconds, env("WABRIDGE_WATCHDOG_INTERVAL_SECONDS"))
	setInt(&cfg.Supervisor.MaxIdleSeconds, env("WABRIDGE_MAX_IDLE_SECONDS"))
	setInt(&cfg.Supervisor.SendTimeoutSeconds, env("WABRIDGE_SEND_TIMEOUT_SECONDS"))

	setList(&cfg.Recovery.ProcessPatterns, env("WABRIDGE_RECOVERY_PROCESS_PATTERNS"))
	setString(&cfg.Recovery.LockFile, env("WABRIDGE_RECOVERY_LOCK_FILE"))

	setString(&cfg.Calls.DeclineText, env("WABRIDGE_CALL_DECLINE_TEXT"))

	setString(&cfg.Broker.URL, env("WABRIDGE_BROKER_URL", "RABBITMQ_URL"))
	setString(&cfg.Broker.Exchange, env("WABRIDGE_BROKER_EXCHANGE"))

	setString(&cfg.Maintenance.MemorySchedule, env("WABRIDGE_MEMORY_SCHEDULE"))

	setString(&cfg.Log.Level, env("WABRIDGE_LOG_LEVEL"))
	setBool(&cfg.Log.Pretty, env("WABRIDGE_LOG_PRETTY"))

	return changed
}

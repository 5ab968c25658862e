package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config captures all runtime configuration for the sms router.
type Config struct {
	App     AppConfig
	Router  RouterConfig
	Gateway GatewayConfig
	Storage StorageConfig
	Kafka   KafkaConfig
	Retry   RetryConfig
}

// AppConfig contains generic application level settings.
type AppConfig struct {
	Env      string
	Port     int
	LogLevel string
}

// RouterConfig describes the handler chain.
type RouterConfig struct {
	// Handlers is the ordered list of handler names resolved through
	// the registry at startup. Unknown names fail startup.
	Handlers []string
}

// GatewayConfig points at the carrier gateway. An empty URL is not an
// error: outbound messages are queued instead of delivered, matching
// the delivery client's soft-failure contract.
type GatewayConfig struct {
	URL            string
	TimeoutSeconds int
}

// StorageConfig selects the message store backend.
type StorageConfig struct {
	// Driver is "sqlite" or "memory".
	Driver string
	// DSN is the sqlite database path (ignored for memory).
	DSN string
}

// KafkaConfig enables the optional lifecycle event stream and the Kafka
// inbound transport. Leaving Brokers empty disables both.
type KafkaConfig struct {
	Brokers     []string
	EventsTopic string
	IngestTopic string
	IngestGroup string
}

// RetryConfig tunes the queued-message redelivery worker.
type RetryConfig struct {
	PollIntervalSeconds int
	Concurrency         int
}

// Load reads environment variables, applies defaults, validates
// required values and returns a populated Config instance.
func Load() (*Config, error) {
	_ = godotenv.Load()

	ldr := &envLoader{}

	cfg := &Config{}
	cfg.App.Env = ldr.getString("APP_ENV", "development", false)
	cfg.App.Port = ldr.getInt("APP_PORT", 8080, false)
	cfg.App.LogLevel = ldr.getString("LOG_LEVEL", "info", false)

	cfg.Router.Handlers = ldr.getStringSlice("ROUTER_HANDLERS", true)

	cfg.Gateway.URL = ldr.getString("GATEWAY_URL", "", false)
	cfg.Gateway.TimeoutSeconds = ldr.getInt("GATEWAY_TIMEOUT_SECONDS", 30, false)

	cfg.Storage.Driver = strings.ToLower(ldr.getString("STORE_DRIVER", "sqlite", false))
	cfg.Storage.DSN = ldr.getString("SQLITE_DSN", "router.db", false)

	cfg.Kafka.Brokers = ldr.getStringSlice("KAFKA_BROKERS", false)
	cfg.Kafka.EventsTopic = ldr.getString("KAFKA_EVENTS_TOPIC", "sms-router-events", false)
	cfg.Kafka.IngestTopic = ldr.getString("KAFKA_INGEST_TOPIC", "", false)
	cfg.Kafka.IngestGroup = ldr.getString("KAFKA_INGEST_GROUP", "sms-router-ingest", false)

	cfg.Retry.PollIntervalSeconds = ldr.getInt("RETRY_POLL_INTERVAL_SECONDS", 60, false)
	cfg.Retry.Concurrency = ldr.getInt("RETRY_CONCURRENCY", 4, false)

	if cfg.Storage.Driver != "sqlite" && cfg.Storage.Driver != "memory" {
		ldr.addError(fmt.Sprintf("STORE_DRIVER must be sqlite or memory, got %q", cfg.Storage.Driver))
	}
	if cfg.Retry.Concurrency < 1 {
		ldr.addError("RETRY_CONCURRENCY must be >= 1")
	}

	if err := ldr.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

type envLoader struct {
	errs []string
}

func (l *envLoader) validate() error {
	if len(l.errs) == 0 {
		return nil
	}
	return fmt.Errorf("config validation failed: %s", strings.Join(l.errs, "; "))
}

func (l *envLoader) getString(key, def string, required bool) string {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val == "" {
			if required {
				l.addError(fmt.Sprintf("%s is required", key))
			}
			return def
		}
		return val
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return def
}

func (l *envLoader) getInt(key string, def int, required bool) int {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val == "" {
			if required {
				l.addError(fmt.Sprintf("%s is required", key))
			}
			return def
		}
		i, err := strconv.Atoi(val)
		if err != nil {
			l.addError(fmt.Sprintf("%s must be a valid integer", key))
			return def
		}
		return i
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return def
}

func (l *envLoader) getStringSlice(key string, required bool) []string {
	raw := l.getString(key, "", required)
	if raw == "" {
		if required {
			return nil
		}
		return []string{}
	}
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if required && len(out) == 0 {
		l.addError(fmt.Sprintf("%s must contain at least one entry", key))
	}
	return out
}

func (l *envLoader) addError(err string) {
	l.errs = append(l.errs, err)
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"ENV"`
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	TxIsolation       string        `mapstructure:"TX_ISOLATION"`
	OperationTimeout  time.Duration `mapstructure:"OPERATION_TIMEOUT"`
	DefaultSite       string        `mapstructure:"DEFAULT_SITE"`
	AuthIssuer        string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience      string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey    string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthPublicKeyFile string        `mapstructure:"AUTH_PUBLIC_KEY_FILE"`
	CORSOrigins       []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS      float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int           `mapstructure:"RATE_LIMIT_BURST"`
	RedisURL          string        `mapstructure:"REDIS_URL"`
	KafkaBrokers      []string      `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic        string        `mapstructure:"KAFKA_TOPIC"`
	TestCatalogPath   string        `mapstructure:"TEST_CATALOG_PATH"`
	SearchLimit       int           `mapstructure:"SEARCH_LIMIT"`
	BodyLimit         string        `mapstructure:"BODY_LIMIT"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "TX_ISOLATION", "OPERATION_TIMEOUT",
	"DEFAULT_SITE",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY", "AUTH_PUBLIC_KEY_FILE",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REDIS_URL",
	"KAFKA_BROKERS", "KAFKA_TOPIC",
	"TEST_CATALOG_PATH", "SEARCH_LIMIT", "BODY_LIMIT",
}

var validIsolation = map[string]bool{
	"read_committed": true, "repeatable_read": true, "serializable": true,
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("TX_ISOLATION", "read_committed")
	v.SetDefault("OPERATION_TIMEOUT", "10s")
	v.SetDefault("DEFAULT_SITE", "default")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("KAFKA_TOPIC", "lims.lifecycle")
	v.SetDefault("SEARCH_LIMIT", 10)
	v.SetDefault("BODY_LIMIT", "1M")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// A missing .env file is fine; the environment still applies.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Comma-separated env values arrive as a single element.
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(v.GetString("KAFKA_BROKERS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// EventsEnabled reports whether lifecycle events should go to Kafka.
func (c *Config) EventsEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// Validate rejects configurations that are unsafe or that would fail later.
func (c *Config) Validate() error {
	if !validIsolation[strings.ToLower(c.TxIsolation)] {
		return fmt.Errorf("TX_ISOLATION must be read_committed, repeatable_read or serializable, got %q", c.TxIsolation)
	}
	if !c.IsDev() && c.AuthSigningKey == "" && c.AuthPublicKeyFile == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY or AUTH_PUBLIC_KEY_FILE must be set when ENV=%q", c.Env)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.OperationTimeout <= 0 {
		return fmt.Errorf("OPERATION_TIMEOUT must be positive")
	}
	if c.SearchLimit <= 0 {
		return fmt.Errorf("SEARCH_LIMIT must be positive")
	}
	if c.EventsEnabled() && c.KafkaTopic == "" {
		return fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
}

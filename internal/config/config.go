package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds everything both binaries read from the environment.
type Config struct {
	Port string

	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string

	AMQPURL string

	// MasterAPIKey gates the inbound dispatch trigger and authenticates
	// outbound calls to the record/credential endpoints.
	MasterAPIKey   string
	GatewayBaseURL string

	// ProviderPrefixes maps the first character of an agendamento id to a
	// provider name. This is a routing convention, not core logic, so it
	// stays configurable.
	ProviderPrefixes map[string]string

	SchedulerPollInterval time.Duration
}

// DefaultPrefixes is the conventional agendamento-id routing table.
var DefaultPrefixes = map[string]string{
	"C": "CDA",
	"G": "GOSAC",
	"N": "NOAH",
	"R": "RCS",
	"S": "SALESFORCE",
}

func Load() *Config {
	cfg := &Config{
		Port:                  getEnv("PORT", "8080"),
		DBUser:                os.Getenv("DB_USER"),
		DBPassword:            os.Getenv("DB_PASSWORD"),
		DBHost:                getEnv("DB_HOST", "localhost"),
		DBPort:                getEnv("DB_PORT", "5432"),
		DBName:                os.Getenv("DB_NAME"),
		AMQPURL:               os.Getenv("AMQP_URL"),
		MasterAPIKey:          os.Getenv("MASTER_API_KEY"),
		GatewayBaseURL:        os.Getenv("GATEWAY_BASE_URL"),
		ProviderPrefixes:      parsePrefixes(os.Getenv("PROVIDER_PREFIXES")),
		SchedulerPollInterval: 5 * time.Second,
	}

	if v := os.Getenv("SCHEDULER_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SchedulerPollInterval = d
		}
	}

	return cfg
}

// DSN builds the postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName,
	)
}

// parsePrefixes reads "C:CDA,G:GOSAC" style overrides, falling back to the
// default table when unset or malformed.
func parsePrefixes(raw string) map[string]string {
	if raw == "" {
		return DefaultPrefixes
	}

	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		out[strings.ToUpper(parts[0])] = strings.ToUpper(parts[1])
	}
	if len(out) == 0 {
		return DefaultPrefixes
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port string

	// Content backend the relay forwards to
	BackendURL     string
	BackendTimeout time.Duration

	// Relay as seen by the terminal client
	RelayURL  string
	ListLimit int
	ListSort  string

	// Requests per minute per client IP on POST /auth/login
	LoginRateLimit int

	// AMQP (optional for the relay, required for the worker)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Activity journal
	SQLiteDBPath string
	DedupeTTL    time.Duration

	LogLevel string
}

func Load() *Config {
	cfg := &Config{
		Port: getEnv("PORT", "3001"),

		BackendURL:     getEnv("BACKEND_URL", getEnv("PAYLOAD_URL", "http://localhost:3000")),
		BackendTimeout: getEnvDuration("BACKEND_TIMEOUT", 10*time.Second),

		RelayURL:  getEnv("RELAY_URL", "http://localhost:3001"),
		ListLimit: getEnvInt("LIST_LIMIT", 100),
		ListSort:  getEnv("LIST_SORT", "-createdAt"),

		LoginRateLimit: getEnvInt("LOGIN_RATE_LIMIT", 10),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "budget"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "expense_activity"),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/activity.db"),
		DedupeTTL:    getEnvDuration("DEDUPE_TTL", 10*time.Minute),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	errors = append(errors, validateHTTPURL("backend URL", c.BackendURL)...)
	errors = append(errors, validateHTTPURL("relay URL", c.RelayURL)...)

	if c.BackendTimeout < 100*time.Millisecond {
		errors = append(errors, fmt.Sprintf("invalid backend timeout %v: must be at least 100ms", c.BackendTimeout))
	} else if c.BackendTimeout > 2*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid backend timeout %v: must be at most 2 minutes", c.BackendTimeout))
	}

	if c.ListLimit < 1 || c.ListLimit > 1000 {
		errors = append(errors, fmt.Sprintf("invalid list limit %d: must be between 1 and 1000", c.ListLimit))
	}
	if strings.TrimSpace(c.ListSort) == "" {
		errors = append(errors, "list sort cannot be empty")
	}

	if c.LoginRateLimit < 1 {
		errors = append(errors, fmt.Sprintf("invalid login rate limit %d: must be at least 1", c.LoginRateLimit))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.DedupeTTL < time.Second {
		errors = append(errors, fmt.Sprintf("invalid dedupe TTL %v: must be at least 1 second", c.DedupeTTL))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// ValidateWorker checks the extra settings the journal worker needs.
func (c *Config) ValidateWorker() error {
	if err := c.Validate(); err != nil {
		return err
	}

	var errors []string
	if c.AMQPURL == "" {
		errors = append(errors, "AMQP URL is required for the worker")
	}
	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0755); err != nil {
				errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
			}
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func validateHTTPURL(name, raw string) []string {
	if raw == "" {
		return []string{name + " cannot be empty"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return []string{fmt.Sprintf("invalid %s '%s': %v", name, raw, err)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return []string{fmt.Sprintf("invalid %s scheme '%s': must be 'http' or 'https'", name, u.Scheme)}
	}
	if u.Host == "" {
		return []string{fmt.Sprintf("invalid %s '%s': missing host", name, raw)}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// Package config reads service settings from the environment, optionally
// preloaded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Dashboard struct {
	Port string

	DirectoryURL     string
	DirectoryTimeout time.Duration

	DateLayout   string
	DateLocation *time.Location

	CircuitBreakerEnabled     bool
	CircuitBreakerMaxFailures int
	CircuitBreakerTimeout     time.Duration

	// KafkaBrokers is comma-separated; empty disables event publishing.
	KafkaBrokers string

	LogLevel logrus.Level
}

type Mock struct {
	Port string

	// DBHost empty selects the seeded in-memory store.
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	LogLevel logrus.Level
}

// LoadDotEnv reads path into the environment without overriding variables
// already set. A missing file is not an error.
func LoadDotEnv(path string, logger *logrus.Logger) {
	if err := godotenv.Load(path); err != nil {
		if !os.IsNotExist(err) {
			logger.WithError(err).WithField("path", path).Warn("Failed to load env file")
		}
		return
	}
	logger.WithField("path", path).Info("Loaded env file")
}

func DashboardFromEnv() (Dashboard, error) {
	var cfg Dashboard
	var err error

	cfg.Port = getEnv("DASHBOARD_PORT", "8080")
	cfg.DirectoryURL = getEnv("DIRECTORY_API_URL", "http://localhost:8000/api")
	cfg.DateLayout = getEnv("DATE_LAYOUT", "1/2/2006")
	cfg.KafkaBrokers = getEnv("KAFKA_BROKERS", "")

	if cfg.DirectoryTimeout, err = getDuration("DIRECTORY_TIMEOUT", 10*time.Second); err != nil {
		return cfg, err
	}
	if cfg.DateLocation, err = time.LoadLocation(getEnv("DATE_LOCATION", "Local")); err != nil {
		return cfg, fmt.Errorf("DATE_LOCATION: %w", err)
	}
	if cfg.CircuitBreakerEnabled, err = getBool("CIRCUIT_BREAKER_ENABLED", true); err != nil {
		return cfg, err
	}
	if cfg.CircuitBreakerMaxFailures, err = getInt("CIRCUIT_BREAKER_MAX_FAILURES", 5); err != nil {
		return cfg, err
	}
	if cfg.CircuitBreakerTimeout, err = getDuration("CIRCUIT_BREAKER_TIMEOUT", 30*time.Second); err != nil {
		return cfg, err
	}
	if cfg.LogLevel, err = logrus.ParseLevel(getEnv("LOG_LEVEL", "info")); err != nil {
		return cfg, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	return cfg, nil
}

func MockFromEnv() (Mock, error) {
	cfg := Mock{
		Port:       getEnv("MOCK_PORT", "8000"),
		DBHost:     getEnv("DB_HOST", ""),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "directory"),
		DBPassword: getEnv("DB_PASSWORD", "directory"),
		DBName:     getEnv("DB_NAME", "directory"),
	}

	level, err := logrus.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return cfg, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	cfg.LogLevel = level
	return cfg, nil
}

// DSN returns a lib/pq connection string.
func (m Mock) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		m.DBHost, m.DBPort, m.DBUser, m.DBPassword, m.DBName)
}

func (m Mock) UsePostgres() bool {
	return m.DBHost != ""
}

func (d Dashboard) KafkaEnabled() bool {
	return strings.TrimSpace(d.KafkaBrokers) != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative", key)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

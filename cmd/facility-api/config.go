package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/drfirst/go-facilityops/internal/api/middleware"
)

// Config holds application configuration
type Config struct {
	Port     string
	LogLevel string
	// DatabaseURL enables the audit outbox and the intake inbox when set
	DatabaseURL string
	// KafkaBrokers enables the kiosk intake consumer when non-empty
	KafkaBrokers  []string
	CORSOrigins   []string
	IntakeWorkers int
}

func loadConfig() (Config, error) {
	return configFrom(os.Getenv)
}

func configFrom(getenv func(string) string) (Config, error) {
	cfg := Config{
		Port:          getenv("PORT"),
		LogLevel:      getenv("LOG_LEVEL"),
		DatabaseURL:   getenv("DATABASE_URL"),
		CORSOrigins:   middleware.ParseOrigins(getenv("CORS_ALLOWED_ORIGINS")),
		IntakeWorkers: 4,
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}

	for _, b := range strings.Split(getenv("KAFKA_BROKERS"), ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
		}
	}

	if v := getenv("INTAKE_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, fmt.Errorf("INTAKE_WORKERS must be a positive integer, got %q", v)
		}
		cfg.IntakeWorkers = n
	}

	return cfg, nil
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = lvl
	return zc.Build()
}

var errIntakeSaturated = errors.New("intake queue nearly full")

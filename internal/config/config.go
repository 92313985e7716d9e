// Package config loads runtime configuration: defaults, then an optional
// YAML file, then environment variables, each layer overriding the last.
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// App holds the runtime configuration.
type App struct {
	Env             string        `yaml:"env"`
	HTTPPort        string        `yaml:"http_port"`
	DataFile        string        `yaml:"data_file"`
	RedisAddr       string        `yaml:"redis_addr"`
	QueueBackend    string        `yaml:"queue_backend"`
	JWTIssuer       string        `yaml:"jwt_issuer"`
	JWTSigningKey   string        `yaml:"jwt_signing_key"`
	AccessTTL       time.Duration `yaml:"access_ttl"`
	RefreshTTL      time.Duration `yaml:"refresh_ttl"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`
}

// Load returns application config. When CONFIG_FILE points at a YAML file its
// values replace the defaults before environment variables are applied.
func Load() App {
	cfg := App{
		Env:             "dev",
		HTTPPort:        "8081",
		DataFile:        "college_data.xlsx",
		RedisAddr:       "localhost:6379",
		QueueBackend:    "memory",
		JWTIssuer:       "rollcall",
		JWTSigningKey:   "dev-signing-secret-change",
		AccessTTL:       15 * time.Minute,
		RefreshTTL:      24 * time.Hour,
		RateLimitPerMin: 120,
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("config file %s unreadable: %v, using defaults", path, err)
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Printf("config file %s invalid: %v, using defaults", path, err)
		}
	}

	cfg.Env = getEnv("APP_ENV", cfg.Env)
	cfg.HTTPPort = getEnv("HTTP_PORT", cfg.HTTPPort)
	cfg.DataFile = getEnv("DATA_FILE", cfg.DataFile)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.QueueBackend = getEnv("QUEUE_BACKEND", cfg.QueueBackend)
	cfg.JWTIssuer = getEnv("JWT_ISSUER", cfg.JWTIssuer)
	cfg.JWTSigningKey = getEnv("JWT_SIGNING_KEY", cfg.JWTSigningKey)
	cfg.AccessTTL = durationEnv("ACCESS_TTL", cfg.AccessTTL)
	cfg.RefreshTTL = durationEnv("REFRESH_TTL", cfg.RefreshTTL)
	cfg.RateLimitPerMin = intEnv("RATE_LIMIT_PER_MIN", cfg.RateLimitPerMin)
	return cfg
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			log.Printf("invalid duration for %s: %v, using fallback %s", key, err, fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
		log.Printf("invalid int for %s, using fallback %d", key, fallback)
	}
	return fallback
}

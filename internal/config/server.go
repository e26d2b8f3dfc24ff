package config

import (
	"os"
	"strconv"
	"strings"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging is the staging/pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

// ServerConfig holds verification-server configuration loaded from
// environment variables.
type ServerConfig struct {
	Environment Environment
	Port        int
	DatabaseURL string
	RedisURL    string
	RateLimit   string // ulule/limiter format, e.g. "60-M"
	TrialTTL    int    // trial-status cache TTL in seconds
	// RetentionDays controls how long device state reports are kept.
	RetentionDays int
	LogPretty     bool // console writer instead of JSON logs
}

// LoadServerConfig reads server configuration from environment variables.
func LoadServerConfig() ServerConfig {
	env := Environment(os.Getenv("ENV"))
	switch env {
	case EnvDevelopment, EnvStaging, EnvProduction:
		// valid
	default:
		env = EnvDevelopment
	}

	port := getEnvInt("PORT", 8080)
	if port <= 0 || port > 65535 {
		port = 8080
	}

	rateLimit := os.Getenv("RATE_LIMIT")
	if rateLimit == "" {
		rateLimit = "60-M"
	}

	trialTTL := getEnvInt("TRIAL_CACHE_TTL", 300)
	if trialTTL < 0 {
		trialTTL = 300
	}

	retentionDays := getEnvInt("RETENTION_DAYS", 90)
	if retentionDays <= 0 {
		retentionDays = 90
	}

	return ServerConfig{
		Environment:   env,
		Port:          port,
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		RateLimit:     rateLimit,
		TrialTTL:      trialTTL,
		RetentionDays: retentionDays,
		LogPretty:     getEnvBool("LOG_PRETTY", env == EnvDevelopment),
	}
}

// getEnvBool reads a boolean from an environment variable, returning the default if unset or invalid.
func getEnvBool(key string, defaultVal bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultVal
	}
}

// getEnvInt reads an integer from an environment variable, returning the default if unset or invalid.
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	DB     DBConfig
	Redis  RedisConfig
	Server ServerConfig
	Auth   AuthConfig
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type ServerConfig struct {
	Port        string
	Production  bool
	FrontendURL string
}

type AuthConfig struct {
	// Secret feeds both the stored-secret encryption key and the signed
	// role-hint cookie.
	Secret string

	ChallengeTTL      time.Duration
	PendingSessionTTL time.Duration
	WebSessionIdleTTL time.Duration
	WebSessionMaxTTL  time.Duration
	APISessionTTL     time.Duration
	DeviceTrustTTL    time.Duration

	FailureWindow    time.Duration
	IPThreshold      int
	AccountThreshold int
	LockoutThreshold int
	LockoutDuration  time.Duration

	StoreTimeout     time.Duration
	CleanupInterval  time.Duration
	FailureRetention time.Duration
}

func Load() *Config {
	return &Config{
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "reelvault"),
			Password: getEnv("DB_PASSWORD", "reelvault_secret"),
			Name:     getEnv("DB_NAME", "reelvault"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Server: ServerConfig{
			Port:        getEnv("SERVER_PORT", "8080"),
			Production:  getEnvAsBool("PRODUCTION", false),
			FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3001"),
		},
		Auth: AuthConfig{
			Secret:            getEnv("AUTH_SECRET", "change-me-in-production"),
			ChallengeTTL:      getEnvAsDuration("AUTH_CHALLENGE_TTL", 5*time.Minute),
			PendingSessionTTL: getEnvAsDuration("AUTH_PENDING_SESSION_TTL", 10*time.Minute),
			WebSessionIdleTTL: getEnvAsDuration("AUTH_WEB_SESSION_IDLE_TTL", 24*time.Hour),
			WebSessionMaxTTL:  getEnvAsDuration("AUTH_WEB_SESSION_MAX_TTL", 14*24*time.Hour),
			APISessionTTL:     getEnvAsDuration("AUTH_API_SESSION_TTL", 1*time.Hour),
			DeviceTrustTTL:    getEnvAsDuration("AUTH_DEVICE_TRUST_TTL", 30*24*time.Hour),
			FailureWindow:     getEnvAsDuration("AUTH_FAILURE_WINDOW", 15*time.Minute),
			IPThreshold:       getEnvAsInt("AUTH_IP_THRESHOLD", 5),
			AccountThreshold:  getEnvAsInt("AUTH_ACCOUNT_THRESHOLD", 5),
			LockoutThreshold:  getEnvAsInt("AUTH_LOCKOUT_THRESHOLD", 10),
			LockoutDuration:   getEnvAsDuration("AUTH_LOCKOUT_DURATION", 30*time.Minute),
			StoreTimeout:      getEnvAsDuration("AUTH_STORE_TIMEOUT", 3*time.Second),
			CleanupInterval:   getEnvAsDuration("AUTH_CLEANUP_INTERVAL", 10*time.Minute),
			FailureRetention:  getEnvAsDuration("AUTH_FAILURE_RETENTION", 24*time.Hour),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

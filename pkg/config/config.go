// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds server configuration. Required fields fail Load if unset;
// everything else has a documented default.
type Config struct {
	Port     string
	LogLevel string

	DatabaseURL  string
	RedisURL     string
	BaseURL      string
	IssuerURL    string
	MasterKeyB64 string // required; see pkg/kms

	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration
	AuthCodeTTL       time.Duration
	ProviderStateTTL  time.Duration
	SessionIdleTTL    time.Duration
	ProviderHTTPTTL   time.Duration
	SamplingTimeout   time.Duration
	NotificationDepth int

	CORSOrigins []string

	// ProviderCredentials holds client id/secret pairs for outbound
	// provider OAuth, keyed by provider name (e.g. "strava").
	ProviderCredentials map[string]ProviderCredential
}

// ProviderCredential is the server's own OAuth client registration with a
// fitness provider (Strava, Garmin, ...), not to be confused with a
// per-tenant-user provider credential stored in pkg/credentials.
type ProviderCredential struct {
	ClientID     string
	ClientSecret string
}

// requiredEnv are environment variables whose absence fails startup.
var requiredEnv = []string{"PIERRE_MASTER_KEY", "DATABASE_URL", "BASE_URL"}

// Load reads configuration from the environment. It returns an error
// (rather than panicking) so callers can log and exit cleanly.
func Load() (*Config, error) {
	var missing []string
	for _, name := range requiredEnv {
		if os.Getenv(name) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("config: missing required environment variables: %s", strings.Join(missing, ", "))
	}

	cfg := &Config{
		Port:         getEnvDefault("PORT", "8080"),
		LogLevel:     getEnvDefault("LOG_LEVEL", "INFO"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     getEnvDefault("REDIS_URL", ""),
		BaseURL:      os.Getenv("BASE_URL"),
		IssuerURL:    getEnvDefault("ISSUER_URL", os.Getenv("BASE_URL")),
		MasterKeyB64: os.Getenv("PIERRE_MASTER_KEY"),

		AccessTokenTTL:    getEnvDuration("ACCESS_TOKEN_TTL", time.Hour),
		RefreshTokenTTL:   getEnvDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),
		AuthCodeTTL:       getEnvDuration("AUTH_CODE_TTL", 10*time.Minute),
		ProviderStateTTL:  getEnvDuration("PROVIDER_STATE_TTL", 10*time.Minute),
		SessionIdleTTL:    getEnvDuration("SESSION_IDLE_TTL", 24*time.Hour),
		ProviderHTTPTTL:   getEnvDuration("PROVIDER_HTTP_TIMEOUT", 30*time.Second),
		SamplingTimeout:   getEnvDuration("SAMPLING_TIMEOUT", 30*time.Second),
		NotificationDepth: getEnvInt("NOTIFICATION_QUEUE_DEPTH", 256),

		ProviderCredentials: make(map[string]ProviderCredential),
	}

	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			cfg.CORSOrigins = append(cfg.CORSOrigins, strings.TrimSpace(o))
		}
	}

	for _, provider := range []string{"STRAVA", "GARMIN", "FITBIT", "WHOOP", "COROS", "TERRA"} {
		id := os.Getenv(provider + "_CLIENT_ID")
		secret := os.Getenv(provider + "_CLIENT_SECRET")
		if id == "" && secret == "" {
			continue
		}
		cfg.ProviderCredentials[strings.ToLower(provider)] = ProviderCredential{ClientID: id, ClientSecret: secret}
	}

	return cfg, nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

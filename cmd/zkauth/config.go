package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/layer-3/zkauth/adapters/store"
	"github.com/layer-3/zkauth/core"
	"github.com/layer-3/zkauth/service"
)

// Fallback session stores
const (
	FallbackMemory   = "memory"
	FallbackRedis    = "redis"
	FallbackPostgres = "postgres"
)

// Config is the agent configuration, read from the environment
type Config struct {
	HTTPAddr   string
	LogLevel   string
	Production bool
	// Origin is the browser-facing URL websocket clients connect from
	Origin string
	// CookieSecret is the key material session cookies are signed and
	// encrypted with
	CookieSecret string

	SuiRPCURL     string
	ProverURL     string
	ProverTimeout time.Duration
	ProverRPS     int
	ProofCacheTTL time.Duration

	Session        service.SessionConfig
	Monitor        service.MonitorConfig
	MaxEpochWindow uint64
	GasBudget      uint64

	SaltSeed string
	OAuth    service.OAuthConfig

	FallbackStore string
	RedisURL      string
	DatabaseURL   string

	// WalletKey is optional key material for a conventional wallet
	WalletKey string
}

func loadEnvFiles() {
	// Variables already set in the environment win.
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")
}

// LoadConfig reads the configuration from the environment with defaults
func LoadConfig() Config {
	session := service.DefaultSessionConfig()
	monitor := service.DefaultMonitorConfig()

	return Config{
		HTTPAddr:   EnvString("ZKAUTH_HTTP_ADDR", "127.0.0.1:8080"),
		LogLevel:   EnvString("ZKAUTH_LOG_LEVEL", "info"),
		Production: EnvBool("ZKAUTH_PRODUCTION", false),
		Origin:     EnvString("ZKAUTH_ORIGIN", "http://localhost:8080"),

		CookieSecret: EnvString("ZKAUTH_COOKIE_SECRET", ""),

		SuiRPCURL:     EnvString("ZKAUTH_SUI_RPC_URL", "https://fullnode.devnet.sui.io:443"),
		ProverURL:     EnvString("ZKAUTH_PROVER_URL", "https://prover-dev.mystenlabs.com/v1"),
		ProverTimeout: EnvDuration("ZKAUTH_PROVER_TIMEOUT", 30*time.Second),
		ProverRPS:     EnvInt("ZKAUTH_PROVER_RPS", 2),
		ProofCacheTTL: EnvDuration("ZKAUTH_PROOF_CACHE_TTL", service.DefaultProofTTL),

		Session: service.SessionConfig{
			MaxAge:           EnvDuration("ZKAUTH_SESSION_MAX_AGE", session.MaxAge),
			Grace:            EnvDuration("ZKAUTH_SESSION_GRACE", session.Grace),
			RefreshThreshold: EnvDuration("ZKAUTH_SESSION_REFRESH_THRESHOLD", session.RefreshThreshold),
		},
		Monitor: service.MonitorConfig{
			Interval:     EnvDuration("ZKAUTH_MONITOR_INTERVAL", monitor.Interval),
			ActiveWindow: EnvDuration("ZKAUTH_MONITOR_ACTIVE_WINDOW", monitor.ActiveWindow),
			WarnBefore:   EnvDuration("ZKAUTH_MONITOR_WARN_BEFORE", monitor.WarnBefore),
		},
		MaxEpochWindow: uint64(EnvInt("ZKAUTH_MAX_EPOCH_WINDOW", 2)),
		GasBudget:      uint64(EnvInt("ZKAUTH_GAS_BUDGET", 50_000_000)),

		SaltSeed: EnvString("ZKAUTH_SALT_SEED", ""),
		OAuth: service.OAuthConfig{
			ClientID:    EnvString("ZKAUTH_OAUTH_CLIENT_ID", ""),
			RedirectURL: EnvString("ZKAUTH_OAUTH_REDIRECT_URL", "http://localhost:8080/callback"),
			AuthURL:     EnvString("ZKAUTH_OAUTH_AUTH_URL", "https://accounts.google.com/o/oauth2/v2/auth"),
		},

		FallbackStore: strings.ToLower(EnvString("ZKAUTH_FALLBACK_STORE", FallbackMemory)),
		RedisURL:      EnvString("REDIS_URL", ""),
		DatabaseURL:   EnvString("DATABASE_URL", ""),

		WalletKey: EnvString("ZKAUTH_WALLET_KEY", ""),
	}
}

// Validate rejects inconsistent settings
func (c Config) Validate() error {
	u, err := url.Parse(c.Origin)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: ZKAUTH_ORIGIN %q is not a URL", core.ErrInvalidConfig, c.Origin)
	}
	if c.Production && u.Scheme != "https" {
		return fmt.Errorf("%w: secure cookies need an https ZKAUTH_ORIGIN", core.ErrInvalidConfig)
	}
	if c.SaltSeed == "" {
		return fmt.Errorf("%w: ZKAUTH_SALT_SEED is required", core.ErrInvalidConfig)
	}
	if len(c.CookieSecret) < store.MinCookieSecretLen {
		return fmt.Errorf("%w: ZKAUTH_COOKIE_SECRET must be at least %d bytes", core.ErrInvalidConfig, store.MinCookieSecretLen)
	}
	if c.OAuth.ClientID == "" {
		return fmt.Errorf("%w: ZKAUTH_OAUTH_CLIENT_ID is required", core.ErrInvalidConfig)
	}

	switch c.FallbackStore {
	case FallbackMemory:
	case FallbackRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("%w: redis fallback needs REDIS_URL", core.ErrInvalidConfig)
		}
	case FallbackPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: postgres fallback needs DATABASE_URL", core.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown fallback store %q", core.ErrInvalidConfig, c.FallbackStore)
	}

	if c.Session.Grace >= c.Session.MaxAge {
		return fmt.Errorf("%w: session grace must be shorter than the session max age", core.ErrInvalidConfig)
	}
	return nil
}

// OriginHost returns the host websocket clients may connect from
func (c Config) OriginHost() string {
	u, err := url.Parse(c.Origin)
	if err != nil {
		return ""
	}
	return u.Host
}

func EnvString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func EnvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// EnvInt parses a positive integer, falling back to def
func EnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func EnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

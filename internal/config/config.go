// Package config loads the server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"

	"github.com/geeky-vaiiib/BankEase/internal/money"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	devJWTSecret = "dev-secret-change-in-production"
)

type Config struct {
	Port        string
	Env         string
	StoreDriver string
	DBPath      string
	DatabaseURL string

	JWTSecret  string
	JWTTTL     time.Duration
	BcryptCost int

	StartingBalance money.Amount
	MinTransfer     money.Amount

	KafkaBrokers []string
	KafkaTopic   string

	RedisAddr       string
	AuthRateLimit   int
	AuthRateWindow  time.Duration
	APIRateLimit    int
	APIRateWindow   time.Duration
	CORSOrigins     []string
	TrustProxy      bool
	ShutdownTimeout time.Duration
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load(files ...string) (*Config, error) {
	// Try loading .env file (it might not exist in Production, which is fine)
	if err := godotenv.Load(files...); err != nil {
		slog.Debug("No .env file loaded, relying on environment variables", "error", err)
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup, applying defaults and validating.
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	get := func(key, fallback string) string {
		if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
		return fallback
	}

	var errs []error

	cfg := &Config{
		Port:        get("PORT", "5001"),
		Env:         strings.ToLower(get("ENV", EnvDevelopment)),
		StoreDriver: strings.ToLower(get("STORE_DRIVER", DriverSQLite)),
		DBPath:      get("DB_PATH", "bankease.db"),
		DatabaseURL: get("DATABASE_URL", ""),
		JWTSecret:   get("JWT_SECRET", ""),
		RedisAddr:   get("REDIS_ADDR", ""),
		KafkaTopic:  get("KAFKA_TOPIC", "bankease.transfers"),
	}

	cfg.JWTTTL = parseDuration(get("JWT_TTL", "168h"), "JWT_TTL", &errs)
	cfg.AuthRateWindow = parseDuration(get("AUTH_RATE_WINDOW", "15m"), "AUTH_RATE_WINDOW", &errs)
	cfg.APIRateWindow = parseDuration(get("API_RATE_WINDOW", "15m"), "API_RATE_WINDOW", &errs)
	cfg.ShutdownTimeout = parseDuration(get("SHUTDOWN_TIMEOUT", "10s"), "SHUTDOWN_TIMEOUT", &errs)
	cfg.BcryptCost = parseInt(get("BCRYPT_COST", strconv.Itoa(bcrypt.DefaultCost)), "BCRYPT_COST", &errs)
	cfg.AuthRateLimit = parseInt(get("AUTH_RATE_LIMIT", "5"), "AUTH_RATE_LIMIT", &errs)
	cfg.APIRateLimit = parseInt(get("API_RATE_LIMIT", "100"), "API_RATE_LIMIT", &errs)
	cfg.StartingBalance = parseAmount(get("STARTING_BALANCE", "1000.00"), "STARTING_BALANCE", &errs)
	cfg.MinTransfer = parseAmount(get("MIN_TRANSFER", "0.01"), "MIN_TRANSFER", &errs)

	if v := get("TRUST_PROXY", "false"); v != "" {
		trust, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("TRUST_PROXY: %w", err))
		}
		cfg.TrustProxy = trust
	}

	cfg.CORSOrigins = splitList(get("CORS_ORIGINS", ""))
	cfg.KafkaBrokers = splitList(get("KAFKA_BROKERS", ""))

	if cfg.JWTSecret == "" {
		if cfg.Env == EnvProduction {
			errs = append(errs, errors.New("JWT_SECRET is required in production"))
		} else {
			cfg.JWTSecret = devJWTSecret
		}
	}

	if err := cfg.validate(); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return ":" + c.Port
}

func (c *Config) validate() error {
	var errs []error

	switch c.StoreDriver {
	case DriverMemory:
	case DriverSQLite:
		if c.DBPath == "" {
			errs = append(errs, errors.New("DB_PATH is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be memory, sqlite or postgres, got %q", c.StoreDriver))
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be a valid port number, got %q", c.Port))
	}
	if c.JWTTTL <= 0 {
		errs = append(errs, errors.New("JWT_TTL must be positive"))
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
	}
	if c.StartingBalance < 0 {
		errs = append(errs, errors.New("STARTING_BALANCE must not be negative"))
	}
	if c.MinTransfer <= 0 {
		errs = append(errs, errors.New("MIN_TRANSFER must be positive"))
	}
	if c.RedisAddr != "" && (c.AuthRateLimit <= 0 || c.AuthRateWindow <= 0) {
		errs = append(errs, errors.New("AUTH_RATE_LIMIT and AUTH_RATE_WINDOW must be positive"))
	}
	if c.RedisAddr != "" && (c.APIRateLimit <= 0 || c.APIRateWindow <= 0) {
		errs = append(errs, errors.New("API_RATE_LIMIT and API_RATE_WINDOW must be positive"))
	}

	return errors.Join(errs...)
}

func splitList(value string) []string {
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func parseDuration(value, key string, errs *[]error) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
	}
	return d
}

func parseInt(value, key string, errs *[]error) int {
	n, err := strconv.Atoi(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
	}
	return n
}

func parseAmount(value, key string, errs *[]error) money.Amount {
	a, err := money.Parse(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
	}
	return a
}

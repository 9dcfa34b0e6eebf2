package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Store drivers.
const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server    ServerConfig
	JWT       JWTConfig
	Store     StoreConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Stream    StreamConfig
	RateLimit RateLimitConfig
	SeedDemo  bool
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
}

// JWTConfig holds session token settings. Tokens are issued by the login
// service; this process only verifies them.
type JWTConfig struct {
	Secret string //nolint:gosec // G117: JWT signing secret config
}

// StoreConfig selects where board documents and the user directory live.
type StoreConfig struct {
	Driver    string
	DataDir   string
	UsersFile string
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string //nolint:gosec // G117: DB connection config
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings. An empty Addr disables
// cross-instance fan-out.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

// Enabled reports whether the Redis relay should be used.
func (c *RedisConfig) Enabled() bool { return c.Addr != "" }

// StreamConfig tunes live event streams.
type StreamConfig struct {
	Heartbeat time.Duration
	Buffer    int
}

// RateLimitConfig sets the per-user token bucket for REST calls.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// Load reads configuration from environment variables.
// Defaults are safe for local development only. In production,
// sensitive values (JWT secret, DB password) must be set explicitly.
func Load() (*Config, error) {
	dbPort, err := getEnvInt("BOARDSYNC_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dbMaxConns, err := getEnvInt("BOARDSYNC_DB_MAX_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisDB, err := getEnvInt("BOARDSYNC_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readTimeout, err := getEnvDuration("BOARDSYNC_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	writeTimeout, err := getEnvDuration("BOARDSYNC_SERVER_WRITE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	heartbeat, err := getEnvDuration("BOARDSYNC_STREAM_HEARTBEAT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	buffer, err := getEnvInt("BOARDSYNC_STREAM_BUFFER", 32)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rps, err := getEnvFloat("BOARDSYNC_RATE_LIMIT_RPS", 20)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	burst, err := getEnvInt("BOARDSYNC_RATE_LIMIT_BURST", 40)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	seedDemo, err := getEnvBool("BOARDSYNC_SEED_DEMO", false)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	corsOrigins := getEnvList("BOARDSYNC_CORS_ORIGINS", []string{"http://localhost:3000"})

	cfg := &Config{
		Server: ServerConfig{
			Addr:         getEnv("BOARDSYNC_SERVER_ADDR", ":8080"),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			CORSOrigins:  corsOrigins,
		},
		JWT: JWTConfig{
			Secret: getEnv("BOARDSYNC_JWT_SECRET", ""),
		},
		Store: StoreConfig{
			Driver:    getEnv("BOARDSYNC_STORE_DRIVER", DriverFile),
			DataDir:   getEnv("BOARDSYNC_DATA_DIR", "data/boards"),
			UsersFile: getEnv("BOARDSYNC_USERS_FILE", "data/users.json"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("BOARDSYNC_DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("BOARDSYNC_DB_USER", "boardsync"),
			Password: getEnv("BOARDSYNC_DB_PASSWORD", ""),
			DBName:   getEnv("BOARDSYNC_DB_NAME", "boardsync_dev"),
			SSLMode:  getEnv("BOARDSYNC_DB_SSLMODE", "disable"),
			MaxConns: dbMaxConns,
		},
		Redis: RedisConfig{
			Addr:     getEnv("BOARDSYNC_REDIS_ADDR", ""),
			Password: getEnv("BOARDSYNC_REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Stream: StreamConfig{
			Heartbeat: heartbeat,
			Buffer:    buffer,
		},
		RateLimit: RateLimitConfig{
			RPS:   rps,
			Burst: burst,
		},
		SeedDemo: seedDemo,
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	// JWT secret is required (no insecure default).
	if c.JWT.Secret == "" {
		return errors.New("BOARDSYNC_JWT_SECRET is required")
	}
	if len(c.JWT.Secret) < 32 {
		return errors.New("BOARDSYNC_JWT_SECRET must be at least 32 characters")
	}

	switch c.Store.Driver {
	case DriverFile:
		if c.Store.DataDir == "" {
			return errors.New("BOARDSYNC_DATA_DIR must not be empty")
		}
	case DriverPostgres:
		if c.Database.SSLMode == "disable" {
			log.Warn().Msg("BOARDSYNC_DB_SSLMODE=disable is insecure for production; set to 'require' or 'verify-full'")
		}
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("BOARDSYNC_DB_PORT must be 1-65535, got %d", c.Database.Port)
		}
		if c.Database.MaxConns < 1 {
			return fmt.Errorf("BOARDSYNC_DB_MAX_CONNS must be >= 1, got %d", c.Database.MaxConns)
		}
	default:
		return fmt.Errorf("BOARDSYNC_STORE_DRIVER must be %q or %q, got %q", DriverFile, DriverPostgres, c.Store.Driver)
	}

	// Bounds checks.
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("BOARDSYNC_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("BOARDSYNC_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}
	if c.Stream.Heartbeat <= 0 {
		return fmt.Errorf("BOARDSYNC_STREAM_HEARTBEAT must be positive, got %s", c.Stream.Heartbeat)
	}
	if c.Stream.Buffer < 1 {
		return fmt.Errorf("BOARDSYNC_STREAM_BUFFER must be >= 1, got %d", c.Stream.Buffer)
	}
	if c.RateLimit.RPS <= 0 {
		return fmt.Errorf("BOARDSYNC_RATE_LIMIT_RPS must be positive, got %g", c.RateLimit.RPS)
	}
	if c.RateLimit.Burst < 1 {
		return fmt.Errorf("BOARDSYNC_RATE_LIMIT_BURST must be >= 1, got %d", c.RateLimit.Burst)
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q as bool: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

package config

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

type Config struct {
	Port          string
	DatabaseURL   string
	RedisURL      string
	RedisToken    string
	AllowOrigins  []string
	JWTSecret     string
	JWKSURL       string
	CredentialKey []byte
	CookieSecure  bool

	AuthRateLimit int
	APIRateLimit  int
	RateWindow    time.Duration
}

func Load() (*Config, error) {
	key, err := parseKey(getEnv("CREDENTIAL_KEY", ""))
	if err != nil {
		return nil, err
	}

	return &Config{
		Port:          getEnv("PORT", "8080"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisURL:      getEnv("REDIS_URL", ""),
		RedisToken:    getEnv("REDIS_TOKEN", ""),
		AllowOrigins:  parseOrigins(getEnv("ALLOWED_ORIGINS", ""), getEnv("FRONTEND_URL", "http://localhost:3000")),
		JWTSecret:     getEnv("JWT_SECRET", ""),
		JWKSURL:       getEnv("JWKS_URL", ""),
		CredentialKey: key,
		CookieSecure:  getEnvBool("COOKIE_SECURE", false),
		AuthRateLimit: getEnvInt("RATE_LIMIT_AUTH", 5),
		APIRateLimit:  getEnvInt("RATE_LIMIT_API", 60),
		RateWindow:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
	}, nil
}

// parseOrigins accepts a comma-separated list and falls back to the single
// frontend URL. CORS origins must not carry trailing slashes.
func parseOrigins(list, frontendURL string) []string {
	var origins []string
	for _, origin := range strings.Split(list, ",") {
		origin = strings.TrimSuffix(strings.TrimSpace(origin), "/")
		if origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		origins = []string{strings.TrimSuffix(frontendURL, "/")}
	}
	return origins
}

func parseKey(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid CREDENTIAL_KEY: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid CREDENTIAL_KEY: want 32 bytes, got %d", len(key))
	}
	return key, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return defaultValue
}

// ConnectPostgres pings the database with exponential backoff for up to
// maxWait. A malformed URL fails at once.
func ConnectPostgres(ctx context.Context, databaseURL string, maxWait time.Duration) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	backoff := retry.WithMaxDuration(maxWait, retry.NewExponential(250*time.Millisecond))
	if err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	}); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

func NewRedisClient(redisURL, token string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	if token != "" {
		opts.Password = token
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

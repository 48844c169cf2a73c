package config

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "REDIS_URL", "ALLOWED_ORIGINS", "FRONTEND_URL", "CREDENTIAL_KEY", "RATE_LIMIT_AUTH", "RATE_LIMIT_API", "RATE_LIMIT_WINDOW"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, 5, cfg.AuthRateLimit)
	require.Equal(t, 60, cfg.APIRateLimit)
	require.Equal(t, time.Minute, cfg.RateWindow)
	require.Equal(t, []string{"http://localhost:3000"}, cfg.AllowOrigins)
	require.Nil(t, cfg.CredentialKey)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com/, https://b.example.com")
	t.Setenv("RATE_LIMIT_AUTH", "10")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("CREDENTIAL_KEY", strings.Repeat("ab", 32))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowOrigins)
	require.Equal(t, 10, cfg.AuthRateLimit)
	require.Equal(t, 30*time.Second, cfg.RateWindow)
	require.Len(t, cfg.CredentialKey, 32)
}

func TestLoad_BadCredentialKey(t *testing.T) {
	t.Setenv("CREDENTIAL_KEY", "abcd")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("CREDENTIAL_KEY", "not-hex")
	_, err = Load()
	require.Error(t, err)
}

func TestConnectPostgres_BadURLFailsFast(t *testing.T) {
	start := time.Now()
	_, err := ConnectPostgres(context.Background(), "postgres://%zz", time.Minute)
	require.ErrorContains(t, err, "failed to parse database URL")
	require.Less(t, time.Since(start), time.Second)
}

func TestConnectPostgres_GivesUpAfterMaxWait(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := ConnectPostgres(ctx, "postgres://u:p@127.0.0.1:1/db?connect_timeout=1", 300*time.Millisecond)
	require.ErrorContains(t, err, "failed to ping database")
}

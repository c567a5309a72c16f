package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/httpauth")
	t.Setenv("SESSION_SECRET", strings.Repeat("s", 32))
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "development", cfg.Environment)
	require.Equal(t, "8080", cfg.HTTPPort)
	require.Equal(t, BackendPostgres, cfg.OptionsBackend)
	require.Equal(t, "http_authentication_options", cfg.OptionsKey)
	require.Equal(t, 30*time.Second, cfg.OptionsCacheTTL)
	require.Equal(t, "X-Remote-User", cfg.RemoteUserHeader)
	require.Equal(t, "X-Redirect-Remote-User", cfg.RedirectRemoteUserHeader)
	require.Equal(t, "subscriber", cfg.DefaultRole)
	require.Empty(t, cfg.RedisAddr)
	require.Empty(t, cfg.TrustedProxies)
	require.False(t, cfg.TrustAllPeers)
	require.Equal(t, 1.0, cfg.TelemetrySampleRatio)
	require.True(t, cfg.IsDevelopment())
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("APP_ENV", " Production ")
	t.Setenv("SITE_URL", "https://site.example/")
	t.Setenv("OPTIONS_BACKEND", "BADGER")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, ,127.0.0.1")
	t.Setenv("SESSION_TTL", "2h")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "production", cfg.Environment)
	require.Equal(t, "https://site.example", cfg.SiteURL)
	require.Equal(t, BackendBadger, cfg.OptionsBackend)
	require.Equal(t, []string{"10.0.0.0/8", "127.0.0.1"}, cfg.TrustedProxies)
	require.Equal(t, 2*time.Hour, cfg.SessionTTL)
	require.False(t, cfg.IsDevelopment())
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SESSION_SECRET", strings.Repeat("s", 32))

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsShortSecret(t *testing.T) {
	setRequired(t)
	t.Setenv("SESSION_SECRET", "short")

	_, err := Load()
	require.ErrorContains(t, err, "SESSION_SECRET")
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	setRequired(t)
	t.Setenv("OPTIONS_BACKEND", "etcd")

	_, err := Load()
	require.ErrorContains(t, err, "OPTIONS_BACKEND")
}

func TestLoadTrustAllPeersOnlyInDevelopment(t *testing.T) {
	setRequired(t)
	t.Setenv("TRUST_ALL_PEERS", "true")

	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.TrustAllPeers)

	t.Setenv("APP_ENV", "production")
	_, err = Load()
	require.ErrorContains(t, err, "TRUST_ALL_PEERS")
}

func TestSanitizeClampsValues(t *testing.T) {
	cfg := Config{RateLimitRPM: -1, SessionTTL: -time.Second, TelemetrySampleRatio: 3}
	cfg.Sanitize()
	require.Equal(t, 1.0, cfg.TelemetrySampleRatio)
	require.Equal(t, 60, cfg.RateLimitRPM)
	require.Equal(t, 12*time.Hour, cfg.SessionTTL)
	require.Equal(t, BackendPostgres, cfg.OptionsBackend)
	require.Equal(t, "subscriber", cfg.DefaultRole)
}

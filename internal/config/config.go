package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Options persistence backends.
const (
	BackendPostgres = "postgres"
	BackendBadger   = "badger"
)

// Config contains runtime configuration values.
type Config struct {
	Environment string `env:"APP_ENV" envDefault:"development"`
	HTTPPort    string `env:"HTTP_PORT" envDefault:"8080"`
	SiteURL     string `env:"SITE_URL" envDefault:"http://localhost:8080"`
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	OptionsBackend  string        `env:"OPTIONS_BACKEND" envDefault:"postgres"`
	OptionsKey      string        `env:"OPTIONS_KEY" envDefault:"http_authentication_options"`
	BadgerDir       string        `env:"BADGER_DIR" envDefault:"data/options"`
	RedisAddr       string        `env:"REDIS_ADDR"`
	RedisPassword   string        `env:"REDIS_PASSWORD"`
	RedisDB         int           `env:"REDIS_DB" envDefault:"0"`
	OptionsCacheTTL time.Duration `env:"OPTIONS_CACHE_TTL" envDefault:"30s"`

	SessionSecret string        `env:"SESSION_SECRET,required,notEmpty"`
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"12h"`
	CookieSecure  bool          `env:"COOKIE_SECURE" envDefault:"true"`

	RemoteUserHeader         string   `env:"IDENTITY_HEADER_REMOTE_USER" envDefault:"X-Remote-User"`
	RedirectRemoteUserHeader string   `env:"IDENTITY_HEADER_REDIRECT_REMOTE_USER" envDefault:"X-Redirect-Remote-User"`
	TrustedProxies           []string `env:"TRUSTED_PROXIES" envSeparator:","`
	TrustAllPeers            bool     `env:"TRUST_ALL_PEERS" envDefault:"false"`

	DefaultRole  string `env:"DEFAULT_ROLE" envDefault:"subscriber"`
	AdminLogin   string `env:"ADMIN_LOGIN"`
	RateLimitRPM int    `env:"RATE_LIMIT_RPM" envDefault:"60"`

	ServiceName       string `env:"SERVICE_NAME" envDefault:"httpauth"`
	TelemetryEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	TelemetryInsecure bool   `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`

	TelemetrySampleRatio float64 `env:"OTEL_TRACES_SAMPLE_RATIO" envDefault:"1"`
}

// Load reads configuration from the environment, after applying a .env file
// when one exists.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, fmt.Errorf("load .env file: %w", err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Sanitize normalizes values and clamps out-of-range settings to defaults.
func (c *Config) Sanitize() {
	c.Environment = strings.ToLower(strings.TrimSpace(c.Environment))
	c.SiteURL = strings.TrimRight(strings.TrimSpace(c.SiteURL), "/")
	c.OptionsBackend = strings.ToLower(strings.TrimSpace(c.OptionsBackend))
	if c.OptionsBackend == "" {
		c.OptionsBackend = BackendPostgres
	}
	if strings.TrimSpace(c.OptionsKey) == "" {
		c.OptionsKey = "http_authentication_options"
	}
	if c.OptionsCacheTTL <= 0 {
		c.OptionsCacheTTL = 30 * time.Second
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 12 * time.Hour
	}
	if c.RateLimitRPM <= 0 {
		c.RateLimitRPM = 60
	}
	if strings.TrimSpace(c.DefaultRole) == "" {
		c.DefaultRole = "subscriber"
	}
	c.AdminLogin = strings.TrimSpace(c.AdminLogin)
	c.TelemetrySampleRatio = min(max(c.TelemetrySampleRatio, 0), 1)

	proxies := c.TrustedProxies[:0]
	for _, p := range c.TrustedProxies {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			proxies = append(proxies, trimmed)
		}
	}
	c.TrustedProxies = proxies
}

// Validate reports settings the service cannot start with.
func (c Config) Validate() error {
	switch c.OptionsBackend {
	case BackendPostgres, BackendBadger:
	default:
		return fmt.Errorf("OPTIONS_BACKEND must be %q or %q, got %q", BackendPostgres, BackendBadger, c.OptionsBackend)
	}
	if len(c.SessionSecret) < 32 {
		return errors.New("SESSION_SECRET must be at least 32 bytes")
	}
	if c.SiteURL == "" {
		return errors.New("SITE_URL is required")
	}
	if c.TrustAllPeers && !c.IsDevelopment() {
		return errors.New("TRUST_ALL_PEERS is only allowed in development; set TRUSTED_PROXIES instead")
	}
	return nil
}

// IsDevelopment reports whether the service runs in development mode.
func (c Config) IsDevelopment() bool {
	return c.Environment == "development"
}

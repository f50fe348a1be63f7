package config

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/exagonbr/Portal-sub023/internal/token"
	"github.com/kelseyhightower/envconfig"
)

// minSecretLength is the shortest accepted HS256 secret, in bytes
const minSecretLength = 32

// Config holds all application configuration
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`
	Env  string `envconfig:"ENV" default:"development"`

	// Database configuration
	Database DatabaseConfig

	// Redis configuration
	RedisURL string `envconfig:"REDIS_URL" required:"true"`

	// JWT configuration
	JWT JWTConfig

	// Verification cache configuration
	Cache CacheConfig

	// Authorization gate configuration
	Gate GateConfig

	// Auth cookie configuration
	Cookie CookieConfig

	// CORS configuration
	CORS CORSConfig

	// Rate limiting configuration
	RateLimit RateLimitConfig
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string `envconfig:"DB_HOST" required:"true"`
	Port     int    `envconfig:"DB_PORT" default:"5432"`
	User     string `envconfig:"DB_USER" required:"true"`
	Password string `envconfig:"DB_PASSWORD" required:"true"`
	Name     string `envconfig:"DB_NAME" required:"true"`
	SSLMode  string `envconfig:"DB_SSL_MODE" default:"require"`
}

// ConnectionString returns the PostgreSQL connection string
func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

// JWTConfig holds the two token families. Each family signs with its current
// key and also accepts the listed previous keys during rotation.
type JWTConfig struct {
	SecretKey           string        `envconfig:"JWT_SECRET_KEY" required:"true"`
	RefreshSecretKey    string        `envconfig:"JWT_REFRESH_SECRET_KEY" required:"true"`
	AccessKeyID         string        `envconfig:"JWT_ACCESS_KEY_ID" default:"access-1"`
	RefreshKeyID        string        `envconfig:"JWT_REFRESH_KEY_ID" default:"refresh-1"`
	AccessPreviousKeys  string        `envconfig:"JWT_ACCESS_PREVIOUS_KEYS"`
	RefreshPreviousKeys string        `envconfig:"JWT_REFRESH_PREVIOUS_KEYS"`
	Issuer              string        `envconfig:"JWT_ISSUER" default:"portal-auth"`
	Audience            string        `envconfig:"JWT_AUDIENCE" default:"portal"`
	AccessTokenTTL      time.Duration `envconfig:"JWT_ACCESS_TOKEN_TTL" default:"1h"`
	RefreshTokenTTL     time.Duration `envconfig:"JWT_REFRESH_TOKEN_TTL" default:"168h"`
}

// Keyrings builds the access and refresh keyrings
func (j JWTConfig) Keyrings() (access, refresh *token.Keyring, err error) {
	access, err = keyring(j.AccessKeyID, j.SecretKey, j.AccessPreviousKeys)
	if err != nil {
		return nil, nil, fmt.Errorf("access keys: %w", err)
	}
	refresh, err = keyring(j.RefreshKeyID, j.RefreshSecretKey, j.RefreshPreviousKeys)
	if err != nil {
		return nil, nil, fmt.Errorf("refresh keys: %w", err)
	}
	return access, refresh, nil
}

func keyring(id, secret, previous string) (*token.Keyring, error) {
	prev, err := token.ParseKeyList(previous)
	if err != nil {
		return nil, err
	}
	return token.NewKeyring(token.Key{ID: id, Secret: []byte(secret)}, prev...)
}

// CacheConfig holds verification cache configuration
type CacheConfig struct {
	TTL           time.Duration `envconfig:"VERIFY_CACHE_TTL" default:"60s"`
	SweepInterval time.Duration `envconfig:"VERIFY_CACHE_SWEEP_INTERVAL" default:"30s"`
	MaxEntries    int           `envconfig:"VERIFY_CACHE_MAX_ENTRIES" default:"50000"`
}

// GateConfig holds authorization gate switches
type GateConfig struct {
	LookupTimeout time.Duration `envconfig:"AUTH_LOOKUP_TIMEOUT" default:"2s"`
	LegacyTokens  bool          `envconfig:"AUTH_LEGACY_TOKENS" default:"true"`
	DemoMode      bool          `envconfig:"AUTH_DEMO_MODE" default:"false"`
	DemoEmails    []string      `envconfig:"AUTH_DEMO_EMAILS" default:"admin@sabercon.edu.br,teacher@sabercon.edu.br,student@sabercon.edu.br"`
}

// CookieConfig holds auth cookie attributes. Secure defaults to true in
// production when unset.
type CookieConfig struct {
	Domain   string `envconfig:"COOKIE_DOMAIN"`
	Secure   *bool  `envconfig:"COOKIE_SECURE"`
	SameSite string `envconfig:"COOKIE_SAME_SITE" default:"lax"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Window          time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"10m"`
	MaxAttempts     int           `envconfig:"RATE_LIMIT_MAX_ATTEMPTS" default:"5"`
	LockoutDuration time.Duration `envconfig:"RATE_LIMIT_LOCKOUT_DURATION" default:"15m"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks settings envconfig cannot express
func (c *Config) Validate() error {
	var errs []error

	if c.JWT.SecretKey == c.JWT.RefreshSecretKey {
		errs = append(errs, errors.New("JWT_SECRET_KEY and JWT_REFRESH_SECRET_KEY must differ"))
	}
	if len(c.JWT.SecretKey) < minSecretLength {
		errs = append(errs, fmt.Errorf("JWT_SECRET_KEY must be at least %d bytes", minSecretLength))
	}
	if len(c.JWT.RefreshSecretKey) < minSecretLength {
		errs = append(errs, fmt.Errorf("JWT_REFRESH_SECRET_KEY must be at least %d bytes", minSecretLength))
	}
	if c.JWT.AccessTokenTTL <= 0 || c.JWT.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	}
	if _, _, err := c.JWT.Keyrings(); err != nil {
		errs = append(errs, err)
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("VERIFY_CACHE_TTL must be positive"))
	}
	if c.Gate.LookupTimeout <= 0 {
		errs = append(errs, errors.New("AUTH_LOOKUP_TIMEOUT must be positive"))
	}
	if _, err := parseSameSite(c.Cookie.SameSite); err != nil {
		errs = append(errs, err)
	}
	if c.Gate.DemoMode && c.IsProduction() {
		errs = append(errs, errors.New("AUTH_DEMO_MODE cannot be enabled in production"))
	}

	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// CookieSecure reports whether auth cookies carry the Secure attribute
func (c *Config) CookieSecure() bool {
	if c.Cookie.Secure != nil {
		return *c.Cookie.Secure
	}
	return c.IsProduction()
}

// CookieSameSite returns the SameSite mode of auth cookies
func (c *Config) CookieSameSite() http.SameSite {
	mode, _ := parseSameSite(c.Cookie.SameSite)
	return mode
}

func parseSameSite(s string) (http.SameSite, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return http.SameSiteDefaultMode, fmt.Errorf("COOKIE_SAME_SITE must be lax, strict or none, got %q", s)
	}
}

// Package config builds the immutable process configuration from defaults,
// an optional YAML file and EA_* environment variables.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is the complete service configuration. It is built once at startup
// and passed by value; nothing mutates it afterwards.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
	Log       LogConfig       `yaml:"log"`
	Seed      SeedConfig      `yaml:"seed"`

	// SecretGenerated is set when no signing secret was configured and a
	// random one was created for this process.
	SecretGenerated bool `yaml:"-"`
}

type HTTPConfig struct {
	Addr         string   `yaml:"addr"`
	CORSOrigins  []string `yaml:"cors_origins"`
	MaxBodyBytes int64    `yaml:"max_body_bytes"`
	// TrustedProxies lists the addresses or CIDR ranges whose
	// X-Forwarded-For header is believed. Empty means none.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type AuthConfig struct {
	Secret             string        `yaml:"secret"`
	Issuer             string        `yaml:"issuer"`
	AccessTTL          time.Duration `yaml:"access_ttl"`
	RefreshTTL         time.Duration `yaml:"refresh_ttl"`
	LoginRatePerMinute int           `yaml:"login_rate_per_minute"`
}

type BootstrapConfig struct {
	AdminEmail    string `yaml:"admin_email"`
	AdminPassword string `yaml:"admin_password"`
	AdminName     string `yaml:"admin_name"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type SeedConfig struct {
	// File is loaded into an empty database at startup when set.
	File string `yaml:"file"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:         ":8080",
			CORSOrigins:  []string{"http://localhost:3000", "http://localhost:8080"},
			MaxBodyBytes: 4 << 20,
		},
		Database: DatabaseConfig{
			Driver: DriverPostgres,
		},
		Auth: AuthConfig{
			Issuer:             "ea-dashboard",
			AccessTTL:          60 * time.Minute,
			RefreshTTL:         7 * 24 * time.Hour,
			LoginRatePerMinute: 5,
		},
		Bootstrap: BootstrapConfig{
			AdminEmail:    "admin@example.com",
			AdminPassword: "admin",
			AdminName:     "Administrator",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads the process environment.
func Load() (Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom builds a Config using getenv as the environment source.
func LoadFrom(getenv func(string) string) (Config, error) {
	cfg := Default()
	if path := strings.TrimSpace(getenv("EA_CONFIG")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}
	if cfg.Auth.Secret == "" {
		secret, err := randomSecret()
		if err != nil {
			return Config{}, err
		}
		cfg.Auth.Secret = secret
		cfg.SecretGenerated = true
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			// bare integers are seconds
			secs, convErr := strconv.ParseInt(v, 10, 64)
			if convErr != nil {
				return fmt.Errorf("invalid duration for %s: %w", key, err)
			}
			d = time.Duration(secs) * time.Second
		}
		*dst = d
		return nil
	}

	str("EA_HTTP_ADDR", &cfg.HTTP.Addr)
	if v := strings.TrimSpace(getenv("EA_CORS_ORIGINS")); v != "" {
		cfg.HTTP.CORSOrigins = splitList(v)
	}
	if v := strings.TrimSpace(getenv("EA_MAX_BODY_BYTES")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid EA_MAX_BODY_BYTES: %w", err)
		}
		cfg.HTTP.MaxBodyBytes = n
	}
	if v := strings.TrimSpace(getenv("EA_TRUSTED_PROXIES")); v != "" {
		cfg.HTTP.TrustedProxies = splitList(v)
	}
	str("EA_DB_DRIVER", &cfg.Database.Driver)
	str("DATABASE_URL", &cfg.Database.DSN)
	str("EA_DB_DSN", &cfg.Database.DSN)
	str("EA_AUTH_SECRET", &cfg.Auth.Secret)
	str("EA_AUTH_ISSUER", &cfg.Auth.Issuer)
	if err := dur("EA_ACCESS_TTL", &cfg.Auth.AccessTTL); err != nil {
		return err
	}
	if err := dur("EA_REFRESH_TTL", &cfg.Auth.RefreshTTL); err != nil {
		return err
	}
	if v := strings.TrimSpace(getenv("EA_LOGIN_RATE_PER_MINUTE")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid EA_LOGIN_RATE_PER_MINUTE: %w", err)
		}
		cfg.Auth.LoginRatePerMinute = n
	}
	str("EA_ADMIN_EMAIL", &cfg.Bootstrap.AdminEmail)
	str("EA_ADMIN_PASSWORD", &cfg.Bootstrap.AdminPassword)
	str("EA_ADMIN_NAME", &cfg.Bootstrap.AdminName)
	str("EA_LOG_LEVEL", &cfg.Log.Level)
	str("EA_SEED_FILE", &cfg.Seed.File)
	return nil
}

// Validate checks the configuration for values the service cannot run with.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	if _, err := ParsePrefixes(c.HTTP.TrustedProxies); err != nil {
		return fmt.Errorf("http.trusted_proxies: %w", err)
	}
	if c.Auth.AccessTTL <= 0 {
		return errors.New("auth.access_ttl must be positive")
	}
	if c.Auth.RefreshTTL <= 0 {
		return errors.New("auth.refresh_ttl must be positive")
	}
	if c.Auth.LoginRatePerMinute <= 0 {
		return errors.New("auth.login_rate_per_minute must be positive")
	}
	if !strings.Contains(c.Bootstrap.AdminEmail, "@") {
		return errors.New("bootstrap.admin_email must be an email address")
	}
	if c.Bootstrap.AdminPassword == "" {
		return errors.New("bootstrap.admin_password is required")
	}
	return nil
}

// ParsePrefixes accepts bare addresses and CIDR ranges.
func ParsePrefixes(list []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(list))
	for _, item := range list {
		item = strings.TrimSpace(item)
		if strings.Contains(item, "/") {
			p, err := netip.ParsePrefix(item)
			if err != nil {
				return nil, err
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(item)
		if err != nil {
			return nil, err
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate signing secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

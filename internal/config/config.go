// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Gateway operating modes
const (
	ModeOrigin  = "origin"
	ModeGateway = "gateway"
)

// Credential store drivers
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Lockout state backends
const (
	LockoutBackendStore = "store"
	LockoutBackendRedis = "redis"
)

// minSecretLength is the shortest HS256 signing secret accepted at startup.
const minSecretLength = 32

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig `envPrefix:"DB_"`
	Redis         RedisConfig    `envPrefix:"REDIS_"`
	Store         StoreConfig
	Token         TokenConfig    `envPrefix:"TOKEN_"`
	Lockout       LockoutConfig  `envPrefix:"LOCKOUT_"`
	Gateway       GatewayConfig
	Permissions   PermissionsConfig `envPrefix:"PERMISSIONS_"`
	Observability ObservabilityConfig
	Security      SecurityConfig
	RateLimit     RateLimitConfig `envPrefix:"RATELIMIT_"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `env:"SERVER_HOST"          envDefault:"0.0.0.0"`
	Port         string        `env:"SERVER_PORT"          envDefault:"8080"`
	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT"  envDefault:"15s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"SERVER_IDLE_TIMEOUT"  envDefault:"60s"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	// URL, when set, overrides the discrete connection fields.
	URL          string `env:"URL"`
	Host         string `env:"HOST"           envDefault:"localhost"`
	Port         string `env:"PORT"           envDefault:"5432"`
	User         string `env:"USER"           envDefault:"authgateway"`
	Password     string `env:"PASSWORD"`
	Database     string `env:"NAME"           envDefault:"authgateway"`
	SSLMode      string `env:"SSLMODE"        envDefault:"disable"`
	MaxOpenConns int    `env:"MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int    `env:"MAX_IDLE_CONNS" envDefault:"5"`
}

// RedisConfig holds the Redis connection used for lockout state.
// URL accepts either redis://... or host:port.
type RedisConfig struct {
	URL string `env:"URL" envDefault:"localhost:6379"`
}

// StoreConfig selects where identities and credential records live
type StoreConfig struct {
	Driver   string `env:"STORE_DRIVER" envDefault:"memory"`
	SeedFile string `env:"SEED_FILE"`
}

// TokenConfig holds access token signing configuration
type TokenConfig struct {
	SigningSecret string        `env:"SIGNING_SECRET"`
	TTL           time.Duration `env:"TTL"    envDefault:"24h"`
	Issuer        string        `env:"ISSUER" envDefault:"authgateway"`
}

// LockoutConfig holds brute-force lockout policy configuration
type LockoutConfig struct {
	Threshold int           `env:"THRESHOLD" envDefault:"5"`
	Duration  time.Duration `env:"DURATION"  envDefault:"15m"`
	Backend   string        `env:"BACKEND"   envDefault:"store"`
}

// GatewayConfig holds forwarding-mode configuration
type GatewayConfig struct {
	Mode            string        `env:"GATEWAY_MODE"     envDefault:"origin"`
	UpstreamURL     string        `env:"UPSTREAM_URL"`
	UpstreamPrefix  string        `env:"UPSTREAM_PREFIX"  envDefault:"/api/auth"`
	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"10s"`
}

// PermissionsConfig controls the optional permission cache. Size 0 disables it.
type PermissionsConfig struct {
	CacheSize int           `env:"CACHE_SIZE" envDefault:"0"`
	CacheTTL  time.Duration `env:"CACHE_TTL"  envDefault:"30s"`
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel       string  `env:"LOG_LEVEL"            envDefault:"info"`
	LogFormat      string  `env:"LOG_FORMAT"           envDefault:"json"`
	OTELEnabled    bool    `env:"OTEL_ENABLED"         envDefault:"false"`
	ServiceName    string  `env:"OTEL_SERVICE_NAME"    envDefault:"authgateway"`
	ServiceVersion string  `env:"OTEL_SERVICE_VERSION" envDefault:"0.1.0"`
	SamplingRate   float64 `env:"OTEL_SAMPLING_RATE"   envDefault:"1"`
}

// SecurityConfig holds password hashing parameters
type SecurityConfig struct {
	Argon2Memory      uint32 `env:"ARGON2_MEMORY"      envDefault:"65536"`
	Argon2Iterations  uint32 `env:"ARGON2_ITERATIONS"  envDefault:"3"`
	Argon2Parallelism uint8  `env:"ARGON2_PARALLELISM" envDefault:"4"`
	Argon2SaltLength  uint32 `env:"ARGON2_SALT_LENGTH" envDefault:"16"`
	Argon2KeyLength   uint32 `env:"ARGON2_KEY_LENGTH"  envDefault:"32"`
}

// RateLimitConfig holds login rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64  `env:"RPS"   envDefault:"10"`
	Burst             int      `env:"BURST" envDefault:"20"`
	// TrustedProxies lists the CIDRs or addresses whose X-Forwarded-For and
	// X-Real-IP headers are believed. Empty means key on the peer address.
	TrustedProxies    []string `env:"TRUSTED_PROXIES" envSeparator:","`
}

// TrustedPrefixes parses TrustedProxies. Bare addresses become single-host prefixes.
func (c RateLimitConfig) TrustedPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("RATELIMIT_TRUSTED_PROXIES: %w", err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("RATELIMIT_TRUSTED_PROXIES: %w", err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// Load loads configuration from a .env file (if present) and environment
// variables and validates it.
func Load() (*Config, error) {
	cfg, err := Parse()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Parse reads configuration without validating it. Subcommands that need
// only part of it use this.
func Parse() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.Gateway.Mode = strings.ToLower(strings.TrimSpace(cfg.Gateway.Mode))
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	cfg.Lockout.Backend = strings.ToLower(strings.TrimSpace(cfg.Lockout.Backend))

	return &cfg, nil
}

// localRoutes are served by the gateway itself in every mode.
var localRoutes = []string{"/health", "/login", "/verify", "/permissions", "/api/v1/auth"}

// shadowedRoute returns the local route that forwarding under prefix would
// overlap. The root prefix only receives unmatched requests.
func shadowedRoute(prefix string) (string, bool) {
	p := "/" + strings.Trim(prefix, "/")
	if p == "/" {
		return "", false
	}
	for _, route := range localRoutes {
		if p == route || strings.HasPrefix(route, p+"/") || strings.HasPrefix(p, route+"/") {
			return route, true
		}
	}
	return "", false
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.Token.SigningSecret) < minSecretLength {
		return fmt.Errorf("TOKEN_SIGNING_SECRET must be at least %d bytes", minSecretLength)
	}
	if c.Token.TTL <= 0 {
		return errors.New("TOKEN_TTL must be positive")
	}
	if c.Lockout.Threshold <= 0 {
		return errors.New("LOCKOUT_THRESHOLD must be positive")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("LOCKOUT_DURATION must be positive")
	}

	if _, err := c.RateLimit.TrustedPrefixes(); err != nil {
		return err
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Database.URL == "" && c.Database.Password == "" {
			return errors.New("DB_URL or DB_PASSWORD is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}

	switch c.Lockout.Backend {
	case LockoutBackendStore, LockoutBackendRedis:
	default:
		return fmt.Errorf("unknown LOCKOUT_BACKEND %q", c.Lockout.Backend)
	}

	switch c.Gateway.Mode {
	case ModeOrigin:
	case ModeGateway:
		if c.Gateway.UpstreamURL == "" {
			return errors.New("UPSTREAM_URL is required in gateway mode")
		}
		u, err := url.Parse(c.Gateway.UpstreamURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("UPSTREAM_URL %q is not an absolute URL", c.Gateway.UpstreamURL)
		}
		if !strings.HasPrefix(c.Gateway.UpstreamPrefix, "/") {
			return errors.New("UPSTREAM_PREFIX must start with /")
		}
		if route, ok := shadowedRoute(c.Gateway.UpstreamPrefix); ok {
			return fmt.Errorf("UPSTREAM_PREFIX %q overlaps the local route %s", c.Gateway.UpstreamPrefix, route)
		}
		if c.Gateway.UpstreamTimeout <= 0 {
			return errors.New("UPSTREAM_TIMEOUT must be positive")
		}
	default:
		return fmt.Errorf("unknown GATEWAY_MODE %q", c.Gateway.Mode)
	}

	return nil
}

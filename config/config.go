// config/config.go
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"secret.share/internal/ratelimit"
)

const minJWTSecretLength = 16

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Auth      AuthConfig      `yaml:"auth"`
	Secrets   SecretsConfig   `yaml:"secrets"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	BaseURL        string        `yaml:"base_url"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

type StoreConfig struct {
	Type     string         `yaml:"type"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type SecretsConfig struct {
	MaxContentBytes int `yaml:"max_content_bytes"`
	MaxTitleLength  int `yaml:"max_title_length"`
	BcryptCost      int `yaml:"bcrypt_cost"`
	SlugBytes       int `yaml:"slug_bytes"`
	DefaultPageSize int `yaml:"default_page_size"`
	MaxPageSize     int `yaml:"max_page_size"`
}

type RateLimitConfig struct {
	Enabled       bool             `yaml:"enabled"`
	PurgeInterval time.Duration    `yaml:"purge_interval"`
	General       ratelimit.Policy `yaml:"general"`
	Creation      ratelimit.Policy `yaml:"creation"`
	Disclosure    ratelimit.Policy `yaml:"disclosure"`
	Auth          ratelimit.Policy `yaml:"auth"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() *Config {
	policies := ratelimit.DefaultPolicies()

	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			BaseURL:        "http://localhost:8080",
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			IdleTimeout:    60 * time.Second,
			AllowedOrigins: []string{"http://localhost:8080"},
		},
		Store: StoreConfig{
			Type: "memory",
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				Password: "",
				DB:       0,
			},
		},
		Auth: AuthConfig{
			TokenTTL: 7 * 24 * time.Hour,
		},
		Secrets: SecretsConfig{
			MaxContentBytes: 64 * 1024,
			MaxTitleLength:  200,
			BcryptCost:      12,
			SlugBytes:       16,
			DefaultPageSize: 10,
			MaxPageSize:     100,
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			PurgeInterval: time.Minute,
			General:       policies[ratelimit.ClassGeneral],
			Creation:      policies[ratelimit.ClassCreation],
			Disclosure:    policies[ratelimit.ClassDisclosure],
			Auth:          policies[ratelimit.ClassAuth],
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, err
		}
	}

	cfg.loadFromEnv()

	// The memory store forgets everything on restart, so a per-process
	// signing key loses nothing.
	if cfg.Store.Type == "memory" && cfg.Auth.JWTSecret == "" {
		secret, err := randomSecret()
		if err != nil {
			return nil, err
		}
		cfg.Auth.JWTSecret = secret
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File not found is OK, use defaults
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

func (c *Config) loadFromEnv() {
	// Server
	if v := os.Getenv("HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("BASE_URL"); v != "" {
		c.Server.BaseURL = v
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = splitList(v)
	}

	// Store
	if v := os.Getenv("STORE_TYPE"); v != "" {
		c.Store.Type = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Store.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Store.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Store.Redis.DB = db
		}
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.Store.Postgres.DSN = v
	}

	// Auth
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("TOKEN_TTL"); v != "" {
		if ttl, err := time.ParseDuration(v); err == nil {
			c.Auth.TokenTTL = ttl
		}
	}

	// Secrets
	if v := os.Getenv("MAX_CONTENT_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Secrets.MaxContentBytes = n
		}
	}
	if v := os.Getenv("BCRYPT_COST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Secrets.BcryptCost = n
		}
	}

	if v := os.Getenv("RATE_LIMIT_ENABLED"); v != "" {
		c.RateLimit.Enabled = v == "true" || v == "1"
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Server.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}

	switch c.Store.Type {
	case "memory":
	case "redis":
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required when store type is 'redis'")
		}
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("postgres dsn is required when store type is 'postgres'")
		}
	default:
		return fmt.Errorf("invalid store type: %s (must be 'memory', 'redis' or 'postgres')", c.Store.Type)
	}

	if len(c.Auth.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("jwt_secret must be at least %d bytes", minJWTSecretLength)
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("token_ttl must be positive")
	}

	if c.Secrets.MaxContentBytes < 1 {
		return fmt.Errorf("max_content_bytes must be positive")
	}
	if c.Secrets.MaxTitleLength < 1 {
		return fmt.Errorf("max_title_length must be positive")
	}
	if c.Secrets.BcryptCost < 4 || c.Secrets.BcryptCost > 31 {
		return fmt.Errorf("bcrypt_cost must be between 4 and 31")
	}
	if c.Secrets.SlugBytes < 8 {
		return fmt.Errorf("slug_bytes must be at least 8")
	}
	if c.Secrets.DefaultPageSize < 1 {
		return fmt.Errorf("default_page_size must be at least 1")
	}
	if c.Secrets.MaxPageSize < c.Secrets.DefaultPageSize {
		return fmt.Errorf("max_page_size must be >= default_page_size")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.PurgeInterval <= 0 {
			return fmt.Errorf("rate_limit.purge_interval must be positive")
		}
		for name, p := range map[string]ratelimit.Policy{
			"general":    c.RateLimit.General,
			"creation":   c.RateLimit.Creation,
			"disclosure": c.RateLimit.Disclosure,
			"auth":       c.RateLimit.Auth,
		} {
			if p.Window <= 0 || p.Max < 1 {
				return fmt.Errorf("rate_limit.%s needs a positive window and max", name)
			}
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be 'json' or 'text')", c.Log.Format)
	}

	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Policies returns the per-class limiter policies.
func (c *RateLimitConfig) Policies() map[ratelimit.Class]ratelimit.Policy {
	return map[ratelimit.Class]ratelimit.Policy{
		ratelimit.ClassGeneral:    c.General,
		ratelimit.ClassCreation:   c.Creation,
		ratelimit.ClassDisclosure: c.Disclosure,
		ratelimit.ClassAuth:       c.Auth,
	}
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating jwt secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

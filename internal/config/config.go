// File: internal/config/config.go
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"dental-backoffice/internal/domain/model"
)

type RuntimeConfig struct {
	Dev bool
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig is optional; when URL is empty the in-memory cache and lock are used.
type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type AgentConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Retries        int           `yaml:"retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
}

type PollConfig struct {
	MaxAttempts        int           `yaml:"max_attempts"`
	Timeout            time.Duration `yaml:"timeout"`
	BaseDelay          time.Duration `yaml:"base_delay"`
	MaxBackoff         time.Duration `yaml:"max_backoff"`
	NoProgressLimit    int           `yaml:"no_progress_limit"`
	MaxTransientErrors int           `yaml:"max_transient_errors"`
}

type ProviderConfig struct {
	Key               string     `yaml:"key"`
	DisplayName       string     `yaml:"display_name"`
	CredentialSiteKey string     `yaml:"credential_site_key"`
	UsernameField     string     `yaml:"username_field"`
	PasswordField     string     `yaml:"password_field"`
	StartPath         string     `yaml:"start_path"`
	OTPPath           string     `yaml:"otp_path"`
	StatusPath        string     `yaml:"status_path"`
	Poll              PollConfig `yaml:"poll"`
}

type WorkerConfig struct {
	MaxPollers int `yaml:"max_pollers"`
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type StorageConfig struct {
	DownloadDir string `yaml:"download_dir"`
}

type RateLimitConfig struct {
	StartsPerWindow int           `yaml:"starts_per_window"`
	Window          time.Duration `yaml:"window"`
}

type SweeperConfig struct {
	Interval time.Duration `yaml:"interval"`
	MaxAge   time.Duration `yaml:"max_age"`
}

type Config struct {
	HTTP      HTTPConfig       `yaml:"http"`
	Log       LogConfig        `yaml:"log"`
	Database  DatabaseConfig   `yaml:"database"`
	Redis     RedisConfig      `yaml:"redis"`
	Agent     AgentConfig      `yaml:"agent"`
	Providers []ProviderConfig `yaml:"providers"`
	Worker    WorkerConfig     `yaml:"worker"`
	Security  SecurityConfig   `yaml:"security"`
	Auth      AuthConfig       `yaml:"auth"`
	Storage   StorageConfig    `yaml:"storage"`
	RateLimit RateLimitConfig  `yaml:"rate_limit"`
	Sweeper   SweeperConfig    `yaml:"sweeper"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig parses -config and -dev and loads the file they point at.
func LoadConfig() (*Config, error) {
	var configPath string
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()

	// .env is optional
	_ = godotenv.Load()

	return Load(configPath, dev)
}

func Load(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

// Parse decodes YAML, applies env overrides and defaults, then validates.
func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Agent.BaseURL == "" {
		return nil, errors.New("agent.base_url is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("auth.jwt_secret is required")
	}
	if n := len(cfg.Security.EncryptionKey); n != 16 && n != 24 && n != 32 {
		return nil, errors.New("security.encryption_key must be 16, 24 or 32 bytes")
	}
	seen := map[string]bool{}
	for _, p := range cfg.Providers {
		k := strings.ToLower(strings.TrimSpace(p.Key))
		if k == "" {
			return nil, errors.New("providers[].key is required")
		}
		if seen[k] {
			return nil, fmt.Errorf("duplicate provider %q", k)
		}
		seen[k] = true
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	override := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	override(&cfg.Database.URL, "DATABASE_URL")
	override(&cfg.Redis.URL, "REDIS_URL")
	override(&cfg.Auth.JWTSecret, "JWT_SECRET")
	override(&cfg.Security.EncryptionKey, "ENCRYPTION_KEY")
	override(&cfg.Agent.BaseURL, "AGENT_BASE_URL")
}

func applyDefaults(cfg *Config) {
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":5000"
	}
	if cfg.HTTP.ReadTimeout <= 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout <= 0 {
		cfg.HTTP.WriteTimeout = 120 * time.Second
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 90 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout <= 0 {
		cfg.HTTP.ShutdownTimeout = 20 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)
	cfg.Agent.BaseURL = strings.TrimRight(cfg.Agent.BaseURL, "/")
	if cfg.Agent.RequestTimeout <= 0 {
		cfg.Agent.RequestTimeout = 60 * time.Second
	}
	if cfg.Agent.Retries <= 0 {
		cfg.Agent.Retries = 4
	}
	if cfg.Agent.RetryDelay <= 0 {
		cfg.Agent.RetryDelay = 300 * time.Millisecond
	}
	if len(cfg.Providers) == 0 {
		cfg.Providers = DefaultProviders()
	}
	if cfg.Worker.MaxPollers <= 0 {
		cfg.Worker.MaxPollers = 64
	}
	if cfg.Auth.TokenTTL <= 0 {
		cfg.Auth.TokenTTL = 12 * time.Hour
	}
	if cfg.Storage.DownloadDir == "" {
		cfg.Storage.DownloadDir = "seleniumDownloads"
	}
	if cfg.RateLimit.Window <= 0 {
		cfg.RateLimit.Window = time.Minute
	}
	if cfg.Sweeper.Interval <= 0 {
		cfg.Sweeper.Interval = 15 * time.Minute
	}
	if cfg.Sweeper.MaxAge <= 0 {
		cfg.Sweeper.MaxAge = 24 * time.Hour
	}
}

// DefaultProviders mirrors the agent's current route table.
func DefaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{
			Key:           "ddma",
			DisplayName:   "MassDDMA",
			UsernameField: "massddmaUsername",
			PasswordField: "massddmaPassword",
			StartPath:     "/ddma-eligibility",
			OTPPath:       "/submit-otp",
			StatusPath:    "/session/{sid}/status",
		},
		{
			Key:         "dentaquest",
			DisplayName: "DentaQuest",
		},
		{
			Key:           "deltains",
			DisplayName:   "Delta Dental Ins",
			UsernameField: "deltains_username",
			PasswordField: "deltains_password",
			Poll: PollConfig{
				MaxAttempts:     500,
				Timeout:         8 * time.Minute,
				NoProgressLimit: 200,
			},
		},
		{
			Key:               "unitedsco",
			DisplayName:       "United SCO",
			CredentialSiteKey: "DENTAQUEST",
			UsernameField:     "dentaquestUsername",
			PasswordField:     "dentaquestPassword",
		},
	}
}

// ProviderModels converts provider config into domain descriptors with defaults applied.
func (c *Config) ProviderModels() []model.Provider {
	out := make([]model.Provider, 0, len(c.Providers))
	for _, p := range c.Providers {
		out = append(out, model.Provider{
			Key:               p.Key,
			DisplayName:       p.DisplayName,
			CredentialSiteKey: p.CredentialSiteKey,
			UsernameField:     p.UsernameField,
			PasswordField:     p.PasswordField,
			StartPath:         p.StartPath,
			OTPPath:           p.OTPPath,
			StatusPath:        p.StatusPath,
			Poll: model.PollPolicy{
				MaxAttempts:        p.Poll.MaxAttempts,
				Timeout:            p.Poll.Timeout,
				BaseDelay:          p.Poll.BaseDelay,
				MaxBackoff:         p.Poll.MaxBackoff,
				NoProgressLimit:    p.Poll.NoProgressLimit,
				MaxTransientErrors: p.Poll.MaxTransientErrors,
			},
		}.WithDefaults())
	}
	return out
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}

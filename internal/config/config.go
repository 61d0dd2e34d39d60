package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Providers  ProvidersConfig  `mapstructure:"providers"`
	Cache      CacheConfig      `mapstructure:"cache"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type ProvidersConfig struct {
	Priority    []string        `mapstructure:"priority"`
	Timeout     time.Duration   `mapstructure:"timeout"`
	Temperature float64         `mapstructure:"temperature"`
	MaxTokens   int             `mapstructure:"max_tokens"`
	Entries     []ProviderEntry `mapstructure:"entries"`
}

type ProviderEntry struct {
	ID      string `mapstructure:"id"`
	APIKey  string `mapstructure:"api_key"`
	APIBase string `mapstructure:"api_base"`
	Model   string `mapstructure:"model"`
	Enabled bool   `mapstructure:"enabled"`
}

type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
	MaxSize int           `mapstructure:"max_size"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type RateLimitConfig struct {
	Gateway GatewayLimitConfig `mapstructure:"gateway"`
	HTTP    HTTPLimitConfig    `mapstructure:"http"`
}

// GatewayLimitConfig bounds calls per (caller, provider) pair with a
// fixed window.
type GatewayLimitConfig struct {
	Window   time.Duration `mapstructure:"window"`
	MaxCalls int           `mapstructure:"max_calls"`
}

// HTTPLimitConfig throttles the API surface per caller, independent of
// the gateway limiter.
type HTTPLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

type DatabaseConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// providerDefaults carries the default API base and model for each
// supported provider; file and environment values override them.
var providerDefaults = map[string]struct {
	APIBase string
	Model   string
}{
	"deepseek": {"https://api.deepseek.com/v1", "deepseek-chat"},
	"zhipuai":  {"https://open.bigmodel.cn/api/paas/v4", "glm-4"},
	"openai":   {"https://api.openai.com/v1", "gpt-4o-mini"},
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	viper.BindEnv("database.dsn", "DATABASE_DSN")
	viper.BindEnv("cache.redis.addr", "REDIS_ADDR")
	viper.BindEnv("cache.redis.password", "REDIS_PASSWORD")
	viper.BindEnv("cache.redis.db", "REDIS_DB")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&config)
	applyProviderEnv(&config)

	if priority := os.Getenv("LLM_PROVIDER_PRIORITY"); priority != "" {
		config.Providers.Priority = splitList(priority)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 120 * time.Second
	}
	if cfg.Providers.Timeout == 0 {
		cfg.Providers.Timeout = 30 * time.Second
	}
	if cfg.Providers.Temperature == 0 {
		cfg.Providers.Temperature = 0.7
	}
	if cfg.Providers.MaxTokens == 0 {
		cfg.Providers.MaxTokens = 2048
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 5 * time.Minute
	}
	if cfg.Cache.MaxSize == 0 {
		cfg.Cache.MaxSize = 1000
	}
	if cfg.RateLimit.Gateway.Window == 0 {
		cfg.RateLimit.Gateway.Window = time.Minute
	}
	if cfg.RateLimit.Gateway.MaxCalls == 0 {
		cfg.RateLimit.Gateway.MaxCalls = 20
	}
	if cfg.RateLimit.HTTP.RequestsPerMinute == 0 {
		cfg.RateLimit.HTTP.RequestsPerMinute = 60
	}
	if cfg.RateLimit.HTTP.Burst == 0 {
		cfg.RateLimit.HTTP.Burst = 10
	}

	// Fill per-provider defaults for entries that only name an id.
	for i := range cfg.Providers.Entries {
		entry := &cfg.Providers.Entries[i]
		defaults, known := providerDefaults[entry.ID]
		if !known {
			continue
		}
		if entry.APIBase == "" {
			entry.APIBase = defaults.APIBase
		}
		if entry.Model == "" {
			entry.Model = defaults.Model
		}
	}
}

// applyProviderEnv overlays DEEPSEEK_API_KEY style environment variables
// on top of the file configuration, creating entries for providers that
// are configured through the environment alone.
func applyProviderEnv(cfg *Config) {
	for id, defaults := range providerDefaults {
		prefix := strings.ToUpper(id)
		apiKey := os.Getenv(prefix + "_API_KEY")
		apiBase := os.Getenv(prefix + "_API_BASE")
		model := os.Getenv(prefix + "_API_MODEL")

		if apiKey == "" && apiBase == "" && model == "" {
			continue
		}

		entry := findEntry(cfg, id)
		if entry == nil {
			cfg.Providers.Entries = append(cfg.Providers.Entries, ProviderEntry{
				ID:      id,
				APIBase: defaults.APIBase,
				Model:   defaults.Model,
			})
			entry = &cfg.Providers.Entries[len(cfg.Providers.Entries)-1]
		}

		if apiKey != "" {
			entry.APIKey = apiKey
			entry.Enabled = true
		}
		if apiBase != "" {
			entry.APIBase = apiBase
		}
		if model != "" {
			entry.Model = model
		}
	}
}

func findEntry(cfg *Config, id string) *ProviderEntry {
	for i := range cfg.Providers.Entries {
		if cfg.Providers.Entries[i].ID == id {
			return &cfg.Providers.Entries[i]
		}
	}
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func validateConfig(cfg *Config) error {
	if len(cfg.Providers.Entries) == 0 {
		return fmt.Errorf("at least one provider is required")
	}
	switch cfg.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported cache backend: %s", cfg.Cache.Backend)
	}
	if cfg.Cache.Backend == "redis" && cfg.Cache.Redis.Addr == "" {
		return fmt.Errorf("cache.redis.addr is required for the redis backend")
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}
	return nil
}

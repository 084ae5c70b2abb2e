package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Agent       AgentConfig               `json:"agent"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Weather     WeatherConfig             `json:"weather"`
	Search      SearchConfig              `json:"search"`
	RateLimit   RateLimitConfig           `json:"rate_limit"`
	Secrets     SecretsConfig             `json:"-"`
}

type BasicConfig struct {
	ServerAddress   string   `json:"server_address" env:"VINOCHAT_SERVER_ADDRESS"`
	Environment     string   `json:"environment" env:"VINOCHAT_ENVIRONMENT"`
	LogLevel        string   `json:"log_level" env:"VINOCHAT_LOG_LEVEL"`
	Database        string   `json:"database" env:"VINOCHAT_DB"`
	DataDir         string   `json:"data_dir" env:"VINOCHAT_DATA_DIR"`
	DefaultLocation string   `json:"default_location" env:"VINOCHAT_DEFAULT_LOCATION"`
	CORSOrigins     []string `json:"cors_origins" env:"VINOCHAT_CORS_ORIGINS" envSeparator:","`
	MinWorkers      int      `json:"min_workers" env:"VINOCHAT_MIN_WORKERS"`
	MaxWorkers      int      `json:"max_workers" env:"VINOCHAT_MAX_WORKERS"`
	QueueSize       int      `json:"queue_size" env:"VINOCHAT_QUEUE_SIZE"`
	// WorkerIdleTimeout and ChatTimeout are in seconds.
	WorkerIdleTimeout int `json:"worker_idle_timeout" env:"VINOCHAT_WORKER_IDLE_TIMEOUT"`
	ChatTimeout       int `json:"chat_timeout" env:"VINOCHAT_CHAT_TIMEOUT"`
}

type AgentConfig struct {
	Provider    string  `json:"provider" env:"VINOCHAT_AGENT_PROVIDER"`
	Model       string  `json:"model" env:"VINOCHAT_AGENT_MODEL"`
	Temperature float32 `json:"temperature" env:"VINOCHAT_AGENT_TEMPERATURE"`
	MaxTokens   int     `json:"max_tokens" env:"VINOCHAT_AGENT_MAX_TOKENS"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled" env:"VINOCHAT_REDIS_ENABLED"`
	Host     string `json:"host" env:"VINOCHAT_REDIS_HOST"`
	Port     int    `json:"port" env:"VINOCHAT_REDIS_PORT"`
	Username string `json:"username" env:"VINOCHAT_REDIS_USERNAME"`
	Password string `json:"password" env:"VINOCHAT_REDIS_PASSWORD"`
	DB       int    `json:"db" env:"VINOCHAT_REDIS_DB"`
}

type WeatherConfig struct {
	BaseURL string `json:"base_url" env:"VINOCHAT_WEATHER_BASE_URL"`
	Units   string `json:"units" env:"VINOCHAT_WEATHER_UNITS"`
	// CacheMinutes is how long a report is reused per location.
	CacheMinutes int `json:"cache_minutes" env:"VINOCHAT_WEATHER_CACHE_MINUTES"`
}

type SearchConfig struct {
	MaxResults int `json:"max_results" env:"VINOCHAT_SEARCH_MAX_RESULTS"`
	CacheHours int `json:"cache_hours" env:"VINOCHAT_SEARCH_CACHE_HOURS"`
}

// RateLimitConfig values are requests per minute per client IP.
type RateLimitConfig struct {
	Default int `json:"default" env:"VINOCHAT_RATE_LIMIT"`
	Chat    int `json:"chat" env:"VINOCHAT_RATE_LIMIT_CHAT"`
	Weather int `json:"weather" env:"VINOCHAT_RATE_LIMIT_WEATHER"`
}

// SecretsConfig is only ever read from the environment.
type SecretsConfig struct {
	OpenAIKey      string `env:"OPENAI_API_KEY"`
	AnthropicKey   string `env:"ANTHROPIC_API_KEY"`
	GeminiKey      string `env:"GEMINI_API_KEY"`
	OpenWeatherKey string `env:"OPENWEATHER_API_KEY"`
	GoogleKey      string `env:"GOOGLE_API_KEY"`
	GoogleEngineID string `env:"GOOGLE_SEARCH_ENGINE_ID"`
}

var knownProviders = map[string]string{
	"openai": "gpt-4o-mini",
	"claude": "claude-3-5-haiku-latest",
	"gemini": "gemini-2.0-flash",
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		BasicConfig: BasicConfig{
			ServerAddress:     ":8000",
			Environment:       "development",
			LogLevel:          "info",
			Database:          "sqlite3",
			DataDir:           "./data",
			DefaultLocation:   "Napa,CA,US",
			CORSOrigins:       []string{"*"},
			MinWorkers:        2,
			MaxWorkers:        8,
			QueueSize:         32,
			WorkerIdleTimeout: 60,
			ChatTimeout:       120,
		},
		Agent: AgentConfig{
			Provider:    "openai",
			Temperature: 0.2,
			MaxTokens:   1000,
		},
		Providers: map[string]ProviderConfig{},
		Databases: map[string]DatabaseConfig{
			"sqlite3": {DSN: "file:vinochat.db?_foreign_keys=on"},
		},
		Redis: RedisConfig{Host: "127.0.0.1", Port: 6379},
		Weather: WeatherConfig{
			BaseURL:      "https://api.openweathermap.org/data/2.5/weather",
			Units:        "imperial",
			CacheMinutes: 30,
		},
		Search:    SearchConfig{MaxResults: 5, CacheHours: 24},
		RateLimit: RateLimitConfig{Default: 60, Chat: 10, Weather: 30},
	}
}

// Load reads configuration from the provided path (defaults to config.json),
// then applies .env and environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	if path == "" {
		path = "config.json"
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	cfg := Default()
	data, err := os.ReadFile(absPath)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	cfg.applySecrets()

	if cfg.BasicConfig.DataDir != "" && !filepath.IsAbs(cfg.BasicConfig.DataDir) {
		cfg.BasicConfig.DataDir = filepath.Join(filepath.Dir(absPath), cfg.BasicConfig.DataDir)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applySecrets() {
	if c.Providers == nil {
		c.Providers = map[string]ProviderConfig{}
	}
	for name, key := range map[string]string{
		"openai": c.Secrets.OpenAIKey,
		"claude": c.Secrets.AnthropicKey,
		"gemini": c.Secrets.GeminiKey,
	} {
		if key == "" {
			continue
		}
		p := c.Providers[name]
		p.APIKey = key
		c.Providers[name] = p
	}
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	provider := strings.ToLower(strings.TrimSpace(c.Agent.Provider))
	if _, ok := knownProviders[provider]; !ok {
		return fmt.Errorf("invalid agent provider: %q", c.Agent.Provider)
	}
	c.Agent.Provider = provider
	if c.BasicConfig.MaxWorkers < c.BasicConfig.MinWorkers {
		return fmt.Errorf("max_workers (%d) must be >= min_workers (%d)", c.BasicConfig.MaxWorkers, c.BasicConfig.MinWorkers)
	}
	if c.BasicConfig.DefaultLocation == "" {
		return errors.New("default_location must be configured")
	}
	if c.Search.MaxResults <= 0 || c.Search.MaxResults > 10 {
		return fmt.Errorf("search max_results must be in 1..10, got %d", c.Search.MaxResults)
	}
	return nil
}

// ActiveProvider returns the agent provider settings with defaults filled in.
func (c *Config) ActiveProvider() (string, ProviderConfig) {
	p := c.Providers[c.Agent.Provider]
	if c.Agent.Model != "" {
		p.Model = c.Agent.Model
	}
	if p.Model == "" {
		p.Model = knownProviders[c.Agent.Provider]
	}
	return c.Agent.Provider, p
}

// IsProduction reports whether the service runs with production defaults.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.BasicConfig.Environment, "production")
}

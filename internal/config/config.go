package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the ShopMind server and worker.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Catalog   CatalogConfig
	AI        AIConfig
	Job       JobConfig
	Actions   ActionsConfig
	Breaker   BreakerConfig
	RateLimit RateLimitConfig
	SMTP      SMTPConfig
	SMS       SMSConfig
	Worker    WorkerConfig
	Retention RetentionConfig
}

type ServerConfig struct {
	Port     int
	Env      string
	LogLevel slog.Level
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// CatalogConfig points at the store's REST API (entity source and mutators).
type CatalogConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Timeout        time.Duration
}

type AIConfig struct {
	Provider      string
	Debug         bool
	RetryAttempts int
	RetryDelay    time.Duration
	CallsPerHour  int
	Ollama        ProviderConfig
	VLLM          ProviderConfig
	OpenAI        ProviderConfig
	Anthropic     ProviderConfig
}

// ProviderConfig holds user overrides for one LLM provider. Zero values mean
// "use the provider default".
type ProviderConfig struct {
	Name        string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature *float64
	MaxTokens   int
	Timeout     time.Duration
}

// Selected returns the overrides for the configured provider.
func (c AIConfig) Selected() ProviderConfig {
	return c.ByName(c.Provider)
}

// ByName returns the overrides for name, or a bare config carrying only the name.
func (c AIConfig) ByName(name string) ProviderConfig {
	switch name {
	case "ollama":
		return c.Ollama
	case "vllm":
		return c.VLLM
	case "openai":
		return c.OpenAI
	case "anthropic":
		return c.Anthropic
	default:
		return ProviderConfig{Name: name}
	}
}

type JobConfig struct {
	BatchSize    int
	MaxProducts  int
	MaxCustomers int
	StaleAfter   time.Duration
	LeaseTTL     time.Duration
	MaxErrors    int
}

type ActionsConfig struct {
	MaxRetries int
	// AutoExecute lists kinds allowed to skip approval when their type default permits.
	AutoExecute []string
	// Enabled lists kinds suggestions may be converted into. Empty means all.
	Enabled []string
}

type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	CallTimeout      time.Duration
	CacheTTL         time.Duration
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	AdminEmail string
}

type SMSConfig struct {
	BaseURL string
	APIKey  string
	Sender  string
	Timeout time.Duration
}

type WorkerConfig struct {
	Enabled  bool
	Interval time.Duration
}

type RetentionConfig struct {
	Days int
}

var validProviders = map[string]bool{
	"ollama":    true,
	"vllm":      true,
	"openai":    true,
	"anthropic": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     envInt("SHOPMIND_PORT", 8080),
			Env:      envString("SHOPMIND_ENV", "development"),
			LogLevel: envLevel("LOG_LEVEL", slog.LevelInfo),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Catalog: CatalogConfig{
			BaseURL:        strings.TrimRight(os.Getenv("CATALOG_BASE_URL"), "/"),
			ConsumerKey:    os.Getenv("CATALOG_CONSUMER_KEY"),
			ConsumerSecret: os.Getenv("CATALOG_CONSUMER_SECRET"),
			Timeout:        envDuration("CATALOG_TIMEOUT", 30*time.Second),
		},
		AI: AIConfig{
			Provider:      os.Getenv("AI_PROVIDER"),
			Debug:         envBool("AI_DEBUG", false),
			RetryAttempts: envInt("AI_RETRY_ATTEMPTS", 2),
			RetryDelay:    envDuration("AI_RETRY_DELAY", 300*time.Millisecond),
			CallsPerHour:  envInt("AI_CALLS_PER_HOUR", 500),
			Ollama: ProviderConfig{
				Name:        "ollama",
				BaseURL:     os.Getenv("OLLAMA_BASE_URL"),
				Model:       os.Getenv("OLLAMA_MODEL"),
				Temperature: envFloatPtr("OLLAMA_TEMPERATURE"),
				MaxTokens:   envInt("OLLAMA_MAX_TOKENS", 0),
				Timeout:     envDurationSecs("OLLAMA_TIMEOUT_SECS", 0),
			},
			VLLM: ProviderConfig{
				Name:        "vllm",
				BaseURL:     os.Getenv("VLLM_BASE_URL"),
				APIKey:      os.Getenv("VLLM_API_KEY"),
				Model:       os.Getenv("VLLM_MODEL"),
				Temperature: envFloatPtr("VLLM_TEMPERATURE"),
				MaxTokens:   envInt("VLLM_MAX_TOKENS", 0),
				Timeout:     envDurationSecs("VLLM_TIMEOUT_SECS", 0),
			},
			OpenAI: ProviderConfig{
				Name:        "openai",
				BaseURL:     os.Getenv("OPENAI_BASE_URL"),
				APIKey:      os.Getenv("OPENAI_API_KEY"),
				Model:       os.Getenv("OPENAI_MODEL"),
				Temperature: envFloatPtr("OPENAI_TEMPERATURE"),
				MaxTokens:   envInt("OPENAI_MAX_TOKENS", 0),
				Timeout:     envDurationSecs("OPENAI_TIMEOUT_SECS", 0),
			},
			Anthropic: ProviderConfig{
				Name:        "anthropic",
				BaseURL:     os.Getenv("ANTHROPIC_BASE_URL"),
				APIKey:      os.Getenv("ANTHROPIC_API_KEY"),
				Model:       os.Getenv("ANTHROPIC_MODEL"),
				Temperature: envFloatPtr("ANTHROPIC_TEMPERATURE"),
				MaxTokens:   envInt("ANTHROPIC_MAX_TOKENS", 0),
				Timeout:     envDurationSecs("ANTHROPIC_TIMEOUT_SECS", 0),
			},
		},
		Job: JobConfig{
			BatchSize:    envInt("JOB_BATCH_SIZE", 5),
			MaxProducts:  envInt("JOB_MAX_PRODUCTS", 200),
			MaxCustomers: envInt("JOB_MAX_CUSTOMERS", 200),
			StaleAfter:   envDuration("JOB_STALE_AFTER", 10*time.Minute),
			LeaseTTL:     envDuration("JOB_LEASE_TTL", 5*time.Minute),
			MaxErrors:    envInt("JOB_MAX_ERRORS", 20),
		},
		Actions: ActionsConfig{
			MaxRetries:  envInt("ACTION_MAX_RETRIES", 3),
			AutoExecute: envList("ACTION_AUTO_EXECUTE"),
			Enabled:     envList("ACTION_ENABLED_TYPES"),
		},
		Breaker: BreakerConfig{
			FailureThreshold: envInt("BREAKER_FAILURE_THRESHOLD", 5),
			RecoveryTimeout:  envDuration("BREAKER_RECOVERY_TIMEOUT", 60*time.Second),
			CallTimeout:      envDuration("BREAKER_CALL_TIMEOUT", 90*time.Second),
			CacheTTL:         envDuration("BREAKER_CACHE_TTL", 24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
		SMTP: SMTPConfig{
			Host:       os.Getenv("SMTP_HOST"),
			Port:       envInt("SMTP_PORT", 587),
			Username:   os.Getenv("SMTP_USERNAME"),
			Password:   os.Getenv("SMTP_PASSWORD"),
			From:       os.Getenv("SMTP_FROM"),
			AdminEmail: os.Getenv("ADMIN_EMAIL"),
		},
		SMS: SMSConfig{
			BaseURL: strings.TrimRight(os.Getenv("SMS_GATEWAY_URL"), "/"),
			APIKey:  os.Getenv("SMS_GATEWAY_API_KEY"),
			Sender:  os.Getenv("SMS_SENDER"),
			Timeout: envDuration("SMS_TIMEOUT", 15*time.Second),
		},
		Worker: WorkerConfig{
			Enabled:  envBool("WORKER_ENABLED", false),
			Interval: envDuration("WORKER_INTERVAL", 5*time.Second),
		},
		Retention: RetentionConfig{
			Days: envInt("RETENTION_DAYS", 90),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Catalog.BaseURL == "" {
		return fmt.Errorf("CATALOG_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Catalog.BaseURL, "http://") && !strings.HasPrefix(c.Catalog.BaseURL, "https://") {
		return fmt.Errorf("CATALOG_BASE_URL must start with http:// or https://, got %q", c.Catalog.BaseURL)
	}

	if c.AI.Provider == "" {
		return fmt.Errorf("AI_PROVIDER is required")
	}
	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of ollama, vllm, openai, anthropic; got %q", c.AI.Provider)
	}

	if c.AI.Provider == "openai" && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is openai")
	}
	if c.AI.Provider == "anthropic" && c.AI.Anthropic.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when AI_PROVIDER is anthropic")
	}

	if c.Job.BatchSize < 1 {
		return fmt.Errorf("JOB_BATCH_SIZE must be at least 1, got %d", c.Job.BatchSize)
	}
	if c.Job.MaxErrors < 1 {
		return fmt.Errorf("JOB_MAX_ERRORS must be at least 1, got %d", c.Job.MaxErrors)
	}
	if c.Job.LeaseTTL <= c.Breaker.CallTimeout {
		return fmt.Errorf("JOB_LEASE_TTL (%s) must exceed BREAKER_CALL_TIMEOUT (%s)", c.Job.LeaseTTL, c.Breaker.CallTimeout)
	}
	if c.Job.StaleAfter < c.Job.LeaseTTL {
		return fmt.Errorf("JOB_STALE_AFTER (%s) must be at least JOB_LEASE_TTL (%s)", c.Job.StaleAfter, c.Job.LeaseTTL)
	}
	if c.Actions.MaxRetries < 0 {
		return fmt.Errorf("ACTION_MAX_RETRIES must not be negative, got %d", c.Actions.MaxRetries)
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be at least 1, got %d", c.Breaker.FailureThreshold)
	}

	if c.SMTP.Host != "" && c.SMTP.From == "" {
		return fmt.Errorf("SMTP_FROM is required when SMTP_HOST is set")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envFloatPtr(key string) *float64 {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envLevel(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		return defaultVal
	}
	return l
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	// Server
	Port             string
	Env              string
	LogLevel         string
	HTTPWriteTimeout time.Duration
	CORSOrigin       string

	// Model provider
	LLMProvider          string
	GeminiAPIKey         string
	GeminiModel          string
	GeminiTemperature    float32
	GeminiConcurrentReqs int
	GeminiMaxRetries     int
	GeminiRetryBase      time.Duration

	// Chain
	ChainOutputMode       string
	ChainDepthLimit       int
	ChainDepthMode        string
	ChainMaxTurns         int
	ChainCollapseNewlines bool

	// Redis (optional)
	RedisURL string

	// JWT (optional)
	JWTSecret string

	RateLimitPerMinute int
}

// Load reads .env, the optional YAML file named by CHAIN_CONFIG_FILE and the
// environment, in increasing order of precedence.
func Load() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	if path := os.Getenv("CHAIN_CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	l := newLoader(v)
	apiKey := l.getEnvOrDefault("GEMINI_API_KEY", l.getEnvOrDefault("GOOGLE_GENERATIVE_AI_API_KEY", ""))

	cfg := &Config{
		Port:             l.getEnvOrDefault("PORT", "3000"),
		Env:              l.getEnvOrDefault("ENV", "development"),
		LogLevel:         l.getEnvOrDefault("LOG_LEVEL", "info"),
		HTTPWriteTimeout: l.getEnvAsDurationOrDefault("HTTP_WRITE_TIMEOUT", 5*time.Minute),
		CORSOrigin:       l.getEnvOrDefault("CORS_ORIGIN", "*"),

		LLMProvider:          strings.ToLower(l.getEnvOrDefault("LLM_PROVIDER", "gemini")),
		GeminiAPIKey:         apiKey,
		GeminiModel:          l.getEnvOrDefault("GEMINI_MODEL", "gemini-1.5-flash"),
		GeminiTemperature:    float32(l.getEnvAsFloatOrDefault("GEMINI_TEMPERATURE", 0)),
		GeminiConcurrentReqs: l.getEnvAsIntOrDefault("GEMINI_CONCURRENT_REQUESTS", 5),
		GeminiMaxRetries:     l.getEnvAsIntOrDefault("GEMINI_MAX_RETRIES", 2),
		GeminiRetryBase:      l.getEnvAsDurationOrDefault("GEMINI_RETRY_BASE", 500*time.Millisecond),

		ChainOutputMode:       strings.ToLower(l.getEnvOrDefault("CHAIN_OUTPUT_MODE", "strict")),
		ChainDepthLimit:       l.getEnvAsIntOrDefault("CHAIN_DEPTH_LIMIT", 5),
		ChainDepthMode:        strings.ToLower(l.getEnvOrDefault("CHAIN_DEPTH_MODE", "prompter")),
		ChainMaxTurns:         l.getEnvAsIntOrDefault("CHAIN_MAX_TURNS", 0),
		ChainCollapseNewlines: l.getEnvAsBoolOrDefault("CHAIN_COLLAPSE_NEWLINES", true),

		RedisURL:  l.getEnvOrDefault("REDIS_URL", ""),
		JWTSecret: l.getEnvOrDefault("JWT_SECRET", ""),

		RateLimitPerMinute: l.getEnvAsIntOrDefault("RATE_LIMIT_PER_MINUTE", 30),
	}

	if err := errors.Join(errors.Join(l.errs...), cfg.Validate()); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.LLMProvider {
	case "gemini":
		if c.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY is required when LLM_PROVIDER=gemini"))
		}
	case "mock":
	default:
		errs = append(errs, fmt.Errorf("LLM_PROVIDER must be gemini or mock, got %q", c.LLMProvider))
	}

	if c.ChainOutputMode != "strict" && c.ChainOutputMode != "freeform" {
		errs = append(errs, fmt.Errorf("CHAIN_OUTPUT_MODE must be strict or freeform, got %q", c.ChainOutputMode))
	}
	if c.ChainDepthMode != "prompter" && c.ChainDepthMode != "total" {
		errs = append(errs, fmt.Errorf("CHAIN_DEPTH_MODE must be prompter or total, got %q", c.ChainDepthMode))
	}
	if c.ChainDepthLimit < 1 {
		errs = append(errs, fmt.Errorf("CHAIN_DEPTH_LIMIT must be positive, got %d", c.ChainDepthLimit))
	}
	if c.ChainMaxTurns < 0 || c.ChainMaxTurns > 2*c.ChainDepthLimit {
		errs = append(errs, fmt.Errorf("CHAIN_MAX_TURNS must be between 0 and 2*CHAIN_DEPTH_LIMIT (%d), got %d",
			2*c.ChainDepthLimit, c.ChainMaxTurns))
	}
	if c.GeminiConcurrentReqs < 1 {
		errs = append(errs, fmt.Errorf("GEMINI_CONCURRENT_REQUESTS must be positive, got %d", c.GeminiConcurrentReqs))
	}
	if c.GeminiMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("GEMINI_MAX_RETRIES must not be negative, got %d", c.GeminiMaxRetries))
	}

	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// loader reads typed settings and remembers every value that failed to
// parse, so Load can report them instead of silently using defaults.
type loader struct {
	v    *viper.Viper
	errs []error
}

func newLoader(v *viper.Viper) *loader {
	return &loader{v: v}
}

func (l *loader) invalid(key, val, want string) {
	l.errs = append(l.errs, fmt.Errorf("%s must be %s, got %q", key, want, val))
}

func (l *loader) getEnvOrDefault(key, defaultVal string) string {
	val := strings.TrimSpace(l.v.GetString(key))
	if val == "" {
		return defaultVal
	}
	return val
}

func (l *loader) getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := l.getEnvOrDefault(key, "")
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		l.invalid(key, val, "an integer")
		return defaultVal
	}
	return n
}

func (l *loader) getEnvAsFloatOrDefault(key string, defaultVal float64) float64 {
	val := l.getEnvOrDefault(key, "")
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 32)
	if err != nil {
		l.invalid(key, val, "a number")
		return defaultVal
	}
	return f
}

func (l *loader) getEnvAsBoolOrDefault(key string, defaultVal bool) bool {
	val := l.getEnvOrDefault(key, "")
	switch strings.ToLower(val) {
	case "":
		return defaultVal
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	l.invalid(key, val, "a boolean")
	return defaultVal
}

func (l *loader) getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := l.getEnvOrDefault(key, "")
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		l.invalid(key, val, "a duration")
		return defaultVal
	}
	return d
}

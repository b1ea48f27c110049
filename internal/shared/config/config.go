package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// RouteStep is one hop in a tier's fallback chain
type RouteStep struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// RoutePlan maps a tier name to its ordered provider fallback chain
type RoutePlan map[string][]RouteStep

// Config holds all configuration for the gateway
type Config struct {
	// Server
	Port   string
	Env    string
	AppURL string

	// Storage (both optional; absent means in-memory state and no logs)
	DatabaseURL string
	RedisURL    string

	// Provider API keys, comma-separated per provider
	GroqAPIKeys        []string
	OpenRouterAPIKeys  []string
	HuggingFaceAPIKeys []string

	// Rate limiting
	RateLimitPerMinute int
	RateLimitWindow    time.Duration

	// Daily quota
	UserDailyQuota int

	// Key rotation
	KeyCooldown time.Duration

	// Circuit breaker
	CircuitFailureThreshold int
	CircuitOpenTimeout      time.Duration

	// Background health checks
	HealthCheckInterval time.Duration

	// Upstream requests
	RequestTimeout time.Duration

	// Tier routing
	RoutePlan RoutePlan
}

var knownProviders = map[string]bool{
	"groq":        true,
	"openrouter":  true,
	"huggingface": true,
}

var knownTiers = map[string]bool{
	"fast":     true,
	"balanced": true,
	"smart":    true,
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		AppURL:      getEnv("APP_URL", "https://genz-ai.app"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		GroqAPIKeys:        splitKeys(getEnv("GROQ_API_KEYS", "")),
		OpenRouterAPIKeys:  splitKeys(getEnv("OPENROUTER_API_KEYS", "")),
		HuggingFaceAPIKeys: splitKeys(getEnv("HUGGINGFACE_API_KEYS", "")),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		RateLimitWindow:    getEnvSeconds("RATE_LIMIT_WINDOW_SECONDS", 60),

		UserDailyQuota: getEnvInt("USER_DAILY_QUOTA", 50),

		KeyCooldown: getEnvSeconds("KEY_COOLDOWN_SECONDS", 60),

		CircuitFailureThreshold: getEnvInt("CIRCUIT_FAILURE_THRESHOLD", 5),
		CircuitOpenTimeout:      getEnvSeconds("CIRCUIT_OPEN_TIMEOUT_SECONDS", 60),

		HealthCheckInterval: getEnvSeconds("HEALTH_CHECK_INTERVAL_SECONDS", 30),
		RequestTimeout:      getEnvSeconds("REQUEST_TIMEOUT_SECONDS", 30),
	}

	plan, err := loadRoutePlan(getEnv("ROUTE_PLAN_FILE", ""))
	if err != nil {
		return nil, err
	}
	cfg.RoutePlan = plan

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that every tier can be served with the configured keys.
// Routing never discovers a dead tier at request time.
func (c *Config) Validate() error {
	if len(c.GroqAPIKeys)+len(c.OpenRouterAPIKeys)+len(c.HuggingFaceAPIKeys) == 0 {
		return fmt.Errorf("at least one provider needs API keys (GROQ_API_KEYS, OPENROUTER_API_KEYS, or HUGGINGFACE_API_KEYS)")
	}

	for tier, steps := range c.RoutePlan {
		if len(steps) == 0 {
			return fmt.Errorf("tier %q has an empty fallback chain", tier)
		}
		usable := false
		for _, step := range steps {
			if len(c.KeysFor(step.Provider)) > 0 {
				usable = true
				break
			}
		}
		if !usable {
			return fmt.Errorf("tier %q has no provider with configured API keys", tier)
		}
	}

	return nil
}

// KeysFor returns the configured API keys for a provider
func (c *Config) KeysFor(provider string) []string {
	switch provider {
	case "groq":
		return c.GroqAPIKeys
	case "openrouter":
		return c.OpenRouterAPIKeys
	case "huggingface":
		return c.HuggingFaceAPIKeys
	}
	return nil
}

// APIKeysByProvider returns the providers that actually have keys
func (c *Config) APIKeysByProvider() map[string][]string {
	keys := make(map[string][]string)
	for provider := range knownProviders {
		if list := c.KeysFor(provider); len(list) > 0 {
			keys[provider] = list
		}
	}
	return keys
}

// defaultRoutePlan is the built-in tier routing
func defaultRoutePlan() RoutePlan {
	return RoutePlan{
		"fast": {
			{Provider: "groq", Model: "llama-3.1-8b-instant"},
			{Provider: "openrouter", Model: "meta-llama/llama-3.1-8b-instruct"},
		},
		"balanced": {
			{Provider: "openrouter", Model: "anthropic/claude-3-haiku"},
			{Provider: "groq", Model: "llama-3.1-70b-versatile"},
			{Provider: "huggingface", Model: "mistralai/Mistral-7B-Instruct-v0.2"},
		},
		"smart": {
			{Provider: "openrouter", Model: "openai/gpt-4o-mini"},
			{Provider: "huggingface", Model: "mistralai/Mistral-7B-Instruct-v0.2"},
			{Provider: "groq", Model: "mixtral-8x7b-32768"},
		},
	}
}

// loadRoutePlan returns the default plan, with per-tier overrides from a
// YAML file when one is configured
func loadRoutePlan(path string) (RoutePlan, error) {
	plan := defaultRoutePlan()
	if path == "" {
		return plan, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read route plan file: %w", err)
	}

	var overrides RoutePlan
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse route plan file: %w", err)
	}

	for tier, steps := range overrides {
		if !knownTiers[tier] {
			return nil, fmt.Errorf("route plan file names unknown tier %q", tier)
		}
		for _, step := range steps {
			if !knownProviders[step.Provider] {
				return nil, fmt.Errorf("tier %q names unknown provider %q", tier, step.Provider)
			}
			if step.Model == "" {
				return nil, fmt.Errorf("tier %q has a step without a model", tier)
			}
		}
		plan[tier] = steps
	}

	return plan, nil
}

// splitKeys parses a comma-separated key list, dropping empty entries and
// unfilled .env placeholders
func splitKeys(raw string) []string {
	var keys []string
	for _, part := range strings.Split(raw, ",") {
		key := strings.TrimSpace(part)
		if key == "" {
			continue
		}
		if strings.HasPrefix(key, "your-") || strings.HasPrefix(key, "your_") {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, defaultSeconds)) * time.Second
}

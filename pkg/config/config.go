// Package config loads server configuration from the environment and an
// optional helmsman.yaml file. Environment variables win over YAML; defaults
// live in code.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/helmsman-ai/helmsman/pkg/models"
)

// Config is the fully resolved server configuration.
type Config struct {
	HTTPPort string

	// Concurrency and resource bounds.
	AgentConcurrency      int           // global semaphore for agent activations
	QueueDepth            int           // waiters beyond this refuse new work
	RingSize              int           // debug trace ring capacity
	WorkingMemoryCapacity int           // per-task working memory items
	PatternCacheTTL       time.Duration // experience pattern cache TTL
	QualityThreshold      float64       // quality controller pass bar
	RequestTimeout        time.Duration // per-task budget
	HeartbeatInterval     time.Duration // WS ping cadence
	Retention             time.Duration // finished task/episode retention, 0 disables cleanup

	LLM       LLMConfig
	Embedding EmbeddingConfig
	Auth      AuthConfig
	KB        KBConfig

	// Declarative KB collections (seeded at startup if missing).
	Collections []CollectionConfig
}

// LLMConfig points at the OpenAI-compatible chat completion endpoint.
type LLMConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// EmbeddingConfig points at the embedding endpoint. The model is a
// configuration point; the facade makes no assumption about it.
type EmbeddingConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// AuthConfig holds credentials loaded only from the environment.
// Empty admin credentials put the server in guest-only mode.
type AuthConfig struct {
	AdminUser     string
	AdminPassword string
	GuestUser     string
	GuestPassword string
}

// KBConfig configures the on-disk vector store.
type KBConfig struct {
	DataDir  string
	Compress bool
}

// CollectionConfig declares a KB collection in helmsman.yaml.
type CollectionConfig struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	Category    string          `yaml:"category"`
	Skills      models.KBSkills `yaml:"skills"`
}

type yamlConfig struct {
	Collections []CollectionConfig `yaml:"collections"`
}

// Load resolves configuration from configDir/.env, configDir/helmsman.yaml,
// and the process environment.
func Load(configDir string) (*Config, error) {
	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	cfg := &Config{
		HTTPPort:              getEnv("HTTP_PORT", "8080"),
		AgentConcurrency:      getEnvInt("AGENT_CONCURRENCY", 5),
		QueueDepth:            getEnvInt("QUEUE_DEPTH", 50),
		RingSize:              getEnvInt("DEBUG_RING_SIZE", 2000),
		WorkingMemoryCapacity: getEnvInt("WORKING_MEMORY_CAPACITY", 20),
		PatternCacheTTL:       getEnvDuration("PATTERN_CACHE_TTL", 300*time.Second),
		QualityThreshold:      getEnvFloat("QUALITY_THRESHOLD", 0.6),
		RequestTimeout:        getEnvDuration("REQUEST_TIMEOUT", 120*time.Second),
		HeartbeatInterval:     getEnvDuration("WS_HEARTBEAT_INTERVAL", 30*time.Second),
		Retention:             getEnvDuration("TASK_RETENTION", 0),
		LLM: LLMConfig{
			BaseURL:     getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
			APIKey:      os.Getenv("LLM_API_KEY"),
			Model:       getEnv("LLM_MODEL", "gpt-4o-mini"),
			Temperature: float32(getEnvFloat("LLM_TEMPERATURE", 0.3)),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 2048),
			Timeout:     getEnvDuration("LLM_TIMEOUT", 60*time.Second),
		},
		Embedding: EmbeddingConfig{
			BaseURL: getEnv("EMBEDDING_BASE_URL", getEnv("LLM_BASE_URL", "https://api.openai.com/v1")),
			APIKey:  getEnv("EMBEDDING_API_KEY", os.Getenv("LLM_API_KEY")),
			Model:   getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		},
		Auth: AuthConfig{
			AdminUser:     os.Getenv("AUTH_ADMIN_USER"),
			AdminPassword: os.Getenv("AUTH_ADMIN_PASSWORD"),
			GuestUser:     os.Getenv("AUTH_GUEST_USER"),
			GuestPassword: os.Getenv("AUTH_GUEST_PASSWORD"),
		},
		KB: KBConfig{
			DataDir:  getEnv("KB_DATA_DIR", "./data/kb"),
			Compress: getEnvBool("KB_COMPRESS", false),
		},
	}

	yamlPath := filepath.Join(configDir, "helmsman.yaml")
	if data, err := os.ReadFile(yamlPath); err == nil {
		var yc yamlConfig
		if err := yaml.Unmarshal(expandEnv(data), &yc); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", yamlPath, err)
		}
		cfg.Collections = yc.Collections
		slog.Info("Loaded YAML configuration", "path", yamlPath, "collections", len(yc.Collections))
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.AgentConcurrency <= 0 {
		return fmt.Errorf("AGENT_CONCURRENCY must be positive, got %d", c.AgentConcurrency)
	}
	if c.RingSize <= 0 {
		return fmt.Errorf("DEBUG_RING_SIZE must be positive, got %d", c.RingSize)
	}
	if c.WorkingMemoryCapacity <= 0 {
		return fmt.Errorf("WORKING_MEMORY_CAPACITY must be positive, got %d", c.WorkingMemoryCapacity)
	}
	if c.QualityThreshold < 0 || c.QualityThreshold > 1 {
		return fmt.Errorf("QUALITY_THRESHOLD must be in [0,1], got %v", c.QualityThreshold)
	}
	return nil
}

// GuestOnly reports whether no admin credentials are configured. The server
// then accepts guest logins only (fail-closed for admin).
func (c *AuthConfig) GuestOnly() bool {
	return c.AdminUser == "" || c.AdminPassword == ""
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		slog.Warn("Invalid integer in environment, using default", "key", key, "value", v, "default", def)
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		slog.Warn("Invalid float in environment, using default", "key", key, "value", v, "default", def)
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		// Bare numbers are treated as seconds.
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
		slog.Warn("Invalid duration in environment, using default", "key", key, "value", v, "default", def)
	}
	return def
}

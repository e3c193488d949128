package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/lexiqai/story-pipeline/internal/story"
)

// Config holds all configuration for the story pipeline service
type Config struct {
	// Server configuration
	Port     string `envconfig:"PORT" default:"5000"`
	GRPCPort string `envconfig:"GRPC_PORT" default:"50051"` // gRPC health endpoint

	// Story set selection. CONFIG_NAME picks the dialogue file and the
	// audio subdirectory, so several story sets can share one audio root.
	ConfigName   string `envconfig:"CONFIG_NAME" default:"default"`
	ConfigDir    string `envconfig:"CONFIG_DIR" default:"config"`
	AudioRoot    string `envconfig:"AUDIO_ROOT" default:"audio"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:"stories.db"`

	// OpenAI text generation
	OpenAIAPIKey      string  `envconfig:"OPENAI_API_KEY" required:"true"`
	OpenAIAPIBase     string  `envconfig:"OPENAI_API_BASE" default:"https://api.openai.com/v1"`
	OpenAIModel       string  `envconfig:"OPENAI_MODEL" default:"gpt-3.5-turbo"`
	OpenAITemperature float64 `envconfig:"OPENAI_TEMPERATURE" default:"0.7"`
	OpenAITimeout     int     `envconfig:"OPENAI_TIMEOUT" default:"60"` // seconds

	// Voice synthesis. TTS_BACKEND overrides voice_generator from the dialogue file.
	TTSBackend           string  `envconfig:"TTS_BACKEND" default:""`
	DeepgramAPIKey       string  `envconfig:"DEEPGRAM_API_KEY" default:""`
	CartesiaAPIKey       string  `envconfig:"CARTESIA_API_KEY" default:""`
	CartesiaModelID      string  `envconfig:"CARTESIA_MODEL_ID" default:"sonic"`
	CartesiaSampleRate   int     `envconfig:"CARTESIA_SAMPLE_RATE" default:"24000"` // requested rate, resampled to 24kHz
	TTSRequestsPerSecond float64 `envconfig:"TTS_REQUESTS_PER_SECOND" default:"5"`
	SynthesisTimeout     int     `envconfig:"SYNTHESIS_TIMEOUT" default:"5"`  // seconds, per fan-out batch
	SynthesisWorkers     int     `envconfig:"SYNTHESIS_WORKERS" default:"16"` // worker pool size
	ManifestEnabled      bool    `envconfig:"MANIFEST_ENABLED" default:"true"`

	// Quotas
	MaxSystemStories       int            `envconfig:"MAX_SYSTEM_STORIES" default:"10"`
	StoryClassCaps         map[string]int `envconfig:"STORY_CLASS_CAPS" default:"RSS:100"` // merged with MAX_SYSTEM_STORIES
	MaxSystemTopics        int            `envconfig:"MAX_SYSTEM_TOPICS" default:"5"`
	TopicGeneratorInterval int            `envconfig:"TOPIC_GENERATOR_INTERVAL" default:"10"` // seconds

	// Pipeline backoffs in seconds
	IdleBackoff      int `envconfig:"IDLE_BACKOFF" default:"10"`
	QuotaBackoff     int `envconfig:"QUOTA_BACKOFF" default:"10"`
	TransientBackoff int `envconfig:"TRANSIENT_BACKOFF" default:"30"`
	DiscardBackoff   int `envconfig:"DISCARD_BACKOFF" default:"10"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Storage open attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Milliseconds between storage open attempts

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks required fields and value ranges
func (c *Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.SynthesisTimeout <= 0 {
		return fmt.Errorf("SYNTHESIS_TIMEOUT must be positive, got %d", c.SynthesisTimeout)
	}
	if c.SynthesisWorkers <= 0 {
		return fmt.Errorf("SYNTHESIS_WORKERS must be positive, got %d", c.SynthesisWorkers)
	}
	for name, limit := range c.StoryClassCaps {
		if _, err := story.ParsePriorityClass(name); err != nil {
			return fmt.Errorf("STORY_CLASS_CAPS: %w", err)
		}
		if limit < 0 {
			return fmt.Errorf("STORY_CLASS_CAPS: %s cap must not be negative, got %d", name, limit)
		}
	}
	return nil
}

// ClassCaps returns the story cap per priority class, keyed by the canonical
// class whatever case STORY_CLASS_CAPS used. Unknown names are skipped here
// and rejected by Validate. MAX_SYSTEM_STORIES always sets the System cap.
func (c *Config) ClassCaps() map[story.PriorityClass]int {
	caps := make(map[story.PriorityClass]int, len(c.StoryClassCaps)+1)
	for name, limit := range c.StoryClassCaps {
		class, err := story.ParsePriorityClass(name)
		if err != nil {
			continue
		}
		caps[class] = limit
	}
	caps[story.ClassSystem] = c.MaxSystemStories
	return caps
}

// AudioDir is the directory holding per-story output directories
func (c *Config) AudioDir() string {
	return filepath.Join(c.AudioRoot, c.ConfigName)
}

// Seconds converts an integer seconds setting into a duration
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Millis converts an integer milliseconds setting into a duration
func Millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

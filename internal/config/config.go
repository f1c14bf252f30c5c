package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config carries the full server configuration, loaded from environment
// variables.
type Config struct {
	// HTTP server settings
	Port           string        `envconfig:"PORT" default:"8080"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"300s"`

	// Logging settings
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogEncoding string `envconfig:"LOG_ENCODING" default:"json"`

	// Redis settings
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// AI settings (any OpenAI-compatible endpoint)
	AIBaseURL     string        `envconfig:"AI_BASE_URL" default:"https://openrouter.ai/api/v1"`
	AIAPIKey      string        `envconfig:"AI_API_KEY" required:"true"`
	AIModel       string        `envconfig:"AI_MODEL" default:"deepseek/deepseek-chat"`
	AILightModel  string        `envconfig:"AI_LIGHT_MODEL" default:"deepseek/deepseek-chat"`
	AIMaxAttempts int           `envconfig:"AI_MAX_ATTEMPTS" default:"2"`
	AICallTimeout time.Duration `envconfig:"AI_CALL_TIMEOUT" default:"90s"`

	// Image rendering settings
	ImageServerURL string        `envconfig:"IMAGE_SERVER_URL" default:"http://localhost:8081"`
	ImageModel     string        `envconfig:"IMAGE_MODEL" default:"flux-schnell"`
	ImageProModel  string        `envconfig:"IMAGE_PRO_MODEL" default:"flux-pro"`
	ImageTimeout   time.Duration `envconfig:"IMAGE_TIMEOUT" default:"120s"`

	// Story settings
	PromptsDir              string `envconfig:"PROMPTS_DIR" default:"./prompts"`
	MinChoicesForGoodEnding int    `envconfig:"MIN_CHOICES_FOR_GOOD_ENDING" default:"15"`
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return &cfg, nil
}

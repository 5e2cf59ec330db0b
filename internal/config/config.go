// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Checkpoint backends.
const (
	BackendSQLite   = "sqlite"
	BackendBolt     = "bolt"
	BackendDynamoDB = "dynamodb"
	BackendMemory   = "memory"
)

// Model providers.
const (
	ProviderEcho   = "echo"
	ProviderOpenAI = "openai"
	ProviderGRPC   = "grpc"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	AppEnv      string
	DBPath      string
	PromptsPath string
	RedisAddr   string

	Checkpoint CheckpointConfig
	Model      ModelConfig
	Quiz       QuizConfig
	Answer     AnswerConfig
	RateLimit  RateLimitConfig

	// ProfileGRPCAddr selects the gRPC profile collaborator when set.
	ProfileGRPCAddr string
	// DictationIdleTTL closes dictation recorders with no traffic.
	DictationIdleTTL time.Duration
}

// CheckpointConfig selects and configures the checkpoint backend.
type CheckpointConfig struct {
	Backend       string
	BoltPath      string
	DynamoDBTable string
	AWSRegion     string
}

// ModelConfig configures the model collaborator.
type ModelConfig struct {
	Provider    string
	Name        string
	BaseURL     string
	APIKey      string
	APIKeyParam string
	GRPCAddr    string
	Timeout     time.Duration
}

// QuizConfig configures quiz sessions.
type QuizConfig struct {
	MaxQuestions    int
	RequireDocument bool
}

// AnswerConfig configures answer formulation.
type AnswerConfig struct {
	PollInterval time.Duration
	PauseAfter   time.Duration
	SampleRate   float64
	Threshold    float64
}

// RateLimitConfig bounds turns per user.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		AppEnv:      getEnv("APP_ENV", ""),
		DBPath:      getEnv("DB_PATH", "./data/tutor.db"),
		PromptsPath: getEnv("PROMPTS_PATH", ""),
		RedisAddr:   getEnv("REDIS_ADDR", ""),
		Checkpoint: CheckpointConfig{
			Backend:       strings.ToLower(getEnv("CHECKPOINT_BACKEND", BackendSQLite)),
			BoltPath:      getEnv("BOLT_PATH", "./data/checkpoints.bolt"),
			DynamoDBTable: getEnv("DYNAMODB_TABLE", ""),
			AWSRegion:     getEnv("AWS_REGION", ""),
		},
		Model: ModelConfig{
			Provider:    strings.ToLower(getEnv("MODEL_PROVIDER", ProviderEcho)),
			Name:        getEnv("MODEL_NAME", "gpt-4o-mini"),
			BaseURL:     getEnv("MODEL_BASE_URL", ""),
			APIKey:      getEnv("MODEL_API_KEY", ""),
			APIKeyParam: getEnv("MODEL_API_KEY_PARAM", ""),
			GRPCAddr:    getEnv("MODEL_GRPC_ADDR", "localhost:50051"),
			Timeout:     getEnvDuration("MODEL_TIMEOUT", 30*time.Second),
		},
		Quiz: QuizConfig{
			MaxQuestions:    getEnvInt("QUIZ_MAX_QUESTIONS", 5),
			RequireDocument: getEnvBool("QUIZ_REQUIRE_DOCUMENT", false),
		},
		Answer: AnswerConfig{
			PollInterval: getEnvDuration("AUTOPAUSE_POLL_INTERVAL", 100*time.Millisecond),
			PauseAfter:   getEnvDuration("AUTOPAUSE_DURATION", 3*time.Second),
			SampleRate:   getEnvFloat("FIDELITY_SAMPLE_RATE", 0.10),
			Threshold:    getEnvFloat("FIDELITY_THRESHOLD", 0.7),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 30),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		ProfileGRPCAddr:  getEnv("PROFILE_GRPC_ADDR", ""),
		DictationIdleTTL: getEnvDuration("DICTATION_IDLE_TTL", 10*time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.Checkpoint.Backend {
	case BackendSQLite, BackendMemory:
	case BackendBolt:
		if c.Checkpoint.BoltPath == "" {
			return fmt.Errorf("BOLT_PATH cannot be empty for the bolt backend")
		}
	case BackendDynamoDB:
		if c.Checkpoint.DynamoDBTable == "" {
			return fmt.Errorf("DYNAMODB_TABLE cannot be empty for the dynamodb backend")
		}
	default:
		return fmt.Errorf("CHECKPOINT_BACKEND %q is not one of sqlite, bolt, dynamodb, memory", c.Checkpoint.Backend)
	}
	if c.DBPath == "" && c.Checkpoint.Backend != BackendMemory {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	switch c.Model.Provider {
	case ProviderEcho:
	case ProviderOpenAI:
		if c.Model.APIKey == "" && c.Model.APIKeyParam == "" {
			return fmt.Errorf("MODEL_API_KEY or MODEL_API_KEY_PARAM is required for the openai provider")
		}
	case ProviderGRPC:
		if c.Model.GRPCAddr == "" {
			return fmt.Errorf("MODEL_GRPC_ADDR cannot be empty for the grpc provider")
		}
	default:
		return fmt.Errorf("MODEL_PROVIDER %q is not one of echo, openai, grpc", c.Model.Provider)
	}
	if c.Model.Timeout <= 0 {
		return fmt.Errorf("MODEL_TIMEOUT must be > 0")
	}
	if c.Quiz.MaxQuestions <= 0 {
		return fmt.Errorf("QUIZ_MAX_QUESTIONS must be > 0")
	}
	if c.Answer.PollInterval <= 0 || c.Answer.PauseAfter <= 0 {
		return fmt.Errorf("AUTOPAUSE_POLL_INTERVAL and AUTOPAUSE_DURATION must be > 0")
	}
	if c.Answer.SampleRate < 0 || c.Answer.SampleRate > 1 {
		return fmt.Errorf("FIDELITY_SAMPLE_RATE must be within [0, 1]")
	}
	if c.Answer.Threshold < 0 || c.Answer.Threshold > 1 {
		return fmt.Errorf("FIDELITY_THRESHOLD must be within [0, 1]")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.DictationIdleTTL <= 0 {
		return fmt.Errorf("DICTATION_IDLE_TTL must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if c.AppEnv != "" {
		return c.AppEnv == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the configured frontend.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"http://localhost:5173", "http://localhost:8080"}
	}
	var origins []string
	for _, o := range strings.Split(c.FrontendURL, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, strings.TrimRight(o, "/"))
		}
	}
	return origins
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("250ms") and bare seconds ("3").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}

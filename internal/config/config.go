package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"claims-orchestrator/internal/domain"
	"claims-orchestrator/internal/logging"
	"claims-orchestrator/internal/state"
)

const (
	defaultHTTPPort        = "8080"
	defaultMetricsPort     = "9090"
	defaultTemporalAddress = "localhost:7233"
	defaultTemporalNS      = "default"
	defaultTaskQueue       = "claims-task-queue"
	defaultOpenAIModel     = "gpt-4o-mini"
	defaultOpenAITimeout   = 30
	defaultOpenAIMaxRetry  = 3
	defaultMinioEndpoint   = "localhost:9000"
	defaultMinioBucket     = "claims"
	defaultRedisAddr       = "localhost:6379"
)

type Config struct {
	HTTPPort           string
	MetricsPort        string
	PostgresDSN        string
	TemporalAddress    string
	TemporalNamespace  string
	TemporalTaskQueue  string
	OpenAIAPIKey       string
	OpenAIModel        string
	OpenAIBaseURL      string
	OpenAITimeoutSec   int
	OpenAIMaxRetry     int
	MinioEndpoint      string
	MinioAccessKey     string
	MinioSecretKey     string
	MinioBucket        string
	MinioUseSSL        bool
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	WorkflowIDPrefix   string
	AllowedUploadBytes int64
	LogLevel           string
	LogJSON            bool

	Routing               domain.RoutingPolicy
	MaxCorrectionAttempts int
	RoutingPolicyFile     string
}

// routingFile is the optional YAML routing policy. Environment variables
// override any value it sets.
type routingFile struct {
	AutoProcessThreshold  *float64 `yaml:"auto_process_threshold"`
	CorrectionThreshold   *float64 `yaml:"correction_threshold"`
	MaxCorrectionAttempts *int     `yaml:"max_correction_attempts"`
}

func Load() (Config, error) {
	cfg := Config{
		HTTPPort:           getenv("HTTP_PORT", defaultHTTPPort),
		MetricsPort:        getenv("METRICS_PORT", defaultMetricsPort),
		PostgresDSN:        os.Getenv("POSTGRES_DSN"),
		TemporalAddress:    getenv("TEMPORAL_ADDRESS", defaultTemporalAddress),
		TemporalNamespace:  getenv("TEMPORAL_NAMESPACE", defaultTemporalNS),
		TemporalTaskQueue:  getenv("TEMPORAL_TASK_QUEUE", defaultTaskQueue),
		OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:        getenv("OPENAI_MODEL", defaultOpenAIModel),
		OpenAIBaseURL:      os.Getenv("OPENAI_BASE_URL"),
		OpenAITimeoutSec:   getenvInt("OPENAI_TIMEOUT_SEC", defaultOpenAITimeout),
		OpenAIMaxRetry:     getenvInt("OPENAI_MAX_RETRY", defaultOpenAIMaxRetry),
		MinioEndpoint:      getenv("MINIO_ENDPOINT", defaultMinioEndpoint),
		MinioAccessKey:     os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey:     os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:        getenv("MINIO_BUCKET", defaultMinioBucket),
		MinioUseSSL:        getenvBool("MINIO_USE_SSL", false),
		RedisAddr:          getenv("REDIS_ADDR", defaultRedisAddr),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            getenvInt("REDIS_DB", 0),
		WorkflowIDPrefix:   getenv("WORKFLOW_ID_PREFIX", "claim"),
		AllowedUploadBytes: int64(getenvInt("MAX_UPLOAD_BYTES", 10*1024*1024)),
		LogLevel:           getenv("LOG_LEVEL", string(logging.LevelInfo)),
		LogJSON:            getenvBool("LOG_JSON", true),
		RoutingPolicyFile:  os.Getenv("ROUTING_POLICY_FILE"),

		Routing:               domain.DefaultRoutingPolicy(),
		MaxCorrectionAttempts: domain.DefaultMaxCorrectionAttempts,
	}

	if cfg.RoutingPolicyFile != "" {
		if err := cfg.applyRoutingFile(cfg.RoutingPolicyFile); err != nil {
			return Config{}, err
		}
	}
	cfg.Routing.AutoProcessThreshold = getenvFloat("AUTO_PROCESS_THRESHOLD", cfg.Routing.AutoProcessThreshold)
	cfg.Routing.CorrectionThreshold = getenvFloat("CORRECTION_THRESHOLD", cfg.Routing.CorrectionThreshold)
	cfg.MaxCorrectionAttempts = getenvInt("MAX_CORRECTION_ATTEMPTS", cfg.MaxCorrectionAttempts)

	if cfg.PostgresDSN == "" {
		return Config{}, fmt.Errorf("POSTGRES_DSN is required")
	}
	if err := cfg.Routing.Validate(); err != nil {
		return Config{}, fmt.Errorf("routing policy: %w", err)
	}
	if cfg.MaxCorrectionAttempts < 0 {
		return Config{}, fmt.Errorf("MAX_CORRECTION_ATTEMPTS must not be negative")
	}

	return cfg, nil
}

func (c *Config) applyRoutingFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read routing policy file: %w", err)
	}
	var rf routingFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return fmt.Errorf("parse routing policy file %s: %w", path, err)
	}
	if rf.AutoProcessThreshold != nil {
		c.Routing.AutoProcessThreshold = *rf.AutoProcessThreshold
	}
	if rf.CorrectionThreshold != nil {
		c.Routing.CorrectionThreshold = *rf.CorrectionThreshold
	}
	if rf.MaxCorrectionAttempts != nil {
		c.MaxCorrectionAttempts = *rf.MaxCorrectionAttempts
	}
	return nil
}

// StateConfig builds the state manager settings for a process with the given
// cache mode.
func (c Config) StateConfig(mode state.CacheMode) state.Config {
	return state.Config{
		MaxCorrectionAttempts: c.MaxCorrectionAttempts,
		Routing:               c.Routing,
		Cache:                 mode,
	}
}

func (c Config) LoggingConfig(service string) logging.Config {
	return logging.Config{
		Level:       logging.Level(c.LogLevel),
		ServiceName: service,
		JSONFormat:  c.LogJSON,
	}
}

func getenv(key string, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

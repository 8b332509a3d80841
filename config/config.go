package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	// Server
	ServerPort string
	Stage      string // Optional route prefix for reverse-proxy mounting
	ModelPath  string // Directory downloaded model artifacts are cached in

	// llama-server runtime
	LlamaServerBin          string
	LlamaServerBasePort     int
	LlamaServerReadyTimeout time.Duration

	// Database, optional
	DatabaseURL string

	// AWS
	AWSRegion             string
	StateMachineARN       string
	SageMakerEndpointName string
	ModelBucketName       string
	ModelBucketKeyName    string
	ChainPollInterval     time.Duration

	// Lambda callbacks
	TriggerHandler string // on-event | is-complete
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		ServerPort: getEnv("SERVER_PORT", "8080"),
		Stage:      getEnv("STAGE", ""),
		ModelPath:  getEnv("MODELPATH", "/opt/ml/model"),

		LlamaServerBin:          getEnv("LLAMA_SERVER_BIN", "llama-server"),
		LlamaServerBasePort:     getEnvInt("LLAMA_SERVER_BASE_PORT", 8200),
		LlamaServerReadyTimeout: getEnvDuration("LLAMA_SERVER_READY_TIMEOUT", 5*time.Minute),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		AWSRegion:             getEnv("AWS_REGION", "us-east-1"),
		StateMachineARN:       getEnv("STATE_MACHINE_ARN", ""),
		SageMakerEndpointName: getEnv("SAGEMAKER_ENDPOINT_NAME", ""),
		ModelBucketName:       getEnv("MODEL_BUCKET_NAME", ""),
		ModelBucketKeyName:    getEnv("MODEL_BUCKET_KEY_NAME", ""),
		ChainPollInterval:     getEnvDuration("CHAIN_POLL_INTERVAL", 30*time.Second),

		TriggerHandler: getEnv("TRIGGER_HANDLER", "on-event"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultValue
}

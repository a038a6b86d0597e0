package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port               string
	Env                string
	LogLevel           string
	LogFormat          string
	CORSAllowedOrigins []string

	// Remote diagnosis backend
	DiagnosisAPIURL  string
	DiagnosisTimeout time.Duration

	// Prediction persistence
	PersistTimeout   time.Duration
	DatabaseURL      string
	PredictionsTable string
	SupabaseURL      string
	SupabaseKey      string

	// Prediction archive (S3)
	AWSRegion               string
	AWSAccessKeyID          string
	AWSSecretAccessKey      string
	AWSEndpointOverride     string
	PredictionArchiveBucket string

	// Speech audio cache
	RedisAddr      string
	RedisPassword  string
	RedisTLS       bool
	SpeechCacheTTL time.Duration

	SessionTTL    time.Duration
	MaxImageBytes int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          strings.ToLower(getEnv("LOG_FORMAT", "json")),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", nil),

		DiagnosisAPIURL:  strings.TrimRight(getEnv("DIAGNOSIS_API_URL", "http://localhost:5000/api"), "/"),
		DiagnosisTimeout: getEnvAsDuration("DIAGNOSIS_TIMEOUT", 30*time.Second),

		PersistTimeout:   getEnvAsDuration("PERSIST_TIMEOUT", 10*time.Second),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		PredictionsTable: getEnv("PREDICTIONS_TABLE", "predictions"),
		SupabaseURL:      strings.TrimRight(getEnv("SUPABASE_URL", ""), "/"),
		SupabaseKey:      getEnv("SUPABASE_KEY", ""),

		AWSRegion:               getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:     getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		PredictionArchiveBucket: getEnv("PREDICTION_ARCHIVE_BUCKET", ""),

		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisTLS:       getEnvAsBool("REDIS_TLS", false),
		SpeechCacheTTL: getEnvAsDuration("SPEECH_CACHE_TTL", 24*time.Hour),

		SessionTTL:    getEnvAsDuration("SESSION_TTL", 30*time.Minute),
		MaxImageBytes: getEnvAsInt("MAX_IMAGE_BYTES", 10<<20),
	}
}

// IsProduction reports whether ENV names a production deployment.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Env))
	return env == "production" || env == "prod"
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping blank entries.
func getEnvAsList(key string, defaultValue []string) []string {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

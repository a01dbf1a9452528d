package config

import (
	"fmt"
	"os"
	"strconv"
)

// Output store backends selectable with OUTPUT_STORE.
const (
	OutputStoreNone  = "none"
	OutputStoreLocal = "local"
	OutputStoreS3    = "s3"
)

type Config struct {
	// Shell task
	TaskName string
	Shell    string
	Dir      string
	Command  string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	RedisHost  string
	RedisPort  string
	APIPort    string

	LogLevel    string
	LogEncoding string
	LogOutput   string

	TracingEnabled      bool
	OTELEndpoint        string
	TracingSamplingRate float64

	OutputStore   string
	OutputDir     string
	S3Bucket      string
	S3Prefix      string
	S3Region      string
	S3Endpoint    string
	S3AccessKeyID string
	S3SecretKey   string
	S3CacheDir    string

	ExecutorConcurrency int
}

func LoadConfig() *Config {
	return &Config{
		TaskName: getEnv("TASK_NAME", "shell"),
		Shell:    getEnv("SHELL_TASK_SHELL", "bash"),
		Dir:      getEnv("SHELL_TASK_CD", ""),
		Command:  getEnv("SHELL_TASK_COMMAND", ""),

		DBHost:     getEnv("DB_HOST", ""),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "shelltask"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "shelltask"),
		RedisHost:  getEnv("REDIS_HOST", "localhost"),
		RedisPort:  getEnv("REDIS_PORT", "6379"),
		APIPort:    getEnv("API_PORT", "8080"),

		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogEncoding: getEnv("LOG_ENCODING", "json"),
		LogOutput:   getEnv("LOG_OUTPUT", "stderr"),

		TracingEnabled:      getEnvAsBool("TRACING_ENABLED", false),
		OTELEndpoint:        getEnv("OTEL_ENDPOINT", "localhost:4318"),
		TracingSamplingRate: getEnvAsFloat("TRACING_SAMPLING_RATE", 1.0),

		OutputStore:   getEnv("OUTPUT_STORE", OutputStoreNone),
		OutputDir:     getEnv("OUTPUT_DIR", "/var/lib/shelltask/output"),
		S3Bucket:      getEnv("S3_BUCKET", ""),
		S3Prefix:      getEnv("S3_PREFIX", "runs/output/"),
		S3Region:      getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:    getEnv("S3_ENDPOINT", ""),
		S3AccessKeyID: getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretKey:   getEnv("S3_SECRET_ACCESS_KEY", ""),
		S3CacheDir:    getEnv("S3_CACHE_DIR", ""),

		ExecutorConcurrency: getEnvAsInt("EXECUTOR_CONCURRENCY", 0),
	}
}

// DSN returns the Postgres connection string, or "" when DB_HOST is unset.
func (c *Config) DSN() string {
	if c.DBHost == "" {
		return ""
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return fallback
}

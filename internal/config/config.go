package config

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerAddr string
	LogLevel   string

	// Download pipeline
	DownloadDir    string
	MaxConcurrent  int
	QueueCapacity  int
	JobTimeout     time.Duration
	MinOutputBytes int64
	MemoryFloorMB  uint64

	// Segmented streams
	SegmentWorkers int

	// Auth (token endpoint disabled when APIKeyHash is empty)
	JWTSecret  string
	APIKeyHash string

	// Postgres job history (optional collaborator)
	DBHost           string
	DBPort           string
	DBUser           string
	DBPassword       string
	DBName           string
	DBEnabled        bool
	HistoryRetention time.Duration

	// Redis progress cache (optional collaborator)
	RedisAddr    string
	RedisEnabled bool

	// MinIO/S3 artifact storage (optional collaborator)
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	MinioEnabled   bool
}

func Load() *Config {
	maxConcurrent, _ := strconv.Atoi(getEnvOrDefault("MAX_CONCURRENT_DOWNLOADS", "3"))
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}

	queueCapacity, _ := strconv.Atoi(getEnvOrDefault("MAX_QUEUE_SIZE", "100"))
	if queueCapacity <= 0 {
		queueCapacity = 100
	}

	jobTimeout, err := time.ParseDuration(getEnvOrDefault("JOB_TIMEOUT", "30m"))
	if err != nil || jobTimeout <= 0 {
		jobTimeout = 30 * time.Minute
	}

	minOutput, _ := strconv.ParseInt(getEnvOrDefault("MIN_OUTPUT_BYTES", "1024"), 10, 64)
	if minOutput <= 0 {
		minOutput = 1024
	}

	memoryFloor, _ := strconv.ParseUint(getEnvOrDefault("MEMORY_FLOOR_MB", "500"), 10, 64)

	segmentWorkers, _ := strconv.Atoi(getEnvOrDefault("SEGMENT_WORKERS", "8"))
	if segmentWorkers <= 0 {
		segmentWorkers = 8
	}

	historyRetention, err := time.ParseDuration(getEnvOrDefault("HISTORY_RETENTION", "720h"))
	if err != nil || historyRetention <= 0 {
		historyRetention = 720 * time.Hour
	}

	minioUseSSL, _ := strconv.ParseBool(getEnvOrDefault("MINIO_USE_SSL", "false"))
	dbEnabled, _ := strconv.ParseBool(getEnvOrDefault("DB_ENABLED", "false"))
	redisEnabled, _ := strconv.ParseBool(getEnvOrDefault("REDIS_ENABLED", "false"))
	minioEnabled, _ := strconv.ParseBool(getEnvOrDefault("MINIO_ENABLED", "false"))

	return &Config{
		ServerAddr: getEnvOrDefault("SERVER_ADDR", ":8080"),
		LogLevel:   getEnvOrDefault("LOG_LEVEL", "info"),

		DownloadDir:    getEnvOrDefault("DOWNLOAD_DIR", "downloads"),
		MaxConcurrent:  maxConcurrent,
		QueueCapacity:  queueCapacity,
		JobTimeout:     jobTimeout,
		MinOutputBytes: minOutput,
		MemoryFloorMB:  memoryFloor,

		SegmentWorkers: segmentWorkers,

		JWTSecret:  getEnvOrDefault("JWT_SECRET", generateDefaultSecret()),
		APIKeyHash: os.Getenv("API_KEY_HASH"),

		DBHost:           getEnvOrDefault("DB_HOST", "localhost"),
		DBPort:           getEnvOrDefault("DB_PORT", "5432"),
		DBUser:           getEnvOrDefault("DB_USER", "streamvault"),
		DBPassword:       getEnvOrDefault("DB_PASSWORD", "streamvault_dev_password"),
		DBName:           getEnvOrDefault("DB_NAME", "streamvault"),
		DBEnabled:        dbEnabled,
		HistoryRetention: historyRetention,

		RedisAddr:    getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisEnabled: redisEnabled,

		MinioEndpoint:  getEnvOrDefault("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey: getEnvOrDefault("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey: getEnvOrDefault("MINIO_SECRET_KEY", "minioadmin"),
		MinioBucket:    getEnvOrDefault("MINIO_BUCKET", "media-artifacts"),
		MinioUseSSL:    minioUseSSL,
		MinioEnabled:   minioEnabled,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func generateDefaultSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "dev-secret-change-in-production"
	}
	return hex.EncodeToString(bytes)
}

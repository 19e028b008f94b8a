package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port                   string
	AllowedOrigin          string
	DatabaseURL            string
	DataDir                string
	LegacyDir              string
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	SummaryCacheTTLSeconds int
	RemoteEndpoint         string
	SyncIntervalSeconds    int
	SyncTimeoutSeconds     int
	SyncBatchSize          int
	ResyncOnStart          bool
	DeleteConfirmPhrase    string
	LogLevel               string
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	resync, _ := strconv.ParseBool(getEnv("RESYNC_ON_START", "false"))

	cfg := Config{
		Port:                   getEnv("PORT", "8080"),
		AllowedOrigin:          getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		DataDir:                strings.TrimSpace(os.Getenv("DATA_DIR")),
		LegacyDir:              strings.TrimSpace(os.Getenv("LEGACY_DIR")),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                redisDB,
		SummaryCacheTTLSeconds: getPositiveInt("SUMMARY_CACHE_TTL_SECONDS", 300),
		RemoteEndpoint:         strings.TrimSpace(os.Getenv("REMOTE_ENDPOINT")),
		SyncIntervalSeconds:    getPositiveInt("SYNC_INTERVAL_SECONDS", 30),
		SyncTimeoutSeconds:     getPositiveInt("SYNC_TIMEOUT_SECONDS", 15),
		SyncBatchSize:          getPositiveInt("SYNC_BATCH_SIZE", 50),
		ResyncOnStart:          resync,
		DeleteConfirmPhrase:    getEnv("DELETE_CONFIRM_PHRASE", "DELETE"),
		LogLevel:               strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) SummaryCacheTTL() time.Duration {
	return time.Duration(c.SummaryCacheTTLSeconds) * time.Second
}

func (c Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSeconds) * time.Second
}

func (c Config) SyncTimeout() time.Duration {
	return time.Duration(c.SyncTimeoutSeconds) * time.Second
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getPositiveInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

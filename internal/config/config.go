// Package config provides runtime configuration values for the service.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds configuration knobs for the HTTP server, workers, providers and stores.
type Config struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration
	LogLevel        string

	InitialWorkerCount      int
	WorkerMin               int
	WorkerMax               int
	ScaleInterval           time.Duration
	ScaleUpBacklogPerWorker int
	ScaleDownIdleTicks      int
	QueueHighWatermark      int

	ProviderTimeout   time.Duration
	ProviderCacheTTL  time.Duration
	AggregateCacheTTL time.Duration
	NegativeCacheTTL  time.Duration
	CacheShards       int

	SearchLimit      int
	NearestLimit     int
	RegionalRadiusKm float64

	AlertSweepInterval time.Duration
	AlertStorePath     string
	DatabaseURL        string

	ReferenceDataPath string
	SourceAURL        string
	SourceBURL        string
	RegistryAPIURL    string
	RegistryAPIRPS    float64
	UserAgent         string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoienv(key string, def int) int {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func atofenv(key string, def float64) float64 {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func durenvms(key string, defMs int) time.Duration {
	ms := atoienv(key, defMs)
	return time.Duration(ms) * time.Millisecond
}

func durenvs(key string, defSec int) time.Duration {
	sec := atoienv(key, defSec)
	return time.Duration(sec) * time.Second
}

// LoadDotEnv seeds the environment from the given .env files (default ".env").
// Variables already set in the environment win. Missing files are ignored.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		_ = godotenv.Load(f)
	}
}

// Load collects configuration from environment with defaults.
func Load() Config {
	minWorkers := atoienv("WORKER_MIN", 2)
	maxWorkers := atoienv("WORKER_MAX", 6)
	initialWorkers := atoienv("WORKER_COUNT", minWorkers)
	return Config{
		HTTPAddr:        getenv("HTTP_ADDR", ":8080"),
		ShutdownTimeout: durenvs("SHUTDOWN_TIMEOUT", 15),
		LogLevel:        getenv("LOG_LEVEL", "info"),

		InitialWorkerCount:      initialWorkers,
		WorkerMin:               minWorkers,
		WorkerMax:               maxWorkers,
		ScaleInterval:           durenvms("SCALE_INTERVAL_MS", 500),
		ScaleUpBacklogPerWorker: atoienv("SCALE_UP_BACKLOG_PER_WORKER", 20),
		ScaleDownIdleTicks:      atoienv("SCALE_DOWN_IDLE_TICKS", 6),
		QueueHighWatermark:      atoienv("QUEUE_HIGH_WATERMARK", 1000),

		ProviderTimeout:   durenvms("PROVIDER_TIMEOUT_MS", 8000),
		ProviderCacheTTL:  durenvs("PROVIDER_CACHE_TTL_S", 600),
		AggregateCacheTTL: durenvs("AGGREGATE_CACHE_TTL_S", 1800),
		NegativeCacheTTL:  durenvs("NEGATIVE_CACHE_TTL_S", 300),
		CacheShards:       atoienv("CACHE_SHARDS", 16),

		SearchLimit:      atoienv("SEARCH_LIMIT", 20),
		NearestLimit:     atoienv("NEAREST_LIMIT", 10),
		RegionalRadiusKm: atofenv("REGIONAL_RADIUS_KM", 10),

		AlertSweepInterval: durenvs("ALERT_SWEEP_INTERVAL_S", 3600),
		AlertStorePath:     getenv("ALERT_STORE_PATH", ""),
		DatabaseURL:        getenv("DATABASE_URL", ""),

		ReferenceDataPath: getenv("REFERENCE_DATA_PATH", ""),
		SourceAURL:        getenv("SOURCE_A_URL", ""),
		SourceBURL:        getenv("SOURCE_B_URL", ""),
		RegistryAPIURL:    getenv("REGISTRY_API_URL", ""),
		RegistryAPIRPS:    atofenv("REGISTRY_API_RPS", 2),
		UserAgent:         getenv("USER_AGENT", "drug-price-aggregator/1.0"),
	}
}

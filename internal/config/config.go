package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env         string
	ListenAddr  string
	MetricsAddr string
	DatabaseURL string
	LogLevel    string

	EnrichWorkers       int
	EnrichClaimInterval time.Duration
	// EnrichStaleAfter is how long a job may stay running before startup
	// hands it back to the queue.
	EnrichStaleAfter    time.Duration

	PollInterval    time.Duration
	PollMaxIdle     time.Duration
	PollMaxNotFound int

	JobCacheDir      string
	JobCacheTTL      time.Duration
	SupplierCacheTTL time.Duration
	RegistryPageSize int
	PromoteInterval  time.Duration
	LearningDedupe   bool

	CheckoBaseURL string
	CheckoAPIKeys []string

	ExtractTimeout  time.Duration
	ExtractMaxPages int
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Load reads the environment, after merging an optional .env file (envFiles
// default to ".env"). Variables already set in the environment win.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := Config{
		Env:         getenv("APP_ENV", "development"),
		ListenAddr:  getenv("LISTEN_ADDR", ":8080"),
		MetricsAddr: getenv("METRICS_ADDR", ":9090"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		LogLevel:    getenv("LOG_LEVEL", "info"),

		EnrichWorkers:       getenvInt("ENRICH_WORKERS", 0),
		EnrichClaimInterval: getenvDuration("ENRICH_CLAIM_INTERVAL", 500*time.Millisecond),
		EnrichStaleAfter:    getenvDuration("ENRICH_STALE_AFTER", time.Hour),

		PollInterval:    getenvDuration("POLL_INTERVAL", 2*time.Second),
		PollMaxIdle:     getenvDuration("POLL_MAX_IDLE", 10*time.Minute),
		PollMaxNotFound: getenvInt("POLL_MAX_NOT_FOUND", 5),

		JobCacheDir:      getenv("JOB_CACHE_DIR", "./data/jobcache"),
		JobCacheTTL:      getenvDuration("JOB_CACHE_TTL", 168*time.Hour),
		SupplierCacheTTL: getenvDuration("SUPPLIER_CACHE_TTL", 5*time.Minute),
		RegistryPageSize: getenvInt("REGISTRY_PAGE_SIZE", 500),
		PromoteInterval:  getenvDuration("PROMOTE_INTERVAL", 500*time.Millisecond),
		LearningDedupe:   getenvBool("LEARNING_DEDUPE", false),

		CheckoBaseURL: getenv("CHECKO_BASE_URL", "https://api.checko.ru/v2"),
		CheckoAPIKeys: splitList(os.Getenv("CHECKO_API_KEYS")),

		ExtractTimeout:  getenvDuration("EXTRACT_TIMEOUT", 12*time.Second),
		ExtractMaxPages: getenvInt("EXTRACT_MAX_PAGES", 8),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL not set")
	}
	return cfg, nil
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if out, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return out
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if out, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return out
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if out, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return out
		}
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

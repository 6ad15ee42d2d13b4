package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"sjsage522/marketcrawler/pkg/errors"
)

// Config represents the application configuration
type Config struct {
	// Environment
	Environment string

	// Static inputs
	CatalogPath string
	JobsPath    string

	// Output
	OutputDir    string
	OutputPrefix string
	FailureLog   string

	// Target site
	BaseURL string
	// VehiclesWarmupURL is fetched before the first vehicles feed page
	VehiclesWarmupURL string

	// Browser configuration
	Headless         bool
	ChromeBin        string
	UserAgent        string
	WaitTimeout      time.Duration
	ScrollSettle     time.Duration
	MaxScrolls       int
	MaxPages         int
	ChallengeMarkers []string
	RecoveryWaits    []time.Duration

	// Politeness
	PageDelay time.Duration
	JobDelay  time.Duration

	// Closing-date policy; 0 disables closing
	CloseAfterAbsences int

	// Memcache configuration; empty address disables cooldowns
	MemcacheAddr string
	Cooldown     time.Duration

	// Redis configuration; empty address disables publishing
	RedisAddr            string
	RedisDB              int
	RedisStream          string
	RedisStreamCount     int
	RedisStreamMaxLength int

	// Postgres mirror; empty DSN disables it
	PostgresDSN string

	// Images
	DownloadImages bool
	ImagesDir      string

	// Enrichment and captioning
	EnrichDelay  time.Duration
	OpenAIAPIKey string
	OpenAIModel  string
}

// DefaultChallengeMarkers are substrings whose presence in a snapshot means an
// anti-automation interstitial is showing instead of the listings.
var DefaultChallengeMarkers = []string{
	"captcha-delivery.com",
	"g-recaptcha",
	"hcaptcha",
	"px-captcha",
	"Are you for real",
}

// LoadConfig loads the configuration from environment variables with defaults
func LoadConfig() *Config {
	return &Config{
		Environment:          getEnv("MARKET_ENVIRONMENT", "development"),
		CatalogPath:          getEnv("CATALOG_PATH", "configs/collections.yaml"),
		JobsPath:             getEnv("JOBS_PATH", "configs/jobs.yaml"),
		OutputDir:            getEnv("OUTPUT_DIR", "output"),
		OutputPrefix:         getEnv("OUTPUT_PREFIX", "collections"),
		FailureLog:           getEnv("FAILURE_LOG", "output/failed_jobs.log"),
		BaseURL:              strings.TrimRight(getEnv("BASE_URL", "https://market.yad2.co.il"), "/"),
		VehiclesWarmupURL:    getEnv("VEHICLES_WARMUP_URL", "https://www.yad2.co.il/"),
		Headless:             getEnvBool("HEADLESS", true),
		ChromeBin:            getEnv("CHROME_BIN", ""),
		UserAgent:            getEnv("USER_AGENT", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/136.0.0.0 Safari/537.36"),
		WaitTimeout:          getEnvDuration("WAIT_TIMEOUT_SECONDS", 10, time.Second),
		ScrollSettle:         getEnvDuration("SCROLL_SETTLE_MS", 1500, time.Millisecond),
		MaxScrolls:           getEnvInt("MAX_SCROLLS", 20),
		MaxPages:             getEnvInt("MAX_PAGES", 0),
		ChallengeMarkers:     getEnvList("CHALLENGE_MARKERS", DefaultChallengeMarkers),
		RecoveryWaits:        getEnvDurations("RECOVERY_WAITS_SECONDS", []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second}),
		PageDelay:            getEnvDuration("PAGE_DELAY_MS", 1000, time.Millisecond),
		JobDelay:             getEnvDuration("JOB_DELAY_MS", 2000, time.Millisecond),
		CloseAfterAbsences:   getEnvInt("CLOSE_AFTER_ABSENCES", 0),
		MemcacheAddr:         getEnv("MEMCACHE_ADDR", ""),
		Cooldown:             getEnvDuration("COOLDOWN_SECONDS", 1800, time.Second),
		RedisAddr:            getEnv("REDIS_ADDR", ""),
		RedisDB:              getEnvInt("REDIS_DB", 0),
		RedisStream:          getEnv("REDIS_STREAM", "new_listings"),
		RedisStreamCount:     getEnvInt("REDIS_STREAM_COUNT", 1),
		RedisStreamMaxLength: getEnvInt("REDIS_STREAM_MAX_LENGTH", 10000),
		PostgresDSN:          getEnv("POSTGRES_DSN", ""),
		DownloadImages:       getEnvBool("DOWNLOAD_IMAGES", false),
		ImagesDir:            getEnv("IMAGES_DIR", "images"),
		EnrichDelay:          getEnvDuration("ENRICH_DELAY_MS", 1500, time.Millisecond),
		OpenAIAPIKey:         getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:          getEnv("OPENAI_MODEL", "gpt-4.1-2025-04-14"),
	}
}

// Validate rejects values the crawler cannot run with
func (c *Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return errors.NewConfiguration("BASE_URL must not be empty", nil)
	case c.WaitTimeout <= 0:
		return errors.NewConfiguration("WAIT_TIMEOUT_SECONDS must be positive", nil)
	case c.MaxScrolls < 0:
		return errors.NewConfiguration("MAX_SCROLLS must not be negative", nil)
	case c.MaxPages < 0:
		return errors.NewConfiguration("MAX_PAGES must not be negative", nil)
	case c.PageDelay < 0 || c.JobDelay < 0 || c.ScrollSettle < 0:
		return errors.NewConfiguration("delays must not be negative", nil)
	case c.CloseAfterAbsences < 0:
		return errors.NewConfiguration("CLOSE_AFTER_ABSENCES must not be negative", nil)
	case c.RedisAddr != "" && c.RedisStreamCount <= 0:
		return errors.NewConfiguration("REDIS_STREAM_COUNT must be positive", nil)
	case c.OutputDir == "":
		return errors.NewConfiguration("OUTPUT_DIR must not be empty", nil)
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	b, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return b
}

// getEnvDuration reads an integer count of unit
func getEnvDuration(key string, defaultValue int, unit time.Duration) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue)) * unit
}

func getEnvList(key string, defaultValue []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvDurations reads a comma separated list of seconds
func getEnvDurations(key string, defaultValue []time.Duration) []time.Duration {
	raw := getEnvList(key, nil)
	if raw == nil {
		return defaultValue
	}
	out := make([]time.Duration, 0, len(raw))
	for _, s := range raw {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return defaultValue
		}
		out = append(out, time.Duration(n)*time.Second)
	}
	return out
}

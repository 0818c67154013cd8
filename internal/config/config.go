package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"golang.org/x/text/language"
)

// Cache drivers
const (
	CacheDriverSQLite   = "sqlite"
	CacheDriverPostgres = "postgres"
	CacheDriverMemory   = "memory"
)

// Level sources
const (
	LevelSourcePostgres = "postgres"
	LevelSourceREST     = "rest"
)

type Config struct {
	Port        string
	Environment string
	CORSOrigins string
	TablePrefix string
	DatabaseURL string

	// Cache store
	CacheDriver     string
	CacheDBPath     string
	CachePolicyFile string // optional YAML override of the embedded TTL policy

	// Level backend
	LevelSource     string
	LevelAPIURL     string
	LevelAPITimeout time.Duration

	// Tree loading
	DefaultPageSize    int
	MaxPageSize        int
	SortLocale         string
	EagerLoadThreshold int
	EagerLoadDepth     int
	ExpandConcurrency  int
	MaxSelectionDepth  int // 0 = unbounded

	// Logging
	LogDir      string
	LogMaxFiles int

	// Debug flags
	Debug bool
}

func Load() *Config {
	env := getEnv("ENVIRONMENT", "dev")

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: env,
		CORSOrigins: getEnv("CORS_ORIGINS", "http://localhost:3000"),
		TablePrefix: getTablePrefix(env),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		CacheDriver:     getEnv("CACHE_DRIVER", CacheDriverSQLite),
		CacheDBPath:     getEnv("CACHE_DB_PATH", "data/level-cache.db"),
		CachePolicyFile: getEnv("CACHE_POLICY_FILE", ""),

		LevelSource:     getEnv("LEVEL_SOURCE", LevelSourcePostgres),
		LevelAPIURL:     getEnv("LEVEL_API_URL", ""),
		LevelAPITimeout: getEnvDuration("LEVEL_API_TIMEOUT", 15*time.Second),

		DefaultPageSize:    getEnvInt("DEFAULT_PAGE_SIZE", DefaultPageSize),
		MaxPageSize:        getEnvInt("MAX_PAGE_SIZE", MaxPageSize),
		SortLocale:         getEnv("SORT_LOCALE", "en"),
		EagerLoadThreshold: getEnvInt("EAGER_LOAD_THRESHOLD", 200),
		EagerLoadDepth:     getEnvInt("EAGER_LOAD_DEPTH", 8),
		ExpandConcurrency:  getEnvInt("EXPAND_CONCURRENCY", 4),
		MaxSelectionDepth:  getEnvInt("MAX_SELECTION_DEPTH", 0),

		LogDir:      getEnv("LOG_DIR", ""),
		LogMaxFiles: getEnvInt("LOG_MAX_FILES", 10),

		// Debug flags - default to true in dev/test, false in production
		Debug: getEnv("DEBUG", getDefaultDebug(env)) == "true",
	}
}

// Validate checks the loaded configuration for unusable combinations
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required),
		validation.Field(&c.Environment, validation.Required, validation.In("dev", "test", "prod")),
		validation.Field(&c.CacheDriver, validation.Required,
			validation.In(CacheDriverSQLite, CacheDriverPostgres, CacheDriverMemory)),
		validation.Field(&c.CacheDBPath,
			validation.When(c.CacheDriver == CacheDriverSQLite, validation.Required)),
		validation.Field(&c.LevelSource, validation.Required,
			validation.In(LevelSourcePostgres, LevelSourceREST)),
		validation.Field(&c.DatabaseURL,
			validation.When(c.CacheDriver == CacheDriverPostgres || c.LevelSource == LevelSourcePostgres, validation.Required)),
		validation.Field(&c.LevelAPIURL,
			validation.When(c.LevelSource == LevelSourceREST, validation.Required)),
		validation.Field(&c.DefaultPageSize, validation.Required, validation.Min(1), validation.Max(c.MaxPageSize)),
		validation.Field(&c.MaxPageSize, validation.Required, validation.Min(1)),
		validation.Field(&c.SortLocale, validation.Required, validation.By(validLocale)),
		validation.Field(&c.ExpandConcurrency, validation.Required, validation.Min(1)),
		validation.Field(&c.EagerLoadDepth, validation.Min(1)),
		validation.Field(&c.MaxSelectionDepth, validation.Min(0)),
	)
}

// Locale returns the parsed sort locale, falling back to English
func (c *Config) Locale() language.Tag {
	tag, err := language.Parse(c.SortLocale)
	if err != nil {
		return language.English
	}
	return tag
}

func validLocale(value interface{}) error {
	s, _ := value.(string)
	if _, err := language.Parse(s); err != nil {
		return fmt.Errorf("invalid locale %q", s)
	}
	return nil
}

// getDefaultDebug returns the default debug setting based on environment
func getDefaultDebug(env string) string {
	if env == "prod" {
		return "false"
	}
	return "true"
}

// getTablePrefix returns the table prefix based on environment
func getTablePrefix(env string) string {
	// Allow manual override via TABLE_PREFIX env var
	if prefix := os.Getenv("TABLE_PREFIX"); prefix != "" {
		return prefix
	}

	switch env {
	case "prod":
		return "prod_"
	case "test":
		return "test_"
	default:
		return "dev_"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

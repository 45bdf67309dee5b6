package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Browser  BrowserConfig
	Scraper  ScraperConfig
}

type ServerConfig struct {
	Port int
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	MaxConns int32
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
}

type BrowserConfig struct {
	Headless       bool
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	NavTimeout     time.Duration
}

type ScraperConfig struct {
	// MinExtractionQuality gates whether a detail extraction is accepted.
	MinExtractionQuality int
	MaxScrollAttempts    int
	DetailScrollAttempts int
	ScrollStepDelay      time.Duration
	PageLoadDelay        time.Duration
	DetailPageDelay      time.Duration
	DetailBatchSize      int
	BatchRestDelay       time.Duration
	ItemDelayMin         time.Duration
	ItemDelayMax         time.Duration
	MaxRetries           int
	RetryDelay           time.Duration
	DefaultMaxProducts   int
	DefaultMaxPages      int
	ScreenshotDir        string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvInt("PORT", 8086),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "marketplace_scraper"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 20)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Stream:   getEnv("REDIS_EVENT_STREAM", "stream:scraper_events"),
		},
		Browser: BrowserConfig{
			Headless:       getEnvBool("BROWSER_HEADLESS", true),
			UserAgent:      getEnv("BROWSER_USER_AGENT", ""),
			ViewportWidth:  getEnvInt("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getEnvInt("BROWSER_VIEWPORT_HEIGHT", 1080),
			NavTimeout:     getEnvDuration("BROWSER_NAV_TIMEOUT", 30*time.Second),
		},
		Scraper: ScraperConfig{
			MinExtractionQuality: getEnvInt("SCRAPER_MIN_QUALITY", 50),
			MaxScrollAttempts:    getEnvInt("SCRAPER_MAX_SCROLLS", 15),
			DetailScrollAttempts: getEnvInt("SCRAPER_DETAIL_MAX_SCROLLS", 10),
			ScrollStepDelay:      getEnvDuration("SCRAPER_SCROLL_STEP_DELAY", 500*time.Millisecond),
			PageLoadDelay:        getEnvDuration("SCRAPER_PAGE_LOAD_DELAY", 3*time.Second),
			DetailPageDelay:      getEnvDuration("SCRAPER_DETAIL_PAGE_DELAY", 2*time.Second),
			DetailBatchSize:      getEnvInt("SCRAPER_DETAIL_BATCH_SIZE", 10),
			BatchRestDelay:       getEnvDuration("SCRAPER_BATCH_REST_DELAY", 5*time.Second),
			ItemDelayMin:         getEnvDuration("SCRAPER_ITEM_DELAY_MIN", 2*time.Second),
			ItemDelayMax:         getEnvDuration("SCRAPER_ITEM_DELAY_MAX", 4*time.Second),
			MaxRetries:           getEnvInt("SCRAPER_MAX_RETRIES", 2),
			RetryDelay:           getEnvDuration("SCRAPER_RETRY_DELAY", 2*time.Second),
			DefaultMaxProducts:   getEnvInt("SCRAPER_DEFAULT_MAX_PRODUCTS", 100),
			DefaultMaxPages:      getEnvInt("SCRAPER_DEFAULT_MAX_PAGES", 10),
			ScreenshotDir:        getEnv("SCRAPER_SCREENSHOT_DIR", "./screenshots"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}

	if c.Scraper.MinExtractionQuality < 0 || c.Scraper.MinExtractionQuality > 100 {
		return fmt.Errorf("min extraction quality must be 0-100, got %d", c.Scraper.MinExtractionQuality)
	}

	if c.Scraper.DetailBatchSize < 1 {
		return fmt.Errorf("detail batch size must be at least 1")
	}

	if c.Scraper.ItemDelayMax < c.Scraper.ItemDelayMin {
		return fmt.Errorf("item delay max must not be below min")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the crawler
type Config struct {
	// Pixiv app API access
	Pixiv PixivConfig `yaml:"pixiv" json:"pixiv"`

	// Fanbox membership feed access and naming rules
	Fanbox FanboxConfig `yaml:"fanbox" json:"fanbox"`

	// Crawl loop behaviour
	Crawl CrawlConfig `yaml:"crawl" json:"crawl"`

	// Download settings
	Download DownloadConfig `yaml:"download" json:"download"`

	// Rate limiting configuration
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Retry configuration for transient transport failures
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Output directory and dedup database
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Notification preferences
	Notifications NotificationConfig `yaml:"notifications" json:"notifications"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// PixivConfig holds pixiv-specific configuration
type PixivConfig struct {
	AccessToken string `yaml:"access_token" json:"access_token"`
	UserID      string `yaml:"user_id" json:"user_id"`
	APIBaseURL  string `yaml:"api_base_url" json:"api_base_url"`
	Referer     string `yaml:"referer" json:"referer"`
	UserAgent   string `yaml:"user_agent" json:"user_agent"`
}

// FanboxConfig holds fanbox-specific configuration
type FanboxConfig struct {
	SessionID         string   `yaml:"session_id" json:"session_id"`
	CreatorID         string   `yaml:"creator_id" json:"creator_id"`
	Limit             int      `yaml:"limit" json:"limit"`
	APIBaseURL        string   `yaml:"api_base_url" json:"api_base_url"`
	Referer           string   `yaml:"referer" json:"referer"`
	UserAgent         string   `yaml:"user_agent" json:"user_agent"`
	BlacklistWords    []string `yaml:"blacklist_words" json:"blacklist_words"`
	WhitelistCreators []string `yaml:"whitelist_creators" json:"whitelist_creators"`
}

// CrawlConfig controls pagination and pacing
type CrawlConfig struct {
	// MaxIterations caps feed pages per run for every feed. 0 uses the
	// per-feed default, see PageCap.
	MaxIterations   int           `yaml:"max_iterations" json:"max_iterations"`
	ThrottleMin     time.Duration `yaml:"throttle_min" json:"throttle_min"`
	ThrottleMax     time.Duration `yaml:"throttle_max" json:"throttle_max"`
	Concurrency     int           `yaml:"concurrency" json:"concurrency"`
	DurationPolicy  string        `yaml:"duration_policy" json:"duration_policy"`
	MaxPagesPerItem int           `yaml:"max_pages_per_item" json:"max_pages_per_item"`
}

// DownloadConfig holds download-specific configuration
type DownloadConfig struct {
	DownloadTimeout time.Duration `yaml:"download_timeout" json:"download_timeout"`
	ChunkSize       int           `yaml:"chunk_size" json:"chunk_size"`
}

// RateLimitConfig holds rate limiting configuration for asset requests
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" json:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff" json:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" json:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier" json:"multiplier"`
	JitterFactor   float64       `yaml:"jitter_factor" json:"jitter_factor"`
}

// StorageConfig holds output and dedup database configuration
type StorageConfig struct {
	RootDirectory        string `yaml:"root_directory" json:"root_directory"`
	CreateSubjectFolders bool   `yaml:"create_subject_folders" json:"create_subject_folders"`
	DatabaseDriver       string `yaml:"database_driver" json:"database_driver"`
	DatabasePath         string `yaml:"database_path" json:"database_path"`
	DatabaseURL          string `yaml:"database_url" json:"database_url"`
}

// NotificationConfig holds notification preferences
type NotificationConfig struct {
	Enabled    bool `yaml:"enabled" json:"enabled"`
	OnComplete bool `yaml:"on_complete" json:"on_complete"`
	OnError    bool `yaml:"on_error" json:"on_error"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// Default page caps per run. Bookmarks are newest first, so a short walk
// catches up; a user's works are walked further.
const (
	DefaultBookmarksPageCap = 10
	DefaultPageCap          = 50
)

// PageCap returns the number of feed pages one run of feed may fetch
func (c CrawlConfig) PageCap(feed string) int {
	if c.MaxIterations > 0 {
		return c.MaxIterations
	}
	if feed == "bookmarks" {
		return DefaultBookmarksPageCap
	}
	return DefaultPageCap
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Pixiv: PixivConfig{
			APIBaseURL: "https://app-api.pixiv.net",
			Referer:    "https://app-api.pixiv.net/",
			UserAgent:  "PixivAndroidApp/5.0.234 (Android 11; Pixel 5)",
		},
		Fanbox: FanboxConfig{
			Limit:      10,
			APIBaseURL: "https://api.fanbox.cc",
			Referer:    "https://www.fanbox.cc/",
			UserAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/92.0.4515.159 Safari/537.36",
		},
		Crawl: CrawlConfig{
			MaxIterations:   0,
			ThrottleMin:     2 * time.Second,
			ThrottleMax:     4 * time.Second,
			Concurrency:     1,
			DurationPolicy:  "strict",
			MaxPagesPerItem: 50,
		},
		Download: DownloadConfig{
			DownloadTimeout: 60 * time.Second,
			ChunkSize:       32 * 1024,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 1 * time.Second,
			MaxBackoff:     30 * time.Second,
			Multiplier:     2.0,
			JitterFactor:   0.2,
		},
		Storage: StorageConfig{
			RootDirectory:        "./data/pixivPic",
			CreateSubjectFolders: true,
			DatabaseDriver:       DriverSQLite,
			DatabasePath:         "./pixiv_id_db.db",
		},
		Notifications: NotificationConfig{
			Enabled:    true,
			OnComplete: true,
			OnError:    true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   false,
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	// Credentials
	if token := os.Getenv("PIXIVDL_ACCESS_TOKEN"); token != "" {
		c.Pixiv.AccessToken = token
	}
	if userID := os.Getenv("PIXIVDL_USER_ID"); userID != "" {
		c.Pixiv.UserID = userID
	}
	if sessionID := os.Getenv("PIXIVDL_FANBOX_SESSION_ID"); sessionID != "" {
		c.Fanbox.SessionID = sessionID
	}
	if creator := os.Getenv("PIXIVDL_FANBOX_CREATOR"); creator != "" {
		c.Fanbox.CreatorID = creator
	}

	// Crawl loop
	if iterations := os.Getenv("PIXIVDL_MAX_ITERATIONS"); iterations != "" {
		var val int
		fmt.Sscanf(iterations, "%d", &val)
		if val > 0 {
			c.Crawl.MaxIterations = val
		}
	}
	if concurrency := os.Getenv("PIXIVDL_CONCURRENCY"); concurrency != "" {
		var val int
		fmt.Sscanf(concurrency, "%d", &val)
		if val > 0 {
			c.Crawl.Concurrency = val
		}
	}

	// Rate limiting
	if rpm := os.Getenv("PIXIVDL_REQUESTS_PER_MINUTE"); rpm != "" {
		var val int
		fmt.Sscanf(rpm, "%d", &val)
		if val > 0 {
			c.RateLimit.RequestsPerMinute = val
		}
	}

	// Storage
	if rootDir := os.Getenv("PIXIVDL_ROOT_DIR"); rootDir != "" {
		c.Storage.RootDirectory = rootDir
	}
	if driver := os.Getenv("PIXIVDL_DATABASE_DRIVER"); driver != "" {
		c.Storage.DatabaseDriver = strings.ToLower(driver)
	}
	if dbPath := os.Getenv("PIXIVDL_DATABASE_PATH"); dbPath != "" {
		c.Storage.DatabasePath = dbPath
	}
	if dbURL := os.Getenv("PIXIVDL_DATABASE_URL"); dbURL != "" {
		c.Storage.DatabaseURL = dbURL
	}

	// Notifications
	if notifEnabled := os.Getenv("PIXIVDL_NOTIFICATIONS_ENABLED"); notifEnabled != "" {
		c.Notifications.Enabled = strings.ToLower(notifEnabled) == "true"
	}

	// Logging level
	if logLevel := os.Getenv("PIXIVDL_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		".pixivdl.yaml",
		".pixivdl.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "pixivdl", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "pixivdl", "config.yml"),
		filepath.Join(os.Getenv("HOME"), ".pixivdl.yaml"),
		filepath.Join(os.Getenv("HOME"), ".pixivdl.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid. Credentials are checked
// per feed by the command that needs them.
func (c *Config) Validate() error {
	var errs []error

	// Crawl loop
	if c.Crawl.MaxIterations < 0 {
		errs = append(errs, errors.New("max iterations must not be negative"))
	}
	if c.Crawl.ThrottleMin < 0 || c.Crawl.ThrottleMax < c.Crawl.ThrottleMin {
		errs = append(errs, errors.New("throttle window must satisfy 0 <= min <= max"))
	}
	if c.Crawl.Concurrency <= 0 {
		errs = append(errs, errors.New("concurrency must be positive"))
	}
	if c.Crawl.Concurrency > 10 {
		errs = append(errs, errors.New("concurrency should not exceed 10"))
	}
	validPolicies := map[string]bool{
		"strict": true, "uniform": true, "repeat_last": true,
	}
	if !validPolicies[strings.ToLower(c.Crawl.DurationPolicy)] {
		errs = append(errs, errors.New("invalid duration policy"))
	}

	// Download settings
	if c.Download.DownloadTimeout <= 0 {
		errs = append(errs, errors.New("download timeout must be positive"))
	}
	if c.Download.ChunkSize <= 0 {
		errs = append(errs, errors.New("chunk size must be positive"))
	}

	// Rate limiting and retry
	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("max attempts must be at least 1"))
	}

	// Storage
	if c.Storage.RootDirectory == "" {
		errs = append(errs, errors.New("root directory is required"))
	}
	switch strings.ToLower(c.Storage.DatabaseDriver) {
	case DriverSQLite:
		if c.Storage.DatabasePath == "" {
			errs = append(errs, errors.New("sqlite database path is required"))
		}
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			errs = append(errs, errors.New("postgres database url is required"))
		}
	case DriverMemory:
	default:
		errs = append(errs, errors.New("invalid database driver"))
	}

	// Logging
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if token, ok := flags["access-token"].(string); ok && token != "" {
		c.Pixiv.AccessToken = token
	}
	if sessionID, ok := flags["session-id"].(string); ok && sessionID != "" {
		c.Fanbox.SessionID = sessionID
	}
	if outputDir, ok := flags["output"].(string); ok && outputDir != "" {
		c.Storage.RootDirectory = outputDir
	}
	if database, ok := flags["database"].(string); ok && database != "" {
		c.Storage.DatabasePath = database
	}
	if driver, ok := flags["database-driver"].(string); ok && driver != "" {
		c.Storage.DatabaseDriver = strings.ToLower(driver)
	}
	if concurrency, ok := flags["concurrency"].(int); ok && concurrency > 0 {
		c.Crawl.Concurrency = concurrency
	}
	if iterations, ok := flags["max-iterations"].(int); ok && iterations > 0 {
		c.Crawl.MaxIterations = iterations
	}
	if policy, ok := flags["duration-policy"].(string); ok && policy != "" {
		c.Crawl.DurationPolicy = policy
	}
	if rpm, ok := flags["requests-per-minute"].(int); ok && rpm > 0 {
		c.RateLimit.RequestsPerMinute = rpm
	}
	if attempts, ok := flags["max-attempts"].(int); ok && attempts > 0 {
		c.Retry.MaxAttempts = attempts
	}
	if enabled, ok := flags["notifications-enabled"].(bool); ok {
		c.Notifications.Enabled = enabled
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".pixivdl.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "https://app-api.pixiv.net", cfg.Pixiv.APIBaseURL)
	assert.Equal(t, "https://app-api.pixiv.net/", cfg.Pixiv.Referer)
	assert.Equal(t, "https://api.fanbox.cc", cfg.Fanbox.APIBaseURL)
	assert.Equal(t, 10, cfg.Fanbox.Limit)

	assert.Equal(t, 0, cfg.Crawl.MaxIterations)
	assert.Equal(t, 10, cfg.Crawl.PageCap("bookmarks"))
	assert.Equal(t, 50, cfg.Crawl.PageCap("works"))
	assert.Equal(t, 50, cfg.Crawl.PageCap("fanbox"))
	assert.Equal(t, 2*time.Second, cfg.Crawl.ThrottleMin)
	assert.Equal(t, 4*time.Second, cfg.Crawl.ThrottleMax)
	assert.Equal(t, 1, cfg.Crawl.Concurrency)
	assert.Equal(t, "strict", cfg.Crawl.DurationPolicy)
	assert.Equal(t, 50, cfg.Crawl.MaxPagesPerItem)

	assert.Equal(t, 32*1024, cfg.Download.ChunkSize)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, DriverSQLite, cfg.Storage.DatabaseDriver)
	assert.Equal(t, "./pixiv_id_db.db", cfg.Storage.DatabasePath)
	assert.Equal(t, "info", cfg.Logging.Level)

	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PIXIVDL_ACCESS_TOKEN", "env_token")
	t.Setenv("PIXIVDL_USER_ID", "11")
	t.Setenv("PIXIVDL_FANBOX_SESSION_ID", "env_session")
	t.Setenv("PIXIVDL_FANBOX_CREATOR", "creator")
	t.Setenv("PIXIVDL_MAX_ITERATIONS", "25")
	t.Setenv("PIXIVDL_CONCURRENCY", "3")
	t.Setenv("PIXIVDL_REQUESTS_PER_MINUTE", "120")
	t.Setenv("PIXIVDL_ROOT_DIR", "/env/root")
	t.Setenv("PIXIVDL_DATABASE_DRIVER", "POSTGRES")
	t.Setenv("PIXIVDL_DATABASE_URL", "postgres://localhost/pixivdl")
	t.Setenv("PIXIVDL_NOTIFICATIONS_ENABLED", "false")
	t.Setenv("PIXIVDL_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "env_token", cfg.Pixiv.AccessToken)
	assert.Equal(t, "11", cfg.Pixiv.UserID)
	assert.Equal(t, "env_session", cfg.Fanbox.SessionID)
	assert.Equal(t, "creator", cfg.Fanbox.CreatorID)
	assert.Equal(t, 25, cfg.Crawl.MaxIterations)
	assert.Equal(t, 25, cfg.Crawl.PageCap("bookmarks"), "an explicit cap applies to every feed")
	assert.Equal(t, 3, cfg.Crawl.Concurrency)
	assert.Equal(t, 120, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, "/env/root", cfg.Storage.RootDirectory)
	assert.Equal(t, DriverPostgres, cfg.Storage.DatabaseDriver)
	assert.Equal(t, "postgres://localhost/pixivdl", cfg.Storage.DatabaseURL)
	assert.False(t, cfg.Notifications.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnvIgnoresInvalidNumbers(t *testing.T) {
	t.Setenv("PIXIVDL_MAX_ITERATIONS", "lots")
	t.Setenv("PIXIVDL_CONCURRENCY", "-2")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, 0, cfg.Crawl.MaxIterations)
	assert.Equal(t, 1, cfg.Crawl.Concurrency)
}

func TestLoadFromFile(t *testing.T) {
	t.Run("valid yaml file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		content := `
pixiv:
  access_token: file_token
  user_id: "42"
fanbox:
  session_id: file_session
  creator_id: someone
  limit: 5
  blacklist_words: ["WIP", "sketch"]
  whitelist_creators: ["someone"]
crawl:
  max_iterations: 3
  throttle_min: 500ms
  throttle_max: 1s
  concurrency: 2
  duration_policy: repeat_last
download:
  download_timeout: 45s
  chunk_size: 65536
storage:
  root_directory: /file/root
  database_driver: memory
logging:
  level: warn
  file: /var/log/pixivdl.log
`
		require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

		cfg := DefaultConfig()
		require.NoError(t, cfg.LoadFromFile(configPath))

		assert.Equal(t, "file_token", cfg.Pixiv.AccessToken)
		assert.Equal(t, "42", cfg.Pixiv.UserID)
		assert.Equal(t, "file_session", cfg.Fanbox.SessionID)
		assert.Equal(t, 5, cfg.Fanbox.Limit)
		assert.Equal(t, []string{"WIP", "sketch"}, cfg.Fanbox.BlacklistWords)
		assert.Equal(t, []string{"someone"}, cfg.Fanbox.WhitelistCreators)
		assert.Equal(t, 3, cfg.Crawl.MaxIterations)
		assert.Equal(t, 500*time.Millisecond, cfg.Crawl.ThrottleMin)
		assert.Equal(t, time.Second, cfg.Crawl.ThrottleMax)
		assert.Equal(t, 2, cfg.Crawl.Concurrency)
		assert.Equal(t, "repeat_last", cfg.Crawl.DurationPolicy)
		assert.Equal(t, 45*time.Second, cfg.Download.DownloadTimeout)
		assert.Equal(t, 65536, cfg.Download.ChunkSize)
		assert.Equal(t, "/file/root", cfg.Storage.RootDirectory)
		assert.Equal(t, DriverMemory, cfg.Storage.DatabaseDriver)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.Equal(t, "/var/log/pixivdl.log", cfg.Logging.File)

		// untouched sections keep their defaults
		assert.Equal(t, "https://app-api.pixiv.net", cfg.Pixiv.APIBaseURL)
		assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "invalid.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte("pixiv:\n  access_token: [this is invalid\n"), 0644))

		cfg := DefaultConfig()
		err := cfg.LoadFromFile(configPath)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse config file")
	})

	t.Run("non-existent file", func(t *testing.T) {
		cfg := DefaultConfig()
		err := cfg.LoadFromFile("/non/existent/path/config.yaml")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})
}

func TestFindConfigFile(t *testing.T) {
	t.Run("finds config in current directory", func(t *testing.T) {
		tempDir := t.TempDir()
		t.Chdir(tempDir)
		t.Setenv("HOME", tempDir)

		require.NoError(t, os.WriteFile(filepath.Join(tempDir, ".pixivdl.yaml"), []byte("crawl: {}"), 0644))

		cfg := DefaultConfig()
		assert.Equal(t, ".pixivdl.yaml", cfg.findConfigFile())
	})

	t.Run("no config file found", func(t *testing.T) {
		tempDir := t.TempDir()
		t.Chdir(tempDir)
		t.Setenv("HOME", tempDir)

		cfg := DefaultConfig()
		assert.Empty(t, cfg.findConfigFile())
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:    "negative iterations",
			modify:  func(c *Config) { c.Crawl.MaxIterations = -1 },
			wantErr: "max iterations must not be negative",
		},
		{
			name: "inverted throttle window",
			modify: func(c *Config) {
				c.Crawl.ThrottleMin = 5 * time.Second
				c.Crawl.ThrottleMax = time.Second
			},
			wantErr: "throttle window",
		},
		{
			name:    "too many workers",
			modify:  func(c *Config) { c.Crawl.Concurrency = 11 },
			wantErr: "concurrency should not exceed 10",
		},
		{
			name:    "unknown duration policy",
			modify:  func(c *Config) { c.Crawl.DurationPolicy = "stretch" },
			wantErr: "invalid duration policy",
		},
		{
			name:    "zero chunk size",
			modify:  func(c *Config) { c.Download.ChunkSize = 0 },
			wantErr: "chunk size must be positive",
		},
		{
			name:    "postgres without url",
			modify:  func(c *Config) { c.Storage.DatabaseDriver = DriverPostgres },
			wantErr: "postgres database url is required",
		},
		{
			name:    "unknown driver",
			modify:  func(c *Config) { c.Storage.DatabaseDriver = "bolt" },
			wantErr: "invalid database driver",
		},
		{
			name:    "bad log level",
			modify:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("joins multiple errors", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Crawl.MaxIterations = -1
		cfg.Storage.RootDirectory = ""
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max iterations must not be negative")
		assert.Contains(t, err.Error(), "root directory is required")
	})
}

func TestSave(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Fanbox.CreatorID = "saved"
	cfg.Crawl.ThrottleMin = 750 * time.Millisecond
	require.NoError(t, cfg.Save(configPath))

	info, err := os.Stat(configPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded := DefaultConfig()
	require.NoError(t, loaded.LoadFromFile(configPath))
	assert.Equal(t, "saved", loaded.Fanbox.CreatorID)
	assert.Equal(t, 750*time.Millisecond, loaded.Crawl.ThrottleMin)
}

func TestMergeCommandLineFlags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MergeCommandLineFlags(map[string]interface{}{
		"access-token":          "flag_token",
		"output":                "/flag/out",
		"database":              "/flag/db.sqlite",
		"concurrency":           4,
		"max-iterations":        7,
		"duration-policy":       "uniform",
		"notifications-enabled": false,
		"log-level":             "error",
		"session-id":            "",
	})

	assert.Equal(t, "flag_token", cfg.Pixiv.AccessToken)
	assert.Equal(t, "/flag/out", cfg.Storage.RootDirectory)
	assert.Equal(t, "/flag/db.sqlite", cfg.Storage.DatabasePath)
	assert.Equal(t, 4, cfg.Crawl.Concurrency)
	assert.Equal(t, 7, cfg.Crawl.MaxIterations)
	assert.Equal(t, "uniform", cfg.Crawl.DurationPolicy)
	assert.False(t, cfg.Notifications.Enabled)
	assert.Equal(t, "error", cfg.Logging.Level)
	assert.Empty(t, cfg.Fanbox.SessionID)
}

func TestLoad(t *testing.T) {
	t.Run("precedence order", func(t *testing.T) {
		tempDir := t.TempDir()
		t.Chdir(tempDir)
		t.Setenv("HOME", tempDir)

		configPath := filepath.Join(tempDir, "config.yaml")
		content := `
pixiv:
  access_token: file_token
  user_id: "7"
storage:
  root_directory: /file/root
`
		require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

		t.Setenv("PIXIVDL_ACCESS_TOKEN", "env_token")
		t.Setenv("PIXIVDL_ROOT_DIR", "/env/root")

		cfg, err := Load(configPath, map[string]interface{}{"access-token": "flag_token"})
		require.NoError(t, err)

		assert.Equal(t, "flag_token", cfg.Pixiv.AccessToken)
		assert.Equal(t, "7", cfg.Pixiv.UserID)
		assert.Equal(t, "/env/root", cfg.Storage.RootDirectory)
	})

	t.Run("validation failure", func(t *testing.T) {
		tempDir := t.TempDir()
		t.Chdir(tempDir)
		t.Setenv("HOME", tempDir)

		cfg, err := Load("", map[string]interface{}{"duration-policy": "stretch"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "configuration validation failed")
		assert.Nil(t, cfg)
	})

	t.Run("loads .env file", func(t *testing.T) {
		tempDir := t.TempDir()
		t.Chdir(tempDir)
		t.Setenv("HOME", tempDir)
		t.Setenv("PIXIVDL_FANBOX_SESSION_ID", "")
		os.Unsetenv("PIXIVDL_FANBOX_SESSION_ID")

		require.NoError(t, os.WriteFile(".env", []byte("PIXIVDL_FANBOX_SESSION_ID=dotenv_session\n"), 0644))

		cfg, err := Load("", nil)
		require.NoError(t, err)
		assert.Equal(t, "dotenv_session", cfg.Fanbox.SessionID)
		os.Unsetenv("PIXIVDL_FANBOX_SESSION_ID")
	})
}

func TestDurationParsing(t *testing.T) {
	yamlContent := `
crawl:
  throttle_min: 2s
  throttle_max: 1m30s
retry:
  initial_backoff: 500ms
download:
  download_timeout: 45s
`
	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte(yamlContent), &cfg))

	assert.Equal(t, 2*time.Second, cfg.Crawl.ThrottleMin)
	assert.Equal(t, 90*time.Second, cfg.Crawl.ThrottleMax)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.InitialBackoff)
	assert.Equal(t, 45*time.Second, cfg.Download.DownloadTimeout)
}

func BenchmarkValidate(b *testing.B) {
	cfg := DefaultConfig()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = cfg.Validate()
	}
}

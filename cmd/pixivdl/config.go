package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"pixivdl/pkg/auth"
	"pixivdl/pkg/config"
	"pixivdl/pkg/ui"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage pixivdl configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (PIXIVDL_*)
  - .env file
  - Configuration file
  - Default values (lowest priority)`,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the default values",
	Long: `Write a configuration file with every option at its default value.

The file is created as '.pixivdl.yaml' in the current directory unless a
different path is given with --config.`,
	RunE: runConfigInit,
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration with secrets masked",
	RunE:  runConfigShow,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Validate the effective configuration.

This command checks:
  - YAML syntax
  - Value types and ranges
  - Output and log directories can be created
  - Which feeds have credentials`,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = ".pixivdl.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("configuration file already exists: %s", path)
	}

	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}

	ui.PrintSuccess("Configuration file created: " + path)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Store credentials with 'pixivdl auth login' (or set them in the file)")
	fmt.Println("2. Run 'pixivdl config validate' to check the configuration")
	fmt.Println("3. Start mirroring with 'pixivdl bookmarks <user-id>'")
	return nil
}

// maskedConfig returns a copy of cfg with secrets masked for display
func maskedConfig(cfg *config.Config) config.Config {
	display := *cfg
	masked := auth.SanitizeAccount(&auth.Account{
		PixivAccessToken: cfg.Pixiv.AccessToken,
		FanboxSessionID:  cfg.Fanbox.SessionID,
	})
	display.Pixiv.AccessToken = masked.PixivAccessToken
	display.Fanbox.SessionID = masked.FanboxSessionID
	return display
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return err
	}

	display := maskedConfig(cfg)
	data, err := yaml.Marshal(&display)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Println()
	fmt.Print(string(data))

	fmt.Println("\nConfiguration sources (in order of priority):")
	fmt.Println("1. Command line flags")
	fmt.Println("2. Environment variables (PIXIVDL_*)")
	if configFile != "" {
		fmt.Printf("3. Configuration file: %s\n", configFile)
	} else {
		fmt.Println("3. Configuration file: (searched in default locations)")
	}
	fmt.Println("4. Default values")
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		ui.PrintInfo("Validating configuration", configFile)
	}

	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return err
	}

	var warnings, problems []string

	if cfg.Pixiv.AccessToken == "" {
		warnings = append(warnings, "pixiv access token not configured (bookmarks/works need it or a stored account)")
	}
	if cfg.Fanbox.SessionID == "" {
		warnings = append(warnings, "fanbox session not configured (fanbox needs it or a stored account)")
	}

	if err := os.MkdirAll(cfg.Storage.RootDirectory, 0755); err != nil {
		problems = append(problems, fmt.Sprintf("cannot create output directory: %v", err))
	}
	if cfg.Storage.DatabaseDriver == config.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.DatabasePath), 0755); err != nil {
			problems = append(problems, fmt.Sprintf("cannot create database directory: %v", err))
		}
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			problems = append(problems, fmt.Sprintf("cannot create log directory: %v", err))
		}
	}

	if len(problems) > 0 {
		ui.PrintError("Configuration has errors:")
		for _, p := range problems {
			fmt.Printf("  - %s\n", p)
		}
		return errors.New("invalid configuration")
	}

	if len(warnings) > 0 {
		ui.PrintWarning("Configuration warnings:")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
		fmt.Println()
	}

	ui.PrintSuccess("Configuration is valid")

	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  Output directory: %s\n", cfg.Storage.RootDirectory)
	fmt.Printf("  Dedup database: %s %s\n", cfg.Storage.DatabaseDriver, cfg.Storage.DatabasePath)
	fmt.Printf("  Pages per run: bookmarks %d, works %d, fanbox %d\n",
		cfg.Crawl.PageCap("bookmarks"), cfg.Crawl.PageCap("works"), cfg.Crawl.PageCap("fanbox"))
	fmt.Printf("  Throttle: %s - %s\n", cfg.Crawl.ThrottleMin, cfg.Crawl.ThrottleMax)
	fmt.Printf("  Concurrency: %d\n", cfg.Crawl.Concurrency)
	fmt.Printf("  Rate limit: %d requests/minute\n", cfg.RateLimit.RequestsPerMinute)
	fmt.Printf("  Max attempts: %d\n", cfg.Retry.MaxAttempts)
	fmt.Printf("  Log level: %s\n", cfg.Logging.Level)
	return nil
}

package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"pixivdl/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile    string
	logLevel      string
	notifications bool
	quiet         bool
	verbose       bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pixivdl",
	Short: "Incrementally mirror pixiv bookmarks, works and fanbox posts",
	Long: `pixivdl mirrors the images of pixiv feeds to a local directory.

Each run walks a feed page by page, skips every item already recorded in the
dedup database and downloads the rest:
  - bookmarks   public bookmarks of a pixiv user
  - works       illustrations posted by a pixiv user
  - fanbox      posts of a fanbox creator you support

Animated illustrations (ugoira) are assembled into looping GIFs.
Credentials are stored with 'pixivdl auth login'.

The exit status is 1 when a run aborts (expired credentials, malformed feed
page, interrupt) or when items failed and none of the items seen is mirrored.
Items that fail next to mirrored ones are listed and retried on the next run.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if quiet {
			return
		}
		switch cmd.Name() {
		case "version", "help", "show":
		default:
			if ui.IsTerminal() {
				ui.PrintLogo()
			}
		}
	},
}

// Execute runs the root command and exits 1 on any error
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("Error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./.pixivdl.yaml or ~/.config/pixivdl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&notifications, "notifications", true, "enable desktop notifications")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print every item and keep log output")

	rootCmd.SetVersionTemplate(`pixivdl {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

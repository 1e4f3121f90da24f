package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"pixivdl/pkg/auth"
	"pixivdl/pkg/config"
	"pixivdl/pkg/crawler"
	"pixivdl/pkg/dedup"
	"pixivdl/pkg/download"
	"pixivdl/pkg/fanbox"
	"pixivdl/pkg/feed"
	"pixivdl/pkg/logger"
	"pixivdl/pkg/pixiv"
	"pixivdl/pkg/ratelimit"
	"pixivdl/pkg/resolver"
	"pixivdl/pkg/retry"
	"pixivdl/pkg/storage"
	"pixivdl/pkg/ugoira"
	"pixivdl/pkg/ui"
)

var (
	// Crawl command flags, shared by bookmarks, works and fanbox
	outputDir      string
	accountName    string
	accessToken    string
	sessionID      string
	database       string
	databaseDriver string
	durationPolicy string
	concurrency    int
	maxIterations  int
	rateLimit      int
	maxRetries     int
	resumeCrawl    bool
	noCheckpoint   bool
)

var bookmarksCmd = &cobra.Command{
	Use:   "bookmarks [user-id]",
	Short: "Mirror the public bookmarks of a pixiv user",
	Long: `Mirror the public bookmarks of a pixiv user.

The user id defaults to pixiv.user_id from the configuration. Items already
recorded in the dedup database are skipped without any network request.`,
	Example: `  # Mirror your own bookmarks
  pixivdl bookmarks 11

  # Fetch at most 3 pages, continue later with --resume
  pixivdl bookmarks 11 --max-iterations 3
  pixivdl bookmarks 11 --max-iterations 3 --resume`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCrawl(cmd, feed.NamespaceBookmarks, args)
	},
}

var worksCmd = &cobra.Command{
	Use:   "works [user-id]",
	Short: "Mirror the illustrations posted by a pixiv user",
	Long: `Mirror the illustrations posted by a pixiv user.

Multi-page works are limited to crawl.max_pages_per_item pages.`,
	Example: `  pixivdl works 11 --output ./art`,
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCrawl(cmd, feed.NamespaceWorks, args)
	},
}

var fanboxCmd = &cobra.Command{
	Use:   "fanbox [creator-id]",
	Short: "Mirror the posts of a fanbox creator",
	Long: `Mirror the images and attached files of a fanbox creator's posts.

Posts your plan cannot open are recorded and not retried. The creator id
defaults to fanbox.creator_id from the configuration.`,
	Example: `  pixivdl fanbox someartist --session-id "$FANBOXSESSID"`,
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCrawl(cmd, feed.NamespaceFanbox, args)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{bookmarksCmd, worksCmd, fanboxCmd} {
		rootCmd.AddCommand(cmd)

		f := cmd.Flags()
		f.StringVarP(&outputDir, "output", "o", "", "root directory for downloads")
		f.StringVarP(&accountName, "account", "a", "", "use a specific stored account")
		f.StringVar(&database, "database", "", "sqlite dedup database path")
		f.StringVar(&databaseDriver, "database-driver", "", "dedup backend (sqlite, postgres, memory)")
		f.StringVar(&durationPolicy, "duration-policy", "", "ugoira frame delay policy (strict, uniform, repeat_last)")
		f.IntVar(&concurrency, "concurrency", 0, "items processed in parallel per page")
		f.IntVar(&maxIterations, "max-iterations", 0, "maximum number of feed pages per run (default 10 for bookmarks, 50 otherwise)")
		f.IntVar(&rateLimit, "rate-limit", 0, "asset requests per minute")
		f.IntVar(&maxRetries, "max-retries", 0, "attempts per transfer")
		f.BoolVar(&resumeCrawl, "resume", false, "continue from the checkpoint of a capped run")
		f.BoolVar(&noCheckpoint, "no-checkpoint", false, "do not store a checkpoint")
	}
	bookmarksCmd.Flags().StringVar(&accessToken, "access-token", "", "pixiv access token")
	worksCmd.Flags().StringVar(&accessToken, "access-token", "", "pixiv access token")
	fanboxCmd.Flags().StringVar(&sessionID, "session-id", "", "FANBOXSESSID cookie value")
}

// crawlFlags collects the flags the user actually set
func crawlFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	set := func(name string, value interface{}) {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			flags[name] = value
		}
	}
	set("output", outputDir)
	set("access-token", accessToken)
	set("session-id", sessionID)
	set("database", database)
	set("database-driver", databaseDriver)
	set("duration-policy", durationPolicy)
	set("concurrency", concurrency)
	set("max-iterations", maxIterations)
	set("rate-limit", rateLimit)
	set("max-retries", maxRetries)
	set("log-level", logLevel)
	if f := cmd.Flags().Lookup("notifications"); f != nil && f.Changed {
		flags["notifications-enabled"] = notifications
	}
	// rate-limit and max-retries are the CLI names of config keys
	if v, ok := flags["rate-limit"]; ok {
		flags["requests-per-minute"] = v
	}
	if v, ok := flags["max-retries"]; ok {
		flags["max-attempts"] = v
	}
	if _, ok := flags["log-level"]; !ok && !verbose {
		// keep the progress line readable
		flags["log-level"] = "error"
	}
	return flags
}

// subjectFor picks the crawl subject from args or the configuration
func subjectFor(ns feed.Namespace, args []string, cfg *config.Config) (string, error) {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0]), nil
	}
	switch ns {
	case feed.NamespaceFanbox:
		if cfg.Fanbox.CreatorID != "" {
			return cfg.Fanbox.CreatorID, nil
		}
		return "", errors.New("no creator id given and fanbox.creator_id is not set")
	default:
		if cfg.Pixiv.UserID != "" {
			return cfg.Pixiv.UserID, nil
		}
		return "", errors.New("no user id given and pixiv.user_id is not set")
	}
}

// subjectFolder names the directory below the root a crawl writes to
func subjectFolder(ns feed.Namespace, subjectID string, perSubject bool) string {
	if !perSubject {
		return ""
	}
	if ns == feed.NamespaceBookmarks {
		return "bookmarks_" + subjectID
	}
	return string(ns) + "_" + subjectID
}

// checkCredentials reports the credential a namespace cannot run without
func checkCredentials(ns feed.Namespace, cfg *config.Config) error {
	if ns == feed.NamespaceFanbox {
		if cfg.Fanbox.SessionID == "" {
			return errors.New("missing fanbox session: run 'pixivdl auth login' or pass --session-id")
		}
		return nil
	}
	if cfg.Pixiv.AccessToken == "" {
		return errors.New("missing pixiv access token: run 'pixivdl auth login' or pass --access-token")
	}
	return nil
}

func applyStoredAccount(cfg *config.Config, log logger.Logger) error {
	manager, err := auth.NewManager()
	if err != nil {
		if accountName != "" {
			return fmt.Errorf("credential manager: %w", err)
		}
		log.WithError(err).Warn("Credential manager unavailable")
		return nil
	}

	var account *auth.Account
	if accountName != "" {
		if account, err = manager.Retrieve(accountName); err != nil {
			return err
		}
	} else if account, err = manager.RetrieveDefault(); err != nil {
		return nil
	}

	account.Apply(cfg)
	log.WithField("account", account.Name).Info("Using stored credentials")
	return nil
}

func runCrawl(cmd *cobra.Command, ns feed.Namespace, args []string) error {
	cfg, err := config.Load(configFile, crawlFlags(cmd))
	if err != nil {
		return err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	log := logger.GetLogger().WithField("feed", string(ns))

	if err := applyStoredAccount(cfg, log); err != nil {
		return err
	}
	if err := checkCredentials(ns, cfg); err != nil {
		return err
	}
	subjectID, err := subjectFor(ns, args, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	index, err := dedup.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open dedup index: %w", err)
	}
	defer index.Close()

	store, err := storage.NewManager(cfg.Storage.RootDirectory)
	if err != nil {
		return err
	}
	dir, err := store.Dir(subjectFolder(ns, subjectID, cfg.Storage.CreateSubjectFolders))
	if err != nil {
		return err
	}
	if n, err := storage.CleanupPartials(dir); err != nil {
		log.WithError(err).Warn("Failed to remove partial downloads")
	} else if n > 0 {
		log.WithField("count", n).Info("Removed partial downloads from an earlier run")
	}

	var out io.Writer = os.Stdout
	if quiet {
		out = io.Discard
	}
	display := ui.NewProgressDisplay(out, subjectID, verbose)
	if !quiet {
		ui.PrintInfo("Feed", string(ns))
		ui.PrintInfo("Subject", subjectID)
		ui.PrintInfo("Output", dir)
	}

	retryCfg := retry.FromConfig(cfg.Retry, log)
	httpClient := &http.Client{Timeout: cfg.Download.DownloadTimeout}
	dlOpts := download.Options{
		Client:    httpClient,
		ChunkSize: cfg.Download.ChunkSize,
		Retry:     retryCfg,
		Limiter:   ratelimit.PerMinute(cfg.RateLimit.RequestsPerMinute),
		Progress:  display,
		Logger:    log,
	}
	resOpts := resolver.Options{Dir: dir, Style: resolver.StyleFor(ns)}

	var f feed.Feed
	switch ns {
	case feed.NamespaceFanbox:
		client := fanbox.NewClient(cfg.Fanbox, fanbox.Options{Retry: retryCfg, Logger: log})
		f = fanbox.NewCreatorFeed(client)
		dlOpts.Referer = cfg.Fanbox.Referer
		dlOpts.UserAgent = cfg.Fanbox.UserAgent
		dlOpts.Header = fanbox.DownloadHeader(cfg.Fanbox)
		resOpts.BlacklistWords = cfg.Fanbox.BlacklistWords
		resOpts.WhitelistCreators = cfg.Fanbox.WhitelistCreators
	default:
		client := pixiv.NewClient(cfg.Pixiv, pixiv.Options{Retry: retryCfg, Logger: log})
		if ns == feed.NamespaceWorks {
			f = pixiv.WorksFeed(client)
			resOpts.MaxPages = cfg.Crawl.MaxPagesPerItem
		} else {
			f = pixiv.BookmarksFeed(client)
		}
		dlOpts.Referer = cfg.Pixiv.Referer
		dlOpts.UserAgent = cfg.Pixiv.UserAgent
	}

	policy, err := ugoira.ParsePolicy(cfg.Crawl.DurationPolicy)
	if err != nil {
		return err
	}
	downloader := download.New(dlOpts)

	orch := crawler.New(crawler.Options{
		Index:         index,
		Resolver:      resolver.New(resOpts),
		Fetcher:       downloader,
		Assembler:     ugoira.New(downloader, policy, log),
		MaxIterations: cfg.Crawl.PageCap(string(ns)),
		Throttle:      ratelimit.NewJitter(cfg.Crawl.ThrottleMin, cfg.Crawl.ThrottleMax),
		Concurrency:   cfg.Crawl.Concurrency,
		Checkpoint:    !noCheckpoint,
		Resume:        resumeCrawl,
		Observer:      display,
		Logger:        log,
	})

	summary, runErr := orch.Run(ctx, f, subjectID)
	display.Complete(summary)

	if cfg.Notifications.Enabled {
		failed := runErr != nil || summary.Err() != nil
		if (failed && cfg.Notifications.OnError) || (!failed && cfg.Notifications.OnComplete) {
			ui.NewNotifier(true).NotifySummary(summary, runErr)
		}
	}

	if runErr != nil {
		return runErr
	}
	return summary.Err()
}

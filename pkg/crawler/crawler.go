// Package crawler walks a feed page by page and mirrors every item that is
// not yet in the dedup index.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pixivdl/internal/downloader"
	"pixivdl/pkg/checkpoint"
	"pixivdl/pkg/dedup"
	errs "pixivdl/pkg/errors"
	"pixivdl/pkg/feed"
	"pixivdl/pkg/logger"
	"pixivdl/pkg/ratelimit"
)

// Resolver maps an item to the files it consists of
type Resolver interface {
	Resolve(item feed.Item) ([]feed.Task, []error)
}

// Fetcher materialises a static task
type Fetcher interface {
	Fetch(ctx context.Context, task feed.Task) (string, error)
}

// Assembler materialises an archive task
type Assembler interface {
	Run(ctx context.Context, task feed.Task) (string, error)
}

// Observer is told about progress. Calls may come from several workers.
type Observer interface {
	PageFetched(page, items int)
	ItemDone(item feed.Item, outcome downloader.Outcome, err error)
}

// Options configures an Orchestrator
type Options struct {
	Index     dedup.Index
	Resolver  Resolver
	Fetcher   Fetcher
	Assembler Assembler
	// MaxIterations caps the number of pages fetched per run
	MaxIterations int
	// Throttle pauses between pages, nil disables pausing
	Throttle    *ratelimit.Jitter
	Concurrency int

	// Checkpoint stores the next cursor after each page under
	// CheckpointDir and removes it once the feed is exhausted
	Checkpoint    bool
	CheckpointDir string
	// Resume starts from a stored checkpoint when one exists
	Resume bool

	Observer Observer
	Logger   logger.Logger
}

// Orchestrator drives one feed crawl at a time
type Orchestrator struct {
	opts   Options
	logger logger.Logger
}

// New creates an Orchestrator
func New(opts Options) *Orchestrator {
	if opts.MaxIterations < 1 {
		opts.MaxIterations = 1
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	return &Orchestrator{opts: opts, logger: logger.OrGlobal(opts.Logger)}
}

// Run crawls f for subjectID. Item failures are counted in the summary;
// auth failures and feed page failures end the run with an error.
func (o *Orchestrator) Run(ctx context.Context, f feed.Feed, subjectID string) (*Summary, error) {
	ns := f.Namespace()
	summary := &Summary{
		RunID:     uuid.NewString(),
		Namespace: ns,
		SubjectID: subjectID,
		StartedAt: time.Now(),
	}
	defer func() { summary.Elapsed = time.Since(summary.StartedAt) }()

	log := o.logger.WithFields(map[string]interface{}{
		"run_id":     summary.RunID,
		"namespace":  string(ns),
		"subject_id": subjectID,
	})

	var cpm *checkpoint.Manager
	if o.opts.Checkpoint {
		var err error
		cpm, err = checkpoint.NewManager(o.opts.CheckpointDir, string(ns), subjectID, log)
		if err != nil {
			return summary, fmt.Errorf("checkpoint: %w", err)
		}
	}

	pager, err := o.pager(f, subjectID, cpm, log)
	if err != nil {
		return summary, err
	}

	// a run-scoped failure aborts the pool so later items of the batch
	// never start
	var pool *downloader.WorkerPool
	pool = downloader.NewWorkerPool(ctx, o.opts.Concurrency, downloader.ProcessorFunc(
		func(ctx context.Context, item feed.Item) (downloader.Outcome, error) {
			outcome, err := o.processItem(ctx, f, item, log)
			if isRunScoped(err) {
				pool.Abort()
			}
			return outcome, err
		}), log)
	pool.Start()
	defer pool.Stop()

	log.InfoWithFields("Crawl started", map[string]interface{}{
		"max_iterations": o.opts.MaxIterations,
		"concurrency":    o.opts.Concurrency,
	})

	for {
		if pager.Fetched() > 0 && pager.HasNext() && o.opts.Throttle != nil {
			d := o.opts.Throttle.Next()
			log.DebugWithFields("Sleeping between pages", map[string]interface{}{
				"sleep_ms": d.Milliseconds(),
			})
			if err := o.opts.Throttle.PauseFor(ctx, d); err != nil {
				return summary, err
			}
		}

		batch, err := pager.Next(ctx)
		if errors.Is(err, feed.ErrExhausted) {
			break
		}
		if err != nil {
			log.WithError(err).Error("Feed page failed")
			return summary, err
		}

		summary.Pages++
		logger.LogPage(log, string(ns), summary.Pages, len(batch.Items), pager.HasNext())
		o.opts.Observer.PageFetched(summary.Pages, len(batch.Items))

		results := pool.RunBatch(batch.Items)
		for _, res := range results {
			summary.add(res)
			logger.LogItem(log, string(ns), res.Job.Item.ID, res.Outcome.String(), res.Err)
			o.opts.Observer.ItemDone(res.Job.Item, res.Outcome, res.Err)
		}
		if fatal := runError(ctx, results); fatal != nil {
			log.WithError(fatal).Error("Crawl aborted")
			return summary, fatal
		}

		if cpm != nil && pager.Cursor() != nil {
			if err := cpm.SaveCursor(string(ns), subjectID, summary.RunID, pager.Cursor(), pager.Fetched()); err != nil {
				log.WithError(err).Warn("Failed to save checkpoint")
			}
		}
	}

	summary.StopReason = pager.StopReason()
	if cpm != nil && summary.StopReason == feed.StopExhausted {
		if err := cpm.Delete(); err != nil {
			log.WithError(err).Warn("Failed to delete checkpoint")
		}
	}

	summary.Elapsed = time.Since(summary.StartedAt)
	log.InfoWithFields("Crawl finished", summary.Fields())
	return summary, nil
}

func (o *Orchestrator) pager(f feed.Feed, subjectID string, cpm *checkpoint.Manager, log logger.Logger) (*feed.Pager, error) {
	if cpm == nil || !o.opts.Resume {
		return feed.NewPager(f, subjectID, o.opts.MaxIterations), nil
	}
	cp, err := cpm.Load()
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if cp == nil || len(cp.Cursor) == 0 {
		return feed.NewPager(f, subjectID, o.opts.MaxIterations), nil
	}
	log.InfoWithFields("Resuming from checkpoint", map[string]interface{}{
		"pages":       cp.Pages,
		"previous_id": cp.RunID,
	})
	return feed.ResumePager(f, subjectID, feed.Cursor(cp.Cursor), o.opts.MaxIterations), nil
}

// processItem takes one item from dedup check to dedup record
func (o *Orchestrator) processItem(ctx context.Context, f feed.Feed, item feed.Item, log logger.Logger) (downloader.Outcome, error) {
	ns := f.Namespace()

	seen, err := o.opts.Index.Has(ctx, ns, item.ID)
	if err != nil {
		return downloader.OutcomeFailed, fmt.Errorf("dedup lookup: %w", err)
	}
	if seen {
		return downloader.OutcomeSkipped, nil
	}

	if item.NeedsDetail {
		d, ok := f.(feed.Detailer)
		if !ok {
			return downloader.OutcomeFailed, fmt.Errorf("item %s needs detail but %s feed has none", item.ID, ns)
		}
		if item, err = d.Detail(ctx, item); err != nil {
			return downloader.OutcomeFailed, err
		}
	}

	if item.NoContent {
		rec := dedup.Record{Namespace: ns, ID: item.ID, Kind: dedup.KindNoAccess, Author: item.Author}
		if err := o.record(ctx, rec); err != nil {
			return downloader.OutcomeFailed, err
		}
		return downloader.OutcomeNoContent, nil
	}

	tasks, resolveErrs := o.opts.Resolver.Resolve(item)
	for _, rerr := range resolveErrs {
		log.WithError(rerr).WarnWithFields("Page skipped", map[string]interface{}{
			"item_id": item.ID,
		})
	}
	if len(tasks) == 0 && len(resolveErrs) > 0 {
		return downloader.OutcomeFailed, fmt.Errorf("item %s: nothing to download: %w", item.ID, errors.Join(resolveErrs...))
	}

	var taskErrs []error
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return downloader.OutcomeFailed, err
		}
		if err := o.materialise(ctx, task); err != nil {
			taskErrs = append(taskErrs, fmt.Errorf("%s: %w", task.Dest, err))
			if isRunScoped(err) {
				break
			}
		}
	}
	if len(taskErrs) > 0 {
		return downloader.OutcomeFailed, errors.Join(taskErrs...)
	}

	rec := dedup.Record{Namespace: ns, ID: item.ID, Kind: recordKind(item), Author: item.Author}
	if err := o.record(ctx, rec); err != nil {
		return downloader.OutcomeFailed, err
	}
	return downloader.OutcomeDownloaded, nil
}

// record writes rec unless the run has been aborted meanwhile
func (o *Orchestrator) record(ctx context.Context, rec dedup.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := o.opts.Index.Record(ctx, rec); err != nil {
		return fmt.Errorf("dedup record: %w", err)
	}
	return nil
}

func (o *Orchestrator) materialise(ctx context.Context, task feed.Task) error {
	if task.Archive {
		if o.opts.Assembler == nil {
			return fmt.Errorf("no assembler for archive task")
		}
		_, err := o.opts.Assembler.Run(ctx, task)
		return err
	}
	_, err := o.opts.Fetcher.Fetch(ctx, task)
	return err
}

func recordKind(item feed.Item) string {
	if item.Type != "" {
		return item.Type
	}
	return item.Kind.String()
}

// runError returns the error that ends the run after a batch, if any. Auth
// failures win over the cancellations an abort causes in other items.
func runError(ctx context.Context, results []downloader.Result) error {
	for _, res := range results {
		if errs.IsAuth(res.Err) {
			return res.Err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, res := range results {
		if isRunScoped(res.Err) {
			return res.Err
		}
	}
	return nil
}

// isRunScoped reports errors that make continuing the run pointless
func isRunScoped(err error) bool {
	return errs.IsAuth(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

type nopObserver struct{}

func (nopObserver) PageFetched(int, int)                          {}
func (nopObserver) ItemDone(feed.Item, downloader.Outcome, error) {}

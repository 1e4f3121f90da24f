// Package download streams remote assets to disk.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	errs "pixivdl/pkg/errors"
	"pixivdl/pkg/feed"
	"pixivdl/pkg/logger"
	"pixivdl/pkg/ratelimit"
	"pixivdl/pkg/retry"
	"pixivdl/pkg/storage"
)

// DefaultReferer is required by i.pximg.net, which rejects hot-linked requests
const DefaultReferer = "https://app-api.pixiv.net/"

// DefaultChunkSize is the read size of the transfer loop
const DefaultChunkSize = 32 * 1024

// ProgressReporter receives cumulative progress for one transfer. total is
// -1 when the server sent no Content-Length.
type ProgressReporter interface {
	Progress(title string, written, total int64)
	Done(title string)
}

// Options configures a Downloader
type Options struct {
	Client    *http.Client
	Referer   string
	UserAgent string
	// Header is added to every request, e.g. fanbox cookies
	Header    http.Header
	ChunkSize int
	Retry     *retry.Config
	Limiter   ratelimit.Limiter
	Progress  ProgressReporter
	Logger    logger.Logger
}

// Downloader fetches tasks one transfer at a time per call and is safe for
// concurrent use
type Downloader struct {
	client    *http.Client
	referer   string
	userAgent string
	header    http.Header
	chunkSize int
	retry     *retry.Config
	limiter   ratelimit.Limiter
	progress  ProgressReporter
	logger    logger.Logger
}

// New creates a Downloader
func New(opts Options) *Downloader {
	d := &Downloader{
		client:    opts.Client,
		referer:   opts.Referer,
		userAgent: opts.UserAgent,
		header:    opts.Header,
		chunkSize: opts.ChunkSize,
		retry:     opts.Retry,
		limiter:   opts.Limiter,
		progress:  opts.Progress,
		logger:    logger.OrGlobal(opts.Logger),
	}
	if d.client == nil {
		d.client = &http.Client{Timeout: 60 * time.Second}
	}
	if d.referer == "" {
		d.referer = DefaultReferer
	}
	if d.chunkSize <= 0 {
		d.chunkSize = DefaultChunkSize
	}
	if d.retry == nil {
		d.retry = retry.DefaultConfig()
	}
	if d.retry.Logger == nil {
		cfg := *d.retry
		cfg.Logger = d.logger
		d.retry = &cfg
	}
	if d.limiter == nil {
		d.limiter = ratelimit.Unlimited{}
	}
	if d.progress == nil {
		d.progress = nopProgress{}
	}
	return d
}

// Fetch materialises task.Dest from task.URL and returns the path
func (d *Downloader) Fetch(ctx context.Context, task feed.Task) (string, error) {
	return d.FetchTo(ctx, task.URL, task.Dest, task.DisplayTitle)
}

// FetchTo downloads url to dest. When dest already exists it returns
// immediately without touching the network.
func (d *Downloader) FetchTo(ctx context.Context, url, dest, title string) (string, error) {
	log := d.logger.WithFields(map[string]interface{}{
		"url":  url,
		"dest": dest,
	})
	if storage.Exists(dest) {
		log.Debug("Destination exists, skipping download")
		return dest, nil
	}
	if title == "" {
		title = dest
	}

	start := time.Now()
	err := retry.Do(ctx, func(ctx context.Context) error {
		return d.transfer(ctx, url, dest, title)
	}, d.retry)
	if err != nil {
		return "", err
	}

	log.DebugWithFields("Download completed", map[string]interface{}{
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return dest, nil
}

// transfer performs a single attempt
func (d *Downloader) transfer(ctx context.Context, url, dest, title string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errs.Wrap(errs.ErrorTypeUnknown, err, "build request")
	}
	for k, vs := range d.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Referer", d.referer)
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return errs.Transport(err)
	}
	defer resp.Body.Close()
	logger.LogRequest(d.logger, req.Method, url, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errs.HTTPStatus(resp.StatusCode, url)
	}

	out, err := storage.Create(dest)
	if err != nil {
		return errs.Wrap(errs.ErrorTypeFilesystem, err, "create destination")
	}

	total := resp.ContentLength
	if total <= 0 {
		total = -1
	}
	var written int64
	buf := make([]byte, d.chunkSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				out.Abort()
				return errs.Wrap(errs.ErrorTypeFilesystem, werr, "write destination")
			}
			written += int64(n)
			d.progress.Progress(title, written, total)
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			out.Abort()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return errs.Transport(fmt.Errorf("read body after %d bytes: %w", written, rerr))
		}
	}

	if total > 0 && written < total {
		out.Abort()
		return errs.Transport(fmt.Errorf("short body: got %d of %d bytes: %w", written, total, io.ErrUnexpectedEOF))
	}
	if err := out.Commit(); err != nil {
		return errs.Wrap(errs.ErrorTypeFilesystem, err, "commit destination")
	}
	d.progress.Done(title)
	return nil
}

type nopProgress struct{}

func (nopProgress) Progress(string, int64, int64) {}
func (nopProgress) Done(string)                   {}

package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"pixivdl/internal/downloader"
	"pixivdl/pkg/crawler"
	"pixivdl/pkg/feed"
)

// ProgressDisplay renders a one-line crawl status. It serves as the
// crawler observer and as the downloader progress reporter.
type ProgressDisplay struct {
	mu      sync.Mutex
	out     io.Writer
	subject string
	isDebug bool

	startTime time.Time
	page      int
	pageItems int
	done      int

	downloaded int
	skipped    int
	noContent  int
	errors     int

	current string
	written int64
	total   int64
	bytes   int64
}

// NewProgressDisplay creates a display for one crawl subject. In debug
// mode every item is printed on its own line instead.
func NewProgressDisplay(out io.Writer, subject string, debug bool) *ProgressDisplay {
	return &ProgressDisplay{
		out:       out,
		subject:   subject,
		isDebug:   debug,
		startTime: time.Now(),
	}
}

// PageFetched implements crawler.Observer
func (p *ProgressDisplay) PageFetched(page, items int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.page = page
	p.pageItems = items
	p.done = 0
	if p.isDebug {
		fmt.Fprintf(p.out, "%s Page %d: %d items\n", Magenta("→"), page, items)
		return
	}
	p.printProgress()
}

// ItemDone implements crawler.Observer
func (p *ProgressDisplay) ItemDone(item feed.Item, outcome downloader.Outcome, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done++
	switch outcome {
	case downloader.OutcomeDownloaded:
		p.downloaded++
	case downloader.OutcomeSkipped:
		p.skipped++
	case downloader.OutcomeNoContent:
		p.noContent++
	default:
		p.errors++
	}

	if !p.isDebug {
		p.printProgress()
		return
	}
	switch outcome {
	case downloader.OutcomeFailed:
		fmt.Fprintf(p.out, "%s %s %s: %v\n", Red("✗"), item.ID, item.Title, err)
	case downloader.OutcomeDownloaded:
		fmt.Fprintf(p.out, "%s %s %s\n", Green("✓"), item.ID, Dim(item.Title))
	default:
		fmt.Fprintf(p.out, "%s %s %s\n", Dim("•"), item.ID, Dim(outcome.String()))
	}
}

// Progress implements download.ProgressReporter
func (p *ProgressDisplay) Progress(title string, written, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = title
	p.written = written
	p.total = total
	if !p.isDebug {
		p.printProgress()
	}
}

// Done implements download.ProgressReporter
func (p *ProgressDisplay) Done(title string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.bytes += p.written
	if p.current == title {
		p.current = ""
		p.written, p.total = 0, 0
	}
}

// printProgress redraws the status line. Callers hold p.mu.
func (p *ProgressDisplay) printProgress() {
	line := fmt.Sprintf("%s page %d [%s] %d/%d • %s new • %s skipped",
		Cyan(p.subject),
		p.page,
		Bar(int64(p.done), int64(p.pageItems)),
		p.done,
		p.pageItems,
		Green(fmt.Sprint(p.downloaded)),
		Dim(fmt.Sprint(p.skipped)),
	)
	if p.errors > 0 {
		line += " • " + Red(fmt.Sprintf("%d errors", p.errors))
	}
	if p.current != "" {
		line += fmt.Sprintf(" • %s %s", truncate(p.current, 32), Percent(p.written, p.total))
	}
	fmt.Fprintf(p.out, "\r%s\r%s", strings.Repeat(" ", 120), line)
}

// Complete prints the end of run summary
func (p *ProgressDisplay) Complete(s *crawler.Summary) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.out, "\n\n%s %d new items from %s %s\n",
		Green("✓"), s.Succeeded, s.Namespace, p.subject)
	fmt.Fprintf(p.out, "  %s %d pages, %d seen, %d skipped in %s (%s)\n",
		Dim("•"), s.Pages, s.Seen, s.Skipped, FormatDuration(s.Elapsed), s.StopReason)
	if p.bytes > 0 {
		fmt.Fprintf(p.out, "  %s %s transferred\n", Dim("•"), FormatBytes(p.bytes))
	}
	if s.NoContent > 0 {
		fmt.Fprintf(p.out, "  %s %d items not accessible\n", Dim("•"), s.NoContent)
	}
	if s.Failed > 0 {
		fmt.Fprintf(p.out, "  %s %d items failed\n", Red("•"), s.Failed)
		for _, f := range s.Failures {
			fmt.Fprintf(p.out, "    %s %v\n", f.ID, f.Err)
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

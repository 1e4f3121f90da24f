package ui

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pixivdl/internal/downloader"
	"pixivdl/pkg/crawler"
	"pixivdl/pkg/feed"
)

type recordingSender struct {
	titles   []string
	messages []string
}

func (r *recordingSender) Send(title, message string) error {
	r.titles = append(r.titles, title)
	r.messages = append(r.messages, message)
	return errors.New("no display")
}

func TestBar(t *testing.T) {
	assert.Equal(t, 20, len([]rune(Bar(0, 0))))
	assert.Equal(t, "━━━━━━━━━━──────────", Bar(5, 10))
	assert.Equal(t, "━━━━━━━━━━━━━━━━━━━━", Bar(30, 10))
}

func TestFormatting(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{FormatBytes(512), "512 B"},
		{FormatBytes(1536), "1.5 KB"},
		{FormatBytes(3 * 1024 * 1024), "3.0 MB"},
		{FormatDuration(42 * time.Second), "42s"},
		{FormatDuration(90 * time.Second), "1m30s"},
		{FormatDuration(2*time.Hour + 5*time.Minute), "2h5m"},
		{Percent(50, 200), " 25%"},
		{Percent(2048, -1), "2.0 KB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.got)
	}
}

func TestProgressDisplayCounts(t *testing.T) {
	var out bytes.Buffer
	p := NewProgressDisplay(&out, "42", false)

	p.PageFetched(1, 3)
	p.Progress("alice_t_p0.png", 10, 40)
	p.Done("alice_t_p0.png")
	p.ItemDone(feed.Item{ID: "1"}, downloader.OutcomeDownloaded, nil)
	p.ItemDone(feed.Item{ID: "2"}, downloader.OutcomeSkipped, nil)
	p.ItemDone(feed.Item{ID: "3"}, downloader.OutcomeFailed, errors.New("boom"))

	assert.Equal(t, 1, p.downloaded)
	assert.Equal(t, 1, p.skipped)
	assert.Equal(t, 1, p.errors)
	assert.Equal(t, int64(10), p.bytes)
	assert.Empty(t, p.current)
	assert.Contains(t, out.String(), "3/3")
	assert.Contains(t, out.String(), "1 errors")

	out.Reset()
	p.Complete(&crawler.Summary{
		Namespace:  feed.NamespaceBookmarks,
		Pages:      1,
		Seen:       3,
		Succeeded:  1,
		Skipped:    1,
		Failed:     1,
		Failures:   []crawler.ItemFailure{{ID: "3", Err: errors.New("boom")}},
		StopReason: feed.StopExhausted,
	})
	assert.Contains(t, out.String(), "1 new items from bookmarks 42")
	assert.Contains(t, out.String(), "1 items failed")
	assert.Contains(t, out.String(), "3 boom")
}

func TestProgressDisplayDebug(t *testing.T) {
	var out bytes.Buffer
	p := NewProgressDisplay(&out, "artist", true)

	p.PageFetched(2, 1)
	p.ItemDone(feed.Item{ID: "9", Title: "post"}, downloader.OutcomeNoContent, nil)
	assert.Contains(t, out.String(), "Page 2: 1 items")
	assert.Contains(t, out.String(), "no_content")
	assert.Equal(t, 1, p.noContent)
}

func TestNotifySummary(t *testing.T) {
	tests := []struct {
		name    string
		summary crawler.Summary
		runErr  error
		want    string
	}{
		{
			name:    "success",
			summary: crawler.Summary{Namespace: feed.NamespaceWorks, SubjectID: "7", Succeeded: 2, Skipped: 5},
			want:    "2 new, 5 already mirrored",
		},
		{
			name:    "all failed",
			summary: crawler.Summary{Namespace: feed.NamespaceWorks, SubjectID: "7", Failed: 3},
			want:    "3 items failed and none succeeded",
		},
		{
			name:    "aborted",
			summary: crawler.Summary{Namespace: feed.NamespaceFanbox, SubjectID: "artist", Pages: 1},
			runErr:  errors.New("session expired"),
			want:    "Crawl aborted after 1 pages: session expired",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			sender := &recordingSender{}
			NewNotifierWith(sender, &out).NotifySummary(&tt.summary, tt.runErr)

			require.Len(t, sender.messages, 1)
			assert.Equal(t, tt.want, sender.messages[0])
			assert.Contains(t, sender.titles[0], AppName)
			assert.Contains(t, out.String(), tt.want)
		})
	}
}

func TestNotifierWithoutSender(t *testing.T) {
	var out bytes.Buffer
	NewNotifierWith(nil, &out).SendNotification("title", "message")
	assert.Contains(t, out.String(), "message")
}

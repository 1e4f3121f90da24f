package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pixivdl/internal/downloader"
	"pixivdl/pkg/checkpoint"
	"pixivdl/pkg/dedup"
	"pixivdl/pkg/download"
	errs "pixivdl/pkg/errors"
	"pixivdl/pkg/feed"
	"pixivdl/pkg/logger"
	"pixivdl/pkg/ratelimit"
	"pixivdl/pkg/resolver"
	"pixivdl/pkg/retry"
)

// pageFeed serves fixed pages, or an endless sequence of one-item pages
// when infinite is set. The cursor is {"page": "<index>"}.
type pageFeed struct {
	ns       feed.Namespace
	pages    [][]feed.Item
	infinite bool
	pageErr  error
	detail   func(feed.Item) (feed.Item, error)

	mu          sync.Mutex
	firstCalls  int
	nextCursors []feed.Cursor
	detailed    []string
}

func (f *pageFeed) Namespace() feed.Namespace { return f.ns }

func (f *pageFeed) FetchFirst(ctx context.Context, _ string) (feed.Batch, error) {
	f.mu.Lock()
	f.firstCalls++
	f.mu.Unlock()
	return f.page(0)
}

func (f *pageFeed) FetchNext(ctx context.Context, c feed.Cursor) (feed.Batch, error) {
	f.mu.Lock()
	f.nextCursors = append(f.nextCursors, c)
	f.mu.Unlock()
	i, err := strconv.Atoi(c["page"])
	if err != nil {
		return feed.Batch{}, err
	}
	return f.page(i)
}

func (f *pageFeed) page(i int) (feed.Batch, error) {
	if f.pageErr != nil {
		return feed.Batch{}, f.pageErr
	}
	next := feed.Cursor{"page": strconv.Itoa(i + 1)}
	if f.infinite {
		return feed.Batch{Items: []feed.Item{{ID: fmt.Sprintf("p%d", i), Assets: feed.Files{}}}, Next: next}, nil
	}
	if i+1 >= len(f.pages) {
		next = nil
	}
	return feed.Batch{Items: f.pages[i], Next: next}, nil
}

func (f *pageFeed) Detail(ctx context.Context, item feed.Item) (feed.Item, error) {
	f.mu.Lock()
	f.detailed = append(f.detailed, item.ID)
	f.mu.Unlock()
	if f.detail == nil {
		item.NeedsDetail = false
		return item, nil
	}
	return f.detail(item)
}

type fakeAssembler struct {
	mu    sync.Mutex
	tasks []feed.Task
	err   error
}

func (a *fakeAssembler) Run(_ context.Context, task feed.Task) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tasks = append(a.tasks, task)
	if a.err != nil {
		return "", a.err
	}
	return task.Dest, os.WriteFile(task.Dest, []byte("GIF89a"), 0644)
}

type recordingObserver struct {
	mu       sync.Mutex
	pages    int
	outcomes map[string]downloader.Outcome
}

func (o *recordingObserver) PageFetched(int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pages++
}

func (o *recordingObserver) ItemDone(item feed.Item, outcome downloader.Outcome, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = map[string]downloader.Outcome{}
	}
	o.outcomes[item.ID] = outcome
}

type harness struct {
	srv       *httptest.Server
	hits      int32
	dir       string
	index     *dedup.MemoryIndex
	assembler *fakeAssembler
	observer  *recordingObserver
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		dir:       t.TempDir(),
		index:     dedup.NewMemoryIndex(),
		assembler: &fakeAssembler{},
		observer:  &recordingObserver{},
	}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&h.hits, 1)
		if strings.HasPrefix(r.URL.Path, "/missing/") {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("image-bytes"))
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) orchestrator(mod func(*Options)) *Orchestrator {
	opts := Options{
		Index:    h.index,
		Resolver: resolver.New(resolver.Options{Dir: h.dir}),
		Fetcher: download.New(download.Options{
			Retry:  &retry.Config{MaxAttempts: 2, Backoff: &retry.ConstantBackoff{Delay: time.Millisecond}},
			Logger: logger.NewNopLogger(),
		}),
		Assembler:     h.assembler,
		MaxIterations: 10,
		Observer:      h.observer,
		Logger:        logger.NewNopLogger(),
	}
	if mod != nil {
		mod(&opts)
	}
	return New(opts)
}

func (h *harness) item(id, path string) feed.Item {
	return feed.Item{
		ID:     id,
		Type:   "illust",
		Author: "alice",
		Title:  "t" + id,
		Assets: feed.SinglePage{Variants: feed.Variants{Original: h.srv.URL + path}},
	}
}

func TestRunIsIdempotent(t *testing.T) {
	h := newHarness(t)
	f := &pageFeed{ns: feed.NamespaceBookmarks, pages: [][]feed.Item{
		{h.item("1", "/img/1_p0.png"), h.item("2", "/img/2_p0.png")},
		{h.item("3", "/img/3_p0.jpg")},
	}}

	summary, err := h.orchestrator(nil).Run(context.Background(), f, "42")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Pages)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, feed.StopExhausted, summary.StopReason)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 3, h.index.Len(feed.NamespaceBookmarks))
	assert.FileExists(t, filepath.Join(h.dir, "alice_t1_p0.png"))
	assert.Equal(t, int32(3), atomic.LoadInt32(&h.hits))

	summary, err = h.orchestrator(nil).Run(context.Background(), f, "42")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Skipped)
	assert.Equal(t, 0, summary.Succeeded)
	assert.Equal(t, int32(3), atomic.LoadInt32(&h.hits), "second run must not touch the network for assets")
	assert.NoError(t, summary.Err())
}

func TestPartialFailureIsolation(t *testing.T) {
	h := newHarness(t)
	f := &pageFeed{ns: feed.NamespaceWorks, pages: [][]feed.Item{{
		h.item("1", "/img/1_p0.png"),
		h.item("2", "/missing/2_p0.png"),
		h.item("3", "/img/3_p0.png"),
	}}}

	summary, err := h.orchestrator(nil).Run(context.Background(), f, "7")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "2", summary.Failures[0].ID)
	assert.Equal(t, errs.ErrorTypeHTTPStatus, errs.TypeOf(summary.Failures[0].Err))
	assert.NoError(t, summary.Err())

	ctx := context.Background()
	for id, want := range map[string]bool{"1": true, "2": false, "3": true} {
		has, err := h.index.Has(ctx, feed.NamespaceWorks, id)
		require.NoError(t, err)
		assert.Equal(t, want, has, "item %s", id)
	}
	assert.Equal(t, downloader.OutcomeFailed, h.observer.outcomes["2"])

	summary, err = h.orchestrator(nil).Run(context.Background(), f, "7")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 1, summary.Failed)
	assert.NoError(t, summary.Err(), "a re-run with only the old failure left is not a failed run")
}

func TestAllItemsFailedIsAnError(t *testing.T) {
	h := newHarness(t)
	f := &pageFeed{ns: feed.NamespaceWorks, pages: [][]feed.Item{{h.item("1", "/missing/1_p0.png")}}}

	summary, err := h.orchestrator(nil).Run(context.Background(), f, "7")
	require.NoError(t, err)
	assert.Error(t, summary.Err())
}

func TestCapAndResume(t *testing.T) {
	h := newHarness(t)
	cpDir := t.TempDir()
	f := &pageFeed{ns: feed.NamespaceBookmarks, infinite: true}
	withCheckpoint := func(resume bool) func(*Options) {
		return func(o *Options) {
			o.MaxIterations = 3
			o.Checkpoint = true
			o.CheckpointDir = cpDir
			o.Resume = resume
		}
	}

	summary, err := h.orchestrator(withCheckpoint(false)).Run(context.Background(), f, "42")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Pages)
	assert.Equal(t, feed.StopCapReached, summary.StopReason)

	mgr, err := checkpoint.NewManager(cpDir, string(feed.NamespaceBookmarks), "42", logger.NewNopLogger())
	require.NoError(t, err)
	cp, err := mgr.Load()
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, map[string]string{"page": "3"}, cp.Cursor)

	summary, err = h.orchestrator(withCheckpoint(true)).Run(context.Background(), f, "42")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Pages)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, 1, f.firstCalls, "resumed run must continue from the stored cursor")
	assert.Equal(t, 6, h.index.Len(feed.NamespaceBookmarks))
	has, _ := h.index.Has(context.Background(), feed.NamespaceBookmarks, "p5")
	assert.True(t, has)
}

func TestExhaustedFeedDeletesCheckpoint(t *testing.T) {
	h := newHarness(t)
	cpDir := t.TempDir()
	f := &pageFeed{ns: feed.NamespaceWorks, pages: [][]feed.Item{{h.item("1", "/img/1_p0.png")}, {}}}

	_, err := h.orchestrator(func(o *Options) {
		o.Checkpoint = true
		o.CheckpointDir = cpDir
	}).Run(context.Background(), f, "9")
	require.NoError(t, err)

	mgr, err := checkpoint.NewManager(cpDir, string(feed.NamespaceWorks), "9", nil)
	require.NoError(t, err)
	assert.False(t, mgr.Exists())
}

func TestNoContentIsRecorded(t *testing.T) {
	h := newHarness(t)
	f := &pageFeed{
		ns:    feed.NamespaceFanbox,
		pages: [][]feed.Item{{{ID: "5550", Author: "artist", NeedsDetail: true}}},
		detail: func(item feed.Item) (feed.Item, error) {
			item.NeedsDetail = false
			item.NoContent = true
			return item, nil
		},
	}

	summary, err := h.orchestrator(nil).Run(context.Background(), f, "artist")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.NoContent)
	assert.Equal(t, int32(0), atomic.LoadInt32(&h.hits))

	rec, ok, err := h.index.Get(context.Background(), feed.NamespaceFanbox, "5550")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, dedup.KindNoAccess, rec.Kind)
	assert.Equal(t, "artist", rec.Author)
}

func TestDetailOnlyForUnseenItems(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.index.Record(context.Background(), dedup.Record{Namespace: feed.NamespaceBookmarks, ID: "1"}))

	f := &pageFeed{ns: feed.NamespaceBookmarks, pages: [][]feed.Item{{
		{ID: "1", NeedsDetail: true, Kind: feed.KindAnimated},
		{ID: "2", NeedsDetail: true, Kind: feed.KindAnimated, Author: "carol", Title: "loop"},
	}}}
	f.detail = func(item feed.Item) (feed.Item, error) {
		item.NeedsDetail = false
		item.Assets = feed.Archive{URL: h.srv.URL + "/img/2_ugoira600x600.zip"}
		item.FrameDurationsMs = []int{100, 150, 100}
		return item, nil
	}

	summary, err := h.orchestrator(nil).Run(context.Background(), f, "42")
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, f.detailed)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Succeeded)

	require.Len(t, h.assembler.tasks, 1)
	task := h.assembler.tasks[0]
	assert.True(t, task.Archive)
	assert.Equal(t, []int{100, 150, 100}, task.Durations)
	assert.Equal(t, filepath.Join(h.dir, "carol_loop.gif"), task.Dest)

	rec, ok, _ := h.index.Get(context.Background(), feed.NamespaceBookmarks, "2")
	require.True(t, ok)
	assert.Equal(t, "animated", rec.Kind)
}

func TestCorruptArchiveIsItemScoped(t *testing.T) {
	h := newHarness(t)
	h.assembler.err = errs.CorruptArchive("archive is empty", nil)
	f := &pageFeed{ns: feed.NamespaceBookmarks, pages: [][]feed.Item{{
		{ID: "1", Kind: feed.KindAnimated, Author: "a", Title: "x", Assets: feed.Archive{URL: "u"}, FrameDurationsMs: []int{50}},
		h.item("2", "/img/2_p0.png"),
	}}}

	summary, err := h.orchestrator(nil).Run(context.Background(), f, "42")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Succeeded)
}

func TestAuthErrorAbortsRun(t *testing.T) {
	t.Run("feed page", func(t *testing.T) {
		h := newHarness(t)
		f := &pageFeed{ns: feed.NamespaceBookmarks, pageErr: errs.Auth(401, "token expired")}
		_, err := h.orchestrator(nil).Run(context.Background(), f, "42")
		require.Error(t, err)
		assert.True(t, errs.IsAuth(err))
	})

	t.Run("item detail", func(t *testing.T) {
		h := newHarness(t)
		f := &pageFeed{
			ns: feed.NamespaceFanbox,
			pages: [][]feed.Item{
				{{ID: "1", NeedsDetail: true}},
				{h.item("2", "/img/2_p0.png")},
			},
			detail: func(item feed.Item) (feed.Item, error) {
				return item, errs.Auth(403, "session expired")
			},
		}
		summary, err := h.orchestrator(nil).Run(context.Background(), f, "artist")
		require.Error(t, err)
		assert.True(t, errs.IsAuth(err))
		assert.Equal(t, 1, summary.Pages)
		assert.Equal(t, 0, h.index.Len(feed.NamespaceFanbox))
	})

	t.Run("rest of the batch", func(t *testing.T) {
		h := newHarness(t)
		f := &pageFeed{
			ns: feed.NamespaceWorks,
			pages: [][]feed.Item{{
				{ID: "1", NeedsDetail: true},
				h.item("2", "/img/2_p0.png"),
				h.item("3", "/img/3_p0.png"),
			}},
			detail: func(item feed.Item) (feed.Item, error) {
				return item, errs.Auth(403, "session expired")
			},
		}

		summary, err := h.orchestrator(nil).Run(context.Background(), f, "7")
		require.Error(t, err)
		assert.True(t, errs.IsAuth(err), "got %v", err)
		assert.Zero(t, summary.Succeeded)
		assert.Equal(t, 3, summary.Failed)
		assert.Equal(t, int32(0), atomic.LoadInt32(&h.hits))
		assert.Equal(t, 0, h.index.Len(feed.NamespaceWorks))
		assert.NoFileExists(t, filepath.Join(h.dir, "alice_t2_p0.png"))
	})
}

func TestMalformedPageAbortsRun(t *testing.T) {
	h := newHarness(t)
	f := &pageFeed{ns: feed.NamespaceWorks, pageErr: errs.New(errs.ErrorTypeParsing, "feed page has no illusts field")}
	_, err := h.orchestrator(nil).Run(context.Background(), f, "42")
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeParsing, errs.TypeOf(err))
}

func TestThrottleBetweenPages(t *testing.T) {
	h := newHarness(t)
	var sleeps []time.Duration
	jitter := ratelimit.NewJitter(2*time.Second, 4*time.Second)
	jitter.Sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	f := &pageFeed{ns: feed.NamespaceBookmarks, pages: [][]feed.Item{{}, {}, {}}}

	summary, err := h.orchestrator(func(o *Options) { o.Throttle = jitter }).Run(context.Background(), f, "42")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Pages)
	require.Len(t, sleeps, 2)
	for _, d := range sleeps {
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.Less(t, d, 4*time.Second)
	}
	assert.Equal(t, 3, h.observer.pages)
}

func TestUnresolvablePageDoesNotBlockRecord(t *testing.T) {
	h := newHarness(t)
	item := feed.Item{ID: "1", Author: "bob", Title: "set", Assets: feed.MultiPage{Pages: []feed.Variants{
		{Original: h.srv.URL + "/img/1_p0.png"},
		{},
	}}}
	f := &pageFeed{ns: feed.NamespaceBookmarks, pages: [][]feed.Item{{item}}}

	summary, err := h.orchestrator(nil).Run(context.Background(), f, "42")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)

	_, errsOut := resolver.New(resolver.Options{}).Resolve(feed.Item{ID: "x", Assets: feed.MultiPage{Pages: []feed.Variants{{}}}})
	require.Len(t, errsOut, 1)

	f2 := &pageFeed{ns: feed.NamespaceWorks, pages: [][]feed.Item{{{ID: "x", Assets: feed.MultiPage{Pages: []feed.Variants{{}}}}}}}
	summary, err = h.orchestrator(nil).Run(context.Background(), f2, "42")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
}

func TestConcurrentWorkersRecordEveryItem(t *testing.T) {
	h := newHarness(t)
	var page []feed.Item
	for i := 0; i < 12; i++ {
		page = append(page, h.item(strconv.Itoa(i), fmt.Sprintf("/img/%d_p0.png", i)))
	}
	f := &pageFeed{ns: feed.NamespaceBookmarks, pages: [][]feed.Item{page}}

	summary, err := h.orchestrator(func(o *Options) { o.Concurrency = 4 }).Run(context.Background(), f, "42")
	require.NoError(t, err)
	assert.Equal(t, 12, summary.Succeeded)
	assert.Equal(t, 12, h.index.Len(feed.NamespaceBookmarks))
}

func TestCancelledContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &pageFeed{ns: feed.NamespaceBookmarks, pages: [][]feed.Item{{h.item("1", "/img/1_p0.png")}}}

	_, err := h.orchestrator(nil).Run(ctx, f, "42")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSummaryErr(t *testing.T) {
	assert.NoError(t, (&Summary{}).Err())
	assert.NoError(t, (&Summary{Failed: 1, Succeeded: 1}).Err())
	assert.Error(t, (&Summary{Failed: 2}).Err())
	assert.NoError(t, (&Summary{Failed: 1, Skipped: 2}).Err())
	assert.NoError(t, (&Summary{Failed: 1, NoContent: 1}).Err())
	assert.Contains(t, (&Summary{Pages: 2}).Fields(), "pages")
}

package pixiv

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	errs "pixivdl/pkg/errors"
	"pixivdl/pkg/feed"
)

const typeUgoira = "ugoira"

// IllustFeed is a pixiv listing walked through next_url. Cursors are the
// query parameters of next_url.
type IllustFeed struct {
	client    *Client
	namespace feed.Namespace
	endpoint  string
	params    url.Values
}

// BookmarksFeed lists the public bookmarks of a user
func BookmarksFeed(c *Client) *IllustFeed {
	return &IllustFeed{
		client:    c,
		namespace: feed.NamespaceBookmarks,
		endpoint:  BookmarksEndpoint,
		params:    url.Values{"restrict": {"public"}},
	}
}

// WorksFeed lists the illustrations a user published
func WorksFeed(c *Client) *IllustFeed {
	return &IllustFeed{
		client:    c,
		namespace: feed.NamespaceWorks,
		endpoint:  WorksEndpoint,
		params:    url.Values{"type": {"illust"}},
	}
}

// Namespace implements feed.Feed
func (f *IllustFeed) Namespace() feed.Namespace {
	return f.namespace
}

// FetchFirst implements feed.Feed
func (f *IllustFeed) FetchFirst(ctx context.Context, subjectID string) (feed.Batch, error) {
	query := url.Values{"user_id": {subjectID}}
	for k, v := range f.params {
		query[k] = v
	}
	return f.fetch(ctx, query)
}

// FetchNext implements feed.Feed
func (f *IllustFeed) FetchNext(ctx context.Context, cursor feed.Cursor) (feed.Batch, error) {
	query := url.Values{}
	for k, v := range cursor {
		query.Set(k, v)
	}
	return f.fetch(ctx, query)
}

func (f *IllustFeed) fetch(ctx context.Context, query url.Values) (feed.Batch, error) {
	page, err := f.client.illusts(ctx, f.endpoint, query)
	if err != nil {
		return feed.Batch{}, err
	}

	items := make([]feed.Item, 0, len(page.Illusts))
	for _, il := range page.Illusts {
		items = append(items, toItem(il))
	}
	next, err := cursorFromNextURL(page.NextURL)
	if err != nil {
		return feed.Batch{}, err
	}
	return feed.Batch{Items: items, Next: next}, nil
}

// Detail loads the frame archive and delays of an animated item
func (f *IllustFeed) Detail(ctx context.Context, item feed.Item) (feed.Item, error) {
	if item.Kind != feed.KindAnimated {
		return item, nil
	}
	meta, err := f.client.ugoiraMetadata(ctx, item.ID)
	if err != nil {
		return item, fmt.Errorf("ugoira metadata for %s: %w", item.ID, err)
	}
	if meta.ZipURLs.Medium == "" {
		return item, errs.New(errs.ErrorTypeParsing, fmt.Sprintf("ugoira %s has no zip url", item.ID))
	}

	durations := make([]int, 0, len(meta.Frames))
	files := make([]string, 0, len(meta.Frames))
	for _, fr := range meta.Frames {
		durations = append(durations, fr.Delay)
		if fr.File != "" {
			files = append(files, fr.File)
		}
	}
	item.Assets = feed.Archive{URL: meta.ZipURLs.Medium}
	item.FrameDurationsMs = durations
	if len(files) == len(durations) {
		item.FrameFiles = files
	}
	item.NeedsDetail = false
	return item, nil
}

func toItem(il illust) feed.Item {
	item := feed.Item{
		ID:     strconv.FormatInt(il.ID, 10),
		Type:   il.Type,
		Title:  il.Title,
		Author: il.User.Name,
	}

	if il.Type == typeUgoira {
		item.Kind = feed.KindAnimated
		item.NeedsDetail = true
		return item
	}

	if len(il.MetaPages) > 0 {
		pages := make([]feed.Variants, 0, len(il.MetaPages))
		for _, p := range il.MetaPages {
			pages = append(pages, variants(p.ImageURLs))
		}
		item.Assets = feed.MultiPage{Pages: pages}
		return item
	}

	v := variants(il.ImageURLs)
	v.Original = il.MetaSinglePage.OriginalImageURL
	item.Assets = feed.SinglePage{Variants: v}
	return item
}

func variants(u imageURLs) feed.Variants {
	return feed.Variants{
		Original:     u.Original,
		Large:        u.Large,
		Medium:       u.Medium,
		SquareMedium: u.SquareMedium,
	}
}

// cursorFromNextURL returns nil when there is no next page
func cursorFromNextURL(next string) (feed.Cursor, error) {
	if next == "" {
		return nil, nil
	}
	u, err := url.Parse(next)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeParsing, err, "parse next_url")
	}
	q := u.Query()
	if len(q) == 0 {
		return nil, nil
	}
	cursor := make(feed.Cursor, len(q))
	for k := range q {
		cursor[k] = q.Get(k)
	}
	return cursor, nil
}

package fanbox

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	errs "pixivdl/pkg/errors"
	"pixivdl/pkg/feed"
)

// CreatorFeed lists the posts of one creator. List entries carry no
// assets, so every item needs Detail.
type CreatorFeed struct {
	client    *Client
	creatorID string
}

// NewCreatorFeed creates a feed over c
func NewCreatorFeed(c *Client) *CreatorFeed {
	return &CreatorFeed{client: c}
}

// Namespace implements feed.Feed
func (f *CreatorFeed) Namespace() feed.Namespace {
	return feed.NamespaceFanbox
}

// FetchFirst implements feed.Feed. subjectID is the creator id.
func (f *CreatorFeed) FetchFirst(ctx context.Context, subjectID string) (feed.Batch, error) {
	f.creatorID = subjectID
	return f.fetch(ctx, f.client.firstPageQuery(subjectID))
}

// FetchNext implements feed.Feed
func (f *CreatorFeed) FetchNext(ctx context.Context, cursor feed.Cursor) (feed.Batch, error) {
	query := url.Values{}
	for k, v := range cursor {
		query.Set(k, v)
	}
	if f.creatorID == "" {
		f.creatorID = cursor["creatorId"]
	}
	return f.fetch(ctx, query)
}

func (f *CreatorFeed) fetch(ctx context.Context, query url.Values) (feed.Batch, error) {
	resp, err := f.client.listCreator(ctx, query)
	if err != nil {
		return feed.Batch{}, err
	}
	if resp.Body == nil || resp.Body.Items == nil {
		return feed.Batch{}, errs.New(errs.ErrorTypeParsing, "post list has no items")
	}

	f.client.logger.DebugWithFields("Fetched post list", map[string]interface{}{
		"creator": f.creatorID,
		"count":   len(resp.Body.Items),
	})

	items := make([]feed.Item, 0, len(resp.Body.Items))
	for _, p := range resp.Body.Items {
		title := p.Title
		if title == "" {
			title = "?"
		}
		items = append(items, feed.Item{
			ID:          p.ID,
			Title:       title,
			Author:      f.creatorID,
			NeedsDetail: true,
		})
	}

	next, err := cursorFromNextURL(resp.Body.NextURL)
	if err != nil {
		return feed.Batch{}, err
	}
	return feed.Batch{Items: items, Next: next}, nil
}

// Detail loads the post body. Posts the session cannot open come back
// with NoContent set.
func (f *CreatorFeed) Detail(ctx context.Context, item feed.Item) (feed.Item, error) {
	resp, err := f.client.postInfo(ctx, item.ID)
	if err != nil {
		return item, fmt.Errorf("post info for %s: %w", item.ID, err)
	}
	item.NeedsDetail = false

	if resp.Body == nil || resp.Body.Body == nil {
		f.client.logger.DebugWithFields("Post is not accessible", map[string]interface{}{
			"post_id": item.ID,
		})
		item.NoContent = true
		return item, nil
	}

	p := resp.Body
	item.Type = p.Type
	content := p.Body

	images := content.Images
	if len(images) == 0 {
		images = content.ImageMap
	}
	files := content.Files
	if len(files) == 0 {
		files = content.FileMap
	}

	var pages []feed.Variants
	for _, img := range images {
		u := strings.ReplaceAll(img.OriginalURL, `\`, "")
		if u == "" {
			continue
		}
		pages = append(pages, feed.Variants{Original: u})
	}

	var named []feed.NamedFile
	for _, fl := range files {
		named = append(named, feed.NamedFile{Name: fl.Name, Ext: fl.Extension, URL: fl.URL})
	}

	switch {
	case len(pages) > 0:
		item.Assets = feed.MultiPage{Pages: pages}
		if len(named) > 0 {
			item.Extra = feed.Files{Files: named}
		}
	default:
		// text-only posts resolve to nothing and are recorded as done
		item.Assets = feed.Files{Files: named}
	}
	return item, nil
}

func cursorFromNextURL(next string) (feed.Cursor, error) {
	if next == "" {
		return nil, nil
	}
	u, err := url.Parse(next)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeParsing, err, "parse nextUrl")
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

// Package resolver turns a feed item into the list of files to fetch:
// which URL variant to use for each page and what to call the result.
package resolver

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"pixivdl/pkg/feed"
)

// Style selects how destination names are built
type Style int

const (
	// StyleAuthorTitle names pages author_title_<url suffix> and archives
	// author_title.gif
	StyleAuthorTitle Style = iota
	// StyleNumbered names pages title[postID]NNNN.<ext> and files by their
	// own name
	StyleNumbered
)

// StyleFor returns the naming style used by a feed namespace
func StyleFor(ns feed.Namespace) Style {
	if ns == feed.NamespaceFanbox {
		return StyleNumbered
	}
	return StyleAuthorTitle
}

// Options configures a Resolver
type Options struct {
	// Dir is the absolute directory destinations are placed in
	Dir   string
	Style Style
	// MaxPages truncates multi-page items, 0 keeps every page
	MaxPages int
	// BlacklistWords are removed from titles before naming
	BlacklistWords []string
	// WhitelistCreators get the post id embedded in numbered names
	WhitelistCreators []string
}

// Resolver is safe for concurrent use
type Resolver struct {
	opts Options
}

// New creates a Resolver
func New(opts Options) *Resolver {
	return &Resolver{opts: opts}
}

// Resolve returns the tasks for item in page order. A page without any
// usable URL yields an error for that page and is left out; the remaining
// tasks are still returned.
func (r *Resolver) Resolve(item feed.Item) ([]feed.Task, []error) {
	title := r.cleanTitle(item.Title)

	var (
		tasks []feed.Task
		errs  []error
	)
	for _, desc := range []feed.AssetDescriptor{item.Assets, item.Extra} {
		if desc == nil {
			continue
		}
		t, e := r.resolveDescriptor(item, title, desc)
		tasks = append(tasks, t...)
		errs = append(errs, e...)
	}
	if item.Assets == nil && item.Extra == nil {
		errs = append(errs, fmt.Errorf("item %s: no assets", item.ID))
	}
	return tasks, errs
}

func (r *Resolver) resolveDescriptor(item feed.Item, title string, desc feed.AssetDescriptor) ([]feed.Task, []error) {
	switch d := desc.(type) {
	case feed.MultiPage:
		pages := d.Pages
		if r.opts.MaxPages > 0 && len(pages) > r.opts.MaxPages {
			pages = pages[:r.opts.MaxPages]
		}
		return r.pages(item, title, pages)
	case feed.SinglePage:
		return r.pages(item, title, []feed.Variants{d.Variants})
	case feed.Archive:
		if d.URL == "" {
			return nil, []error{fmt.Errorf("item %s: archive url missing", item.ID)}
		}
		name := Sanitize(item.Author + "_" + title)
		return []feed.Task{{
			ItemID:       item.ID,
			URL:          d.URL,
			Dest:         filepath.Join(r.opts.Dir, name+".gif"),
			DisplayTitle: name,
			Durations:    slices.Clone(item.FrameDurationsMs),
			Frames:       slices.Clone(item.FrameFiles),
			Archive:      true,
		}}, nil
	case feed.Files:
		var tasks []feed.Task
		var errs []error
		for i, f := range d.Files {
			if f.URL == "" {
				errs = append(errs, fmt.Errorf("item %s file %d: url missing", item.ID, i))
				continue
			}
			ext := f.Ext
			if ext == "" {
				ext = urlExt(f.URL)
			}
			name := Sanitize(f.Name + "." + strings.TrimPrefix(ext, "."))
			tasks = append(tasks, feed.Task{
				ItemID:       item.ID,
				URL:          f.URL,
				Dest:         filepath.Join(r.opts.Dir, name),
				DisplayTitle: name,
			})
		}
		return tasks, errs
	default:
		return nil, []error{fmt.Errorf("item %s: unsupported asset descriptor %T", item.ID, desc)}
	}
}

func (r *Resolver) pages(item feed.Item, title string, pages []feed.Variants) ([]feed.Task, []error) {
	var (
		tasks []feed.Task
		errs  []error
	)
	for i, v := range pages {
		u, ok := v.Best()
		if !ok {
			errs = append(errs, fmt.Errorf("item %s page %d: no usable url", item.ID, i))
			continue
		}

		var name string
		switch r.opts.Style {
		case StyleNumbered:
			stem := title
			if slices.Contains(r.opts.WhitelistCreators, item.Author) {
				stem += item.ID
			}
			name = fmt.Sprintf("%s%04d.%s", stem, i+1, strings.TrimPrefix(urlExt(u), "."))
		default:
			name = item.Author + "_" + title + "_" + urlSuffix(u)
		}
		name = WithImageExt(Sanitize(name))

		tasks = append(tasks, feed.Task{
			ItemID:       item.ID,
			URL:          u,
			Dest:         filepath.Join(r.opts.Dir, name),
			DisplayTitle: name,
		})
	}
	return tasks, errs
}

func (r *Resolver) cleanTitle(title string) string {
	for _, word := range r.opts.BlacklistWords {
		if word != "" {
			title = strings.ReplaceAll(title, word, "")
		}
	}
	return strings.TrimSpace(title)
}

// urlSuffix returns the part of the URL path after its last '_', e.g.
// "p0.png" for .../12345_p0.png
func urlSuffix(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}
	p = path.Base(p)
	if i := strings.LastIndex(p, "_"); i >= 0 {
		return p[i+1:]
	}
	return p
}

func urlExt(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}
	return path.Ext(p)
}

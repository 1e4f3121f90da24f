// Package feed defines the items a remote feed yields and the Pager that
// walks a feed page by page.
package feed

import (
	"context"
)

// Namespace partitions the dedup index by feed type
type Namespace string

const (
	NamespaceBookmarks Namespace = "bookmarks"
	NamespaceWorks     Namespace = "works"
	NamespaceFanbox    Namespace = "fanbox"
)

// Kind tells the crawler which materialiser handles an item
type Kind int

const (
	KindStatic Kind = iota
	KindAnimated
)

func (k Kind) String() string {
	if k == KindAnimated {
		return "animated"
	}
	return "static"
}

// Variants holds the quality tiers of one page. Any of them may be empty.
type Variants struct {
	Original     string `json:"original,omitempty"`
	Large        string `json:"large,omitempty"`
	Medium       string `json:"medium,omitempty"`
	SquareMedium string `json:"square_medium,omitempty"`
}

// Best returns the first present URL in the order original, large,
// medium, square_medium
func (v Variants) Best() (string, bool) {
	for _, u := range []string{v.Original, v.Large, v.Medium, v.SquareMedium} {
		if u != "" {
			return u, true
		}
	}
	return "", false
}

// AssetDescriptor is one of MultiPage, SinglePage, Archive or Files
type AssetDescriptor interface {
	assetDescriptor()
}

// MultiPage is an ordered list of pages
type MultiPage struct {
	Pages []Variants
}

// SinglePage is one page
type SinglePage struct {
	Variants Variants
}

// Archive is a zip of animation frames
type Archive struct {
	URL string
}

// Files are attachments that carry their own names
type Files struct {
	Files []NamedFile
}

// NamedFile is one attachment
type NamedFile struct {
	Name string
	Ext  string
	URL  string
}

func (MultiPage) assetDescriptor()  {}
func (SinglePage) assetDescriptor() {}
func (Archive) assetDescriptor()    {}
func (Files) assetDescriptor()      {}

// Item is one entry of a feed page
type Item struct {
	ID   string
	Kind Kind
	// Type is the remote type label (illust, manga, ugoira, image, file)
	// stored as the dedup record kind
	Type   string
	Title  string
	Author string
	// Assets is nil until Detail has run when NeedsDetail is set
	Assets AssetDescriptor
	// Extra holds a second descriptor for posts carrying both pages and files
	Extra            AssetDescriptor
	FrameDurationsMs []int
	// FrameFiles names the archive entries in playback order when the
	// remote lists them
	FrameFiles []string

	NeedsDetail bool
	// NoContent marks an item the account cannot access. It is recorded
	// without downloading anything.
	NoContent bool
}

// Cursor marks where the next page starts. Nil means the feed is exhausted.
type Cursor map[string]string

// Batch is one page of items and the cursor for the following page
type Batch struct {
	Items []Item
	Next  Cursor
}

// Feed is a remote paginated collection
type Feed interface {
	Namespace() Namespace
	FetchFirst(ctx context.Context, subjectID string) (Batch, error)
	FetchNext(ctx context.Context, cursor Cursor) (Batch, error)
}

// Detailer is implemented by feeds whose list entries omit asset detail.
// Detail is only called for items that passed the dedup check.
type Detailer interface {
	Detail(ctx context.Context, item Item) (Item, error)
}

// Task is one file to materialise
type Task struct {
	ItemID string
	URL    string
	// Dest is the absolute destination path
	Dest         string
	DisplayTitle string
	// Durations and Frames are set for archive tasks only
	Durations []int
	Frames    []string
	Archive   bool
}

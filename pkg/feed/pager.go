package feed

import (
	"context"
	"errors"
	"fmt"
)

// ErrExhausted is returned by Pager.Next once no further batch will come
var ErrExhausted = errors.New("feed exhausted")

// StopReason explains why a Pager stopped. Both reasons are normal ends.
type StopReason string

const (
	StopNone       StopReason = ""
	StopExhausted  StopReason = "exhausted"
	StopCapReached StopReason = "cap_reached"
)

// Pager yields the batches of a feed lazily. It never yields more than
// MaxBatches batches in total, which bounds feeds whose tail never
// returns an absent cursor.
type Pager struct {
	feed       Feed
	subjectID  string
	maxBatches int

	started bool
	cursor  Cursor
	fetched int
	stop    StopReason
}

// NewPager creates a pager starting at the first page of subjectID
func NewPager(f Feed, subjectID string, maxBatches int) *Pager {
	if maxBatches < 1 {
		maxBatches = 1
	}
	return &Pager{feed: f, subjectID: subjectID, maxBatches: maxBatches}
}

// ResumePager creates a pager whose first fetch continues from cursor
func ResumePager(f Feed, subjectID string, cursor Cursor, maxBatches int) *Pager {
	p := NewPager(f, subjectID, maxBatches)
	if cursor != nil {
		p.started = true
		p.cursor = cursor
	}
	return p
}

// Next fetches the next batch. It returns ErrExhausted when the previous
// batch had no cursor or the cap has been reached; StopReason tells which.
func (p *Pager) Next(ctx context.Context) (Batch, error) {
	if p.stop != StopNone {
		return Batch{}, ErrExhausted
	}
	if p.fetched >= p.maxBatches {
		p.stop = StopCapReached
		return Batch{}, ErrExhausted
	}

	var (
		batch Batch
		err   error
	)
	if !p.started {
		batch, err = p.feed.FetchFirst(ctx, p.subjectID)
	} else {
		batch, err = p.feed.FetchNext(ctx, p.cursor)
	}
	if err != nil {
		return Batch{}, fmt.Errorf("fetch page %d of %s: %w", p.fetched+1, p.feed.Namespace(), err)
	}

	p.started = true
	p.fetched++
	p.cursor = batch.Next
	if len(batch.Next) == 0 {
		p.cursor = nil
		p.stop = StopExhausted
	} else if p.fetched >= p.maxBatches {
		p.stop = StopCapReached
	}
	return batch, nil
}

// HasNext reports whether another call to Next may yield a batch
func (p *Pager) HasNext() bool {
	return p.stop == StopNone && p.fetched < p.maxBatches
}

// Cursor returns the cursor the next fetch would use. It is nil once the
// feed is exhausted.
func (p *Pager) Cursor() Cursor {
	return p.cursor
}

// Fetched returns how many batches have been returned
func (p *Pager) Fetched() int {
	return p.fetched
}

// StopReason reports why the pager stopped, or StopNone while running
func (p *Pager) StopReason() StopReason {
	return p.stop
}

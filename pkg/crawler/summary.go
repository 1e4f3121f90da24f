package crawler

import (
	"fmt"
	"time"

	"pixivdl/internal/downloader"
	"pixivdl/pkg/feed"
)

// ItemFailure is one item left unrecorded by a run
type ItemFailure struct {
	ID  string
	Err error
}

// Summary counts what a run did
type Summary struct {
	RunID     string
	Namespace feed.Namespace
	SubjectID string

	Pages     int
	Seen      int
	Skipped   int
	Succeeded int
	Failed    int
	NoContent int
	Failures  []ItemFailure

	StopReason feed.StopReason
	StartedAt  time.Time
	Elapsed    time.Duration
}

func (s *Summary) add(r downloader.Result) {
	s.Seen++
	switch r.Outcome {
	case downloader.OutcomeDownloaded:
		s.Succeeded++
	case downloader.OutcomeSkipped:
		s.Skipped++
	case downloader.OutcomeNoContent:
		s.NoContent++
	default:
		s.Failed++
		s.Failures = append(s.Failures, ItemFailure{ID: r.Job.Item.ID, Err: r.Err})
	}
}

// Err is non-nil when items failed and no item of the run is mirrored.
// Items already in the index and items recorded as not accessible count as
// mirrored, so re-running after a partial failure ends with a warning only.
func (s *Summary) Err() error {
	if s.Failed > 0 && s.Succeeded+s.Skipped+s.NoContent == 0 {
		return fmt.Errorf("%d items failed and none succeeded", s.Failed)
	}
	return nil
}

// Fields returns the summary as log fields
func (s *Summary) Fields() map[string]interface{} {
	return map[string]interface{}{
		"pages":       s.Pages,
		"seen":        s.Seen,
		"skipped":     s.Skipped,
		"succeeded":   s.Succeeded,
		"failed":      s.Failed,
		"no_content":  s.NoContent,
		"stop_reason": string(s.StopReason),
		"elapsed_ms":  s.Elapsed.Milliseconds(),
	}
}

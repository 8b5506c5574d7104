package subscriber

import (
	"sync"

	"github.com/tsangwailam/mcclaw/internal/activity"
)

// DefaultFeedSize bounds the feed and matches the polling page size.
const DefaultFeedSize = 50

// Feed is the locally held, most-recent-first list of records.
type Feed struct {
	mu      sync.RWMutex
	records []activity.Record
	limit   int
}

func NewFeed(limit int) *Feed {
	if limit <= 0 {
		limit = DefaultFeedSize
	}
	return &Feed{limit: limit}
}

// Merge drops any entry with the same id as rec and puts rec first.
func (f *Feed) Merge(rec activity.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]activity.Record, 0, min(len(f.records)+1, f.limit))
	out = append(out, rec)
	for _, r := range f.records {
		if len(out) == f.limit {
			break
		}
		if r.ID != rec.ID {
			out = append(out, r)
		}
	}
	f.records = out
}

// Replace swaps the whole feed, as after a poll.
func (f *Feed) Replace(records []activity.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(records) > f.limit {
		records = records[:f.limit]
	}
	f.records = append([]activity.Record(nil), records...)
}

// Snapshot returns a copy of the feed.
func (f *Feed) Snapshot() []activity.Record {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]activity.Record(nil), f.records...)
}

func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.records)
}

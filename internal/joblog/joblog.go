// Package joblog records timestamped progress lines per job so a client can
// poll them while a crawl or enrichment run is in flight.
package joblog

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/diecast-crawler/internal/catalog"
)

// DefaultTTL is how long entries are kept.
const DefaultTTL = 30 * 24 * time.Hour

// DefaultPollLimit caps a poll when the caller gives no limit.
const DefaultPollLimit = 100

// Entry is one log line. TS and ExpiresAt are Unix milliseconds.
type Entry struct {
	JobID     string `json:"jobId"`
	TS        int64  `json:"ts"`
	Message   string `json:"message"`
	ExpiresAt int64  `json:"expiresAt"`
}

// Page is the result of a poll.
type Page struct {
	Logs    []Entry `json:"logs"`
	HasMore bool    `json:"hasMore"`
}

// Sink appends lines for a job.
type Sink interface {
	Append(ctx context.Context, jobID, message string) error
}

// Poller returns lines newer than a cursor.
type Poller interface {
	// Poll returns up to limit entries of jobID with TS > afterTS in ascending
	// order. HasMore reports whether further entries exist past the page.
	Poll(ctx context.Context, jobID string, afterTS int64, limit int) (Page, error)
}

// Store is both a Sink and a Poller.
type Store interface {
	Sink
	Poller
}

// stamper hands out strictly increasing millisecond timestamps per job so that
// a ts cursor never skips lines written within the same millisecond.
type stamper struct {
	clock catalog.Clock
	mu    sync.Mutex
	last  map[string]int64
}

func newStamper(clock catalog.Clock) *stamper {
	return &stamper{clock: clock, last: make(map[string]int64)}
}

func (s *stamper) next(jobID string) (int64, time.Time) {
	now := s.clock.Now()
	ts := now.UnixMilli()
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev := s.last[jobID]; ts <= prev {
		ts = prev + 1
	}
	s.last[jobID] = ts
	return ts, now
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultPollLimit
	}
	return limit
}

package joblog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/diecast-crawler/internal/catalog"
)

// MemoryStore keeps entries in process memory.
type MemoryStore struct {
	ttl     time.Duration
	stamper *stamper
	clock   catalog.Clock

	mu      sync.RWMutex
	entries map[string][]Entry
}

// NewMemoryStore builds a MemoryStore. ttl <= 0 uses DefaultTTL.
func NewMemoryStore(clock catalog.Clock, ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:     ttl,
		stamper: newStamper(clock),
		clock:   clock,
		entries: make(map[string][]Entry),
	}
}

// Append records a line.
func (s *MemoryStore) Append(_ context.Context, jobID, message string) error {
	if jobID == "" {
		return fmt.Errorf("job id is required")
	}
	ts, now := s.stamper.next(jobID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[jobID] = append(s.entries[jobID], Entry{
		JobID:     jobID,
		TS:        ts,
		Message:   message,
		ExpiresAt: now.Add(s.ttl).UnixMilli(),
	})
	return nil
}

// Poll returns entries newer than afterTS.
func (s *MemoryStore) Poll(_ context.Context, jobID string, afterTS int64, limit int) (Page, error) {
	limit = normalizeLimit(limit)
	nowMs := s.clock.Now().UnixMilli()

	s.mu.RLock()
	all := s.entries[jobID]
	matched := make([]Entry, 0, len(all))
	for _, e := range all {
		if e.TS > afterTS && e.ExpiresAt > nowMs {
			matched = append(matched, e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].TS < matched[j].TS })
	page := Page{Logs: matched}
	if len(matched) > limit {
		page.Logs = matched[:limit]
		page.HasMore = true
	}
	return page, nil
}

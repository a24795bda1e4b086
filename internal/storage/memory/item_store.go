package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/JakeFAU/diecast-crawler/internal/catalog"
)

type enrichmentRow struct {
	catalog.Enrichment
	version int
}

// ItemStore keeps items in memory with the same contract as the Postgres
// store: batches are all-or-nothing, ids are unique, source URLs are unique
// per brand, and a row is never overwritten by a lower crawl version.
type ItemStore struct {
	mu          sync.RWMutex
	items       map[string]catalog.Item
	enrichments map[string]enrichmentRow
	reconciles  int
}

// NewItemStore constructs an empty ItemStore.
func NewItemStore() *ItemStore {
	return &ItemStore{
		items:       make(map[string]catalog.Item),
		enrichments: make(map[string]enrichmentRow),
	}
}

// ExistingBySourceURL returns stored items whose source URL is in urls.
func (s *ItemStore) ExistingBySourceURL(_ context.Context, urls []string) ([]catalog.Item, error) {
	want := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		want[u] = struct{}{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []catalog.Item
	for _, id := range s.sortedIDs() {
		it := s.items[id]
		if _, ok := want[it.SourceURL]; ok {
			out = append(out, cloneItem(it))
		}
	}
	return out, nil
}

// StaleByVersion returns items of brand below version, lowest version first.
func (s *ItemStore) StaleByVersion(_ context.Context, brand string, version, limit int) ([]catalog.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []catalog.Item
	for _, id := range s.sortedIDs() {
		it := s.items[id]
		if it.Brand == brand && it.CrawlVersion < version {
			out = append(out, cloneItem(it))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CrawlVersion < out[j].CrawlVersion })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Reconcile upserts the batch into a copy of the table and swaps it in only
// when every row succeeds. It returns the ids it wrote.
func (s *ItemStore) Reconcile(_ context.Context, items []catalog.Item) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := maps.Clone(s.items)
	written := make([]string, 0, len(items))
	for _, it := range items {
		if it.ID == "" {
			return nil, fmt.Errorf("%w: item with source url %q has no id", catalog.ErrStore, it.SourceURL)
		}
		for id, other := range next {
			if id != it.ID && other.Brand == it.Brand && other.SourceURL == it.SourceURL {
				return nil, fmt.Errorf("%w: source url %q already belongs to %s", catalog.ErrStore, it.SourceURL, id)
			}
		}
		if prev, ok := next[it.ID]; ok && prev.CrawlVersion > it.CrawlVersion {
			continue
		}
		next[it.ID] = cloneItem(it)
		written = append(written, it.ID)
	}
	s.items = next
	s.reconciles++
	return written, nil
}

// StaleEnrichment returns rows never enriched or enriched below version,
// never-enriched first.
func (s *ItemStore) StaleEnrichment(_ context.Context, version, limit int) ([]catalog.EnrichCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type cand struct {
		catalog.EnrichCandidate
		ver int
	}
	var cands []cand
	for _, id := range s.sortedIDs() {
		it := s.items[id]
		ver := -1
		if row, ok := s.enrichments[id]; ok {
			ver = row.version
		}
		if ver < version {
			cands = append(cands, cand{catalog.EnrichCandidate{ID: it.ID, Title: it.Title, Brand: it.Brand}, ver})
		}
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].ver < cands[j].ver })
	if limit > 0 && len(cands) > limit {
		cands = cands[:limit]
	}
	out := make([]catalog.EnrichCandidate, len(cands))
	for i, c := range cands {
		out[i] = c.EnrichCandidate
	}
	return out, nil
}

// ApplyEnrichment writes the enrichment fields. Unknown ids are ignored.
func (s *ItemStore) ApplyEnrichment(_ context.Context, rows []catalog.Enrichment, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		if _, ok := s.items[row.ID]; !ok {
			continue
		}
		s.enrichments[row.ID] = enrichmentRow{Enrichment: row, version: version}
	}
	return nil
}

// Get returns the stored item with id.
func (s *ItemStore) Get(id string) (catalog.Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	return cloneItem(it), ok
}

// Enrichment returns the enrichment fields and version stored for id.
func (s *ItemStore) Enrichment(id string) (catalog.Enrichment, int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.enrichments[id]
	return row.Enrichment, row.version, ok
}

// Len reports the number of stored items.
func (s *ItemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Reconciles reports how many batches were committed.
func (s *ItemStore) Reconciles() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reconciles
}

func (s *ItemStore) sortedIDs() []string {
	return slices.Sorted(maps.Keys(s.items))
}

func cloneItem(it catalog.Item) catalog.Item {
	it.Images = slices.Clone(it.Images)
	it.AdditionalInfo = maps.Clone(it.AdditionalInfo)
	return it
}

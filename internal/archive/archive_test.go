package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/diecast-crawler/internal/catalog"
	"github.com/JakeFAU/diecast-crawler/internal/storage/memory"
)

type countingFetcher struct {
	calls atomic.Int32
	sizes map[string]int
	fail  map[string]error
}

func (f *countingFetcher) Fetch(context.Context, string) (catalog.Page, error) {
	return catalog.Page{}, errors.New("not used")
}

func (f *countingFetcher) FetchImage(_ context.Context, url string, maxBytes int64) (catalog.Blob, error) {
	f.calls.Add(1)
	if err, ok := f.fail[url]; ok {
		return catalog.Blob{}, err
	}
	size := 16
	if n, ok := f.sizes[url]; ok {
		size = n
	}
	if int64(size) > maxBytes {
		return catalog.Blob{}, fmt.Errorf("%w: %s", catalog.ErrImageTooLarge, url)
	}
	return catalog.Blob{URL: url, ContentType: "image/jpeg", ContentLength: int64(size), Body: []byte(strings.Repeat("x", size))}, nil
}

func TestArchiveSkipsHistoricalWithoutFetching(t *testing.T) {
	t.Parallel()

	fetcher := &countingFetcher{}
	store := memory.NewBlobStore()
	a := New(fetcher, store, Config{Prefix: "images"}, nil)

	history := History{"https://v/a.jpg": {OriginalURL: "https://v/a.jpg", StoredRef: "memory://images/old.jpg"}}
	refs, stats := a.ArchiveAll(context.Background(), "MGT_A", []string{"https://v/a.jpg"}, history)

	require.Zero(t, fetcher.calls.Load())
	require.Zero(t, store.Puts())
	require.Equal(t, Stats{Skipped: 1}, stats)
	require.Equal(t, []catalog.ImageRef{history["https://v/a.jpg"]}, refs)

	_, err := a.Archive(context.Background(), "https://v/a.jpg", "MGT_A", history.URLs())
	require.ErrorIs(t, err, catalog.ErrSkipArchived)
}

func TestArchiveFetchesEachURLOnce(t *testing.T) {
	t.Parallel()

	fetcher := &countingFetcher{}
	store := memory.NewBlobStore()
	a := New(fetcher, store, Config{Prefix: "images"}, nil)

	var wg sync.WaitGroup
	refs := make([]catalog.ImageRef, 8)
	errs := make([]error, len(refs))
	for i := range refs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			refs[i], errs[i] = a.Archive(context.Background(), "https://v/shared.png", fmt.Sprintf("ITEM_%d", i), nil)
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, fetcher.calls.Load())
	require.Equal(t, 1, store.Puts())
	for i, ref := range refs {
		require.NoError(t, errs[i])
		require.Equal(t, refs[0], ref)
	}
	require.Equal(t, "memory://"+a.Key("https://v/shared.png"), refs[0].StoredRef)
	require.True(t, strings.HasSuffix(refs[0].StoredRef, ".png"))

	_, stats := a.ArchiveAll(context.Background(), "ITEM_9", []string{"https://v/shared.png"}, nil)
	require.Equal(t, Stats{Archived: 1}, stats)
	require.EqualValues(t, 1, fetcher.calls.Load())
}

func TestArchiveOnceReusesFinishedFlight(t *testing.T) {
	t.Parallel()

	fetcher := &countingFetcher{}
	a := New(fetcher, memory.NewBlobStore(), Config{Prefix: "images"}, nil)

	first := a.archiveOnce(context.Background(), "https://v/a.jpg", "MGT_A")
	require.NoError(t, first.err)

	// A late caller that missed the memo before the first flight finished.
	second := a.archiveOnce(context.Background(), "https://v/a.jpg", "MGT_B")
	require.Equal(t, first, second)
	require.Equal(t, int32(1), fetcher.calls.Load())
}

func TestArchiveDropsFailedImages(t *testing.T) {
	t.Parallel()

	fetcher := &countingFetcher{
		sizes: map[string]int{"https://v/huge.jpg": 64},
		fail:  map[string]error{"https://v/gone.jpg": errors.New("status 404")},
	}
	store := memory.NewBlobStore()
	a := New(fetcher, store, Config{Prefix: "images", MaxBytes: 32}, nil)

	urls := []string{"https://v/one.jpg", "https://v/huge.jpg", "https://v/gone.jpg", "https://v/two.jpg"}
	refs, stats := a.ArchiveAll(context.Background(), "HW_X", urls, nil)

	require.Equal(t, Stats{Archived: 2, Failed: 2}, stats)
	require.Len(t, refs, 2)
	require.Equal(t, "https://v/one.jpg", refs[0].OriginalURL)
	require.Equal(t, "https://v/two.jpg", refs[1].OriginalURL)

	_, err := a.Archive(context.Background(), "https://v/huge.jpg", "HW_X", nil)
	require.ErrorIs(t, err, catalog.ErrImageTooLarge)
	_, err = a.Archive(context.Background(), "https://v/gone.jpg", "HW_X", nil)
	require.ErrorIs(t, err, catalog.ErrImageFetch)
	require.EqualValues(t, 4, fetcher.calls.Load(), "failures are memoized too")
}

func TestNewHistory(t *testing.T) {
	t.Parallel()

	h := NewHistory([]catalog.Item{
		{ID: "A", Images: []catalog.ImageRef{{OriginalURL: "u1", StoredRef: "r1"}, {StoredRef: "orphan"}}},
		{ID: "B", Images: []catalog.ImageRef{{OriginalURL: "u2", StoredRef: "r2"}}},
	})
	require.Len(t, h, 2)
	require.Equal(t, "r2", h["u2"].StoredRef)
	require.Contains(t, h.URLs(), "u1")
}

func TestKeyIsStableAndPrefixed(t *testing.T) {
	t.Parallel()

	a := New(&countingFetcher{}, memory.NewBlobStore(), Config{Prefix: "/images/"}, nil)
	k1 := a.Key("https://v/a.webp?w=200")
	require.Equal(t, k1, a.Key("https://v/a.webp?w=200"))
	require.True(t, strings.HasPrefix(k1, "images/"))
	require.NotEqual(t, k1, a.Key("https://v/b.webp"))
}

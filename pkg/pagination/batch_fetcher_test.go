package pagination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeFetcher serves numbered pages and can fail a specific page.
type fakeFetcher struct {
	totalPages int
	failPage   int
	delay      time.Duration

	mu       sync.Mutex
	requests map[int]int
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (f *fakeFetcher) FetchPage(ctx context.Context, collection string, pageNum int) ([]byte, int, error) {
	f.mu.Lock()
	if f.requests == nil {
		f.requests = make(map[int]int)
	}
	f.requests[pageNum]++
	f.mu.Unlock()

	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}

	if pageNum == f.failPage {
		return nil, 0, errors.New("page unavailable")
	}
	return []byte(fmt.Sprintf("%s-%d", collection, pageNum)), f.totalPages, nil
}

func TestFetchAllPages_SinglePage(t *testing.T) {
	f := &fakeFetcher{totalPages: 1}
	bf := NewBatchFetcher(f, DefaultConfig())

	pages, err := bf.FetchAllPages(context.Background(), "articles")
	if err != nil {
		t.Fatalf("FetchAllPages() error = %v", err)
	}
	if len(pages) != 1 || string(pages[1]) != "articles-1" {
		t.Errorf("unexpected pages: %v", pages)
	}
}

func TestFetchAllPages_AllPagesInOrder(t *testing.T) {
	f := &fakeFetcher{totalPages: 12, delay: 2 * time.Millisecond}
	bf := NewBatchFetcher(f, Config{MaxConcurrency: 3, Timeout: time.Second})

	pages, err := bf.FetchAllPages(context.Background(), "articles")
	if err != nil {
		t.Fatalf("FetchAllPages() error = %v", err)
	}
	if len(pages) != 12 {
		t.Fatalf("got %d pages, want 12", len(pages))
	}

	ordered := Ordered(pages)
	for i, body := range ordered {
		if want := fmt.Sprintf("articles-%d", i+1); string(body) != want {
			t.Errorf("page %d = %q, want %q", i+1, body, want)
		}
	}

	for page, n := range f.requests {
		if n != 1 {
			t.Errorf("page %d requested %d times", page, n)
		}
	}
	if max := f.maxSeen.Load(); max > 3 {
		t.Errorf("concurrency %d exceeds limit 3", max)
	}
}

func TestFetchAllPages_FirstPageError(t *testing.T) {
	f := &fakeFetcher{totalPages: 3, failPage: 1}
	bf := NewBatchFetcher(f, DefaultConfig())

	if _, err := bf.FetchAllPages(context.Background(), "articles"); err == nil {
		t.Fatal("expected error for failing first page")
	}
}

func TestFetchAllPages_NoPartialResults(t *testing.T) {
	f := &fakeFetcher{totalPages: 20, failPage: 5, delay: time.Millisecond}
	bf := NewBatchFetcher(f, Config{MaxConcurrency: 2, Timeout: time.Second})

	pages, err := bf.FetchAllPages(context.Background(), "articles")
	if err == nil {
		t.Fatal("expected error when a page fails")
	}
	if pages != nil {
		t.Errorf("expected no partial result, got %d pages", len(pages))
	}
}

func TestFetchAllPages_ContextCancelled(t *testing.T) {
	f := &fakeFetcher{totalPages: 10, delay: 50 * time.Millisecond}
	bf := NewBatchFetcher(f, Config{MaxConcurrency: 2, Timeout: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 75*time.Millisecond)
	defer cancel()

	if _, err := bf.FetchAllPages(ctx, "articles"); err == nil {
		t.Fatal("expected error after cancellation")
	}
}

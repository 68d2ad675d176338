package pagination

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds batch fetcher configuration
type Config struct {
	// MaxConcurrency is the maximum number of parallel page requests
	MaxConcurrency int
	// Timeout per page fetch
	Timeout time.Duration
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        15 * time.Second,
	}
}

// PageFetcher fetches a single page of a collection
type PageFetcher interface {
	// FetchPage fetches one page and returns its body and the total page count
	FetchPage(ctx context.Context, collection string, pageNum int) (data []byte, totalPages int, err error)
}

// PageResult represents the result of fetching a single page
type PageResult struct {
	PageNumber int
	Data       []byte
	Error      error
}

// BatchFetcher handles parallel fetching of multiple pages
type BatchFetcher struct {
	fetcher PageFetcher
	config  Config
}

// NewBatchFetcher creates a new batch fetcher
func NewBatchFetcher(fetcher PageFetcher, config Config) *BatchFetcher {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}

	return &BatchFetcher{
		fetcher: fetcher,
		config:  config,
	}
}

// FetchAllPages fetches every page of a collection using a worker pool.
// The result is complete or an error: the first failing page cancels the
// remaining work.
func (bf *BatchFetcher) FetchAllPages(ctx context.Context, collection string) (map[int][]byte, error) {
	start := time.Now()

	firstPageData, totalPages, err := bf.fetcher.FetchPage(ctx, collection, 1)
	if err != nil {
		return nil, fmt.Errorf("fetch first page: %w", err)
	}

	if totalPages <= 1 {
		log.Debug().
			Str("collection", collection).
			Int("pages", 1).
			Dur("duration", time.Since(start)).
			Msg("Fetch complete (single page)")
		return map[int][]byte{1: firstPageData}, nil
	}

	log.Debug().
		Str("collection", collection).
		Int("total_pages", totalPages).
		Msg("Starting parallel page fetch")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := map[int][]byte{1: firstPageData}
	pageQueue := make(chan int)
	pageResults := make(chan PageResult)

	go func() {
		defer close(pageQueue)
		for page := 2; page <= totalPages; page++ {
			select {
			case pageQueue <- page:
			case <-ctx.Done():
				return
			}
		}
	}()

	workers := bf.config.MaxConcurrency
	if workers > totalPages-1 {
		workers = totalPages - 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go bf.worker(ctx, collection, pageQueue, pageResults, &wg, i)
	}

	go func() {
		wg.Wait()
		close(pageResults)
	}()

	var firstErr error
	for result := range pageResults {
		if result.Error != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("fetch page %d: %w", result.PageNumber, result.Error)
				cancel()
			}
			continue
		}
		results[result.PageNumber] = result.Data
	}

	if firstErr != nil {
		log.Warn().
			Err(firstErr).
			Str("collection", collection).
			Int("fetched_pages", len(results)).
			Int("total_pages", totalPages).
			Msg("Page fetch failed")
		return nil, firstErr
	}
	if len(results) != totalPages {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("fetch pages: %w", err)
		}
		return nil, fmt.Errorf("fetch pages: got %d of %d", len(results), totalPages)
	}

	log.Debug().
		Str("collection", collection).
		Int("pages", totalPages).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return results, nil
}

// worker processes pages from the queue
func (bf *BatchFetcher) worker(ctx context.Context, collection string, pageQueue <-chan int, results chan<- PageResult, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	pagesProcessed := 0

	for pageNum := range pageQueue {
		pageCtx, cancel := context.WithTimeout(ctx, bf.config.Timeout)
		data, _, err := bf.fetcher.FetchPage(pageCtx, collection, pageNum)
		cancel()

		select {
		case results <- PageResult{PageNumber: pageNum, Data: data, Error: err}:
		case <-ctx.Done():
			log.Debug().
				Int("worker_id", workerID).
				Int("pages_processed", pagesProcessed).
				Msg("Worker stopping (context cancelled)")
			return
		}
		if err != nil {
			return
		}
		pagesProcessed++
	}
}

// Ordered returns the page bodies sorted by page number.
func Ordered(pages map[int][]byte) [][]byte {
	nums := make([]int, 0, len(pages))
	for n := range pages {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	out := make([][]byte, 0, len(nums))
	for _, n := range nums {
		out = append(out, pages[n])
	}
	return out
}

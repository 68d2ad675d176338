// Package pagination provides parallel batch fetching for paginated upstream
// collections.
//
// The upstream item API reports the total number of pages in the X-Pages
// header of every page. The batch fetcher reads the first page to learn the
// page count, then fetches the remaining pages with a bounded worker pool.
//
// Example usage:
//
//	fetcher := pagination.NewBatchFetcher(upstreamClient, pagination.DefaultConfig())
//	pages, err := fetcher.FetchAllPages(ctx, "articles")
//	for _, body := range pagination.Ordered(pages) {
//		// decode body
//	}
//
// The batch fetcher:
//   - Fetches the first page to determine the total page count
//   - Spawns at most MaxConcurrency workers
//   - Bounds every page fetch with Timeout
//   - Cancels outstanding pages on the first failure
//
// Partial results are never returned, so a caller can safely replace its
// cached item set with the result.
package pagination

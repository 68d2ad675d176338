// Package cache provides the two-tier feed cache.
//
// The cache manager owns three logical namespaces on top of a persistent
// store:
//
//   - item data: the merged item list of a schema plus its watermark
//   - rendered content: one rendered feed body per collection and format,
//     with the ETag and Last-Modified values served to clients. A collection
//     that is not mapped onto another schema uses the schema name.
//   - image metadata: the outcome of probing the image gateways for a
//     transaction id, including negative results
//
// # Basic Usage
//
//	st, err := store.OpenLevelDB("./data/leveldb")
//	if err != nil {
//		return err
//	}
//	manager := cache.NewManager(st, cache.DefaultConfig())
//
//	entry, err := manager.GetFeedContent(ctx, "articles", "rss")
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// refresh under the schema's refresh lock
//	}
//
// # Expiry and Stale Entries
//
// An entry is expired when now - savedAt > ttl. Expired entries are reported
// as misses by the regular getters but are never deleted, so the
// *IgnoringExpiry accessors can still return them when the upstream fails.
//
// # Incremental Merge
//
// FilterNewItems selects items created after the stored watermark and
// MergeItems folds them into the cached list: items with a known id replace
// the cached copy in place, unseen ids are appended in discovery order.
//
// # Failure Semantics
//
// Read errors and corrupt records are treated as misses. Write errors are
// logged and counted; callers are expected to keep serving the in-memory
// result.
//
// # Metrics
//
//   - feedcache_cache_hits_total{namespace}
//   - feedcache_cache_misses_total{namespace}
//   - feedcache_cache_writes_total{namespace}
//   - feedcache_cache_errors_total{operation}
//   - feedcache_cache_entries{namespace}
package cache

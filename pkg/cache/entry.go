package cache

import (
	"time"

	"github.com/Sternrassler/feedcache/pkg/item"
)

// FeedDataEntry is the merged item list of one schema.
type FeedDataEntry struct {
	// Items in merge order, not necessarily chronological.
	Items []item.Item `json:"items"`

	// LastProcessedTimestamp is the watermark: the highest TimeCreated seen.
	LastProcessedTimestamp int64 `json:"lastProcessedTimestamp"`

	// SavedAt is when the entry was written (unix seconds).
	SavedAt int64 `json:"savedAt"`
}

// FeedContentEntry is one rendered feed.
type FeedContentEntry struct {
	Content      string `json:"content"`
	ContentType  string `json:"contentType"`
	ETag         string `json:"etag"`
	LastModified int64  `json:"lastModified"`
	SavedAt      int64  `json:"savedAt"`
}

// LastModifiedTime returns LastModified as a time.Time.
func (e *FeedContentEntry) LastModifiedTime() time.Time {
	return time.Unix(e.LastModified, 0).UTC()
}

// ImageMetadataEntry is the cached detection result for a transaction id.
type ImageMetadataEntry struct {
	item.ImageMetadata
	SavedAt int64 `json:"savedAt"`
}

// expired implements the shared TTL rule: now - savedAt > ttl.
func expired(savedAt int64, ttl time.Duration, now time.Time) bool {
	return now.Unix()-savedAt > int64(ttl/time.Second)
}

// IsExpired reports whether the entry is older than ttl at now.
func (e *FeedDataEntry) IsExpired(ttl time.Duration, now time.Time) bool {
	return expired(e.SavedAt, ttl, now)
}

// IsExpired reports whether the entry is older than ttl at now.
func (e *FeedContentEntry) IsExpired(ttl time.Duration, now time.Time) bool {
	return expired(e.SavedAt, ttl, now)
}

// IsExpired reports whether the entry is older than ttl at now.
func (e *ImageMetadataEntry) IsExpired(ttl time.Duration, now time.Time) bool {
	return expired(e.SavedAt, ttl, now)
}

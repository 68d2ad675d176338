package cache

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Cache status values reported in the X-Cache response header.
const (
	StatusHit   = "HIT"
	StatusMiss  = "MISS"
	StatusStale = "STALE"
)

// StaleWarning is the Warning header value attached to stale responses.
const StaleWarning = `110 - "Response is Stale"`

// ETagMatches reports whether an If-None-Match header value matches etag.
// It accepts "*", comma separated lists and weak validators (W/"...").
func ETagMatches(ifNoneMatch, etag string) bool {
	ifNoneMatch = strings.TrimSpace(ifNoneMatch)
	if ifNoneMatch == "" || etag == "" {
		return false
	}
	if ifNoneMatch == "*" {
		return true
	}

	want := opaqueTag(etag)
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		if opaqueTag(candidate) == want {
			return true
		}
	}
	return false
}

// opaqueTag strips the weak prefix so validators compare weakly.
func opaqueTag(tag string) string {
	tag = strings.TrimSpace(tag)
	tag = strings.TrimPrefix(tag, "W/")
	return tag
}

// CacheControl returns the Cache-Control value for a ttl.
func CacheControl(ttl time.Duration) string {
	return fmt.Sprintf("public, max-age=%d, must-revalidate", int64(ttl/time.Second))
}

// SetContentHeaders writes the validator and caching headers of entry to h.
func SetContentHeaders(h http.Header, entry *FeedContentEntry, ttl time.Duration, status string) {
	if entry == nil {
		return
	}
	if entry.ContentType != "" {
		h.Set("Content-Type", entry.ContentType)
	}
	h.Set("ETag", entry.ETag)
	h.Set("Last-Modified", entry.LastModifiedTime().Format(http.TimeFormat))
	h.Set("Cache-Control", CacheControl(ttl))
	if status != "" {
		h.Set("X-Cache", status)
	}
}

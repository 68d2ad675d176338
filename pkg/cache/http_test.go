package cache

import (
	"net/http"
	"testing"
	"time"
)

func TestETagMatches(t *testing.T) {
	const etag = `"abc123"`

	tests := []struct {
		name        string
		ifNoneMatch string
		want        bool
	}{
		{"exact", `"abc123"`, true},
		{"empty header", "", false},
		{"different", `"other"`, false},
		{"wildcard", "*", true},
		{"list containing", `"x", "abc123"`, true},
		{"list without", `"x", "y"`, false},
		{"weak validator", `W/"abc123"`, true},
		{"unquoted", `abc123`, false},
		{"surrounding whitespace", `  "abc123" `, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ETagMatches(tt.ifNoneMatch, etag); got != tt.want {
				t.Errorf("ETagMatches(%q) = %v, want %v", tt.ifNoneMatch, got, tt.want)
			}
		})
	}

	if ETagMatches("*", "") {
		t.Error("wildcard must not match an empty etag")
	}
}

func TestCacheControl(t *testing.T) {
	tests := []struct {
		ttl  time.Duration
		want string
	}{
		{5 * time.Minute, "public, max-age=300, must-revalidate"},
		{90 * time.Second, "public, max-age=90, must-revalidate"},
		{0, "public, max-age=0, must-revalidate"},
	}

	for _, tt := range tests {
		if got := CacheControl(tt.ttl); got != tt.want {
			t.Errorf("CacheControl(%v) = %q, want %q", tt.ttl, got, tt.want)
		}
	}
}

func TestSetContentHeaders(t *testing.T) {
	entry := &FeedContentEntry{
		Content:      "<rss/>",
		ContentType:  "application/rss+xml; charset=utf-8",
		ETag:         `"tag"`,
		LastModified: 1700000000,
	}

	h := http.Header{}
	SetContentHeaders(h, entry, 5*time.Minute, StatusHit)

	checks := map[string]string{
		"Content-Type":  "application/rss+xml; charset=utf-8",
		"ETag":          `"tag"`,
		"Last-Modified": "Tue, 14 Nov 2023 22:13:20 GMT",
		"Cache-Control": "public, max-age=300, must-revalidate",
		"X-Cache":       "HIT",
	}
	for k, want := range checks {
		if got := h.Get(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}

	empty := http.Header{}
	SetContentHeaders(empty, nil, time.Minute, StatusHit)
	if len(empty) != 0 {
		t.Errorf("nil entry should not set headers, got %v", empty)
	}
}

package cache

import (
	"testing"

	"github.com/Sternrassler/feedcache/pkg/store"
)

func TestCacheKey_String(t *testing.T) {
	tests := []struct {
		name       string
		key        CacheKey
		want       string
		wantRecord string
	}{
		{
			name:       "item data",
			key:        DataKey("articles"),
			want:       "data:articles",
			wantRecord: "articles",
		},
		{
			name:       "content",
			key:        ContentKey("articles", "rss"),
			want:       "content:articles:rss",
			wantRecord: "articles:rss",
		},
		{
			name:       "content format is lower-cased",
			key:        ContentKey("articles", "ATOM"),
			want:       "content:articles:atom",
			wantRecord: "articles:atom",
		},
		{
			name:       "schema is trimmed",
			key:        DataKey(" /articles/ "),
			want:       "data:articles",
			wantRecord: "articles",
		},
		{
			name:       "image",
			key:        ImageKey("bNbA3TEQVL60xlgC"),
			want:       "image:bNbA3TEQVL60xlgC",
			wantRecord: "bNbA3TEQVL60xlgC",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
			if got := tt.key.Record(); got != tt.wantRecord {
				t.Errorf("Record() = %q, want %q", got, tt.wantRecord)
			}
		})
	}
}

func TestCacheKey_Namespaces(t *testing.T) {
	if DataKey("a").Namespace != store.NamespaceData {
		t.Error("DataKey should use the data namespace")
	}
	if ContentKey("a", "rss").Namespace != store.NamespaceContent {
		t.Error("ContentKey should use the content namespace")
	}
	if ImageKey("a").Namespace != store.NamespaceImage {
		t.Error("ImageKey should use the image namespace")
	}
}

func TestGenerateETag(t *testing.T) {
	base := GenerateETag("articles", "rss", 1700000000, "<rss/>")

	if len(base) < 3 || base[0] != '"' || base[len(base)-1] != '"' {
		t.Fatalf("ETag must be a quoted string, got %s", base)
	}

	if again := GenerateETag("articles", "rss", 1700000000, "<rss/>"); again != base {
		t.Errorf("ETag not deterministic: %s != %s", again, base)
	}

	variants := []struct {
		name         string
		schema       string
		format       string
		lastModified int64
		content      string
	}{
		{"different schema", "news", "rss", 1700000000, "<rss/>"},
		{"different format", "articles", "atom", 1700000000, "<rss/>"},
		{"different lastModified", "articles", "rss", 1700000001, "<rss/>"},
		{"different length", "articles", "rss", 1700000000, "<rss />"},
		{"same length different content", "articles", "rss", 1700000000, "<xss/>"},
	}

	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			got := GenerateETag(v.schema, v.format, v.lastModified, v.content)
			if got == base {
				t.Errorf("expected a different ETag for %s", v.name)
			}
		})
	}
}

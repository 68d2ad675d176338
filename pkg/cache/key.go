package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"strings"

	"github.com/Sternrassler/feedcache/pkg/store"
)

// CacheKey identifies one cached record.
type CacheKey struct {
	Namespace store.Namespace

	// Schema is set for item data and rendered content.
	Schema string

	// Format is set for rendered content (rss, atom, json).
	Format string

	// TxID is set for image metadata.
	TxID string
}

// DataKey addresses the item data of a schema.
func DataKey(schema string) CacheKey {
	return CacheKey{Namespace: store.NamespaceData, Schema: normalize(schema)}
}

// ContentKey addresses the rendered feed of a schema in one format.
func ContentKey(schema, format string) CacheKey {
	return CacheKey{
		Namespace: store.NamespaceContent,
		Schema:    normalize(schema),
		Format:    strings.ToLower(normalize(format)),
	}
}

// ImageKey addresses the image metadata of a transaction.
func ImageKey(txID string) CacheKey {
	return CacheKey{Namespace: store.NamespaceImage, TxID: normalize(txID)}
}

// Record returns the key of the record inside its namespace.
//
// Examples:
//
//	articles          (data)
//	articles:rss      (content)
//	bNbA3TEQVL60xlgC  (image)
func (k CacheKey) Record() string {
	switch k.Namespace {
	case store.NamespaceContent:
		return k.Schema + ":" + k.Format
	case store.NamespaceImage:
		return k.TxID
	default:
		return k.Schema
	}
}

// String returns the fully qualified key, e.g. "content:articles:rss".
func (k CacheKey) String() string {
	return string(k.Namespace) + ":" + k.Record()
}

func normalize(s string) string {
	return strings.Trim(strings.TrimSpace(s), "/")
}

// GenerateETag derives a strong ETag from the semantic state of a rendered
// feed. Identical inputs always produce the same tag; the CRC-32 of the
// content makes sure an edit that keeps the length still changes the tag.
func GenerateETag(schema, format string, lastModified int64, content string) string {
	fingerprint := fmt.Sprintf("%s:%s:%d:%d:%08x",
		normalize(schema),
		strings.ToLower(normalize(format)),
		lastModified,
		len(content),
		crc32.ChecksumIEEE([]byte(content)),
	)
	sum := sha256.Sum256([]byte(fingerprint))
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

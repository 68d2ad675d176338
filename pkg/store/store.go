// Package store provides the persistent key-value layer behind the feed cache.
//
// Records live in one of three namespaces (item data, rendered content and
// image metadata) so each kind can be listed and cleared on its own. Writes
// of a single record are atomic in every backend: a reader sees either the
// previous value or the new one, never a partial record.
package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Namespace groups records of one kind.
type Namespace string

const (
	// NamespaceData holds item data, one record per schema.
	NamespaceData Namespace = "data"

	// NamespaceContent holds rendered feeds, one record per collection and format.
	NamespaceContent Namespace = "content"

	// NamespaceImage holds image metadata, one record per transaction id.
	NamespaceImage Namespace = "image"
)

// Namespaces lists every namespace in a stable order.
var Namespaces = []Namespace{NamespaceData, NamespaceContent, NamespaceImage}

// ParseNamespace validates a namespace name.
func ParseNamespace(s string) (Namespace, error) {
	for _, ns := range Namespaces {
		if string(ns) == strings.ToLower(strings.TrimSpace(s)) {
			return ns, nil
		}
	}
	return "", fmt.Errorf("unknown namespace %q", s)
}

// ErrNotFound is returned by Get when no record exists for the key.
var ErrNotFound = errors.New("record not found")

// Store is a namespaced key-value store.
type Store interface {
	Get(ctx context.Context, ns Namespace, key string) ([]byte, error)
	Put(ctx context.Context, ns Namespace, key string, value []byte) error
	Delete(ctx context.Context, ns Namespace, key string) error
	Clear(ctx context.Context, ns Namespace) error
	Keys(ctx context.Context, ns Namespace) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
	BackendRedis   = "redis"
)

// Config selects and configures a backend.
type Config struct {
	Backend string

	// Dir is the on-disk root for leveldb and bolt.
	Dir string

	RedisAddr   string
	RedisDB     int
	RedisPrefix string
}

// Open creates the configured backend.
func Open(cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendLevelDB:
		if cfg.Dir == "" {
			return nil, fmt.Errorf("leveldb backend requires a directory")
		}
		return OpenLevelDB(filepath.Join(cfg.Dir, "leveldb"))
	case BackendBolt:
		if cfg.Dir == "" {
			return nil, fmt.Errorf("bolt backend requires a directory")
		}
		return OpenBolt(filepath.Join(cfg.Dir, "feedcache.db"))
	case BackendRedis:
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis backend requires an address")
		}
		client := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		return NewRedis(client, cfg.RedisPrefix), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// recordKey is the flat key used by backends without native namespaces.
func recordKey(ns Namespace, key string) string {
	return string(ns) + ":" + key
}

func namespacePrefix(ns Namespace) string {
	return string(ns) + ":"
}

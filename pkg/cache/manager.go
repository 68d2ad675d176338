package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/feedcache/pkg/item"
	"github.com/Sternrassler/feedcache/pkg/logging"
	"github.com/Sternrassler/feedcache/pkg/render"
	"github.com/Sternrassler/feedcache/pkg/store"
)

var (
	// ErrCacheMiss indicates the requested record is absent, expired or unreadable
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Config holds the cache manager configuration.
type Config struct {
	// TTL applies to item data and rendered content.
	TTL time.Duration

	// ImageTTL applies to image metadata.
	ImageTTL time.Duration

	// Now overrides the clock (tests). Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		TTL:      5 * time.Minute,
		ImageTTL: 7 * 24 * time.Hour,
	}
}

// Manager owns the item data, rendered content and image metadata caches.
//
// Manager keeps no in-memory index; every read goes to the store, so there is
// no shared mutable state to guard beyond what the store already serializes.
type Manager struct {
	store  store.Store
	cfg    Config
	logger zerolog.Logger
}

// NewManager creates a cache manager on top of st.
func NewManager(st store.Store, cfg Config) *Manager {
	if st == nil {
		panic("store cannot be nil")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		store:  st,
		cfg:    cfg,
		logger: logging.NewLogger("cache"),
	}
}

// TTL returns the item data and content TTL.
func (m *Manager) TTL() time.Duration {
	return m.cfg.TTL
}

// ImageTTL returns the image metadata TTL.
func (m *Manager) ImageTTL() time.Duration {
	return m.cfg.ImageTTL
}

// Store returns the underlying store.
func (m *Manager) Store() store.Store {
	return m.store
}

// GetFeedData returns the item data of schema.
// Returns ErrCacheMiss if the record is absent or expired.
func (m *Manager) GetFeedData(ctx context.Context, schema string) (*FeedDataEntry, error) {
	entry, err := m.GetFeedDataIgnoringExpiry(ctx, schema)
	if err != nil {
		return nil, err
	}
	if entry.IsExpired(m.cfg.TTL, m.cfg.Now()) {
		CacheMisses.WithLabelValues(string(store.NamespaceData)).Inc()
		return nil, ErrCacheMiss
	}
	CacheHits.WithLabelValues(string(store.NamespaceData)).Inc()
	return entry, nil
}

// GetFeedDataIgnoringExpiry returns the persisted item data of schema even if
// it has expired.
func (m *Manager) GetFeedDataIgnoringExpiry(ctx context.Context, schema string) (*FeedDataEntry, error) {
	var entry FeedDataEntry
	if err := m.load(ctx, DataKey(schema), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// SetFeedData persists items as the item data of schema. The watermark is
// derived from items, so storing the same items twice yields the same state.
func (m *Manager) SetFeedData(ctx context.Context, schema string, items []item.Item) (*FeedDataEntry, error) {
	if items == nil {
		items = []item.Item{}
	}
	entry := &FeedDataEntry{
		Items:                  items,
		LastProcessedTimestamp: Watermark(items),
		SavedAt:                m.cfg.Now().Unix(),
	}
	if err := m.save(ctx, DataKey(schema), entry); err != nil {
		return entry, err
	}

	m.logger.Debug().
		Str("schema", schema).
		Int("items", len(items)).
		Int64("watermark", entry.LastProcessedTimestamp).
		Msg("Item data stored")
	return entry, nil
}

// GetFeedContent returns the rendered feed for schema and format.
// Returns ErrCacheMiss if the record is absent or expired.
func (m *Manager) GetFeedContent(ctx context.Context, schema, format string) (*FeedContentEntry, error) {
	entry, err := m.GetFeedContentIgnoringExpiry(ctx, schema, format)
	if err != nil {
		return nil, err
	}
	if entry.IsExpired(m.cfg.TTL, m.cfg.Now()) {
		CacheMisses.WithLabelValues(string(store.NamespaceContent)).Inc()
		return nil, ErrCacheMiss
	}
	CacheHits.WithLabelValues(string(store.NamespaceContent)).Inc()
	return entry, nil
}

// GetFeedContentIgnoringExpiry returns the persisted rendered feed even if it
// has expired. Used for stale fallback.
func (m *Manager) GetFeedContentIgnoringExpiry(ctx context.Context, schema, format string) (*FeedContentEntry, error) {
	var entry FeedContentEntry
	if err := m.load(ctx, ContentKey(schema, format), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// SetFeedContent persists a rendered feed with a fresh ETag and
// Last-Modified. Content and ETag are written as a single record.
func (m *Manager) SetFeedContent(ctx context.Context, schema, format, content, contentType string) (*FeedContentEntry, error) {
	now := m.cfg.Now().Unix()
	entry := &FeedContentEntry{
		Content:      content,
		ContentType:  contentType,
		ETag:         GenerateETag(schema, format, now, content),
		LastModified: now,
		SavedAt:      now,
	}
	if err := m.save(ctx, ContentKey(schema, format), entry); err != nil {
		return entry, err
	}

	m.logger.Debug().
		Str("schema", schema).
		Str("format", format).
		Str("etag", entry.ETag).
		Int("bytes", len(content)).
		Msg("Feed content stored")
	return entry, nil
}

// GetImageMetadata returns the cached detection result for txID.
// Returns ErrCacheMiss if the record is absent or older than the image TTL.
func (m *Manager) GetImageMetadata(ctx context.Context, txID string) (*ImageMetadataEntry, error) {
	var entry ImageMetadataEntry
	if err := m.load(ctx, ImageKey(txID), &entry); err != nil {
		return nil, err
	}
	if entry.IsExpired(m.cfg.ImageTTL, m.cfg.Now()) {
		CacheMisses.WithLabelValues(string(store.NamespaceImage)).Inc()
		return nil, ErrCacheMiss
	}
	CacheHits.WithLabelValues(string(store.NamespaceImage)).Inc()
	return &entry, nil
}

// SetImageMetadata caches a detection result, negative results included.
func (m *Manager) SetImageMetadata(ctx context.Context, txID string, meta item.ImageMetadata) error {
	entry := &ImageMetadataEntry{
		ImageMetadata: meta,
		SavedAt:       m.cfg.Now().Unix(),
	}
	return m.save(ctx, ImageKey(txID), entry)
}

// ClearFeedData removes the item data of schema together with the rendered
// formats of the collection that carries the same name. Renders of other
// collections mapped onto schema are left alone; use ClearFeedContent for
// those.
func (m *Manager) ClearFeedData(ctx context.Context, schema string) error {
	key := DataKey(schema)
	if err := m.store.Delete(ctx, key.Namespace, key.Record()); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("delete %s: %w", key, err)
	}
	if err := m.ClearFeedContent(ctx, schema); err != nil {
		return err
	}

	m.logger.Info().Str("schema", schema).Msg("Feed data cleared")
	return nil
}

// ClearFeedContent removes every rendered format of the collection name.
func (m *Manager) ClearFeedContent(ctx context.Context, name string) error {
	for _, f := range render.Formats {
		key := ContentKey(name, string(f))
		if err := m.store.Delete(ctx, key.Namespace, key.Record()); err != nil {
			CacheErrors.WithLabelValues("delete").Inc()
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}
	return nil
}

// ClearNamespace removes every record of one namespace.
func (m *Manager) ClearNamespace(ctx context.Context, ns store.Namespace) error {
	if err := m.store.Clear(ctx, ns); err != nil {
		CacheErrors.WithLabelValues("clear").Inc()
		return fmt.Errorf("clear %s: %w", ns, err)
	}
	CacheEntries.WithLabelValues(string(ns)).Set(0)
	m.logger.Info().Str("namespace", string(ns)).Msg("Cache namespace cleared")
	return nil
}

// ClearAll removes every record of every namespace.
func (m *Manager) ClearAll(ctx context.Context) error {
	for _, ns := range store.Namespaces {
		if err := m.ClearNamespace(ctx, ns); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns the number of records per namespace.
func (m *Manager) Stats(ctx context.Context) (map[store.Namespace]int, error) {
	out := make(map[store.Namespace]int, len(store.Namespaces))
	for _, ns := range store.Namespaces {
		keys, err := m.store.Keys(ctx, ns)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", ns, err)
		}
		out[ns] = len(keys)
		CacheEntries.WithLabelValues(string(ns)).Set(float64(len(keys)))
	}
	return out, nil
}

// load reads and decodes one record. Any failure is reported as ErrCacheMiss
// so an unreadable cache only ever forces a refetch.
func (m *Manager) load(ctx context.Context, key CacheKey, v any) error {
	ns := string(key.Namespace)

	data, err := m.store.Get(ctx, key.Namespace, key.Record())
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			CacheErrors.WithLabelValues("get").Inc()
			m.logger.Warn().Err(err).Str("key", key.String()).Msg("Cache read failed, treating as miss")
		}
		CacheMisses.WithLabelValues(ns).Inc()
		return ErrCacheMiss
	}

	if err := json.Unmarshal(data, v); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		CacheMisses.WithLabelValues(ns).Inc()
		m.logger.Warn().
			Err(fmt.Errorf("%w: %v", ErrInvalidEntry, err)).
			Str("key", key.String()).
			Msg("Corrupt cache record, treating as miss")
		return ErrCacheMiss
	}
	return nil
}

func (m *Manager) save(ctx context.Context, key CacheKey, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := m.store.Put(ctx, key.Namespace, key.Record(), data); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		m.logger.Warn().Err(err).Str("key", key.String()).Msg("Cache write failed")
		return fmt.Errorf("store %s: %w", key, err)
	}
	CacheWrites.WithLabelValues(string(key.Namespace)).Inc()
	return nil
}

// Package orchestrator decides, per feed request, whether to answer from the
// rendered content cache, revalidate, refresh the item data or fall back to
// stale content.
//
// A request for (collection, format) ends in exactly one State:
//
//	DISABLED           caching off; fetch, enrich and render directly
//	FRESH_HIT          unexpired rendered content served (X-Cache: HIT)
//	CONDITIONAL_MATCH  If-None-Match equals the stored ETag (304)
//	COLD_MISS          no item data; full fetch under the refresh lock
//	WARM_MISS          item data present; incremental merge under the lock
//	ERROR_STALE        refresh failed; expired content served (X-Cache: STALE)
//	ERROR_FATAL        refresh failed and nothing to fall back to, or the
//	                   caller went away while waiting on the refresh (500)
//
// The refresh lock is keyed by schema, so every format and every collection
// of a schema shares one upstream fetch. Rendering happens outside the lock.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/feedcache/pkg/cache"
	"github.com/Sternrassler/feedcache/pkg/item"
	"github.com/Sternrassler/feedcache/pkg/logging"
	"github.com/Sternrassler/feedcache/pkg/refresh"
	"github.com/Sternrassler/feedcache/pkg/render"
)

// State is the outcome of a feed request.
type State string

const (
	StateFreshHit         State = "FRESH_HIT"
	StateConditionalMatch State = "CONDITIONAL_MATCH"
	StateColdMiss         State = "COLD_MISS"
	StateWarmMiss         State = "WARM_MISS"
	StateDisabled         State = "DISABLED"
	StateErrorStale       State = "ERROR_STALE"
	StateErrorFatal       State = "ERROR_FATAL"
	StateInvalid          State = "INVALID"
)

// ItemFetcher returns the full current item set of a schema.
type ItemFetcher interface {
	FetchItems(ctx context.Context, schema string) ([]item.Item, error)
}

// Renderer turns items into feed markup.
type Renderer interface {
	Render(format render.Format, ch render.Channel, items []item.Item) (body, contentType string, err error)
}

// ImageDetector resolves image metadata for a transaction id. A non-nil error
// means no gateway gave a definitive answer; the metadata is still usable but
// must not be cached.
type ImageDetector interface {
	Detect(ctx context.Context, txID string) (item.ImageMetadata, error)
}

// Collection maps a public collection name to an upstream schema and its
// channel metadata.
type Collection struct {
	Schema       string
	Title        string
	Description  string
	Link         string
	EnrichImages bool
	// ImageField names the item field holding the transaction id.
	ImageField string

	name string
}

// contentKey addresses the rendered feeds of the collection. Collections
// sharing a schema share item data but never rendered output.
func (c Collection) contentKey() string {
	return c.name
}

// Config holds the orchestrator configuration.
type Config struct {
	// Enabled turns the cache on. When false every request is rendered
	// from a direct fetch.
	Enabled bool

	// BaseURL is the public URL prefix used for self links.
	BaseURL string

	// Collections by name. Unknown names use their own name as schema.
	Collections map[string]Collection

	// EnrichConcurrency bounds parallel image lookups per request.
	EnrichConcurrency int
}

// DefaultConfig returns a configuration with caching enabled.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		BaseURL:           "http://localhost:8080",
		EnrichConcurrency: 8,
	}
}

// Request is a feed request.
type Request struct {
	Collection  string
	Format      string
	IfNoneMatch string

	// CacheBustParam and CacheBustValue are echoed into the self link only.
	CacheBustParam string
	CacheBustValue string
}

// Result is the response to a feed request.
type Result struct {
	Status int
	Header http.Header
	Body   string
	State  State
	Err    error
}

// Service runs the request state machine.
type Service struct {
	cache *cache.Manager
	lock  *refresh.Lock[*refreshResult]
	// enrichLock is keyed by schema and image field.
	enrichLock *refresh.Lock[*refreshResult]
	fetcher    ItemFetcher
	renderer   Renderer
	detector   ImageDetector
	cfg        Config
	logger     zerolog.Logger
}

// refreshResult is what one refresh hands to every waiting request.
type refreshResult struct {
	items []item.Item
	warm  bool
}

// NewService creates the orchestrator. detector may be nil, which disables
// image enrichment.
func NewService(cfg Config, cm *cache.Manager, fetcher ItemFetcher, renderer Renderer, detector ImageDetector) *Service {
	if cm == nil {
		panic("cache manager cannot be nil")
	}
	if fetcher == nil || renderer == nil {
		panic("fetcher and renderer are required")
	}
	if cfg.EnrichConcurrency <= 0 {
		cfg.EnrichConcurrency = DefaultConfig().EnrichConcurrency
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Service{
		cache:      cm,
		lock:       refresh.New[*refreshResult](),
		enrichLock: refresh.New[*refreshResult](),
		fetcher:    fetcher,
		renderer:   renderer,
		detector:   detector,
		cfg:        cfg,
		logger:     logging.NewLogger("orchestrator"),
	}
}

// Collection resolves name against the configured collections.
func (s *Service) Collection(name string) Collection {
	c, ok := s.cfg.Collections[name]
	if !ok {
		c = Collection{}
	}
	c.name = name
	if c.Schema == "" {
		c.Schema = name
	}
	if c.Title == "" {
		c.Title = name
	}
	if c.ImageField == "" {
		c.ImageField = item.FieldID
	}
	return c
}

// Serve answers a feed request. It never returns nil.
func (s *Service) Serve(ctx context.Context, req Request) *Result {
	start := time.Now()

	res := s.serve(ctx, req)

	FeedRequests.WithLabelValues(strings.ToLower(req.Format), string(res.State)).Inc()
	FeedRequestDuration.WithLabelValues(string(res.State)).Observe(time.Since(start).Seconds())
	return res
}

func (s *Service) serve(ctx context.Context, req Request) *Result {
	format, err := render.ParseFormat(req.Format)
	if err != nil {
		return jsonError(http.StatusBadRequest, StateInvalid, errorLabelInvalidFormat,
			fmt.Errorf("%w: %q (supported: rss, atom, json)", ErrInvalidFormat, req.Format))
	}

	coll := s.Collection(req.Collection)
	logger := s.logger.With().
		Str("collection", req.Collection).
		Str("schema", coll.Schema).
		Str("format", string(format)).
		Logger()

	if !s.cfg.Enabled {
		return s.serveDisabled(ctx, req, coll, format, logger)
	}

	if entry, err := s.cache.GetFeedContent(ctx, coll.contentKey(), string(format)); err == nil {
		if cache.ETagMatches(req.IfNoneMatch, entry.ETag) {
			logger.Debug().Str("etag", entry.ETag).Str("cache_state", string(StateConditionalMatch)).Msg("Conditional request matched")
			return s.notModified(entry)
		}
		logger.Debug().Str("cache_state", string(StateFreshHit)).Msg("Serving cached feed")
		return s.content(entry, cache.StatusHit, StateFreshHit)
	}

	rr, err := s.refresh(ctx, coll)
	if err != nil {
		if ctx.Err() != nil {
			// The refresh keeps running for other waiters.
			logger.Debug().Err(ctx.Err()).Msg("Caller went away during refresh")
			return jsonError(http.StatusInternalServerError, StateErrorFatal, errorLabelGenerate, ctx.Err())
		}
		return s.serveStale(ctx, coll, format, err, logger)
	}

	state := StateColdMiss
	if rr.warm {
		state = StateWarmMiss
	}

	body, contentType, err := s.renderer.Render(format, s.channel(req, coll, format), rr.items)
	if err != nil {
		return s.serveStale(ctx, coll, format, fmt.Errorf("%w: %w", ErrRender, err), logger)
	}

	entry, err := s.cache.SetFeedContent(ctx, coll.contentKey(), string(format), body, contentType)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to persist rendered feed")
	}
	if entry == nil {
		entry = &cache.FeedContentEntry{Content: body, ContentType: contentType}
	}

	logger.Info().
		Str("cache_state", string(state)).
		Int("items", len(rr.items)).
		Str("etag", entry.ETag).
		Msg("Feed refreshed")

	return s.content(entry, cache.StatusMiss, state)
}

// refresh runs the data path for coll under the schema's refresh lock. Image
// enrichment runs afterwards under its own lock so collections that share a
// schema share one data refresh whatever their enrichment settings.
func (s *Service) refresh(ctx context.Context, coll Collection) (*refreshResult, error) {
	rr, shared, err := s.lock.Do(ctx, coll.Schema, func(ctx context.Context) (*refreshResult, error) {
		return s.refreshData(ctx, coll.Schema)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug().Str("schema", coll.Schema).Msg("Joined in-flight refresh")
	}

	if !coll.EnrichImages || s.detector == nil {
		return rr, nil
	}

	enriched, _, err := s.enrichLock.Do(ctx, coll.Schema+"|"+coll.ImageField, func(ctx context.Context) (*refreshResult, error) {
		return &refreshResult{items: s.enrich(ctx, coll.ImageField, rr.items), warm: rr.warm}, nil
	})
	if err != nil {
		return nil, err
	}
	return &refreshResult{items: enriched.items, warm: rr.warm}, nil
}

// refreshData fetches the upstream items of schema and reconciles them with
// the cached item data.
func (s *Service) refreshData(ctx context.Context, schema string) (*refreshResult, error) {
	logger := s.logger.With().Str("schema", schema).Logger()

	cached, cacheErr := s.cache.GetFeedData(ctx, schema)

	start := time.Now()
	fetched, err := s.fetcher.FetchItems(ctx, schema)
	if err != nil {
		UpstreamFetches.WithLabelValues(schema, "error").Inc()
		logger.Warn().Err(err).Msg("Upstream fetch failed")
		return nil, fmt.Errorf("%w: %s: %w", ErrUpstreamFetch, schema, err)
	}
	UpstreamFetches.WithLabelValues(schema, "success").Inc()

	if cacheErr == nil {
		fresh := cache.FilterNewItems(fetched, cached.LastProcessedTimestamp)
		if len(fresh) == 0 {
			logger.Debug().
				Int("items", len(cached.Items)).
				Dur("duration", time.Since(start)).
				Msg("No new items")
			return &refreshResult{items: cached.Items, warm: true}, nil
		}

		merged := cache.MergeItems(cached.Items, fresh)
		NewItemsMerged.WithLabelValues(schema).Add(float64(len(merged) - len(cached.Items)))
		s.persistData(ctx, schema, merged, logger)

		logger.Info().
			Int("new_items", len(fresh)).
			Int("items", len(merged)).
			Dur("duration", time.Since(start)).
			Msg("Merged new items")
		return &refreshResult{items: merged, warm: true}, nil
	}

	items := cache.MergeItems(nil, fetched)
	s.persistData(ctx, schema, items, logger)

	logger.Info().
		Int("items", len(items)).
		Dur("duration", time.Since(start)).
		Msg("Loaded items")
	return &refreshResult{items: items}, nil
}

func (s *Service) persistData(ctx context.Context, schema string, items []item.Item, logger zerolog.Logger) {
	if _, err := s.cache.SetFeedData(ctx, schema, items); err != nil {
		logger.Warn().Err(err).Msg("Failed to persist item data")
	}
}

func (s *Service) serveDisabled(ctx context.Context, req Request, coll Collection, format render.Format, logger zerolog.Logger) *Result {
	items, err := s.fetcher.FetchItems(ctx, coll.Schema)
	if err != nil {
		UpstreamFetches.WithLabelValues(coll.Schema, "error").Inc()
		logger.Error().Err(err).Msg("Upstream fetch failed with cache disabled")
		return jsonError(http.StatusInternalServerError, StateErrorFatal, errorLabelGenerate,
			fmt.Errorf("%w: %s: %w", ErrUpstreamFetch, coll.Schema, err))
	}
	UpstreamFetches.WithLabelValues(coll.Schema, "success").Inc()

	items = cache.MergeItems(nil, items)
	if coll.EnrichImages && s.detector != nil {
		items = s.enrich(ctx, coll.ImageField, items)
	}

	body, contentType, err := s.renderer.Render(format, s.channel(req, coll, format), items)
	if err != nil {
		logger.Error().Err(err).Msg("Render failed with cache disabled")
		return jsonError(http.StatusInternalServerError, StateErrorFatal, errorLabelGenerate,
			fmt.Errorf("%w: %w", ErrRender, err))
	}

	h := make(http.Header)
	h.Set("Content-Type", contentType)
	return &Result{Status: http.StatusOK, Header: h, Body: body, State: StateDisabled}
}

// serveStale answers a failed refresh with the last rendered content, if any.
func (s *Service) serveStale(ctx context.Context, coll Collection, format render.Format, cause error, logger zerolog.Logger) *Result {
	entry, err := s.cache.GetFeedContentIgnoringExpiry(ctx, coll.contentKey(), string(format))
	if err != nil {
		logger.Error().Err(cause).Str("cache_state", string(StateErrorFatal)).Msg("Failed to generate feed")
		return jsonError(http.StatusInternalServerError, StateErrorFatal, errorLabelGenerate, cause)
	}

	logger.Warn().
		Err(cause).
		Str("cache_state", string(StateErrorStale)).
		Int64("saved_at", entry.SavedAt).
		Msg("Serving stale feed")

	res := s.content(entry, cache.StatusStale, StateErrorStale)
	res.Header.Set("Warning", cache.StaleWarning)
	res.Err = cause
	return res
}

func (s *Service) content(entry *cache.FeedContentEntry, status string, state State) *Result {
	h := make(http.Header)
	cache.SetContentHeaders(h, entry, s.cache.TTL(), status)
	return &Result{Status: http.StatusOK, Header: h, Body: entry.Content, State: state}
}

func (s *Service) notModified(entry *cache.FeedContentEntry) *Result {
	h := make(http.Header)
	h.Set("ETag", entry.ETag)
	h.Set("Last-Modified", entry.LastModifiedTime().Format(http.TimeFormat))
	h.Set("Cache-Control", cache.CacheControl(s.cache.TTL()))
	h.Set("X-Cache", cache.StatusHit)
	return &Result{Status: http.StatusNotModified, Header: h, State: StateConditionalMatch}
}

// channel builds the feed metadata. The cache-busting parameter only ever
// reaches the self link.
func (s *Service) channel(req Request, coll Collection, format render.Format) render.Channel {
	self := s.cfg.BaseURL + "/" + url.PathEscape(req.Collection) + "/" + string(format)
	if req.CacheBustParam != "" {
		self += "?" + url.Values{req.CacheBustParam: {req.CacheBustValue}}.Encode()
	}
	return render.Channel{
		Title:       coll.Title,
		Description: coll.Description,
		Link:        coll.Link,
		SelfLink:    self,
		TTL:         s.cache.TTL(),
	}
}

func jsonError(status int, state State, label string, err error) *Result {
	h := make(http.Header)
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	return &Result{Status: status, Header: h, Body: errorJSON(label, err), State: state, Err: err}
}

// CacheBustParams are the query parameters accepted as cache busters, in
// priority order.
var CacheBustParams = []string{"v", "_t", "timestamp", "cb"}

// CacheBust returns the first cache-busting parameter present in q.
func CacheBust(q url.Values) (param, value string) {
	for _, p := range CacheBustParams {
		if q.Has(p) {
			return p, q.Get(p)
		}
	}
	return "", ""
}

// IsClientError reports whether res failed because of the request itself.
func (r *Result) IsClientError() bool {
	return errors.Is(r.Err, ErrInvalidFormat)
}

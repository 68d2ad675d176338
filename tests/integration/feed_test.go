package integration

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Sternrassler/feedcache/internal/testutil"
	"github.com/Sternrassler/feedcache/pkg/cache"
	"github.com/Sternrassler/feedcache/pkg/imagedetect"
	"github.com/Sternrassler/feedcache/pkg/orchestrator"
	"github.com/Sternrassler/feedcache/pkg/render"
	"github.com/Sternrassler/feedcache/pkg/store"
	"github.com/Sternrassler/feedcache/pkg/upstream"
)

const itemsPath = "/schemas/articles/items"

// setupRedis starts a Redis container and returns its address.
func setupRedis(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("integration test requires docker")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	return host + ":" + port.Port()
}

// clock is a settable time source for the cache manager.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type stack struct {
	store    store.Store
	cache    *cache.Manager
	service  *orchestrator.Service
	upstream *testutil.MockServer
	clock    *clock
}

// newStack wires a Redis-backed cache, the upstream client against a mock
// server and the orchestrator. gateway is optional.
func newStack(t *testing.T, addr, prefix string, gateway *testutil.MockServer) *stack {
	t.Helper()

	mock := testutil.NewMockServer()
	t.Cleanup(mock.Close)

	st := store.NewRedis(redis.NewClient(&redis.Options{Addr: addr}), prefix)
	t.Cleanup(func() { st.Close() })
	if err := st.Ping(context.Background()); err != nil {
		t.Fatalf("Redis not reachable: %v", err)
	}

	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	cm := cache.NewManager(st, cache.Config{TTL: time.Minute, ImageTTL: time.Hour, Now: clk.Now})

	upCfg := upstream.DefaultConfig(mock.URL())
	upCfg.UserAgent = "feedcache-integration/1.0"
	upCfg.Retry.MaxAttempts = 2
	upCfg.Retry.InitialBackoff = 5 * time.Millisecond
	upCfg.Retry.MaxBackoff = 20 * time.Millisecond
	client, err := upstream.New(upCfg)
	if err != nil {
		t.Fatalf("Failed to create upstream client: %v", err)
	}

	cfg := orchestrator.DefaultConfig()
	cfg.BaseURL = "https://feeds.example.com"
	cfg.Collections = map[string]orchestrator.Collection{
		"news": {Schema: "articles", Title: "News"},
	}

	var detector orchestrator.ImageDetector
	if gateway != nil {
		dcfg := imagedetect.DefaultConfig()
		dcfg.Gateways = []string{gateway.URL()}
		d, err := imagedetect.New(dcfg, nil)
		if err != nil {
			t.Fatalf("Failed to create detector: %v", err)
		}
		detector = d
		cfg.Collections["gallery"] = orchestrator.Collection{
			Schema: "articles", Title: "Gallery", EnrichImages: true, ImageField: "cover",
		}
	}

	return &stack{
		store:    st,
		cache:    cm,
		service:  orchestrator.NewService(cfg, cm, client, render.NewFeedRenderer(), detector),
		upstream: mock,
		clock:    clk,
	}
}

func (s *stack) serve(t *testing.T, collection, format, ifNoneMatch string) *orchestrator.Result {
	t.Helper()
	return s.service.Serve(context.Background(), orchestrator.Request{
		Collection:  collection,
		Format:      format,
		IfNoneMatch: ifNoneMatch,
	})
}

func page(items ...string) string {
	return "[" + strings.Join(items, ",") + "]"
}

func article(id string, created int64) string {
	return fmt.Sprintf(`{"id":%q,"timeCreated":%d,"title":"Article %s","link":"https://example.com/%s","cover":"tx-%s"}`,
		id, created, id, id, id)
}

// TestFullRequestFlow covers cold miss, fresh hit and conditional match.
func TestFullRequestFlow(t *testing.T) {
	s := newStack(t, setupRedis(t), "flow:", nil)
	s.upstream.SetHandler(itemsPath, testutil.NewItemPagesHandler(
		page(article("1", 100), article("2", 200)),
		page(article("3", 300)),
	))

	res := s.serve(t, "news", "rss", "")
	if res.Status != http.StatusOK || res.State != orchestrator.StateColdMiss {
		t.Fatalf("Request 1: status=%d state=%s err=%v", res.Status, res.State, res.Err)
	}
	if got := s.upstream.GetPathCount(itemsPath); got != 2 {
		t.Errorf("After request 1: upstream pages = %d, want 2", got)
	}
	etag := res.Header.Get("ETag")
	if etag == "" {
		t.Fatal("Request 1: missing ETag")
	}

	res = s.serve(t, "news", "rss", "")
	if res.State != orchestrator.StateFreshHit || res.Header.Get("X-Cache") != cache.StatusHit {
		t.Errorf("Request 2: state=%s x-cache=%s", res.State, res.Header.Get("X-Cache"))
	}

	res = s.serve(t, "news", "rss", etag)
	if res.Status != http.StatusNotModified || res.Body != "" {
		t.Errorf("Request 3: status=%d body=%q, want 304 without body", res.Status, res.Body)
	}

	if got := s.upstream.GetPathCount(itemsPath); got != 2 {
		t.Errorf("Cached requests reached upstream: pages = %d, want 2", got)
	}

	data, err := s.cache.GetFeedData(context.Background(), "articles")
	if err != nil {
		t.Fatalf("GetFeedData() error = %v", err)
	}
	if len(data.Items) != 3 || data.LastProcessedTimestamp != 300 {
		t.Errorf("Data = %d items, watermark %d; want 3, 300", len(data.Items), data.LastProcessedTimestamp)
	}
}

// TestWarmMissMerge verifies that a format rendered while item data is still
// fresh appends only items newer than the watermark.
func TestWarmMissMerge(t *testing.T) {
	s := newStack(t, setupRedis(t), "warm:", nil)
	s.upstream.SetHandler(itemsPath, testutil.NewItemPagesHandler(page(article("1", 100))))

	if res := s.serve(t, "news", "json", ""); res.State != orchestrator.StateColdMiss {
		t.Fatalf("Cold request: state=%s err=%v", res.State, res.Err)
	}

	s.clock.Advance(10 * time.Second)
	s.upstream.SetHandler(itemsPath, testutil.NewItemPagesHandler(page(article("1", 100), article("2", 150))))

	res := s.serve(t, "news", "rss", "")
	if res.Status != http.StatusOK || res.State != orchestrator.StateWarmMiss {
		t.Fatalf("Warm request: status=%d state=%s err=%v", res.Status, res.State, res.Err)
	}
	if !strings.Contains(res.Body, "Article 2") {
		t.Errorf("Warm feed misses the new item")
	}

	data, err := s.cache.GetFeedData(context.Background(), "articles")
	if err != nil {
		t.Fatalf("GetFeedData() error = %v", err)
	}
	if len(data.Items) != 2 || data.LastProcessedTimestamp != 150 {
		t.Errorf("Data = %d items, watermark %d; want 2, 150", len(data.Items), data.LastProcessedTimestamp)
	}

	// The JSON feed rendered before the merge is still fresh.
	if res := s.serve(t, "news", "json", ""); res.State != orchestrator.StateFreshHit {
		t.Errorf("JSON request: state=%s, want fresh hit", res.State)
	}
}

// TestStaleOnUpstreamFailure verifies expired content is served when the
// upstream is down.
func TestStaleOnUpstreamFailure(t *testing.T) {
	s := newStack(t, setupRedis(t), "stale:", nil)
	s.upstream.SetHandler(itemsPath, testutil.NewItemPagesHandler(page(article("1", 100))))

	first := s.serve(t, "news", "atom", "")
	if first.Status != http.StatusOK {
		t.Fatalf("Initial request failed: %v", first.Err)
	}

	s.clock.Advance(2 * time.Minute)
	s.upstream.Reset()
	s.upstream.SetResponse(itemsPath, testutil.NewServerErrorResponse())

	res := s.serve(t, "news", "atom", "")
	if res.Status != http.StatusOK || res.State != orchestrator.StateErrorStale {
		t.Fatalf("Stale request: status=%d state=%s", res.Status, res.State)
	}
	if res.Body != first.Body {
		t.Error("Stale body differs from last rendered feed")
	}
	if res.Header.Get("X-Cache") != cache.StatusStale || res.Header.Get("Warning") == "" {
		t.Errorf("Stale headers: x-cache=%q warning=%q", res.Header.Get("X-Cache"), res.Header.Get("Warning"))
	}
	if got := s.upstream.GetPathCount(itemsPath); got != 2 {
		t.Errorf("Upstream attempts = %d, want 2 (one retry)", got)
	}
}

// TestFatalWithoutCache verifies a 500 JSON error when nothing is cached.
func TestFatalWithoutCache(t *testing.T) {
	s := newStack(t, setupRedis(t), "fatal:", nil)
	s.upstream.SetResponse(itemsPath, testutil.NewServerErrorResponse())

	res := s.serve(t, "news", "rss", "")
	if res.Status != http.StatusInternalServerError || res.State != orchestrator.StateErrorFatal {
		t.Fatalf("status=%d state=%s", res.Status, res.State)
	}
	if !strings.Contains(res.Body, "Failed to generate feed") {
		t.Errorf("Unexpected error body %q", res.Body)
	}
}

// TestPersistenceAcrossInstances verifies a second process sharing the Redis
// prefix serves from cache without contacting upstream.
func TestPersistenceAcrossInstances(t *testing.T) {
	addr := setupRedis(t)

	a := newStack(t, addr, "shared:", nil)
	a.upstream.SetHandler(itemsPath, testutil.NewItemPagesHandler(page(article("1", 100))))
	first := a.serve(t, "news", "rss", "")
	if first.Status != http.StatusOK {
		t.Fatalf("Initial request failed: %v", first.Err)
	}

	b := newStack(t, addr, "shared:", nil)
	res := b.serve(t, "news", "rss", first.Header.Get("ETag"))
	if res.Status != http.StatusNotModified {
		t.Errorf("Second instance: status=%d, want 304", res.Status)
	}
	if got := b.upstream.GetRequestCount(); got != 0 {
		t.Errorf("Second instance contacted upstream %d times", got)
	}

	other := newStack(t, addr, "isolated:", nil)
	other.upstream.SetHandler(itemsPath, testutil.NewItemPagesHandler(page(article("9", 900))))
	if res := other.serve(t, "news", "rss", ""); res.State != orchestrator.StateColdMiss {
		t.Errorf("Separate prefix: state=%s, want cold miss", res.State)
	}
}

// TestImageEnrichment verifies gateway probing and the image metadata cache.
func TestImageEnrichment(t *testing.T) {
	gateway := testutil.NewMockServer()
	defer gateway.Close()
	png := testutil.PNG(64, 32)
	gateway.SetHandler("/tx-1", testutil.NewImageHandler("image/png", png, true))
	gateway.SetResponse("/tx-2", testutil.MockResponse{StatusCode: http.StatusOK, Body: "plain text", Headers: map[string]string{"Content-Type": "text/plain"}})

	s := newStack(t, setupRedis(t), "images:", gateway)
	s.upstream.SetHandler(itemsPath, testutil.NewItemPagesHandler(page(article("1", 100), article("2", 200))))

	res := s.serve(t, "gallery", "rss", "")
	if res.Status != http.StatusOK {
		t.Fatalf("status=%d err=%v", res.Status, res.Err)
	}
	if !strings.Contains(res.Body, `type="image/png"`) {
		t.Errorf("Expected PNG enclosure in feed:\n%s", res.Body)
	}

	ctx := context.Background()
	img, err := s.cache.GetImageMetadata(ctx, "tx-1")
	if err != nil {
		t.Fatalf("GetImageMetadata(tx-1) error = %v", err)
	}
	if !img.IsImage || img.Width != 64 || img.Height != 32 {
		t.Errorf("tx-1 metadata = %+v", img.ImageMetadata)
	}
	txt, err := s.cache.GetImageMetadata(ctx, "tx-2")
	if err != nil {
		t.Fatalf("GetImageMetadata(tx-2) error = %v", err)
	}
	if txt.IsImage {
		t.Error("tx-2 should be cached as non-image")
	}

	// The plain collection shares the schema but renders without enclosures.
	plain := s.serve(t, "news", "rss", "")
	if strings.Contains(plain.Body, "enclosure") {
		t.Error("Collection without enrichment rendered enclosures")
	}
}

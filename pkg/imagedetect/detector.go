// Package imagedetect probes content gateways to find out whether a
// transaction id resolves to an image, and if so, its type and dimensions.
//
// Gateways are tried in priority order. The first gateway that gives a
// definitive answer wins, including a definitive "not an image". Network
// errors, timeouts and 5xx responses advance to the next gateway.
//
// Per gateway the detector issues a HEAD request to read the Content-Type.
// Only image types are followed by a ranged GET of the first 8 KiB, which is
// enough for the header sniffers of the common formats. A server that rejects
// range requests gets a full GET capped at MaxBodyBytes.
package imagedetect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/feedcache/pkg/item"
	"github.com/Sternrassler/feedcache/pkg/logging"
)

// DefaultRangeBytes is the size of the ranged header fetch.
const DefaultRangeBytes = 8192

var (
	// ErrAllGatewaysFailed is returned by Detect when no gateway answered.
	ErrAllGatewaysFailed = errors.New("all gateways failed")

	// ErrNoGateways is returned by New when the gateway list is empty.
	ErrNoGateways = errors.New("at least one gateway is required")
)

// Config holds the detector configuration.
type Config struct {
	// Gateways are base URLs in priority order, e.g. "https://arweave.net".
	Gateways []string

	// Timeout bounds every single outbound call.
	Timeout time.Duration

	// MaxBodyBytes caps the full GET fallback.
	MaxBodyBytes int64

	// RangeBytes is the size of the ranged GET. Defaults to DefaultRangeBytes.
	RangeBytes int64

	UserAgent string
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		Gateways:     []string{"https://arweave.net"},
		Timeout:      5 * time.Second,
		MaxBodyBytes: 10 << 20,
		RangeBytes:   DefaultRangeBytes,
		UserAgent:    "feedcache",
	}
}

// Detector probes gateways for image metadata.
type Detector struct {
	httpClient *http.Client
	cfg        Config
	logger     zerolog.Logger
}

// New creates a detector. A nil httpClient uses a client without its own
// timeout; Config.Timeout is enforced per call via context.
func New(cfg Config, httpClient *http.Client) (*Detector, error) {
	if len(cfg.Gateways) == 0 {
		return nil, ErrNoGateways
	}
	gateways := make([]string, 0, len(cfg.Gateways))
	for _, gw := range cfg.Gateways {
		u, err := url.Parse(gw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid gateway %q", gw)
		}
		gateways = append(gateways, strings.TrimRight(gw, "/"))
	}
	cfg.Gateways = gateways
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.RangeBytes <= 0 {
		cfg.RangeBytes = DefaultRangeBytes
	}
	if cfg.MaxBodyBytes < cfg.RangeBytes {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Detector{
		httpClient: httpClient,
		cfg:        cfg,
		logger:     logging.NewLogger("imagedetect"),
	}, nil
}

// DetectImage returns the image metadata of txID. It never fails: when every
// gateway is unreachable the result is a non-image anchored to the first
// gateway's URL.
func (d *Detector) DetectImage(ctx context.Context, txID string) item.ImageMetadata {
	meta, _ := d.Detect(ctx, txID)
	return meta
}

// Detect is DetectImage with the failure reported. When the error is
// ErrAllGatewaysFailed the returned metadata is the non-image fallback and
// should not be cached.
func (d *Detector) Detect(ctx context.Context, txID string) (item.ImageMetadata, error) {
	start := time.Now()
	defer func() {
		DetectionDuration.Observe(time.Since(start).Seconds())
	}()

	for _, gw := range d.cfg.Gateways {
		if ctx.Err() != nil {
			break
		}

		meta, err := d.probe(ctx, gw, txID)
		if err != nil {
			GatewayProbes.WithLabelValues(gatewayLabel(gw), "error").Inc()
			d.logger.Warn().
				Err(err).
				Str("gateway", gw).
				Str("tx_id", txID).
				Msg("Gateway probe failed, trying next")
			continue
		}

		outcome := "not_image"
		if meta.IsImage {
			outcome = "image"
		}
		GatewayProbes.WithLabelValues(gatewayLabel(gw), outcome).Inc()
		d.logger.Debug().
			Str("gateway", gw).
			Str("tx_id", txID).
			Bool("is_image", meta.IsImage).
			Str("mime_type", meta.MimeType).
			Dur("duration", time.Since(start)).
			Msg("Image detected")
		return meta, nil
	}

	return item.ImageMetadata{
		IsImage: false,
		URL:     resourceURL(d.cfg.Gateways[0], txID),
	}, fmt.Errorf("detect %s: %w", txID, ErrAllGatewaysFailed)
}

// probe runs the detection against a single gateway. A returned error means
// the gateway gave no definitive answer.
func (d *Detector) probe(ctx context.Context, gateway, txID string) (item.ImageMetadata, error) {
	target := resourceURL(gateway, txID)
	meta := item.ImageMetadata{URL: target}

	resp, err := d.do(ctx, http.MethodHead, target, nil)
	if err != nil {
		return meta, err
	}
	resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	switch {
	case resp.StatusCode >= 500:
		return meta, fmt.Errorf("HEAD %s: status %d", target, resp.StatusCode)
	case resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented:
		// No HEAD support; let the GET report the type.
		contentType = ""
	case resp.StatusCode >= 400:
		return meta, nil
	}

	mt := mediaType(contentType)
	if contentType != "" && !isImageType(mt) {
		return meta, nil
	}
	if resp.ContentLength > 0 {
		meta.Size = resp.ContentLength
	}

	return d.fetchHeader(ctx, target, mt, meta)
}

// fetchHeader reads the start of the resource to extract dimensions.
// mt is empty when the HEAD request gave no usable Content-Type.
func (d *Detector) fetchHeader(ctx context.Context, target, mt string, meta item.ImageMetadata) (item.ImageMetadata, error) {
	rangeHeader := "bytes=0-" + strconv.FormatInt(d.cfg.RangeBytes-1, 10)

	resp, err := d.do(ctx, http.MethodGet, target, map[string]string{"Range": rangeHeader})
	if err != nil {
		if mt == "" {
			return meta, err
		}
		// The type is already known to be an image.
		return imageOnly(meta, mt), nil
	}

	var (
		buf     []byte
		partial bool
	)
	switch {
	case resp.StatusCode == http.StatusPartialContent:
		buf, err = readLimited(resp.Body, d.cfg.RangeBytes)
		resp.Body.Close()
		partial = true
		if total := totalFromContentRange(resp.Header.Get("Content-Range")); total > 0 {
			meta.Size = total
		}
	case resp.StatusCode == http.StatusOK:
		// Range ignored; the first bytes of the full body are enough.
		buf, err = readLimited(resp.Body, d.cfg.RangeBytes)
		resp.Body.Close()
		if resp.ContentLength > 0 {
			meta.Size = resp.ContentLength
		}
	case resp.StatusCode >= 500 && mt == "":
		resp.Body.Close()
		return meta, fmt.Errorf("GET %s: status %d", target, resp.StatusCode)
	case resp.StatusCode >= 400:
		resp.Body.Close()
		RangeFallbacks.Inc()
		return d.fetchFull(ctx, target, mt, meta)
	default:
		resp.Body.Close()
	}

	if mt == "" {
		mt = mediaType(resp.Header.Get("Content-Type"))
		if !isImageType(mt) {
			return meta, nil
		}
	}
	if err != nil {
		return imageOnly(meta, mt), nil
	}

	if dims, ok := sniff(buf); ok {
		return withDimensions(meta, mt, dims), nil
	}
	if partial && meta.Size > int64(len(buf)) && meta.Size <= d.cfg.MaxBodyBytes {
		// Header did not fit into the range, e.g. large EXIF blocks.
		RangeFallbacks.Inc()
		return d.fetchFull(ctx, target, mt, meta)
	}
	return imageOnly(meta, mt), nil
}

// fetchFull downloads up to MaxBodyBytes of the resource.
func (d *Detector) fetchFull(ctx context.Context, target, mt string, meta item.ImageMetadata) (item.ImageMetadata, error) {
	resp, err := d.do(ctx, http.MethodGet, target, nil)
	if err != nil {
		if mt == "" {
			return meta, err
		}
		return imageOnly(meta, mt), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if mt == "" {
			if resp.StatusCode >= 500 {
				return meta, fmt.Errorf("GET %s: status %d", target, resp.StatusCode)
			}
			return meta, nil
		}
		return imageOnly(meta, mt), nil
	}

	if mt == "" {
		mt = mediaType(resp.Header.Get("Content-Type"))
		if !isImageType(mt) {
			return meta, nil
		}
	}
	if resp.ContentLength > 0 {
		meta.Size = resp.ContentLength
	}

	buf, err := readLimited(resp.Body, d.cfg.MaxBodyBytes)
	if err != nil {
		return imageOnly(meta, mt), nil
	}
	if meta.Size == 0 {
		meta.Size = int64(len(buf))
	}
	if dims, ok := sniff(buf); ok {
		return withDimensions(meta, mt, dims), nil
	}
	return imageOnly(meta, mt), nil
}

// do issues one request bounded by the configured timeout. The caller closes
// the body; the timeout stays armed until the body is closed or read to EOF.
func (d *Detector) do(ctx context.Context, method, target string, headers map[string]string) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create request: %w", err)
	}
	if d.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", d.cfg.UserAgent)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func readLimited(r io.Reader, n int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, n))
}

func imageOnly(meta item.ImageMetadata, mt string) item.ImageMetadata {
	meta.IsImage = true
	meta.MimeType = mt
	meta.Format = formatFromType(mt)
	return meta
}

func withDimensions(meta item.ImageMetadata, mt string, dims dimensions) item.ImageMetadata {
	meta = imageOnly(meta, mt)
	meta.Width = dims.Width
	meta.Height = dims.Height
	if dims.Format != "" {
		meta.Format = dims.Format
	}
	return meta
}

func resourceURL(gateway, txID string) string {
	return gateway + "/" + url.PathEscape(txID)
}

// gatewayLabel keeps metric cardinality to the configured hosts.
func gatewayLabel(gateway string) string {
	if u, err := url.Parse(gateway); err == nil && u.Host != "" {
		return u.Host
	}
	return gateway
}

package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	upstreamRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feedcache_upstream_ratelimit_remaining",
		Help: "Requests remaining in the current upstream rate limit window",
	})

	rateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedcache_upstream_ratelimit_blocks_total",
		Help: "Total number of requests blocked due to a critical rate limit",
	})

	rateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedcache_upstream_ratelimit_throttles_total",
		Help: "Total number of requests throttled due to a low rate limit",
	})
)

// DefaultThrottleDelay is the pause applied to requests in warning state.
const DefaultThrottleDelay = time.Second

// Tracker monitors the upstream rate limit and gates requests.
// The state is process-local.
type Tracker struct {
	mu     sync.RWMutex
	state  State
	known  bool
	logger zerolog.Logger

	// ThrottleDelay is the pause applied in warning state.
	ThrottleDelay time.Duration
}

// NewTracker creates a new rate limit tracker.
func NewTracker(logger zerolog.Logger) *Tracker {
	return &Tracker{
		logger:        logger,
		ThrottleDelay: DefaultThrottleDelay,
	}
}

// GetState returns the current state. Until the first response headers are
// seen the state is a default healthy one.
func (t *Tracker) GetState() State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.known {
		return State{
			Remaining:  100,
			ResetAt:    time.Now().Add(60 * time.Second),
			LastUpdate: time.Now(),
			IsHealthy:  true,
		}
	}
	return t.state
}

// UpdateFromHeaders parses the rate limit headers of a response.
// Responses without the headers leave the state untouched.
func (t *Tracker) UpdateFromHeaders(headers http.Header) error {
	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	resetStr := headers.Get(HeaderReset)
	if resetStr == "" {
		return fmt.Errorf("%s header missing", HeaderReset)
	}

	resetSeconds, err := strconv.Atoi(resetStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderReset, err)
	}

	now := time.Now()
	state := State{
		Remaining:  remain,
		ResetAt:    now.Add(time.Duration(resetSeconds) * time.Second),
		LastUpdate: now,
	}
	state.UpdateHealth()

	t.mu.Lock()
	t.state = state
	t.known = true
	t.mu.Unlock()

	upstreamRemaining.Set(float64(remain))

	switch {
	case state.NeedsCriticalBlock():
		t.logger.Error().
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Upstream rate limit CRITICAL - requests will be blocked")
	case state.NeedsThrottling():
		t.logger.Warn().
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Upstream rate limit WARNING - requests will be throttled")
	default:
		t.logger.Debug().
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Bool("is_healthy", state.IsHealthy).
			Msg("Upstream rate limit state updated")
	}

	return nil
}

// ShouldAllowRequest reports whether a request may be sent now.
// Returns false while the budget is critical and the window has not reset.
// In warning state the call sleeps for ThrottleDelay, honouring ctx.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state := t.GetState()

	if state.NeedsCriticalBlock() {
		waitDuration := state.TimeUntilReset()
		if waitDuration > 0 {
			t.logger.Error().
				Int("remaining", state.Remaining).
				Dur("wait_duration", waitDuration).
				Msg("Upstream rate limit critical - blocking request")

			rateLimitBlocksTotal.Inc()
			return false, nil
		}
		// Window has reset; let the next response refresh the state.
		return true, nil
	}

	if state.NeedsThrottling() && t.ThrottleDelay > 0 {
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Msg("Upstream rate limit warning - throttling request")

		rateLimitThrottlesTotal.Inc()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(t.ThrottleDelay):
		}
	}

	return true, nil
}

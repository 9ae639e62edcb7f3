package pipeline

import (
	"context"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pedeee/ticketwatch/internal/metrics"
)

// Pacer spaces fetches per host so a run over one venue's catalog does
// not hammer that origin. Each host gets its own token bucket plus a
// small random jitter on top.
type Pacer struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	interval time.Duration
	jitter   func() time.Duration
}

// NewPacer builds a pacer with the given minimum interval between
// requests to one host. A zero interval disables pacing.
func NewPacer(interval time.Duration) *Pacer {
	p := &Pacer{
		limiters: make(map[string]*rate.Limiter),
		interval: interval,
	}
	p.jitter = func() time.Duration {
		if interval <= 0 {
			return 0
		}
		return time.Duration(rand.Int63n(int64(interval/2) + 1))
	}
	return p
}

// Wait blocks until the host's bucket grants a slot, then applies
// jitter. Returns early on context cancellation.
func (p *Pacer) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	limiter := p.limiterFor(host)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return err
	}
	if j := p.jitter(); j > 0 {
		t := time.NewTimer(j)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	metrics.ObservePaceDelay(host, time.Since(start))
	return nil
}

func (p *Pacer) limiterFor(host string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	limiter, ok := p.limiters[host]
	if !ok {
		limit := rate.Inf
		if p.interval > 0 {
			limit = rate.Every(p.interval)
		}
		limiter = rate.NewLimiter(limit, 1)
		p.limiters[host] = limiter
	}
	return limiter
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}

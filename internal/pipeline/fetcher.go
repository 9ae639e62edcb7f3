package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pedeee/ticketwatch/internal/extract"
	"github.com/pedeee/ticketwatch/internal/fetch"
	"github.com/pedeee/ticketwatch/internal/metrics"
	"github.com/pedeee/ticketwatch/internal/state"
	"github.com/pedeee/ticketwatch/internal/status"
)

// Hooks observes the fetch stream as results land. Both callbacks run
// on the collector goroutine, never concurrently.
type Hooks struct {
	OnResult     func(url string, st status.EventStatus, page []byte)
	OnCheckpoint func(partial state.State)
}

// FetcherConfig tunes the concurrent fetch loop.
type FetcherConfig struct {
	Concurrency     int
	ProgressEvery   int
	CheckpointEvery int
}

// Fetcher drives the concurrent fetch-extract stage: a goroutine per
// URL under a semaphore ceiling, per-host pacing, bounded retries, and
// a single collector merging results.
type Fetcher struct {
	client    fetch.Client
	extractor *extract.Extractor
	pacer     *Pacer
	retry     RetryPolicy
	cfg       FetcherConfig
	log       *zap.Logger
}

// NewFetcher wires the fetch stage together.
func NewFetcher(client fetch.Client, extractor *extract.Extractor, pacer *Pacer, retry RetryPolicy, cfg FetcherConfig, log *zap.Logger) *Fetcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Fetcher{
		client:    client,
		extractor: extractor,
		pacer:     pacer,
		retry:     retry,
		cfg:       cfg,
		log:       log,
	}
}

type outcome struct {
	url  string
	st   status.EventStatus
	page []byte
	fail *state.Failure
}

// FetchAll retrieves every URL, returning extracted statuses and the
// failures for URLs whose attempts were exhausted. A canceled context
// stops new work and records the rest as canceled; results gathered so
// far are still returned.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string, hooks Hooks) (map[string]status.EventStatus, map[string]state.Failure) {
	results := make(map[string]status.EventStatus, len(urls))
	failures := make(map[string]state.Failure)
	if len(urls) == 0 {
		return results, failures
	}

	outcomes := make(chan outcome)
	sem := make(chan struct{}, f.cfg.Concurrency)
	var wg sync.WaitGroup

	for _, u := range urls {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				outcomes <- f.failure(u, ctx.Err())
				return
			}
			metrics.IncInFlight()
			defer func() {
				metrics.DecInFlight()
				<-sem
			}()
			outcomes <- f.fetchOne(ctx, u)
		}(u)
	}
	go func() {
		wg.Wait()
		close(outcomes)
	}()

	var completed, succeeded int
	start := time.Now()
	for out := range outcomes {
		completed++
		if out.fail != nil {
			failures[out.url] = *out.fail
			metrics.ObserveFailure(string(out.fail.Reason))
		} else {
			results[out.url] = out.st
			succeeded++
			if hooks.OnResult != nil {
				hooks.OnResult(out.url, out.st, out.page)
			}
			if f.cfg.CheckpointEvery > 0 && succeeded%f.cfg.CheckpointEvery == 0 && hooks.OnCheckpoint != nil {
				partial := make(state.State, len(results))
				for u, st := range results {
					partial[u] = st
				}
				hooks.OnCheckpoint(partial)
			}
		}
		if f.cfg.ProgressEvery > 0 && completed%f.cfg.ProgressEvery == 0 {
			f.log.Info("fetch progress",
				zap.Int("completed", completed),
				zap.Int("total", len(urls)),
				zap.Float64("success_rate", float64(succeeded)/float64(completed)),
				zap.Float64("urls_per_min", float64(completed)/time.Since(start).Minutes()),
			)
		}
	}
	return results, failures
}

// fetchOne runs the bounded attempt loop for a single URL.
func (f *Fetcher) fetchOne(ctx context.Context, rawURL string) outcome {
	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := f.pacer.Wait(ctx, rawURL); err != nil {
			return f.failure(rawURL, err)
		}

		start := time.Now()
		res, err := f.client.Fetch(ctx, rawURL)
		transport := ""
		if res != nil {
			transport = res.Transport
		}
		metrics.ObserveFetch(rawURL, transport, err, time.Since(start))

		if err == nil {
			st := f.extractor.Extract(res.Body)
			f.log.Debug("fetched",
				zap.String("url", rawURL),
				zap.String("transport", transport),
				zap.Int("attempt", attempt),
				zap.String("status", status.FormatStatus(st)),
			)
			return outcome{url: rawURL, st: st, page: res.Body}
		}

		lastErr = err
		if ctx.Err() != nil || !f.retry.ShouldRetry(err, attempt) {
			break
		}
		reason := fetch.Classify(err)
		metrics.ObserveRetry(string(reason))
		f.log.Debug("retrying fetch",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.String("reason", string(reason)),
			zap.Error(err),
		)
		if err := sleepCtx(ctx, f.retry.Backoff(attempt)); err != nil {
			return f.failure(rawURL, err)
		}
	}
	return f.failure(rawURL, lastErr)
}

func (f *Fetcher) failure(rawURL string, err error) outcome {
	reason := fetch.Classify(err)
	f.log.Warn("fetch failed",
		zap.String("url", rawURL),
		zap.String("reason", string(reason)),
		zap.Error(err),
	)
	return outcome{url: rawURL, fail: &state.Failure{
		Reason:    reason,
		Detail:    err.Error(),
		Timestamp: time.Now(),
	}}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

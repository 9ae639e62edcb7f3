package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pedeee/ticketwatch/internal/extract"
	"github.com/pedeee/ticketwatch/internal/fetch"
	"github.com/pedeee/ticketwatch/internal/state"
	"github.com/pedeee/ticketwatch/internal/status"
)

var errTransient = errors.New("connection reset")

const pricedPage = `<html><head><title>Alpha Night</title></head>
<body><h1>Alpha Night</h1><p>Tickets $45.00</p>
<select name="quantity"><option>1</option><option>2</option></select>
</body></html>`

// scriptedClient fails the first failFirst attempts per URL, then
// serves the configured page. It tracks per-URL attempt counts and the
// highest number of concurrent Fetch calls it observed.
type scriptedClient struct {
	mu        sync.Mutex
	attempts  map[string]int
	failFirst map[string]int

	delay time.Duration
	body  []byte

	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func newScriptedClient(body string) *scriptedClient {
	return &scriptedClient{
		attempts:  make(map[string]int),
		failFirst: make(map[string]int),
		body:      []byte(body),
	}
}

func (c *scriptedClient) Fetch(ctx context.Context, rawURL string) (*fetch.Result, error) {
	cur := c.inFlight.Add(1)
	for {
		seen := c.maxSeen.Load()
		if cur <= seen || c.maxSeen.CompareAndSwap(seen, cur) {
			break
		}
	}
	defer c.inFlight.Add(-1)

	if c.delay > 0 {
		t := time.NewTimer(c.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	c.mu.Lock()
	c.attempts[rawURL]++
	n := c.attempts[rawURL]
	limit := c.failFirst[rawURL]
	c.mu.Unlock()

	if n <= limit {
		return nil, &fetch.Error{Reason: fetch.ReasonTransport, URL: rawURL, Err: errTransient}
	}
	return &fetch.Result{FinalURL: rawURL, StatusCode: 200, Body: c.body, Transport: fetch.TransportColly}, nil
}

func (c *scriptedClient) attemptCount(rawURL string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts[rawURL]
}

func quickRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func newTestFetcher(client fetch.Client, retry RetryPolicy, cfg FetcherConfig) *Fetcher {
	return NewFetcher(client, extract.New(extract.DefaultConfig(), nil), NewPacer(0), retry, cfg, nil)
}

func eventURLs(n int) []string {
	urls := make([]string, n)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://tix.example/ev/%03d", i)
	}
	return urls
}

func TestFetchAllExtractsEveryURL(t *testing.T) {
	t.Parallel()

	client := newScriptedClient(pricedPage)
	f := newTestFetcher(client, quickRetry(), FetcherConfig{Concurrency: 4})

	urls := eventURLs(8)
	results, failures := f.FetchAll(context.Background(), urls, Hooks{})

	require.Empty(t, failures)
	require.Len(t, results, len(urls))
	for _, u := range urls {
		st := results[u]
		require.Equal(t, "Alpha Night", st.Title)
		require.Equal(t, "$45.00", status.FormatStatus(st))
	}
}

func TestFetchAllRespectsConcurrencyCeiling(t *testing.T) {
	t.Parallel()

	client := newScriptedClient(pricedPage)
	client.delay = 20 * time.Millisecond
	f := newTestFetcher(client, quickRetry(), FetcherConfig{Concurrency: 3})

	results, failures := f.FetchAll(context.Background(), eventURLs(20), Hooks{})

	require.Empty(t, failures)
	require.Len(t, results, 20)
	require.LessOrEqual(t, client.maxSeen.Load(), int32(3))
}

func TestFetchAllRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	client := newScriptedClient(pricedPage)
	url := "https://tix.example/ev/flaky"
	client.failFirst[url] = 2
	f := newTestFetcher(client, quickRetry(), FetcherConfig{Concurrency: 1})

	results, failures := f.FetchAll(context.Background(), []string{url}, Hooks{})

	require.Empty(t, failures)
	require.Len(t, results, 1)
	require.Equal(t, 3, client.attemptCount(url))
}

func TestFetchAllRecordsExhaustedFailures(t *testing.T) {
	t.Parallel()

	client := newScriptedClient(pricedPage)
	dead := "https://tix.example/ev/dead"
	client.failFirst[dead] = 99
	f := newTestFetcher(client, quickRetry(), FetcherConfig{Concurrency: 2})

	urls := append(eventURLs(3), dead)
	results, failures := f.FetchAll(context.Background(), urls, Hooks{})

	require.Len(t, results, 3)
	require.Len(t, failures, 1)
	fail := failures[dead]
	require.Equal(t, fetch.ReasonTransport, fail.Reason)
	require.Contains(t, fail.Detail, "connection reset")
	require.False(t, fail.Timestamp.IsZero())
	require.Equal(t, 3, client.attemptCount(dead))
}

func TestFetchAllCheckpointCadence(t *testing.T) {
	t.Parallel()

	client := newScriptedClient(pricedPage)
	f := newTestFetcher(client, quickRetry(), FetcherConfig{Concurrency: 1, CheckpointEvery: 4})

	var sizes []int
	hooks := Hooks{OnCheckpoint: func(partial state.State) {
		sizes = append(sizes, len(partial))
	}}
	results, failures := f.FetchAll(context.Background(), eventURLs(10), hooks)

	require.Empty(t, failures)
	require.Len(t, results, 10)
	require.Equal(t, []int{4, 8}, sizes)
}

func TestFetchAllOnResultReceivesPage(t *testing.T) {
	t.Parallel()

	client := newScriptedClient(pricedPage)
	f := newTestFetcher(client, quickRetry(), FetcherConfig{Concurrency: 1})

	var gotURL string
	var gotPage []byte
	hooks := Hooks{OnResult: func(u string, st status.EventStatus, page []byte) {
		gotURL = u
		gotPage = page
	}}
	url := "https://tix.example/ev/one"
	_, failures := f.FetchAll(context.Background(), []string{url}, hooks)

	require.Empty(t, failures)
	require.Equal(t, url, gotURL)
	require.Equal(t, []byte(pricedPage), gotPage)
}

func TestFetchAllCancelReturnsPartialResults(t *testing.T) {
	t.Parallel()

	client := newScriptedClient(pricedPage)
	client.delay = 50 * time.Millisecond
	f := newTestFetcher(client, quickRetry(), FetcherConfig{Concurrency: 2})

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	urls := eventURLs(30)
	results, failures := f.FetchAll(ctx, urls, Hooks{})

	require.Equal(t, len(urls), len(results)+len(failures))
	require.NotEmpty(t, results)
	require.NotEmpty(t, failures)
	for _, fail := range failures {
		require.Equal(t, fetch.ReasonCanceled, fail.Reason)
	}
}

func TestFetchAllEmptyInput(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(newScriptedClient(pricedPage), quickRetry(), FetcherConfig{})
	results, failures := f.FetchAll(context.Background(), nil, Hooks{})
	require.Empty(t, results)
	require.Empty(t, failures)
}

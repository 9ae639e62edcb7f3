package pipeline

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/pedeee/ticketwatch/internal/extract"
	"github.com/pedeee/ticketwatch/internal/fetch"
	"github.com/pedeee/ticketwatch/internal/state"
	"github.com/pedeee/ticketwatch/internal/status"
)

const (
	alphaPage = `<html><head><title>Alpha Night</title></head>
<body><h1>Alpha Night</h1>
<time datetime="2026-07-12">July 12, 2026</time>
<p>Tickets $45.00</p>
<select name="quantity"><option>1</option><option>2</option></select>
</body></html>`

	betaPage = `<html><head><title>Beta Gala</title></head>
<body><h1>Beta Gala</h1>
<div class="banner">This show is currently sold out.</div>
</body></html>`

	gammaPage = `<html><head><title>Gamma Show</title></head>
<body><h1>Gamma Show</h1>
<p>Tickets $30.00</p>
<select name="quantity"><option>1</option></select>
</body></html>`
)

// routedClient serves a fixed page or error per URL.
type routedClient struct {
	mu    sync.Mutex
	pages map[string]string
	errs  map[string]error
	calls map[string]int
}

func newRoutedClient() *routedClient {
	return &routedClient{
		pages: make(map[string]string),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (c *routedClient) Fetch(ctx context.Context, rawURL string) (*fetch.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.calls[rawURL]++
	err := c.errs[rawURL]
	body, ok := c.pages[rawURL]
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &fetch.Error{Reason: fetch.ReasonStatus, URL: rawURL, StatusCode: 404}
	}
	return &fetch.Result{FinalURL: rawURL, StatusCode: 200, Body: []byte(body), Transport: fetch.TransportColly}, nil
}

type memNotifier struct {
	mu      sync.Mutex
	pushes  int
	changes []status.Change
	sums    []RunSummary
}

func (n *memNotifier) Push(_ context.Context, changes []status.Change, sum RunSummary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pushes++
	n.changes = append(n.changes, changes...)
	n.sums = append(n.sums, sum)
	return nil
}

type memPublisher struct {
	mu         sync.Mutex
	publishes  int
	failedURLs []string
	changed    int
}

func (p *memPublisher) Publish(_ context.Context, sum RunSummary, changes []status.Change, failedURLs []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publishes++
	p.failedURLs = append(p.failedURLs, failedURLs...)
	p.changed = len(changes)
	return nil
}

type memArchiver struct {
	mu    sync.Mutex
	saved map[string][]byte
}

func newMemArchiver() *memArchiver { return &memArchiver{saved: make(map[string][]byte)} }

func (a *memArchiver) Save(_ context.Context, rawURL string, page []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saved[rawURL] = append([]byte(nil), page...)
	return nil
}

type memRecorder struct {
	mu      sync.Mutex
	records int
	sums    []RunSummary
}

func (r *memRecorder) RecordRun(_ context.Context, sum RunSummary, _ []status.Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records++
	r.sums = append(r.sums, sum)
	return nil
}

type engineFixture struct {
	urlFile  string
	store    *state.FileStore
	notifier *memNotifier
	pub      *memPublisher
	arch     *memArchiver
	rec      *memRecorder
}

func newEngineFixture(t *testing.T, urls []string) *engineFixture {
	t.Helper()
	dir := t.TempDir()
	urlFile := filepath.Join(dir, "urls.txt")
	if urls != nil {
		require.NoError(t, state.SaveURLs(urlFile, urls))
	}
	return &engineFixture{
		urlFile:  urlFile,
		store:    state.NewFileStore(filepath.Join(dir, "state.json"), filepath.Join(dir, "failed.json"), nil),
		notifier: &memNotifier{},
		pub:      &memPublisher{},
		arch:     newMemArchiver(),
		rec:      &memRecorder{},
	}
}

func (fx *engineFixture) engine(client fetch.Client, retry RetryPolicy, cfg EngineConfig) *Engine {
	cfg.URLFile = fx.urlFile
	fetcher := NewFetcher(client, extract.New(extract.DefaultConfig(), nil), NewPacer(0), retry, FetcherConfig{Concurrency: 2}, nil)
	return NewEngine(cfg, EngineDeps{
		Store:     fx.store,
		Selector:  NewSelector(rand.New(rand.NewSource(1))),
		Fetcher:   fetcher,
		Notifiers: []Notifier{fx.notifier},
		Publisher: fx.pub,
		Snapshots: fx.arch,
		History:   fx.rec,
	})
}

func TestEngineRunDetectsChanges(t *testing.T) {
	t.Parallel()

	urlA := "https://tix.example/ev/alpha"
	urlB := "https://tix.example/ev/beta"
	urlC := "https://tix.example/ev/gamma"
	fx := newEngineFixture(t, []string{urlA, urlB, urlC})

	require.NoError(t, fx.store.SaveState(state.State{
		urlA: {Title: "Alpha Night", Price: status.NewPrice(decimal.RequireFromString("30.00"))},
		urlC: {Title: "Gamma Show", Price: status.NewPrice(decimal.RequireFromString("30.00"))},
	}))

	client := newRoutedClient()
	client.pages[urlA] = alphaPage
	client.pages[urlB] = betaPage
	client.pages[urlC] = gammaPage

	eng := fx.engine(client, quickRetry(), EngineConfig{})
	report, err := eng.Run(context.Background())
	require.NoError(t, err)

	// Dated change first, undated after.
	require.Len(t, report.Changes, 2)
	require.Equal(t, urlA, report.Changes[0].URL)
	require.Equal(t, "$30.00", report.Changes[0].OldStatus)
	require.Equal(t, "$45.00", report.Changes[0].NewStatus)
	require.NotNil(t, report.Changes[0].EventDate)
	require.Equal(t, urlB, report.Changes[1].URL)
	require.Equal(t, "unknown", report.Changes[1].OldStatus)
	require.Equal(t, "SOLD OUT", report.Changes[1].NewStatus)
	require.Nil(t, report.Changes[1].EventDate)

	sum := report.Summary
	require.NotEqual(t, uuid.Nil, sum.RunID)
	require.Equal(t, 3, sum.Selected)
	require.Equal(t, 3, sum.Succeeded)
	require.Equal(t, 0, sum.Failed)
	require.Equal(t, 2, sum.Changed)
	require.False(t, sum.Interrupted)
	require.False(t, sum.FinishedAt.Before(sum.StartedAt))

	persisted, err := fx.store.LoadState()
	require.NoError(t, err)
	require.Equal(t, "$45.00", status.FormatStatus(persisted[urlA]))
	require.Equal(t, "SOLD OUT", status.FormatStatus(persisted[urlB]))
	require.Equal(t, "$30.00", status.FormatStatus(persisted[urlC]))

	raw, err := os.ReadFile(fx.urlFile)
	require.NoError(t, err)
	sorted := string(raw)
	require.Contains(t, sorted, "# === July 2026 ===")
	require.Contains(t, sorted, urlA+"  # Alpha Night - Jul 12")
	require.Contains(t, sorted, "# === Events without dates ===")
	require.Contains(t, sorted, urlB+"  # Beta Gala - No date found")

	require.Equal(t, 1, fx.notifier.pushes)
	require.Len(t, fx.notifier.changes, 2)
	require.Equal(t, sum.RunID, fx.notifier.sums[0].RunID)
	require.Equal(t, 1, fx.pub.publishes)
	require.Empty(t, fx.pub.failedURLs)
	require.Equal(t, 2, fx.pub.changed)
	require.Equal(t, 1, fx.rec.records)

	// Only the changed pages are archived.
	require.Len(t, fx.arch.saved, 2)
	require.Equal(t, []byte(alphaPage), fx.arch.saved[urlA])
	require.Equal(t, []byte(betaPage), fx.arch.saved[urlB])
}

func TestEngineRunRecordsFailures(t *testing.T) {
	t.Parallel()

	good := "https://tix.example/ev/good"
	bad := "https://tix.example/ev/bad"
	fx := newEngineFixture(t, []string{good, bad})

	require.NoError(t, fx.store.SaveState(state.State{
		bad: {Title: "Bad Gig", Price: status.NewPrice(decimal.RequireFromString("20.00"))},
	}))

	client := newRoutedClient()
	client.pages[good] = gammaPage
	client.errs[bad] = &fetch.Error{Reason: fetch.ReasonTransport, URL: bad, Err: errTransient}

	once := RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	report, err := fx.engine(client, once, EngineConfig{}).Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, report.Summary.Succeeded)
	require.Equal(t, 1, report.Summary.Failed)
	require.Len(t, report.Failures, 1)
	require.Equal(t, fetch.ReasonTransport, report.Failures[bad].Reason)

	// Failed URLs become next run's priorities, and the stale entry is
	// kept rather than dropped.
	require.Equal(t, []string{bad}, fx.store.LoadFailedURLs())
	require.Equal(t, []string{bad}, fx.pub.failedURLs)
	persisted, err := fx.store.LoadState()
	require.NoError(t, err)
	require.Equal(t, "$20.00", status.FormatStatus(persisted[bad]))
}

func TestEngineRunAbortsOnCorruptState(t *testing.T) {
	t.Parallel()

	url := "https://tix.example/ev/a"
	fx := newEngineFixture(t, []string{url})
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(fx.urlFile), "state.json"), []byte("{nope"), 0o600))
	before, err := os.ReadFile(fx.urlFile)
	require.NoError(t, err)

	client := newRoutedClient()
	client.pages[url] = alphaPage

	report, err := fx.engine(client, quickRetry(), EngineConfig{}).Run(context.Background())
	require.ErrorIs(t, err, state.ErrCorrupt)
	require.Nil(t, report)

	// Nothing fetched, nothing rewritten.
	require.Equal(t, 0, client.calls[url])
	after, err := os.ReadFile(fx.urlFile)
	require.NoError(t, err)
	require.Equal(t, before, after)
	require.Equal(t, 0, fx.notifier.pushes)
	require.Equal(t, 0, fx.pub.publishes)
}

func TestEngineRunMissingURLFile(t *testing.T) {
	t.Parallel()

	fx := newEngineFixture(t, nil)
	report, err := fx.engine(newRoutedClient(), quickRetry(), EngineConfig{}).Run(context.Background())
	require.Error(t, err)
	require.Nil(t, report)
}

func TestEngineBatchModeSkipsSelection(t *testing.T) {
	t.Parallel()

	urls := []string{
		"https://tix.example/ev/a",
		"https://tix.example/ev/b",
		"https://tix.example/ev/c",
	}

	client := newRoutedClient()
	for _, u := range urls {
		client.pages[u] = gammaPage
	}

	fx := newEngineFixture(t, urls)
	report, err := fx.engine(client, quickRetry(), EngineConfig{TargetCount: 1, BatchMode: true}).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, report.Summary.Selected)

	fx2 := newEngineFixture(t, urls)
	report2, err := fx2.engine(client, quickRetry(), EngineConfig{TargetCount: 1}).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report2.Summary.Selected)
}

func TestEngineRunInterrupted(t *testing.T) {
	t.Parallel()

	urls := []string{"https://tix.example/ev/a", "https://tix.example/ev/b"}
	fx := newEngineFixture(t, urls)
	before, err := os.ReadFile(fx.urlFile)
	require.NoError(t, err)

	client := newRoutedClient()
	for _, u := range urls {
		client.pages[u] = gammaPage
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := fx.engine(client, quickRetry(), EngineConfig{}).Run(ctx)
	require.NoError(t, err)
	require.True(t, report.Summary.Interrupted)
	require.Equal(t, 0, report.Summary.Succeeded)
	require.Equal(t, 2, report.Summary.Failed)
	for _, fail := range report.Failures {
		require.Equal(t, fetch.ReasonCanceled, fail.Reason)
	}

	// State still persisted; URL file untouched because nothing was
	// fetched this run.
	_, err = fx.store.LoadState()
	require.NoError(t, err)
	after, err := os.ReadFile(fx.urlFile)
	require.NoError(t, err)
	require.Equal(t, before, after)

	// Collaborators are still told about the interrupted run.
	require.Equal(t, 1, fx.notifier.pushes)
	require.Equal(t, 1, fx.pub.publishes)
	require.Equal(t, 1, fx.rec.records)
	require.True(t, fx.rec.sums[0].Interrupted)
	require.True(t, strings.HasPrefix(fx.pub.failedURLs[0], "https://tix.example/ev/"))
}

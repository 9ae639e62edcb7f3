package fetch

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// HeadlessConfig controls the browser-backed client.
type HeadlessConfig struct {
	MaxParallel int
	NavTimeout  time.Duration
	SettleDelay time.Duration
	UserAgents  *UserAgents
}

// HeadlessClient renders pages in headless Chrome and returns the DOM
// after scripts have run. It is the slow path for pages the plain HTTP
// clients cannot read.
type HeadlessClient struct {
	cfg         HeadlessConfig
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	log         *zap.Logger
}

// NewHeadlessClient creates a HeadlessClient backed by chromedp.
func NewHeadlessClient(cfg HeadlessConfig, log *zap.Logger) (*HeadlessClient, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 45 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 500 * time.Millisecond
	}
	if cfg.UserAgents == nil {
		cfg.UserAgents = NewUserAgents(nil)
	}
	if log == nil {
		log = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(cfg.UserAgents.First()),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &HeadlessClient{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		log:         log,
	}, nil
}

// Close cancels the allocator context and tears down the browser.
func (c *HeadlessClient) Close() {
	c.allocCancel()
}

// Fetch navigates to rawURL, waits for the page to settle, and returns
// the rendered document.
func (c *HeadlessClient) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	taskCtx, taskCancel := chromedp.NewContext(c.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, c.cfg.NavTimeout)
	defer cancel()

	// Honor caller cancellation while the browser task runs.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	meta := &documentMeta{}
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	var (
		html     string
		finalURL string
	)
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(c.cfg.SettleDelay),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, wrapErr(rawURL, ctx.Err())
		}
		return nil, wrapErr(rawURL, fmt.Errorf("chromedp run: %w", err))
	}

	status, docURL := meta.snapshot()
	if docURL == "" {
		docURL = finalURL
	}
	if docURL == "" {
		docURL = rawURL
	}
	if status == 0 {
		status = http.StatusOK
	}

	res := &Result{
		FinalURL:   docURL,
		StatusCode: status,
		Body:       []byte(html),
		Transport:  TransportHeadless,
	}
	if status >= http.StatusBadRequest {
		c.log.Debug("headless fetch returned error status",
			zap.String("url", rawURL),
			zap.Int("status", status),
		)
		return res, &Error{Reason: ReasonStatus, URL: rawURL, StatusCode: status}
	}
	return res, nil
}

func (c *HeadlessClient) acquire(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	select {
	case c.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return wrapErr("", ctx.Err())
	}
}

func (c *HeadlessClient) release() {
	if c.limiter == nil {
		return
	}
	select {
	case <-c.limiter:
	default:
	}
}

// documentMeta records the status and URL of the top-level document
// response emitted by the browser.
type documentMeta struct {
	mu     sync.Mutex
	status int
	url    string
}

func (m *documentMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.url = resp.Response.URL
	m.mu.Unlock()
}

func (m *documentMeta) snapshot() (int, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.url
}

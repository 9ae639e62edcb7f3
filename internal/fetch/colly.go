package fetch

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

const (
	acceptHTML     = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"
	acceptLanguage = "en-US,en;q=0.9"
)

// CollyConfig tunes the primary HTTP transport.
type CollyConfig struct {
	Timeout     time.Duration
	MaxBodySize int
	UserAgents  *UserAgents
}

// CollyClient issues direct browser-shaped GETs through a shared colly
// collector. Each Fetch clones the collector, so concurrent fetches do
// not share callback state.
type CollyClient struct {
	base *colly.Collector
	cfg  CollyConfig
	log  *zap.Logger
}

// NewCollyClient builds the primary transport.
func NewCollyClient(cfg CollyConfig, log *zap.Logger) *CollyClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 10 << 20
	}
	if cfg.UserAgents == nil {
		cfg.UserAgents = NewUserAgents(nil)
	}
	if log == nil {
		log = zap.NewNop()
	}

	base := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.MaxBodySize(cfg.MaxBodySize),
	)
	base.WithTransport(newHTTPTransport())

	return &CollyClient{base: base, cfg: cfg, log: log}
}

// Fetch retrieves one URL. The collector run is not interruptible
// mid-request, so cancellation is observed between the context and the
// request timeout, whichever fires first.
func (c *CollyClient) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	collector := c.base.Clone()

	timeout := c.cfg.Timeout
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < timeout {
			timeout = rem
		}
	}
	collector.SetRequestTimeout(timeout)

	var (
		res  *Result
		ferr error
	)

	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", c.cfg.UserAgents.Next())
		r.Headers.Set("Accept", acceptHTML)
		r.Headers.Set("Accept-Language", acceptLanguage)
	})
	collector.OnResponse(func(r *colly.Response) {
		res = &Result{
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Transport:  TransportColly,
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			// Keep the error body: the challenge detector reads it.
			res = &Result{
				FinalURL:   rawURL,
				StatusCode: r.StatusCode,
				Body:       append([]byte(nil), r.Body...),
				Transport:  TransportColly,
			}
			ferr = &Error{Reason: ReasonStatus, URL: rawURL, StatusCode: r.StatusCode, Err: err}
			return
		}
		ferr = wrapErr(rawURL, err)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := collector.Visit(rawURL); err != nil && ferr == nil && res == nil {
			ferr = wrapErr(rawURL, err)
		}
		collector.Wait()
	}()

	select {
	case <-ctx.Done():
		return nil, &Error{Reason: Classify(ctx.Err()), URL: rawURL, Err: ctx.Err()}
	case <-done:
	}

	if ferr != nil {
		return res, ferr
	}
	if res == nil {
		return nil, &Error{Reason: ReasonTransport, URL: rawURL, Err: errors.New("no response received")}
	}
	return res, nil
}

// newHTTPTransport returns a pooled transport sized for a single-host
// watch run.
func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   15 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

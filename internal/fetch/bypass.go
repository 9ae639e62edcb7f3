package fetch

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// BypassConfig tunes the anti-bot HTTP client.
type BypassConfig struct {
	Timeout    time.Duration
	UserAgents *UserAgents
}

// BypassClient is a plain HTTP client whose transport mimics a real
// browser closely enough to clear common bot-protection front doors.
// It keeps cookies across requests so interstitial set-cookie flows work.
type BypassClient struct {
	http *resty.Client
	uas  *UserAgents
	log  *zap.Logger
}

// NewBypassClient builds a BypassClient.
func NewBypassClient(cfg BypassConfig, log *zap.Logger) (*BypassClient, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	uas := cfg.UserAgents
	if uas == nil {
		uas = NewUserAgents(nil)
	}

	client := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetTimeout(cfg.Timeout)
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))

	return &BypassClient{http: client, uas: uas, log: log}, nil
}

// Fetch performs a GET through the bypass transport.
func (c *BypassClient) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("User-Agent", c.uas.Next()).
		SetHeader("Accept", acceptHTML).
		SetHeader("Accept-Language", acceptLanguage).
		Get(rawURL)
	if err != nil {
		return nil, wrapErr(rawURL, err)
	}

	res := &Result{
		FinalURL:   finalURL(resp, rawURL),
		StatusCode: resp.StatusCode(),
		Body:       resp.Body(),
		Transport:  TransportBypass,
	}
	if resp.StatusCode() >= http.StatusBadRequest {
		c.log.Debug("bypass fetch returned error status",
			zap.String("url", rawURL),
			zap.Int("status", resp.StatusCode()),
		)
		return res, &Error{
			Reason:     ReasonStatus,
			URL:        rawURL,
			StatusCode: resp.StatusCode(),
		}
	}
	return res, nil
}

func finalURL(resp *resty.Response, fallback string) string {
	if raw := resp.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		return raw.Request.URL.String()
	}
	return fallback
}

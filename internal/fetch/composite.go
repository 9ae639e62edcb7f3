package fetch

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Headless escalation modes.
const (
	ModeOff    = "off"
	ModeAuto   = "auto"
	ModeAlways = "always"
)

// Composite chains the transports: a fast plain-HTTP primary, an
// optional headless browser for script-rendered pages, and an optional
// bypass client for bot-protected ones. Escalation happens per fetch
// based on what the cheaper transport brought back.
type Composite struct {
	primary  Client
	headless Client
	bypass   Client
	mode     string
	log      *zap.Logger
}

// NewComposite wires the transports together. headless and bypass may
// be nil; escalation steps without a client are skipped.
func NewComposite(primary Client, headless Client, bypass Client, mode string, log *zap.Logger) *Composite {
	if log == nil {
		log = zap.NewNop()
	}
	switch mode {
	case ModeOff, ModeAuto, ModeAlways:
	default:
		mode = ModeOff
	}
	return &Composite{
		primary:  primary,
		headless: headless,
		bypass:   bypass,
		mode:     mode,
		log:      log,
	}
}

// Fetch retrieves rawURL, escalating through the transports as needed.
func (c *Composite) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	if c.mode == ModeAlways && c.headless != nil {
		return c.headless.Fetch(ctx, rawURL)
	}

	res, err := c.primary.Fetch(ctx, rawURL)
	if err == nil {
		if c.mode == ModeAuto && c.headless != nil && NeedsRender(res.Body) {
			c.log.Debug("page looks script-rendered, escalating to headless",
				zap.String("url", rawURL))
			if rendered, rerr := c.headless.Fetch(ctx, rawURL); rerr == nil {
				return rendered, nil
			} else {
				c.log.Warn("headless render failed, keeping plain response",
					zap.String("url", rawURL), zap.Error(rerr))
			}
		}
		return res, nil
	}

	if !isChallengeError(res, err) {
		return res, err
	}
	c.log.Debug("challenge page detected, escalating",
		zap.String("url", rawURL),
		zap.Int("status", statusOf(res)))

	if c.headless != nil {
		if rendered, rerr := c.headless.Fetch(ctx, rawURL); rerr == nil {
			return rendered, nil
		} else if errors.Is(rerr, context.Canceled) {
			return nil, rerr
		}
	}
	if c.bypass != nil {
		if passed, berr := c.bypass.Fetch(ctx, rawURL); berr == nil {
			return passed, nil
		} else if errors.Is(berr, context.Canceled) {
			return nil, berr
		}
	}
	return nil, &Error{
		Reason:     ReasonChallenge,
		URL:        rawURL,
		StatusCode: statusOf(res),
	}
}

// Close tears down any transports that hold external resources.
func (c *Composite) Close() {
	for _, cl := range []Client{c.primary, c.headless, c.bypass} {
		if closer, ok := cl.(interface{ Close() }); ok {
			closer.Close()
		}
	}
}

func isChallengeError(res *Result, err error) bool {
	var ferr *Error
	if !errors.As(err, &ferr) || ferr.Reason != ReasonStatus {
		return false
	}
	if res == nil {
		return false
	}
	return IsChallenge(res.StatusCode, res.Body)
}

func statusOf(res *Result) int {
	if res == nil {
		return 0
	}
	return res.StatusCode
}

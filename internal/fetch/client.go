// Package fetch retrieves ticket-page HTML over several transports.
//
// The primary transport is a plain browser-shaped GET. Challenge-protected
// origins escalate to a headless browser session or a Cloudflare-bypass
// client, driven by a response heuristic. All transports report failures
// through one typed taxonomy so the retry layer can decide what is worth
// retrying.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Reason classifies why a fetch failed.
type Reason string

const (
	ReasonTimeout   Reason = "timeout"
	ReasonStatus    Reason = "http_status"
	ReasonTransport Reason = "transport"
	ReasonChallenge Reason = "challenge"
	ReasonCanceled  Reason = "canceled"
)

// Transport names, recorded on results and metrics labels.
const (
	TransportColly    = "colly"
	TransportHeadless = "headless"
	TransportBypass   = "bypass"
)

// Result is a successfully retrieved page. FinalURL reflects redirects.
type Result struct {
	FinalURL   string
	StatusCode int
	Body       []byte
	Transport  string
}

// Error is a typed fetch failure. On ReasonStatus failures the caller may
// also receive a Result carrying the error page body, which the challenge
// detector inspects.
type Error struct {
	Reason     Reason
	URL        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %s (status %d)", e.URL, e.Reason, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Client retrieves one URL. Implementations must honor ctx cancellation
// and deadlines.
type Client interface {
	Fetch(ctx context.Context, rawURL string) (*Result, error)
}

// Classify maps any error from a Client into the failure taxonomy.
func Classify(err error) Reason {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Reason
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ReasonTimeout
	}
	return ReasonTransport
}

// wrapErr builds a typed error from a transport-level failure.
func wrapErr(rawURL string, err error) *Error {
	return &Error{Reason: Classify(err), URL: rawURL, Err: err}
}

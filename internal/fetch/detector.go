package fetch

import (
	"bytes"
	"net/http"
	"regexp"
)

// Interstitial phrases served by anti-bot layers in place of content.
var challengeMarkers = [][]byte{
	[]byte("just a moment"),
	[]byte("checking your browser"),
	[]byte("attention required"),
	[]byte("cf-browser-verification"),
	[]byte("cf-chl"),
	[]byte("captcha"),
	[]byte("verify you are a human"),
	[]byte("access denied"),
}

// Mount points that mark a script-rendered shell with no server-side
// content worth parsing.
var shellMarkers = [][]byte{
	[]byte(`<div id="root"></div>`),
	[]byte(`<div id="app"></div>`),
	[]byte(`<div id="__next"></div>`),
	[]byte("window.__initial_state__"),
}

var scriptTagRe = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`)

const (
	// Challenge interstitials are small; real event pages are not.
	challengeBodyMax = 8 << 10
	// Fraction of the body inside script tags that marks a shell.
	shellScriptDensity = 0.25
	shellBodyMax       = 2 << 10
)

// IsChallenge reports whether a response looks like an anti-bot
// interstitial rather than the real page.
func IsChallenge(statusCode int, body []byte) bool {
	lower := bytes.ToLower(body)
	blocked := statusCode == http.StatusForbidden ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusTooManyRequests
	if blocked && len(body) < challengeBodyMax {
		return true
	}
	for _, marker := range challengeMarkers {
		if bytes.Contains(lower, marker) {
			return blocked || len(body) < challengeBodyMax
		}
	}
	return false
}

// NeedsRender reports whether a 200-class response is a script shell
// that only a browser session can turn into content.
func NeedsRender(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	lower := bytes.ToLower(body)
	for _, marker := range shellMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	if len(body) < shellBodyMax && bytes.Contains(lower, []byte("<script")) {
		return true
	}
	return scriptDensity(lower) >= shellScriptDensity
}

// scriptDensity is the fraction of the document living inside script
// tags.
func scriptDensity(lower []byte) float64 {
	if len(lower) == 0 {
		return 0
	}
	total := 0
	for _, m := range scriptTagRe.FindAll(lower, -1) {
		total += len(m)
	}
	return float64(total) / float64(len(lower))
}

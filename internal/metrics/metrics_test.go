package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://tix.example/path", "tix.example"},
		{"standard https", "https://Tix.Example/path", "tix.example"},
		{"no scheme", "tix.example/path", "tix.example"},
		{"just host", "tix.example", "tix.example"},
		{"host with port", "tix.example:8080", "tix.example"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitAndObserve(t *testing.T) {
	Init()
	Init()

	if fetchesTotal == nil || failuresTotal == nil || runsTotal == nil {
		t.Fatal("Init() did not initialize collectors")
	}

	ObserveFetch("https://tix.example/ev", "colly", nil, 120*time.Millisecond)
	ObserveFetch("https://tix.example/ev", "colly", errors.New("boom"), 50*time.Millisecond)
	if val := testutil.ToFloat64(fetchesTotal.WithLabelValues("tix.example", "colly", "ok")); val != 1 {
		t.Errorf("expected one ok fetch, got %f", val)
	}
	if val := testutil.ToFloat64(fetchesTotal.WithLabelValues("tix.example", "colly", "error")); val != 1 {
		t.Errorf("expected one error fetch, got %f", val)
	}

	ObserveFailure("timeout")
	if val := testutil.ToFloat64(failuresTotal.WithLabelValues("timeout")); val != 1 {
		t.Errorf("expected one failure, got %f", val)
	}

	AddChanges(3)
	if val := testutil.ToFloat64(changesTotal); val != 3 {
		t.Errorf("expected three changes, got %f", val)
	}

	SetTracked(10, 4)
	if val := testutil.ToFloat64(eventsTracked); val != 10 {
		t.Errorf("expected ten tracked events, got %f", val)
	}
	if val := testutil.ToFloat64(eventsSoldOut); val != 4 {
		t.Errorf("expected four sold out, got %f", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://tix.example", "https://venue.example", "ftp://tix.example"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if sanitized := SanitizeSite(orig); sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}

package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestBypassClientFetchOK(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.UserAgent() == "" {
			t.Error("expected user agent header")
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc"})
		w.Write([]byte("<html>tickets here</html>"))
	}))
	defer srv.Close()

	client, err := NewBypassClient(BypassConfig{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, err := client.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if res.Transport != TransportBypass {
		t.Fatalf("expected bypass transport, got %q", res.Transport)
	}
	if !strings.Contains(string(res.Body), "tickets here") {
		t.Fatalf("unexpected body: %s", res.Body)
	}
}

func TestBypassClientErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("<html>Attention Required</html>"))
	}))
	defer srv.Close()

	client, err := NewBypassClient(BypassConfig{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, ferr := client.Fetch(context.Background(), srv.URL)
	if ferr == nil {
		t.Fatal("expected error for 403")
	}
	if got := Classify(ferr); got != ReasonStatus {
		t.Fatalf("expected status reason, got %q", got)
	}
	if res == nil || res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 result kept, got %+v", res)
	}
	if !IsChallenge(res.StatusCode, res.Body) {
		t.Fatal("expected error page to read as a challenge")
	}
}

package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pedeee/ticketwatch/internal/pipeline"
	"github.com/pedeee/ticketwatch/internal/status"
)

type telegramCapture struct {
	mu    sync.Mutex
	paths []string
	forms []map[string]string
}

func newTelegramServer(t *testing.T, statusCode int) (*httptest.Server, *telegramCapture) {
	t.Helper()
	calls := &telegramCapture{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form := map[string]string{}
		for k := range r.Form {
			form[k] = r.Form.Get(k)
		}
		calls.mu.Lock()
		calls.paths = append(calls.paths, r.URL.Path)
		calls.forms = append(calls.forms, form)
		calls.mu.Unlock()
		w.WriteHeader(statusCode)
	}))
	t.Cleanup(srv.Close)
	return srv, calls
}

func telegramChanges(n int) []status.Change {
	changes := make([]status.Change, n)
	for i := range changes {
		changes[i] = status.Change{
			Title:     fmt.Sprintf("Event %02d", i),
			URL:       fmt.Sprintf("https://tix.example/ev/%02d", i),
			OldStatus: "$30.00",
			NewStatus: "$45.00",
		}
	}
	return changes
}

func TestTelegramPushSendsBatches(t *testing.T) {
	t.Parallel()

	srv, calls := newTelegramServer(t, http.StatusOK)
	tg, err := NewTelegram(TelegramConfig{
		Token:     "test-token",
		ChatID:    "42",
		BaseURL:   srv.URL,
		BatchSize: 10,
	}, nil)
	require.NoError(t, err)

	err = tg.Push(context.Background(), telegramChanges(25), pipeline.RunSummary{})
	require.NoError(t, err)

	require.Len(t, calls.paths, 3)
	require.Equal(t, "/bottest-token/sendMessage", calls.paths[0])

	first := calls.forms[0]
	require.Equal(t, "42", first["chat_id"])
	require.Equal(t, "HTML", first["parse_mode"])
	require.Equal(t, "true", first["disable_web_page_preview"])
	require.Contains(t, first["text"], "10 ticket status changes")
	require.Contains(t, first["text"], "<b>Event 00</b>")
	require.Contains(t, first["text"], "View Event")

	last := calls.forms[2]
	require.Contains(t, last["text"], "5 ticket status changes")
	require.Contains(t, last["text"], "<b>Event 24</b>")
}

func TestTelegramPushNoChanges(t *testing.T) {
	t.Parallel()

	srv, calls := newTelegramServer(t, http.StatusOK)
	tg, err := NewTelegram(TelegramConfig{Token: "tok", ChatID: "42", BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	require.NoError(t, tg.Push(context.Background(), nil, pipeline.RunSummary{}))
	require.Empty(t, calls.paths)
}

func TestTelegramPushErrorStatus(t *testing.T) {
	t.Parallel()

	srv, _ := newTelegramServer(t, http.StatusBadGateway)
	tg, err := NewTelegram(TelegramConfig{Token: "tok", ChatID: "42", BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	err = tg.Push(context.Background(), telegramChanges(1), pipeline.RunSummary{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 502")
}

func TestNewTelegramRequiresCredentials(t *testing.T) {
	t.Parallel()

	_, err := NewTelegram(TelegramConfig{ChatID: "42"}, nil)
	require.Error(t, err)
	_, err = NewTelegram(TelegramConfig{Token: "tok"}, nil)
	require.Error(t, err)
}

func TestDisplayTitle(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Alpha Night", displayTitle("Tickets for Alpha Night"))

	long := "An Extremely Long Event Name That Keeps Going And Going"
	got := displayTitle(long)
	require.Len(t, got, 45)
	require.Equal(t, long[:42]+"...", got)
}

func TestStatusEmoji(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		c    status.Change
		want string
	}{
		{"sold out", status.Change{OldStatus: "$30.00", NewStatus: "SOLD OUT"}, "\U0001F6AB"},
		{"new", status.Change{OldStatus: "unknown", NewStatus: "$30.00"}, "\U0001F195"},
		{"increase", status.Change{OldStatus: "$30.00", NewStatus: "$45.00"}, "\U0001F4C8"},
		{"decrease", status.Change{OldStatus: "$45.00", NewStatus: "$30.00"}, "\U0001F4C9"},
		{"fallback", status.Change{OldStatus: "SOLD OUT", NewStatus: "$30.00"}, "\U0001F39F"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, statusEmoji(tt.c))
		})
	}
}

func TestUrgencyEmoji(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	day := func(d int) *time.Time {
		ts := now.AddDate(0, 0, d)
		return &ts
	}

	require.Equal(t, "\U0001F4C5", urgencyEmoji(nil, now))
	require.Equal(t, "\U0001F525", urgencyEmoji(day(3), now))
	require.Equal(t, "⚡", urgencyEmoji(day(20), now))
	require.Equal(t, "⏰", urgencyEmoji(day(60), now))
	require.Equal(t, "\U0001F4C5", urgencyEmoji(day(200), now))
}

package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/pedeee/ticketwatch/internal/pipeline"
	"github.com/pedeee/ticketwatch/internal/status"
)

const telegramBaseURL = "https://api.telegram.org"

// TelegramConfig holds bot credentials and delivery tuning.
type TelegramConfig struct {
	Token     string
	ChatID    string
	BaseURL   string
	BatchSize int
	Timeout   time.Duration
}

// Telegram delivers change notifications through a Telegram bot,
// batching changes into HTML-formatted messages.
type Telegram struct {
	http *resty.Client
	cfg  TelegramConfig
	log  *zap.Logger
	now  func() time.Time
}

// NewTelegram builds the notifier. Token and chat id are required.
func NewTelegram(cfg TelegramConfig, log *zap.Logger) (*Telegram, error) {
	if cfg.Token == "" || cfg.ChatID == "" {
		return nil, fmt.Errorf("telegram token and chat id are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = telegramBaseURL
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout)
	return &Telegram{http: client, cfg: cfg, log: log, now: time.Now}, nil
}

// Push sends the changes, one message per batch. A run with no changes
// sends nothing.
func (t *Telegram) Push(ctx context.Context, changes []status.Change, _ pipeline.RunSummary) error {
	for start := 0; start < len(changes); start += t.cfg.BatchSize {
		end := start + t.cfg.BatchSize
		if end > len(changes) {
			end = len(changes)
		}
		if err := t.send(ctx, t.buildMessage(changes[start:end])); err != nil {
			return err
		}
	}
	return nil
}

func (t *Telegram) send(ctx context.Context, text string) error {
	resp, err := t.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"chat_id":                  t.cfg.ChatID,
			"text":                     text,
			"parse_mode":               "HTML",
			"disable_web_page_preview": "true",
		}).
		Post("/bot" + t.cfg.Token + "/sendMessage")
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("telegram send: status %d", resp.StatusCode())
	}
	t.log.Debug("telegram message sent", zap.Int("bytes", len(text)))
	return nil
}

func (t *Telegram) buildMessage(changes []status.Change) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\U0001F3AB <b>%d ticket status changes</b>\n\n", len(changes))
	now := t.now()
	for i, c := range changes {
		fmt.Fprintf(&b, "%2d. %s <b>%s</b>\n", i+1, statusEmoji(c), displayTitle(c.Title))
		fmt.Fprintf(&b, "    %s %s\n", urgencyEmoji(c.EventDate, now), displayDate(c.EventDate))
		fmt.Fprintf(&b, "    \U0001F4B0 %s → <b>%s</b>\n", c.OldStatus, c.NewStatus)
		fmt.Fprintf(&b, "    \U0001F517 <a href='%s'>View Event</a>\n\n", c.URL)
	}
	return b.String()
}

// displayTitle strips the vendor prefix and caps the length for the
// narrow message layout.
func displayTitle(title string) string {
	title = strings.TrimSpace(strings.TrimPrefix(title, "Tickets for "))
	if len(title) > 45 {
		title = title[:42] + "..."
	}
	return title
}

func displayDate(dt *time.Time) string {
	if dt == nil {
		return "TBD"
	}
	return dt.Format("Mon, Jan 02, 2006")
}

// statusEmoji picks the transition marker: sold out, newly discovered,
// price up, price down, or a generic change.
func statusEmoji(c status.Change) string {
	switch {
	case strings.Contains(c.NewStatus, "SOLD OUT"):
		return "\U0001F6AB"
	case strings.Contains(c.OldStatus, "unknown"):
		return "\U0001F195"
	}
	oldPrice, oldOK := parsePrice(c.OldStatus)
	newPrice, newOK := parsePrice(c.NewStatus)
	if oldOK && newOK {
		if newPrice.GreaterThan(oldPrice) {
			return "\U0001F4C8"
		}
		return "\U0001F4C9"
	}
	return "\U0001F39F"
}

// urgencyEmoji marks how soon the event is: this week, this month,
// next three months, or further out.
func urgencyEmoji(dt *time.Time, now time.Time) string {
	if dt == nil {
		return "\U0001F4C5"
	}
	days := int(dt.Sub(now).Hours() / 24)
	switch {
	case days <= 7:
		return "\U0001F525"
	case days <= 30:
		return "⚡"
	case days <= 90:
		return "⏰"
	default:
		return "\U0001F4C5"
	}
}

func parsePrice(s string) (decimal.Decimal, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "$")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

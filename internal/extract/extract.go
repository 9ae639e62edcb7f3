// Package extract turns raw ticket-page HTML into an EventStatus.
//
// Every field resolves through an ordered chain of strategies; the first
// strategy that produces a value wins and the rest are skipped. Nothing in
// this package performs I/O and nothing here returns an error: malformed
// or hostile markup degrades to sentinel values, never to a failure.
package extract

import (
	"bytes"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/pedeee/ticketwatch/internal/status"
)

// Price selection modes.
const (
	SelectLowest  = "lowest"
	SelectHighest = "highest"
)

// Config tunes the extraction heuristics. The zero value is not usable;
// call DefaultConfig and override.
type Config struct {
	// PriceSelector picks SelectLowest or SelectHighest among available tiers.
	PriceSelector string
	// HighPriceThreshold is the bound above which a lone surviving price is
	// presumed premium-only when general-admission language appears elsewhere.
	HighPriceThreshold decimal.Decimal
	// ExcludeHints are lowercase substrings that mark a currency amount as a
	// fee or tax line rather than a ticket price.
	ExcludeHints []string
}

// DefaultConfig returns the tuning used in production runs.
func DefaultConfig() Config {
	return Config{
		PriceSelector:      SelectLowest,
		HighPriceThreshold: decimal.NewFromInt(200),
		ExcludeHints:       []string{"fee", "fees", "service", "processing", "tax"},
	}
}

// Extractor resolves an EventStatus from one page of HTML.
type Extractor struct {
	cfg   Config
	log   *zap.Logger
	dates []dateStrategy
	now   func() time.Time
}

// New builds an Extractor. A nil logger disables debug output.
func New(cfg Config, log *zap.Logger) *Extractor {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.PriceSelector == "" {
		cfg.PriceSelector = SelectLowest
	}
	if cfg.HighPriceThreshold.IsZero() {
		cfg.HighPriceThreshold = DefaultConfig().HighPriceThreshold
	}
	if len(cfg.ExcludeHints) == 0 {
		cfg.ExcludeHints = DefaultConfig().ExcludeHints
	}
	e := &Extractor{cfg: cfg, log: log, now: time.Now}
	e.dates = e.dateStrategies()
	return e
}

// Extract parses the page and resolves every status field. It never
// panics and never returns an error; unresolved fields stay at their
// zero/sentinel values.
func (e *Extractor) Extract(page []byte) status.EventStatus {
	st := status.EventStatus{Title: status.UnknownTitle}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		e.log.Debug("unparseable document", zap.Error(err))
		return st
	}

	text := flattenText(doc)
	lower := strings.ToLower(text)

	st.Title = e.extractTitle(doc)
	st.EventDate = e.extractDate(doc, text)

	st.Cancelled = cancelledRe.MatchString(lower)
	st.Terminated = terminatedRe.MatchString(lower)
	st.Presale = presaleRe.MatchString(lower)

	controls := hasQuantityControls(doc)
	price, priceRange, suppressed := e.extractPrice(doc, lower, controls)
	st.PriceRange = priceRange

	// Sold-out resolution. Hard signals first, then UI affordances, then
	// banner text: an active quantity control proves at least one tier is
	// purchasable, so per-tier "Sold Out" labels must not blank the page.
	switch {
	case st.Cancelled || st.Terminated:
		st.SoldOut = true
	case suppressed:
		st.SoldOut = true
	case controls:
		st.SoldOut = false
	case bannerRe.MatchString(lower):
		st.SoldOut = true
	case !price.Valid && soldOutRe.MatchString(lower):
		st.SoldOut = true
	}

	if !st.SoldOut {
		st.Price = price
	}

	normalize(&st)
	return st
}

// normalize enforces the cross-field rules every snapshot must satisfy:
// a sold-out, cancelled, or terminated event never carries a price.
func normalize(st *status.EventStatus) {
	if st.Cancelled || st.Terminated {
		st.SoldOut = true
	}
	if st.SoldOut {
		st.Price = decimal.NullDecimal{}
	}
	if strings.TrimSpace(st.Title) == "" {
		st.Title = status.UnknownTitle
	}
}

// flattenText walks the parsed tree and joins visible text nodes with
// single spaces, skipping script/style content. Context windows and the
// phrase regexes all operate on this flattened form.
func flattenText(doc *goquery.Document) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				b.WriteString(t)
				b.WriteByte(' ')
			}
			return
		}
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "template":
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range doc.Nodes {
		walk(n)
	}
	return strings.TrimSpace(b.String())
}

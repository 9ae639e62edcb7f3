package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// tierWindow is how far around an amount the tier classifier looks.
	tierWindow = 100
	// feeWindow is the tighter span used to spot fee/tax lines, so a
	// "service" mention three sentences away does not kill a real price.
	feeWindow = 20
)

var (
	priceRe = regexp.MustCompile(`\$([0-9]{1,5}(?:\.[0-9]{2})?)`)
	rangeRe = regexp.MustCompile(`\$([0-9]{1,5}(?:\.[0-9]{2})?)\s*-\s*\$([0-9]{1,5}(?:\.[0-9]{2})?)`)
	gaRe    = regexp.MustCompile(`general admission|\bga\b|standing room`)
)

// Tier names by context keyword, most specific first. Anything
// unclassified falls back to "general".
var tierMarkers = []struct {
	label   string
	markers []string
}{
	{"vip", []string{"vip", "meet & greet", "meet and greet"}},
	{"early bird", []string{"early bird", "earlybird"}},
	{"balcony", []string{"balcony"}},
	{"mezzanine", []string{"mezzanine"}},
	{"floor", []string{"floor"}},
	{"table", []string{"table", "booth"}},
	{"door", []string{"at the door", "door price"}},
	{"advance", []string{"advance", "adv."}},
	{"general admission", []string{"general admission", "standing room"}},
}

// tier is one currency amount found in the page text together with the
// window of context it was judged by.
type tier struct {
	amount  decimal.Decimal
	label   string
	soldOut bool
	start   int
	end     int
}

// extractPrice resolves the reported price, the display range, and
// whether the premium-only inference suppressed an otherwise valid
// price. All text offsets refer to the lowercased flattened text.
func (e *Extractor) extractPrice(doc *goquery.Document, lower string, controls bool) (price decimal.NullDecimal, priceRange string, suppressed bool) {
	priceRange = detectRange(lower)

	// Structured offer data beats any text scan: it carries its own
	// availability, so the sold-out and premium heuristics do not apply.
	if d, ok := e.priceFromOffers(doc); ok {
		return decimal.NullDecimal{Decimal: d, Valid: true}, priceRange, false
	}

	tiers := e.scanTiers(lower)
	if len(tiers) == 0 {
		return decimal.NullDecimal{}, priceRange, false
	}

	sort.SliceStable(tiers, func(i, j int) bool {
		return tiers[i].amount.LessThan(tiers[j].amount)
	})

	// Drop the cheapest tier while its own context says sold out and no
	// quantity control contradicts the text.
	for len(tiers) > 0 && tiers[0].soldOut && !controls {
		e.log.Debug("tier discarded as sold out",
			zap.String("tier", tiers[0].label),
			zap.String("amount", tiers[0].amount.String()))
		tiers = tiers[1:]
	}
	if len(tiers) == 0 {
		return decimal.NullDecimal{}, priceRange, false
	}

	chosen := tiers[0]
	if e.cfg.PriceSelector == SelectHighest {
		chosen = tiers[len(tiers)-1]
	}

	// Premium-only inference: a lone expensive tier plus general-admission
	// language elsewhere means the cheap tier is gone, not that tickets
	// cost this much.
	if chosen.amount.GreaterThan(e.cfg.HighPriceThreshold) && gaMentionOutside(lower, chosen) {
		e.log.Debug("price suppressed as premium-only",
			zap.String("amount", chosen.amount.String()),
			zap.String("tier", chosen.label))
		return decimal.NullDecimal{}, priceRange, true
	}

	return decimal.NullDecimal{Decimal: chosen.amount, Valid: true}, priceRange, false
}

// scanTiers finds every currency amount, attaches its context windows,
// and drops amounts that look like fees or taxes.
func (e *Extractor) scanTiers(lower string) []tier {
	matches := priceRe.FindAllStringSubmatchIndex(lower, -1)
	tiers := make([]tier, 0, len(matches))
	for _, m := range matches {
		amt, err := decimal.NewFromString(lower[m[2]:m[3]])
		if err != nil || amt.IsZero() {
			continue
		}
		if e.feeContext(window(lower, m[0], m[1], feeWindow)) {
			continue
		}
		ctxStart := clamp(m[0]-tierWindow, 0, len(lower))
		ctxEnd := clamp(m[1]+tierWindow, 0, len(lower))
		ctx := lower[ctxStart:ctxEnd]
		tiers = append(tiers, tier{
			amount:  amt,
			label:   classifyTier(ctx),
			soldOut: strings.Contains(ctx, "sold out"),
			start:   ctxStart,
			end:     ctxEnd,
		})
	}
	return tiers
}

func (e *Extractor) feeContext(window string) bool {
	for _, hint := range e.cfg.ExcludeHints {
		if strings.Contains(window, hint) {
			return true
		}
	}
	return false
}

func classifyTier(ctx string) string {
	for _, tm := range tierMarkers {
		for _, marker := range tm.markers {
			if strings.Contains(ctx, marker) {
				return tm.label
			}
		}
	}
	return "general"
}

// detectRange formats the first $low - $high span found, if any.
func detectRange(lower string) string {
	m := rangeRe.FindStringSubmatch(lower)
	if m == nil {
		return ""
	}
	lo, err1 := decimal.NewFromString(m[1])
	hi, err2 := decimal.NewFromString(m[2])
	if err1 != nil || err2 != nil || hi.LessThan(lo) {
		return ""
	}
	return fmt.Sprintf("$%s - $%s", lo.StringFixed(2), hi.StringFixed(2))
}

// gaMentionOutside reports whether general-admission language appears
// beyond the chosen tier's own context window.
func gaMentionOutside(lower string, chosen tier) bool {
	for _, m := range gaRe.FindAllStringIndex(lower, -1) {
		if m[0] < chosen.start || m[0] >= chosen.end {
			return true
		}
	}
	return false
}

// priceFromOffers reads schema.org offer prices, skipping offers whose
// availability marks them sold out.
func (e *Extractor) priceFromOffers(doc *goquery.Document) (decimal.Decimal, bool) {
	var available []decimal.Decimal
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		available = append(available, availableOfferPrices(decodeJSON(s.Text()))...)
	})
	if len(available) == 0 {
		return decimal.Decimal{}, false
	}
	best := available[0]
	for _, d := range available[1:] {
		if e.cfg.PriceSelector == SelectHighest {
			if d.GreaterThan(best) {
				best = d
			}
		} else if d.LessThan(best) {
			best = d
		}
	}
	return best, true
}

func availableOfferPrices(v any) []decimal.Decimal {
	var out []decimal.Decimal
	switch node := v.(type) {
	case []any:
		for _, item := range node {
			out = append(out, availableOfferPrices(item)...)
		}
	case map[string]any:
		if isEventType(node["@type"]) {
			out = append(out, offerPrices(node["offers"])...)
		}
		if graph, ok := node["@graph"]; ok {
			out = append(out, availableOfferPrices(graph)...)
		}
	}
	return out
}

func offerPrices(v any) []decimal.Decimal {
	var out []decimal.Decimal
	switch node := v.(type) {
	case []any:
		for _, item := range node {
			out = append(out, offerPrices(item)...)
		}
	case map[string]any:
		if avail, ok := node["availability"].(string); ok && strings.Contains(avail, "SoldOut") {
			return nil
		}
		if d, ok := toDecimal(node["price"]); ok && !d.IsZero() {
			out = append(out, d)
		}
	}
	return out
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch p := v.(type) {
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(strings.TrimPrefix(p, "$")))
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(p), true
	}
	return decimal.Decimal{}, false
}

func decodeJSON(raw string) any {
	var node any
	if err := json.Unmarshal([]byte(raw), &node); err != nil {
		return nil
	}
	return node
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func window(s string, start, end, span int) string {
	return s[clamp(start-span, 0, len(s)):clamp(end+span, 0, len(s))]
}

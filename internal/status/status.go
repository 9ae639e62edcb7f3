// Package status defines the event snapshot model shared by the
// extractor, the diff engine, and the persistence layer.
package status

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// UnknownTitle is the sentinel used when no event name could be resolved.
const UnknownTitle = "<unknown event>"

func init() {
	// State files store prices as bare JSON numbers, not quoted strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// EventStatus is one snapshot of a ticket page. Field names mirror the
// on-disk state file so old state files load unchanged.
type EventStatus struct {
	Title      string              `json:"title"`
	Price      decimal.NullDecimal `json:"price"`
	PriceRange string              `json:"price_range,omitempty"`
	SoldOut    bool                `json:"soldout"`
	Cancelled  bool                `json:"cancelled"`
	Terminated bool                `json:"terminated"`
	Presale    bool                `json:"presale"`
	EventDate  *time.Time          `json:"event_dt"`
}

// NewPrice wraps a decimal in a valid NullDecimal.
func NewPrice(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// PriceFromString parses a currency amount such as "45" or "45.00".
func PriceFromString(s string) (decimal.NullDecimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("parse price %q: %w", s, err)
	}
	return NewPrice(d), nil
}

// HasPrice reports whether a resolved price is present.
func (s EventStatus) HasPrice() bool {
	return s.Price.Valid
}

// FormatStatus renders the canonical status text used for diffing:
// "SOLD OUT", a formatted price, or "unknown".
func FormatStatus(s EventStatus) string {
	switch {
	case s.SoldOut:
		return "SOLD OUT"
	case s.Price.Valid:
		return "$" + s.Price.Decimal.StringFixed(2)
	default:
		return "unknown"
	}
}

// Change records one observed transition for a URL between runs.
// Derived during diffing, never persisted into the state file.
type Change struct {
	Title     string     `json:"title"`
	URL       string     `json:"url"`
	OldStatus string     `json:"old_status"`
	NewStatus string     `json:"new_status"`
	EventDate *time.Time `json:"event_dt"`
}

// String renders a change the way run reports print it.
func (c Change) String() string {
	when := "undated"
	if c.EventDate != nil {
		when = c.EventDate.Format("Jan 02 2006")
	}
	return fmt.Sprintf("%s (%s): %s -> %s", c.Title, when, c.OldStatus, c.NewStatus)
}

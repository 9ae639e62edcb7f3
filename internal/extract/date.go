package extract

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// dateStrategy is one way of finding the event start. Strategies run in
// order and the chain short-circuits on the first hit.
type dateStrategy struct {
	name string
	fn   func(doc *goquery.Document, text string) (time.Time, bool)
}

func (e *Extractor) dateStrategies() []dateStrategy {
	return []dateStrategy{
		{name: "structured-event", fn: dateFromJSONLD},
		{name: "meta-start-time", fn: dateFromMetaStartTime},
		{name: "time-element", fn: dateFromTimeElement},
		{name: "mobile-date", fn: dateFromMobileElement},
		{name: "text-scan", fn: e.dateFromText},
	}
}

func (e *Extractor) extractDate(doc *goquery.Document, text string) *time.Time {
	for _, s := range e.dates {
		if ts, ok := s.fn(doc, text); ok {
			u := ts.UTC()
			e.log.Debug("event date resolved", zap.String("strategy", s.name), zap.Time("date", u))
			return &u
		}
	}
	e.log.Debug("no event date resolved")
	return nil
}

// dateFromJSONLD looks for schema.org Event metadata embedded in
// application/ld+json script blocks, including @graph wrappers.
func dateFromJSONLD(doc *goquery.Document, _ string) (time.Time, bool) {
	var (
		found time.Time
		ok    bool
	)
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var node any
		if err := json.Unmarshal([]byte(s.Text()), &node); err != nil {
			return true
		}
		if t, got := eventStartDate(node); got {
			found, ok = t, true
			return false
		}
		return true
	})
	return found, ok
}

func eventStartDate(v any) (time.Time, bool) {
	switch node := v.(type) {
	case []any:
		for _, item := range node {
			if t, ok := eventStartDate(item); ok {
				return t, true
			}
		}
	case map[string]any:
		if isEventType(node["@type"]) {
			if s, ok := node["startDate"].(string); ok {
				if t, err := parseMachineDate(s); err == nil {
					return t, true
				}
			}
		}
		if graph, ok := node["@graph"]; ok {
			return eventStartDate(graph)
		}
	}
	return time.Time{}, false
}

// isEventType matches "Event" and subtypes such as "MusicEvent".
func isEventType(v any) bool {
	switch t := v.(type) {
	case string:
		return strings.Contains(t, "Event")
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && strings.Contains(s, "Event") {
				return true
			}
		}
	}
	return false
}

func dateFromMetaStartTime(doc *goquery.Document, _ string) (time.Time, bool) {
	content, ok := doc.Find(`meta[property="event:start_time"]`).First().Attr("content")
	if !ok {
		return time.Time{}, false
	}
	t, err := parseMachineDate(content)
	return t, err == nil
}

func dateFromTimeElement(doc *goquery.Document, _ string) (time.Time, bool) {
	var (
		found time.Time
		ok    bool
	)
	doc.Find("time").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if dt, has := s.Attr("datetime"); has {
			if t, err := parseMachineDate(dt); err == nil {
				found, ok = t, true
				return false
			}
		}
		if t, got := parseTextualDate(s.Text(), time.Time{}); got {
			found, ok = t, true
			return false
		}
		return true
	})
	return found, ok
}

// dateFromMobileElement covers the mobile layout, which renders the date
// in a dedicated element instead of structured metadata.
func dateFromMobileElement(doc *goquery.Document, _ string) (time.Time, bool) {
	var (
		found time.Time
		ok    bool
	)
	doc.Find("p.date, span.date, div.event-date").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if t, got := parseTextualDate(s.Text(), time.Time{}); got {
			found, ok = t, true
			return false
		}
		return true
	})
	return found, ok
}

func (e *Extractor) dateFromText(_ *goquery.Document, text string) (time.Time, bool) {
	return parseTextualDate(text, e.now())
}

// Machine-readable layouts, most specific first.
var machineLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseMachineDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var lastErr error
	for _, layout := range machineLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// Textual calendar forms seen on event pages, tried in order.
var (
	weekdayDateRe = regexp.MustCompile(`(?i)\b(?:mon|tue|wed|thu|fri|sat|sun)[a-z]*,?\s+(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+(\d{1,2})(?:,?\s+(\d{4}))?`)
	monthDayRe    = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+(\d{1,2})(?:,?\s+(\d{4}))?\b`)
	isoDateRe     = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	usDateRe      = regexp.MustCompile(`\b(\d{1,2}/\d{1,2}/\d{4})\b`)
)

var monthsByPrefix = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// parseTextualDate scans free text for the first recognizable calendar
// date. A zero ref disables year inference, so month+day forms without a
// year only resolve when ref is supplied (the full-text strategy).
func parseTextualDate(text string, ref time.Time) (time.Time, bool) {
	if m := weekdayDateRe.FindStringSubmatch(text); m != nil {
		if t, ok := buildDate(m[1], m[2], m[3], ref); ok {
			return t, true
		}
	}
	if m := monthDayRe.FindStringSubmatch(text); m != nil {
		if t, ok := buildDate(m[1], m[2], m[3], ref); ok {
			return t, true
		}
	}
	if m := isoDateRe.FindStringSubmatch(text); m != nil {
		if t, err := time.Parse("2006-01-02", m[1]); err == nil {
			return t, true
		}
	}
	if m := usDateRe.FindStringSubmatch(text); m != nil {
		if t, err := time.Parse("1/2/2006", m[1]); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// buildDate assembles a UTC date from a month name, day, and optional
// year. Without a year it resolves to the next occurrence relative to ref.
func buildDate(monthName, dayStr, yearStr string, ref time.Time) (time.Time, bool) {
	month, ok := monthsByPrefix[strings.ToLower(monthName)[:3]]
	if !ok {
		return time.Time{}, false
	}
	day, err := strconv.Atoi(dayStr)
	if err != nil || day < 1 || day > 31 {
		return time.Time{}, false
	}

	year := 0
	if yearStr != "" {
		year, err = strconv.Atoi(yearStr)
		if err != nil {
			return time.Time{}, false
		}
	} else {
		if ref.IsZero() {
			return time.Time{}, false
		}
		year = ref.Year()
		candidate := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
		if candidate.Before(ref.UTC().Truncate(24 * time.Hour)) {
			year++
		}
	}

	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Month() != month || t.Day() != day {
		// Normalized away, e.g. Feb 30.
		return time.Time{}, false
	}
	return t, true
}

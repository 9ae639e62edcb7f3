package state

import (
	"bufio"
	"bytes"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"
)

// UnknownEventLabel annotates URLs the state file has no entry for yet.
const UnknownEventLabel = "Unknown Event"

// LoadURLs reads a URL list file: one URL per line, blank lines and
// `#`-prefixed lines skipped, inline display comments stripped,
// duplicates dropped keeping first occurrence.
func LoadURLs(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read url list %s: %w", path, err)
	}

	var urls []string
	seen := make(map[string]struct{})
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		u := StripComment(line)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan url list %s: %w", path, err)
	}
	return urls, nil
}

// StripComment removes an inline display suffix from a URL line.
func StripComment(line string) string {
	if i := strings.Index(line, "#"); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line)
}

// ValidateURL reports whether raw is a fetchable event page URL.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

// SaveURLs writes a plain URL list, one per line.
func SaveURLs(path string, urls []string) error {
	var b strings.Builder
	for _, u := range urls {
		b.WriteString(u)
		b.WriteByte('\n')
	}
	return writeFileAtomic(path, []byte(b.String()))
}

// SaveSorted rewrites the URL list ordered by event date with month
// headers and display suffixes, using dates from the persisted state.
// Undated URLs keep their relative order at the end of the file.
func SaveSorted(path string, urls []string, st State) error {
	dated, undated := splitByDate(urls, st)

	var b strings.Builder
	b.WriteString("# Ticketwatch URLs - Automatically sorted by event date\n")
	b.WriteString("# Format: URL  # Event Name - Date\n\n")

	currentMonth := ""
	for _, u := range dated {
		entry := st[u]
		when := *entry.EventDate
		month := when.Format("January 2006")
		if month != currentMonth {
			if currentMonth != "" {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "# === %s ===\n", month)
			currentMonth = month
		}
		fmt.Fprintf(&b, "%s  # %s - %s\n", u, titleFor(st, u), when.Format("Jan 02"))
	}
	for i, u := range undated {
		if i == 0 && currentMonth != "" {
			b.WriteString("\n# === Events without dates ===\n")
		}
		fmt.Fprintf(&b, "%s  # %s - No date found\n", u, titleFor(st, u))
	}

	return writeFileAtomic(path, []byte(b.String()))
}

func splitByDate(urls []string, st State) (dated, undated []string) {
	for _, u := range urls {
		if entry, ok := st[u]; ok && entry.EventDate != nil {
			dated = append(dated, u)
		} else {
			undated = append(undated, u)
		}
	}
	sort.SliceStable(dated, func(i, j int) bool {
		return st[dated[i]].EventDate.Before(*st[dated[j]].EventDate)
	})
	return dated, undated
}

func titleFor(st State, u string) string {
	if entry, ok := st[u]; ok && entry.Title != "" {
		return entry.Title
	}
	return UnknownEventLabel
}

// CleanPast splits urls into active and past, judging by the persisted
// event date. URLs without a known date are kept.
func CleanPast(urls []string, st State, now time.Time) (active, past []string) {
	for _, u := range urls {
		if entry, ok := st[u]; ok && entry.EventDate != nil && entry.EventDate.Before(now) {
			past = append(past, u)
			continue
		}
		active = append(active, u)
	}
	return active, past
}

// MonthCount is one month's event tally, chronological.
type MonthCount struct {
	Month string
	Count int
}

// Stats summarizes the URL list against the persisted state.
type Stats struct {
	Total    int
	Dated    int
	Undated  int
	Upcoming int
	Past     int
	SoldOut  int
	ByMonth  []MonthCount
}

// ComputeStats tallies the list the way the urls subcommand reports it.
func ComputeStats(urls []string, st State, now time.Time) Stats {
	stats := Stats{Total: len(urls)}
	type monthKey struct {
		start time.Time
		label string
	}
	counts := make(map[monthKey]int)

	for _, u := range urls {
		entry, ok := st[u]
		if ok && entry.SoldOut {
			stats.SoldOut++
		}
		if !ok || entry.EventDate == nil {
			stats.Undated++
			continue
		}
		stats.Dated++
		when := *entry.EventDate
		if when.Before(now) {
			stats.Past++
		} else {
			stats.Upcoming++
		}
		key := monthKey{
			start: time.Date(when.Year(), when.Month(), 1, 0, 0, 0, 0, time.UTC),
			label: when.Format("January 2006"),
		}
		counts[key]++
	}

	keys := make([]monthKey, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].start.Before(keys[j].start) })
	for _, k := range keys {
		stats.ByMonth = append(stats.ByMonth, MonthCount{Month: k.label, Count: counts[k]})
	}
	return stats
}

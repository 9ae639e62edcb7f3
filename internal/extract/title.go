package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pedeee/ticketwatch/internal/status"
)

// Ticketing sites suffix page titles with " | SiteName"; strip it.
var siteSuffixRe = regexp.MustCompile(`\s+\|.*$`)

func (e *Extractor) extractTitle(doc *goquery.Document) string {
	if v, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok {
		if t := cleanTitle(v); t != "" {
			return t
		}
	}
	if t := cleanTitle(doc.Find("title").First().Text()); t != "" {
		return t
	}
	return status.UnknownTitle
}

func cleanTitle(raw string) string {
	t := strings.TrimSpace(raw)
	t = siteSuffixRe.ReplaceAllString(t, "")
	return strings.TrimSpace(t)
}

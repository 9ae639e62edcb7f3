package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Canonical status phrases, matched against lowercased flattened text.
var (
	cancelledRe  = regexp.MustCompile(`event cancelled|event canceled|event postponed`)
	terminatedRe = regexp.MustCompile(`ticket sales terminated|tickets are currently unavailable`)
	presaleRe    = regexp.MustCompile(`on sale soon|sale starts|presale`)

	// Page-wide banners, as opposed to a single tier's own label.
	bannerRe  = regexp.MustCompile(`this show is currently sold out|check back soon`)
	soldOutRe = regexp.MustCompile(`sold out`)
)

var buyLabelRe = regexp.MustCompile(`buy|add to cart|get tickets|purchase|checkout`)

// hasQuantityControls reports whether the page carries an active ticket
// quantity selector: an enabled numeric input, a quantity <select>, or an
// enabled buy button. These are treated as stronger evidence of
// availability than any sold-out text.
func hasQuantityControls(doc *goquery.Document) bool {
	found := false

	doc.Find(`input[type="number"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !isDisabled(s) {
			found = true
			return false
		}
		return true
	})
	if found {
		return true
	}

	doc.Find("select").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if isDisabled(s) {
			return true
		}
		id, _ := s.Attr("id")
		name, _ := s.Attr("name")
		class, _ := s.Attr("class")
		probe := strings.ToLower(id + " " + name + " " + class)
		if strings.Contains(probe, "qty") || strings.Contains(probe, "quantity") || strings.Contains(probe, "ticket") {
			found = true
			return false
		}
		return true
	})
	if found {
		return true
	}

	doc.Find(`button, input[type="submit"], a.button, a.btn`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if isDisabled(s) {
			return true
		}
		label := strings.ToLower(strings.TrimSpace(s.Text()))
		if label == "" {
			v, _ := s.Attr("value")
			label = strings.ToLower(strings.TrimSpace(v))
		}
		if label != "" && buyLabelRe.MatchString(label) {
			found = true
			return false
		}
		return true
	})
	return found
}

func isDisabled(s *goquery.Selection) bool {
	if _, ok := s.Attr("disabled"); ok {
		return true
	}
	if v, ok := s.Attr("aria-disabled"); ok && strings.EqualFold(v, "true") {
		return true
	}
	return false
}

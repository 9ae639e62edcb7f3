package pipeline

import (
	"math/rand"
	"time"
)

// Selector picks which URLs a capped run fetches. URLs that failed last
// run always make the cut; the remaining slots go to a random sample of
// the rest, so a large catalog is covered across consecutive runs.
type Selector struct {
	rng *rand.Rand
}

// NewSelector builds a Selector. A nil source seeds from the clock;
// tests inject their own for determinism.
func NewSelector(rng *rand.Rand) *Selector {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Selector{rng: rng}
}

// Select returns the URLs to fetch this run. target <= 0 or >= len(all)
// selects everything, in order. Previously failed URLs keep their list
// order; they are always included even past the target.
func (s *Selector) Select(all, failed []string, target int) []string {
	if target <= 0 || target >= len(all) {
		return append([]string(nil), all...)
	}

	failedSet := make(map[string]struct{}, len(failed))
	for _, u := range failed {
		failedSet[u] = struct{}{}
	}

	var priority, rest []string
	for _, u := range all {
		if _, ok := failedSet[u]; ok {
			priority = append(priority, u)
		} else {
			rest = append(rest, u)
		}
	}

	selected := append([]string(nil), priority...)
	remaining := target - len(priority)
	if remaining > 0 && len(rest) > 0 {
		shuffled := append([]string(nil), rest...)
		s.rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		if remaining > len(shuffled) {
			remaining = len(shuffled)
		}
		selected = append(selected, shuffled[:remaining]...)
	}
	return selected
}

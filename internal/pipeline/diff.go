package pipeline

import (
	"sort"

	"github.com/pedeee/ticketwatch/internal/state"
	"github.com/pedeee/ticketwatch/internal/status"
)

// Diff compares fresh statuses against the previous state and returns
// one Change per URL whose formatted status text differs. URLs absent
// from old diff against the unknown baseline, so a first sighting only
// reports once it resolves to something concrete.
func Diff(old, fresh state.State) []status.Change {
	urls := make([]string, 0, len(fresh))
	for u := range fresh {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	var changes []status.Change
	for _, u := range urls {
		now := fresh[u]
		oldText := status.FormatStatus(old[u])
		newText := status.FormatStatus(now)
		if oldText == newText {
			continue
		}
		changes = append(changes, status.Change{
			Title:     now.Title,
			URL:       u,
			OldStatus: oldText,
			NewStatus: newText,
			EventDate: now.EventDate,
		})
	}
	return changes
}

// SortChanges orders changes by event date ascending, undated last,
// preserving input order within ties.
func SortChanges(changes []status.Change) {
	sort.SliceStable(changes, func(i, j int) bool {
		di, dj := changes[i].EventDate, changes[j].EventDate
		switch {
		case di == nil:
			return false
		case dj == nil:
			return true
		default:
			return di.Before(*dj)
		}
	})
}

// Merge overlays fresh onto old without dropping unseen URLs, so a
// capped run never erases events it did not visit.
func Merge(old, fresh state.State) state.State {
	merged := old.Clone()
	for u, st := range fresh {
		merged[u] = st
	}
	return merged
}

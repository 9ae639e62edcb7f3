package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pedeee/ticketwatch/internal/config"
	"github.com/pedeee/ticketwatch/internal/state"
)

type urlsFlags struct {
	File string
}

// newURLsCmd groups the watch-list maintenance subcommands.
func newURLsCmd(a *app) *cobra.Command {
	flags := &urlsFlags{}
	cmd := &cobra.Command{
		Use:   "urls",
		Short: "Maintain the watch list",
		Long: `The urls subcommands edit and inspect the URL file without fetching
anything. Date and title annotations come from the state persisted by
previous runs.`,
	}
	cmd.PersistentFlags().StringVar(&flags.File, "file", "", "URL file to maintain (default: the configured url_file)")

	cmd.AddCommand(
		newURLsAddCmd(a, flags),
		newURLsRemoveCmd(a, flags),
		newURLsListCmd(a, flags),
		newURLsValidateCmd(a, flags),
		newURLsCleanCmd(a, flags),
		newURLsSortCmd(a, flags),
		newURLsStatsCmd(a, flags),
	)
	return cmd
}

func urlsPaths(a *app, flags *urlsFlags) config.PathsConfig {
	if flags.File != "" {
		return a.cfg.Paths.ForURLFile(flags.File)
	}
	return a.cfg.Paths
}

// loadListAndState reads the URL file and its sibling state. The state
// file being absent is fine; an empty state just means no annotations.
func loadListAndState(a *app, flags *urlsFlags) ([]string, state.State, config.PathsConfig, error) {
	paths := urlsPaths(a, flags)
	urls, err := state.LoadURLs(paths.URLFile)
	if err != nil {
		return nil, nil, paths, err
	}
	st, err := state.NewFileStore(paths.StateFile, paths.FailedFile, a.log.Named("state")).LoadState()
	if err != nil {
		return nil, nil, paths, err
	}
	return urls, st, paths, nil
}

func newURLsAddCmd(a *app, flags *urlsFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "add <url> [url...]",
		Short: "Add URLs to the watch list, skipping duplicates",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := urlsPaths(a, flags)
			urls, err := state.LoadURLs(paths.URLFile)
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			seen := make(map[string]bool, len(urls))
			for _, u := range urls {
				seen[u] = true
			}

			out := cmd.OutOrStdout()
			added := 0
			for _, raw := range args {
				u := strings.TrimSpace(raw)
				if verr := state.ValidateURL(u); verr != nil {
					return fmt.Errorf("%s: %w", u, verr)
				}
				if seen[u] {
					fmt.Fprintf(out, "already tracked: %s\n", u)
					continue
				}
				urls = append(urls, u)
				seen[u] = true
				added++
			}

			if added > 0 {
				if err := state.SaveURLs(paths.URLFile, urls); err != nil {
					return err
				}
			}
			fmt.Fprintf(out, "added %d of %d; %d URLs tracked\n", added, len(args), len(urls))
			return nil
		},
	}
}

func newURLsRemoveCmd(a *app, flags *urlsFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <url> [url...]",
		Short: "Remove URLs from the watch list",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := urlsPaths(a, flags)
			urls, err := state.LoadURLs(paths.URLFile)
			if err != nil {
				return err
			}

			drop := make(map[string]bool, len(args))
			for _, raw := range args {
				drop[strings.TrimSpace(raw)] = true
			}

			kept := urls[:0]
			for _, u := range urls {
				if drop[u] {
					delete(drop, u)
					continue
				}
				kept = append(kept, u)
			}

			out := cmd.OutOrStdout()
			for u := range drop {
				fmt.Fprintf(out, "not tracked: %s\n", u)
			}

			removed := len(urls) - len(kept)
			if removed > 0 {
				if err := state.SaveURLs(paths.URLFile, kept); err != nil {
					return err
				}
			}
			fmt.Fprintf(out, "removed %d; %d URLs tracked\n", removed, len(kept))
			return nil
		},
	}
}

func newURLsListCmd(a *app, flags *urlsFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tracked events grouped by month",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			urls, st, _, err := loadListAndState(a, flags)
			if err != nil {
				return err
			}
			printGroupedList(cmd.OutOrStdout(), urls, st)
			return nil
		},
	}
}

func newURLsValidateCmd(a *app, flags *urlsFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check every URL in the list for a fetchable shape",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths := urlsPaths(a, flags)
			urls, err := state.LoadURLs(paths.URLFile)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			bad := 0
			for _, u := range urls {
				if verr := state.ValidateURL(u); verr != nil {
					fmt.Fprintf(out, "invalid: %s (%v)\n", u, verr)
					bad++
				}
			}
			if bad > 0 {
				return fmt.Errorf("%d of %d URLs invalid", bad, len(urls))
			}
			fmt.Fprintf(out, "all %d URLs valid\n", len(urls))
			return nil
		},
	}
}

func newURLsCleanCmd(a *app, flags *urlsFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Drop events whose date has passed",
		Long: `Clean removes URLs whose persisted event date is in the past and
rewrites the file, which also drops duplicate lines. URLs without a
known date are kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			urls, st, paths, err := loadListAndState(a, flags)
			if err != nil {
				return err
			}

			active, past := state.CleanPast(urls, st, time.Now().UTC())
			out := cmd.OutOrStdout()
			if len(past) == 0 {
				fmt.Fprintf(out, "nothing to clean; %d URLs tracked\n", len(active))
				return nil
			}

			for _, u := range past {
				entry := st[u]
				title := entry.Title
				if title == "" {
					title = state.UnknownEventLabel
				}
				fmt.Fprintf(out, "removing: %s (%s)\n", title, entry.EventDate.Format("Jan 02 2006"))
			}
			if err := state.SaveURLs(paths.URLFile, active); err != nil {
				return err
			}
			fmt.Fprintf(out, "removed %d past events; %d URLs tracked\n", len(past), len(active))
			return nil
		},
	}
}

func newURLsSortCmd(a *app, flags *urlsFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sort",
		Short: "Rewrite the list ordered by event date with month headers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			urls, st, paths, err := loadListAndState(a, flags)
			if err != nil {
				return err
			}
			if err := state.SaveSorted(paths.URLFile, urls, st); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sorted %d URLs by event date\n", len(urls))
			return nil
		},
	}
}

func newURLsStatsCmd(a *app, flags *urlsFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the watch list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			urls, st, _, err := loadListAndState(a, flags)
			if err != nil {
				return err
			}

			s := state.ComputeStats(urls, st, time.Now().UTC())
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "total URLs:     %d\n", s.Total)
			fmt.Fprintf(out, "with dates:     %d\n", s.Dated)
			fmt.Fprintf(out, "without dates:  %d\n", s.Undated)
			fmt.Fprintf(out, "upcoming:       %d\n", s.Upcoming)
			fmt.Fprintf(out, "past:           %d\n", s.Past)
			fmt.Fprintf(out, "sold out:       %d\n", s.SoldOut)
			if len(s.ByMonth) > 0 {
				fmt.Fprintln(out, "\nevents by month:")
				for _, m := range s.ByMonth {
					fmt.Fprintf(out, "  %s: %d\n", m.Month, m.Count)
				}
			}
			return nil
		},
	}
}

// printGroupedList renders the list the way the sorted URL file is
// laid out: chronological month sections, then undated events.
func printGroupedList(out io.Writer, urls []string, st state.State) {
	if len(urls) == 0 {
		fmt.Fprintln(out, "no URLs tracked")
		return
	}
	fmt.Fprintf(out, "%d events tracked\n", len(urls))

	type entry struct {
		title string
		when  *time.Time
		url   string
	}
	type monthGroup struct {
		start   time.Time
		label   string
		entries []entry
	}

	groups := make(map[time.Time]*monthGroup)
	var undated []entry

	for _, u := range urls {
		e := entry{title: state.UnknownEventLabel, url: u}
		if info, ok := st[u]; ok {
			if info.Title != "" {
				e.title = info.Title
			}
			e.when = info.EventDate
		}
		if e.when == nil {
			undated = append(undated, e)
			continue
		}
		start := time.Date(e.when.Year(), e.when.Month(), 1, 0, 0, 0, 0, time.UTC)
		g, ok := groups[start]
		if !ok {
			g = &monthGroup{start: start, label: e.when.Format("January 2006")}
			groups[start] = g
		}
		g.entries = append(g.entries, e)
	}

	ordered := make([]*monthGroup, 0, len(groups))
	for _, g := range groups {
		ordered = append(ordered, g)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].start.Before(ordered[j].start) })

	for _, g := range ordered {
		sort.SliceStable(g.entries, func(i, j int) bool { return g.entries[i].when.Before(*g.entries[j].when) })
		fmt.Fprintf(out, "\n=== %s ===\n", g.label)
		for _, e := range g.entries {
			fmt.Fprintf(out, "  %s - %s\n    %s\n", e.title, e.when.Format("Jan 02"), e.url)
		}
	}

	if len(undated) > 0 {
		fmt.Fprintln(out, "\n=== Events without dates ===")
		for _, e := range undated {
			fmt.Fprintf(out, "  %s\n    %s\n", e.title, e.url)
		}
	}
}

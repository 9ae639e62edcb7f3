package main

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pedeee/ticketwatch/internal/state"
)

type batchFlags struct {
	Dir string
}

// newBatchCmd groups maintenance of the batch-file directory. Batches
// split a large watch list into fixed-size files that run with isolated
// state, so a scheduler can spread them across the day.
func newBatchCmd(a *app) *cobra.Command {
	flags := &batchFlags{}
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Maintain fixed-size batch files of the watch list",
		Long: `The batch subcommands split the master URL file into numbered batch
files (batch1.txt, batch2.txt, ...) inside the batch directory. Each
batch keeps its own state in sibling files, so batches can run on
separate schedules without stepping on each other.`,
	}
	cmd.PersistentFlags().StringVar(&flags.Dir, "dir", "", "batch directory (default: the configured batch_dir)")

	cmd.AddCommand(
		newBatchInitCmd(a, flags),
		newBatchListCmd(a, flags),
		newBatchStatsCmd(a, flags),
		newBatchBalanceCmd(a, flags),
		newBatchRunCmd(a, flags),
	)
	return cmd
}

func batchDir(a *app, flags *batchFlags) string {
	if flags.Dir != "" {
		return flags.Dir
	}
	return a.cfg.Paths.BatchDir
}

// batchFiles lists the directory's batch files in numeric order. A
// missing directory is just an empty batch set.
func batchFiles(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "batch*.txt"))
	if err != nil {
		return nil, fmt.Errorf("scan batch dir %s: %w", dir, err)
	}
	sort.Slice(matches, func(i, j int) bool { return batchNumber(matches[i]) < batchNumber(matches[j]) })
	return matches, nil
}

func batchNumber(path string) int {
	name := strings.TrimSuffix(filepath.Base(path), ".txt")
	n, err := strconv.Atoi(strings.TrimPrefix(name, "batch"))
	if err != nil {
		return math.MaxInt
	}
	return n
}

func batchPath(dir string, n int) string {
	return filepath.Join(dir, fmt.Sprintf("batch%d.txt", n))
}

func splitBatches(urls []string, size int) [][]string {
	var chunks [][]string
	for start := 0; start < len(urls); start += size {
		end := start + size
		if end > len(urls) {
			end = len(urls)
		}
		chunks = append(chunks, urls[start:end])
	}
	return chunks
}

func newBatchInitCmd(a *app, flags *batchFlags) *cobra.Command {
	var size int
	var from string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Split the master URL file into batch files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir := batchDir(a, flags)
			existing, err := batchFiles(dir)
			if err != nil {
				return err
			}
			if len(existing) > 0 {
				return fmt.Errorf("%s already has %d batch files; use `batch balance` to re-split", dir, len(existing))
			}

			master := from
			if master == "" {
				master = a.cfg.Paths.URLFile
			}
			urls, err := state.LoadURLs(master)
			if err != nil {
				return err
			}
			if len(urls) == 0 {
				return fmt.Errorf("no URLs in %s", master)
			}

			if err := os.MkdirAll(dir, 0o750); err != nil {
				return fmt.Errorf("create batch dir %s: %w", dir, err)
			}

			out := cmd.OutOrStdout()
			chunks := splitBatches(urls, size)
			for i, chunk := range chunks {
				path := batchPath(dir, i+1)
				if err := state.SaveURLs(path, chunk); err != nil {
					return err
				}
				fmt.Fprintf(out, "created %s with %d URLs\n", filepath.Base(path), len(chunk))
			}
			fmt.Fprintf(out, "split %d URLs into %d batches\n", len(urls), len(chunks))
			return nil
		},
	}
	cmd.Flags().IntVar(&size, "size", 75, "URLs per batch")
	cmd.Flags().StringVar(&from, "from", "", "master URL file to split (default: the configured url_file)")
	return cmd
}

func newBatchListCmd(a *app, flags *batchFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List batch files with their URL counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir := batchDir(a, flags)
			files, err := batchFiles(dir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(files) == 0 {
				fmt.Fprintf(out, "no batch files in %s\n", dir)
				return nil
			}

			total := 0
			for _, f := range files {
				urls, err := state.LoadURLs(f)
				if err != nil {
					fmt.Fprintf(out, "%s: unreadable (%v)\n", filepath.Base(f), err)
					continue
				}
				st := loadBatchState(a, f)
				dated := 0
				for _, u := range urls {
					if info, ok := st[u]; ok && info.EventDate != nil {
						dated++
					}
				}
				total += len(urls)
				fmt.Fprintf(out, "%s: %d URLs (%d dated, %d undated)\n",
					filepath.Base(f), len(urls), dated, len(urls)-dated)
			}
			fmt.Fprintf(out, "total: %d URLs across %d batches\n", total, len(files))
			return nil
		},
	}
}

func newBatchStatsCmd(a *app, flags *batchFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize all batches as one watch list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir := batchDir(a, flags)
			files, err := batchFiles(dir)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no batch files in %s", dir)
			}

			var all []string
			merged := state.State{}
			seen := make(map[string]bool)
			for _, f := range files {
				urls, err := state.LoadURLs(f)
				if err != nil {
					continue
				}
				for _, u := range urls {
					if seen[u] {
						continue
					}
					seen[u] = true
					all = append(all, u)
				}
				for u, info := range loadBatchState(a, f) {
					merged[u] = info
				}
			}

			s := state.ComputeStats(all, merged, time.Now().UTC())
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "batches:        %d\n", len(files))
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

func newBatchBalanceCmd(a *app, flags *batchFlags) *cobra.Command {
	var size int
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Re-split URLs evenly across batch files",
		Long: `Balance gathers every URL from every batch file, drops duplicates,
and rewrites the batches at the target size. Stale higher-numbered
batch files are deleted so no URL is watched twice.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir := batchDir(a, flags)
			files, err := batchFiles(dir)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no batch files in %s", dir)
			}

			var all []string
			seen := make(map[string]bool)
			for _, f := range files {
				urls, err := state.LoadURLs(f)
				if err != nil {
					continue
				}
				for _, u := range urls {
					if seen[u] {
						continue
					}
					seen[u] = true
					all = append(all, u)
				}
			}
			if len(all) == 0 {
				return fmt.Errorf("no URLs found in %s", dir)
			}

			out := cmd.OutOrStdout()
			chunks := splitBatches(all, size)
			for i, chunk := range chunks {
				if err := state.SaveURLs(batchPath(dir, i+1), chunk); err != nil {
					return err
				}
			}
			for _, f := range files {
				if batchNumber(f) > len(chunks) {
					if err := os.Remove(f); err != nil {
						return fmt.Errorf("remove stale batch %s: %w", f, err)
					}
					fmt.Fprintf(out, "removed stale %s\n", filepath.Base(f))
				}
			}
			fmt.Fprintf(out, "balanced %d URLs across %d batches (~%d each)\n",
				len(all), len(chunks), size)
			return nil
		},
	}
	cmd.Flags().IntVar(&size, "size", 75, "URLs per batch")
	return cmd
}

func newBatchRunCmd(a *app, flags *batchFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run [batch]",
		Short: "Run the engine over batch files in batch mode",
		Long: `Run executes one watch cycle per batch file, fetching every URL in
the batch. The batch may be named by number (3) or file (batch3.txt);
with no argument every batch runs in order.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := batchDir(a, flags)

			var files []string
			if len(args) == 1 {
				path, err := resolveBatch(dir, args[0])
				if err != nil {
					return err
				}
				files = []string{path}
			} else {
				var err error
				files, err = batchFiles(dir)
				if err != nil {
					return err
				}
				if len(files) == 0 {
					return fmt.Errorf("no batch files in %s", dir)
				}
			}

			out := cmd.OutOrStdout()
			failed := 0
			for _, f := range files {
				if cmd.Context().Err() != nil {
					break
				}
				fmt.Fprintf(out, "running %s\n", filepath.Base(f))
				opts := runOptions{
					Paths:     a.cfg.Paths.ForURLFile(f),
					BatchMode: true,
				}
				if err := executeRun(cmd.Context(), a, opts, out); err != nil {
					failed++
					fmt.Fprintf(out, "%s failed: %v\n", filepath.Base(f), err)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d batches failed", failed, len(files))
			}
			return nil
		},
	}
}

// resolveBatch accepts a batch number, a batch file name, or a path.
func resolveBatch(dir, arg string) (string, error) {
	if n, err := strconv.Atoi(arg); err == nil {
		path := batchPath(dir, n)
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("batch %d: %w", n, err)
		}
		return path, nil
	}
	candidates := []string{filepath.Join(dir, arg), arg}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("batch %s not found in %s", arg, dir)
}

// loadBatchState reads the state persisted beside one batch file.
// Missing state is fine; the batch just has no annotations yet.
func loadBatchState(a *app, batchFile string) state.State {
	paths := a.cfg.Paths.ForURLFile(batchFile)
	st, err := state.NewFileStore(paths.StateFile, paths.FailedFile, a.log.Named("state")).LoadState()
	if err != nil {
		return state.State{}
	}
	return st
}

// Package state persists watch results between runs: the per-URL status
// map, the failed-URL carryover file, and the URL list itself.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/pedeee/ticketwatch/internal/fetch"
	"github.com/pedeee/ticketwatch/internal/status"
)

// State maps a watched URL to its last extracted status. The JSON form
// is the state file format; field names are stable across runs.
type State map[string]status.EventStatus

// Clone returns a copy that can be mutated without touching s.
func (s State) Clone() State {
	out := make(State, len(s))
	for url, st := range s {
		out[url] = st
	}
	return out
}

// Failure describes one URL's terminal fetch failure within a run. Only
// the URL list is persisted; reasons live in logs and run history.
type Failure struct {
	Reason    fetch.Reason `json:"reason"`
	Detail    string       `json:"detail,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// ErrCorrupt marks a state file that exists but cannot be parsed. Runs
// must not proceed past it: overwriting the file would silently drop
// every tracked event.
var ErrCorrupt = errors.New("state file corrupt")

// Store loads and persists watch state between runs.
type Store interface {
	LoadState() (State, error)
	SaveState(State) error
	LoadFailedURLs() []string
	SaveFailures(map[string]Failure) error
}

// FileStore keeps state in JSON files next to the URL list, matching
// the layout earlier tooling wrote.
type FileStore struct {
	statePath  string
	failedPath string
	log        *zap.Logger
	now        func() time.Time
}

// NewFileStore builds a FileStore writing to the given paths.
func NewFileStore(statePath, failedPath string, log *zap.Logger) *FileStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &FileStore{
		statePath:  statePath,
		failedPath: failedPath,
		log:        log,
		now:        time.Now,
	}
}

// LoadState reads the state file. A missing file is an empty state; an
// unparseable one returns ErrCorrupt.
func (s *FileStore) LoadState() (State, error) {
	data, err := os.ReadFile(s.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, nil
		}
		return nil, fmt.Errorf("read state %s: %w", s.statePath, err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.statePath, err)
	}
	if st == nil {
		st = State{}
	}
	return st, nil
}

// SaveState writes the full state atomically.
func (s *FileStore) SaveState(st State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := writeFileAtomic(s.statePath, append(data, '\n')); err != nil {
		return fmt.Errorf("write state %s: %w", s.statePath, err)
	}
	return nil
}

// failedFile is the on-disk carryover format. Prior tooling reads it,
// so the shape stays put.
type failedFile struct {
	FailedURLs []string `json:"failed_urls"`
	Timestamp  string   `json:"timestamp"`
	Count      int      `json:"count"`
}

// LoadFailedURLs returns the URLs that failed last run. The carryover
// file is advisory: any read or parse problem yields an empty list.
func (s *FileStore) LoadFailedURLs() []string {
	data, err := os.ReadFile(s.failedPath)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("failed-url file unreadable", zap.String("path", s.failedPath), zap.Error(err))
		}
		return nil
	}
	var f failedFile
	if err := json.Unmarshal(data, &f); err != nil {
		s.log.Warn("failed-url file unparseable", zap.String("path", s.failedPath), zap.Error(err))
		return nil
	}
	return f.FailedURLs
}

// SaveFailures records this run's failed URLs for priority next run.
func (s *FileStore) SaveFailures(failures map[string]Failure) error {
	urls := make([]string, 0, len(failures))
	for url := range failures {
		urls = append(urls, url)
	}
	sort.Strings(urls)

	f := failedFile{
		FailedURLs: urls,
		Timestamp:  s.now().Format(time.RFC3339),
		Count:      len(urls),
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal failed urls: %w", err)
	}
	if err := writeFileAtomic(s.failedPath, append(data, '\n')); err != nil {
		return fmt.Errorf("write failed urls %s: %w", s.failedPath, err)
	}
	return nil
}

// writeFileAtomic writes via a temp file and rename so readers never
// observe a half-written file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

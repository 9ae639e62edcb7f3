package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pedeee/ticketwatch/internal/metrics"
	"github.com/pedeee/ticketwatch/internal/state"
	"github.com/pedeee/ticketwatch/internal/status"
)

// Notifier delivers the run's changes to a human-facing channel.
type Notifier interface {
	Push(ctx context.Context, changes []status.Change, sum RunSummary) error
}

// Publisher emits the run outcome to an external bus for downstream
// consumers.
type Publisher interface {
	Publish(ctx context.Context, sum RunSummary, changes []status.Change, failedURLs []string) error
}

// Archiver stores raw pages whose status changed.
type Archiver interface {
	Save(ctx context.Context, rawURL string, page []byte) error
}

// Recorder persists run history rows.
type Recorder interface {
	RecordRun(ctx context.Context, sum RunSummary, changes []status.Change) error
}

// RunSummary captures one engine run's counters.
type RunSummary struct {
	RunID       uuid.UUID
	StartedAt   time.Time
	FinishedAt  time.Time
	Selected    int
	Succeeded   int
	Failed      int
	Changed     int
	Interrupted bool
}

// SuccessRate is the fraction of selected URLs that produced a status.
func (s RunSummary) SuccessRate() float64 {
	if s.Selected == 0 {
		return 1
	}
	return float64(s.Succeeded) / float64(s.Selected)
}

// Report is the outcome of one run.
type Report struct {
	Summary  RunSummary
	Changes  []status.Change
	Failures map[string]state.Failure
	State    state.State
}

// EngineConfig names the run-shaping knobs.
type EngineConfig struct {
	URLFile     string
	TargetCount int
	BatchMode   bool
}

// EngineDeps carries the engine's collaborators. Store, Selector and
// Fetcher are required; the rest are optional and skipped when nil.
type EngineDeps struct {
	Store     state.Store
	Selector  *Selector
	Fetcher   *Fetcher
	Log       *zap.Logger
	Notifiers []Notifier
	Publisher Publisher
	Snapshots Archiver
	History   Recorder
}

// Engine orchestrates one watch run: select, fetch, diff, persist,
// emit.
type Engine struct {
	cfg       EngineConfig
	store     state.Store
	selector  *Selector
	fetcher   *Fetcher
	log       *zap.Logger
	now       func() time.Time
	notifiers []Notifier
	publisher Publisher
	snapshots Archiver
	history   Recorder
}

// NewEngine builds an Engine.
func NewEngine(cfg EngineConfig, deps EngineDeps) *Engine {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		cfg:       cfg,
		store:     deps.Store,
		selector:  deps.Selector,
		fetcher:   deps.Fetcher,
		log:       log,
		now:       time.Now,
		notifiers: deps.Notifiers,
		publisher: deps.Publisher,
		snapshots: deps.Snapshots,
		history:   deps.History,
	}
}

// Run executes one watch cycle and reports what changed. A canceled
// context yields a partial but fully persisted run; a corrupt state
// file aborts before any fetch.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	urls, err := state.LoadURLs(e.cfg.URLFile)
	if err != nil {
		metrics.ObserveRun("aborted")
		return nil, err
	}
	old, err := e.store.LoadState()
	if err != nil {
		metrics.ObserveRun("aborted")
		return nil, fmt.Errorf("load state: %w", err)
	}
	failed := e.store.LoadFailedURLs()

	selected := urls
	if !e.cfg.BatchMode {
		selected = e.selector.Select(urls, failed, e.cfg.TargetCount)
	}

	sum := RunSummary{RunID: uuid.New(), StartedAt: e.now(), Selected: len(selected)}
	e.log.Info("run starting",
		zap.String("run_id", sum.RunID.String()),
		zap.Int("urls", len(urls)),
		zap.Int("selected", len(selected)),
		zap.Int("priority", len(failed)),
		zap.Bool("batch", e.cfg.BatchMode),
	)

	hooks := Hooks{
		OnResult: e.snapshotObserver(ctx, old),
		OnCheckpoint: func(partial state.State) {
			if err := e.store.SaveState(Merge(old, partial)); err != nil {
				e.log.Warn("checkpoint save failed", zap.Error(err))
				return
			}
			e.log.Debug("checkpoint saved", zap.Int("entries", len(partial)))
		},
	}

	fresh, failures := e.fetcher.FetchAll(ctx, selected, hooks)

	changes := Diff(old, fresh)
	SortChanges(changes)
	merged := Merge(old, fresh)

	if err := e.store.SaveState(merged); err != nil {
		metrics.ObserveRun("aborted")
		return nil, fmt.Errorf("save state: %w", err)
	}
	if err := e.store.SaveFailures(failures); err != nil {
		e.log.Warn("failed-url save failed", zap.Error(err))
	}
	if len(fresh) > 0 {
		if err := state.SaveSorted(e.cfg.URLFile, urls, merged); err != nil {
			e.log.Warn("url re-sort failed", zap.Error(err))
		}
	}

	sum.FinishedAt = e.now()
	sum.Succeeded = len(fresh)
	sum.Failed = len(failures)
	sum.Changed = len(changes)
	sum.Interrupted = ctx.Err() != nil

	e.observeRun(sum, merged, changes)
	e.emit(ctx, sum, changes, failures)

	e.log.Info("run finished",
		zap.String("run_id", sum.RunID.String()),
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
		zap.Int("changes", sum.Changed),
		zap.Bool("interrupted", sum.Interrupted),
		zap.Duration("duration", sum.FinishedAt.Sub(sum.StartedAt)),
	)

	return &Report{Summary: sum, Changes: changes, Failures: failures, State: merged}, nil
}

func (e *Engine) observeRun(sum RunSummary, merged state.State, changes []status.Change) {
	metrics.AddChanges(len(changes))
	soldOut := 0
	for _, st := range merged {
		if st.SoldOut {
			soldOut++
		}
	}
	metrics.SetTracked(len(merged), soldOut)
	result := "completed"
	if sum.Interrupted {
		result = "interrupted"
	}
	metrics.ObserveRun(result)
}

// snapshotObserver archives the raw page whenever a URL's formatted
// status moved, so there is evidence of what the page said.
func (e *Engine) snapshotObserver(ctx context.Context, old state.State) func(string, status.EventStatus, []byte) {
	if e.snapshots == nil {
		return nil
	}
	return func(url string, st status.EventStatus, page []byte) {
		if status.FormatStatus(old[url]) == status.FormatStatus(st) {
			return
		}
		if err := e.snapshots.Save(ctx, url, page); err != nil {
			e.log.Warn("snapshot save failed", zap.String("url", url), zap.Error(err))
		}
	}
}

// emit hands the outcome to the optional collaborators. Failures are
// logged, never fatal: the run's own persistence already happened.
func (e *Engine) emit(ctx context.Context, sum RunSummary, changes []status.Change, failures map[string]state.Failure) {
	// Collaborators still run after an interrupt, bounded.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	failedURLs := make([]string, 0, len(failures))
	for u := range failures {
		failedURLs = append(failedURLs, u)
	}
	sort.Strings(failedURLs)

	for _, n := range e.notifiers {
		if err := n.Push(ctx, changes, sum); err != nil {
			e.log.Warn("notifier push failed", zap.Error(err))
		}
	}
	if e.publisher != nil {
		if err := e.publisher.Publish(ctx, sum, changes, failedURLs); err != nil {
			e.log.Warn("publish failed", zap.Error(err))
		}
	}
	if e.history != nil {
		if err := e.history.RecordRun(ctx, sum, changes); err != nil {
			e.log.Warn("history record failed", zap.Error(err))
		}
	}
}

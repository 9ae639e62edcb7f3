package notify

import (
	"context"
	"sync"

	"github.com/pedeee/ticketwatch/internal/pipeline"
	"github.com/pedeee/ticketwatch/internal/status"
)

// MemoryNotifier records pushes for inspection in tests.
type MemoryNotifier struct {
	mu     sync.RWMutex
	pushes []MemoryPush
}

// MemoryPush captures one Push call.
type MemoryPush struct {
	Changes []status.Change
	Summary pipeline.RunSummary
}

// NewMemoryNotifier returns an empty MemoryNotifier.
func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{}
}

// Push records the call.
func (n *MemoryNotifier) Push(_ context.Context, changes []status.Change, sum pipeline.RunSummary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pushes = append(n.pushes, MemoryPush{
		Changes: append([]status.Change(nil), changes...),
		Summary: sum,
	})
	return nil
}

// Pushes returns the recorded calls.
func (n *MemoryNotifier) Pushes() []MemoryPush {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]MemoryPush, len(n.pushes))
	copy(out, n.pushes)
	return out
}

// MemoryPublisher records published outcomes for inspection in tests.
type MemoryPublisher struct {
	mu       sync.RWMutex
	outcomes []Outcome
}

// NewMemoryPublisher returns an empty MemoryPublisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish records the outcome.
func (p *MemoryPublisher) Publish(_ context.Context, sum pipeline.RunSummary, changes []status.Change, failedURLs []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcomes = append(p.outcomes, NewOutcome(sum, changes, failedURLs))
	return nil
}

// Outcomes returns the recorded publishes.
func (p *MemoryPublisher) Outcomes() []Outcome {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Outcome, len(p.outcomes))
	copy(out, p.outcomes)
	return out
}

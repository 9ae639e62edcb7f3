package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pedeee/ticketwatch/internal/pipeline"
	"github.com/pedeee/ticketwatch/internal/status"
)

func outcomeSummary() pipeline.RunSummary {
	started := time.Unix(1700000000, 0).UTC()
	return pipeline.RunSummary{
		RunID:      uuid.MustParse("7a9f9d14-2d58-4f0e-a6cf-5a2ef0a2b9d1"),
		StartedAt:  started,
		FinishedAt: started.Add(90 * time.Second),
		Selected:   20,
		Succeeded:  18,
		Failed:     2,
		Changed:    1,
	}
}

func TestNewOutcome(t *testing.T) {
	t.Parallel()

	sum := outcomeSummary()
	changes := []status.Change{{
		Title:     "Alpha Night",
		URL:       "https://tix.example/ev/001",
		OldStatus: "$30.00",
		NewStatus: "$45.00",
	}}
	failed := []string{"https://tix.example/ev/002"}

	out := NewOutcome(sum, changes, failed)

	assert.Equal(t, "7a9f9d14-2d58-4f0e-a6cf-5a2ef0a2b9d1", out.RunID)
	assert.Equal(t, sum.StartedAt, out.StartedAt)
	assert.Equal(t, sum.FinishedAt, out.FinishedAt)
	assert.Equal(t, 20, out.Selected)
	assert.Equal(t, 18, out.Succeeded)
	assert.Equal(t, 2, out.Failed)
	assert.InDelta(t, 0.9, out.SuccessRate, 0.0001)
	assert.Equal(t, changes, out.Changes)
	assert.Equal(t, failed, out.FailedURLs)
}

func TestOutcomeJSONKeys(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(NewOutcome(outcomeSummary(), nil, nil))
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))

	for _, key := range []string{
		"run_id", "started_at", "finished_at",
		"selected", "succeeded", "failed",
		"success_rate", "interrupted", "changes", "failed_urls",
	} {
		assert.Contains(t, doc, key)
	}
}

func TestLogNotifierPushNilLogger(t *testing.T) {
	t.Parallel()

	n := NewLogNotifier(nil)
	changes := []status.Change{{Title: "Alpha Night", OldStatus: "$30.00", NewStatus: "$45.00"}}
	require.NoError(t, n.Push(context.Background(), changes, outcomeSummary()))
}

func TestMemoryNotifierRecordsPushes(t *testing.T) {
	t.Parallel()

	n := NewMemoryNotifier()
	changes := []status.Change{{Title: "Alpha Night"}}
	require.NoError(t, n.Push(context.Background(), changes, outcomeSummary()))

	// Mutating the caller's slice must not reach the recorded copy.
	changes[0].Title = "mutated"

	pushes := n.Pushes()
	require.Len(t, pushes, 1)
	assert.Equal(t, "Alpha Night", pushes[0].Changes[0].Title)
	assert.Equal(t, 20, pushes[0].Summary.Selected)
}

func TestMemoryPublisherRecordsOutcomes(t *testing.T) {
	t.Parallel()

	p := NewMemoryPublisher()
	require.NoError(t, p.Publish(context.Background(), outcomeSummary(), nil, []string{"https://tix.example/ev/002"}))

	outcomes := p.Outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, []string{"https://tix.example/ev/002"}, outcomes[0].FailedURLs)
	assert.Equal(t, 18, outcomes[0].Succeeded)
}

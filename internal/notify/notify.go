// Package notify delivers run outcomes to operators and downstream
// systems: a log channel, a Telegram bot, and a Pub/Sub publisher.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pedeee/ticketwatch/internal/pipeline"
	"github.com/pedeee/ticketwatch/internal/status"
)

// Outcome is the JSON document describing one finished run.
type Outcome struct {
	RunID       string          `json:"run_id"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
	Selected    int             `json:"selected"`
	Succeeded   int             `json:"succeeded"`
	Failed      int             `json:"failed"`
	SuccessRate float64         `json:"success_rate"`
	Interrupted bool            `json:"interrupted"`
	Changes     []status.Change `json:"changes"`
	FailedURLs  []string        `json:"failed_urls"`
}

// NewOutcome assembles the published document for one run.
func NewOutcome(sum pipeline.RunSummary, changes []status.Change, failedURLs []string) Outcome {
	return Outcome{
		RunID:       sum.RunID.String(),
		StartedAt:   sum.StartedAt,
		FinishedAt:  sum.FinishedAt,
		Selected:    sum.Selected,
		Succeeded:   sum.Succeeded,
		Failed:      sum.Failed,
		SuccessRate: sum.SuccessRate(),
		Interrupted: sum.Interrupted,
		Changes:     changes,
		FailedURLs:  failedURLs,
	}
}

// LogNotifier writes changes to the run log. It is always registered,
// so a run with no other channel still reports somewhere.
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier builds a LogNotifier.
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogNotifier{log: log}
}

// Push logs every change plus a run summary line.
func (n *LogNotifier) Push(_ context.Context, changes []status.Change, sum pipeline.RunSummary) error {
	for _, c := range changes {
		n.log.Info("status change",
			zap.String("event", c.Title),
			zap.String("url", c.URL),
			zap.String("from", c.OldStatus),
			zap.String("to", c.NewStatus),
		)
	}
	n.log.Info("run outcome",
		zap.String("run_id", sum.RunID.String()),
		zap.Int("selected", sum.Selected),
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
		zap.Int("changes", len(changes)),
		zap.Float64("success_rate", sum.SuccessRate()),
	)
	return nil
}

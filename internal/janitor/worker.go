package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/creditgate/backend/internal/metrics"
)

// CleanupJobArgs is the periodic job that prunes advisory abuse state.
// Frequency traces and idle rate windows are disposable; the durable
// ledger is never touched here.
type CleanupJobArgs struct{}

func (CleanupJobArgs) Kind() string { return "cleanup_abuse_state" }

// TracePruner deletes frequency traces older than the cutoff.
type TracePruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// WindowPruner deletes idle, unblocked rate windows.
type WindowPruner interface {
	DeleteIdle(ctx context.Context, cutoff time.Time) (int64, error)
}

type Worker struct {
	river.WorkerDefaults[CleanupJobArgs]
	Traces         TracePruner
	Windows        WindowPruner
	TraceRetention time.Duration
	Logger         *slog.Logger
}

func NewWorker(traces TracePruner, windows WindowPruner, traceRetention time.Duration, logger *slog.Logger) *Worker {
	return &Worker{Traces: traces, Windows: windows, TraceRetention: traceRetention, Logger: logger}
}

func (w *Worker) Work(ctx context.Context, job *river.Job[CleanupJobArgs]) error {
	cutoff := time.Now().UTC().Add(-w.TraceRetention)

	traces, err := w.Traces.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	metrics.JanitorPruned.WithLabelValues("frequency_traces").Add(float64(traces))

	// Windows idle for a full retention period carry no signal anymore.
	windows, err := w.Windows.DeleteIdle(ctx, cutoff)
	if err != nil {
		return err
	}
	metrics.JanitorPruned.WithLabelValues("rate_windows").Add(float64(windows))

	w.Logger.Info("janitor pass complete", "traces_pruned", traces, "windows_pruned", windows)
	return nil
}

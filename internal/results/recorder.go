package results

import (
	"context"
	"time"

	"github.com/wolfman30/dermassist/internal/observability/metrics"
	"github.com/wolfman30/dermassist/pkg/logging"
)

// Recorder is the best-effort boundary between the prediction workflow and
// durable storage: failures are logged and counted, never returned.
type Recorder struct {
	store   Store
	timeout time.Duration
	logger  *logging.Logger
	metrics *metrics.WorkflowMetrics
}

// NewRecorder wraps store. A nil store, or a MultiStore with no backends,
// turns Record into a no-op that reports false.
func NewRecorder(store Store, timeout time.Duration, logger *logging.Logger, m *metrics.WorkflowMetrics) *Recorder {
	if multi, ok := store.(*MultiStore); ok && multi.Len() == 0 {
		store = nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Recorder{store: store, timeout: timeout, logger: logger, metrics: m}
}

// Record writes rec detached from ctx's cancellation, bounded by the
// recorder timeout. It reports whether the write succeeded.
func (r *Recorder) Record(ctx context.Context, rec PredictionRecord) bool {
	if r == nil || r.store == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	start := time.Now()
	err := r.store.Record(ctx, rec)
	r.metrics.ObserveStage(metrics.StageRecord, err, time.Since(start).Seconds())
	if err != nil {
		r.logger.Error("failed to persist prediction",
			"error", err,
			"prediction_id", rec.ID.String(),
			"disease", rec.Disease,
			"language", string(rec.Language),
		)
		return false
	}
	r.logger.Info("prediction persisted",
		"prediction_id", rec.ID.String(),
		"disease", rec.Disease,
		"confidence", rec.RoundedConfidence(),
		"language", string(rec.Language),
	)
	return true
}

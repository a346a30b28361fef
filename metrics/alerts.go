package metrics

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/veridia/parley/config"
)

// AlertMonitor periodically compares counter deltas against configured
// thresholds and logs warnings when they are exceeded. Alerts are
// advisory only: they never pause or stop the pipeline.
type AlertMonitor struct {
	metrics  *Metrics
	logger   *zap.SugaredLogger
	interval time.Duration

	failureRateThreshold      float64
	quarantineGrowthThreshold int64

	last Snapshot
}

// NewAlertMonitor creates a monitor over the given counter set.
func NewAlertMonitor(m *Metrics, cfg config.MetricsConfig, logger *zap.SugaredLogger) *AlertMonitor {
	interval := time.Duration(cfg.CheckIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &AlertMonitor{
		metrics:                   m,
		logger:                    logger,
		interval:                  interval,
		failureRateThreshold:      cfg.FailureRateThreshold,
		quarantineGrowthThreshold: cfg.QuarantineGrowthThreshold,
	}
}

// Run evaluates thresholds on a ticker until ctx is cancelled.
func (a *AlertMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.last = a.metrics.Snapshot()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.check()
		}
	}
}

// check evaluates one window against the thresholds. Split out so tests can
// drive windows without a real ticker.
func (a *AlertMonitor) check() {
	current := a.metrics.Snapshot()
	window := delta(a.last, current)
	a.last = current

	if a.failureRateThreshold > 0 {
		rate := window.FailureRate()
		if window.Processed() > 0 && rate > a.failureRateThreshold {
			a.logger.Warnw("Validation failure rate above threshold",
				"failure_rate", rate,
				"threshold", a.failureRateThreshold,
				"window_processed", window.Processed(),
			)
		}
	}

	if a.quarantineGrowthThreshold > 0 && window.Quarantined > a.quarantineGrowthThreshold {
		a.logger.Warnw("Quarantine growth above threshold",
			"quarantined_in_window", window.Quarantined,
			"threshold", a.quarantineGrowthThreshold,
		)
	}

	if window.QuarantineFailures > 0 {
		a.logger.Errorw("Quarantine persistence failures detected",
			"failures_in_window", window.QuarantineFailures,
		)
	}
}

// delta computes per-window counter movement. The queue depth gauge carries
// the latest value rather than a difference.
func delta(prev, curr Snapshot) Snapshot {
	return Snapshot{
		Fetched:            curr.Fetched - prev.Fetched,
		FetchErrors:        curr.FetchErrors - prev.FetchErrors,
		Validated:          curr.Validated - prev.Validated,
		ValidationFailures: curr.ValidationFailures - prev.ValidationFailures,
		SecurityViolations: curr.SecurityViolations - prev.SecurityViolations,
		Duplicates:         curr.Duplicates - prev.Duplicates,
		Enqueued:           curr.Enqueued - prev.Enqueued,
		Quarantined:        curr.Quarantined - prev.Quarantined,
		QuarantineFailures: curr.QuarantineFailures - prev.QuarantineFailures,
		QueueDepth:         curr.QueueDepth,
	}
}

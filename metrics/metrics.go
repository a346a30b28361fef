// Package metrics tracks pipeline counters and raises threshold alerts.
// Collection is in-process only; counters are injected into the components
// that produce them and read by the alert monitor and the CLI.
package metrics

import (
	"sync/atomic"
)

// Metrics holds the pipeline's counters. All methods are safe for
// concurrent use; a nil *Metrics is a valid no-op sink so components never
// need to guard their instrumentation.
type Metrics struct {
	fetched            atomic.Int64
	fetchErrors        atomic.Int64
	validated          atomic.Int64
	validationFailures atomic.Int64
	securityViolations atomic.Int64
	duplicates         atomic.Int64
	enqueued           atomic.Int64
	quarantined        atomic.Int64
	quarantineFailures atomic.Int64
	queueDepth         atomic.Int64
}

// New creates an empty counter set.
func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) RecordFetched() {
	if m != nil {
		m.fetched.Add(1)
	}
}

func (m *Metrics) RecordFetchError() {
	if m != nil {
		m.fetchErrors.Add(1)
	}
}

func (m *Metrics) RecordValidated() {
	if m != nil {
		m.validated.Add(1)
	}
}

func (m *Metrics) RecordValidationFailure() {
	if m != nil {
		m.validationFailures.Add(1)
	}
}

func (m *Metrics) RecordSecurityViolation() {
	if m != nil {
		m.securityViolations.Add(1)
	}
}

func (m *Metrics) RecordDuplicate() {
	if m != nil {
		m.duplicates.Add(1)
	}
}

func (m *Metrics) RecordEnqueued() {
	if m != nil {
		m.enqueued.Add(1)
	}
}

func (m *Metrics) RecordQuarantined() {
	if m != nil {
		m.quarantined.Add(1)
	}
}

func (m *Metrics) RecordQuarantineFailure() {
	if m != nil {
		m.quarantineFailures.Add(1)
	}
}

// SetQueueDepth records the latest observed queue depth gauge.
func (m *Metrics) SetQueueDepth(depth int) {
	if m != nil {
		m.queueDepth.Store(int64(depth))
	}
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Fetched            int64 `json:"fetched"`
	FetchErrors        int64 `json:"fetch_errors"`
	Validated          int64 `json:"validated"`
	ValidationFailures int64 `json:"validation_failures"`
	SecurityViolations int64 `json:"security_violations"`
	Duplicates         int64 `json:"duplicates"`
	Enqueued           int64 `json:"enqueued"`
	Quarantined        int64 `json:"quarantined"`
	QuarantineFailures int64 `json:"quarantine_failures"`
	QueueDepth         int64 `json:"queue_depth"`
}

// Snapshot copies the current counter values. Safe to call while the
// pipeline is running; the copy is not guaranteed to be a consistent cut
// across counters.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		Fetched:            m.fetched.Load(),
		FetchErrors:        m.fetchErrors.Load(),
		Validated:          m.validated.Load(),
		ValidationFailures: m.validationFailures.Load(),
		SecurityViolations: m.securityViolations.Load(),
		Duplicates:         m.duplicates.Load(),
		Enqueued:           m.enqueued.Load(),
		Quarantined:        m.quarantined.Load(),
		QuarantineFailures: m.quarantineFailures.Load(),
		QueueDepth:         m.queueDepth.Load(),
	}
}

// Processed returns the number of records that reached a terminal outcome.
func (s Snapshot) Processed() int64 {
	return s.Validated + s.ValidationFailures + s.SecurityViolations + s.Duplicates
}

// FailureRate is the fraction of processed records that failed validation
// (security violations included). Zero when nothing was processed.
func (s Snapshot) FailureRate() float64 {
	processed := s.Processed()
	if processed == 0 {
		return 0
	}
	return float64(s.ValidationFailures+s.SecurityViolations) / float64(processed)
}

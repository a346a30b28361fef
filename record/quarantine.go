package record

import "time"

// QuarantineStatus is the review state of a quarantined record.
type QuarantineStatus string

const (
	StatusPendingReview QuarantineStatus = "PENDING_REVIEW"
	StatusApproved      QuarantineStatus = "APPROVED"
	StatusRejected      QuarantineStatus = "REJECTED"
	StatusReprocessed   QuarantineStatus = "REPROCESSED"
)

// MaxReprocessAttempts bounds how often a quarantined record may be
// re-validated. Beyond this the record stays PENDING_REVIEW for manual
// disposition.
const MaxReprocessAttempts = 3

// FieldError is one validation failure, ordered as detected.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// QuarantineRecord is a failed record held for human review. It is created
// on any ingestion failure and mutated only through the review operations
// (approve, reject, reprocess). REJECTED records are deleted.
type QuarantineRecord struct {
	ID               string           `json:"id"`
	SourceID         string           `json:"source_id"`
	SourceType       SourceType       `json:"source_type"`
	RawPayload       map[string]any   `json:"raw_payload"`
	ValidationErrors []FieldError     `json:"validation_errors"`
	Status           QuarantineStatus `json:"status"`
	AttemptCount     int              `json:"attempt_count"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Exhausted reports whether the record has used up its reprocessing budget.
func (q *QuarantineRecord) Exhausted() bool {
	return q.AttemptCount >= MaxReprocessAttempts
}

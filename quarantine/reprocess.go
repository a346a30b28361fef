package quarantine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/veridia/parley/errors"
	"github.com/veridia/parley/record"
	"github.com/veridia/parley/schema"
)

// Reviewer drives the reprocess half of the review workflow: it feeds a
// quarantined payload back through validation and either promotes the record
// or burns one of its bounded retry attempts.
type Reviewer struct {
	store     *Store
	validator *schema.Validator
}

// NewReviewer creates a Reviewer over the given store.
func NewReviewer(store *Store, validator *schema.Validator) *Reviewer {
	return &Reviewer{store: store, validator: validator}
}

// Reprocess re-validates a pending quarantine record.
//
// On success the record transitions to REPROCESSED and the canonical record
// is returned for re-entry into the pipeline. On failure the attempt count
// increments and the stored validation errors refresh; after
// MaxReprocessAttempts failed attempts the record stays PENDING_REVIEW and
// further reprocessing is refused.
func (r *Reviewer) Reprocess(ctx context.Context, id string) (*record.ConversationRecord, *record.QuarantineRecord, error) {
	qr, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if qr.Status != record.StatusPendingReview {
		return nil, qr, errors.WithDetail(
			errors.New("only pending records can be reprocessed"),
			fmt.Sprintf("id: %s, status: %s", qr.ID, qr.Status),
		)
	}
	if qr.Exhausted() {
		return nil, qr, errors.WithDetail(
			errors.New("reprocess attempts exhausted, record held for manual review"),
			fmt.Sprintf("id: %s, attempts: %d", qr.ID, qr.AttemptCount),
		)
	}

	raw := record.IngestRecord{
		SourceID:       qr.SourceID,
		SourceType:     qr.SourceType,
		RawPayload:     qr.RawPayload,
		FetchTimestamp: qr.CreatedAt,
	}

	canonical, verr := r.validator.Validate(ctx, raw)
	if verr != nil {
		if err := r.recordFailedAttempt(ctx, qr.ID, schema.FieldsFromError(verr)); err != nil {
			return nil, qr, err
		}
		updated, err := r.store.Get(ctx, qr.ID)
		if err != nil {
			return nil, qr, err
		}
		return nil, updated, errors.Wrap(verr, "reprocess validation failed")
	}

	updated, err := r.store.transition(ctx, qr.ID, record.StatusReprocessed)
	if err != nil {
		return nil, qr, err
	}
	return canonical, updated, nil
}

// recordFailedAttempt bumps the attempt counter and refreshes the stored
// validation errors with the latest findings.
func (r *Reviewer) recordFailedAttempt(ctx context.Context, id string, ferrs []record.FieldError) error {
	ferrsJSON, err := json.Marshal(ferrs)
	if err != nil {
		return errors.Wrap(err, "failed to serialize validation errors")
	}
	_, err = r.store.db.ExecContext(ctx,
		`UPDATE quarantine_records
		 SET attempt_count = attempt_count + 1, validation_errors = ?, updated_at = ?
		 WHERE id = ?`,
		string(ferrsJSON), time.Now().UTC(), id)
	if err != nil {
		return errors.Wrap(err, "failed to record reprocess attempt")
	}
	return nil
}

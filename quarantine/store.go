// Package quarantine persists failed records for human review and drives
// the review workflow: approve, reject, or reprocess through validation.
package quarantine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/veridia/parley/errors"
	"github.com/veridia/parley/record"
)

// Store provides SQLite-backed quarantine persistence.
type Store struct {
	db *sql.DB
}

// NewStore creates a quarantine store over an open, migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Quarantine inserts a failed record in PENDING_REVIEW state. Every
// ingestion failure lands here; a record that cannot be quarantined is a
// persistence failure the caller must surface, never a silent drop.
func (s *Store) Quarantine(ctx context.Context, raw record.IngestRecord, ferrs []record.FieldError) (*record.QuarantineRecord, error) {
	if len(ferrs) == 0 {
		ferrs = []record.FieldError{{Field: "record", Message: "rejected without field detail"}}
	}

	payload, err := json.Marshal(raw.RawPayload)
	if err != nil {
		return nil, errors.Wrap(errors.ErrQuarantinePersistence, "failed to serialize raw payload")
	}
	ferrsJSON, err := json.Marshal(ferrs)
	if err != nil {
		return nil, errors.Wrap(errors.ErrQuarantinePersistence, "failed to serialize validation errors")
	}

	now := time.Now().UTC()
	qr := &record.QuarantineRecord{
		ID:               uuid.New().String(),
		SourceID:         raw.SourceID,
		SourceType:       raw.SourceType,
		RawPayload:       raw.RawPayload,
		ValidationErrors: ferrs,
		Status:           record.StatusPendingReview,
		AttemptCount:     0,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO quarantine_records
		 (id, source_id, source_type, raw_payload, validation_errors, status, attempt_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		qr.ID, qr.SourceID, string(qr.SourceType), string(payload), string(ferrsJSON),
		string(qr.Status), qr.AttemptCount, qr.CreatedAt, qr.UpdatedAt,
	)
	if err != nil {
		return nil, errors.WithDetail(
			errors.Wrapf(errors.ErrQuarantinePersistence, "failed to insert quarantine record: %v", err),
			"source: "+raw.SourceID,
		)
	}
	return qr, nil
}

// Get returns one quarantine record by ID.
func (s *Store) Get(ctx context.Context, id string) (*record.QuarantineRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_id, source_type, raw_payload, validation_errors,
		        status, attempt_count, created_at, updated_at
		 FROM quarantine_records WHERE id = ?`, id)
	qr, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, errors.WithDetail(
			errors.Wrap(errors.ErrNotFound, "quarantine record not found"),
			"id: "+id,
		)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load quarantine record")
	}
	return qr, nil
}

// ListPending returns PENDING_REVIEW records oldest first, paginated.
func (s *Store) ListPending(ctx context.Context, limit, offset int) ([]*record.QuarantineRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_id, source_type, raw_payload, validation_errors,
		        status, attempt_count, created_at, updated_at
		 FROM quarantine_records
		 WHERE status = ?
		 ORDER BY created_at, id
		 LIMIT ? OFFSET ?`,
		string(record.StatusPendingReview), limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pending quarantine records")
	}
	defer rows.Close()

	var out []*record.QuarantineRecord
	for rows.Next() {
		qr, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan quarantine record")
		}
		out = append(out, qr)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate quarantine records")
	}
	return out, nil
}

// CountByStatus returns how many records sit in each review state.
func (s *Store) CountByStatus(ctx context.Context) (map[record.QuarantineStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM quarantine_records GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count quarantine records")
	}
	defer rows.Close()

	counts := make(map[record.QuarantineStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan quarantine counts")
		}
		counts[record.QuarantineStatus(status)] = n
	}
	return counts, rows.Err()
}

// Approve marks a pending record APPROVED. Only pending records can be
// approved; anything else is a state conflict.
func (s *Store) Approve(ctx context.Context, id string) (*record.QuarantineRecord, error) {
	return s.transition(ctx, id, record.StatusApproved)
}

// Reject deletes the record. Rejection is terminal and leaves no row behind.
func (s *Store) Reject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM quarantine_records WHERE id = ? AND status = ?`,
		id, string(record.StatusPendingReview))
	if err != nil {
		return errors.Wrap(err, "failed to reject quarantine record")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to confirm rejection")
	}
	if affected == 0 {
		return errors.WithDetail(
			errors.Wrap(errors.ErrNotFound, "no pending quarantine record to reject"),
			"id: "+id,
		)
	}
	return nil
}

func (s *Store) transition(ctx context.Context, id string, to record.QuarantineStatus) (*record.QuarantineRecord, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE quarantine_records SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(to), time.Now().UTC(), id, string(record.StatusPendingReview))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to mark quarantine record %s", to)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "failed to confirm status transition")
	}
	if affected == 0 {
		return nil, errors.WithDetail(
			errors.Wrap(errors.ErrNotFound, "no pending quarantine record to transition"),
			fmt.Sprintf("id: %s, target: %s", id, to),
		)
	}
	return s.Get(ctx, id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*record.QuarantineRecord, error) {
	var qr record.QuarantineRecord
	var sourceType, payload, ferrs, status string
	if err := row.Scan(&qr.ID, &qr.SourceID, &sourceType, &payload, &ferrs,
		&status, &qr.AttemptCount, &qr.CreatedAt, &qr.UpdatedAt); err != nil {
		return nil, err
	}
	qr.SourceType = record.SourceType(sourceType)
	qr.Status = record.QuarantineStatus(status)
	if err := json.Unmarshal([]byte(payload), &qr.RawPayload); err != nil {
		return nil, errors.Wrap(err, "corrupt raw payload in quarantine record")
	}
	if err := json.Unmarshal([]byte(ferrs), &qr.ValidationErrors); err != nil {
		return nil, errors.Wrap(err, "corrupt validation errors in quarantine record")
	}
	return &qr, nil
}

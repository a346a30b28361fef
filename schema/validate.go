// Package schema maps source-specific payloads to the canonical conversation
// record and enforces its structural invariants. It is the single admission
// gate: nothing reaches the ingestion queue without passing Validate.
package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/veridia/parley/errors"
	"github.com/veridia/parley/record"
)

// ValidationFailure carries the ordered field-level failures for a record.
// It is always marked with errors.ErrValidation (or ErrSecurityViolation
// for injection findings) so callers can route on the sentinel.
type ValidationFailure struct {
	Fields []record.FieldError
}

func (e *ValidationFailure) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// FieldsFromError extracts field errors from a validation failure. Errors
// without field detail yield a single synthetic entry so quarantine records
// always carry at least one cause.
func FieldsFromError(err error) []record.FieldError {
	var vf *ValidationFailure
	if errors.As(err, &vf) {
		return vf.Fields
	}
	return []record.FieldError{{Field: "_", Message: err.Error()}}
}

// Validator maps and validates raw ingest records.
type Validator struct {
	sanitizer *Sanitizer
}

// NewValidator creates a Validator with the default sanitization policy.
func NewValidator() *Validator {
	return &Validator{sanitizer: NewSanitizer()}
}

// Validate translates a raw payload into a canonical ConversationRecord.
//
// Returns an error marked ErrValidation for schema/invariant violations and
// ErrSecurityViolation for injection findings. A ctx cancellation mid-record
// surfaces as an error too: an interrupted record is quarantined, never
// silently dropped or partially admitted.
func (v *Validator) Validate(ctx context.Context, raw record.IngestRecord) (*record.ConversationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, interrupted(err)
	}

	if raw.RawPayload == nil {
		return nil, fail(record.FieldError{Field: "raw_payload", Message: "empty payload"})
	}

	// Closed dispatch: one mapping function per source variant plus the
	// canonical fallback. Adding a source type is a compile-time change.
	var turns []rawTurn
	var ferrs []record.FieldError
	switch raw.SourceType {
	case record.SourceLocalFile:
		turns, ferrs = mapTurnStructured(raw.RawPayload)
	case record.SourcePlaylist:
		turns, ferrs = mapTranscript(raw.RawPayload)
	case record.SourceS3, record.SourceGCS:
		turns, ferrs = mapTabular(raw.RawPayload)
	case record.SourceCanonical:
		turns, ferrs = mapCanonical(raw.RawPayload)
	default:
		turns, ferrs = mapCanonical(raw.RawPayload)
	}

	id := stringField(raw.RawPayload, "id", "conversation_id")
	if id == "" {
		id = deriveID(raw.SourceID)
	}
	if !record.ValidID(id) {
		ferrs = append(ferrs, record.FieldError{Field: "id", Message: "id violates identifier pattern"})
	}

	title := v.sanitizer.Plain(stringField(raw.RawPayload, "title"))

	// Sanitize and check each turn. Security findings abort immediately;
	// plain validation problems accumulate so quarantine review sees the
	// full picture.
	clean := make([]record.SpeakerTurn, 0, len(turns))
	for i, t := range turns {
		if err := ctx.Err(); err != nil {
			return nil, interrupted(err)
		}

		if !record.ValidID(t.speaker) {
			ferrs = append(ferrs, record.FieldError{
				Field:   fmt.Sprintf("turns[%d].speaker_id", i),
				Message: "speaker id violates identifier pattern",
			})
			continue
		}

		content, err := v.sanitizer.Content(t.content)
		if err != nil {
			if errors.IsSecurityViolation(err) {
				return nil, errors.Mark(&ValidationFailure{Fields: []record.FieldError{{
					Field:   fmt.Sprintf("turns[%d].content", i),
					Message: err.Error(),
				}}}, errors.ErrSecurityViolation)
			}
			ferrs = append(ferrs, record.FieldError{
				Field:   fmt.Sprintf("turns[%d].content", i),
				Message: err.Error(),
			})
			continue
		}
		if content == "" {
			ferrs = append(ferrs, record.FieldError{
				Field:   fmt.Sprintf("turns[%d].content", i),
				Message: "empty content after sanitization",
			})
			continue
		}
		if len(content) > record.MaxContentLength {
			ferrs = append(ferrs, record.FieldError{
				Field:   fmt.Sprintf("turns[%d].content", i),
				Message: fmt.Sprintf("content exceeds %d chars", record.MaxContentLength),
			})
			continue
		}

		clean = append(clean, record.SpeakerTurn{
			SpeakerID: t.speaker,
			Content:   content,
			Timestamp: t.timestamp,
		})
	}

	ferrs = append(ferrs, checkInvariants(clean)...)
	if len(ferrs) > 0 {
		return nil, fail(ferrs...)
	}

	rec := &record.ConversationRecord{
		ID:         id,
		Title:      title,
		Turns:      clean,
		SourceType: raw.SourceType,
		SourceID:   raw.SourceID,
		Metadata: record.Metadata{
			Provenance: fmt.Sprintf("%s:%s", raw.SourceType, raw.SourceID),
		},
	}
	rec.Metadata.Quality = scoreQuality(rec)

	return rec, nil
}

// checkInvariants enforces the canonical-record structural invariants on an
// already sanitized turn list.
func checkInvariants(turns []record.SpeakerTurn) []record.FieldError {
	var ferrs []record.FieldError

	if len(turns) < 2 {
		ferrs = append(ferrs, record.FieldError{
			Field:   "turns",
			Message: fmt.Sprintf("conversation needs at least 2 turns, got %d", len(turns)),
		})
		return ferrs
	}
	if len(turns) > record.MaxTurns {
		ferrs = append(ferrs, record.FieldError{
			Field:   "turns",
			Message: fmt.Sprintf("conversation exceeds %d turns", record.MaxTurns),
		})
	}

	speakers := make(map[string]struct{}, 2)
	for i, turn := range turns {
		speakers[turn.SpeakerID] = struct{}{}
		if i > 0 && turns[i-1].SpeakerID == turn.SpeakerID {
			ferrs = append(ferrs, record.FieldError{
				Field:   fmt.Sprintf("turns[%d].speaker_id", i),
				Message: "consecutive turns share speaker " + turn.SpeakerID,
			})
		}
	}
	if len(speakers) < 2 {
		ferrs = append(ferrs, record.FieldError{
			Field:   "turns",
			Message: "conversation needs at least 2 distinct speakers",
		})
	}

	return ferrs
}

// deriveID builds a stable pattern-safe identifier from an arbitrary source
// id (file paths and object keys rarely satisfy the identifier pattern).
func deriveID(sourceID string) string {
	return fmt.Sprintf("rec-%016x", xxhash.Sum64String(sourceID))
}

func fail(fields ...record.FieldError) error {
	return errors.Mark(&ValidationFailure{Fields: fields}, errors.ErrValidation)
}

func interrupted(cause error) error {
	return errors.Mark(&ValidationFailure{Fields: []record.FieldError{{
		Field:   "_",
		Message: "validation interrupted: " + cause.Error(),
	}}}, errors.ErrValidation)
}

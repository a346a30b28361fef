// Package record defines the data model shared across the ingestion
// pipeline: raw fetched records, the canonical conversation shape all
// sources converge to, quarantine records, and queue items.
package record

import (
	"regexp"
	"time"
)

// SourceType identifies which connector variant produced a record.
// The set is closed: adding a source type means adding a constant here
// and a mapping function in the schema package.
type SourceType string

const (
	SourceLocalFile SourceType = "local_file"
	SourcePlaylist  SourceType = "playlist"
	SourceS3        SourceType = "s3"
	SourceGCS       SourceType = "gcs"
	// SourceCanonical marks payloads that already carry the canonical
	// conversation shape (the fallback for unrecognized producers).
	SourceCanonical SourceType = "canonical"
)

// IsValidSourceType returns true if s names a known source type.
func IsValidSourceType(s string) bool {
	switch SourceType(s) {
	case SourceLocalFile, SourcePlaylist, SourceS3, SourceGCS, SourceCanonical:
		return true
	default:
		return false
	}
}

// IngestRecord is one raw item fetched from a source. It is produced once
// per fetched item, never mutated, and consumed exactly once by validation.
type IngestRecord struct {
	SourceID       string         `json:"source_id"`
	SourceType     SourceType     `json:"source_type"`
	RawPayload     map[string]any `json:"raw_payload"`
	FetchTimestamp time.Time      `json:"fetch_timestamp"`
	// Sequence is the fetch order within one connector's stream. Ordering
	// is guaranteed per producer only, never across connectors.
	Sequence int64 `json:"sequence"`
}

const (
	// MaxTurns bounds the canonical turn list.
	MaxTurns = 1000
	// MaxContentLength bounds a single turn's sanitized content.
	MaxContentLength = 5000
)

// idPattern constrains record and speaker identifiers to a restrictive
// character class so they can never smuggle markup or path segments.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_\-:.]{1,128}$`)

// ValidID reports whether s satisfies the identifier character class.
func ValidID(s string) bool {
	return idPattern.MatchString(s)
}

// QualityScore carries the per-record quality components computed once at
// validation time. Component scores are in [0,1]; RawScore is in [0,10].
type QualityScore struct {
	Completeness float64 `json:"completeness"`
	Coherence    float64 `json:"coherence"`
	Relevance    float64 `json:"relevance"`
	RawScore     float64 `json:"raw_score"`
}

// Metadata is attached to a canonical record at validation time.
type Metadata struct {
	Quality    QualityScore `json:"quality"`
	Provenance string       `json:"provenance"`
}

// SpeakerTurn is one utterance in a conversation. Content is sanitized
// before the record is admitted; sanitization is idempotent.
type SpeakerTurn struct {
	SpeakerID string         `json:"speaker_id"`
	Content   string         `json:"content"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ConversationRecord is the canonical shape every source converges to.
//
// Invariants (enforced by schema.Validator, assumed everywhere else):
//   - ID and all SpeakerIDs match the identifier pattern
//   - 2..MaxTurns turns
//   - at least 2 distinct speakers
//   - no two consecutive turns share a speaker
//   - every turn's content is sanitized and at most MaxContentLength chars
type ConversationRecord struct {
	ID         string        `json:"id"`
	Title      string        `json:"title,omitempty"`
	Turns      []SpeakerTurn `json:"turns"`
	SourceType SourceType    `json:"source_type"`
	SourceID   string        `json:"source_id"`
	Metadata   Metadata      `json:"metadata"`
}

// Speakers returns the distinct speaker IDs in turn order.
func (c *ConversationRecord) Speakers() []string {
	seen := make(map[string]struct{}, 2)
	var speakers []string
	for _, turn := range c.Turns {
		if _, ok := seen[turn.SpeakerID]; ok {
			continue
		}
		seen[turn.SpeakerID] = struct{}{}
		speakers = append(speakers, turn.SpeakerID)
	}
	return speakers
}

// QueueItem wraps a ConversationRecord for transport through the ingestion
// queue. Ownership passes producer -> queue -> consumer; the queue retains
// nothing after a successful acknowledged dequeue.
type QueueItem struct {
	ID         string              `json:"id"`
	Producer   string              `json:"producer"`
	Sequence   int64               `json:"sequence"`
	Record     *ConversationRecord `json:"record"`
	EnqueuedAt time.Time           `json:"enqueued_at"`
}

package schema

import (
	"fmt"
	"time"

	"github.com/veridia/parley/record"
)

// rawTurn is a mapped but not yet sanitized or invariant-checked turn.
type rawTurn struct {
	speaker   string
	content   string
	timestamp *time.Time
}

// mapTurnStructured handles payloads that already carry an explicit turn
// list: {"turns": [{"speaker": ..., "content": ..., "timestamp": ...}]}.
// Local corpus files use this shape.
func mapTurnStructured(payload map[string]any) ([]rawTurn, []record.FieldError) {
	items, ok := anySlice(payload["turns"])
	if !ok {
		return nil, []record.FieldError{{Field: "turns", Message: "missing or non-list turns"}}
	}

	var ferrs []record.FieldError
	turns := make([]rawTurn, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			ferrs = append(ferrs, record.FieldError{
				Field:   fmt.Sprintf("turns[%d]", i),
				Message: "turn is not an object",
			})
			continue
		}
		turn := rawTurn{
			speaker: stringField(m, "speaker", "speaker_id"),
			content: stringField(m, "content", "text"),
		}
		if ts := stringField(m, "timestamp"); ts != "" {
			if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
				turn.timestamp = &parsed
			} else {
				ferrs = append(ferrs, record.FieldError{
					Field:   fmt.Sprintf("turns[%d].timestamp", i),
					Message: "not RFC3339: " + ts,
				})
			}
		}
		turns = append(turns, turn)
	}
	return turns, ferrs
}

// mapTabular handles row-oriented payloads exported from spreadsheets or
// warehouse dumps: {"rows": [["alice", "hi"], ...]} or rows of objects with
// speaker/content keys. Object-store sources use this shape.
func mapTabular(payload map[string]any) ([]rawTurn, []record.FieldError) {
	items, ok := anySlice(payload["rows"])
	if !ok {
		return nil, []record.FieldError{{Field: "rows", Message: "missing or non-list rows"}}
	}

	var ferrs []record.FieldError
	turns := make([]rawTurn, 0, len(items))
	for i, item := range items {
		switch row := item.(type) {
		case []any:
			if len(row) < 2 {
				ferrs = append(ferrs, record.FieldError{
					Field:   fmt.Sprintf("rows[%d]", i),
					Message: "row needs at least speaker and content cells",
				})
				continue
			}
			turns = append(turns, rawTurn{
				speaker: anyString(row[0]),
				content: anyString(row[1]),
			})
		case map[string]any:
			turns = append(turns, rawTurn{
				speaker: stringField(row, "speaker", "speaker_id"),
				content: stringField(row, "content", "text", "utterance"),
			})
		default:
			ferrs = append(ferrs, record.FieldError{
				Field:   fmt.Sprintf("rows[%d]", i),
				Message: "row is neither a list nor an object",
			})
		}
	}
	return turns, ferrs
}

// mapTranscript handles time-segmented transcripts: {"started_at": ...,
// "segments": [{"speaker": ..., "text": ..., "start": 1.5}]}. Playlist
// feeds deliver this shape.
func mapTranscript(payload map[string]any) ([]rawTurn, []record.FieldError) {
	items, ok := anySlice(payload["segments"])
	if !ok {
		return nil, []record.FieldError{{Field: "segments", Message: "missing or non-list segments"}}
	}

	var base *time.Time
	if s := stringField(payload, "started_at"); s != "" {
		if parsed, err := time.Parse(time.RFC3339, s); err == nil {
			base = &parsed
		}
	}

	var ferrs []record.FieldError
	turns := make([]rawTurn, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			ferrs = append(ferrs, record.FieldError{
				Field:   fmt.Sprintf("segments[%d]", i),
				Message: "segment is not an object",
			})
			continue
		}
		turn := rawTurn{
			speaker: stringField(m, "speaker", "speaker_id"),
			content: stringField(m, "text", "content"),
		}
		if base != nil {
			if start, ok := anyFloat(m["start"]); ok {
				ts := base.Add(time.Duration(start * float64(time.Second)))
				turn.timestamp = &ts
			}
		}
		turns = append(turns, turn)
	}
	return turns, ferrs
}

// mapCanonical handles payloads already in the canonical conversation shape,
// the fallback for unrecognized producers.
func mapCanonical(payload map[string]any) ([]rawTurn, []record.FieldError) {
	// Canonical payloads use the same turn-list layout with speaker_id keys;
	// the turn-structured mapper accepts both key spellings.
	return mapTurnStructured(payload)
}

func anySlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

func anyString(v any) string {
	s, _ := v.(string)
	return s
}

func anyFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// stringField returns the first present string value among keys.
func stringField(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

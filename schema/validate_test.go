package schema

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridia/parley/errors"
	"github.com/veridia/parley/record"
)

func turnStructuredPayload(turns ...[2]string) map[string]any {
	list := make([]any, 0, len(turns))
	for _, t := range turns {
		list = append(list, map[string]any{"speaker": t[0], "content": t[1]})
	}
	return map[string]any{"id": "conv-1", "title": "greeting", "turns": list}
}

func rawLocal(payload map[string]any) record.IngestRecord {
	return record.IngestRecord{
		SourceID:       "/data/conversations/a.json",
		SourceType:     record.SourceLocalFile,
		RawPayload:     payload,
		FetchTimestamp: time.Now(),
	}
}

func TestValidateWellFormedConversation(t *testing.T) {
	v := NewValidator()

	rec, err := v.Validate(context.Background(), rawLocal(turnStructuredPayload(
		[2]string{"alice", "Hello there, how are you today?"},
		[2]string{"bob", "Doing well today, thanks for asking."},
		[2]string{"alice", "Glad to hear you are doing well."},
		[2]string{"bob", "What are you doing later today?"},
	)))
	require.NoError(t, err)

	assert.Equal(t, "conv-1", rec.ID)
	assert.Equal(t, "greeting", rec.Title)
	assert.Len(t, rec.Turns, 4)
	assert.Equal(t, record.SourceLocalFile, rec.SourceType)
	assert.Len(t, rec.Speakers(), 2)

	q := rec.Metadata.Quality
	assert.GreaterOrEqual(t, q.Completeness, 0.0)
	assert.LessOrEqual(t, q.Completeness, 1.0)
	assert.GreaterOrEqual(t, q.RawScore, 0.0)
	assert.LessOrEqual(t, q.RawScore, 10.0)
}

func TestValidateRejectsTooFewTurns(t *testing.T) {
	v := NewValidator()

	_, err := v.Validate(context.Background(), rawLocal(turnStructuredPayload(
		[2]string{"alice", "hello, anyone here?"},
	)))
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))

	fields := FieldsFromError(err)
	require.NotEmpty(t, fields)
	assert.Contains(t, fields[0].Message, "at least 2 turns")
}

func TestValidateRejectsSingleSpeaker(t *testing.T) {
	v := NewValidator()

	// Same speaker twice also violates the consecutive-turn invariant;
	// both causes must be reported.
	_, err := v.Validate(context.Background(), rawLocal(turnStructuredPayload(
		[2]string{"alice", "hello?"},
		[2]string{"alice", "still me."},
	)))
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))

	var sawDistinct, sawConsecutive bool
	for _, f := range FieldsFromError(err) {
		if f.Field == "turns" {
			sawDistinct = true
		}
		if f.Field == "turns[1].speaker_id" {
			sawConsecutive = true
		}
	}
	assert.True(t, sawDistinct, "distinct-speaker violation reported")
	assert.True(t, sawConsecutive, "consecutive-speaker violation reported")
}

func TestValidateRejectsScriptMarkupAsSecurityViolation(t *testing.T) {
	v := NewValidator()

	_, err := v.Validate(context.Background(), rawLocal(turnStructuredPayload(
		[2]string{"alice", "hi <script>fetch('/cookies')</script>"},
		[2]string{"bob", "hi back"},
	)))
	require.Error(t, err)
	assert.True(t, errors.IsSecurityViolation(err))
	assert.False(t, errors.IsValidationError(err))
}

func TestValidateStripsBenignMarkup(t *testing.T) {
	v := NewValidator()

	rec, err := v.Validate(context.Background(), rawLocal(turnStructuredPayload(
		[2]string{"alice", "this is <b>bold</b> and <div>boxed</div> text"},
		[2]string{"bob", "noted, thanks for the formatting demo"},
	)))
	require.NoError(t, err)

	assert.Contains(t, rec.Turns[0].Content, "<b>bold</b>", "allowed tags survive")
	assert.NotContains(t, rec.Turns[0].Content, "<div>", "disallowed tags stripped")
	assert.Contains(t, rec.Turns[0].Content, "boxed", "inner text survives")
}

func TestValidateRejectsBadSpeakerID(t *testing.T) {
	v := NewValidator()

	_, err := v.Validate(context.Background(), rawLocal(turnStructuredPayload(
		[2]string{"alice<script>", "hello"},
		[2]string{"bob", "hello back"},
	)))
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}

func TestValidateDerivesIDWhenMissing(t *testing.T) {
	v := NewValidator()

	payload := turnStructuredPayload(
		[2]string{"alice", "first message over here"},
		[2]string{"bob", "second message right back"},
	)
	delete(payload, "id")

	rec, err := v.Validate(context.Background(), rawLocal(payload))
	require.NoError(t, err)
	assert.Regexp(t, `^rec-[0-9a-f]{16}$`, rec.ID)
	assert.True(t, record.ValidID(rec.ID))

	// Stable: same source id derives the same record id.
	rec2, err := v.Validate(context.Background(), rawLocal(payload))
	require.NoError(t, err)
	assert.Equal(t, rec.ID, rec2.ID)
}

func TestValidateTabularPayload(t *testing.T) {
	v := NewValidator()

	raw := record.IngestRecord{
		SourceID:   "s3://datasets/conv-7.json",
		SourceType: record.SourceS3,
		RawPayload: map[string]any{
			"id": "conv-7",
			"rows": []any{
				[]any{"alice", "is the export ready?"},
				[]any{"bob", "uploading the export now"},
			},
		},
	}

	rec, err := v.Validate(context.Background(), raw)
	require.NoError(t, err)
	assert.Len(t, rec.Turns, 2)
	assert.Equal(t, "alice", rec.Turns[0].SpeakerID)
}

func TestValidateTranscriptPayload(t *testing.T) {
	v := NewValidator()

	raw := record.IngestRecord{
		SourceID:   "https://feeds.example.com/ep-12.json",
		SourceType: record.SourcePlaylist,
		RawPayload: map[string]any{
			"id":         "ep-12",
			"started_at": "2026-08-01T10:00:00Z",
			"segments": []any{
				map[string]any{"speaker": "host", "text": "welcome back to the show", "start": 0.0},
				map[string]any{"speaker": "guest", "text": "thanks for having me on the show", "start": 2.5},
			},
		},
	}

	rec, err := v.Validate(context.Background(), raw)
	require.NoError(t, err)
	require.Len(t, rec.Turns, 2)
	require.NotNil(t, rec.Turns[1].Timestamp)
	assert.Equal(t, "2026-08-01T10:00:02.5Z", rec.Turns[1].Timestamp.Format("2006-01-02T15:04:05.9Z07:00"))
}

func TestValidateCancelledContext(t *testing.T) {
	v := NewValidator()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := v.Validate(ctx, rawLocal(turnStructuredPayload(
		[2]string{"alice", "hello"},
		[2]string{"bob", "hello back"},
	)))
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err), "interrupted validation routes to quarantine")
	assert.Contains(t, FieldsFromError(err)[0].Message, "interrupted")
}

func TestSanitizeIdempotent(t *testing.T) {
	s := NewSanitizer()

	once, err := s.Content("mixed <b>bold</b> and <span>span</span> text")
	require.NoError(t, err)
	twice, err := s.Content(once)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestSanitizeBlocksEventHandlers(t *testing.T) {
	s := NewSanitizer()

	_, err := s.Content(`<img src=x onerror=alert(1)>`)
	require.Error(t, err)
	assert.True(t, errors.IsSecurityViolation(err))
}

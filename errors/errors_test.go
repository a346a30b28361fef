package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelClassificationSurvivesWrapping(t *testing.T) {
	err := Wrap(ErrValidation, "record had one turn")
	err = Wrap(err, "validating record src-1")
	err = WithDetail(err, fmt.Sprintf("Source: %s", "local"))

	assert.True(t, IsValidationError(err))
	assert.False(t, IsSecurityViolation(err))
	assert.False(t, IsConnectionError(err))
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("expected %d turns, got %d", 2, 1)

	assert.True(t, Is(err, ErrValidation))
	assert.Contains(t, err.Error(), "expected 2 turns, got 1")
}

func TestNewSecurityViolation(t *testing.T) {
	err := NewSecurityViolation("private IP address blocked: %s", "10.0.0.8")

	assert.True(t, IsSecurityViolation(err))
	assert.Contains(t, err.Error(), "10.0.0.8")
}

func TestWrapSecurityViolationKeepsClassification(t *testing.T) {
	cause := New("path escapes ingest root")
	err := WrapSecurityViolation(cause, "walking /data/conversations")

	assert.True(t, IsSecurityViolation(err))
	assert.Contains(t, err.Error(), "walking /data/conversations")
}

func TestIsQueueFull(t *testing.T) {
	err := Wrap(ErrQueueFull, "enqueue conversation rec-42")

	assert.True(t, IsQueueFull(err))
	assert.False(t, IsQueueFull(New("unrelated")))
	assert.False(t, IsQueueFull(nil))
}

package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerIsSafeBeforeInitialize(t *testing.T) {
	// The package-load no-op logger must absorb calls without panicking.
	assert.NotPanics(t, func() {
		Infow("pipeline starting", "connectors", 3)
		Warnw("quarantine insert slow", "elapsed_ms", 120)
		Errorw("fetch failed", "source", "partner-feed")
	})
}

func TestInitializeJSON(t *testing.T) {
	require.NoError(t, Initialize(true))
	defer Cleanup()

	assert.True(t, JSONOutput)
	assert.NotNil(t, Logger)
}

func TestInitializeConsole(t *testing.T) {
	require.NoError(t, Initialize(false))
	defer Cleanup()

	assert.False(t, JSONOutput)
	assert.NotNil(t, Named("ingest"))
}

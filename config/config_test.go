package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))

	assert.Equal(t, 1, cfg.Pipeline.WorkersPerConnector)
	assert.Equal(t, 1024, cfg.Queue.Capacity)
	assert.True(t, cfg.Queue.BlockOnFull)
	assert.Empty(t, cfg.Queue.DurablePath)
	assert.Equal(t, "parley.db", cfg.Quarantine.DatabasePath)
	assert.InDelta(t, 0.001, cfg.Dedup.FalsePositiveRate, 1e-9)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parley.toml")
	content := `
[queue]
capacity = 64
block_on_full = false

[[sources]]
name = "corpus-local"
type = "local"
path = "/data/conversations"

[[sources]]
name = "partner-feed"
type = "playlist"
url = "https://feeds.example.com/dialogues.m3u"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 64, cfg.Queue.Capacity)
	assert.False(t, cfg.Queue.BlockOnFull)
	require.Len(t, cfg.Sources, 2)

	// Per-source defaults applied after unmarshal
	assert.Equal(t, 3, cfg.Sources[0].Retries)
	assert.Equal(t, 10, cfg.Sources[0].RateCapacity)
	// The default allowlist only admits formats the local connector decodes.
	assert.Equal(t, []string{".json", ".jsonl"}, cfg.Sources[0].Extensions)

	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadSources(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))

	cfg.Sources = []SourceConfig{{Name: "broken", Type: "local"}} // missing path
	assert.Error(t, cfg.Validate())

	cfg.Sources = []SourceConfig{{Name: "weird", Type: "ftp", URL: "ftp://x"}}
	assert.Error(t, cfg.Validate())

	cfg.Sources = []SourceConfig{
		{Name: "dup", Type: "local", Path: "/a"},
		{Name: "dup", Type: "local", Path: "/b"},
	}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadRanges(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))

	cfg.Queue.Capacity = 0
	assert.Error(t, cfg.Validate())

	cfg.Queue.Capacity = 10
	cfg.Dedup.FalsePositiveRate = 1.5
	assert.Error(t, cfg.Validate())
}

func TestResetClearsCache(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	first, err := Load()
	require.NoError(t, err)
	second, err := Load()
	require.NoError(t, err)
	assert.Same(t, first, second, "Load caches the config")

	Reset()
	third, err := Load()
	require.NoError(t, err)
	assert.NotSame(t, first, third)
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-kvs/pkg/kvs"
	"github.com/dd0wney/cluso-kvs/pkg/logging"
	"github.com/dd0wney/cluso-kvs/pkg/metrics"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, uint64(kvs.DefaultSegmentSize), cfg.SegmentSize)
	assert.Equal(t, kvs.DefaultCompactionPolicy(), cfg.CompactionPolicy())
	assert.Equal(t, logging.WarnLevel, cfg.Level())
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_OverridesDefaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader(`
data_dir: /srv/kvs
segment_size: 4096
mmap_sealed_segments: true
read_cache_entries: 128
log_level: debug
compaction:
  obsolete_ratio: 0.25
`))
	require.NoError(t, err)

	assert.Equal(t, "/srv/kvs", cfg.DataDir)
	assert.Equal(t, uint64(4096), cfg.SegmentSize)
	assert.True(t, cfg.MmapSealedSegments)
	assert.False(t, cfg.SyncWrites)
	assert.Equal(t, 128, cfg.ReadCacheEntries)
	assert.Equal(t, logging.DebugLevel, cfg.Level())

	// Keys missing from the file keep their defaults.
	assert.True(t, cfg.Compaction.Auto)
	assert.Equal(t, uint64(kvs.DefaultMinObsoleteBytes), cfg.Compaction.MinObsoleteBytes)
	assert.Equal(t, 0.25, cfg.Compaction.ObsoleteRatio)
}

func TestParse_EmptyDocument(t *testing.T) {
	cfg, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"unknown key", "segment_bytes: 10\n", "segment_bytes"},
		{"bad log level", "log_level: loud\n", "LogLevel"},
		{"tiny segment", "segment_size: 10\n", "SegmentSize"},
		{"ratio above one", "compaction:\n  obsolete_ratio: 1.5\n", "ObsoleteRatio"},
		{"negative cache", "read_cache_entries: -1\n", "ReadCacheEntries"},
		{"empty data dir", "data_dir: \"\"\n", "DataDir"},
		{"wrong type", "sync_writes: sometimes\n", "invalid config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kvs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: /data\nsync_writes: true\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data", cfg.DataDir)
	assert.True(t, cfg.SyncWrites)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestEngineOptions_OpenEngine(t *testing.T) {
	cfg := Default()
	cfg.DataDir = t.TempDir()
	cfg.SegmentSize = 1024
	cfg.ReadCacheEntries = 4

	reg := metrics.NewRegistry()
	e, err := kvs.Open(cfg.DataDir, cfg.EngineOptions(logging.NopLogger{}, reg)...)
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Set([]byte("k"), []byte("v")))
	_, _, err = e.Get([]byte("k"))
	require.NoError(t, err)
	_, _, err = e.Get([]byte("k"))
	require.NoError(t, err)

	assert.Equal(t, int64(1), e.Stats().CacheHits)

	// Nil collaborators are skipped rather than passed as typed nils.
	assert.Len(t, cfg.EngineOptions(nil, nil), 5)
}

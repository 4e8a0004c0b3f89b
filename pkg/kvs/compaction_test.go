package kvs

import (
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-kvs/pkg/metrics"
	"github.com/dd0wney/cluso-kvs/pkg/segment"
)

func TestCompactionPolicy_ShouldCompact(t *testing.T) {
	p := CompactionPolicy{MinObsoleteBytes: 100, ObsoleteRatio: 0.5}

	tests := []struct {
		name            string
		obsolete, total uint64
		want            bool
	}{
		{"nothing obsolete", 0, 1000, false},
		{"below minimum", 99, 100, false},
		{"below ratio", 100, 1000, false},
		{"at ratio", 500, 1000, true},
		{"all garbage", 300, 300, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.ShouldCompact(tt.obsolete, tt.total))
		})
	}
}

func TestCompact_PreservesDataAndDeletesOldGenerations(t *testing.T) {
	dir := t.TempDir()
	e := openTest(t, dir, WithSegmentSize(128), WithAutoCompaction(false))

	for round := 0; round < 5; round++ {
		for i := 0; i < 10; i++ {
			key := []byte(fmt.Sprintf("key-%d", i))
			require.NoError(t, e.Set(key, []byte(fmt.Sprintf("round-%d", round))))
		}
	}
	require.NoError(t, e.Remove([]byte("key-9")))

	before := e.Stats()
	require.Greater(t, before.Generations, 2)
	require.Greater(t, before.ObsoleteBytes, uint64(0))

	res, err := e.Compact()
	require.NoError(t, err)
	assert.Equal(t, 9, res.LiveKeys)
	assert.Equal(t, before.TotalBytes-before.ObsoleteBytes, res.LiveBytes)
	assert.Equal(t, before.ObsoleteBytes, res.ReclaimedBytes)
	assert.Equal(t, before.ActiveGeneration+1, res.Generation)

	after := e.Stats()
	assert.Equal(t, uint64(0), after.ObsoleteBytes)
	assert.Equal(t, res.LiveBytes, after.TotalBytes)
	assert.Equal(t, res.Generation+1, after.ActiveGeneration)
	assert.Equal(t, int64(1), after.Compactions)

	gens, err := segment.ListGenerations(dir)
	require.NoError(t, err)
	assert.Equal(t, []uint64{res.Generation, res.Generation + 1}, gens)

	for i := 0; i < 9; i++ {
		v, found := mustGet(t, e, fmt.Sprintf("key-%d", i))
		require.True(t, found)
		assert.Equal(t, "round-4", v)
	}
	_, found := mustGet(t, e, "key-9")
	assert.False(t, found)

	// Writes after compaction land in the new active generation and survive
	// a reopen together with the compacted data.
	require.NoError(t, e.Set([]byte("key-0"), []byte("after")))
	require.NoError(t, e.Close())

	e2 := openTest(t, dir, WithSegmentSize(128), WithAutoCompaction(false))
	v, _ := mustGet(t, e2, "key-0")
	assert.Equal(t, "after", v)
	v, _ = mustGet(t, e2, "key-5")
	assert.Equal(t, "round-4", v)
	assert.Equal(t, 9, e2.Stats().LiveKeys)

	entries, _ := os.ReadDir(dir)
	for _, ent := range entries {
		assert.False(t, strings.HasSuffix(ent.Name(), ".tmp"), "temp file %s left behind", ent.Name())
	}
}

func TestCompact_EmptyEngine(t *testing.T) {
	dir := t.TempDir()
	e := openTest(t, dir)

	res, err := e.Compact()
	require.NoError(t, err)
	assert.Equal(t, 0, res.LiveKeys)
	assert.Equal(t, uint64(0), res.ReclaimedBytes)

	require.NoError(t, e.Set([]byte("k"), []byte("v")))
	v, _ := mustGet(t, e, "k")
	assert.Equal(t, "v", v)
}

func TestCompact_AutomaticTrigger(t *testing.T) {
	dir := t.TempDir()
	reg := metrics.NewRegistry()
	e := openTest(t, dir,
		WithMetrics(reg),
		WithCompactionPolicy(CompactionPolicy{Auto: true, MinObsoleteBytes: 200, ObsoleteRatio: 0.5}),
	)

	key := []byte("hot")
	for i := 0; i < 20; i++ {
		require.NoError(t, e.Set(key, []byte(fmt.Sprintf("value-%02d", i))))
	}

	stats := e.Stats()
	assert.Greater(t, stats.Compactions, int64(0))
	assert.Less(t, stats.ObsoleteBytes, uint64(200))
	assert.Equal(t, 1, stats.LiveKeys)

	assert.Equal(t, float64(stats.Compactions), plainCounterValue(t, reg.CompactionsTotal))

	v, _ := mustGet(t, e, "hot")
	assert.Equal(t, "value-19", v)
}

func TestCompact_WithMmapAndCache(t *testing.T) {
	e := openTest(t, t.TempDir(), WithMmapSealedSegments(true), WithReadCache(8), WithAutoCompaction(false))

	require.NoError(t, e.Set([]byte("a"), []byte("1")))
	require.NoError(t, e.Set([]byte("a"), []byte("2")))
	mustGet(t, e, "a")

	_, err := e.Compact()
	require.NoError(t, err)
	assert.Equal(t, 0, e.Stats().CacheEntries, "compaction clears the cache")

	_, ok := e.readers[e.active-1].(*segment.MappedReader)
	assert.True(t, ok, "compacted generation is sealed and mapped")

	v, _ := mustGet(t, e, "a")
	assert.Equal(t, "2", v)
}

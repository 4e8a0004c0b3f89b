package kvs

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/golang/snappy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"

	"github.com/dd0wney/cluso-kvs/pkg/record"
)

func TestBackupRestore_RoundTrip(t *testing.T) {
	src := openTest(t, t.TempDir(), WithSegmentSize(100))
	for i := 0; i < 25; i++ {
		require.NoError(t, src.Set([]byte(fmt.Sprintf("k%02d", i)), []byte(fmt.Sprintf("v%02d", i))))
	}
	require.NoError(t, src.Set([]byte("k00"), []byte("updated")))
	require.NoError(t, src.Remove([]byte("k24")))

	var buf bytes.Buffer
	info, err := src.Backup(&buf)
	require.NoError(t, err)
	assert.Equal(t, 24, info.Keys)
	assert.Len(t, info.Digest, blake2b.Size256)
	assert.Len(t, info.DigestHex(), 64)

	dst := openTest(t, t.TempDir())
	require.NoError(t, dst.Set([]byte("unrelated"), []byte("kept")))

	restored, err := dst.Restore(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, info.Keys, restored.Keys)
	assert.Equal(t, info.Bytes, restored.Bytes)
	assert.Equal(t, info.Digest, restored.Digest)

	v, _ := mustGet(t, dst, "k00")
	assert.Equal(t, "updated", v)
	v, _ = mustGet(t, dst, "k13")
	assert.Equal(t, "v13", v)
	_, found := mustGet(t, dst, "k24")
	assert.False(t, found)
	v, _ = mustGet(t, dst, "unrelated")
	assert.Equal(t, "kept", v)
}

func TestBackup_EmptyEngine(t *testing.T) {
	e := openTest(t, t.TempDir())

	var buf bytes.Buffer
	info, err := e.Backup(&buf)
	require.NoError(t, err)
	assert.Equal(t, 0, info.Keys)

	restored, err := openTest(t, t.TempDir()).Restore(&buf)
	require.NoError(t, err)
	assert.Equal(t, 0, restored.Keys)
	assert.Equal(t, info.Digest, restored.Digest)
}

func TestRestore_RejectsRemoveFrames(t *testing.T) {
	var buf bytes.Buffer
	w := snappy.NewBufferedWriter(&buf)
	w.Write(record.Encode(record.Set([]byte("a"), []byte("1"))))
	w.Write(record.Encode(record.Remove([]byte("a"))))
	require.NoError(t, w.Close())

	e := openTest(t, t.TempDir())
	info, err := e.Restore(&buf)
	assert.ErrorIs(t, err, ErrMalformedRecord)
	assert.Equal(t, 1, info.Keys, "frames before the bad one stay applied")
}

func TestRestore_TruncatedStream(t *testing.T) {
	var buf bytes.Buffer
	w := snappy.NewBufferedWriter(&buf)
	frame := record.Encode(record.Set([]byte("key"), []byte("value")))
	w.Write(frame[:len(frame)-3])
	require.NoError(t, w.Close())

	_, err := openTest(t, t.TempDir()).Restore(&buf)
	assert.ErrorIs(t, err, ErrMalformedRecord)
}

func TestBackup_Closed(t *testing.T) {
	e, err := Open(t.TempDir())
	require.NoError(t, err)
	e.Close()

	_, err = e.Backup(&bytes.Buffer{})
	assert.ErrorIs(t, err, ErrClosed)
}

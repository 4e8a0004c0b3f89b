package kvs

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/golang/snappy"
	"golang.org/x/crypto/blake2b"

	"github.com/dd0wney/cluso-kvs/pkg/logging"
	"github.com/dd0wney/cluso-kvs/pkg/record"
)

// maxBackupFrame bounds a single frame read back from a backup stream.
const maxBackupFrame = 1 << 30

// BackupInfo describes a backup stream.
type BackupInfo struct {
	Keys   int
	Bytes  uint64 // uncompressed frame bytes
	Digest []byte // BLAKE2b-256 of the uncompressed frames
}

// DigestHex returns the digest as lowercase hex.
func (b BackupInfo) DigestHex() string {
	return hex.EncodeToString(b.Digest)
}

func newDigest() hash.Hash {
	// New256 only fails for keys longer than 64 bytes.
	h, _ := blake2b.New256(nil)
	return h
}

// Backup writes every live key as a Set frame to w, snappy-compressed.
// Writers are blocked for the duration; readers are not.
func (e *Engine) Backup(w io.Writer) (BackupInfo, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return BackupInfo{}, ErrClosed
	}

	timer := logging.StartTimer(e.logger, "backup")
	sw := snappy.NewBufferedWriter(w)
	digest := newDigest()
	out := io.MultiWriter(sw, digest)

	var info BackupInfo
	for _, ent := range e.index.Snapshot() {
		r, ok := e.readers[ent.Pointer.Generation]
		if !ok {
			return info, newError("backup").Key([]byte(ent.Key)).Pointer(ent.Pointer).Kind(ErrCorruptIndex).Err()
		}
		frame, err := r.ReadExact(ent.Pointer.Offset, ent.Pointer.Length)
		if err != nil {
			return info, newError("backup").Key([]byte(ent.Key)).Pointer(ent.Pointer).Cause(err).Err()
		}
		rec, err := record.Decode(frame)
		if err != nil {
			return info, newError("backup").Key([]byte(ent.Key)).Pointer(ent.Pointer).Cause(err).Err()
		}
		if !rec.IsSet() || !bytes.Equal(rec.Key, []byte(ent.Key)) {
			return info, newError("backup").Key([]byte(ent.Key)).Pointer(ent.Pointer).Kind(ErrCorruptIndex).Err()
		}

		if _, err := out.Write(frame); err != nil {
			return info, newError("backup").Cause(err).Err()
		}
		info.Keys++
		info.Bytes += uint64(len(frame))
	}

	if err := sw.Close(); err != nil {
		return info, newError("backup").Cause(fmt.Errorf("failed to flush backup stream: %w", err)).Err()
	}
	info.Digest = digest.Sum(nil)

	timer.End(logging.Count(info.Keys), logging.Bytes("bytes", info.Bytes), logging.String("digest", info.DigestHex()))
	return info, nil
}

// Restore reads a stream produced by Backup and applies every frame with
// Set. Keys not in the stream are left untouched. Frames applied before an
// error stay applied.
func (e *Engine) Restore(r io.Reader) (BackupInfo, error) {
	timer := logging.StartTimer(e.logger, "restore")
	digest := newDigest()
	in := io.TeeReader(snappy.NewReader(r), digest)

	var info BackupInfo
	for {
		frame, err := record.ReadFrame(in, maxBackupFrame)
		if err == io.EOF {
			break
		}
		if err != nil {
			timer.EndError(err)
			return info, newError("restore").Cause(err).Err()
		}

		rec, err := record.Decode(frame)
		if err != nil {
			timer.EndError(err)
			return info, newError("restore").Cause(err).Err()
		}
		if !rec.IsSet() {
			err := fmt.Errorf("%w: backup contains a %s record", ErrMalformedRecord, rec.Type)
			timer.EndError(err)
			return info, newError("restore").Key(rec.Key).Cause(err).Err()
		}

		if err := e.Set(rec.Key, rec.Value); err != nil {
			timer.EndError(err)
			return info, err
		}
		info.Keys++
		info.Bytes += uint64(len(frame))
	}

	info.Digest = digest.Sum(nil)
	timer.End(logging.Count(info.Keys), logging.Bytes("bytes", info.Bytes), logging.String("digest", info.DigestHex()))
	return info, nil
}

package kvs

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Formatting(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			"kind only",
			newError("remove").Key([]byte("foo")).Kind(ErrKeyNotFound).Err(),
			`kvs: remove key "foo": key not found`,
		},
		{
			"located cause",
			newError("open").At(3, 128).Kind(ErrCorruptLog).Cause(ErrTruncatedRecord).Err(),
			"kvs: open at generation 3 offset 128: corrupt log: truncated record",
		},
		{
			"generation zero is still printed",
			newError("get").At(0, 0).Cause(errors.New("boom")).Err(),
			"kvs: get at generation 0 offset 0: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_Matching(t *testing.T) {
	err := newError("open").Kind(ErrCorruptLog).Cause(ErrMalformedRecord).Err()
	assert.ErrorIs(t, err, ErrCorruptLog)
	assert.ErrorIs(t, err, ErrMalformedRecord)
	assert.NotErrorIs(t, err, ErrKeyNotFound)

	ioErr := newError("set").Cause(&fs.PathError{Op: "write", Path: "0.log", Err: fs.ErrPermission}).Err()
	assert.ErrorIs(t, ioErr, fs.ErrPermission)
	var pathErr *fs.PathError
	assert.ErrorAs(t, ioErr, &pathErr)
}

func TestError_KeyIsCopied(t *testing.T) {
	key := []byte("abc")
	err := newError("set").Key(key).Err()
	key[0] = 'z'

	var kerr *Error
	assert.ErrorAs(t, err, &kerr)
	assert.Equal(t, []byte("abc"), kerr.Key)
}

func TestIsCorruption(t *testing.T) {
	assert.True(t, isCorruption(ErrMalformedRecord))
	assert.True(t, isCorruption(ErrTruncatedRecord))
	assert.False(t, isCorruption(fs.ErrNotExist))
}

package logging

import (
	"strconv"
	"time"
)

// maxKeyLen bounds how much of a key is copied into a log line.
const maxKeyLen = 64

func String(key, value string) Field         { return Field{Key: key, Value: value} }
func Int(key string, value int) Field         { return Field{Key: key, Value: value} }
func Uint64(key string, value uint64) Field   { return Field{Key: key, Value: value} }
func Float64(key string, value float64) Field { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field       { return Field{Key: key, Value: value} }

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

// Error records err under "error"; a nil error is logged as null.
func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

func Component(name string) Field   { return String("component", name) }
func Operation(op string) Field     { return String("operation", op) }
func Latency(d time.Duration) Field { return Duration("latency", d) }
func Dir(path string) Field         { return String("dir", path) }
func Count(n int) Field             { return Int("count", n) }

// Generation identifies a log generation.
func Generation(gen uint64) Field { return Uint64("generation", gen) }

// Offset is a byte position inside a generation.
func Offset(off uint64) Field { return Uint64("offset", off) }

// Bytes is a byte count under the given name.
func Bytes(key string, n uint64) Field { return Uint64(key, n) }

// Key logs a user key as a quoted string, truncated to keep lines bounded.
func Key(k []byte) Field {
	if len(k) > maxKeyLen {
		return String("key", strconv.Quote(string(k[:maxKeyLen]))+"...")
	}
	return String("key", strconv.Quote(string(k)))
}

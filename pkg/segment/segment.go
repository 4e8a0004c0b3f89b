// Package segment owns the on-disk generation files of the log: one
// append-only writer for the active generation and random-access readers
// for every generation.
//
// Each generation lives in "{generation}.log" inside the data directory.
package segment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	// Ext is the extension of generation files.
	Ext = ".log"

	tempExt = ".tmp"
)

var (
	// ErrTruncatedRecord is returned when a read asks for bytes past the end
	// of a generation file.
	ErrTruncatedRecord = errors.New("truncated record")

	// ErrClosed is returned by operations on a closed writer or reader.
	ErrClosed = errors.New("segment is closed")
)

// generationFilePattern matches finished generation files only; temp files
// from an interrupted compaction never match.
var generationFilePattern = regexp.MustCompile(`^(\d+)\.log$`)

// Name returns the file name of a generation.
func Name(gen uint64) string {
	return strconv.FormatUint(gen, 10) + Ext
}

// Path returns the full path of a generation inside dir.
func Path(dir string, gen uint64) string {
	return filepath.Join(dir, Name(gen))
}

// ParseName extracts the generation id from a file name such as "12.log".
func ParseName(name string) (uint64, bool) {
	m := generationFilePattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	gen, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return gen, true
}

// ListGenerations returns the generation ids present in dir in ascending
// order. Directories and files that are not generation files are skipped.
func ListGenerations(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list segment directory: %w", err)
	}

	gens := make([]uint64, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if gen, ok := ParseName(entry.Name()); ok {
			gens = append(gens, gen)
		}
	}

	sort.Slice(gens, func(i, j int) bool { return gens[i] < gens[j] })
	return gens, nil
}

// TempPath returns a unique scratch path for building generation gen.
// The name never matches the generation pattern, so a crash mid-build leaves
// nothing that replay would pick up.
func TempPath(dir string, gen uint64) string {
	return filepath.Join(dir, Name(gen)+"."+uuid.NewString()+tempExt)
}

// RemoveStaleTemps deletes scratch files left behind by an interrupted
// compaction and returns how many were removed.
func RemoveStaleTemps(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list segment directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, tempExt) || !strings.Contains(name, Ext+".") {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to remove stale temp file %s: %w", name, err)
		}
		removed++
	}
	return removed, nil
}

// Remove deletes the file of generation gen.
func Remove(dir string, gen uint64) error {
	if err := os.Remove(Path(dir, gen)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove generation %d: %w", gen, err)
	}
	return nil
}

// SyncDir fsyncs a directory so that renames and removals inside it are
// durable.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

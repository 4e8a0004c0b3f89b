package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/dd0wney/cluso-kvs/pkg/kvs"
)

const keyNotFound = "Key not found"

var (
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")).Bold(true)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FFFF")).Width(20)
	boxStyle     = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FF00")).
			Padding(0, 1)
)

type command struct {
	args        int
	needsEngine bool // unavailable on the memory backend
	standalone  bool // runs without opening a store
	run         func(e *env, args []string) int
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"set":     {args: 2, run: cmdSet},
		"get":     {args: 1, run: cmdGet},
		"rm":      {args: 1, run: cmdRemove},
		"compact": {args: 0, needsEngine: true, run: cmdCompact},
		"stats":   {args: 0, needsEngine: true, run: cmdStats},
		"metrics": {args: 0, needsEngine: true, run: cmdMetrics},
		"dump":    {args: 1, needsEngine: true, run: cmdDump},
		"restore": {args: 1, needsEngine: true, run: cmdRestore},
		"shell":   {args: 0, run: cmdShell},
		"version": {args: 0, standalone: true, run: cmdVersion},
	}
}

func (e *env) fail(err error) int {
	fmt.Fprintln(e.stderr, errorStyle.Render(err.Error()))
	return exitError
}

func cmdVersion(e *env, _ []string) int {
	fmt.Fprintf(e.stdout, "kvs %s\n", version)
	return exitOK
}

func cmdSet(e *env, args []string) int {
	if err := e.store.Set([]byte(args[0]), []byte(args[1])); err != nil {
		return e.fail(err)
	}
	return exitOK
}

// cmdGet prints the value, or "Key not found" with a zero exit status.
func cmdGet(e *env, args []string) int {
	value, found, err := e.store.Get([]byte(args[0]))
	if err != nil {
		return e.fail(err)
	}
	if !found {
		fmt.Fprintln(e.stdout, keyNotFound)
		return exitOK
	}
	fmt.Fprintln(e.stdout, string(value))
	return exitOK
}

// cmdRemove prints "Key not found" and fails when the key is absent.
func cmdRemove(e *env, args []string) int {
	err := e.store.Remove([]byte(args[0]))
	if errors.Is(err, kvs.ErrKeyNotFound) {
		fmt.Fprintln(e.stdout, keyNotFound)
		return exitError
	}
	if err != nil {
		return e.fail(err)
	}
	return exitOK
}

func cmdCompact(e *env, _ []string) int {
	res, err := e.engine.Compact()
	if err != nil {
		return e.fail(err)
	}
	fmt.Fprintln(e.stdout, successStyle.Render(fmt.Sprintf(
		"compacted %d keys into generation %d, reclaimed %d bytes in %s",
		res.LiveKeys, res.Generation, res.ReclaimedBytes, res.Duration.Round(time.Microsecond))))
	return exitOK
}

func cmdStats(e *env, _ []string) int {
	fmt.Fprintln(e.stdout, renderStats(e.engine.Stats()))
	return exitOK
}

func renderStats(s kvs.Stats) string {
	rows := []struct {
		label string
		value any
	}{
		{"Live keys", s.LiveKeys},
		{"Log bytes", s.TotalBytes},
		{"Obsolete bytes", s.ObsoleteBytes},
		{"Generations", s.Generations},
		{"Active generation", s.ActiveGeneration},
		{"Compactions", s.Compactions},
	}

	var b strings.Builder
	for i, r := range rows {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(labelStyle.Render(r.label))
		b.WriteString(fmt.Sprint(r.value))
	}
	return boxStyle.Render(b.String())
}

func cmdMetrics(e *env, _ []string) int {
	if err := e.registry.WriteText(e.stdout); err != nil {
		return e.fail(err)
	}
	return exitOK
}

func cmdDump(e *env, args []string) int {
	f, err := os.Create(args[0])
	if err != nil {
		return e.fail(err)
	}

	info, err := e.engine.Backup(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(args[0])
		return e.fail(err)
	}

	fmt.Fprintln(e.stdout, successStyle.Render(fmt.Sprintf("dumped %d keys (%d bytes)", info.Keys, info.Bytes)))
	fmt.Fprintf(e.stdout, "blake2b-256 %s\n", info.DigestHex())
	return exitOK
}

func cmdRestore(e *env, args []string) int {
	f, err := os.Open(args[0])
	if err != nil {
		return e.fail(err)
	}
	defer f.Close()

	info, err := e.engine.Restore(f)
	if err != nil {
		return e.fail(fmt.Errorf("restored %d keys before failing: %w", info.Keys, err))
	}

	fmt.Fprintln(e.stdout, successStyle.Render(fmt.Sprintf("restored %d keys (%d bytes)", info.Keys, info.Bytes)))
	fmt.Fprintf(e.stdout, "blake2b-256 %s\n", info.DigestHex())
	return exitOK
}

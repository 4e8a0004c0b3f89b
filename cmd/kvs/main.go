// Command kvs drives a key-value store from the command line.
//
//	kvs set KEY VALUE
//	kvs get KEY
//	kvs rm KEY
//	kvs compact | stats | metrics
//	kvs dump FILE | restore FILE
//	kvs shell
//	kvs version
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/dd0wney/cluso-kvs/pkg/config"
	"github.com/dd0wney/cluso-kvs/pkg/kvs"
	"github.com/dd0wney/cluso-kvs/pkg/logging"
	"github.com/dd0wney/cluso-kvs/pkg/metrics"
	"github.com/dd0wney/cluso-kvs/pkg/store"
)

const version = "0.1.0"

// Exit codes.
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

const usageText = `Usage: kvs [flags] <command> [args]

Commands:
  set KEY VALUE   store VALUE under KEY
  get KEY         print the value of KEY
  rm KEY          remove KEY
  compact         rewrite the log without obsolete records
  stats           print engine statistics
  metrics         print Prometheus metrics for this invocation
  dump FILE       write a compressed backup of every live key to FILE
  restore FILE    load a backup written by dump
  shell           interactive session
  version         print the version

Flags:
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	dir        string
	configPath string
	engine     string
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("kvs", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts options
	fs.StringVar(&opts.dir, "dir", "", "Data directory (overrides data_dir from -config; default current directory)")
	fs.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&opts.engine, "engine", "kvs", "Storage backend: kvs or memory")
	showVersion := fs.Bool("V", false, "Print the version and exit")
	fs.Usage = func() {
		fmt.Fprint(stderr, usageText)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	if *showVersion {
		fmt.Fprintf(stdout, "kvs %s\n", version)
		return exitOK
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return exitUsage
	}

	cmd, ok := commands[rest[0]]
	if !ok {
		fmt.Fprintln(stderr, errorStyle.Render(fmt.Sprintf("unknown command %q", rest[0])))
		fs.Usage()
		return exitUsage
	}
	if len(rest)-1 != cmd.args {
		fmt.Fprintln(stderr, errorStyle.Render(fmt.Sprintf("%s: expected %d argument(s), got %d", rest[0], cmd.args, len(rest)-1)))
		fs.Usage()
		return exitUsage
	}

	if cmd.standalone {
		return cmd.run(&env{stdout: stdout, stderr: stderr}, rest[1:])
	}

	e, err := openEnv(opts, cmd.needsEngine, stdout, stderr)
	if err != nil {
		fmt.Fprintln(stderr, errorStyle.Render(err.Error()))
		return exitError
	}

	code := cmd.run(e, rest[1:])
	if err := e.store.Close(); err != nil {
		fmt.Fprintln(stderr, errorStyle.Render(err.Error()))
		if code == exitOK {
			code = exitError
		}
	}
	return code
}

// env is what a command runs against.
type env struct {
	store    store.Store
	engine   *kvs.Engine // nil for the memory backend
	registry *metrics.Registry
	stdout   io.Writer
	stderr   io.Writer
}

func openEnv(opts options, needsEngine bool, stdout, stderr io.Writer) (*env, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.dir != "" {
		cfg.DataDir = opts.dir
	}

	e := &env{stdout: stdout, stderr: stderr}

	switch opts.engine {
	case "kvs":
		logger := logging.NewJSONLogger(stderr, logging.LevelFromEnv(cfg.Level()))
		e.registry = metrics.NewRegistry()
		engine, err := kvs.Open(cfg.DataDir, cfg.EngineOptions(logger, e.registry)...)
		if err != nil {
			return nil, err
		}
		e.store, e.engine = engine, engine
	case "memory":
		if needsEngine {
			return nil, fmt.Errorf("this command needs -engine kvs")
		}
		e.store = store.NewMemStore()
	default:
		return nil, fmt.Errorf("unknown engine %q (want kvs or memory)", opts.engine)
	}
	return e, nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/layerfs/internal/logger"
	"github.com/marmos91/layerfs/pkg/config"
)

const usage = `layerfs - layered virtual filesystem

Usage:
  layerfs [flags] <command> [arguments]

Commands:
  init [-force] [-path file]     write a commented default configuration
  tree [path]                    print the merged tree below path (default /)
  cat <path|locator>             print a node's content
  attrs <path|locator>           print a node's attributes
  set-attr <path> <key> <value>  set one attribute (copies the node up if needed)
  mime <path>                    print a node's MIME type
  gc [-dry-run]                  remove attributes of nodes that no longer exist
  serve                          watch providers and trees, run GC and metrics until stopped

Flags:
`

func main() {
	configPath := flag.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/layerfs/config.yaml)")
	logLevel := flag.String("log-level", "", "Override log level (DEBUG, INFO, WARN, ERROR)")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	command, args := flag.Arg(0), flag.Args()[1:]

	if command == "init" {
		if err := runInit(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	closeLog, err := setupLogging(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = closeLog() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, command, args); err != nil {
		if errors.Is(err, errUsage) {
			flag.Usage()
			os.Exit(2)
		}
		logger.Error("%s: %v", command, err)
		os.Exit(1)
	}
}

var errUsage = errors.New("usage")

func run(ctx context.Context, cfg *config.Config, command string, args []string) error {
	var m *config.MetricsResult
	if command == "serve" {
		m = config.InitializeMetrics(cfg)
	}

	rt, err := config.InitializeRuntime(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("Shutdown: %v", err)
		}
	}()

	switch command {
	case "tree":
		return runTree(ctx, rt, args)
	case "cat":
		return runCat(ctx, rt, args)
	case "attrs":
		return runAttrs(ctx, rt, args)
	case "set-attr":
		return runSetAttr(ctx, rt, args)
	case "mime":
		return runMime(ctx, rt, args)
	case "gc":
		return runGC(ctx, rt, args)
	case "serve":
		return runServe(ctx, rt)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", command)
		return errUsage
	}
}

// setupLogging applies the logging section and returns a function closing the
// log file, if any.
func setupLogging(cfg config.LoggingConfig) (func() error, error) {
	w, closeFn, err := logger.OpenOutput(cfg.Output)
	if err != nil {
		return nil, err
	}
	logger.SetOutput(w)
	logger.SetLevel(cfg.Level)
	logger.SetFormat(cfg.Format)
	return closeFn, nil
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	force := fs.Bool("force", false, "Overwrite an existing file")
	path := fs.String("path", "", "Write to this file instead of the default location")
	if err := fs.Parse(args); err != nil {
		return err
	}

	target := *path
	if target == "" {
		var err error
		if target, err = config.InitConfig(*force); err != nil {
			return err
		}
	} else if err := config.InitConfigToPath(target, *force); err != nil {
		return err
	}

	fmt.Printf("Configuration written to %s\n", target)
	return nil
}

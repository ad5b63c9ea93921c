package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/marmos91/layerfs/internal/logger"
	"github.com/marmos91/layerfs/pkg/config"
	"github.com/marmos91/layerfs/pkg/union"
	"github.com/marmos91/layerfs/pkg/vfs"
	"github.com/sourcegraph/conc"
)

// isLocator reports whether arg names a node by locator rather than by
// overlay path.
func isLocator(arg string) bool {
	return strings.HasPrefix(arg, vfs.URLScheme+"://")
}

func find(ctx context.Context, rt *config.Runtime, p string) (*union.Node, error) {
	fs, err := rt.Overlay(ctx)
	if err != nil {
		return nil, err
	}
	return fs.Find(ctx, p)
}

func runTree(ctx context.Context, rt *config.Runtime, args []string) error {
	root := vfs.Root
	if len(args) > 0 {
		root = args[0]
	}

	n, err := find(ctx, rt, root)
	if err != nil {
		return err
	}
	return printTree(ctx, os.Stdout, n, "")
}

func printTree(ctx context.Context, w io.Writer, n *union.Node, indent string) error {
	tree, err := n.Tree(ctx)
	if err != nil {
		return err
	}

	name := n.Name()
	if n.Path() == vfs.Root {
		name = vfs.Root
	}
	if n.IsFolder() && name != vfs.Root {
		name += "/"
	}
	fmt.Fprintf(w, "%s%s  [%s]\n", indent, name, tree)

	if !n.IsFolder() {
		return nil
	}
	children, err := n.Children(ctx)
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := printTree(ctx, w, c, indent+"  "); err != nil {
			return err
		}
	}
	return nil
}

func runCat(ctx context.Context, rt *config.Runtime, args []string) error {
	if len(args) != 1 {
		return errUsage
	}

	var r io.ReadCloser
	if isLocator(args[0]) {
		if _, err := rt.Overlay(ctx); err != nil {
			return err
		}
		var err error
		if r, err = rt.Registry.Open(ctx, args[0]); err != nil {
			return err
		}
	} else {
		n, err := find(ctx, rt, args[0])
		if err != nil {
			return err
		}
		if r, err = n.Open(ctx); err != nil {
			return err
		}
	}
	defer func() { _ = r.Close() }()

	_, err := io.Copy(os.Stdout, r)
	return err
}

func runAttrs(ctx context.Context, rt *config.Runtime, args []string) error {
	if len(args) != 1 {
		return errUsage
	}

	var attrs map[string]any
	if isLocator(args[0]) {
		if _, err := rt.Overlay(ctx); err != nil {
			return err
		}
		var err error
		if attrs, err = rt.Registry.Attributes(ctx, args[0]); err != nil {
			return err
		}
	} else {
		n, err := find(ctx, rt, args[0])
		if err != nil {
			return err
		}
		if attrs, err = n.Attributes(ctx); err != nil {
			return err
		}
	}

	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Printf("%s=%v\n", k, attrs[k])
	}
	return nil
}

func runSetAttr(ctx context.Context, rt *config.Runtime, args []string) error {
	if len(args) != 3 {
		return errUsage
	}

	n, err := find(ctx, rt, args[0])
	if err != nil {
		return err
	}
	return n.SetAttribute(ctx, args[1], args[2])
}

func runMime(ctx context.Context, rt *config.Runtime, args []string) error {
	if len(args) != 1 {
		return errUsage
	}

	n, err := find(ctx, rt, args[0])
	if err != nil {
		return err
	}
	fmt.Println(n.MimeType(ctx))
	return nil
}

func runGC(ctx context.Context, rt *config.Runtime, args []string) error {
	fs := flag.NewFlagSet("gc", flag.ContinueOnError)
	dryRun := fs.Bool("dry-run", false, "Only report orphaned attributes")
	if err := fs.Parse(args); err != nil {
		return err
	}

	collector := rt.Collector
	if *dryRun {
		collector = rt.DryRunCollector()
	}

	stats, err := collector.RunNow(ctx)
	if err != nil {
		return err
	}
	fmt.Println(stats.Summary())
	return nil
}

// runServe keeps the overlay live until ctx is cancelled: provider and tree
// watches, periodic GC and the metrics endpoint.
func runServe(ctx context.Context, rt *config.Runtime) error {
	fs, err := rt.Overlay(ctx)
	if err != nil {
		return err
	}

	rt.Collector.Start()

	var wg conc.WaitGroup
	errs := make(chan error, 3)

	wg.Go(func() {
		if err := rt.Repository.Watch(ctx); err != nil && ctx.Err() == nil {
			errs <- fmt.Errorf("provider watch: %w", err)
		}
	})
	wg.Go(func() {
		if err := fs.Watch(ctx); err != nil && ctx.Err() == nil {
			errs <- fmt.Errorf("tree watch: %w", err)
		}
	})
	if server := rt.Metrics.Server; server != nil {
		wg.Go(func() {
			if err := server.Start(ctx); err != nil {
				errs <- err
			}
		})
	}

	logger.Info("layerfs serving overlay %s with %d provider(s). Press Ctrl+C to stop.",
		fs.Name(), len(rt.Repository.Providers()))

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
	case runErr = <-errs:
		logger.Error("Server error: %v", runErr)
	}

	if runErr != nil {
		return runErr
	}
	wg.Wait()
	logger.Info("layerfs stopped gracefully")
	return nil
}

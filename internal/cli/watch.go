package cli

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/zeebo/blake3"

	"github.com/aretw0/weft"
	"github.com/aretw0/weft/internal/config"
	"github.com/aretw0/weft/internal/presentation/tui"
)

// watchDebounce is how long the tree must stay quiet before it is re-hashed.
var watchDebounce = 200 * time.Millisecond

// RunWatch executes the graph in development mode, re-running it whenever a
// YAML file next to it changes.
func RunWatch(opts RunOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger := NewLogger(cfg, opts.Debug)
	out := opts.stdout()
	tui.PrintBanner(out, weft.Version)

	path, err := ResolveGraphPath(opts.GraphRef)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	logger.Info("Starting Watcher", "path", dir)
	printSystemMessage(out, "Watching '%s'.", dir)

	sigCtx := NewSignalContext(context.Background())
	defer sigCtx.Cancel()

	for {
		if !runWatchIteration(sigCtx, cfg, opts, dir) {
			return nil
		}
		logger.Info("Watcher restarting")
	}
}

func runWatchIteration(parentCtx *SignalContext, cfg config.Runtime, opts RunOptions, dir string) bool {
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	out := opts.stdout()
	logger := NewLogger(cfg, opts.Debug)
	changed := watchTree(ctx, dir, watchDebounce)

	engine, err := newSessionEngine(cfg, logger, opts)
	if err != nil {
		logger.Error("Engine initialization failed", "err", err)
		return waitForChange(parentCtx, changed, out)
	}
	defer engine.Close()

	type outcome struct {
		res weft.WorkflowRunResult
		err error
	}
	doneCh := make(chan outcome, 1)
	go func() {
		res, err := runOnce(ctx, engine, opts)
		doneCh <- outcome{res, err}
	}()

	select {
	case <-parentCtx.Done():
		cancel()
		res := <-doneCh
		logCompletion(out, res.res.MetaInfo.SessionName, context.Canceled, parentCtx.Signal())
		return false
	case file := <-changed:
		printSystemMessage(out, "Change detected in '%s'.", file)
		cancel()
		<-doneCh
		return true
	case res := <-doneCh:
		if res.err != nil && !isInterrupted(res.err) {
			logger.Error("Runtime error", "err", res.err)
		}
		if res.res.MetaInfo.SessionName != "" {
			if err := printResult(out, res.res, opts); err != nil {
				logger.Warn("Failed to print result", "err", err)
			}
			logCompletion(out, res.res.MetaInfo.SessionName, res.err, nil)
		}
		return waitForChange(parentCtx, changed, out)
	}
}

func waitForChange(parentCtx *SignalContext, changed <-chan string, out io.Writer) bool {
	printSystemMessage(out, "Waiting for changes...")
	select {
	case <-parentCtx.Done():
		return false
	case file, ok := <-changed:
		if ok {
			printSystemMessage(out, "Change detected in '%s'.", file)
		}
		return ok
	}
}

// watchTree sends the first YAML file below dir whose content changed.
// Filesystem events trigger a re-hash once the tree has been quiet for
// debounce. Without fsnotify support it polls every debounce instead. The channel is
// closed without a value when ctx ends.
func watchTree(ctx context.Context, dir string, debounce time.Duration) <-chan string {
	ch := make(chan string, 1)
	initial, _ := digestTree(dir)
	watcher, watchErr := newTreeWatcher(dir)

	go func() {
		defer close(ch)
		var (
			events <-chan fsnotify.Event
			errs   <-chan error
			tick   <-chan time.Time
			settle <-chan time.Time
		)
		if watchErr == nil {
			defer watcher.Close()
			events, errs = watcher.Events, watcher.Errors
		} else {
			ticker := time.NewTicker(debounce)
			defer ticker.Stop()
			tick = ticker.C
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Create) {
					if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
						_ = addTree(watcher, ev.Name)
					}
				}
				settle = time.After(debounce)
				continue
			case _, ok := <-errs:
				if !ok {
					return
				}
				continue
			case <-settle:
				settle = nil
			case <-tick:
			}

			current, err := digestTree(dir)
			if err != nil {
				continue
			}
			if file := firstChanged(initial, current); file != "" {
				ch <- file
				return
			}
		}
	}()
	return ch
}

func newTreeWatcher(dir string) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := addTree(w, dir); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

// addTree watches root and every directory below it.
func addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}

// digestTree hashes every YAML file below dir.
func digestTree(dir string) (map[string]string, error) {
	fsys := os.DirFS(dir)
	matches, err := doublestar.Glob(fsys, "**/*.{yaml,yml}")
	if err != nil {
		return nil, err
	}
	sums := make(map[string]string, len(matches))
	for _, m := range matches {
		b, err := fs.ReadFile(fsys, m)
		if err != nil {
			continue
		}
		sum := blake3.Sum256(b)
		sums[m] = hex.EncodeToString(sum[:])
	}
	return sums, nil
}

func firstChanged(before, after map[string]string) string {
	for name, sum := range after {
		if before[name] != sum {
			return name
		}
	}
	for name := range before {
		if _, ok := after[name]; !ok {
			return fmt.Sprintf("%s (removed)", name)
		}
	}
	return ""
}

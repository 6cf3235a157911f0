package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"regchat/internal/config"
)

func newWatchCmd(load ConfigLoader, open Opener) *cobra.Command {
	o := &ingestOptions{}
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Ingest PDFs as they appear in --pdf-dir",
		Long: `Watches --pdf-dir and ingests a matching PDF once it has stopped changing
for --debounce. Existing files are ingested first unless --skip-processed
finds their artifact. Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, rt, err := setup(cmd, load, open, o.apply)
			if err != nil {
				return err
			}
			defer rt.Close()
			return runWatch(cmd, rt.Ingest, cfg, o, debounce)
		},
	}
	bindIngestFlags(cmd, o)
	cmd.Flags().DurationVar(&debounce, "debounce", 2*time.Second, "quiet period before a changed file is ingested")
	return cmd
}

func runWatch(cmd *cobra.Command, ing Ingester, cfg *config.Config, o *ingestOptions, debounce time.Duration) error {
	ctx := cmd.Context()
	dir := cfg.RawDataDir
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := addTree(watcher, dir); err != nil {
		return err
	}

	existing, err := discover(dir, o.pattern)
	if err != nil {
		return err
	}
	ids, err := documentIDs(dir, existing)
	if err != nil {
		return err
	}
	for i, path := range existing {
		reportIngest(ctx, cmd, ing, path, ids[i], o.skipProcessed)
	}
	cmd.Printf("Watching %s for %s\n", dir, o.pattern)

	d := newDebouncer(debounce, func(path string) {
		reportIngest(ctx, cmd, ing, path, documentID(dir, path), false)
	})
	defer d.stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addTree(watcher, ev.Name); err != nil {
						slog.WarnContext(ctx, "failed to watch new directory", "path", ev.Name, "error", err)
					}
					continue
				}
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if matches(dir, o.pattern, ev.Name) {
				d.touch(ev.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "watch error", "error", err)
		}
	}
}

func reportIngest(ctx context.Context, cmd *cobra.Command, ing Ingester, path, documentID string, skipProcessed bool) {
	n, err := ingestOne(ctx, ing, path, documentID, skipProcessed)
	switch {
	case errors.Is(err, errSkipped):
	case err != nil:
		cmd.Printf("  x %s: %v\n", filepath.Base(path), err)
	default:
		cmd.Printf("  + %s: %d chunks\n", filepath.Base(path), n)
	}
}

func matches(dir, pattern, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	ok, err := doublestar.Match(pattern, filepath.ToSlash(rel))
	return err == nil && ok
}

// addTree watches dir and every directory below it. fsnotify is not recursive.
func addTree(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := w.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
		}
		return nil
	})
}

// debouncer fires fn for a path once no touch arrived for delay. Calls to fn
// are serialized and none start after stop returns.
type debouncer struct {
	delay  time.Duration
	fn     func(string)
	mu     sync.Mutex
	timers map[string]*time.Timer

	run     sync.Mutex
	stopped bool
}

func newDebouncer(delay time.Duration, fn func(string)) *debouncer {
	return &debouncer{delay: delay, fn: fn, timers: make(map[string]*time.Timer)}
}

func (d *debouncer) touch(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[path]; ok {
		t.Reset(d.delay)
		return
	}
	d.timers[path] = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		delete(d.timers, path)
		d.mu.Unlock()

		d.run.Lock()
		defer d.run.Unlock()
		if !d.stopped {
			d.fn(path)
		}
	})
}

func (d *debouncer) stop() {
	d.mu.Lock()
	for p, t := range d.timers {
		t.Stop()
		delete(d.timers, p)
	}
	d.mu.Unlock()

	d.run.Lock()
	d.stopped = true
	d.run.Unlock()
}

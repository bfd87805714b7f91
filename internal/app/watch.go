package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"streamcheck/internal/config"
	"streamcheck/pkg/logx"
)

// runWatch re-runs the pipeline whenever a local source file changes.
// Editor write bursts are debounced; remote (http) sources are ignored by
// the watcher since there is nothing to watch.
func (a *App) runWatch(ctx context.Context) error {
	sources, err := a.collectSources()
	if err != nil {
		return err
	}

	files := localFiles(sources, a.cfg.Paths.WhitelistFile, a.cfg.Paths.BlacklistFile, a.cfg.Paths.SourcesFile)
	if len(files) == 0 {
		return fmt.Errorf("watch mode enabled but no local files to watch")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch init: %w", err)
	}
	defer w.Close()

	// Watch directories, match by basename: editors replace files, which
	// drops inode-level watches.
	watched := make(map[string]struct{})
	names := make(map[string]struct{})
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			continue
		}
		names[strings.ToLower(filepath.Base(abs))] = struct{}{}
		dir := filepath.Dir(abs)
		if _, ok := watched[dir]; ok {
			continue
		}
		if err := w.Add(dir); err != nil {
			a.log.Warn("watch add failed", logx.String("dir", dir), logx.Err(err))
			continue
		}
		watched[dir] = struct{}{}
	}
	if len(watched) == 0 {
		return fmt.Errorf("no watchable directories")
	}

	debounceDur, err := config.ParseDurationOrDefault("watch.debounce", a.cfg.Watch.Debounce, 2*time.Second)
	if err != nil {
		return err
	}

	runs := make(chan struct{}, 1)
	var timerMu sync.Mutex
	var timer *time.Timer
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounceDur, func() {
			select {
			case runs <- struct{}{}:
			default:
			}
		})
	}

	a.log.Info("watch mode started",
		logx.Int("dirs", len(watched)), logx.Duration("debounce", debounceDur))

	// First pass before any change arrives.
	if err := a.RunOnce(ctx); err != nil {
		a.log.Error("initial run failed", logx.Err(err))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-runs:
			if err := a.RunOnce(ctx); err != nil {
				a.log.Error("watch-triggered run failed", logx.Err(err))
			}
		case ev, ok := <-w.Events:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			if _, match := names[strings.ToLower(filepath.Base(ev.Name))]; !match {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				a.log.Debug("source change detected", logx.String("file", ev.Name))
				debounce()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			if err != nil {
				a.log.Warn("watch error", logx.Err(err))
			}
		}
	}
}

// localFiles filters the given paths down to existing local files.
func localFiles(sources []string, extra ...string) []string {
	var out []string
	for _, s := range append(append([]string(nil), sources...), extra...) {
		if s == "" || strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
			continue
		}
		if _, err := os.Stat(s); err == nil {
			out = append(out, s)
		}
	}
	return out
}

package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events an editor save or a package step produces.
const DefaultDebounce = 200 * time.Millisecond

// Watcher reports changes to a set of files and directories.
type Watcher struct {
	watcher  *fsnotify.Watcher
	files    map[string]struct{}
	dirs     []string
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher watches the given paths. Files are watched through their parent
// directory so editors that replace files are seen; directories are watched
// for any change inside them. Missing paths are skipped.
func NewWatcher(paths []string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		watcher:  fw,
		files:    map[string]struct{}{},
		debounce: debounce,
		logger:   logger,
	}

	watched := map[string]struct{}{}
	add := func(dir string) error {
		if _, ok := watched[dir]; ok {
			return nil
		}
		watched[dir] = struct{}{}
		return fw.Add(dir)
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		absPath, err := filepath.Abs(path)
		if err != nil {
			_ = fw.Close()
			return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
		}
		info, err := os.Stat(absPath)
		if err != nil {
			logger.Warn("skipping missing watch path", "path", absPath, "error", err)
			continue
		}
		dir := filepath.Dir(absPath)
		if info.IsDir() {
			dir = absPath
			w.dirs = append(w.dirs, absPath)
		} else {
			w.files[absPath] = struct{}{}
		}
		if err := add(dir); err != nil {
			_ = fw.Close()
			return nil, fmt.Errorf("failed to watch directory %s: %w", dir, err)
		}
	}

	return w, nil
}

func (w *Watcher) relevant(name string) bool {
	clean := filepath.Clean(name)
	if _, ok := w.files[clean]; ok {
		return true
	}
	for _, dir := range w.dirs {
		if clean == dir || strings.HasPrefix(clean, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Run calls onChange once per debounced burst of relevant events until ctx
// is cancelled. onChange is never called concurrently with itself.
func (w *Watcher) Run(ctx context.Context, onChange func(context.Context)) error {
	var (
		debounceTimer *time.Timer
		fire          <-chan time.Time
	)
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.logger.Debug("watched path changed", "path", event.Name, "op", event.Op.String())
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.NewTimer(w.debounce)
				fire = debounceTimer.C
			}
		case <-fire:
			fire = nil
			onChange(ctx)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

// Close stops the underlying watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

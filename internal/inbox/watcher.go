package inbox

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/untoldecay/pi-messenger/internal/debug"
	"github.com/untoldecay/pi-messenger/internal/paths"
)

const (
	// drainDebounce is how long the watcher waits after the last
	// filesystem event before draining. Senders write a temp file and
	// rename it into place, so a single message produces a small burst.
	drainDebounce = 50 * time.Millisecond

	// maxWatchRetries bounds re-establish attempts after a broken watch.
	// Past that the watcher goes dormant instead of spinning.
	maxWatchRetries = 5

	defaultPollInterval = 2 * time.Second
)

// Watcher wakes a Drainer whenever message files land in an agent's inbox.
// It watches the inbox directory with fsnotify; if the watcher cannot be
// created it falls back to polling, and if an established watch breaks it
// retries with exponential backoff before going dormant.
type Watcher struct {
	dir       string
	drainer   *Drainer
	debouncer *Debouncer

	watcher     *fsnotify.Watcher
	pollingMode bool

	// polling state
	pollInterval time.Duration
	lastModTime  time.Time
	lastCount    int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a watcher for the named agent's inbox. The inbox
// directory is created if missing so the watch has something to attach to.
// Falls back to polling mode if fsnotify fails (controlled by the
// PI_WATCHER_FALLBACK env var).
func NewWatcher(name string, drainer *Drainer) (*Watcher, error) {
	dir := paths.InboxDir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create inbox dir: %w", err)
	}

	w := &Watcher{
		dir:          dir,
		drainer:      drainer,
		pollInterval: defaultPollInterval,
	}
	w.debouncer = NewDebouncer(drainDebounce, drainer.Request)
	w.lastModTime, w.lastCount = dirState(dir)

	fallbackEnv := os.Getenv("PI_WATCHER_FALLBACK")
	fallbackDisabled := fallbackEnv == "false" || fallbackEnv == "0"

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		if fallbackDisabled {
			return nil, fmt.Errorf("fsnotify.NewWatcher() failed and PI_WATCHER_FALLBACK is disabled: %w", err)
		}
		debug.Logf("inbox watch %s: fsnotify unavailable (%v), polling every %v", dir, err, w.pollInterval)
		w.pollingMode = true
		return w, nil
	}

	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		if fallbackDisabled {
			return nil, fmt.Errorf("failed to watch inbox and PI_WATCHER_FALLBACK is disabled: %w", err)
		}
		debug.Logf("inbox watch %s: add failed (%v), polling every %v", dir, err, w.pollInterval)
		w.pollingMode = true
		return w, nil
	}

	w.watcher = watcher
	return w, nil
}

// Start begins monitoring in a background goroutine until the context is
// canceled or Close is called. Should only be called once per Watcher.
func (w *Watcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	if w.pollingMode {
		w.startPolling(ctx)
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				if !w.reEstablishWatch(ctx) {
					return
				}
				continue
			}
			// Messages arrive by rename into the inbox; Create covers
			// direct writes and Write covers in-place appends.
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				w.debouncer.Trigger()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				if !w.reEstablishWatch(ctx) {
					return
				}
				continue
			}
			debug.Logf("inbox watch %s: %v", w.dir, err)

		case <-ctx.Done():
			return
		}
	}
}

// reEstablishWatch replaces a broken fsnotify watch, backing off between
// attempts. Returns false once retries are exhausted; the watcher is then
// dormant and messages are only picked up by explicit drains.
func (w *Watcher) reEstablishWatch(ctx context.Context) bool {
	if w.watcher != nil {
		_ = w.watcher.Close()
		w.watcher = nil
	}

	for attempt := 1; attempt <= maxWatchRetries; attempt++ {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(watchRetryDelay(attempt)):
		}

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			debug.Logf("inbox watch %s: re-create attempt %d: %v", w.dir, attempt, err)
			continue
		}
		if err := watcher.Add(w.dir); err != nil {
			_ = watcher.Close()
			debug.Logf("inbox watch %s: re-add attempt %d: %v", w.dir, attempt, err)
			continue
		}

		w.watcher = watcher
		// Catch anything that landed while the watch was down.
		w.debouncer.Trigger()
		debug.Logf("inbox watch %s: re-established after %d attempt(s)", w.dir, attempt)
		return true
	}

	debug.Logf("inbox watch %s: giving up after %d retries", w.dir, maxWatchRetries)
	return false
}

// watchRetryDelay returns the backoff before re-establish attempt n:
// 1s, 2s, 4s, ... capped at 30s.
func watchRetryDelay(attempt int) time.Duration {
	ms := 1000 * (1 << (attempt - 1))
	if ms > 30000 {
		ms = 30000
	}
	return time.Duration(ms) * time.Millisecond
}

// startPolling checks the inbox directory on a ticker and triggers a drain
// whenever its mtime or entry count changes.
func (w *Watcher) startPolling(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				modTime, count := dirState(w.dir)
				if !modTime.Equal(w.lastModTime) || count != w.lastCount {
					w.lastModTime = modTime
					w.lastCount = count
					w.debouncer.Trigger()
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func dirState(dir string) (time.Time, int) {
	stat, err := os.Stat(dir)
	if err != nil {
		return time.Time{}, 0
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return stat.ModTime(), 0
	}
	return stat.ModTime(), len(entries)
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.debouncer.Cancel()
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

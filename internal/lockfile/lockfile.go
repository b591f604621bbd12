// Package lockfile implements the swarm lock: a machine-scope mutex built
// on exclusive file creation with a PID stamp.
//
// Advisory locks (flock and friends) do not survive a crashed holder
// identically on every POSIX filesystem, so this lock deliberately stays a
// plain file. Staleness recovery runs on two signals: the stamped PID is
// dead, or the file is older than the staleness window.
package lockfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/untoldecay/pi-messenger/internal/proc"
)

var (
	// ErrTimeout is returned when the lock stays contended past the
	// retry budget.
	ErrTimeout = errors.New("swarm lock timeout")
	// ErrCancelled is returned when the waiter's context is cancelled.
	ErrCancelled = errors.New("swarm lock wait cancelled")
)

const (
	staleAfter = 10 * time.Second
	retryDelay = 100 * time.Millisecond
	maxRetries = 50
)

// Lock is a handle on the swarm lock file. The zero value is unusable;
// construct with New.
type Lock struct {
	path string
}

// New returns a lock over the given file path.
func New(path string) *Lock {
	return &Lock{path: path}
}

// Acquire takes the lock, retrying through contention and recovering
// stale files left by crashed holders. It is not reentrant: a holder must
// not call Acquire again.
func (l *Lock) Acquire(ctx context.Context) error {
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return ErrCancelled
		}

		ok, err := l.tryCreate()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		if l.reclaimStale() {
			continue
		}

		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return ErrCancelled
		}
	}
	return ErrTimeout
}

// Release removes the lock file. Best effort: a failed unlink is left for
// the next waiter's staleness recovery.
func (l *Lock) Release() {
	_ = os.Remove(l.path)
}

// With runs fn while holding the lock, releasing it on every path out.
func (l *Lock) With(ctx context.Context, fn func() error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn()
}

// Holder reports the PID stamped into the current lock file, or 0 when
// the lock is free or unreadable.
func (l *Lock) Holder() int {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

func (l *Lock) tryCreate() (bool, error) {
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("create lock: %w", err)
	}
	_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(l.path)
		return false, fmt.Errorf("stamp lock: %w", errors.Join(werr, cerr))
	}
	return true, nil
}

// reclaimStale unlinks the lock when its holder has crashed or the file
// has outlived the staleness window. Returns true when the caller should
// retry immediately.
func (l *Lock) reclaimStale() bool {
	info, err := os.Stat(l.path)
	if err != nil {
		// Holder released between our create attempt and now.
		return true
	}

	holder := l.Holder()
	holderAlive := holder != 0 && proc.Alive(holder)
	if holderAlive && time.Since(info.ModTime()) < staleAfter {
		return false
	}

	// Dead holder or expired window. Unlink and retry; a concurrent
	// reclaimer racing us is harmless because the create step is what
	// actually decides ownership.
	_ = os.Remove(l.path)
	return true
}

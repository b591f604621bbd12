// Package feed maintains the project activity feed: an append-only JSONL
// file every agent in the project writes to and any agent may read.
package feed

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"

	"github.com/untoldecay/pi-messenger/internal/debug"
	"github.com/untoldecay/pi-messenger/internal/fsutil"
	"github.com/untoldecay/pi-messenger/internal/paths"
)

// Event types recorded in the feed.
const (
	TypeJoin    = "join"
	TypeLeave   = "leave"
	TypeReserve = "reserve"
	TypeRelease = "release"
	TypeMessage = "message"
	TypeCommit  = "commit"
	TypeTest    = "test"
	TypeEdit    = "edit"
	TypeStuck   = "stuck"

	TypeTaskStart   = "task.start"
	TypeTaskDone    = "task.done"
	TypeTaskBlock   = "task.block"
	TypeTaskUnblock = "task.unblock"
	TypeTaskReset   = "task.reset"

	TypePlanStart  = "plan.start"
	TypePlanDone   = "plan.done"
	TypePlanCancel = "plan.cancel"
	TypePlanFailed = "plan.failed"
)

// previewCap bounds the preview field so one chatty event cannot bloat
// the feed.
const previewCap = 100

// Event is one feed line.
type Event struct {
	TS      time.Time `json:"ts"`
	Agent   string    `json:"agent"`
	Type    string    `json:"type"`
	Target  string    `json:"target,omitempty"`
	Preview string    `json:"preview,omitempty"`
}

// Append records an event in the project feed. Errors are returned but
// callers generally treat the feed as best-effort.
func Append(projectDir string, ev Event) error {
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	if len(ev.Preview) > previewCap {
		ev.Preview = ev.Preview[:previewCap]
	}

	path := paths.FeedFile(projectDir)
	if err := os.MkdirAll(paths.Project(projectDir), 0755); err != nil {
		return err
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal feed event: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open feed: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("append feed: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return nil
}

// Record is Append with the error demoted to a debug line. Most call
// sites treat feed writes as fire-and-forget.
func Record(projectDir string, ev Event) {
	if err := Append(projectDir, ev); err != nil {
		debug.Logf("feed append failed: %v", err)
	}
}

// Recent returns up to limit events in chronological order, newest last.
// Malformed lines (a concurrent writer mid-append, or a truncated crash
// tail) are skipped.
func Recent(projectDir string, limit int) ([]Event, error) {
	f, err := os.Open(paths.FeedFile(projectDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return events, err
	}

	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

// Since filters events to those at or after the cutoff.
func Since(events []Event, cutoff time.Time) []Event {
	var out []Event
	for _, ev := range events {
		if !ev.TS.Before(cutoff) {
			out = append(out, ev)
		}
	}
	return out
}

// Trim rewrites the feed keeping only the newest retention entries. The
// rewrite is a cross-process read-modify-write, so it runs under an
// advisory lock; when another process holds it, this trim is skipped and
// the next writer picks it up.
func Trim(projectDir string, retention int) error {
	if retention <= 0 {
		return nil
	}

	lock := flock.New(paths.FeedFile(projectDir) + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("feed lock: %w", err)
	}
	if !locked {
		return nil
	}
	defer func() { _ = lock.Unlock() }()

	events, err := Recent(projectDir, 0)
	if err != nil {
		return err
	}
	if len(events) <= retention {
		return nil
	}
	events = events[len(events)-retention:]

	var buf []byte
	for _, ev := range events {
		line, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	return fsutil.WriteFile(paths.FeedFile(projectDir), buf)
}

// TrimIfOver trims when the feed has outgrown retention by half again,
// amortizing the rewrite across appends.
func TrimIfOver(projectDir string, retention int) {
	if retention <= 0 {
		return
	}
	events, err := Recent(projectDir, 0)
	if err != nil || len(events) <= retention+retention/2 {
		return
	}
	if err := Trim(projectDir, retention); err != nil {
		debug.Logf("feed trim failed: %v", err)
	}
}

// Package registry manages the presence registry: one JSON record per
// live agent under B/registry/, with PID-probe liveness and best-effort
// pruning of records left behind by dead processes.
package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/untoldecay/pi-messenger/internal/debug"
	"github.com/untoldecay/pi-messenger/internal/fsutil"
	"github.com/untoldecay/pi-messenger/internal/lockfile"
	"github.com/untoldecay/pi-messenger/internal/names"
	"github.com/untoldecay/pi-messenger/internal/paths"
	"github.com/untoldecay/pi-messenger/internal/proc"
)

var (
	// ErrNameTaken is returned when every candidate name is held by a
	// live agent.
	ErrNameTaken = errors.New("name taken")
	// ErrNotRegistered is returned when an operation targets an agent
	// with no presence record.
	ErrNotRegistered = errors.New("agent not registered")
	// ErrNameExists is returned by Rename when the target name belongs
	// to a live agent.
	ErrNameExists = errors.New("name already registered")
	// ErrRaceLost is returned when the read-back after a registration
	// write shows another session won the name.
	ErrRaceLost = errors.New("lost registration race")
)

const (
	maxRegisterAttempts = 20
	maxFilesModified    = 20
)

// Record is one agent's presence file.
type Record struct {
	Name          string        `json:"name"`
	PID           int           `json:"pid"`
	SessionID     string        `json:"sessionId"`
	Cwd           string        `json:"cwd"`
	Model         string        `json:"model,omitempty"`
	GitBranch     string        `json:"gitBranch,omitempty"`
	Spec          string        `json:"spec,omitempty"`
	IsHuman       bool          `json:"isHuman,omitempty"`
	StartedAt     time.Time     `json:"startedAt"`
	Reservations  []Reservation `json:"reservations,omitempty"`
	Session       SessionStats  `json:"session"`
	Activity      Activity      `json:"activity"`
	StatusMessage string        `json:"statusMessage,omitempty"`
	CustomStatus  string        `json:"customStatus,omitempty"`
	Version       string        `json:"version,omitempty"`
}

// Reservation is an advisory hold on a path or directory prefix.
type Reservation struct {
	Pattern string    `json:"pattern"`
	Reason  string    `json:"reason,omitempty"`
	Since   time.Time `json:"since"`
}

// SessionStats carries per-session counters surfaced in status views.
type SessionStats struct {
	ToolCalls     int      `json:"toolCalls"`
	Tokens        int      `json:"tokens"`
	FilesModified []string `json:"filesModified,omitempty"`
}

// Activity is the liveness block of a presence record.
type Activity struct {
	LastActivityAt  time.Time `json:"lastActivityAt"`
	CurrentActivity string    `json:"currentActivity,omitempty"`
	LastToolCall    string    `json:"lastToolCall,omitempty"`
}

// AddFile records a modified file path, deduplicated, newest last,
// bounded to the most recent entries.
func (s *SessionStats) AddFile(path string) {
	for i, existing := range s.FilesModified {
		if existing == path {
			s.FilesModified = append(s.FilesModified[:i], s.FilesModified[i+1:]...)
			break
		}
	}
	s.FilesModified = append(s.FilesModified, path)
	if len(s.FilesModified) > maxFilesModified {
		s.FilesModified = s.FilesModified[len(s.FilesModified)-maxFilesModified:]
	}
}

// Load reads the presence record for name. Missing or malformed files
// report found=false.
func Load(name string) (*Record, bool, error) {
	var rec Record
	found, err := fsutil.ReadJSON(paths.RegistryFile(name), &rec)
	if err != nil || !found {
		return nil, false, err
	}
	return &rec, true, nil
}

// Save writes the presence record atomically.
func Save(rec *Record) error {
	return fsutil.WriteJSON(paths.RegistryFile(rec.Name), rec)
}

// Delete removes the presence record. A missing record is not an error.
func Delete(name string) error {
	err := os.Remove(paths.RegistryFile(name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Register claims one of the candidate names for rec. Each attempt
// writes the record and reads it back: if the stored sessionId matches,
// this process owns the name. A candidate held by a live agent with a
// different session is skipped. rec.Name is set on success and the
// agent's inbox directory is created.
func Register(rec *Record, candidates []string) error {
	if len(candidates) == 0 {
		return errors.New("no candidate names")
	}
	if len(candidates) > maxRegisterAttempts {
		candidates = candidates[:maxRegisterAttempts]
	}

	failure := ErrNameTaken
	for _, name := range candidates {
		if err := names.Validate(name); err != nil {
			return err
		}

		if existing, found, _ := Load(name); found {
			if existing.SessionID != rec.SessionID && proc.Alive(existing.PID) {
				failure = ErrNameTaken
				continue
			}
		}

		rec.Name = name
		if err := Save(rec); err != nil {
			return err
		}

		written, found, err := Load(name)
		if err != nil {
			return err
		}
		if !found || written.SessionID != rec.SessionID {
			// Lost the race to a concurrent registration.
			failure = ErrRaceLost
			continue
		}

		if err := os.MkdirAll(paths.InboxDir(name), 0755); err != nil {
			return err
		}
		InvalidateCache()
		return nil
	}
	return failure
}

// Unregister removes the agent's presence record and its inbox
// directory with any undelivered messages.
func Unregister(name string) error {
	if err := Delete(name); err != nil {
		return err
	}
	if err := os.RemoveAll(paths.InboxDir(name)); err != nil {
		debug.Logf("inbox cleanup for %s failed: %v", name, err)
	}
	InvalidateCache()
	return nil
}

// Rename moves an agent to a new name under the swarm lock: the target
// must be unregistered or stale, the record is rewritten, and the inbox
// directory contents move with it.
func Rename(ctx context.Context, oldName, newName string) (*Record, error) {
	if err := names.Validate(newName); err != nil {
		return nil, err
	}
	if newName == oldName {
		rec, found, err := Load(oldName)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, ErrNotRegistered
		}
		return rec, nil
	}

	lock := lockfile.New(paths.SwarmLockFile())
	var out *Record
	err := lock.With(ctx, func() error {
		rec, found, err := Load(oldName)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotRegistered
		}

		if existing, found, _ := Load(newName); found {
			if proc.Alive(existing.PID) {
				return ErrNameExists
			}
			_ = Delete(newName)
		}

		rec.Name = newName
		if err := Save(rec); err != nil {
			return err
		}
		if err := Delete(oldName); err != nil {
			return err
		}
		if err := moveInbox(paths.InboxDir(oldName), paths.InboxDir(newName)); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	InvalidateCache()
	return out, nil
}

// moveInbox transplants pending messages file by file, tolerating a
// pre-existing target directory left by a pruned former holder.
func moveInbox(oldDir, newDir string) error {
	if err := os.MkdirAll(newDir, 0755); err != nil {
		return err
	}
	entries, err := os.ReadDir(oldDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if err := os.Rename(filepath.Join(oldDir, entry.Name()), filepath.Join(newDir, entry.Name())); err != nil {
			return err
		}
	}
	return os.Remove(oldDir)
}

// Package session owns one agent's in-process coordination state: its
// identity and presence record, the rolling activity window behind
// auto-status, debounced presence flushes, and the conversation state
// the delivery callback maintains (history, unread counters, echo-loop
// suppression).
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/untoldecay/pi-messenger/internal/debug"
	"github.com/untoldecay/pi-messenger/internal/feed"
	"github.com/untoldecay/pi-messenger/internal/gitutil"
	"github.com/untoldecay/pi-messenger/internal/inbox"
	"github.com/untoldecay/pi-messenger/internal/names"
	"github.com/untoldecay/pi-messenger/internal/registry"
	"github.com/untoldecay/pi-messenger/internal/swarm"
)

// EnvAgentName forces the agent name; registration fails if it is
// taken by a live agent.
const EnvAgentName = "PI_AGENT_NAME"

const (
	historyCap        = 50
	echoWindow        = 60 * time.Second
	echoThreshold     = 3
	flushInterval     = 10 * time.Second
	heartbeatInterval = 15 * time.Second
)

// Session is one agent's live coordination state. All fields are
// guarded by mu; methods are safe for use from the watcher goroutine
// and timer callbacks.
type Session struct {
	mu sync.Mutex

	rec        *registry.Record
	projectDir string

	events    []tracked
	dirty     bool
	lastFlush time.Time

	autoStatus    bool
	senderDetails bool

	history  map[string][]inbox.Message
	unread   map[string]int
	known    map[string]string
	arrivals map[string][]time.Time
}

// JoinOptions configures a mesh join.
type JoinOptions struct {
	// Name is an explicit agent name. Empty means the PI_AGENT_NAME
	// override, else themed generation.
	Name    string
	Model   string
	Spec    string
	IsHuman bool
	Cwd     string
	Theme   names.Theme
	Version string

	// PID overrides the liveness PID stamped into the record. Zero means
	// this process. One-shot CLI joins bind to the invoking shell so the
	// record outlives the command.
	PID int

	// AutoStatus enables derived status strings on flush.
	AutoStatus bool
	// SenderDetails enables first-contact sender enrichment on
	// delivery.
	SenderDetails bool
}

// Join registers this process in the mesh and returns its session.
func Join(opts JoinOptions) (*Session, error) {
	cwd := opts.Cwd
	if cwd == "" {
		var err error
		cwd, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
	}

	pid := opts.PID
	if pid == 0 {
		pid = os.Getpid()
	}

	now := time.Now().UTC()
	rec := &registry.Record{
		PID:       pid,
		SessionID: newSessionID(),
		Cwd:       cwd,
		Model:     opts.Model,
		GitBranch: gitutil.Branch(cwd),
		IsHuman:   opts.IsHuman,
		StartedAt: now,
		Version:   opts.Version,
		Activity:  registry.Activity{LastActivityAt: now},
	}
	if opts.Spec != "" {
		rec.Spec = swarm.CanonSpec(opts.Spec)
	}

	var candidates []string
	name := opts.Name
	if name == "" {
		name = os.Getenv(EnvAgentName)
	}
	if name != "" {
		candidates = []string{name}
	} else {
		gen := names.NewGenerator(opts.Theme)
		for i := 0; i < 20; i++ {
			candidates = append(candidates, gen.Candidate(i))
		}
	}

	if err := registry.Register(rec, candidates); err != nil {
		return nil, err
	}

	feed.Record(cwd, feed.Event{Agent: rec.Name, Type: feed.TypeJoin})

	return &Session{
		rec:           rec,
		projectDir:    cwd,
		lastFlush:     now,
		autoStatus:    opts.AutoStatus,
		senderDetails: opts.SenderDetails,
		history:       map[string][]inbox.Message{},
		unread:        map[string]int{},
		known:         map[string]string{},
		arrivals:      map[string][]time.Time{},
	}, nil
}

// Leave releases everything this agent holds: its claims, presence
// record, and undelivered inbox.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	name := s.rec.Name
	project := s.projectDir
	s.mu.Unlock()

	if err := swarm.ReleaseAgentClaims(ctx, name); err != nil {
		debug.Logf("release claims on leave: %v", err)
	}
	if err := registry.Unregister(name); err != nil {
		return err
	}
	feed.Record(project, feed.Event{Agent: name, Type: feed.TypeLeave})
	return nil
}

// Name returns the registered agent name.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Name
}

// SessionID returns the identifier stable for this process lifetime.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.SessionID
}

// ProjectDir returns the working directory the session joined from.
func (s *Session) ProjectDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projectDir
}

// Record returns a copy of the current presence record.
func (s *Session) Record() registry.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.rec
}

// SetName updates the in-memory record after a successful rename.
func (s *Session) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.Name = name
}

// SetSpec sets the working spec path and rewrites the record.
func (s *Session) SetSpec(spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.Spec = swarm.CanonSpec(spec)
	return s.saveLocked()
}

// SetCustomStatus sets or clears the custom status line and rewrites
// the record.
func (s *Session) SetCustomStatus(message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.CustomStatus = message
	return s.saveLocked()
}

// SetReservations replaces the record's reservation view after a
// reserve or release call updated the file.
func (s *Session) SetReservations(res []registry.Reservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.Reservations = res
}

func (s *Session) saveLocked() error {
	if err := registry.Save(s.rec); err != nil {
		return err
	}
	registry.InvalidateCache()
	s.lastFlush = time.Now()
	s.dirty = false
	return nil
}

func newSessionID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("sess-%d-%d", os.Getpid(), time.Now().UnixNano())
	}
	return "sess-" + hex.EncodeToString(buf)
}

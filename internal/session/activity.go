package session

import (
	"time"

	"github.com/untoldecay/pi-messenger/internal/debug"
	"github.com/untoldecay/pi-messenger/internal/feed"
)

// Kind classifies a tracked tool event for auto-status derivation.
type Kind string

const (
	KindCommit Kind = "commit"
	KindTest   Kind = "test"
	KindEdit   Kind = "edit"
	KindRead   Kind = "read"
	KindOther  Kind = "other"
)

const (
	autoStatusWindow = 60 * time.Second
	justArrivedFor   = 30 * time.Second
	debuggingTests   = 3
	onFireEdits      = 8
)

type tracked struct {
	at   time.Time
	kind Kind
}

// NoteActivity records one host tool event. It updates the rolling
// event window, session counters, and the activity block, then flushes
// the presence record if the debounce window has passed.
func (s *Session) NoteActivity(kind Kind, detail string) {
	now := time.Now().UTC()

	s.mu.Lock()
	s.pruneEventsLocked(now)
	s.events = append(s.events, tracked{at: now, kind: kind})
	s.rec.Session.ToolCalls++
	s.rec.Activity.LastActivityAt = now
	if detail != "" {
		s.rec.Activity.LastToolCall = detail
		s.rec.Activity.CurrentActivity = detail
	}
	if kind == KindEdit && detail != "" {
		s.rec.Session.AddFile(detail)
	}
	if s.autoStatus {
		s.rec.StatusMessage = s.autoStatusLocked(now)
	}
	s.dirty = true
	s.mu.Unlock()

	switch kind {
	case KindCommit:
		feed.Record(s.ProjectDir(), feed.Event{Agent: s.Name(), Type: feed.TypeCommit, Preview: detail})
	case KindTest:
		feed.Record(s.ProjectDir(), feed.Event{Agent: s.Name(), Type: feed.TypeTest, Target: detail})
	case KindEdit:
		feed.Record(s.ProjectDir(), feed.Event{Agent: s.Name(), Type: feed.TypeEdit, Target: detail})
	}

	s.MaybeFlush()
}

// AddTokens adds to the cumulative token counter.
func (s *Session) AddTokens(n int) {
	s.mu.Lock()
	s.rec.Session.Tokens += n
	s.dirty = true
	s.mu.Unlock()
}

// MaybeFlush rewrites the presence record when there are unflushed
// changes and at least the debounce interval has passed since the last
// write.
func (s *Session) MaybeFlush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty || time.Since(s.lastFlush) < flushInterval {
		return
	}
	if err := s.saveLocked(); err != nil {
		debug.Logf("activity flush: %v", err)
	}
}

// Heartbeat rewrites the presence record unconditionally. It proves
// process liveness without touching lastActivityAt, so idle detection
// still works.
func (s *Session) Heartbeat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.saveLocked(); err != nil {
		debug.Logf("heartbeat flush: %v", err)
	}
}

// StartHeartbeat runs the 15 s heartbeat until the returned stop
// function is called.
func (s *Session) StartHeartbeat() (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Heartbeat()
			case <-done:
				return
			}
		}
	}()
	var once bool
	return func() {
		if !once {
			once = true
			close(done)
		}
	}
}

// AutoStatus derives the short status string from the rolling event
// window.
func (s *Session) AutoStatus() string {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneEventsLocked(now)
	return s.autoStatusLocked(now)
}

func (s *Session) autoStatusLocked(now time.Time) string {
	if now.Sub(s.rec.StartedAt) < justArrivedFor {
		return "just arrived"
	}

	var commits, tests, edits, reads int
	for _, ev := range s.events {
		switch ev.kind {
		case KindCommit:
			commits++
		case KindTest:
			tests++
		case KindEdit:
			edits++
		case KindRead:
			reads++
		}
	}

	switch {
	case commits > 0:
		return "just shipped"
	case tests >= debuggingTests:
		return "debugging..."
	case edits >= onFireEdits:
		return "on fire"
	case reads > 0 && edits == 0:
		return "exploring the codebase"
	}
	return s.rec.Activity.CurrentActivity
}

func (s *Session) pruneEventsLocked(now time.Time) {
	cutoff := now.Add(-autoStatusWindow)
	keep := s.events[:0]
	for _, ev := range s.events {
		if ev.at.After(cutoff) {
			keep = append(keep, ev)
		}
	}
	s.events = keep
}

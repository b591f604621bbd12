package session

import (
	"fmt"
	"time"

	"github.com/untoldecay/pi-messenger/internal/inbox"
	"github.com/untoldecay/pi-messenger/internal/registry"
)

// Delivery is the outcome of one received message. WakeUp tells the
// host to treat the text as steering input; when echo-loop suppression
// trips, the message is display-only and Note carries the one-line
// explanation.
type Delivery struct {
	Message    inbox.Message
	WakeUp     bool
	Note       string
	SenderInfo *registry.Record
}

// Receive runs the delivery callback contract for one drained message:
// bounded per-sender history, unread counters, first-contact sender
// enrichment, and echo-loop suppression over a rolling 60 s window.
func (s *Session) Receive(msg inbox.Message) Delivery {
	now := time.Now()
	d := Delivery{Message: msg, WakeUp: true}

	s.mu.Lock()

	h := append(s.history[msg.From], msg)
	if len(h) > historyCap {
		h = h[len(h)-historyCap:]
	}
	s.history[msg.From] = h
	s.unread[msg.From]++

	cutoff := now.Add(-echoWindow)
	window := s.arrivals[msg.From][:0]
	for _, at := range s.arrivals[msg.From] {
		if at.After(cutoff) {
			window = append(window, at)
		}
	}
	if len(window) >= echoThreshold {
		d.WakeUp = false
		d.Note = fmt.Sprintf("loop suppressed — too many rapid exchanges with %s, no reply needed", msg.From)
	}
	window = append(window, now)
	s.arrivals[msg.From] = window

	wantDetails := s.senderDetails
	s.mu.Unlock()

	if wantDetails {
		if rec, found, _ := registry.Find(msg.From); found {
			s.mu.Lock()
			if s.known[msg.From] != rec.SessionID {
				s.known[msg.From] = rec.SessionID
				d.SenderInfo = rec
			}
			s.mu.Unlock()
		}
	}
	return d
}

// History returns a copy of the bounded message history for sender.
func (s *Session) History(sender string) []inbox.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]inbox.Message, len(s.history[sender]))
	copy(out, s.history[sender])
	return out
}

// Unread returns a copy of the per-sender unread counters.
func (s *Session) Unread() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.unread))
	for sender, n := range s.unread {
		if n > 0 {
			out[sender] = n
		}
	}
	return out
}

// MarkRead clears the unread counter for sender.
func (s *Session) MarkRead(sender string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.unread, sender)
}

// Package inbox implements file-per-message delivery between agents.
// Each agent owns a directory under B/inbox/; senders drop JSON files
// into it and the recipient drains them in filename order.
package inbox

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/untoldecay/pi-messenger/internal/feed"
	"github.com/untoldecay/pi-messenger/internal/fsutil"
	"github.com/untoldecay/pi-messenger/internal/paths"
	"github.com/untoldecay/pi-messenger/internal/registry"
)

// ErrRecipientNotFound is returned when the recipient has no live
// presence record.
var ErrRecipientNotFound = errors.New("recipient not found")

// msgTimeLayout is fixed-width so lexicographic filename order equals
// chronological order. RFC3339Nano trims trailing zeros and would not
// sort correctly.
const msgTimeLayout = "2006-01-02T15:04:05.000000000Z"

const previewLen = 80

// Message is one pending inbox entry.
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	ReplyTo   *string   `json:"replyTo"`
}

// NewMessageID returns a fresh message identifier.
func NewMessageID() string {
	return "msg-" + randHex(8)
}

func randHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

// Send writes a message into the recipient's inbox. The recipient must
// be currently active.
func Send(projectDir, from, to, text string, replyTo *string) (*Message, error) {
	_, found, err := registry.Find(to)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrRecipientNotFound, to)
	}

	msg := &Message{
		ID:        NewMessageID(),
		From:      from,
		To:        to,
		Text:      text,
		Timestamp: time.Now().UTC(),
		ReplyTo:   replyTo,
	}

	name := msg.Timestamp.Format(msgTimeLayout) + "-" + randHex(3) + ".json"
	if err := fsutil.WriteJSON(filepath.Join(paths.InboxDir(to), name), msg); err != nil {
		return nil, fmt.Errorf("write message: %w", err)
	}

	feed.Record(projectDir, feed.Event{
		Agent:   from,
		Type:    feed.TypeMessage,
		Target:  to,
		Preview: preview(text),
	})
	return msg, nil
}

// BroadcastResult accumulates per-recipient outcomes of a broadcast.
type BroadcastResult struct {
	Sent   []string
	Failed map[string]string
}

// Broadcast sends text to every other active agent. Per-recipient
// failures are collected and never abort the remaining sends.
func Broadcast(projectDir, from, text string, replyTo *string) (*BroadcastResult, error) {
	agents, err := registry.ActiveAgents()
	if err != nil {
		return nil, err
	}

	res := &BroadcastResult{Failed: map[string]string{}}
	for _, agent := range agents {
		if agent.Name == from {
			continue
		}
		if _, err := Send(projectDir, from, agent.Name, text, replyTo); err != nil {
			res.Failed[agent.Name] = err.Error()
			continue
		}
		res.Sent = append(res.Sent, agent.Name)
	}
	return res, nil
}

// Drain delivers and removes every pending message for name, oldest
// first. Unparseable files are deleted; they would never parse on a
// retry either.
func Drain(name string, deliver func(Message)) (int, error) {
	dir := paths.InboxDir(name)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	var files []string
	for _, entry := range entries {
		n := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(n, ".json") || strings.Contains(n, ".tmp-") {
			continue
		}
		files = append(files, n)
	}
	sort.Strings(files)

	delivered := 0
	for _, file := range files {
		path := filepath.Join(dir, file)
		var msg Message
		found, err := fsutil.ReadJSON(path, &msg)
		if err == nil && found {
			deliver(msg)
			delivered++
		}
		_ = os.Remove(path)
	}
	return delivered, nil
}

// Pending counts undelivered messages without consuming them.
func Pending(name string) (int, error) {
	entries, err := os.ReadDir(paths.InboxDir(name))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	count := 0
	for _, entry := range entries {
		n := entry.Name()
		if !entry.IsDir() && strings.HasSuffix(n, ".json") && !strings.Contains(n, ".tmp-") {
			count++
		}
	}
	return count, nil
}

func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > previewLen {
		text = text[:previewLen]
	}
	return text
}

package dispatch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/untoldecay/pi-messenger/internal/feed"
	"github.com/untoldecay/pi-messenger/internal/inbox"
	"github.com/untoldecay/pi-messenger/internal/proc"
	"github.com/untoldecay/pi-messenger/internal/registry"
	"github.com/untoldecay/pi-messenger/internal/session"
)

func (d *Dispatcher) handleSend(req *Request) *Result {
	var args SendArgs
	if res := decodeFail(req, &args); res != nil {
		return res
	}
	rec, res := d.requireSelf(ActionSend)
	if res != nil {
		return res
	}

	message := strings.TrimSpace(args.Message)
	if message == "" {
		return errResult(ActionSend, KindMissingMessage, "message is required")
	}
	if args.To == nil {
		return errResult(ActionSend, KindMissingRecipient, "to is required")
	}

	recipients := make([]string, 0, len(args.To))
	seen := map[string]bool{}
	selfOnly := true
	for _, to := range args.To {
		to = strings.TrimSpace(to)
		if to == "" || seen[to] {
			continue
		}
		seen[to] = true
		if to != rec.Name {
			selfOnly = false
		}
		recipients = append(recipients, to)
	}
	if len(recipients) == 0 {
		return errResult(ActionSend, KindEmptyRecipients, "no recipients named")
	}
	if selfOnly {
		return errResult(ActionSend, KindCannotSendToSelf, "cannot send a message to yourself")
	}

	project := d.projectDir()
	var sent []string
	failed := map[string]string{}
	for _, to := range recipients {
		if to == rec.Name {
			failed[to] = KindCannotSendToSelf
			continue
		}
		if _, err := inbox.Send(project, rec.Name, to, message, args.ReplyTo); err != nil {
			failed[to] = sendErrKind(to, err)
			continue
		}
		sent = append(sent, to)
	}

	if sess := d.Session(); sess != nil {
		sess.NoteActivity(session.KindOther, "send")
	}

	if len(sent) == 0 {
		if len(recipients) == 1 {
			kind := failed[recipients[0]]
			return errResult(ActionSend, kind, sendErrText(recipients[0], kind))
		}
		return errResult(ActionSend, KindRecipientNotFound,
			fmt.Sprintf("no message delivered; failed: %s", formatFailures(failed))).
			with("failed", failed)
	}

	text := fmt.Sprintf("Message sent to %s.", strings.Join(sent, ", "))
	result := newResult(ActionSend, text).with("sent", sent)
	if len(failed) > 0 {
		result.Text += " Failed: " + formatFailures(failed) + "."
		result.with("failed", failed)
	}
	return result
}

// sendErrKind distinguishes a never-registered recipient from one whose
// record survives a dead process.
func sendErrKind(to string, err error) string {
	if !errors.Is(err, inbox.ErrRecipientNotFound) {
		return ""
	}
	if rec, found, _ := registry.Load(to); found && !proc.Alive(rec.PID) {
		return KindRecipientNotActive
	}
	return KindRecipientNotFound
}

func sendErrText(to, kind string) string {
	switch kind {
	case KindRecipientNotActive:
		return fmt.Sprintf("%s is no longer active", to)
	case KindRecipientNotFound:
		return fmt.Sprintf("no agent named %q", to)
	case KindCannotSendToSelf:
		return "cannot send a message to yourself"
	default:
		return fmt.Sprintf("send to %s failed", to)
	}
}

func formatFailures(failed map[string]string) string {
	parts := make([]string, 0, len(failed))
	for to, kind := range failed {
		parts = append(parts, fmt.Sprintf("%s (%s)", to, kind))
	}
	return strings.Join(parts, ", ")
}

func (d *Dispatcher) handleBroadcast(req *Request) *Result {
	var args BroadcastArgs
	if res := decodeFail(req, &args); res != nil {
		return res
	}
	rec, res := d.requireSelf(ActionBroadcast)
	if res != nil {
		return res
	}

	message := strings.TrimSpace(args.Message)
	if message == "" {
		return errResult(ActionBroadcast, KindMissingMessage, "message is required")
	}

	br, err := inbox.Broadcast(d.projectDir(), rec.Name, message, args.ReplyTo)
	if err != nil {
		return errResult(ActionBroadcast, "", err.Error())
	}
	if len(br.Sent) == 0 && len(br.Failed) == 0 {
		return errResult(ActionBroadcast, KindNoRecipients, "no active peers to broadcast to")
	}

	if sess := d.Session(); sess != nil {
		sess.NoteActivity(session.KindOther, "broadcast")
	}

	text := fmt.Sprintf("Broadcast sent to %d agent(s).", len(br.Sent))
	result := newResult(ActionBroadcast, text).with("sent", br.Sent)
	if len(br.Failed) > 0 {
		result.Text += " Failed: " + formatFailures(br.Failed) + "."
		result.with("failed", br.Failed)
	}
	return result
}

func (d *Dispatcher) handleReserve(req *Request) *Result {
	var args ReserveArgs
	if res := decodeFail(req, &args); res != nil {
		return res
	}
	rec, res := d.requireSelf(ActionReserve)
	if res != nil {
		return res
	}

	if args.Paths == nil {
		return errResult(ActionReserve, KindMissingPaths, "paths is required")
	}
	patterns := make([]string, 0, len(args.Paths))
	for _, p := range args.Paths {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, p)
		}
	}
	if len(patterns) == 0 {
		return errResult(ActionReserve, KindEmptyPatterns, "no usable path patterns")
	}

	var conflicts []registry.Conflict
	for _, p := range patterns {
		found, err := registry.ConflictsWithOtherAgents(p, rec.Name)
		if err == nil {
			conflicts = append(conflicts, found...)
		}
	}

	updated, err := registry.Reserve(rec.Name, patterns, args.Reason)
	if err != nil {
		if errors.Is(err, registry.ErrNotRegistered) {
			return errResult(ActionReserve, KindNotRegistered, err.Error())
		}
		return errResult(ActionReserve, "", err.Error())
	}
	if sess := d.Session(); sess != nil {
		sess.SetReservations(updated.Reservations)
	}

	feed.Record(d.projectDir(), feed.Event{
		Agent:   rec.Name,
		Type:    feed.TypeReserve,
		Target:  strings.Join(patterns, ", "),
		Preview: args.Reason,
	})

	var b strings.Builder
	fmt.Fprintf(&b, "Reserved %d path(s): %s.", len(patterns), strings.Join(patterns, ", "))
	for _, c := range conflicts {
		fmt.Fprintf(&b, "\nWarning: overlaps %s reserved by %s", c.Pattern, c.Agent)
		if c.Reason != "" {
			fmt.Fprintf(&b, " (%s)", c.Reason)
		}
	}

	result := newResult(ActionReserve, b.String()).with("reservations", updated.Reservations)
	if len(conflicts) > 0 {
		overlapping := make([]map[string]string, len(conflicts))
		for i, c := range conflicts {
			overlapping[i] = map[string]string{"agent": c.Agent, "pattern": c.Pattern, "reason": c.Reason}
		}
		result.with("conflicts", overlapping)
	}
	return result
}

func (d *Dispatcher) handleRelease(req *Request) *Result {
	var args ReleaseArgs
	if res := decodeFail(req, &args); res != nil {
		return res
	}
	rec, res := d.requireSelf(ActionRelease)
	if res != nil {
		return res
	}

	patterns := make([]string, 0, len(args.Paths))
	for _, p := range args.Paths {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, p)
		}
	}
	all := len(patterns) == 0

	updated, released, err := registry.Release(rec.Name, patterns, all)
	if err != nil {
		if errors.Is(err, registry.ErrNotRegistered) {
			return errResult(ActionRelease, KindNotRegistered, err.Error())
		}
		return errResult(ActionRelease, "", err.Error())
	}
	if sess := d.Session(); sess != nil {
		sess.SetReservations(updated.Reservations)
	}

	if released == 0 {
		return newResult(ActionRelease, "No reservations released.").with("released", 0)
	}

	feed.Record(d.projectDir(), feed.Event{
		Agent:  rec.Name,
		Type:   feed.TypeRelease,
		Target: strings.Join(patterns, ", "),
	})

	return newResult(ActionRelease, fmt.Sprintf("Released %d reservation(s).", released)).
		with("released", released).
		with("reservations", updated.Reservations)
}

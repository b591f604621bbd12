package dispatch

import (
	"encoding/json"
	"fmt"
)

// Action constants for every operation the tool surface accepts.
const (
	ActionJoin             = "join"
	ActionStatus           = "status"
	ActionList             = "list"
	ActionFeed             = "feed"
	ActionWhois            = "whois"
	ActionSetStatus        = "set_status"
	ActionSpec             = "spec"
	ActionSend             = "send"
	ActionBroadcast        = "broadcast"
	ActionReserve          = "reserve"
	ActionRelease          = "release"
	ActionRename           = "rename"
	ActionSwarm            = "swarm"
	ActionClaim            = "claim"
	ActionUnclaim          = "unclaim"
	ActionComplete         = "complete"
	ActionAutoRegisterPath = "autoRegisterPath"

	ActionEpicCreate  = "epic.create"
	ActionEpicShow    = "epic.show"
	ActionEpicList    = "epic.list"
	ActionEpicClose   = "epic.close"
	ActionEpicSetSpec = "epic.set_spec"

	ActionTaskCreate  = "task.create"
	ActionTaskShow    = "task.show"
	ActionTaskList    = "task.list"
	ActionTaskStart   = "task.start"
	ActionTaskDone    = "task.done"
	ActionTaskBlock   = "task.block"
	ActionTaskUnblock = "task.unblock"
	ActionTaskReady   = "task.ready"
	ActionTaskReset   = "task.reset"

	ActionPlan   = "plan"
	ActionWork   = "work"
	ActionReview = "review"

	ActionCheckpointSave    = "checkpoint.save"
	ActionCheckpointRestore = "checkpoint.restore"
	ActionCheckpointDelete  = "checkpoint.delete"
	ActionCheckpointList    = "checkpoint.list"

	ActionCrewStatus    = "crew.status"
	ActionCrewValidate  = "crew.validate"
	ActionCrewAgents    = "crew.agents"
	ActionCrewInstall   = "crew.install"
	ActionCrewUninstall = "crew.uninstall"
)

// Error-kind tags carried in details.error. These are wire strings;
// programmatic consumers switch on them.
const (
	KindNotRegistered = "not_registered"
	KindInvalidName   = "invalid_name"
	KindNameTaken     = "name_taken"
	KindRaceLost      = "race_lost"
	KindSameName      = "same_name"

	KindNoRecipients       = "no_recipients"
	KindEmptyRecipients    = "empty_recipients"
	KindMissingMessage     = "missing_message"
	KindMissingRecipient   = "missing_recipient"
	KindCannotSendToSelf   = "cannot_send_to_self"
	KindRecipientNotFound  = "recipient_not_found"
	KindRecipientNotActive = "recipient_not_active"

	KindEmptyPatterns = "empty_patterns"
	KindMissingPaths  = "missing_paths"

	KindNoSpec      = "no_spec"
	KindSpecMissing = "spec_missing"

	KindAlreadyHaveClaim = "already_have_claim"
	KindAlreadyClaimed   = "already_claimed"
	KindNotClaimed       = "not_claimed"
	KindNotYourClaim     = "not_your_claim"
	KindAlreadyCompleted = "already_completed"

	KindMissingID      = "missing_id"
	KindMissingTitle   = "missing_title"
	KindMissingContent = "missing_content"
	KindNotFound       = "not_found"

	KindIncompleteTasks    = "incomplete_tasks"
	KindCircularDependency = "circular_dependency"
	KindOrphanDependency   = "orphan_dependency"

	KindLockTimeout     = "lock_timeout"
	KindCancelled       = "cancelled"
	KindNoScouts        = "no_scouts"
	KindNoAnalyst       = "no_analyst"
	KindGeneratorFailed = "generator_failed"
	KindAnalystFailed   = "analyst_failed"

	KindUnknownAction    = "unknown_action"
	KindUnknownOperation = "unknown_operation"
)

// Request is one raw action record. The action tag is pulled out first;
// handlers decode the remaining fields into their own args struct.
type Request struct {
	Action string
	raw    json.RawMessage
}

// ParseRequest reads the action tag out of a raw record. Empty input
// counts as an omitted action.
func ParseRequest(data []byte) (*Request, error) {
	req := &Request{raw: data}
	if len(data) == 0 {
		return req, nil
	}
	var tag struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("parse action record: %w", err)
	}
	req.Action = tag.Action
	return req, nil
}

func (r *Request) decode(out any) error {
	if len(r.raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.raw, out); err != nil {
		return fmt.Errorf("invalid %s args: %w", r.Action, err)
	}
	return nil
}

// Result is the uniform reply: a human-readable text block plus a
// details record. details.mode echoes the action; details.error carries
// the error kind when one applies.
type Result struct {
	Text    string         `json:"text"`
	Details map[string]any `json:"details"`
}

func newResult(mode, text string) *Result {
	return &Result{Text: text, Details: map[string]any{"mode": mode}}
}

func (r *Result) with(key string, value any) *Result {
	r.Details[key] = value
	return r
}

// Err reports the error kind, empty for successful results.
func (r *Result) Err() string {
	kind, _ := r.Details["error"].(string)
	return kind
}

func errResult(mode, kind, text string) *Result {
	r := newResult(mode, "Error: "+text)
	if kind != "" {
		r.Details["error"] = kind
	}
	return r
}

// warnResult marks a non-failing condition: the text carries a Warning
// prefix and details.error names the kind, but the operation succeeded.
func warnResult(mode, kind, text string) *Result {
	r := newResult(mode, "Warning: "+text)
	r.Details["error"] = kind
	return r
}

// StringList accepts a single string or an array of strings, the way
// callers pass "to" and "paths".
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = StringList{s}
		return nil
	}
	var arr []string
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	*l = arr
	return nil
}

// JoinArgs carries the optional working spec for the join action.
type JoinArgs struct {
	Spec string `json:"spec,omitempty"`
	Name string `json:"name,omitempty"`
}

// FeedArgs bounds how many feed events come back.
type FeedArgs struct {
	Limit int `json:"limit,omitempty"`
}

// WhoisArgs names the queried agent.
type WhoisArgs struct {
	Name string `json:"name"`
}

// SetStatusArgs sets or clears the custom status line.
type SetStatusArgs struct {
	Message string `json:"message,omitempty"`
}

// SpecArgs sets the working spec path.
type SpecArgs struct {
	Spec string `json:"spec"`
}

// SendArgs carries a message for one or more recipients.
type SendArgs struct {
	To      StringList `json:"to"`
	Message string     `json:"message"`
	ReplyTo *string    `json:"replyTo,omitempty"`
}

// BroadcastArgs carries a message for every active peer.
type BroadcastArgs struct {
	Message string  `json:"message"`
	ReplyTo *string `json:"replyTo,omitempty"`
}

// ReserveArgs adds path reservations.
type ReserveArgs struct {
	Paths  StringList `json:"paths"`
	Reason string     `json:"reason,omitempty"`
}

// ReleaseArgs removes reservations; no paths means release all.
type ReleaseArgs struct {
	Paths StringList `json:"paths,omitempty"`
}

// RenameArgs carries the new agent name.
type RenameArgs struct {
	Name string `json:"name"`
}

// SwarmArgs selects the spec whose claims to view.
type SwarmArgs struct {
	Spec string `json:"spec,omitempty"`
}

// ClaimArgs identifies a swarm task to claim.
type ClaimArgs struct {
	TaskID string `json:"taskId"`
	Spec   string `json:"spec,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// UnclaimArgs identifies a swarm task to release.
type UnclaimArgs struct {
	TaskID string `json:"taskId"`
	Spec   string `json:"spec,omitempty"`
}

// CompleteArgs identifies a swarm task to complete.
type CompleteArgs struct {
	TaskID string `json:"taskId"`
	Spec   string `json:"spec,omitempty"`
	Notes  string `json:"notes,omitempty"`
}

// AutoRegisterArgs manages the per-folder auto-join list. The
// autoRegisterPath field selects the operation: add, remove, or list.
type AutoRegisterArgs struct {
	AutoRegisterPath string `json:"autoRegisterPath"`
	Path             string `json:"path,omitempty"`
}

// EpicCreateArgs carries the new epic's title.
type EpicCreateArgs struct {
	Title string `json:"title"`
}

// EpicIDArgs identifies an epic for show, close, and checkpoint
// operations.
type EpicIDArgs struct {
	ID string `json:"id"`
}

// EpicSetSpecArgs replaces an epic's spec markdown.
type EpicSetSpecArgs struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// TaskCreateArgs carries a new task definition.
type TaskCreateArgs struct {
	EpicID      string     `json:"epicId"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	DependsOn   StringList `json:"dependsOn,omitempty"`
}

// TaskIDArgs identifies a task for show, start, unblock.
type TaskIDArgs struct {
	ID string `json:"id"`
}

// TaskListArgs filters the task list to one epic.
type TaskListArgs struct {
	EpicID string `json:"epicId,omitempty"`
}

// TaskDoneArgs completes a task with summary and evidence.
type TaskDoneArgs struct {
	ID      string     `json:"id"`
	Summary string     `json:"summary,omitempty"`
	Commits StringList `json:"commits,omitempty"`
	Tests   StringList `json:"tests,omitempty"`
	PRs     StringList `json:"prs,omitempty"`
}

// TaskBlockArgs blocks a task with a reason.
type TaskBlockArgs struct {
	ID     string `json:"id"`
	Reason string `json:"reason,omitempty"`
}

// TaskResetArgs resets a task, optionally cascading to dependents.
type TaskResetArgs struct {
	ID      string `json:"id"`
	Cascade bool   `json:"cascade,omitempty"`
}

// PlanArgs starts the scout and analyst pipeline against a target.
type PlanArgs struct {
	Target string `json:"target"`
	Idea   bool   `json:"idea,omitempty"`
}

// WorkArgs runs ready tasks of an epic in waves.
type WorkArgs struct {
	Target      string `json:"target"`
	Autonomous  bool   `json:"autonomous,omitempty"`
	Concurrency int    `json:"concurrency,omitempty"`
	Review      bool   `json:"review,omitempty"`
}

// ReviewArgs reviews an epic's plan or implementation.
type ReviewArgs struct {
	Target string `json:"target"`
	Type   string `json:"type,omitempty"`
}

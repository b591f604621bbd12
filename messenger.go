// Package messenger provides a minimal public API for embedding the
// pimsg coordination mesh in Go programs.
//
// Most integrations should drive the action surface instead: shell out
// to `pimsg tool` with a JSON record, or construct a Dispatcher and
// feed it records directly. This package exports only the essential
// types and functions for Go programs that want to join the mesh,
// exchange messages, or read coordination state programmatically.
package messenger

import (
	"context"

	"github.com/untoldecay/pi-messenger/internal/crew"
	"github.com/untoldecay/pi-messenger/internal/dispatch"
	"github.com/untoldecay/pi-messenger/internal/inbox"
	"github.com/untoldecay/pi-messenger/internal/paths"
	"github.com/untoldecay/pi-messenger/internal/registry"
	"github.com/untoldecay/pi-messenger/internal/session"
	"github.com/untoldecay/pi-messenger/internal/swarm"
)

// Dispatcher routes JSON action records to handlers, the same surface
// the pimsg CLI and the tool command use.
type Dispatcher = dispatch.Dispatcher

// DispatchOptions configure a dispatcher. A nil Session makes self
// actions ride a live registration named by PI_AGENT_NAME.
type DispatchOptions = dispatch.Options

// Request is one parsed action record; Result is the uniform
// {text, details} reply.
type (
	Request = dispatch.Request
	Result  = dispatch.Result
)

// NewDispatcher returns a dispatcher.
func NewDispatcher(opts DispatchOptions) *Dispatcher {
	return dispatch.New(opts)
}

// ParseRequest reads the action tag out of a raw JSON record. Empty
// input counts as an omitted action, which dispatches status.
func ParseRequest(data []byte) (*Request, error) {
	return dispatch.ParseRequest(data)
}

// Session is one agent's live mesh membership: presence record,
// message history, and unread counters.
type Session = session.Session

// JoinOptions configures a mesh join.
type JoinOptions = session.JoinOptions

// Delivery is the outcome of one received message, including the
// wake-up decision and any echo-loop suppression note.
type Delivery = session.Delivery

// EnvAgentName names the environment variable one-shot commands read
// to act as a registered agent.
const EnvAgentName = session.EnvAgentName

// ActivityKind classifies a host tool event for auto-status
// derivation, reported through Session.NoteActivity.
type ActivityKind = session.Kind

// ActivityKind constants
const (
	ActivityCommit = session.KindCommit
	ActivityTest   = session.KindTest
	ActivityEdit   = session.KindEdit
	ActivityRead   = session.KindRead
	ActivityOther  = session.KindOther
)

// Join registers in the mesh and returns the live session.
func Join(opts JoinOptions) (*Session, error) {
	return session.Join(opts)
}

// Record is one agent's presence record as stored in the registry.
type Record = registry.Record

// Tier classifies an agent for status displays.
type Tier = registry.Tier

// Tier constants
const (
	TierActive = registry.TierActive
	TierIdle   = registry.TierIdle
	TierAway   = registry.TierAway
	TierStuck  = registry.TierStuck
)

// ActiveAgents returns all live presence records, pruning records
// whose process has exited.
func ActiveAgents() ([]Record, error) {
	return registry.ActiveAgents()
}

// FindAgent returns the named agent if it is currently live.
func FindAgent(name string) (*Record, bool, error) {
	return registry.Find(name)
}

// Message is one inbox entry.
type Message = inbox.Message

// SendMessage drops a message into the recipient's inbox. projectDir
// scopes the activity feed entry; replyTo may be nil.
func SendMessage(projectDir, from, to, text string, replyTo *string) (*Message, error) {
	return inbox.Send(projectDir, from, to, text, replyTo)
}

// Swarm coordination types.
type (
	Claim            = swarm.Claim
	Completion       = swarm.Completion
	ClaimsTable      = swarm.ClaimsTable
	CompletionsTable = swarm.CompletionsTable
	ClaimRequest     = swarm.ClaimRequest
)

// Claims returns the machine-wide claims table, pruned of claims whose
// holding process has exited.
func Claims() (ClaimsTable, error) {
	return swarm.Claims()
}

// Completions returns the machine-wide completions table.
func Completions() (CompletionsTable, error) {
	return swarm.Completions()
}

// ClaimTask records an exclusive claim on a task under the swarm lock.
func ClaimTask(ctx context.Context, req ClaimRequest) (*Claim, error) {
	return swarm.ClaimTask(ctx, req)
}

// CompleteTask converts the agent's claim into a permanent completion.
func CompleteTask(ctx context.Context, spec, taskID, agent, notes string) (*Completion, error) {
	return swarm.CompleteTask(ctx, spec, taskID, agent, notes)
}

// Crew planning types.
type (
	CrewStore  = crew.Store
	Epic       = crew.Epic
	Task       = crew.Task
	EpicStatus = crew.EpicStatus
	TaskStatus = crew.TaskStatus
	Evidence   = crew.Evidence
)

// EpicStatus constants
const (
	EpicPlanning  = crew.EpicPlanning
	EpicActive    = crew.EpicActive
	EpicBlocked   = crew.EpicBlocked
	EpicCompleted = crew.EpicCompleted
	EpicArchived  = crew.EpicArchived
)

// TaskStatus constants
const (
	TaskTodo       = crew.TaskTodo
	TaskInProgress = crew.TaskInProgress
	TaskDone       = crew.TaskDone
	TaskBlocked    = crew.TaskBlocked
)

// NewCrewStore returns a crew store rooted at the given project
// directory.
func NewCrewStore(projectDir string) *CrewStore {
	return crew.NewStore(projectDir)
}

// BaseDir returns the machine-wide state root, honoring
// PI_MESSENGER_DIR.
func BaseDir() string {
	return paths.Base()
}

// ProjectDir returns the project-scope state root for dir.
func ProjectDir(dir string) string {
	return paths.Project(dir)
}

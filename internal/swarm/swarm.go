// Package swarm maintains the machine-wide claims and completions
// tables that coordinate which agent works which spec task. All
// mutations run under the swarm lock; reads prune dead holders in
// memory and locked writers persist the prune.
package swarm

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/untoldecay/pi-messenger/internal/fsutil"
	"github.com/untoldecay/pi-messenger/internal/lockfile"
	"github.com/untoldecay/pi-messenger/internal/paths"
	"github.com/untoldecay/pi-messenger/internal/proc"
)

var (
	// ErrNoSpec is returned when an operation needs a spec path and
	// none is set.
	ErrNoSpec = errors.New("no spec")
	// ErrAlreadyClaimed is returned when the task is claimed by someone.
	ErrAlreadyClaimed = errors.New("task already claimed")
	// ErrAlreadyHaveClaim enforces the one-in-flight rule.
	ErrAlreadyHaveClaim = errors.New("agent already holds a claim")
	// ErrNotClaimed is returned when no claim exists for the task.
	ErrNotClaimed = errors.New("task not claimed")
	// ErrNotYourClaim is returned when the claim belongs to another agent.
	ErrNotYourClaim = errors.New("claim held by another agent")
	// ErrAlreadyCompleted is returned once a completion exists.
	ErrAlreadyCompleted = errors.New("task already completed")
)

// Claim is one entry in the claims table.
type Claim struct {
	Agent     string    `json:"agent"`
	SessionID string    `json:"sessionId"`
	PID       int       `json:"pid"`
	ClaimedAt time.Time `json:"claimedAt"`
	Reason    string    `json:"reason,omitempty"`
}

// Completion is one entry in the completions table. Completions are
// permanent.
type Completion struct {
	CompletedBy string    `json:"completedBy"`
	CompletedAt time.Time `json:"completedAt"`
	Notes       string    `json:"notes,omitempty"`
}

// ClaimsTable maps spec path to task id to claim.
type ClaimsTable map[string]map[string]Claim

// CompletionsTable maps spec path to task id to completion.
type CompletionsTable map[string]map[string]Completion

// ConflictError reports the claim or completion that blocked a
// mutation. Kind is one of the package sentinels; Claim or Completion
// carries the blocking entry when one exists.
type ConflictError struct {
	Kind       error
	Spec       string
	TaskID     string
	Claim      *Claim
	Completion *Completion
}

func (e *ConflictError) Error() string {
	switch {
	case e.Claim != nil:
		return fmt.Sprintf("%v: %s %s (held by %s)", e.Kind, e.Spec, e.TaskID, e.Claim.Agent)
	case e.Completion != nil:
		return fmt.Sprintf("%v: %s %s (completed by %s)", e.Kind, e.Spec, e.TaskID, e.Completion.CompletedBy)
	default:
		return fmt.Sprintf("%v: %s %s", e.Kind, e.Spec, e.TaskID)
	}
}

func (e *ConflictError) Unwrap() error { return e.Kind }

// CanonSpec normalizes a spec path for use as a claims namespace:
// absolutize, resolve symlinks when the path exists, clean. Applied on
// every write; reads treat stored keys as opaque strings.
func CanonSpec(spec string) string {
	if spec == "" {
		return ""
	}
	abs, err := filepath.Abs(spec)
	if err != nil {
		return filepath.Clean(spec)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return filepath.Clean(abs)
}

func readClaims() (ClaimsTable, error) {
	table := ClaimsTable{}
	if _, err := fsutil.ReadJSON(paths.ClaimsFile(), &table); err != nil {
		return nil, err
	}
	return table, nil
}

func writeClaims(table ClaimsTable) error {
	return fsutil.WriteJSON(paths.ClaimsFile(), table)
}

func readCompletions() (CompletionsTable, error) {
	table := CompletionsTable{}
	if _, err := fsutil.ReadJSON(paths.CompletionsFile(), &table); err != nil {
		return nil, err
	}
	return table, nil
}

func writeCompletions(table CompletionsTable) error {
	return fsutil.WriteJSON(paths.CompletionsFile(), table)
}

// pruneDead drops claims whose holder PID is gone. Returns whether the
// table changed.
func pruneDead(table ClaimsTable) bool {
	changed := false
	for spec, tasks := range table {
		for taskID, claim := range tasks {
			if !proc.Alive(claim.PID) {
				delete(tasks, taskID)
				changed = true
			}
		}
		if len(tasks) == 0 {
			delete(table, spec)
		}
	}
	return changed
}

func findAgentClaim(table ClaimsTable, agent string) (string, string, *Claim) {
	for spec, tasks := range table {
		for taskID, claim := range tasks {
			if claim.Agent == agent {
				c := claim
				return spec, taskID, &c
			}
		}
	}
	return "", "", nil
}

// Claims returns the claims table with dead holders pruned in memory.
// The file is not rewritten; locked mutations persist prunes.
func Claims() (ClaimsTable, error) {
	table, err := readClaims()
	if err != nil {
		return nil, err
	}
	pruneDead(table)
	return table, nil
}

// Completions returns the completions table.
func Completions() (CompletionsTable, error) {
	return readCompletions()
}

// AgentClaim returns the single claim held by agent, if any.
func AgentClaim(agent string) (spec, taskID string, claim *Claim, err error) {
	table, err := Claims()
	if err != nil {
		return "", "", nil, err
	}
	spec, taskID, claim = findAgentClaim(table, agent)
	return spec, taskID, claim, nil
}

func withLock(ctx context.Context, fn func() error) error {
	return lockfile.New(paths.SwarmLockFile()).With(ctx, fn)
}

// ClaimRequest identifies the claiming agent and the task.
type ClaimRequest struct {
	Spec      string
	TaskID    string
	Agent     string
	SessionID string
	PID       int
	Reason    string
}

// ClaimTask inserts a claim for (spec, task) under the swarm lock.
// Refused with a ConflictError when the task is claimed or completed,
// or when the agent already holds any claim.
func ClaimTask(ctx context.Context, req ClaimRequest) (*Claim, error) {
	if req.Spec == "" {
		return nil, ErrNoSpec
	}
	spec := CanonSpec(req.Spec)

	var out *Claim
	err := withLock(ctx, func() error {
		claims, err := readClaims()
		if err != nil {
			return err
		}
		if pruneDead(claims) {
			if err := writeClaims(claims); err != nil {
				return err
			}
		}
		completions, err := readCompletions()
		if err != nil {
			return err
		}

		if comp, ok := completions[spec][req.TaskID]; ok {
			c := comp
			return &ConflictError{Kind: ErrAlreadyCompleted, Spec: spec, TaskID: req.TaskID, Completion: &c}
		}
		if existing, ok := claims[spec][req.TaskID]; ok {
			c := existing
			return &ConflictError{Kind: ErrAlreadyClaimed, Spec: spec, TaskID: req.TaskID, Claim: &c}
		}
		if heldSpec, heldTask, held := findAgentClaim(claims, req.Agent); held != nil {
			return &ConflictError{Kind: ErrAlreadyHaveClaim, Spec: heldSpec, TaskID: heldTask, Claim: held}
		}

		entry := Claim{
			Agent:     req.Agent,
			SessionID: req.SessionID,
			PID:       req.PID,
			ClaimedAt: time.Now().UTC(),
			Reason:    req.Reason,
		}
		if claims[spec] == nil {
			claims[spec] = map[string]Claim{}
		}
		claims[spec][req.TaskID] = entry
		if err := writeClaims(claims); err != nil {
			return err
		}
		out = &entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UnclaimTask removes the agent's claim on (spec, task) under the lock.
func UnclaimTask(ctx context.Context, spec, taskID, agent string) error {
	if spec == "" {
		return ErrNoSpec
	}
	spec = CanonSpec(spec)

	return withLock(ctx, func() error {
		claims, err := readClaims()
		if err != nil {
			return err
		}
		pruned := pruneDead(claims)

		existing, ok := claims[spec][taskID]
		if !ok {
			if pruned {
				_ = writeClaims(claims)
			}
			return &ConflictError{Kind: ErrNotClaimed, Spec: spec, TaskID: taskID}
		}
		if existing.Agent != agent {
			if pruned {
				_ = writeClaims(claims)
			}
			c := existing
			return &ConflictError{Kind: ErrNotYourClaim, Spec: spec, TaskID: taskID, Claim: &c}
		}

		delete(claims[spec], taskID)
		if len(claims[spec]) == 0 {
			delete(claims, spec)
		}
		return writeClaims(claims)
	})
}

// CompleteTask converts the agent's claim on (spec, task) into a
// permanent completion under the lock. First completer wins.
func CompleteTask(ctx context.Context, spec, taskID, agent, notes string) (*Completion, error) {
	if spec == "" {
		return nil, ErrNoSpec
	}
	spec = CanonSpec(spec)

	var out *Completion
	err := withLock(ctx, func() error {
		claims, err := readClaims()
		if err != nil {
			return err
		}
		if pruneDead(claims) {
			if err := writeClaims(claims); err != nil {
				return err
			}
		}
		completions, err := readCompletions()
		if err != nil {
			return err
		}

		if comp, ok := completions[spec][taskID]; ok {
			c := comp
			return &ConflictError{Kind: ErrAlreadyCompleted, Spec: spec, TaskID: taskID, Completion: &c}
		}
		existing, ok := claims[spec][taskID]
		if ok && existing.Agent != agent {
			c := existing
			return &ConflictError{Kind: ErrNotYourClaim, Spec: spec, TaskID: taskID, Claim: &c}
		}
		if !ok {
			return &ConflictError{Kind: ErrNotClaimed, Spec: spec, TaskID: taskID}
		}

		delete(claims[spec], taskID)
		if len(claims[spec]) == 0 {
			delete(claims, spec)
		}
		if err := writeClaims(claims); err != nil {
			return err
		}

		entry := Completion{
			CompletedBy: agent,
			CompletedAt: time.Now().UTC(),
			Notes:       notes,
		}
		if completions[spec] == nil {
			completions[spec] = map[string]Completion{}
		}
		completions[spec][taskID] = entry
		if err := writeCompletions(completions); err != nil {
			return err
		}
		out = &entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReleaseAgentClaims drops every claim owned by agent. Used on clean
// shutdown so a leaving agent never strands a claim.
func ReleaseAgentClaims(ctx context.Context, agent string) error {
	return withLock(ctx, func() error {
		claims, err := readClaims()
		if err != nil {
			return err
		}
		changed := pruneDead(claims)
		for spec, tasks := range claims {
			for taskID, claim := range tasks {
				if claim.Agent == agent {
					delete(tasks, taskID)
					changed = true
				}
			}
			if len(tasks) == 0 {
				delete(claims, spec)
			}
		}
		if !changed {
			return nil
		}
		return writeClaims(claims)
	})
}

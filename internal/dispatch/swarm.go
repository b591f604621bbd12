package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/untoldecay/pi-messenger/internal/lockfile"
	"github.com/untoldecay/pi-messenger/internal/swarm"
)

// resolveSpec picks the spec namespace for a swarm action: the explicit
// argument wins, else the agent's working spec.
func resolveSpec(argSpec, recSpec string) string {
	if s := strings.TrimSpace(argSpec); s != "" {
		return s
	}
	return recSpec
}

func (d *Dispatcher) handleSwarm(req *Request) *Result {
	var args SwarmArgs
	if res := decodeFail(req, &args); res != nil {
		return res
	}

	claims, err := swarm.Claims()
	if err != nil {
		return errResult(ActionSwarm, "", fmt.Sprintf("read claims: %v", err))
	}
	completions, err := swarm.Completions()
	if err != nil {
		return errResult(ActionSwarm, "", fmt.Sprintf("read completions: %v", err))
	}

	spec := strings.TrimSpace(args.Spec)
	if spec == "" {
		if rec, ok := d.self(); ok {
			spec = rec.Spec
		}
	} else {
		spec = swarm.CanonSpec(spec)
	}

	specs := map[string]bool{}
	if spec != "" {
		specs[spec] = true
	} else {
		for s := range claims {
			specs[s] = true
		}
		for s := range completions {
			specs[s] = true
		}
	}
	if len(specs) == 0 {
		return newResult(ActionSwarm, "No swarm activity.").
			with("claims", claims).
			with("completions", completions)
	}

	ordered := make([]string, 0, len(specs))
	for s := range specs {
		ordered = append(ordered, s)
	}
	sort.Strings(ordered)

	var b strings.Builder
	for _, s := range ordered {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s\n", s)

		taskIDs := map[string]bool{}
		for id := range claims[s] {
			taskIDs[id] = true
		}
		for id := range completions[s] {
			taskIDs[id] = true
		}
		if len(taskIDs) == 0 {
			b.WriteString("  no claims or completions\n")
			continue
		}
		tasks := make([]string, 0, len(taskIDs))
		for id := range taskIDs {
			tasks = append(tasks, id)
		}
		sort.Strings(tasks)
		for _, id := range tasks {
			if comp, ok := completions[s][id]; ok {
				fmt.Fprintf(&b, "  %s — completed by %s %s\n", id, comp.CompletedBy, ago(comp.CompletedAt))
				continue
			}
			claim := claims[s][id]
			fmt.Fprintf(&b, "  %s — claimed by %s %s", id, claim.Agent, ago(claim.ClaimedAt))
			if claim.Reason != "" {
				fmt.Fprintf(&b, " (%s)", claim.Reason)
			}
			b.WriteString("\n")
		}
	}

	return newResult(ActionSwarm, strings.TrimRight(b.String(), "\n")).
		with("claims", claims).
		with("completions", completions)
}

// swarmConflict maps a swarm ConflictError onto the wire kinds and the
// structured detail programmatic callers switch on.
func swarmConflict(mode string, err error) *Result {
	var conflict *swarm.ConflictError
	if !errors.As(err, &conflict) {
		switch {
		case errors.Is(err, swarm.ErrNoSpec):
			return errResult(mode, KindNoSpec, "no spec set; pass spec or set one with the spec action")
		case errors.Is(err, lockfile.ErrTimeout):
			return errResult(mode, KindLockTimeout, err.Error())
		case errors.Is(err, lockfile.ErrCancelled):
			return errResult(mode, KindCancelled, err.Error())
		}
		return errResult(mode, "", err.Error())
	}

	switch {
	case errors.Is(conflict.Kind, swarm.ErrAlreadyClaimed):
		res := errResult(mode, KindAlreadyClaimed,
			fmt.Sprintf("%s is already claimed by %s", conflict.TaskID, conflict.Claim.Agent))
		return res.with("conflict", map[string]any{
			"agent":     conflict.Claim.Agent,
			"taskId":    conflict.TaskID,
			"spec":      conflict.Spec,
			"claimedAt": conflict.Claim.ClaimedAt,
			"reason":    conflict.Claim.Reason,
		})
	case errors.Is(conflict.Kind, swarm.ErrAlreadyHaveClaim):
		res := errResult(mode, KindAlreadyHaveClaim,
			fmt.Sprintf("you already hold a claim on %s; complete or unclaim it first", conflict.TaskID))
		return res.with("existing", map[string]any{
			"taskId":    conflict.TaskID,
			"spec":      conflict.Spec,
			"claimedAt": conflict.Claim.ClaimedAt,
		})
	case errors.Is(conflict.Kind, swarm.ErrAlreadyCompleted):
		res := errResult(mode, KindAlreadyCompleted,
			fmt.Sprintf("%s was already completed by %s", conflict.TaskID, conflict.Completion.CompletedBy))
		return res.with("completion", map[string]any{
			"completedBy": conflict.Completion.CompletedBy,
			"completedAt": conflict.Completion.CompletedAt,
			"taskId":      conflict.TaskID,
			"spec":        conflict.Spec,
		})
	case errors.Is(conflict.Kind, swarm.ErrNotYourClaim):
		res := errResult(mode, KindNotYourClaim,
			fmt.Sprintf("%s is claimed by %s, not you", conflict.TaskID, conflict.Claim.Agent))
		return res.with("holder", conflict.Claim.Agent)
	case errors.Is(conflict.Kind, swarm.ErrNotClaimed):
		return errResult(mode, KindNotClaimed, fmt.Sprintf("%s is not claimed", conflict.TaskID))
	}
	return errResult(mode, "", conflict.Error())
}

func (d *Dispatcher) handleClaim(ctx context.Context, req *Request) *Result {
	var args ClaimArgs
	if res := decodeFail(req, &args); res != nil {
		return res
	}
	rec, res := d.requireSelf(ActionClaim)
	if res != nil {
		return res
	}
	taskID := strings.TrimSpace(args.TaskID)
	if taskID == "" {
		return errResult(ActionClaim, KindMissingID, "taskId is required")
	}
	spec := resolveSpec(args.Spec, rec.Spec)
	if spec == "" {
		return errResult(ActionClaim, KindNoSpec, "no spec set; pass spec or set one with the spec action")
	}

	claim, err := swarm.ClaimTask(ctx, swarm.ClaimRequest{
		Spec:      spec,
		TaskID:    taskID,
		Agent:     rec.Name,
		SessionID: rec.SessionID,
		PID:       rec.PID,
		Reason:    args.Reason,
	})
	if err != nil {
		return swarmConflict(ActionClaim, err)
	}

	canon := swarm.CanonSpec(spec)
	return newResult(ActionClaim, fmt.Sprintf("Claimed %s on %s.", taskID, canon)).
		with("taskId", taskID).
		with("spec", canon).
		with("claimedAt", claim.ClaimedAt)
}

func (d *Dispatcher) handleUnclaim(ctx context.Context, req *Request) *Result {
	var args UnclaimArgs
	if res := decodeFail(req, &args); res != nil {
		return res
	}
	rec, res := d.requireSelf(ActionUnclaim)
	if res != nil {
		return res
	}
	taskID := strings.TrimSpace(args.TaskID)
	if taskID == "" {
		return errResult(ActionUnclaim, KindMissingID, "taskId is required")
	}
	spec := resolveSpec(args.Spec, rec.Spec)
	if spec == "" {
		return errResult(ActionUnclaim, KindNoSpec, "no spec set; pass spec or set one with the spec action")
	}

	if err := swarm.UnclaimTask(ctx, spec, taskID, rec.Name); err != nil {
		return swarmConflict(ActionUnclaim, err)
	}

	return newResult(ActionUnclaim, fmt.Sprintf("Released claim on %s.", taskID)).
		with("taskId", taskID).
		with("spec", swarm.CanonSpec(spec))
}

func (d *Dispatcher) handleComplete(ctx context.Context, req *Request) *Result {
	var args CompleteArgs
	if res := decodeFail(req, &args); res != nil {
		return res
	}
	rec, res := d.requireSelf(ActionComplete)
	if res != nil {
		return res
	}
	taskID := strings.TrimSpace(args.TaskID)
	if taskID == "" {
		return errResult(ActionComplete, KindMissingID, "taskId is required")
	}
	spec := resolveSpec(args.Spec, rec.Spec)
	if spec == "" {
		return errResult(ActionComplete, KindNoSpec, "no spec set; pass spec or set one with the spec action")
	}

	completion, err := swarm.CompleteTask(ctx, spec, taskID, rec.Name, args.Notes)
	if err != nil {
		return swarmConflict(ActionComplete, err)
	}

	canon := swarm.CanonSpec(spec)
	return newResult(ActionComplete, fmt.Sprintf("Completed %s on %s.", taskID, canon)).
		with("taskId", taskID).
		with("spec", canon).
		with("completedAt", completion.CompletedAt)
}

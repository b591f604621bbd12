// Package dispatch implements the single action surface the host agent
// invokes: one JSON action record in, one {text, details} result out.
// Handlers read and write the same files the CLI commands do; the only
// state a dispatcher holds is the session it acts as.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/untoldecay/pi-messenger/internal/config"
	"github.com/untoldecay/pi-messenger/internal/debug"
	"github.com/untoldecay/pi-messenger/internal/feed"
	"github.com/untoldecay/pi-messenger/internal/lockfile"
	"github.com/untoldecay/pi-messenger/internal/names"
	"github.com/untoldecay/pi-messenger/internal/paths"
	"github.com/untoldecay/pi-messenger/internal/registry"
	"github.com/untoldecay/pi-messenger/internal/session"
	"github.com/untoldecay/pi-messenger/internal/swarm"
)

// Dispatcher routes action records to handlers. Safe for concurrent use.
type Dispatcher struct {
	mu   sync.Mutex
	sess *session.Session

	version string
	model   string
	cwd     string
}

// Options configure a dispatcher. Session may be nil: self-actions then
// ride a live registration named by PI_AGENT_NAME (one-shot tool calls
// acting as a running watch session), or fail with not_registered.
type Options struct {
	Session *session.Session
	Version string
	Model   string
	// Cwd is the project directory for sessionless actions; empty means
	// the process working directory.
	Cwd string
}

// New returns a dispatcher.
func New(opts Options) *Dispatcher {
	return &Dispatcher{
		sess:    opts.Session,
		version: opts.Version,
		model:   opts.Model,
		cwd:     opts.Cwd,
	}
}

// Session returns the joined session, nil before a join.
func (d *Dispatcher) Session() *session.Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sess
}

// Dispatch routes one action record. An omitted action falls through to
// the status view; an unknown one does too, tagged unknown_action so
// programmatic callers notice.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) *Result {
	switch req.Action {
	case "", ActionStatus:
		return d.handleStatus(req)
	case ActionJoin:
		return d.handleJoin(req)
	case ActionList:
		return d.handleList(req)
	case ActionFeed:
		return d.handleFeed(req)
	case ActionWhois:
		return d.handleWhois(req)
	case ActionSetStatus:
		return d.handleSetStatus(req)
	case ActionSpec:
		return d.handleSpec(req)
	case ActionSend:
		return d.handleSend(req)
	case ActionBroadcast:
		return d.handleBroadcast(req)
	case ActionReserve:
		return d.handleReserve(req)
	case ActionRelease:
		return d.handleRelease(req)
	case ActionRename:
		return d.handleRename(ctx, req)
	case ActionSwarm:
		return d.handleSwarm(req)
	case ActionClaim:
		return d.handleClaim(ctx, req)
	case ActionUnclaim:
		return d.handleUnclaim(ctx, req)
	case ActionComplete:
		return d.handleComplete(ctx, req)
	case ActionAutoRegisterPath:
		return d.handleAutoRegister(req)

	case ActionEpicCreate:
		return d.handleEpicCreate(ctx, req)
	case ActionEpicShow:
		return d.handleEpicShow(req)
	case ActionEpicList:
		return d.handleEpicList(req)
	case ActionEpicClose:
		return d.handleEpicClose(req)
	case ActionEpicSetSpec:
		return d.handleEpicSetSpec(req)

	case ActionTaskCreate:
		return d.handleTaskCreate(ctx, req)
	case ActionTaskShow:
		return d.handleTaskShow(req)
	case ActionTaskList:
		return d.handleTaskList(req)
	case ActionTaskStart:
		return d.handleTaskStart(req)
	case ActionTaskDone:
		return d.handleTaskDone(req)
	case ActionTaskBlock:
		return d.handleTaskBlock(req)
	case ActionTaskUnblock:
		return d.handleTaskUnblock(req)
	case ActionTaskReady:
		return d.handleTaskReady(req)
	case ActionTaskReset:
		return d.handleTaskReset(req)

	case ActionPlan:
		return d.handlePlan(ctx, req)
	case ActionWork:
		return d.handleWork(ctx, req)
	case ActionReview:
		return d.handleReview(ctx, req)

	case ActionCheckpointSave:
		return d.handleCheckpointSave(req)
	case ActionCheckpointRestore:
		return d.handleCheckpointRestore(req)
	case ActionCheckpointDelete:
		return d.handleCheckpointDelete(req)
	case ActionCheckpointList:
		return d.handleCheckpointList(req)

	case ActionCrewStatus:
		return d.handleCrewStatus(req)
	case ActionCrewValidate:
		return d.handleCrewValidate(req)
	case ActionCrewAgents:
		return d.handleCrewAgents(req)
	case ActionCrewInstall:
		return d.handleCrewInstall(req)
	case ActionCrewUninstall:
		return d.handleCrewUninstall(req)

	default:
		res := d.handleStatus(req)
		res.Text = fmt.Sprintf("Unknown action %q.\n\n%s", req.Action, res.Text)
		res.Details["error"] = KindUnknownAction
		return res
	}
}

// self returns the record the dispatcher acts as: the joined session's
// record, or a live registration named by PI_AGENT_NAME.
func (d *Dispatcher) self() (*registry.Record, bool) {
	if sess := d.Session(); sess != nil {
		rec := sess.Record()
		return &rec, true
	}
	if name := os.Getenv(session.EnvAgentName); name != "" {
		if rec, found, err := registry.Find(name); err == nil && found {
			return rec, true
		}
	}
	return nil, false
}

func (d *Dispatcher) requireSelf(mode string) (*registry.Record, *Result) {
	rec, ok := d.self()
	if !ok {
		return nil, errResult(mode, KindNotRegistered, "not registered in the mesh; join first")
	}
	return rec, nil
}

func (d *Dispatcher) projectDir() string {
	if sess := d.Session(); sess != nil {
		return sess.ProjectDir()
	}
	if d.cwd != "" {
		return d.cwd
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}

// peers returns the live agents other than self, honoring scopeToFolder.
func (d *Dispatcher) peers(self string) []registry.Record {
	agents, err := registry.ActiveAgents()
	if err != nil {
		debug.Logf("discover peers: %v", err)
		return nil
	}
	if config.ScopeToFolder() {
		agents = registry.FilterByCwd(agents, d.projectDir())
	}
	var out []registry.Record
	for _, a := range agents {
		if a.Name != self {
			out = append(out, a)
		}
	}
	return out
}

func peerNames(recs []registry.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Name
	}
	return out
}

func decodeFail(req *Request, out any) *Result {
	if err := req.decode(out); err != nil {
		return errResult(req.Action, "", err.Error())
	}
	return nil
}

func saveRecord(rec *registry.Record) error {
	if err := registry.Save(rec); err != nil {
		return err
	}
	registry.InvalidateCache()
	return nil
}

// ago formats a time for status lines: "just now", "42s ago", "5m ago".
func ago(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	dur := time.Since(t)
	switch {
	case dur < 5*time.Second:
		return "just now"
	case dur < time.Minute:
		return fmt.Sprintf("%ds ago", int(dur.Seconds()))
	case dur < time.Hour:
		return fmt.Sprintf("%dm ago", int(dur.Minutes()))
	case dur < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(dur.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(dur.Hours()/24))
	}
}

func (d *Dispatcher) handleJoin(req *Request) *Result {
	var args JoinArgs
	if res := decodeFail(req, &args); res != nil {
		return res
	}

	if sess := d.Session(); sess != nil {
		return newResult(ActionJoin, fmt.Sprintf("Already registered as %s.", sess.Name())).
			with("name", sess.Name()).
			with("alreadyRegistered", true)
	}

	adjectives, nouns := config.NameWords()
	theme := names.Resolve(paths.ThemesDir(), config.NameTheme(),
		names.Theme{Adjectives: adjectives, Nouns: nouns})

	sess, err := session.Join(session.JoinOptions{
		Name:          args.Name,
		Model:         d.model,
		Spec:          args.Spec,
		Cwd:           d.cwd,
		Theme:         theme,
		Version:       d.version,
		AutoStatus:    config.AutoStatus(),
		SenderDetails: config.SenderDetailsOnFirstContact(),
	})
	if err != nil {
		switch {
		case errors.Is(err, names.ErrInvalidName):
			return errResult(ActionJoin, KindInvalidName, err.Error())
		case errors.Is(err, registry.ErrNameTaken):
			return errResult(ActionJoin, KindNameTaken, err.Error())
		case errors.Is(err, registry.ErrRaceLost):
			return errResult(ActionJoin, KindRaceLost, err.Error())
		}
		return errResult(ActionJoin, "", err.Error())
	}

	d.mu.Lock()
	d.sess = sess
	d.mu.Unlock()

	peers := d.peers(sess.Name())
	var b strings.Builder
	fmt.Fprintf(&b, "Registered as %s.", sess.Name())
	if len(peers) == 0 {
		b.WriteString(" No other agents active.")
	} else {
		fmt.Fprintf(&b, " %d peer(s) active: %s.", len(peers), strings.Join(peerNames(peers), ", "))
	}
	if config.RegistrationContext() {
		b.WriteString("\nPeers message you by name; deliveries wake you up.")
		b.WriteString("\nReserve paths before editing shared files.")
	}

	return newResult(ActionJoin, b.String()).
		with("name", sess.Name()).
		with("sessionId", sess.SessionID()).
		with("peers", peerNames(peers))
}

func (d *Dispatcher) handleStatus(_ *Request) *Result {
	res := newResult(ActionStatus, "")

	rec, registered := d.self()
	selfName := ""
	if registered {
		selfName = rec.Name
	}
	peers := d.peers(selfName)

	var b strings.Builder
	if !registered {
		fmt.Fprintf(&b, "Not registered. %d agent(s) active.", len(peers))
		res.Details["registered"] = false
	} else {
		claimSpec, claimTask, _, err := swarm.AgentClaim(rec.Name)
		if err != nil {
			debug.Logf("read claims for status: %v", err)
		}
		tier := registry.StatusTier(rec, claimTask != "", config.StuckThreshold(), time.Now())

		fmt.Fprintf(&b, "You are %s", rec.Name)
		if rec.Model != "" {
			fmt.Fprintf(&b, " (%s)", rec.Model)
		}
		fmt.Fprintf(&b, " — %s, started %s.", tier, ago(rec.StartedAt))
		if status := statusLine(rec); status != "" {
			fmt.Fprintf(&b, "\nStatus: %s", status)
		}
		if rec.Spec != "" {
			fmt.Fprintf(&b, "\nSpec: %s", rec.Spec)
		}
		if claimTask != "" {
			fmt.Fprintf(&b, "\nClaim: %s on %s", claimTask, claimSpec)
			res.Details["claim"] = map[string]any{"taskId": claimTask, "spec": claimSpec}
		}
		if len(rec.Reservations) > 0 {
			patterns := make([]string, len(rec.Reservations))
			for i, r := range rec.Reservations {
				patterns[i] = r.Pattern
			}
			fmt.Fprintf(&b, "\nReserved: %s", strings.Join(patterns, ", "))
		}
		if sess := d.Session(); sess != nil {
			if unread := sess.Unread(); len(unread) > 0 {
				senders := make([]string, 0, len(unread))
				for from := range unread {
					senders = append(senders, from)
				}
				sort.Strings(senders)
				parts := make([]string, len(senders))
				for i, from := range senders {
					parts[i] = fmt.Sprintf("%s (%d)", from, unread[from])
				}
				fmt.Fprintf(&b, "\nUnread: %s", strings.Join(parts, ", "))
				res.Details["unread"] = unread
			}
		}
		fmt.Fprintf(&b, "\nPeers: %d active.", len(peers))
		res.Details["registered"] = true
		res.Details["name"] = rec.Name
		res.Details["tier"] = string(tier)
	}
	res.Details["peers"] = len(peers)

	for _, p := range peers {
		if registry.VersionMismatch(d.version, p.Version) {
			fmt.Fprintf(&b, "\nWarning: %s runs pimsg %s, you run %s.", p.Name, p.Version, d.version)
		}
	}

	res.Text = b.String()
	return res
}

// statusLine picks the line shown for an agent: explicit custom status
// wins over the derived one.
func statusLine(rec *registry.Record) string {
	if rec.CustomStatus != "" {
		return rec.CustomStatus
	}
	return rec.StatusMessage
}

func (d *Dispatcher) handleList(_ *Request) *Result {
	selfName := ""
	if rec, ok := d.self(); ok {
		selfName = rec.Name
	}

	agents, err := registry.ActiveAgents()
	if err != nil {
		return errResult(ActionList, "", fmt.Sprintf("discover agents: %v", err))
	}
	if config.ScopeToFolder() {
		agents = registry.FilterByCwd(agents, d.projectDir())
	}
	if len(agents) == 0 {
		return newResult(ActionList, "No active agents.").with("agents", []any{})
	}

	claims, err := swarm.Claims()
	if err != nil {
		debug.Logf("read claims for list: %v", err)
	}
	holds := map[string]bool{}
	for _, tasks := range claims {
		for _, c := range tasks {
			holds[c.Agent] = true
		}
	}

	now := time.Now()
	threshold := config.StuckThreshold()

	byTier := map[registry.Tier][]registry.Record{}
	details := make([]map[string]any, 0, len(agents))
	for i := range agents {
		a := agents[i]
		tier := registry.StatusTier(&a, holds[a.Name], threshold, now)
		byTier[tier] = append(byTier[tier], a)

		det := map[string]any{"name": a.Name, "tier": string(tier)}
		if a.Model != "" {
			det["model"] = a.Model
		}
		if a.Spec != "" {
			det["spec"] = a.Spec
		}
		if a.IsHuman {
			det["isHuman"] = true
		}
		if len(a.Reservations) > 0 {
			det["reservations"] = len(a.Reservations)
		}
		if s := statusLine(&a); s != "" {
			det["status"] = s
		}
		details = append(details, det)
	}

	var b strings.Builder
	for _, tier := range []registry.Tier{registry.TierActive, registry.TierIdle, registry.TierStuck, registry.TierAway} {
		group := byTier[tier]
		if len(group) == 0 {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].Name < group[j].Name })
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s (%d)\n", strings.ToUpper(string(tier)), len(group))
		for i := range group {
			a := &group[i]
			line := "  " + a.Name
			if a.Name == selfName {
				line += " (you)"
			}
			if a.IsHuman {
				line += " (human)"
			}
			if a.Model != "" {
				line += " — " + a.Model
			}
			if s := statusLine(a); s != "" {
				line += " — " + s
			} else if a.Spec != "" {
				line += " — on " + a.Spec
			}
			b.WriteString(line + "\n")
		}
	}

	mismatched := 0
	for i := range agents {
		if agents[i].Name != selfName && registry.VersionMismatch(d.version, agents[i].Version) {
			mismatched++
		}
	}
	if mismatched > 0 {
		fmt.Fprintf(&b, "\nWarning: %d peer(s) run a different major pimsg version.\n", mismatched)
	}

	return newResult(ActionList, strings.TrimRight(b.String(), "\n")).with("agents", details)
}

func (d *Dispatcher) handleWhois(req *Request) *Result {
	var args WhoisArgs
	if res := decodeFail(req, &args); res != nil {
		return res
	}
	name := strings.TrimSpace(args.Name)
	if name == "" {
		return errResult(ActionWhois, KindMissingRecipient, "name is required")
	}

	rec, found, err := registry.Find(name)
	if err != nil {
		return errResult(ActionWhois, "", fmt.Sprintf("look up %s: %v", name, err))
	}
	if !found {
		return errResult(ActionWhois, KindNotFound, fmt.Sprintf("no agent named %q", name))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s", rec.Name)
	if rec.Model != "" {
		fmt.Fprintf(&b, " — %s", rec.Model)
	}
	if rec.IsHuman {
		b.WriteString(" (human)")
	}
	fmt.Fprintf(&b, "\nPID %d, started %s", rec.PID, ago(rec.StartedAt))
	fmt.Fprintf(&b, "\nCwd: %s", rec.Cwd)
	if rec.GitBranch != "" {
		fmt.Fprintf(&b, "\nBranch: %s", rec.GitBranch)
	}
	if rec.Spec != "" {
		fmt.Fprintf(&b, "\nSpec: %s", rec.Spec)
	}
	if s := statusLine(rec); s != "" {
		fmt.Fprintf(&b, "\nStatus: %s", s)
	}
	if !rec.Activity.LastActivityAt.IsZero() {
		fmt.Fprintf(&b, "\nLast activity: %s", ago(rec.Activity.LastActivityAt))
	}
	for _, r := range rec.Reservations {
		fmt.Fprintf(&b, "\nReserved: %s", r.Pattern)
		if r.Reason != "" {
			fmt.Fprintf(&b, " (%s)", r.Reason)
		}
	}
	if rec.Version != "" {
		fmt.Fprintf(&b, "\nVersion: %s", rec.Version)
	}

	return newResult(ActionWhois, b.String()).with("agent", rec)
}

func (d *Dispatcher) handleFeed(req *Request) *Result {
	var args FeedArgs
	if res := decodeFail(req, &args); res != nil {
		return res
	}
	limit := args.Limit
	if limit <= 0 {
		limit = 20
	}

	events, err := feed.Recent(d.projectDir(), limit)
	if err != nil {
		return errResult(ActionFeed, "", fmt.Sprintf("read feed: %v", err))
	}
	if len(events) == 0 {
		return newResult(ActionFeed, "No recent activity.").with("events", []any{})
	}

	lines := make([]string, len(events))
	for i, ev := range events {
		lines[i] = feedLine(ev)
	}
	return newResult(ActionFeed, strings.Join(lines, "\n")).with("events", events)
}

func feedLine(ev feed.Event) string {
	line := ev.TS.Local().Format("15:04:05") + " " + ev.Agent + " " + ev.Type
	if ev.Target != "" {
		line += " " + ev.Target
	}
	if ev.Preview != "" {
		line += " — " + ev.Preview
	}
	return line
}

func (d *Dispatcher) handleSetStatus(req *Request) *Result {
	var args SetStatusArgs
	if res := decodeFail(req, &args); res != nil {
		return res
	}
	rec, res := d.requireSelf(ActionSetStatus)
	if res != nil {
		return res
	}
	message := strings.TrimSpace(args.Message)

	if sess := d.Session(); sess != nil {
		if err := sess.SetCustomStatus(message); err != nil {
			return errResult(ActionSetStatus, "", err.Error())
		}
	} else {
		rec.CustomStatus = message
		if err := saveRecord(rec); err != nil {
			return errResult(ActionSetStatus, "", err.Error())
		}
	}

	if message == "" {
		return newResult(ActionSetStatus, "Status cleared.")
	}
	return newResult(ActionSetStatus, "Status set: "+message).with("status", message)
}

func (d *Dispatcher) handleSpec(req *Request) *Result {
	var args SpecArgs
	if res := decodeFail(req, &args); res != nil {
		return res
	}
	spec := strings.TrimSpace(args.Spec)
	if spec == "" {
		return errResult(ActionSpec, KindNoSpec, "spec path is required")
	}
	rec, res := d.requireSelf(ActionSpec)
	if res != nil {
		return res
	}

	canon := swarm.CanonSpec(spec)
	if sess := d.Session(); sess != nil {
		if err := sess.SetSpec(spec); err != nil {
			return errResult(ActionSpec, "", err.Error())
		}
	} else {
		rec.Spec = canon
		if err := saveRecord(rec); err != nil {
			return errResult(ActionSpec, "", err.Error())
		}
	}

	if _, err := os.Stat(canon); err != nil {
		return warnResult(ActionSpec, KindSpecMissing,
			fmt.Sprintf("spec set to %s, but no file exists there", canon)).with("spec", canon)
	}
	return newResult(ActionSpec, "Working spec set to "+canon+".").with("spec", canon)
}

func (d *Dispatcher) handleRename(ctx context.Context, req *Request) *Result {
	var args RenameArgs
	if res := decodeFail(req, &args); res != nil {
		return res
	}
	rec, res := d.requireSelf(ActionRename)
	if res != nil {
		return res
	}

	newName := strings.TrimSpace(args.Name)
	if err := names.Validate(newName); err != nil {
		return errResult(ActionRename, KindInvalidName, err.Error())
	}
	if newName == rec.Name {
		return errResult(ActionRename, KindSameName, "already named "+newName)
	}

	if _, err := registry.Rename(ctx, rec.Name, newName); err != nil {
		switch {
		case errors.Is(err, registry.ErrNameExists):
			return errResult(ActionRename, KindNameTaken, err.Error())
		case errors.Is(err, registry.ErrNotRegistered):
			return errResult(ActionRename, KindNotRegistered, err.Error())
		case errors.Is(err, lockfile.ErrTimeout):
			return errResult(ActionRename, KindLockTimeout, err.Error())
		case errors.Is(err, lockfile.ErrCancelled):
			return errResult(ActionRename, KindCancelled, err.Error())
		}
		return errResult(ActionRename, "", err.Error())
	}

	if sess := d.Session(); sess != nil {
		sess.SetName(newName)
	}
	return newResult(ActionRename, fmt.Sprintf("Renamed %s to %s.", rec.Name, newName)).
		with("old", rec.Name).
		with("name", newName)
}

func (d *Dispatcher) handleAutoRegister(req *Request) *Result {
	var args AutoRegisterArgs
	if res := decodeFail(req, &args); res != nil {
		return res
	}
	path := strings.TrimSpace(args.Path)
	if path == "" {
		path = d.projectDir()
	}

	switch args.AutoRegisterPath {
	case "list":
		configured := config.GetStringSlice("autoRegisterPaths")
		if len(configured) == 0 {
			return newResult(ActionAutoRegisterPath, "No auto-register paths configured.").
				with("paths", []string{})
		}
		return newResult(ActionAutoRegisterPath, strings.Join(configured, "\n")).
			with("paths", configured)

	case "add":
		added := false
		err := config.UpdateUserFile(func(m map[string]any) {
			existing := toStringSlice(m["autoRegisterPaths"])
			for _, p := range existing {
				if p == path {
					return
				}
			}
			m["autoRegisterPaths"] = append(existing, path)
			added = true
		})
		if err != nil {
			return errResult(ActionAutoRegisterPath, "", err.Error())
		}
		if !added {
			return newResult(ActionAutoRegisterPath, path+" is already in the auto-register list.").
				with("path", path)
		}
		return newResult(ActionAutoRegisterPath, "Added "+path+" to auto-register paths.").
			with("path", path)

	case "remove":
		removed := false
		err := config.UpdateUserFile(func(m map[string]any) {
			existing := toStringSlice(m["autoRegisterPaths"])
			kept := existing[:0]
			for _, p := range existing {
				if p == path {
					removed = true
					continue
				}
				kept = append(kept, p)
			}
			m["autoRegisterPaths"] = kept
		})
		if err != nil {
			return errResult(ActionAutoRegisterPath, "", err.Error())
		}
		if !removed {
			return newResult(ActionAutoRegisterPath, path+" was not in the auto-register list.").
				with("path", path)
		}
		return newResult(ActionAutoRegisterPath, "Removed "+path+" from auto-register paths.").
			with("path", path)

	case "":
		return errResult(ActionAutoRegisterPath, KindUnknownOperation,
			"autoRegisterPath requires add, remove, or list")
	default:
		return errResult(ActionAutoRegisterPath, KindUnknownOperation,
			fmt.Sprintf("unknown autoRegisterPath operation %q (want add, remove, or list)", args.AutoRegisterPath))
	}
}

func toStringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

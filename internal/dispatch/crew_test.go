package dispatch

import (
	"fmt"
	"strings"
	"testing"

	"github.com/untoldecay/pi-messenger/internal/crew"
)

// mustEpicThroughDispatch creates an epic via the action surface and
// returns its id.
func mustEpicThroughDispatch(t *testing.T, d *Dispatcher, title string) string {
	t.Helper()
	res := call(t, d, fmt.Sprintf(`{"action":"epic.create","title":%q}`, title))
	if res.Err() != "" {
		t.Fatalf("epic.create: %s (%s)", res.Text, res.Err())
	}
	id, _ := res.Details["id"].(string)
	if id == "" {
		t.Fatalf("epic.create id detail = %#v", res.Details["id"])
	}
	return id
}

func mustTaskThroughDispatch(t *testing.T, d *Dispatcher, epicID, title string, deps ...string) string {
	t.Helper()
	record := fmt.Sprintf(`{"action":"task.create","epicId":%q,"title":%q}`, epicID, title)
	if len(deps) > 0 {
		quoted := make([]string, len(deps))
		for i, dep := range deps {
			quoted[i] = fmt.Sprintf("%q", dep)
		}
		record = fmt.Sprintf(`{"action":"task.create","epicId":%q,"title":%q,"dependsOn":[%s]}`,
			epicID, title, strings.Join(quoted, ","))
	}
	res := call(t, d, record)
	if res.Err() != "" {
		t.Fatalf("task.create: %s (%s)", res.Text, res.Err())
	}
	id, _ := res.Details["id"].(string)
	if id == "" {
		t.Fatalf("task.create id detail = %#v", res.Details["id"])
	}
	return id
}

func TestEpicTaskLifecycleThroughDispatcher(t *testing.T) {
	setupBase(t)
	proj := t.TempDir()
	d := newAgent(t, "alpha", proj)

	epicID := mustEpicThroughDispatch(t, d, "Build auth")
	if !strings.HasPrefix(epicID, "c-") {
		t.Errorf("epic id = %q", epicID)
	}

	res := call(t, d, fmt.Sprintf(`{"action":"epic.show","id":%q}`, epicID))
	if !strings.Contains(res.Text, "No tasks yet.") {
		t.Errorf("empty epic show = %q", res.Text)
	}

	first := mustTaskThroughDispatch(t, d, epicID, "Write schema")
	second := mustTaskThroughDispatch(t, d, epicID, "Wire handlers", first)
	if first != epicID+".1" || second != epicID+".2" {
		t.Errorf("task ids = %q, %q", first, second)
	}

	// Only the dependency-free task is ready.
	res = call(t, d, fmt.Sprintf(`{"action":"task.ready","epicId":%q}`, epicID))
	if !strings.Contains(res.Text, first) || strings.Contains(res.Text, second) {
		t.Errorf("ready = %q", res.Text)
	}

	// Closing with open tasks names them.
	res = call(t, d, fmt.Sprintf(`{"action":"epic.close","id":%q}`, epicID))
	if res.Err() != KindIncompleteTasks {
		t.Fatalf("early close kind = %q", res.Err())
	}
	incomplete, ok := res.Details["incomplete"].([]string)
	if !ok || len(incomplete) != 2 {
		t.Errorf("incomplete = %#v", res.Details["incomplete"])
	}

	res = call(t, d, fmt.Sprintf(`{"action":"task.start","id":%q}`, first))
	if res.Err() != "" {
		t.Fatalf("task.start: %s (%s)", res.Text, res.Err())
	}
	if res.Text != fmt.Sprintf("Started %s: Write schema", first) {
		t.Errorf("start text = %q", res.Text)
	}

	res = call(t, d, fmt.Sprintf(
		`{"action":"task.done","id":%q,"summary":"schema merged","commits":["abc123"]}`, first))
	if res.Err() != "" {
		t.Fatalf("task.done: %s (%s)", res.Text, res.Err())
	}
	if res.Text != fmt.Sprintf("Completed %s.", first) {
		t.Errorf("done text = %q", res.Text)
	}

	res = call(t, d, fmt.Sprintf(`{"action":"task.show","id":%q}`, first))
	if !strings.Contains(res.Text, "schema merged") {
		t.Errorf("show after done = %q", res.Text)
	}
	task, ok := res.Details["task"].(*crew.Task)
	if !ok {
		t.Fatalf("task detail = %#v", res.Details["task"])
	}
	if task.Evidence == nil || len(task.Evidence.Commits) != 1 || task.Evidence.Commits[0] != "abc123" {
		t.Errorf("evidence = %#v", task.Evidence)
	}

	// The dependent becomes ready once its dependency is done.
	res = call(t, d, fmt.Sprintf(`{"action":"task.ready","epicId":%q}`, epicID))
	if !strings.Contains(res.Text, second) {
		t.Errorf("ready after done = %q", res.Text)
	}

	call(t, d, fmt.Sprintf(`{"action":"task.start","id":%q}`, second))
	call(t, d, fmt.Sprintf(`{"action":"task.done","id":%q}`, second))

	res = call(t, d, fmt.Sprintf(`{"action":"task.ready","epicId":%q}`, epicID))
	if res.Text != fmt.Sprintf("No tasks ready in %s.", epicID) {
		t.Errorf("ready when all done = %q", res.Text)
	}

	res = call(t, d, fmt.Sprintf(`{"action":"epic.close","id":%q}`, epicID))
	if res.Err() != "" || res.Text != fmt.Sprintf("Closed epic %s.", epicID) {
		t.Errorf("close = %q (%s)", res.Text, res.Err())
	}

	res = call(t, d, `{"action":"epic.list"}`)
	if !strings.Contains(res.Text, "Epics (1):") || !strings.Contains(res.Text, "(2/2)") {
		t.Errorf("epic.list = %q", res.Text)
	}

	// Task lifecycle left attributed feed lines behind.
	res = call(t, d, `{"action":"feed"}`)
	if !strings.Contains(res.Text, "alpha task.start") || !strings.Contains(res.Text, "alpha task.done") {
		t.Errorf("feed = %q", res.Text)
	}
}

func TestTaskCreateValidation(t *testing.T) {
	setupBase(t)
	proj := t.TempDir()
	d := New(Options{Version: "1.0.0", Cwd: proj})

	res := call(t, d, `{"action":"task.create","title":"orphaned"}`)
	if res.Err() != KindMissingID {
		t.Errorf("missing epicId kind = %q", res.Err())
	}

	epicID := mustEpicThroughDispatch(t, d, "Validation")
	res = call(t, d, fmt.Sprintf(`{"action":"task.create","epicId":%q}`, epicID))
	if res.Err() != KindMissingTitle {
		t.Errorf("missing title kind = %q", res.Err())
	}

	res = call(t, d, fmt.Sprintf(
		`{"action":"task.create","epicId":%q,"title":"floating","dependsOn":["c-9-zzz.7"]}`, epicID))
	if res.Err() != KindOrphanDependency {
		t.Fatalf("orphan kind = %q", res.Err())
	}
	missing, ok := res.Details["missing"].([]string)
	if !ok || len(missing) != 1 || missing[0] != "c-9-zzz.7" {
		t.Errorf("missing = %#v", res.Details["missing"])
	}

	res = call(t, d, `{"action":"task.create","epicId":"c-9-zzz","title":"nowhere"}`)
	if res.Err() != KindNotFound {
		t.Errorf("unknown epic kind = %q", res.Err())
	}
}

func TestTaskBlockUnblock(t *testing.T) {
	setupBase(t)
	proj := t.TempDir()
	d := newAgent(t, "alpha", proj)

	epicID := mustEpicThroughDispatch(t, d, "Ops")
	id := mustTaskThroughDispatch(t, d, epicID, "Rotate keys")

	res := call(t, d, fmt.Sprintf(`{"action":"task.block","id":%q,"reason":"vault sealed"}`, id))
	if res.Err() != "" {
		t.Fatalf("block: %s (%s)", res.Text, res.Err())
	}
	if res.Text != fmt.Sprintf("Blocked %s: vault sealed", id) {
		t.Errorf("block text = %q", res.Text)
	}

	res = call(t, d, fmt.Sprintf(`{"action":"task.show","id":%q}`, id))
	if !strings.Contains(res.Text, "Blocked: vault sealed") {
		t.Errorf("show blocked = %q", res.Text)
	}
	if blockCtx, _ := res.Details["blockContext"].(string); !strings.Contains(blockCtx, "vault sealed") {
		t.Errorf("blockContext = %#v", res.Details["blockContext"])
	}

	res = call(t, d, fmt.Sprintf(`{"action":"task.unblock","id":%q}`, id))
	if res.Text != fmt.Sprintf("Unblocked %s.", id) {
		t.Errorf("unblock text = %q", res.Text)
	}

	// Unblocking a todo task is a wrong-state error with no kind; the
	// message names the state.
	res = call(t, d, fmt.Sprintf(`{"action":"task.unblock","id":%q}`, id))
	if !strings.HasPrefix(res.Text, "Error: ") || !strings.Contains(res.Text, "is todo, not blocked") {
		t.Errorf("double unblock = %q", res.Text)
	}

	// A done task cannot be blocked.
	call(t, d, fmt.Sprintf(`{"action":"task.start","id":%q}`, id))
	call(t, d, fmt.Sprintf(`{"action":"task.done","id":%q}`, id))
	res = call(t, d, fmt.Sprintf(`{"action":"task.block","id":%q,"reason":"too late"}`, id))
	if !strings.HasPrefix(res.Text, "Error: ") {
		t.Errorf("block done task = %q", res.Text)
	}
}

func TestTaskResetCascade(t *testing.T) {
	setupBase(t)
	proj := t.TempDir()
	d := newAgent(t, "alpha", proj)

	epicID := mustEpicThroughDispatch(t, d, "Pipeline")
	t1 := mustTaskThroughDispatch(t, d, epicID, "one")
	t2 := mustTaskThroughDispatch(t, d, epicID, "two", t1)
	t3 := mustTaskThroughDispatch(t, d, epicID, "three", t2)

	call(t, d, fmt.Sprintf(`{"action":"task.start","id":%q}`, t1))
	call(t, d, fmt.Sprintf(`{"action":"task.done","id":%q}`, t1))
	call(t, d, fmt.Sprintf(`{"action":"task.start","id":%q}`, t2))

	// Cascade sweeps the started dependent but leaves the untouched one.
	res := call(t, d, fmt.Sprintf(`{"action":"task.reset","id":%q,"cascade":true}`, t1))
	if res.Err() != "" {
		t.Fatalf("reset: %s (%s)", res.Text, res.Err())
	}
	if res.Text != fmt.Sprintf("Reset 2 tasks: %s, %s.", t1, t2) {
		t.Errorf("cascade text = %q", res.Text)
	}
	ids, ok := res.Details["tasks"].([]string)
	if !ok || len(ids) != 2 {
		t.Errorf("tasks detail = %#v", res.Details["tasks"])
	}
	_ = t3

	res = call(t, d, fmt.Sprintf(`{"action":"task.show","id":%q}`, t1))
	if task := res.Details["task"].(*crew.Task); task.Status != crew.TaskTodo {
		t.Errorf("t1 after reset = %s", task.Status)
	}

	res = call(t, d, fmt.Sprintf(`{"action":"task.reset","id":%q}`, t2))
	if res.Text != fmt.Sprintf("Reset %s.", t2) {
		t.Errorf("single reset text = %q", res.Text)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	setupBase(t)
	proj := t.TempDir()
	d := newAgent(t, "alpha", proj)

	epicID := mustEpicThroughDispatch(t, d, "Refactor")
	t1 := mustTaskThroughDispatch(t, d, epicID, "step one")
	mustTaskThroughDispatch(t, d, epicID, "step two")

	res := call(t, d, fmt.Sprintf(`{"action":"checkpoint.save","id":%q}`, epicID))
	if res.Err() != "" {
		t.Fatalf("save: %s (%s)", res.Text, res.Err())
	}
	if res.Text != fmt.Sprintf("Checkpoint saved for %s (2 tasks).", epicID) {
		t.Errorf("save text = %q", res.Text)
	}

	// Drift from the snapshot: progress on one task, a brand-new third.
	call(t, d, fmt.Sprintf(`{"action":"task.start","id":%q}`, t1))
	call(t, d, fmt.Sprintf(`{"action":"task.done","id":%q}`, t1))
	t3 := mustTaskThroughDispatch(t, d, epicID, "step three")

	res = call(t, d, fmt.Sprintf(`{"action":"checkpoint.restore","id":%q}`, epicID))
	if res.Err() != "" {
		t.Fatalf("restore: %s (%s)", res.Text, res.Err())
	}
	if !strings.Contains(res.Text, fmt.Sprintf("Restored %s from checkpoint taken ", epicID)) {
		t.Errorf("restore text = %q", res.Text)
	}

	res = call(t, d, fmt.Sprintf(`{"action":"task.show","id":%q}`, t1))
	if task := res.Details["task"].(*crew.Task); task.Status != crew.TaskTodo {
		t.Errorf("t1 after restore = %s", task.Status)
	}
	res = call(t, d, fmt.Sprintf(`{"action":"task.show","id":%q}`, t3))
	if res.Err() != KindNotFound {
		t.Errorf("post-snapshot task should be gone, kind = %q", res.Err())
	}

	res = call(t, d, `{"action":"checkpoint.list"}`)
	if !strings.Contains(res.Text, "Checkpoints (1):") {
		t.Errorf("list = %q", res.Text)
	}

	res = call(t, d, fmt.Sprintf(`{"action":"checkpoint.delete","id":%q}`, epicID))
	if res.Text != fmt.Sprintf("Checkpoint deleted for %s.", epicID) {
		t.Errorf("delete text = %q", res.Text)
	}

	res = call(t, d, `{"action":"checkpoint.list"}`)
	if res.Text != "No checkpoints." {
		t.Errorf("empty list = %q", res.Text)
	}

	res = call(t, d, fmt.Sprintf(`{"action":"checkpoint.restore","id":%q}`, epicID))
	if res.Err() != KindNotFound {
		t.Errorf("restore without snapshot kind = %q", res.Err())
	}
	res = call(t, d, fmt.Sprintf(`{"action":"checkpoint.delete","id":%q}`, epicID))
	if res.Err() != KindNotFound {
		t.Errorf("double delete kind = %q", res.Err())
	}
}

func TestCrewValidateThroughDispatcher(t *testing.T) {
	setupBase(t)
	proj := t.TempDir()
	d := New(Options{Version: "1.0.0", Cwd: proj})

	res := call(t, d, `{"action":"crew.validate"}`)
	if res.Text != "No epics to validate." {
		t.Errorf("validate empty = %q", res.Text)
	}

	clean := mustEpicThroughDispatch(t, d, "Clean")
	res = call(t, d, fmt.Sprintf(`{"action":"crew.validate","id":%q}`, clean))
	if res.Text != fmt.Sprintf("%s: OK", clean) {
		t.Errorf("validate clean = %q", res.Text)
	}
	if res.Details["ok"] != true {
		t.Errorf("ok = %v", res.Details["ok"])
	}

	// A freshly created task still carries its stub spec.
	stubbed := mustEpicThroughDispatch(t, d, "Stubbed")
	mustTaskThroughDispatch(t, d, stubbed, "unwritten")
	res = call(t, d, fmt.Sprintf(`{"action":"crew.validate","id":%q}`, stubbed))
	if !strings.Contains(res.Text, "0 error(s), 1 warning(s)") {
		t.Errorf("validate stubbed = %q", res.Text)
	}
	if !strings.Contains(res.Text, "has a stub spec") {
		t.Errorf("warning line = %q", res.Text)
	}
	if res.Details["ok"] != true {
		t.Errorf("warnings alone must not fail validation, ok = %v", res.Details["ok"])
	}

	// Validating everything covers both epics.
	res = call(t, d, `{"action":"crew.validate"}`)
	if !strings.Contains(res.Text, clean+": OK") || !strings.Contains(res.Text, stubbed+":") {
		t.Errorf("validate all = %q", res.Text)
	}

	res = call(t, d, `{"action":"crew.validate","id":"c-9-zzz"}`)
	if res.Err() != KindNotFound {
		t.Errorf("validate unknown kind = %q", res.Err())
	}
}

func TestCrewAgentRoles(t *testing.T) {
	setupBase(t)
	proj := t.TempDir()
	d := New(Options{Version: "1.0.0", Cwd: proj})

	res := call(t, d, `{"action":"crew.agents"}`)
	if !strings.Contains(res.Text, "Agent roles (4):") {
		t.Errorf("agents = %q", res.Text)
	}
	for _, role := range []string{"scout", "analyst", "worker", "reviewer"} {
		if !strings.Contains(res.Text, role+" — ") {
			t.Errorf("agents missing %s: %q", role, res.Text)
		}
	}

	res = call(t, d, `{"action":"crew.install"}`)
	if res.Text != "Installed 4 agent definition(s): scout, analyst, worker, reviewer." {
		t.Errorf("install = %q", res.Text)
	}
	res = call(t, d, `{"action":"crew.install"}`)
	if res.Text != "All agent definitions already installed." {
		t.Errorf("re-install = %q", res.Text)
	}

	res = call(t, d, `{"action":"crew.uninstall"}`)
	if res.Text != "Removed 4 agent definition(s): scout, analyst, worker, reviewer." {
		t.Errorf("uninstall = %q", res.Text)
	}
	res = call(t, d, `{"action":"crew.uninstall"}`)
	if res.Text != "No agent definitions installed." {
		t.Errorf("re-uninstall = %q", res.Text)
	}
}

func TestCrewStatusSummary(t *testing.T) {
	setupBase(t)
	t.Setenv("PI_CREW_ARTIFACTS_ENABLED", "false")
	proj := t.TempDir()
	d := New(Options{Version: "1.0.0", Cwd: proj})

	res := call(t, d, `{"action":"crew.status"}`)
	if res.Text != "No epics." {
		t.Errorf("status empty = %q", res.Text)
	}

	epicID := mustEpicThroughDispatch(t, d, "Rollout")
	res = call(t, d, `{"action":"crew.status"}`)
	if !strings.Contains(res.Text, "Epics: 1 (1 open).") {
		t.Errorf("status = %q", res.Text)
	}
	if !strings.Contains(res.Text, epicID) || !strings.Contains(res.Text, "Rollout") {
		t.Errorf("status lines = %q", res.Text)
	}
}

func TestEpicSetSpec(t *testing.T) {
	setupBase(t)
	proj := t.TempDir()
	d := New(Options{Version: "1.0.0", Cwd: proj})

	epicID := mustEpicThroughDispatch(t, d, "Design")

	res := call(t, d, fmt.Sprintf(`{"action":"epic.set_spec","id":%q}`, epicID))
	if res.Err() != KindMissingContent {
		t.Errorf("missing content kind = %q", res.Err())
	}

	res = call(t, d, fmt.Sprintf(
		`{"action":"epic.set_spec","id":%q,"content":"# Design\n\nTwo phases."}`, epicID))
	if res.Text != fmt.Sprintf("Spec saved for %s.", epicID) {
		t.Errorf("set_spec text = %q", res.Text)
	}

	res = call(t, d, fmt.Sprintf(`{"action":"epic.show","id":%q}`, epicID))
	spec, _ := res.Details["spec"].(string)
	if !strings.Contains(spec, "Two phases.") {
		t.Errorf("spec detail = %#v", res.Details["spec"])
	}

	res = call(t, d, `{"action":"epic.set_spec","id":"c-9-zzz","content":"x"}`)
	if res.Err() != KindNotFound {
		t.Errorf("set_spec unknown kind = %q", res.Err())
	}
}

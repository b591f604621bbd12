package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/untoldecay/pi-messenger/internal/paths"
)

// deadPID is far above any default pid_max.
const deadPID = 999999999

func setupBase(t *testing.T) {
	t.Helper()
	t.Setenv(paths.EnvDir, t.TempDir())
	InvalidateCache()
}

func liveRecord(name, sessionID string) *Record {
	return &Record{
		Name:      name,
		PID:       os.Getpid(),
		SessionID: sessionID,
		Cwd:       "/work/project",
		StartedAt: time.Now().UTC(),
	}
}

func TestRegisterReadBack(t *testing.T) {
	setupBase(t)

	rec := liveRecord("", "sess-1")
	if err := Register(rec, []string{"brave-otter"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if rec.Name != "brave-otter" {
		t.Errorf("expected name brave-otter, got %q", rec.Name)
	}

	stored, found, err := Load("brave-otter")
	if err != nil || !found {
		t.Fatalf("Load after register: found=%v err=%v", found, err)
	}
	if stored.SessionID != "sess-1" {
		t.Errorf("stored sessionId = %q", stored.SessionID)
	}

	if _, err := os.Stat(paths.InboxDir("brave-otter")); err != nil {
		t.Errorf("inbox dir not created: %v", err)
	}
}

func TestRegisterSkipsLiveHolder(t *testing.T) {
	setupBase(t)

	if err := Save(liveRecord("brave-otter", "other-session")); err != nil {
		t.Fatal(err)
	}

	rec := liveRecord("", "sess-2")
	if err := Register(rec, []string{"brave-otter", "calm-heron"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if rec.Name != "calm-heron" {
		t.Errorf("expected fallback to calm-heron, got %q", rec.Name)
	}

	holder, _, _ := Load("brave-otter")
	if holder == nil || holder.SessionID != "other-session" {
		t.Errorf("live holder record was disturbed: %+v", holder)
	}
}

func TestRegisterTakesOverDeadHolder(t *testing.T) {
	setupBase(t)

	stale := liveRecord("brave-otter", "gone")
	stale.PID = deadPID
	if err := Save(stale); err != nil {
		t.Fatal(err)
	}

	rec := liveRecord("", "sess-3")
	if err := Register(rec, []string{"brave-otter"}); err != nil {
		t.Fatalf("Register over dead holder: %v", err)
	}
	if rec.Name != "brave-otter" {
		t.Errorf("expected takeover of brave-otter, got %q", rec.Name)
	}
}

func TestRegisterNameTaken(t *testing.T) {
	setupBase(t)

	if err := Save(liveRecord("a-1", "other")); err != nil {
		t.Fatal(err)
	}
	if err := Save(liveRecord("b-2", "other")); err != nil {
		t.Fatal(err)
	}

	rec := liveRecord("", "sess-4")
	err := Register(rec, []string{"a-1", "b-2"})
	if !errors.Is(err, ErrNameTaken) {
		t.Fatalf("expected ErrNameTaken, got %v", err)
	}
}

func TestUnregisterRemovesRecordAndInbox(t *testing.T) {
	setupBase(t)

	rec := liveRecord("", "sess-5")
	if err := Register(rec, []string{"brave-otter"}); err != nil {
		t.Fatal(err)
	}
	msg := filepath.Join(paths.InboxDir("brave-otter"), "2026-01-01T00:00:00Z-abc.json")
	if err := os.WriteFile(msg, []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := Unregister("brave-otter"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if _, found, _ := Load("brave-otter"); found {
		t.Error("record still present after unregister")
	}
	if _, err := os.Stat(paths.InboxDir("brave-otter")); !os.IsNotExist(err) {
		t.Error("inbox dir still present after unregister")
	}
}

func TestRenameMovesInbox(t *testing.T) {
	setupBase(t)

	rec := liveRecord("", "sess-6")
	if err := Register(rec, []string{"brave-otter"}); err != nil {
		t.Fatal(err)
	}
	msg := filepath.Join(paths.InboxDir("brave-otter"), "2026-01-01T00:00:00Z-abc.json")
	if err := os.WriteFile(msg, []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}

	renamed, err := Rename(context.Background(), "brave-otter", "calm-heron")
	if err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if renamed.Name != "calm-heron" || renamed.SessionID != "sess-6" {
		t.Errorf("renamed record = %+v", renamed)
	}

	if _, found, _ := Load("brave-otter"); found {
		t.Error("old record still present")
	}
	moved := filepath.Join(paths.InboxDir("calm-heron"), "2026-01-01T00:00:00Z-abc.json")
	if _, err := os.Stat(moved); err != nil {
		t.Errorf("pending message did not move: %v", err)
	}
	if _, err := os.Stat(paths.SwarmLockFile()); !os.IsNotExist(err) {
		t.Error("swarm lock not released after rename")
	}
}

func TestRenameRejectsLiveTarget(t *testing.T) {
	setupBase(t)

	if err := Save(liveRecord("brave-otter", "sess-a")); err != nil {
		t.Fatal(err)
	}
	if err := Save(liveRecord("calm-heron", "sess-b")); err != nil {
		t.Fatal(err)
	}

	_, err := Rename(context.Background(), "brave-otter", "calm-heron")
	if !errors.Is(err, ErrNameExists) {
		t.Fatalf("expected ErrNameExists, got %v", err)
	}
}

func TestActiveAgentsPrunesDead(t *testing.T) {
	setupBase(t)

	if err := Save(liveRecord("alive-1", "s1")); err != nil {
		t.Fatal(err)
	}
	dead := liveRecord("dead-1", "s2")
	dead.PID = deadPID
	if err := Save(dead); err != nil {
		t.Fatal(err)
	}

	agents, err := ActiveAgents()
	if err != nil {
		t.Fatalf("ActiveAgents: %v", err)
	}
	if len(agents) != 1 || agents[0].Name != "alive-1" {
		t.Fatalf("expected only alive-1, got %+v", agents)
	}
	if _, err := os.Stat(paths.RegistryFile("dead-1")); !os.IsNotExist(err) {
		t.Error("dead record not pruned")
	}
}

func TestActiveAgentsCacheTTL(t *testing.T) {
	setupBase(t)

	if err := Save(liveRecord("alive-1", "s1")); err != nil {
		t.Fatal(err)
	}
	first, err := ActiveAgents()
	if err != nil || len(first) != 1 {
		t.Fatalf("first read: %v %v", first, err)
	}

	// A direct Save does not invalidate; the cached view persists.
	if err := Save(liveRecord("alive-2", "s2")); err != nil {
		t.Fatal(err)
	}
	cached, _ := ActiveAgents()
	if len(cached) != 1 {
		t.Fatalf("expected cached result of 1 agent, got %d", len(cached))
	}

	InvalidateCache()
	fresh, _ := ActiveAgents()
	if len(fresh) != 2 {
		t.Fatalf("expected 2 agents after invalidate, got %d", len(fresh))
	}
}

func TestMatchesPath(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"src/api/", "src/api/handlers.go", true},
		{"src/api/", "src/api/", true},
		{"src/api/", "src/apiv2/file.go", false},
		{"src/api/", "src/api", false},
		{"go.mod", "go.mod", true},
		{"go.mod", "go.mod.bak", false},
		{"src/*.go", "src/main.go", false},
	}
	for _, tt := range tests {
		if got := MatchesPath(tt.pattern, tt.path); got != tt.want {
			t.Errorf("MatchesPath(%q, %q) = %v, want %v", tt.pattern, tt.path, got, tt.want)
		}
	}
}

func TestConflictsWithOtherAgents(t *testing.T) {
	setupBase(t)

	holder := liveRecord("brave-otter", "s1")
	holder.Reservations = []Reservation{
		{Pattern: "src/api/", Reason: "refactor", Since: time.Now()},
		{Pattern: "src/api/handlers.go", Since: time.Now()},
	}
	if err := Save(holder); err != nil {
		t.Fatal(err)
	}
	if err := Save(liveRecord("calm-heron", "s2")); err != nil {
		t.Fatal(err)
	}

	conflicts, err := ConflictsWithOtherAgents("src/api/handlers.go", "calm-heron")
	if err != nil {
		t.Fatalf("ConflictsWithOtherAgents: %v", err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("expected one conflict per agent, got %d", len(conflicts))
	}
	if conflicts[0].Agent != "brave-otter" || conflicts[0].Reason != "refactor" {
		t.Errorf("conflict = %+v", conflicts[0])
	}

	own, err := ConflictsWithOtherAgents("src/api/handlers.go", "brave-otter")
	if err != nil {
		t.Fatal(err)
	}
	if len(own) != 0 {
		t.Errorf("own reservations must not conflict, got %+v", own)
	}
}

func TestReserveRelease(t *testing.T) {
	setupBase(t)

	rec := liveRecord("", "s1")
	if err := Register(rec, []string{"brave-otter"}); err != nil {
		t.Fatal(err)
	}

	updated, err := Reserve("brave-otter", []string{"src/api/", "go.mod"}, "migration")
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if len(updated.Reservations) != 2 {
		t.Fatalf("expected 2 reservations, got %d", len(updated.Reservations))
	}

	updated, err = Reserve("brave-otter", []string{"go.mod"}, "still migrating")
	if err != nil {
		t.Fatal(err)
	}
	if len(updated.Reservations) != 2 {
		t.Fatalf("re-reserve must not duplicate, got %d", len(updated.Reservations))
	}
	if updated.Reservations[1].Reason != "still migrating" {
		t.Errorf("re-reserve did not refresh reason: %+v", updated.Reservations[1])
	}

	updated, released, err := Release("brave-otter", []string{"src/api/"}, false)
	if err != nil || released != 1 {
		t.Fatalf("Release: released=%d err=%v", released, err)
	}
	if len(updated.Reservations) != 1 {
		t.Fatalf("expected 1 reservation left, got %d", len(updated.Reservations))
	}

	_, released, err = Release("brave-otter", nil, true)
	if err != nil || released != 1 {
		t.Fatalf("Release all: released=%d err=%v", released, err)
	}
}

func TestStatusTier(t *testing.T) {
	now := time.Now()
	rec := func(age time.Duration, reserved bool) *Record {
		r := &Record{Activity: Activity{LastActivityAt: now.Add(-age)}}
		if reserved {
			r.Reservations = []Reservation{{Pattern: "src/"}}
		}
		return r
	}

	tests := []struct {
		name      string
		rec       *Record
		holdsTask bool
		want      Tier
	}{
		{"fresh", rec(5*time.Second, false), false, TierActive},
		{"two minutes", rec(2*time.Minute, false), false, TierIdle},
		{"long gone no holdings", rec(10*time.Minute, false), false, TierAway},
		{"long gone holding reservation", rec(10*time.Minute, true), false, TierIdle},
		{"stuck on task", rec(20*time.Minute, false), true, TierStuck},
		{"stuck on reservation", rec(16*time.Minute, true), false, TierStuck},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StatusTier(tt.rec, tt.holdsTask, 15*time.Minute, now)
			if got != tt.want {
				t.Errorf("StatusTier = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVersionMismatch(t *testing.T) {
	tests := []struct {
		mine, theirs string
		want         bool
	}{
		{"1.2.0", "1.9.3", false},
		{"1.2.0", "2.0.0", true},
		{"v1.2.0", "v1.3.0", false},
		{"", "2.0.0", false},
		{"dev", "2.0.0", false},
	}
	for _, tt := range tests {
		if got := VersionMismatch(tt.mine, tt.theirs); got != tt.want {
			t.Errorf("VersionMismatch(%q, %q) = %v, want %v", tt.mine, tt.theirs, got, tt.want)
		}
	}
}

package crew

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/untoldecay/pi-messenger/internal/fsutil"
)

func TestInstallAgentsWritesDefaults(t *testing.T) {
	s := setupStore(t)

	written, err := s.InstallAgents()
	if err != nil {
		t.Fatalf("InstallAgents: %v", err)
	}
	if len(written) != 4 {
		t.Fatalf("written = %v, want the four built-in roles", written)
	}
	for _, role := range []string{RoleScout, RoleAnalyst, RoleWorker, RoleReviewer} {
		if _, err := os.Stat(agentFile(s.dir, role)); err != nil {
			t.Errorf("role file %s missing: %v", role, err)
		}
	}

	again, err := s.InstallAgents()
	if err != nil {
		t.Fatalf("second InstallAgents: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second install wrote %v, want nothing (files exist)", again)
	}
}

func TestLoadAgentFallsBackToDefault(t *testing.T) {
	s := setupStore(t)

	def, err := s.LoadAgent(RoleWorker)
	if err != nil {
		t.Fatalf("LoadAgent: %v", err)
	}
	if def.Name != RoleWorker || def.SystemPrompt == "" {
		t.Errorf("default worker = %+v", def)
	}
}

func TestLoadAgentPrefersInstalledFile(t *testing.T) {
	s := setupStore(t)
	custom := `name = "scout"
description = "House scout"
model = "fast-1"
system_prompt = "Scout it our way."
`
	if err := fsutil.WriteText(agentFile(s.dir, RoleScout), custom); err != nil {
		t.Fatal(err)
	}

	def, err := s.LoadAgent(RoleScout)
	if err != nil {
		t.Fatalf("LoadAgent: %v", err)
	}
	if def.Model != "fast-1" || def.SystemPrompt != "Scout it our way." {
		t.Errorf("customized scout = %+v", def)
	}
}

func TestLoadAgentUnknownRole(t *testing.T) {
	s := setupStore(t)
	if _, err := s.LoadAgent("navigator"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not-found for unknown role, got %v", err)
	}
}

func TestListAgentsMergesInstalledAndDefaults(t *testing.T) {
	s := setupStore(t)
	custom := "name = \"navigator\"\nsystem_prompt = \"Chart the course.\"\n"
	if err := fsutil.WriteText(agentFile(s.dir, "navigator"), custom); err != nil {
		t.Fatal(err)
	}

	defs, err := s.ListAgents()
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	var names []string
	for _, d := range defs {
		names = append(names, d.Name)
	}
	want := []string{RoleAnalyst, "navigator", RoleReviewer, RoleScout, RoleWorker}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("names = %v, want %v", names, want)
	}
}

func TestUninstallAgentsLeavesCustomRoles(t *testing.T) {
	s := setupStore(t)
	if _, err := s.InstallAgents(); err != nil {
		t.Fatal(err)
	}
	custom := "name = \"navigator\"\nsystem_prompt = \"Chart the course.\"\n"
	if err := fsutil.WriteText(agentFile(s.dir, "navigator"), custom); err != nil {
		t.Fatal(err)
	}

	removed, err := s.UninstallAgents()
	if err != nil {
		t.Fatalf("UninstallAgents: %v", err)
	}
	if len(removed) != 4 {
		t.Errorf("removed = %v, want the four built-ins", removed)
	}
	if _, err := os.Stat(agentFile(s.dir, "navigator")); err != nil {
		t.Errorf("custom role should survive uninstall: %v", err)
	}
	if _, err := os.Stat(agentFile(s.dir, RoleScout)); !os.IsNotExist(err) {
		t.Errorf("scout file should be gone, stat err = %v", err)
	}
}

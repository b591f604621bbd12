package names

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "swift-otter", false},
		{"underscore lead", "_scout", false},
		{"digit lead", "7of9", false},
		{"single char", "a", false},
		{"max length", strings.Repeat("x", 50), false},
		{"empty", "", true},
		{"too long", strings.Repeat("x", 51), true},
		{"hyphen lead", "-agent", true},
		{"space", "two words", true},
		{"slash", "a/b", true},
		{"dot", "a.b", true},
		{"unicode", "agenté", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidName) {
				t.Errorf("error %v should wrap ErrInvalidName", err)
			}
		})
	}
}

func TestCandidatesAreValidAndDistinct(t *testing.T) {
	g := NewGenerator(Theme{})

	seen := make(map[string]bool)
	for attempt := 0; attempt < 20; attempt++ {
		name := g.Candidate(attempt)
		if err := Validate(name); err != nil {
			t.Fatalf("generated name %q failed validation: %v", name, err)
		}
		if seen[name] {
			t.Fatalf("attempt %d repeated candidate %q", attempt, name)
		}
		seen[name] = true
	}
}

func TestCandidateDeterministicPerGenerator(t *testing.T) {
	g := NewGenerator(Theme{})
	for attempt := 0; attempt < 5; attempt++ {
		if g.Candidate(attempt) != g.Candidate(attempt) {
			t.Fatal("same generator and attempt must yield the same candidate")
		}
	}
}

func TestResolveOverrideWins(t *testing.T) {
	override := Theme{Adjectives: []string{"test"}, Nouns: []string{"name"}}
	got := Resolve(t.TempDir(), "anything", override)
	if len(got.Adjectives) != 1 || got.Adjectives[0] != "test" {
		t.Errorf("override not applied: %+v", got)
	}
}

func TestResolveThemeFile(t *testing.T) {
	dir := t.TempDir()
	theme := "adjectives: [tidal, briny]\nnouns: [kelp, current]\n"
	if err := os.WriteFile(filepath.Join(dir, "ocean.yaml"), []byte(theme), 0644); err != nil {
		t.Fatal(err)
	}

	got := Resolve(dir, "ocean", Theme{})
	if len(got.Adjectives) != 2 || got.Adjectives[0] != "tidal" {
		t.Errorf("theme file not loaded: %+v", got)
	}

	// Unknown theme and partial overrides fall back to the default lists.
	fallback := Resolve(dir, "missing", Theme{Adjectives: []string{"only"}})
	if len(fallback.Nouns) == 0 || fallback.Nouns[0] != defaultTheme.Nouns[0] {
		t.Errorf("expected builtin fallback, got %+v", fallback)
	}
}

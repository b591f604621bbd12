// Package names generates and validates agent names.
//
// Generated names are adjective-noun pairs from a theme. Collisions are
// resolved deterministically: every retry attempt maps to a distinct
// candidate, so two racing agents that start from different seeds cannot
// chase each other through the same sequence.
package names

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidName is returned for names outside the allowed shape.
var ErrInvalidName = errors.New("invalid agent name")

// MaxNameLen bounds agent names; the name doubles as a file name.
const MaxNameLen = 50

// Validate checks the agent-name shape: letters, digits, underscore,
// hyphen; the leading character must be a letter, digit, or underscore;
// length 1 through MaxNameLen.
func Validate(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if len(name) > MaxNameLen {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidName, MaxNameLen)
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		case r == '-':
			if i == 0 {
				return fmt.Errorf("%w: cannot start with %q", ErrInvalidName, r)
			}
		default:
			return fmt.Errorf("%w: character %q not allowed", ErrInvalidName, r)
		}
	}
	return nil
}

// Theme is a pair of word lists names are drawn from.
type Theme struct {
	Adjectives []string `yaml:"adjectives"`
	Nouns      []string `yaml:"nouns"`
}

func (t Theme) usable() bool {
	return len(t.Adjectives) > 0 && len(t.Nouns) > 0
}

var defaultTheme = Theme{
	Adjectives: []string{
		"amber", "bold", "brisk", "calm", "clever", "copper", "crimson",
		"deft", "eager", "fleet", "gentle", "golden", "keen", "lively",
		"lucid", "mellow", "nimble", "quiet", "rapid", "sage", "silver",
		"steady", "swift", "vivid", "wry",
	},
	Nouns: []string{
		"badger", "beacon", "comet", "condor", "coral", "cougar", "crane",
		"delta", "ember", "falcon", "fjord", "glacier", "harbor", "heron",
		"lynx", "maple", "meadow", "orca", "otter", "peak", "raven",
		"reef", "sparrow", "summit", "wren",
	},
}

// Resolve picks the active theme: an explicit word override wins, then a
// theme file in themesDir, then the built-in default. A partial override
// (one empty list) falls through, matching the option's all-or-nothing
// documentation.
func Resolve(themesDir, themeName string, override Theme) Theme {
	if override.usable() {
		return override
	}
	if themeName != "" && themeName != "default" {
		if t, err := loadThemeFile(filepath.Join(themesDir, themeName+".yaml")); err == nil && t.usable() {
			return t
		}
	}
	return defaultTheme
}

func loadThemeFile(path string) (Theme, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Theme{}, err
	}
	var t Theme
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Theme{}, fmt.Errorf("parse theme %s: %w", filepath.Base(path), err)
	}
	return t, nil
}

// Generator yields name candidates for registration attempts.
type Generator struct {
	theme Theme
	adj0  int
	noun0 int
}

// NewGenerator seeds a generator over the theme. Each process lands on a
// different starting pair; the attempt sequence from there is fixed.
func NewGenerator(theme Theme) *Generator {
	if !theme.usable() {
		theme = defaultTheme
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(os.Getpid())<<16))
	return &Generator{
		theme: theme,
		adj0:  rng.Intn(len(theme.Adjectives)),
		noun0: rng.Intn(len(theme.Nouns)),
	}
}

// Candidate returns the name for the given retry attempt. Attempt 0 is the
// seeded pair; later attempts walk both lists with co-prime strides so the
// sequence visits distinct pairs, then falls back to a numeric suffix once
// the combination space is exhausted.
func (g *Generator) Candidate(attempt int) string {
	nAdj := len(g.theme.Adjectives)
	nNoun := len(g.theme.Nouns)
	adj := g.theme.Adjectives[(g.adj0+attempt)%nAdj]
	noun := g.theme.Nouns[(g.noun0+attempt*3)%nNoun]
	name := adj + "-" + noun
	if attempt >= nAdj*nNoun {
		name = fmt.Sprintf("%s-%d", name, attempt)
	}
	return name
}

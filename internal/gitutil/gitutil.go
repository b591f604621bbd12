// Package gitutil shells out to git for best-effort repository context.
// Every lookup returns the empty string outside a git repo or when git
// is unavailable; callers treat the values as optional decoration.
package gitutil

import (
	"os/exec"
	"strings"
)

// Branch returns the current branch name for dir, or "" when it cannot
// be determined. A detached HEAD reports "HEAD" and is mapped to "".
func Branch(dir string) string {
	out := run(dir, "rev-parse", "--abbrev-ref", "HEAD")
	if out == "HEAD" {
		return ""
	}
	return out
}

// Head returns the full commit hash of HEAD for dir, or "".
func Head(dir string) string {
	return run(dir, "rev-parse", "HEAD")
}

func run(dir string, args ...string) string {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

package registry

import (
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

// Tier classifies an agent for status displays.
type Tier string

const (
	TierActive Tier = "active"
	TierIdle   Tier = "idle"
	TierAway   Tier = "away"
	TierStuck  Tier = "stuck"
)

const (
	activeWindow = 30 * time.Second
	idleWindow   = 5 * time.Minute
)

// StatusTier derives the display tier from the record's last activity.
// holdsTask reports whether the agent owns a swarm claim or an
// in-progress crew task; holding work (or a reservation) past
// stuckThreshold flags the agent as stuck instead of away.
func StatusTier(rec *Record, holdsTask bool, stuckThreshold time.Duration, now time.Time) Tier {
	last := rec.Activity.LastActivityAt
	if last.IsZero() {
		last = rec.StartedAt
	}
	age := now.Sub(last)
	holding := holdsTask || len(rec.Reservations) > 0

	if holding && stuckThreshold > 0 && age >= stuckThreshold {
		return TierStuck
	}
	if age < activeWindow {
		return TierActive
	}
	if age < idleWindow {
		return TierIdle
	}
	if !holding {
		return TierAway
	}
	return TierIdle
}

// VersionMismatch reports whether two pimsg versions differ at the major
// level. Unknown or unparseable versions never warn.
func VersionMismatch(mine, theirs string) bool {
	if mine == "" || theirs == "" {
		return false
	}
	a := "v" + strings.TrimPrefix(mine, "v")
	b := "v" + strings.TrimPrefix(theirs, "v")
	if !semver.IsValid(a) || !semver.IsValid(b) {
		return false
	}
	return semver.Major(a) != semver.Major(b)
}

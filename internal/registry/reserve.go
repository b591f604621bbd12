package registry

import (
	"strings"
	"time"
)

// Conflict names a live agent whose reservation covers a path.
type Conflict struct {
	Agent        string
	Pattern      string
	Reason       string
	Registration Record
}

// MatchesPath reports whether a reservation pattern covers path. A
// pattern ending in "/" covers the directory and everything under it;
// any other pattern matches by exact string equality. Patterns are
// literal, no globs.
func MatchesPath(pattern, path string) bool {
	if strings.HasSuffix(pattern, "/") {
		return path == pattern || strings.HasPrefix(path, pattern)
	}
	return path == pattern
}

// ConflictsWithOtherAgents returns one conflict per other live agent
// holding a reservation that matches path. A non-empty result is a hard
// block for write-like operations.
func ConflictsWithOtherAgents(path, self string) ([]Conflict, error) {
	agents, err := ActiveAgents()
	if err != nil {
		return nil, err
	}

	var conflicts []Conflict
	for _, agent := range agents {
		if agent.Name == self {
			continue
		}
		for _, res := range agent.Reservations {
			if MatchesPath(res.Pattern, path) {
				conflicts = append(conflicts, Conflict{
					Agent:        agent.Name,
					Pattern:      res.Pattern,
					Reason:       res.Reason,
					Registration: agent,
				})
				break
			}
		}
	}
	return conflicts, nil
}

// Reserve attaches reservations to the agent's record. Re-reserving an
// existing pattern refreshes its reason and timestamp.
func Reserve(name string, patterns []string, reason string) (*Record, error) {
	rec, found, err := Load(name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotRegistered
	}

	now := time.Now().UTC()
	for _, pattern := range patterns {
		replaced := false
		for i := range rec.Reservations {
			if rec.Reservations[i].Pattern == pattern {
				rec.Reservations[i].Reason = reason
				rec.Reservations[i].Since = now
				replaced = true
				break
			}
		}
		if !replaced {
			rec.Reservations = append(rec.Reservations, Reservation{
				Pattern: pattern,
				Reason:  reason,
				Since:   now,
			})
		}
	}

	if err := Save(rec); err != nil {
		return nil, err
	}
	InvalidateCache()
	return rec, nil
}

// Release removes reservations matching the given patterns, or all of
// them. Returns the updated record and how many were released.
func Release(name string, patterns []string, all bool) (*Record, int, error) {
	rec, found, err := Load(name)
	if err != nil {
		return nil, 0, err
	}
	if !found {
		return nil, 0, ErrNotRegistered
	}

	before := len(rec.Reservations)
	if all {
		rec.Reservations = nil
	} else {
		keep := rec.Reservations[:0]
		for _, res := range rec.Reservations {
			drop := false
			for _, pattern := range patterns {
				if res.Pattern == pattern {
					drop = true
					break
				}
			}
			if !drop {
				keep = append(keep, res)
			}
		}
		rec.Reservations = keep
	}
	released := before - len(rec.Reservations)

	if released > 0 {
		if err := Save(rec); err != nil {
			return nil, 0, err
		}
		InvalidateCache()
	}
	return rec, released, nil
}

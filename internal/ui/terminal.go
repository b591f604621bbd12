// Package ui provides terminal styling and output helpers for the pimsg CLI.
package ui

import (
	"os"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// IsTerminal returns true if stdout is connected to a terminal (TTY).
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Profile reports the color capability of the attached terminal,
// derived from the environment (TERM, COLORTERM).
func Profile() termenv.Profile {
	return termenv.EnvColorProfile()
}

// ShouldUseColor determines if ANSI color codes should be used.
// Respects standard conventions:
//   - NO_COLOR: https://no-color.org/ - disables color if set
//   - CLICOLOR=0: disables color
//   - CLICOLOR_FORCE: forces color even in non-TTY
//   - Falls back to TTY detection plus terminal capability
func ShouldUseColor() bool {
	// NO_COLOR standard - any value disables color
	if os.Getenv("NO_COLOR") != "" {
		return false
	}

	// CLICOLOR=0 disables color
	if os.Getenv("CLICOLOR") == "0" {
		return false
	}

	// CLICOLOR_FORCE forces color even in non-TTY
	if os.Getenv("CLICOLOR_FORCE") != "" {
		return true
	}

	// A terminal that advertises no color support gets none even in TTY
	// mode (dumb terminals, pipes pretending to be TTYs).
	if Profile() == termenv.Ascii {
		return false
	}

	return IsTerminal()
}

// ShouldUseEmoji determines if glyph decorations should be used.
// Disabled in non-TTY mode to keep output machine-readable.
// Can be controlled with the PIMSG_NO_EMOJI environment variable.
func ShouldUseEmoji() bool {
	if os.Getenv("PIMSG_NO_EMOJI") != "" {
		return false
	}

	return IsTerminal()
}

// Width returns the width of the terminal or a default value.
func Width() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

// Package debug provides env-gated diagnostics for one-shot commands.
// Set PI_DEBUG=1 to see them. Long-running sessions use the structured
// log in cmd instead.
package debug

import (
	"fmt"
	"os"
	"sync"
)

var (
	once    sync.Once
	enabled bool
)

// Enabled reports whether debug output is on.
func Enabled() bool {
	once.Do(func() {
		v := os.Getenv("PI_DEBUG")
		enabled = v == "1" || v == "true"
	})
	return enabled
}

// Logf writes a formatted line to stderr when debugging is enabled.
func Logf(format string, args ...any) {
	if !Enabled() {
		return
	}
	fmt.Fprintf(os.Stderr, "[pimsg] "+format+"\n", args...)
}

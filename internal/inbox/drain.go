package inbox

import (
	"sync"

	"github.com/untoldecay/pi-messenger/internal/debug"
)

// Drainer serializes inbox drains. A request arriving while a drain is
// running coalesces into one follow-up pass, so watcher callbacks and
// timers may fire it freely without overlapping directory walks.
type Drainer struct {
	mu      sync.Mutex
	busy    bool
	pending bool

	name    string
	deliver func(Message)
}

// NewDrainer creates a drainer for the named agent's inbox.
func NewDrainer(name string, deliver func(Message)) *Drainer {
	return &Drainer{name: name, deliver: deliver}
}

// Request drains the inbox now, or marks a follow-up drain if one is
// already in flight.
func (d *Drainer) Request() {
	d.mu.Lock()
	if d.busy {
		d.pending = true
		d.mu.Unlock()
		return
	}
	d.busy = true
	d.mu.Unlock()

	for {
		if _, err := Drain(d.name, d.deliver); err != nil {
			debug.Logf("inbox drain for %s: %v", d.name, err)
		}

		d.mu.Lock()
		if d.pending {
			d.pending = false
			d.mu.Unlock()
			continue
		}
		d.busy = false
		d.mu.Unlock()
		return
	}
}

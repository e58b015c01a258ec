package viewport

import (
	"sync"
	"time"
)

// DefaultRepeatInterval is how often a held zoom or pan button repeats.
const DefaultRepeatInterval = 50 * time.Millisecond

// Repeater runs an action repeatedly while a control is held. Press runs the
// action once immediately and then on every tick until Release. Pressing again
// replaces the running action.
type Repeater struct {
	interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewRepeater(interval time.Duration) *Repeater {
	if interval <= 0 {
		interval = DefaultRepeatInterval
	}
	return &Repeater{interval: interval}
}

func (r *Repeater) Press(fn func()) {
	r.Release()
	fn()

	stop := make(chan struct{})
	done := make(chan struct{})
	r.mu.Lock()
	r.stop, r.done = stop, done
	r.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				select {
				case <-stop:
					return
				default:
				}
				fn()
			}
		}
	}()
}

// Release stops the repeat and waits until no further call can run. It is
// safe to call when nothing is held.
func (r *Repeater) Release() {
	r.mu.Lock()
	stop, done := r.stop, r.done
	r.stop, r.done = nil, nil
	r.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (r *Repeater) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stop != nil
}

package sequence

import (
	"sync"
	"time"
)

// schedule is a fixed-period timer. Each fire re-arms the next one, relative to the
// previous deadline, before the callback runs. Disarming bumps the generation so that a
// fire racing with disarm is ignored.
type schedule struct {
	mu       sync.Mutex
	timer    *time.Timer
	gen      uint64
	next     time.Time
	interval time.Duration
}

func (sc *schedule) arm(interval time.Duration, fn func()) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.disarmLocked()

	gen := sc.gen
	sc.interval = interval
	sc.next = time.Now().Add(interval)
	sc.timer = time.AfterFunc(interval, func() { sc.fire(gen, fn) })
}

func (sc *schedule) disarm() {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.disarmLocked()
}

func (sc *schedule) disarmLocked() {
	if sc.timer != nil {
		sc.timer.Stop()
		sc.timer = nil
	}
	sc.gen++
}

// armed reports whether the schedule has a pending fire.
func (sc *schedule) armed() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	return sc.timer != nil
}

func (sc *schedule) fire(gen uint64, fn func()) {
	sc.mu.Lock()
	if gen != sc.gen || sc.timer == nil {
		sc.mu.Unlock()
		return
	}
	sc.next = sc.next.Add(sc.interval)
	sc.timer.Reset(time.Until(sc.next))
	sc.mu.Unlock()

	fn()
}

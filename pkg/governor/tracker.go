package governor

import (
	"sync"
	"time"

	"github.com/harvestly/warden/pkg/model"
)

// counter is one rolling usage window. The window anchors to the first
// recorded use and rolls lazily on access, so no per-counter timer exists.
type counter struct {
	mu          sync.Mutex
	resource    string
	window      model.TimeWindow
	duration    time.Duration
	total       float64
	windowStart time.Time
}

// add rolls the window if expired, then adds amount and returns the new
// total and the window start.
func (c *counter) add(amount float64, now time.Time) (float64, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollLocked(now)
	c.total += amount
	return c.total, c.windowStart
}

// current rolls the window if expired and returns the total.
func (c *counter) current(now time.Time) (float64, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollLocked(now)
	return c.total, c.windowStart
}

// reset zeroes the counter and re-anchors the window.
func (c *counter) reset(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total = 0
	c.windowStart = now
}

func (c *counter) rollLocked(now time.Time) {
	if c.windowStart.IsZero() {
		c.windowStart = now
		return
	}
	if now.Sub(c.windowStart) >= c.duration {
		c.total = 0
		c.windowStart = now
	}
}

// Tracker maintains one rolling counter per (resource, window) pair.
// Counters for different pairs update fully in parallel; updates within a
// pair are serialized by the counter's own mutex.
type Tracker struct {
	mu       sync.RWMutex
	counters map[string]*counter
	now      func() time.Time
}

// NewTracker creates an empty usage tracker.
func NewTracker() *Tracker {
	return &Tracker{
		counters: make(map[string]*counter),
		now:      time.Now,
	}
}

func counterKey(resource string, window model.TimeWindow) string {
	return resource + "/" + string(window)
}

func (t *Tracker) counterFor(resource string, window model.TimeWindow) (*counter, error) {
	key := counterKey(resource, window)

	t.mu.RLock()
	c, ok := t.counters[key]
	t.mu.RUnlock()
	if ok {
		return c, nil
	}

	duration, err := window.Duration()
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.counters[key]; ok {
		return c, nil
	}
	c = &counter{resource: resource, window: window, duration: duration}
	t.counters[key] = c
	return c, nil
}

// Record adds amount to the pair's counter, creating it on first use, and
// returns the window's new total.
func (t *Tracker) Record(resource string, window model.TimeWindow, amount float64) (float64, error) {
	c, err := t.counterFor(resource, window)
	if err != nil {
		return 0, err
	}
	total, _ := c.add(amount, t.now().UTC())
	return total, nil
}

// Current returns the pair's running total for the active window. A pair
// never recorded reads as zero.
func (t *Tracker) Current(resource string, window model.TimeWindow) float64 {
	key := counterKey(resource, window)
	t.mu.RLock()
	c, ok := t.counters[key]
	t.mu.RUnlock()
	if !ok {
		return 0
	}
	total, _ := c.current(t.now().UTC())
	return total
}

// Reset zeroes the pair's counter. This is an operator action, not part of
// normal rollover.
func (t *Tracker) Reset(resource string, window model.TimeWindow) {
	key := counterKey(resource, window)
	t.mu.RLock()
	c, ok := t.counters[key]
	t.mu.RUnlock()
	if ok {
		c.reset(t.now().UTC())
	}
}

// Snapshot returns read-only copies of every live counter.
func (t *Tracker) Snapshot() []model.UsageSnapshot {
	t.mu.RLock()
	counters := make([]*counter, 0, len(t.counters))
	for _, c := range t.counters {
		counters = append(counters, c)
	}
	t.mu.RUnlock()

	now := t.now().UTC()
	out := make([]model.UsageSnapshot, 0, len(counters))
	for _, c := range counters {
		total, start := c.current(now)
		out = append(out, model.UsageSnapshot{
			Resource:    c.resource,
			Window:      c.window,
			Current:     total,
			WindowStart: start,
		})
	}
	return out
}

package trigger

import (
	"time"
)

// window is the transient per-rule throttle state for the current
// ignore-timer span. It lives here, never on the persisted rule.
type window struct {
	first time.Time
	count int
	seen  map[string]struct{}
}

// Throttle decides whether a trigger event is forwarded or dropped, applying
// the per-rule quantity limit and attribute dedup. Single-goroutine use
// (the dispatcher), like the store it reads.
type Throttle struct {
	store   *Store
	windows map[uint16]*window
	now     func() time.Time
}

func NewThrottle(store *Store) *Throttle {
	return &Throttle{
		store:   store,
		windows: make(map[uint16]*window),
		now:     time.Now,
	}
}

// Allow reports whether the event for rule id with the given attribute string
// passes. Rules:
//   - unknown or inactive rule: drop
//   - quantity 0: always forward, no window accounting
//   - window expired: start a new window counting this event, forward
//   - window full (count reached quantity): drop
//   - non-empty attribute already seen this window: drop as duplicate
//   - empty attribute: forward and count without any dedup check
func (t *Throttle) Allow(id uint16, attr string) bool {
	rule := t.store.ByID(id)
	if rule == nil {
		delete(t.windows, id)
		return false
	}
	if !rule.Active {
		return false
	}
	if rule.Quantity == 0 {
		return true
	}

	now := t.now()
	win := t.windows[id]
	if win == nil || now.Sub(win.first) > time.Duration(rule.IgnoreTimer)*time.Second {
		win = &window{first: now, count: 1, seen: make(map[string]struct{})}
		if attr != "" {
			win.seen[attr] = struct{}{}
		}
		t.windows[id] = win
		return true
	}
	if win.count >= int(rule.Quantity) {
		return false
	}
	if attr != "" {
		if _, dup := win.seen[attr]; dup {
			return false
		}
		win.seen[attr] = struct{}{}
	}
	win.count++
	return true
}

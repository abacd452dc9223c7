package wire

import "sync"

// CounterTracker records the last accepted counter per sender fingerprint,
// enforcing the strictly-increasing discipline independently of signature
// verification so callers can check both in one place.
type CounterTracker struct {
	mu       sync.Mutex
	lastSeen map[string]uint64
}

// NewCounterTracker returns an empty tracker; every sender's implicit
// starting counter is 0, so its first accepted frame must carry counter >= 1.
func NewCounterTracker() *CounterTracker {
	return &CounterTracker{lastSeen: make(map[string]uint64)}
}

// Last returns the last accepted counter for fingerprint, or 0 if none.
func (t *CounterTracker) Last(fingerprint string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSeen[fingerprint]
}

// Accept records counter as the new last-seen value for fingerprint iff it
// is strictly greater than the current one, returning whether it advanced.
func (t *CounterTracker) Accept(fingerprint string, counter uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if counter <= t.lastSeen[fingerprint] {
		return false
	}
	t.lastSeen[fingerprint] = counter
	return true
}

// Forget removes fingerprint's tracked counter, used when a client record is
// destroyed so a future reconnect under the same fingerprint starts clean
// only if the server also resets the record (the caller decides).
func (t *CounterTracker) Forget(fingerprint string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.lastSeen, fingerprint)
}

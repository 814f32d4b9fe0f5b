package agent

import (
	"sync"
	"time"
)

// ReserveTable is a short-lived local reservation of outpoints about to be
// spent. The ledger offers no compare-and-swap, so this is the only guard
// against selecting the same output for two near-simultaneous settlements.
type ReserveTable struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
}

func NewReserveTable(ttl time.Duration) *ReserveTable {
	return &ReserveTable{
		ttl:     ttl,
		entries: make(map[string]time.Time),
	}
}

// Reserve claims all outpoints or none. A claim on an unexpired entry fails.
func (r *ReserveTable) Reserve(outpoints []string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for key, deadline := range r.entries {
		if now.After(deadline) {
			delete(r.entries, key)
		}
	}
	for _, key := range outpoints {
		if _, held := r.entries[key]; held {
			return false
		}
	}
	for _, key := range outpoints {
		r.entries[key] = now.Add(r.ttl)
	}
	return true
}

// Held reports whether an unexpired claim exists for the outpoint.
func (r *ReserveTable) Held(outpoint string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	deadline, ok := r.entries[outpoint]
	return ok && time.Now().Before(deadline)
}

func (r *ReserveTable) Release(outpoints []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range outpoints {
		delete(r.entries, key)
	}
}

package monitor

import (
	"sync"
	"time"
)

const (
	ringCapacity = 10000
	ringTrimSize = 1000
)

// AccessEntry is one file access observation held in memory for fast
// queries. The database keeps the durable copy.
type AccessEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	PID        uint32    `json:"pid"`
	Path       string    `json:"path"`
	Operation  string    `json:"operation"`
	Allowed    bool      `json:"allowed"`
	DenyReason string    `json:"deny_reason,omitempty"`
}

// AccessRing is a bounded append-only log. When full it sheds the oldest
// block of entries in one step rather than one at a time.
type AccessRing struct {
	mu      sync.Mutex
	entries []AccessEntry
}

func NewAccessRing() *AccessRing {
	return &AccessRing{
		entries: make([]AccessEntry, 0, ringCapacity),
	}
}

func (r *AccessRing) Append(entry AccessEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) >= ringCapacity {
		r.entries = append(r.entries[:0], r.entries[ringTrimSize:]...)
	}
	r.entries = append(r.entries, entry)
}

// Snapshot returns a copy of the current entries, oldest first.
func (r *AccessRing) Snapshot() []AccessEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]AccessEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *AccessRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

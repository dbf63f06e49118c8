package process

import "sync"

// Registry is the single source of truth for live process metadata, a
// mutex-guarded map keyed by pid. Entries go in whole and come out whole:
// Add stores a copy and Get returns a copy, so no reader can observe a
// partially written entry regardless of concurrent updates.
type Registry struct {
	mu        sync.RWMutex
	processes map[uint32]*Info
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		processes: make(map[uint32]*Info),
	}
}

// Add inserts or replaces the entry for info.PID.
func (r *Registry) Add(info *Info) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processes[info.PID] = info.clone()
}

// AddIfAbsent inserts only when the pid is unknown and reports whether it
// did. Census passes use this so they never clobber an entry the event
// path already wrote.
func (r *Registry) AddIfAbsent(info *Info) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.processes[info.PID]; exists {
		return false
	}
	r.processes[info.PID] = info.clone()
	return true
}

// Get retrieves a copy of the entry for pid.
func (r *Registry) Get(pid uint32) (*Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, exists := r.processes[pid]
	if !exists {
		return nil, false
	}
	return info.clone(), true
}

// Has reports whether pid is present without copying the entry.
func (r *Registry) Has(pid uint32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.processes[pid]
	return exists
}

// Remove deletes the entry for pid.
func (r *Registry) Remove(pid uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.processes, pid)
}

// List returns copies of all entries.
func (r *Registry) List() []*Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Info, 0, len(r.processes))
	for _, info := range r.processes {
		out = append(out, info.clone())
	}
	return out
}

// Len returns the number of tracked processes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.processes)
}

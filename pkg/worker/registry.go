package worker

import (
	"sort"
	"sync"
)

// Registry is the canonical store of worker records plus the pending
// queue. A worker id lives in exactly one of the two maps at any instant;
// Promote performs the pending→running handover atomically.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*Worker
	pending map[string]*PendingSpec
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		workers: make(map[string]*Worker),
		pending: make(map[string]*PendingSpec),
	}
}

// Insert adds a worker record. Overwrites any existing record with the
// same id (restore uses this deliberately).
func (r *Registry) Insert(w *Worker) {
	w.Normalize()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[w.ID] = w
}

// Get returns a deep copy of the worker, or nil.
func (r *Registry) Get(id string) *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if w, ok := r.workers[id]; ok {
		return w.Clone()
	}
	return nil
}

// Has reports whether the id is in the registry (not pending).
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.workers[id]
	return ok
}

// Delete removes a worker record. Returns the removed worker or nil.
func (r *Registry) Delete(id string) *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return nil
	}
	delete(r.workers, id)
	return w
}

// Update applies fn to the live record under the write lock and returns a
// copy of the result. Returns nil if the id is absent. fn must not block.
func (r *Registry) Update(id string, fn func(*Worker)) *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return nil
	}
	fn(w)
	return w.Clone()
}

// All returns copies of every worker, ordered by creation time for a
// stable external view.
func (r *Registry) All() []*Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Worker, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ByProject returns copies of workers in the given project.
func (r *Registry) ByProject(project string) []*Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Worker
	for _, w := range r.workers {
		if w.Project == project {
			out = append(out, w.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ChildrenOf returns copies of the live children of a parent, in the order
// recorded on the parent.
func (r *Registry) ChildrenOf(parentID string) []*Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	parent, ok := r.workers[parentID]
	if !ok {
		return nil
	}
	out := make([]*Worker, 0, len(parent.ChildWorkerIDs))
	for _, childID := range parent.ChildWorkerIDs {
		if child, ok := r.workers[childID]; ok {
			out = append(out, child.Clone())
		}
	}
	return out
}

// RunningCount returns the number of running workers, enforcing the
// concurrency cap at spawn.
func (r *Registry) RunningCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, w := range r.workers {
		if w.Status == StatusRunning {
			n++
		}
	}
	return n
}

// Count returns the total number of registry entries.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

// StatusCounts returns per-status totals for diagnostics.
func (r *Registry) StatusCounts() map[Status]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[Status]int)
	for _, w := range r.workers {
		counts[w.Status]++
	}
	return counts
}

// Enqueue adds a pending spec.
func (r *Registry) Enqueue(spec *PendingSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[spec.ID] = spec
}

// Pending returns copies of all pending specs ordered by registration.
func (r *Registry) Pending() []*PendingSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*PendingSpec, 0, len(r.pending))
	for _, p := range r.pending {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegisteredAt.Before(out[j].RegisteredAt) })
	return out
}

// GetPending returns a copy of a pending spec, or nil.
func (r *Registry) GetPending(id string) *PendingSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.pending[id]; ok {
		cp := *p
		return &cp
	}
	return nil
}

// Promote atomically removes a pending spec and returns it for the spawn
// path. Returns nil if the id is not pending (already promoted or killed).
func (r *Registry) Promote(id string) *PendingSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[id]
	if !ok {
		return nil
	}
	delete(r.pending, id)
	return p
}

// DropPending removes a pending spec without promoting it (kill while
// still queued). Reports whether the id was pending.
func (r *Registry) DropPending(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[id]; !ok {
		return false
	}
	delete(r.pending, id)
	return true
}

// LinkChild appends childID to the parent's ordered child list. The parent
// reference on the child is weak; the child list on the parent is the
// authoritative side while the parent exists.
func (r *Registry) LinkChild(parentID, childID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	parent, ok := r.workers[parentID]
	if !ok {
		return false
	}
	for _, existing := range parent.ChildWorkerIDs {
		if existing == childID {
			return true
		}
	}
	parent.ChildWorkerIDs = append(parent.ChildWorkerIDs, childID)
	return true
}

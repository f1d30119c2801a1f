// Package deps tracks the dependency graph between workers: which worker
// waits on which, what fires when one completes, and how workflow tasks
// map onto workers. All operations are serialized behind one mutex.
package deps

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/agentmux/agentmux/pkg/worker"
)

// Sentinel errors surfaced at registration time.
var (
	// ErrUnknownDependency indicates a predecessor id was never registered.
	ErrUnknownDependency = errors.New("unknown dependency")

	// ErrCycle indicates registering the edge set would create a cycle.
	ErrCycle = errors.New("dependency cycle")

	// ErrAlreadyRegistered indicates the id is already a graph node.
	ErrAlreadyRegistered = errors.New("already registered")
)

// node is one worker's dependency record.
type node struct {
	id           string
	seq          int // registration order, used for the ready tie-break
	predecessors map[string]bool
	successors   map[string]bool
	onComplete   *worker.OnComplete
	workflowID   string
	started      bool
	completed    bool
	failed       bool
}

// CompletionResult is returned by MarkCompleted: the successors that became
// ready (in registration order) plus the completed node's on-complete action.
type CompletionResult struct {
	Triggered  []string
	OnComplete *worker.OnComplete
}

// Stats summarises graph state for diagnostics.
type Stats struct {
	Nodes     int `json:"nodes"`
	Waiting   int `json:"waiting"`
	Ready     int `json:"ready"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Graph is the dependency graph. Every spawned or pending worker is a
// node; edges point predecessor → successor.
type Graph struct {
	mu      sync.Mutex
	nodes   map[string]*node
	nextSeq int

	workflows map[string]*Workflow
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:     make(map[string]*node),
		workflows: make(map[string]*Workflow),
	}
}

// Register adds a node with its predecessors. Predecessors must already be
// registered, and the new edges must not close a cycle.
func (g *Graph) Register(id string, dependsOn []string, onComplete *worker.OnComplete, workflowID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[id]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, id)
	}
	for _, dep := range dependsOn {
		if _, ok := g.nodes[dep]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownDependency, dep)
		}
		if dep == id {
			return fmt.Errorf("%w: %s depends on itself", ErrCycle, id)
		}
	}

	n := &node{
		id:           id,
		seq:          g.nextSeq,
		predecessors: make(map[string]bool, len(dependsOn)),
		successors:   make(map[string]bool),
		onComplete:   onComplete,
		workflowID:   workflowID,
	}
	g.nextSeq++
	for _, dep := range dependsOn {
		n.predecessors[dep] = true
	}

	// Tentatively insert, then verify acyclicity. New edges all point
	// into the new node, so a cycle requires a path from id back to one
	// of its predecessors; DFS from id finds it.
	g.nodes[id] = n
	for _, dep := range dependsOn {
		g.nodes[dep].successors[id] = true
	}
	if g.hasCycleFrom(id) {
		for _, dep := range dependsOn {
			delete(g.nodes[dep].successors, id)
		}
		delete(g.nodes, id)
		return fmt.Errorf("%w: introduced by %s", ErrCycle, id)
	}
	return nil
}

// hasCycleFrom runs DFS colouring from start. Caller holds the lock.
func (g *Graph) hasCycleFrom(start string) bool {
	const (
		white = 0 // unvisited
		grey  = 1 // on stack
		black = 2 // done
	)
	colour := make(map[string]int)
	var visit func(id string) bool
	visit = func(id string) bool {
		colour[id] = grey
		for succ := range g.nodes[id].successors {
			switch colour[succ] {
			case grey:
				return true
			case white:
				if visit(succ) {
					return true
				}
			}
		}
		colour[id] = black
		return false
	}
	return visit(start)
}

// CanStart reports whether every predecessor of id has completed. A failed
// predecessor blocks the successor permanently (the lifecycle manager
// fails it after a grace period).
func (g *Graph) CanStart(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[id]
	if !ok {
		return false
	}
	for pred := range n.predecessors {
		p, ok := g.nodes[pred]
		if !ok {
			// Predecessor was deleted after completing; treat as done.
			continue
		}
		if !p.completed {
			return false
		}
	}
	return true
}

// MarkStarted records that the worker began running.
func (g *Graph) MarkStarted(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n, ok := g.nodes[id]; ok {
		n.started = true
	}
}

// MarkCompleted records completion and returns the successors that became
// ready, ordered by registration. Calling it twice is a no-op that returns
// the same triggered set, so a duplicate complete call cannot double-start
// successors (the lifecycle manager's pending promotion is itself atomic).
func (g *Graph) MarkCompleted(id string) CompletionResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return CompletionResult{}
	}
	n.completed = true

	var ready []*node
	for succ := range n.successors {
		s, ok := g.nodes[succ]
		if !ok || s.started || s.failed {
			continue
		}
		if g.allPredecessorsCompleted(s) {
			ready = append(ready, s)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].seq < ready[j].seq })

	result := CompletionResult{OnComplete: n.onComplete}
	for _, s := range ready {
		result.Triggered = append(result.Triggered, s.id)
	}
	return result
}

// MarkFailed records failure and returns the successor ids now permanently
// blocked.
func (g *Graph) MarkFailed(id string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	n.failed = true
	var blocked []string
	for succ := range n.successors {
		if s, ok := g.nodes[succ]; ok && !s.started && !s.completed {
			blocked = append(blocked, succ)
		}
	}
	sort.Strings(blocked)
	return blocked
}

// Delete removes a node and its edges. Used when a worker is cleaned up;
// surviving successors treat the vanished predecessor as completed.
func (g *Graph) Delete(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[id]
	if !ok {
		return
	}
	for pred := range n.predecessors {
		if p, ok := g.nodes[pred]; ok {
			delete(p.successors, id)
		}
	}
	for succ := range n.successors {
		if s, ok := g.nodes[succ]; ok {
			delete(s.predecessors, id)
		}
	}
	delete(g.nodes, id)
}

// ReadyWorkers returns unstarted nodes whose predecessors have all
// completed, in registration order.
func (g *Graph) ReadyWorkers() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var ready []*node
	for _, n := range g.nodes {
		if !n.started && !n.failed && !n.completed && g.allPredecessorsCompleted(n) {
			ready = append(ready, n)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].seq < ready[j].seq })
	ids := make([]string, len(ready))
	for i, n := range ready {
		ids[i] = n.id
	}
	return ids
}

// WaitingWorkers returns unstarted nodes still blocked on a predecessor.
func (g *Graph) WaitingWorkers() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var waiting []*node
	for _, n := range g.nodes {
		if !n.started && !n.failed && !n.completed && !g.allPredecessorsCompleted(n) {
			waiting = append(waiting, n)
		}
	}
	sort.Slice(waiting, func(i, j int) bool { return waiting[i].seq < waiting[j].seq })
	ids := make([]string, len(waiting))
	for i, n := range waiting {
		ids[i] = n.id
	}
	return ids
}

// FailedPredecessors returns the failed predecessors of id, if any.
func (g *Graph) FailedPredecessors(id string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	var failed []string
	for pred := range n.predecessors {
		if p, ok := g.nodes[pred]; ok && p.failed {
			failed = append(failed, pred)
		}
	}
	sort.Strings(failed)
	return failed
}

// Stats returns aggregate graph counters.
func (g *Graph) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := Stats{Nodes: len(g.nodes)}
	for _, n := range g.nodes {
		switch {
		case n.failed:
			st.Failed++
		case n.completed:
			st.Completed++
		case n.started:
		case g.allPredecessorsCompleted(n):
			st.Ready++
		default:
			st.Waiting++
		}
	}
	return st
}

// allPredecessorsCompleted reports readiness. Caller holds the lock.
func (g *Graph) allPredecessorsCompleted(n *node) bool {
	for pred := range n.predecessors {
		if p, ok := g.nodes[pred]; ok && !p.completed {
			return false
		}
	}
	return true
}

package deps

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Workflow errors.
var (
	// ErrUnknownWorkflow indicates the workflow id is not registered.
	ErrUnknownWorkflow = errors.New("unknown workflow")

	// ErrUnknownTask indicates the task id is not part of the workflow.
	ErrUnknownTask = errors.New("unknown workflow task")
)

// WorkflowTask is one declarative step of a workflow.
type WorkflowTask struct {
	ID          string   `json:"id"`
	Description string   `json:"description,omitempty"`
	DependsOn   []string `json:"dependsOn,omitempty"` // task ids, not worker ids
}

// Workflow groups related tasks. Tasks become eligible when every task
// they depend on has a completed worker.
type Workflow struct {
	ID        string         `json:"id"`
	Name      string         `json:"name,omitempty"`
	Tasks     []WorkflowTask `json:"tasks"`
	CreatedAt time.Time      `json:"createdAt"`
	Started   bool           `json:"started"`

	// taskWorkers maps task id → assigned worker id.
	taskWorkers map[string]string
	// doneTasks marks tasks whose worker completed.
	doneTasks map[string]bool
}

// CreateWorkflow registers a workflow definition.
func (g *Graph) CreateWorkflow(id, name string, tasks []WorkflowTask) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.workflows[id]; exists {
		return fmt.Errorf("%w: workflow %s", ErrAlreadyRegistered, id)
	}
	known := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		known[t.ID] = true
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if !known[dep] {
				return fmt.Errorf("%w: task %s depends on %s", ErrUnknownTask, t.ID, dep)
			}
		}
	}
	g.workflows[id] = &Workflow{
		ID:          id,
		Name:        name,
		Tasks:       tasks,
		CreatedAt:   time.Now(),
		taskWorkers: make(map[string]string),
		doneTasks:   make(map[string]bool),
	}
	return nil
}

// StartWorkflow marks the workflow as started and returns the initially
// eligible tasks (those with no task dependencies).
func (g *Graph) StartWorkflow(id string) ([]WorkflowTask, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	wf, ok := g.workflows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, id)
	}
	wf.Started = true
	return wf.eligibleTasks(), nil
}

// RegisterWorkerForTask binds a spawned worker to a workflow task.
func (g *Graph) RegisterWorkerForTask(workflowID, taskID, workerID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	wf, ok := g.workflows[workflowID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWorkflow, workflowID)
	}
	if !wf.hasTask(taskID) {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	wf.taskWorkers[taskID] = workerID
	return nil
}

// WorkerForTask returns the worker bound to a task, if any.
func (g *Graph) WorkerForTask(workflowID, taskID string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	wf, ok := g.workflows[workflowID]
	if !ok {
		return "", false
	}
	id, ok := wf.taskWorkers[taskID]
	return id, ok
}

// CompleteWorkflowTask marks a task done (its worker completed) and
// returns the tasks that became eligible.
func (g *Graph) CompleteWorkflowTask(workflowID, taskID string) ([]WorkflowTask, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	wf, ok := g.workflows[workflowID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, workflowID)
	}
	if !wf.hasTask(taskID) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	already := wf.doneTasks[taskID]
	wf.doneTasks[taskID] = true
	if already {
		return nil, nil
	}
	var newly []WorkflowTask
	for _, t := range wf.eligibleTasks() {
		for _, dep := range t.DependsOn {
			if dep == taskID {
				newly = append(newly, t)
				break
			}
		}
	}
	return newly, nil
}

// NextWorkflowTasks returns the currently eligible, unassigned tasks.
func (g *Graph) NextWorkflowTasks(workflowID string) ([]WorkflowTask, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	wf, ok := g.workflows[workflowID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, workflowID)
	}
	return wf.eligibleTasks(), nil
}

// Workflows returns workflow ids, sorted.
func (g *Graph) Workflows() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.workflows))
	for id := range g.workflows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (w *Workflow) hasTask(taskID string) bool {
	for _, t := range w.Tasks {
		if t.ID == taskID {
			return true
		}
	}
	return false
}

// eligibleTasks returns tasks whose dependencies are all done and which
// have no assigned worker yet, in definition order.
func (w *Workflow) eligibleTasks() []WorkflowTask {
	var out []WorkflowTask
	for _, t := range w.Tasks {
		if _, assigned := w.taskWorkers[t.ID]; assigned {
			continue
		}
		if w.doneTasks[t.ID] {
			continue
		}
		ready := true
		for _, dep := range t.DependsOn {
			if !w.doneTasks[dep] {
				ready = false
				break
			}
		}
		if ready {
			out = append(out, t)
		}
	}
	return out
}

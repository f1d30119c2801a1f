// Package worker defines the canonical worker model and the thread-safe
// registry that owns it. All other packages mutate workers through the
// registry so every public mutation is atomic with respect to readers.
package worker

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a worker.
type Status string

// Worker lifecycle states.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
	StatusError     Status = "error"
)

// Health is the liveness classification maintained by the health monitor.
type Health string

// Worker health states.
const (
	HealthHealthy Health = "healthy"
	HealthStalled Health = "stalled"
	HealthDead    Health = "dead"
)

// Mode distinguishes tmux-hosted workers from direct-PTY ones.
type Mode string

// Worker modes.
const (
	ModeTmux Mode = "tmux"
	ModePTY  Mode = "pty"
)

// RalphStatus is the self-reported progress state of a ralph-mode worker.
type RalphStatus string

// Ralph signal states. Done and Blocked are terminal and sticky.
const (
	RalphPending    RalphStatus = "pending"
	RalphInProgress RalphStatus = "in_progress"
	RalphDone       RalphStatus = "done"
	RalphBlocked    RalphStatus = "blocked"
)

// IsTerminal reports whether s consumes the completion token.
func (s RalphStatus) IsTerminal() bool {
	return s == RalphDone || s == RalphBlocked
}

// Task is the optional structured task blob attached at spawn.
type Task struct {
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"`
	Context     string `json:"context,omitempty"`
	Constraints string `json:"constraints,omitempty"`

	// Commander's Intent, injected into strategic (GENERAL:*) workers.
	Purpose       string   `json:"purpose,omitempty"`
	KeyTasks      []string `json:"keyTasks,omitempty"`
	EndState      string   `json:"endState,omitempty"`
	RiskTolerance string   `json:"riskTolerance,omitempty"`
}

// Worker is a managed assistant instance hosted in a tmux session.
type Worker struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Project     string `json:"project"`
	WorkingDir  string `json:"workingDir"`
	TmuxSession string `json:"tmuxSession"`
	Status      Status `json:"status"`
	Mode        Mode   `json:"mode"`

	CreatedAt    time.Time  `json:"createdAt"`
	LastActivity time.Time  `json:"lastActivity"`
	LastOutput   time.Time  `json:"lastOutput"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`

	Health         Health `json:"health"`
	QueuedCommands int    `json:"queuedCommands"`

	// KeepAlive opts the worker out of auto-cleanup after completion.
	KeepAlive bool `json:"keepAlive,omitempty"`

	// Backend is the assistant CLI hosting this worker ("" = default).
	Backend string `json:"backend,omitempty"`

	DependsOn  []string `json:"dependsOn"`
	WorkflowID string   `json:"workflowId,omitempty"`
	TaskID     string   `json:"taskId,omitempty"`

	ParentWorkerID string   `json:"parentWorkerId,omitempty"`
	ParentLabel    string   `json:"parentLabel,omitempty"`
	ChildWorkerIDs []string `json:"childWorkerIds"`

	Task *Task `json:"task,omitempty"`

	AutoAccept         bool   `json:"autoAccept"`
	AutoAcceptPaused   bool   `json:"autoAcceptPaused"`
	LastAutoAcceptHash uint64 `json:"-"`

	RalphMode        bool           `json:"ralphMode"`
	RalphToken       string         `json:"-"`
	RalphStatus      RalphStatus    `json:"ralphStatus,omitempty"`
	RalphProgress    *int           `json:"ralphProgress,omitempty"`
	RalphCurrentStep string         `json:"ralphCurrentStep,omitempty"`
	RalphLearnings   string         `json:"ralphLearnings,omitempty"`
	RalphOutputs     map[string]any `json:"ralphOutputs,omitempty"`
	RalphArtifacts   []string       `json:"ralphArtifacts,omitempty"`
	RalphSignaledAt  *time.Time     `json:"ralphSignaledAt,omitempty"`
}

// IsStrategic reports whether the worker carries a strategic label.
// Strategic workers get a completion token even without ralph mode.
func (w *Worker) IsStrategic() bool {
	return strings.HasPrefix(w.Label, "GENERAL:")
}

// Clone returns a deep copy safe to hand to readers outside the registry
// lock. Slices and maps are copied; the caller may not mutate through it.
func (w *Worker) Clone() *Worker {
	cp := *w
	cp.DependsOn = append([]string(nil), w.DependsOn...)
	cp.ChildWorkerIDs = append([]string(nil), w.ChildWorkerIDs...)
	cp.RalphArtifacts = append([]string(nil), w.RalphArtifacts...)
	if w.RalphOutputs != nil {
		cp.RalphOutputs = make(map[string]any, len(w.RalphOutputs))
		for k, v := range w.RalphOutputs {
			cp.RalphOutputs[k] = v
		}
	}
	if w.RalphProgress != nil {
		p := *w.RalphProgress
		cp.RalphProgress = &p
	}
	if w.CompletedAt != nil {
		t := *w.CompletedAt
		cp.CompletedAt = &t
	}
	if w.RalphSignaledAt != nil {
		t := *w.RalphSignaledAt
		cp.RalphSignaledAt = &t
	}
	if w.Task != nil {
		t := *w.Task
		t.KeyTasks = append([]string(nil), w.Task.KeyTasks...)
		cp.Task = &t
	}
	return &cp
}

// Normalize fills defaults for fields added in later schema versions so
// snapshots written by older builds present a stable external shape.
func (w *Worker) Normalize() {
	if w.Mode == "" {
		w.Mode = ModeTmux
	}
	if w.Health == "" {
		w.Health = HealthHealthy
	}
	if w.DependsOn == nil {
		w.DependsOn = []string{}
	}
	if w.ChildWorkerIDs == nil {
		w.ChildWorkerIDs = []string{}
	}
	if w.LastActivity.IsZero() {
		w.LastActivity = w.CreatedAt
	}
	if w.LastOutput.IsZero() {
		w.LastOutput = w.CreatedAt
	}
}

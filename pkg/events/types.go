// Package events provides best-effort pub/sub of lifecycle and output
// events to in-process subscribers (the WebSocket layer among them).
// Delivery is fan-out to currently connected subscribers only: no replay,
// no persistence. A slow subscriber loses events rather than stalling the
// capture path.
package events

import "time"

// Event names delivered to subscribers. These are part of the external
// contract; clients match on them literally.
const (
	WorkerCreated         = "worker:created"
	WorkerPending         = "worker:pending"
	WorkerUpdated         = "worker:updated"
	WorkerDeleted         = "worker:deleted"
	WorkerCompleted       = "worker:completed"
	WorkerOutput          = "worker:output"
	WorkerRalphSignaled   = "worker:ralph:signaled"
	WorkerChildSignaled   = "worker:child:signaled"
	DependenciesSatisfied = "worker:dependencies_satisfied"
	DependenciesTriggered = "dependencies:triggered"
	ActivityNew           = "activity:new"
	Error                 = "error"
)

// Event is one published message.
type Event struct {
	Name      string    `json:"event"`
	WorkerID  string    `json:"workerId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// OutputPayload accompanies worker:output events.
type OutputPayload struct {
	WorkerID string `json:"workerId"`
	Content  string `json:"content"`
}

// ErrorPayload accompanies error events.
type ErrorPayload struct {
	Message  string `json:"message"`
	WorkerID string `json:"workerId,omitempty"`
}

// ChildSignaledPayload accompanies worker:child:signaled events, scoped to
// the parent worker.
type ChildSignaledPayload struct {
	ParentWorkerID string `json:"parentWorkerId"`
	ChildWorkerID  string `json:"childWorkerId"`
	Status         string `json:"status"`
	Progress       *int   `json:"progress,omitempty"`
	CurrentStep    string `json:"currentStep,omitempty"`
}

// TriggeredPayload accompanies dependencies:triggered events.
type TriggeredPayload struct {
	CompletedWorkerID  string   `json:"completedWorkerId"`
	TriggeredWorkerIDs []string `json:"triggeredWorkerIds"`
}

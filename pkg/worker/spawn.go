package worker

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// MaxLabelLength bounds the free-form worker label.
const MaxLabelLength = 256

// ErrInvalidLabel is returned for labels that fail validation.
var ErrInvalidLabel = errors.New("invalid label")

// OnComplete is a declarative action dispatched when a worker completes.
// Exactly one of the kind-specific blocks is honoured, selected by Kind.
type OnComplete struct {
	Kind string `json:"kind"` // "spawn", "webhook", "emit"

	// Kind "spawn": another worker is spawned with this request.
	Spawn *SpawnRequest `json:"spawn,omitempty"`

	// Kind "webhook": an HTTP call is dispatched.
	URL     string            `json:"url,omitempty"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    any               `json:"body,omitempty"`

	// Kind "emit": a custom event is published on the bus.
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// SpawnRequest carries everything a caller can specify when spawning.
type SpawnRequest struct {
	ProjectPath    string      `json:"projectPath"`
	Label          string      `json:"label,omitempty"`
	DependsOn      []string    `json:"dependsOn,omitempty"`
	OnComplete     *OnComplete `json:"onComplete,omitempty"`
	WorkflowID     string      `json:"workflowId,omitempty"`
	TaskID         string      `json:"taskId,omitempty"`
	Task           *Task       `json:"task,omitempty"`
	ParentWorkerID string      `json:"parentWorkerId,omitempty"`
	ParentLabel    string      `json:"parentLabel,omitempty"`
	InitialInput   string      `json:"initialInput,omitempty"`
	AutoAccept     bool        `json:"autoAccept"`
	RalphMode      bool        `json:"ralphMode"`
	Backend        string      `json:"backend,omitempty"`
	KeepAlive      bool        `json:"keepAlive,omitempty"` // opt out of auto-cleanup
}

// PendingSpec is a registered worker waiting on dependencies. It holds the
// pre-allocated id plus the original request so promotion can reuse the
// spawn path unchanged.
type PendingSpec struct {
	ID           string       `json:"id"`
	Request      SpawnRequest `json:"request"`
	RegisteredAt time.Time    `json:"registeredAt"`
}

// ValidateLabel enforces the length bound and rejects control characters.
func ValidateLabel(label string) error {
	if len(label) > MaxLabelLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidLabel, MaxLabelLength)
	}
	for _, r := range label {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: contains control characters", ErrInvalidLabel)
		}
	}
	return nil
}

// Sanitize trims and normalises a spawn request in place. Validation
// proper (path existence, label bounds) happens in the lifecycle manager;
// this only removes junk that should never reach it.
func (r *SpawnRequest) Sanitize() {
	r.ProjectPath = strings.TrimSpace(r.ProjectPath)
	r.Label = strings.TrimSpace(r.Label)
	r.Backend = strings.TrimSpace(r.Backend)
	deps := r.DependsOn[:0]
	for _, d := range r.DependsOn {
		if d = strings.TrimSpace(d); d != "" {
			deps = append(deps, d)
		}
	}
	r.DependsOn = deps
}

package ralph

import (
	"context"
	"log/slog"
	"time"

	"github.com/agentmux/agentmux/pkg/events"
	"github.com/agentmux/agentmux/pkg/worker"
)

// maxSignalString bounds free-form signal strings; oversized values are
// truncated, never rejected, so a chatty agent cannot fail its own signal.
const maxSignalString = 4096

// maxArtifacts bounds the artifact path list per signal.
const maxArtifacts = 50

// Signal is the body a worker posts against its completion token.
type Signal struct {
	Status      string         `json:"status"`
	Progress    *int           `json:"progress,omitempty"`
	CurrentStep string         `json:"currentStep,omitempty"`
	Learnings   string         `json:"learnings,omitempty"`
	Outputs     map[string]any `json:"outputs,omitempty"`
	Artifacts   []string       `json:"artifacts,omitempty"`
	Reason      string         `json:"reason,omitempty"`
}

// Sanitize coerces a raw signal into valid shape: unknown status becomes
// in_progress, progress is clamped to 0–100, strings are truncated.
func (s *Signal) Sanitize() {
	switch worker.RalphStatus(s.Status) {
	case worker.RalphPending, worker.RalphInProgress, worker.RalphDone, worker.RalphBlocked:
	default:
		s.Status = string(worker.RalphInProgress)
	}
	if s.Progress != nil {
		p := *s.Progress
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		s.Progress = &p
	}
	s.CurrentStep = truncate(s.CurrentStep, maxSignalString)
	s.Learnings = truncate(s.Learnings, maxSignalString)
	s.Reason = truncate(s.Reason, maxSignalString)
	if len(s.Artifacts) > maxArtifacts {
		s.Artifacts = s.Artifacts[:maxArtifacts]
	}
	for i, a := range s.Artifacts {
		s.Artifacts[i] = truncate(a, 1024)
	}
}

// Service resolves tokens and merges signals into worker records.
type Service struct {
	tokens   *TokenStore
	registry *worker.Registry
	bus      *events.Bus
}

// NewService creates a ralph service.
func NewService(tokens *TokenStore, registry *worker.Registry, bus *events.Bus) *Service {
	return &Service{tokens: tokens, registry: registry, bus: bus}
}

// Tokens exposes the token store for the lifecycle manager (issue at
// spawn, revoke on kill) and the periodic sweep.
func (s *Service) Tokens() *TokenStore { return s.tokens }

// ApplySignal resolves the token, merges the signal into the worker, and
// publishes events. Terminal signals consume the token; terminal states
// are sticky and cannot be downgraded by a late in_progress.
func (s *Service) ApplySignal(token string, sig Signal) (*worker.Worker, error) {
	workerID, err := s.tokens.Resolve(token)
	if err != nil {
		return nil, err
	}

	sig.Sanitize()
	status := worker.RalphStatus(sig.Status)

	updated := s.registry.Update(workerID, func(w *worker.Worker) {
		if w.RalphStatus.IsTerminal() && !status.IsTerminal() {
			// Keep the terminal state; still merge informational fields.
			status = w.RalphStatus
		}
		w.RalphStatus = status
		if sig.Progress != nil {
			w.RalphProgress = sig.Progress
		}
		if sig.CurrentStep != "" {
			w.RalphCurrentStep = sig.CurrentStep
		}
		if sig.Learnings != "" {
			w.RalphLearnings = sig.Learnings
		}
		for k, v := range sig.Outputs {
			if w.RalphOutputs == nil {
				w.RalphOutputs = make(map[string]any)
			}
			w.RalphOutputs[k] = v
		}
		if len(sig.Artifacts) > 0 {
			w.RalphArtifacts = append(w.RalphArtifacts, sig.Artifacts...)
		}
		if status.IsTerminal() && w.RalphSignaledAt == nil {
			now := time.Now()
			w.RalphSignaledAt = &now
		}
		w.LastActivity = time.Now()
	})
	if updated == nil {
		// Token outlived its worker; treat like an expired token.
		s.tokens.Consume(token)
		return nil, ErrUnknownToken
	}

	if status.IsTerminal() {
		s.tokens.Consume(token)
	}

	s.bus.Publish(events.WorkerRalphSignaled, workerID, updated)
	if updated.ParentWorkerID != "" {
		s.bus.Publish(events.WorkerChildSignaled, updated.ParentWorkerID, events.ChildSignaledPayload{
			ParentWorkerID: updated.ParentWorkerID,
			ChildWorkerID:  workerID,
			Status:         string(updated.RalphStatus),
			Progress:       updated.RalphProgress,
			CurrentStep:    updated.RalphCurrentStep,
		})
	}

	slog.Info("Ralph signal applied",
		"worker_id", workerID, "status", updated.RalphStatus, "terminal", status.IsTerminal())
	return updated, nil
}

// ChildSummary is one child's roll-up row.
type ChildSummary struct {
	WorkerID        string             `json:"workerId"`
	Label           string             `json:"label"`
	TaskDescription string             `json:"taskDescription,omitempty"`
	Status          worker.Status      `json:"status"`
	Health          worker.Health      `json:"health"`
	RalphStatus     worker.RalphStatus `json:"ralphStatus,omitempty"`
	RalphProgress   *int               `json:"ralphProgress,omitempty"`
	CurrentStep     string             `json:"currentStep,omitempty"`
	Learnings       string             `json:"learnings,omitempty"`
	Outputs         map[string]any     `json:"outputs,omitempty"`
	Artifacts       []string           `json:"artifacts,omitempty"`
	DurationMs      int64              `json:"durationMs"`
}

// ChildrenRollup summarises per-status child counts plus one row per child.
type ChildrenRollup struct {
	Summary struct {
		Total      int `json:"total"`
		Pending    int `json:"pending"`
		InProgress int `json:"inProgress"`
		Done       int `json:"done"`
		Blocked    int `json:"blocked"`
	} `json:"summary"`
	Children []ChildSummary `json:"children"`
}

// ChildrenOf builds the roll-up for a parent's children.
func (s *Service) ChildrenOf(_ context.Context, parentID string) ChildrenRollup {
	var roll ChildrenRollup
	roll.Children = []ChildSummary{}
	for _, child := range s.registry.ChildrenOf(parentID) {
		row := ChildSummary{
			WorkerID:      child.ID,
			Label:         child.Label,
			Status:        child.Status,
			Health:        child.Health,
			RalphStatus:   child.RalphStatus,
			RalphProgress: child.RalphProgress,
			CurrentStep:   child.RalphCurrentStep,
			Learnings:     child.RalphLearnings,
			Outputs:       child.RalphOutputs,
			Artifacts:     child.RalphArtifacts,
			DurationMs:    time.Since(child.CreatedAt).Milliseconds(),
		}
		if child.Task != nil {
			row.TaskDescription = truncate(child.Task.Description, 200)
		}
		roll.Children = append(roll.Children, row)

		roll.Summary.Total++
		switch child.RalphStatus {
		case worker.RalphDone:
			roll.Summary.Done++
		case worker.RalphBlocked:
			roll.Summary.Blocked++
		case worker.RalphInProgress:
			roll.Summary.InProgress++
		default:
			roll.Summary.Pending++
		}
	}
	return roll
}

// RunTokenSweeper removes expired tokens every 30 minutes until ctx is
// cancelled.
func (s *Service) RunTokenSweeper(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.tokens.SweepExpired(); n > 0 {
				slog.Info("Swept expired ralph tokens", "count", n)
			}
		}
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

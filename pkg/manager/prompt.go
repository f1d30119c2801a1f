package manager

import (
	"fmt"
	"strings"

	"github.com/agentmux/agentmux/pkg/config"
	"github.com/agentmux/agentmux/pkg/worker"
)

// buildSelfAwarenessPrompt renders the first message sent to a freshly
// spawned worker: who it is, how to reach the orchestrator, and its task.
// Strategic workers additionally get the commander's intent block so they
// can make delegation decisions without round-tripping to a human.
func buildSelfAwarenessPrompt(cfg *config.Config, w *worker.Worker) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are worker %s", w.ID)
	if w.Label != "" {
		fmt.Fprintf(&b, " (%q)", w.Label)
	}
	fmt.Fprintf(&b, " in project %s, managed by an orchestrator at %s. ", w.Project, cfg.APIBase)
	b.WriteString("Your working directory context file describes the API you can call. ")

	if w.ParentWorkerID != "" {
		fmt.Fprintf(&b, "You were spawned by worker %s", w.ParentWorkerID)
		if w.ParentLabel != "" {
			fmt.Fprintf(&b, " (%q)", w.ParentLabel)
		}
		b.WriteString(". ")
	}

	if w.RalphMode {
		b.WriteString("Report progress via your completion token as described in the context file; " +
			"send a terminal done or blocked signal when you finish. ")
	}

	if t := w.Task; t != nil {
		if t.Description != "" {
			fmt.Fprintf(&b, "\n\nTask: %s", t.Description)
		}
		if t.Context != "" {
			fmt.Fprintf(&b, "\nContext: %s", t.Context)
		}
		if t.Constraints != "" {
			fmt.Fprintf(&b, "\nConstraints: %s", t.Constraints)
		}

		if w.IsStrategic() {
			b.WriteString("\n\nCommander's intent:")
			if t.Purpose != "" {
				fmt.Fprintf(&b, "\n- Purpose: %s", t.Purpose)
			}
			for _, kt := range t.KeyTasks {
				fmt.Fprintf(&b, "\n- Key task: %s", kt)
			}
			if t.EndState != "" {
				fmt.Fprintf(&b, "\n- End state: %s", t.EndState)
			}
			if t.RiskTolerance != "" {
				fmt.Fprintf(&b, "\n- Risk tolerance: %s", t.RiskTolerance)
			}
			b.WriteString("\nYou may spawn sub-workers via the API to divide the work; " +
				"monitor them through /api/workers/<your id>/children.")
		}
	}

	// tmux send-keys treats the payload as one line; newlines in the
	// prompt would submit partial messages.
	return strings.ReplaceAll(b.String(), "\n", " ")
}

package backend

import (
	"fmt"
	"regexp"
	"time"
)

// claudeAcceptPatterns match the confirmation prompts the claude CLI (and
// similar assistants) renders when it wants a y/n answer. Matching is
// case-insensitive against the ANSI-stripped tail of the pane.
var claudeAcceptPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\[y/n\]`),
	regexp.MustCompile(`(?i)\[y/N\]`),
	regexp.MustCompile(`(?i)\(y\)es`),
	regexp.MustCompile(`(?i)do you want to (proceed|make this edit|create|overwrite|run|execute|allow)`),
	regexp.MustCompile(`(?i)allow (this|once|always)`),
	regexp.MustCompile(`(?i)yes.*to (allow|proceed|continue)`),
	regexp.MustCompile(`(?i)press enter to continue`),
}

// claudePauseKeywords suspend auto-accept: the assistant is mid-plan or
// asking a real question, and a blind Enter would answer it.
var claudePauseKeywords = []string{
	"plan mode",
	"ExitPlanMode",
	"AskUserQuestion",
	"EnterPlanMode",
}

// Claude is the default backend: the claude CLI in interactive mode.
type Claude struct {
	// CommandPath overrides the executable (BACKEND_COMMAND).
	CommandPath string
}

// Name implements Backend.
func (c *Claude) Name() string { return "claude" }

// Command implements Backend.
func (c *Claude) Command() (string, []string) {
	path := c.CommandPath
	if path == "" {
		path = "claude"
	}
	return path, nil
}

// InitDelay implements Backend.
func (c *Claude) InitDelay() time.Duration { return 3 * time.Second }

// AcceptPatterns implements Backend.
func (c *Claude) AcceptPatterns() []*regexp.Regexp { return claudeAcceptPatterns }

// PauseKeywords implements Backend.
func (c *Claude) PauseKeywords() []string { return claudePauseKeywords }

// ContextFileName implements Backend. CLAUDE.local.md is auto-loaded by
// the CLI from the working directory and is conventionally gitignored.
func (c *Claude) ContextFileName() string { return "CLAUDE.local.md" }

// ContextFileContent implements Backend.
func (c *Claude) ContextFileContent(info ContextInfo) string {
	content := fmt.Sprintf(`# Worker Context (managed, do not edit)

You are a managed worker in an orchestrated fleet.

## Identity
- Worker ID: %s
- Label: %s
- Project: %s
- Working directory: %s

## Orchestrator API
Base URL: %s
Session naming: tmux sessions are named %s-<worker id>.

List workers:
    curl -s %s/api/workers

Spawn a sub-worker in this project:
    curl -s -X POST %s/api/workers \
      -H 'Content-Type: application/json' \
      -d '{"projectPath":"%s","label":"SUB: <what it does>","parentWorkerId":"%s"}'
`,
		info.WorkerID, info.Label, info.Project, info.WorkingDir,
		info.APIBase, info.SessionPrefix,
		info.APIBase,
		info.APIBase, info.WorkingDir, info.WorkerID)

	if info.Token != "" {
		content += fmt.Sprintf(`
## Completion signalling
Report progress and completion with your token (single use on done/blocked):

    curl -s -X POST %s/api/ralph/signal/%s \
      -H 'Content-Type: application/json' \
      -d '{"status":"in_progress","progress":50,"currentStep":"<step>"}'

    curl -s -X POST %s/api/ralph/signal/%s \
      -H 'Content-Type: application/json' \
      -d '{"status":"done","learnings":"<what you learned>","outputs":{},"artifacts":[]}'
`, info.APIBase, info.Token, info.APIBase, info.Token)
	}
	return content
}

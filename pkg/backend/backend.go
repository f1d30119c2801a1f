// Package backend abstracts the assistant CLI hosted inside each tmux
// session and the completion providers the engine consults. Adding a new
// assistant means implementing Backend; the lifecycle manager never
// hard-codes CLI specifics.
package backend

import (
	"fmt"
	"regexp"
	"time"
)

// ContextInfo is everything a backend needs to render the per-project
// context file written before spawn.
type ContextInfo struct {
	WorkerID      string
	Label         string
	Project       string
	WorkingDir    string
	Token         string
	APIBase       string
	SessionPrefix string
}

// Backend describes one assistant CLI.
type Backend interface {
	// Name identifies the backend in spawn requests.
	Name() string

	// Command returns the executable and arguments launched in the
	// session pane.
	Command() (string, []string)

	// InitDelay is how long to wait after session creation before the
	// first send-keys; the CLI needs time to draw its prompt.
	InitDelay() time.Duration

	// AcceptPatterns are the confirmation prompts auto-accept answers.
	AcceptPatterns() []*regexp.Regexp

	// PauseKeywords suspend auto-accept while present in recent output.
	PauseKeywords() []string

	// ContextFileName is the file written to the project directory and
	// auto-loaded by the CLI.
	ContextFileName() string

	// ContextFileContent renders that file.
	ContextFileContent(info ContextInfo) string
}

// Registry maps backend names to implementations.
type Registry struct {
	backends map[string]Backend
	def      string
}

// NewRegistry creates a registry with the given default backend.
func NewRegistry(def Backend) *Registry {
	r := &Registry{backends: make(map[string]Backend), def: def.Name()}
	r.backends[def.Name()] = def
	return r
}

// Add registers another backend.
func (r *Registry) Add(b Backend) {
	r.backends[b.Name()] = b
}

// Get returns the named backend, or the default for "".
func (r *Registry) Get(name string) (Backend, error) {
	if name == "" {
		name = r.def
	}
	b, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q", name)
	}
	return b, nil
}

package manager

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/agentmux/agentmux/pkg/backend"
	"github.com/agentmux/agentmux/pkg/worker"
)

// dirChecker exists so tests can spawn without touching the filesystem.
type dirChecker interface {
	IsDir(path string) bool
}

type osDirChecker struct{}

func (osDirChecker) IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// writeContextFile renders the backend's context file into the project
// directory so the assistant picks it up on start.
func (m *Manager) writeContextFile(be backend.Backend, w *worker.Worker) error {
	name := be.ContextFileName()
	if name == "" {
		return nil
	}
	content := be.ContextFileContent(backend.ContextInfo{
		WorkerID:      w.ID,
		Label:         w.Label,
		Project:       w.Project,
		WorkingDir:    w.WorkingDir,
		Token:         w.RalphToken,
		APIBase:       m.cfg.APIBase,
		SessionPrefix: m.cfg.SessionPrefix,
	})
	path := filepath.Join(w.WorkingDir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write context file: %w", err)
	}
	return nil
}

// removeContextFile deletes the context file on teardown. Two workers in
// the same project share the file name; the survivor rewrites it on its
// next spawn, so a best-effort remove is acceptable.
func (m *Manager) removeContextFile(be backend.Backend, w *worker.Worker) {
	name := be.ContextFileName()
	if name == "" {
		return
	}
	_ = os.Remove(filepath.Join(w.WorkingDir, name))
}

package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmux/agentmux/pkg/backend"
	"github.com/agentmux/agentmux/pkg/config"
	"github.com/agentmux/agentmux/pkg/worker"
)

// newAutoAcceptEnv slows the capture loop to a crawl so the background
// tick cannot race the direct maybeAutoAccept calls under test.
func newAutoAcceptEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnv(t, func(c *config.Config) { c.CaptureTick = time.Hour })
}

func autoAcceptWorker(t *testing.T, env *testEnv) *worker.Worker {
	t.Helper()
	w, _, err := env.mgr.Spawn(context.Background(), worker.SpawnRequest{
		ProjectPath: "/srv/projects/app",
		Label:       "auto",
		AutoAccept:  true,
	})
	require.NoError(t, err)
	return w
}

func TestAutoAccept_AnswersYesNoPrompt(t *testing.T) {
	env := newAutoAcceptEnv(t)
	w := autoAcceptWorker(t, env)
	be := &backend.Claude{}

	env.mgr.maybeAutoAccept(context.Background(), w.ID, w.TmuxSession, be,
		"Do you want to proceed? [y/n]")

	texts := env.mux.sentTexts(w.TmuxSession)
	require.NotEmpty(t, texts)
	assert.Equal(t, "y", texts[len(texts)-1])

	env.mux.mu.Lock()
	keys := append([]string(nil), env.mux.keys[w.TmuxSession]...)
	env.mux.mu.Unlock()
	assert.Contains(t, keys, "Enter")
}

func TestAutoAccept_EnterOnlyForNonYesNoPrompt(t *testing.T) {
	env := newAutoAcceptEnv(t)
	w := autoAcceptWorker(t, env)
	be := &backend.Claude{}

	env.mgr.maybeAutoAccept(context.Background(), w.ID, w.TmuxSession, be,
		"Press Enter to continue")

	assert.Empty(t, env.mux.sentTexts(w.TmuxSession))
	env.mux.mu.Lock()
	keys := append([]string(nil), env.mux.keys[w.TmuxSession]...)
	env.mux.mu.Unlock()
	assert.Contains(t, keys, "Enter")
}

func TestAutoAccept_SamePromptAnsweredOnce(t *testing.T) {
	env := newAutoAcceptEnv(t)
	w := autoAcceptWorker(t, env)
	be := &backend.Claude{}
	prompt := "Do you want to proceed? [y/n]"

	env.mgr.maybeAutoAccept(context.Background(), w.ID, w.TmuxSession, be, prompt)
	env.mgr.maybeAutoAccept(context.Background(), w.ID, w.TmuxSession, be, prompt)

	// The unchanged tail hash blocks a second answer within the window.
	texts := env.mux.sentTexts(w.TmuxSession)
	count := 0
	for _, s := range texts {
		if s == "y" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestAutoAccept_NewPromptAnsweredAgain(t *testing.T) {
	env := newAutoAcceptEnv(t)
	w := autoAcceptWorker(t, env)
	be := &backend.Claude{}

	env.mgr.maybeAutoAccept(context.Background(), w.ID, w.TmuxSession, be,
		"Do you want to overwrite a.txt? [y/n]")
	env.mgr.maybeAutoAccept(context.Background(), w.ID, w.TmuxSession, be,
		"Do you want to overwrite b.txt? [y/n]")

	count := 0
	for _, s := range env.mux.sentTexts(w.TmuxSession) {
		if s == "y" {
			count++
		}
	}
	assert.Equal(t, 2, count)
}

func TestAutoAccept_PauseKeywordSuspends(t *testing.T) {
	env := newAutoAcceptEnv(t)
	w := autoAcceptWorker(t, env)
	be := &backend.Claude{}

	env.mgr.maybeAutoAccept(context.Background(), w.ID, w.TmuxSession, be,
		"entering plan mode\nDo you want to proceed? [y/n]")

	assert.Empty(t, env.mux.sentTexts(w.TmuxSession))
	assert.True(t, env.registry.Get(w.ID).AutoAcceptPaused)

	// The pause clears once the keyword leaves the tail, and prompts are
	// answered again.
	env.mgr.maybeAutoAccept(context.Background(), w.ID, w.TmuxSession, be,
		"Do you want to proceed? [y/n]")
	assert.False(t, env.registry.Get(w.ID).AutoAcceptPaused)
	assert.Equal(t, []string{"y"}, env.mux.sentTexts(w.TmuxSession))
}

func TestAutoAccept_PauseKeywordCaseInsensitive(t *testing.T) {
	env := newAutoAcceptEnv(t)
	w := autoAcceptWorker(t, env)
	be := &backend.Claude{}

	env.mgr.maybeAutoAccept(context.Background(), w.ID, w.TmuxSession, be,
		"Entering PLAN MODE\nDo you want to proceed? [y/n]")

	assert.Empty(t, env.mux.sentTexts(w.TmuxSession))
	assert.True(t, env.registry.Get(w.ID).AutoAcceptPaused)
}

func TestAutoAccept_PlainOutputIgnored(t *testing.T) {
	env := newAutoAcceptEnv(t)
	w := autoAcceptWorker(t, env)
	be := &backend.Claude{}

	env.mgr.maybeAutoAccept(context.Background(), w.ID, w.TmuxSession, be,
		"compiling...\nall tests passed")

	assert.Empty(t, env.mux.sentTexts(w.TmuxSession))
	env.mux.mu.Lock()
	keys := append([]string(nil), env.mux.keys[w.TmuxSession]...)
	env.mux.mu.Unlock()
	assert.Empty(t, keys)
}

func TestTickHash(t *testing.T) {
	assert.Equal(t, tickHash("abc"), tickHash("abc"))
	assert.NotEqual(t, tickHash("abc"), tickHash("abd"))

	// Length is part of the hash: growth with an identical tail still
	// registers as a change.
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	assert.NotEqual(t, tickHash(string(long)), tickHash("pre"+string(long)))
}

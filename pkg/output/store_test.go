package output

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "output.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_SessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.StartSession(ctx, "w1", "agentmux-w1", "label", "proj", "/tmp/proj", "do things")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	sessions, err := s.SessionsForWorker(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "agentmux-w1", sessions[0].SessionName)
	assert.Nil(t, sessions[0].EndedAt)

	require.NoError(t, s.FinalizeSession(ctx, id, "completed"))
	sessions, err = s.SessionsForWorker(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, sessions[0].EndedAt)
	assert.Equal(t, "completed", sessions[0].FinalStatus)
}

func TestStore_FinalizeIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.StartSession(ctx, "w1", "s", "", "", "", "")
	require.NoError(t, err)

	require.NoError(t, s.FinalizeSession(ctx, id, "completed"))
	first, err := s.SessionsForWorker(ctx, "w1")
	require.NoError(t, err)

	// A second finalize with a different status must not overwrite.
	require.NoError(t, s.FinalizeSession(ctx, id, "stopped"))
	second, err := s.SessionsForWorker(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "completed", second[0].FinalStatus)
	assert.Equal(t, first[0].EndedAt.UnixNano(), second[0].EndedAt.UnixNano())
}

func TestStore_AppendChunkDedups(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.StartSession(ctx, "w1", "s", "", "", "", "")
	require.NoError(t, err)

	kept, err := s.AppendChunk(ctx, id, "w1", "same output", "stdout")
	require.NoError(t, err)
	assert.True(t, kept)

	kept, err = s.AppendChunk(ctx, id, "w1", "same output", "stdout")
	require.NoError(t, err)
	assert.False(t, kept)

	kept, err = s.AppendChunk(ctx, id, "w1", "different output", "stdout")
	require.NoError(t, err)
	assert.True(t, kept)

	chunks, err := s.ChunksBySession(ctx, id, 10, 0)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "same output", chunks[0].Content)
	assert.Equal(t, "different output", chunks[1].Content)
}

func TestStore_DedupIsPerSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s1, err := s.StartSession(ctx, "w1", "s1", "", "", "", "")
	require.NoError(t, err)
	s2, err := s.StartSession(ctx, "w2", "s2", "", "", "", "")
	require.NoError(t, err)

	kept, err := s.AppendChunk(ctx, s1, "w1", "same", "stdout")
	require.NoError(t, err)
	assert.True(t, kept)

	// The same content in a different session is not a duplicate.
	kept, err = s.AppendChunk(ctx, s2, "w2", "same", "stdout")
	require.NoError(t, err)
	assert.True(t, kept)
}

func TestStore_ChunkPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.StartSession(ctx, "w1", "s", "", "", "", "")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := s.AppendChunk(ctx, id, "w1", string(rune('a'+i)), "stdout")
		require.NoError(t, err)
	}

	page, err := s.ChunksBySession(ctx, id, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "a", page[0].Content)

	page, err = s.ChunksBySession(ctx, id, 2, 4)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "e", page[0].Content)
}

func TestStore_FullSessionOutput(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.StartSession(ctx, "w1", "s", "", "", "", "")
	require.NoError(t, err)
	_, err = s.AppendChunk(ctx, id, "w1", "first ", "stdout")
	require.NoError(t, err)
	_, err = s.AppendChunk(ctx, id, "w1", "second", "stdout")
	require.NoError(t, err)

	full, err := s.FullSessionOutput(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "first second", full)
}

func TestStore_SweepFinalizesOrphans(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.StartSession(ctx, "w1", "s", "", "", "", "")
	require.NoError(t, err)

	// Backdate the session start so the sweep treats it as orphaned.
	_, err = s.db.ExecContext(ctx,
		`UPDATE worker_sessions SET started_at = '2020-01-01T00:00:00Z' WHERE id = ?`, id)
	require.NoError(t, err)

	require.NoError(t, s.Sweep(ctx, 7))

	sessions, err := s.SessionsForWorker(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, sessions[0].EndedAt)
	assert.Equal(t, "orphaned", sessions[0].FinalStatus)
}

func TestStore_SweepDeletesOldChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.StartSession(ctx, "w1", "s", "", "", "", "")
	require.NoError(t, err)
	_, err = s.AppendChunk(ctx, id, "w1", "old", "stdout")
	require.NoError(t, err)

	_, err = s.db.ExecContext(ctx,
		`UPDATE worker_outputs SET timestamp = '2020-01-01T00:00:00Z'`)
	require.NoError(t, err)

	require.NoError(t, s.Sweep(ctx, 7))

	chunks, err := s.ChunksBySession(ctx, id, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestHashContent(t *testing.T) {
	assert.Equal(t, HashContent("abc"), HashContent("abc"))
	assert.NotEqual(t, HashContent("abc"), HashContent("abd"))
	assert.Len(t, HashContent("anything"), 16)
}

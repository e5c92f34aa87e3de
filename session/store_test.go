package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "sessions"))
	require.NoError(t, err)
	return store
}

func TestCreate_DirectoryLayout(t *testing.T) {
	store := newTestStore(t)

	sess, err := store.Create()
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, StatusActive, sess.Status())

	for _, dir := range []string{sess.Paths.Logs, sess.Paths.Outputs, sess.Paths.Uploads} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestCreate_DisjointRoots(t *testing.T) {
	store := newTestStore(t)

	a, err := store.Create()
	require.NoError(t, err)
	b, err := store.Create()
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.Paths.Root, b.Paths.Root)

	// Neither root is a prefix of the other.
	rel, err := filepath.Rel(a.Paths.Root, b.Paths.Root)
	require.NoError(t, err)
	assert.True(t, filepath.IsLocal(rel) == false || rel == "..",
		"session roots must not nest: %s vs %s", a.Paths.Root, b.Paths.Root)
}

func TestNewStore_UnwritableRoot(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	parent := t.TempDir()
	require.NoError(t, os.Chmod(parent, 0500))
	t.Cleanup(func() { _ = os.Chmod(parent, 0755) })

	_, err := NewStore(filepath.Join(parent, "sessions"))
	require.Error(t, err)

	var storageErr *StorageError
	assert.ErrorAs(t, err, &storageErr)
}

func TestResolve_Unknown(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Resolve("no-such-session")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestHistory_AppendAndOrder(t *testing.T) {
	store := newTestStore(t)
	sess, err := store.Create()
	require.NoError(t, err)

	require.NoError(t, store.AppendTurn(sess.ID, Turn{Role: "user", Content: "hello"}))
	require.NoError(t, store.AppendTurn(sess.ID, Turn{Role: "agent", Content: "hi there"}))

	turns, err := store.History(sess.ID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "user", turns[0].Role)
	assert.Equal(t, "hello", turns[0].Content)
	assert.Equal(t, "agent", turns[1].Role)
	assert.False(t, turns[0].Timestamp.IsZero())
}

func TestEnd_DiscardsMemoryKeepsDirectories(t *testing.T) {
	store := newTestStore(t)
	sess, err := store.Create()
	require.NoError(t, err)
	require.NoError(t, store.AppendTurn(sess.ID, Turn{Role: "user", Content: "hello"}))

	store.End(sess.ID)

	_, err = store.Resolve(sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, StatusClosed, sess.Status())

	// Logs and outputs are not garbage; cleanup is an external retention
	// policy.
	_, err = os.Stat(sess.Paths.Root)
	assert.NoError(t, err)
}

func TestHistory_LostOnRestart(t *testing.T) {
	root := filepath.Join(t.TempDir(), "sessions")

	store, err := NewStore(root)
	require.NoError(t, err)
	sess, err := store.Create()
	require.NoError(t, err)
	require.NoError(t, store.AppendTurn(sess.ID, Turn{Role: "user", Content: "hello"}))

	// A fresh store over the same root simulates a host restart: the
	// directories survive, the conversation does not. Deliberate non-goal.
	restarted, err := NewStore(root)
	require.NoError(t, err)

	_, err = restarted.History(sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = os.Stat(sess.Paths.Outputs)
	assert.NoError(t, err)
}

func TestRegisterUpload(t *testing.T) {
	store := newTestStore(t)
	sess, err := store.Create()
	require.NoError(t, err)

	require.NoError(t, store.RegisterUpload(sess.ID, "file-1"))
	require.NoError(t, store.RegisterUpload(sess.ID, "file-2"))

	ids, err := store.Uploads(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"file-1", "file-2"}, ids)

	assert.ErrorIs(t, store.RegisterUpload("missing", "x"), ErrSessionNotFound)
}

func TestList_NewestFirst(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Create()
	require.NoError(t, err)
	_, err = store.Create()
	require.NoError(t, err)

	sessions := store.List()
	require.Len(t, sessions, 2)
	assert.True(t, !sessions[0].CreatedAt.Before(sessions[1].CreatedAt))
}

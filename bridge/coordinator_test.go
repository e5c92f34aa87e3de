package bridge_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixtools/biomni-bridge/bridge"
	"github.com/aixtools/biomni-bridge/parse"
	"github.com/aixtools/biomni-bridge/session"
	"github.com/aixtools/biomni-bridge/supervisor"
)

type fixture struct {
	store *session.Store
	coord *bridge.Coordinator
	sess  *session.Session
}

// newFixture wires a coordinator over a fake agent script and one fresh
// session. The script body runs under /bin/sh with the query as "$1".
func newFixture(t *testing.T, script string, opts ...bridge.Option) *fixture {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake agent scripts need a POSIX shell")
	}

	agent := filepath.Join(t.TempDir(), "fake-agent")
	require.NoError(t, os.WriteFile(agent, []byte("#!/bin/sh\n"+script), 0o755))

	store, err := session.NewStore(filepath.Join(t.TempDir(), "sessions"))
	require.NoError(t, err)

	sup := supervisor.New(supervisor.Config{
		AgentPath: agent,
		Timeout:   30 * time.Second,
	}, nil)

	opts = append([]bridge.Option{bridge.WithMinUpdateBytes(1)}, opts...)
	coord := bridge.New(store, sup, opts...)

	sess, err := store.Create()
	require.NoError(t, err)

	return &fixture{store: store, coord: coord, sess: sess}
}

// answerScript emits the given body as one AI message.
func answerScript(body string) string {
	return "cat <<'EOF'\n" + parse.AIMarker + "\n" + body + "\nEOF\n"
}

// collect drains the update stream and returns every update in order.
func collect(t *testing.T, updates <-chan bridge.Update) []bridge.Update {
	t.Helper()
	var all []bridge.Update
	for u := range updates {
		all = append(all, u)
	}
	require.NotEmpty(t, all, "stream must emit at least the terminal update")
	return all
}

func TestHandleQuery_UnknownSession(t *testing.T) {
	f := newFixture(t, answerScript("hi"))

	_, err := f.coord.HandleQuery(context.Background(), "no-such-session", "q", nil)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestHandleQuery_EndToEnd(t *testing.T) {
	f := newFixture(t, answerScript("Solution:\nDone.\n```python\nprint(1)\n```"))

	updates, err := f.coord.HandleQuery(context.Background(), f.sess.ID, "run it", nil)
	require.NoError(t, err)
	all := collect(t, updates)

	final := all[len(all)-1]
	assert.True(t, final.Terminal())
	assert.Equal(t, supervisor.StateSucceeded, final.State)
	assert.Empty(t, final.Err)

	require.Len(t, final.Blocks, 2)
	assert.Equal(t, parse.KindSection, final.Blocks[0].Kind)
	assert.Equal(t, "Solution", final.Blocks[0].Label)
	assert.Equal(t, "Done.", final.Blocks[0].Content)
	assert.Equal(t, parse.KindCode, final.Blocks[1].Kind)
	assert.Equal(t, "print(1)", final.Blocks[1].Content)

	// Only the last update is terminal.
	for _, u := range all[:len(all)-1] {
		assert.False(t, u.Terminal())
		assert.Equal(t, supervisor.StateRunning, u.State)
	}
}

func TestHandleQuery_RecordsConversation(t *testing.T) {
	f := newFixture(t, answerScript("Solution:\nTake two.\n"))

	updates, err := f.coord.HandleQuery(context.Background(), f.sess.ID, "how many", nil)
	require.NoError(t, err)
	collect(t, updates)

	turns, err := f.store.History(f.sess.ID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "user", turns[0].Role)
	assert.Equal(t, "how many", turns[0].Content)
	assert.Equal(t, "agent", turns[1].Role)
	assert.Equal(t, "Solution: Take two.", turns[1].Content)
}

func TestHandleQuery_Conflict(t *testing.T) {
	f := newFixture(t, "sleep 10")

	updates, err := f.coord.HandleQuery(context.Background(), f.sess.ID, "first", nil)
	require.NoError(t, err)

	_, err = f.coord.HandleQuery(context.Background(), f.sess.ID, "second", nil)
	assert.ErrorIs(t, err, supervisor.ErrInvocationConflict)

	require.True(t, f.coord.Stop(f.sess.ID))
	all := collect(t, updates)
	assert.Equal(t, supervisor.StateCancelled, all[len(all)-1].State)
}

func TestHandleQuery_Failure(t *testing.T) {
	f := newFixture(t, answerScript("partial answer")+"printf 'boom\\n' >&2\nexit 2\n")

	updates, err := f.coord.HandleQuery(context.Background(), f.sess.ID, "q", nil)
	require.NoError(t, err)
	all := collect(t, updates)

	final := all[len(all)-1]
	assert.Equal(t, supervisor.StateFailed, final.State)
	assert.Equal(t, 2, final.ExitCode)
	assert.NotEmpty(t, final.Err)

	// Partial output survives the failure.
	require.NotEmpty(t, final.Blocks)
	assert.Equal(t, "partial answer", final.Blocks[0].Content)

	// Failed invocations leave no agent turn behind.
	turns, err := f.store.History(f.sess.ID)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "user", turns[0].Role)
}

func TestHandleQuery_Timeout(t *testing.T) {
	f := newFixture(t, "sleep 10")
	// Shrink the deadline through a dedicated supervisor.
	sup := supervisor.New(supervisor.Config{
		AgentPath: scriptPath(t, "sleep 10"),
		Timeout:   200 * time.Millisecond,
	}, nil)
	coord := bridge.New(f.store, sup, bridge.WithMinUpdateBytes(1))

	updates, err := coord.HandleQuery(context.Background(), f.sess.ID, "q", nil)
	require.NoError(t, err)
	all := collect(t, updates)
	assert.Equal(t, supervisor.StateTimedOut, all[len(all)-1].State)
}

func scriptPath(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-agent")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestHandleQuery_ThrottleSuppressesSmallUpdates(t *testing.T) {
	f := newFixture(t, answerScript("short answer"),
		bridge.WithMinUpdateBytes(1<<20))

	updates, err := f.coord.HandleQuery(context.Background(), f.sess.ID, "q", nil)
	require.NoError(t, err)
	all := collect(t, updates)

	// Nothing crossed the threshold, so the terminal update is the only one
	// and it still carries the full content.
	require.Len(t, all, 1)
	assert.True(t, all[0].Terminal())
	require.Len(t, all[0].Blocks, 1)
	assert.Equal(t, "short answer", all[0].Blocks[0].Content)
}

func TestHandleQuery_ReportsArtifacts(t *testing.T) {
	f := newFixture(t, answerScript("wrote a file")+"printf 'data' > analysis.csv\n")

	updates, err := f.coord.HandleQuery(context.Background(), f.sess.ID, "q", nil)
	require.NoError(t, err)
	all := collect(t, updates)

	final := all[len(all)-1]
	require.Equal(t, supervisor.StateSucceeded, final.State)
	assert.Contains(t, final.Artifacts, "analysis.csv")

	// The artifact really lives in the session's outputs directory.
	_, err = os.Stat(filepath.Join(f.sess.Paths.Outputs, "analysis.csv"))
	assert.NoError(t, err)
}

func TestHandleQuery_FilesPassedToAgent(t *testing.T) {
	script := "cat <<EOF\n" + parse.AIMarker + "\nargs: $1 $2\nEOF\n"
	f := newFixture(t, script)

	updates, err := f.coord.HandleQuery(context.Background(), f.sess.ID, "the query",
		[]string{"upload-1.csv"})
	require.NoError(t, err)
	all := collect(t, updates)

	final := all[len(all)-1]
	require.Equal(t, supervisor.StateSucceeded, final.State)
	require.NotEmpty(t, final.Blocks)
	assert.Equal(t, "args: upload-1.csv the query", final.Blocks[0].Content)
}

func TestStop_NoActiveInvocation(t *testing.T) {
	f := newFixture(t, answerScript("hi"))
	assert.False(t, f.coord.Stop(f.sess.ID))
}

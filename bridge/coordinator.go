// Package bridge connects supervisor output to UI-visible incremental
// updates, independent of any specific UI transport. Each query produces a
// finite, non-restartable sequence of updates ending in exactly one terminal
// status.
package bridge

import (
	"context"
	"errors"
	"strings"

	"github.com/aixtools/biomni-bridge/artifacts"
	"github.com/aixtools/biomni-bridge/logging"
	"github.com/aixtools/biomni-bridge/parse"
	"github.com/aixtools/biomni-bridge/session"
	"github.com/aixtools/biomni-bridge/supervisor"
)

// Update is one UI-ready snapshot: the full current ordered block list plus
// the invocation status. The final update before the channel closes always
// reflects the complete buffer and carries a terminal state.
type Update struct {
	Err       string
	Blocks    []parse.Block
	Artifacts []string // files the agent wrote to outputs/, final update only
	State     supervisor.State
	ExitCode  int
}

// Terminal reports whether this is the closing update of the sequence.
func (u Update) Terminal() bool {
	return u.State.Terminal()
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMinUpdateBytes sets how much new content must accumulate before an
// intermediate update is emitted. Bounds update frequency without dropping
// content.
func WithMinUpdateBytes(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.minUpdateBytes = n
		}
	}
}

// WithLogger sets the coordinator's logger.
func WithLogger(log *logging.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

// Coordinator orchestrates one query at a time per session: it starts the
// invocation, re-parses the growing buffer as chunks arrive, and emits
// throttled updates.
type Coordinator struct {
	store          *session.Store
	sup            *supervisor.Supervisor
	log            *logging.Logger
	minUpdateBytes int
}

// New creates a Coordinator over a session store and a supervisor.
func New(store *session.Store, sup *supervisor.Supervisor, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:          store,
		sup:            sup,
		log:            logging.Nop(),
		minUpdateBytes: 256,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HandleQuery starts the agent for a session query and returns the update
// stream. Errors that prevent the stream from starting at all (unknown
// session, invocation conflict, launch failure) are returned here; once the
// stream is live, failures arrive as a terminal Update instead.
//
// files are already-validated paths under the session's uploads directory,
// handed to the agent untouched.
func (c *Coordinator) HandleQuery(ctx context.Context, sessionID, query string, files []string) (<-chan Update, error) {
	paths, err := c.store.Resolve(sessionID)
	if err != nil {
		return nil, err
	}

	opts := []supervisor.StartOption{supervisor.WithLogDir(paths.Logs)}
	if len(files) > 0 {
		opts = append(opts, supervisor.WithExtraArgs(files...))
	}

	inv, err := c.sup.Start(sessionID, query, paths.Outputs, opts...)
	if err != nil {
		return nil, err
	}

	if err := c.store.AppendTurn(sessionID, session.Turn{Role: "user", Content: query}); err != nil {
		// Session vanished between Resolve and here; stop the orphan.
		inv.Cancel()
		return nil, err
	}

	watcher, werr := artifacts.Watch(paths.Outputs)
	if werr != nil {
		c.log.WithSessionID(sessionID).WithError(werr).Warn("artifact watching disabled")
	}

	updates := make(chan Update, 1)
	go c.run(ctx, sessionID, inv, watcher, updates)
	return updates, nil
}

// Stop cancels the session's active invocation, if any (user-initiated stop).
func (c *Coordinator) Stop(sessionID string) bool {
	return c.sup.Cancel(sessionID)
}

// run drives one invocation to completion: Running → exactly one of
// Succeeded, Failed, TimedOut, Cancelled.
func (c *Coordinator) run(ctx context.Context, sessionID string, inv *supervisor.Invocation, watcher *artifacts.Watcher, updates chan<- Update) {
	defer close(updates)

	log := c.log.WithSessionID(sessionID).WithInvocation(inv.Seq)

	emitted := 0 // buffer length at the last emitted update
	for {
		_, err := inv.NextChunk(ctx)
		if errors.Is(err, supervisor.ErrStreamClosed) {
			break
		}
		if err != nil {
			// Caller abandoned the request; take the invocation down and
			// fall through to the terminal update.
			log.WithError(err).Info("request context ended, cancelling invocation")
			inv.Cancel()
			break
		}

		raw := inv.Buffer()
		if len(raw)-emitted < c.minUpdateBytes {
			continue
		}
		emitted = len(raw)
		updates <- Update{
			Blocks: parse.Parse(raw),
			State:  supervisor.StateRunning,
		}
	}

	// The stream has closed (or we cancelled); the terminal status follows
	// immediately.
	status, _ := inv.Wait(context.Background())

	final := Update{
		Blocks:   parse.Parse(inv.Buffer()),
		State:    status.State,
		ExitCode: status.ExitCode,
	}
	if status.Err != nil {
		final.Err = status.Err.Error()
	}
	if watcher != nil {
		final.Artifacts = watcher.Close()
	}

	if status.State == supervisor.StateSucceeded {
		if text := flattenBlocks(final.Blocks); text != "" {
			if err := c.store.AppendTurn(sessionID, session.Turn{Role: "agent", Content: text}); err != nil {
				log.WithError(err).Warn("agent turn not recorded")
			}
		}
	}

	updates <- final
}

// flattenBlocks renders the parsed blocks back to plain text for the
// session's conversation history.
func flattenBlocks(blocks []parse.Block) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		switch b.Kind {
		case parse.KindSection:
			parts = append(parts, b.Label+": "+b.Content)
		default:
			parts = append(parts, b.Content)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}

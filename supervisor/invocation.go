package supervisor

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/aixtools/biomni-bridge/internal/procattr"
)

// Source identifies which output channel a chunk arrived on.
type Source int

const (
	SourceStdout Source = iota
	SourceStderr
)

func (s Source) String() string {
	if s == SourceStderr {
		return "stderr"
	}
	return "stdout"
}

// Chunk is a unit of agent output delivered as it becomes available.
// Within one source, chunk order equals emission order; across the two
// sources ordering is best-effort only.
type Chunk struct {
	Time   time.Time
	Data   []byte
	Source Source
}

// stderrTailLimit bounds the stderr excerpt carried in ProcessError.
const stderrTailLimit = 4096

// Invocation is one running or completed execution of the agent for a
// session. Owned exclusively by the Supervisor; at most one is active per
// session at a time.
type Invocation struct {
	SessionID string
	Seq       int
	StartedAt time.Time
	Deadline  time.Time

	cmd    *exec.Cmd
	chunks chan Chunk

	// stopRead unblocks reader sends on cancellation/timeout; exited closes
	// after cmd.Wait returns; done closes after the terminal status is set.
	stopRead chan struct{}
	exited   chan struct{}
	done     chan struct{}

	timer *time.Timer

	mu         sync.Mutex
	buf        bytes.Buffer
	stderrTail []byte
	logFile    *os.File
	status     Status
	termReason State // Cancelled or TimedOut when terminate() ran, else Running
	terminated bool
}

// NextChunk blocks until the next chunk of output is available. It returns
// ErrStreamClosed once both channels have closed, or ctx.Err() if the
// caller's context ends first.
func (inv *Invocation) NextChunk(ctx context.Context) (Chunk, error) {
	select {
	case c, ok := <-inv.chunks:
		if !ok {
			return Chunk{}, ErrStreamClosed
		}
		return c, nil
	case <-ctx.Done():
		return Chunk{}, ctx.Err()
	}
}

// Wait blocks until the invocation reaches a terminal state, or until ctx
// ends. Timeout and cancellation resolve Wait with the corresponding status
// rather than leaving it pending.
func (inv *Invocation) Wait(ctx context.Context) (Status, error) {
	select {
	case <-inv.done:
		return inv.Status(), nil
	case <-ctx.Done():
		return inv.Status(), ctx.Err()
	}
}

// Cancel requests termination of a running invocation. Idempotent and safe
// to call concurrently with Wait and NextChunk.
func (inv *Invocation) Cancel() {
	inv.terminate(StateCancelled)
}

// Status returns the invocation's current status.
func (inv *Invocation) Status() Status {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.status
}

// Buffer returns a snapshot of the accumulated raw output. The buffer is
// append-only: no chunk is ever retracted or reordered after arrival.
func (inv *Invocation) Buffer() string {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.buf.String()
}

// Done returns a channel closed when the invocation reaches a terminal state.
func (inv *Invocation) Done() <-chan struct{} {
	return inv.done
}

// terminate kills the agent process group with a SIGTERM → SIGKILL ladder.
// First caller wins; the recorded reason distinguishes timeout from cancel
// in the final status.
func (inv *Invocation) terminate(reason State) {
	inv.mu.Lock()
	if inv.terminated {
		inv.mu.Unlock()
		return
	}
	inv.terminated = true
	inv.termReason = reason
	inv.mu.Unlock()

	close(inv.stopRead)

	if inv.cmd.Process != nil {
		_ = procattr.SignalGroup(inv.cmd.Process, syscall.SIGTERM)
	}

	select {
	case <-inv.exited:
		return
	case <-time.After(500 * time.Millisecond):
		// Process ignored SIGTERM, force kill.
	}

	if inv.cmd.Process != nil {
		_ = procattr.KillGroup(inv.cmd.Process)
	}
}

// readPipe drains one output channel, appending to the invocation buffer
// (and the mirror log, when configured) before publishing the chunk. The
// reader goroutines are the only buffer writers, one per channel.
func (inv *Invocation) readPipe(src Source, r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])

			inv.mu.Lock()
			inv.buf.Write(data)
			if inv.logFile != nil {
				_, _ = inv.logFile.Write(data)
			}
			if src == SourceStderr {
				inv.stderrTail = append(inv.stderrTail, data...)
				if len(inv.stderrTail) > stderrTailLimit {
					inv.stderrTail = inv.stderrTail[len(inv.stderrTail)-stderrTailLimit:]
				}
			}
			inv.mu.Unlock()

			select {
			case inv.chunks <- Chunk{Data: data, Source: src, Time: time.Now()}:
			case <-inv.stopRead:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

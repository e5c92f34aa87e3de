// Package supervisor launches and supervises agent invocations. It streams
// combined stdout/stderr output without blocking the caller, enforces
// per-invocation timeouts, and guarantees at most one active invocation per
// session.
package supervisor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/aixtools/biomni-bridge/internal/procattr"
	"github.com/aixtools/biomni-bridge/logging"
)

// Config holds agent launch settings shared by all invocations.
type Config struct {
	Env             map[string]string
	AgentPath       string        // agent executable (default "biomni-agent")
	AgentArgs       []string      // fixed args, the query is appended last
	Timeout         time.Duration // per-invocation deadline (default 10m)
	ChunkBufferSize int           // chunk channel capacity (default 64)
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.AgentPath == "" {
		cfg.AgentPath = "biomni-agent"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.ChunkBufferSize <= 0 {
		cfg.ChunkBufferSize = 64
	}
	return cfg
}

// StartOption overrides launch settings for a single invocation.
type StartOption func(*startConfig)

type startConfig struct {
	timeout   time.Duration
	logDir    string
	extraArgs []string
}

// WithTimeout overrides the configured timeout for one invocation.
func WithTimeout(d time.Duration) StartOption {
	return func(c *startConfig) { c.timeout = d }
}

// WithLogDir mirrors the raw output stream to invocation-NNN.log in dir.
func WithLogDir(dir string) StartOption {
	return func(c *startConfig) { c.logDir = dir }
}

// WithExtraArgs appends additional agent arguments before the query.
func WithExtraArgs(args ...string) StartOption {
	return func(c *startConfig) { c.extraArgs = args }
}

// Supervisor runs agent invocations. The session-to-invocation map is the
// only state mutated by concurrent request handlers; the lock is never held
// across a suspension point.
type Supervisor struct {
	mu     sync.Mutex
	active map[string]*Invocation
	seq    map[string]int
	config Config
	log    *logging.Logger
}

// New creates a Supervisor. A nil logger disables logging.
func New(cfg Config, log *logging.Logger) *Supervisor {
	if log == nil {
		log = logging.Nop()
	}
	return &Supervisor{
		active: make(map[string]*Invocation),
		seq:    make(map[string]int),
		config: cfg.withDefaults(),
		log:    log,
	}
}

// Start launches the agent for a session query, bound to workDir, and
// returns a handle immediately. It fails fast with ErrInvocationConflict if
// an invocation is already active for the session.
func (s *Supervisor) Start(sessionID, query, workDir string, opts ...StartOption) (*Invocation, error) {
	sc := startConfig{timeout: s.config.Timeout}
	for _, opt := range opts {
		opt(&sc)
	}

	s.mu.Lock()
	if _, busy := s.active[sessionID]; busy {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrInvocationConflict, sessionID)
	}
	s.seq[sessionID]++
	seq := s.seq[sessionID]
	// Reserve the slot before launching so a concurrent Start fails fast
	// instead of racing the process spawn.
	s.active[sessionID] = nil
	s.mu.Unlock()

	inv, err := s.launch(sessionID, seq, query, workDir, sc)
	s.mu.Lock()
	if err != nil {
		delete(s.active, sessionID)
		s.mu.Unlock()
		return nil, err
	}
	s.active[sessionID] = inv
	s.mu.Unlock()

	s.log.WithSessionID(sessionID).WithInvocation(seq).Info("invocation started",
		"agent", s.config.AgentPath, "workdir", workDir, "timeout", sc.timeout.String())
	return inv, nil
}

// Active returns the running invocation for a session, if any.
func (s *Supervisor) Active(sessionID string) (*Invocation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv := s.active[sessionID]
	return inv, inv != nil
}

// Cancel requests termination of a session's running invocation. It reports
// whether there was one.
func (s *Supervisor) Cancel(sessionID string) bool {
	inv, ok := s.Active(sessionID)
	if !ok {
		return false
	}
	inv.Cancel()
	return true
}

// launch builds and starts the agent process and its supervision goroutines.
func (s *Supervisor) launch(sessionID string, seq int, query, workDir string, sc startConfig) (*Invocation, error) {
	args := make([]string, 0, len(s.config.AgentArgs)+len(sc.extraArgs)+1)
	args = append(args, s.config.AgentArgs...)
	args = append(args, sc.extraArgs...)
	args = append(args, query)

	cmd := exec.Command(s.config.AgentPath, args...)
	cmd.Dir = workDir

	cmd.Env = os.Environ()
	for k, v := range s.config.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	// Process group, so timeout/cancel can take down the agent's own workers.
	procattr.Set(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &ProcessError{Message: "failed to create stdout pipe", Cause: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &ProcessError{Message: "failed to create stderr pipe", Cause: err}
	}

	now := time.Now()
	inv := &Invocation{
		SessionID: sessionID,
		Seq:       seq,
		StartedAt: now,
		Deadline:  now.Add(sc.timeout),
		cmd:       cmd,
		chunks:    make(chan Chunk, s.config.ChunkBufferSize),
		stopRead:  make(chan struct{}),
		exited:    make(chan struct{}),
		done:      make(chan struct{}),
		status:    Status{State: StateRunning},
	}

	if sc.logDir != "" {
		path := filepath.Join(sc.logDir, fmt.Sprintf("invocation-%03d.log", seq))
		f, ferr := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if ferr != nil {
			s.log.WithSessionID(sessionID).WithError(ferr).Warn("cannot open invocation log, raw output will not be mirrored")
		} else {
			inv.logFile = f
		}
	}

	if err := cmd.Start(); err != nil {
		if inv.logFile != nil {
			inv.logFile.Close()
		}
		if errors.Is(err, exec.ErrNotFound) {
			return nil, &AgentNotFoundError{Path: s.config.AgentPath, Cause: err}
		}
		return nil, &ProcessError{Message: "failed to start agent process", Cause: err}
	}

	inv.timer = time.AfterFunc(sc.timeout, func() {
		s.log.WithSessionID(sessionID).WithInvocation(seq).Warn("invocation deadline exceeded, terminating")
		inv.terminate(StateTimedOut)
	})

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		inv.readPipe(SourceStdout, stdout)
	}()
	go func() {
		defer readers.Done()
		inv.readPipe(SourceStderr, stderr)
	}()

	go s.supervise(inv, &readers)

	return inv, nil
}

// supervise joins the reader goroutines, reaps the process, records the
// terminal status, and releases the session slot. Every exit path runs
// through here, so handles and pipes never leak.
func (s *Supervisor) supervise(inv *Invocation, readers *sync.WaitGroup) {
	readers.Wait()
	werr := inv.cmd.Wait()
	close(inv.exited)
	inv.timer.Stop()

	exitCode := 0
	var exitErr *exec.ExitError
	if errors.As(werr, &exitErr) {
		exitCode = exitErr.ExitCode()
	}

	inv.mu.Lock()
	status := Status{ExitCode: exitCode}
	switch {
	case inv.termReason == StateTimedOut || inv.termReason == StateCancelled:
		status.State = inv.termReason
	case werr == nil:
		status.State = StateSucceeded
	case exitErr != nil:
		status.State = StateFailed
		status.Err = &ProcessError{
			Message:  "agent exited with non-zero status",
			ExitCode: exitCode,
			Stderr:   string(inv.stderrTail),
			Cause:    werr,
		}
	default:
		status.State = StateFailed
		status.Err = &ProcessError{Message: "agent process failed", Cause: werr}
	}
	inv.status = status
	if inv.logFile != nil {
		inv.logFile.Close()
		inv.logFile = nil
	}
	inv.mu.Unlock()

	close(inv.chunks)
	close(inv.done)

	s.mu.Lock()
	if s.active[inv.SessionID] == inv {
		delete(s.active, inv.SessionID)
	}
	s.mu.Unlock()

	log := s.log.WithSessionID(inv.SessionID).WithInvocation(inv.Seq).WithDuration(time.Since(inv.StartedAt))
	switch status.State {
	case StateSucceeded:
		log.Info("invocation completed")
	case StateFailed:
		log.WithError(status.Err).Error("invocation failed", "exit_code", exitCode)
	default:
		log.Info("invocation ended", "state", status.State.String())
	}
}

// Package session owns session identity and isolated per-session filesystem
// layout. It never touches process or parsing logic.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status describes a session's lifecycle state.
type Status string

const (
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

// Turn is a single conversation entry kept in memory only. History is
// deliberately lost on process restart.
type Turn struct {
	Timestamp time.Time
	Role      string // "user" or "agent"
	Content   string
}

// Paths is the directory layout of one session. The root is disjoint from
// every other session's root and from the shared agent-data root.
type Paths struct {
	Root    string
	Logs    string
	Outputs string
	Uploads string
}

// Session holds the in-memory state of one conversational context.
type Session struct {
	ID        string
	CreatedAt time.Time
	Paths     Paths

	mu      sync.Mutex
	status  Status
	turns   []Turn
	uploads []string // uploaded file IDs, registration only
}

// Store allocates and resolves isolated per-session storage.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	root     string
}

// NewStore creates a store rooted at dir, creating dir if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &StorageError{Op: "create session root", Path: dir, Cause: err}
	}
	return &Store{
		sessions: make(map[string]*Session),
		root:     dir,
	}, nil
}

// Create allocates a new session with a collision-resistant ID and its
// logs/, outputs/ and uploads/ directories.
func (s *Store) Create() (*Session, error) {
	id := uuid.NewString()

	root := filepath.Join(s.root, id)
	paths := Paths{
		Root:    root,
		Logs:    filepath.Join(root, "logs"),
		Outputs: filepath.Join(root, "outputs"),
		Uploads: filepath.Join(root, "uploads"),
	}

	for _, dir := range []string{paths.Logs, paths.Outputs, paths.Uploads} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &StorageError{Op: "create session directories", Path: dir, Cause: err}
		}
	}

	sess := &Session{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		Paths:     paths,
		status:    StatusActive,
	}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	return sess, nil
}

// Resolve returns the directory layout for an existing session.
// Unknown IDs fail with ErrSessionNotFound; callers must treat that as
// "cannot proceed", not recover silently.
func (s *Store) Resolve(id string) (Paths, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return Paths{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess.Paths, nil
}

// Get returns the live session for an ID, or ErrSessionNotFound.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

// AppendTurn records a conversation entry on a session.
func (s *Store) AppendTurn(id string, turn Turn) error {
	sess, err := s.Get(id)
	if err != nil {
		return err
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}

	sess.mu.Lock()
	sess.turns = append(sess.turns, turn)
	sess.mu.Unlock()
	return nil
}

// History returns a copy of a session's conversation history in order.
func (s *Store) History(id string) ([]Turn, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	out := make([]Turn, len(sess.turns))
	copy(out, sess.turns)
	return out, nil
}

// RegisterUpload records an uploaded file ID on a session.
func (s *Store) RegisterUpload(id, fileID string) error {
	sess, err := s.Get(id)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	sess.uploads = append(sess.uploads, fileID)
	sess.mu.Unlock()
	return nil
}

// Uploads returns the uploaded file IDs registered on a session.
func (s *Store) Uploads(id string) ([]string, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	out := make([]string, len(sess.uploads))
	copy(out, sess.uploads)
	return out, nil
}

// End discards a session's in-memory state. Directories are left on disk;
// cleanup is an external retention policy, not this component's job.
func (s *Store) End(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if ok {
		sess.mu.Lock()
		sess.status = StatusClosed
		sess.turns = nil
		sess.uploads = nil
		sess.mu.Unlock()
	}
}

// List returns all live sessions sorted by creation time descending.
func (s *Store) List() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions
}

// Status returns the session's lifecycle status.
func (sess *Session) Status() Status {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.status
}

// Package uploads stores user-supplied files inside a session's uploads
// directory. Validation covers the interface contract only: a sanitized
// name, an extension allowlist and a size cap. File contents are never
// inspected.
package uploads

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Validation failures surfaced to the UI layer.
var (
	ErrEmptyFile      = errors.New("file content is empty")
	ErrTypeNotAllowed = errors.New("file type not allowed")
	ErrTooLarge       = errors.New("file exceeds size limit")
)

// File describes one stored upload. Path is inside the session's uploads
// directory and is handed to the agent invocation untouched.
type File struct {
	UploadedAt   time.Time
	ID           string
	OriginalName string
	SafeName     string
	Ext          string
	Path         string
	Size         int64
}

// Store writes validated uploads into a session's uploads directory.
type Store struct {
	allowedExts map[string]struct{}
	maxBytes    int64
}

// NewStore creates an upload store. allowedExts are lowercase extensions
// without the dot; maxMB caps the stored size.
func NewStore(allowedExts []string, maxMB int) *Store {
	allowed := make(map[string]struct{}, len(allowedExts))
	for _, ext := range allowedExts {
		allowed[strings.ToLower(ext)] = struct{}{}
	}
	return &Store{
		allowedExts: allowed,
		maxBytes:    int64(maxMB) * 1024 * 1024,
	}
}

// Save stores the content of r as {uploadsDir}/{id}.{ext}. The original
// name is only used for the extension and the sanitized display name.
func (s *Store) Save(uploadsDir, originalName string, r io.Reader) (*File, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(originalName), "."))
	if _, ok := s.allowedExts[ext]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrTypeNotAllowed, ext)
	}

	id := uuid.NewString()
	path := filepath.Join(uploadsDir, id+"."+ext)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("create upload: %w", err)
	}

	// Copy one byte past the cap so oversized input is detected without
	// buffering it all.
	n, err := io.Copy(f, io.LimitReader(r, s.maxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write upload: %w", err)
	}
	if n == 0 {
		os.Remove(path)
		return nil, ErrEmptyFile
	}
	if n > s.maxBytes {
		os.Remove(path)
		return nil, fmt.Errorf("%w: limit %d bytes", ErrTooLarge, s.maxBytes)
	}

	return &File{
		ID:           id,
		OriginalName: originalName,
		SafeName:     Sanitize(originalName),
		Ext:          ext,
		Size:         n,
		Path:         path,
		UploadedAt:   time.Now().UTC(),
	}, nil
}

// Sanitize strips path components and replaces characters outside
// [A-Za-z0-9._-] so a display name can never escape the uploads directory.
func Sanitize(name string) string {
	name = filepath.Base(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" || strings.Trim(out, "._") == "" {
		return "file"
	}
	return out
}

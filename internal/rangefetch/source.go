// Package rangefetch reads a large remote file in aligned chunks using byte
// range requests, so that an SQLite engine can page through a database it
// never downloads whole.
package rangefetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"archimap/pkg/models"
)

var (
	ErrSizeMismatch  = errors.New("rangefetch: declared size does not match content length")
	ErrShortRead     = errors.New("rangefetch: short read")
	ErrNoInfo        = errors.New("rangefetch: database info not published")
	// ErrSourceChanged means the origin now serves a different file than
	// the one whose pages are already in use.
	ErrSourceChanged = errors.New("rangefetch: source file changed")
)

// Source is a random-access origin for the file.
type Source interface {
	Name() string
	Size(ctx context.Context) (int64, error)
	// ReadRange returns the n bytes at off. It returns fewer bytes only when
	// the range crosses the end of the file.
	ReadRange(ctx context.Context, off, n int64) ([]byte, error)
}

// InfoSource is implemented by sources that can publish the sidecar
// describing the file.
type InfoSource interface {
	Info(ctx context.Context) (models.DatabaseInfo, error)
}

// StatusError is a non-success response from a remote origin.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("rangefetch: %s: unexpected status %d", e.URL, e.Code)
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == 429 || e.Code == 408
}

// IsTemporary classifies fetch errors for the retry loop.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrSizeMismatch) || errors.Is(err, ErrNoInfo) || errors.Is(err, ErrSourceChanged) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}

// FileSource reads a local file. It is used when the server queries the
// same file it publishes.
type FileSource struct {
	Path string
	f    *os.File
}

func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &FileSource{Path: path, f: f}, nil
}

func (s *FileSource) Name() string { return "file:" + s.Path }

func (s *FileSource) Size(ctx context.Context) (int64, error) {
	st, err := s.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", s.Path, err)
	}
	return st.Size(), nil
}

func (s *FileSource) ReadRange(ctx context.Context, off, n int64) ([]byte, error) {
	buf := make([]byte, n)
	got, err := s.f.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read %s at %d: %w", s.Path, off, err)
	}
	return buf[:got], nil
}

func (s *FileSource) Close() error {
	return s.f.Close()
}

// Package staging holds the ordered, in-memory list of files selected for
// submission but not yet sent to the parsing service.
package staging

import (
	"errors"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
)

// ErrNotStaged is returned when a removal targets an ID that is not in the store.
var ErrNotStaged = errors.New("file not staged")

// OpenFunc opens the underlying content of a staged file for reading.
type OpenFunc func() (io.ReadCloser, error)

// StagedFile wraps a reference to a selected file. The bytes themselves are
// only read at transfer time; the store never copies them.
type StagedFile struct {
	ID        uuid.UUID
	Name      string
	Size      int64
	MediaType string

	// Open yields the file content. It may be called more than once
	// (qualification sniffing and the transfer itself each open the file).
	Open OpenFunc

	// Discard releases the underlying reference when the file leaves the
	// store. Optional.
	Discard func() error
}

// FromPath stages a file that lives on disk.
func FromPath(path, name, mediaType string, size int64) *StagedFile {
	return &StagedFile{
		Name:      name,
		Size:      size,
		MediaType: mediaType,
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}
}

// Store is the staging area. It preserves arrival order and assigns each
// file a stable ID at add time, so removal stays unambiguous under mutation.
type Store struct {
	mu    sync.Mutex
	files []*StagedFile
}

func NewStore() *Store {
	return &Store{}
}

// Add appends files to the end of the list in arrival order. No validation
// happens here; qualification is the intake's job.
func (s *Store) Add(files ...*StagedFile) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range files {
		if f.ID == uuid.Nil {
			f.ID = uuid.New()
		}

		s.files = append(s.files, f)
	}
}

// Remove drops the file with the given ID and releases its reference.
// Returns ErrNotStaged if the ID is unknown.
func (s *Store) Remove(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, f := range s.files {
		if f.ID == id {
			s.files = append(s.files[:i], s.files[i+1:]...)

			if f.Discard != nil {
				return f.Discard()
			}

			return nil
		}
	}

	return ErrNotStaged
}

// Clear empties the store, releasing every held reference. Discard failures
// are best-effort; the first one encountered is returned.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error

	for _, f := range s.files {
		if f.Discard == nil {
			continue
		}

		if err := f.Discard(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	s.files = nil

	return firstErr
}

// Files returns an ordered snapshot of the staged files.
func (s *Store) Files() []*StagedFile {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make([]*StagedFile, len(s.files))
	copy(snapshot, s.files)

	return snapshot
}

// Len reports how many files are currently staged.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.files)
}

package state

import (
	"context"
	"fmt"
	"os"
	"sync"

	"DealScanner/internal/ports"
)

// FileStore keeps the state document in a local JSON file. It mirrors the
// bucket store's generation contract with an in-process counter, which is
// enough for local development where only one process touches the file.
type FileStore struct {
	mu   sync.Mutex
	path string
	gen  int64
}

var _ ports.BlobStore = (*FileStore)(nil)

// NewFileStore uses the file at path as state storage.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load(_ context.Context) ([]byte, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("file store: read %s: %w", s.path, err)
	}
	if s.gen == 0 {
		s.gen = 1
	}
	return data, s.gen, nil
}

func (s *FileStore) Save(_ context.Context, data []byte, generation int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if generation != s.gen {
		return 0, ports.ErrConflict
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return 0, fmt.Errorf("file store: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return 0, fmt.Errorf("file store: rename %s: %w", tmp, err)
	}
	s.gen++
	return s.gen, nil
}

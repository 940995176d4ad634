package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/layer-3/xcafe/core"
	"github.com/layer-3/xcafe/ports"
)

// MemorySessionStore keeps the serialized session record in memory
type MemorySessionStore struct {
	mu   sync.Mutex
	blob []byte
}

// NewMemorySessionStore creates an empty in-memory session store
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{}
}

var _ ports.SessionStore = (*MemorySessionStore)(nil)

func (s *MemorySessionStore) Load(context.Context) (*core.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blob == nil {
		return nil, core.ErrSessionNotFound
	}
	return decodeRecord(s.blob)
}

func (s *MemorySessionStore) Save(_ context.Context, record core.SessionRecord) error {
	blob, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	s.mu.Lock()
	s.blob = blob
	s.mu.Unlock()
	return nil
}

func (s *MemorySessionStore) Clear(context.Context) error {
	s.mu.Lock()
	s.blob = nil
	s.mu.Unlock()
	return nil
}

// FileSessionStore keeps the session record in a JSON file named after
// core.SessionRecordKey
type FileSessionStore struct {
	mu   sync.Mutex
	path string
}

// NewFileSessionStore stores the record under dir, creating it if needed
func NewFileSessionStore(dir string) (*FileSessionStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create session dir: %w", err)
	}
	return &FileSessionStore{path: filepath.Join(dir, core.SessionRecordKey+".json")}, nil
}

var _ ports.SessionStore = (*FileSessionStore)(nil)

func (s *FileSessionStore) Load(context.Context) (*core.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, core.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	return decodeRecord(blob)
}

func (s *FileSessionStore) Save(_ context.Context, record core.SessionRecord) error {
	blob, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFileAtomic(s.path, blob, 0o600)
}

func (s *FileSessionStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}

// decodeRecord treats an unreadable blob as no session at all.
func decodeRecord(blob []byte) (*core.SessionRecord, error) {
	var rec core.SessionRecord
	if err := json.Unmarshal(blob, &rec); err != nil {
		return nil, fmt.Errorf("corrupt session record: %w", core.ErrSessionNotFound)
	}
	if rec.Account == "" || !rec.IsAuthenticated {
		return nil, core.ErrSessionNotFound
	}
	return &rec, nil
}

// writeFileAtomic replaces path with data via a temp file and rename.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

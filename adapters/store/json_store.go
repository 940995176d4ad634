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

const (
	usersFile   = "users.json"
	widgetsFile = "widgets.json"
)

// JSONRepository persists the backend tables as JSON files in a directory.
// Reads are served from memory; every write rewrites the affected file.
type JSONRepository struct {
	*MemoryRepository

	dir     string
	flushMu sync.Mutex
}

var _ ports.Repository = (*JSONRepository)(nil)

// OpenJSONRepository loads dir, creating it and empty tables when missing.
func OpenJSONRepository(dir string) (*JSONRepository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	repo := &JSONRepository{MemoryRepository: NewMemoryRepository(), dir: dir}

	var users []core.User
	if err := readJSON(filepath.Join(dir, usersFile), &users); err != nil {
		return nil, err
	}
	for i := range users {
		u := users[i]
		repo.users[userKey(u.Address)] = &u
	}

	var widgets []core.Widget
	if err := readJSON(filepath.Join(dir, widgetsFile), &widgets); err != nil {
		return nil, err
	}
	for i := range widgets {
		w := widgets[i]
		repo.widgets[w.ID] = &w
	}
	return repo, nil
}

func (r *JSONRepository) CreateUser(ctx context.Context, user *core.User) error {
	if err := r.MemoryRepository.CreateUser(ctx, user); err != nil {
		return err
	}
	return r.flush(usersFile)
}

func (r *JSONRepository) SaveUser(ctx context.Context, user *core.User) error {
	if err := r.MemoryRepository.SaveUser(ctx, user); err != nil {
		return err
	}
	return r.flush(usersFile)
}

func (r *JSONRepository) SaveWidget(ctx context.Context, widget *core.Widget) error {
	if err := r.MemoryRepository.SaveWidget(ctx, widget); err != nil {
		return err
	}
	return r.flush(widgetsFile)
}

func (r *JSONRepository) DeleteWidget(ctx context.Context, id string) error {
	if err := r.MemoryRepository.DeleteWidget(ctx, id); err != nil {
		return err
	}
	return r.flush(widgetsFile)
}

func (r *JSONRepository) flush(name string) error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	users, widgets := r.snapshot()
	var v any = users
	if name == widgetsFile {
		v = widgets
	}
	blob, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	return writeFileAtomic(filepath.Join(r.dir, name), blob, 0o644)
}

func readJSON(path string, v any) error {
	blob, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if len(blob) == 0 {
		return nil
	}
	if err := json.Unmarshal(blob, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

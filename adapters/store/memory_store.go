package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/layer-3/xcafe/core"
	"github.com/layer-3/xcafe/ports"
)

// MemoryRepository is an in-memory implementation of the Repository interface
type MemoryRepository struct {
	mu      sync.RWMutex
	users   map[string]*core.User
	widgets map[string]*core.Widget
}

// NewMemoryRepository creates a new in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:   make(map[string]*core.User),
		widgets: make(map[string]*core.Widget),
	}
}

var _ ports.Repository = (*MemoryRepository)(nil)

func userKey(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// GetUser returns a copy of the user stored for address
func (r *MemoryRepository) GetUser(_ context.Context, address string) (*core.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[userKey(address)]
	if !ok {
		return nil, core.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// CreateUser inserts a user unless the address is taken
func (r *MemoryRepository) CreateUser(_ context.Context, user *core.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := userKey(user.Address)
	if _, ok := r.users[key]; ok {
		return core.ErrUserExists
	}
	cp := *user
	r.users[key] = &cp
	return nil
}

// SaveUser overwrites an existing user
func (r *MemoryRepository) SaveUser(_ context.Context, user *core.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := userKey(user.Address)
	if _, ok := r.users[key]; !ok {
		return core.ErrUserNotFound
	}
	cp := *user
	r.users[key] = &cp
	return nil
}

func (r *MemoryRepository) CountUsers(context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users), nil
}

func (r *MemoryRepository) GetWidget(_ context.Context, id string) (*core.Widget, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.widgets[id]
	if !ok {
		return nil, core.ErrWidgetNotFound
	}
	cp := *w
	return &cp, nil
}

// ListWidgets returns copies ordered by creation time
func (r *MemoryRepository) ListWidgets(_ context.Context, owner string) ([]*core.Widget, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*core.Widget, 0, len(r.widgets))
	for _, w := range r.widgets {
		if owner != "" && !strings.EqualFold(w.Owner, owner) {
			continue
		}
		cp := *w
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// SaveWidget inserts or overwrites a widget
func (r *MemoryRepository) SaveWidget(_ context.Context, widget *core.Widget) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *widget
	r.widgets[widget.ID] = &cp
	return nil
}

func (r *MemoryRepository) DeleteWidget(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.widgets[id]; !ok {
		return core.ErrWidgetNotFound
	}
	delete(r.widgets, id)
	return nil
}

// snapshot copies both tables, users ordered by creation.
func (r *MemoryRepository) snapshot() ([]core.User, []core.Widget) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]core.User, 0, len(r.users))
	for _, u := range r.users {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })

	widgets := make([]core.Widget, 0, len(r.widgets))
	for _, w := range r.widgets {
		widgets = append(widgets, *w)
	}
	sort.Slice(widgets, func(i, j int) bool { return widgets[i].CreatedAt.Before(widgets[j].CreatedAt) })
	return users, widgets
}

package ports

import (
	"context"

	"github.com/layer-3/xcafe/core"
)

// SessionStore persists the single client-side session record.
// Load returns core.ErrSessionNotFound when nothing is stored.
type SessionStore interface {
	Load(ctx context.Context) (*core.SessionRecord, error)
	Save(ctx context.Context, record core.SessionRecord) error
	Clear(ctx context.Context) error
}

// UserRepository is the backend's user table
type UserRepository interface {
	GetUser(ctx context.Context, address string) (*core.User, error)
	// CreateUser fails with core.ErrUserExists for a known address.
	CreateUser(ctx context.Context, user *core.User) error
	SaveUser(ctx context.Context, user *core.User) error
	CountUsers(ctx context.Context) (int, error)
}

// WidgetRepository is the backend's widget table
type WidgetRepository interface {
	GetWidget(ctx context.Context, id string) (*core.Widget, error)
	// ListWidgets returns every widget when owner is empty.
	ListWidgets(ctx context.Context, owner string) ([]*core.Widget, error)
	SaveWidget(ctx context.Context, widget *core.Widget) error
	DeleteWidget(ctx context.Context, id string) error
}

// Repository bundles the backend tables
type Repository interface {
	UserRepository
	WidgetRepository
}

package ports

import (
	"context"

	"github.com/layer-3/xcafe/core"
)

// AuthService is the remote verification and system endpoint set
type AuthService interface {
	Verify(ctx context.Context, req core.VerifyRequest) (*core.VerifyResult, error)
	Setup(ctx context.Context, token string, req core.SetupRequest) (*core.SetupResult, error)
	Status(ctx context.Context) (*core.SystemStatus, error)
}

// UserStore is the remote user directory.
// GetUser returns core.ErrUserNotFound for unknown addresses.
type UserStore interface {
	GetUser(ctx context.Context, address string) (*core.User, error)
	CreateUser(ctx context.Context, user *core.User) (*core.User, error)
	UpdateUser(ctx context.Context, address string, update core.UserUpdate) (*core.User, error)
}

// WidgetService is the remote widget CRUD API. Every call carries the
// session bearer token.
type WidgetService interface {
	ListWidgets(ctx context.Context, token string) ([]*core.Widget, error)
	CreateWidget(ctx context.Context, token string, input core.WidgetInput) (*core.Widget, error)
	GetWidget(ctx context.Context, token, id string) (*core.Widget, error)
	UpdateWidget(ctx context.Context, token, id string, input core.WidgetInput) (*core.Widget, error)
	DeleteWidget(ctx context.Context, token, id string) error
}

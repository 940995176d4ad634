package ports

import (
	"context"

	"github.com/layer-3/xcafe/core"
)

// EventPublisher publishes notifications to listeners outside the process
type EventPublisher interface {
	Publish(ctx context.Context, event core.Event) error
}

// Notifier receives state-change notifications from the wallet and
// session components.
type Notifier interface {
	Notify(event core.Event)
}

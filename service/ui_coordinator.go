package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/layer-3/xcafe/core"
	"github.com/layer-3/xcafe/ports"
	"github.com/sirupsen/logrus"
)

// DefaultRefreshInterval is the period of the reconciliation tick.
const DefaultRefreshInterval = 15 * time.Second

// DisplayState is what a wallet badge or menu should render.
type DisplayState string

const (
	DisplayWalletRequired     DisplayState = "wallet-required"
	DisplayDisconnected       DisplayState = "disconnected"
	DisplayConnecting         DisplayState = "connecting"
	DisplayConnected          DisplayState = "connected"
	DisplayAuthenticated      DisplayState = "authenticated"
	DisplayUnsupportedNetwork DisplayState = "unsupported-network"
)

// View is a consistent snapshot of wallet and session state.
type View struct {
	Wallet           core.WalletState
	Network          *core.NetworkInfo
	NetworkSupported bool
	Session          *core.Session
}

// ViewSource supplies the snapshot attached to every update.
type ViewSource interface {
	View() View
}

// Syncer is implemented by view sources that can re-read their state from
// the outside world on the reconciliation tick.
type Syncer interface {
	Sync(ctx context.Context) error
}

// Update is delivered to every subscriber. Event is nil for a
// reconciliation tick.
type Update struct {
	Event core.Event
	View
	// Reload asks the subscriber to drop chain-scoped data and re-render.
	Reload bool
}

// Display derives the display state from the snapshot.
func (u Update) Display() DisplayState {
	switch {
	case !u.Wallet.IsAvailable:
		return DisplayWalletRequired
	case u.Wallet.IsConnecting:
		return DisplayConnecting
	case !u.Wallet.Connected():
		return DisplayDisconnected
	case u.Network != nil && !u.NetworkSupported:
		return DisplayUnsupportedNetwork
	case u.Session != nil:
		return DisplayAuthenticated
	default:
		return DisplayConnected
	}
}

// Subscriber renders state changes.
type Subscriber interface {
	OnUpdate(Update)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(Update)

func (f SubscriberFunc) OnUpdate(u Update) { f(u) }

// SubscriberID identifies a registration.
type SubscriberID uint64

// UIConfig configures a UICoordinator.
type UIConfig struct {
	Logger          logrus.FieldLogger
	RefreshInterval time.Duration
	// Publisher, when set, receives every event after local delivery.
	Publisher ports.EventPublisher
}

type registration struct {
	id  SubscriberID
	sub Subscriber
}

// UICoordinator fans notifications out to independent subscribers.
// Delivery is serialized and in registration order. Notifications raised
// while a delivery is running, from a subscriber or another goroutine, are
// queued and delivered afterwards in FIFO order.
type UICoordinator struct {
	started int32
	stopped int32

	logger    logrus.FieldLogger
	interval  time.Duration
	publisher ports.EventPublisher

	mu          sync.Mutex
	subs        []registration
	nextID      SubscriberID
	queue       []core.Event
	dispatching bool
	source      ViewSource

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewUICoordinator creates a coordinator with no subscribers.
func NewUICoordinator(cfg UIConfig) *UICoordinator {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	return &UICoordinator{
		logger:    cfg.Logger.WithField("component", "ui"),
		interval:  cfg.RefreshInterval,
		publisher: cfg.Publisher,
		quit:      make(chan struct{}),
	}
}

var _ ports.Notifier = (*UICoordinator)(nil)

// Attach sets the source of the snapshots carried by updates.
func (u *UICoordinator) Attach(src ViewSource) {
	u.mu.Lock()
	u.source = src
	u.mu.Unlock()
}

// Register adds a subscriber. It is called on every subsequent update.
func (u *UICoordinator) Register(sub Subscriber) SubscriberID {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.nextID++
	u.subs = append(u.subs, registration{id: u.nextID, sub: sub})
	return u.nextID
}

// RegisterFunc registers fn as a subscriber.
func (u *UICoordinator) RegisterFunc(fn func(Update)) SubscriberID {
	return u.Register(SubscriberFunc(fn))
}

// Unregister removes a subscriber. Unknown ids are ignored.
func (u *UICoordinator) Unregister(id SubscriberID) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for i, r := range u.subs {
		if r.id == id {
			u.subs = append(u.subs[:i:i], u.subs[i+1:]...)
			return
		}
	}
}

// Notify delivers event to all subscribers.
func (u *UICoordinator) Notify(event core.Event) {
	u.enqueue(event)
}

// Refresh delivers a snapshot-only update.
func (u *UICoordinator) Refresh() {
	u.enqueue(nil)
}

func (u *UICoordinator) enqueue(event core.Event) {
	u.mu.Lock()
	u.queue = append(u.queue, event)
	if u.dispatching {
		u.mu.Unlock()
		return
	}
	u.dispatching = true

	for len(u.queue) > 0 {
		next := u.queue[0]
		u.queue = u.queue[1:]
		subs := append([]registration(nil), u.subs...)
		src := u.source
		u.mu.Unlock()

		u.deliver(next, subs, src)

		u.mu.Lock()
	}
	u.dispatching = false
	u.mu.Unlock()
}

func (u *UICoordinator) deliver(event core.Event, subs []registration, src ViewSource) {
	upd := Update{Event: event}
	if src != nil {
		upd.View = src.View()
	}
	if nc, ok := event.(core.NetworkChanged); ok {
		upd.Reload = nc.ReloadRequired
	}

	for _, r := range subs {
		u.call(r, upd)
	}

	if event != nil && u.publisher != nil {
		if err := u.publisher.Publish(context.Background(), event); err != nil {
			u.logger.WithError(err).WithField("event", event.EventName()).Warn("failed to publish event")
		}
	}
}

func (u *UICoordinator) call(r registration, upd Update) {
	defer func() {
		if rec := recover(); rec != nil {
			u.logger.WithFields(logrus.Fields{
				"subscriber": r.id,
				"panic":      fmt.Sprint(rec),
			}).Error("subscriber failed")
		}
	}()
	r.sub.OnUpdate(upd)
}

// Start runs the reconciliation tick until Stop.
func (u *UICoordinator) Start(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&u.started, 0, 1) {
		return
	}
	u.wg.Add(1)
	go u.tickLoop(ctx)
}

// Stop terminates the tick loop.
func (u *UICoordinator) Stop() {
	if !atomic.CompareAndSwapInt32(&u.stopped, 0, 1) {
		return
	}
	close(u.quit)
	u.wg.Wait()
}

func (u *UICoordinator) tickLoop(ctx context.Context) {
	defer u.wg.Done()

	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			u.reconcile(ctx)
		case <-ctx.Done():
			return
		case <-u.quit:
			return
		}
	}
}

func (u *UICoordinator) reconcile(ctx context.Context) {
	u.mu.Lock()
	src := u.source
	u.mu.Unlock()

	if s, ok := src.(Syncer); ok {
		if err := s.Sync(ctx); err != nil {
			u.logger.WithError(err).Debug("reconciliation sync failed")
		}
	}
	u.Refresh()
}

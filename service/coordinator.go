package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/layer-3/xcafe/chains"
	"github.com/layer-3/xcafe/core"
	"github.com/layer-3/xcafe/ports"
	"github.com/sirupsen/logrus"
)

var errNotConfigured = errors.New("remote service not configured")

// Config wires a Coordinator. Only Provider is needed for a wallet-only
// client; the remote services switch on the token flow, the user
// directory and widget management.
type Config struct {
	Provider     ports.WalletProvider
	SessionStore ports.SessionStore
	Users        ports.UserStore
	Auth         ports.AuthService
	Widgets      ports.WidgetService
	Tokens       ports.TokenInspector
	Publisher    ports.EventPublisher
	Catalog      *chains.Catalog
	Logger       logrus.FieldLogger
	Clock        func() time.Time

	RefreshInterval  time.Duration
	DisconnectWindow time.Duration
	SessionTTL       time.Duration
}

// Coordinator composes the wallet connection, the session authenticator
// and the UI fan-out. Build one per process and pass it to consumers.
type Coordinator struct {
	wallet *WalletConnection
	auth   *SessionAuthenticator
	ui     *UICoordinator

	authSvc ports.AuthService
	widgets ports.WidgetService
	catalog *chains.Catalog
	logger  logrus.FieldLogger
}

// New builds the component graph. The session authenticator is the first
// subscriber so it observes every wallet change before display subscribers.
func New(cfg Config) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Catalog == nil {
		cfg.Catalog = chains.Default()
	}

	ui := NewUICoordinator(UIConfig{
		Logger:          cfg.Logger,
		RefreshInterval: cfg.RefreshInterval,
		Publisher:       cfg.Publisher,
	})
	wallet := NewWalletConnection(WalletConfig{
		Provider:         cfg.Provider,
		Catalog:          cfg.Catalog,
		Notifier:         ui,
		Logger:           cfg.Logger,
		Clock:            cfg.Clock,
		DisconnectWindow: cfg.DisconnectWindow,
	})
	auth := NewSessionAuthenticator(AuthConfig{
		Wallet:   wallet,
		Store:    cfg.SessionStore,
		Users:    cfg.Users,
		Auth:     cfg.Auth,
		Tokens:   cfg.Tokens,
		Catalog:  cfg.Catalog,
		Notifier: ui,
		Logger:   cfg.Logger,
		Clock:    cfg.Clock,
		TTL:      cfg.SessionTTL,
	})
	ui.Register(auth)

	c := &Coordinator{
		wallet:  wallet,
		auth:    auth,
		ui:      ui,
		authSvc: cfg.Auth,
		widgets: cfg.Widgets,
		catalog: cfg.Catalog,
		logger:  cfg.Logger.WithField("component", "coordinator"),
	}
	ui.Attach(c)
	return c
}

// Start probes the wallet, validates any persisted session and starts the
// reconciliation tick.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.wallet.Init(ctx); err != nil {
		return fmt.Errorf("init wallet: %w", err)
	}
	if !c.wallet.IsConnected() {
		if _, err := c.auth.CheckExistingSession(ctx); err != nil {
			c.logger.WithError(err).Info("persisted session discarded")
		}
	}
	c.ui.Start(ctx)
	return nil
}

// Stop halts background work.
func (c *Coordinator) Stop() {
	c.ui.Stop()
	c.wallet.Stop()
	c.auth.Close()
}

// Connect connects the wallet and signs its account in.
func (c *Coordinator) Connect(ctx context.Context) (*core.Session, error) {
	return c.auth.Connect(ctx)
}

// Disconnect ends the session and releases the wallet.
func (c *Coordinator) Disconnect(ctx context.Context) error {
	return c.auth.Disconnect(ctx)
}

// SwitchNetwork asks the wallet to move to chainID, adding it if needed.
func (c *Coordinator) SwitchNetwork(ctx context.Context, chainID uint64) bool {
	return c.wallet.SwitchNetwork(ctx, chainID)
}

// Register adds a display subscriber.
func (c *Coordinator) Register(sub Subscriber) SubscriberID {
	return c.ui.Register(sub)
}

// RegisterFunc registers fn as a subscriber.
func (c *Coordinator) RegisterFunc(fn func(Update)) SubscriberID {
	return c.ui.RegisterFunc(fn)
}

// Unregister removes a subscriber.
func (c *Coordinator) Unregister(id SubscriberID) {
	c.ui.Unregister(id)
}

// View returns the current wallet and session snapshot.
func (c *Coordinator) View() View {
	state := c.wallet.State()
	return View{
		Wallet:           state,
		Network:          c.wallet.Network(),
		NetworkSupported: c.catalog.IsSupported(state.ChainID),
		Session:          c.auth.Session(),
	}
}

// Sync re-reads the wallet and expires a stale session.
func (c *Coordinator) Sync(ctx context.Context) error {
	err := c.wallet.Sync(ctx)
	c.auth.ExpireStale(ctx)
	return err
}

// Wallet returns the wallet connection.
func (c *Coordinator) Wallet() *WalletConnection {
	return c.wallet
}

// Auth returns the session authenticator.
func (c *Coordinator) Auth() *SessionAuthenticator {
	return c.auth
}

// UI returns the notification fan-out.
func (c *Coordinator) UI() *UICoordinator {
	return c.ui
}

// SystemStatus queries the backend status endpoint.
func (c *Coordinator) SystemStatus(ctx context.Context) (*core.SystemStatus, error) {
	if c.authSvc == nil {
		return nil, errNotConfigured
	}
	return c.authSvc.Status(ctx)
}

// CompleteSetup promotes the signed-in first admin.
func (c *Coordinator) CompleteSetup(ctx context.Context) (*core.SetupResult, error) {
	if c.authSvc == nil {
		return nil, errNotConfigured
	}
	s, err := c.bearer()
	if err != nil {
		return nil, err
	}
	return c.authSvc.Setup(ctx, s.Token, core.SetupRequest{Address: s.Account, UserType: s.UserType})
}

// ListWidgets lists the signed-in user's widgets.
func (c *Coordinator) ListWidgets(ctx context.Context) ([]*core.Widget, error) {
	svc, s, err := c.widgetSession()
	if err != nil {
		return nil, err
	}
	return svc.ListWidgets(ctx, s.Token)
}

// CreateWidget creates a widget owned by the signed-in user.
func (c *Coordinator) CreateWidget(ctx context.Context, input core.WidgetInput) (*core.Widget, error) {
	svc, s, err := c.widgetSession()
	if err != nil {
		return nil, err
	}
	return svc.CreateWidget(ctx, s.Token, input)
}

// GetWidget fetches one widget.
func (c *Coordinator) GetWidget(ctx context.Context, id string) (*core.Widget, error) {
	svc, s, err := c.widgetSession()
	if err != nil {
		return nil, err
	}
	return svc.GetWidget(ctx, s.Token, id)
}

// UpdateWidget edits a widget.
func (c *Coordinator) UpdateWidget(ctx context.Context, id string, input core.WidgetInput) (*core.Widget, error) {
	svc, s, err := c.widgetSession()
	if err != nil {
		return nil, err
	}
	return svc.UpdateWidget(ctx, s.Token, id, input)
}

// DeleteWidget removes a widget.
func (c *Coordinator) DeleteWidget(ctx context.Context, id string) error {
	svc, s, err := c.widgetSession()
	if err != nil {
		return err
	}
	return svc.DeleteWidget(ctx, s.Token, id)
}

func (c *Coordinator) widgetSession() (ports.WidgetService, *core.Session, error) {
	if c.widgets == nil {
		return nil, nil, errNotConfigured
	}
	s, err := c.bearer()
	if err != nil {
		return nil, nil, err
	}
	return c.widgets, s, nil
}

// bearer returns the current session if it carries a token.
func (c *Coordinator) bearer() (*core.Session, error) {
	s := c.auth.Session()
	if s == nil || s.Token == "" {
		return nil, core.ErrSessionNotFound
	}
	return s, nil
}

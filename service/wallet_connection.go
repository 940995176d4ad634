package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/layer-3/xcafe/chains"
	"github.com/layer-3/xcafe/core"
	"github.com/layer-3/xcafe/ports"
	"github.com/sirupsen/logrus"
)

// DefaultDisconnectWindow absorbs the provider's echo of an empty account
// list right after a local disconnect.
const DefaultDisconnectWindow = time.Second

// WalletConfig configures a WalletConnection.
type WalletConfig struct {
	// Provider may be nil when no wallet is installed.
	Provider         ports.WalletProvider
	Catalog          *chains.Catalog
	Notifier         ports.Notifier
	Logger           logrus.FieldLogger
	Clock            func() time.Time
	DisconnectWindow time.Duration
}

// WalletConnection owns the link to the wallet provider and is the only
// writer of core.WalletState.
type WalletConnection struct {
	started int32
	stopped int32

	provider ports.WalletProvider
	catalog  *chains.Catalog
	notifier ports.Notifier
	logger   logrus.FieldLogger
	now      func() time.Time
	window   time.Duration

	connecting int32

	mu             sync.RWMutex
	state          core.WalletState
	disconnectedAt time.Time
	// userDisconnected survives the debounce window and stops probes from
	// silently reconnecting until the next explicit Connect.
	userDisconnected bool

	sub  event.Subscription
	quit chan struct{}
	wg   sync.WaitGroup
}

// NewWalletConnection creates a wallet connection in the disconnected state.
func NewWalletConnection(cfg WalletConfig) *WalletConnection {
	if cfg.Catalog == nil {
		cfg.Catalog = chains.Default()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = nopNotifier{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.DisconnectWindow <= 0 {
		cfg.DisconnectWindow = DefaultDisconnectWindow
	}
	return &WalletConnection{
		provider: cfg.Provider,
		catalog:  cfg.Catalog,
		notifier: cfg.Notifier,
		logger:   cfg.Logger.WithField("component", "wallet"),
		now:      cfg.Clock,
		window:   cfg.DisconnectWindow,
		quit:     make(chan struct{}),
	}
}

func (w *WalletConnection) available() bool {
	return w.provider != nil && w.provider.Available()
}

// Init detects the provider, subscribes to its events and restores an
// account the wallet has already authorised. A missing provider is not an
// error.
func (w *WalletConnection) Init(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&w.started, 0, 1) {
		return nil
	}

	avail := w.available()
	w.mu.Lock()
	w.state.IsAvailable = avail
	w.mu.Unlock()

	if !avail {
		w.logger.Warn("no wallet provider detected")
		return nil
	}

	events := make(chan core.ProviderEvent, 16)
	w.sub = w.provider.SubscribeEvents(events)
	w.wg.Add(1)
	go w.eventLoop(events)

	if err := w.Sync(ctx); err != nil {
		w.logger.WithError(err).Warn("initial wallet probe failed")
	}
	return nil
}

// Stop unsubscribes from the provider and waits for the event loop.
func (w *WalletConnection) Stop() {
	if !atomic.CompareAndSwapInt32(&w.stopped, 0, 1) {
		return
	}
	if w.sub != nil {
		w.sub.Unsubscribe()
	}
	close(w.quit)
	w.wg.Wait()
}

func (w *WalletConnection) eventLoop(events <-chan core.ProviderEvent) {
	defer w.wg.Done()
	for {
		select {
		case ev := <-events:
			w.handleEvent(ev)
		case err := <-w.sub.Err():
			if err != nil {
				w.logger.WithError(err).Warn("provider subscription failed")
			}
			return
		case <-w.quit:
			return
		}
	}
}

// Connect requests account access. A call made while another connect is
// in flight returns (nil, nil) without prompting the wallet again.
func (w *WalletConnection) Connect(ctx context.Context) (*core.ConnectResult, error) {
	if !w.available() {
		return nil, core.ErrProviderUnavailable
	}

	w.mu.Lock()
	w.state.IsAvailable = true
	if w.state.Connected() {
		res := w.resultLocked()
		w.mu.Unlock()
		return res, nil
	}
	w.mu.Unlock()

	if !atomic.CompareAndSwapInt32(&w.connecting, 0, 1) {
		w.logger.Debug("connect already in progress")
		return nil, nil
	}
	defer atomic.StoreInt32(&w.connecting, 0)

	w.setConnecting(true)
	defer w.setConnecting(false)

	accounts, err := w.provider.RequestAccounts(ctx)
	if err != nil {
		if errors.Is(err, core.ErrRequestPending) {
			w.logger.Info("wallet already has a pending connect prompt")
		}
		return nil, fmt.Errorf("request accounts: %w", err)
	}
	if len(accounts) == 0 {
		return nil, core.ErrNoAccounts
	}

	chainID, err := w.queryChainID(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to read chain after connect")
		return nil, fmt.Errorf("query chain id: %w", err)
	}

	w.mu.Lock()
	w.state.Address = normalizeAccount(accounts[0])
	w.state.ChainID = chainID
	w.userDisconnected = false
	res := w.resultLocked()
	w.mu.Unlock()

	w.logger.WithFields(logrus.Fields{
		"account": core.ShortAddress(res.Account),
		"chainId": res.ChainID,
	}).Info("wallet connected")

	w.notifier.Notify(core.ConnectionChanged{
		IsConnected: true,
		Account:     res.Account,
		ChainID:     res.ChainID,
		Network:     res.Network,
	})
	return res, nil
}

// Disconnect resets the local wallet state. Wallets have no disconnect
// primitive, so the provider is not contacted.
func (w *WalletConnection) Disconnect() {
	w.mu.Lock()
	w.state.Address = ""
	w.state.ChainID = 0
	w.disconnectedAt = w.now()
	w.userDisconnected = true
	w.mu.Unlock()

	w.logger.Info("wallet disconnected")
	w.notifier.Notify(core.ConnectionChanged{IsConnected: false})
}

// SwitchNetwork asks the wallet to change chain, registering the chain
// first when the wallet does not know it. It never returns an error: the
// user may simply dismiss the prompt.
func (w *WalletConnection) SwitchNetwork(ctx context.Context, chainID uint64) bool {
	if !w.available() {
		return false
	}
	err := w.provider.SwitchChain(ctx, chains.FormatChainID(chainID))
	if errors.Is(err, core.ErrUnrecognizedChain) {
		if !w.AddNetwork(ctx, chainID) {
			return false
		}
		err = w.provider.SwitchChain(ctx, chains.FormatChainID(chainID))
	}
	if err != nil {
		w.logger.WithError(err).WithField("chainId", chainID).Warn("network switch failed")
		return false
	}
	return true
}

// AddNetwork registers a catalog chain with the wallet.
func (w *WalletConnection) AddNetwork(ctx context.Context, chainID uint64) bool {
	if !w.available() {
		return false
	}
	params, ok := w.catalog.AddChainParams(chainID)
	if !ok {
		w.logger.WithField("chainId", chainID).Warn("chain missing from catalog")
		return false
	}
	if err := w.provider.AddChain(ctx, params); err != nil {
		w.logger.WithError(err).WithField("chainId", chainID).Warn("add network failed")
		return false
	}
	return true
}

// SignMessage asks the connected wallet to personal_sign message.
func (w *WalletConnection) SignMessage(ctx context.Context, account, message string) (string, error) {
	if !w.available() {
		return "", core.ErrProviderUnavailable
	}
	if !core.SameAddress(account, w.Account()) {
		return "", core.ErrNotConnected
	}
	sig, err := w.provider.SignMessage(ctx, account, message)
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}
	return sig, nil
}

// Sync re-reads accounts and chain from the provider and applies any
// difference as if the provider had pushed it. It backs up missed events.
// A failed query disconnects a connected wallet.
func (w *WalletConnection) Sync(ctx context.Context) error {
	if !w.available() {
		return nil
	}
	accounts, err := w.provider.Accounts(ctx)
	if err != nil {
		err = fmt.Errorf("query accounts: %w", err)
		w.handleProviderDisconnect(err)
		return err
	}
	chainHex, err := w.provider.ChainID(ctx)
	if err != nil {
		err = fmt.Errorf("query chain id: %w", err)
		w.handleProviderDisconnect(err)
		return err
	}

	w.mu.RLock()
	connected := w.state.Connected()
	address := w.state.Address
	chainID := w.state.ChainID
	skip := w.userDisconnected || w.inWindowLocked()
	w.mu.RUnlock()

	if id, err := chains.ParseChainID(chainHex); err == nil && id != chainID {
		if chainID == 0 {
			// first sighting of the chain is not a change
			w.mu.Lock()
			w.state.ChainID = id
			w.mu.Unlock()
		} else {
			w.handleEvent(core.ProviderEvent{Kind: core.ProviderChainChanged, ChainID: chainHex})
		}
	}

	switch {
	case !connected && (skip || len(accounts) == 0):
	case connected && len(accounts) > 0 && strings.EqualFold(accounts[0], address):
	default:
		w.handleEvent(core.ProviderEvent{Kind: core.ProviderAccountsChanged, Accounts: accounts})
	}
	return nil
}

func (w *WalletConnection) handleEvent(ev core.ProviderEvent) {
	switch ev.Kind {
	case core.ProviderAccountsChanged:
		w.handleAccountsChanged(ev.Accounts)
	case core.ProviderChainChanged:
		w.handleChainChanged(ev.ChainID)
	case core.ProviderConnect:
		if ev.ChainID != "" {
			w.handleChainChanged(ev.ChainID)
		}
	case core.ProviderDisconnect:
		w.handleProviderDisconnect(ev.Err)
	}
}

func (w *WalletConnection) handleAccountsChanged(accounts []string) {
	w.mu.Lock()
	if w.inWindowLocked() {
		w.mu.Unlock()
		w.logger.Debug("ignoring accounts change during intentional disconnect")
		return
	}

	if len(accounts) == 0 {
		wasConnected := w.state.Connected()
		w.state.Address = ""
		w.mu.Unlock()
		if wasConnected {
			w.logger.Info("wallet reported no accounts")
			w.notifier.Notify(core.ConnectionChanged{IsConnected: false})
		}
		return
	}

	account := normalizeAccount(accounts[0])
	if account == w.state.Address {
		w.mu.Unlock()
		return
	}
	w.state.Address = account
	w.userDisconnected = false
	res := w.resultLocked()
	w.mu.Unlock()

	w.logger.WithField("account", core.ShortAddress(account)).Info("wallet account changed")
	w.notifier.Notify(core.ConnectionChanged{
		IsConnected: true,
		Account:     res.Account,
		ChainID:     res.ChainID,
		Network:     res.Network,
	})
}

func (w *WalletConnection) handleChainChanged(chainHex string) {
	chainID, err := chains.ParseChainID(chainHex)
	if err != nil {
		w.logger.WithError(err).Warn("provider reported a malformed chain id")
		return
	}

	w.mu.Lock()
	if w.state.ChainID == chainID {
		w.mu.Unlock()
		return
	}
	w.state.ChainID = chainID
	connected := w.state.Connected()
	w.mu.Unlock()

	network := w.catalog.Network(chainID)
	supported := w.catalog.IsSupported(chainID)
	w.logger.WithFields(logrus.Fields{
		"chainId":   chainID,
		"network":   network.Name,
		"supported": supported,
	}).Info("wallet chain changed")

	w.notifier.Notify(core.NetworkChanged{
		ChainID:        chainID,
		IsSupported:    supported,
		Network:        network,
		ReloadRequired: connected,
	})
}

func (w *WalletConnection) handleProviderDisconnect(cause error) {
	w.mu.Lock()
	wasConnected := w.state.Connected()
	w.state.Address = ""
	w.mu.Unlock()

	if !wasConnected {
		return
	}
	w.logger.WithError(cause).Warn("wallet provider disconnected")
	w.notifier.Notify(core.ConnectionChanged{IsConnected: false})
}

func (w *WalletConnection) queryChainID(ctx context.Context) (uint64, error) {
	hex, err := w.provider.ChainID(ctx)
	if err != nil {
		return 0, err
	}
	return chains.ParseChainID(hex)
}

func (w *WalletConnection) inWindowLocked() bool {
	return !w.disconnectedAt.IsZero() && w.now().Sub(w.disconnectedAt) < w.window
}

func (w *WalletConnection) setConnecting(v bool) {
	w.mu.Lock()
	w.state.IsConnecting = v
	w.mu.Unlock()
}

func (w *WalletConnection) resultLocked() *core.ConnectResult {
	res := &core.ConnectResult{Account: w.state.Address, ChainID: w.state.ChainID}
	if w.state.ChainID != 0 {
		n := w.catalog.Network(w.state.ChainID)
		res.Network = &n
	}
	return res
}

// State returns a snapshot of the wallet state.
func (w *WalletConnection) State() core.WalletState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s := w.state
	s.IsAvailable = w.available()
	return s
}

// Account returns the connected account, empty when disconnected.
func (w *WalletConnection) Account() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state.Address
}

// ChainID returns the last known chain id, 0 when unknown.
func (w *WalletConnection) ChainID() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state.ChainID
}

// IsConnected reports whether an account is connected.
func (w *WalletConnection) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state.Connected()
}

// Network returns the catalog entry of the current chain, nil when unknown.
func (w *WalletConnection) Network() *core.NetworkInfo {
	id := w.ChainID()
	if id == 0 {
		return nil
	}
	n := w.catalog.Network(id)
	return &n
}

// IsSupportedNetwork reports whether the wallet sits on a supported chain.
func (w *WalletConnection) IsSupportedNetwork() bool {
	return w.catalog.IsSupported(w.ChainID())
}

func normalizeAccount(account string) string {
	return strings.ToLower(strings.TrimSpace(account))
}

type nopNotifier struct{}

func (nopNotifier) Notify(core.Event) {}

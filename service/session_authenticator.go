package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/layer-3/xcafe/adapters/store"
	"github.com/layer-3/xcafe/chains"
	"github.com/layer-3/xcafe/core"
	"github.com/layer-3/xcafe/ports"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// AuthConfig configures a SessionAuthenticator.
type AuthConfig struct {
	Wallet *WalletConnection
	// Store defaults to an in-memory store.
	Store ports.SessionStore
	// Users, Auth and Tokens are optional remote collaborators.
	Users    ports.UserStore
	Auth     ports.AuthService
	Tokens   ports.TokenInspector
	Catalog  *chains.Catalog
	Notifier ports.Notifier
	Logger   logrus.FieldLogger
	Clock    func() time.Time
	TTL      time.Duration
}

// SessionAuthenticator turns a connected wallet account into an
// application session. It is the only writer of the session and of its
// persisted record.
//
// Authentications may overlap when the wallet switches accounts quickly.
// Every request records its account as the target; a result is committed
// only while its account is still both the target and the live wallet
// account, so the last requested account wins regardless of completion
// order.
type SessionAuthenticator struct {
	wallet   *WalletConnection
	store    ports.SessionStore
	users    ports.UserStore
	auth     ports.AuthService
	tokens   ports.TokenInspector
	catalog  *chains.Catalog
	notifier ports.Notifier
	logger   logrus.FieldLogger
	now      func() time.Time
	ttl      time.Duration

	flight singleflight.Group

	mu      sync.Mutex
	session *core.Session
	target  string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSessionAuthenticator creates an authenticator without a session.
func NewSessionAuthenticator(cfg AuthConfig) *SessionAuthenticator {
	if cfg.Store == nil {
		cfg.Store = store.NewMemorySessionStore()
	}
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
	if cfg.TTL <= 0 {
		cfg.TTL = core.DefaultSessionTTL
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionAuthenticator{
		wallet:   cfg.Wallet,
		store:    cfg.Store,
		users:    cfg.Users,
		auth:     cfg.Auth,
		tokens:   cfg.Tokens,
		catalog:  cfg.Catalog,
		notifier: cfg.Notifier,
		logger:   cfg.Logger.WithField("component", "auth"),
		now:      cfg.Clock,
		ttl:      cfg.TTL,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Connect connects the wallet and authenticates its account. A valid
// persisted session for the account is restored instead of signing in
// again. It returns (nil, nil) when another connect is already prompting.
func (a *SessionAuthenticator) Connect(ctx context.Context) (*core.Session, error) {
	res, err := a.wallet.Connect(ctx)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	a.setTarget(res.Account)
	return a.authenticate(ctx, res.Account, res.ChainID, true)
}

// AuthenticateUser signs account in against the remote services and
// persists the resulting session.
func (a *SessionAuthenticator) AuthenticateUser(ctx context.Context, account string, chainID uint64) (*core.Session, error) {
	account = normalizeAccount(account)
	if account == "" {
		return nil, core.ErrNotConnected
	}
	a.setTarget(account)
	return a.authenticate(ctx, account, chainID, false)
}

// Disconnect drops the session and its record, then releases the wallet.
func (a *SessionAuthenticator) Disconnect(ctx context.Context) error {
	err := a.reset(ctx, true)
	a.wallet.Disconnect()
	return err
}

// CheckExistingSession validates the persisted record at startup. Expired
// records and records for a different account than the live wallet are
// cleared. A valid record is restored only while the wallet reports its
// account.
func (a *SessionAuthenticator) CheckExistingSession(ctx context.Context) (bool, error) {
	rec, err := a.store.Load(ctx)
	if errors.Is(err, core.ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load session: %w", err)
	}

	s := rec.Session(a.ttl)
	if s.Expired(a.now()) {
		a.clearRecord(ctx)
		a.logger.WithField("account", core.ShortAddress(s.Account)).Info("persisted session expired")
		return false, core.ErrSessionExpired
	}

	live := a.wallet.Account()
	if live == "" {
		a.logger.Debug("persisted session kept until the wallet reports an account")
		return false, nil
	}
	if !core.SameAddress(s.Account, live) {
		a.clearRecord(ctx)
		a.logger.Info("persisted session belongs to another account")
		return false, core.ErrAccountMismatch
	}

	if cur := a.current(live); cur != nil {
		return true, nil
	}
	a.setTarget(live)
	s.Account = live
	if _, err := a.commit(ctx, s, false); err != nil {
		return false, err
	}
	return true, nil
}

// ExpireStale drops the session once it outlives its expiry policy.
func (a *SessionAuthenticator) ExpireStale(ctx context.Context) bool {
	a.mu.Lock()
	expired := a.session != nil && a.session.Expired(a.now())
	a.mu.Unlock()
	if !expired {
		return false
	}
	a.logger.Info("session expired")
	a.reset(ctx, false)
	return true
}

// Session returns a copy of the current session or nil.
func (a *SessionAuthenticator) Session() *core.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return nil
	}
	s := *a.session
	return &s
}

// IsAuthenticated reports whether a session is held.
func (a *SessionAuthenticator) IsAuthenticated() bool {
	return a.Session() != nil
}

// Token returns the bearer token of the current session.
func (a *SessionAuthenticator) Token() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return ""
	}
	return a.session.Token
}

// OnUpdate reacts to wallet notifications.
func (a *SessionAuthenticator) OnUpdate(u Update) {
	switch ev := u.Event.(type) {
	case core.ConnectionChanged:
		if !ev.IsConnected {
			if err := a.reset(a.ctx, false); err != nil {
				a.logger.WithError(err).Warn("failed to clear session")
			}
			return
		}
		a.onAccount(ev.Account, ev.ChainID)
	case core.NetworkChanged:
		a.onNetwork(ev)
	}
}

// Wait blocks until background reconciliations finish.
func (a *SessionAuthenticator) Wait() {
	a.wg.Wait()
}

// Close cancels background work and waits for it.
func (a *SessionAuthenticator) Close() {
	a.cancel()
	a.wg.Wait()
}

func (a *SessionAuthenticator) onAccount(account string, chainID uint64) {
	account = normalizeAccount(account)

	a.mu.Lock()
	if a.session != nil && core.SameAddress(a.session.Account, account) {
		a.target = account
		a.mu.Unlock()
		return
	}
	dropped := a.session != nil
	a.session = nil
	a.target = account
	a.mu.Unlock()

	if dropped {
		a.notifier.Notify(core.AuthStateChanged{IsAuthenticated: false})
	}

	a.wg.Add(1)
	go a.reconcile(account, chainID)
}

func (a *SessionAuthenticator) reconcile(account string, chainID uint64) {
	defer a.wg.Done()

	_, err := a.authenticate(a.ctx, account, chainID, true)
	switch {
	case err == nil:
	case errors.Is(err, core.ErrSessionSuperseded):
		a.logger.WithField("account", core.ShortAddress(account)).Debug("dropped superseded authentication")
	default:
		a.logger.WithError(err).WithField("account", core.ShortAddress(account)).Warn("authentication failed")
	}
}

func (a *SessionAuthenticator) onNetwork(ev core.NetworkChanged) {
	var account string

	a.mu.Lock()
	if a.session != nil {
		a.session.Network = ev.Network
		account = a.session.Account
		if err := a.store.Save(a.ctx, a.session.Record()); err != nil {
			a.logger.WithError(err).Warn("failed to persist session network")
		}
	}
	a.mu.Unlock()

	if !ev.IsSupported {
		a.logger.WithFields(logrus.Fields{
			"chainId": ev.ChainID,
			"network": ev.Network.Name,
		}).WithError(core.ErrUnsupportedNetwork).Warn("wallet is on an unsupported network")
	}

	if account == "" || a.users == nil {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		chainID := ev.ChainID
		_, err := a.users.UpdateUser(a.ctx, account, core.UserUpdate{PreferredNetwork: &chainID})
		if err != nil {
			a.logger.WithError(err).Debug("failed to update preferred network")
		}
	}()
}

func (a *SessionAuthenticator) authenticate(ctx context.Context, account string, chainID uint64, restore bool) (*core.Session, error) {
	v, err, _ := a.flight.Do(account, func() (interface{}, error) {
		if restore {
			if cur := a.current(account); cur != nil {
				return cur, nil
			}
			if s := a.loadMatching(ctx, account); s != nil {
				return a.commit(ctx, s, false)
			}
		}
		s, err := a.login(ctx, account, chainID)
		if err != nil {
			return nil, err
		}
		return a.commit(ctx, s, true)
	})
	if err != nil {
		return nil, err
	}
	s := *v.(*core.Session)
	return &s, nil
}

// login builds a fresh session: optional signed token exchange first, so a
// backend that assigns roles on first verify sees the user before the user
// directory does, then the user directory upsert.
func (a *SessionAuthenticator) login(ctx context.Context, account string, chainID uint64) (*core.Session, error) {
	now := a.now()
	s := &core.Session{
		Account:         account,
		Network:         a.catalog.Network(chainID),
		AuthenticatedAt: now,
		ExpiresIn:       a.ttl,
	}

	if a.auth != nil {
		msg := core.AuthMessage(now)
		sig, err := a.wallet.SignMessage(ctx, account, msg)
		if err != nil {
			return nil, fmt.Errorf("sign auth message: %w", err)
		}
		res, err := a.auth.Verify(ctx, core.VerifyRequest{
			Address:   account,
			Message:   msg,
			Signature: sig,
			Timestamp: now.UnixMilli(),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrRemoteAuth, err)
		}
		if !res.Success {
			return nil, fmt.Errorf("%w: %s", core.ErrRemoteAuth, res.Error)
		}
		s.Token = res.Token
		s.UserType = res.UserType
		if a.tokens != nil && s.Token != "" {
			if exp, err := a.tokens.TokenExpiry(s.Token); err == nil {
				s.TokenExpiresAt = exp
			} else {
				a.logger.WithError(err).Debug("bearer token has no readable expiry")
			}
		}
	}

	if a.users != nil {
		user, err := a.upsertUser(ctx, account, chainID, now)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrRemoteAuth, err)
		}
		if s.UserType == "" {
			s.UserType = user.UserType
		}
	}

	if !a.catalog.IsSupported(chainID) {
		a.logger.WithField("chainId", chainID).Warn("authenticated on an unsupported network")
	}
	return s, nil
}

func (a *SessionAuthenticator) upsertUser(ctx context.Context, account string, chainID uint64, now time.Time) (*core.User, error) {
	_, err := a.users.GetUser(ctx, account)
	switch {
	case errors.Is(err, core.ErrUserNotFound):
		return a.users.CreateUser(ctx, &core.User{
			Address:          account,
			Credits:          0,
			CreatedAt:        now,
			LastLogin:        now,
			PreferredNetwork: chainID,
		})
	case err != nil:
		return nil, err
	}
	return a.users.UpdateUser(ctx, account, core.UserUpdate{
		LastLogin:        &now,
		PreferredNetwork: &chainID,
	})
}

// commit installs s as the session if its account is still the one asked
// for last and the one the wallet reports.
func (a *SessionAuthenticator) commit(ctx context.Context, s *core.Session, persist bool) (*core.Session, error) {
	a.mu.Lock()
	if !core.SameAddress(s.Account, a.target) || !core.SameAddress(s.Account, a.wallet.Account()) {
		a.mu.Unlock()
		return nil, core.ErrSessionSuperseded
	}
	if persist {
		if err := a.store.Save(ctx, s.Record()); err != nil {
			a.mu.Unlock()
			return nil, fmt.Errorf("persist session: %w", err)
		}
	}
	cp := *s
	a.session = &cp
	a.mu.Unlock()

	network := s.Network
	a.logger.WithFields(logrus.Fields{
		"account":  core.ShortAddress(s.Account),
		"network":  network.Name,
		"restored": !persist,
	}).Info("session authenticated")

	a.notifier.Notify(core.AuthStateChanged{
		IsAuthenticated: true,
		Account:         s.Account,
		Network:         &network,
	})
	return s, nil
}

// reset drops the session and its record. The notification is sent when
// there was something to drop or force is set.
func (a *SessionAuthenticator) reset(ctx context.Context, force bool) error {
	a.mu.Lock()
	had := a.session != nil || a.target != ""
	a.session = nil
	a.target = ""
	err := a.store.Clear(ctx)
	a.mu.Unlock()

	if had || force {
		a.logger.Info("session cleared")
		a.notifier.Notify(core.AuthStateChanged{IsAuthenticated: false})
	}
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func (a *SessionAuthenticator) setTarget(account string) {
	a.mu.Lock()
	a.target = normalizeAccount(account)
	a.mu.Unlock()
}

func (a *SessionAuthenticator) current(account string) *core.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil || !core.SameAddress(a.session.Account, account) || a.session.Expired(a.now()) {
		return nil
	}
	s := *a.session
	return &s
}

// loadMatching returns the persisted session for account when it is still
// valid. A record for another account or past its expiry is cleared.
func (a *SessionAuthenticator) loadMatching(ctx context.Context, account string) *core.Session {
	rec, err := a.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, core.ErrSessionNotFound) {
			a.logger.WithError(err).Warn("failed to load persisted session")
		}
		return nil
	}
	s := rec.Session(a.ttl)
	if !core.SameAddress(s.Account, account) || s.Expired(a.now()) {
		// the record can never be restored for the live account
		a.clearRecord(ctx)
		return nil
	}
	s.Account = normalizeAccount(account)
	return s
}

func (a *SessionAuthenticator) clearRecord(ctx context.Context) {
	a.mu.Lock()
	err := a.store.Clear(ctx)
	a.mu.Unlock()
	if err != nil {
		a.logger.WithError(err).Warn("failed to clear persisted session")
	}
}

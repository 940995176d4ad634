package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/layer-3/xcafe/adapters/provider"
	"github.com/layer-3/xcafe/adapters/store"
	"github.com/layer-3/xcafe/chains"
	"github.com/layer-3/xcafe/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitEntered(t *testing.T, users *fakeUsers, account string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-users.entered:
			if got == account {
				return
			}
		case <-deadline:
			t.Fatalf("lookup for %s never started", account)
		}
	}
}

func TestLastAccountWins(t *testing.T) {
	tests := []struct {
		name string
		held string
	}{
		{name: "older login finishes last", held: accountA},
		{name: "newer login finishes last", held: accountB},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			users := newFakeUsers()
			users.hold(tt.held)
			sessions := store.NewMemorySessionStore()
			mock := provider.NewMockProvider()

			coord := New(Config{Provider: mock, Users: users, SessionStore: sessions})
			require.NoError(t, coord.Start(ctx))
			t.Cleanup(coord.Stop)

			mock.EmitAccountsChanged(accountA)
			if tt.held == accountA {
				waitEntered(t, users, accountA)
			} else {
				require.Eventually(t, func() bool {
					s := coord.Auth().Session()
					return s != nil && s.Account == accountA
				}, 2*time.Second, 10*time.Millisecond)
			}

			mock.EmitAccountsChanged(accountB)
			waitEntered(t, users, accountB)
			users.release(tt.held)

			require.Eventually(t, func() bool {
				s := coord.Auth().Session()
				return s != nil && s.Account == accountB
			}, 2*time.Second, 10*time.Millisecond)
			coord.Auth().Wait()

			s := coord.Auth().Session()
			require.NotNil(t, s)
			assert.Equal(t, accountB, s.Account)

			rec, err := sessions.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, accountB, rec.Account)
		})
	}
}

func TestConcurrentConnectPromptsOnce(t *testing.T) {
	ctx := context.Background()
	mock := provider.NewMockProvider(accountA)
	mock.HoldRequests()

	coord := New(Config{Provider: mock})
	require.NoError(t, coord.Start(ctx))
	t.Cleanup(coord.Stop)

	type result struct {
		session *core.Session
		err     error
	}
	first := make(chan result, 1)
	go func() {
		s, err := coord.Connect(ctx)
		first <- result{s, err}
	}()

	require.Eventually(t, func() bool { return mock.RequestCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	s, err := coord.Connect(ctx)
	require.NoError(t, err)
	assert.Nil(t, s)

	mock.ReleaseRequests()
	res := <-first
	require.NoError(t, res.err)
	require.NotNil(t, res.session)
	assert.Equal(t, accountA, res.session.Account)
	assert.Equal(t, 1, mock.RequestCount())
}

func newStandaloneAuth(t *testing.T, mock *provider.MockProvider, sessions *store.MemorySessionStore, clock func() time.Time) *SessionAuthenticator {
	t.Helper()
	wallet := NewWalletConnection(WalletConfig{Provider: mock, Clock: clock})
	require.NoError(t, wallet.Init(context.Background()))
	t.Cleanup(wallet.Stop)

	auth := NewSessionAuthenticator(AuthConfig{Wallet: wallet, Store: sessions, Clock: clock})
	t.Cleanup(auth.Close)
	return auth
}

func TestCheckExistingSessionExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	sessions := store.NewMemorySessionStore()
	require.NoError(t, sessions.Save(ctx, core.SessionRecord{
		Account:         accountA,
		Network:         chains.Default().Network(97),
		Timestamp:       now.Add(-25 * time.Hour).UnixMilli(),
		IsAuthenticated: true,
	}))

	mock := provider.NewMockProvider(accountA)
	mock.SetAuthorized(true)
	auth := newStandaloneAuth(t, mock, sessions, clock)

	ok, err := auth.CheckExistingSession(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, core.ErrSessionExpired)
	assert.False(t, auth.IsAuthenticated())

	_, err = sessions.Load(ctx)
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestCheckExistingSessionAccountMatch(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	tests := []struct {
		name    string
		live    string
		ok      bool
		wantErr error
	}{
		{name: "different account", live: accountB, ok: false, wantErr: core.ErrAccountMismatch},
		{name: "same account, different case", live: "0xAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAa", ok: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			sessions := store.NewMemorySessionStore()
			require.NoError(t, sessions.Save(ctx, core.SessionRecord{
				Account:         accountA,
				Network:         chains.Default().Network(97),
				Timestamp:       now.Add(-time.Hour).UnixMilli(),
				IsAuthenticated: true,
			}))

			mock := provider.NewMockProvider(tt.live)
			mock.SetAuthorized(true)
			auth := newStandaloneAuth(t, mock, sessions, clock)

			ok, err := auth.CheckExistingSession(ctx)
			assert.Equal(t, tt.ok, ok)
			_, loadErr := sessions.Load(ctx)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, loadErr, core.ErrSessionNotFound)
				assert.Nil(t, auth.Session())
				return
			}
			require.NoError(t, err)
			require.NoError(t, loadErr)
			s := auth.Session()
			require.NotNil(t, s)
			assert.True(t, core.SameAddress(accountA, s.Account))
		})
	}
}

func TestCheckExistingSessionWithoutWalletAccount(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	sessions := store.NewMemorySessionStore()
	require.NoError(t, sessions.Save(ctx, core.SessionRecord{
		Account:         accountA,
		Timestamp:       now.Add(-time.Hour).UnixMilli(),
		IsAuthenticated: true,
	}))

	auth := newStandaloneAuth(t, provider.NewMockProvider(accountA), sessions, time.Now)

	ok, err := auth.CheckExistingSession(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = sessions.Load(ctx)
	assert.NoError(t, err)
}

func TestDisconnectDebounce(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	clock := func() time.Time { return now }
	mock := provider.NewMockProvider(accountA)

	coord := New(Config{Provider: mock, Clock: clock})
	rec := &recorder{}
	coord.Register(rec)
	require.NoError(t, coord.Start(ctx))
	t.Cleanup(coord.Stop)

	_, err := coord.Connect(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rec.authStates(true) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, coord.Disconnect(ctx))
	mock.EmitAccountsChanged()

	assert.Never(t, func() bool { return rec.authStates(false) > 1 }, 200*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, 1, rec.authStates(false))
	assert.False(t, coord.Wallet().IsConnected())
}

func TestAccountsClearedOutsideWindow(t *testing.T) {
	ctx := context.Background()
	mock := provider.NewMockProvider(accountA)

	coord := New(Config{Provider: mock})
	rec := &recorder{}
	coord.Register(rec)
	require.NoError(t, coord.Start(ctx))
	t.Cleanup(coord.Stop)

	_, err := coord.Connect(ctx)
	require.NoError(t, err)

	mock.EmitAccountsChanged()
	require.Eventually(t, func() bool { return rec.authStates(false) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Nil(t, coord.Auth().Session())
	assert.False(t, coord.Wallet().IsConnected())
}

func TestConnectScenario(t *testing.T) {
	ctx := context.Background()
	const account = "0x1111111111111111111111111111111111111A"

	mock := provider.NewMockProvider(account)
	auth := &fakeAuth{result: core.VerifyResult{Success: true, UserType: core.UserTypeNormal, Token: "t1"}}
	coord := New(Config{Provider: mock, Auth: auth})
	rec := &recorder{}
	coord.Register(rec)
	require.NoError(t, coord.Start(ctx))
	t.Cleanup(coord.Stop)

	s, err := coord.Connect(ctx)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.True(t, core.SameAddress(account, s.Account))
	assert.Equal(t, uint64(97), s.Network.ChainID)
	assert.Equal(t, "t1", s.Token)
	assert.Equal(t, core.UserTypeNormal, s.UserType)

	var pair []core.Event
	require.Eventually(t, func() bool {
		pair = pair[:0]
		for _, ev := range rec.events() {
			switch ev.(type) {
			case core.ConnectionChanged, core.AuthStateChanged:
				pair = append(pair, ev)
			}
		}
		return len(pair) == 2
	}, 2*time.Second, 10*time.Millisecond)

	conn, ok := pair[0].(core.ConnectionChanged)
	require.True(t, ok)
	assert.True(t, conn.IsConnected)
	assert.Equal(t, uint64(97), conn.ChainID)

	authed, ok := pair[1].(core.AuthStateChanged)
	require.True(t, ok)
	assert.True(t, authed.IsAuthenticated)
	assert.True(t, core.SameAddress(account, authed.Account))

	require.Equal(t, 1, auth.calls())
	req := auth.requests[0]
	assert.True(t, strings.HasPrefix(req.Message, core.AuthMessagePrefix))
	assert.NotEmpty(t, req.Signature)
}

func TestConnectWithoutProvider(t *testing.T) {
	ctx := context.Background()
	mock := provider.NewMockProvider(accountA)
	mock.SetAvailable(false)

	coord := New(Config{Provider: mock})
	rec := &recorder{}
	coord.Register(rec)
	require.NoError(t, coord.Start(ctx))
	t.Cleanup(coord.Stop)

	_, err := coord.Connect(ctx)
	assert.ErrorIs(t, err, core.ErrProviderUnavailable)
	assert.Equal(t, core.WalletState{}, coord.Wallet().State())

	coord.UI().Refresh()
	updates := rec.all()
	require.NotEmpty(t, updates)
	assert.Equal(t, DisplayWalletRequired, updates[len(updates)-1].Display())
}

func TestRejectedVerifyLeavesNoSession(t *testing.T) {
	ctx := context.Background()
	mock := provider.NewMockProvider(accountA)
	auth := &fakeAuth{result: core.VerifyResult{Success: false, Error: "Invalid signature"}}
	sessions := store.NewMemorySessionStore()

	coord := New(Config{Provider: mock, Auth: auth, SessionStore: sessions})
	require.NoError(t, coord.Start(ctx))
	t.Cleanup(coord.Stop)

	_, err := coord.Connect(ctx)
	assert.ErrorIs(t, err, core.ErrRemoteAuth)
	coord.Auth().Wait()
	assert.Nil(t, coord.Auth().Session())

	_, err = sessions.Load(ctx)
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestConnectRestoresPersistedSession(t *testing.T) {
	ctx := context.Background()
	sessions := store.NewMemorySessionStore()
	require.NoError(t, sessions.Save(ctx, core.SessionRecord{
		Account:         accountA,
		Network:         chains.Default().Network(97),
		Timestamp:       time.Now().Add(-time.Hour).UnixMilli(),
		IsAuthenticated: true,
		Token:           "persisted",
	}))

	mock := provider.NewMockProvider(accountA)
	auth := &fakeAuth{result: core.VerifyResult{Success: true, Token: "fresh"}}
	coord := New(Config{Provider: mock, Auth: auth, SessionStore: sessions})
	require.NoError(t, coord.Start(ctx))
	t.Cleanup(coord.Stop)

	s, err := coord.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, "persisted", s.Token)
	coord.Auth().Wait()
	assert.Equal(t, 0, auth.calls())
}

func TestStartupLoginFailureClearsForeignRecord(t *testing.T) {
	ctx := context.Background()
	sessions := store.NewMemorySessionStore()
	require.NoError(t, sessions.Save(ctx, core.SessionRecord{
		Account:         accountB,
		Network:         chains.Default().Network(97),
		Timestamp:       time.Now().Add(-time.Hour).UnixMilli(),
		IsAuthenticated: true,
		Token:           "old",
	}))

	mock := provider.NewMockProvider(accountA)
	mock.SetAuthorized(true)
	auth := &fakeAuth{result: core.VerifyResult{Success: false, Error: "rejected"}}
	coord := New(Config{Provider: mock, Auth: auth, SessionStore: sessions})
	require.NoError(t, coord.Start(ctx))
	t.Cleanup(coord.Stop)

	coord.Auth().Wait()
	assert.False(t, coord.Auth().IsAuthenticated())
	_, err := sessions.Load(ctx)
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestExpireStale(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	clock := func() time.Time { return now }
	mock := provider.NewMockProvider(accountA)

	coord := New(Config{Provider: mock, Clock: clock, SessionTTL: time.Hour})
	require.NoError(t, coord.Start(ctx))
	t.Cleanup(coord.Stop)

	_, err := coord.Connect(ctx)
	require.NoError(t, err)
	coord.Auth().Wait()
	assert.False(t, coord.Auth().ExpireStale(ctx))

	now = now.Add(2 * time.Hour)
	assert.True(t, coord.Auth().ExpireStale(ctx))
	assert.Nil(t, coord.Auth().Session())
}

func TestNetworkChangeUpdatesSession(t *testing.T) {
	ctx := context.Background()
	users := newFakeUsers()
	sessions := store.NewMemorySessionStore()
	mock := provider.NewMockProvider(accountA)

	coord := New(Config{Provider: mock, Users: users, SessionStore: sessions})
	require.NoError(t, coord.Start(ctx))
	t.Cleanup(coord.Stop)

	_, err := coord.Connect(ctx)
	require.NoError(t, err)

	require.True(t, coord.SwitchNetwork(ctx, 56))
	require.Eventually(t, func() bool {
		s := coord.Auth().Session()
		return s != nil && s.Network.ChainID == 56
	}, 2*time.Second, 10*time.Millisecond)
	coord.Auth().Wait()

	rec, err := sessions.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(56), rec.Network.ChainID)

	u, err := users.GetUser(ctx, accountA)
	require.NoError(t, err)
	assert.Equal(t, uint64(56), u.PreferredNetwork)
}

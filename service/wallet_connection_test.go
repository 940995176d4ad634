package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/layer-3/xcafe/adapters/provider"
	"github.com/layer-3/xcafe/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWallet(t *testing.T, mock *provider.MockProvider) (*WalletConnection, *eventLog) {
	t.Helper()
	log := &eventLog{}
	w := NewWalletConnection(WalletConfig{Provider: mock, Notifier: log})
	require.NoError(t, w.Init(context.Background()))
	t.Cleanup(w.Stop)
	return w, log
}

func TestWalletInit(t *testing.T) {
	t.Run("no provider", func(t *testing.T) {
		w := NewWalletConnection(WalletConfig{})
		require.NoError(t, w.Init(context.Background()))
		assert.False(t, w.State().IsAvailable)

		_, err := w.Connect(context.Background())
		assert.ErrorIs(t, err, core.ErrProviderUnavailable)
	})

	t.Run("authorized account restored", func(t *testing.T) {
		mock := provider.NewMockProvider(accountA)
		mock.SetAuthorized(true)
		w, log := newTestWallet(t, mock)

		assert.True(t, w.IsConnected())
		assert.Equal(t, accountA, w.Account())
		assert.Equal(t, uint64(97), w.ChainID())
		require.Len(t, log.all(), 1)
		assert.Equal(t, core.EventConnectionChanged, log.all()[0].EventName())
	})

	t.Run("unauthorized wallet stays disconnected", func(t *testing.T) {
		w, log := newTestWallet(t, provider.NewMockProvider(accountA))
		assert.False(t, w.IsConnected())
		assert.Equal(t, uint64(97), w.ChainID())
		assert.Empty(t, log.all())
	})
}

func TestWalletConnect(t *testing.T) {
	ctx := context.Background()
	mock := provider.NewMockProvider("0xAbCdEf0000000000000000000000000000000001")
	w, log := newTestWallet(t, mock)

	res, err := w.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0xabcdef0000000000000000000000000000000001", res.Account)
	assert.Equal(t, uint64(97), res.ChainID)
	require.NotNil(t, res.Network)
	assert.Equal(t, "BSC Testnet", res.Network.Name)
	assert.False(t, w.State().IsConnecting)

	again, err := w.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.Account, again.Account)
	assert.Equal(t, 1, mock.RequestCount())
	assert.Len(t, log.all(), 1)
}

func TestWalletConnectErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(m *provider.MockProvider)
		want  error
	}{
		{
			name:  "user rejected",
			setup: func(m *provider.MockProvider) { m.SetRequestError(&core.ProviderError{Code: core.CodeUserRejected, Message: "rejected"}) },
			want:  core.ErrUserRejected,
		},
		{
			name:  "prompt already pending",
			setup: func(m *provider.MockProvider) { m.SetRequestError(&core.ProviderError{Code: core.CodeRequestPending, Message: "pending"}) },
			want:  core.ErrRequestPending,
		},
		{
			name:  "no accounts",
			setup: func(m *provider.MockProvider) { m.SetAccounts() },
			want:  core.ErrNoAccounts,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := provider.NewMockProvider(accountA)
			w, log := newTestWallet(t, mock)
			tt.setup(mock)

			_, err := w.Connect(context.Background())
			assert.ErrorIs(t, err, tt.want)
			assert.False(t, w.IsConnected())
			assert.False(t, w.State().IsConnecting)
			assert.Empty(t, log.all())
		})
	}
}

func TestWalletConnectChainFailure(t *testing.T) {
	mock := provider.NewMockProvider(accountA)
	w, log := newTestWallet(t, mock)
	mock.SetChainError(errors.New("rpc down"))

	_, err := w.Connect(context.Background())
	assert.Error(t, err)
	assert.False(t, w.IsConnected())
	assert.Empty(t, log.all())
}

func TestWalletDisconnect(t *testing.T) {
	mock := provider.NewMockProvider(accountA)
	w, log := newTestWallet(t, mock)
	_, err := w.Connect(context.Background())
	require.NoError(t, err)

	w.Disconnect()
	assert.Equal(t, core.WalletState{IsAvailable: true}, w.State())

	events := log.all()
	require.Len(t, events, 2)
	assert.Equal(t, core.ConnectionChanged{IsConnected: false}, events[1])

	// probes do not silently reconnect after an explicit disconnect
	require.NoError(t, w.Sync(context.Background()))
	assert.False(t, w.IsConnected())
}

func TestWalletChainChanged(t *testing.T) {
	mock := provider.NewMockProvider(accountA)
	w, log := newTestWallet(t, mock)
	_, err := w.Connect(context.Background())
	require.NoError(t, err)

	mock.EmitChainChanged("0x1")
	require.Eventually(t, func() bool { return w.ChainID() == 1 }, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool { return len(log.all()) == 2 }, time.Second, 5*time.Millisecond)
	nc, ok := log.all()[1].(core.NetworkChanged)
	require.True(t, ok)
	assert.Equal(t, uint64(1), nc.ChainID)
	assert.True(t, nc.IsSupported)
	assert.True(t, nc.ReloadRequired)
	assert.Equal(t, "Ethereum Mainnet", nc.Network.Name)
}

func TestWalletUnsupportedChain(t *testing.T) {
	mock := provider.NewMockProvider(accountA)
	w, log := newTestWallet(t, mock)

	mock.EmitChainChanged("0x7a69")
	require.Eventually(t, func() bool { return len(log.all()) == 1 }, time.Second, 5*time.Millisecond)

	nc := log.all()[0].(core.NetworkChanged)
	assert.Equal(t, uint64(31337), nc.ChainID)
	assert.False(t, nc.IsSupported)
	assert.False(t, nc.ReloadRequired)
	assert.False(t, w.IsSupportedNetwork())
	assert.Equal(t, "Chain 31337", w.Network().Name)
}

func TestWalletSwitchNetwork(t *testing.T) {
	ctx := context.Background()
	mock := provider.NewMockProvider(accountA)
	w, _ := newTestWallet(t, mock)

	// polygon is unknown to the wallet and gets added first
	assert.True(t, w.SwitchNetwork(ctx, 137))
	require.Eventually(t, func() bool { return w.ChainID() == 137 }, time.Second, 5*time.Millisecond)

	assert.False(t, w.SwitchNetwork(ctx, 31337))
}

func TestWalletAccountsChanged(t *testing.T) {
	mock := provider.NewMockProvider(accountA)
	w, log := newTestWallet(t, mock)
	_, err := w.Connect(context.Background())
	require.NoError(t, err)

	mock.EmitAccountsChanged(accountB)
	require.Eventually(t, func() bool { return w.Account() == accountB }, time.Second, 5*time.Millisecond)

	mock.EmitAccountsChanged()
	require.Eventually(t, func() bool { return !w.IsConnected() }, time.Second, 5*time.Millisecond)

	events := log.all()
	require.Len(t, events, 3)
	assert.Equal(t, accountB, events[1].(core.ConnectionChanged).Account)
	assert.False(t, events[2].(core.ConnectionChanged).IsConnected)
}

func TestWalletProviderDisconnect(t *testing.T) {
	mock := provider.NewMockProvider(accountA)
	w, log := newTestWallet(t, mock)

	mock.EmitDisconnect(errors.New("bye"))
	assert.Never(t, func() bool { return len(log.all()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	_, err := w.Connect(context.Background())
	require.NoError(t, err)
	mock.EmitDisconnect(errors.New("bye"))
	require.Eventually(t, func() bool { return !w.IsConnected() }, time.Second, 5*time.Millisecond)
	assert.Len(t, log.all(), 2)
}

func TestWalletSyncBackstop(t *testing.T) {
	ctx := context.Background()
	mock := provider.NewMockProvider(accountA)
	w, log := newTestWallet(t, mock)

	// the wallet authorised the site without an event reaching us
	mock.SetAuthorized(true)
	require.NoError(t, w.Sync(ctx))
	assert.Equal(t, accountA, w.Account())

	mock.SetChainID("0x38")
	require.NoError(t, w.Sync(ctx))
	assert.Equal(t, uint64(56), w.ChainID())

	events := log.all()
	require.Len(t, events, 2)
	assert.Equal(t, core.EventConnectionChanged, events[0].EventName())
	assert.Equal(t, core.EventNetworkChanged, events[1].EventName())
}

func TestWalletSyncQueryFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("accounts", func(t *testing.T) {
		mock := provider.NewMockProvider(accountA)
		w, log := newTestWallet(t, mock)
		_, err := w.Connect(ctx)
		require.NoError(t, err)

		mock.SetAccountsError(errors.New("rpc down"))
		assert.Error(t, w.Sync(ctx))
		assert.False(t, w.IsConnected())
		assert.Empty(t, w.Account())

		events := log.all()
		require.Len(t, events, 2)
		assert.False(t, events[1].(core.ConnectionChanged).IsConnected)

		// a second failure does not repeat the notification
		assert.Error(t, w.Sync(ctx))
		assert.Len(t, log.all(), 2)

		mock.SetAccountsError(nil)
		require.NoError(t, w.Sync(ctx))
		assert.Equal(t, accountA, w.Account())
	})

	t.Run("chain id", func(t *testing.T) {
		mock := provider.NewMockProvider(accountA)
		w, log := newTestWallet(t, mock)
		_, err := w.Connect(ctx)
		require.NoError(t, err)

		mock.SetChainError(errors.New("rpc down"))
		assert.Error(t, w.Sync(ctx))
		assert.False(t, w.IsConnected())
		require.Len(t, log.all(), 2)
	})
}

func TestWalletSignMessage(t *testing.T) {
	ctx := context.Background()
	mock := provider.NewMockProvider(accountA)
	w, _ := newTestWallet(t, mock)

	_, err := w.SignMessage(ctx, accountA, "hello")
	assert.ErrorIs(t, err, core.ErrNotConnected)

	_, err = w.Connect(ctx)
	require.NoError(t, err)
	sig, err := w.SignMessage(ctx, accountA, "hello")
	require.NoError(t, err)
	assert.NotEmpty(t, sig)

	_, err = w.SignMessage(ctx, accountB, "hello")
	assert.ErrorIs(t, err, core.ErrNotConnected)
}

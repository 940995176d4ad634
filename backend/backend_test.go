package backend

import (
	"context"
	"crypto/ecdsa"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/xcafe/adapters/store"
	"github.com/layer-3/xcafe/adapters/tokenizer"
	"github.com/layer-3/xcafe/core"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishLog struct {
	mu     sync.Mutex
	events []core.Event
}

func (p *publishLog) Publish(_ context.Context, ev core.Event) error {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	return nil
}

func (p *publishLog) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, ev := range p.events {
		out = append(out, ev.EventName())
	}
	return out
}

type wallet struct {
	key     *ecdsa.PrivateKey
	address string
}

func newWallet(t *testing.T) wallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return wallet{key: key, address: strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())}
}

func (w wallet) sign(t *testing.T, msg string) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(msg)), w.key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig)
}

func (w wallet) verifyRequest(t *testing.T, at time.Time) core.VerifyRequest {
	msg := core.AuthMessage(at)
	return core.VerifyRequest{Address: w.address, Message: msg, Signature: w.sign(t, msg), Timestamp: at.UnixMilli()}
}

type fixture struct {
	auth    *AuthService
	widgets *WidgetService
	repo    *store.MemoryRepository
	pub     *publishLog
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo: store.NewMemoryRepository(),
		pub:  &publishLog{},
		now:  time.Now(),
	}
	clock := func() time.Time { return f.now }
	tokens := tokenizer.NewJWTTokenizer([]byte("backend-test"), time.Hour).WithClock(clock)
	f.auth = NewAuthService(AuthConfig{
		Repo:             f.repo,
		Tokens:           tokens,
		Publisher:        f.pub,
		Clock:            clock,
		VerifySignatures: true,
		MaxMessageAge:    5 * time.Minute,
	})
	f.widgets = NewWidgetService(WidgetConfig{Repo: f.repo, Tokens: tokens, Publisher: f.pub, Clock: clock})
	return f
}

func (f *fixture) login(t *testing.T, w wallet) *core.VerifyResult {
	t.Helper()
	res, err := f.auth.Verify(context.Background(), w.verifyRequest(t, f.now))
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	return res
}

func TestVerifyPersonalSign(t *testing.T) {
	w := newWallet(t)
	sig := w.sign(t, "hello")

	assert.NoError(t, VerifyPersonalSign(w.address, "hello", sig))
	assert.NoError(t, VerifyPersonalSign("0x"+strings.ToUpper(w.address[2:]), "hello", sig))

	other := newWallet(t)
	assert.ErrorIs(t, VerifyPersonalSign(other.address, "hello", sig), core.ErrInvalidSignature)
	assert.ErrorIs(t, VerifyPersonalSign(w.address, "tampered", sig), core.ErrInvalidSignature)
	assert.ErrorIs(t, VerifyPersonalSign(w.address, "hello", "0x1234"), core.ErrInvalidSignature)
	assert.ErrorIs(t, VerifyPersonalSign(w.address, "hello", "nothex"), core.ErrInvalidSignature)
}

func TestVerifyFirstUserIsAdmin(t *testing.T) {
	f := newFixture(t)
	first, second := newWallet(t), newWallet(t)

	res := f.login(t, first)
	assert.Equal(t, core.UserTypeFirstAdmin, res.UserType)
	assert.NotEmpty(t, res.Token)
	require.NotNil(t, res.User)
	assert.Equal(t, first.address, res.User.Address)
	assert.Equal(t, int64(0), res.User.Credits)

	res = f.login(t, second)
	assert.Equal(t, core.UserTypeNormal, res.UserType)

	// a returning user keeps its role
	f.now = f.now.Add(time.Minute)
	res = f.login(t, first)
	assert.Equal(t, core.UserTypeFirstAdmin, res.UserType)
	assert.True(t, f.now.Equal(res.User.LastLogin))

	assert.Equal(t, []string{
		core.EventUserAuthenticated,
		core.EventUserAuthenticated,
		core.EventUserAuthenticated,
	}, f.pub.names())
}

func TestVerifyRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	w := newWallet(t)

	stale := w.verifyRequest(t, f.now.Add(-10*time.Minute))
	res, err := f.auth.Verify(ctx, stale)
	require.NoError(t, err)
	assert.False(t, res.Success)

	wrongPrefix := w.verifyRequest(t, f.now)
	wrongPrefix.Message = "Sign in " + wrongPrefix.Message
	wrongPrefix.Signature = w.sign(t, wrongPrefix.Message)
	res, err = f.auth.Verify(ctx, wrongPrefix)
	require.NoError(t, err)
	assert.False(t, res.Success)

	forged := w.verifyRequest(t, f.now)
	forged.Address = newWallet(t).address
	res, err = f.auth.Verify(ctx, forged)
	require.NoError(t, err)
	assert.False(t, res.Success)

	_, err = f.auth.Verify(ctx, core.VerifyRequest{Address: "0x12", Message: "m", Signature: "s"})
	assert.ErrorIs(t, err, core.ErrInvalidAddress)

	_, err = f.auth.Verify(ctx, core.VerifyRequest{Address: w.address})
	assert.ErrorIs(t, err, core.ErrInvalidRequest)

	n, err := f.repo.CountUsers(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSetup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	admin, user := newWallet(t), newWallet(t)

	adminRes := f.login(t, admin)
	userRes := f.login(t, user)

	_, err := f.auth.Setup(ctx, userRes.Token, core.SetupRequest{Address: user.address})
	assert.ErrorIs(t, err, core.ErrForbidden)

	_, err = f.auth.Setup(ctx, adminRes.Token, core.SetupRequest{Address: user.address})
	assert.ErrorIs(t, err, core.ErrForbidden)

	_, err = f.auth.Setup(ctx, "bogus", core.SetupRequest{})
	assert.ErrorIs(t, err, core.ErrInvalidToken)

	res, err := f.auth.Setup(ctx, adminRes.Token, core.SetupRequest{Address: admin.address, UserType: core.UserTypeSuperAdmin})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, core.UserTypeSuperAdmin, res.User.UserType)
	assert.True(t, res.User.SetupCompleted)
	require.NotNil(t, res.User.SetupDate)

	stored, err := f.auth.GetUser(ctx, admin.address)
	require.NoError(t, err)
	assert.Equal(t, core.UserTypeSuperAdmin, stored.UserType)
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	w := newWallet(t)
	res := f.login(t, w)

	widget, err := f.widgets.CreateWidget(ctx, res.Token, core.WidgetInput{
		Name:            "Sale",
		Network:         "bsc",
		ContractAddress: "0x1234567890123456789012345678901234567890",
	})
	require.NoError(t, err)

	stored, err := f.repo.GetWidget(ctx, widget.ID)
	require.NoError(t, err)
	stored.Stats.TotalSales = 3
	stored.Stats.TotalVolume = decimal.RequireFromString("12.5")
	require.NoError(t, f.repo.SaveWidget(ctx, stored))

	status, err := f.auth.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "online", status.Status)
	assert.Equal(t, 1, status.Stats.TotalUsers)
	assert.Equal(t, 1, status.Stats.TotalWidgets)
	assert.Equal(t, int64(3), status.Stats.TotalTransactions)
	assert.True(t, decimal.RequireFromString("12.5").Equal(status.Stats.TotalVolume))
	assert.Equal(t, DefaultPlatformConfig.CurrentNetwork, status.AdminConfig.PlatformConfig.CurrentNetwork)
}

func TestUserDirectory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	w := newWallet(t)

	_, err := f.auth.GetUser(ctx, w.address)
	assert.ErrorIs(t, err, core.ErrUserNotFound)

	created, err := f.auth.CreateUser(ctx, &core.User{Address: w.address, UserType: core.UserTypeSuperAdmin, Credits: 500, PreferredNetwork: 97})
	require.NoError(t, err)
	assert.Equal(t, core.UserTypeFirstAdmin, created.UserType)
	assert.Zero(t, created.Credits)
	assert.NotEmpty(t, created.ID)

	_, err = f.auth.CreateUser(ctx, &core.User{Address: w.address})
	assert.ErrorIs(t, err, core.ErrUserExists)

	chain := uint64(56)
	updated, err := f.auth.UpdateUser(ctx, w.address, core.UserUpdate{PreferredNetwork: &chain})
	require.NoError(t, err)
	assert.Equal(t, uint64(56), updated.PreferredNetwork)

	_, err = f.auth.UpdateUser(ctx, newWallet(t).address, core.UserUpdate{})
	assert.ErrorIs(t, err, core.ErrUserNotFound)
}

func TestWidgetLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner, stranger := newWallet(t), newWallet(t)
	ownerTok := f.login(t, owner).Token // first admin
	strangerTok := f.login(t, stranger).Token

	supply := decimal.RequireFromString("1000000")
	w, err := f.widgets.CreateWidget(ctx, strangerTok, core.WidgetInput{
		Name:            "  Launch  ",
		Network:         "bsc-testnet",
		ContractAddress: "0xABCDEF1234567890ABCDEF1234567890ABCDEF12",
		TokenSymbol:     "LNC",
		MaxSupply:       &supply,
	})
	require.NoError(t, err)
	assert.Equal(t, "Launch", w.Name)
	assert.Equal(t, stranger.address, w.Owner)
	assert.Equal(t, core.WidgetTypeDefault, w.Type)
	assert.Equal(t, core.WidgetStatusActive, w.Status)
	assert.Equal(t, "0xabcdef1234567890abcdef1234567890abcdef12", w.ContractAddress)
	assert.True(t, strings.HasPrefix(w.APIKey, APIKeyPrefix))
	assert.Len(t, strings.Split(w.APIKey, "_"), 3)

	// admins may read any widget, but only the owner may change it
	_, err = f.widgets.GetWidget(ctx, ownerTok, w.ID)
	require.NoError(t, err)
	_, err = f.widgets.UpdateWidget(ctx, ownerTok, w.ID, core.WidgetInput{Name: "Hijacked"})
	assert.ErrorIs(t, err, core.ErrForbidden)
	assert.ErrorIs(t, f.widgets.DeleteWidget(ctx, ownerTok, w.ID), core.ErrForbidden)

	mine, err := f.widgets.ListWidgets(ctx, strangerTok)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
	theirs, err := f.widgets.ListWidgets(ctx, ownerTok)
	require.NoError(t, err)
	assert.Empty(t, theirs)

	f.now = f.now.Add(time.Minute)
	updated, err := f.widgets.UpdateWidget(ctx, strangerTok, w.ID, core.WidgetInput{Status: "paused"})
	require.NoError(t, err)
	assert.Equal(t, "paused", updated.Status)
	assert.Equal(t, "Launch", updated.Name)
	assert.True(t, f.now.Equal(updated.UpdatedAt))

	require.NoError(t, f.widgets.DeleteWidget(ctx, strangerTok, w.ID))
	_, err = f.widgets.GetWidget(ctx, strangerTok, w.ID)
	assert.ErrorIs(t, err, core.ErrWidgetNotFound)

	var actions []string
	for _, ev := range f.pub.events {
		if wc, ok := ev.(core.WidgetChanged); ok {
			actions = append(actions, wc.Action)
		}
	}
	assert.Equal(t, []string{"created", "updated", "deleted"}, actions)
}

func TestWidgetValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tok := f.login(t, newWallet(t)).Token
	negative := decimal.RequireFromString("-1")
	valid := core.WidgetInput{Name: "n", Network: "bsc", ContractAddress: "0x1234567890123456789012345678901234567890"}

	tests := map[string]func(in *core.WidgetInput){
		"missing name":     func(in *core.WidgetInput) { in.Name = " " },
		"missing network":  func(in *core.WidgetInput) { in.Network = "" },
		"missing contract": func(in *core.WidgetInput) { in.ContractAddress = "" },
		"bad contract":     func(in *core.WidgetInput) { in.ContractAddress = "0x123" },
		"negative price":   func(in *core.WidgetInput) { in.Price = &negative },
		"negative supply":  func(in *core.WidgetInput) { in.MaxSupply = &negative },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			in := valid
			mutate(&in)
			_, err := f.widgets.CreateWidget(ctx, tok, in)
			assert.ErrorIs(t, err, core.ErrInvalidRequest)
		})
	}

	_, err := f.widgets.CreateWidget(ctx, "bogus", valid)
	assert.ErrorIs(t, err, core.ErrInvalidToken)
}

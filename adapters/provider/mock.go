package provider

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
	"github.com/layer-3/xcafe/core"
	"github.com/layer-3/xcafe/ports"
)

// MockProvider is an in-memory wallet used by tests and the demo client.
// Requests can be held at a gate to simulate a prompt the user has not yet
// answered.
type MockProvider struct {
	mu sync.Mutex

	available  bool
	authorized bool
	accounts   []string
	chainID    string
	known      map[string]bool
	keys       map[string]*ecdsa.PrivateKey

	requestErr  error
	accountsErr error
	chainErr    error
	signErr     error

	gate     chan struct{}
	requests int

	feed event.Feed
}

var _ ports.WalletProvider = (*MockProvider)(nil)

// NewMockProvider returns an available wallet on chain 0x61 holding accounts.
func NewMockProvider(accounts ...string) *MockProvider {
	return &MockProvider{
		available: true,
		accounts:  accounts,
		chainID:   "0x61",
		known:     map[string]bool{"0x61": true, "0x1": true, "0x38": true},
		keys:      make(map[string]*ecdsa.PrivateKey),
	}
}

// AddKey makes the wallet hold key and sign with it. It returns the account.
func (m *MockProvider) AddKey(key *ecdsa.PrivateKey) string {
	addr := strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[addr] = key
	m.accounts = append(m.accounts, addr)
	return addr
}

func (m *MockProvider) SetAvailable(v bool) {
	m.mu.Lock()
	m.available = v
	m.mu.Unlock()
}

// SetAuthorized pre-approves the accounts so Accounts returns them without
// a prompt.
func (m *MockProvider) SetAuthorized(v bool) {
	m.mu.Lock()
	m.authorized = v
	m.mu.Unlock()
}

func (m *MockProvider) SetAccounts(accounts ...string) {
	m.mu.Lock()
	m.accounts = accounts
	m.mu.Unlock()
}

func (m *MockProvider) SetChainID(chainIDHex string) {
	m.mu.Lock()
	m.chainID = chainIDHex
	m.known[strings.ToLower(chainIDHex)] = true
	m.mu.Unlock()
}

func (m *MockProvider) SetRequestError(err error) {
	m.mu.Lock()
	m.requestErr = err
	m.mu.Unlock()
}

func (m *MockProvider) SetAccountsError(err error) {
	m.mu.Lock()
	m.accountsErr = err
	m.mu.Unlock()
}

func (m *MockProvider) SetChainError(err error) {
	m.mu.Lock()
	m.chainErr = err
	m.mu.Unlock()
}

func (m *MockProvider) SetSignError(err error) {
	m.mu.Lock()
	m.signErr = err
	m.mu.Unlock()
}

// HoldRequests makes RequestAccounts block until ReleaseRequests is called.
func (m *MockProvider) HoldRequests() {
	m.mu.Lock()
	if m.gate == nil {
		m.gate = make(chan struct{})
	}
	m.mu.Unlock()
}

func (m *MockProvider) ReleaseRequests() {
	m.mu.Lock()
	if m.gate != nil {
		close(m.gate)
		m.gate = nil
	}
	m.mu.Unlock()
}

// RequestCount is the number of permission prompts issued so far.
func (m *MockProvider) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

// EmitAccountsChanged replaces the wallet accounts and pushes the event.
func (m *MockProvider) EmitAccountsChanged(accounts ...string) {
	m.mu.Lock()
	m.accounts = accounts
	m.authorized = len(accounts) > 0
	m.mu.Unlock()
	m.feed.Send(core.ProviderEvent{Kind: core.ProviderAccountsChanged, Accounts: accounts})
}

// EmitChainChanged switches the wallet chain and pushes the event.
func (m *MockProvider) EmitChainChanged(chainIDHex string) {
	m.SetChainID(chainIDHex)
	m.feed.Send(core.ProviderEvent{Kind: core.ProviderChainChanged, ChainID: chainIDHex})
}

func (m *MockProvider) EmitDisconnect(err error) {
	m.feed.Send(core.ProviderEvent{Kind: core.ProviderDisconnect, Err: err})
}

func (m *MockProvider) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

func (m *MockProvider) RequestAccounts(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	m.requests++
	gate := m.gate
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.requestErr != nil {
		return nil, m.requestErr
	}
	m.authorized = true
	return append([]string(nil), m.accounts...), nil
}

func (m *MockProvider) Accounts(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.accountsErr != nil {
		return nil, m.accountsErr
	}
	if !m.authorized {
		return []string{}, nil
	}
	return append([]string(nil), m.accounts...), nil
}

func (m *MockProvider) ChainID(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.chainErr != nil {
		return "", m.chainErr
	}
	return m.chainID, nil
}

func (m *MockProvider) SwitchChain(_ context.Context, chainIDHex string) error {
	m.mu.Lock()
	if !m.known[strings.ToLower(chainIDHex)] {
		m.mu.Unlock()
		return &core.ProviderError{Code: core.CodeUnrecognizedChain, Message: "Unrecognized chain ID " + chainIDHex}
	}
	m.mu.Unlock()
	m.EmitChainChanged(chainIDHex)
	return nil
}

func (m *MockProvider) AddChain(_ context.Context, params core.AddChainParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.known[strings.ToLower(params.ChainID)] = true
	return nil
}

// SignMessage produces a real personal_sign signature for accounts added
// with AddKey and a deterministic placeholder otherwise.
func (m *MockProvider) SignMessage(_ context.Context, account, message string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.signErr != nil {
		return "", m.signErr
	}
	key, ok := m.keys[strings.ToLower(account)]
	if !ok {
		return hexutil.Encode(crypto.Keccak256([]byte(strings.ToLower(account)), []byte(message))), nil
	}
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		return "", fmt.Errorf("failed to sign message: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

func (m *MockProvider) SubscribeEvents(ch chan<- core.ProviderEvent) event.Subscription {
	return m.feed.Subscribe(ch)
}

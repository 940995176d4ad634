package provider

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/layer-3/xcafe/core"
	"github.com/layer-3/xcafe/ports"
	"github.com/sirupsen/logrus"
)

// DefaultPollInterval is how often the RPC provider samples accounts and chain.
const DefaultPollInterval = 2 * time.Second

// RPCProvider speaks the EIP-1193 method set to a wallet over JSON-RPC.
// A JSON-RPC endpoint has no push channel, so account and chain changes are
// detected by polling and fanned out through an event.Feed.
type RPCProvider struct {
	started int32
	stopped int32

	client       *rpc.Client
	pollInterval time.Duration
	logger       logrus.FieldLogger

	feed event.Feed

	mu        sync.Mutex
	accounts  []string
	chainID   string
	reachable bool
	primed    bool

	quit chan struct{}
	wg   sync.WaitGroup
}

var _ ports.WalletProvider = (*RPCProvider)(nil)

// DialRPCProvider connects to the wallet endpoint at url.
func DialRPCProvider(ctx context.Context, url string, pollInterval time.Duration, logger logrus.FieldLogger) (*RPCProvider, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial wallet endpoint: %w", err)
	}
	return NewRPCProvider(client, pollInterval, logger), nil
}

// NewRPCProvider wraps an existing RPC client.
func NewRPCProvider(client *rpc.Client, pollInterval time.Duration, logger logrus.FieldLogger) *RPCProvider {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RPCProvider{
		client:       client,
		pollInterval: pollInterval,
		logger:       logger.WithField("component", "rpc-provider"),
		quit:         make(chan struct{}),
	}
}

// Start launches the polling loop.
func (p *RPCProvider) Start() error {
	if !atomic.CompareAndSwapInt32(&p.started, 0, 1) {
		return nil
	}
	p.wg.Add(1)
	go p.pollLoop()
	return nil
}

// Stop terminates polling and closes the client.
func (p *RPCProvider) Stop() error {
	if !atomic.CompareAndSwapInt32(&p.stopped, 0, 1) {
		return nil
	}
	close(p.quit)
	p.wg.Wait()
	p.client.Close()
	return nil
}

func (p *RPCProvider) Available() bool {
	return p.client != nil
}

func (p *RPCProvider) RequestAccounts(ctx context.Context) ([]string, error) {
	var accounts []string
	err := translateError(p.client.CallContext(ctx, &accounts, "eth_requestAccounts"))
	if isMethodNotFound(err) {
		// plain nodes expose their unlocked accounts without a permission prompt
		return p.Accounts(ctx)
	}
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (p *RPCProvider) Accounts(ctx context.Context) ([]string, error) {
	var accounts []string
	if err := p.client.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, translateError(err)
	}
	return accounts, nil
}

func (p *RPCProvider) ChainID(ctx context.Context) (string, error) {
	var id hexutil.Uint64
	if err := p.client.CallContext(ctx, &id, "eth_chainId"); err != nil {
		return "", translateError(err)
	}
	return id.String(), nil
}

func (p *RPCProvider) SwitchChain(ctx context.Context, chainIDHex string) error {
	param := map[string]string{"chainId": chainIDHex}
	return translateError(p.client.CallContext(ctx, nil, "wallet_switchEthereumChain", param))
}

func (p *RPCProvider) AddChain(ctx context.Context, params core.AddChainParams) error {
	return translateError(p.client.CallContext(ctx, nil, "wallet_addEthereumChain", params))
}

func (p *RPCProvider) SignMessage(ctx context.Context, account, message string) (string, error) {
	var sig hexutil.Bytes
	err := p.client.CallContext(ctx, &sig, "personal_sign", hexutil.Encode([]byte(message)), account)
	if err != nil {
		return "", translateError(err)
	}
	return sig.String(), nil
}

func (p *RPCProvider) SubscribeEvents(ch chan<- core.ProviderEvent) event.Subscription {
	return p.feed.Subscribe(ch)
}

func (p *RPCProvider) pollLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	p.poll()
	for {
		select {
		case <-ticker.C:
			p.poll()
		case <-p.quit:
			return
		}
	}
}

// poll samples the wallet and emits the differences since the last sample.
// The first successful sample only records the baseline.
func (p *RPCProvider) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), p.pollInterval)
	defer cancel()

	accounts, err := p.Accounts(ctx)
	var chainID string
	if err == nil {
		chainID, err = p.ChainID(ctx)
	}

	var events []core.ProviderEvent

	p.mu.Lock()
	switch {
	case err != nil:
		if p.reachable {
			p.logger.WithError(err).Warn("wallet endpoint unreachable")
			events = append(events, core.ProviderEvent{Kind: core.ProviderDisconnect, Err: err})
		}
		p.reachable = false
	default:
		if !p.reachable && p.primed {
			events = append(events, core.ProviderEvent{Kind: core.ProviderConnect, ChainID: chainID})
		}
		if p.primed {
			if !sameAccounts(p.accounts, accounts) {
				events = append(events, core.ProviderEvent{Kind: core.ProviderAccountsChanged, Accounts: accounts})
			}
			if !strings.EqualFold(p.chainID, chainID) {
				events = append(events, core.ProviderEvent{Kind: core.ProviderChainChanged, ChainID: chainID})
			}
		}
		p.accounts = accounts
		p.chainID = chainID
		p.reachable = true
		p.primed = true
	}
	p.mu.Unlock()

	for _, ev := range events {
		p.feed.Send(ev)
	}
}

func sameAccounts(a, b []string) bool {
	return slices.EqualFunc(a, b, strings.EqualFold)
}

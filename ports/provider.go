package ports

import (
	"context"

	"github.com/ethereum/go-ethereum/event"
	"github.com/layer-3/xcafe/core"
)

// WalletProvider is the EIP-1193 style boundary to the user's wallet.
// Errors carrying a provider code are returned as *core.ProviderError.
type WalletProvider interface {
	// Available reports whether a wallet is present at all.
	Available() bool
	// RequestAccounts prompts the user for account access.
	RequestAccounts(ctx context.Context) ([]string, error)
	// Accounts returns the already authorised accounts without prompting.
	Accounts(ctx context.Context) ([]string, error)
	// ChainID returns the current chain as a 0x-prefixed hex string.
	ChainID(ctx context.Context) (string, error)
	SwitchChain(ctx context.Context, chainIDHex string) error
	AddChain(ctx context.Context, params core.AddChainParams) error
	// SignMessage signs message with personal_sign and returns the hex signature.
	SignMessage(ctx context.Context, account, message string) (string, error)
	SubscribeEvents(ch chan<- core.ProviderEvent) event.Subscription
}

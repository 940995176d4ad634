package core

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NormalizeAddress validates a hex account address and returns its
// lower-case form.
func NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return "", ErrInvalidAddress
	}
	return strings.ToLower(common.HexToAddress(addr).Hex()), nil
}

// SameAddress compares two account addresses case-insensitively.
// Empty addresses never match.
func SameAddress(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// ShortAddress renders an address as 0x1234...abcd.
func ShortAddress(addr string) string {
	if len(addr) < 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

// WalletState is the live, provider-sourced view of the wallet.
type WalletState struct {
	Address      string `json:"address,omitempty"` // lower-case hex, empty when absent
	ChainID      uint64 `json:"chainId,omitempty"` // 0 when unknown
	IsAvailable  bool   `json:"isAvailable"`
	IsConnecting bool   `json:"isConnecting"`
}

// Connected reports whether an account is currently attached.
func (s WalletState) Connected() bool {
	return s.Address != ""
}

// ConnectResult is returned by a successful wallet connect.
type ConnectResult struct {
	Account string       `json:"account"`
	ChainID uint64       `json:"chainId"`
	Network *NetworkInfo `json:"network,omitempty"`
}

// ProviderEventKind enumerates the events pushed by a wallet provider.
type ProviderEventKind string

const (
	ProviderAccountsChanged ProviderEventKind = "accountsChanged"
	ProviderChainChanged    ProviderEventKind = "chainChanged"
	ProviderConnect         ProviderEventKind = "connect"
	ProviderDisconnect      ProviderEventKind = "disconnect"
)

// ProviderEvent is a raw notification from the wallet provider.
type ProviderEvent struct {
	Kind     ProviderEventKind
	Accounts []string // accountsChanged
	ChainID  string   // chainChanged, connect (hex)
	Err      error    // disconnect
}

// NativeCurrency describes a chain's gas token for wallet_addEthereumChain.
type NativeCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// AddChainParams is the wallet_addEthereumChain payload.
type AddChainParams struct {
	ChainID           string         `json:"chainId"`
	ChainName         string         `json:"chainName"`
	NativeCurrency    NativeCurrency `json:"nativeCurrency"`
	RPCURLs           []string       `json:"rpcUrls"`
	BlockExplorerURLs []string       `json:"blockExplorerUrls,omitempty"`
}

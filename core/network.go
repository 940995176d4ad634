package core

import "fmt"

// NetworkInfo is a read-only catalog entry for a chain.
type NetworkInfo struct {
	ChainID       uint64   `json:"chainId" yaml:"chainId"`
	Name          string   `json:"name" yaml:"name"`
	Symbol        string   `json:"symbol" yaml:"symbol"`
	RPCURLs       []string `json:"rpcUrls,omitempty" yaml:"rpcUrls"`
	ExplorerURL   string   `json:"explorer,omitempty" yaml:"explorer"`
	Confirmations int      `json:"confirmations,omitempty" yaml:"confirmations"`
	Supported     bool     `json:"supported" yaml:"supported"`
	Color         string   `json:"color,omitempty" yaml:"color"`
}

// UnknownNetwork is the placeholder used for chains missing from the catalog.
func UnknownNetwork(chainID uint64) NetworkInfo {
	return NetworkInfo{
		ChainID: chainID,
		Name:    fmt.Sprintf("Chain %d", chainID),
	}
}

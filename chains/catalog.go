// Package chains holds the read-only network catalog keyed by chain id.
package chains

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/layer-3/xcafe/core"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultChainID is BSC Testnet.
	DefaultChainID uint64 = 97

	// DefaultConfirmations applies to chains without an explicit count.
	DefaultConfirmations = 3
)

var defaultNetworks = []core.NetworkInfo{
	{ChainID: 1, Name: "Ethereum Mainnet", Symbol: "ETH", RPCURLs: []string{"https://eth-mainnet.g.alchemy.com/v2/"}, ExplorerURL: "https://etherscan.io", Confirmations: 12, Supported: true, Color: "#627eea"},
	{ChainID: 56, Name: "BSC Mainnet", Symbol: "BNB", RPCURLs: []string{"https://bsc-dataseed.binance.org/"}, ExplorerURL: "https://bscscan.com", Confirmations: 3, Supported: true, Color: "#f3ba2f"},
	{ChainID: 97, Name: "BSC Testnet", Symbol: "tBNB", RPCURLs: []string{"https://data-seed-prebsc-1-s1.binance.org:8545/"}, ExplorerURL: "https://testnet.bscscan.com", Confirmations: 3, Supported: true, Color: "#f3ba2f"},
	{ChainID: 137, Name: "Polygon", Symbol: "MATIC", RPCURLs: []string{"https://polygon-rpc.com/"}, ExplorerURL: "https://polygonscan.com", Confirmations: 10, Supported: true, Color: "#8247e5"},
	{ChainID: 80001, Name: "Polygon Mumbai", Symbol: "MATIC", RPCURLs: []string{"https://rpc-mumbai.maticvigil.com/"}, ExplorerURL: "https://mumbai.polygonscan.com", Confirmations: 5, Supported: true, Color: "#8247e5"},
	{ChainID: 43114, Name: "Avalanche", Symbol: "AVAX", RPCURLs: []string{"https://api.avax.network/ext/bc/C/rpc"}, ExplorerURL: "https://snowtrace.io", Supported: true, Color: "#e84142"},
	{ChainID: 250, Name: "Fantom", Symbol: "FTM", RPCURLs: []string{"https://rpc.ftm.tools/"}, ExplorerURL: "https://ftmscan.com", Supported: true, Color: "#13b5ec"},
}

// Catalog is an immutable set of networks. It is safe for concurrent use.
type Catalog struct {
	networks     map[uint64]core.NetworkInfo
	defaultChain uint64
}

// New builds a catalog from the given entries. A zero defaultChain selects
// DefaultChainID.
func New(networks []core.NetworkInfo, defaultChain uint64) *Catalog {
	if defaultChain == 0 {
		defaultChain = DefaultChainID
	}
	c := &Catalog{
		networks:     make(map[uint64]core.NetworkInfo, len(networks)),
		defaultChain: defaultChain,
	}
	for _, n := range networks {
		n.RPCURLs = append([]string(nil), n.RPCURLs...)
		c.networks[n.ChainID] = n
	}
	return c
}

// Default returns the built-in catalog.
func Default() *Catalog {
	return New(defaultNetworks, DefaultChainID)
}

type catalogFile struct {
	DefaultChain uint64             `yaml:"defaultChain"`
	Networks     []core.NetworkInfo `yaml:"networks"`
}

// Load decodes a YAML catalog.
func Load(r io.Reader) (*Catalog, error) {
	var f catalogFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode network catalog: %w", err)
	}
	if len(f.Networks) == 0 {
		return nil, fmt.Errorf("network catalog is empty")
	}
	for i, n := range f.Networks {
		if n.ChainID == 0 {
			return nil, fmt.Errorf("network %d: missing chainId", i)
		}
	}
	return New(f.Networks, f.DefaultChain), nil
}

// LoadFile reads a YAML catalog from disk.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open network catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Lookup returns the catalog entry for chainID.
func (c *Catalog) Lookup(chainID uint64) (core.NetworkInfo, bool) {
	n, ok := c.networks[chainID]
	return n, ok
}

// Network returns the entry for chainID or an unsupported placeholder.
func (c *Catalog) Network(chainID uint64) core.NetworkInfo {
	if n, ok := c.networks[chainID]; ok {
		return n
	}
	return core.UnknownNetwork(chainID)
}

func (c *Catalog) IsSupported(chainID uint64) bool {
	n, ok := c.networks[chainID]
	return ok && n.Supported
}

// Confirmations returns the block confirmations required on chainID.
func (c *Catalog) Confirmations(chainID uint64) int {
	if n, ok := c.networks[chainID]; ok && n.Confirmations > 0 {
		return n.Confirmations
	}
	return DefaultConfirmations
}

func (c *Catalog) DefaultChainID() uint64 {
	return c.defaultChain
}

// Supported lists the supported networks ordered by chain id.
func (c *Catalog) Supported() []core.NetworkInfo {
	out := make([]core.NetworkInfo, 0, len(c.networks))
	for _, n := range c.networks {
		if n.Supported {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}

// AddChainParams builds the wallet_addEthereumChain payload for a catalog entry.
func (c *Catalog) AddChainParams(chainID uint64) (core.AddChainParams, bool) {
	n, ok := c.networks[chainID]
	if !ok {
		return core.AddChainParams{}, false
	}
	p := core.AddChainParams{
		ChainID:   FormatChainID(chainID),
		ChainName: n.Name,
		NativeCurrency: core.NativeCurrency{
			Name:     n.Symbol,
			Symbol:   n.Symbol,
			Decimals: 18,
		},
		RPCURLs: append([]string(nil), n.RPCURLs...),
	}
	if n.ExplorerURL != "" {
		p.BlockExplorerURLs = []string{n.ExplorerURL}
	}
	return p, true
}

// ParseChainID accepts a 0x-prefixed hex or a decimal chain id.
func ParseChainID(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		if len(s) == 2 {
			return 0, fmt.Errorf("invalid chain id %q", s)
		}
		// wallets occasionally pad the hex with zeros, which hexutil rejects
		digits := strings.TrimLeft(s[2:], "0")
		if digits == "" {
			digits = "0"
		}
		id, err := hexutil.DecodeUint64("0x" + digits)
		if err != nil {
			return 0, fmt.Errorf("invalid chain id %q: %w", s, err)
		}
		return id, nil
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chain id %q: %w", s, err)
	}
	return id, nil
}

// FormatChainID renders chainID as 0x-prefixed hex.
func FormatChainID(chainID uint64) string {
	return hexutil.EncodeUint64(chainID)
}

package networks

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// RPC is one JSON-RPC endpoint of a network.
type RPC struct {
	Name string `json:"name" yaml:"name" mapstructure:"Name"`
	URL  string `json:"url" yaml:"url" mapstructure:"URL"`
}

// Profile describes one target chain.
type Profile struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	NativeAssetSymbol string `json:"nativeAssetSymbol"`
	ChainID           uint64 `json:"chainId"`
	Explorer          string `json:"explorer,omitempty"`
	RPCs              []RPC  `json:"rpcs"`
}

func (p Profile) ChainIDBig() *big.Int {
	return new(big.Int).SetUint64(p.ChainID)
}

func (p Profile) ChainIDHex() string {
	return hexutil.EncodeUint64(p.ChainID)
}

// TxURL returns the explorer link for a transaction hash, or "" when the
// profile has no explorer.
func (p Profile) TxURL(hash string) string {
	if p.Explorer == "" || hash == "" {
		return ""
	}
	return fmt.Sprintf("%s/tx/%s", strings.TrimRight(p.Explorer, "/"), hash)
}

// AddressURL returns the explorer link for an account.
func (p Profile) AddressURL(addr string) string {
	if p.Explorer == "" || addr == "" {
		return ""
	}
	return fmt.Sprintf("%s/address/%s", strings.TrimRight(p.Explorer, "/"), addr)
}

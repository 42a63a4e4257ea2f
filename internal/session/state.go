package session

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/quantumauth-io/gmgn-wallet/internal/networks"
	"github.com/quantumauth-io/gmgn-wallet/internal/storage"
)

type State int

const (
	Uninitialized State = iota
	WalletAbsent
	WalletLockedNoHandle
	Unlocked
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case WalletAbsent:
		return "wallet-absent"
	case WalletLockedNoHandle:
		return "wallet-locked"
	case Unlocked:
		return "unlocked"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Balance is the last balance read for Network. Stale is set once the active
// network moves away from Network and cleared when a fresh read lands.
type Balance struct {
	Network   string    `json:"network"`
	Wei       *big.Int  `json:"wei"`
	Stale     bool      `json:"stale"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (b *Balance) clone() *Balance {
	if b == nil {
		return nil
	}
	c := *b
	if b.Wei != nil {
		c.Wei = new(big.Int).Set(b.Wei)
	}
	return &c
}

// Snapshot is a read-only copy of the session.
type Snapshot struct {
	State   State                `json:"state"`
	Wallet  storage.WalletRecord `json:"wallet"`
	Network networks.Profile     `json:"network"`
	Address *common.Address      `json:"address,omitempty"`
	Balance *Balance             `json:"balance,omitempty"`
}

// Target pins the account and network an operation was prepared against.
// Epoch moves on every network switch, unlock and reset.
type Target struct {
	Address common.Address
	Network networks.Profile
	Epoch   uint64
}

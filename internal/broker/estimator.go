// Package broker prices and submits transactions for the unlocked account.
package broker

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/quantumauth-io/gmgn-wallet/internal/session"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

// Estimate is the cost of a draft at one revision, for one account on one
// network.
type Estimate struct {
	GasUnits  uint64
	GasPrice  *big.Int
	TotalCost *big.Int

	draft    *Draft
	revision uint64
	target   session.Target
	sess     *session.Session
}

// Ready reports whether the estimate still matches its draft, the account and
// the active network.
func (e *Estimate) Ready() bool {
	if e == nil || e.draft == nil || e.sess == nil {
		return false
	}
	return e.draft.Revision() == e.revision && e.sess.Current(e.target)
}

func (e *Estimate) Network() string     { return e.target.Network.ID }
func (e *Estimate) From() common.Address { return e.target.Address }

// EstimateView is the display form of an estimate.
type EstimateView struct {
	GasUnits  uint64 `json:"gasUnits"`
	GasPrice  string `json:"gasPrice"`
	TotalCost string `json:"totalCost"`
	Network   string `json:"network"`
	Ready     bool   `json:"ready"`
}

func (e *Estimate) View() EstimateView {
	if e == nil {
		return EstimateView{}
	}
	return EstimateView{
		GasUnits:  e.GasUnits,
		GasPrice:  e.GasPrice.String(),
		TotalCost: e.TotalCost.String(),
		Network:   e.target.Network.ID,
		Ready:     e.Ready(),
	}
}

type Estimator struct {
	sess *session.Session
}

func NewEstimator(sess *session.Session) *Estimator {
	return &Estimator{sess: sess}
}

// Estimate asks the node for gas usage and gas price of d. No balance check is
// made here; only malformed drafts and node errors fail.
func (e *Estimator) Estimate(ctx context.Context, d *Draft) (*Estimate, error) {
	target, err := e.sess.Target()
	if err != nil {
		return nil, err
	}
	if err := d.beginEstimate(); err != nil {
		return nil, err
	}
	defer d.endEstimate()

	c, rev, err := d.resolve()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEstimation, err)
	}

	client, err := e.sess.Client(ctx, target.Network)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEstimation, err)
	}

	gas, err := client.EstimateGas(ctx, ethereum.CallMsg{
		From:  target.Address,
		To:    &c.to,
		Value: c.value,
		Data:  c.data,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: estimate gas: %w", ErrEstimation, err)
	}
	price, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: gas price: %w", ErrEstimation, err)
	}

	total := new(big.Int).Mul(new(big.Int).SetUint64(gas), price)
	log.Info("estimate ready", "network", target.Network.ID, "gas", gas, "gasPrice", price.String(), "kind", d.Kind().String())

	return &Estimate{
		GasUnits:  gas,
		GasPrice:  price,
		TotalCost: total,
		draft:     d,
		revision:  rev,
		target:    target,
		sess:      e.sess,
	}, nil
}

package broker

import (
	"context"
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/quantumauth-io/gmgn-wallet/internal/session"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

// TxReference identifies a broadcast transaction.
type TxReference struct {
	Hash        common.Hash `json:"hash"`
	Network     string      `json:"network"`
	ExplorerURL string      `json:"explorerUrl,omitempty"`
}

type Broker struct {
	sess *session.Session
}

func New(sess *session.Session) *Broker {
	return &Broker{sess: sess}
}

// Submit signs d with a fresh authenticator challenge and broadcasts it. est
// must be ready for d; it is checked again after signing. A successful call
// broadcasts exactly once and clears the draft. Nothing is retried.
func (b *Broker) Submit(ctx context.Context, d *Draft, est *Estimate) (TxReference, error) {
	if est == nil || est.draft != d || !est.Ready() {
		return TxReference{}, ErrEstimateNotReady
	}
	c, err := d.beginSubmit(est.revision)
	if err != nil {
		return TxReference{}, err
	}
	defer d.endSubmit()

	p := est.target.Network
	client, err := b.sess.Client(ctx, p)
	if err != nil {
		return TxReference{}, &SubmissionError{Kind: NetworkUnavailable, Err: err}
	}

	nonce, err := client.PendingNonceAt(ctx, est.target.Address)
	if err != nil {
		return TxReference{}, classifyNodeErr(err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: est.GasPrice,
		Gas:      est.GasUnits,
		To:       &c.to,
		Value:    c.value,
		Data:     c.data,
	})
	signer := types.LatestSignerForChainID(p.ChainIDBig())

	var signed *types.Transaction
	err = b.sess.WithKey(ctx, func(key *ecdsa.PrivateKey) error {
		var serr error
		signed, serr = types.SignTx(tx, signer, key)
		return serr
	})
	if err != nil {
		return TxReference{}, classifySignErr(err)
	}

	// the prompt may have taken a while
	if !b.sess.Current(est.target) {
		return TxReference{}, ErrEstimateNotReady
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		log.Warn("transaction rejected", "network", p.ID, "error", err)
		return TxReference{}, classifyNodeErr(err)
	}
	d.clear()

	ref := TxReference{
		Hash:        signed.Hash(),
		Network:     p.ID,
		ExplorerURL: p.TxURL(signed.Hash().Hex()),
	}
	log.Info("transaction submitted", "network", p.ID, "hash", ref.Hash.Hex())
	return ref, nil
}

// SignedMessage is an EIP-191 personal message signature.
type SignedMessage struct {
	Address   common.Address `json:"address"`
	Message   string         `json:"message"`
	Signature hexutil.Bytes  `json:"signature"`
}

// SignMessage signs msg as a personal message. V is 27 or 28.
func (b *Broker) SignMessage(ctx context.Context, msg string) (SignedMessage, error) {
	target, err := b.sess.Target()
	if err != nil {
		return SignedMessage{}, err
	}

	var sig []byte
	err = b.sess.WithKey(ctx, func(key *ecdsa.PrivateKey) error {
		var serr error
		sig, serr = crypto.Sign(accounts.TextHash([]byte(msg)), key)
		return serr
	})
	if err != nil {
		return SignedMessage{}, classifySignErr(err)
	}
	sig[crypto.RecoveryIDOffset] += 27

	return SignedMessage{Address: target.Address, Message: msg, Signature: sig}, nil
}

// RecoverSigner returns the address that produced sig over msg.
func RecoverSigner(msg string, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	s := make([]byte, len(sig))
	copy(s, sig)
	switch s[crypto.RecoveryIDOffset] {
	case 27, 28:
		s[crypto.RecoveryIDOffset] -= 27
	case 0, 1:
	default:
		return common.Address{}, fmt.Errorf("unexpected v value %d", s[crypto.RecoveryIDOffset])
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(msg)), s)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

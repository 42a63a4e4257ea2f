package broker

import (
	"context"
	"errors"
	"math/big"
	"net"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/quantumauth-io/gmgn-wallet/internal/authenticator"
	"github.com/quantumauth-io/gmgn-wallet/internal/session"
	"github.com/quantumauth-io/gmgn-wallet/internal/session/sessiontest"
	"github.com/quantumauth-io/gmgn-wallet/internal/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bob = "0x71C7656EC7ab88b098defB751B7401B5f6d8976F"

type nodeErr struct{ msg string }

func (e nodeErr) Error() string  { return e.msg }
func (e nodeErr) ErrorCode() int { return -32000 }

func TestEstimate_TransferScenario(t *testing.T) {
	h := sessiontest.Unlocked(t)
	price := h.Clients["kaia-kairos"].Price

	d := NewTransfer(bob, "1.0")
	est, err := NewEstimator(h.Session).Estimate(context.Background(), d)
	require.NoError(t, err)

	assert.Equal(t, uint64(21000), est.GasUnits)
	assert.Equal(t, 0, price.Cmp(est.GasPrice))
	assert.Equal(t, 0, new(big.Int).Mul(big.NewInt(21000), price).Cmp(est.TotalCost))
	assert.True(t, est.Ready())
	assert.Equal(t, "kaia-kairos", est.Network())
	assert.Equal(t, h.Address, est.From())

	msg := h.Clients["kaia-kairos"].Estimated[0]
	assert.Equal(t, h.Address, msg.From)
	assert.Equal(t, common.HexToAddress(bob), *msg.To)
	assert.Equal(t, "1000000000000000000", msg.Value.String())
	assert.Empty(t, msg.Data)

	require.NoError(t, d.SetValue("2.0"))
	assert.False(t, est.Ready())

	_, err = New(h.Session).Submit(context.Background(), d, est)
	assert.ErrorIs(t, err, ErrEstimateNotReady)
	assert.Empty(t, h.Clients["kaia-kairos"].SentTxs())
}

func TestEstimate_InvalidatedByEveryMutation(t *testing.T) {
	h := sessiontest.Unlocked(t)
	ctx := context.Background()
	est := NewEstimator(h.Session)

	tests := []struct {
		name   string
		draft  func() *Draft
		mutate func(d *Draft)
	}{
		{"recipient", func() *Draft { return NewTransfer(bob, "1") }, func(d *Draft) { d.SetRecipient(bob) }},
		{"value", func() *Draft { return NewTransfer(bob, "1") }, func(d *Draft) { _ = d.SetValue("1") }},
		{"data", func() *Draft { return NewMessage(bob, "gm") }, func(d *Draft) { _ = d.SetMessage("gn") }},
		{"network", func() *Draft { return NewTransfer(bob, "1") }, func(*Draft) {
			_, _ = h.Session.SwitchNetwork(ctx, "base-sepolia")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := tt.draft()
			e, err := est.Estimate(ctx, d)
			require.NoError(t, err)
			require.True(t, e.Ready())

			tt.mutate(d)
			assert.False(t, e.Ready())
		})
	}
}

func TestEstimate_Errors(t *testing.T) {
	h := sessiontest.Unlocked(t)
	ctx := context.Background()
	est := NewEstimator(h.Session)
	kaia := h.Clients["kaia-kairos"]

	_, err := est.Estimate(ctx, NewTransfer("not-an-address", "1"))
	assert.ErrorIs(t, err, ErrEstimation)
	assert.ErrorIs(t, err, ErrInvalidRecipient)

	_, err = est.Estimate(ctx, NewTransfer(bob, "-1"))
	assert.ErrorIs(t, err, ErrEstimation)
	assert.ErrorIs(t, err, ErrInvalidValue)

	for _, v := range []string{".", "1."} {
		_, err = est.Estimate(ctx, NewTransfer(bob, v))
		assert.ErrorIs(t, err, ErrInvalidValue, v)
	}

	_, calls := kaia.Calls()
	assert.Zero(t, calls)

	kaia.GasErr = nodeErr{"execution reverted"}
	_, err = est.Estimate(ctx, NewTransfer(bob, "1"))
	assert.ErrorIs(t, err, ErrEstimation)
	kaia.GasErr = nil

	kaia.PriceErr = errors.New("timeout")
	_, err = est.Estimate(ctx, NewTransfer(bob, "1"))
	assert.ErrorIs(t, err, ErrEstimation)
}

func TestEstimate_RequiresUnlocked(t *testing.T) {
	h := sessiontest.New(t)

	_, err := NewEstimator(h.Session).Estimate(context.Background(), NewTransfer(bob, "1"))
	assert.ErrorIs(t, err, session.ErrNotUnlocked)
}

func TestSubmit_Transfer(t *testing.T) {
	h := sessiontest.Unlocked(t)
	ctx := context.Background()
	kaia := h.Clients["kaia-kairos"]
	kaia.Nonce = 3

	d := NewTransfer(bob, "0.5")
	est, err := NewEstimator(h.Session).Estimate(ctx, d)
	require.NoError(t, err)

	b := New(h.Session)
	ref, err := b.Submit(ctx, d, est)
	require.NoError(t, err)

	sent := kaia.SentTxs()
	require.Len(t, sent, 1)
	tx := sent[0]
	assert.Equal(t, ref.Hash, tx.Hash())
	assert.Equal(t, "kaia-kairos", ref.Network)
	assert.Equal(t, "https://kairos.kaiascan.io/tx/"+tx.Hash().Hex(), ref.ExplorerURL)

	assert.Equal(t, uint64(3), tx.Nonce())
	assert.Equal(t, est.GasUnits, tx.Gas())
	assert.Equal(t, 0, est.GasPrice.Cmp(tx.GasPrice()))
	assert.Equal(t, "500000000000000000", tx.Value().String())
	assert.Equal(t, common.HexToAddress(bob), *tx.To())
	assert.Equal(t, uint64(1001), tx.ChainId().Uint64())

	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	require.NoError(t, err)
	assert.Equal(t, h.Address, from)

	// unlock plus one signing challenge
	assert.Equal(t, 2, h.Auth.Reveals())

	assert.Empty(t, d.View().Recipient)
	assert.False(t, est.Ready())

	_, err = b.Submit(ctx, d, est)
	assert.ErrorIs(t, err, ErrEstimateNotReady)
	assert.Len(t, kaia.SentTxs(), 1)
}

func TestDraft_ApplyIsAllOrNothing(t *testing.T) {
	d := NewMessage(bob, "gm")
	before := d.View()

	to, value := "0x0000000000000000000000000000000000000a11", "1"
	assert.ErrorIs(t, d.Apply(Patch{To: &to, Value: &value}), ErrDraftKind)
	assert.Equal(t, before, d.View())

	msg := "gn"
	require.NoError(t, d.Apply(Patch{To: &to, Message: &msg}))
	after := d.View()
	assert.Equal(t, to, after.Recipient)
	assert.Equal(t, "gn", after.Message)
	assert.Equal(t, before.Revision+1, after.Revision)

	require.NoError(t, d.Apply(Patch{}))
	assert.Equal(t, after.Revision, d.Revision())
}

func TestSubmit_Message(t *testing.T) {
	h := sessiontest.Unlocked(t)
	ctx := context.Background()

	d := NewMessage(bob, "gm kaia")
	assert.ErrorIs(t, d.SetValue("1"), ErrDraftKind)

	est, err := NewEstimator(h.Session).Estimate(ctx, d)
	require.NoError(t, err)
	assert.Greater(t, est.GasUnits, uint64(21000))

	_, err = New(h.Session).Submit(ctx, d, est)
	require.NoError(t, err)

	sent := h.Clients["kaia-kairos"].SentTxs()
	require.Len(t, sent, 1)
	assert.Equal(t, []byte("gm kaia"), sent[0].Data())
	assert.Zero(t, sent[0].Value().Sign())
}

func TestSubmit_EstimateFromOtherDraft(t *testing.T) {
	h := sessiontest.Unlocked(t)
	ctx := context.Background()

	d1 := NewTransfer(bob, "1")
	est, err := NewEstimator(h.Session).Estimate(ctx, d1)
	require.NoError(t, err)

	_, err = New(h.Session).Submit(ctx, NewTransfer(bob, "1"), est)
	assert.ErrorIs(t, err, ErrEstimateNotReady)

	_, err = New(h.Session).Submit(ctx, d1, nil)
	assert.ErrorIs(t, err, ErrEstimateNotReady)
}

func TestSubmit_UserCancelled(t *testing.T) {
	h := sessiontest.Unlocked(t)
	ctx := context.Background()

	d := NewTransfer(bob, "1")
	est, err := NewEstimator(h.Session).Estimate(ctx, d)
	require.NoError(t, err)

	h.Auth.SetRevealErr(authenticator.ErrCancelled)
	_, err = New(h.Session).Submit(ctx, d, est)

	kind, ok := SubmissionKindOf(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, UserCancelled, kind)
	assert.Empty(t, h.Clients["kaia-kairos"].SentTxs())

	// draft and estimate survive a cancelled prompt
	assert.True(t, est.Ready())
}

func TestSubmit_SigningFailuresAreSubmissionErrors(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		cause error
	}{
		{"credential gone", authenticator.ErrCredentialNotFound, vault.ErrHandleNotFound},
		{"verification failed", authenticator.ErrVerificationFailed, vault.ErrAuthentication},
		{"authenticator unavailable", authenticator.ErrUnavailable, vault.ErrAuthentication},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := sessiontest.Unlocked(t)
			ctx := context.Background()

			d := NewTransfer(bob, "1")
			est, err := NewEstimator(h.Session).Estimate(ctx, d)
			require.NoError(t, err)

			h.Auth.SetRevealErr(tt.err)
			_, err = New(h.Session).Submit(ctx, d, est)

			kind, ok := SubmissionKindOf(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, UserCancelled, kind)
			assert.ErrorIs(t, err, tt.cause)
			assert.Empty(t, h.Clients["kaia-kairos"].SentTxs())
		})
	}
}

func TestSubmit_NodeErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want SubmissionKind
	}{
		{"rpc error", nodeErr{"insufficient funds for gas * price + value"}, NodeRejected},
		{"plain error", errors.New("nonce too low"), NodeRejected},
		{"network", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, NetworkUnavailable},
		{"deadline", context.DeadlineExceeded, NetworkUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := sessiontest.Unlocked(t)
			ctx := context.Background()
			h.Clients["kaia-kairos"].SendErr = tt.err

			d := NewTransfer(bob, "1")
			est, err := NewEstimator(h.Session).Estimate(ctx, d)
			require.NoError(t, err)

			_, err = New(h.Session).Submit(ctx, d, est)
			kind, ok := SubmissionKindOf(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, tt.want, kind)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, bob, d.View().Recipient)
		})
	}
}

func TestSubmit_RejectedWhileEstimateInFlight(t *testing.T) {
	h := sessiontest.Unlocked(t)
	ctx := context.Background()
	kaia := h.Clients["kaia-kairos"]

	d := NewTransfer(bob, "1")
	est, err := NewEstimator(h.Session).Estimate(ctx, d)
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	kaia.EstimateHook = func(context.Context) {
		close(entered)
		<-release
	}

	done := make(chan error, 1)
	go func() {
		_, err := NewEstimator(h.Session).Estimate(ctx, d)
		done <- err
	}()
	<-entered

	_, err = New(h.Session).Submit(ctx, d, est)
	assert.ErrorIs(t, err, ErrEstimateInFlight)

	_, err = NewEstimator(h.Session).Estimate(ctx, d)
	assert.ErrorIs(t, err, ErrEstimateInFlight)

	close(release)
	require.NoError(t, <-done)
	assert.Empty(t, kaia.SentTxs())
}

func TestSubmit_NetworkSwitchDuringSigning(t *testing.T) {
	h := sessiontest.Unlocked(t)
	ctx := context.Background()

	d := NewTransfer(bob, "1")
	est, err := NewEstimator(h.Session).Estimate(ctx, d)
	require.NoError(t, err)

	h.Auth.Gate = make(chan struct{})
	h.Auth.Started = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := New(h.Session).Submit(ctx, d, est)
		done <- err
	}()
	<-h.Auth.Started

	_, _ = h.Session.SwitchNetwork(ctx, "base-sepolia")
	close(h.Auth.Gate)

	assert.ErrorIs(t, <-done, ErrEstimateNotReady)
	assert.Empty(t, h.Clients["kaia-kairos"].SentTxs())
	assert.Empty(t, h.Clients["base-sepolia"].SentTxs())
}

func TestSignMessage(t *testing.T) {
	h := sessiontest.Unlocked(t)

	sm, err := New(h.Session).SignMessage(context.Background(), "hello gmgn")
	require.NoError(t, err)
	require.Len(t, sm.Signature, 65)
	assert.Contains(t, []byte{27, 28}, sm.Signature[64])
	assert.Equal(t, h.Address, sm.Address)

	signer, err := RecoverSigner("hello gmgn", sm.Signature)
	require.NoError(t, err)
	assert.Equal(t, h.Address, signer)

	other, err := RecoverSigner("tampered", sm.Signature)
	require.NoError(t, err)
	assert.NotEqual(t, h.Address, other)

	_, err = RecoverSigner("x", []byte{1, 2})
	require.Error(t, err)
}

func TestSignMessage_RequiresUnlocked(t *testing.T) {
	h := sessiontest.New(t)

	_, err := New(h.Session).SignMessage(context.Background(), "hi")
	assert.ErrorIs(t, err, session.ErrNotUnlocked)
}

func TestKindStrings(t *testing.T) {
	assert.Equal(t, "transfer", Transfer.String())
	assert.Equal(t, "message", Message.String())
	assert.Equal(t, "node-rejected", NodeRejected.String())
	assert.Equal(t, "user-cancelled", UserCancelled.String())
	assert.Equal(t, "network-unavailable", NetworkUnavailable.String())
}

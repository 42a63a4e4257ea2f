package session

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/quantumauth-io/gmgn-wallet/internal/authenticator"
	"github.com/quantumauth-io/gmgn-wallet/internal/chains"
	"github.com/quantumauth-io/gmgn-wallet/internal/chains/chainstest"
	"github.com/quantumauth-io/gmgn-wallet/internal/networks"
	"github.com/quantumauth-io/gmgn-wallet/internal/storage"
	"github.com/quantumauth-io/gmgn-wallet/internal/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memAuth keeps secrets in memory. gate, when set, blocks Reveal until closed.
type memAuth struct {
	mu       sync.Mutex
	creds    map[string][]byte
	labels   map[string]string
	createEr error
	revealEr error
	gate     chan struct{}
	started  chan struct{}
	reveals  int
	discover bool
}

func newMemAuth() *memAuth {
	return &memAuth{creds: map[string][]byte{}, labels: map[string]string{}}
}

func (m *memAuth) Create(_ context.Context, label string, secret []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createEr != nil {
		return nil, m.createEr
	}
	id := []byte{0xc0, byte(len(m.creds) + 1)}
	m.creds[string(id)] = bytes.Clone(secret)
	m.labels[string(id)] = label
	return id, nil
}

func (m *memAuth) Reveal(ctx context.Context, id []byte) ([]byte, error) {
	m.mu.Lock()
	m.reveals++
	gate, started := m.gate, m.started
	m.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, authenticator.ErrCancelled
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.creds[string(id)]
	if !ok {
		return nil, authenticator.ErrCredentialNotFound
	}
	if m.revealEr != nil {
		return nil, m.revealEr
	}
	return bytes.Clone(s), nil
}

func (m *memAuth) Reveals() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reveals
}

// discoverAuth adds credential discovery.
type discoverAuth struct{ *memAuth }

func (d discoverAuth) Discover(_ context.Context, label string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, l := range d.labels {
		if label == "" || l == label {
			return []byte(id), nil
		}
	}
	return nil, authenticator.ErrCredentialNotFound
}

type fixture struct {
	sess    *Session
	auth    *memAuth
	handles *vault.HandleCache
	records *storage.Records
	prefs   *storage.Preferences
	reg     *networks.Registry
	clients map[string]*chainstest.Client
}

func newFixture(t *testing.T, auth authenticator.Authenticator, mem *memAuth) *fixture {
	t.Helper()

	db, err := storage.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	reg := networks.NewRegistry(networks.Options{})
	clients := map[string]*chainstest.Client{}
	byURL := map[string]*chainstest.Client{}
	for _, p := range reg.List() {
		c := chainstest.New(p.ChainID)
		clients[p.ID] = c
		byURL[p.RPCs[0].URL] = c
	}
	dial := func(_ context.Context, rawURL string) (chains.Client, error) {
		c, ok := byURL[rawURL]
		if !ok {
			return nil, errors.New("connection refused")
		}
		return c, nil
	}

	f := &fixture{
		auth:    mem,
		handles: vault.NewHandleCache(db),
		records: storage.NewRecords(db),
		prefs:   storage.NewPreferences(db, reg),
		reg:     reg,
		clients: clients,
	}
	f.sess = New(Deps{
		Registry: reg,
		Vault:    vault.New(auth),
		Handles:  f.handles,
		Records:  f.records,
		Prefs:    f.prefs,
		Chains:   chains.NewService(reg, dial),
	})
	return f
}

func started(t *testing.T) *fixture {
	t.Helper()
	mem := newMemAuth()
	f := newFixture(t, mem, mem)
	_, err := f.sess.Start(context.Background())
	require.NoError(t, err)
	return f
}

func unlocked(t *testing.T) (*fixture, common.Address) {
	t.Helper()
	f := started(t)
	_, err := f.sess.CreateWallet(context.Background(), "alice")
	require.NoError(t, err)
	addr, err := f.sess.LoadWallet(context.Background())
	require.NoError(t, err)
	return f, addr
}

func TestStart_States(t *testing.T) {
	f := started(t)
	snap := f.sess.Snapshot()
	assert.Equal(t, WalletAbsent, snap.State)
	assert.Equal(t, "kaia-kairos", snap.Network.ID)
	assert.Nil(t, snap.Address)

	require.NoError(t, f.prefs.SetDefaultNetwork("base-sepolia"))
	require.NoError(t, f.records.Store(storage.NewWalletRecord("bob")))

	snap, err := f.sess.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, WalletLockedNoHandle, snap.State)
	assert.Equal(t, "base-sepolia", snap.Network.ID)
	assert.Equal(t, "bob", snap.Wallet.DisplayName)
}

func TestOperations_RequireStart(t *testing.T) {
	mem := newMemAuth()
	f := newFixture(t, mem, mem)
	ctx := context.Background()

	_, err := f.sess.CreateWallet(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotStarted)
	_, err = f.sess.LoadWallet(ctx)
	assert.ErrorIs(t, err, ErrNotStarted)
	_, err = f.sess.SwitchNetwork(ctx, "base-sepolia")
	assert.ErrorIs(t, err, ErrNotStarted)
	_, err = f.sess.RefreshBalance(ctx)
	assert.ErrorIs(t, err, ErrNotUnlocked)
}

func TestCreateLoadRefresh_Scenario(t *testing.T) {
	f := started(t)
	ctx := context.Background()

	rec, err := f.sess.CreateWallet(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, storage.WalletCreated, rec.Status)
	assert.NotEmpty(t, rec.IconSeed)
	assert.Equal(t, WalletLockedNoHandle, f.sess.Snapshot().State)

	h, ok, err := f.handles.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice", f.auth.labels[string(h)])

	addr, err := f.sess.LoadWallet(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.auth.Reveals())
	assert.NotEqual(t, common.Address{}, addr)

	want := big.NewInt(5_000_000_000_000_000)
	f.clients["kaia-kairos"].SetBalance(addr, want)

	bal, err := f.sess.RefreshBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, "kaia-kairos", bal.Network)
	assert.Equal(t, 0, want.Cmp(bal.Wei))
	assert.False(t, bal.Stale)

	snap := f.sess.Snapshot()
	assert.Equal(t, Unlocked, snap.State)
	require.NotNil(t, snap.Address)
	assert.Equal(t, addr, *snap.Address)
}

func TestCreateWallet_SealFailurePersistsNothing(t *testing.T) {
	f := started(t)
	f.auth.createEr = authenticator.ErrCancelled

	_, err := f.sess.CreateWallet(context.Background(), "alice")
	require.ErrorIs(t, err, ErrWalletCreationFailed)
	assert.ErrorIs(t, err, vault.ErrCredentialCreation)

	_, ok, err := f.handles.Load()
	require.NoError(t, err)
	assert.False(t, ok)

	rec, err := f.records.Load()
	require.NoError(t, err)
	assert.Equal(t, storage.WalletAbsent, rec.Status)
	assert.Equal(t, WalletAbsent, f.sess.Snapshot().State)
}

func TestCreateWallet_Rejections(t *testing.T) {
	f := started(t)
	ctx := context.Background()

	_, err := f.sess.CreateWallet(ctx, "   ")
	assert.ErrorIs(t, err, ErrWalletCreationFailed)

	_, err = f.sess.CreateWallet(ctx, "alice")
	require.NoError(t, err)
	_, err = f.sess.CreateWallet(ctx, "alice")
	assert.ErrorIs(t, err, ErrWalletExists)
}

func TestLoadWallet_IdempotentWhenUnlocked(t *testing.T) {
	f, addr := unlocked(t)

	again, err := f.sess.LoadWallet(context.Background())
	require.NoError(t, err)
	assert.Equal(t, addr, again)
	assert.Equal(t, 1, f.auth.Reveals())
}

func TestLoadWallet_AddressMatchesSealedKey(t *testing.T) {
	f, addr := unlocked(t)

	h, _, err := f.handles.Load()
	require.NoError(t, err)
	key, err := crypto.ToECDSA(f.auth.creds[string(h)])
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), addr)
}

func TestLoadWallet_Cancelled(t *testing.T) {
	f := started(t)
	_, err := f.sess.CreateWallet(context.Background(), "alice")
	require.NoError(t, err)

	f.auth.revealEr = authenticator.ErrCancelled
	_, err = f.sess.LoadWallet(context.Background())
	require.ErrorIs(t, err, vault.ErrAuthentication)

	snap := f.sess.Snapshot()
	assert.Equal(t, WalletLockedNoHandle, snap.State)
	assert.Nil(t, snap.Address)
}

func TestLoadWallet_UnknownHandle(t *testing.T) {
	f := started(t)
	require.NoError(t, f.records.Store(storage.NewWalletRecord("alice")))
	require.NoError(t, f.handles.Store(vault.Handle("never-sealed")))
	_, err := f.sess.Start(context.Background())
	require.NoError(t, err)

	_, err = f.sess.LoadWallet(context.Background())
	require.ErrorIs(t, err, vault.ErrHandleNotFound)
	assert.Equal(t, WalletLockedNoHandle, f.sess.Snapshot().State)
}

func TestLoadWallet_NoHandle(t *testing.T) {
	f := started(t)
	_, err := f.sess.CreateWallet(context.Background(), "alice")
	require.NoError(t, err)
	require.NoError(t, f.handles.Clear())

	_, err = f.sess.LoadWallet(context.Background())
	assert.ErrorIs(t, err, ErrNoHandleAvailable)
	assert.Zero(t, f.auth.Reveals())
}

func TestLoadWallet_RecoversHandleByDiscovery(t *testing.T) {
	mem := newMemAuth()
	f := newFixture(t, discoverAuth{mem}, mem)
	ctx := context.Background()
	_, err := f.sess.Start(ctx)
	require.NoError(t, err)

	_, err = f.sess.CreateWallet(ctx, "alice")
	require.NoError(t, err)
	before, _, err := f.handles.Load()
	require.NoError(t, err)
	require.NoError(t, f.handles.Clear())

	_, err = f.sess.LoadWallet(ctx)
	require.NoError(t, err)

	after, ok, err := f.handles.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, before, after)
}

func TestUnlock_AlreadyUnlockedSkipsChallenge(t *testing.T) {
	f, addr := unlocked(t)

	// a caller that saw the locked state before the first unlock landed
	got, err := f.sess.unlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, addr, got)
	assert.Equal(t, 1, f.auth.Reveals())
}

func TestCreate_WalletCreatedMeanwhile(t *testing.T) {
	f := started(t)
	ctx := context.Background()

	_, err := f.sess.CreateWallet(ctx, "alice")
	require.NoError(t, err)
	before, _, err := f.handles.Load()
	require.NoError(t, err)

	_, err = f.sess.create(ctx, "bob")
	assert.ErrorIs(t, err, ErrWalletExists)

	after, _, err := f.handles.Load()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	rec, err := f.records.Load()
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.DisplayName)
}

func TestLoadWallet_ConcurrentCallsShareOneChallenge(t *testing.T) {
	f := started(t)
	_, err := f.sess.CreateWallet(context.Background(), "alice")
	require.NoError(t, err)

	gate := make(chan struct{})
	f.auth.gate = gate
	f.auth.started = make(chan struct{}, 4)

	var wg sync.WaitGroup
	addrs := make([]common.Address, 2)
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		addrs[0], errs[0] = f.sess.LoadWallet(context.Background())
	}()
	<-f.auth.started

	wg.Add(1)
	go func() {
		defer wg.Done()
		addrs[1], errs[1] = f.sess.LoadWallet(context.Background())
	}()

	// give the second caller time to join the in-flight load
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, addrs[0], addrs[1])
	assert.Equal(t, 1, f.auth.Reveals())
}

func TestRefreshBalance_FailureKeepsLastBalance(t *testing.T) {
	f, addr := unlocked(t)
	ctx := context.Background()
	kaia := f.clients["kaia-kairos"]
	kaia.SetBalance(addr, big.NewInt(42))

	_, err := f.sess.RefreshBalance(ctx)
	require.NoError(t, err)

	kaia.SetBalanceErr(errors.New("dial tcp: connection refused"))
	_, err = f.sess.RefreshBalance(ctx)
	require.ErrorIs(t, err, ErrBalanceUnavailable)

	snap := f.sess.Snapshot()
	require.NotNil(t, snap.Balance)
	assert.Equal(t, int64(42), snap.Balance.Wei.Int64())
}

func TestSwitchNetwork_RefreshesOnceAndKeepsOldBalanceVisible(t *testing.T) {
	f, addr := unlocked(t)
	ctx := context.Background()
	f.clients["kaia-kairos"].SetBalance(addr, big.NewInt(42))
	_, err := f.sess.RefreshBalance(ctx)
	require.NoError(t, err)

	base := f.clients["base-sepolia"]
	base.SetBalance(addr, big.NewInt(7))

	var during Snapshot
	base.BalanceHook = func(context.Context) { during = f.sess.Snapshot() }

	p, err := f.sess.SwitchNetwork(ctx, "base-sepolia")
	require.NoError(t, err)
	assert.Equal(t, "base-sepolia", p.ID)

	balanceCalls, _ := base.Calls()
	assert.Equal(t, 1, balanceCalls)

	require.NotNil(t, during.Balance)
	assert.Equal(t, "kaia-kairos", during.Balance.Network)
	assert.Equal(t, int64(42), during.Balance.Wei.Int64())
	assert.True(t, during.Balance.Stale)
	assert.Equal(t, "base-sepolia", during.Network.ID)

	snap := f.sess.Snapshot()
	assert.Equal(t, "base-sepolia", snap.Balance.Network)
	assert.Equal(t, int64(7), snap.Balance.Wei.Int64())
	assert.False(t, snap.Balance.Stale)
}

func TestSwitchNetwork_FailedRefreshLeavesStaleBalance(t *testing.T) {
	f, addr := unlocked(t)
	ctx := context.Background()
	f.clients["kaia-kairos"].SetBalance(addr, big.NewInt(42))
	_, err := f.sess.RefreshBalance(ctx)
	require.NoError(t, err)

	f.clients["ethereum-sepolia"].SetBalanceErr(errors.New("timeout"))
	_, err = f.sess.SwitchNetwork(ctx, "ethereum-sepolia")
	require.ErrorIs(t, err, ErrBalanceUnavailable)

	snap := f.sess.Snapshot()
	assert.Equal(t, "ethereum-sepolia", snap.Network.ID)
	require.NotNil(t, snap.Balance)
	assert.True(t, snap.Balance.Stale)
	assert.Equal(t, int64(42), snap.Balance.Wei.Int64())
}

func TestSwitchNetwork_LockedDoesNotQuery(t *testing.T) {
	f := started(t)

	p, err := f.sess.SwitchNetwork(context.Background(), "unknown-net")
	require.NoError(t, err)
	assert.Equal(t, "kaia-kairos", p.ID)

	for _, c := range f.clients {
		calls, _ := c.Calls()
		assert.Zero(t, calls)
	}
}

func TestRefreshBalance_DiscardedAfterNetworkSwitch(t *testing.T) {
	f, addr := unlocked(t)
	kaia := f.clients["kaia-kairos"]
	kaia.SetBalance(addr, big.NewInt(42))

	kaia.BalanceHook = func(context.Context) {
		kaia.BalanceHook = nil
		_, _ = f.sess.SwitchNetwork(context.Background(), "base-sepolia")
	}

	_, err := f.sess.RefreshBalance(context.Background())
	assert.ErrorIs(t, err, ErrNetworkChanged)
	assert.Equal(t, "base-sepolia", f.sess.Snapshot().Balance.Network)
}

func TestTargetAndCurrent(t *testing.T) {
	f := started(t)
	_, err := f.sess.Target()
	assert.ErrorIs(t, err, ErrNotUnlocked)

	_, err = f.sess.CreateWallet(context.Background(), "alice")
	require.NoError(t, err)
	addr, err := f.sess.LoadWallet(context.Background())
	require.NoError(t, err)

	tg, err := f.sess.Target()
	require.NoError(t, err)
	assert.Equal(t, addr, tg.Address)
	assert.True(t, f.sess.Current(tg))

	_, _ = f.sess.SwitchNetwork(context.Background(), "base-sepolia")
	assert.False(t, f.sess.Current(tg))
}

func TestWithKey(t *testing.T) {
	f, addr := unlocked(t)

	var got common.Address
	err := f.sess.WithKey(context.Background(), func(k *ecdsa.PrivateKey) error {
		got = crypto.PubkeyToAddress(k.PublicKey)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, addr, got)
	assert.Equal(t, 2, f.auth.Reveals())
}

func TestWithKey_RecoversHandleByDiscovery(t *testing.T) {
	mem := newMemAuth()
	f := newFixture(t, discoverAuth{mem}, mem)
	ctx := context.Background()
	_, err := f.sess.Start(ctx)
	require.NoError(t, err)
	_, err = f.sess.CreateWallet(ctx, "alice")
	require.NoError(t, err)
	addr, err := f.sess.LoadWallet(ctx)
	require.NoError(t, err)
	require.NoError(t, f.handles.Clear())

	var got common.Address
	err = f.sess.WithKey(ctx, func(k *ecdsa.PrivateKey) error {
		got = crypto.PubkeyToAddress(k.PublicKey)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, addr, got)

	_, ok, err := f.handles.Load()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWithKey_RequiresUnlocked(t *testing.T) {
	f := started(t)
	err := f.sess.WithKey(context.Background(), func(*ecdsa.PrivateKey) error { return nil })
	assert.ErrorIs(t, err, ErrNotUnlocked)
}

func TestWithKey_RejectsConcurrentChallenge(t *testing.T) {
	f, _ := unlocked(t)

	gate := make(chan struct{})
	f.auth.gate = gate
	f.auth.started = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		done <- f.sess.WithKey(context.Background(), func(*ecdsa.PrivateKey) error { return nil })
	}()
	<-f.auth.started

	err := f.sess.WithKey(context.Background(), func(*ecdsa.PrivateKey) error { return nil })
	assert.ErrorIs(t, err, ErrChallengeInFlight)

	close(gate)
	require.NoError(t, <-done)
}

func TestWithKey_KeyMismatch(t *testing.T) {
	f, _ := unlocked(t)

	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	h, _, err := f.handles.Load()
	require.NoError(t, err)
	f.auth.creds[string(h)] = crypto.FromECDSA(other)

	called := false
	err = f.sess.WithKey(context.Background(), func(*ecdsa.PrivateKey) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrKeyMismatch)
	assert.False(t, called)
}

func TestReset(t *testing.T) {
	f, _ := unlocked(t)

	require.NoError(t, f.sess.Reset())

	snap := f.sess.Snapshot()
	assert.Equal(t, WalletAbsent, snap.State)
	assert.Nil(t, snap.Address)
	assert.Nil(t, snap.Balance)

	_, ok, err := f.handles.Load()
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.sess.LoadWallet(context.Background())
	assert.ErrorIs(t, err, ErrNoHandleAvailable)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unlocked", Unlocked.String())
	assert.Equal(t, "wallet-absent", WalletAbsent.String())
	assert.Equal(t, "unknown", State(99).String())
}

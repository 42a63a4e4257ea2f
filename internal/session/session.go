// Package session is the account session: which wallet is unlocked, on which
// network, with what balance. Key material passes through it only for the
// duration of one derivation or signing call.
package session

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/quantumauth-io/gmgn-wallet/internal/chains"
	"github.com/quantumauth-io/gmgn-wallet/internal/networks"
	"github.com/quantumauth-io/gmgn-wallet/internal/securefile"
	"github.com/quantumauth-io/gmgn-wallet/internal/storage"
	"github.com/quantumauth-io/gmgn-wallet/internal/vault"
	"github.com/quantumauth-io/quantum-go-utils/log"
	"golang.org/x/sync/singleflight"
)

var (
	ErrNotStarted           = errors.New("session: not started")
	ErrWalletExists         = errors.New("session: wallet already exists")
	ErrWalletCreationFailed = errors.New("session: wallet creation failed")
	ErrNoHandleAvailable    = errors.New("session: no credential handle available")
	ErrBalanceUnavailable   = errors.New("session: balance unavailable")
	ErrNotUnlocked          = errors.New("session: wallet is not unlocked")
	ErrChallengeInFlight    = errors.New("session: another authenticator challenge is in progress")
	ErrNetworkChanged       = errors.New("session: network changed during request")
	ErrKeyMismatch          = errors.New("session: recovered key does not match the unlocked account")
)

type Deps struct {
	Registry *networks.Registry
	Vault    *vault.Vault
	Handles  *vault.HandleCache
	Records  *storage.Records
	Prefs    *storage.Preferences
	Chains   *chains.Service
}

type Session struct {
	d Deps

	mu      sync.Mutex
	state   State
	record  storage.WalletRecord
	network networks.Profile
	epoch   uint64
	address common.Address
	balance *Balance

	loads     singleflight.Group
	challenge sync.Mutex

	now func() time.Time
}

func New(d Deps) *Session {
	return &Session{
		d:       d,
		network: d.Registry.Default(),
		now:     time.Now,
	}
}

// Start reads the wallet record and the default network. It may be called
// again to re-read persisted state; an unlocked session stays unlocked.
func (s *Session) Start(_ context.Context) (Snapshot, error) {
	rec, err := s.d.Records.Load()
	if err != nil {
		return Snapshot{}, fmt.Errorf("load wallet record: %w", err)
	}
	netID, err := s.d.Prefs.DefaultNetwork()
	if err != nil {
		return Snapshot{}, fmt.Errorf("load default network: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.record = rec
	if s.state != Unlocked {
		s.network = s.d.Registry.Resolve(netID)
		if rec.Status == storage.WalletCreated {
			s.state = WalletLockedNoHandle
		} else {
			s.state = WalletAbsent
		}
	}

	log.Info("session started", "state", s.state.String(), "network", s.network.ID)
	return s.snapshotLocked(), nil
}

// CreateWallet generates key material, seals it and persists the handle and
// record. Nothing is written unless sealing succeeds.
func (s *Session) CreateWallet(ctx context.Context, displayName string) (storage.WalletRecord, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return storage.WalletRecord{}, fmt.Errorf("%w: display name is required", ErrWalletCreationFailed)
	}

	if err := s.canCreate(); err != nil {
		return storage.WalletRecord{}, err
	}
	return s.create(ctx, displayName)
}

func (s *Session) canCreate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Uninitialized:
		return ErrNotStarted
	case WalletLockedNoHandle, Unlocked:
		return ErrWalletExists
	}
	return nil
}

// create runs under the challenge lock. The state is checked again there
// since another create may have finished after the caller's check.
func (s *Session) create(ctx context.Context, displayName string) (storage.WalletRecord, error) {
	if !s.challenge.TryLock() {
		return storage.WalletRecord{}, ErrChallengeInFlight
	}
	defer s.challenge.Unlock()

	if err := s.canCreate(); err != nil {
		return storage.WalletRecord{}, err
	}

	secret, err := newKeyMaterial()
	if err != nil {
		return storage.WalletRecord{}, fmt.Errorf("%w: %w", ErrWalletCreationFailed, err)
	}
	defer securefile.ZeroBytes(secret)

	h, err := s.d.Vault.Seal(ctx, displayName, secret)
	if err != nil {
		return storage.WalletRecord{}, fmt.Errorf("%w: %w", ErrWalletCreationFailed, err)
	}

	rec := storage.NewWalletRecord(displayName)
	if err := s.d.Handles.Store(h); err != nil {
		return storage.WalletRecord{}, fmt.Errorf("%w: store handle: %w", ErrWalletCreationFailed, err)
	}
	if err := s.d.Records.Store(rec); err != nil {
		if cerr := s.d.Handles.Clear(); cerr != nil {
			log.Warn("could not roll back handle cache", "error", cerr)
		}
		return storage.WalletRecord{}, fmt.Errorf("%w: store record: %w", ErrWalletCreationFailed, err)
	}

	s.mu.Lock()
	s.record = rec
	s.state = WalletLockedNoHandle
	s.mu.Unlock()

	log.Info("wallet created", "name", rec.DisplayName, "handle", h.String())
	return rec, nil
}

// LoadWallet unseals the key, derives the account address and keeps only the
// address. Concurrent calls share one challenge; an unlocked session returns
// its address without a challenge.
func (s *Session) LoadWallet(ctx context.Context) (common.Address, error) {
	s.mu.Lock()
	switch s.state {
	case Uninitialized:
		s.mu.Unlock()
		return common.Address{}, ErrNotStarted
	case Unlocked:
		addr := s.address
		s.mu.Unlock()
		return addr, nil
	}
	s.mu.Unlock()

	v, err, shared := s.loads.Do("load", func() (any, error) {
		return s.unlock(ctx)
	})
	if shared {
		log.Info("wallet load coalesced with in-flight challenge")
	}
	if err != nil {
		return common.Address{}, err
	}
	return v.(common.Address), nil
}

func (s *Session) unlock(ctx context.Context) (common.Address, error) {
	if !s.challenge.TryLock() {
		return common.Address{}, ErrChallengeInFlight
	}
	defer s.challenge.Unlock()

	// an earlier unlock may have completed after LoadWallet checked the state
	s.mu.Lock()
	switch s.state {
	case Uninitialized:
		s.mu.Unlock()
		return common.Address{}, ErrNotStarted
	case Unlocked:
		addr := s.address
		s.mu.Unlock()
		return addr, nil
	}
	s.mu.Unlock()

	h, err := s.handle(ctx)
	if err != nil {
		return common.Address{}, err
	}

	secret, err := s.d.Vault.Unseal(ctx, h)
	if err != nil {
		return common.Address{}, err
	}
	key, err := toKey(secret)
	if err != nil {
		return common.Address{}, err
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	zeroKey(key)

	s.mu.Lock()
	s.address = addr
	s.state = Unlocked
	s.epoch++
	s.mu.Unlock()

	log.Info("wallet unlocked", "address", addr.Hex())
	return addr, nil
}

// handle returns the cached handle, falling back to authenticator discovery.
func (s *Session) handle(ctx context.Context) (vault.Handle, error) {
	h, ok, err := s.d.Handles.Load()
	if err != nil {
		return nil, err
	}
	if ok {
		return h, nil
	}

	s.mu.Lock()
	rec := s.record
	s.mu.Unlock()
	if rec.Status != storage.WalletCreated {
		return nil, ErrNoHandleAvailable
	}

	h, err = s.d.Vault.Discover(ctx, rec.DisplayName)
	if err != nil {
		log.Warn("handle cache empty and discovery failed", "error", err)
		return nil, ErrNoHandleAvailable
	}
	if err := s.d.Handles.Store(h); err != nil {
		log.Warn("could not repopulate handle cache", "error", err)
	}
	log.Info("handle recovered from authenticator", "handle", h.String())
	return h, nil
}

// RefreshBalance reads the balance on the active network. On failure the last
// balance is kept as is.
func (s *Session) RefreshBalance(ctx context.Context) (Balance, error) {
	s.mu.Lock()
	if s.state != Unlocked {
		s.mu.Unlock()
		return Balance{}, ErrNotUnlocked
	}
	p, addr, epoch := s.network, s.address, s.epoch
	s.mu.Unlock()

	c, err := s.d.Chains.Client(ctx, p)
	if err != nil {
		return Balance{}, fmt.Errorf("%w: %w", ErrBalanceUnavailable, err)
	}
	wei, err := c.BalanceAt(ctx, addr, nil)
	if err != nil {
		log.Warn("balance refresh failed", "network", p.ID, "error", err)
		return Balance{}, fmt.Errorf("%w: %w", ErrBalanceUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return Balance{}, ErrNetworkChanged
	}
	s.balance = &Balance{Network: p.ID, Wei: wei, UpdatedAt: s.now()}
	return *s.balance.clone(), nil
}

// SwitchNetwork selects a network profile. Unknown ids resolve to the default
// profile. When unlocked the balance is refreshed once against the new
// profile; until then the old balance stays visible but marked stale.
func (s *Session) SwitchNetwork(ctx context.Context, id string) (networks.Profile, error) {
	if !s.d.Registry.Known(id) {
		log.Warn("unknown network, using default", "network", id)
	}
	p := s.d.Registry.Resolve(id)

	s.mu.Lock()
	if s.state == Uninitialized {
		s.mu.Unlock()
		return networks.Profile{}, ErrNotStarted
	}
	s.network = p
	s.epoch++
	if s.balance != nil && s.balance.Network != p.ID {
		s.balance.Stale = true
	}
	unlocked := s.state == Unlocked
	s.mu.Unlock()

	log.Info("network switched", "network", p.ID)
	if !unlocked {
		return p, nil
	}
	if _, err := s.RefreshBalance(ctx); err != nil {
		return p, err
	}
	return p, nil
}

// Reset forgets the wallet: it clears the handle cache and the record and
// drops the derived address. The authenticator credential is left alone.
func (s *Session) Reset() error {
	if !s.challenge.TryLock() {
		return ErrChallengeInFlight
	}
	defer s.challenge.Unlock()

	if err := s.d.Handles.Clear(); err != nil {
		return fmt.Errorf("clear handle cache: %w", err)
	}
	if err := s.d.Records.Clear(); err != nil {
		return fmt.Errorf("clear wallet record: %w", err)
	}

	s.mu.Lock()
	s.state = WalletAbsent
	s.record = storage.WalletRecord{Status: storage.WalletAbsent}
	s.address = common.Address{}
	s.balance = nil
	s.epoch++
	s.mu.Unlock()

	log.Info("wallet reset")
	return nil
}

// WithKey challenges the user again and lends the private key to fn. The key
// is zeroed when fn returns.
func (s *Session) WithKey(ctx context.Context, fn func(key *ecdsa.PrivateKey) error) error {
	s.mu.Lock()
	if s.state != Unlocked {
		s.mu.Unlock()
		return ErrNotUnlocked
	}
	want := s.address
	s.mu.Unlock()

	if !s.challenge.TryLock() {
		return ErrChallengeInFlight
	}
	defer s.challenge.Unlock()

	h, err := s.handle(ctx)
	if err != nil {
		return err
	}

	secret, err := s.d.Vault.Unseal(ctx, h)
	if err != nil {
		return err
	}
	key, err := toKey(secret)
	if err != nil {
		return err
	}
	defer zeroKey(key)

	if crypto.PubkeyToAddress(key.PublicKey) != want {
		return ErrKeyMismatch
	}
	return fn(key)
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:   s.state,
		Wallet:  s.record,
		Network: s.network,
		Balance: s.balance.clone(),
	}
	if s.state == Unlocked {
		addr := s.address
		snap.Address = &addr
	}
	return snap
}

func (s *Session) Network() networks.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.network
}

// Target returns the account and network operations are bound to.
func (s *Session) Target() (Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Unlocked {
		return Target{}, ErrNotUnlocked
	}
	return Target{Address: s.address, Network: s.network, Epoch: s.epoch}, nil
}

// Current reports whether t still names the unlocked account and network.
func (s *Session) Current(t Target) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Unlocked && s.epoch == t.Epoch && s.address == t.Address
}

// Client returns the chain client for the active network.
func (s *Session) Client(ctx context.Context, p networks.Profile) (chains.Client, error) {
	return s.d.Chains.Client(ctx, p)
}

// newKeyMaterial returns 32 random bytes that form a valid secp256k1 key.
func newKeyMaterial() ([]byte, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	defer zeroKey(key)
	return crypto.FromECDSA(key), nil
}

func toKey(secret []byte) (*ecdsa.PrivateKey, error) {
	defer securefile.ZeroBytes(secret)
	key, err := crypto.ToECDSA(secret)
	if err != nil {
		return nil, fmt.Errorf("invalid key material: %w", err)
	}
	return key, nil
}

func zeroKey(k *ecdsa.PrivateKey) {
	if k != nil && k.D != nil {
		k.D.SetInt64(0)
	}
}

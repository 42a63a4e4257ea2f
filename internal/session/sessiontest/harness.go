// Package sessiontest wires a session against in-memory storage, an in-memory
// authenticator and scripted chain clients.
package sessiontest

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/quantumauth-io/gmgn-wallet/internal/authenticator"
	"github.com/quantumauth-io/gmgn-wallet/internal/chains"
	"github.com/quantumauth-io/gmgn-wallet/internal/chains/chainstest"
	"github.com/quantumauth-io/gmgn-wallet/internal/networks"
	"github.com/quantumauth-io/gmgn-wallet/internal/session"
	"github.com/quantumauth-io/gmgn-wallet/internal/storage"
	"github.com/quantumauth-io/gmgn-wallet/internal/vault"
	"github.com/stretchr/testify/require"
)

// Auth is an in-memory authenticator. RevealErr fails reveals; Gate, when
// set, blocks reveals until closed.
type Auth struct {
	mu        sync.Mutex
	creds     map[string][]byte
	RevealErr error
	Gate      chan struct{}
	Started   chan struct{}
	reveals   int
}

func NewAuth() *Auth {
	return &Auth{creds: map[string][]byte{}}
}

func (a *Auth) Create(_ context.Context, _ string, secret []byte) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := []byte{0xa0, byte(len(a.creds) + 1)}
	a.creds[string(id)] = bytes.Clone(secret)
	return id, nil
}

func (a *Auth) Reveal(ctx context.Context, id []byte) ([]byte, error) {
	a.mu.Lock()
	a.reveals++
	gate, started, revealErr := a.Gate, a.Started, a.RevealErr
	a.mu.Unlock()

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
	if revealErr != nil {
		return nil, revealErr
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.creds[string(id)]
	if !ok {
		return nil, authenticator.ErrCredentialNotFound
	}
	return bytes.Clone(s), nil
}

func (a *Auth) Reveals() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reveals
}

func (a *Auth) SetRevealErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.RevealErr = err
}

type Harness struct {
	Session  *session.Session
	Auth     *Auth
	Registry *networks.Registry
	Prefs    *storage.Preferences
	Clients  map[string]*chainstest.Client
	Address  common.Address
}

// New returns a started session with no wallet.
func New(t testing.TB) *Harness {
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

	auth := NewAuth()
	prefs := storage.NewPreferences(db, reg)
	sess := session.New(session.Deps{
		Registry: reg,
		Vault:    vault.New(auth),
		Handles:  vault.NewHandleCache(db),
		Records:  storage.NewRecords(db),
		Prefs:    prefs,
		Chains:   chains.NewService(reg, dial),
	})
	_, err = sess.Start(context.Background())
	require.NoError(t, err)

	return &Harness{Session: sess, Auth: auth, Registry: reg, Prefs: prefs, Clients: clients}
}

// Unlocked returns a session with a created and loaded wallet.
func Unlocked(t testing.TB) *Harness {
	t.Helper()
	h := New(t)
	ctx := context.Background()

	_, err := h.Session.CreateWallet(ctx, "alice")
	require.NoError(t, err)
	h.Address, err = h.Session.LoadWallet(ctx)
	require.NoError(t, err)
	return h
}

package chains

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/quantumauth-io/gmgn-wallet/internal/chains/chainstest"
	"github.com/quantumauth-io/gmgn-wallet/internal/networks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingDialer struct {
	mu     sync.Mutex
	byURL  map[string]*chainstest.Client
	dialed []string
}

func (d *countingDialer) dial(_ context.Context, rawURL string) (Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialed = append(d.dialed, rawURL)
	c, ok := d.byURL[rawURL]
	if !ok {
		return nil, errors.New("connection refused")
	}
	return c, nil
}

func TestService_CachesPerNetwork(t *testing.T) {
	reg := networks.NewRegistry(networks.Options{})
	kaia := reg.Resolve("kaia-kairos")
	base := reg.Resolve("base-sepolia")

	d := &countingDialer{byURL: map[string]*chainstest.Client{
		kaia.RPCs[0].URL: chainstest.New(kaia.ChainID),
		base.RPCs[0].URL: chainstest.New(base.ChainID),
	}}
	s := NewService(reg, d.dial)
	ctx := context.Background()

	c1, err := s.Client(ctx, kaia)
	require.NoError(t, err)
	c2, err := s.Client(ctx, kaia)
	require.NoError(t, err)
	assert.Same(t, c1, c2)

	c3, err := s.Client(ctx, base)
	require.NoError(t, err)
	assert.NotSame(t, c1, c3)

	assert.Len(t, d.dialed, 2)
}

func TestService_ChainIDMismatch(t *testing.T) {
	reg := networks.NewRegistry(networks.Options{})
	kaia := reg.Resolve("kaia-kairos")

	wrong := chainstest.New(1)
	d := &countingDialer{byURL: map[string]*chainstest.Client{kaia.RPCs[0].URL: wrong}}
	s := NewService(reg, d.dial)

	_, err := s.Client(context.Background(), kaia)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chain id")
	assert.True(t, wrong.Closed)
}

func TestService_DialError(t *testing.T) {
	reg := networks.NewRegistry(networks.Options{})
	s := NewService(reg, (&countingDialer{byURL: map[string]*chainstest.Client{}}).dial)

	_, err := s.Client(context.Background(), reg.Resolve("kaia-kairos"))
	require.Error(t, err)

	_, err = s.Client(context.Background(), networks.Profile{})
	require.Error(t, err)
}

func TestService_Close(t *testing.T) {
	reg := networks.NewRegistry(networks.Options{})
	kaia := reg.Resolve("kaia-kairos")
	fake := chainstest.New(kaia.ChainID)
	d := &countingDialer{byURL: map[string]*chainstest.Client{kaia.RPCs[0].URL: fake}}
	s := NewService(reg, d.dial)

	_, err := s.Client(context.Background(), kaia)
	require.NoError(t, err)

	s.Close()
	assert.True(t, fake.Closed)

	_, err = s.Client(context.Background(), kaia)
	require.NoError(t, err)
	assert.Len(t, d.dialed, 2)
}

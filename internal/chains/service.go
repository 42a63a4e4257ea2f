package chains

import (
	"context"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/quantumauth-io/gmgn-wallet/internal/networks"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

// Service caches one client per network, dialed lazily on first use.
type Service struct {
	registry *networks.Registry
	dial     Dialer

	mu      sync.Mutex
	clients map[string]Client
}

func NewService(registry *networks.Registry, dial Dialer) *Service {
	if dial == nil {
		dial = DialEth
	}
	return &Service{
		registry: registry,
		dial:     dial,
		clients:  make(map[string]Client),
	}
}

// Client returns the client for p, dialing its endpoint if needed. The node's
// chain id must match the profile.
func (s *Service) Client(ctx context.Context, p networks.Profile) (Client, error) {
	key := strings.ToLower(p.ID)
	if key == "" {
		return nil, errors.New("chains: network id is empty")
	}

	s.mu.Lock()
	if existing := s.clients[key]; existing != nil {
		s.mu.Unlock()
		return existing, nil
	}
	s.mu.Unlock()

	rpc, err := s.registry.Endpoint(p)
	if err != nil {
		return nil, err
	}

	// Dial outside the lock
	dialed, err := s.dial(ctx, rpc.URL)
	if err != nil {
		return nil, errors.Wrapf(err, "chains: %s", p.ID)
	}

	if p.ChainID != 0 {
		got, err := dialed.ChainID(ctx)
		if err != nil {
			closeClient(dialed)
			return nil, errors.Wrapf(err, "chains: %s chain id", p.ID)
		}
		if !got.IsUint64() || got.Uint64() != p.ChainID {
			closeClient(dialed)
			return nil, errors.Newf("chains: %s endpoint %q reports chain id %s, want %d", p.ID, rpc.Name, got, p.ChainID)
		}
	}

	s.mu.Lock()
	if existing := s.clients[key]; existing != nil {
		s.mu.Unlock()
		// raced; keep the first one
		closeClient(dialed)
		return existing, nil
	}
	s.clients[key] = dialed
	s.mu.Unlock()

	log.Info("chain client ready", "network", p.ID, "rpc", rpc.Name)
	return dialed, nil
}

// Close closes all cached clients.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, c := range s.clients {
		closeClient(c)
		delete(s.clients, key)
	}
}

func closeClient(c Client) {
	if closer, ok := c.(interface{ Close() }); ok {
		closer.Close()
	}
}

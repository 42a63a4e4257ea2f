package storage

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/quantumauth-io/gmgn-wallet/internal/constants"
	"github.com/quantumauth-io/gmgn-wallet/internal/networks"
)

// Preferences holds the user's default and enabled networks.
type Preferences struct {
	kv       KV
	registry *networks.Registry
}

func NewPreferences(kv KV, registry *networks.Registry) *Preferences {
	return &Preferences{kv: kv, registry: registry}
}

// DefaultNetwork returns the saved default, or the registry default when
// nothing (or an id the registry no longer knows) is saved.
func (p *Preferences) DefaultNetwork() (string, error) {
	b, ok, err := p.kv.Get(constants.DefaultNetworkKey)
	if err != nil {
		return "", err
	}
	if !ok || !p.registry.Known(string(b)) {
		return p.registry.Default().ID, nil
	}
	return networks.NormalizeID(string(b)), nil
}

func (p *Preferences) SetDefaultNetwork(id string) error {
	if !p.registry.Known(id) {
		return fmt.Errorf("unknown network %q", id)
	}
	return p.kv.Set(constants.DefaultNetworkKey, []byte(networks.NormalizeID(id)))
}

// AvailableNetworks returns the enabled networks, sorted. All known networks
// are enabled until the user saves a selection.
func (p *Preferences) AvailableNetworks() ([]string, error) {
	b, ok, err := p.kv.Get(constants.AvailableNetworksKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return p.registry.IDs(), nil
	}

	var ids []string
	if err := json.Unmarshal(b, &ids); err != nil {
		return nil, fmt.Errorf("unmarshal available networks: %w", err)
	}
	return p.filterKnown(ids), nil
}

func (p *Preferences) SetAvailableNetworks(ids []string) error {
	for _, id := range ids {
		if !p.registry.Known(id) {
			return fmt.Errorf("unknown network %q", id)
		}
	}
	b, err := json.Marshal(p.filterKnown(ids))
	if err != nil {
		return fmt.Errorf("marshal available networks: %w", err)
	}
	return p.kv.Set(constants.AvailableNetworksKey, b)
}

// ResetAvailableNetworks enables every known network again.
func (p *Preferences) ResetAvailableNetworks() error {
	return p.SetAvailableNetworks(p.registry.IDs())
}

func (p *Preferences) filterKnown(ids []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = networks.NormalizeID(id)
		if !p.registry.Known(id) {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

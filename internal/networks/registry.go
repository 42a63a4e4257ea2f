package networks

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/quantumauth-io/gmgn-wallet/internal/constants"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

// profiles is the single source of truth for supported networks. Adding a
// network is an edit to this table.
var profiles = []Profile{
	{
		ID:                "ethereum-sepolia",
		DisplayName:       "Ethereum Sepolia",
		NativeAssetSymbol: "ETH",
		ChainID:           11155111,
		Explorer:          "https://sepolia.etherscan.io",
		RPCs:              []RPC{{Name: "Public", URL: "https://ethereum-sepolia-rpc.publicnode.com"}},
	},
	{
		ID:                "arbitrum-sepolia",
		DisplayName:       "Arbitrum Sepolia",
		NativeAssetSymbol: "ETH",
		ChainID:           421614,
		Explorer:          "https://sepolia.arbiscan.io",
		RPCs:              []RPC{{Name: "Public", URL: "https://sepolia-rollup.arbitrum.io/rpc"}},
	},
	{
		ID:                "base-sepolia",
		DisplayName:       "Base Sepolia",
		NativeAssetSymbol: "ETH",
		ChainID:           84532,
		Explorer:          "https://sepolia.basescan.org",
		RPCs:              []RPC{{Name: "Public", URL: "https://sepolia.base.org"}},
	},
	{
		ID:                "kaia-kairos",
		DisplayName:       "Kaia Kairos",
		NativeAssetSymbol: "KLAY",
		ChainID:           1001,
		Explorer:          "https://kairos.kaiascan.io",
		RPCs:              []RPC{{Name: "Public", URL: "https://public-en-kairos.node.kaia.io"}},
	},
}

// Registry resolves network ids to profiles. It is read-only after
// construction and safe for concurrent use.
type Registry struct {
	byID         map[string]Profile
	ids          []string
	fallback     string
	preferredRPC string
}

// Options tune endpoint selection. RPCs overlays the built-in endpoints of a
// known network; unknown ids are ignored.
type Options struct {
	DefaultNetwork string
	PreferredRPC   string
	RPCs           map[string][]RPC
}

func NewRegistry(opt Options) *Registry {
	r := &Registry{
		byID:         make(map[string]Profile, len(profiles)),
		preferredRPC: strings.TrimSpace(opt.PreferredRPC),
	}

	for _, p := range profiles {
		p.RPCs = append([]RPC(nil), p.RPCs...)
		r.byID[p.ID] = p
		r.ids = append(r.ids, p.ID)
	}
	sort.Strings(r.ids)

	for id, rpcs := range opt.RPCs {
		key := NormalizeID(id)
		p, ok := r.byID[key]
		if !ok {
			log.Warn("ignoring rpc override for unknown network", "network", id)
			continue
		}
		if normalized := normalizeRPCs(rpcs); len(normalized) > 0 {
			p.RPCs = normalized
			r.byID[key] = p
		}
	}

	r.fallback = constants.DefaultNetwork
	if def := NormalizeID(opt.DefaultNetwork); def != "" {
		if _, ok := r.byID[def]; ok {
			r.fallback = def
		} else {
			log.Warn("unknown default network, using built-in default", "network", opt.DefaultNetwork, "default", r.fallback)
		}
	}
	return r
}

// Resolve never fails: unknown ids map to the default profile.
func (r *Registry) Resolve(id string) Profile {
	if p, ok := r.byID[NormalizeID(id)]; ok {
		return p
	}
	return r.byID[r.fallback]
}

func (r *Registry) Known(id string) bool {
	_, ok := r.byID[NormalizeID(id)]
	return ok
}

func (r *Registry) Default() Profile { return r.byID[r.fallback] }

func (r *Registry) AssetSymbol(id string) string { return r.Resolve(id).NativeAssetSymbol }

func (r *Registry) DisplayName(id string) string { return r.Resolve(id).DisplayName }

// IDs returns every known network id, sorted.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.ids...)
}

func (r *Registry) List() []Profile {
	out := make([]Profile, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.byID[id])
	}
	return out
}

// Endpoint picks the RPC by preferred name, otherwise the first one.
func (r *Registry) Endpoint(p Profile) (RPC, error) {
	if r.preferredRPC != "" {
		for _, rpc := range p.RPCs {
			if strings.EqualFold(rpc.Name, r.preferredRPC) {
				return rpc, nil
			}
		}
	}
	if len(p.RPCs) == 0 {
		return RPC{}, fmt.Errorf("network %q has no RPCs configured", p.ID)
	}
	return p.RPCs[0], nil
}

func NormalizeID(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizeRPCs(in []RPC) []RPC {
	out := make([]RPC, 0, len(in))
	seen := map[string]struct{}{} // by url
	for _, r := range in {
		name := strings.TrimSpace(r.Name)
		raw := strings.TrimSpace(r.URL)
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			log.Warn("skipping invalid rpc url", "name", name, "url", raw)
			continue
		}
		switch u.Scheme {
		case "http", "https", "ws", "wss":
		default:
			log.Warn("skipping rpc url with unsupported scheme", "name", name, "scheme", u.Scheme)
			continue
		}

		key := strings.ToLower(raw)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		if name == "" {
			name = "Custom"
		}
		out = append(out, RPC{Name: name, URL: raw})
	}
	return out
}

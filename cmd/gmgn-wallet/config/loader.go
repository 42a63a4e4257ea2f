package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/quantumauth-io/gmgn-wallet/internal/constants"
	"github.com/quantumauth-io/gmgn-wallet/internal/networks"
	"github.com/quantumauth-io/gmgn-wallet/internal/securefile"
	"github.com/spf13/viper"
)

//go:embed config.yaml
var EmbeddedConfigYAML []byte

const envPrefix = "GMGN"

const (
	AuthenticatorTPM = "tpm"
	AuthenticatorPIN = "pin"
)

type ClientSettings struct {
	LocalHost      string
	Port           string
	AllowedOrigins []string
}

type WalletSettings struct {
	DataDir        string
	Authenticator  string
	DefaultNetwork string
	PreferredRPC   string
	InfuraKey      string
}

type NetworkSettings struct {
	RPCs []networks.RPC
}

type Config struct {
	ClientSettings *ClientSettings
	Wallet         *WalletSettings
	Networks       map[string]NetworkSettings
}

// infura subdomains for the networks it serves
var infuraHosts = map[string]string{
	"ethereum-sepolia": "sepolia",
	"arbitrum-sepolia": "arbitrum-sepolia",
	"base-sepolia":     "base-sepolia",
}

func infuraRPC(chain string, key string) string {
	return fmt.Sprintf("https://%s.infura.io/v3/%s", chain, key)
}

// Load reads the embedded defaults, merges the first user config file found
// (or path, when set) and applies GMGN_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(EmbeddedConfigYAML)); err != nil {
		return nil, fmt.Errorf("read embedded config: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(strings.TrimSuffix(constants.ConfigFileName, filepath.Ext(constants.ConfigFileName)))
		for _, dir := range searchPaths() {
			v.AddConfigPath(dir)
		}
		if err := v.MergeInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read user config: %w", err)
			}
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func searchPaths() []string {
	var out []string
	if home, err := os.UserHomeDir(); err == nil {
		out = append(out,
			filepath.Join(home, ".config", constants.AppName),
			filepath.Join(home, "config"),
		)
	}
	return append(out, ".")
}

// Normalize fills defaults and rejects settings the wallet cannot run with.
func (c *Config) Normalize() error {
	if c.ClientSettings == nil {
		c.ClientSettings = &ClientSettings{}
	}
	if c.Wallet == nil {
		c.Wallet = &WalletSettings{}
	}
	if c.Networks == nil {
		c.Networks = map[string]NetworkSettings{}
	}

	cs := c.ClientSettings
	cs.LocalHost = strings.TrimSpace(cs.LocalHost)
	if cs.LocalHost == "" {
		cs.LocalHost = "127.0.0.1"
	}
	if strings.TrimSpace(cs.Port) == "" {
		return errors.New("ClientSettings.Port is empty")
	}

	w := c.Wallet
	w.Authenticator = strings.ToLower(strings.TrimSpace(w.Authenticator))
	switch w.Authenticator {
	case "":
		w.Authenticator = AuthenticatorTPM
	case AuthenticatorTPM, AuthenticatorPIN:
	default:
		return fmt.Errorf("invalid Wallet.Authenticator %q (allowed: tpm, pin)", w.Authenticator)
	}

	if w.DataDir == "" {
		paths, err := securefile.ConfigPathCandidates(constants.AppName, constants.StoreDirName)
		if err != nil {
			return err
		}
		w.DataDir = filepath.Dir(paths[0])
	}

	for id, n := range c.Networks {
		for _, rpc := range n.RPCs {
			if !strings.HasPrefix(rpc.URL, "http://") && !strings.HasPrefix(rpc.URL, "https://") &&
				!strings.HasPrefix(rpc.URL, "ws://") && !strings.HasPrefix(rpc.URL, "wss://") {
				return fmt.Errorf("Networks[%q] rpc %q: unsupported url %q", id, rpc.Name, rpc.URL)
			}
		}
	}

	if key := strings.TrimSpace(w.InfuraKey); key != "" {
		if err := c.InjectInfuraKey(key); err != nil {
			return err
		}
	}
	return nil
}

// InjectInfuraKey puts an Infura endpoint first on every network Infura
// serves and prefers it when no other preference is set.
func (c *Config) InjectInfuraKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("infura api key is empty")
	}

	for id, host := range infuraHosts {
		n := c.Networks[id]
		rpcs := []networks.RPC{{Name: "Infura", URL: infuraRPC(host, key)}}
		for _, r := range n.RPCs {
			if r.Name != "Infura" {
				rpcs = append(rpcs, r)
			}
		}
		n.RPCs = rpcs
		c.Networks[id] = n
	}

	if c.Wallet.PreferredRPC == "" {
		c.Wallet.PreferredRPC = "Infura"
	}
	return nil
}

// RegistryOptions maps the config onto the network registry.
func (c *Config) RegistryOptions() networks.Options {
	rpcs := make(map[string][]networks.RPC, len(c.Networks))
	for id, n := range c.Networks {
		if len(n.RPCs) > 0 {
			rpcs[id] = n.RPCs
		}
	}
	return networks.Options{
		DefaultNetwork: c.Wallet.DefaultNetwork,
		PreferredRPC:   c.Wallet.PreferredRPC,
		RPCs:           rpcs,
	}
}

// Addr is the local API listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.ClientSettings.LocalHost, c.ClientSettings.Port)
}

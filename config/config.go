// Package config loads the command-line configuration: the networks the
// tasks talk to, their accounts, where deployment records live, the local
// node settings and logging. Values come from a YAML file, LOCKEDWORLDS_*
// environment variables and bound command-line flags, in increasing
// priority.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/lockedworlds/lockedworlds/log"
	"github.com/lockedworlds/lockedworlds/node"
	"github.com/lockedworlds/lockedworlds/wallet"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "LOCKEDWORLDS"

// DefaultFile is looked up in the working directory when no file is given.
const DefaultFile = "lockedworlds.yaml"

// LocalNetwork is the name of the built-in development network.
const LocalNetwork = "localhost"

var (
	// ErrUnknownNetwork is returned when a network name has no entry.
	ErrUnknownNetwork = errors.New("unknown network")
	// ErrNoSigners is returned when a network has no usable account.
	ErrNoSigners = errors.New("no accounts configured")
)

// Network describes a chain the CLI can talk to.
type Network struct {
	Name       string `mapstructure:"-"`
	RPCURL     string `mapstructure:"rpc_url"`
	RelayerURL string `mapstructure:"relayer_url"`
	ChainID    uint64 `mapstructure:"chain_id"`
	// DevAccounts is how many deterministic dev accounts sign on this
	// network. Only meaningful on a local chain.
	DevAccounts int `mapstructure:"dev_accounts"`
	// Accounts are hex private keys.
	Accounts []string `mapstructure:"accounts"`
	// Keystore is a go-ethereum keystore directory unlocked with
	// KeystorePassword.
	Keystore         string `mapstructure:"keystore"`
	KeystorePassword string `mapstructure:"keystore_password"`
}

// Config is the full CLI configuration.
type Config struct {
	// Network is the network used when none is named.
	Network string `mapstructure:"network"`
	// Deployments is the root of the per-network deployment records.
	Deployments string `mapstructure:"deployments"`
	// PrivateKey, when set, is added to the accounts of every network.
	PrivateKey string             `mapstructure:"private_key"`
	Networks   map[string]Network `mapstructure:"networks"`
	Node       node.Config        `mapstructure:"node"`
	Log        log.Config         `mapstructure:"log"`
}

// Default returns the built-in configuration: one localhost network
// served by a default node.
func Default() *Config {
	n := node.DefaultConfig()
	return &Config{
		Network:     LocalNetwork,
		Deployments: "deployments",
		Networks: map[string]Network{
			LocalNetwork: localNetwork(&n),
		},
		Node: n,
		Log:  log.DefaultConfig(),
	}
}

func localNetwork(n *node.Config) Network {
	return Network{
		Name:        LocalNetwork,
		RPCURL:      "http://" + n.RPCAddr(),
		RelayerURL:  "http://" + n.RelayerAddr(),
		ChainID:     n.ChainID,
		DevAccounts: n.DevAccounts,
	}
}

// Loader reads a Config through viper.
type Loader struct {
	v *viper.Viper
}

// NewLoader returns a loader seeded with the defaults.
func NewLoader() *Loader {
	v := viper.New()
	def := Default()
	v.SetDefault("network", def.Network)
	v.SetDefault("deployments", def.Deployments)
	v.SetDefault("private_key", "")

	local := def.Networks[LocalNetwork]
	v.SetDefault("networks.localhost.rpc_url", local.RPCURL)
	v.SetDefault("networks.localhost.relayer_url", local.RelayerURL)
	v.SetDefault("networks.localhost.chain_id", local.ChainID)
	v.SetDefault("networks.localhost.dev_accounts", local.DevAccounts)

	n := def.Node
	v.SetDefault("node.data_dir", n.DataDir)
	v.SetDefault("node.db_engine", n.DBEngine)
	v.SetDefault("node.chain_id", n.ChainID)
	v.SetDefault("node.dev_accounts", n.DevAccounts)
	v.SetDefault("node.fhe_backend", n.FHEBackend)
	v.SetDefault("node.seed", n.Seed)
	v.SetDefault("node.host", n.Host)
	v.SetDefault("node.rpc_port", n.RPCPort)
	v.SetDefault("node.relayer_port", n.RelayerPort)
	v.SetDefault("node.metrics", n.Metrics)
	v.SetDefault("node.metrics_port", n.MetricsPort)
	v.SetDefault("node.cors_origins", n.CORSOrigins)

	l := def.Log
	v.SetDefault("log.level", l.Level)
	v.SetDefault("log.format", l.Format)
	v.SetDefault("log.file", l.File)
	v.SetDefault("log.max_size_mb", l.MaxSizeMB)
	v.SetDefault("log.max_backups", l.MaxBackups)
	v.SetDefault("log.max_age_days", l.MaxAgeDays)
	v.SetDefault("log.compress", l.Compress)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// BindFlag makes flag override key when it is set on the command line.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("config: no flag for %s", key)
	}
	return l.v.BindPFlag(key, flag)
}

// Load reads path, or DefaultFile from the working directory when path
// is empty and the file exists, and returns the validated configuration.
func (l *Loader) Load(path string) (*Config, error) {
	l.v.SetConfigType("yaml")
	switch {
	case path != "":
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	default:
		if _, err := os.Stat(DefaultFile); err == nil {
			l.v.SetConfigFile(DefaultFile)
			if err := l.v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("config: read %s: %w", DefaultFile, err)
			}
		}
	}

	cfg := new(Config)
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	for name, n := range cfg.Networks {
		n.Name = name
		cfg.Networks[name] = n
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// File returns the config file in use, if any.
func (l *Loader) File() string { return l.v.ConfigFileUsed() }

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if c.Deployments == "" {
		return errors.New("config: deployments directory must not be empty")
	}
	if _, ok := c.Networks[c.Network]; !ok {
		return fmt.Errorf("config: default network %q: %w", c.Network, ErrUnknownNetwork)
	}
	for name, n := range c.Networks {
		if err := n.validate(); err != nil {
			return fmt.Errorf("config: network %s: %w", name, err)
		}
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return c.Node.Validate()
}

func (n *Network) validate() error {
	for field, raw := range map[string]string{"rpc_url": n.RPCURL, "relayer_url": n.RelayerURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid %s %q", field, raw)
		}
	}
	if n.DevAccounts < 0 {
		return fmt.Errorf("invalid dev_accounts %d", n.DevAccounts)
	}
	return nil
}

// Select returns the named network, or the default one for "".
func (c *Config) Select(name string) (*Network, error) {
	if name == "" {
		name = c.Network
	}
	n, ok := c.Networks[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (have %s)", ErrUnknownNetwork, name, strings.Join(c.NetworkNames(), ", "))
	}
	n.Name = name
	if c.PrivateKey != "" {
		n.Accounts = append([]string{c.PrivateKey}, n.Accounts...)
	}
	return &n, nil
}

// NetworkNames lists the configured networks in order.
func (c *Config) NetworkNames() []string {
	names := make([]string, 0, len(c.Networks))
	for name := range c.Networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Keyring builds the signers of the network: configured private keys
// first, then keystore accounts, then dev accounts.
func (n *Network) Keyring() (*wallet.Keyring, error) {
	ring := wallet.NewKeyring()
	for i, key := range n.Accounts {
		s, err := wallet.HexKeySigner(key)
		if err != nil {
			return nil, fmt.Errorf("network %s: account %d: %w", n.Name, i, err)
		}
		ring.Add(s)
	}
	if n.Keystore != "" {
		signers, err := wallet.OpenKeystore(n.Keystore, n.KeystorePassword)
		if err != nil {
			return nil, fmt.Errorf("network %s: keystore: %w", n.Name, err)
		}
		for _, s := range signers {
			ring.Add(s)
		}
	}
	for _, s := range wallet.DevAccounts(n.DevAccounts) {
		ring.Add(s)
	}
	if len(ring.Accounts()) == 0 {
		return nil, fmt.Errorf("network %s: %w", n.Name, ErrNoSigners)
	}
	return ring, nil
}

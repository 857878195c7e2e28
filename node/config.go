// Package node runs the LockedWorlds development daemon, wiring together
// the dev chain, the encrypted-value coprocessor, the JSON-RPC server, the
// decryption relayer and the metrics endpoint.
package node

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
)

// Database engines.
const (
	DBMemory  = "memory"
	DBLevelDB = "leveldb"
)

// Coprocessor backends.
const (
	BackendMock = "mock"
	BackendBGV  = "bgv"
)

// Config holds all configuration for a LockedWorlds node.
type Config struct {
	// DataDir is the root directory for all data storage.
	DataDir string `mapstructure:"data_dir"`

	// DBEngine selects the chain database (memory, leveldb).
	DBEngine string `mapstructure:"db_engine"`

	// ChainID is the chain id of the dev network.
	ChainID uint64 `mapstructure:"chain_id"`

	// DevAccounts is the number of deterministic accounts funded at genesis.
	DevAccounts int `mapstructure:"dev_accounts"`

	// FHEBackend selects the coprocessor backend (mock, bgv).
	FHEBackend string `mapstructure:"fhe_backend"`

	// Seed is the hex coprocessor seed. When empty a random seed is used
	// and, with a persistent database, kept in the data directory.
	Seed string `mapstructure:"seed"`

	// Host is the interface the HTTP listeners bind to. A port of zero
	// picks a free port.
	Host string `mapstructure:"host"`

	// RPCPort is the HTTP port for the JSON-RPC server.
	RPCPort int `mapstructure:"rpc_port"`

	// RelayerPort is the HTTP port for the decryption relayer.
	RelayerPort int `mapstructure:"relayer_port"`

	// Metrics enables the /metrics and /health endpoint on MetricsPort.
	Metrics     bool `mapstructure:"metrics"`
	MetricsPort int  `mapstructure:"metrics_port"`

	// CORSOrigins lists the browser origins allowed on the RPC and
	// relayer endpoints.
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DataDir:     "lockedworlds-data",
		DBEngine:    DBMemory,
		ChainID:     31337,
		DevAccounts: 10,
		FHEBackend:  BackendMock,
		Host:        "127.0.0.1",
		RPCPort:     8545,
		RelayerPort: 8645,
		Metrics:     true,
		MetricsPort: 6060,
		CORSOrigins: []string{"*"},
	}
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if c.DataDir == "" && (c.DBEngine == DBLevelDB || c.FHEBackend == BackendBGV) {
		return errors.New("config: datadir must not be empty")
	}
	if c.ChainID == 0 {
		return errors.New("config: chain id must be positive")
	}
	if c.DevAccounts < 0 {
		return fmt.Errorf("config: invalid dev account count: %d", c.DevAccounts)
	}
	for name, port := range map[string]int{"rpc": c.RPCPort, "relayer": c.RelayerPort, "metrics": c.MetricsPort} {
		if port < 0 || port > 65535 {
			return fmt.Errorf("config: invalid %s port: %d", name, port)
		}
	}
	switch c.DBEngine {
	case DBMemory, DBLevelDB:
	default:
		return fmt.Errorf("config: unknown database engine %q", c.DBEngine)
	}
	switch c.FHEBackend {
	case BackendMock, BackendBGV:
	default:
		return fmt.Errorf("config: unknown fhe backend %q", c.FHEBackend)
	}
	if c.Seed != "" {
		if _, err := c.SeedBytes(); err != nil {
			return err
		}
	}
	return nil
}

// SeedBytes decodes the configured coprocessor seed.
func (c *Config) SeedBytes() ([]byte, error) {
	if c.Seed == "" {
		return nil, nil
	}
	s := c.Seed
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("config: invalid seed: %w", err)
	}
	if len(b) < 16 {
		return nil, fmt.Errorf("config: seed must be at least 16 bytes, have %d", len(b))
	}
	return b, nil
}

// ResolvePath resolves a path relative to the data directory.
func (c *Config) ResolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.DataDir, path)
}

// RPCAddr returns the JSON-RPC listen address.
func (c *Config) RPCAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.RPCPort))
}

// RelayerAddr returns the relayer listen address.
func (c *Config) RelayerAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.RelayerPort))
}

// MetricsAddr returns the metrics listen address.
func (c *Config) MetricsAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.MetricsPort))
}

// DevSeed is the coprocessor seed of DevConfig.
const DevSeed = "0x6c6f636b6564776f726c64732d646576"

// DevConfig returns an in-memory configuration listening on free local
// ports with a fixed coprocessor seed.
func DevConfig() Config {
	c := DefaultConfig()
	c.DataDir = ""
	c.Seed = DevSeed
	c.RPCPort = 0
	c.RelayerPort = 0
	c.Metrics = false
	c.MetricsPort = 0
	return c
}

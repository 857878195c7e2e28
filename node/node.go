package node

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/params"

	"github.com/lockedworlds/lockedworlds/core"
	"github.com/lockedworlds/lockedworlds/fhe"
	"github.com/lockedworlds/lockedworlds/lockedworlds"
	"github.com/lockedworlds/lockedworlds/log"
	"github.com/lockedworlds/lockedworlds/metrics"
	"github.com/lockedworlds/lockedworlds/relayer"
	"github.com/lockedworlds/lockedworlds/rpc"
	"github.com/lockedworlds/lockedworlds/wallet"
)

// Node errors.
var (
	ErrNodeRunning = errors.New("node already running")
	ErrNodeStopped = errors.New("node stopped")
)

// Service start priorities.
const (
	priorityRPC     = 10
	priorityRelayer = 20
	priorityMetrics = 30
	priorityMounted = 40
)

// devFunds is the genesis balance of every dev account.
var devFunds = new(big.Int).Mul(big.NewInt(10_000), big.NewInt(params.Ether))

const (
	chainDataDir = "chaindata"
	fheDir       = "fhe"
	seedFile     = "seed"
)

// Node is the LockedWorlds development daemon.
type Node struct {
	config *Config

	db        ethdb.KeyValueStore
	chain     *core.Chain
	kms       *fhe.KMS
	rpc       *rpc.Server
	relayer   *relayer.Server
	health    *HealthChecker
	lifecycle *LifecycleManager
	accounts  []*wallet.KeySigner

	rpcHTTP     *HTTPService
	relayerHTTP *HTTPService
	metricsHTTP *HTTPService
	mounted     int

	log *log.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	stop    chan struct{}
}

// New creates a node with the given configuration. It opens the chain,
// installs the LockedWorlds contract and builds the RPC and relayer
// handlers, but binds no listener until Start.
func New(config *Config) (*Node, error) {
	if config == nil {
		c := DefaultConfig()
		config = &c
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	n := &Node{
		config:    config,
		health:    NewHealthChecker(),
		lifecycle: NewLifecycleManager(),
		accounts:  wallet.DevAccounts(config.DevAccounts),
		log:       log.Module("node"),
		stop:      make(chan struct{}),
	}

	db, err := openDatabase(config)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	n.db = db

	cop, err := openCoprocessor(config)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init coprocessor: %w", err)
	}

	chainCfg := core.DefaultConfig()
	chainCfg.ChainID = new(big.Int).SetUint64(config.ChainID)
	for _, acct := range n.accounts {
		chainCfg.Alloc[acct.Address()] = new(big.Int).Set(devFunds)
	}
	chain, err := core.NewChain(chainCfg, db, cop)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init chain: %w", err)
	}
	n.chain = chain
	lockedworlds.Register(chain)

	rpcCfg := rpc.DefaultConfig()
	rpcCfg.CORSOrigins = config.CORSOrigins
	if n.rpc, err = rpc.NewServer(chain, rpcCfg); err != nil {
		chain.Close()
		return nil, fmt.Errorf("init rpc: %w", err)
	}

	n.kms = fhe.NewKMS(cop, chain.StateReader())
	relayerCfg := relayer.DefaultConfig(chain.ChainID())
	relayerCfg.CORSOrigins = config.CORSOrigins
	n.relayer = relayer.NewServer(relayerCfg, n.kms)

	n.health.Register("chain", func() error {
		_, err := chain.Nonce(common.Address{})
		return err
	})
	n.health.Register("coprocessor", func() error {
		if cop.Backend().Name() == BackendMock {
			return fmt.Errorf("%w: mock backend keeps cleartexts", ErrDegraded)
		}
		return nil
	})

	if err := n.registerServices(); err != nil {
		n.closeChain()
		return nil, err
	}
	n.log.Info("Node initialised",
		"chainid", config.ChainID,
		"db", config.DBEngine,
		"fhe", cop.Backend().Name(),
		"height", chain.BlockNumber(),
		"accounts", len(n.accounts))
	return n, nil
}

func (n *Node) registerServices() error {
	n.rpcHTTP = NewHTTPService("rpc", n.config.RPCAddr(), n.rpc.Handler())
	if err := n.lifecycle.Register(n.rpcHTTP, priorityRPC); err != nil {
		return err
	}
	n.relayerHTTP = NewHTTPService("relayer", n.config.RelayerAddr(), n.relayer.Handler())
	if err := n.lifecycle.Register(n.relayerHTTP, priorityRelayer); err != nil {
		return err
	}
	n.health.Register("relayer", func() error {
		if n.lifecycle.State("relayer") != StateRunning {
			return fmt.Errorf("relayer is %s", n.lifecycle.State("relayer"))
		}
		return nil
	})
	if n.config.Metrics {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.DefaultRegistry.Handler())
		mux.Handle("/health", n.health)
		n.metricsHTTP = NewHTTPService("metrics", n.config.MetricsAddr(), mux)
		if err := n.lifecycle.Register(n.metricsHTTP, priorityMetrics); err != nil {
			return err
		}
	}
	return nil
}

func openDatabase(config *Config) (ethdb.KeyValueStore, error) {
	switch config.DBEngine {
	case DBLevelDB:
		return leveldb.New(config.ResolvePath(chainDataDir), 16, 16, "lockedworlds/db/", false)
	default:
		return memorydb.New(), nil
	}
}

func openCoprocessor(config *Config) (*fhe.Coprocessor, error) {
	backend, err := fhe.NewBackend(config.FHEBackend, config.ResolvePath(fheDir))
	if err != nil {
		return nil, err
	}
	seed, err := config.SeedBytes()
	if err != nil {
		return nil, err
	}
	if seed == nil && config.DBEngine == DBLevelDB {
		if seed, err = loadSeed(config.ResolvePath(filepath.Join(fheDir, seedFile))); err != nil {
			return nil, err
		}
	}
	return fhe.New(backend, seed)
}

// loadSeed reads the coprocessor seed at path, creating it on first use so
// a persistent chain keeps deriving the same random values.
func loadSeed(path string) ([]byte, error) {
	seed, err := os.ReadFile(path)
	if err == nil {
		return seed, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	seed = make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, seed, 0o600); err != nil {
		return nil, err
	}
	return seed, nil
}

// Mount serves an extra handler on addr alongside the node's own
// endpoints. It must be called before Start.
func (n *Node) Mount(name, addr string, handler http.Handler) (*HTTPService, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	svc := NewHTTPService(name, addr, handler)
	if err := n.lifecycle.Register(svc, priorityMounted+n.mounted); err != nil {
		return nil, err
	}
	n.mounted++
	return svc, nil
}

// Start binds all listeners.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrNodeStopped
	}
	if n.running {
		return ErrNodeRunning
	}
	if err := n.lifecycle.StartAll(); err != nil {
		return err
	}
	n.running = true
	n.log.Info("Node started", "rpc", n.rpcHTTP.URL(), "relayer", n.relayerHTTP.URL())
	return nil
}

// Stop shuts down the listeners in reverse order and closes the chain.
// A node that was never started is closed as well.
func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	var errs []error
	if n.running {
		errs = append(errs, n.lifecycle.StopAll())
		n.running = false
	}
	errs = append(errs, n.closeChain())
	n.closed = true
	close(n.stop)
	n.log.Info("Node stopped")
	return errors.Join(errs...)
}

func (n *Node) closeChain() error {
	n.rpc.Stop()
	return n.chain.Close()
}

// Wait blocks until the node is stopped.
func (n *Node) Wait() {
	<-n.stop
}

// Config returns the node configuration.
func (n *Node) Config() *Config { return n.config }

// Chain returns the dev chain.
func (n *Node) Chain() *core.Chain { return n.chain }

// KMS returns the decryption service backing the relayer.
func (n *Node) KMS() *fhe.KMS { return n.kms }

// Accounts returns the dev accounts funded at genesis.
func (n *Node) Accounts() []*wallet.KeySigner { return n.accounts }

// Health runs all health checks.
func (n *Node) Health() *HealthReport { return n.health.CheckAll() }

// Client returns an ethclient connected in-process to the node's RPC
// server.
func (n *Node) Client() *ethclient.Client {
	return ethclient.NewClient(n.rpc.DialInProc())
}

// RPCHandler returns the JSON-RPC HTTP handler.
func (n *Node) RPCHandler() http.Handler { return n.rpc.Handler() }

// RelayerHandler returns the relayer HTTP handler.
func (n *Node) RelayerHandler() http.Handler { return n.relayer.Handler() }

// RPCURL returns the JSON-RPC endpoint URL.
func (n *Node) RPCURL() string { return n.rpcHTTP.URL() }

// RelayerURL returns the relayer endpoint URL.
func (n *Node) RelayerURL() string { return n.relayerHTTP.URL() }

// MetricsURL returns the metrics endpoint URL, or "" when disabled.
func (n *Node) MetricsURL() string {
	if n.metricsHTTP == nil {
		return ""
	}
	return n.metricsHTTP.URL()
}

// Running reports whether the node is currently running.
func (n *Node) Running() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.running
}

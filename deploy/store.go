// Package deploy deploys the LockedWorlds contract and keeps a named
// deployment record per network so later runs reuse the same address.
package deploy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNotDeployed is returned when a network has no record for a contract.
var ErrNotDeployed = errors.New("contract not deployed")

const migrationsFile = ".migrations.json"

// Record is the stored result of a deployment.
type Record struct {
	Address         common.Address  `json:"address"`
	TransactionHash common.Hash     `json:"transactionHash"`
	BlockNumber     uint64          `json:"blockNumber"`
	Deployer        common.Address  `json:"deployer"`
	ABI             json.RawMessage `json:"abi"`
}

// Store keeps the deployment records of one network under
// <root>/<network>/.
type Store struct {
	dir     string
	network string
}

// NewStore returns the store of network under root.
func NewStore(root, network string) *Store {
	return &Store{dir: filepath.Join(root, network), network: network}
}

// Network returns the network the store belongs to.
func (s *Store) Network() string { return s.network }

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Load returns the record of the named contract.
func (s *Store) Load(name string) (*Record, error) {
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s on %s", ErrNotDeployed, name, s.network)
	}
	if err != nil {
		return nil, err
	}
	rec := new(Record)
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path(name), err)
	}
	return rec, nil
}

// Save writes the record of the named contract.
func (s *Store) Save(name string, rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path(name), data)
}

func (s *Store) migrations() (map[string]int64, error) {
	out := make(map[string]int64)
	data, err := os.ReadFile(filepath.Join(s.dir, migrationsFile))
	if errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", migrationsFile, err)
	}
	return out, nil
}

// Executed reports whether the deployment step id already ran.
func (s *Store) Executed(id string) (bool, error) {
	m, err := s.migrations()
	if err != nil {
		return false, err
	}
	_, ok := m[id]
	return ok, nil
}

// MarkExecuted records that the deployment step id ran.
func (s *Store) MarkExecuted(id string) error {
	m, err := s.migrations()
	if err != nil {
		return err
	}
	m[id] = time.Now().Unix()
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(s.dir, migrationsFile), data)
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

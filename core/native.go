package core

import (
	"bytes"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/lockedworlds/lockedworlds/fhe"
)

// NativeContract is a contract implemented in Go. Run receives the raw
// ABI calldata and returns the ABI encoded output. Returning an error made
// with Revert aborts the transaction and discards all its writes.
type NativeContract interface {
	Run(env *Env, input []byte) ([]byte, error)
}

// nativeCodePrefix marks the code of an account backed by a native
// contract. The remainder of the code is the registered contract name.
var nativeCodePrefix = []byte("\xfe" + "native:")

// NativeCode returns the creation payload that deploys the native contract
// registered under name.
func NativeCode(name string) []byte {
	return append(bytes.Clone(nativeCodePrefix), name...)
}

// NativeName extracts the contract name from deployed code.
func NativeName(code []byte) (string, bool) {
	if !bytes.HasPrefix(code, nativeCodePrefix) {
		return "", false
	}
	return string(code[len(nativeCodePrefix):]), true
}

// Env is what a native contract sees while it runs.
type Env struct {
	Caller      common.Address
	Self        common.Address
	TxHash      common.Hash
	BlockNumber uint64
	// Static is set for read-only calls. Writes are still accepted but
	// thrown away afterwards.
	Static bool

	Storage *Storage
	FHE     *fhe.Session

	logs []*types.Log
}

// Emit appends an event log emitted by the running contract.
func (e *Env) Emit(topics []common.Hash, data []byte) {
	e.logs = append(e.logs, &types.Log{
		Address: e.Self,
		Topics:  append([]common.Hash{}, topics...),
		Data:    bytes.Clone(data),
	})
}

// Storage is a contract's private key space inside the transaction
// overlay.
type Storage struct {
	st     *overlay
	prefix []byte
}

var errEmptyKey = errors.New("empty storage key")

func contractStorage(st *overlay, addr common.Address) *Storage {
	prefix := append(append([]byte{}, storagePrefix...), addr.Bytes()...)
	return &Storage{st: st, prefix: append(prefix, '/')}
}

func (s *Storage) key(k []byte) []byte {
	return append(bytes.Clone(s.prefix), k...)
}

// Get returns the value stored under k, or nil.
func (s *Storage) Get(k []byte) ([]byte, error) {
	if len(k) == 0 {
		return nil, errEmptyKey
	}
	return s.st.Get(s.key(k))
}

func (s *Storage) Put(k, v []byte) error {
	if len(k) == 0 {
		return errEmptyKey
	}
	return s.st.Put(s.key(k), v)
}

func (s *Storage) Delete(k []byte) error {
	if len(k) == 0 {
		return errEmptyKey
	}
	return s.st.Delete(s.key(k))
}

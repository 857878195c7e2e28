// Package wallet holds the accounts that sign transactions and EIP-712
// authorizations: raw private keys, go-ethereum keystores and the
// deterministic development accounts.
package wallet

import (
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

var (
	// ErrSignerUnavailable is returned when no signer holds the requested
	// account.
	ErrSignerUnavailable = errors.New("signer is not available in the current environment")
	// ErrNoAccounts is returned by Default on an empty keyring.
	ErrNoAccounts = errors.New("no accounts configured")
)

// Signer signs on behalf of one account.
type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
	// SignTypedData returns the 65-byte [R || S || V] signature of the
	// EIP-712 hash of data, with V in {27, 28}.
	SignTypedData(data apitypes.TypedData) ([]byte, error)
}

// KeySigner signs with an in-memory private key.
type KeySigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// NewKeySigner wraps key.
func NewKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

// HexKeySigner parses a hex private key, with or without 0x prefix.
func HexKeySigner(hexkey string) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexkey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewKeySigner(key), nil
}

func (s *KeySigner) Address() common.Address { return s.addr }

func (s *KeySigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}

func (s *KeySigner) SignTypedData(data apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// PrivateKeyHex returns the key in hex without prefix.
func (s *KeySigner) PrivateKeyHex() string {
	return common.Bytes2Hex(crypto.FromECDSA(s.key))
}

// DevAccountCount is the number of funded development accounts.
const DevAccountCount = 10

// DevAccounts returns the first n deterministic development accounts.
// Their keys are public; never use them outside a local chain.
func DevAccounts(n int) []*KeySigner {
	out := make([]*KeySigner, 0, n)
	for i := 0; len(out) < n; i++ {
		var idx [8]byte
		binary.BigEndian.PutUint64(idx[:], uint64(i))
		key, err := crypto.ToECDSA(crypto.Keccak256([]byte("lockedworlds/dev-account"), idx[:]))
		if err != nil {
			continue
		}
		out = append(out, NewKeySigner(key))
	}
	return out
}

// Keyring is an ordered set of signers. The first signer is the default
// account.
type Keyring struct {
	order   []common.Address
	signers map[common.Address]Signer
}

// NewKeyring returns a keyring holding signers in order.
func NewKeyring(signers ...Signer) *Keyring {
	k := &Keyring{signers: make(map[common.Address]Signer)}
	for _, s := range signers {
		k.Add(s)
	}
	return k
}

// Add appends s unless its account is already present.
func (k *Keyring) Add(s Signer) {
	if _, ok := k.signers[s.Address()]; ok {
		return
	}
	k.order = append(k.order, s.Address())
	k.signers[s.Address()] = s
}

// Accounts lists the accounts in order.
func (k *Keyring) Accounts() []common.Address {
	return append([]common.Address(nil), k.order...)
}

// Default returns the first signer.
func (k *Keyring) Default() (Signer, error) {
	if len(k.order) == 0 {
		return nil, ErrNoAccounts
	}
	return k.signers[k.order[0]], nil
}

// Find returns the signer for addr.
func (k *Keyring) Find(addr common.Address) (Signer, error) {
	s, ok := k.signers[addr]
	if !ok {
		return nil, fmt.Errorf("signer %s is not available in the current environment: %w", addr.Hex(), ErrSignerUnavailable)
	}
	return s, nil
}

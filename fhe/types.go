// Package fhe is the confidential-compute coprocessor used by native
// contracts. Contracts never see cleartext: they hold 32-byte handles that
// reference ciphertexts kept in the chain state, ask the coprocessor to
// combine them, and grant accounts the right to have them decrypted.
//
// Handles are derived from the transaction hash and a per-transaction
// counter, never from the ciphertext or cleartext, so a handle leaks
// nothing about the value behind it. Byte 30 of a handle carries the
// encrypted type and byte 31 the handle version.
package fhe

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Type identifies an encrypted integer type. Values match the type ids the
// relayer protocol uses on the wire.
type Type uint8

const (
	Bool   Type = 0
	Uint8  Type = 2
	Uint16 Type = 3
	Uint32 Type = 4
)

// HandleVersion is stored in the last byte of every handle.
const HandleVersion = 0

var (
	ErrUnknownType     = errors.New("fhe: unknown encrypted type")
	ErrTypeMismatch    = errors.New("fhe: operand types differ")
	ErrUnknownHandle   = errors.New("fhe: unknown ciphertext handle")
	ErrNotAllowed      = errors.New("fhe: handle not allowed for account")
	ErrBoundOutOfRange = errors.New("fhe: random bound out of range")
	ErrUnsupported     = errors.New("fhe: operation not supported by backend")
	ErrZeroHandle      = errors.New("fhe: zero handle")
)

// Bits returns the bit width of t.
func (t Type) Bits() uint {
	switch t {
	case Bool:
		return 1
	case Uint8:
		return 8
	case Uint16:
		return 16
	case Uint32:
		return 32
	default:
		return 0
	}
}

// Valid reports whether t is a supported type.
func (t Type) Valid() bool { return t.Bits() != 0 }

// Max returns the largest cleartext t can hold.
func (t Type) Max() uint64 { return (uint64(1) << t.Bits()) - 1 }

func (t Type) String() string {
	switch t {
	case Bool:
		return "ebool"
	case Uint8:
		return "euint8"
	case Uint16:
		return "euint16"
	case Uint32:
		return "euint32"
	default:
		return fmt.Sprintf("etype(%d)", uint8(t))
	}
}

// TypeOf extracts the encrypted type embedded in a handle.
func TypeOf(h common.Hash) Type { return Type(h[30]) }

// IsZero reports whether h is the zero handle, which marks an
// uninitialized encrypted value.
func IsZero(h common.Hash) bool { return h == (common.Hash{}) }

// deriveHandle computes the handle of the n-th ciphertext created by a
// transaction.
func deriveHandle(txHash common.Hash, n uint64, op string, t Type) common.Hash {
	var ctr [8]byte
	for i := 0; i < 8; i++ {
		ctr[7-i] = byte(n >> (8 * i))
	}
	h := crypto.Keccak256Hash([]byte("lockedworlds/fhe/handle"), txHash[:], ctr[:], []byte(op))
	h[30] = byte(t)
	h[31] = HandleVersion
	return h
}

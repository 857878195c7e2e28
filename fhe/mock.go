package fhe

import (
	"errors"

	"github.com/holiman/uint256"
)

// Mock is the development backend. Its "ciphertexts" are the 32-byte
// big-endian cleartext, so it offers no confidentiality. It exists so
// contracts and clients can be exercised quickly with exact integer
// semantics: every result wraps at the bit width of its type.
type Mock struct{}

// NewMock returns the cleartext backend.
func NewMock() *Mock { return &Mock{} }

func (*Mock) Name() string { return "mock" }

var errMockCiphertext = errors.New("fhe: malformed mock ciphertext")

func wrap(t Type, v *uint256.Int) *uint256.Int {
	mask := new(uint256.Int).Lsh(uint256.NewInt(1), t.Bits())
	mask.Sub(mask, uint256.NewInt(1))
	return v.And(v, mask)
}

func encodeMock(v *uint256.Int) []byte {
	b := v.Bytes32()
	return b[:]
}

func decodeMock(ct []byte) (*uint256.Int, error) {
	if len(ct) != 32 {
		return nil, errMockCiphertext
	}
	return new(uint256.Int).SetBytes(ct), nil
}

func (*Mock) Encrypt(t Type, v uint64) ([]byte, error) {
	if !t.Valid() {
		return nil, ErrUnknownType
	}
	return encodeMock(wrap(t, uint256.NewInt(v))), nil
}

func (*Mock) Decrypt(t Type, ct []byte) (uint64, error) {
	if !t.Valid() {
		return 0, ErrUnknownType
	}
	v, err := decodeMock(ct)
	if err != nil {
		return 0, err
	}
	return wrap(t, v).Uint64(), nil
}

func (m *Mock) binary(t Type, a, b []byte, op func(z, x, y *uint256.Int) *uint256.Int) ([]byte, error) {
	if !t.Valid() {
		return nil, ErrUnknownType
	}
	x, err := decodeMock(a)
	if err != nil {
		return nil, err
	}
	y, err := decodeMock(b)
	if err != nil {
		return nil, err
	}
	return encodeMock(wrap(t, op(new(uint256.Int), x, y))), nil
}

func (m *Mock) Add(t Type, a, b []byte) ([]byte, error) {
	return m.binary(t, a, b, (*uint256.Int).Add)
}

func (m *Mock) Sub(t Type, a, b []byte) ([]byte, error) {
	return m.binary(t, a, b, (*uint256.Int).Sub)
}

func (*Mock) Select(t Type, cond, a, b []byte) ([]byte, error) {
	if !t.Valid() {
		return nil, ErrUnknownType
	}
	c, err := decodeMock(cond)
	if err != nil {
		return nil, err
	}
	if _, err := decodeMock(a); err != nil {
		return nil, err
	}
	if _, err := decodeMock(b); err != nil {
		return nil, err
	}
	if c.IsZero() {
		return append([]byte(nil), b...), nil
	}
	return append([]byte(nil), a...), nil
}

func (*Mock) Cast(from, to Type, ct []byte) ([]byte, error) {
	if !from.Valid() || !to.Valid() {
		return nil, ErrUnknownType
	}
	v, err := decodeMock(ct)
	if err != nil {
		return nil, err
	}
	return encodeMock(wrap(to, v)), nil
}

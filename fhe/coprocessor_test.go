package fhe

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

type mapStore map[string][]byte

func (m mapStore) Get(key []byte) ([]byte, error) { return m[string(key)], nil }

func (m mapStore) Put(key, value []byte) error {
	m[string(key)] = append([]byte(nil), value...)
	return nil
}

var (
	testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	testPlayer   = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
)

func newTestCoprocessor(t *testing.T) *Coprocessor {
	t.Helper()
	cop, err := New(NewMock(), []byte("test-seed"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return cop
}

func TestSessionHandlesCarryType(t *testing.T) {
	cop := newTestCoprocessor(t)
	s := cop.NewSession(mapStore{}, common.HexToHash("0x01"), testContract)

	h8, _ := s.TrivialEncrypt(1, Uint8)
	h32, _ := s.TrivialEncrypt(1, Uint32)
	if TypeOf(h8) != Uint8 || TypeOf(h32) != Uint32 {
		t.Fatalf("types = %s, %s, want euint8, euint32", TypeOf(h8), TypeOf(h32))
	}
	if h8 == h32 {
		t.Fatal("handles must be distinct")
	}
	if h8[31] != HandleVersion {
		t.Fatalf("version byte = %d, want %d", h8[31], HandleVersion)
	}
}

func TestSessionTransientAllowance(t *testing.T) {
	cop := newTestCoprocessor(t)
	store := mapStore{}
	tx1 := cop.NewSession(store, common.HexToHash("0x01"), testContract)

	a, _ := tx1.TrivialEncrypt(5, Uint16)
	b, _ := tx1.TrivialEncrypt(7, Uint16)
	if _, err := tx1.Add(a, b); err != nil {
		t.Fatalf("Add within session: %v", err)
	}
	if err := tx1.AllowThis(a); err != nil {
		t.Fatalf("AllowThis: %v", err)
	}

	// A later transaction only sees persistent grants.
	tx2 := cop.NewSession(store, common.HexToHash("0x02"), testContract)
	if _, err := tx2.Add(a, a); err != nil {
		t.Fatalf("Add on granted handle: %v", err)
	}
	if _, err := tx2.Add(a, b); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("Add on ungranted handle err = %v, want %v", err, ErrNotAllowed)
	}

	other := cop.NewSession(store, common.HexToHash("0x03"), testPlayer)
	if err := other.Allow(a, testPlayer); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("foreign Allow err = %v, want %v", err, ErrNotAllowed)
	}
}

func TestSessionTypeMismatch(t *testing.T) {
	cop := newTestCoprocessor(t)
	s := cop.NewSession(mapStore{}, common.HexToHash("0x01"), testContract)
	a, _ := s.TrivialEncrypt(1, Uint8)
	b, _ := s.TrivialEncrypt(1, Uint16)
	if _, err := s.Add(a, b); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("err = %v, want %v", err, ErrTypeMismatch)
	}
	if _, err := s.Select(a, a, a); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("select on non-bool err = %v, want %v", err, ErrTypeMismatch)
	}
}

func TestSessionRandBounded(t *testing.T) {
	cop := newTestCoprocessor(t)
	store := mapStore{}
	seen := make(map[uint64]bool)
	for i := 0; i < 200; i++ {
		s := cop.NewSession(store, common.BigToHash(big.NewInt(int64(i+1))), testContract)
		h, err := s.Rand(Uint8, 3)
		if err != nil {
			t.Fatalf("Rand: %v", err)
		}
		v, _, err := cop.Decrypt(store, h)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if v >= 3 {
			t.Fatalf("rand = %d, want < 3", v)
		}
		seen[v] = true
	}
	if len(seen) != 3 {
		t.Fatalf("saw %d distinct values, want 3", len(seen))
	}

	s := cop.NewSession(store, common.HexToHash("0xff"), testContract)
	if _, err := s.Rand(Uint8, 0); !errors.Is(err, ErrBoundOutOfRange) {
		t.Fatalf("bound 0 err = %v", err)
	}
	if _, err := s.Rand(Uint8, 257); !errors.Is(err, ErrBoundOutOfRange) {
		t.Fatalf("bound 257 err = %v", err)
	}
}

func TestRandomStreamDeterministic(t *testing.T) {
	tx := common.HexToHash("0xabc")
	a := make([]byte, 64)
	b := make([]byte, 64)
	randomStream([]byte("seed"), tx).Read(a)
	randomStream([]byte("seed"), tx).Read(b)
	if !bytes.Equal(a, b) {
		t.Fatal("same seed and tx must produce the same stream")
	}
	randomStream([]byte("other"), tx).Read(b)
	if bytes.Equal(a, b) {
		t.Fatal("different seeds produced the same stream")
	}
}

func TestKMSDecrypt(t *testing.T) {
	cop := newTestCoprocessor(t)
	store := mapStore{}
	s := cop.NewSession(store, common.HexToHash("0x01"), testContract)
	h, _ := s.TrivialEncrypt(999, Uint16)
	if err := s.Allow(h, testPlayer); err != nil {
		t.Fatalf("Allow: %v", err)
	}

	kms := NewKMS(cop, store)
	if ok, _ := kms.IsAllowed(h, testPlayer); !ok {
		t.Fatal("player should be allowed")
	}
	if ok, _ := kms.IsAllowed(h, testContract); ok {
		t.Fatal("contract holds no persistent grant")
	}
	v, err := kms.Decrypt(h)
	if err != nil || v.Uint64() != 999 {
		t.Fatalf("Decrypt = %v (%v), want 999", v, err)
	}
	if _, err := kms.Decrypt(common.HexToHash("0x1234")); !errors.Is(err, ErrUnknownHandle) {
		t.Fatalf("unknown handle err = %v", err)
	}
}

package fhe

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/lockedworlds/lockedworlds/log"
	"github.com/lockedworlds/lockedworlds/metrics"
)

// Reader is read access to the chain state the coprocessor keeps its
// ciphertexts and grants in. Get returns nil, nil for a missing key.
type Reader interface {
	Get(key []byte) ([]byte, error)
}

// Store is the transactional view a Session writes through. Writes are
// only made durable if the enclosing transaction succeeds.
type Store interface {
	Reader
	Put(key, value []byte) error
}

var (
	ciphertextPrefix = []byte("fhe/ct/")
	aclPrefix        = []byte("fhe/acl/")
)

func ciphertextKey(h common.Hash) []byte {
	return append(append([]byte{}, ciphertextPrefix...), h[:]...)
}

func aclKey(h common.Hash, account common.Address) []byte {
	k := append(append([]byte{}, aclPrefix...), h[:]...)
	return append(k, account[:]...)
}

// storedCiphertext is the RLP layout of a ciphertext record.
type storedCiphertext struct {
	Type uint8
	Data []byte
}

// Coprocessor executes encrypted operations on behalf of contracts.
type Coprocessor struct {
	backend Backend
	seed    []byte
	log     *log.Logger
}

// New returns a coprocessor using backend. A nil seed draws a random one,
// which makes random values unreproducible across restarts.
func New(backend Backend, seed []byte) (*Coprocessor, error) {
	if backend == nil {
		backend = NewMock()
	}
	if len(seed) == 0 {
		seed = make([]byte, 32)
		if _, err := rand.Read(seed); err != nil {
			return nil, err
		}
	}
	return &Coprocessor{
		backend: backend,
		seed:    append([]byte(nil), seed...),
		log:     log.Module("fhe").With("backend", backend.Name()),
	}, nil
}

// Backend returns the homomorphic backend in use.
func (c *Coprocessor) Backend() Backend { return c.backend }

func (c *Coprocessor) load(r Reader, h common.Hash) (*storedCiphertext, error) {
	if IsZero(h) {
		return nil, ErrZeroHandle
	}
	data, err := r.Get(ciphertextKey(h))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, h.Hex())
	}
	var sc storedCiphertext
	if err := rlp.DecodeBytes(data, &sc); err != nil {
		return nil, fmt.Errorf("fhe: decode ciphertext %s: %w", h.Hex(), err)
	}
	return &sc, nil
}

// IsAllowed reports whether account holds a persistent grant on h.
func (c *Coprocessor) IsAllowed(r Reader, h common.Hash, account common.Address) (bool, error) {
	data, err := r.Get(aclKey(h, account))
	if err != nil {
		return false, err
	}
	return len(data) > 0, nil
}

// Decrypt returns the cleartext behind h. Only the decryption service may
// call it; the ACL check is the caller's responsibility.
func (c *Coprocessor) Decrypt(r Reader, h common.Hash) (uint64, Type, error) {
	sc, err := c.load(r, h)
	if err != nil {
		return 0, 0, err
	}
	t := Type(sc.Type)
	v, err := c.backend.Decrypt(t, sc.Data)
	if err != nil {
		return 0, 0, err
	}
	return v, t, nil
}

// KMS pairs the coprocessor with a committed-state reader. It is what the
// relayer uses to check grants and decrypt.
type KMS struct {
	cop    *Coprocessor
	reader Reader
}

// NewKMS returns the decryption view of the coprocessor over r.
func NewKMS(cop *Coprocessor, r Reader) *KMS {
	return &KMS{cop: cop, reader: r}
}

// IsAllowed reports whether account may have h decrypted.
func (k *KMS) IsAllowed(h common.Hash, account common.Address) (bool, error) {
	return k.cop.IsAllowed(k.reader, h, account)
}

// Decrypt returns the cleartext behind h.
func (k *KMS) Decrypt(h common.Hash) (*big.Int, error) {
	v, _, err := k.cop.Decrypt(k.reader, h)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetUint64(v), nil
}

// Session is the coprocessor bound to one transaction and one calling
// contract. Results it creates are transiently allowed for that contract
// until the transaction ends; anything else must carry a persistent grant.
type Session struct {
	cop       *Coprocessor
	store     Store
	txHash    common.Hash
	contract  common.Address
	counter   uint64
	rand      io.Reader
	transient map[common.Hash]bool

	stored map[string]int
	grants int
}

// committer is implemented by stores that can report when their writes
// become durable.
type committer interface {
	OnCommit(fn func())
}

// NewSession opens a session for contract inside the transaction txHash.
func (c *Coprocessor) NewSession(store Store, txHash common.Hash, contract common.Address) *Session {
	s := &Session{
		cop:       c,
		store:     store,
		txHash:    txHash,
		contract:  contract,
		rand:      randomStream(c.seed, txHash),
		transient: make(map[common.Hash]bool),
		stored:    make(map[string]int),
	}
	if cm, ok := store.(committer); ok {
		cm.OnCommit(s.report)
	}
	return s
}

// report counts the session's ciphertexts and grants once they are
// committed.
func (s *Session) report() {
	for op, n := range s.stored {
		metrics.CiphertextsStored.WithLabelValues(op).Add(float64(n))
	}
	metrics.ACLGrants.Add(float64(s.grants))
}

func (s *Session) operand(h common.Hash) (*storedCiphertext, error) {
	if !s.transient[h] {
		ok, err := s.cop.IsAllowed(s.store, h, s.contract)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s for %s", ErrNotAllowed, h.Hex(), s.contract.Hex())
		}
	}
	return s.cop.load(s.store, h)
}

func (s *Session) put(op string, t Type, data []byte) (common.Hash, error) {
	h := deriveHandle(s.txHash, s.counter, op, t)
	s.counter++

	enc, err := rlp.EncodeToBytes(&storedCiphertext{Type: uint8(t), Data: data})
	if err != nil {
		return common.Hash{}, err
	}
	if err := s.store.Put(ciphertextKey(h), enc); err != nil {
		return common.Hash{}, err
	}
	s.transient[h] = true
	s.stored[op]++
	return h, nil
}

// TrivialEncrypt stores v as a fresh ciphertext of type t.
func (s *Session) TrivialEncrypt(v uint64, t Type) (common.Hash, error) {
	data, err := s.cop.backend.Encrypt(t, v)
	if err != nil {
		return common.Hash{}, err
	}
	return s.put("trivial", t, data)
}

// Rand returns a ciphertext of type t holding a value uniformly distributed
// over [0, bound).
func (s *Session) Rand(t Type, bound uint64) (common.Hash, error) {
	if !t.Valid() {
		return common.Hash{}, ErrUnknownType
	}
	if bound == 0 || bound-1 > t.Max() {
		return common.Hash{}, ErrBoundOutOfRange
	}
	v, err := uniform(s.rand, bound)
	if err != nil {
		return common.Hash{}, err
	}
	data, err := s.cop.backend.Encrypt(t, v)
	if err != nil {
		return common.Hash{}, err
	}
	return s.put("rand", t, data)
}

func (s *Session) binary(op string, a, b common.Hash, fn func(Type, []byte, []byte) ([]byte, error)) (common.Hash, error) {
	x, err := s.operand(a)
	if err != nil {
		return common.Hash{}, err
	}
	y, err := s.operand(b)
	if err != nil {
		return common.Hash{}, err
	}
	if x.Type != y.Type {
		return common.Hash{}, fmt.Errorf("%w: %s and %s", ErrTypeMismatch, Type(x.Type), Type(y.Type))
	}
	data, err := fn(Type(x.Type), x.Data, y.Data)
	if err != nil {
		return common.Hash{}, err
	}
	return s.put(op, Type(x.Type), data)
}

// Add returns a + b, wrapping at the operands' width.
func (s *Session) Add(a, b common.Hash) (common.Hash, error) {
	return s.binary("add", a, b, s.cop.backend.Add)
}

// Sub returns a - b, wrapping at the operands' width.
func (s *Session) Sub(a, b common.Hash) (common.Hash, error) {
	return s.binary("sub", a, b, s.cop.backend.Sub)
}

// AddScalar returns a + v.
func (s *Session) AddScalar(a common.Hash, v uint64) (common.Hash, error) {
	x, err := s.operand(a)
	if err != nil {
		return common.Hash{}, err
	}
	scalar, err := s.TrivialEncrypt(v, Type(x.Type))
	if err != nil {
		return common.Hash{}, err
	}
	return s.Add(a, scalar)
}

// Select returns a when cond is true and b otherwise, without revealing
// which branch was taken.
func (s *Session) Select(cond, a, b common.Hash) (common.Hash, error) {
	c, err := s.operand(cond)
	if err != nil {
		return common.Hash{}, err
	}
	if Type(c.Type) != Bool {
		return common.Hash{}, fmt.Errorf("%w: condition is %s", ErrTypeMismatch, Type(c.Type))
	}
	x, err := s.operand(a)
	if err != nil {
		return common.Hash{}, err
	}
	y, err := s.operand(b)
	if err != nil {
		return common.Hash{}, err
	}
	if x.Type != y.Type {
		return common.Hash{}, fmt.Errorf("%w: %s and %s", ErrTypeMismatch, Type(x.Type), Type(y.Type))
	}
	data, err := s.cop.backend.Select(Type(x.Type), c.Data, x.Data, y.Data)
	if err != nil {
		return common.Hash{}, err
	}
	return s.put("select", Type(x.Type), data)
}

// Cast converts h to type to.
func (s *Session) Cast(h common.Hash, to Type) (common.Hash, error) {
	x, err := s.operand(h)
	if err != nil {
		return common.Hash{}, err
	}
	if Type(x.Type) == to {
		return h, nil
	}
	data, err := s.cop.backend.Cast(Type(x.Type), to, x.Data)
	if err != nil {
		return common.Hash{}, err
	}
	return s.put("cast", to, data)
}

// Allow grants account a persistent right on h. The session's contract
// may only grant handles it can itself use.
func (s *Session) Allow(h common.Hash, account common.Address) error {
	if _, err := s.operand(h); err != nil {
		return err
	}
	if err := s.store.Put(aclKey(h, account), []byte{1}); err != nil {
		return err
	}
	s.grants++
	return nil
}

// AllowThis grants the session's own contract a persistent right on h.
func (s *Session) AllowThis(h common.Hash) error {
	return s.Allow(h, s.contract)
}

// IsAllowed reports whether account holds a persistent grant on h.
func (s *Session) IsAllowed(h common.Hash, account common.Address) (bool, error) {
	return s.cop.IsAllowed(s.store, h, account)
}

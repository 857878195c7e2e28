package core

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/params"

	"github.com/lockedworlds/lockedworlds/fhe"
	"github.com/lockedworlds/lockedworlds/log"
	"github.com/lockedworlds/lockedworlds/metrics"
)

// Gas accounting. The dev chain charges no fees; gas is only reported so
// that wallets and clients behave as they would against a real node.
const (
	// NativeCallGas is charged for every call that runs native code.
	NativeCallGas = 60_000
	// DefaultBlockGasLimit caps the gas of a single transaction.
	DefaultBlockGasLimit = 30_000_000
)

// DevChainID is the chain id of the local development network.
var DevChainID = big.NewInt(31337)

// Config holds the dev chain parameters.
type Config struct {
	ChainID       *big.Int
	GasPrice      *big.Int
	BlockGasLimit uint64
	// Alloc funds accounts at genesis.
	Alloc map[common.Address]*big.Int
}

// DefaultConfig returns the local development network settings.
func DefaultConfig() *Config {
	return &Config{
		ChainID:       new(big.Int).Set(DevChainID),
		GasPrice:      big.NewInt(params.GWei),
		BlockGasLimit: DefaultBlockGasLimit,
		Alloc:         make(map[common.Address]*big.Int),
	}
}

// Database key layout.
var (
	headKey       = []byte("head")
	noncePrefix   = []byte("n/")
	balancePrefix = []byte("b/")
	codePrefix    = []byte("code/")
	receiptPrefix = []byte("r/")
	txPrefix      = []byte("t/")
	blockPrefix   = []byte("blk/")
	storagePrefix = []byte("c/")
	genesisDomain = []byte("lockedworlds/genesis")
	blockHashTag  = []byte("lockedworlds/block")
)

func prefixed(prefix []byte, b []byte) []byte {
	return append(append([]byte{}, prefix...), b...)
}

func encodeUint64(n uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	return b[:]
}

// Chain is an automining development chain. Every accepted transaction is
// executed immediately and sealed in its own block. Transactions run one
// at a time under the write lock; reads only ever see committed state.
type Chain struct {
	mu      sync.RWMutex
	config  *Config
	db      ethdb.KeyValueStore
	signer  types.Signer
	cop     *fhe.Coprocessor
	natives map[string]NativeContract
	log     *log.Logger

	head     uint64
	headHash common.Hash
	closed   bool
}

// NewChain opens the chain stored in db, writing the genesis state when
// db is empty.
func NewChain(config *Config, db ethdb.KeyValueStore, cop *fhe.Coprocessor) (*Chain, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.ChainID == nil || config.ChainID.Sign() <= 0 {
		return nil, errors.New("chain id must be positive")
	}
	if config.GasPrice == nil {
		config.GasPrice = big.NewInt(params.GWei)
	}
	if config.BlockGasLimit == 0 {
		config.BlockGasLimit = DefaultBlockGasLimit
	}
	if cop == nil {
		var err error
		if cop, err = fhe.New(fhe.NewMock(), nil); err != nil {
			return nil, err
		}
	}
	c := &Chain{
		config:  config,
		db:      db,
		signer:  types.LatestSignerForChainID(config.ChainID),
		cop:     cop,
		natives: make(map[string]NativeContract),
		log:     log.Module("chain").With("chainid", config.ChainID),
	}
	if err := c.loadHead(); err != nil {
		return nil, err
	}
	metrics.ChainHeight.Set(float64(c.head))
	return c, nil
}

func (c *Chain) loadHead() error {
	enc, err := readKey(c.db, headKey)
	if err != nil {
		return err
	}
	if len(enc) == 40 {
		c.head = binary.BigEndian.Uint64(enc[:8])
		c.headHash = common.BytesToHash(enc[8:])
		c.log.Info("Loaded chain", "head", c.head, "hash", c.headHash)
		return nil
	}
	if enc != nil {
		return fmt.Errorf("corrupt head record (%d bytes)", len(enc))
	}

	st := newOverlay(c.db)
	for addr, bal := range c.config.Alloc {
		if bal != nil {
			st.Put(prefixed(balancePrefix, addr.Bytes()), bal.Bytes())
		}
	}
	c.headHash = crypto.Keccak256Hash(genesisDomain, c.config.ChainID.Bytes())
	st.Put(prefixed(blockPrefix, encodeUint64(0)), c.headHash.Bytes())
	st.Put(headKey, append(encodeUint64(0), c.headHash.Bytes()...))
	if err := st.commit(c.db); err != nil {
		return err
	}
	c.log.Info("Wrote genesis", "hash", c.headHash, "funded", len(c.config.Alloc))
	return nil
}

// RegisterNative makes a native contract deployable under name.
func (c *Chain) RegisterNative(name string, contract NativeContract) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.natives[name] = contract
}

// Coprocessor returns the coprocessor contracts run against.
func (c *Chain) Coprocessor() *fhe.Coprocessor { return c.cop }

// ChainID returns the chain id transactions must be signed for.
func (c *Chain) ChainID() *big.Int { return new(big.Int).Set(c.config.ChainID) }

// GasPrice returns the suggested gas price.
func (c *Chain) GasPrice() *big.Int { return new(big.Int).Set(c.config.GasPrice) }

// BlockNumber returns the number of the latest block.
func (c *Chain) BlockNumber() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.head
}

// BlockHash returns the hash of block number, if it exists.
func (c *Chain) BlockHash(number uint64) (common.Hash, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	enc, err := readKey(c.db, prefixed(blockPrefix, encodeUint64(number)))
	if err != nil || enc == nil {
		return common.Hash{}, false
	}
	return common.BytesToHash(enc), true
}

// Nonce returns the next nonce of addr.
func (c *Chain) Nonce(addr common.Address) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return nonceOf(dbGetter{c.db}, addr)
}

// Balance returns the balance of addr.
func (c *Chain) Balance(addr common.Address) (*big.Int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return balanceOf(dbGetter{c.db}, addr)
}

// Code returns the code deployed at addr.
func (c *Chain) Code(addr common.Address) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return readKey(c.db, prefixed(codePrefix, addr.Bytes()))
}

// Receipt returns the receipt of a mined transaction, or nil if the
// transaction is unknown.
func (c *Chain) Receipt(hash common.Hash) (*types.Receipt, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	enc, err := readKey(c.db, prefixed(receiptPrefix, hash.Bytes()))
	if err != nil || enc == nil {
		return nil, err
	}
	receipt := new(types.Receipt)
	if err := json.Unmarshal(enc, receipt); err != nil {
		return nil, fmt.Errorf("decode receipt %s: %w", hash, err)
	}
	return receipt, nil
}

// Transaction returns a mined transaction, or nil if it is unknown.
func (c *Chain) Transaction(hash common.Hash) (*types.Transaction, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	enc, err := readKey(c.db, prefixed(txPrefix, hash.Bytes()))
	if err != nil || enc == nil {
		return nil, err
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(enc); err != nil {
		return nil, err
	}
	return tx, nil
}

// StateReader returns a reader over committed state, used by the
// decryption service to look up ciphertexts and grants.
func (c *Chain) StateReader() fhe.Reader { return committedState{c} }

type committedState struct{ c *Chain }

func (s committedState) Get(key []byte) ([]byte, error) {
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()
	return readKey(s.c.db, key)
}

// Close stops accepting transactions and closes the database.
func (c *Chain) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.db.Close()
}

// ---- Execution ----

// message is a transaction or call stripped to what execution needs.
type message struct {
	from   common.Address
	to     *common.Address
	nonce  uint64
	value  *big.Int
	data   []byte
	static bool
}

// IntrinsicGas returns the gas a transaction needs before any code runs.
func IntrinsicGas(data []byte, creation bool) uint64 {
	gas := params.TxGas
	if creation {
		gas = params.TxGasContractCreation
	}
	for _, b := range data {
		if b == 0 {
			gas += params.TxDataZeroGas
		} else {
			gas += params.TxDataNonZeroGasEIP2028
		}
	}
	return gas
}

func (c *Chain) gasFor(st ethdb.KeyValueReader, to *common.Address, data []byte) (uint64, error) {
	gas := IntrinsicGas(data, to == nil)
	if to == nil {
		return gas + NativeCallGas, nil
	}
	code, err := readKey(st, prefixed(codePrefix, to.Bytes()))
	if err != nil {
		return 0, err
	}
	if len(code) > 0 {
		gas += NativeCallGas
	}
	return gas, nil
}

// SendTransaction validates tx, executes it and seals it in a new block.
// An error means the transaction was refused; a transaction whose
// execution reverts is still mined, with a failed receipt.
func (c *Chain) SendTransaction(tx *types.Transaction) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hash := tx.Hash()
	from, gas, err := c.validate(tx)
	if err != nil {
		metrics.TxRejected.Inc()
		c.log.Debug("Rejected transaction", "hash", hash, "err", err)
		return common.Hash{}, err
	}
	msg := message{from: from, to: tx.To(), nonce: tx.Nonce(), value: tx.Value(), data: tx.Data()}
	number := c.head + 1

	st := newOverlay(c.db)
	ret, created, logs, execErr := c.apply(st, msg, hash, number)
	status := types.ReceiptStatusSuccessful
	if execErr != nil {
		status = types.ReceiptStatusFailed
		st = newOverlay(c.db)
		logs = nil
		c.log.Debug("Transaction reverted", "hash", hash, "from", from, "err", execErr, "data", common.Bytes2Hex(ret))
	}
	st.Put(prefixed(noncePrefix, from.Bytes()), encodeUint64(tx.Nonce()+1))

	blockHash := crypto.Keccak256Hash(blockHashTag, c.headHash.Bytes(), encodeUint64(number), hash.Bytes())
	receipt := &types.Receipt{
		Type:              tx.Type(),
		Status:            status,
		CumulativeGasUsed: gas,
		Logs:              make([]*types.Log, 0, len(logs)),
		TxHash:            hash,
		ContractAddress:   created,
		GasUsed:           gas,
		EffectiveGasPrice: tx.GasPrice(),
		BlockHash:         blockHash,
		BlockNumber:       new(big.Int).SetUint64(number),
		TransactionIndex:  0,
	}
	for i, l := range logs {
		l.BlockNumber = number
		l.BlockHash = blockHash
		l.TxHash = hash
		l.TxIndex = 0
		l.Index = uint(i)
		receipt.Logs = append(receipt.Logs, l)
		receipt.Bloom.Add(l.Address.Bytes())
		for _, topic := range l.Topics {
			receipt.Bloom.Add(topic.Bytes())
		}
	}
	enc, err := json.Marshal(receipt)
	if err != nil {
		return common.Hash{}, err
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return common.Hash{}, err
	}
	st.Put(prefixed(receiptPrefix, hash.Bytes()), enc)
	st.Put(prefixed(txPrefix, hash.Bytes()), raw)
	st.Put(prefixed(blockPrefix, encodeUint64(number)), blockHash.Bytes())
	st.Put(headKey, append(encodeUint64(number), blockHash.Bytes()...))
	if err := st.commit(c.db); err != nil {
		return common.Hash{}, fmt.Errorf("commit block %d: %w", number, err)
	}
	c.head, c.headHash = number, blockHash

	label := "success"
	if status == types.ReceiptStatusFailed {
		label = "reverted"
	}
	metrics.TxExecuted.WithLabelValues(label).Inc()
	metrics.ChainHeight.Set(float64(number))
	c.log.Info("Sealed block", "number", number, "tx", hash, "from", from, "status", status, "gas", gas)
	return hash, nil
}

func (c *Chain) validate(tx *types.Transaction) (common.Address, uint64, error) {
	if c.closed {
		return common.Address{}, 0, ErrClosed
	}
	known, err := c.db.Has(prefixed(receiptPrefix, tx.Hash().Bytes()))
	if err != nil {
		return common.Address{}, 0, err
	}
	if known {
		return common.Address{}, 0, ErrAlreadyKnown
	}
	if !tx.Protected() {
		return common.Address{}, 0, ErrUnprotectedTx
	}
	from, err := types.Sender(c.signer, tx)
	if err != nil {
		return common.Address{}, 0, fmt.Errorf("invalid sender: %w", err)
	}
	nonce, err := nonceOf(dbGetter{c.db}, from)
	if err != nil {
		return common.Address{}, 0, err
	}
	switch {
	case tx.Nonce() < nonce:
		return common.Address{}, 0, fmt.Errorf("%w: address %s, tx: %d state: %d", ErrNonceTooLow, from, tx.Nonce(), nonce)
	case tx.Nonce() > nonce:
		return common.Address{}, 0, fmt.Errorf("%w: address %s, tx: %d state: %d", ErrNonceTooHigh, from, tx.Nonce(), nonce)
	}
	if tx.Gas() > c.config.BlockGasLimit {
		return common.Address{}, 0, ErrGasLimit
	}
	gas, err := c.gasFor(c.db, tx.To(), tx.Data())
	if err != nil {
		return common.Address{}, 0, err
	}
	if tx.Gas() < gas {
		return common.Address{}, 0, fmt.Errorf("%w: have %d, want %d", ErrIntrinsicGas, tx.Gas(), gas)
	}
	if tx.Value().Sign() > 0 {
		bal, err := balanceOf(dbGetter{c.db}, from)
		if err != nil {
			return common.Address{}, 0, err
		}
		if bal.Cmp(tx.Value()) < 0 {
			return common.Address{}, 0, fmt.Errorf("%w: address %s have %v want %v", ErrInsufficientFund, from, bal, tx.Value())
		}
	}
	return from, gas, nil
}

// apply executes msg against st. Any error aborts the message; the caller
// discards st in that case.
func (c *Chain) apply(st *overlay, msg message, txHash common.Hash, number uint64) (ret []byte, created common.Address, logs []*types.Log, err error) {
	value := msg.value
	if value == nil {
		value = new(big.Int)
	}
	if msg.to == nil {
		created = crypto.CreateAddress(msg.from, msg.nonce)
		name, ok := NativeName(msg.data)
		if !ok {
			return nil, created, nil, fmt.Errorf("%w: creation code is not a native contract", ErrExecutionReverted)
		}
		if _, ok := c.natives[name]; !ok {
			return nil, created, nil, fmt.Errorf("%w: %q", ErrUnknownNative, name)
		}
		if value.Sign() > 0 {
			return nil, created, nil, ErrValueToContract
		}
		if err := st.Put(prefixed(codePrefix, created.Bytes()), msg.data); err != nil {
			return nil, created, nil, err
		}
		c.log.Info("Deployed native contract", "name", name, "address", created)
		return nil, created, nil, nil
	}

	code, err := st.Get(prefixed(codePrefix, msg.to.Bytes()))
	if err != nil {
		return nil, common.Address{}, nil, err
	}
	if len(code) == 0 {
		return nil, common.Address{}, nil, transfer(st, msg.from, *msg.to, value)
	}
	name, _ := NativeName(code)
	contract, ok := c.natives[name]
	if !ok {
		return nil, common.Address{}, nil, fmt.Errorf("%w: %q", ErrUnknownNative, name)
	}
	if value.Sign() > 0 {
		return nil, common.Address{}, nil, ErrValueToContract
	}
	env := &Env{
		Caller:      msg.from,
		Self:        *msg.to,
		TxHash:      txHash,
		BlockNumber: number,
		Static:      msg.static,
		Storage:     contractStorage(st, *msg.to),
		FHE:         c.cop.NewSession(st, txHash, *msg.to),
	}
	ret, err = runNative(contract, env, msg.data)
	return ret, common.Address{}, env.logs, err
}

func runNative(contract NativeContract, env *Env, input []byte) (ret []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: native contract panic: %v", ErrExecutionReverted, r)
		}
	}()
	ret, err = contract.Run(env, input)
	var revert *RevertError
	if errors.As(err, &revert) {
		return revert.Data, err
	}
	return ret, err
}

func transfer(st *overlay, from, to common.Address, value *big.Int) error {
	if value.Sign() == 0 {
		return nil
	}
	fb, err := balanceOf(st, from)
	if err != nil {
		return err
	}
	if fb.Cmp(value) < 0 {
		return ErrInsufficientFund
	}
	tb, err := balanceOf(st, to)
	if err != nil {
		return err
	}
	st.Put(prefixed(balancePrefix, from.Bytes()), fb.Sub(fb, value).Bytes())
	st.Put(prefixed(balancePrefix, to.Bytes()), tb.Add(tb, value).Bytes())
	return nil
}

// getter is a key-value reader returning nil, nil for missing keys.
type getter interface {
	Get(key []byte) ([]byte, error)
}

// dbGetter adapts an ethdb reader to getter.
type dbGetter struct{ r ethdb.KeyValueReader }

func (g dbGetter) Get(key []byte) ([]byte, error) { return readKey(g.r, key) }

func nonceOf(r getter, addr common.Address) (uint64, error) {
	enc, err := r.Get(prefixed(noncePrefix, addr.Bytes()))
	if err != nil || len(enc) != 8 {
		return 0, err
	}
	return binary.BigEndian.Uint64(enc), nil
}

func balanceOf(r getter, addr common.Address) (*big.Int, error) {
	enc, err := r.Get(prefixed(balancePrefix, addr.Bytes()))
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(enc), nil
}

// Call executes a read-only message against the latest state. Writes the
// contract makes are discarded.
func (c *Chain) Call(call ethereum.CallMsg) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	metrics.CallsServed.Inc()
	ret, err := c.call(call)
	return ret, err
}

func (c *Chain) call(call ethereum.CallMsg) ([]byte, error) {
	if c.closed {
		return nil, ErrClosed
	}
	nonce, err := nonceOf(dbGetter{c.db}, call.From)
	if err != nil {
		return nil, err
	}
	msg := message{from: call.From, to: call.To, nonce: nonce, value: call.Value, data: call.Data, static: true}
	ret, _, _, err := c.apply(newOverlay(c.db), msg, common.Hash{}, c.head+1)
	return ret, err
}

// EstimateGas simulates the message and returns the gas it would use. A
// message that would revert returns the revert error.
func (c *Chain) EstimateGas(call ethereum.CallMsg) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, err := c.call(call); err != nil {
		return 0, err
	}
	return c.gasFor(c.db, call.To, call.Data)
}

package lockedworlds

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/lockedworlds/lockedworlds/core"
)

// Backend is the node access the client needs. *ethclient.Client
// implements it.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// TxSigner signs transactions for one account.
type TxSigner interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// ErrTxFailed is returned by WaitMined for a mined transaction whose
// receipt reports failure.
var ErrTxFailed = errors.New("transaction failed")

// DefaultPollInterval is how often WaitMined polls for a receipt.
const DefaultPollInterval = 100 * time.Millisecond

// Client is a typed binding to a deployed LockedWorlds contract.
type Client struct {
	address      common.Address
	backend      Backend
	abi          abi.ABI
	PollInterval time.Duration
}

// NewClient binds the contract deployed at address.
func NewClient(address common.Address, backend Backend) *Client {
	return &Client{address: address, backend: backend, abi: contractABI, PollInterval: DefaultPollInterval}
}

// Address returns the bound contract address.
func (c *Client) Address() common.Address { return c.address }

func (c *Client) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.address, Data: data}, nil)
	if err != nil {
		return nil, DecodeRevert(err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty result, is %s a LockedWorlds contract?", method, c.address)
	}
	return c.abi.Unpack(method, out)
}

// KeyCount returns the number of slots per player.
func (c *Client) KeyCount(ctx context.Context) (uint8, error) {
	out, err := c.call(ctx, "KEY_COUNT")
	if err != nil {
		return 0, err
	}
	return *abi.ConvertType(out[0], new(uint8)).(*uint8), nil
}

// HasClaimed reports whether player has claimed their keys.
func (c *Client) HasClaimed(ctx context.Context, player common.Address) (bool, error) {
	out, err := c.call(ctx, "hasClaimed", player)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// GetCoinBalance returns the handle of player's encrypted balance.
func (c *Client) GetCoinBalance(ctx context.Context, player common.Address) (common.Hash, error) {
	out, err := c.call(ctx, "getCoinBalance", player)
	if err != nil {
		return common.Hash{}, err
	}
	return *abi.ConvertType(out[0], new([32]byte)).(*[32]byte), nil
}

// GetKey returns one of player's key slots.
func (c *Client) GetKey(ctx context.Context, player common.Address, index uint8) (KeySlot, error) {
	out, err := c.call(ctx, "getKey", player, index)
	if err != nil {
		return KeySlot{}, err
	}
	return abi.ConvertType(out[0], new(abiSlot)).(*abiSlot).toSlot(), nil
}

// GetPlayerKeys returns all of player's key slots.
func (c *Client) GetPlayerKeys(ctx context.Context, player common.Address) ([KeyCount]KeySlot, error) {
	var slots [KeyCount]KeySlot
	out, err := c.call(ctx, "getPlayerKeys", player)
	if err != nil {
		return slots, err
	}
	raw := abi.ConvertType(out[0], new([KeyCount]abiSlot)).(*[KeyCount]abiSlot)
	for i, s := range raw {
		slots[i] = s.toSlot()
	}
	return slots, nil
}

// ClaimKeys submits a claimKeys transaction.
func (c *Client) ClaimKeys(ctx context.Context, signer TxSigner) (*types.Transaction, error) {
	return c.transact(ctx, signer, "claimKeys")
}

// UseKey submits a useKey transaction for slot index.
func (c *Client) UseKey(ctx context.Context, signer TxSigner, index uint8) (*types.Transaction, error) {
	return c.transact(ctx, signer, "useKey", index)
}

// transact simulates the call first so a revert is reported with its
// contract error instead of as a failed receipt.
func (c *Client) transact(ctx context.Context, signer TxSigner, method string, args ...interface{}) (*types.Transaction, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	return sendTx(ctx, c.backend, signer, &c.address, data)
}

// senderLocks serializes nonce assignment and submission per sender
// account, so concurrent transactions from one account get consecutive
// nonces.
var senderLocks sync.Map // common.Address -> *sync.Mutex

func lockSender(addr common.Address) func() {
	mu, _ := senderLocks.LoadOrStore(addr, new(sync.Mutex))
	mu.(*sync.Mutex).Lock()
	return mu.(*sync.Mutex).Unlock
}

func sendTx(ctx context.Context, backend Backend, signer TxSigner, to *common.Address, data []byte) (*types.Transaction, error) {
	from := signer.Address()
	msg := ethereum.CallMsg{From: from, To: to, Data: data}
	gas, err := backend.EstimateGas(ctx, msg)
	if err != nil {
		return nil, DecodeRevert(err)
	}
	unlock := lockSender(from)
	defer unlock()
	nonce, err := backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("nonce of %s: %w", from, err)
	}
	price, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: price,
		Gas:      gas,
		To:       to,
		Data:     data,
	})
	signed, err := signer.SignTx(tx, chainID)
	if err != nil {
		return nil, err
	}
	if err := backend.SendTransaction(ctx, signed); err != nil {
		return nil, DecodeRevert(err)
	}
	return signed, nil
}

// WaitMined polls until the receipt of txHash is available. A failed
// receipt is returned together with ErrTxFailed.
func WaitMined(ctx context.Context, backend Backend, txHash common.Hash, interval time.Duration) (*types.Receipt, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		receipt, err := backend.TransactionReceipt(ctx, txHash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, fmt.Errorf("%w: %s", ErrTxFailed, txHash)
			}
			return receipt, nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitMined waits for a transaction sent through the client.
func (c *Client) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	return WaitMined(ctx, c.backend, tx.Hash(), c.PollInterval)
}

// Deploy creates a new LockedWorlds contract and waits for it to be mined.
func Deploy(ctx context.Context, backend Backend, signer TxSigner) (common.Address, *types.Receipt, error) {
	tx, err := sendTx(ctx, backend, signer, nil, core.NativeCode(Name))
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("deploy %s: %w", Name, err)
	}
	receipt, err := WaitMined(ctx, backend, tx.Hash(), DefaultPollInterval)
	if err != nil {
		return common.Address{}, receipt, fmt.Errorf("deploy %s: %w", Name, err)
	}
	return receipt.ContractAddress, receipt, nil
}

// KeysClaimedEvent is a decoded KeysClaimed log.
type KeysClaimedEvent struct {
	Player common.Address
	Raw    types.Log
}

// KeyUsedEvent is a decoded KeyUsed log.
type KeyUsedEvent struct {
	Player     common.Address
	KeyIndex   uint8
	Reward     common.Hash
	NewBalance common.Hash
	Raw        types.Log
}

// ErrNoEvent is returned when a receipt holds no matching log.
var ErrNoEvent = errors.New("event not found")

// ParseKeysClaimed finds the KeysClaimed log in logs.
func (c *Client) ParseKeysClaimed(logs []*types.Log) (*KeysClaimedEvent, error) {
	id := c.abi.Events["KeysClaimed"].ID
	for _, l := range logs {
		if l.Address != c.address || len(l.Topics) != 2 || l.Topics[0] != id {
			continue
		}
		return &KeysClaimedEvent{Player: common.BytesToAddress(l.Topics[1].Bytes()), Raw: *l}, nil
	}
	return nil, ErrNoEvent
}

// ParseKeyUsed finds the KeyUsed log in logs.
func (c *Client) ParseKeyUsed(logs []*types.Log) (*KeyUsedEvent, error) {
	event := c.abi.Events["KeyUsed"]
	for _, l := range logs {
		if l.Address != c.address || len(l.Topics) != 3 || l.Topics[0] != event.ID {
			continue
		}
		out, err := event.Inputs.NonIndexed().Unpack(l.Data)
		if err != nil {
			return nil, fmt.Errorf("decode KeyUsed: %w", err)
		}
		return &KeyUsedEvent{
			Player:     common.BytesToAddress(l.Topics[1].Bytes()),
			KeyIndex:   uint8(l.Topics[2].Big().Uint64()),
			Reward:     *abi.ConvertType(out[0], new([32]byte)).(*[32]byte),
			NewBalance: *abi.ConvertType(out[1], new([32]byte)).(*[32]byte),
			Raw:        *l,
		}, nil
	}
	return nil, ErrNoEvent
}

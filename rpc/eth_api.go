package rpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/lockedworlds/lockedworlds/core"
)

// EthAPI serves the eth_ namespace subset wallets and bindings need.
// The dev chain only keeps the latest state, so block selectors are
// accepted and ignored.
type EthAPI struct {
	backend Backend
}

// NewEthAPI creates the eth_ API over backend.
func NewEthAPI(backend Backend) *EthAPI {
	return &EthAPI{backend: backend}
}

// CallArgs are the arguments of eth_call and eth_estimateGas. Both the
// legacy "data" and the newer "input" field are accepted.
type CallArgs struct {
	From     *common.Address `json:"from"`
	To       *common.Address `json:"to"`
	Gas      *hexutil.Uint64 `json:"gas"`
	GasPrice *hexutil.Big    `json:"gasPrice"`
	Value    *hexutil.Big    `json:"value"`
	Data     *hexutil.Bytes  `json:"data"`
	Input    *hexutil.Bytes  `json:"input"`
}

var errConflictingInput = errors.New(`both "data" and "input" are set and not equal`)

func (args *CallArgs) toMessage() (ethereum.CallMsg, error) {
	var msg ethereum.CallMsg
	if args.From != nil {
		msg.From = *args.From
	}
	msg.To = args.To
	if args.Gas != nil {
		msg.Gas = uint64(*args.Gas)
	}
	if args.GasPrice != nil {
		msg.GasPrice = args.GasPrice.ToInt()
	}
	if args.Value != nil {
		msg.Value = args.Value.ToInt()
	}
	switch {
	case args.Input != nil && args.Data != nil && !bytes.Equal(*args.Input, *args.Data):
		return msg, errConflictingInput
	case args.Input != nil:
		msg.Data = *args.Input
	case args.Data != nil:
		msg.Data = *args.Data
	}
	return msg, nil
}

// revertOrErr returns reverts unwrapped so the server reports them with
// their code and data.
func revertOrErr(err error) error {
	var revert *core.RevertError
	if errors.As(err, &revert) {
		return revert
	}
	return err
}

// ChainId returns the chain id.
func (api *EthAPI) ChainId() *hexutil.Big {
	return (*hexutil.Big)(api.backend.ChainID())
}

// BlockNumber returns the latest block number.
func (api *EthAPI) BlockNumber() hexutil.Uint64 {
	return hexutil.Uint64(api.backend.BlockNumber())
}

// GasPrice returns the suggested gas price.
func (api *EthAPI) GasPrice() *hexutil.Big {
	return (*hexutil.Big)(api.backend.GasPrice())
}

// GetTransactionCount returns the next nonce of address.
func (api *EthAPI) GetTransactionCount(ctx context.Context, address common.Address, block *gethrpc.BlockNumberOrHash) (*hexutil.Uint64, error) {
	nonce, err := api.backend.Nonce(address)
	if err != nil {
		return nil, err
	}
	n := hexutil.Uint64(nonce)
	return &n, nil
}

// GetBalance returns the balance of address.
func (api *EthAPI) GetBalance(ctx context.Context, address common.Address, block *gethrpc.BlockNumberOrHash) (*hexutil.Big, error) {
	bal, err := api.backend.Balance(address)
	if err != nil {
		return nil, err
	}
	return (*hexutil.Big)(bal), nil
}

// GetCode returns the code stored at address.
func (api *EthAPI) GetCode(ctx context.Context, address common.Address, block *gethrpc.BlockNumberOrHash) (hexutil.Bytes, error) {
	code, err := api.backend.Code(address)
	if err != nil {
		return nil, err
	}
	return code, nil
}

// SendRawTransaction submits a signed, RLP or typed-envelope encoded
// transaction.
func (api *EthAPI) SendRawTransaction(ctx context.Context, input hexutil.Bytes) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(input); err != nil {
		return common.Hash{}, fmt.Errorf("invalid transaction: %w", err)
	}
	return api.backend.SendTransaction(tx)
}

// Call executes a read-only call against the latest state.
func (api *EthAPI) Call(ctx context.Context, args CallArgs, block *gethrpc.BlockNumberOrHash) (hexutil.Bytes, error) {
	msg, err := args.toMessage()
	if err != nil {
		return nil, err
	}
	out, err := api.backend.Call(msg)
	if err != nil {
		return nil, revertOrErr(err)
	}
	return out, nil
}

// EstimateGas returns the gas the message would use.
func (api *EthAPI) EstimateGas(ctx context.Context, args CallArgs, block *gethrpc.BlockNumberOrHash) (hexutil.Uint64, error) {
	msg, err := args.toMessage()
	if err != nil {
		return 0, err
	}
	gas, err := api.backend.EstimateGas(msg)
	if err != nil {
		return 0, revertOrErr(err)
	}
	return hexutil.Uint64(gas), nil
}

// GetTransactionReceipt returns the receipt of a mined transaction, or
// null when it is unknown.
func (api *EthAPI) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return api.backend.Receipt(hash)
}

// NetAPI serves the net_ namespace.
type NetAPI struct {
	backend Backend
}

// Version returns the network id, which equals the chain id.
func (api *NetAPI) Version() string {
	return api.backend.ChainID().String()
}

// Listening always reports true.
func (api *NetAPI) Listening() bool { return true }

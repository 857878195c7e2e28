package rpc

import (
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Backend provides access to chain data for the JSON-RPC API.
// *core.Chain implements it.
type Backend interface {
	ChainID() *big.Int
	BlockNumber() uint64
	GasPrice() *big.Int

	// State access
	Nonce(addr common.Address) (uint64, error)
	Balance(addr common.Address) (*big.Int, error)
	Code(addr common.Address) ([]byte, error)

	// Transactions
	SendTransaction(tx *types.Transaction) (common.Hash, error)
	Transaction(hash common.Hash) (*types.Transaction, error)
	Receipt(hash common.Hash) (*types.Receipt, error)

	// Execution
	Call(call ethereum.CallMsg) ([]byte, error)
	EstimateGas(call ethereum.CallMsg) (uint64, error)
}

package core

import (
	"errors"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	ErrNonceTooLow      = errors.New("nonce too low")
	ErrNonceTooHigh     = errors.New("nonce too high")
	ErrAlreadyKnown     = errors.New("already known")
	ErrUnprotectedTx    = errors.New("only replay-protected (EIP-155) transactions allowed")
	ErrIntrinsicGas     = errors.New("intrinsic gas too low")
	ErrGasLimit         = errors.New("gas limit exceeds block gas limit")
	ErrInsufficientFund = errors.New("insufficient funds for transfer")
	ErrUnknownNative    = errors.New("unknown native contract")
	ErrValueToContract  = errors.New("native contracts do not accept value")
	ErrClosed           = errors.New("chain closed")

	// ErrExecutionReverted is wrapped by every RevertError.
	ErrExecutionReverted = errors.New("execution reverted")
)

// RevertError is returned when a contract aborts. Data carries the ABI
// encoded revert reason, for custom errors their 4-byte selector.
//
// It implements the JSON-RPC error interfaces, so the rpc server reports
// it with code 3 and the revert data as a hex string, the way geth does.
type RevertError struct {
	Data []byte
}

// Revert aborts the running contract with the given revert data.
func Revert(data []byte) error {
	return &RevertError{Data: append([]byte(nil), data...)}
}

func (e *RevertError) Error() string { return ErrExecutionReverted.Error() }

func (e *RevertError) Unwrap() error { return ErrExecutionReverted }

// ErrorCode returns the JSON-RPC error code for reverts.
func (e *RevertError) ErrorCode() int { return 3 }

// ErrorData returns the hex encoded revert data.
func (e *RevertError) ErrorData() interface{} { return hexutil.Encode(e.Data) }

package lockedworlds

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/lockedworlds/lockedworlds/core"
)

// Contract errors. Compare with errors.Is; the errors returned by the
// client carry the raw revert data as well.
var (
	ErrKeysAlreadyClaimed = &RevertError{Name: "KeysAlreadyClaimed"}
	ErrKeyAlreadyUsed     = &RevertError{Name: "KeyAlreadyUsed"}
	ErrInvalidKeyIndex    = &RevertError{Name: "InvalidKeyIndex"}
	ErrKeysNotClaimed     = &RevertError{Name: "KeysNotClaimed"}
	ErrKeyNotInitialized  = &RevertError{Name: "KeyNotInitialized"}
)

// RevertError is a contract call that reverted with one of the contract's
// custom errors. Name is empty when the revert data matches none of them.
type RevertError struct {
	Name string
	Data []byte
}

func (e *RevertError) Error() string {
	if e.Name == "" {
		if len(e.Data) == 0 {
			return "execution reverted"
		}
		return fmt.Sprintf("execution reverted: %s", hexutil.Encode(e.Data))
	}
	return "execution reverted: " + e.Name
}

// Is matches contract errors by name.
func (e *RevertError) Is(target error) bool {
	t, ok := target.(*RevertError)
	if !ok {
		return false
	}
	if t.Name == "" {
		return e.Name == "" && bytes.Equal(e.Data, t.Data)
	}
	return e.Name == t.Name
}

// Unwrap lets callers match every contract revert with core.ErrExecutionReverted.
func (e *RevertError) Unwrap() error { return core.ErrExecutionReverted }

// selector returns the revert data of the named custom error.
func selector(name string) []byte {
	e, ok := contractABI.Errors[name]
	if !ok {
		panic("lockedworlds: unknown error " + name)
	}
	return bytes.Clone(e.ID[:4])
}

// ErrorName decodes revert data into the name of the custom error it
// encodes.
func ErrorName(data []byte) (string, bool) {
	if len(data) < 4 {
		return "", false
	}
	for name, e := range contractABI.Errors {
		if bytes.Equal(e.ID[:4], data[:4]) {
			return name, true
		}
	}
	return "", false
}

// dataError is implemented by JSON-RPC errors that carry revert data.
type dataError interface {
	ErrorData() interface{}
}

// DecodeRevert turns the revert carried by err into a *RevertError. Errors
// that carry no revert data are returned unchanged.
func DecodeRevert(err error) error {
	if err == nil {
		return nil
	}
	var data []byte
	var de dataError
	switch {
	case errors.As(err, &de):
		switch v := de.ErrorData().(type) {
		case string:
			b, derr := hexutil.Decode(v)
			if derr != nil {
				return err
			}
			data = b
		case []byte:
			data = v
		default:
			return err
		}
	case errors.Is(err, core.ErrExecutionReverted):
	default:
		return err
	}
	name, _ := ErrorName(data)
	return &RevertError{Name: name, Data: data}
}

package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/lockedworlds/lockedworlds/lockedworlds"
	"github.com/lockedworlds/lockedworlds/log"
)

// Deployment step identity.
const (
	ID  = "deploy_lockedWorlds"
	Tag = lockedworlds.Name
)

// Backend is the node access deployment needs.
type Backend interface {
	lockedworlds.Backend
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// Result describes the outcome of Run.
type Result struct {
	Record *Record
	// Reused is set when an earlier deployment was found and nothing was
	// sent.
	Reused bool
}

// Run deploys LockedWorlds from signer unless the step already ran on
// this network. A recorded deployment whose code is gone, as happens when
// an in-memory dev chain restarts, is deployed again.
func Run(ctx context.Context, store *Store, backend Backend, signer lockedworlds.TxSigner) (*Result, error) {
	logger := log.Module("deploy").With("network", store.Network())

	done, err := store.Executed(ID)
	if err != nil {
		return nil, err
	}
	if done {
		rec, err := store.Load(Tag)
		if err != nil {
			return nil, err
		}
		code, err := backend.CodeAt(ctx, rec.Address, nil)
		if err != nil {
			return nil, err
		}
		if len(code) > 0 {
			logger.Info("Reusing deployment", "contract", Tag, "address", rec.Address)
			return &Result{Record: rec, Reused: true}, nil
		}
		logger.Warn("Recorded deployment has no code, deploying again", "contract", Tag, "address", rec.Address)
	}

	addr, receipt, err := lockedworlds.Deploy(ctx, backend, signer)
	if err != nil {
		return nil, err
	}
	rec := &Record{
		Address:         addr,
		TransactionHash: receipt.TxHash,
		BlockNumber:     receipt.BlockNumber.Uint64(),
		Deployer:        signer.Address(),
		ABI:             json.RawMessage(compactABI()),
	}
	if err := store.Save(Tag, rec); err != nil {
		return nil, fmt.Errorf("save deployment: %w", err)
	}
	if err := store.MarkExecuted(ID); err != nil {
		return nil, err
	}
	logger.Info("Deployed", "contract", Tag, "address", addr, "tx", receipt.TxHash, "block", rec.BlockNumber)
	return &Result{Record: rec}, nil
}

func compactABI() []byte {
	var v interface{}
	if err := json.Unmarshal([]byte(lockedworlds.ABIJSON), &v); err != nil {
		panic(err)
	}
	out, _ := json.Marshal(v)
	return out
}

package lockedworlds

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/lockedworlds/lockedworlds/core"
	"github.com/lockedworlds/lockedworlds/fhe"
	"github.com/lockedworlds/lockedworlds/log"
)

// Ranges of the values drawn at claim time.
const (
	minAttribute = 1
	maxAttribute = 3
	minReward    = 100
	maxReward    = 1000
)

// player is the stored state of one player.
type player struct {
	Claimed bool
	Keys    [KeyCount]KeySlot
	Balance common.Hash
}

func playerKey(addr common.Address) []byte {
	return append([]byte("lw/p/"), addr.Bytes()...)
}

func loadPlayer(st *core.Storage, addr common.Address) (*player, error) {
	enc, err := st.Get(playerKey(addr))
	if err != nil {
		return nil, err
	}
	p := new(player)
	if enc == nil {
		return p, nil
	}
	if err := rlp.DecodeBytes(enc, p); err != nil {
		return nil, fmt.Errorf("decode player %s: %w", addr, err)
	}
	return p, nil
}

func storePlayer(st *core.Storage, addr common.Address, p *player) error {
	enc, err := rlp.EncodeToBytes(p)
	if err != nil {
		return err
	}
	return st.Put(playerKey(addr), enc)
}

// Contract is the LockedWorlds key vault.
type Contract struct {
	abi abi.ABI
	log *log.Logger
}

// NewContract returns the native key vault contract.
func NewContract() *Contract {
	return &Contract{abi: contractABI, log: log.Module("lockedworlds")}
}

// Register makes the contract deployable on chain.
func Register(chain *core.Chain) {
	chain.RegisterNative(Name, NewContract())
}

func revert(name string) error { return core.Revert(selector(name)) }

// Run dispatches ABI calldata to the contract's methods.
func (c *Contract) Run(env *core.Env, input []byte) ([]byte, error) {
	if len(input) < 4 {
		return nil, core.Revert(nil)
	}
	method, err := c.abi.MethodById(input[:4])
	if err != nil {
		return nil, core.Revert(nil)
	}
	args, err := method.Inputs.Unpack(input[4:])
	if err != nil {
		return nil, core.Revert(nil)
	}

	switch method.Name {
	case "claimKeys":
		return nil, c.claimKeys(env)
	case "useKey":
		return nil, c.useKey(env, args[0].(uint8))
	case "KEY_COUNT":
		return method.Outputs.Pack(uint8(KeyCount))
	case "hasClaimed":
		p, err := loadPlayer(env.Storage, args[0].(common.Address))
		if err != nil {
			return nil, err
		}
		return method.Outputs.Pack(p.Claimed)
	case "getCoinBalance":
		p, err := loadPlayer(env.Storage, args[0].(common.Address))
		if err != nil {
			return nil, err
		}
		return method.Outputs.Pack([32]byte(p.Balance))
	case "getKey":
		index := args[1].(uint8)
		if index >= KeyCount {
			return nil, revert("InvalidKeyIndex")
		}
		p, err := loadPlayer(env.Storage, args[0].(common.Address))
		if err != nil {
			return nil, err
		}
		return method.Outputs.Pack(p.Keys[index].toABI())
	case "getPlayerKeys":
		p, err := loadPlayer(env.Storage, args[0].(common.Address))
		if err != nil {
			return nil, err
		}
		var slots [KeyCount]abiSlot
		for i, k := range p.Keys {
			slots[i] = k.toABI()
		}
		return method.Outputs.Pack(slots)
	}
	return nil, core.Revert(nil)
}

// grant lets both the caller and the contract use h after this
// transaction.
func grant(env *core.Env, hs ...common.Hash) error {
	for _, h := range hs {
		if err := env.FHE.AllowThis(h); err != nil {
			return err
		}
		if err := env.FHE.Allow(h, env.Caller); err != nil {
			return err
		}
	}
	return nil
}

// randomIn draws an encrypted value uniformly from [lo, hi].
func randomIn(s *fhe.Session, t fhe.Type, lo, hi uint64) (common.Hash, error) {
	h, err := s.Rand(t, hi-lo+1)
	if err != nil {
		return common.Hash{}, err
	}
	return s.AddScalar(h, lo)
}

func (c *Contract) claimKeys(env *core.Env) error {
	p, err := loadPlayer(env.Storage, env.Caller)
	if err != nil {
		return err
	}
	if p.Claimed {
		return revert("KeysAlreadyClaimed")
	}
	for i := range p.Keys {
		attr, err := randomIn(env.FHE, fhe.Uint8, minAttribute, maxAttribute)
		if err != nil {
			return err
		}
		reward, err := randomIn(env.FHE, fhe.Uint16, minReward, maxReward)
		if err != nil {
			return err
		}
		if err := grant(env, attr, reward); err != nil {
			return err
		}
		p.Keys[i] = KeySlot{Attribute: attr, Reward: reward, Initialized: true}
	}
	balance, err := env.FHE.TrivialEncrypt(0, fhe.Uint32)
	if err != nil {
		return err
	}
	if err := grant(env, balance); err != nil {
		return err
	}
	p.Balance = balance
	p.Claimed = true
	if err := storePlayer(env.Storage, env.Caller, p); err != nil {
		return err
	}

	env.Emit([]common.Hash{c.abi.Events["KeysClaimed"].ID, common.BytesToHash(env.Caller.Bytes())}, nil)
	if !env.Static {
		c.log.Info("Keys claimed", "player", env.Caller, "tx", env.TxHash)
	}
	return nil
}

func (c *Contract) useKey(env *core.Env, index uint8) error {
	if index >= KeyCount {
		return revert("InvalidKeyIndex")
	}
	p, err := loadPlayer(env.Storage, env.Caller)
	if err != nil {
		return err
	}
	if !p.Claimed {
		return revert("KeysNotClaimed")
	}
	slot := &p.Keys[index]
	if !slot.Initialized {
		return revert("KeyNotInitialized")
	}
	if slot.Used {
		return revert("KeyAlreadyUsed")
	}
	slot.Used = true

	// The reward is routed through an encrypted select so the payout
	// stays on the coprocessor's conditional path.
	fresh, err := env.FHE.TrivialEncrypt(1, fhe.Bool)
	if err != nil {
		return err
	}
	zero, err := env.FHE.TrivialEncrypt(0, fhe.Uint16)
	if err != nil {
		return err
	}
	payout, err := env.FHE.Select(fresh, slot.Reward, zero)
	if err != nil {
		return err
	}
	payout, err = env.FHE.Cast(payout, fhe.Uint32)
	if err != nil {
		return err
	}
	balance, err := env.FHE.Add(p.Balance, payout)
	if err != nil {
		return err
	}
	if err := grant(env, balance); err != nil {
		return err
	}
	p.Balance = balance
	if err := storePlayer(env.Storage, env.Caller, p); err != nil {
		return err
	}

	event := c.abi.Events["KeyUsed"]
	data, err := event.Inputs.NonIndexed().Pack([32]byte(slot.Reward), [32]byte(balance))
	if err != nil {
		return err
	}
	env.Emit([]common.Hash{
		event.ID,
		common.BytesToHash(env.Caller.Bytes()),
		common.BigToHash(big.NewInt(int64(index))),
	}, data)
	if !env.Static {
		c.log.Info("Key used", "player", env.Caller, "index", index, "tx", env.TxHash)
	}
	return nil
}

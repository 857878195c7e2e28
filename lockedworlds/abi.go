// Package lockedworlds implements the LockedWorlds key vault: a contract
// that hands every player three encrypted keys and keeps an encrypted coin
// balance the keys' rewards are paid into, plus the client binding that
// talks to it over JSON-RPC.
package lockedworlds

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Name is the registered name of the native contract.
const Name = "LockedWorlds"

// KeyCount is the number of key slots every player owns.
const KeyCount = 3

// ABIJSON is the contract interface, including its custom errors.
const ABIJSON = `[
{"type":"function","name":"KEY_COUNT","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8","internalType":"uint8"}]},
{"type":"function","name":"claimKeys","stateMutability":"nonpayable","inputs":[],"outputs":[]},
{"type":"function","name":"useKey","stateMutability":"nonpayable","inputs":[{"name":"index","type":"uint8","internalType":"uint8"}],"outputs":[]},
{"type":"function","name":"getCoinBalance","stateMutability":"view","inputs":[{"name":"player","type":"address","internalType":"address"}],"outputs":[{"name":"","type":"bytes32","internalType":"euint32"}]},
{"type":"function","name":"hasClaimed","stateMutability":"view","inputs":[{"name":"player","type":"address","internalType":"address"}],"outputs":[{"name":"","type":"bool","internalType":"bool"}]},
{"type":"function","name":"getKey","stateMutability":"view","inputs":[{"name":"player","type":"address","internalType":"address"},{"name":"index","type":"uint8","internalType":"uint8"}],"outputs":[{"name":"","type":"tuple","internalType":"struct LockedWorlds.KeySlot","components":[{"name":"attribute","type":"bytes32","internalType":"euint8"},{"name":"reward","type":"bytes32","internalType":"euint16"},{"name":"used","type":"bool","internalType":"bool"},{"name":"initialized","type":"bool","internalType":"bool"}]}]},
{"type":"function","name":"getPlayerKeys","stateMutability":"view","inputs":[{"name":"player","type":"address","internalType":"address"}],"outputs":[{"name":"","type":"tuple[3]","internalType":"struct LockedWorlds.KeySlot[3]","components":[{"name":"attribute","type":"bytes32","internalType":"euint8"},{"name":"reward","type":"bytes32","internalType":"euint16"},{"name":"used","type":"bool","internalType":"bool"},{"name":"initialized","type":"bool","internalType":"bool"}]}]},
{"type":"event","name":"KeysClaimed","anonymous":false,"inputs":[{"name":"player","type":"address","indexed":true,"internalType":"address"}]},
{"type":"event","name":"KeyUsed","anonymous":false,"inputs":[{"name":"player","type":"address","indexed":true,"internalType":"address"},{"name":"keyIndex","type":"uint8","indexed":true,"internalType":"uint8"},{"name":"reward","type":"bytes32","indexed":false,"internalType":"euint16"},{"name":"newBalance","type":"bytes32","indexed":false,"internalType":"euint32"}]},
{"type":"error","name":"KeysAlreadyClaimed","inputs":[]},
{"type":"error","name":"KeyAlreadyUsed","inputs":[]},
{"type":"error","name":"InvalidKeyIndex","inputs":[]},
{"type":"error","name":"KeysNotClaimed","inputs":[]},
{"type":"error","name":"KeyNotInitialized","inputs":[]}
]`

var contractABI = mustParseABI()

func mustParseABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(ABIJSON))
	if err != nil {
		panic("lockedworlds: invalid ABI: " + err.Error())
	}
	return parsed
}

// ABI returns the parsed contract interface.
func ABI() abi.ABI { return contractABI }

// KeySlot is one of a player's key slots. Attribute and Reward are
// ciphertext handles; the zero handle marks an uninitialized slot.
type KeySlot struct {
	Attribute   common.Hash
	Reward      common.Hash
	Used        bool
	Initialized bool
}

// abiSlot mirrors KeySlot with the array types the ABI codec expects for
// bytes32.
type abiSlot struct {
	Attribute   [32]byte
	Reward      [32]byte
	Used        bool
	Initialized bool
}

func (s KeySlot) toABI() abiSlot {
	return abiSlot{Attribute: s.Attribute, Reward: s.Reward, Used: s.Used, Initialized: s.Initialized}
}

func (s abiSlot) toSlot() KeySlot {
	return KeySlot{Attribute: s.Attribute, Reward: s.Reward, Used: s.Used, Initialized: s.Initialized}
}

// Attribute values of a key.
const (
	AttributeGold    = 1
	AttributeSilver  = 2
	AttributeDiamond = 3
)

// AttributeName returns the display name of an attribute value.
func AttributeName(v uint64) string {
	switch v {
	case AttributeGold:
		return "Gold"
	case AttributeSilver:
		return "Silver"
	case AttributeDiamond:
		return "Diamond"
	default:
		return "Unknown"
	}
}

package relayer

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// State is the progress of a decryption handshake.
type State int

const (
	StateIdle State = iota
	StateKeyGenerated
	StateAuthorizationSigned
	StateRequested
	StateResolved
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateKeyGenerated:
		return "key-generated"
	case StateAuthorizationSigned:
		return "authorization-signed"
	case StateRequested:
		return "requested"
	case StateResolved:
		return "resolved"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// TypedDataSigner signs EIP-712 authorizations for a user.
type TypedDataSigner interface {
	Address() common.Address
	SignTypedData(data apitypes.TypedData) ([]byte, error)
}

// Decryptor runs the whole user decryption handshake for handles of one
// contract: ephemeral key, signed authorization, relayer request and
// opening the answers. A failure at any step fails the whole batch and
// nothing is kept; calling Decrypt again starts over.
type Decryptor struct {
	client   *Client
	signer   TypedDataSigner
	contract common.Address
	chainID  *big.Int
	verifier common.Address

	// DurationDays is the validity requested for each authorization.
	DurationDays int64
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	mu    sync.Mutex
	state State
}

// NewDecryptor creates a decryptor for handles of contract, configured
// from the relayer's key info.
func NewDecryptor(client *Client, signer TypedDataSigner, contract common.Address, info *KeyInfo) (*Decryptor, error) {
	chainID, ok := new(big.Int).SetString(info.ChainID, 10)
	if !ok {
		return nil, fmt.Errorf("invalid chain id %q", info.ChainID)
	}
	return &Decryptor{
		client:       client,
		signer:       signer,
		contract:     contract,
		chainID:      chainID,
		verifier:     info.Verifier(),
		DurationDays: DefaultDurationDays,
		Now:          time.Now,
	}, nil
}

// State returns the state the last handshake reached.
func (d *Decryptor) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Decryptor) set(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// Decrypt returns the cleartext of every handle. Zero handles denote
// uninitialized values and decrypt to zero without a request.
func (d *Decryptor) Decrypt(ctx context.Context, handles ...common.Hash) (map[common.Hash]*big.Int, error) {
	d.set(StateIdle)
	out := make(map[common.Hash]*big.Int, len(handles))
	var pairs []HandleContractPair
	for _, h := range handles {
		if h == (common.Hash{}) {
			out[h] = new(big.Int)
			continue
		}
		pairs = append(pairs, HandleContractPair{Handle: h.Hex(), ContractAddress: d.contract.Hex()})
	}
	if len(pairs) == 0 {
		d.set(StateResolved)
		return out, nil
	}

	values, err := d.handshake(ctx, pairs)
	if err != nil {
		d.set(StateFailed)
		return nil, err
	}
	for h, v := range values {
		out[h] = v
	}
	d.set(StateResolved)
	return out, nil
}

func (d *Decryptor) handshake(ctx context.Context, pairs []HandleContractPair) (map[common.Hash]*big.Int, error) {
	keypair, err := GenerateKeypair()
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	d.set(StateKeyGenerated)

	pub, err := keypair.PublicKeyBytes()
	if err != nil {
		return nil, err
	}
	contracts := []common.Address{d.contract}
	start := d.Now().Unix()
	typed := CreateEIP712(pub, contracts, start, d.DurationDays, d.chainID, d.verifier, nil)
	sig, err := d.signer.SignTypedData(typed)
	if err != nil {
		return nil, fmt.Errorf("sign authorization: %w", err)
	}
	d.set(StateAuthorizationSigned)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.set(StateRequested)
	return d.client.UserDecrypt(ctx, pairs, keypair, sig, contracts, d.signer.Address(), start, d.DurationDays)
}

// DecryptOne is Decrypt for a single handle.
func (d *Decryptor) DecryptOne(ctx context.Context, h common.Hash) (*big.Int, error) {
	values, err := d.Decrypt(ctx, h)
	if err != nil {
		return nil, err
	}
	return values[h], nil
}

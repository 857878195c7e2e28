// Package relayer implements user decryption of ciphertext handles. A
// user signs an EIP-712 authorization naming an ephemeral public key and
// the contracts whose handles may be decrypted; the relayer checks the
// authorization against the access-control list and returns each
// cleartext encrypted to the ephemeral key.
package relayer

import (
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP-712 domain and request limits.
const (
	DomainName    = "Decryption"
	DomainVersion = "1"
	PrimaryType   = "UserDecryptRequestVerification"

	MaxHandlesPerRequest = 32
	MaxDurationDays      = 365
	MaxClockSkew         = 5 * time.Minute

	// DefaultDurationDays is the validity the clients request.
	DefaultDurationDays = 10
)

// DefaultExtraData is the extra data clients sign when they have none.
var DefaultExtraData = []byte{0x00}

var (
	// DefaultVerifier is the verifying contract named in the EIP-712
	// domain of the local network.
	DefaultVerifier = common.BytesToAddress(crypto.Keccak256([]byte("lockedworlds/decryption-verifier"))[12:])
	// DefaultACL is the address the local network reports for its
	// access-control list.
	DefaultACL = common.BytesToAddress(crypto.Keccak256([]byte("lockedworlds/acl"))[12:])
)

var eip712Types = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	PrimaryType: {
		{Name: "publicKey", Type: "bytes"},
		{Name: "contractAddresses", Type: "address[]"},
		{Name: "startTimestamp", Type: "uint256"},
		{Name: "durationDays", Type: "uint256"},
		{Name: "extraData", Type: "bytes"},
	},
}

// CreateEIP712 builds the typed data a user signs to authorize decryption
// of handles belonging to contracts, for durationDays starting at
// startTimestamp (unix seconds).
func CreateEIP712(publicKey []byte, contracts []common.Address, startTimestamp, durationDays int64, chainID *big.Int, verifier common.Address, extraData []byte) apitypes.TypedData {
	addrs := make([]interface{}, len(contracts))
	for i, c := range contracts {
		addrs[i] = c.Hex()
	}
	if extraData == nil {
		extraData = DefaultExtraData
	}
	return apitypes.TypedData{
		Types:       eip712Types,
		PrimaryType: PrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              DomainName,
			Version:           DomainVersion,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(chainID)),
			VerifyingContract: verifier.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"publicKey":         hexutil.Encode(publicKey),
			"contractAddresses": addrs,
			"startTimestamp":    strconv.FormatInt(startTimestamp, 10),
			"durationDays":      strconv.FormatInt(durationDays, 10),
			"extraData":         hexutil.Encode(extraData),
		},
	}
}

// RecoverSigner returns the account that produced sig over data. V may
// be given as 0/1 or 27/28.
func RecoverSigner(data apitypes.TypedData, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, errBadSignature
	}
	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return common.Address{}, err
	}
	raw := append([]byte(nil), sig...)
	if raw[crypto.RecoveryIDOffset] >= 27 {
		raw[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(hash, raw)
	if err != nil {
		return common.Address{}, errBadSignature
	}
	return crypto.PubkeyToAddress(*pub), nil
}

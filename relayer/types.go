package relayer

import (
	"github.com/ethereum/go-ethereum/common"
)

// HandleContractPair names a handle and the contract it belongs to.
type HandleContractPair struct {
	Handle          string `json:"handle"`
	ContractAddress string `json:"contractAddress"`
}

// RequestValidity is the window a user decryption authorization covers.
// Both fields are decimal strings.
type RequestValidity struct {
	StartTimestamp string `json:"startTimestamp"`
	DurationDays   string `json:"durationDays"`
}

// UserDecryptRequest is the body of POST /v1/user-decrypt.
type UserDecryptRequest struct {
	HandleContractPairs []HandleContractPair `json:"handleContractPairs"`
	RequestValidity     RequestValidity      `json:"requestValidity"`
	ContractsChainID    string               `json:"contractsChainId"`
	ContractAddresses   []string             `json:"contractAddresses"`
	UserAddress         string               `json:"userAddress"`
	Signature           string               `json:"signature"`
	PublicKey           string               `json:"publicKey"`
	ExtraData           string               `json:"extraData"`
}

// DecryptedShare is one handle's cleartext encrypted to the requester.
type DecryptedShare struct {
	Handle  string `json:"handle"`
	Payload string `json:"payload"`
}

// UserDecryptResponse is the answer to a user decryption request.
type UserDecryptResponse struct {
	RequestID string           `json:"requestId"`
	Response  []DecryptedShare `json:"response"`
}

// KeyInfo is served at GET /v1/keyurl. Clients need it to build the
// EIP-712 authorization.
type KeyInfo struct {
	ChainID           string `json:"chainId"`
	VerifyingContract string `json:"verifyingContract"`
	ACLContract       string `json:"aclContract"`
	MaxHandles        int    `json:"maxHandles"`
}

// Verifier returns the verifying contract as an address.
func (k *KeyInfo) Verifier() common.Address {
	return common.HexToAddress(k.VerifyingContract)
}

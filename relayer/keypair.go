package relayer

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/ecies"
)

// Keypair is an ephemeral secp256k1 key pair. Cleartexts are returned
// encrypted to PublicKey and opened with PrivateKey.
type Keypair struct {
	// PublicKey is the 65-byte uncompressed public key, 0x-prefixed hex.
	PublicKey string
	// PrivateKey is the 32-byte private key, 0x-prefixed hex.
	PrivateKey string
}

// GenerateKeypair creates a fresh ephemeral key pair.
func GenerateKeypair() (Keypair, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return Keypair{}, err
	}
	return Keypair{
		PublicKey:  hexutil.Encode(crypto.FromECDSAPub(&key.PublicKey)),
		PrivateKey: hexutil.Encode(crypto.FromECDSA(key)),
	}, nil
}

// PublicKeyBytes decodes the public key.
func (k Keypair) PublicKeyBytes() ([]byte, error) {
	return decodeHex(k.PublicKey)
}

var errBadCiphertext = errors.New("cannot open re-encrypted value")

// Open decrypts a payload the relayer encrypted to this key pair.
func (k Keypair) Open(payload []byte) (*big.Int, error) {
	raw, err := decodeHex(k.PrivateKey)
	if err != nil {
		return nil, err
	}
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	plain, err := ecies.ImportECDSA(key).Decrypt(payload, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadCiphertext, err)
	}
	return new(big.Int).SetBytes(plain), nil
}

// seal encrypts a cleartext to the requester's public key.
func seal(publicKey []byte, value *big.Int) ([]byte, error) {
	pub, err := crypto.UnmarshalPubkey(publicKey)
	if err != nil {
		return nil, err
	}
	var buf [32]byte
	value.FillBytes(buf[:])
	return ecies.Encrypt(rand.Reader, ecies.ImportECDSAPublic(pub), buf[:], nil, nil)
}

// decodeHex accepts hex with or without the 0x prefix.
func decodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}

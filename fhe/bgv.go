package fhe

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/bgv"
)

// BGVPlaintextModulus is an NTT-friendly prime (T ≡ 1 mod 2N for N up to
// 2^16). Results are exact while every intermediate value stays below it;
// the key vault's largest value (3 × 1000) is far below.
const BGVPlaintextModulus = 0x3ee0001

// BGVParams returns the parameter set of the homomorphic backend: ring
// degree 2^13, two 55-bit ciphertext primes and one special prime for
// relinearization. A single relinearized product of fresh ciphertexts
// stays well inside Q, so no rescaling is needed and every ciphertext
// keeps scale 1.
func BGVParams() bgv.ParametersLiteral {
	return bgv.ParametersLiteral{
		LogN:             13,
		LogQ:             []int{55, 55},
		LogP:             []int{56},
		PlaintextModulus: BGVPlaintextModulus,
	}
}

// BGV encrypts every value in slot 0 of a BGV ciphertext. The secret key
// plays the role of the network key held by the decryption service.
//
// Subtraction wraps modulo the plaintext modulus rather than the type
// width, so Sub is only exact when the result is non-negative.
type BGV struct {
	params bgv.Parameters
	sk     *rlwe.SecretKey
	pk     *rlwe.PublicKey
	evk    rlwe.EvaluationKeySet
}

func newBGV(params bgv.Parameters, sk *rlwe.SecretKey, pk *rlwe.PublicKey) *BGV {
	rlk := bgv.NewKeyGenerator(params).GenRelinearizationKeyNew(sk)
	return &BGV{params: params, sk: sk, pk: pk, evk: rlwe.NewMemEvaluationKeySet(rlk)}
}

// NewBGV generates a fresh key pair.
func NewBGV() (*BGV, error) {
	params, err := bgv.NewParametersFromLiteral(BGVParams())
	if err != nil {
		return nil, fmt.Errorf("fhe: bgv parameters: %w", err)
	}
	sk, pk := bgv.NewKeyGenerator(params).GenKeyPairNew()
	return newBGV(params, sk, pk), nil
}

const (
	bgvSecretKeyFile = "bgv.sk"
	bgvPublicKeyFile = "bgv.pk"
)

// LoadBGV loads the key pair kept in dir, generating and saving one on
// first use.
func LoadBGV(dir string) (*BGV, error) {
	skPath := filepath.Join(dir, bgvSecretKeyFile)
	pkPath := filepath.Join(dir, bgvPublicKeyFile)

	skData, err := os.ReadFile(skPath)
	if errors.Is(err, os.ErrNotExist) {
		b, err := NewBGV()
		if err != nil {
			return nil, err
		}
		if err := b.save(dir); err != nil {
			return nil, err
		}
		return b, nil
	}
	if err != nil {
		return nil, err
	}
	pkData, err := os.ReadFile(pkPath)
	if err != nil {
		return nil, err
	}

	params, err := bgv.NewParametersFromLiteral(BGVParams())
	if err != nil {
		return nil, fmt.Errorf("fhe: bgv parameters: %w", err)
	}
	sk := rlwe.NewSecretKey(params)
	if err := sk.UnmarshalBinary(skData); err != nil {
		return nil, fmt.Errorf("fhe: decode secret key: %w", err)
	}
	pk := rlwe.NewPublicKey(params)
	if err := pk.UnmarshalBinary(pkData); err != nil {
		return nil, fmt.Errorf("fhe: decode public key: %w", err)
	}
	if sk.LevelQ() != params.MaxLevelQ() || pk.LevelQ() != params.MaxLevelQ() {
		return nil, fmt.Errorf("fhe: keys in %s were made for other bgv parameters", dir)
	}
	return newBGV(params, sk, pk), nil
}

func (b *BGV) save(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	skData, err := b.sk.MarshalBinary()
	if err != nil {
		return err
	}
	pkData, err := b.pk.MarshalBinary()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, bgvSecretKeyFile), skData, 0o600); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, bgvPublicKeyFile), pkData, 0o644)
}

func (*BGV) Name() string { return "bgv" }

func (b *BGV) unmarshal(data []byte) (*rlwe.Ciphertext, error) {
	ct := new(rlwe.Ciphertext)
	if err := ct.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("fhe: decode ciphertext: %w", err)
	}
	return ct, nil
}

func (b *BGV) Encrypt(t Type, v uint64) ([]byte, error) {
	if !t.Valid() {
		return nil, ErrUnknownType
	}
	vec := make([]uint64, b.params.MaxSlots())
	vec[0] = v & t.Max()

	pt := bgv.NewPlaintext(b.params, b.params.MaxLevel())
	if err := bgv.NewEncoder(b.params).Encode(vec, pt); err != nil {
		return nil, err
	}
	ct, err := bgv.NewEncryptor(b.params, b.pk).EncryptNew(pt)
	if err != nil {
		return nil, err
	}
	return ct.MarshalBinary()
}

func (b *BGV) Decrypt(t Type, data []byte) (uint64, error) {
	if !t.Valid() {
		return 0, ErrUnknownType
	}
	ct, err := b.unmarshal(data)
	if err != nil {
		return 0, err
	}
	pt := bgv.NewDecryptor(b.params, b.sk).DecryptNew(ct)
	vec := make([]uint64, b.params.MaxSlots())
	if err := bgv.NewEncoder(b.params).Decode(pt, vec); err != nil {
		return 0, err
	}
	return vec[0] & t.Max(), nil
}

func (b *BGV) Add(t Type, x, y []byte) ([]byte, error) {
	if !t.Valid() {
		return nil, ErrUnknownType
	}
	ctX, err := b.unmarshal(x)
	if err != nil {
		return nil, err
	}
	ctY, err := b.unmarshal(y)
	if err != nil {
		return nil, err
	}
	out, err := bgv.NewEvaluator(b.params, b.evk).AddNew(ctX, ctY)
	if err != nil {
		return nil, err
	}
	return out.MarshalBinary()
}

func (b *BGV) Sub(t Type, x, y []byte) ([]byte, error) {
	if !t.Valid() {
		return nil, ErrUnknownType
	}
	ctX, err := b.unmarshal(x)
	if err != nil {
		return nil, err
	}
	ctY, err := b.unmarshal(y)
	if err != nil {
		return nil, err
	}
	out, err := bgv.NewEvaluator(b.params, b.evk).SubNew(ctX, ctY)
	if err != nil {
		return nil, err
	}
	return out.MarshalBinary()
}

// Select computes b + cond·(a − b) with one relinearized product.
func (b *BGV) Select(t Type, cond, x, y []byte) ([]byte, error) {
	if !t.Valid() {
		return nil, ErrUnknownType
	}
	ctC, err := b.unmarshal(cond)
	if err != nil {
		return nil, err
	}
	ctX, err := b.unmarshal(x)
	if err != nil {
		return nil, err
	}
	ctY, err := b.unmarshal(y)
	if err != nil {
		return nil, err
	}
	eval := bgv.NewEvaluator(b.params, b.evk)
	diff, err := eval.SubNew(ctX, ctY)
	if err != nil {
		return nil, err
	}
	prod, err := eval.MulRelinNew(ctC, diff)
	if err != nil {
		return nil, err
	}
	out, err := eval.AddNew(prod, ctY)
	if err != nil {
		return nil, err
	}
	return out.MarshalBinary()
}

// Cast only widens: every type shares the same plaintext space, so the
// ciphertext is reused as is.
func (b *BGV) Cast(from, to Type, data []byte) ([]byte, error) {
	if !from.Valid() || !to.Valid() {
		return nil, ErrUnknownType
	}
	if to.Bits() < from.Bits() {
		return nil, ErrUnsupported
	}
	if _, err := b.unmarshal(data); err != nil {
		return nil, err
	}
	return append([]byte(nil), data...), nil
}

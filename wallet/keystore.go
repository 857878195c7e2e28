package wallet

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// KeystoreSigner signs with an unlocked account of an encrypted keystore
// directory.
type KeystoreSigner struct {
	ks      *keystore.KeyStore
	account accounts.Account
}

// OpenKeystore returns a signer for every account in dir, unlocked with
// passphrase.
func OpenKeystore(dir, passphrase string) ([]*KeystoreSigner, error) {
	ks := keystore.NewKeyStore(dir, keystore.LightScryptN, keystore.LightScryptP)
	var out []*KeystoreSigner
	for _, acct := range ks.Accounts() {
		if err := ks.Unlock(acct, passphrase); err != nil {
			return nil, fmt.Errorf("unlock %s: %w", acct.Address.Hex(), err)
		}
		out = append(out, &KeystoreSigner{ks: ks, account: acct})
	}
	return out, nil
}

// ImportKey stores signer's key in the keystore at dir, encrypted with
// passphrase.
func ImportKey(dir string, signer *KeySigner, passphrase string) (common.Address, error) {
	ks := keystore.NewKeyStore(dir, keystore.LightScryptN, keystore.LightScryptP)
	acct, err := ks.ImportECDSA(signer.key, passphrase)
	if err != nil {
		return common.Address{}, err
	}
	return acct.Address, nil
}

func (s *KeystoreSigner) Address() common.Address { return s.account.Address }

func (s *KeystoreSigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return s.ks.SignTx(s.account, tx, chainID)
}

func (s *KeystoreSigner) SignTypedData(data apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, err
	}
	sig, err := s.ks.SignHash(s.account, hash)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

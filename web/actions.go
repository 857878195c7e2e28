package web

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/lockedworlds/lockedworlds/lockedworlds"
	"github.com/lockedworlds/lockedworlds/relayer"
	"github.com/lockedworlds/lockedworlds/wallet"
)

// begin marks control as running. Decrypt and use controls are refused
// while a claim is running.
func (p *Page) begin(control string) (done func(), err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inflight[control] {
		return nil, ErrActionInFlight
	}
	if control != controlClaim && control != controlBalance && p.inflight[controlClaim] {
		return nil, ErrActionDisabled
	}
	p.inflight[control] = true
	return func() {
		p.mu.Lock()
		delete(p.inflight, control)
		p.mu.Unlock()
	}, nil
}

// signer returns the connected account and its signer.
func (p *Page) signer() (common.Address, wallet.Signer, error) {
	acct, ok := p.Account()
	if !ok {
		return common.Address{}, nil, ErrWalletNotConnected
	}
	s, err := p.cfg.Keyring.Find(acct)
	if err != nil {
		return common.Address{}, nil, err
	}
	return acct, s, nil
}

// connectedAs reports whether acct is still the connected account.
// Caller must hold p.mu.
func (p *Page) connectedAs(acct common.Address) bool {
	return p.account != nil && *p.account == acct
}

func (p *Page) decryptor(ctx context.Context, s wallet.Signer) (*relayer.Decryptor, error) {
	info, err := p.serviceInfo(ctx)
	if err != nil {
		return nil, err
	}
	return relayer.NewDecryptor(p.cfg.Relayer, s, p.cfg.Contract, info)
}

// Claim claims the three keys of the connected account.
func (p *Page) Claim(ctx context.Context) error {
	acct, s, err := p.signer()
	if err != nil {
		return err
	}
	if _, err := p.serviceInfo(ctx); err != nil {
		return err
	}
	done, err := p.begin(controlClaim)
	if err != nil {
		return err
	}
	defer done()

	tx, err := p.vault.ClaimKeys(ctx, s)
	if err != nil {
		return err
	}
	if _, err := p.vault.WaitMined(ctx, tx); err != nil {
		return err
	}
	p.log.Info("Keys claimed", "account", acct, "tx", tx.Hash())
	_, err = p.refresh(ctx, acct)
	return err
}

// UseKey consumes key index of the connected account. The cached balance
// is dropped since the on-chain value changed.
func (p *Page) UseKey(ctx context.Context, index uint8) error {
	if index >= lockedworlds.KeyCount {
		return lockedworlds.ErrInvalidKeyIndex
	}
	acct, s, err := p.signer()
	if err != nil {
		return err
	}
	if _, err := p.serviceInfo(ctx); err != nil {
		return err
	}
	done, err := p.begin(inflightKey(controlUse, index))
	if err != nil {
		return err
	}
	defer done()

	tx, err := p.vault.UseKey(ctx, s, index)
	if err != nil {
		return err
	}
	if _, err := p.vault.WaitMined(ctx, tx); err != nil {
		return err
	}
	p.mu.Lock()
	if p.connectedAs(acct) {
		p.balance = nil
	}
	p.mu.Unlock()
	p.log.Info("Key used", "account", acct, "index", index, "tx", tx.Hash())
	_, err = p.refresh(ctx, acct)
	return err
}

// DecryptAttribute decrypts the attribute of key index.
func (p *Page) DecryptAttribute(ctx context.Context, index uint8) (uint64, error) {
	return p.decryptKey(ctx, controlAttribute, index)
}

// DecryptReward decrypts the reward of key index.
func (p *Page) DecryptReward(ctx context.Context, index uint8) (uint64, error) {
	return p.decryptKey(ctx, controlReward, index)
}

func (p *Page) decryptKey(ctx context.Context, control string, index uint8) (uint64, error) {
	if index >= lockedworlds.KeyCount {
		return 0, lockedworlds.ErrInvalidKeyIndex
	}
	acct, s, err := p.signer()
	if err != nil {
		return 0, err
	}
	done, err := p.begin(inflightKey(control, index))
	if err != nil {
		return 0, err
	}
	defer done()

	slot, err := p.vault.GetKey(ctx, acct, index)
	if err != nil {
		return 0, err
	}
	if !slot.Initialized {
		return 0, ErrActionDisabled
	}
	handle := slot.Attribute
	if control == controlReward {
		handle = slot.Reward
	}
	v, err := p.decryptHandle(ctx, s, handle)
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connectedAs(acct) {
		if control == controlReward {
			p.rewards[index] = v
		} else {
			p.attributes[index] = v
		}
	}
	return v, nil
}

// DecryptBalance decrypts the balance of the connected account.
func (p *Page) DecryptBalance(ctx context.Context) (uint64, error) {
	acct, s, err := p.signer()
	if err != nil {
		return 0, err
	}
	done, err := p.begin(controlBalance)
	if err != nil {
		return 0, err
	}
	defer done()

	claimed, err := p.vault.HasClaimed(ctx, acct)
	if err != nil {
		return 0, err
	}
	if !claimed {
		return 0, ErrActionDisabled
	}
	handle, err := p.vault.GetCoinBalance(ctx, acct)
	if err != nil {
		return 0, err
	}
	v, err := p.decryptHandle(ctx, s, handle)
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connectedAs(acct) {
		p.balance = &v
	}
	return v, nil
}

func (p *Page) decryptHandle(ctx context.Context, s wallet.Signer, h common.Hash) (uint64, error) {
	dec, err := p.decryptor(ctx, s)
	if err != nil {
		return 0, err
	}
	v, err := dec.DecryptOne(ctx, h)
	if err != nil {
		return 0, err
	}
	if v == nil {
		v = new(big.Int)
	}
	return v.Uint64(), nil
}

// Package web serves the LockedWorlds page: three key cards and a balance
// card for the connected account, with claim, use and decrypt actions.
// Decrypted values are kept in page memory only and are dropped whenever
// the account changes or its claim status reads false.
package web

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/lockedworlds/lockedworlds/lockedworlds"
	"github.com/lockedworlds/lockedworlds/log"
	"github.com/lockedworlds/lockedworlds/relayer"
	"github.com/lockedworlds/lockedworlds/wallet"
)

var (
	// ErrWalletNotConnected is returned for actions without a connected
	// account.
	ErrWalletNotConnected = errors.New("wallet is not connected")
	// ErrActionInFlight is returned when the same control is already
	// running.
	ErrActionInFlight = errors.New("action already in progress")
	// ErrActionDisabled is returned for an action whose control is
	// disabled in the current state.
	ErrActionDisabled = errors.New("action is not available")
)

// Config configures the page.
type Config struct {
	Contract common.Address
	Backend  lockedworlds.Backend
	Relayer  *relayer.Client
	// Keyring holds the accounts the page can connect as.
	Keyring *wallet.Keyring
	// PollInterval overrides how often receipts are polled.
	PollInterval time.Duration
	// ServiceTimeout bounds the relayer readiness probe.
	ServiceTimeout time.Duration
}

// Flash is a one-shot message shown on the next render.
type Flash struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Page holds the state of the page between requests.
type Page struct {
	cfg   Config
	vault *lockedworlds.Client
	log   *log.Logger

	mu         sync.Mutex
	account    *common.Address
	attributes map[uint8]uint64
	rewards    map[uint8]uint64
	balance    *uint64
	inflight   map[string]bool
	flashes    []Flash
	keyInfo    *relayer.KeyInfo
}

// NewPage creates a page for the contract in cfg.
func NewPage(cfg Config) *Page {
	if cfg.ServiceTimeout == 0 {
		cfg.ServiceTimeout = 2 * time.Second
	}
	vault := lockedworlds.NewClient(cfg.Contract, cfg.Backend)
	if cfg.PollInterval > 0 {
		vault.PollInterval = cfg.PollInterval
	}
	return &Page{
		cfg:        cfg,
		vault:      vault,
		log:        log.Module("web"),
		attributes: make(map[uint8]uint64),
		rewards:    make(map[uint8]uint64),
		inflight:   make(map[string]bool),
	}
}

// ---- Account ----

// Connect switches the page to addr, dropping decrypted values when the
// account changes.
func (p *Page) Connect(addr common.Address) error {
	if _, err := p.cfg.Keyring.Find(addr); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.account == nil || *p.account != addr {
		p.resetDecrypted()
	}
	p.account = &addr
	p.log.Info("Account connected", "account", addr)
	return nil
}

// Disconnect forgets the connected account.
func (p *Page) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.account = nil
	p.resetDecrypted()
}

// Account returns the connected account.
func (p *Page) Account() (common.Address, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.account == nil {
		return common.Address{}, false
	}
	return *p.account, true
}

// resetDecrypted drops every decrypted value. Caller must hold p.mu.
func (p *Page) resetDecrypted() {
	p.attributes = make(map[uint8]uint64)
	p.rewards = make(map[uint8]uint64)
	p.balance = nil
}

// ---- Flash messages ----

func (p *Page) flash(kind, format string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flashes = append(p.flashes, Flash{Kind: kind, Message: fmt.Sprintf(format, args...)})
}

func (p *Page) takeFlashes() []Flash {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.flashes
	p.flashes = nil
	return out
}

// ---- Chain reads ----

type chainState struct {
	hasClaimed bool
	keys       [lockedworlds.KeyCount]lockedworlds.KeySlot
	balance    common.Hash
}

// refresh reads the claim status, keys and balance of acct. A false claim
// status drops the decrypted values of the still-connected account.
func (p *Page) refresh(ctx context.Context, acct common.Address) (*chainState, error) {
	st := new(chainState)
	var err error
	if st.hasClaimed, err = p.vault.HasClaimed(ctx, acct); err != nil {
		return nil, err
	}
	if st.keys, err = p.vault.GetPlayerKeys(ctx, acct); err != nil {
		return nil, err
	}
	if st.balance, err = p.vault.GetCoinBalance(ctx, acct); err != nil {
		return nil, err
	}
	if !st.hasClaimed {
		p.mu.Lock()
		if p.account != nil && *p.account == acct {
			p.resetDecrypted()
		}
		p.mu.Unlock()
	}
	return st, nil
}

// serviceInfo returns the relayer's key info, probing the relayer until
// it first answers.
func (p *Page) serviceInfo(ctx context.Context) (*relayer.KeyInfo, error) {
	p.mu.Lock()
	info := p.keyInfo
	p.mu.Unlock()
	if info != nil {
		return info, nil
	}
	if p.cfg.Relayer == nil {
		return nil, relayer.ErrServiceNotReady
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ServiceTimeout)
	defer cancel()
	info, err := p.cfg.Relayer.KeyInfo(ctx)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.keyInfo = info
	p.mu.Unlock()
	return info, nil
}

// ---- View ----

// KeyView is one rendered key card.
type KeyView struct {
	Index               int    `json:"index"`
	Number              int    `json:"number"`
	Status              string `json:"status"`
	Used                bool   `json:"used"`
	Initialized         bool   `json:"initialized"`
	AttributeLabel      string `json:"attributeLabel"`
	RewardLabel         string `json:"rewardLabel"`
	AttributeDisabled   bool   `json:"attributeDisabled"`
	RewardDisabled      bool   `json:"rewardDisabled"`
	UseDisabled         bool   `json:"useDisabled"`
	DecryptingAttribute bool   `json:"decryptingAttribute"`
	DecryptingReward    bool   `json:"decryptingReward"`
	Using               bool   `json:"using"`
	UseLabel            string `json:"useLabel"`
}

// View is the rendered page state.
type View struct {
	Connected         bool      `json:"connected"`
	Account           string    `json:"account,omitempty"`
	Accounts          []string  `json:"accounts"`
	Contract          string    `json:"contract"`
	ServiceReady      bool      `json:"serviceReady"`
	ServiceError      string    `json:"serviceError,omitempty"`
	HasClaimed        bool      `json:"hasClaimed"`
	Claiming          bool      `json:"claiming"`
	ClaimStatus       string    `json:"claimStatus"`
	ClaimLabel        string    `json:"claimLabel"`
	ClaimDisabled     bool      `json:"claimDisabled"`
	Keys              []KeyView `json:"keys"`
	Balance           string    `json:"balanceHandle,omitempty"`
	BalanceLabel      string    `json:"balanceLabel"`
	DecryptingBalance bool      `json:"decryptingBalance"`
	BalanceDisabled   bool      `json:"balanceDisabled"`
	Flashes           []Flash   `json:"flashes,omitempty"`
}

func inflightKey(control string, index uint8) string {
	return control + ":" + strconv.Itoa(int(index))
}

// Control names.
const (
	controlClaim     = "claim"
	controlUse       = "use"
	controlAttribute = "attribute"
	controlReward    = "reward"
	controlBalance   = "balance"
)

func claimDisabled(claiming, claimed, ready bool) bool {
	return claiming || claimed || !ready
}

func decryptDisabled(claimed, initialized, decrypting, claiming, ready bool) bool {
	return !claimed || !initialized || decrypting || claiming || !ready
}

func useDisabled(claimed bool, slot lockedworlds.KeySlot, using, claiming, ready bool) bool {
	return !claimed || !slot.Initialized || slot.Used || using || claiming || !ready
}

func balanceDisabled(claimed, decrypting, ready bool) bool {
	return !claimed || decrypting || !ready
}

// View builds the page state for the connected account.
func (p *Page) View(ctx context.Context) (*View, error) {
	v := &View{Contract: p.cfg.Contract.Hex()}
	for _, a := range p.cfg.Keyring.Accounts() {
		v.Accounts = append(v.Accounts, a.Hex())
	}
	acct, ok := p.Account()
	if !ok {
		return v, nil
	}
	v.Connected = true
	v.Account = acct.Hex()

	if _, err := p.serviceInfo(ctx); err != nil {
		v.ServiceError = err.Error()
	} else {
		v.ServiceReady = true
	}
	st, err := p.refresh(ctx, acct)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	v.HasClaimed = st.hasClaimed
	v.Claiming = p.inflight[controlClaim]
	v.ClaimDisabled = claimDisabled(v.Claiming, st.hasClaimed, v.ServiceReady)
	switch {
	case st.hasClaimed:
		v.ClaimStatus = "Keys claimed"
	default:
		v.ClaimStatus = "Available"
	}
	switch {
	case v.Claiming:
		v.ClaimLabel = "Claiming..."
	case st.hasClaimed:
		v.ClaimLabel = "Keys already claimed"
	default:
		v.ClaimLabel = "Claim encrypted keys"
	}

	for i, slot := range st.keys {
		idx := uint8(i)
		kv := KeyView{
			Index:               i,
			Number:              i + 1,
			Used:                slot.Used,
			Initialized:         slot.Initialized,
			DecryptingAttribute: p.inflight[inflightKey(controlAttribute, idx)],
			DecryptingReward:    p.inflight[inflightKey(controlReward, idx)],
			Using:               p.inflight[inflightKey(controlUse, idx)],
			AttributeLabel:      "Encrypted",
			RewardLabel:         "Encrypted",
		}
		switch {
		case slot.Used:
			kv.Status = "Used"
		case slot.Initialized:
			kv.Status = "Ready"
		default:
			kv.Status = "Unclaimed"
		}
		if a, ok := p.attributes[idx]; ok {
			kv.AttributeLabel = attributeLabel(a)
		}
		if r, ok := p.rewards[idx]; ok {
			kv.RewardLabel = fmt.Sprintf("%d coins", r)
		}
		kv.AttributeDisabled = decryptDisabled(st.hasClaimed, slot.Initialized, kv.DecryptingAttribute, v.Claiming, v.ServiceReady)
		kv.RewardDisabled = decryptDisabled(st.hasClaimed, slot.Initialized, kv.DecryptingReward, v.Claiming, v.ServiceReady)
		kv.UseDisabled = useDisabled(st.hasClaimed, slot, kv.Using, v.Claiming, v.ServiceReady)
		switch {
		case kv.Using:
			kv.UseLabel = "Unlocking..."
		case slot.Used:
			kv.UseLabel = "Already used"
		default:
			kv.UseLabel = "Use key"
		}
		v.Keys = append(v.Keys, kv)
	}

	if st.hasClaimed {
		v.Balance = st.balance.Hex()
	}
	v.DecryptingBalance = p.inflight[controlBalance]
	v.BalanceDisabled = balanceDisabled(st.hasClaimed, v.DecryptingBalance, v.ServiceReady)
	v.BalanceLabel = "Encrypted"
	if p.balance != nil {
		v.BalanceLabel = fmt.Sprintf("%d coins", *p.balance)
	}
	return v, nil
}

func attributeLabel(v uint64) string {
	if name := lockedworlds.AttributeName(v); name != "Unknown" {
		return name
	}
	return fmt.Sprintf("Attribute %d", v)
}

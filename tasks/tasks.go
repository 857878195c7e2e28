// Package tasks implements the LockedWorlds command-line tasks: printing
// the deployed address, claiming keys, using a key and decrypting key and
// balance values through the relayer.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/lockedworlds/lockedworlds/deploy"
	"github.com/lockedworlds/lockedworlds/lockedworlds"
	"github.com/lockedworlds/lockedworlds/relayer"
	"github.com/lockedworlds/lockedworlds/wallet"
)

var (
	// ErrInvalidIndex is returned for a key index outside [0,2].
	ErrInvalidIndex = errors.New("--index must be 0, 1 or 2")
	// ErrInvalidAddress is returned for a malformed --address or --player.
	ErrInvalidAddress = errors.New("invalid address")
	// ErrNoRelayer is returned by decrypting tasks when no relayer is set.
	ErrNoRelayer = errors.New("no relayer configured")
)

// ParseIndex parses a --index value. It accepts only the integers 0, 1
// and 2.
func ParseIndex(s string) (uint8, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 || n >= lockedworlds.KeyCount {
		return 0, fmt.Errorf("%w (got %q)", ErrInvalidIndex, s)
	}
	return uint8(n), nil
}

// Backend is the chain access the tasks need.
type Backend interface {
	deploy.Backend
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Env is what every task runs against.
type Env struct {
	Out     io.Writer
	Backend Backend
	Keyring *wallet.Keyring
	// Store holds the deployment records of the selected network.
	Store *deploy.Store
	// Relayer serves user decryptions; only the decrypting tasks need it.
	Relayer *relayer.Client
	// PollInterval overrides how often receipts are polled.
	PollInterval time.Duration
}

// Target selects the contract and the player a task acts on. Empty
// fields fall back to the recorded deployment and the first account.
type Target struct {
	Address string
	Player  string
}

func (e *Env) printf(format string, args ...interface{}) {
	fmt.Fprintf(e.Out, format+"\n", args...)
}

func parseAddress(flag, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w for --%s: %q", ErrInvalidAddress, flag, s)
	}
	return common.HexToAddress(s), nil
}

// contract resolves the contract address of t.
func (e *Env) contract(t Target) (common.Address, error) {
	if t.Address != "" {
		return parseAddress("address", t.Address)
	}
	rec, err := e.Store.Load(deploy.Tag)
	if err != nil {
		return common.Address{}, err
	}
	return rec.Address, nil
}

// FindSigner returns the signer of player, or the first account for "".
func (e *Env) FindSigner(player string) (wallet.Signer, error) {
	if player == "" {
		return e.Keyring.Default()
	}
	addr, err := parseAddress("player", player)
	if err != nil {
		return nil, err
	}
	return e.Keyring.Find(addr)
}

func (e *Env) resolve(t Target) (*lockedworlds.Client, wallet.Signer, error) {
	addr, err := e.contract(t)
	if err != nil {
		return nil, nil, err
	}
	signer, err := e.FindSigner(t.Player)
	if err != nil {
		return nil, nil, err
	}
	client := lockedworlds.NewClient(addr, e.Backend)
	if e.PollInterval > 0 {
		client.PollInterval = e.PollInterval
	}
	return client, signer, nil
}

// decryptor initialises the relayer handshake for contract.
func (e *Env) decryptor(ctx context.Context, contract common.Address, signer wallet.Signer) (*relayer.Decryptor, error) {
	if e.Relayer == nil {
		return nil, ErrNoRelayer
	}
	info, err := e.Relayer.KeyInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise relayer: %w", err)
	}
	return relayer.NewDecryptor(e.Relayer, signer, contract, info)
}

// Address prints the recorded LockedWorlds address.
func (e *Env) Address(ctx context.Context) error {
	rec, err := e.Store.Load(deploy.Tag)
	if err != nil {
		return err
	}
	e.printf("%s address is %s", lockedworlds.Name, rec.Address.Hex())
	return nil
}

// Claim calls claimKeys for the player.
func (e *Env) Claim(ctx context.Context, t Target) error {
	client, signer, err := e.resolve(t)
	if err != nil {
		return err
	}
	tx, err := client.ClaimKeys(ctx, signer)
	if err != nil {
		return err
	}
	e.printf("claimKeys tx: %s", tx.Hash().Hex())
	receipt, err := client.WaitMined(ctx, tx)
	if receipt != nil {
		e.printf("claimKeys status: %d", receipt.Status)
	}
	return err
}

// UseKey consumes key index and prints the decrypted reward and the
// updated balance. The index is checked before anything is sent.
func (e *Env) UseKey(ctx context.Context, t Target, index string) error {
	i, err := ParseIndex(index)
	if err != nil {
		return err
	}
	client, signer, err := e.resolve(t)
	if err != nil {
		return err
	}
	dec, err := e.decryptor(ctx, client.Address(), signer)
	if err != nil {
		return err
	}
	tx, err := client.UseKey(ctx, signer, i)
	if err != nil {
		return err
	}
	e.printf("useKey tx: %s", tx.Hash().Hex())
	if _, err := client.WaitMined(ctx, tx); err != nil {
		return err
	}

	player := signer.Address()
	key, err := client.GetKey(ctx, player, i)
	if err != nil {
		return err
	}
	balance, err := client.GetCoinBalance(ctx, player)
	if err != nil {
		return err
	}
	values, err := dec.Decrypt(ctx, key.Reward, balance)
	if err != nil {
		return err
	}
	e.printf("Key %d reward (decrypted): %s", i, values[key.Reward])
	e.printf("Updated balance (decrypted): %s", values[balance])
	return nil
}

// Key decrypts and prints the attribute and reward of key index.
func (e *Env) Key(ctx context.Context, t Target, index string) error {
	i, err := ParseIndex(index)
	if err != nil {
		return err
	}
	client, signer, err := e.resolve(t)
	if err != nil {
		return err
	}
	key, err := client.GetKey(ctx, signer.Address(), i)
	if err != nil {
		return err
	}
	dec, err := e.decryptor(ctx, client.Address(), signer)
	if err != nil {
		return err
	}
	values, err := dec.Decrypt(ctx, key.Attribute, key.Reward)
	if err != nil {
		return err
	}
	attr := values[key.Attribute]
	e.printf("Key %d attribute (decrypted): %s (%s)", i, attr, lockedworlds.AttributeName(attr.Uint64()))
	e.printf("Key %d reward (decrypted):    %s", i, values[key.Reward])
	e.printf("Key %d used: %t", i, key.Used)
	return nil
}

// Balance prints the encrypted balance handle and its decrypted value.
func (e *Env) Balance(ctx context.Context, t Target) error {
	client, signer, err := e.resolve(t)
	if err != nil {
		return err
	}
	balance, err := client.GetCoinBalance(ctx, signer.Address())
	if err != nil {
		return err
	}
	dec, err := e.decryptor(ctx, client.Address(), signer)
	if err != nil {
		return err
	}
	value, err := dec.DecryptOne(ctx, balance)
	if err != nil {
		return err
	}
	e.printf("Encrypted balance: %s", balance.Hex())
	e.printf("Decrypted balance: %s", value)
	return nil
}

// Accounts lists the available signers with their chain balances.
func (e *Env) Accounts(ctx context.Context) error {
	for i, addr := range e.Keyring.Accounts() {
		bal, err := e.Backend.BalanceAt(ctx, addr, nil)
		if err != nil {
			return err
		}
		e.printf("%d: %s (%s wei)", i, addr.Hex(), bal)
	}
	return nil
}

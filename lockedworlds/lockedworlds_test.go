package lockedworlds

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"pgregory.net/rapid"

	"github.com/lockedworlds/lockedworlds/core"
	"github.com/lockedworlds/lockedworlds/fhe"
	"github.com/lockedworlds/lockedworlds/rpc"
	"github.com/lockedworlds/lockedworlds/wallet"
)

type testEnv struct {
	chain   *core.Chain
	backend *ethclient.Client
	kms     *fhe.KMS
	client  *Client
	players []*wallet.KeySigner
}

type fataler interface {
	Helper()
	Fatalf(format string, args ...any)
}

func newTestEnv(t fataler) *testEnv {
	t.Helper()
	return newTestEnvWith(t, fhe.NewMock())
}

func newTestEnvWith(t fataler, backend fhe.Backend) *testEnv {
	t.Helper()
	players := wallet.DevAccounts(3)
	cfg := core.DefaultConfig()
	for _, p := range players {
		cfg.Alloc[p.Address()] = big.NewInt(1e18)
	}
	cop, err := fhe.New(backend, []byte("lockedworlds-test"))
	if err != nil {
		t.Fatalf("fhe.New: %v", err)
	}
	chain, err := core.NewChain(cfg, memorydb.New(), cop)
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	Register(chain)
	srv, err := rpc.NewServer(chain, nil)
	if err != nil {
		t.Fatalf("rpc.NewServer: %v", err)
	}
	eth := ethclient.NewClient(srv.DialInProc())

	addr, _, err := Deploy(context.Background(), eth, players[0])
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	client := NewClient(addr, eth)
	client.PollInterval = time.Millisecond
	return &testEnv{
		chain:   chain,
		backend: eth,
		kms:     fhe.NewKMS(cop, chain.StateReader()),
		client:  client,
		players: players,
	}
}

func (e *testEnv) decrypt(t fataler, h common.Hash) uint64 {
	t.Helper()
	v, err := e.kms.Decrypt(h)
	if err != nil {
		t.Fatalf("Decrypt(%s): %v", h, err)
	}
	return v.Uint64()
}

func (e *testEnv) claim(t fataler, p *wallet.KeySigner) *types.Receipt {
	t.Helper()
	ctx := context.Background()
	tx, err := e.client.ClaimKeys(ctx, p)
	if err != nil {
		t.Fatalf("ClaimKeys: %v", err)
	}
	receipt, err := e.client.WaitMined(ctx, tx)
	if err != nil {
		t.Fatalf("WaitMined: %v", err)
	}
	return receipt
}

func (e *testEnv) use(t fataler, p *wallet.KeySigner, index uint8) *types.Receipt {
	t.Helper()
	ctx := context.Background()
	tx, err := e.client.UseKey(ctx, p, index)
	if err != nil {
		t.Fatalf("UseKey(%d): %v", index, err)
	}
	receipt, err := e.client.WaitMined(ctx, tx)
	if err != nil {
		t.Fatalf("WaitMined: %v", err)
	}
	return receipt
}

// ----------------------------------------------------------------------------
// Claiming
// ----------------------------------------------------------------------------

func TestBeforeClaim(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	player := env.players[1].Address()

	claimed, err := env.client.HasClaimed(ctx, player)
	if err != nil || claimed {
		t.Fatalf("HasClaimed = %v, %v, want false", claimed, err)
	}
	bal, err := env.client.GetCoinBalance(ctx, player)
	if err != nil || bal != (common.Hash{}) {
		t.Fatalf("GetCoinBalance = %s, %v, want zero handle", bal, err)
	}
	keys, err := env.client.GetPlayerKeys(ctx, player)
	if err != nil {
		t.Fatalf("GetPlayerKeys: %v", err)
	}
	for i, k := range keys {
		if k != (KeySlot{}) {
			t.Fatalf("slot %d = %+v, want empty", i, k)
		}
	}
	n, err := env.client.KeyCount(ctx)
	if err != nil || n != KeyCount {
		t.Fatalf("KeyCount = %d, %v, want %d", n, err, KeyCount)
	}
}

func TestClaimKeys(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.players[1]

	receipt := env.claim(t, p)
	ev, err := env.client.ParseKeysClaimed(receipt.Logs)
	if err != nil || ev.Player != p.Address() {
		t.Fatalf("KeysClaimed = %+v, %v", ev, err)
	}
	claimed, _ := env.client.HasClaimed(ctx, p.Address())
	if !claimed {
		t.Fatal("HasClaimed = false after claim")
	}

	keys, err := env.client.GetPlayerKeys(ctx, p.Address())
	if err != nil {
		t.Fatalf("GetPlayerKeys: %v", err)
	}
	for i, k := range keys {
		if !k.Initialized || k.Used {
			t.Fatalf("slot %d = %+v, want initialized and unused", i, k)
		}
		if fhe.TypeOf(k.Attribute) != fhe.Uint8 || fhe.TypeOf(k.Reward) != fhe.Uint16 {
			t.Fatalf("slot %d handle types = %s, %s", i, fhe.TypeOf(k.Attribute), fhe.TypeOf(k.Reward))
		}
		if a := env.decrypt(t, k.Attribute); a < minAttribute || a > maxAttribute {
			t.Fatalf("slot %d attribute = %d, want [1,3]", i, a)
		}
		if r := env.decrypt(t, k.Reward); r < minReward || r > maxReward {
			t.Fatalf("slot %d reward = %d, want [100,1000]", i, r)
		}
		single, err := env.client.GetKey(ctx, p.Address(), uint8(i))
		if err != nil || single != k {
			t.Fatalf("GetKey(%d) = %+v, %v, want %+v", i, single, err, k)
		}
		for _, h := range []common.Hash{k.Attribute, k.Reward} {
			if ok, _ := env.kms.IsAllowed(h, p.Address()); !ok {
				t.Fatalf("player not granted %s", h)
			}
			if ok, _ := env.kms.IsAllowed(h, env.client.Address()); !ok {
				t.Fatalf("contract not granted %s", h)
			}
			if ok, _ := env.kms.IsAllowed(h, env.players[2].Address()); ok {
				t.Fatalf("unrelated account granted %s", h)
			}
		}
	}

	bal, _ := env.client.GetCoinBalance(ctx, p.Address())
	if fhe.TypeOf(bal) != fhe.Uint32 {
		t.Fatalf("balance type = %s, want euint32", fhe.TypeOf(bal))
	}
	if v := env.decrypt(t, bal); v != 0 {
		t.Fatalf("balance = %d, want 0", v)
	}
}

func TestClaimTwiceFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.players[1]
	env.claim(t, p)
	before, _ := env.client.GetPlayerKeys(ctx, p.Address())

	_, err := env.client.ClaimKeys(ctx, p)
	if !errors.Is(err, ErrKeysAlreadyClaimed) {
		t.Fatalf("second claim err = %v, want %v", err, ErrKeysAlreadyClaimed)
	}
	if !errors.Is(err, core.ErrExecutionReverted) {
		t.Fatalf("err = %v does not match ErrExecutionReverted", err)
	}

	// Forced on chain without simulation, the claim is mined as failed
	// and leaves the slots untouched.
	nonce, _ := env.backend.PendingNonceAt(ctx, p.Address())
	data, _ := ABI().Pack("claimKeys")
	addr := env.client.Address()
	tx, _ := p.SignTx(types.NewTx(&types.LegacyTx{Nonce: nonce, Gas: 500_000, GasPrice: big.NewInt(1), To: &addr, Data: data}), env.chain.ChainID())
	if err := env.backend.SendTransaction(ctx, tx); err != nil {
		t.Fatalf("SendTransaction: %v", err)
	}
	receipt, err := WaitMined(ctx, env.backend, tx.Hash(), time.Millisecond)
	if !errors.Is(err, ErrTxFailed) || receipt.Status != types.ReceiptStatusFailed {
		t.Fatalf("forced claim = %v, %v, want failed receipt", receipt, err)
	}
	after, _ := env.client.GetPlayerKeys(ctx, p.Address())
	if before != after {
		t.Fatal("failed claim changed the key slots")
	}
}

// ----------------------------------------------------------------------------
// Using keys
// ----------------------------------------------------------------------------

func TestUseKeyErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.players[1]

	if _, err := env.client.UseKey(ctx, p, 0); !errors.Is(err, ErrKeysNotClaimed) {
		t.Fatalf("unclaimed useKey err = %v, want %v", err, ErrKeysNotClaimed)
	}
	env.claim(t, p)
	if _, err := env.client.UseKey(ctx, p, KeyCount); !errors.Is(err, ErrInvalidKeyIndex) {
		t.Fatalf("useKey(3) err = %v, want %v", err, ErrInvalidKeyIndex)
	}
	if _, err := env.client.GetKey(ctx, p.Address(), 200); !errors.Is(err, ErrInvalidKeyIndex) {
		t.Fatalf("getKey(200) err = %v, want %v", err, ErrInvalidKeyIndex)
	}
}

func TestUseKeyScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.players[0]
	env.claim(t, p)

	slot, _ := env.client.GetKey(ctx, p.Address(), 0)
	reward := env.decrypt(t, slot.Reward)

	receipt := env.use(t, p, 0)
	ev, err := env.client.ParseKeyUsed(receipt.Logs)
	if err != nil {
		t.Fatalf("ParseKeyUsed: %v", err)
	}
	if ev.Player != p.Address() || ev.KeyIndex != 0 || ev.Reward != slot.Reward {
		t.Fatalf("KeyUsed = %+v", ev)
	}
	bal, _ := env.client.GetCoinBalance(ctx, p.Address())
	if bal != ev.NewBalance {
		t.Fatalf("event balance %s != stored balance %s", ev.NewBalance, bal)
	}
	if got := env.decrypt(t, bal); got != reward {
		t.Fatalf("balance = %d, want %d", got, reward)
	}
	if ok, _ := env.kms.IsAllowed(bal, p.Address()); !ok {
		t.Fatal("player not granted new balance")
	}

	slot, _ = env.client.GetKey(ctx, p.Address(), 0)
	if !slot.Used {
		t.Fatal("slot 0 not marked used")
	}
	if _, err := env.client.UseKey(ctx, p, 0); !errors.Is(err, ErrKeyAlreadyUsed) {
		t.Fatalf("reuse err = %v, want %v", err, ErrKeyAlreadyUsed)
	}
	if got := env.decrypt(t, bal); got != reward {
		t.Fatalf("balance after failed reuse = %d, want %d", got, reward)
	}
}

func TestPlayersAreIsolated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a, b := env.players[1], env.players[2]
	env.claim(t, a)
	env.claim(t, b)
	env.use(t, a, 2)

	kb, _ := env.client.GetPlayerKeys(ctx, b.Address())
	for i, k := range kb {
		if k.Used {
			t.Fatalf("player b slot %d used by player a", i)
		}
	}
	ka, _ := env.client.GetPlayerKeys(ctx, a.Address())
	if ka[0].Reward == kb[0].Reward {
		t.Fatal("players share a reward handle")
	}
	if ok, _ := env.kms.IsAllowed(ka[0].Reward, b.Address()); ok {
		t.Fatal("player b granted player a's reward")
	}
	balB, _ := env.client.GetCoinBalance(ctx, b.Address())
	if v := env.decrypt(t, balB); v != 0 {
		t.Fatalf("player b balance = %d, want 0", v)
	}
}

func TestBalanceIsSumOfUsedRewards(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		env := newTestEnv(rt)
		ctx := context.Background()
		p := env.players[1]
		env.claim(rt, p)

		order := rapid.Permutation([]uint8{0, 1, 2}).Draw(rt, "order")
		n := rapid.IntRange(0, KeyCount).Draw(rt, "used")

		keys, _ := env.client.GetPlayerKeys(ctx, p.Address())
		var want uint64
		for _, idx := range order[:n] {
			env.use(rt, p, idx)
			want += env.decrypt(rt, keys[idx].Reward)
		}
		bal, _ := env.client.GetCoinBalance(ctx, p.Address())
		if got := env.decrypt(rt, bal); got != want {
			rt.Fatalf("balance after using %v = %d, want %d", order[:n], got, want)
		}
	})
}

func TestConcurrentUseKeySameAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, p := range env.players {
		env.claim(t, p)
	}

	var wg sync.WaitGroup
	errc := make(chan error, len(env.players)*KeyCount)
	for _, p := range env.players {
		for i := uint8(0); i < KeyCount; i++ {
			wg.Add(1)
			go func(p *wallet.KeySigner, idx uint8) {
				defer wg.Done()
				tx, err := env.client.UseKey(ctx, p, idx)
				if err == nil {
					_, err = env.client.WaitMined(ctx, tx)
				}
				if err != nil {
					errc <- fmt.Errorf("%s slot %d: %w", p.Address().Hex(), idx, err)
				}
			}(p, i)
		}
	}
	wg.Wait()
	close(errc)
	for err := range errc {
		t.Errorf("UseKey: %v", err)
	}

	for _, p := range env.players {
		keys, _ := env.client.GetPlayerKeys(ctx, p.Address())
		var want uint64
		for i, k := range keys {
			if !k.Used {
				t.Fatalf("%s slot %d not used", p.Address().Hex(), i)
			}
			want += env.decrypt(t, k.Reward)
		}
		bal, _ := env.client.GetCoinBalance(ctx, p.Address())
		if got := env.decrypt(t, bal); got != want {
			t.Fatalf("%s balance = %d, want %d", p.Address().Hex(), got, want)
		}
	}
}

func TestBGVBalance(t *testing.T) {
	if testing.Short() {
		t.Skip("bgv key generation is slow")
	}
	b, err := fhe.NewBGV()
	if err != nil {
		t.Fatalf("NewBGV: %v", err)
	}
	env := newTestEnvWith(t, b)
	ctx := context.Background()
	p := env.players[0]
	env.claim(t, p)

	bal, _ := env.client.GetCoinBalance(ctx, p.Address())
	if got := env.decrypt(t, bal); got != 0 {
		t.Fatalf("balance after claim = %d, want 0", got)
	}
	keys, _ := env.client.GetPlayerKeys(ctx, p.Address())
	var want uint64
	for _, idx := range []uint8{0, 2} {
		k := keys[idx]
		if attr := env.decrypt(t, k.Attribute); attr < 1 || attr > 3 {
			t.Fatalf("slot %d attribute = %d, want 1..3", idx, attr)
		}
		reward := env.decrypt(t, k.Reward)
		if reward < 100 || reward > 1000 {
			t.Fatalf("slot %d reward = %d, want 100..1000", idx, reward)
		}
		env.use(t, p, idx)
		want += reward

		bal, _ = env.client.GetCoinBalance(ctx, p.Address())
		if got := env.decrypt(t, bal); got != want {
			t.Fatalf("balance after using slot %d = %d, want %d", idx, got, want)
		}
	}
}

// ----------------------------------------------------------------------------
// Errors
// ----------------------------------------------------------------------------

func TestErrorName(t *testing.T) {
	for _, name := range []string{"KeysAlreadyClaimed", "KeyAlreadyUsed", "InvalidKeyIndex", "KeysNotClaimed", "KeyNotInitialized"} {
		got, ok := ErrorName(selector(name))
		if !ok || got != name {
			t.Fatalf("ErrorName(selector(%s)) = %q, %v", name, got, ok)
		}
	}
	if _, ok := ErrorName([]byte{1, 2, 3, 4}); ok {
		t.Fatal("unknown selector decoded")
	}
	if _, ok := ErrorName(nil); ok {
		t.Fatal("empty data decoded")
	}
}

func TestDecodeRevert(t *testing.T) {
	err := DecodeRevert(core.Revert(selector("KeyAlreadyUsed")))
	if !errors.Is(err, ErrKeyAlreadyUsed) || errors.Is(err, ErrKeysNotClaimed) {
		t.Fatalf("DecodeRevert = %v", err)
	}
	if got := err.Error(); got != "execution reverted: KeyAlreadyUsed" {
		t.Fatalf("message = %q", got)
	}

	plain := errors.New("connection refused")
	if DecodeRevert(plain) != plain {
		t.Fatal("non-revert error was rewritten")
	}
	if DecodeRevert(nil) != nil {
		t.Fatal("nil error was rewritten")
	}

	var rev *RevertError
	if !errors.As(DecodeRevert(core.Revert([]byte{9, 9, 9, 9})), &rev) || rev.Name != "" {
		t.Fatalf("unknown revert = %+v", rev)
	}
}

func TestAttributeName(t *testing.T) {
	for v, want := range map[uint64]string{1: "Gold", 2: "Silver", 3: "Diamond", 0: "Unknown", 4: "Unknown"} {
		if got := AttributeName(v); got != want {
			t.Fatalf("AttributeName(%d) = %q, want %q", v, got, want)
		}
	}
}

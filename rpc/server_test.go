package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/lockedworlds/lockedworlds/core"
	"github.com/lockedworlds/lockedworlds/wallet"
)

var (
	revertingContract = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	revertData        = []byte{0xde, 0xad, 0xbe, 0xef}
)

// fakeBackend serves fixed chain data and records submitted transactions.
type fakeBackend struct {
	mu  sync.Mutex
	txs map[common.Hash]*types.Transaction
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{txs: make(map[common.Hash]*types.Transaction)}
}

func (b *fakeBackend) ChainID() *big.Int   { return big.NewInt(31337) }
func (b *fakeBackend) BlockNumber() uint64 { return 7 }
func (b *fakeBackend) GasPrice() *big.Int  { return big.NewInt(1_000_000_000) }

func (b *fakeBackend) Nonce(addr common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return uint64(len(b.txs)), nil
}

func (b *fakeBackend) Balance(addr common.Address) (*big.Int, error) {
	return big.NewInt(5_000), nil
}

func (b *fakeBackend) Code(addr common.Address) ([]byte, error) {
	if addr == revertingContract {
		return []byte{0x60, 0x00}, nil
	}
	return nil, nil
}

func (b *fakeBackend) SendTransaction(tx *types.Transaction) (common.Hash, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if tx.Nonce() != uint64(len(b.txs)) {
		return common.Hash{}, core.ErrNonceTooLow
	}
	b.txs[tx.Hash()] = tx
	return tx.Hash(), nil
}

func (b *fakeBackend) Transaction(hash common.Hash) (*types.Transaction, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.txs[hash], nil
}

func (b *fakeBackend) Receipt(hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.txs[hash]; !ok {
		return nil, nil
	}
	return &types.Receipt{
		Type:              types.LegacyTxType,
		Status:            types.ReceiptStatusSuccessful,
		CumulativeGasUsed: 21_000,
		GasUsed:           21_000,
		TxHash:            hash,
		BlockNumber:       big.NewInt(7),
		Logs:              []*types.Log{},
	}, nil
}

func (b *fakeBackend) Call(call ethereum.CallMsg) ([]byte, error) {
	if call.To != nil && *call.To == revertingContract {
		return nil, core.Revert(revertData)
	}
	return append([]byte{0x01}, call.Data...), nil
}

func (b *fakeBackend) EstimateGas(call ethereum.CallMsg) (uint64, error) {
	if call.To != nil && *call.To == revertingContract {
		return 0, core.Revert(revertData)
	}
	return 21_000, nil
}

func newTestClient(t *testing.T, backend Backend) *ethclient.Client {
	t.Helper()
	srv, err := NewServer(backend, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(srv.Stop)
	client := ethclient.NewClient(srv.DialInProc())
	t.Cleanup(client.Close)
	return client
}

func TestChainQueries(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, newFakeBackend())

	id, err := client.ChainID(ctx)
	if err != nil || id.Int64() != 31337 {
		t.Fatalf("ChainID = %v, %v, want 31337", id, err)
	}
	num, err := client.BlockNumber(ctx)
	if err != nil || num != 7 {
		t.Fatalf("BlockNumber = %d, %v, want 7", num, err)
	}
	price, err := client.SuggestGasPrice(ctx)
	if err != nil || price.Int64() != 1_000_000_000 {
		t.Fatalf("SuggestGasPrice = %v, %v", price, err)
	}
	bal, err := client.BalanceAt(ctx, common.Address{1}, nil)
	if err != nil || bal.Int64() != 5_000 {
		t.Fatalf("BalanceAt = %v, %v, want 5000", bal, err)
	}
	code, err := client.CodeAt(ctx, revertingContract, nil)
	if err != nil || len(code) == 0 {
		t.Fatalf("CodeAt = %x, %v, want code", code, err)
	}
	netID, err := client.NetworkID(ctx)
	if err != nil || netID.Int64() != 31337 {
		t.Fatalf("NetworkID = %v, %v, want 31337", netID, err)
	}
}

func TestCallReturnsRevertData(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, newFakeBackend())

	to := common.Address{2}
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: []byte{0xaa}}, nil)
	if err != nil {
		t.Fatalf("CallContract: %v", err)
	}
	if want := []byte{0x01, 0xaa}; string(out) != string(want) {
		t.Fatalf("CallContract = %x, want %x", out, want)
	}

	_, err = client.CallContract(ctx, ethereum.CallMsg{To: &revertingContract}, nil)
	if err == nil {
		t.Fatal("expected revert")
	}
	var dataErr gethrpc.DataError
	if !errors.As(err, &dataErr) {
		t.Fatalf("error %v carries no data", err)
	}
	if got := dataErr.ErrorData(); got != "0xdeadbeef" {
		t.Fatalf("revert data = %v, want 0xdeadbeef", got)
	}
	var rpcErr gethrpc.Error
	if !errors.As(err, &rpcErr) || rpcErr.ErrorCode() != 3 {
		t.Fatalf("error code of %v, want 3", err)
	}

	if _, err := client.EstimateGas(ctx, ethereum.CallMsg{To: &revertingContract}); err == nil {
		t.Fatal("expected EstimateGas to revert")
	}
}

func TestSendTransactionAndReceipt(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	client := newTestClient(t, backend)
	signer := wallet.DevAccounts(1)[0]

	to := common.Address{3}
	tx, err := signer.SignTx(types.NewTransaction(0, to, big.NewInt(1), 21_000, big.NewInt(1_000_000_000), nil), backend.ChainID())
	if err != nil {
		t.Fatalf("SignTx: %v", err)
	}
	if err := client.SendTransaction(ctx, tx); err != nil {
		t.Fatalf("SendTransaction: %v", err)
	}
	rec, err := client.TransactionReceipt(ctx, tx.Hash())
	if err != nil {
		t.Fatalf("TransactionReceipt: %v", err)
	}
	if rec.Status != types.ReceiptStatusSuccessful || rec.TxHash != tx.Hash() {
		t.Fatalf("receipt = %+v", rec)
	}

	if err := client.SendTransaction(ctx, tx); err == nil || !strings.Contains(err.Error(), core.ErrNonceTooLow.Error()) {
		t.Fatalf("replay error = %v, want %v", err, core.ErrNonceTooLow)
	}
	if _, err := client.TransactionReceipt(ctx, common.Hash{9}); !errors.Is(err, ethereum.NotFound) {
		t.Fatalf("unknown receipt error = %v, want NotFound", err)
	}
}

func TestCallArgsInputConflict(t *testing.T) {
	a, b := []byte{1}, []byte{2}
	args := CallArgs{Data: (*hexutil.Bytes)(&a), Input: (*hexutil.Bytes)(&b)}
	if _, err := args.toMessage(); !errors.Is(err, errConflictingInput) {
		t.Fatalf("toMessage error = %v, want %v", err, errConflictingInput)
	}
	args.Input = (*hexutil.Bytes)(&a)
	msg, err := args.toMessage()
	if err != nil || string(msg.Data) != string(a) {
		t.Fatalf("toMessage = %x, %v", msg.Data, err)
	}
}

func TestClientLimiter(t *testing.T) {
	l := NewClientLimiter(0.001, 2)
	for i := 0; i < 2; i++ {
		if !l.Allow("a") {
			t.Fatalf("request %d rejected within burst", i)
		}
	}
	if l.Allow("a") {
		t.Fatal("request over burst allowed")
	}
	if !l.Allow("b") {
		t.Fatal("second client shares the first client's bucket")
	}
}

func TestClientLimiterIsBounded(t *testing.T) {
	l := NewClientLimiter(0.001, 1)
	for i := 0; i < maxTrackedClients+10; i++ {
		l.Allow(fmt.Sprintf("10.0.%d.%d", i/256, i%256))
	}
	l.mu.Lock()
	n := len(l.limiters)
	l.mu.Unlock()
	if n > maxTrackedClients {
		t.Fatalf("tracked clients = %d, want at most %d", n, maxTrackedClients)
	}
}

func TestLimiterMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := NewClientLimiter(0.001, 1).Middleware(ok)

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("status codes = %v, want [200 429]", codes)
	}
}

func TestServerHandlerCORS(t *testing.T) {
	srv, err := NewServer(newFakeBackend(), &Config{CORSOrigins: []string{"http://localhost:3000"}})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Stop()
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	body := `{"jsonrpc":"2.0","id":1,"method":"eth_chainId","params":[]}`
	req, _ := http.NewRequest(http.MethodPost, ts.URL, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
}

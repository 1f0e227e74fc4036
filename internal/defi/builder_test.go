package defi

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"DeFAI-Gateway/internal/web3"
)

type fakeReader struct {
	nonce     uint64
	allowance *big.Int
}

func (f *fakeReader) BalanceAt(context.Context, common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (f *fakeReader) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeReader) CodeAt(context.Context, common.Address) ([]byte, error) {
	return nil, nil
}

func (f *fakeReader) SuggestFees(context.Context) (*big.Int, *big.Int, error) {
	return big.NewInt(30_000_000_000), big.NewInt(1_000_000_000), nil
}

func (f *fakeReader) ChainID(context.Context) (*big.Int, error) {
	return big.NewInt(114), nil
}

func (f *fakeReader) LatestBlockTime(context.Context) (uint64, error) {
	return 1_700_000_000, nil
}

func (f *fakeReader) CallContract(context.Context, common.Address, []byte) ([]byte, error) {
	allowance := f.allowance
	if allowance == nil {
		allowance = big.NewInt(0)
	}
	return common.LeftPadBytes(allowance.Bytes(), 32), nil
}

func testRegistry(t *testing.T) *web3.TokenRegistry {
	t.Helper()
	registry, err := web3.NewTokenRegistry("FLR", "WFLR", web3.RouterAddresses{
		SwapRouter:      "0x8a1E35F5c98C4E85B36B7B253222eE17773b2781",
		PositionManager: "0xEE5FF5Bc5F852764b5584d92A4d592A53DC527da",
	}, map[string]web3.TokenDefinition{
		"WFLR": {Address: "0x1D80c49BbBCd1C0911346656B529DF9E5c2F783d", Decimals: 18},
		"USDC": {Address: "0xFbDa5F676cB37624f28265A144A48B0d6e87d3b6", Decimals: 18},
	})
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	return registry
}

func newTestBuilder(t *testing.T, reader *fakeReader) *Builder {
	t.Helper()
	builder, err := NewBuilder(reader, testRegistry(t))
	if err != nil {
		t.Fatalf("failed to build builder: %v", err)
	}
	return builder
}

var sender = common.HexToAddress("0x00000000000000000000000000000000000000A1")

func TestCreateTransferTx(t *testing.T) {
	builder := newTestBuilder(t, &fakeReader{nonce: 5})

	tx, err := builder.CreateTransferTx(context.Background(), sender, "0x000000000000000000000000000000000000dead", decimal.RequireFromString("1.5"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedValue, _ := new(big.Int).SetString("1500000000000000000", 10)
	if tx.Value.Cmp(expectedValue) != 0 {
		t.Fatalf("unexpected value: %s", tx.Value)
	}
	if tx.Gas != gasTransfer {
		t.Fatalf("unexpected gas: %d", tx.Gas)
	}
	if *tx.Nonce != 5 {
		t.Fatalf("unexpected nonce: %d", *tx.Nonce)
	}
	if tx.To.Hex() != "0x000000000000000000000000000000000000dEaD" {
		t.Fatalf("unexpected to address: %s", tx.To.Hex())
	}
	if !tx.HasRequiredFields() {
		t.Fatalf("transfer tx misses required fields: %+v", tx)
	}
}

func TestCreateTransferTxRejectsBadInput(t *testing.T) {
	builder := newTestBuilder(t, &fakeReader{})

	if _, err := builder.CreateTransferTx(context.Background(), sender, "not-an-address", decimal.NewFromInt(1)); err == nil {
		t.Fatalf("expected error for invalid address")
	}
	if _, err := builder.CreateTransferTx(context.Background(), sender, "0x000000000000000000000000000000000000dead", decimal.Zero); err == nil {
		t.Fatalf("expected error for non-positive amount")
	}
}

func TestCreateSwapTxsNativeSource(t *testing.T) {
	builder := newTestBuilder(t, &fakeReader{nonce: 10})

	txs, err := builder.CreateSwapTxs(context.Background(), sender, "FLR", "USDC", decimal.NewFromInt(100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(txs) != 3 {
		t.Fatalf("expected wrap/approve/swap, got %d txs", len(txs))
	}

	wflr := common.HexToAddress("0x1D80c49BbBCd1C0911346656B529DF9E5c2F783d")
	router := common.HexToAddress("0x8a1E35F5c98C4E85B36B7B253222eE17773b2781")

	if *txs[0].To != wflr || txs[0].Value.Sign() <= 0 {
		t.Fatalf("first tx should wrap native into %s with value, got %+v", wflr.Hex(), txs[0])
	}
	if *txs[1].To != wflr || txs[1].Value.Sign() != 0 {
		t.Fatalf("second tx should approve with zero value, got %+v", txs[1])
	}
	if *txs[2].To != router {
		t.Fatalf("third tx should hit the router, got %s", txs[2].To.Hex())
	}

	for i, tx := range txs {
		if *tx.Nonce != uint64(10+i) {
			t.Fatalf("tx %d has nonce %d, expected %d", i, *tx.Nonce, 10+i)
		}
	}
}

func TestCreateSwapTxsERC20SourceNeedsApproval(t *testing.T) {
	builder := newTestBuilder(t, &fakeReader{allowance: big.NewInt(0)})

	txs, err := builder.CreateSwapTxs(context.Background(), sender, "USDC", "WFLR", decimal.NewFromInt(50))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected approve+swap, got %d txs", len(txs))
	}
}

func TestCreateSwapTxsERC20SourceAlreadyApproved(t *testing.T) {
	big1e30, _ := new(big.Int).SetString("1000000000000000000000000000000", 10)
	builder := newTestBuilder(t, &fakeReader{allowance: big1e30})

	txs, err := builder.CreateSwapTxs(context.Background(), sender, "USDC", "WFLR", decimal.NewFromInt(50))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("expected single swap tx, got %d", len(txs))
	}
}

func TestCreateSwapTxsValidation(t *testing.T) {
	builder := newTestBuilder(t, &fakeReader{})

	if _, err := builder.CreateSwapTxs(context.Background(), sender, "FLR", "FLR", decimal.NewFromInt(1)); err == nil {
		t.Fatalf("expected error for identical tokens")
	}
	if _, err := builder.CreateSwapTxs(context.Background(), sender, "DOGE", "USDC", decimal.NewFromInt(1)); err == nil {
		t.Fatalf("expected error for unknown token")
	}
	if _, err := builder.CreateSwapTxs(context.Background(), sender, "FLR", "USDC", decimal.NewFromInt(-3)); err == nil {
		t.Fatalf("expected error for negative amount")
	}
}

func TestCreateAddLiquidityTxsSortsByAddress(t *testing.T) {
	builder := newTestBuilder(t, &fakeReader{})

	txs, err := builder.CreateAddLiquidityTxs(context.Background(), sender, "FLR", "USDC", decimal.NewFromInt(100), decimal.NewFromInt(50))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// USDC 授权一笔 + mint 一笔；原生腿不需要授权。
	if len(txs) != 2 {
		t.Fatalf("expected approve+mint, got %d txs", len(txs))
	}

	mint := txs[len(txs)-1]
	manager := common.HexToAddress("0xEE5FF5Bc5F852764b5584d92A4d592A53DC527da")
	if *mint.To != manager {
		t.Fatalf("mint should target position manager, got %s", mint.To.Hex())
	}

	expectedValue, _ := new(big.Int).SetString("100000000000000000000", 10)
	if mint.Value.Cmp(expectedValue) != 0 {
		t.Fatalf("mint value should carry the native amount, got %s", mint.Value)
	}
}

func TestCreateAddLiquidityTxsRejectsSamePair(t *testing.T) {
	builder := newTestBuilder(t, &fakeReader{})

	if _, err := builder.CreateAddLiquidityTxs(context.Background(), sender, "USDC", "USDC", decimal.NewFromInt(1), decimal.NewFromInt(1)); err == nil {
		t.Fatalf("expected error for identical tokens")
	}
	if _, err := builder.CreateAddLiquidityTxs(context.Background(), sender, "FLR", "WFLR", decimal.NewFromInt(1), decimal.NewFromInt(1)); err == nil {
		t.Fatalf("expected error when native resolves to its wrapped pair")
	}
}

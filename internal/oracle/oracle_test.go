package oracle

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

type stubReader struct {
	output []byte
	err    error
}

func (s *stubReader) BalanceAt(context.Context, common.Address) (*big.Int, error) {
	return nil, errors.New("not implemented")
}

func (s *stubReader) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 0, errors.New("not implemented")
}

func (s *stubReader) CodeAt(context.Context, common.Address) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (s *stubReader) SuggestFees(context.Context) (*big.Int, *big.Int, error) {
	return nil, nil, errors.New("not implemented")
}

func (s *stubReader) ChainID(context.Context) (*big.Int, error) {
	return nil, errors.New("not implemented")
}

func (s *stubReader) LatestBlockTime(context.Context) (uint64, error) {
	return 0, errors.New("not implemented")
}

func (s *stubReader) CallContract(context.Context, common.Address, []byte) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.output, nil
}

func packFeedResult(t *testing.T, value int64, decimals int8, timestamp uint64) []byte {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(feedABI))
	if err != nil {
		t.Fatalf("failed to parse abi: %v", err)
	}
	packed, err := parsed.Methods["getFeedById"].Outputs.Pack(big.NewInt(value), decimals, timestamp)
	if err != nil {
		t.Fatalf("failed to pack outputs: %v", err)
	}
	return packed
}

func TestPriceOnChain(t *testing.T) {
	reader := &stubReader{output: packFeedResult(t, 147778, 7, 1700000000)}
	feed, err := NewPriceFeed(reader, "0x3d893C53D9e8056135C26C8c638B76C8b60Df726")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	quote := feed.Price(context.Background(), "flr")
	if quote.Fallback {
		t.Fatalf("expected on-chain quote, got fallback")
	}
	expected := decimal.RequireFromString("0.0147778")
	if !quote.Price.Equal(expected) {
		t.Fatalf("unexpected price: %s", quote.Price)
	}
	if quote.Timestamp != 1700000000 {
		t.Fatalf("unexpected timestamp: %d", quote.Timestamp)
	}
}

func TestPriceFallbackOnRPCError(t *testing.T) {
	reader := &stubReader{err: errors.New("rpc down")}
	feed, err := NewPriceFeed(reader, "0x3d893C53D9e8056135C26C8c638B76C8b60Df726")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	quote := feed.Price(context.Background(), "USDC")
	if !quote.Fallback {
		t.Fatalf("expected fallback quote")
	}
	if !quote.Price.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("unexpected fallback price: %s", quote.Price)
	}
}

func TestPriceUnknownSymbol(t *testing.T) {
	feed, err := NewPriceFeed(nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	quote := feed.Price(context.Background(), "NOPE")
	if !quote.Fallback || !quote.Price.IsZero() {
		t.Fatalf("unexpected quote for unknown symbol: %+v", quote)
	}
}

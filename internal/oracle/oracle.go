package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"DeFAI-Gateway/internal/web3"
	"DeFAI-Gateway/pkg/logger"
)

// feedABI 描述价格合约的 getFeedById 视图方法。
const feedABI = `[{"inputs":[{"internalType":"bytes21","name":"_feedId","type":"bytes21"}],"name":"getFeedById","outputs":[{"internalType":"uint256","name":"","type":"uint256"},{"internalType":"int8","name":"","type":"int8"},{"internalType":"uint64","name":"","type":"uint64"}],"stateMutability":"view","type":"function"}]`

// feedIDs 是各代币对 USD 的链上喂价标识，跨网络一致。
var feedIDs = map[string]string{
	"FLR/USD":  "0x01464c522f55534400000000000000000000000000",
	"BTC/USD":  "0x014254432f55534400000000000000000000000000",
	"ETH/USD":  "0x014554482f55534400000000000000000000000000",
	"USDC/USD": "0x015553444320000000000000000000000000000000",
	"USDT/USD": "0x015553445420000000000000000000000000000000",
}

// fallbackPrices 在链上喂价不可用时提供近似报价，保证余额展示可用。
var fallbackPrices = map[string]string{
	"FLR":  "0.0147778",
	"BTC":  "64890.50",
	"ETH":  "3450.25",
	"USDC": "1.0",
	"USDT": "1.0",
	"WFLR": "0.0147778",
}

// Quote 是一次价格查询的结果。
type Quote struct {
	Price     decimal.Decimal
	Timestamp int64
	Fallback  bool
}

// PriceFeed 通过 eth_call 读取链上价格合约，失败时退回静态报价。
type PriceFeed struct {
	reader   web3.ChainReader
	contract common.Address
	abi      abi.ABI
	log      *slog.Logger
	now      func() time.Time
}

// NewPriceFeed 创建价格查询客户端。contract 为空时始终使用静态报价。
func NewPriceFeed(reader web3.ChainReader, contract string) (*PriceFeed, error) {
	parsed, err := abi.JSON(strings.NewReader(feedABI))
	if err != nil {
		return nil, fmt.Errorf("解析价格合约 ABI 失败: %w", err)
	}

	feed := &PriceFeed{
		reader: reader,
		abi:    parsed,
		log:    logger.Named("oracle"),
		now:    time.Now,
	}
	if strings.TrimSpace(contract) != "" {
		if !common.IsHexAddress(contract) {
			return nil, fmt.Errorf("价格合约地址非法: %s", contract)
		}
		feed.contract = common.HexToAddress(contract)
	}
	return feed, nil
}

// Price 返回代币的 USD 报价。链上查询失败不视为错误，而是降级到
// 静态报价并在结果中标记 Fallback。
func (f *PriceFeed) Price(ctx context.Context, symbol string) Quote {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	if f.reader != nil && f.contract != (common.Address{}) {
		quote, err := f.readOnChain(ctx, symbol)
		if err == nil {
			return quote
		}
		f.log.Warn("链上喂价不可用，使用静态报价", "symbol", symbol, "error", err)
	}
	return f.fallback(symbol)
}

// USDValue 计算数量对应的 USD 价值。
func (f *PriceFeed) USDValue(ctx context.Context, symbol string, amount decimal.Decimal) decimal.Decimal {
	quote := f.Price(ctx, symbol)
	return quote.Price.Mul(amount)
}

func (f *PriceFeed) readOnChain(ctx context.Context, symbol string) (Quote, error) {
	feedHex, ok := feedIDs[symbol+"/USD"]
	if !ok {
		return Quote{}, fmt.Errorf("没有 %s 的喂价标识", symbol)
	}

	var feedID [21]byte
	copy(feedID[:], common.FromHex(feedHex))

	input, err := f.abi.Pack("getFeedById", feedID)
	if err != nil {
		return Quote{}, fmt.Errorf("编码喂价查询失败: %w", err)
	}

	output, err := f.reader.CallContract(ctx, f.contract, input)
	if err != nil {
		return Quote{}, err
	}

	values, err := f.abi.Unpack("getFeedById", output)
	if err != nil || len(values) != 3 {
		return Quote{}, fmt.Errorf("解码喂价结果失败: %w", err)
	}

	value, ok := values[0].(*big.Int)
	if !ok {
		return Quote{}, fmt.Errorf("喂价 value 类型异常: %T", values[0])
	}
	decimals, ok := values[1].(int8)
	if !ok {
		return Quote{}, fmt.Errorf("喂价 decimals 类型异常: %T", values[1])
	}
	timestamp, ok := values[2].(uint64)
	if !ok {
		return Quote{}, fmt.Errorf("喂价 timestamp 类型异常: %T", values[2])
	}

	scale := int32(decimals)
	if scale < 0 {
		scale = -scale
	}
	price := decimal.NewFromBigInt(value, 0).Shift(-scale)
	return Quote{Price: price, Timestamp: int64(timestamp)}, nil
}

// Fallback 返回静态报价，未收录的符号报价为 0。
func (f *PriceFeed) fallback(symbol string) Quote {
	price := decimal.Zero
	if raw, ok := fallbackPrices[symbol]; ok {
		price, _ = decimal.NewFromString(raw)
	}
	return Quote{Price: price, Timestamp: f.now().Unix(), Fallback: true}
}

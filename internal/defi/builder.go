package defi

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	xerrors "DeFAI-Gateway/internal/errors"
	"DeFAI-Gateway/internal/web3"
	"DeFAI-Gateway/pkg/logger"
)

const (
	// defaultFeeTier 是 V3 池默认的 0.3% 费率档。
	defaultFeeTier = 3000

	// deadlineSeconds 是兑换与流动性操作的默认有效期。
	deadlineSeconds = 20 * 60

	// 全范围头寸的固定 tick 边界。
	fullRangeTickLower = -887272
	fullRangeTickUpper = 887272

	gasTransfer = 21000
	gasWrap     = 200000
	gasApprove  = 200000
	gasSwap     = 1000000
	gasMint     = 500000
)

// defaultSlippage 是未显式指定时的滑点容忍度（0.5%）。
var defaultSlippage = decimal.RequireFromString("0.005")

// Builder 根据用户意图构建未签名交易。
// 所有金额以代币的自然单位传入，内部换算成最小单位。
type Builder struct {
	reader   web3.ChainReader
	registry *web3.TokenRegistry
	abis     *contractABIs
	slippage decimal.Decimal
	log      *slog.Logger
}

// Option 定义可选的 Builder 配置。
type Option func(*Builder)

// WithSlippage 覆盖默认的滑点容忍度。
func WithSlippage(slippage decimal.Decimal) Option {
	return func(b *Builder) {
		if slippage.IsPositive() && slippage.LessThan(decimal.NewFromInt(1)) {
			b.slippage = slippage
		}
	}
}

// NewBuilder 创建交易构建器。
func NewBuilder(reader web3.ChainReader, registry *web3.TokenRegistry, opts ...Option) (*Builder, error) {
	if reader == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置链上读取客户端")
	}
	if registry == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置代币表")
	}

	abis, err := loadABIs()
	if err != nil {
		return nil, err
	}

	b := &Builder{
		reader:   reader,
		registry: registry,
		abis:     abis,
		slippage: defaultSlippage,
		log:      logger.Named("defi"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b, nil
}

// chainContext 汇总构建一组交易所需的链上基础信息。
type chainContext struct {
	feeCap   *big.Int
	tipCap   *big.Int
	nonce    uint64
	chainID  *big.Int
	deadline *big.Int
}

func (b *Builder) loadChainContext(ctx context.Context, sender common.Address) (*chainContext, error) {
	feeCap, tipCap, err := b.reader.SuggestFees(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeRPCFailure, err, "查询 gas 价格失败")
	}
	nonce, err := b.reader.PendingNonceAt(ctx, sender)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeRPCFailure, err, "查询发送方 nonce 失败")
	}
	chainID, err := b.reader.ChainID(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeRPCFailure, err, "查询链 ID 失败")
	}
	blockTime, err := b.reader.LatestBlockTime(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeRPCFailure, err, "查询最新区块时间失败")
	}

	return &chainContext{
		feeCap:   feeCap,
		tipCap:   tipCap,
		nonce:    nonce,
		chainID:  chainID,
		deadline: new(big.Int).SetUint64(blockTime + deadlineSeconds),
	}, nil
}

// nextNonce 返回当前 nonce 并自增，保证同一批交易顺序执行。
func (c *chainContext) nextNonce() *uint64 {
	nonce := c.nonce
	c.nonce++
	return &nonce
}

func (c *chainContext) newTx(from common.Address, to common.Address, value *big.Int, data []byte, gas uint64) web3.TxParams {
	toCopy := to
	return web3.TxParams{
		From:      from,
		To:        &toCopy,
		Value:     value,
		Data:      data,
		Gas:       gas,
		GasFeeCap: new(big.Int).Set(c.feeCap),
		GasTipCap: new(big.Int).Set(c.tipCap),
		Nonce:     c.nextNonce(),
		ChainID:   new(big.Int).Set(c.chainID),
	}
}

// toBaseUnits 把自然单位金额换算为代币最小单位，拒绝非正数。
func toBaseUnits(amount decimal.Decimal, decimals int) (*big.Int, error) {
	if !amount.IsPositive() {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "金额必须为正数")
	}
	return amount.Shift(int32(decimals)).Truncate(0).BigInt(), nil
}

// applySlippage 返回扣除滑点后的最小可接受数量。
func applySlippage(amount *big.Int, slippage decimal.Decimal) *big.Int {
	factor := decimal.NewFromInt(1).Sub(slippage)
	return decimal.NewFromBigInt(amount, 0).Mul(factor).Truncate(0).BigInt()
}

// CreateTransferTx 构建一笔原生代币转账。
func (b *Builder) CreateTransferTx(ctx context.Context, sender common.Address, to string, amount decimal.Decimal) (web3.TxParams, error) {
	if !common.IsHexAddress(to) {
		return web3.TxParams{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("收款地址非法: %s", to))
	}

	valueWei, err := toBaseUnits(amount, 18)
	if err != nil {
		return web3.TxParams{}, err
	}

	chain, err := b.loadChainContext(ctx, sender)
	if err != nil {
		return web3.TxParams{}, err
	}

	tx := chain.newTx(sender, common.HexToAddress(to), valueWei, nil, gasTransfer)
	b.log.Info("构建转账交易", "to", common.HexToAddress(to).Hex(), "value_wei", valueWei.String())
	return tx, nil
}

// CreateSwapTxs 构建一次代币兑换所需的全部交易。
// 原生代币作为源时返回 [wrap, approve, swap] 三笔；ERC-20 源在授权额度
// 不足时返回 [approve, swap]，否则只有 [swap]。
func (b *Builder) CreateSwapTxs(ctx context.Context, sender common.Address, fromToken, toToken string, amount decimal.Decimal) ([]web3.TxParams, error) {
	if fromToken == "" || toToken == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "必须同时指定源代币与目标代币")
	}
	if b.registry.IsNative(fromToken) && b.registry.IsNative(toToken) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "源代币与目标代币不能相同")
	}

	isNativeSource := b.registry.IsNative(fromToken)

	toDef, ok := b.registry.Lookup(toToken)
	if !ok {
		if b.registry.IsNative(toToken) {
			// 目标为原生代币时落到包装代币。
			toDef, _ = b.registry.Lookup(b.registry.Wrapped)
		} else {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未收录的代币: %s", toToken))
		}
	}

	var fromDef web3.TokenDefinition
	if isNativeSource {
		fromDef, _ = b.registry.Lookup(b.registry.Wrapped)
	} else {
		fromDef, ok = b.registry.Lookup(fromToken)
		if !ok {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未收录的代币: %s", fromToken))
		}
	}
	if fromDef.Address == toDef.Address {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "源代币与目标代币不能相同")
	}

	amountIn, err := toBaseUnits(amount, fromDef.Decimals)
	if err != nil {
		return nil, err
	}
	amountOutMin := applySlippage(amountIn, b.slippage)

	chain, err := b.loadChainContext(ctx, sender)
	if err != nil {
		return nil, err
	}

	router := b.registry.SwapRouter()
	fromAddr := common.HexToAddress(fromDef.Address)
	txs := make([]web3.TxParams, 0, 3)

	if isNativeSource {
		// 1. 包装原生代币。
		depositData, err := b.abis.wrapped.Pack("deposit")
		if err != nil {
			return nil, fmt.Errorf("编码 deposit 失败: %w", err)
		}
		txs = append(txs, chain.newTx(sender, fromAddr, amountIn, depositData, gasWrap))

		// 2. 授权路由合约。
		approveData, err := b.abis.erc20.Pack("approve", router, amountIn)
		if err != nil {
			return nil, fmt.Errorf("编码 approve 失败: %w", err)
		}
		txs = append(txs, chain.newTx(sender, fromAddr, big.NewInt(0), approveData, gasApprove))
	} else {
		needed, err := b.needsApproval(ctx, fromAddr, sender, router, amountIn)
		if err != nil {
			b.log.Warn("查询授权额度失败，默认追加授权交易", "token", fromDef.Address, "error", err)
			needed = true
		}
		if needed {
			approveData, err := b.abis.erc20.Pack("approve", router, amountIn)
			if err != nil {
				return nil, fmt.Errorf("编码 approve 失败: %w", err)
			}
			txs = append(txs, chain.newTx(sender, fromAddr, big.NewInt(0), approveData, gasApprove))
		}
	}

	// 3. 单池兑换。
	swapData, err := b.abis.swapRouter.Pack("exactInputSingle", exactInputSingleParams{
		TokenIn:           fromAddr,
		TokenOut:          common.HexToAddress(toDef.Address),
		Fee:               big.NewInt(defaultFeeTier),
		Recipient:         sender,
		Deadline:          chain.deadline,
		AmountIn:          amountIn,
		AmountOutMinimum:  amountOutMin,
		SqrtPriceLimitX96: big.NewInt(0),
	})
	if err != nil {
		return nil, fmt.Errorf("编码 exactInputSingle 失败: %w", err)
	}
	txs = append(txs, chain.newTx(sender, router, big.NewInt(0), swapData, gasSwap))

	b.log.Info("构建兑换交易",
		"from_token", fromToken,
		"to_token", toToken,
		"amount_in", amountIn.String(),
		"tx_count", len(txs),
		"native_source", isNativeSource,
	)
	return txs, nil
}

// CreateAddLiquidityTxs 构建向 V3 池添加全范围流动性所需的全部交易。
func (b *Builder) CreateAddLiquidityTxs(ctx context.Context, sender common.Address, tokenA, tokenB string, amountA, amountB decimal.Decimal) ([]web3.TxParams, error) {
	if tokenA == "" || tokenB == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "必须同时指定两种代币")
	}

	resolve := func(symbol string) (web3.TokenDefinition, bool, error) {
		if b.registry.IsNative(symbol) {
			def, _ := b.registry.Lookup(b.registry.Wrapped)
			return def, true, nil
		}
		def, ok := b.registry.Lookup(symbol)
		if !ok {
			return web3.TokenDefinition{}, false, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未收录的代币: %s", symbol))
		}
		return def, false, nil
	}

	defA, nativeA, err := resolve(tokenA)
	if err != nil {
		return nil, err
	}
	defB, nativeB, err := resolve(tokenB)
	if err != nil {
		return nil, err
	}
	if defA.Address == defB.Address {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "两种代币不能相同")
	}

	weiA, err := toBaseUnits(amountA, defA.Decimals)
	if err != nil {
		return nil, err
	}
	weiB, err := toBaseUnits(amountB, defB.Decimals)
	if err != nil {
		return nil, err
	}

	// V3 要求按地址排序确定 token0/token1，数量随之交换。
	addrA := common.HexToAddress(defA.Address)
	addrB := common.HexToAddress(defB.Address)
	if addrA.Cmp(addrB) > 0 {
		addrA, addrB = addrB, addrA
		weiA, weiB = weiB, weiA
		nativeA, nativeB = nativeB, nativeA
	}

	chain, err := b.loadChainContext(ctx, sender)
	if err != nil {
		return nil, err
	}

	manager := b.registry.PositionManager()
	txs := make([]web3.TxParams, 0, 3)

	// 非原生腿需要事先授权头寸管理合约。
	for _, leg := range []struct {
		addr   common.Address
		amount *big.Int
		native bool
	}{
		{addrA, weiA, nativeA},
		{addrB, weiB, nativeB},
	} {
		if leg.native {
			continue
		}
		needed, err := b.needsApproval(ctx, leg.addr, sender, manager, leg.amount)
		if err != nil {
			b.log.Warn("查询授权额度失败，默认追加授权交易", "token", leg.addr.Hex(), "error", err)
			needed = true
		}
		if !needed {
			continue
		}
		approveData, err := b.abis.erc20.Pack("approve", manager, leg.amount)
		if err != nil {
			return nil, fmt.Errorf("编码 approve 失败: %w", err)
		}
		txs = append(txs, chain.newTx(sender, leg.addr, big.NewInt(0), approveData, gasApprove))
	}

	value := big.NewInt(0)
	if nativeA {
		value = new(big.Int).Set(weiA)
	} else if nativeB {
		value = new(big.Int).Set(weiB)
	}

	mintData, err := b.abis.positionManager.Pack("mint", mintParams{
		Token0:         addrA,
		Token1:         addrB,
		Fee:            big.NewInt(defaultFeeTier),
		TickLower:      big.NewInt(fullRangeTickLower),
		TickUpper:      big.NewInt(fullRangeTickUpper),
		Amount0Desired: weiA,
		Amount1Desired: weiB,
		Amount0Min:     applySlippage(weiA, b.slippage),
		Amount1Min:     applySlippage(weiB, b.slippage),
		Recipient:      sender,
		Deadline:       chain.deadline,
	})
	if err != nil {
		return nil, fmt.Errorf("编码 mint 失败: %w", err)
	}
	txs = append(txs, chain.newTx(sender, manager, value, mintData, gasMint))

	b.log.Info("构建流动性交易",
		"token0", addrA.Hex(),
		"token1", addrB.Hex(),
		"tx_count", len(txs),
	)
	return txs, nil
}

// needsApproval 查询链上授权额度，判断是否需要追加 approve 交易。
func (b *Builder) needsApproval(ctx context.Context, token, owner, spender common.Address, amount *big.Int) (bool, error) {
	input, err := b.abis.erc20.Pack("allowance", owner, spender)
	if err != nil {
		return true, fmt.Errorf("编码 allowance 失败: %w", err)
	}
	output, err := b.reader.CallContract(ctx, token, input)
	if err != nil {
		return true, err
	}
	values, err := b.abis.erc20.Unpack("allowance", output)
	if err != nil || len(values) != 1 {
		return true, fmt.Errorf("解码 allowance 失败: %w", err)
	}
	allowance, ok := values[0].(*big.Int)
	if !ok {
		return true, fmt.Errorf("allowance 类型异常: %T", values[0])
	}
	return allowance.Cmp(amount) < 0, nil
}

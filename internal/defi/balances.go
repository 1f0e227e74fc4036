package defi

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	xerrors "DeFAI-Gateway/internal/errors"
	"DeFAI-Gateway/internal/web3"
)

// Registry 暴露构建器使用的代币表，供上层遍历可用符号。
func (b *Builder) Registry() *web3.TokenRegistry {
	return b.registry
}

// NativeBalance 查询账户的原生代币余额，换算为自然单位。
func (b *Builder) NativeBalance(ctx context.Context, account common.Address) (decimal.Decimal, error) {
	balance, err := b.reader.BalanceAt(ctx, account)
	if err != nil {
		return decimal.Zero, xerrors.Wrap(xerrors.CodeRPCFailure, err, "查询原生代币余额失败")
	}
	return decimal.NewFromBigInt(balance, -18), nil
}

// TokenBalance 通过 balanceOf 查询 ERC-20 余额，换算为自然单位。
func (b *Builder) TokenBalance(ctx context.Context, symbol string, account common.Address) (decimal.Decimal, error) {
	def, ok := b.registry.Lookup(symbol)
	if !ok {
		return decimal.Zero, xerrors.New(xerrors.CodeInvalidArgument, "未收录的代币符号: "+symbol)
	}

	callData, err := b.abis.erc20.Pack("balanceOf", account)
	if err != nil {
		return decimal.Zero, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码 balanceOf 调用失败")
	}

	raw, err := b.reader.CallContract(ctx, common.HexToAddress(def.Address), callData)
	if err != nil {
		return decimal.Zero, xerrors.Wrap(xerrors.CodeRPCFailure, err, "查询代币余额失败")
	}

	outputs, err := b.abis.erc20.Unpack("balanceOf", raw)
	if err != nil {
		return decimal.Zero, xerrors.Wrap(xerrors.CodeRPCFailure, err, "解析代币余额失败")
	}
	balance, ok := outputs[0].(*big.Int)
	if !ok {
		return decimal.Zero, xerrors.New(xerrors.CodeRPCFailure, "代币余额返回类型异常")
	}
	return decimal.NewFromBigInt(balance, -int32(def.Decimals)), nil
}

package wallet

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"DeFAI-Gateway/internal/web3"
)

// Account 表示一个会话内托管的账户。私钥只存在于进程内存中，
// 随会话重置一并丢弃。
type Account struct {
	priv    *ecdsa.PrivateKey
	address common.Address
}

// Generate 生成一个新的 secp256k1 账户。
func Generate() (*Account, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("生成私钥失败: %w", err)
	}
	return &Account{
		priv:    priv,
		address: crypto.PubkeyToAddress(priv.PublicKey),
	}, nil
}

// FromHexKey 从十六进制私钥恢复账户，供演示模式与测试使用。
func FromHexKey(hexKey string) (*Account, error) {
	priv, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("解析私钥失败: %w", err)
	}
	return &Account{
		priv:    priv,
		address: crypto.PubkeyToAddress(priv.PublicKey),
	}, nil
}

// Address 返回账户地址。
func (a *Account) Address() common.Address {
	if a == nil {
		return common.Address{}
	}
	return a.address
}

// Hex 返回 EIP-55 校验和格式的地址字符串。
func (a *Account) Hex() string {
	return a.Address().Hex()
}

// SignTx 将交易参数构造成 EIP-1559 交易并完成签名。
func (a *Account) SignTx(params web3.TxParams) (*coretypes.Transaction, error) {
	if a == nil || a.priv == nil {
		return nil, errors.New("账户未初始化")
	}
	if !params.HasRequiredFields() {
		return nil, errors.New("交易参数不完整，无法签名")
	}
	if params.ChainID == nil {
		return nil, errors.New("交易缺少链 ID")
	}
	if params.From != (common.Address{}) && params.From != a.address {
		return nil, fmt.Errorf("交易发送方 %s 与账户 %s 不一致", params.From.Hex(), a.address.Hex())
	}

	tipCap := params.GasTipCap
	if tipCap == nil {
		tipCap = new(big.Int).Set(params.GasFeeCap)
	}

	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   params.ChainID,
		Nonce:     *params.Nonce,
		GasTipCap: tipCap,
		GasFeeCap: params.GasFeeCap,
		Gas:       params.Gas,
		To:        params.To,
		Value:     params.Value,
		Data:      params.Data,
	})

	signer := coretypes.LatestSignerForChainID(params.ChainID)
	signed, err := coretypes.SignTx(tx, signer, a.priv)
	if err != nil {
		return nil, fmt.Errorf("签名交易失败: %w", err)
	}
	return signed, nil
}

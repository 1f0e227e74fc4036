package web3

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TxParams represents a single unsigned transaction ready for risk review and
// signing. Builders fill every field they know; fields left at their zero
// value are treated as missing by the validator. Once built the struct should
// be treated as immutable.
type TxParams struct {
	From      common.Address
	To        *common.Address
	Value     *big.Int
	Data      []byte
	Gas       uint64
	GasFeeCap *big.Int
	GasTipCap *big.Int
	Nonce     *uint64
	ChainID   *big.Int
}

// HasRequiredFields reports whether the fields every transaction must carry
// are present. The from address is checked separately against the session.
func (p TxParams) HasRequiredFields() bool {
	return p.To != nil && p.Value != nil && p.Gas != 0 && p.GasFeeCap != nil && p.Nonce != nil
}

// Clone returns a deep copy so queued transactions cannot be mutated through
// shared big.Int pointers.
func (p TxParams) Clone() TxParams {
	clone := p
	if p.To != nil {
		to := *p.To
		clone.To = &to
	}
	if p.Value != nil {
		clone.Value = new(big.Int).Set(p.Value)
	}
	if p.GasFeeCap != nil {
		clone.GasFeeCap = new(big.Int).Set(p.GasFeeCap)
	}
	if p.GasTipCap != nil {
		clone.GasTipCap = new(big.Int).Set(p.GasTipCap)
	}
	if p.Nonce != nil {
		nonce := *p.Nonce
		clone.Nonce = &nonce
	}
	if p.Data != nil {
		clone.Data = append([]byte(nil), p.Data...)
	}
	if p.ChainID != nil {
		clone.ChainID = new(big.Int).Set(p.ChainID)
	}
	return clone
}

// ChainReader defines the read-only chain operations the builder, validator
// and oracle need. Implementations must be safe for concurrent use.
type ChainReader interface {
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	CodeAt(ctx context.Context, account common.Address) ([]byte, error)
	SuggestFees(ctx context.Context) (feeCap, tipCap *big.Int, err error)
	ChainID(ctx context.Context) (*big.Int, error)
	LatestBlockTime(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// Broadcaster sends signed transactions to the network.
type Broadcaster interface {
	SendTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error)
	WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

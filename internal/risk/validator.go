package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	apperrors "DeFAI-Gateway/internal/errors"
	"DeFAI-Gateway/internal/llm"
	"DeFAI-Gateway/internal/prompts"
	"DeFAI-Gateway/internal/web3"
	"DeFAI-Gateway/pkg/logger"
)

const (
	// 超出该 gas 上限的交易会被标记为异常。
	gasWarningLimit = 10_000_000
	// calldata 超过 1MB 视为异常。
	dataWarningLimit = 1_000_000
)

// 单笔价值超过 1000 个原生代币视为异常。
var valueWarningLimit = new(big.Int).Mul(big.NewInt(1000), big.NewInt(1e18))

// SimulationResult 记录交易的静态模拟结果。模拟中的 RPC 错误
// 只记录在 Error 字段里，不会中断校验流程。
type SimulationResult struct {
	Successful       bool   `json:"simulation_successful"`
	CanAfford        bool   `json:"can_afford"`
	EstimatedGas     uint64 `json:"estimated_gas"`
	IsContract       bool   `json:"is_contract_interaction"`
	ContractVerified bool   `json:"contract_verified"`
	SimulatedAt      int64  `json:"simulation_time"`
	Error            string `json:"error,omitempty"`
}

// ValidationResult 是交易校验管线的最终输出。
type ValidationResult struct {
	IsValid        bool              `json:"is_valid"`
	Level          Level             `json:"risk_level"`
	Warnings       []string          `json:"warnings"`
	Simulation     *SimulationResult `json:"simulation_result,omitempty"`
	AIAnalysis     *AIAssessment     `json:"ai_analysis,omitempty"`
	Recommendation string            `json:"recommendation"`
}

// Validator 在交易签名之前做多级风险校验。
type Validator struct {
	reader    web3.ChainReader
	ai        llm.Client
	scam      map[common.Address]struct{}
	knownSafe map[common.Address]struct{}
	log       *slog.Logger
	now       func() time.Time
}

// NewValidator 创建校验器。scam 与 knownSafe 为十六进制地址列表，
// 非法地址会被直接忽略。
func NewValidator(reader web3.ChainReader, ai llm.Client, scam, knownSafe []string) *Validator {
	return &Validator{
		reader:    reader,
		ai:        ai,
		scam:      toAddressSet(scam),
		knownSafe: toAddressSet(knownSafe),
		log:       logger.Named("tx-validator"),
		now:       time.Now,
	}
}

func toAddressSet(raw []string) map[common.Address]struct{} {
	set := make(map[common.Address]struct{}, len(raw))
	for _, entry := range raw {
		if !common.IsHexAddress(entry) {
			continue
		}
		set[common.HexToAddress(entry)] = struct{}{}
	}
	return set
}

// ValidateTransaction 依次执行结构校验、安全校验、模拟与 AI 评估，
// 汇总为最终风险等级。仅当结构校验里的 RPC 调用失败时返回错误。
func (v *Validator) ValidateTransaction(ctx context.Context, tx *web3.TxParams, sender common.Address) (*ValidationResult, error) {
	v.log.Info("校验交易",
		slog.String("from", sender.Hex()),
		slog.String("to", addressOrEmpty(tx.To)),
	)

	var warnings []string

	// 1. 结构校验：缺字段或 nonce 回退直接判 CRITICAL。
	basicWarnings, basicValid, err := v.validateStructure(ctx, tx, sender)
	if err != nil {
		return nil, err
	}
	if !basicValid {
		return &ValidationResult{
			IsValid:        false,
			Level:          LevelCritical,
			Warnings:       basicWarnings,
			Recommendation: "Transaction contains critical errors and should not be executed.",
		}, nil
	}
	warnings = append(warnings, basicWarnings...)

	// 2. 安全校验：命中黑名单直接拒绝。
	securityWarnings, securityValid := v.validateSecurity(tx)
	if !securityValid {
		return &ValidationResult{
			IsValid:        false,
			Level:          LevelHigh,
			Warnings:       append(warnings, securityWarnings...),
			Recommendation: "Transaction failed security validation and may be malicious.",
		}, nil
	}
	warnings = append(warnings, securityWarnings...)

	// 3. 白名单目标走捷径：跳过模拟与 AI，固定为 LOW。
	if tx.To != nil {
		if _, ok := v.knownSafe[*tx.To]; ok {
			return &ValidationResult{
				IsValid:        true,
				Level:          LevelLow,
				Warnings:       warnings,
				Recommendation: recommendationFor(LevelLow),
			}, nil
		}
	}

	// 4. 静态模拟
	simulation := v.simulate(ctx, tx, sender)

	// 5. AI 评估
	assessment := v.assess(ctx, tx, sender, simulation)

	// 6. 汇总等级
	level := v.mergeRiskLevel(simulation, assessment, warnings)

	return &ValidationResult{
		IsValid:        level != LevelCritical,
		Level:          level,
		Warnings:       warnings,
		Simulation:     simulation,
		AIAnalysis:     assessment,
		Recommendation: recommendationFor(level),
	}, nil
}

func (v *Validator) validateStructure(ctx context.Context, tx *web3.TxParams, sender common.Address) ([]string, bool, error) {
	var warnings []string
	valid := true

	for _, missing := range missingRequiredFields(tx) {
		warnings = append(warnings, fmt.Sprintf("Missing required field: %s", missing))
		valid = false
	}

	if tx.From != (common.Address{}) && tx.From != sender {
		warnings = append(warnings, "Transaction sender doesn't match authenticated user")
		valid = false
	}

	if tx.Gas > gasWarningLimit {
		warnings = append(warnings, "Unusually high gas limit")
	}

	if tx.Nonce != nil {
		expected, err := v.reader.PendingNonceAt(ctx, sender)
		if err != nil {
			return nil, false, apperrors.Wrap(apperrors.CodeRPCFailure, err, "查询 nonce 失败")
		}
		if *tx.Nonce < expected {
			warnings = append(warnings, fmt.Sprintf("Nonce too low, expected at least %d", expected))
			valid = false
		}
	}

	return warnings, valid, nil
}

func missingRequiredFields(tx *web3.TxParams) []string {
	var missing []string
	if tx.To == nil {
		missing = append(missing, "to")
	}
	if tx.Value == nil {
		missing = append(missing, "value")
	}
	if tx.Gas == 0 {
		missing = append(missing, "gas")
	}
	if tx.GasFeeCap == nil {
		missing = append(missing, "gasPrice")
	}
	if tx.Nonce == nil {
		missing = append(missing, "nonce")
	}
	return missing
}

func (v *Validator) validateSecurity(tx *web3.TxParams) ([]string, bool) {
	var warnings []string
	valid := true

	if tx.To != nil {
		if _, ok := v.scam[*tx.To]; ok {
			warnings = append(warnings, "Recipient is a known scam address")
			valid = false
		}
	}

	if len(tx.Data) > dataWarningLimit {
		warnings = append(warnings, "Unusually large data field")
	}

	if tx.Value != nil && tx.Value.Cmp(valueWarningLimit) > 0 {
		warnings = append(warnings, "Unusually high transaction value")
	}

	return warnings, valid
}

func (v *Validator) simulate(ctx context.Context, tx *web3.TxParams, sender common.Address) *SimulationResult {
	balance, err := v.reader.BalanceAt(ctx, sender)
	if err != nil {
		v.log.Error("交易模拟失败", slog.Any("error", err))
		return &SimulationResult{Successful: false, Error: err.Error()}
	}

	maxFee := new(big.Int).Mul(tx.GasFeeCap, new(big.Int).SetUint64(tx.Gas))
	cost := new(big.Int).Add(tx.Value, maxFee)

	result := &SimulationResult{
		Successful:   true,
		CanAfford:    balance.Cmp(cost) >= 0,
		EstimatedGas: tx.Gas,
		SimulatedAt:  v.now().Unix(),
	}

	if tx.To != nil {
		code, err := v.reader.CodeAt(ctx, *tx.To)
		if err != nil {
			v.log.Error("交易模拟失败", slog.Any("error", err))
			return &SimulationResult{Successful: false, Error: err.Error()}
		}
		result.IsContract = len(code) > 0
		_, result.ContractVerified = v.knownSafe[*tx.To]
	}

	return result
}

func (v *Validator) assess(ctx context.Context, tx *web3.TxParams, sender common.Address, simulation *SimulationResult) *AIAssessment {
	payload := map[string]any{
		"transaction": map[string]any{
			"from":     sender.Hex(),
			"to":       addressOrEmpty(tx.To),
			"value":    decimal.NewFromBigInt(tx.Value, -18).String(),
			"data":     "0x" + common.Bytes2Hex(tx.Data),
			"gas":      tx.Gas,
			"gasPrice": decimal.NewFromBigInt(tx.GasFeeCap, -9).String(),
		},
		"simulation_result": simulation,
	}
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		encoded = []byte("{}")
	}

	response, err := v.ai.Generate(ctx, llm.Request{Prompt: prompts.TransactionRisk(string(encoded))})
	if err != nil {
		v.log.Error("AI 评估失败", slog.Any("error", err))
		return &AIAssessment{
			SecurityScore:  0,
			RiskAssessment: fmt.Sprintf("AI analysis failed: %v", err),
			Recommendation: "Unable to perform AI risk assessment.",
		}
	}

	extraction := llm.ExtractObject(response.Content)
	if !extraction.Parsed {
		return &AIAssessment{
			SecurityScore:  50,
			RiskAssessment: "AI couldn't provide structured analysis. Manual review recommended.",
			Recommendation: "Unable to automatically assess risks. Consider manual review.",
			Raw:            response.Content,
		}
	}

	var assessment AIAssessment
	if err := extraction.Decode(&assessment); err != nil {
		return &AIAssessment{
			SecurityScore:  50,
			RiskAssessment: "AI provided unstructured response. Manual review recommended.",
			Recommendation: "Consider manual review of transaction.",
			Raw:            response.Content,
		}
	}
	assessment.Raw = response.Content
	return &assessment
}

func (v *Validator) mergeRiskLevel(simulation *SimulationResult, assessment *AIAssessment, warnings []string) Level {
	level := LevelLow

	switch {
	case len(warnings) > 5:
		level = LevelCritical
	case len(warnings) > 3:
		level = LevelHigh
	case len(warnings) > 1:
		level = LevelMedium
	}

	if !simulation.Successful {
		level = LevelHigh
	} else if !simulation.CanAfford {
		level = LevelHigh
	}

	switch score := assessment.SecurityScore; {
	case score < 20:
		level = LevelCritical
	case score < 40:
		level = Max(level, LevelHigh)
	case score < 60:
		level = Max(level, LevelMedium)
	case score < 80:
		level = Max(level, LevelLow)
	default:
		if level == LevelLow {
			level = LevelSafe
		}
	}

	// 与未验证合约交互永远不给 SAFE。
	if simulation.IsContract && !simulation.ContractVerified && level == LevelSafe {
		level = LevelLow
	}

	return level
}

func recommendationFor(level Level) string {
	switch level {
	case LevelCritical:
		return "CRITICAL RISK DETECTED. Transaction should not proceed."
	case LevelHigh:
		return "HIGH RISK DETECTED. Transaction should be carefully reviewed before proceeding."
	case LevelMedium:
		return "MODERATE RISK DETECTED. Proceed with caution and verify transaction details."
	case LevelLow:
		return "LOW RISK DETECTED. Transaction appears mostly safe but verify details."
	default:
		return "Transaction appears safe to execute."
	}
}

func addressOrEmpty(addr *common.Address) string {
	if addr == nil {
		return ""
	}
	return addr.Hex()
}

package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	apperrors "DeFAI-Gateway/internal/errors"
	"DeFAI-Gateway/internal/explorer"
	"DeFAI-Gateway/internal/llm"
	"DeFAI-Gateway/internal/prompts"
	"DeFAI-Gateway/internal/web3"
	"DeFAI-Gateway/pkg/logger"
)

// Analyzer 对合约地址做字节码、源代码与 AI 三层风险分析，
// 结果按地址缓存。
type Analyzer struct {
	reader    web3.ChainReader
	explorer  explorer.Service
	ai        llm.Client
	cache     Cache
	knownSafe map[common.Address]struct{}
	log       *slog.Logger
}

// NewAnalyzer 创建分析器。cache 为 nil 时退化为内存缓存。
func NewAnalyzer(reader web3.ChainReader, exp explorer.Service, ai llm.Client, cache Cache, knownSafe []string) *Analyzer {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Analyzer{
		reader:    reader,
		explorer:  exp,
		ai:        ai,
		cache:     cache,
		knownSafe: toAddressSet(knownSafe),
		log:       logger.Named("contract-risk"),
	}
}

// aiFinding 是大模型返回的单条结论的线上形态。
type aiFinding struct {
	Title          string `json:"title"`
	Category       string `json:"category"`
	RiskLevel      string `json:"risk_level"`
	Description    string `json:"description"`
	Recommendation string `json:"recommendation"`
}

type aiContractAssessment struct {
	SecurityScore  int         `json:"security_score"`
	RiskAssessment string      `json:"risk_assessment"`
	Findings       []aiFinding `json:"findings"`
}

// AnalyzeContract 生成合约的完整风险报告。forceRefresh 为 true
// 时跳过缓存重新分析。
func (a *Analyzer) AnalyzeContract(ctx context.Context, rawAddress string, forceRefresh bool) (*Report, error) {
	if !common.IsHexAddress(rawAddress) {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, fmt.Sprintf("非法合约地址: %s", rawAddress))
	}
	address := common.HexToAddress(rawAddress)

	if !forceRefresh {
		if cached, ok := a.cache.Get(ctx, address.Hex()); ok {
			return cached, nil
		}
	}

	a.log.Info("分析合约", slog.String("address", address.Hex()))

	chainID, err := a.reader.ChainID(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeRPCFailure, err, "查询链 ID 失败")
	}

	report := &Report{
		ContractAddress: address.Hex(),
		ChainID:         chainID.Int64(),
		Level:           LevelLow,
	}

	// 目标必须真的是合约。
	code, err := a.reader.CodeAt(ctx, address)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeRPCFailure, err, "查询合约字节码失败")
	}
	if len(code) == 0 {
		report.Level = LevelCritical
		report.AddFinding(Finding{
			Category:       CategoryImplementation,
			Level:          LevelCritical,
			Title:          "Not a Contract",
			Description:    "The address does not contain contract code. It might be an EOA or a self-destructed contract.",
			Recommendation: "Do not interact with this address as a contract.",
		})
		report.Summary = "CRITICAL RISK: Not a valid smart contract."
		a.cache.Set(ctx, address.Hex(), report)
		return report, nil
	}

	// 可信名单里的合约不再深入分析。
	if _, ok := a.knownSafe[address]; ok {
		report.Level = LevelSafe
		report.Verification = &explorer.Verification{Verified: true}
		report.Summary = "This contract is verified and marked as trusted."
		a.cache.Set(ctx, address.Hex(), report)
		return report, nil
	}

	// 浏览器验证状态。接口失败按未验证处理。
	verification, err := a.explorer.ContractVerification(ctx, address)
	if err != nil {
		a.log.Warn("查询合约验证状态失败", slog.Any("error", err))
		verification = &explorer.Verification{Verified: false}
	}
	report.Verification = verification

	if !verification.Verified {
		report.Level = LevelMedium
		report.AddFinding(Finding{
			Category:       CategoryImplementation,
			Level:          LevelMedium,
			Title:          "Unverified Contract",
			Description:    "The contract source code is not verified on block explorer.",
			Recommendation: "Exercise caution when interacting with unverified contracts.",
		})
	}

	// 字节码扫描
	bytecode := ScanBytecode(code)
	report.Bytecode = bytecode
	a.applyBytecodeFindings(report, bytecode)

	// 已验证合约再扫一遍源代码
	if verification.Verified && verification.SourceCode != "" {
		source := ScanSource(verification.SourceCode)
		report.Source = source
		a.applySourceFindings(report, source)
	}

	// AI 分析
	assessment, aiFindings := a.assessContract(ctx, report)
	report.AIAnalysis = assessment
	for _, finding := range aiFindings {
		report.AddFinding(Finding{
			Category:       ParseCategory(finding.Category),
			Level:          ParseLevel(finding.RiskLevel),
			Title:          finding.Title,
			Description:    finding.Description,
			Recommendation: finding.Recommendation,
		})
	}

	// 最终等级取全部结论里的最高者。
	report.Level = LevelSafe
	for _, finding := range report.Findings {
		report.Level = Max(report.Level, finding.Level)
	}
	report.Summary = buildSummary(report)

	a.cache.Set(ctx, address.Hex(), report)
	return report, nil
}

func (a *Analyzer) applyBytecodeFindings(report *Report, bytecode *BytecodeSummary) {
	for selector, signature := range bytecode.DangerousFunctions {
		report.AddFinding(Finding{
			Category:       CategoryImplementation,
			Level:          LevelHigh,
			Title:          fmt.Sprintf("Dangerous Function: %s", signature),
			Description:    fmt.Sprintf("The contract contains potentially dangerous function %s.", signature),
			Locations:      []string{fmt.Sprintf("Function signature: %s", selector)},
			Recommendation: "Review how and when this function can be called.",
		})
	}
	if bytecode.SelfDestruct {
		report.AddFinding(Finding{
			Category:       CategoryImplementation,
			Level:          LevelHigh,
			Title:          "Self-Destruct Found",
			Description:    "The contract contains code that can self-destruct, potentially locking funds forever.",
			Recommendation: "Verify the conditions under which self-destruct can be triggered.",
		})
	}
	if bytecode.Delegatecall {
		report.AddFinding(Finding{
			Category:       CategoryExternalCalls,
			Level:          LevelMedium,
			Title:          "Delegatecall Usage",
			Description:    "The contract uses delegatecall which can be dangerous if not properly secured.",
			Recommendation: "Ensure delegatecall targets are trusted and cannot be manipulated.",
		})
	}
	if bytecode.IsProxy {
		report.AddFinding(Finding{
			Category:       CategoryUpgradeable,
			Level:          LevelMedium,
			Title:          "Proxy Pattern Detected",
			Description:    "This appears to be a proxy contract that delegates to another implementation.",
			Recommendation: "Review the upgrade mechanism and implementation contract.",
		})
	}
}

func (a *Analyzer) applySourceFindings(report *Report, source *SourceSummary) {
	if source.UpgradeabilityRisk {
		report.AddFinding(Finding{
			Category:       CategoryUpgradeable,
			Level:          LevelMedium,
			Title:          "Upgradeable Contract",
			Description:    "This contract can be upgraded, potentially changing its behavior in the future.",
			Recommendation: "Monitor upgrade events and admin operations on this contract.",
		})
	}
	if source.CentralizedOwnership {
		report.AddFinding(Finding{
			Category:       CategoryAccessControl,
			Level:          LevelMedium,
			Title:          "Centralized Control",
			Description:    "The contract has centralized control through owner/admin functions.",
			Recommendation: "Verify the trustworthiness of the contract owner/admin.",
		})
	}
}

func (a *Analyzer) assessContract(ctx context.Context, report *Report) (*AIAssessment, []aiFinding) {
	payload := map[string]any{
		"contract_address":  report.ContractAddress,
		"chain_id":          report.ChainID,
		"bytecode_analysis": report.Bytecode,
	}
	if report.Source != nil {
		payload["source_analysis"] = report.Source
	}
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		encoded = []byte("{}")
	}

	response, err := a.ai.Generate(ctx, llm.Request{Prompt: prompts.ContractRisk(string(encoded))})
	if err != nil {
		a.log.Error("AI 分析失败", slog.Any("error", err))
		return &AIAssessment{
				SecurityScore:  0,
				RiskAssessment: fmt.Sprintf("AI analysis failed: %v", err),
			}, []aiFinding{{
				Title:          "AI Analysis Failed",
				Category:       string(CategoryOperational),
				RiskLevel:      LevelMedium.String(),
				Description:    fmt.Sprintf("Error during AI analysis: %v", err),
				Recommendation: "Retry analysis or perform manual review.",
			}}
	}

	extraction := llm.ExtractObject(response.Content)
	if extraction.Parsed {
		var parsed aiContractAssessment
		if err := extraction.Decode(&parsed); err == nil {
			return &AIAssessment{
				SecurityScore:  parsed.SecurityScore,
				RiskAssessment: parsed.RiskAssessment,
				Raw:            response.Content,
			}, parsed.Findings
		}
	}

	return &AIAssessment{
			SecurityScore:  50,
			RiskAssessment: "AI couldn't provide structured analysis. Manual review recommended.",
			Raw:            response.Content,
		}, []aiFinding{{
			Title:          "AI Analysis Error",
			Category:       string(CategoryImplementation),
			RiskLevel:      LevelMedium.String(),
			Description:    "The AI response couldn't be parsed into structured data.",
			Recommendation: "Perform manual code review.",
		}}
}

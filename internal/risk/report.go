package risk

import (
	"fmt"

	"DeFAI-Gateway/internal/explorer"
)

// Category 标识风险结论所属的维度。
type Category string

const (
	CategoryImplementation Category = "implementation"
	CategoryAccessControl  Category = "access_control"
	CategoryUpgradeable    Category = "upgradeable"
	CategoryExternalCalls  Category = "external_calls"
	CategoryFinancial      Category = "financial"
	CategoryOperational    Category = "operational"
)

// ParseCategory 解析线上表示，未识别的归入 implementation。
func ParseCategory(raw string) Category {
	switch Category(raw) {
	case CategoryImplementation, CategoryAccessControl, CategoryUpgradeable,
		CategoryExternalCalls, CategoryFinancial, CategoryOperational:
		return Category(raw)
	default:
		return CategoryImplementation
	}
}

// Finding 描述针对合约的一条具体风险结论。
type Finding struct {
	Category       Category `json:"category"`
	Level          Level    `json:"risk_level"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Locations      []string `json:"locations,omitempty"`
	Recommendation string   `json:"recommendation,omitempty"`
}

// BytecodeSummary 汇总字节码静态扫描的结果。
type BytecodeSummary struct {
	DangerousFunctions map[string]string `json:"dangerous_functions"`
	SelfDestruct       bool              `json:"selfdestruct_found"`
	Delegatecall       bool              `json:"delegatecall_found"`
	IsProxy            bool              `json:"is_proxy"`
}

// SourceSummary 汇总源代码的标记扫描结果。基于子串匹配而非 AST，
// 只能提示倾向，不能证明漏洞。
type SourceSummary struct {
	UpgradeabilityRisk   bool `json:"upgradeability_risk"`
	CentralizedOwnership bool `json:"centralized_ownership"`
	TimestampDependency  bool `json:"timestamp_dependency"`
}

// AIAssessment 是大模型对交易或合约的补充评估。
type AIAssessment struct {
	SecurityScore  int    `json:"security_score"`
	RiskAssessment string `json:"risk_assessment"`
	Recommendation string `json:"recommendation,omitempty"`
	Raw            string `json:"raw_ai_response,omitempty"`
}

// Report 是针对单个合约地址的完整风险报告。
type Report struct {
	ContractAddress string                 `json:"contract_address"`
	ChainID         int64                  `json:"chain_id"`
	Level           Level                  `json:"risk_level"`
	Findings        []Finding              `json:"findings"`
	Verification    *explorer.Verification `json:"verification_status,omitempty"`
	Bytecode        *BytecodeSummary       `json:"bytecode_analysis,omitempty"`
	Source          *SourceSummary         `json:"source_code_analysis,omitempty"`
	AIAnalysis      *AIAssessment          `json:"ai_analysis,omitempty"`
	Summary         string                 `json:"summary"`
}

// AddFinding 追加一条结论并单调抬升整体等级。
func (r *Report) AddFinding(finding Finding) {
	r.Findings = append(r.Findings, finding)
	if finding.Level > r.Level {
		r.Level = finding.Level
	}
}

// CountByLevel 返回指定等级的结论数量。
func (r *Report) CountByLevel(level Level) int {
	count := 0
	for _, finding := range r.Findings {
		if finding.Level == level {
			count++
		}
	}
	return count
}

// FindingsByCategory 返回指定维度下的全部结论。
func (r *Report) FindingsByCategory(category Category) []Finding {
	var matched []Finding
	for _, finding := range r.Findings {
		if finding.Category == category {
			matched = append(matched, finding)
		}
	}
	return matched
}

// buildSummary 根据结论数量生成人类可读的总结。
func buildSummary(r *Report) string {
	critical := r.CountByLevel(LevelCritical)
	high := r.CountByLevel(LevelHigh)
	medium := r.CountByLevel(LevelMedium)
	low := r.CountByLevel(LevelLow)

	switch {
	case critical > 0:
		return fmt.Sprintf("CRITICAL RISK: Found %d critical, %d high, and %d medium issues. DO NOT interact with this contract.", critical, high, medium)
	case high > 0:
		return fmt.Sprintf("HIGH RISK: Found %d high and %d medium security issues. Proceed with extreme caution.", high, medium)
	case medium > 0:
		return fmt.Sprintf("MEDIUM RISK: Found %d medium and %d low security issues. Review findings before proceeding.", medium, low)
	case low > 0:
		return fmt.Sprintf("LOW RISK: Found %d minor security considerations. Contract appears relatively safe.", low)
	default:
		return "Contract appears safe based on our analysis. No security issues detected."
	}
}

package risk

import (
	"encoding/hex"
	"regexp"
	"strings"
)

// dangerousFunctions 列出需要额外审视的函数选择器。
// 命中并不等于漏洞，只说明合约暴露了敏感能力。
var dangerousFunctions = map[string]string{
	"0x41c0e1b5": "selfdestruct(address)",
	"0x9cb8a26a": "selfDestruct()",
	"0xa6cd9552": "destruct()",
	"0xf2fde38b": "transferOwnership(address)",
	"0x8da5cb5b": "owner()",
	"0x715018a6": "renounceOwnership()",
	"0x3659cfe6": "upgradeTo(address)",
	"0x4f1ef286": "upgradeToAndCall(address,bytes)",
	"0x095ea7b3": "approve(address,uint256)",
	"0xa22cb465": "setApprovalForAll(address,bool)",
}

// 在反汇编之外用模式近似识别 SELFDESTRUCT / DELEGATECALL 的使用：
// 操作码后跟随有限长度的其它字节并以 POP 或 RETURN 收尾。
var (
	selfDestructPattern = regexp.MustCompile(`ff(?:[0-9a-f]{2}){0,32}(?:50|f3)`)
	delegatecallPattern = regexp.MustCompile(`f4(?:[0-9a-f]{2}){0,32}(?:50|f3)`)
)

// ScanBytecode 对部署字节码做静态扫描。
func ScanBytecode(code []byte) *BytecodeSummary {
	summary := &BytecodeSummary{DangerousFunctions: map[string]string{}}
	if len(code) == 0 {
		return summary
	}

	encoded := strings.ToLower(hex.EncodeToString(code))

	// 1. 选择器匹配
	for selector, signature := range dangerousFunctions {
		if strings.Contains(encoded, strings.TrimPrefix(selector, "0x")) {
			summary.DangerousFunctions[selector] = signature
		}
	}

	// 2. 危险操作码模式
	summary.SelfDestruct = selfDestructPattern.MatchString(encoded)
	summary.Delegatecall = delegatecallPattern.MatchString(encoded)

	// 3. 短小且带 delegatecall 的字节码大概率是代理
	summary.IsProxy = summary.Delegatecall && len(encoded) < 1000

	return summary
}

// 源代码标记。子串匹配，区分大小写与原始写法一致。
var (
	upgradeabilityMarkers = []string{"upgradeTo", "upgradeToAndCall", "delegatecall", "Proxy", "implementation()"}
	ownershipMarkers      = []string{"onlyOwner", "Ownable", "transferOwnership"}
	timestampMarkers      = []string{"block.timestamp", "now "}
)

// ScanSource 对已验证合约的源代码做标记扫描。
func ScanSource(source string) *SourceSummary {
	summary := &SourceSummary{}
	if source == "" {
		return summary
	}
	summary.UpgradeabilityRisk = containsAny(source, upgradeabilityMarkers)
	summary.CentralizedOwnership = containsAny(source, ownershipMarkers)
	summary.TimestampDependency = containsAny(source, timestampMarkers)
	return summary
}

func containsAny(haystack string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}

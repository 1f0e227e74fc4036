package web3

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// TokenRegistry models the structure of configs/tokens.yaml: the chain's
// native and wrapped token symbols, router contracts, and the listed tokens
// users can reference by symbol.
type TokenRegistry struct {
	Native  string                     `yaml:"native"`
	Wrapped string                     `yaml:"wrapped"`
	Routers RouterAddresses            `yaml:"routers"`
	Tokens  map[string]TokenDefinition `yaml:"tokens"`
}

// RouterAddresses lists the DEX contracts transactions are built against.
type RouterAddresses struct {
	SwapRouter      string `yaml:"swap_router"`
	PositionManager string `yaml:"position_manager"`
}

// TokenDefinition describes a single listed token.
type TokenDefinition struct {
	Address  string `yaml:"address"`
	Decimals int    `yaml:"decimals"`
}

// LoadTokenRegistry parses the YAML file containing token metadata.
func LoadTokenRegistry(path string) (*TokenRegistry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("代币表路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取代币表失败: %w", err)
	}

	var registry TokenRegistry
	if err := yaml.Unmarshal(content, &registry); err != nil {
		return nil, fmt.Errorf("解析代币表失败: %w", err)
	}
	return normalizeRegistry(&registry)
}

// NewTokenRegistry builds a registry from already-loaded definitions. Used by
// tests and demo mode.
func NewTokenRegistry(native, wrapped string, routers RouterAddresses, tokens map[string]TokenDefinition) (*TokenRegistry, error) {
	registry := &TokenRegistry{Native: native, Wrapped: wrapped, Routers: routers, Tokens: tokens}
	return normalizeRegistry(registry)
}

func normalizeRegistry(registry *TokenRegistry) (*TokenRegistry, error) {
	registry.Native = strings.ToUpper(strings.TrimSpace(registry.Native))
	registry.Wrapped = strings.ToUpper(strings.TrimSpace(registry.Wrapped))
	if registry.Native == "" {
		return nil, fmt.Errorf("代币表缺少 native 符号")
	}
	if registry.Wrapped == "" {
		return nil, fmt.Errorf("代币表缺少 wrapped 符号")
	}

	normalized := make(map[string]TokenDefinition, len(registry.Tokens))
	for symbol, def := range registry.Tokens {
		upper := strings.ToUpper(strings.TrimSpace(symbol))
		if !common.IsHexAddress(def.Address) {
			return nil, fmt.Errorf("代币 %s 的地址非法: %s", upper, def.Address)
		}
		if def.Decimals <= 0 {
			def.Decimals = 18
		}
		def.Address = common.HexToAddress(def.Address).Hex()
		normalized[upper] = def
	}
	registry.Tokens = normalized

	if _, ok := registry.Tokens[registry.Wrapped]; !ok {
		return nil, fmt.Errorf("代币表缺少 wrapped 代币 %s 的定义", registry.Wrapped)
	}
	for name, addr := range map[string]string{
		"swap_router":      registry.Routers.SwapRouter,
		"position_manager": registry.Routers.PositionManager,
	} {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("路由合约 %s 的地址非法: %s", name, addr)
		}
	}
	registry.Routers.SwapRouter = common.HexToAddress(registry.Routers.SwapRouter).Hex()
	registry.Routers.PositionManager = common.HexToAddress(registry.Routers.PositionManager).Hex()
	return registry, nil
}

// IsNative reports whether the symbol refers to the chain's native token.
func (r *TokenRegistry) IsNative(symbol string) bool {
	return strings.ToUpper(strings.TrimSpace(symbol)) == r.Native
}

// Lookup resolves a token symbol to its definition. The native symbol has no
// contract address and resolves to false.
func (r *TokenRegistry) Lookup(symbol string) (TokenDefinition, bool) {
	def, ok := r.Tokens[strings.ToUpper(strings.TrimSpace(symbol))]
	return def, ok
}

// Address resolves a token symbol to its contract address.
func (r *TokenRegistry) Address(symbol string) (common.Address, bool) {
	def, ok := r.Lookup(symbol)
	if !ok {
		return common.Address{}, false
	}
	return common.HexToAddress(def.Address), true
}

// WrappedAddress returns the wrapped native token contract address.
func (r *TokenRegistry) WrappedAddress() common.Address {
	addr, _ := r.Address(r.Wrapped)
	return addr
}

// SwapRouter returns the DEX swap router address.
func (r *TokenRegistry) SwapRouter() common.Address {
	return common.HexToAddress(r.Routers.SwapRouter)
}

// PositionManager returns the DEX position manager address.
func (r *TokenRegistry) PositionManager() common.Address {
	return common.HexToAddress(r.Routers.PositionManager)
}

// Symbols returns all listed symbols plus the native symbol, for prompts and
// error messages.
func (r *TokenRegistry) Symbols() []string {
	symbols := make([]string, 0, len(r.Tokens)+1)
	symbols = append(symbols, r.Native)
	for symbol := range r.Tokens {
		symbols = append(symbols, symbol)
	}
	return symbols
}

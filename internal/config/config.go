package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config 描述了 defaid 在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	LLM      LLMConfig      `json:"llm"`
	Web3     Web3Config     `json:"web3"`
	Risk     RiskConfig     `json:"risk"`
	Storage  StorageConfig  `json:"storage"`
	Cache    CacheConfig    `json:"cache"`
	Notify   NotifyConfig   `json:"notify"`
	Oracle   OracleConfig   `json:"oracle"`
	Explorer ExplorerConfig `json:"explorer"`
	Runtime  RuntimeConfig  `json:"runtime"`
	Logging  LoggingConfig  `json:"logging"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider string         `json:"provider"`
	OpenAI   ProviderConfig `json:"openai"`
	Gemini   ProviderConfig `json:"gemini"`
}

// ProviderConfig 描述单个大模型 provider 的访问信息。
type ProviderConfig struct {
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回 provider 的调用超时时间。
func (p ProviderConfig) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// Web3Config 包含访问区块链节点所需的 RPC 地址与代币表路径。
type Web3Config struct {
	RPCURL     string `json:"rpc_url"`
	ChainID    int64  `json:"chain_id"`
	TokensPath string `json:"tokens_path"`
}

// RiskConfig 控制交易风险评估的附加名单。
type RiskConfig struct {
	ScamAddresses      []string `json:"scam_addresses"`
	KnownSafeAddresses []string `json:"known_safe_addresses"`
}

// StorageConfig 描述交易历史的持久化后端。
type StorageConfig struct {
	History HistoryStoreConfig `json:"history"`
}

// HistoryStoreConfig 目前提供内存实现，后续可以切换到真正的 MySQL。
type HistoryStoreConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// CacheConfig 描述合约风险报告缓存的后端。
type CacheConfig struct {
	Driver   string `json:"driver"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// NotifyConfig 描述广播事件的通知通道。
type NotifyConfig struct {
	Driver string `json:"driver"`
	URL    string `json:"url"`
	Queue  string `json:"queue"`
}

// OracleConfig 描述价格预言机合约的访问方式。
type OracleConfig struct {
	ContractAddress string `json:"contract_address"`
}

// ExplorerConfig 描述区块浏览器 API 的访问方式。
type ExplorerConfig struct {
	BaseURL        string `json:"base_url"`
	APIKey         string `json:"api_key"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	DemoMode       bool   `json:"demo_mode"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// LoggingConfig 控制日志输出方式。
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	AuditPath   string   `json:"audit_path"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}

	if c.Storage.History.Driver == "" {
		c.Storage.History.Driver = "memory"
	}

	if c.Cache.Driver == "" {
		c.Cache.Driver = "memory"
	}

	if c.Notify.Driver == "" {
		c.Notify.Driver = "none"
	}

	if c.Web3.TokensPath == "" {
		c.Web3.TokensPath = filepath.Join(baseDir, "tokens.yaml")
	} else if !filepath.IsAbs(c.Web3.TokensPath) {
		c.Web3.TokensPath = filepath.Join(baseDir, c.Web3.TokensPath)
	}

	if c.Explorer.TimeoutSeconds <= 0 {
		c.Explorer.TimeoutSeconds = 10
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Verification 描述合约在区块浏览器上的验证状态与元数据。
type Verification struct {
	Verified        bool   `json:"is_verified"`
	Name            string `json:"name,omitempty"`
	CompilerVersion string `json:"compiler_version,omitempty"`
	License         string `json:"license,omitempty"`
	SourceCode      string `json:"-"`
}

// Service 定义合约风险分析所需的浏览器查询能力。
type Service interface {
	ContractVerification(ctx context.Context, contract common.Address) (*Verification, error)
}

// Config 描述了调用区块浏览器 API 所需的信息。
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPClient 通过 etherscan 风格的 API 查询合约验证信息。
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPClient 根据配置创建浏览器客户端。
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("未配置区块浏览器地址")
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// ContractVerification 查询合约的验证状态与源代码。
func (c *HTTPClient) ContractVerification(ctx context.Context, contract common.Address) (*Verification, error) {
	query := url.Values{}
	query.Set("module", "contract")
	query.Set("action", "getsourcecode")
	query.Set("address", contract.Hex())
	if c.apiKey != "" {
		query.Set("apikey", c.apiKey)
	}

	endpoint := c.baseURL + "/api?" + query.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("构建浏览器请求失败: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求区块浏览器失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("区块浏览器返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Status string `json:"status"`
		Result []struct {
			SourceCode      string `json:"SourceCode"`
			ContractName    string `json:"ContractName"`
			CompilerVersion string `json:"CompilerVersion"`
			LicenseType     string `json:"LicenseType"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析浏览器响应失败: %w", err)
	}
	if len(decoded.Result) == 0 {
		return &Verification{Verified: false}, nil
	}

	entry := decoded.Result[0]
	if strings.TrimSpace(entry.SourceCode) == "" {
		return &Verification{Verified: false}, nil
	}
	return &Verification{
		Verified:        true,
		Name:            entry.ContractName,
		CompilerVersion: entry.CompilerVersion,
		License:         entry.LicenseType,
		SourceCode:      entry.SourceCode,
	}, nil
}

// stubVerified 是演示模式下视为已验证的 DEX 合约集合。
var stubVerified = map[string]struct{}{
	"0x16b619b04c961e8f4f06c10b42fdabb328980a89": {},
	"0x4a1e5a90e9943467fad1acea1e7f0e5e88472a1e": {},
	"0x2dcabbb3a5fe9dbb1f43edf48449aa7254ef3a80": {},
	"0x8a2578d23d4c532cc9a98fad91c0523f5efde652": {},
}

const stubSource = `// SPDX-License-Identifier: BUSL-1.1
pragma solidity ^0.8.0;

contract MockContract {
    address public owner;

    constructor() {
        owner = msg.sender;
    }

    function setOwner(address newOwner) external {
        require(msg.sender == owner, "Not owner");
        owner = newOwner;
    }
}`

// Stub 返回固定数据，供演示模式与测试使用。
type Stub struct{}

// ContractVerification 对已收录的 DEX 合约返回已验证的元数据。
func (Stub) ContractVerification(_ context.Context, contract common.Address) (*Verification, error) {
	if _, ok := stubVerified[strings.ToLower(contract.Hex())]; ok {
		return &Verification{
			Verified:        true,
			Name:            "SparkDEX Contract",
			CompilerVersion: "0.8.19",
			License:         "BUSL-1.1",
			SourceCode:      stubSource,
		}, nil
	}
	return &Verification{Verified: false}, nil
}

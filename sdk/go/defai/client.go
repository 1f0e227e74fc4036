// Package defai provides a small Go client for the DeFAI gateway REST API.
package defai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the DeFAI gateway REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// ChatRequest is the payload for a conversational turn. SessionID may be
// empty on the first message; the gateway assigns one.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// ChatReply is the gateway's answer to a conversational turn.
type ChatReply struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}

// Transaction mirrors the JSON-RPC style transaction payload accepted by the
// standalone validation endpoint.
type Transaction struct {
	From                 string  `json:"from,omitempty"`
	To                   string  `json:"to,omitempty"`
	Value                string  `json:"value,omitempty"`
	Data                 string  `json:"data,omitempty"`
	Gas                  uint64  `json:"gas,omitempty"`
	MaxFeePerGas         string  `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas string  `json:"maxPriorityFeePerGas,omitempty"`
	Nonce                *uint64 `json:"nonce,omitempty"`
	ChainID              int64   `json:"chainId,omitempty"`
}

// ValidationResult is the outcome of the transaction risk pipeline.
type ValidationResult struct {
	IsValid        bool     `json:"is_valid"`
	RiskLevel      string   `json:"risk_level"`
	Warnings       []string `json:"warnings"`
	Recommendation string   `json:"recommendation"`
}

// ContractReport is the summarized contract risk analysis.
type ContractReport struct {
	ContractAddress string            `json:"contract_address"`
	ChainID         int64             `json:"chain_id"`
	RiskLevel       string            `json:"risk_level"`
	Summary         string            `json:"summary"`
	Findings        []ContractFinding `json:"findings"`
}

// ContractFinding is a single issue raised by the analysis.
type ContractFinding struct {
	Category       string `json:"category"`
	Level          string `json:"risk_level"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Recommendation string `json:"recommendation,omitempty"`
}

// HistoryRecord is one past operation of a session.
type HistoryRecord struct {
	SessionID   string `json:"session_id"`
	Description string `json:"description"`
	TxHash      string `json:"tx_hash"`
	RiskLevel   string `json:"risk_level"`
	Status      string `json:"status"`
	CreatedAt   int64  `json:"created_at"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("defai api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the DeFAI gateway API. When httpClient
// is nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Chat sends one conversational message and returns the gateway's reply.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (ChatReply, error) {
	var reply ChatReply
	if err := c.post(ctx, "/", req, &reply); err != nil {
		return ChatReply{}, err
	}
	return reply, nil
}

// ValidateTransaction runs a transaction through the risk pipeline without
// signing or broadcasting it.
func (c *Client) ValidateTransaction(ctx context.Context, tx Transaction, sender string) (ValidationResult, error) {
	payload := struct {
		Transaction   Transaction `json:"transaction"`
		SenderAddress string      `json:"sender_address"`
	}{Transaction: tx, SenderAddress: sender}

	var result ValidationResult
	if err := c.post(ctx, "/transaction/validate", payload, &result); err != nil {
		return ValidationResult{}, err
	}
	return result, nil
}

// AnalyzeContract requests a contract risk report. Set forceRefresh to skip
// the gateway's report cache.
func (c *Client) AnalyzeContract(ctx context.Context, address string, forceRefresh bool) (ContractReport, error) {
	payload := struct {
		ContractAddress string `json:"contract_address"`
		ForceRefresh    bool   `json:"force_refresh"`
	}{ContractAddress: address, ForceRefresh: forceRefresh}

	var report ContractReport
	if err := c.post(ctx, "/transaction/analyze-contract", payload, &report); err != nil {
		return ContractReport{}, err
	}
	return report, nil
}

// History lists recent operations. sessionID may be empty to list across all
// sessions.
func (c *Client) History(ctx context.Context, sessionID string, limit int) ([]HistoryRecord, error) {
	endpoint := "/history?"
	query := url.Values{}
	if sessionID != "" {
		query.Set("session_id", sessionID)
	}
	if limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", limit))
	}
	endpoint += query.Encode()

	var records []HistoryRecord
	if err := c.get(ctx, endpoint, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Health reports whether the gateway is up.
func (c *Client) Health(ctx context.Context) error {
	var status map[string]string
	return c.get(ctx, "/health", &status)
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	if rel.Path == "" {
		rel.Path = "/"
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			// the gateway returns either {"error": "..."} or plain text
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

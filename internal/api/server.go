package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"DeFAI-Gateway/internal/agent"
	xerrors "DeFAI-Gateway/internal/errors"
	"DeFAI-Gateway/internal/web3"
)

// Server 负责暴露 REST 接口，是对话路由与风控能力的对外边界。
type Server struct {
	addr   string
	router *agent.Router
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, router *agent.Router) *Server {
	return &Server{addr: addr, router: router}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Handler 返回完整路由表，便于测试直接挂到 httptest。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleChat)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/history", s.handleHistory)
	mux.HandleFunc("/transaction/validate", s.handleValidate)
	mux.HandleFunc("/transaction/analyze-contract", s.handleAnalyzeContract)
	return mux
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.router == nil {
		http.Error(w, "路由器未初始化", http.StatusServiceUnavailable)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	reply, err := s.router.HandleMessage(r.Context(), req.SessionID, req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, reply)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]string{"status": "healthy"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	records, err := s.router.ListHistory(r.Context(), r.URL.Query().Get("session_id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, records)
}

// txPayload 是交易校验接口的线上形态，字段名与 JSON-RPC 保持一致。
type txPayload struct {
	From                 string  `json:"from"`
	To                   string  `json:"to"`
	Value                string  `json:"value"`
	Data                 string  `json:"data"`
	Gas                  uint64  `json:"gas"`
	MaxFeePerGas         string  `json:"maxFeePerGas"`
	MaxPriorityFeePerGas string  `json:"maxPriorityFeePerGas"`
	Nonce                *uint64 `json:"nonce"`
	ChainID              int64   `json:"chainId"`
}

type validateRequest struct {
	Transaction   txPayload `json:"transaction"`
	SenderAddress string    `json:"sender_address"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}

	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	if !common.IsHexAddress(req.SenderAddress) {
		http.Error(w, "sender_address 不是合法地址", http.StatusBadRequest)
		return
	}

	tx, err := req.Transaction.toParams()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := s.router.Validator().ValidateTransaction(r.Context(), tx, common.HexToAddress(req.SenderAddress))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, result)
}

func (p txPayload) toParams() (*web3.TxParams, error) {
	tx := &web3.TxParams{Gas: p.Gas, Nonce: p.Nonce}

	if p.From != "" {
		if !common.IsHexAddress(p.From) {
			return nil, errors.New("from 不是合法地址")
		}
		tx.From = common.HexToAddress(p.From)
	}
	if p.To != "" {
		if !common.IsHexAddress(p.To) {
			return nil, errors.New("to 不是合法地址")
		}
		to := common.HexToAddress(p.To)
		tx.To = &to
	}
	if p.Value != "" {
		value, ok := new(big.Int).SetString(p.Value, 0)
		if !ok {
			return nil, errors.New("value 不是合法数字")
		}
		tx.Value = value
	}
	if p.MaxFeePerGas != "" {
		feeCap, ok := new(big.Int).SetString(p.MaxFeePerGas, 0)
		if !ok {
			return nil, errors.New("maxFeePerGas 不是合法数字")
		}
		tx.GasFeeCap = feeCap
	}
	if p.MaxPriorityFeePerGas != "" {
		tipCap, ok := new(big.Int).SetString(p.MaxPriorityFeePerGas, 0)
		if !ok {
			return nil, errors.New("maxPriorityFeePerGas 不是合法数字")
		}
		tx.GasTipCap = tipCap
	}
	if p.Data != "" {
		tx.Data = common.FromHex(p.Data)
	}
	if p.ChainID != 0 {
		tx.ChainID = big.NewInt(p.ChainID)
	}
	return tx, nil
}

type analyzeRequest struct {
	ContractAddress string `json:"contract_address"`
	ForceRefresh    bool   `json:"force_refresh"`
}

func (s *Server) handleAnalyzeContract(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	report, err := s.router.Analyzer().AnalyzeContract(r.Context(), req.ContractAddress, req.ForceRefresh)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, report)
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError 把业务错误码映射为 HTTP 状态码。
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case xerrors.CodeNotFound, xerrors.CodeSessionNotFound:
		status = http.StatusNotFound
	case xerrors.CodeTimeout:
		status = http.StatusGatewayTimeout
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

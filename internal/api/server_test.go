package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"

	"DeFAI-Gateway/internal/agent"
	"DeFAI-Gateway/internal/defi"
	"DeFAI-Gateway/internal/explorer"
	"DeFAI-Gateway/internal/llm"
	"DeFAI-Gateway/internal/risk"
	"DeFAI-Gateway/internal/session"
	"DeFAI-Gateway/internal/storage/mysql"
	"DeFAI-Gateway/internal/web3"
)

type fakeReader struct{}

func (fakeReader) BalanceAt(context.Context, common.Address) (*big.Int, error) {
	return new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18)), nil
}

func (fakeReader) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 5, nil
}

func (fakeReader) CodeAt(context.Context, common.Address) ([]byte, error) {
	return nil, nil
}

func (fakeReader) SuggestFees(context.Context) (*big.Int, *big.Int, error) {
	return big.NewInt(30_000_000_000), big.NewInt(1_000_000_000), nil
}

func (fakeReader) ChainID(context.Context) (*big.Int, error) {
	return big.NewInt(114), nil
}

func (fakeReader) LatestBlockTime(context.Context) (uint64, error) {
	return 1_700_000_000, nil
}

func (fakeReader) CallContract(context.Context, common.Address, []byte) ([]byte, error) {
	return common.LeftPadBytes(big.NewInt(0).Bytes(), 32), nil
}

type scriptedLLM struct {
	responses []string
	err       error
}

func (s *scriptedLLM) Generate(context.Context, llm.Request) (*llm.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return &llm.Response{Content: ""}, nil
	}
	content := s.responses[0]
	s.responses = s.responses[1:]
	return &llm.Response{Content: content}, nil
}

type fakeBroadcaster struct{}

func (fakeBroadcaster) SendTransaction(_ context.Context, tx *coretypes.Transaction) (common.Hash, error) {
	return tx.Hash(), nil
}

func (fakeBroadcaster) WaitReceipt(context.Context, common.Hash) (*coretypes.Receipt, error) {
	return nil, nil
}

type fakeHistory struct {
	records []mysql.TxRecord
}

func (f *fakeHistory) Save(_ context.Context, record mysql.TxRecord) error {
	f.records = append(f.records, record)
	return nil
}

func (f *fakeHistory) ListBySession(_ context.Context, sessionID string, _ int) ([]mysql.TxRecord, error) {
	var results []mysql.TxRecord
	for _, record := range f.records {
		if sessionID != "" && record.SessionID != sessionID {
			continue
		}
		results = append(results, record)
	}
	return results, nil
}

const safeTarget = "0x000000000000000000000000000000000000dEaD"

func newTestServer(t *testing.T, ai *scriptedLLM, history *fakeHistory) *Server {
	t.Helper()

	reader := fakeReader{}
	registry, err := web3.NewTokenRegistry("FLR", "WFLR", web3.RouterAddresses{
		SwapRouter:      "0x8a1E35F5c98C4E85B36B7B253222eE17773b2781",
		PositionManager: "0xEE5FF5Bc5F852764b5584d92A4d592A53DC527da",
	}, map[string]web3.TokenDefinition{
		"WFLR": {Address: "0x1D80c49BbBCd1C0911346656B529DF9E5c2F783d", Decimals: 18},
	})
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	builder, err := defi.NewBuilder(reader, registry)
	if err != nil {
		t.Fatalf("failed to build builder: %v", err)
	}

	validator := risk.NewValidator(reader, &scriptedLLM{err: errors.New("llm disabled")}, nil, []string{safeTarget})
	analyzer := risk.NewAnalyzer(reader, explorer.Stub{}, &scriptedLLM{err: errors.New("llm disabled")}, nil, nil)

	opts := []agent.Option{}
	if history != nil {
		opts = append(opts, agent.WithHistory(history))
	}
	router, err := agent.New(ai, reader, fakeBroadcaster{}, builder, validator, analyzer, session.NewStore(), opts...)
	if err != nil {
		t.Fatalf("failed to build router: %v", err)
	}
	return NewServer(":0", router)
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t, &scriptedLLM{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["status"] != "healthy" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestChatEndpoint(t *testing.T) {
	server := newTestServer(t, &scriptedLLM{responses: []string{"CONVERSATIONAL", "Hi! How can I help?"}}, nil)

	payload := `{"message": "hello"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d body %s", rec.Code, rec.Body.String())
	}
	var reply agent.Reply
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if reply.Response != "Hi! How can I help?" {
		t.Fatalf("unexpected reply: %q", reply.Response)
	}
	if reply.SessionID == "" {
		t.Fatalf("expected a session id in the reply")
	}
}

func TestChatEndpointErrors(t *testing.T) {
	server := newTestServer(t, &scriptedLLM{}, nil)

	t.Run("invalid method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json"))
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("empty message", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"message": ""}`))
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})
}

func TestValidateEndpoint(t *testing.T) {
	server := newTestServer(t, &scriptedLLM{}, nil)

	payload := `{
        "transaction": {
            "from": "0x00000000000000000000000000000000000000A1",
            "to": "` + safeTarget + `",
            "value": "1500000000000000000",
            "gas": 21000,
            "maxFeePerGas": "30000000000",
            "nonce": 5,
            "chainId": 114
        },
        "sender_address": "0x00000000000000000000000000000000000000A1"
    }`
	req := httptest.NewRequest(http.MethodPost, "/transaction/validate", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d body %s", rec.Code, rec.Body.String())
	}
	var result risk.ValidationResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !result.IsValid {
		t.Fatalf("expected whitelisted target to validate, got %+v", result)
	}
	if result.Level != risk.LevelLow {
		t.Fatalf("expected low risk, got %s", result.Level)
	}
}

func TestValidateEndpointRejectsBadSender(t *testing.T) {
	server := newTestServer(t, &scriptedLLM{}, nil)

	payload := `{"transaction": {}, "sender_address": "not-an-address"}`
	req := httptest.NewRequest(http.MethodPost, "/transaction/validate", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestAnalyzeContractEndpoint(t *testing.T) {
	server := newTestServer(t, &scriptedLLM{}, nil)

	payload := `{"contract_address": "definitely-not-an-address"}`
	req := httptest.NewRequest(http.MethodPost, "/transaction/analyze-contract", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	history := &fakeHistory{records: []mysql.TxRecord{
		{SessionID: "s-1", Description: "send 1 FLR", TxHash: "0xabc", Status: "broadcast", CreatedAt: 1_700_000_000},
		{SessionID: "s-2", Description: "swap", Status: "rejected", CreatedAt: 1_700_000_100},
	}}
	server := newTestServer(t, &scriptedLLM{}, history)

	req := httptest.NewRequest(http.MethodGet, "/history?session_id=s-1", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d body %s", rec.Code, rec.Body.String())
	}
	var records []mysql.TxRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(records) != 1 || records[0].SessionID != "s-1" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

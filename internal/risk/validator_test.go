package risk

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"DeFAI-Gateway/internal/llm"
	"DeFAI-Gateway/internal/web3"
)

type stubChainReader struct {
	balance   *big.Int
	nonce     uint64
	nonceErr  error
	code      []byte
	codeCalls int
	chainID   *big.Int
}

func (s *stubChainReader) BalanceAt(context.Context, common.Address) (*big.Int, error) {
	if s.balance == nil {
		return big.NewInt(0), nil
	}
	return s.balance, nil
}

func (s *stubChainReader) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return s.nonce, s.nonceErr
}

func (s *stubChainReader) CodeAt(context.Context, common.Address) ([]byte, error) {
	s.codeCalls++
	return s.code, nil
}

func (s *stubChainReader) SuggestFees(context.Context) (*big.Int, *big.Int, error) {
	return big.NewInt(25_000_000_000), big.NewInt(1_000_000_000), nil
}

func (s *stubChainReader) ChainID(context.Context) (*big.Int, error) {
	if s.chainID == nil {
		return big.NewInt(114), nil
	}
	return s.chainID, nil
}

func (s *stubChainReader) LatestBlockTime(context.Context) (uint64, error) {
	return 1_700_000_000, nil
}

func (s *stubChainReader) CallContract(context.Context, common.Address, []byte) ([]byte, error) {
	return nil, nil
}

type stubLLM struct {
	response string
	err      error
	calls    int
}

func (s *stubLLM) Generate(context.Context, llm.Request) (*llm.Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{Content: s.response}, nil
}

func addr(hex string) *common.Address {
	a := common.HexToAddress(hex)
	return &a
}

func validTx() *web3.TxParams {
	nonce := uint64(7)
	return &web3.TxParams{
		To:        addr("0x000000000000000000000000000000000000dEaD"),
		Value:     big.NewInt(1_000_000_000_000_000_000),
		Gas:       21_000,
		GasFeeCap: big.NewInt(25_000_000_000),
		Nonce:     &nonce,
	}
}

var testSender = common.HexToAddress("0x00000000000000000000000000000000000000B2")

func TestValidateTransactionMissingFields(t *testing.T) {
	validator := NewValidator(&stubChainReader{}, &stubLLM{}, nil, nil)

	tx := validTx()
	tx.To = nil

	result, err := validator.ValidateTransaction(context.Background(), tx, testSender)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsValid {
		t.Fatalf("tx without recipient should be invalid")
	}
	if result.Level != LevelCritical {
		t.Fatalf("expected critical, got %s", result.Level)
	}
	found := false
	for _, warning := range result.Warnings {
		if strings.Contains(warning, "Missing required field: to") {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing-field warning absent: %v", result.Warnings)
	}
}

func TestValidateTransactionScamRecipient(t *testing.T) {
	scam := "0x000000000000000000000000000000000000dEaD"
	validator := NewValidator(&stubChainReader{}, &stubLLM{}, []string{scam}, nil)

	result, err := validator.ValidateTransaction(context.Background(), validTx(), testSender)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsValid || result.Level != LevelHigh {
		t.Fatalf("scam recipient should fail with high risk, got %+v", result)
	}
}

func TestValidateTransactionKnownSafeSkipsAI(t *testing.T) {
	ai := &stubLLM{response: `{"security_score": 5, "risk_assessment": "terrible"}`}
	safe := "0x000000000000000000000000000000000000dEaD"
	validator := NewValidator(&stubChainReader{}, ai, nil, []string{safe})

	result, err := validator.ValidateTransaction(context.Background(), validTx(), testSender)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsValid || result.Level != LevelLow {
		t.Fatalf("allow-listed recipient should be low risk, got %+v", result)
	}
	if ai.calls != 0 {
		t.Fatalf("AI should not run for allow-listed recipients")
	}
}

func TestValidateTransactionCannotAfford(t *testing.T) {
	reader := &stubChainReader{balance: big.NewInt(1)}
	ai := &stubLLM{response: `{"security_score": 95, "risk_assessment": "fine"}`}
	validator := NewValidator(reader, ai, nil, nil)

	result, err := validator.ValidateTransaction(context.Background(), validTx(), testSender)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Level != LevelHigh {
		t.Fatalf("unaffordable tx should be high risk, got %s", result.Level)
	}
	if result.Simulation == nil || result.Simulation.CanAfford {
		t.Fatalf("simulation should flag insufficient balance: %+v", result.Simulation)
	}
}

func TestValidateTransactionSafePath(t *testing.T) {
	balance, _ := new(big.Int).SetString("10000000000000000000", 10)
	reader := &stubChainReader{balance: balance}
	ai := &stubLLM{response: `{"security_score": 95, "risk_assessment": "routine transfer"}`}
	validator := NewValidator(reader, ai, nil, nil)

	result, err := validator.ValidateTransaction(context.Background(), validTx(), testSender)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsValid {
		t.Fatalf("expected valid result: %+v", result)
	}
	if result.Level != LevelSafe {
		t.Fatalf("expected safe, got %s", result.Level)
	}
	if result.Recommendation != "Transaction appears safe to execute." {
		t.Fatalf("unexpected recommendation: %s", result.Recommendation)
	}
}

func TestValidateTransactionAIDegradesGracefully(t *testing.T) {
	balance, _ := new(big.Int).SetString("10000000000000000000", 10)
	reader := &stubChainReader{balance: balance}

	// 非 JSON 输出：降级为 50 分，落在 medium 区间。
	validator := NewValidator(reader, &stubLLM{response: "I cannot answer that"}, nil, nil)
	result, err := validator.ValidateTransaction(context.Background(), validTx(), testSender)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.AIAnalysis.SecurityScore != 50 {
		t.Fatalf("expected fallback score 50, got %d", result.AIAnalysis.SecurityScore)
	}
	if result.Level != LevelMedium {
		t.Fatalf("expected medium, got %s", result.Level)
	}

	// 传输失败：0 分直接判 critical。
	validator = NewValidator(reader, &stubLLM{err: errors.New("connection refused")}, nil, nil)
	result, err = validator.ValidateTransaction(context.Background(), validTx(), testSender)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.AIAnalysis.SecurityScore != 0 {
		t.Fatalf("expected score 0 on transport failure, got %d", result.AIAnalysis.SecurityScore)
	}
	if result.Level != LevelCritical || result.IsValid {
		t.Fatalf("transport failure should reject the transaction, got %+v", result)
	}
}

func TestValidateTransactionNonceRPCFailure(t *testing.T) {
	reader := &stubChainReader{nonceErr: errors.New("rpc down")}
	validator := NewValidator(reader, &stubLLM{}, nil, nil)

	if _, err := validator.ValidateTransaction(context.Background(), validTx(), testSender); err == nil {
		t.Fatalf("expected error when nonce lookup fails")
	}
}

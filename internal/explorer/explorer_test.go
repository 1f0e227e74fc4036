package explorer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestHTTPClientVerifiedContract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("action") != "getsourcecode" {
			t.Fatalf("unexpected action: %s", r.URL.Query().Get("action"))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "1",
			"result": []map[string]any{
				{
					"SourceCode":      "contract Router {}",
					"ContractName":    "Router",
					"CompilerVersion": "v0.8.19",
					"LicenseType":     "MIT",
				},
			},
		})
	}))
	defer srv.Close()

	client, err := NewHTTPClient(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	verification, err := client.ContractVerification(context.Background(), common.HexToAddress("0x1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !verification.Verified || verification.Name != "Router" {
		t.Fatalf("unexpected verification: %+v", verification)
	}
}

func TestHTTPClientUnverifiedContract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "1",
			"result": []map[string]any{{"SourceCode": ""}},
		})
	}))
	defer srv.Close()

	client, err := NewHTTPClient(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	verification, err := client.ContractVerification(context.Background(), common.HexToAddress("0x2"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verification.Verified {
		t.Fatalf("expected unverified contract")
	}
}

func TestStubKnownContract(t *testing.T) {
	verification, err := Stub{}.ContractVerification(context.Background(), common.HexToAddress("0x16b619B04c961E8f4F06C10B42FDAbb328980A89"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !verification.Verified || verification.SourceCode == "" {
		t.Fatalf("expected canned verified contract, got %+v", verification)
	}

	verification, err = Stub{}.ContractVerification(context.Background(), common.HexToAddress("0x00000000000000000000000000000000000000aa"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verification.Verified {
		t.Fatalf("expected unverified contract")
	}
}

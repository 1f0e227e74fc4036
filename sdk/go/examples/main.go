package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"DeFAI-Gateway/sdk/go/defai"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(defai.ChatReply{
			Response:  "Your new account is ready.",
			SessionID: "demo-session",
		})
	})
	mux.HandleFunc("/transaction/validate", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(defai.ValidationResult{
			IsValid:        true,
			RiskLevel:      "low",
			Recommendation: "LOW RISK DETECTED. Transaction appears mostly safe but verify details.",
		})
	})
	mux.HandleFunc("/history", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]defai.HistoryRecord{{
			SessionID:   "demo-session",
			Description: "send 1 FLR to 0x000000000000000000000000000000000000dEaD",
			TxHash:      "0xabc",
			Status:      "broadcast",
			CreatedAt:   time.Now().Unix(),
		}})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := defai.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, err := client.Chat(ctx, defai.ChatRequest{Message: "create an account for me"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("chat reply (session=%s): %s\n", reply.SessionID, reply.Response)

	nonce := uint64(5)
	result, err := client.ValidateTransaction(ctx, defai.Transaction{
		From:         "0x00000000000000000000000000000000000000A1",
		To:           "0x000000000000000000000000000000000000dEaD",
		Value:        "1000000000000000000",
		Gas:          21000,
		MaxFeePerGas: "30000000000",
		Nonce:        &nonce,
		ChainID:      114,
	}, "0x00000000000000000000000000000000000000A1")
	if err != nil {
		panic(err)
	}
	fmt.Printf("validation: valid=%t level=%s\n", result.IsValid, result.RiskLevel)

	records, err := client.History(ctx, reply.SessionID, 10)
	if err != nil {
		panic(err)
	}
	for _, record := range records {
		fmt.Printf("history: %s (%s)\n", record.Description, record.Status)
	}
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"OpenPrompt-Chain/sdk/go/openprompt"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/runs", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(openprompt.Run{
				ID:     "run-demo",
				Chain:  "translate",
				Status: "pending",
			})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/runs/run-demo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(openprompt.Run{
			ID:     "run-demo",
			Chain:  "translate",
			Status: openprompt.StatusSucceeded,
			Result: &openprompt.RunResult{
				Output:      "Bonjour le monde",
				Model:       "gpt-4o-mini",
				TotalTokens: 14,
			},
		})
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := openprompt.NewClient(server.URL, server.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	submitted, err := client.SubmitRun(ctx, openprompt.RunSubmission{
		Chain: "translate",
		Input: map[string]any{"language": "French", "text": "Hello world"},
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("submitted run %s, status %s\n", submitted.ID, submitted.Status)

	detail, err := client.WaitForRun(ctx, submitted.ID, 200*time.Millisecond)
	if err != nil {
		panic(err)
	}
	fmt.Printf("run %s finished: %s\n", detail.ID, detail.Result.Output)
}

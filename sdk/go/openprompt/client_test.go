package openprompt

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitAndGetRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/runs":
			var submission RunSubmission
			if err := json.NewDecoder(r.Body).Decode(&submission); err != nil {
				t.Errorf("decode submission: %v", err)
			}
			if submission.Chain != "translate" {
				t.Errorf("unexpected chain: %q", submission.Chain)
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(Run{ID: "run-1", Chain: submission.Chain, Status: "pending"})
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/runs/run-1":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(Run{
				ID:     "run-1",
				Chain:  "translate",
				Status: StatusSucceeded,
				Result: &RunResult{Output: "Bonjour", TotalTokens: 11},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()

	submitted, err := client.SubmitRun(ctx, RunSubmission{Chain: "translate", Input: map[string]any{"text": "Hello"}})
	if err != nil {
		t.Fatalf("submit run: %v", err)
	}
	if submitted.ID != "run-1" || submitted.Status != "pending" {
		t.Fatalf("unexpected submission result: %+v", submitted)
	}

	detail, err := client.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if detail.Status != StatusSucceeded || detail.Result == nil || detail.Result.Output != "Bonjour" {
		t.Fatalf("unexpected run detail: %+v", detail)
	}
}

func TestListRunsEncodesFilters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if query.Get("status") != "failed,pending" {
			t.Errorf("unexpected status filter: %q", query.Get("status"))
		}
		if query.Get("chain") != "translate" {
			t.Errorf("unexpected chain filter: %q", query.Get("chain"))
		}
		if query.Get("limit") != "5" {
			t.Errorf("unexpected limit: %q", query.Get("limit"))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]Run{{ID: "run-2", Status: "failed"}})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	runs, err := client.ListRuns(context.Background(), ListRunsOptions{
		Statuses: []string{"failed", "pending"},
		Chain:    "translate",
		Limit:    5,
	})
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-2" {
		t.Fatalf("unexpected runs: %+v", runs)
	}
}

func TestWaitForRunPollsUntilTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := "running"
		if calls.Add(1) >= 3 {
			status = StatusSucceeded
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Run{ID: "run-3", Status: status})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	detail, err := client.WaitForRun(ctx, "run-3", 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait for run: %v", err)
	}
	if detail.Status != StatusSucceeded {
		t.Fatalf("unexpected terminal status: %q", detail.Status)
	}
	if calls.Load() < 3 {
		t.Fatalf("expected at least 3 polls, got %d", calls.Load())
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "run not found", "code": "RUN_NOT_FOUND"})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.GetRun(context.Background(), "ghost")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "RUN_NOT_FOUND" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

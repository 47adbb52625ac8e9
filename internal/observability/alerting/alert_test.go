package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	xerrors "OpenPrompt-Chain/internal/errors"
)

func TestWebhookNotifierPostsEvent(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	notifier := &WebhookNotifier{URL: srv.URL, Client: srv.Client()}
	err := notifier.Notify(context.Background(), Event{
		Code:       xerrors.CodeModelFailure,
		Message:    "模型调用失败",
		Severity:   xerrors.SeverityWarning,
		RunID:      "run-1",
		ChainName:  "translate",
		Attempts:   2,
		MaxRetries: 3,
		OccurredAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if received["run_id"] != "run-1" || received["chain"] != "translate" {
		t.Fatalf("unexpected payload: %+v", received)
	}
	if received["text"] == "" || received["text"] == nil {
		t.Fatalf("missing text field: %+v", received)
	}
}

func TestWebhookNotifierRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	notifier := &WebhookNotifier{URL: srv.URL, Client: srv.Client()}
	if err := notifier.Notify(context.Background(), Event{RunID: "run-2"}); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}

func TestFanoutReachesAllChannels(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
	}))
	defer srv.Close()

	dispatcher := NewFanout(
		&LogNotifier{},
		&WebhookNotifier{URL: srv.URL, Client: srv.Client()},
	)
	if err := dispatcher.Notify(context.Background(), Event{
		Code:      xerrors.CodeRetriesExhausted,
		Message:   "重试耗尽",
		Severity:  xerrors.SeverityCritical,
		RunID:     "run-3",
		ChainName: "summarize",
	}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if received["run_id"] != "run-3" {
		t.Fatalf("webhook channel not reached: %+v", received)
	}
}

package run

import (
	"context"
	stdErrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	xerrors "OpenPrompt-Chain/internal/errors"
	"OpenPrompt-Chain/internal/llm"
	"OpenPrompt-Chain/internal/observability/alerting"
	"OpenPrompt-Chain/internal/registry"
)

type fakeExecutor struct {
	processed atomic.Int32
	latency   time.Duration
	failures  map[string]error
	mu        sync.Mutex
}

func (f *fakeExecutor) Invoke(ctx context.Context, chainName string, input map[string]any) (*registry.Outcome, error) {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	err := f.failures[chainName]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	f.processed.Add(1)
	return &registry.Outcome{
		Output:       "ok",
		Parsed:       map[string]any{"chain": chainName},
		Model:        "test-model",
		FinishReason: "stop",
		Usage:        llm.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
	}, nil
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (d *recordingDispatcher) Notify(_ context.Context, event alerting.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return nil
}

func (d *recordingDispatcher) Events() []alerting.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]alerting.Event(nil), d.events...)
}

func TestProcessorHandlesConcurrentRuns(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	executor := &fakeExecutor{latency: 5 * time.Millisecond}

	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue, WithWorkerCount(8))

	go func() {
		if err := processor.Start(ctx); err != nil && !stdErrors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	total := 200
	for i := 0; i < total; i++ {
		input := map[string]any{"text": fmt.Sprintf("hello-%d", i)}
		if _, err := service.Submit(ctx, SubmitRequest{ChainName: "translate", Input: input}); err != nil {
			t.Fatalf("提交运行失败: %v", err)
		}
	}

	deadline := time.After(5 * time.Second)
	for {
		if int(executor.processed.Load()) >= total {
			cancel()
			break
		}
		select {
		case <-deadline:
			t.Fatalf("运行未能及时处理，已完成 %d", executor.processed.Load())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestProcessorRecordsOutcome(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(8)
	executor := &fakeExecutor{}

	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue, WithWorkerCount(1))

	go func() { _ = processor.Start(ctx) }()

	submitted, err := service.Submit(ctx, SubmitRequest{ChainName: "extract", Input: map[string]any{"text": "Ada"}})
	if err != nil {
		t.Fatalf("提交运行失败: %v", err)
	}

	done, err := service.WaitUntilCompleted(ctx, submitted.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("等待运行完成失败: %v", err)
	}
	if done.Status != StatusSucceeded {
		t.Fatalf("期望运行成功，实际状态 %s (%s)", done.Status, done.LastError)
	}
	if done.Result == nil {
		t.Fatal("运行结果缺失")
	}
	if done.Result.Output != "ok" || done.Result.Model != "test-model" {
		t.Fatalf("意外的运行结果: %+v", done.Result)
	}
	if done.Result.TotalTokens != 5 {
		t.Fatalf("用量未记录: %+v", done.Result)
	}
	if done.Result.Parsed == "" {
		t.Fatal("解析产物未持久化")
	}
}

func TestProcessorRetriesRetryableFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(8)
	executor := &fakeExecutor{failures: map[string]error{
		"flaky": xerrors.New(xerrors.CodeModelFailure, "上游超时"),
	}}
	dispatcher := &recordingDispatcher{}

	service := NewService(store, queue, 2)
	processor := NewProcessor(executor, store, queue, queue,
		WithWorkerCount(1),
		WithAlertDispatcher(dispatcher),
	)

	go func() { _ = processor.Start(ctx) }()

	submitted, err := service.Submit(ctx, SubmitRequest{ChainName: "flaky"})
	if err != nil {
		t.Fatalf("提交运行失败: %v", err)
	}

	done, err := service.WaitUntilCompleted(ctx, submitted.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("等待运行完成失败: %v", err)
	}
	if done.Status != StatusFailed {
		t.Fatalf("期望运行失败，实际 %s", done.Status)
	}
	if done.ErrorCode != string(xerrors.CodeModelFailure) {
		t.Fatalf("错误码未记录: %q", done.ErrorCode)
	}

	// 等待重试次数耗尽后检查告警。
	deadline := time.After(3 * time.Second)
	for {
		latest, err := service.Get(ctx, submitted.ID)
		if err != nil {
			t.Fatalf("查询运行失败: %v", err)
		}
		if latest.Attempts >= latest.MaxRetries && latest.Status == StatusFailed {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("重试未耗尽: %+v", latest)
		case <-time.After(20 * time.Millisecond):
		}
	}

	events := dispatcher.Events()
	if len(events) == 0 {
		t.Fatal("期望产生告警事件")
	}
	last := events[len(events)-1]
	if last.RunID != submitted.ID || last.ChainName != "flaky" {
		t.Fatalf("告警事件内容不符: %+v", last)
	}
}

func TestProcessorParseFailureIsTerminal(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(8)
	executor := &fakeExecutor{failures: map[string]error{
		"strict": xerrors.New(xerrors.CodeParseFailure, "输出不是 JSON"),
	}}

	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue, WithWorkerCount(1))

	go func() { _ = processor.Start(ctx) }()

	submitted, err := service.Submit(ctx, SubmitRequest{ChainName: "strict"})
	if err != nil {
		t.Fatalf("提交运行失败: %v", err)
	}

	done, err := service.WaitUntilCompleted(ctx, submitted.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("等待运行完成失败: %v", err)
	}
	if done.Status != StatusFailed {
		t.Fatalf("期望运行失败，实际 %s", done.Status)
	}
	if done.Attempts != 1 {
		t.Fatalf("解析失败不应重试，实际尝试 %d 次", done.Attempts)
	}
}

func TestProcessorRecoveryFallback(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(8)
	executor := &fakeExecutor{failures: map[string]error{
		"strict": xerrors.New(xerrors.CodeParseFailure, "输出不是 JSON"),
	}}

	recovery := recoveryFunc(func(_ context.Context, r *Run, cause error) (*Result, error) {
		return &Result{Output: "降级回答"}, nil
	})

	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue,
		WithWorkerCount(1),
		WithRecoveryHandler(recovery),
	)

	go func() { _ = processor.Start(ctx) }()

	submitted, err := service.Submit(ctx, SubmitRequest{ChainName: "strict"})
	if err != nil {
		t.Fatalf("提交运行失败: %v", err)
	}

	done, err := service.WaitUntilCompleted(ctx, submitted.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("等待运行完成失败: %v", err)
	}
	if done.Status != StatusSucceeded {
		t.Fatalf("期望降级成功，实际 %s (%s)", done.Status, done.LastError)
	}
	if done.Result == nil || done.Result.Output != "降级回答" {
		t.Fatalf("降级结果不符: %+v", done.Result)
	}
}

type recoveryFunc func(ctx context.Context, r *Run, cause error) (*Result, error)

func (f recoveryFunc) Recover(ctx context.Context, r *Run, cause error) (*Result, error) {
	return f(ctx, r, cause)
}

package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"OpenPrompt-Chain/internal/llm"
)

type countingClient struct {
	mu    sync.Mutex
	calls int
	resp  llm.Response
	err   error
}

func (c *countingClient) Generate(_ context.Context, _ llm.Request) (*llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	clone := c.resp
	return &clone, nil
}

func (c *countingClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type failingBackend struct{}

func (failingBackend) Get(context.Context, string) (*llm.Response, bool, error) {
	return nil, false, errors.New("backend down")
}

func (failingBackend) Set(context.Context, string, *llm.Response, time.Duration) error {
	return errors.New("backend down")
}

func (failingBackend) Close() error { return nil }

func newRequest(temperature float64) llm.Request {
	return llm.Request{
		Messages:    []llm.Message{llm.User("法国的首都是哪里？")},
		Model:       "gpt-4o-mini",
		Temperature: &temperature,
	}
}

func TestClientServesRepeatFromCache(t *testing.T) {
	inner := &countingClient{resp: llm.Response{Content: "巴黎", Model: "gpt-4o-mini"}}
	client, err := New(inner, NewMemory(16), time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer client.Close()

	ctx := context.Background()
	first, err := client.Generate(ctx, newRequest(0))
	if err != nil {
		t.Fatalf("第一次调用失败: %v", err)
	}
	second, err := client.Generate(ctx, newRequest(0))
	if err != nil {
		t.Fatalf("第二次调用失败: %v", err)
	}

	if inner.Calls() != 1 {
		t.Fatalf("期望只回源一次，实际 %d 次", inner.Calls())
	}
	if first.Content != second.Content {
		t.Fatalf("缓存结果不一致: %q vs %q", first.Content, second.Content)
	}
}

func TestClientMissesOnDifferentParameters(t *testing.T) {
	inner := &countingClient{resp: llm.Response{Content: "巴黎"}}
	client, err := New(inner, NewMemory(16), time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer client.Close()

	ctx := context.Background()
	if _, err := client.Generate(ctx, newRequest(0)); err != nil {
		t.Fatalf("调用失败: %v", err)
	}
	if _, err := client.Generate(ctx, newRequest(0.7)); err != nil {
		t.Fatalf("调用失败: %v", err)
	}

	if inner.Calls() != 2 {
		t.Fatalf("不同参数应各自回源，实际 %d 次", inner.Calls())
	}
}

func TestClientDegradesWhenBackendFails(t *testing.T) {
	inner := &countingClient{resp: llm.Response{Content: "巴黎"}}
	client, err := New(inner, failingBackend{}, time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := client.Generate(context.Background(), newRequest(0))
	if err != nil {
		t.Fatalf("缓存故障不应导致请求失败: %v", err)
	}
	if resp.Content != "巴黎" {
		t.Fatalf("意外的回源结果: %q", resp.Content)
	}
	if inner.Calls() != 1 {
		t.Fatalf("期望回源一次，实际 %d 次", inner.Calls())
	}
}

func TestClientDoesNotCacheErrors(t *testing.T) {
	inner := &countingClient{err: errors.New("model unavailable")}
	client, err := New(inner, NewMemory(16), time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer client.Close()

	ctx := context.Background()
	if _, err := client.Generate(ctx, newRequest(0)); err == nil {
		t.Fatal("期望第一次调用失败")
	}
	if _, err := client.Generate(ctx, newRequest(0)); err == nil {
		t.Fatal("期望第二次调用失败")
	}
	if inner.Calls() != 2 {
		t.Fatalf("失败结果不应被缓存，实际回源 %d 次", inner.Calls())
	}
}

func TestMemoryExpiresEntries(t *testing.T) {
	mem := NewMemory(16)
	resp := &llm.Response{Content: "稍纵即逝"}
	if err := mem.Set(context.Background(), "k", resp, time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	if _, ok, _ := mem.Get(context.Background(), "k"); ok {
		t.Fatal("过期条目不应命中")
	}
	if mem.Len() != 0 {
		t.Fatalf("过期条目应被清理，剩余 %d", mem.Len())
	}
}

func TestMemoryEnforcesLimit(t *testing.T) {
	mem := NewMemory(2)
	ctx := context.Background()
	for _, key := range []string{"a", "b", "c"} {
		if err := mem.Set(ctx, key, &llm.Response{Content: key}, 0); err != nil {
			t.Fatalf("Set(%s): %v", key, err)
		}
	}
	if mem.Len() > 2 {
		t.Fatalf("容量上限失效，当前 %d 条", mem.Len())
	}
}

func TestKeyIsStable(t *testing.T) {
	a, err := Key(newRequest(0))
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	b, err := Key(newRequest(0))
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	if a != b {
		t.Fatalf("相同请求应产生相同键: %q vs %q", a, b)
	}
	c, err := Key(newRequest(1))
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	if a == c {
		t.Fatal("不同参数应产生不同键")
	}
}

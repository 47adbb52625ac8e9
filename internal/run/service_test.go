package run

import (
	"context"
	"errors"
	"testing"
)

type failingProducer struct{}

func (failingProducer) Publish(context.Context, string) error { return errors.New("broker down") }
func (failingProducer) Close() error                          { return nil }

func TestServiceSubmitIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(8)
	service := NewService(store, queue, 3)
	ctx := context.Background()

	first, err := service.Submit(ctx, SubmitRequest{ID: "fixed", ChainName: "translate", Input: map[string]any{"text": "hi"}})
	if err != nil {
		t.Fatalf("首次提交失败: %v", err)
	}
	second, err := service.Submit(ctx, SubmitRequest{ID: "fixed", ChainName: "translate"})
	if err != nil {
		t.Fatalf("重复提交失败: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("重复提交返回了不同的运行: %s vs %s", first.ID, second.ID)
	}

	runs, err := service.List(ctx)
	if err != nil {
		t.Fatalf("查询列表失败: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("重复提交不应创建新记录，实际 %d 条", len(runs))
	}
}

func TestServiceSubmitGeneratesIDs(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(8)
	service := NewService(store, queue, 3)
	ctx := context.Background()

	a, err := service.Submit(ctx, SubmitRequest{ChainName: "translate"})
	if err != nil {
		t.Fatalf("提交失败: %v", err)
	}
	b, err := service.Submit(ctx, SubmitRequest{ChainName: "translate"})
	if err != nil {
		t.Fatalf("提交失败: %v", err)
	}
	if a.ID == "" || b.ID == "" || a.ID == b.ID {
		t.Fatalf("期望生成互不相同的运行 ID: %q vs %q", a.ID, b.ID)
	}
}

func TestServiceSubmitRejectsEmptyChain(t *testing.T) {
	service := NewService(NewMemoryStore(), NewMemoryQueue(8), 3)
	if _, err := service.Submit(context.Background(), SubmitRequest{}); err == nil {
		t.Fatal("期望空链名被拒绝")
	}
}

func TestServiceSubmitMarksFailedOnPublishError(t *testing.T) {
	store := NewMemoryStore()
	service := NewService(store, failingProducer{}, 3)
	ctx := context.Background()

	if _, err := service.Submit(ctx, SubmitRequest{ID: "doomed", ChainName: "translate"}); err == nil {
		t.Fatal("期望入队失败返回错误")
	}

	r, err := store.Get(ctx, "doomed")
	if err != nil {
		t.Fatalf("查询运行失败: %v", err)
	}
	if r.Status != StatusFailed || r.ErrorCode != string(CodeRunPublish) {
		t.Fatalf("入队失败未落盘: %+v", r)
	}
}

package chain

import (
	"context"
	"fmt"
	"sync"

	xerrors "OpenPrompt-Chain/internal/errors"
)

// Runnable 是链中可被调用的最小单元。
type Runnable interface {
	Invoke(ctx context.Context, input any) (any, error)
}

// Func 将普通函数适配为 Runnable。
type Func func(ctx context.Context, input any) (any, error)

// Invoke 实现 Runnable 接口。
func (f Func) Invoke(ctx context.Context, input any) (any, error) {
	return f(ctx, input)
}

// Sequence 按顺序执行多个 Runnable，前一步的输出作为后一步的输入。
type Sequence struct {
	steps []Runnable
}

// Pipe 将多个 Runnable 串联成一条链。
func Pipe(steps ...Runnable) *Sequence {
	filtered := make([]Runnable, 0, len(steps))
	for _, step := range steps {
		if step != nil {
			filtered = append(filtered, step)
		}
	}
	return &Sequence{steps: filtered}
}

// Then 返回在末尾追加一步的新链。
func (s *Sequence) Then(step Runnable) *Sequence {
	if step == nil {
		return s
	}
	steps := make([]Runnable, 0, len(s.steps)+1)
	steps = append(steps, s.steps...)
	steps = append(steps, step)
	return &Sequence{steps: steps}
}

// Len 返回链中的步骤数量。
func (s *Sequence) Len() int {
	if s == nil {
		return 0
	}
	return len(s.steps)
}

// Invoke 实现 Runnable 接口。任何一步出错即中止，错误携带失败步骤的序号。
func (s *Sequence) Invoke(ctx context.Context, input any) (any, error) {
	if s == nil || len(s.steps) == 0 {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "链中没有任何步骤")
	}

	current := input
	for idx, step := range s.steps {
		select {
		case <-ctx.Done():
			return nil, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "链执行被取消",
				xerrors.WithMetadata("step", fmt.Sprintf("%d", idx)))
		default:
		}

		next, err := step.Invoke(ctx, current)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeOf(err), err,
				fmt.Sprintf("链第 %d 步执行失败", idx+1),
				xerrors.WithMetadata("step", fmt.Sprintf("%d", idx+1)))
		}
		current = next
	}
	return current, nil
}

// Parallel 将同一输入分发给多个命名分支并汇总结果。
type Parallel struct {
	branches map[string]Runnable
}

// NewParallel 创建并行组合。
func NewParallel(branches map[string]Runnable) *Parallel {
	copied := make(map[string]Runnable, len(branches))
	for name, branch := range branches {
		if branch != nil {
			copied[name] = branch
		}
	}
	return &Parallel{branches: copied}
}

// Invoke 实现 Runnable 接口，返回 map[string]any。
func (p *Parallel) Invoke(ctx context.Context, input any) (any, error) {
	if p == nil || len(p.branches) == 0 {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "并行组合中没有任何分支")
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]any, len(p.branches))
		firstErr error
	)
	for name, branch := range p.branches {
		wg.Add(1)
		go func(name string, branch Runnable) {
			defer wg.Done()
			out, err := branch.Invoke(ctx, input)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = xerrors.Wrap(xerrors.CodeOf(err), err,
						fmt.Sprintf("并行分支 %s 执行失败", name),
						xerrors.WithMetadata("branch", name))
				}
				return
			}
			results[name] = out
		}(name, branch)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

// Batch 使用固定数量的 worker 并发执行同一条链，结果顺序与输入一致。
// 任何一项失败都会在对应位置返回 nil，并在最终错误中携带首个失败原因。
func Batch(ctx context.Context, runnable Runnable, inputs []any, workers int) ([]any, error) {
	if runnable == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未提供可执行的链")
	}
	if len(inputs) == 0 {
		return nil, nil
	}
	if workers <= 0 {
		workers = 1
	}
	if workers > len(inputs) {
		workers = len(inputs)
	}

	type job struct {
		index int
		input any
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make([]any, len(inputs))
		firstErr error
	)

	jobs := make(chan job)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				out, err := runnable.Invoke(ctx, j.input)
				mu.Lock()
				if err != nil {
					if firstErr == nil {
						firstErr = xerrors.Wrap(xerrors.CodeOf(err), err,
							fmt.Sprintf("批量执行第 %d 项失败", j.index+1),
							xerrors.WithMetadata("index", fmt.Sprintf("%d", j.index)))
					}
				} else {
					results[j.index] = out
				}
				mu.Unlock()
			}
		}()
	}

	for idx, input := range inputs {
		jobs <- job{index: idx, input: input}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return results, firstErr
	}
	return results, nil
}

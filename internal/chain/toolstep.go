package chain

import (
	"context"
	"fmt"
	"log/slog"

	"OpenPrompt-Chain/internal/prompt"
	"OpenPrompt-Chain/internal/tool"
	"OpenPrompt-Chain/pkg/logger"
)

// ToolStep 执行一个工具并把观察结果合并进变量映射。
// 工具失败不会中断链：观察位置会记录失败原因，交由模型自行取舍。
type ToolStep struct {
	tool tool.Tool
	key  string
}

// NewToolStep 创建工具步骤。key 为空时使用工具名称。
func NewToolStep(t tool.Tool, key string) *ToolStep {
	if key == "" && t != nil {
		key = t.Name()
	}
	return &ToolStep{tool: t, key: key}
}

// Invoke 实现 Runnable 接口。
func (s *ToolStep) Invoke(ctx context.Context, input any) (any, error) {
	values, err := asValues(input)
	if err != nil {
		return nil, err
	}
	if s.tool == nil {
		return values, nil
	}

	merged := make(prompt.Values, len(values)+1)
	for k, v := range values {
		merged[k] = v
	}

	observation, err := s.tool.Call(ctx, merged)
	if err != nil {
		logger.L().Warn("工具调用失败，降级为观察文本",
			slog.String("tool", s.tool.Name()),
			slog.Any("error", err),
		)
		observation = fmt.Sprintf("工具 %s 调用失败: %v", s.tool.Name(), err)
	}
	merged[s.key] = observation
	return merged, nil
}

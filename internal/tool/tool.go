package tool

import (
	"context"
)

// Tool 是链在推理前可以调用的外部能力。
type Tool interface {
	// Name 返回工具的唯一名称，作为观察结果写回变量映射时的键。
	Name() string
	// Description 描述工具用途，可注入提示词帮助模型理解观察内容。
	Description() string
	// Call 执行工具。input 是链的输入变量。
	Call(ctx context.Context, input map[string]any) (string, error)
}

package chain

import (
	"context"
	"fmt"

	xerrors "OpenPrompt-Chain/internal/errors"
	"OpenPrompt-Chain/internal/llm"
	"OpenPrompt-Chain/internal/parser"
	"OpenPrompt-Chain/internal/prompt"
)

// TemplateStep 将输入变量渲染为单段提示词文本。
type TemplateStep struct {
	template *prompt.Template
}

// NewTemplateStep 创建模板渲染步骤。
func NewTemplateStep(template *prompt.Template) *TemplateStep {
	return &TemplateStep{template: template}
}

// Invoke 实现 Runnable 接口，输入必须是 prompt.Values 或 map[string]any。
func (s *TemplateStep) Invoke(_ context.Context, input any) (any, error) {
	values, err := asValues(input)
	if err != nil {
		return nil, err
	}
	return s.template.Format(values)
}

// ChatStep 将输入变量渲染为完整的对话消息列表。
type ChatStep struct {
	template *prompt.ChatTemplate
}

// NewChatStep 创建对话模板渲染步骤。
func NewChatStep(template *prompt.ChatTemplate) *ChatStep {
	return &ChatStep{template: template}
}

// Invoke 实现 Runnable 接口。
func (s *ChatStep) Invoke(_ context.Context, input any) (any, error) {
	values, err := asValues(input)
	if err != nil {
		return nil, err
	}
	return s.template.FormatMessages(values)
}

// ModelStep 调用大模型。输入可以是字符串（包装成 user 消息）、
// 单条消息或消息列表，输出为 *llm.Response。
type ModelStep struct {
	client   llm.Client
	model    string
	observer func(*llm.Response)
}

// ModelOption 定义 ModelStep 的可选配置。
type ModelOption func(*ModelStep)

// WithModelName 覆盖请求使用的模型名。
func WithModelName(model string) ModelOption {
	return func(s *ModelStep) {
		s.model = model
	}
}

// WithObserver 在每次成功调用后回调响应，用于采集用量信息。
// 回调与步骤同生命周期，共享的 ModelStep 不要跨调用绑定可变状态。
func WithObserver(observer func(*llm.Response)) ModelOption {
	return func(s *ModelStep) {
		s.observer = observer
	}
}

// NewModelStep 创建模型调用步骤。
func NewModelStep(client llm.Client, opts ...ModelOption) *ModelStep {
	s := &ModelStep{client: client}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Invoke 实现 Runnable 接口。
func (s *ModelStep) Invoke(ctx context.Context, input any) (any, error) {
	if s.client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置模型客户端")
	}

	var messages []llm.Message
	switch value := input.(type) {
	case string:
		messages = []llm.Message{llm.User(value)}
	case llm.Message:
		messages = []llm.Message{value}
	case []llm.Message:
		messages = value
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("模型步骤不支持 %T 类型的输入", input))
	}

	resp, err := s.client.Generate(ctx, llm.Request{Messages: messages, Model: s.model})
	if err != nil {
		return nil, err
	}
	if s.observer != nil {
		s.observer(resp)
	}
	return resp, nil
}

// ParserStep 解析模型输出。输入可以是 *llm.Response 或字符串。
type ParserStep struct {
	parser parser.Parser
}

// NewParserStep 创建解析步骤。
func NewParserStep(p parser.Parser) *ParserStep {
	return &ParserStep{parser: p}
}

// Invoke 实现 Runnable 接口。
func (s *ParserStep) Invoke(_ context.Context, input any) (any, error) {
	if s.parser == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置解析器")
	}

	var text string
	switch value := input.(type) {
	case string:
		text = value
	case *llm.Response:
		if value == nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "模型响应为空")
		}
		text = value.Content
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("解析步骤不支持 %T 类型的输入", input))
	}
	return s.parser.Parse(text)
}

func asValues(input any) (prompt.Values, error) {
	switch value := input.(type) {
	case prompt.Values:
		return value, nil
	case map[string]any:
		return prompt.Values(value), nil
	case nil:
		return prompt.Values{}, nil
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("模板步骤需要变量映射，收到 %T", input))
	}
}

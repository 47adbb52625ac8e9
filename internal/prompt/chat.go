package prompt

import (
	"fmt"

	xerrors "OpenPrompt-Chain/internal/errors"
	"OpenPrompt-Chain/internal/llm"
)

// MessageTemplate 将一个角色与一个文本模板绑定。
type MessageTemplate struct {
	Role     llm.Role
	Template *Template
}

// ChatTemplate 按顺序渲染多条消息模板，组成完整的对话提示。
type ChatTemplate struct {
	name     string
	messages []MessageTemplate
	fewShot  *FewShotBinding
}

// FewShotBinding 将示例选择器绑定到对话模板的一个变量上。
// 渲染时根据 Query 变量的取值挑选示例，结果注入 Variable。
type FewShotBinding struct {
	Selector *FewShot
	Variable string
	Query    string
	Prefix   string
	Suffix   string
}

// NewChat 创建对话模板。
func NewChat(name string, messages ...MessageTemplate) (*ChatTemplate, error) {
	if len(messages) == 0 {
		return nil, xerrors.New(xerrors.CodeTemplateFailure,
			fmt.Sprintf("对话模板 %s 不能为空", name))
	}
	for idx, msg := range messages {
		if msg.Template == nil {
			return nil, xerrors.New(xerrors.CodeTemplateFailure,
				fmt.Sprintf("对话模板 %s 第 %d 条消息缺少模板", name, idx+1))
		}
		switch msg.Role {
		case llm.RoleSystem, llm.RoleUser, llm.RoleAssistant:
		default:
			return nil, xerrors.New(xerrors.CodeTemplateFailure,
				fmt.Sprintf("对话模板 %s 第 %d 条消息使用了未知角色 %s", name, idx+1, msg.Role))
		}
	}
	return &ChatTemplate{name: name, messages: append([]MessageTemplate(nil), messages...)}, nil
}

// Name 返回模板名称。
func (c *ChatTemplate) Name() string {
	if c == nil {
		return ""
	}
	return c.name
}

// BindFewShot 为模板绑定示例选择器。绑定的变量由渲染阶段注入，
// 调用方不再需要提供。
func (c *ChatTemplate) BindFewShot(binding FewShotBinding) (*ChatTemplate, error) {
	if c == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "对话模板未初始化")
	}
	if binding.Selector == nil {
		return nil, xerrors.New(xerrors.CodeTemplateFailure,
			fmt.Sprintf("对话模板 %s 的示例绑定缺少选择器", c.name))
	}
	if binding.Variable == "" {
		binding.Variable = "examples"
	}
	c.fewShot = &binding
	return c, nil
}

// Variables 返回所有消息模板需要的变量集合。
func (c *ChatTemplate) Variables() []string {
	if c == nil {
		return nil
	}
	seen := make(map[string]bool)
	if c.fewShot != nil {
		seen[c.fewShot.Variable] = true
	}
	var out []string
	for _, msg := range c.messages {
		for _, v := range msg.Template.Variables() {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}

// FormatMessages 渲染全部消息。
func (c *ChatTemplate) FormatMessages(values Values) ([]llm.Message, error) {
	if c == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "对话模板未初始化")
	}
	values = c.injectFewShot(values)
	out := make([]llm.Message, 0, len(c.messages))
	for _, msg := range c.messages {
		content, err := msg.Template.Format(values)
		if err != nil {
			return nil, err
		}
		out = append(out, llm.Message{Role: msg.Role, Content: content})
	}
	return out, nil
}

// injectFewShot 将挑选出的示例渲染进绑定变量。调用方显式提供的取值优先。
func (c *ChatTemplate) injectFewShot(values Values) Values {
	if c.fewShot == nil {
		return values
	}
	if _, ok := values[c.fewShot.Variable]; ok {
		return values
	}
	query := ""
	if v, ok := values[c.fewShot.Query]; ok {
		query = stringify(v)
	}
	merged := make(Values, len(values)+1)
	for k, v := range values {
		merged[k] = v
	}
	merged[c.fewShot.Variable] = c.fewShot.Selector.Render(c.fewShot.Prefix, c.fewShot.Suffix, query)
	return merged
}

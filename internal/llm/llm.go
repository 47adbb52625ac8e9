package llm

import (
	"context"
	"strings"
)

// Role 表示对话消息的角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message 是发送给大模型的一条对话消息。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// System 构造一条 system 消息。
func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// User 构造一条 user 消息。
func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Assistant 构造一条 assistant 消息。
func Assistant(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// Request 描述一次大模型调用的完整输入。
type Request struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
}

// Usage 记录一次调用消耗的 token 数量。
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response 是大模型返回的结构化输出。
type Response struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        Usage  `json:"usage"`
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Closer 是可选接口，持有网络连接的客户端实现它以便释放资源。
type Closer interface {
	Close() error
}

// Validate 校验请求是否可以发送。
func (r Request) Validate() bool {
	if len(r.Messages) == 0 {
		return false
	}
	for _, msg := range r.Messages {
		if strings.TrimSpace(msg.Content) != "" {
			return true
		}
	}
	return false
}

// SystemPrompt 返回请求中的 system 消息内容与剩余消息。
// Anthropic 等 provider 要求 system 提示独立于消息数组之外。
func (r Request) SystemPrompt() (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(r.Messages))
	for _, msg := range r.Messages {
		if msg.Role == RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		rest = append(rest, msg)
	}
	return strings.Join(system, "\n\n"), rest
}

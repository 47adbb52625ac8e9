package registry

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"OpenPrompt-Chain/internal/llm"
	"OpenPrompt-Chain/internal/llm/provider"
	"OpenPrompt-Chain/internal/parser"
	"OpenPrompt-Chain/internal/prompt"
)

type scriptedClient struct {
	reply    string
	lastReq  llm.Request
	requests int
}

func (c *scriptedClient) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	c.lastReq = req
	c.requests++
	return &llm.Response{
		Content:      c.reply,
		Model:        "test-model",
		FinishReason: "stop",
		Usage:        llm.Usage{PromptTokens: 12, CompletionTokens: 5, TotalTokens: 17},
	}, nil
}

func testLibrary(t *testing.T) *prompt.Library {
	t.Helper()
	translate, err := prompt.NewChat("translate",
		prompt.MessageTemplate{Role: llm.RoleSystem, Template: prompt.MustNew("system", "把下面的文本翻译成{language}。", []string{"language"})},
		prompt.MessageTemplate{Role: llm.RoleUser, Template: prompt.MustNew("user", "{text}", []string{"text"})},
	)
	if err != nil {
		t.Fatalf("构造对话模板失败: %v", err)
	}
	extract, err := prompt.NewChat("extract",
		prompt.MessageTemplate{Role: llm.RoleSystem, Template: prompt.MustNew("system", "{format_instructions}", []string{"format_instructions"})},
		prompt.MessageTemplate{Role: llm.RoleUser, Template: prompt.MustNew("user", "{text}", []string{"text"})},
	)
	if err != nil {
		t.Fatalf("构造对话模板失败: %v", err)
	}
	return prompt.NewLibrary(map[string]*prompt.ChatTemplate{
		"translate": translate,
		"extract":   extract,
	})
}

func writeChains(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chains.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入链定义失败: %v", err)
	}
	return path
}

func TestLoadAndInvoke(t *testing.T) {
	client := &scriptedClient{reply: "Bonjour"}
	models, err := provider.NewStaticRegistry("test-model", map[string]llm.Client{"test-model": client})
	if err != nil {
		t.Fatalf("构造模型注册表失败: %v", err)
	}

	path := writeChains(t, `
chains:
  translate:
    description: 将文本翻译为指定语言
    prompt: translate
    model: test-model
`)
	reg, err := Load(path, testLibrary(t), models, nil)
	if err != nil {
		t.Fatalf("装配链失败: %v", err)
	}

	outcome, err := reg.Invoke(context.Background(), "translate", map[string]any{
		"language": "法语",
		"text":     "Hello",
	})
	if err != nil {
		t.Fatalf("调用链失败: %v", err)
	}
	if outcome.Output != "Bonjour" {
		t.Fatalf("意外的输出: %q", outcome.Output)
	}
	if outcome.Model != "test-model" || outcome.FinishReason != "stop" {
		t.Fatalf("响应元信息缺失: %+v", outcome)
	}
	if outcome.Usage.TotalTokens != 17 {
		t.Fatalf("用量未采集: %+v", outcome.Usage)
	}

	if len(client.lastReq.Messages) != 2 {
		t.Fatalf("期望两条消息，实际 %d", len(client.lastReq.Messages))
	}
	if !strings.Contains(client.lastReq.Messages[0].Content, "法语") {
		t.Fatalf("系统消息未渲染: %q", client.lastReq.Messages[0].Content)
	}
	if client.lastReq.Messages[1].Content != "Hello" {
		t.Fatalf("用户消息未渲染: %q", client.lastReq.Messages[1].Content)
	}
}

func TestInvokeInjectsFormatInstructions(t *testing.T) {
	client := &scriptedClient{reply: "```json\n{\"name\": \"Ada\"}\n```"}
	models, err := provider.NewStaticRegistry("test-model", map[string]llm.Client{"test-model": client})
	if err != nil {
		t.Fatalf("构造模型注册表失败: %v", err)
	}

	path := writeChains(t, `
chains:
  extract:
    prompt: extract
    parser:
      type: json
      required: [name]
    inject_format_instructions: true
`)
	reg, err := Load(path, testLibrary(t), models, nil)
	if err != nil {
		t.Fatalf("装配链失败: %v", err)
	}

	outcome, err := reg.Invoke(context.Background(), "extract", map[string]any{"text": "Ada Lovelace"})
	if err != nil {
		t.Fatalf("调用链失败: %v", err)
	}

	parsed, ok := outcome.Parsed.(map[string]any)
	if !ok {
		t.Fatalf("期望 JSON 对象，实际 %T", outcome.Parsed)
	}
	if parsed["name"] != "Ada" {
		t.Fatalf("解析结果不符: %+v", parsed)
	}
	if !strings.Contains(client.lastReq.Messages[0].Content, "JSON") {
		t.Fatalf("格式说明未注入: %q", client.lastReq.Messages[0].Content)
	}
}

func TestLoadRejectsBrokenDefinitions(t *testing.T) {
	client := &scriptedClient{reply: "ok"}
	models, err := provider.NewStaticRegistry("test-model", map[string]llm.Client{"test-model": client})
	if err != nil {
		t.Fatalf("构造模型注册表失败: %v", err)
	}
	library := testLibrary(t)

	cases := []struct {
		name    string
		content string
	}{
		{"提示词缺失", "chains:\n  broken:\n    prompt: nope\n"},
		{"模型未配置", "chains:\n  broken:\n    prompt: translate\n    model: ghost\n"},
		{"解析器类型未知", "chains:\n  broken:\n    prompt: translate\n    parser:\n      type: xml\n"},
		{"注入说明但无解析器", "chains:\n  broken:\n    prompt: translate\n    inject_format_instructions: true\n"},
		{"所有链都被跳过", "chains:\n  broken:\n    prompt: translate\n    tools: [missing]\n"},
		{"空定义", "chains: {}\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeChains(t, tc.content)
			if _, err := Load(path, library, models, nil); err == nil {
				t.Fatal("期望装配失败")
			}
		})
	}
}

func TestLoadSkipsChainsMissingTools(t *testing.T) {
	client := &scriptedClient{reply: "ok"}
	models, err := provider.NewStaticRegistry("test-model", map[string]llm.Client{"test-model": client})
	if err != nil {
		t.Fatalf("构造模型注册表失败: %v", err)
	}

	path := writeChains(t, `
chains:
  translate:
    prompt: translate
  report:
    prompt: translate
    tools: [web3_snapshot]
`)
	reg, err := Load(path, testLibrary(t), models, nil)
	if err != nil {
		t.Fatalf("装配链失败: %v", err)
	}

	names := reg.Names()
	if len(names) != 1 || names[0] != "translate" {
		t.Fatalf("期望仅装配 translate，实际 %v", names)
	}
	if _, ok := reg.Chain("report"); ok {
		t.Fatal("缺少工具的链不应被注册")
	}
}

// 守护进程默认配置必须能完成装配，即使可选工具未启用。
func TestLoadShippedDefinitions(t *testing.T) {
	library, err := prompt.LoadLibrary(filepath.Join("..", "..", "configs", "prompts.yaml"))
	if err != nil {
		t.Fatalf("加载提示词配置失败: %v", err)
	}

	client := &scriptedClient{reply: "ok"}
	models, err := provider.NewStaticRegistry("gpt-4o-mini", map[string]llm.Client{
		"gpt-4o-mini":   client,
		"gpt-4o":        client,
		"claude-sonnet": client,
	})
	if err != nil {
		t.Fatalf("构造模型注册表失败: %v", err)
	}

	reg, err := Load(filepath.Join("..", "..", "configs", "chains.yaml"), library, models, nil)
	if err != nil {
		t.Fatalf("默认链定义装配失败: %v", err)
	}

	for _, name := range []string{"translate", "summarize", "extract_contact"} {
		if _, ok := reg.Chain(name); !ok {
			t.Fatalf("默认链 %s 未装配", name)
		}
	}
	if _, ok := reg.Chain("chain_report"); ok {
		t.Fatal("未启用 web3 工具时 chain_report 不应装配")
	}
}

func TestInvokeUnknownChain(t *testing.T) {
	reg := NewStatic(nil)
	if _, err := reg.Invoke(context.Background(), "ghost", nil); err == nil {
		t.Fatal("期望返回未注册错误")
	}
}

func TestNamesSorted(t *testing.T) {
	p := parser.NewString()
	template, err := prompt.NewChat("echo",
		prompt.MessageTemplate{Role: llm.RoleUser, Template: prompt.MustNew("user", "{text}", []string{"text"})},
	)
	if err != nil {
		t.Fatalf("构造对话模板失败: %v", err)
	}
	client := &scriptedClient{reply: "ok"}
	reg := NewStatic(map[string]*Chain{
		"b": NewChain("b", template, client, p),
		"a": NewChain("a", template, client, p),
	})
	names := reg.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("链名未排序: %v", names)
	}
}

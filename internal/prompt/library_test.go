package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const libraryYAML = `
prompts:
  translate:
    description: 翻译助手
    variables: [language, text]
    messages:
      - role: system
        content: "把用户输入翻译成{language}，只输出译文。"
      - role: user
        content: "{text}"
  joke:
    variables: [topic]
    messages:
      - role: user
        content: "讲一个关于{topic}的笑话"
`

func writeLibraryFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write prompts file: %v", err)
	}
	return path
}

func TestLoadLibrary(t *testing.T) {
	library, err := LoadLibrary(writeLibraryFile(t, libraryYAML))
	if err != nil {
		t.Fatalf("load library: %v", err)
	}

	names := library.Names()
	if len(names) != 2 || names[0] != "joke" || names[1] != "translate" {
		t.Fatalf("unexpected names: %v", names)
	}

	chat, ok := library.Chat("translate")
	if !ok {
		t.Fatalf("translate prompt missing")
	}
	messages, err := chat.FormatMessages(Values{"language": "德语", "text": "早上好"})
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Content != "把用户输入翻译成德语，只输出译文。" {
		t.Fatalf("unexpected system content: %q", messages[0].Content)
	}
}

func TestLoadLibraryRejectsUndeclaredVariable(t *testing.T) {
	const bad = `
prompts:
  broken:
    variables: [a]
    messages:
      - role: user
        content: "{a} 和 {b}"
`
	if _, err := LoadLibrary(writeLibraryFile(t, bad)); err == nil {
		t.Fatalf("expected error for undeclared variable")
	}
}

func TestLoadLibraryEmptyPath(t *testing.T) {
	library, err := LoadLibrary("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(library.Names()) != 0 {
		t.Fatalf("expected empty library")
	}
}

func TestLoadLibraryFewShotInjection(t *testing.T) {
	const withExamples = `
prompts:
  calc:
    variables: [question, examples]
    messages:
      - role: system
        content: "你是算术助手。{examples}"
      - role: user
        content: "{question}"
    few_shot:
      query_variable: question
      max_examples: 2
      prefix: "例子："
      examples:
        - input: "2+2"
          output: "4"
          keywords: [加法]
        - input: "3*3"
          output: "9"
          keywords: [乘法]
`
	library, err := LoadLibrary(writeLibraryFile(t, withExamples))
	if err != nil {
		t.Fatalf("load library: %v", err)
	}
	chat, ok := library.Chat("calc")
	if !ok {
		t.Fatalf("calc prompt missing")
	}

	// 绑定变量由渲染阶段注入，不应出现在必填变量中。
	for _, v := range chat.Variables() {
		if v == "examples" {
			t.Fatalf("examples should not be a caller variable: %v", chat.Variables())
		}
	}

	messages, err := chat.FormatMessages(Values{"question": "帮我算一道加法题"})
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	if !strings.Contains(messages[0].Content, "输入: 2+2") || !strings.Contains(messages[0].Content, "输出: 4") {
		t.Fatalf("example not injected: %q", messages[0].Content)
	}
	if strings.Contains(messages[0].Content, "3*3") {
		t.Fatalf("unmatched example leaked into prompt: %q", messages[0].Content)
	}
}

func TestLoadLibraryFewShotWithoutExamples(t *testing.T) {
	const broken = `
prompts:
  calc:
    variables: [question, examples]
    messages:
      - role: user
        content: "{examples}{question}"
    few_shot:
      query_variable: question
`
	if _, err := LoadLibrary(writeLibraryFile(t, broken)); err == nil {
		t.Fatalf("expected error for empty few_shot definition")
	}
}

func TestFewShotSelect(t *testing.T) {
	selector := NewFewShot([]Example{
		{Input: "2+2", Output: "4", Keywords: []string{"加法", "plus"}},
		{Input: "3*3", Output: "9", Keywords: []string{"乘法"}},
		{Input: "10-7", Output: "3", Keywords: []string{"减法"}},
	}, 2)

	picked := selector.Select("帮我算一道加法题")
	if len(picked) != 1 || picked[0].Output != "4" {
		t.Fatalf("unexpected selection: %+v", picked)
	}

	// 空查询返回前 N 条。
	all := selector.Select("")
	if len(all) != 2 {
		t.Fatalf("expected 2 examples, got %d", len(all))
	}

	rendered := selector.Render("以下是一些例子：", "现在轮到你了。", "加法")
	if !strings.HasPrefix(rendered, "以下是一些例子：") || !strings.HasSuffix(rendered, "现在轮到你了。") {
		t.Fatalf("unexpected rendering: %q", rendered)
	}
	if !strings.Contains(rendered, "输入: 2+2") {
		t.Fatalf("expected example body in rendering: %q", rendered)
	}
}

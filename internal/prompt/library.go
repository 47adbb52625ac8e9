package prompt

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "OpenPrompt-Chain/internal/errors"
	"OpenPrompt-Chain/internal/llm"
)

// LibraryDefinitions models the structure of configs/prompts.yaml.
type LibraryDefinitions struct {
	Prompts map[string]PromptDefinition `yaml:"prompts"`
}

// PromptDefinition describes a single named chat prompt.
type PromptDefinition struct {
	Description string              `yaml:"description"`
	Variables   []string            `yaml:"variables"`
	Messages    []MessageDefinition `yaml:"messages"`
	FewShot     *FewShotDefinition  `yaml:"few_shot"`
}

// FewShotDefinition configures example selection for a prompt. Examples are
// either inline or loaded from a JSON file; the rendered block is injected
// into the declared variable (default "examples") at format time.
type FewShotDefinition struct {
	Variable      string              `yaml:"variable"`
	QueryVariable string              `yaml:"query_variable"`
	MaxExamples   int                 `yaml:"max_examples"`
	Prefix        string              `yaml:"prefix"`
	Suffix        string              `yaml:"suffix"`
	Source        string              `yaml:"source"`
	Examples      []ExampleDefinition `yaml:"examples"`
}

// ExampleDefinition is one inline few-shot example.
type ExampleDefinition struct {
	Input    string   `yaml:"input"`
	Output   string   `yaml:"output"`
	Keywords []string `yaml:"keywords"`
}

// MessageDefinition is one role/content pair inside a prompt definition.
type MessageDefinition struct {
	Role    string `yaml:"role"`
	Content string `yaml:"content"`
}

// Library 保存从配置文件加载的命名对话模板。
type Library struct {
	prompts map[string]*ChatTemplate
}

// LoadLibrary 解析 YAML 文件并构建全部模板。
func LoadLibrary(path string) (*Library, error) {
	if strings.TrimSpace(path) == "" {
		return &Library{prompts: map[string]*ChatTemplate{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取提示词配置失败: %w", err)
	}

	var defs LibraryDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return nil, fmt.Errorf("解析提示词配置失败: %w", err)
	}

	library := &Library{prompts: make(map[string]*ChatTemplate, len(defs.Prompts))}
	for name, def := range defs.Prompts {
		chat, err := buildChatTemplate(name, def)
		if err != nil {
			return nil, err
		}
		if def.FewShot != nil {
			chat, err = bindFewShot(name, chat, def.FewShot)
			if err != nil {
				return nil, err
			}
		}
		library.prompts[name] = chat
	}
	return library, nil
}

func bindFewShot(name string, chat *ChatTemplate, def *FewShotDefinition) (*ChatTemplate, error) {
	var selector *FewShot
	switch {
	case len(def.Examples) > 0:
		examples := make([]Example, 0, len(def.Examples))
		for _, e := range def.Examples {
			examples = append(examples, Example{
				Input:    e.Input,
				Output:   e.Output,
				Keywords: e.Keywords,
			})
		}
		selector = NewFewShot(examples, def.MaxExamples)
	case def.Source != "":
		loaded, err := LoadFewShot(def.Source, def.MaxExamples)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeTemplateFailure, err,
				fmt.Sprintf("提示词 %s 的示例库加载失败", name))
		}
		selector = loaded
	default:
		return nil, xerrors.New(xerrors.CodeTemplateFailure,
			fmt.Sprintf("提示词 %s 的 few_shot 未提供任何示例", name))
	}

	return chat.BindFewShot(FewShotBinding{
		Selector: selector,
		Variable: def.Variable,
		Query:    def.QueryVariable,
		Prefix:   def.Prefix,
		Suffix:   def.Suffix,
	})
}

// NewLibrary wraps pre-built templates, mainly for tests.
func NewLibrary(prompts map[string]*ChatTemplate) *Library {
	copied := make(map[string]*ChatTemplate, len(prompts))
	for name, tmpl := range prompts {
		copied[name] = tmpl
	}
	return &Library{prompts: copied}
}

func buildChatTemplate(name string, def PromptDefinition) (*ChatTemplate, error) {
	if len(def.Messages) == 0 {
		return nil, xerrors.New(xerrors.CodeTemplateFailure,
			fmt.Sprintf("提示词 %s 未定义任何消息", name))
	}

	// 每条消息只声明自己实际使用的变量子集。
	messages := make([]MessageTemplate, 0, len(def.Messages))
	for idx, msg := range def.Messages {
		found, err := scanPlaceholders(msg.Content)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeTemplateFailure, err,
				fmt.Sprintf("提示词 %s 第 %d 条消息语法错误", name, idx+1))
		}
		var used []string
		declared := make(map[string]bool, len(def.Variables))
		for _, v := range def.Variables {
			declared[v] = true
		}
		for v := range found {
			if !declared[v] {
				return nil, xerrors.New(xerrors.CodeTemplateFailure,
					fmt.Sprintf("提示词 %s 使用了未声明的变量 %s", name, v))
			}
			used = append(used, v)
		}
		sort.Strings(used)

		tmpl, err := New(fmt.Sprintf("%s#%d", name, idx+1), msg.Content, used)
		if err != nil {
			return nil, err
		}
		messages = append(messages, MessageTemplate{
			Role:     llm.Role(strings.ToLower(strings.TrimSpace(msg.Role))),
			Template: tmpl,
		})
	}
	return NewChat(name, messages...)
}

// Chat 返回指定名称的对话模板。
func (l *Library) Chat(name string) (*ChatTemplate, bool) {
	if l == nil {
		return nil, false
	}
	tmpl, ok := l.prompts[name]
	return tmpl, ok
}

// Names 返回库中全部模板名称。
func (l *Library) Names() []string {
	if l == nil {
		return nil
	}
	names := make([]string, 0, len(l.prompts))
	for name := range l.prompts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

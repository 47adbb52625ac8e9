package registry

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"OpenPrompt-Chain/internal/chain"
	xerrors "OpenPrompt-Chain/internal/errors"
	"OpenPrompt-Chain/internal/llm"
	"OpenPrompt-Chain/internal/llm/provider"
	"OpenPrompt-Chain/internal/parser"
	"OpenPrompt-Chain/internal/prompt"
	"OpenPrompt-Chain/internal/tool"
	"OpenPrompt-Chain/pkg/logger"
)

// formatInstructionsVariable 是注入解析器格式说明时使用的模板变量名。
const formatInstructionsVariable = "format_instructions"

// ChainDefinitions 是链定义文件的顶层结构。
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition 描述一条可调用的链：提示词、模型、解析器与工具。
type ChainDefinition struct {
	Description              string           `yaml:"description"`
	Prompt                   string           `yaml:"prompt"`
	Model                    string           `yaml:"model"`
	Parser                   ParserDefinition `yaml:"parser"`
	Tools                    []string         `yaml:"tools"`
	InjectFormatInstructions bool             `yaml:"inject_format_instructions"`
}

// ParserDefinition 描述链末端的输出解析器。
type ParserDefinition struct {
	Type      string   `yaml:"type"`
	Separator string   `yaml:"separator"`
	Required  []string `yaml:"required"`
}

// Outcome 保存一次链调用的完整结果。
type Outcome struct {
	Output       string    `json:"output"`
	Parsed       any       `json:"parsed,omitempty"`
	Model        string    `json:"model,omitempty"`
	FinishReason string    `json:"finish_reason,omitempty"`
	Usage        llm.Usage `json:"usage"`
}

// Chain 是一条装配完成的链。每次调用都会构造新的执行序列，
// 用量采集通过局部回调完成，多个调用之间互不干扰。
type Chain struct {
	name         string
	description  string
	template     *prompt.ChatTemplate
	client       llm.Client
	model        string
	parser       parser.Parser
	tools        []tool.Tool
	instructions bool
}

// Name 返回链名。
func (c *Chain) Name() string { return c.name }

// Description 返回链的描述信息。
func (c *Chain) Description() string { return c.description }

// Invoke 执行链并返回结果。
func (c *Chain) Invoke(ctx context.Context, input map[string]any) (*Outcome, error) {
	values := make(prompt.Values, len(input)+1)
	for key, value := range input {
		values[key] = value
	}
	if c.instructions && c.parser != nil {
		values[formatInstructionsVariable] = c.parser.FormatInstructions()
	}

	var captured *llm.Response
	steps := make([]chain.Runnable, 0, len(c.tools)+3)
	for _, t := range c.tools {
		steps = append(steps, chain.NewToolStep(t, t.Name()))
	}
	steps = append(steps, chain.NewChatStep(c.template))

	modelOpts := []chain.ModelOption{
		chain.WithObserver(func(resp *llm.Response) { captured = resp }),
	}
	if c.model != "" {
		modelOpts = append(modelOpts, chain.WithModelName(c.model))
	}
	steps = append(steps, chain.NewModelStep(c.client, modelOpts...))

	if c.parser != nil {
		steps = append(steps, chain.NewParserStep(c.parser))
	}

	result, err := chain.Pipe(steps...).Invoke(ctx, values)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{}
	if captured != nil {
		outcome.Output = captured.Content
		outcome.Model = captured.Model
		outcome.FinishReason = captured.FinishReason
		outcome.Usage = captured.Usage
	}
	if c.parser != nil {
		outcome.Parsed = result
	} else if resp, ok := result.(*llm.Response); ok && resp != nil {
		outcome.Output = resp.Content
	}
	return outcome, nil
}

// Registry 按名字保存装配好的链。
type Registry struct {
	chains map[string]*Chain
}

// Load 从 YAML 定义文件装配所有链。
func Load(path string, library *prompt.Library, models *provider.Registry, tools map[string]tool.Tool) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err,
			fmt.Sprintf("读取链定义文件 %s 失败", path))
	}
	var defs ChainDefinitions
	if err := yaml.Unmarshal(raw, &defs); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err,
			fmt.Sprintf("解析链定义文件 %s 失败", path))
	}
	if len(defs.Chains) == 0 {
		return nil, xerrors.New(xerrors.CodeInitializationFailure,
			fmt.Sprintf("链定义文件 %s 未包含任何链", path))
	}

	registry := &Registry{chains: make(map[string]*Chain, len(defs.Chains))}
	for name, def := range defs.Chains {
		// 引用了未启用工具的链跳过装配，不阻塞其余链的加载。
		if missing := missingTools(def.Tools, tools); len(missing) > 0 {
			logger.L().Warn("链引用的工具未启用，跳过装配",
				"chain", name,
				"tools", strings.Join(missing, ","),
			)
			continue
		}
		assembled, err := assemble(name, def, library, models, tools)
		if err != nil {
			return nil, err
		}
		registry.chains[name] = assembled
	}
	if len(registry.chains) == 0 {
		return nil, xerrors.New(xerrors.CodeInitializationFailure,
			fmt.Sprintf("链定义文件 %s 中没有可装配的链", path))
	}
	return registry, nil
}

func missingTools(required []string, tools map[string]tool.Tool) []string {
	var missing []string
	for _, name := range required {
		if _, ok := tools[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// NewStatic 直接从装配好的链构造注册表，测试用。
func NewStatic(chains map[string]*Chain) *Registry {
	set := make(map[string]*Chain, len(chains))
	for name, c := range chains {
		if c == nil {
			continue
		}
		if c.name == "" {
			c.name = name
		}
		set[name] = c
	}
	return &Registry{chains: set}
}

// NewChain 手工装配一条链，测试与嵌入式场景用。
func NewChain(name string, template *prompt.ChatTemplate, client llm.Client, p parser.Parser, tools ...tool.Tool) *Chain {
	return &Chain{
		name:     name,
		template: template,
		client:   client,
		parser:   p,
		tools:    tools,
	}
}

func assemble(name string, def ChainDefinition, library *prompt.Library, models *provider.Registry, tools map[string]tool.Tool) (*Chain, error) {
	if strings.TrimSpace(def.Prompt) == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure,
			fmt.Sprintf("链 %s 未指定提示词", name))
	}
	template, ok := library.Chat(def.Prompt)
	if !ok {
		return nil, xerrors.New(xerrors.CodeInitializationFailure,
			fmt.Sprintf("链 %s 引用的提示词 %s 不存在", name, def.Prompt))
	}

	var client llm.Client
	var err error
	if def.Model != "" {
		var found bool
		client, found = models.Client(def.Model)
		if !found {
			return nil, xerrors.New(xerrors.CodeInitializationFailure,
				fmt.Sprintf("链 %s 引用的模型 %s 未配置", name, def.Model))
		}
	} else {
		client, err = models.DefaultClient()
		if err != nil {
			return nil, err
		}
	}

	var outputParser parser.Parser
	if def.Parser.Type != "" {
		outputParser, err = parser.ForName(def.Parser.Type, def.Parser.Separator, def.Parser.Required)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err,
				fmt.Sprintf("链 %s 的解析器配置无效", name))
		}
	}

	chainTools := make([]tool.Tool, 0, len(def.Tools))
	for _, toolName := range def.Tools {
		t, ok := tools[toolName]
		if !ok {
			return nil, xerrors.New(xerrors.CodeInitializationFailure,
				fmt.Sprintf("链 %s 引用的工具 %s 未启用", name, toolName))
		}
		chainTools = append(chainTools, t)
	}

	if def.InjectFormatInstructions {
		if outputParser == nil {
			return nil, xerrors.New(xerrors.CodeInitializationFailure,
				fmt.Sprintf("链 %s 要求注入格式说明但未配置解析器", name))
		}
		if !hasVariable(template.Variables(), formatInstructionsVariable) {
			return nil, xerrors.New(xerrors.CodeInitializationFailure,
				fmt.Sprintf("链 %s 的提示词未声明 %s 变量", name, formatInstructionsVariable))
		}
	}

	return &Chain{
		name:         name,
		description:  def.Description,
		template:     template,
		client:       client,
		model:        def.Model,
		parser:       outputParser,
		tools:        chainTools,
		instructions: def.InjectFormatInstructions,
	}, nil
}

// Invoke 执行指定的链。
func (r *Registry) Invoke(ctx context.Context, chainName string, input map[string]any) (*Outcome, error) {
	c, ok := r.Chain(chainName)
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound,
			fmt.Sprintf("链 %s 未注册", chainName))
	}
	return c.Invoke(ctx, input)
}

// Chain 按名字返回链。
func (r *Registry) Chain(name string) (*Chain, bool) {
	if r == nil {
		return nil, false
	}
	c, ok := r.chains[name]
	return c, ok
}

// Names 返回已注册链名，按字典序排列。
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.chains))
	for name := range r.chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func hasVariable(variables []string, target string) bool {
	for _, variable := range variables {
		if variable == target {
			return true
		}
	}
	return false
}

package provider

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"OpenPrompt-Chain/internal/config"
	"OpenPrompt-Chain/internal/llm"
	"OpenPrompt-Chain/internal/llm/anthropic"
	"OpenPrompt-Chain/internal/llm/openai"
)

// Registry manages a set of model clients keyed by human readable names.
type Registry struct {
	defaultModel string
	clients      map[string]llm.Client
}

// NewRegistry loads model definitions and instantiates concrete clients.
func NewRegistry(cfg config.LLMConfig) (*Registry, error) {
	defs, err := llm.LoadModelDefinitions(cfg.ModelsConfig)
	if err != nil {
		return nil, err
	}

	clients := make(map[string]llm.Client)
	for name, def := range defs.Models {
		providerType := strings.ToLower(strings.TrimSpace(def.Provider))
		if providerType == "" {
			providerType = "openai"
		}
		timeout := time.Duration(def.TimeoutSeconds) * time.Second

		switch providerType {
		case "openai":
			client, err := openai.NewClient(openai.Config{
				APIKey:      def.ResolveAPIKey(),
				BaseURL:     def.BaseURL,
				Model:       def.Model,
				Temperature: def.Temperature,
				Timeout:     timeout,
			})
			if err != nil {
				return nil, fmt.Errorf("初始化模型 %s 失败: %w", name, err)
			}
			clients[name] = instrument(providerType, name, client)
		case "anthropic":
			client, err := anthropic.NewClient(anthropic.Config{
				APIKey:    def.ResolveAPIKey(),
				BaseURL:   def.BaseURL,
				Model:     def.Model,
				MaxTokens: def.MaxTokens,
				Timeout:   timeout,
			})
			if err != nil {
				return nil, fmt.Errorf("初始化模型 %s 失败: %w", name, err)
			}
			clients[name] = instrument(providerType, name, client)
		default:
			return nil, fmt.Errorf("模型 %s 使用了不支持的 provider %s", name, def.Provider)
		}
	}

	if len(clients) == 0 {
		return nil, errors.New("未配置任何模型")
	}

	defaultModel := strings.TrimSpace(cfg.DefaultModel)
	if defaultModel == "" {
		defaultModel = strings.TrimSpace(defs.Default)
	}
	if defaultModel == "" {
		names := make([]string, 0, len(clients))
		for name := range clients {
			names = append(names, name)
		}
		sort.Strings(names)
		defaultModel = names[0]
	}
	if _, ok := clients[defaultModel]; !ok {
		return nil, fmt.Errorf("默认模型 %s 未在配置中找到", defaultModel)
	}

	return &Registry{defaultModel: defaultModel, clients: clients}, nil
}

// NewStaticRegistry wraps pre-built clients, mainly for tests.
func NewStaticRegistry(defaultModel string, clients map[string]llm.Client) (*Registry, error) {
	if len(clients) == 0 {
		return nil, errors.New("未提供任何模型客户端")
	}
	if _, ok := clients[defaultModel]; !ok {
		return nil, fmt.Errorf("默认模型 %s 未在客户端集合中", defaultModel)
	}
	copied := make(map[string]llm.Client, len(clients))
	for name, client := range clients {
		copied[name] = client
	}
	return &Registry{defaultModel: defaultModel, clients: copied}, nil
}

// Decorate replaces every registered client with the result of wrap while
// keeping the registry keys. Completion caching is layered on this way.
func (r *Registry) Decorate(wrap func(name string, client llm.Client) llm.Client) {
	if r == nil || wrap == nil {
		return
	}
	for name, client := range r.clients {
		if wrapped := wrap(name, client); wrapped != nil {
			r.clients[name] = wrapped
		}
	}
}

// DefaultClient returns the client configured as the default model.
func (r *Registry) DefaultClient() (llm.Client, error) {
	if r == nil {
		return nil, errors.New("未初始化的模型注册表")
	}
	client, ok := r.clients[r.defaultModel]
	if !ok {
		return nil, fmt.Errorf("默认模型 %s 未在注册表中", r.defaultModel)
	}
	return client, nil
}

// Client returns the model client identified by name.
func (r *Registry) Client(name string) (llm.Client, bool) {
	if r == nil {
		return nil, false
	}
	client, ok := r.clients[name]
	return client, ok
}

// Models returns the list of registered model names.
func (r *Registry) Models() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, client := range r.clients {
		if closer, ok := client.(llm.Closer); ok {
			_ = closer.Close()
		}
		delete(r.clients, name)
	}
}

package llm

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModelDefinitions models the structure of configs/models.yaml.
type ModelDefinitions struct {
	Models  map[string]ModelDefinition `yaml:"models"`
	Default string                     `yaml:"default"`
}

// ModelDefinition describes a single named model endpoint.
type ModelDefinition struct {
	Provider       string   `yaml:"provider"`
	Model          string   `yaml:"model"`
	APIKey         string   `yaml:"api_key"`
	APIKeyEnv      string   `yaml:"api_key_env"`
	BaseURL        string   `yaml:"base_url"`
	Temperature    *float64 `yaml:"temperature"`
	MaxTokens      int      `yaml:"max_tokens"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Description    string   `yaml:"description"`
}

// ResolveAPIKey 返回配置中的 API Key，优先使用明文字段，其次读取环境变量。
func (d ModelDefinition) ResolveAPIKey() string {
	if key := strings.TrimSpace(d.APIKey); key != "" {
		return key
	}
	if d.APIKeyEnv != "" {
		return strings.TrimSpace(os.Getenv(d.APIKeyEnv))
	}
	return ""
}

// LoadModelDefinitions parses the YAML file containing model metadata.
func LoadModelDefinitions(path string) (ModelDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ModelDefinitions{Models: map[string]ModelDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ModelDefinitions{}, fmt.Errorf("读取模型配置失败: %w", err)
	}

	var defs ModelDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ModelDefinitions{}, fmt.Errorf("解析模型配置失败: %w", err)
	}
	if defs.Models == nil {
		defs.Models = map[string]ModelDefinition{}
	}
	return defs, nil
}

package prompt

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Example 描述可注入提示词的一组示例输入输出。
type Example struct {
	Input    string   `json:"input"`
	Output   string   `json:"output"`
	Keywords []string `json:"keywords"`
	Tags     []string `json:"tags"`
}

// FewShot 按关键词挑选示例并渲染到提示词中。
type FewShot struct {
	examples    []Example
	maxExamples int
}

// NewFewShot 创建示例选择器。
func NewFewShot(examples []Example, maxExamples int) *FewShot {
	if maxExamples <= 0 {
		maxExamples = 3
	}
	return &FewShot{
		examples:    examples,
		maxExamples: maxExamples,
	}
}

// LoadFewShot 从 JSON 文件加载示例库。
func LoadFewShot(path string, maxExamples int) (*FewShot, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("示例库文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析示例库路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取示例库文件失败: %w", err)
	}
	defer file.Close()

	var entries []Example
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析示例库文件失败: %w", err)
	}

	return NewFewShot(entries, maxExamples), nil
}

// Select 根据查询文本挑选最多 maxExamples 条示例。
func (f *FewShot) Select(query string) []Example {
	if f == nil {
		return nil
	}

	query = strings.ToLower(strings.TrimSpace(query))

	results := make([]Example, 0, f.maxExamples)
	for _, example := range f.examples {
		if matches(example, query) {
			results = append(results, example)
			if len(results) >= f.maxExamples {
				break
			}
		}
	}
	return results
}

// Render 将挑选出的示例渲染为 prefix、示例列表、suffix 组成的提示词。
func (f *FewShot) Render(prefix, suffix, query string) string {
	var builder strings.Builder
	if prefix != "" {
		builder.WriteString(prefix)
		builder.WriteString("\n\n")
	}
	for _, example := range f.Select(query) {
		builder.WriteString("输入: ")
		builder.WriteString(example.Input)
		builder.WriteString("\n输出: ")
		builder.WriteString(example.Output)
		builder.WriteString("\n\n")
	}
	builder.WriteString(suffix)
	return builder.String()
}

func matches(example Example, query string) bool {
	if query == "" {
		return true
	}
	for _, keyword := range example.Keywords {
		if keyword == "" {
			continue
		}
		if strings.Contains(query, strings.ToLower(keyword)) {
			return true
		}
	}
	for _, tag := range example.Tags {
		if tag == "" {
			continue
		}
		if strings.Contains(query, strings.ToLower(tag)) {
			return true
		}
	}
	return false
}

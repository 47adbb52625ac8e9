package parser

import (
	"encoding/json"
	"fmt"
	"strings"

	xerrors "OpenPrompt-Chain/internal/errors"
)

// Parser 将模型输出的文本解析为结构化结果。
type Parser interface {
	// Parse 解析模型输出。解析失败返回 PARSE_FAILURE 错误。
	Parse(text string) (any, error)
	// FormatInstructions 返回追加到提示词中的格式说明，可以为空。
	FormatInstructions() string
}

// String 原样返回去除首尾空白后的文本。
type String struct{}

// NewString 创建文本解析器。
func NewString() *String {
	return &String{}
}

// Parse 实现 Parser 接口。
func (*String) Parse(text string) (any, error) {
	return strings.TrimSpace(text), nil
}

// FormatInstructions 实现 Parser 接口。
func (*String) FormatInstructions() string {
	return ""
}

// List 将文本按分隔符切分成字符串列表，空项会被丢弃。
type List struct {
	separator string
}

// NewList 创建列表解析器，separator 为空时使用逗号。
func NewList(separator string) *List {
	if separator == "" {
		separator = ","
	}
	return &List{separator: separator}
}

// Parse 实现 Parser 接口。
func (l *List) Parse(text string) (any, error) {
	parts := strings.Split(text, l.separator)
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return nil, xerrors.New(xerrors.CodeParseFailure, "输出中没有任何列表项")
	}
	return items, nil
}

// FormatInstructions 实现 Parser 接口。
func (l *List) FormatInstructions() string {
	return fmt.Sprintf("请以 %q 分隔的单行列表回答，不要添加编号或额外说明。", l.separator)
}

// JSON 将文本解析为 JSON 对象，允许输出被 markdown 代码块包裹。
type JSON struct {
	required []string
}

// NewJSON 创建 JSON 解析器。required 中的键缺失时解析失败。
func NewJSON(required ...string) *JSON {
	return &JSON{required: append([]string(nil), required...)}
}

// Parse 实现 Parser 接口。
func (j *JSON) Parse(text string) (any, error) {
	cleaned := stripFence(text)
	if cleaned == "" {
		return nil, xerrors.New(xerrors.CodeParseFailure, "输出为空，无法解析 JSON")
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(cleaned), &decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeParseFailure, err, "输出不是合法的 JSON 对象")
	}

	for _, key := range j.required {
		if _, ok := decoded[key]; !ok {
			return nil, xerrors.New(xerrors.CodeParseFailure,
				fmt.Sprintf("JSON 输出缺少必需的键 %s", key))
		}
	}
	return decoded, nil
}

// FormatInstructions 实现 Parser 接口。
func (j *JSON) FormatInstructions() string {
	if len(j.required) == 0 {
		return "请只输出一个合法的 JSON 对象，不要添加任何解释。"
	}
	return fmt.Sprintf("请只输出一个合法的 JSON 对象，必须包含键：%s。不要添加任何解释。",
		strings.Join(j.required, ", "))
}

// stripFence 去掉 ```json ... ``` 形式的代码块包装。
func stripFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		// 丢弃 ``` 之后的语言标记行。
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// ForName 根据链定义中的名称构造解析器。
func ForName(name, separator string, required []string) (Parser, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "string", "text":
		return NewString(), nil
	case "list":
		return NewList(separator), nil
	case "json":
		return NewJSON(required...), nil
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("未知的解析器类型 %s", name))
	}
}

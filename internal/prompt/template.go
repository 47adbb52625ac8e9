package prompt

import (
	"fmt"
	"sort"
	"strings"

	xerrors "OpenPrompt-Chain/internal/errors"
)

// Values 保存模板渲染所需的变量。
type Values map[string]any

// Template 是基于 {variable} 占位符的提示词模板。
// 使用 {{ 与 }} 转义字面量花括号。
type Template struct {
	name      string
	text      string
	variables []string
	partials  map[string]string
}

// Option 定义可选的模板配置。
type Option func(*Template)

// WithPartial 预先绑定一个变量，渲染时不再需要调用方提供。
func WithPartial(name, value string) Option {
	return func(t *Template) {
		if t.partials == nil {
			t.partials = make(map[string]string)
		}
		t.partials[name] = value
	}
}

// New 创建模板并校验声明的变量与文本中的占位符一致。
func New(name, text string, variables []string, opts ...Option) (*Template, error) {
	t := &Template{
		name:      name,
		text:      text,
		variables: append([]string(nil), variables...),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}

	found, err := scanPlaceholders(text)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTemplateFailure, err, fmt.Sprintf("模板 %s 语法错误", name))
	}

	declared := make(map[string]bool, len(t.variables)+len(t.partials))
	for _, v := range t.variables {
		declared[v] = true
	}
	for v := range t.partials {
		declared[v] = true
	}

	for v := range found {
		if !declared[v] {
			return nil, xerrors.New(xerrors.CodeTemplateFailure,
				fmt.Sprintf("模板 %s 使用了未声明的变量 %s", name, v))
		}
	}
	for _, v := range t.variables {
		if !found[v] {
			return nil, xerrors.New(xerrors.CodeTemplateFailure,
				fmt.Sprintf("模板 %s 声明的变量 %s 未在文本中出现", name, v))
		}
	}
	return t, nil
}

// MustNew 与 New 相同，但在出错时 panic，仅用于程序内固定的模板。
func MustNew(name, text string, variables []string, opts ...Option) *Template {
	t, err := New(name, text, variables, opts...)
	if err != nil {
		panic(err)
	}
	return t
}

// Name 返回模板名称。
func (t *Template) Name() string {
	if t == nil {
		return ""
	}
	return t.name
}

// Variables 返回渲染时调用方必须提供的变量名。
func (t *Template) Variables() []string {
	if t == nil {
		return nil
	}
	out := append([]string(nil), t.variables...)
	sort.Strings(out)
	return out
}

// Format 渲染模板。缺失变量时返回 TEMPLATE_FAILURE 错误。
func (t *Template) Format(values Values) (string, error) {
	if t == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "模板未初始化")
	}

	resolve := func(name string) (string, bool) {
		if values != nil {
			if v, ok := values[name]; ok {
				return stringify(v), true
			}
		}
		if v, ok := t.partials[name]; ok {
			return v, true
		}
		return "", false
	}

	var builder strings.Builder
	runes := []rune(t.text)
	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		switch ch {
		case '{':
			if i+1 < len(runes) && runes[i+1] == '{' {
				builder.WriteRune('{')
				i++
				continue
			}
			end := indexRune(runes, i+1, '}')
			if end < 0 {
				return "", xerrors.New(xerrors.CodeTemplateFailure,
					fmt.Sprintf("模板 %s 存在未闭合的占位符", t.name))
			}
			// 与 scanPlaceholders 保持一致，允许 { name } 这样的写法。
			name := strings.TrimSpace(string(runes[i+1 : end]))
			value, ok := resolve(name)
			if !ok {
				return "", xerrors.New(xerrors.CodeTemplateFailure,
					fmt.Sprintf("模板 %s 缺少变量 %s", t.name, name))
			}
			builder.WriteString(value)
			i = end
		case '}':
			if i+1 < len(runes) && runes[i+1] == '}' {
				builder.WriteRune('}')
				i++
				continue
			}
			return "", xerrors.New(xerrors.CodeTemplateFailure,
				fmt.Sprintf("模板 %s 存在多余的右花括号", t.name))
		default:
			builder.WriteRune(ch)
		}
	}
	return builder.String(), nil
}

// Partial 返回绑定了额外变量的新模板。
func (t *Template) Partial(name, value string) *Template {
	clone := &Template{
		name:     t.name,
		text:     t.text,
		partials: make(map[string]string, len(t.partials)+1),
	}
	for k, v := range t.partials {
		clone.partials[k] = v
	}
	clone.partials[name] = value
	for _, v := range t.variables {
		if v != name {
			clone.variables = append(clone.variables, v)
		}
	}
	return clone
}

// scanPlaceholders 返回文本中出现的所有占位符名称。
func scanPlaceholders(text string) (map[string]bool, error) {
	found := make(map[string]bool)
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '{':
			if i+1 < len(runes) && runes[i+1] == '{' {
				i++
				continue
			}
			end := indexRune(runes, i+1, '}')
			if end < 0 {
				return nil, fmt.Errorf("未闭合的占位符")
			}
			name := strings.TrimSpace(string(runes[i+1 : end]))
			if name == "" {
				return nil, fmt.Errorf("空占位符")
			}
			found[name] = true
			i = end
		case '}':
			if i+1 < len(runes) && runes[i+1] == '}' {
				i++
				continue
			}
			return nil, fmt.Errorf("多余的右花括号")
		}
	}
	return found, nil
}

func indexRune(runes []rune, from int, target rune) int {
	for i := from; i < len(runes); i++ {
		if runes[i] == target {
			return i
		}
		if runes[i] == '{' {
			// 占位符内不允许嵌套花括号。
			return -1
		}
	}
	return -1
}

func stringify(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case fmt.Stringer:
		return value.String()
	default:
		return fmt.Sprintf("%v", value)
	}
}

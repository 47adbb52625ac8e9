package parser

import (
	"testing"

	xerrors "OpenPrompt-Chain/internal/errors"
)

func TestStringParser(t *testing.T) {
	got, err := NewString().Parse("  hello \n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello" {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestListParser(t *testing.T) {
	parsed, err := NewList(",").Parse("红色, 绿色 ,, 蓝色\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	items, ok := parsed.([]string)
	if !ok {
		t.Fatalf("expected []string, got %T", parsed)
	}
	if len(items) != 3 || items[0] != "红色" || items[2] != "蓝色" {
		t.Fatalf("unexpected items: %v", items)
	}

	if _, err := NewList(",").Parse("  , ,"); err == nil {
		t.Fatalf("expected error for empty list")
	}
}

func TestJSONParser(t *testing.T) {
	t.Run("plain object", func(t *testing.T) {
		parsed, err := NewJSON("answer").Parse(`{"answer": "42", "confidence": 0.9}`)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		decoded := parsed.(map[string]any)
		if decoded["answer"] != "42" {
			t.Fatalf("unexpected value: %v", decoded["answer"])
		}
	})

	t.Run("fenced block", func(t *testing.T) {
		text := "```json\n{\"answer\": \"ok\"}\n```"
		parsed, err := NewJSON().Parse(text)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if parsed.(map[string]any)["answer"] != "ok" {
			t.Fatalf("unexpected result: %v", parsed)
		}
	})

	t.Run("missing required key", func(t *testing.T) {
		_, err := NewJSON("answer").Parse(`{"other": 1}`)
		if err == nil {
			t.Fatalf("expected error for missing key")
		}
		if xerrors.CodeOf(err) != xerrors.CodeParseFailure {
			t.Fatalf("unexpected code: %s", xerrors.CodeOf(err))
		}
		if xerrors.RetryableError(err) {
			t.Fatalf("parse failures must not be retryable")
		}
	})

	t.Run("not json", func(t *testing.T) {
		if _, err := NewJSON().Parse("这不是 JSON"); err == nil {
			t.Fatalf("expected error for invalid json")
		}
	})
}

func TestForName(t *testing.T) {
	if _, err := ForName("json", "", []string{"a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ForName("list", ";", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ForName("", "", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ForName("xml", "", nil); err == nil {
		t.Fatalf("expected error for unknown parser")
	}
}

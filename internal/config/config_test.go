package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "openprompt.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{}`))
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("默认监听地址不符: %q", cfg.Server.Address)
	}
	if cfg.Storage.RunStore.Driver != "memory" || cfg.Storage.RunStore.MaxRetries != 3 {
		t.Fatalf("默认存储配置不符: %+v", cfg.Storage.RunStore)
	}
	if cfg.RunQueue.Driver != "memory" || cfg.RunQueue.Workers != 4 {
		t.Fatalf("默认队列配置不符: %+v", cfg.RunQueue)
	}
	if cfg.Alerting.WebhookURL != "" {
		t.Fatalf("默认不应配置 webhook: %q", cfg.Alerting.WebhookURL)
	}
}

func TestLoadParsesAlertingWebhook(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{
  "alerting": {
    "webhook_url": "https://hooks.example.com/alerts"
  }
}`))
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Alerting.WebhookURL != "https://hooks.example.com/alerts" {
		t.Fatalf("webhook 地址解析有误: %q", cfg.Alerting.WebhookURL)
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	path := writeConfig(t, `{"library": {"prompts_config": "p.yaml"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	base := filepath.Dir(path)
	if cfg.Library.PromptsConfig != filepath.Join(base, "p.yaml") {
		t.Fatalf("相对路径未按配置文件目录解析: %q", cfg.Library.PromptsConfig)
	}
	if cfg.LLM.ModelsConfig != filepath.Join(base, "models.yaml") {
		t.Fatalf("模型配置默认路径不符: %q", cfg.LLM.ModelsConfig)
	}
}

package provider

import (
	"context"
	"time"

	"OpenPrompt-Chain/internal/llm"
	"OpenPrompt-Chain/internal/observability/metrics"
)

// measuredClient 在模型客户端外包裹一层调用指标采集。
type measuredClient struct {
	provider string
	model    string
	inner    llm.Client
}

func instrument(providerType, model string, inner llm.Client) llm.Client {
	return &measuredClient{provider: providerType, model: model, inner: inner}
}

// Generate 实现 llm.Client 接口。
func (m *measuredClient) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	start := time.Now()
	resp, err := m.inner.Generate(ctx, req)
	tokens := 0
	if resp != nil {
		tokens = resp.Usage.TotalTokens
	}
	metrics.ObserveModelCall(m.provider, m.model, err, tokens, time.Since(start))
	return resp, err
}

// Close 透传底层客户端的资源释放。
func (m *measuredClient) Close() error {
	if closer, ok := m.inner.(llm.Closer); ok {
		return closer.Close()
	}
	return nil
}

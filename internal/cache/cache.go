package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	xerrors "OpenPrompt-Chain/internal/errors"
	"OpenPrompt-Chain/internal/llm"
	"OpenPrompt-Chain/pkg/logger"
)

// Backend 抽象补全缓存的存取接口。
type Backend interface {
	Get(ctx context.Context, key string) (*llm.Response, bool, error)
	Set(ctx context.Context, key string, resp *llm.Response, ttl time.Duration) error
	Close() error
}

// Client 在任意 llm.Client 外包裹一层补全缓存。
// 缓存故障只记录日志并直接回源，绝不让请求失败。
type Client struct {
	inner   llm.Client
	backend Backend
	ttl     time.Duration
}

// New 创建缓存客户端。
func New(inner llm.Client, backend Backend, ttl time.Duration) (*Client, error) {
	if inner == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未提供被包裹的模型客户端")
	}
	if backend == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未提供缓存后端")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Client{inner: inner, backend: backend, ttl: ttl}, nil
}

// Generate 实现 llm.Client 接口。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	key, err := Key(req)
	if err != nil {
		// 无法生成键时直接回源。
		return c.inner.Generate(ctx, req)
	}

	if cached, ok, err := c.backend.Get(ctx, key); err != nil {
		logger.L().Warn("读取补全缓存失败", slog.Any("error", err), slog.String("key", key))
	} else if ok {
		return cached, nil
	}

	resp, err := c.inner.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := c.backend.Set(ctx, key, resp, c.ttl); err != nil {
		logger.L().Warn("写入补全缓存失败", slog.Any("error", err), slog.String("key", key))
	}
	return resp, nil
}

// Close 释放缓存后端资源。
func (c *Client) Close() error {
	if c == nil || c.backend == nil {
		return nil
	}
	return c.backend.Close()
}

// Key 对请求做规范化摘要。模型参数参与摘要，
// 调整温度等参数后不会命中旧的补全结果。
func Key(req llm.Request) (string, error) {
	encoded, err := json.Marshal(req)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeCacheFailure, err, "序列化缓存键失败")
	}
	digest := sha256.Sum256(encoded)
	return "openprompt:completion:" + hex.EncodeToString(digest[:]), nil
}

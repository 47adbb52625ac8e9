package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"OpenPrompt-Chain/internal/config"
	"OpenPrompt-Chain/internal/llm"
)

// Redis 将补全结果存入 Redis，带 TTL。
type Redis struct {
	client *redis.Client
}

// NewRedis 创建 Redis 缓存后端。
func NewRedis(cfg config.RedisConfig) (*Redis, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &Redis{client: client}, nil
}

// Get 实现 Backend 接口。
func (r *Redis) Get(ctx context.Context, key string) (*llm.Response, bool, error) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("Redis 读取缓存失败: %w", err)
	}
	var resp llm.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		// 解码失败视为未命中，旧条目会在 TTL 到期后消失。
		return nil, false, nil
	}
	return &resp, true, nil
}

// Set 实现 Backend 接口。
func (r *Redis) Set(ctx context.Context, key string, resp *llm.Response, ttl time.Duration) error {
	if resp == nil {
		return nil
	}
	encoded, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("序列化缓存条目失败: %w", err)
	}
	if err := r.client.Set(ctx, key, encoded, ttl).Err(); err != nil {
		return fmt.Errorf("Redis 写入缓存失败: %w", err)
	}
	return nil
}

// Close 实现 Backend 接口。
func (r *Redis) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

package cache

import (
	"context"
	"sync"
	"time"

	"OpenPrompt-Chain/internal/llm"
)

// defaultMemoryLimit 是内存缓存的默认容量上限。
const defaultMemoryLimit = 1024

type memoryEntry struct {
	resp      llm.Response
	expiresAt time.Time
}

// Memory 是进程内的补全缓存，超出容量时随机淘汰，主要用于测试与单机部署。
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	limit   int
}

// NewMemory 创建内存缓存。
func NewMemory(limit int) *Memory {
	if limit <= 0 {
		limit = defaultMemoryLimit
	}
	return &Memory{
		entries: make(map[string]memoryEntry),
		limit:   limit,
	}
}

// Get 实现 Backend 接口。
func (m *Memory) Get(_ context.Context, key string) (*llm.Response, bool, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return nil, false, nil
	}
	clone := entry.resp
	return &clone, true, nil
}

// Set 实现 Backend 接口。
func (m *Memory) Set(_ context.Context, key string, resp *llm.Response, ttl time.Duration) error {
	if resp == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.entries) >= m.limit {
		for evict := range m.entries {
			delete(m.entries, evict)
			break
		}
	}

	entry := memoryEntry{resp: *resp}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	m.entries[key] = entry
	return nil
}

// Close 实现 Backend 接口。
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]memoryEntry)
	return nil
}

// Len 返回当前缓存条目数量。
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

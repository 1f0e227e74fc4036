package risk

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	apperrors "DeFAI-Gateway/internal/errors"
	"DeFAI-Gateway/pkg/logger"
)

// Cache 缓存按地址索引的合约风险报告。实现对读取错误一律
// 按未命中处理，缓存故障不应拖垮分析流程。
type Cache interface {
	Get(ctx context.Context, address string) (*Report, bool)
	Set(ctx context.Context, address string, report *Report)
}

func cacheKey(address string) string {
	return "defai:risk:report:" + strings.ToLower(address)
}

// MemoryCache 是进程内的报告缓存。
type MemoryCache struct {
	mu      sync.RWMutex
	reports map[string]*Report
}

// NewMemoryCache 创建空的内存缓存。
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{reports: map[string]*Report{}}
}

// Get 返回缓存的报告。
func (c *MemoryCache) Get(_ context.Context, address string) (*Report, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	report, ok := c.reports[cacheKey(address)]
	return report, ok
}

// Set 写入报告。
func (c *MemoryCache) Set(_ context.Context, address string, report *Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports[cacheKey(address)] = report
}

// RedisCacheConfig 描述 Redis 缓存的连接参数。
type RedisCacheConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// RedisCache 把报告以 JSON 形式存进 Redis，进程间共享。
type RedisCache struct {
	client *redis.Client
	log    *slog.Logger
}

// NewRedisCache 建立连接并用 Ping 验活。
func NewRedisCache(cfg RedisCacheConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInitializationFailure, err, "连接 Redis 失败")
	}
	return &RedisCache{client: client, log: logger.Named("risk-cache")}, nil
}

// Get 读取并反序列化报告，任何错误视为未命中。
func (c *RedisCache) Get(ctx context.Context, address string) (*Report, bool) {
	payload, err := c.client.Get(ctx, cacheKey(address)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("读取风险报告缓存失败", "address", address, "error", err)
		}
		return nil, false
	}
	var report Report
	if err := json.Unmarshal(payload, &report); err != nil {
		c.log.Warn("反序列化风险报告失败", "address", address, "error", err)
		return nil, false
	}
	return &report, true
}

// Set 序列化并写入报告。写失败只记日志。
func (c *RedisCache) Set(ctx context.Context, address string, report *Report) {
	payload, err := json.Marshal(report)
	if err != nil {
		c.log.Warn("序列化风险报告失败", "address", address, "error", err)
		return
	}
	if err := c.client.Set(ctx, cacheKey(address), payload, 0).Err(); err != nil {
		c.log.Warn("写入风险报告缓存失败", "address", address, "error", err)
	}
}

// Close 释放底层连接。
func (c *RedisCache) Close() error {
	return c.client.Close()
}

/*
 * @Description: 秒传去重与进度快照缓存（Redis 为主，内存兜底）
 * @Author: 安知鱼
 * @Date: 2026-01-28 14:22:40
 * @LastEditTime: 2026-02-16 10:45:12
 * @LastEditors: 安知鱼
 */
package uploader

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/anzhiyu-c/picnexus-server/internal/pkg/event"
	"github.com/redis/go-redis/v9"
)

const (
	dedupeKeyPrefix   = "picnexus:dedupe:"
	progressKeyPrefix = "picnexus:progress:"

	// 去重记录长期有效：内容寻址的 URL 不会变
	dedupeTTL = 30 * 24 * time.Hour
	// 进度快照只在上传进行中有意义
	progressTTL = 10 * time.Minute

	// 缓存操作的预算：超时就放弃，绝不拖慢上传主流程
	cacheOpTimeout = 300 * time.Millisecond
)

// Cache 是上传服务的辅助缓存。所有操作都是尽力而为：
// Redis 不可用时退回进程内存，缓存的任何失败都不影响上传结果。
type Cache struct {
	rdb *redis.Client // 可以为 nil（未配置 Redis）

	memURLs     sync.Map // dedupe key -> url
	memProgress sync.Map // upload id -> event.ProgressPayload
}

// NewCache 创建缓存。rdb 为 nil 时全部走内存。
func NewCache(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

// LookupURL 查询内容哈希对应的已上传 URL。
func (c *Cache) LookupURL(ctx context.Context, key string) (string, bool) {
	if c.rdb != nil {
		opCtx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
		defer cancel()
		if url, err := c.rdb.Get(opCtx, dedupeKeyPrefix+key).Result(); err == nil && url != "" {
			return url, true
		}
	}
	if v, ok := c.memURLs.Load(key); ok {
		return v.(string), true
	}
	return "", false
}

// StoreURL 记录内容哈希到 URL 的映射。
func (c *Cache) StoreURL(ctx context.Context, key, url string) {
	c.memURLs.Store(key, url)
	if c.rdb == nil {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	if err := c.rdb.Set(opCtx, dedupeKeyPrefix+key, url, dedupeTTL).Err(); err != nil {
		log.Printf("[Uploader] 写入去重缓存失败（忽略）: %v", err)
	}
}

// StoreProgress 保存一条进度快照，供轮询接口读取。
func (c *Cache) StoreProgress(p event.ProgressPayload) {
	c.memProgress.Store(p.ID, p)
	if c.rdb == nil {
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	opCtx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()
	if err := c.rdb.Set(opCtx, progressKeyPrefix+p.ID, data, progressTTL).Err(); err != nil {
		log.Printf("[Uploader] 写入进度快照失败（忽略）: %v", err)
	}
}

// LookupProgress 返回指定上传任务的最近一条进度快照。
func (c *Cache) LookupProgress(ctx context.Context, id string) (event.ProgressPayload, bool) {
	if c.rdb != nil {
		opCtx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
		defer cancel()
		if data, err := c.rdb.Get(opCtx, progressKeyPrefix+id).Bytes(); err == nil {
			var p event.ProgressPayload
			if json.Unmarshal(data, &p) == nil {
				return p, true
			}
		}
	}
	if v, ok := c.memProgress.Load(id); ok {
		return v.(event.ProgressPayload), true
	}
	return event.ProgressPayload{}, false
}

// dedupeKey 把服务商、策略与内容哈希拼成缓存键。
// 不同服务商/策略下同一内容的 URL 不同，必须分开缓存。
func dedupeKey(provider, policyName, contentHash string) string {
	return fmt.Sprintf("%s:%s:%s", provider, policyName, contentHash)
}

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mthorsley/wikigraph-crawler/internal/crawler"
)

// ResolverCache wraps a Gateway with a Redis cache for title resolution.
// Resolution results are immutable for the life of a crawl, so a TTL is
// enough. Cache failures are logged and tolerated so Redis never takes
// the crawler down.
type ResolverCache struct {
	crawler.Gateway

	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewResolverCache wraps next with a Redis-backed title cache.
func NewResolverCache(next crawler.Gateway, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *ResolverCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResolverCache{Gateway: next, rdb: rdb, ttl: ttl, logger: logger}
}

func titleKey(title string) string {
	return fmt.Sprintf("wikigraph:title:%s", title)
}

// ResolveTitle checks the cache before hitting the upstream.
func (c *ResolverCache) ResolveTitle(ctx context.Context, title string) (crawler.PageInfo, error) {
	raw, err := c.rdb.Get(ctx, titleKey(title)).Result()
	if err == nil {
		var info crawler.PageInfo
		if uerr := json.Unmarshal([]byte(raw), &info); uerr == nil {
			return info, nil
		}
	} else if err != redis.Nil {
		c.logger.Warn("title cache read failed", zap.String("title", title), zap.Error(err))
	}

	info, err := c.Gateway.ResolveTitle(ctx, title)
	if err != nil {
		return crawler.PageInfo{}, err
	}
	c.put(ctx, title, info)
	return info, nil
}

// BatchResolveTitles serves cache hits locally and forwards only the
// misses upstream.
func (c *ResolverCache) BatchResolveTitles(ctx context.Context, titles []string) (map[string]crawler.PageInfo, error) {
	out := make(map[string]crawler.PageInfo, len(titles))
	misses := titles

	keys := make([]string, len(titles))
	for i, t := range titles {
		keys[i] = titleKey(t)
	}
	if len(keys) > 0 {
		vals, err := c.rdb.MGet(ctx, keys...).Result()
		if err != nil {
			c.logger.Warn("title cache batch read failed", zap.Int("titles", len(titles)), zap.Error(err))
		} else {
			misses = misses[:0:0]
			for i, v := range vals {
				s, ok := v.(string)
				if !ok {
					misses = append(misses, titles[i])
					continue
				}
				var info crawler.PageInfo
				if uerr := json.Unmarshal([]byte(s), &info); uerr != nil {
					misses = append(misses, titles[i])
					continue
				}
				out[info.Title] = info
			}
		}
	}

	if len(misses) == 0 {
		return out, nil
	}
	resolved, err := c.Gateway.BatchResolveTitles(ctx, misses)
	if err != nil {
		return nil, err
	}

	pipe := c.rdb.Pipeline()
	for canonical, info := range resolved {
		out[canonical] = info
		if raw, merr := json.Marshal(info); merr == nil {
			pipe.Set(ctx, titleKey(canonical), raw, c.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("title cache write failed", zap.Int("titles", len(resolved)), zap.Error(err))
	}
	return out, nil
}

func (c *ResolverCache) put(ctx context.Context, title string, info crawler.PageInfo) {
	raw, err := json.Marshal(info)
	if err != nil {
		return
	}
	pipe := c.rdb.Pipeline()
	pipe.Set(ctx, titleKey(title), raw, c.ttl)
	if info.Title != title {
		pipe.Set(ctx, titleKey(info.Title), raw, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("title cache write failed", zap.String("title", title), zap.Error(err))
	}
}

package embedcache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xxxsen/docchat/internal/ai"
)

// WrapLruCacheToEmbedder keeps recent vectors in memory. Concurrent misses for
// the same text share one call to e.
func WrapLruCacheToEmbedder(e ai.IEmbedder, size int, ttl time.Duration) ai.IEmbedder {
	if e == nil || size <= 0 || ttl <= 0 {
		return e
	}
	return &lruEmbedder{
		next:  e,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

type lruEmbedder struct {
	next  ai.IEmbedder
	cache *expirable.LRU[string, []float32]
	group singleflight.Group
}

func (l *lruEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	cacheKey := buildCacheKey(l.next.ModelName(), taskType, text).String()
	if cached, ok := l.cache.Get(cacheKey); ok {
		logutil.GetLogger(ctx).Debug("embedding cache hit (lru)", zap.String("task_type", taskType))
		return cloneEmbedding(cached), nil
	}
	res, err, _ := l.group.Do(cacheKey, func() (interface{}, error) {
		vec, err := l.next.Embed(ctx, text, taskType)
		if err != nil {
			return nil, err
		}
		l.cache.Add(cacheKey, cloneEmbedding(vec))
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneEmbedding(res.([]float32)), nil
}

func (l *lruEmbedder) ModelName() string {
	return l.next.ModelName()
}

func cloneEmbedding(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}

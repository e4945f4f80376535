package embedcache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xxxsen/mofadvisor/internal/ai"
)

// WrapLruCacheToEmbedder keeps up to size vectors in memory for ttl. Concurrent
// misses on the same key share one call to e, and a caller that gives up
// does not cancel it for the others. Vectors are copied on the way in
// and out so callers may mutate them.
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
	next   ai.IEmbedder
	cache  *expirable.LRU[string, []float32]
	flight singleflight.Group
}

func (l *lruEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	key, _, _ := buildCacheKey(l.next.ModelName(), taskType, text)
	if cached, ok := l.cache.Get(key); ok {
		logutil.GetLogger(ctx).Debug("embedding cache hit (lru)", zap.String("task_type", taskType))
		return cloneEmbedding(cached), nil
	}
	// The shared call outlives any single caller; provider timeouts still bound it.
	ch := l.flight.DoChan(key, func() (interface{}, error) {
		res, err := l.next.Embed(context.WithoutCancel(ctx), text, taskType)
		if err != nil {
			return nil, err
		}
		l.cache.Add(key, cloneEmbedding(res))
		return res, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		res := r.Val.([]float32)
		if r.Shared {
			return cloneEmbedding(res), nil
		}
		return res, nil
	}
}

func (l *lruEmbedder) ModelName() string {
	return l.next.ModelName()
}

func cloneEmbedding(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	return append(make([]float32, 0, len(values)), values...)
}

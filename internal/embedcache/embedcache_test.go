package embedcache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xxxsen/mofadvisor/internal/ai"
	"github.com/xxxsen/mofadvisor/internal/model"
)

type countingEmbedder struct {
	calls int
	err   error
}

func (c *countingEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return []float32{float32(len(text)), 1}, nil
}

func (c *countingEmbedder) ModelName() string {
	return "test-model"
}

type memStore struct {
	items   map[string][]float32
	readErr error
}

func (m *memStore) Get(ctx context.Context, modelName, taskType, contentHash string) ([]float32, bool, error) {
	if m.readErr != nil {
		return nil, false, m.readErr
	}
	v, ok := m.items[modelName+taskType+contentHash]
	return v, ok, nil
}

func (m *memStore) Save(ctx context.Context, item *model.EmbeddingCache) error {
	m.items[item.ModelName+item.TaskType+item.ContentHash] = item.Embedding
	return nil
}

func TestLruEmbedderCachesPerTaskType(t *testing.T) {
	next := &countingEmbedder{}
	e := WrapLruCacheToEmbedder(next, 10, time.Minute)
	ctx := context.Background()

	first, err := e.Embed(ctx, "copper btc", ai.TaskTypeQuery)
	require.NoError(t, err)
	first[0] = 42
	second, err := e.Embed(ctx, "copper btc", ai.TaskTypeQuery)
	require.NoError(t, err)
	require.Equal(t, float32(10), second[0])
	require.Equal(t, 1, next.calls)

	_, err = e.Embed(ctx, "copper btc", ai.TaskTypeDocument)
	require.NoError(t, err)
	require.Equal(t, 2, next.calls)
	require.Equal(t, "test-model", e.ModelName())
}

func TestLruEmbedderDoesNotCacheErrors(t *testing.T) {
	next := &countingEmbedder{err: errors.New("boom")}
	e := WrapLruCacheToEmbedder(next, 10, time.Minute)
	_, err := e.Embed(context.Background(), "x", ai.TaskTypeQuery)
	require.Error(t, err)
	_, err = e.Embed(context.Background(), "x", ai.TaskTypeQuery)
	require.Error(t, err)
	require.Equal(t, 2, next.calls)
}

type gatedEmbedder struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (g *gatedEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if g.calls.Add(1) == 1 {
		close(g.started)
	}
	select {
	case <-g.release:
		return []float32{1, 2}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *gatedEmbedder) ModelName() string {
	return "test-model"
}

func TestLruEmbedderWaiterSurvivesLeaderCancel(t *testing.T) {
	next := &gatedEmbedder{started: make(chan struct{}), release: make(chan struct{})}
	e := WrapLruCacheToEmbedder(next, 10, time.Minute)

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := e.Embed(leaderCtx, "copper btc", ai.TaskTypeDocument)
		leaderErr <- err
	}()
	<-next.started

	type result struct {
		vec []float32
		err error
	}
	waiter := make(chan result, 1)
	go func() {
		vec, err := e.Embed(context.Background(), "copper btc", ai.TaskTypeDocument)
		waiter <- result{vec: vec, err: err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-leaderErr, context.Canceled)
	close(next.release)

	got := <-waiter
	require.NoError(t, got.err)
	require.Equal(t, []float32{1, 2}, got.vec)
	require.Equal(t, int32(1), next.calls.Load())

	cached, err := e.Embed(context.Background(), "copper btc", ai.TaskTypeDocument)
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2}, cached)
	require.Equal(t, int32(1), next.calls.Load())
}

func TestWrapLruDisabled(t *testing.T) {
	next := &countingEmbedder{}
	require.Same(t, ai.IEmbedder(next), WrapLruCacheToEmbedder(next, 0, time.Minute))
}

func TestDBEmbedderReadsThrough(t *testing.T) {
	next := &countingEmbedder{}
	store := &memStore{items: map[string][]float32{}}
	e := WrapDBCacheToEmbedder(next, store)
	ctx := context.Background()

	_, err := e.Embed(ctx, "zinc bdc", ai.TaskTypeDocument)
	require.NoError(t, err)
	_, err = e.Embed(ctx, "zinc bdc", ai.TaskTypeDocument)
	require.NoError(t, err)
	require.Equal(t, 1, next.calls)
	require.Len(t, store.items, 1)
}

func TestDBEmbedderFallsThroughOnReadError(t *testing.T) {
	next := &countingEmbedder{}
	store := &memStore{items: map[string][]float32{}, readErr: errors.New("db down")}
	e := WrapDBCacheToEmbedder(next, store)
	vec, err := e.Embed(context.Background(), "abc", ai.TaskTypeDocument)
	require.NoError(t, err)
	require.Equal(t, []float32{3, 1}, vec)
}

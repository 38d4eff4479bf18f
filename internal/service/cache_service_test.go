package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/account-activation-api/pkg/cache"
	"github.com/noah-isme/account-activation-api/pkg/jobs"
)

func TestHandleInvalidationDeletesKeys(t *testing.T) {
	store := newMemoryCache()
	svc := NewCacheService(store, nil, time.Minute, nil, true)
	ctx := context.Background()
	require.NoError(t, svc.Set(ctx, cache.KeyStatusStats, map[string]int{"ACTIVE": 1}, 0))
	require.NoError(t, svc.Set(ctx, cache.ParentStatusKey("p1"), "cached", 0))
	require.NoError(t, svc.Set(ctx, cache.ParentStatusKey("p2"), "cached", 0))

	err := svc.HandleInvalidation(ctx, jobs.Job{Type: JobTypeStatusInvalidation, Payload: StatusInvalidation{Stats: true, ParentIDs: []string{"p1"}}})

	require.NoError(t, err)
	assert.False(t, store.has(cache.KeyStatusStats))
	assert.False(t, store.has(cache.ParentStatusKey("p1")))
	assert.True(t, store.has(cache.ParentStatusKey("p2")))
}

func TestInvalidateFlushesStatusKeys(t *testing.T) {
	store := newMemoryCache()
	svc := NewCacheService(store, nil, time.Minute, nil, true)
	ctx := context.Background()
	require.NoError(t, svc.Set(ctx, cache.KeyStatusStats, 1, 0))
	require.NoError(t, svc.Set(ctx, cache.ParentStatusKey("p1"), "cached", 0))
	require.NoError(t, svc.Set(ctx, "session:abc", "kept", 0))

	require.NoError(t, svc.Invalidate(ctx, cache.PatternStatusAll))

	assert.False(t, store.has(cache.KeyStatusStats))
	assert.False(t, store.has(cache.ParentStatusKey("p1")))
	assert.True(t, store.has("session:abc"))
}

func TestCacheServiceEnqueueRunsInline(t *testing.T) {
	store := newMemoryCache()
	svc := NewCacheService(store, nil, time.Minute, nil, true)
	ctx := context.Background()
	require.NoError(t, svc.Set(ctx, cache.ParentStatusKey("p1"), "cached", 0))

	enqueueInvalidation(svc, nil, StatusInvalidation{ParentIDs: []string{"p1"}})

	assert.False(t, store.has(cache.ParentStatusKey("p1")))
}

func TestHandleGiveUpCountsDroppedInvalidation(t *testing.T) {
	metrics := NewMetricsService()
	core, logs := observer.New(zap.ErrorLevel)
	svc := NewCacheService(newMemoryCache(), metrics, time.Minute, zap.New(core), true)

	svc.HandleGiveUp(jobs.Job{ID: "job-1", Type: JobTypeStatusInvalidation, Attempt: 4}, errors.New("redis down"))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.droppedInvalidations))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "job-1", logs.All()[0].ContextMap()["job_id"])
}

func TestHandleInvalidationRejectsForeignPayload(t *testing.T) {
	svc := NewCacheService(newMemoryCache(), nil, time.Minute, nil, true)
	err := svc.HandleInvalidation(context.Background(), jobs.Job{Type: "other", Payload: 42})
	assert.Error(t, err)
}

func TestCacheServiceDisabledIsNoop(t *testing.T) {
	store := newMemoryCache()
	svc := NewCacheService(store, nil, time.Minute, nil, false)
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "k", 1, 0))
	var out int
	hit, err := svc.Get(ctx, "k", &out)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.False(t, store.has("k"))

	var nilSvc *CacheService
	assert.False(t, nilSvc.Enabled())
}

func TestEnqueueInvalidationSkipsEmpty(t *testing.T) {
	queue := &recordingQueue{}
	enqueueInvalidation(queue, nil, StatusInvalidation{})
	assert.Empty(t, queue.jobs)

	enqueueInvalidation(queue, nil, StatusInvalidation{Stats: true})
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, JobTypeStatusInvalidation, queue.jobs[0].Type)
}

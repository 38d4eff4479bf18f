package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/account-activation-api/pkg/cache"
	appErrors "github.com/noah-isme/account-activation-api/pkg/errors"
	"github.com/noah-isme/account-activation-api/pkg/jobs"
)

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// JobTypeStatusInvalidation identifies queued status cache invalidations.
const JobTypeStatusInvalidation = "status_cache_invalidation"

// StatusInvalidation lists cached status reads made stale by a committed write.
type StatusInvalidation struct {
	Stats     bool
	ParentIDs []string
}

type invalidationQueue interface {
	Enqueue(job jobs.Job) error
}

// enqueueInvalidation schedules inv after a commit. Failures are logged and dropped;
// cached entries still expire through their TTL.
func enqueueInvalidation(q invalidationQueue, logger *zap.Logger, inv StatusInvalidation) {
	if q == nil || (!inv.Stats && len(inv.ParentIDs) == 0) {
		return
	}
	if err := q.Enqueue(jobs.Job{Type: JobTypeStatusInvalidation, Payload: inv}); err != nil {
		logger.Warn("status cache invalidation dropped", zap.Strings("parent_ids", inv.ParentIDs), zap.Error(err))
	}
}

// CacheService orchestrates cache operations and related metrics.
type CacheService struct {
	repo       CacheRepository
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	return &CacheService{repo: repo, metrics: metrics, defaultTTL: defaultTTL, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// Get attempts to retrieve a cached entry. It returns true when the cache was hit.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	start := time.Now()
	err := s.repo.Get(ctx, key, dest)
	duration := time.Since(start)
	if err != nil {
		if errors.Is(err, appErrors.ErrCacheMiss) {
			if s.metrics != nil {
				s.metrics.RecordCacheOperation(false, duration)
			}
			return false, nil
		}
		if s.metrics != nil {
			s.metrics.RecordCacheOperation(false, duration)
		}
		if s.logger != nil {
			s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
		return false, err
	}
	if s.metrics != nil {
		s.metrics.RecordCacheOperation(true, duration)
	}
	return true, nil
}

// Set stores the value in cache.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !s.Enabled() {
		return nil
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	start := time.Now()
	err := s.repo.Set(ctx, key, value, ttl)
	if s.metrics != nil {
		s.metrics.ObserveCacheWrite(time.Since(start))
	}
	if err != nil && s.logger != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

// Delete removes specific keys.
func (s *CacheService) Delete(ctx context.Context, keys ...string) error {
	if !s.Enabled() {
		return nil
	}
	if err := s.repo.Delete(ctx, keys...); err != nil {
		if s.logger != nil {
			s.logger.Warn("cache delete failed", zap.Strings("keys", keys), zap.Error(err))
		}
		return err
	}
	return nil
}

// Invalidate removes cached values for the provided pattern.
func (s *CacheService) Invalidate(ctx context.Context, pattern string) error {
	if !s.Enabled() {
		return nil
	}
	if err := s.repo.DeleteByPattern(ctx, pattern); err != nil {
		if s.logger != nil {
			s.logger.Warn("cache invalidate failed", zap.String("pattern", pattern), zap.Error(err))
		}
		return err
	}
	return nil
}

// Enqueue runs an invalidation job inline, for callers without a worker queue.
func (s *CacheService) Enqueue(job jobs.Job) error {
	return s.HandleInvalidation(context.Background(), job)
}

// HandleGiveUp records an invalidation the queue abandoned. The stale entries
// remain until their TTL expires.
func (s *CacheService) HandleGiveUp(job jobs.Job, err error) {
	if s == nil {
		return
	}
	if s.logger != nil {
		s.logger.Error("status cache invalidation dropped", zap.String("job_id", job.ID), zap.Int("attempts", job.Attempt), zap.Error(err))
	}
	s.metrics.IncDroppedInvalidation()
}

// HandleInvalidation is the queue handler for StatusInvalidation jobs.
func (s *CacheService) HandleInvalidation(ctx context.Context, job jobs.Job) error {
	inv, ok := job.Payload.(StatusInvalidation)
	if !ok {
		return fmt.Errorf("unexpected payload %T for job %s", job.Payload, job.Type)
	}
	keys := make([]string, 0, len(inv.ParentIDs)+1)
	if inv.Stats {
		keys = append(keys, cache.KeyStatusStats)
	}
	for _, id := range inv.ParentIDs {
		keys = append(keys, cache.ParentStatusKey(id))
	}
	return s.Delete(ctx, keys...)
}

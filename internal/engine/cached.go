package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	cache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/rally-coach/internal/logger"
	"github.com/yourusername/rally-coach/internal/metrics"
	"github.com/yourusername/rally-coach/internal/models"
	"github.com/yourusername/rally-coach/internal/runs"
)

// CachedBackend serves repeated model instances from memory. Failures are never cached.
type CachedBackend struct {
	inner   Backend
	cache   *cache.Cache
	ttl     time.Duration
	maxSize int
	logger  *logger.EngineLogger

	mu        sync.Mutex
	hitCount  uint64
	missCount uint64
}

// NewCachedBackend wraps inner with a TTL cache holding at most maxSize results
func NewCachedBackend(inner Backend, ttl time.Duration, maxSize int, log *logrus.Logger) *CachedBackend {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedBackend{
		inner:   inner,
		cache:   cache.New(ttl, ttl*2),
		ttl:     ttl,
		maxSize: maxSize,
		logger:  logger.NewEngineLogger(log),
	}
}

// Mode implements Backend
func (c *CachedBackend) Mode() models.EngineMode {
	return c.inner.Mode()
}

// Key identifies a job by backend mode and the exact model text
func (c *CachedBackend) Key(job Job) string {
	h := sha256.New()
	if job.Model != nil && job.Model.Text != "" {
		h.Write([]byte(job.Model.Text))
	} else {
		data, _ := json.Marshal(job.Params)
		h.Write(data)
	}
	return string(c.inner.Mode()) + ":" + hex.EncodeToString(h.Sum(nil))
}

// Evaluate implements Backend
func (c *CachedBackend) Evaluate(ctx context.Context, job Job) (*models.ProbabilityResult, error) {
	key := c.Key(job)

	if item, found := c.cache.Get(key); found {
		if cached, ok := item.(*models.ProbabilityResult); ok {
			c.record(true)
			c.logger.LogCacheHit(key, cached.Value)
			hit := *cached
			hit.Source = models.SourceCache
			hit.Invocation = hitInvocation(c.inner.Mode(), job, cached)
			hit.InvocationID = hit.Invocation.ID
			c.writeHitArtifacts(hit.Invocation)
			return &hit, nil
		}
	}
	c.record(false)

	result, err := c.inner.Evaluate(ctx, job)
	if err != nil {
		return nil, err
	}

	// go-cache has no size bound of its own
	if c.maxSize <= 0 || c.cache.ItemCount() < c.maxSize {
		c.cache.Set(key, result, c.ttl)
	} else {
		c.cache.DeleteExpired()
		if c.cache.ItemCount() < c.maxSize {
			c.cache.Set(key, result, c.ttl)
		}
	}
	return result, nil
}

// hitInvocation records a cache-served evaluation in the job's own directory,
// pointing back at the invocation that produced the value.
func hitInvocation(mode models.EngineMode, job Job, orig *models.ProbabilityResult) *models.EngineInvocation {
	inv := &models.EngineInvocation{
		ID:           uuid.NewString(),
		Mode:         mode,
		WorkDir:      job.WorkDir,
		State:        models.StateSucceeded,
		StartedAt:    time.Now().UTC(),
		Source:       models.SourceCache,
		CachedFromID: orig.InvocationID,
	}
	if job.Model != nil {
		inv.ModelPath = job.Model.Path
	}
	if job.WorkDir != "" {
		inv.OutputPath = job.OutputPath()
	}
	if src := orig.Invocation; src != nil {
		inv.Command = src.Command
		inv.ExitCode = src.ExitCode
		inv.Stdout = src.Stdout
		inv.Stderr = src.Stderr
		inv.Output = src.Output
		inv.FallbackApplied = src.FallbackApplied
		inv.CachedFromDir = src.WorkDir
		if src.State != "" {
			inv.State = src.State
		}
	}
	return inv
}

func (c *CachedBackend) writeHitArtifacts(inv *models.EngineInvocation) {
	if inv.WorkDir == "" {
		return
	}
	if err := runs.WriteText(inv.OutputPath, inv.Output); err != nil {
		c.logger.WithError(err).Warn("Failed to write cached engine output")
		return
	}
	if err := runs.WriteInvocation(inv, nil); err != nil {
		c.logger.WithError(err).Warn("Failed to persist cached invocation record")
	}
}

func (c *CachedBackend) record(hit bool) {
	c.mu.Lock()
	if hit {
		c.hitCount++
	} else {
		c.missCount++
	}
	ratio := float64(c.hitCount) / float64(c.hitCount+c.missCount)
	c.mu.Unlock()
	metrics.RecordCacheLookup(hit, ratio)
}

// Stats returns cache statistics
func (c *CachedBackend) Stats() (hits, misses uint64, ratio float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hits, misses = c.hitCount, c.missCount
	if total := hits + misses; total > 0 {
		ratio = float64(hits) / float64(total)
	}
	return
}

// ItemCount returns the number of cached results
func (c *CachedBackend) ItemCount() int {
	return c.cache.ItemCount()
}

// Clear flushes the cache and resets statistics
func (c *CachedBackend) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Flush()
	c.hitCount = 0
	c.missCount = 0
}

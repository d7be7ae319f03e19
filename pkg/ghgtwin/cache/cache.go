// Package cache keeps simulation reports keyed by a fingerprint of the configuration
// that produced them.
package cache

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/clock"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/config"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/report"
)

var fingerprintSpace = uuid.MustParse("5b0c3f8e-2d7a-4c1e-9a6f-6b1d2e4f8a90")

// Fingerprint derives a stable key from every field that influences a run. Identical
// configurations produce identical reports because generation is seeded.
func Fingerprint(cfg *config.Config) (string, error) {
	data, err := json.Marshal(struct {
		Factors       interface{}          `json:"f"`
		DefaultFactor float64              `json:"d"`
		Scenario      config.Scenario      `json:"s"`
		Control       config.ControlConfig `json:"c"`
		Anomaly       config.AnomalyConfig `json:"a"`
	}{cfg.EmissionFactors, cfg.DefaultFactor, cfg.Scenario, cfg.Control, cfg.Anomaly})
	if err != nil {
		return "", fmt.Errorf("failed to encode configuration: %w", err)
	}
	return uuid.NewSHA1(fingerprintSpace, data).String(), nil
}

// Cache provides thread-safe caching of reports with TTL
type Cache struct {
	data    map[string]*cacheEntry
	mutex   sync.RWMutex
	ttl     time.Duration
	maxAge  time.Duration
	clock   clock.Clock
	stopCh  chan struct{}
	stopped sync.Once
	metrics *metrics
}

type cacheEntry struct {
	report    *report.Report
	timestamp time.Time
	hits      int64
}

type metrics struct {
	hits   int64
	misses int64
	mutex  sync.RWMutex
}

// New creates a cache and starts its cleanup loop
func New(ttl, maxAge time.Duration) *Cache {
	c := newCache(ttl, maxAge, clock.RealClock{})
	go c.cleanup()
	return c
}

// NewWithClock creates a cache driven by clk without a background cleanup loop;
// callers prune with RemoveExpired
func NewWithClock(ttl, maxAge time.Duration, clk clock.Clock) *Cache {
	return newCache(ttl, maxAge, clk)
}

func newCache(ttl, maxAge time.Duration, clk clock.Clock) *Cache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	if maxAge < ttl {
		maxAge = ttl
	}
	return &Cache{
		data:    make(map[string]*cacheEntry),
		ttl:     ttl,
		maxAge:  maxAge,
		clock:   clk,
		stopCh:  make(chan struct{}),
		metrics: &metrics{},
	}
}

// Get returns the cached report for key if it is younger than the TTL
func (c *Cache) Get(key string) (*report.Report, bool) {
	c.mutex.RLock()
	entry, exists := c.data[key]
	c.mutex.RUnlock()

	if !exists {
		c.recordMiss()
		return nil, false
	}

	if age := c.clock.Since(entry.timestamp); age > c.ttl {
		klog.V(4).InfoS("Cache entry stale", "key", key, "age", age)
		c.recordMiss()
		return nil, false
	}

	c.mutex.Lock()
	entry.hits++
	c.mutex.Unlock()
	c.recordHit()

	return entry.report, true
}

// Set stores a report under key
func (c *Cache) Set(key string, r *report.Report) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.data[key] = &cacheEntry{
		report:    r,
		timestamp: c.clock.Now(),
	}

	klog.V(4).InfoS("Cached report",
		"key", key,
		"runID", r.RunID,
		"scenario", r.Scenario,
		"batches", r.Summary.Batches)
}

// GetMetrics returns cache performance metrics
func (c *Cache) GetMetrics() (hits, misses int64) {
	c.metrics.mutex.RLock()
	defer c.metrics.mutex.RUnlock()
	return c.metrics.hits, c.metrics.misses
}

func (c *Cache) recordHit() {
	c.metrics.mutex.Lock()
	c.metrics.hits++
	c.metrics.mutex.Unlock()
}

func (c *Cache) recordMiss() {
	c.metrics.mutex.Lock()
	c.metrics.misses++
	c.metrics.mutex.Unlock()
}

func (c *Cache) cleanup() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.RemoveExpired()
		}
	}
}

// RemoveExpired drops entries older than the maximum age
func (c *Cache) RemoveExpired() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	removed := 0
	for key, entry := range c.data {
		age := c.clock.Since(entry.timestamp)
		if age > c.maxAge {
			delete(c.data, key)
			removed++
			klog.V(4).InfoS("Removed expired cache entry",
				"key", key,
				"age", age.String(),
				"hits", entry.hits)
		}
	}
	return removed
}

// Close stops the cleanup goroutine
func (c *Cache) Close() {
	c.stopped.Do(func() { close(c.stopCh) })
}

// Clear removes all entries from the cache
func (c *Cache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.data = make(map[string]*cacheEntry)
	klog.V(4).Info("Cleared cache")
}

// Size returns the number of entries in the cache
func (c *Cache) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.data)
}

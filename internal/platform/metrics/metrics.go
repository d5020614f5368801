package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

type Collector struct {
	totalRequests   uint64
	errorRequests   uint64
	rateLimited     uint64
	totalDurationMs uint64
	liveFeeds       int64

	mu        sync.Mutex
	decisions map[string]uint64
}

func New() *Collector {
	return &Collector{decisions: map[string]uint64{}}
}

func (c *Collector) Record(status int, duration time.Duration) {
	atomic.AddUint64(&c.totalRequests, 1)
	if status >= 500 {
		atomic.AddUint64(&c.errorRequests, 1)
	}
	if status == 429 {
		atomic.AddUint64(&c.rateLimited, 1)
	}
	atomic.AddUint64(&c.totalDurationMs, uint64(duration.Milliseconds()))
}

// RecordDecision counts approval decisions by outcome ("ok" or an error kind).
func (c *Collector) RecordDecision(outcome string) {
	c.mu.Lock()
	c.decisions[outcome]++
	c.mu.Unlock()
}

// FeedOpened tracks open live-feed connections; call the returned func on close.
func (c *Collector) FeedOpened() func() {
	atomic.AddInt64(&c.liveFeeds, 1)
	var once sync.Once
	return func() {
		once.Do(func() { atomic.AddInt64(&c.liveFeeds, -1) })
	}
}

func (c *Collector) Snapshot() map[string]any {
	total := atomic.LoadUint64(&c.totalRequests)
	errs := atomic.LoadUint64(&c.errorRequests)
	limited := atomic.LoadUint64(&c.rateLimited)
	totalMs := atomic.LoadUint64(&c.totalDurationMs)
	avg := float64(0)
	if total > 0 {
		avg = float64(totalMs) / float64(total)
	}

	c.mu.Lock()
	decisions := make(map[string]uint64, len(c.decisions))
	for outcome, n := range c.decisions {
		decisions[outcome] = n
	}
	c.mu.Unlock()

	return map[string]any{
		"requestsTotal":    total,
		"errorsTotal":      errs,
		"rateLimitedTotal": limited,
		"avgDurationMs":    avg,
		"totalDurationMs":  totalMs,
		"liveFeedsOpen":    atomic.LoadInt64(&c.liveFeeds),
		"decisionsTotal":   decisions,
	}
}

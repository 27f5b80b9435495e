package scheduler

import (
	"fmt"
	"hash/fnv"
	"runtime"
	"sync"
	"time"

	"github.com/mailscore/core/pkg/metrics"
)

// waiter is one outstanding async continuation being tracked for its own
// per-item timeout (item.Timeout, spec.md §4.1.3), independent of the
// task's overall deadline which context.WithDeadline already enforces.
type waiter struct {
	key      string
	deadline time.Time
	onExpire func()
}

type deadlineShard struct {
	mu      sync.Mutex
	waiters map[string]*waiter
	ticker  *time.Ticker
	quit    chan struct{}
	wg      sync.WaitGroup
	id      int
}

func (s *deadlineShard) loop() {
	defer s.wg.Done()
	label := fmt.Sprintf("%d", s.id)
	for {
		select {
		case <-s.ticker.C:
			now := time.Now()
			s.mu.Lock()
			count := len(s.waiters)
			var expired []*waiter
			for key, w := range s.waiters {
				if now.After(w.deadline) {
					expired = append(expired, w)
					delete(s.waiters, key)
				}
			}
			s.mu.Unlock()
			metrics.OutstandingContinuations.WithLabelValues(label).Set(float64(count))
			for _, w := range expired {
				w.onExpire()
			}
		case <-s.quit:
			s.ticker.Stop()
			return
		}
	}
}

// DeadlineScheduler tracks outstanding async continuations and fires a
// callback when each one's individual timeout elapses, sharded by key hash
// in the same fixed-shard-count, ticker-per-shard style as the teacher's
// connection timeout scheduler.
type DeadlineScheduler struct {
	shards []*deadlineShard
}

// NewDeadlineScheduler starts a scheduler with shardCount shards (0 uses
// runtime.NumCPU()) ticking at interval.
func NewDeadlineScheduler(shardCount int, interval time.Duration) *DeadlineScheduler {
	if shardCount <= 0 {
		shardCount = max(runtime.NumCPU(), 1)
	}
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	d := &DeadlineScheduler{shards: make([]*deadlineShard, shardCount)}
	for i := range d.shards {
		shard := &deadlineShard{
			waiters: make(map[string]*waiter),
			ticker:  time.NewTicker(interval),
			quit:    make(chan struct{}),
			id:      i,
		}
		d.shards[i] = shard
		shard.wg.Add(1)
		go shard.loop()
	}
	return d
}

func (d *DeadlineScheduler) shardFor(key string) *deadlineShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return d.shards[int(h.Sum32())%len(d.shards)]
}

// Register tracks key until deadline, calling onExpire exactly once if it
// is not Unregistered first.
func (d *DeadlineScheduler) Register(key string, deadline time.Time, onExpire func()) {
	shard := d.shardFor(key)
	shard.mu.Lock()
	shard.waiters[key] = &waiter{key: key, deadline: deadline, onExpire: onExpire}
	shard.mu.Unlock()
}

// Unregister stops tracking key (its continuation resolved before timing
// out).
func (d *DeadlineScheduler) Unregister(key string) {
	shard := d.shardFor(key)
	shard.mu.Lock()
	delete(shard.waiters, key)
	shard.mu.Unlock()
}

// Stop halts every shard's ticker goroutine and waits for them to exit.
func (d *DeadlineScheduler) Stop() {
	for _, shard := range d.shards {
		close(shard.quit)
	}
	for _, shard := range d.shards {
		shard.wg.Wait()
	}
}

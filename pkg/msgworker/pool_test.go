package msgworker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolDispatchNonBlocking(t *testing.T) {
	pool := NewPool(2, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	defer pool.Stop()

	start := time.Now()
	ok := pool.TryDispatch(Job{
		InstanceID: "inst1",
		ChatKey:    "123",
		Handler: func(ctx context.Context) error {
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	})
	elapsed := time.Since(start)

	assert.True(t, ok)
	assert.Less(t, elapsed, 10*time.Millisecond, "dispatch must not block on a slow handler")
}

func TestPoolSameChatKeepsOrder(t *testing.T) {
	pool := NewPool(4, 100)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	defer pool.Stop()

	var mu sync.Mutex
	var results []int

	for i := 1; i <= 5; i++ {
		val := i
		pool.TryDispatch(Job{
			InstanceID: "inst1",
			ChatKey:    "chat1",
			Handler: func(ctx context.Context) error {
				time.Sleep(10 * time.Millisecond)
				mu.Lock()
				results = append(results, val)
				mu.Unlock()
				return nil
			},
		})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) == 5
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{1, 2, 3, 4, 5}, results, "same chat must process in order")
}

func TestPoolDifferentChatsRunInParallel(t *testing.T) {
	pool := NewPool(4, 100)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	defer pool.Stop()

	var activeCount int32
	var maxActive int32

	for i := 0; i < 4; i++ {
		chatKey := string(rune('A' + i))
		pool.TryDispatch(Job{
			InstanceID: "inst1",
			ChatKey:    chatKey,
			Handler: func(ctx context.Context) error {
				current := atomic.AddInt32(&activeCount, 1)
				for {
					max := atomic.LoadInt32(&maxActive)
					if current <= max || atomic.CompareAndSwapInt32(&maxActive, max, current) {
						break
					}
				}
				time.Sleep(50 * time.Millisecond)
				atomic.AddInt32(&activeCount, -1)
				return nil
			},
		})
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&maxActive) >= 2
	}, time.Second, 5*time.Millisecond, "different chats must process in parallel")
}

func TestPoolDropsWhenQueueFull(t *testing.T) {
	pool := NewPool(1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	defer pool.Stop()

	release := make(chan struct{})
	block := func(ctx context.Context) error {
		<-release
		return nil
	}

	// First job occupies the worker, second fills the queue of one.
	require.True(t, pool.TryDispatch(Job{InstanceID: "inst1", ChatKey: "A", Handler: block}))

	dropped := false
	for i := 0; i < 10; i++ {
		if !pool.TryDispatch(Job{InstanceID: "inst1", ChatKey: "A", Handler: block}) {
			dropped = true
			break
		}
	}
	close(release)

	assert.True(t, dropped, "a saturated queue must reject further jobs")
	assert.Greater(t, pool.Stats().Dropped, int64(0))
}

func TestPoolGracefulShutdownCompletesAcceptedJobs(t *testing.T) {
	pool := NewPool(2, 10)
	ctx, cancel := context.WithCancel(context.Background())

	pool.Start(ctx)

	var completed int32
	for i := 0; i < 2; i++ {
		pool.TryDispatch(Job{
			InstanceID: "inst1",
			ChatKey:    string(rune('A' + i)),
			Handler: func(ctx context.Context) error {
				time.Sleep(50 * time.Millisecond)
				atomic.AddInt32(&completed, 1)
				return nil
			},
		})
	}

	time.Sleep(10 * time.Millisecond)
	cancel()
	pool.Stop()

	assert.Equal(t, int32(2), atomic.LoadInt32(&completed), "accepted jobs must finish during shutdown")
}

func TestPoolConsistentSharding(t *testing.T) {
	pool := NewPool(4, 100)

	shard1 := pool.shardFor("inst1", "chat123")
	shard2 := pool.shardFor("inst1", "chat123")

	assert.Equal(t, shard1, shard2, "same chat must map to the same shard")
	assert.GreaterOrEqual(t, shard1, 0)
	assert.Less(t, shard1, 4)
}

func TestPoolFairDistribution(t *testing.T) {
	numWorkers := 4
	pool := NewPool(numWorkers, 100)

	shardCounts := make(map[int]int)
	for i := 0; i < 100; i++ {
		shard := pool.shardFor("inst1", string(rune(i)))
		shardCounts[shard]++
	}

	for shard, count := range shardCounts {
		assert.Greater(t, count, 15, "worker %d should receive >15 chats", shard)
		assert.Less(t, count, 35, "worker %d should receive <35 chats", shard)
	}
}

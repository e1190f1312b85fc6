package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDispatchInterval(t *testing.T) {
	tests := []struct {
		rps      int
		expected time.Duration
	}{
		{rps: -3, expected: time.Second},
		{rps: 0, expected: time.Second},
		{rps: 1, expected: time.Second},
		{rps: 2, expected: 500 * time.Millisecond},
		{rps: 3, expected: 334 * time.Millisecond},
		{rps: 1000, expected: time.Millisecond},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, DispatchInterval(tt.rps), "rps=%d", tt.rps)
	}
}

func TestNewScheduler_CoercesBounds(t *testing.T) {
	s := NewScheduler(0, 0)
	assert.Equal(t, 1, s.Concurrency())
	assert.Equal(t, time.Second, s.Interval())
}

func TestScheduler_RunsEveryJobExactlyOnce(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[int]int)
	jobs := make([]Job, 0, 25)
	for i := 0; i < 25; i++ {
		i := i
		jobs = append(jobs, func(context.Context) {
			mu.Lock()
			seen[i]++
			mu.Unlock()
		})
	}

	NewScheduler(4, 1000).Run(context.Background(), jobs)

	assert.Len(t, seen, 25)
	for i, n := range seen {
		assert.Equal(t, 1, n, "job %d", i)
	}
}

func TestScheduler_BoundsConcurrency(t *testing.T) {
	var inflight, peak atomic.Int32
	jobs := make([]Job, 0, 12)
	for i := 0; i < 12; i++ {
		jobs = append(jobs, func(context.Context) {
			n := inflight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inflight.Add(-1)
		})
	}

	NewScheduler(2, 1000).Run(context.Background(), jobs)

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, int32(2), peak.Load())
}

func TestScheduler_PacesDispatches(t *testing.T) {
	jobs := make([]Job, 4)
	for i := range jobs {
		jobs[i] = func(context.Context) {}
	}

	s := NewScheduler(4, 50)
	start := time.Now()
	s.Run(context.Background(), jobs)

	// four dispatches are separated by three intervals
	assert.GreaterOrEqual(t, time.Since(start), 3*s.Interval())
}

func TestScheduler_CancelledContextSkipsPacing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Int32
	var sawCancel atomic.Int32
	jobs := make([]Job, 5)
	for i := range jobs {
		jobs[i] = func(ctx context.Context) {
			ran.Add(1)
			if ctx.Err() != nil {
				sawCancel.Add(1)
			}
		}
	}

	start := time.Now()
	NewScheduler(1, 1).Run(ctx, jobs)

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int32(5), ran.Load())
	assert.Equal(t, int32(5), sawCancel.Load())
}

package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskTriggerRunsOnce(t *testing.T) {
	var runs atomic.Int32
	task := NewTask("test", 0, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	task.Start(context.Background())
	defer task.Stop()

	task.Trigger()
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestTaskNeverOverlaps(t *testing.T) {
	var active, maxActive, runs atomic.Int32
	task := NewTask("slow", 0, func(context.Context) error {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		runs.Add(1)
		return nil
	})
	task.Start(context.Background())
	defer task.Stop()

	for i := 0; i < 10; i++ {
		task.Trigger()
		time.Sleep(2 * time.Millisecond)
	}
	require.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), maxActive.Load())
	// triggers during a run collapse, so far fewer runs than triggers
	assert.Less(t, runs.Load(), int32(10))
}

func TestTaskInterval(t *testing.T) {
	var runs atomic.Int32
	task := NewTask("tick", 10*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	task.Start(context.Background())
	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	task.Stop()
	assert.False(t, task.Running())

	n := runs.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, runs.Load())
}

func TestTaskStopWaitsAndRestarts(t *testing.T) {
	started := make(chan struct{}, 1)
	var finished atomic.Bool
	task := NewTask("cancel", 0, func(ctx context.Context) error {
		started <- struct{}{}
		<-ctx.Done()
		finished.Store(true)
		return ctx.Err()
	})
	task.Start(context.Background())
	task.Trigger()
	<-started
	task.Stop()
	assert.True(t, finished.Load())

	task.Start(context.Background())
	assert.True(t, task.Running())
	task.Stop()
}

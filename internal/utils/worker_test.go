package utils

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tomb "gopkg.in/tomb.v2"
)

func TestAddTask_NeverBlocksWhenChannelFull(t *testing.T) {
	pool := NewWorkerPool(1)

	// No workers are consuming, so everything past the channel capacity
	// would block a bare send.
	done := make(chan struct{})
	go func() {
		for i := 0; i < TASK_CHAN_SIZE+50; i++ {
			pool.AddTask(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("AddTask blocked on a full task channel")
	}
}

func TestWorkerPool_SelfRequeueingTasksAllProgress(t *testing.T) {
	// More requeueing tasks than channel capacity plus workers: each task
	// puts itself back on the queue the way the server requeues live
	// connections, which wedged the pool when the requeue could block.
	const nTasks = TASK_CHAN_SIZE + 20

	pool := NewWorkerPool(4)
	var processed atomic.Int64
	tmb := &tomb.Tomb{}

	pool.Setup(tmb, func(_ *tomb.Tomb, task any) error {
		processed.Add(1)
		if !tmb.Alive() {
			return nil
		}
		pool.AddTask(task)
		return nil
	})

	for i := 0; i < nTasks; i++ {
		pool.AddTask(i)
	}

	require.Eventually(t, func() bool {
		return processed.Load() >= nTasks
	}, 5*time.Second, 10*time.Millisecond, "pool wedged before every task ran once")

	tmb.Kill(nil)
	assert.NoError(t, tmb.Wait())
}

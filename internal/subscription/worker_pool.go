/*
Bounded dispatch pool.

Adapted from internal/camera/bounded_worker_pool.go: a
semaphore-capped goroutine-per-task pool with panic recovery and a
timeout per task, relocated here to drive subscriber callback dispatch
instead of camera-discovery probes, since an engine with many subscribed
clients must never let one slow/misbehaving WebSocket connection block
event delivery to the others.
*/

package subscription

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/logging"
)

// WorkerPool dispatches event-delivery tasks with a bounded number of
// concurrent workers, a per-task timeout, and panic isolation so one
// subscriber's failure can't affect delivery to the others.
type WorkerPool struct {
	maxWorkers  int
	taskTimeout time.Duration
	semaphore   chan struct{}
	wg          sync.WaitGroup
	logger      *logging.Logger

	activeWorkers  int64
	completedTasks int64
	failedTasks    int64
	timeoutTasks   int64

	running  int32
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewWorkerPool constructs a pool. maxWorkers<=0 defaults to 10,
// taskTimeout<=0 defaults to 5s.
func NewWorkerPool(maxWorkers int, taskTimeout time.Duration, logger *logging.Logger) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	if taskTimeout <= 0 {
		taskTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = logging.NewLogger("subscription")
	}
	return &WorkerPool{
		maxWorkers:  maxWorkers,
		taskTimeout: taskTimeout,
		semaphore:   make(chan struct{}, maxWorkers),
		logger:      logger,
		stopChan:    make(chan struct{}),
		running:     1,
	}
}

// Submit enqueues a delivery task. Blocks until a worker slot is free, ctx
// is cancelled, or the pool is stopped.
func (p *WorkerPool) Submit(ctx context.Context, task func(context.Context)) error {
	if atomic.LoadInt32(&p.running) == 0 {
		return fmt.Errorf("dispatch pool is not running")
	}

	select {
	case p.semaphore <- struct{}{}:
		atomic.AddInt64(&p.activeWorkers, 1)
		p.wg.Add(1)
		go p.execute(ctx, task)
		return nil
	case <-ctx.Done():
		atomic.AddInt64(&p.failedTasks, 1)
		return fmt.Errorf("submit cancelled: %w", ctx.Err())
	case <-p.stopChan:
		atomic.AddInt64(&p.failedTasks, 1)
		return fmt.Errorf("dispatch pool is shutting down")
	}
}

func (p *WorkerPool) execute(ctx context.Context, task func(context.Context)) {
	defer func() {
		atomic.AddInt64(&p.activeWorkers, -1)
		<-p.semaphore
		p.wg.Done()
		if r := recover(); r != nil {
			atomic.AddInt64(&p.failedTasks, 1)
			p.logger.WithField("panic", fmt.Sprint(r)).Error("dispatch task panicked")
		}
	}()

	taskCtx, cancel := context.WithTimeout(ctx, p.taskTimeout)
	defer cancel()

	done := make(chan bool, 1)
	go func() {
		panicked := false
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				p.logger.WithField("panic", fmt.Sprint(r)).Error("subscriber dispatch task panicked")
			}
			done <- panicked
		}()
		task(taskCtx)
	}()

	select {
	case panicked := <-done:
		if panicked {
			atomic.AddInt64(&p.failedTasks, 1)
		} else {
			atomic.AddInt64(&p.completedTasks, 1)
		}
	case <-taskCtx.Done():
		atomic.AddInt64(&p.timeoutTasks, 1)
	}
}

// Stop stops accepting new tasks and waits for in-flight ones to finish.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() {
		atomic.StoreInt32(&p.running, 0)
		close(p.stopChan)
	})
	p.wg.Wait()
}

// Stats is a point-in-time snapshot of pool activity.
type Stats struct {
	ActiveWorkers  int64
	CompletedTasks int64
	FailedTasks    int64
	TimeoutTasks   int64
}

func (p *WorkerPool) Stats() Stats {
	return Stats{
		ActiveWorkers:  atomic.LoadInt64(&p.activeWorkers),
		CompletedTasks: atomic.LoadInt64(&p.completedTasks),
		FailedTasks:    atomic.LoadInt64(&p.failedTasks),
		TimeoutTasks:   atomic.LoadInt64(&p.timeoutTasks),
	}
}

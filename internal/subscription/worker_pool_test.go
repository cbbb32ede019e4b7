package subscription

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWorkerPool_RunsSubmittedTask(t *testing.T) {
	p := NewWorkerPool(2, time.Second, nil)
	defer p.Stop()

	done := make(chan struct{})
	err := p.Submit(context.Background(), func(ctx context.Context) { close(done) })
	assert.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
}

func TestWorkerPool_PanicIsIsolated(t *testing.T) {
	p := NewWorkerPool(2, time.Second, nil)
	defer p.Stop()

	var ran int32
	err := p.Submit(context.Background(), func(ctx context.Context) {
		panic("boom")
	})
	assert.NoError(t, err)

	err = p.Submit(context.Background(), func(ctx context.Context) {
		atomic.AddInt32(&ran, 1)
	})
	assert.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
	stats := p.Stats()
	assert.Equal(t, int64(1), stats.FailedTasks)
}

func TestWorkerPool_TaskTimeout(t *testing.T) {
	p := NewWorkerPool(1, 10*time.Millisecond, nil)
	defer p.Stop()

	never := make(chan struct{})
	err := p.Submit(context.Background(), func(ctx context.Context) {
		<-never // never returns on its own; only the timeout ends the select
	})
	assert.NoError(t, err)

	assert.Eventually(t, func() bool {
		return p.Stats().TimeoutTasks == 1
	}, time.Second, 5*time.Millisecond)
}

func TestWorkerPool_StopRejectsNewSubmissions(t *testing.T) {
	p := NewWorkerPool(1, time.Second, nil)
	p.Stop()

	err := p.Submit(context.Background(), func(ctx context.Context) {})
	assert.Error(t, err)
}

func TestWorkerPool_StopWaitsForInFlight(t *testing.T) {
	p := NewWorkerPool(1, time.Second, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	_ = p.Submit(context.Background(), func(ctx context.Context) {
		close(started)
		<-release
	})
	<-started
	close(release)
	p.Stop() // must return once the task finishes
}

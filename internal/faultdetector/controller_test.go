package faultdetector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/pipeline"
)

func TestBackoff_ExponentialWithCap(t *testing.T) {
	b := NewBackoff(BackoffConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second})

	d1, ok := b.Next()
	assert.True(t, ok)
	assert.Equal(t, 100*time.Millisecond, d1)

	d2, ok := b.Next()
	assert.True(t, ok)
	assert.Equal(t, 200*time.Millisecond, d2)

	d3, ok := b.Next()
	assert.True(t, ok)
	assert.Equal(t, 400*time.Millisecond, d3)

	for i := 0; i < 10; i++ {
		d, ok := b.Next()
		assert.True(t, ok)
		assert.LessOrEqual(t, d, time.Second)
	}
}

func TestBackoff_MaxRetriesExhausted(t *testing.T) {
	b := NewBackoff(BackoffConfig{BaseDelay: time.Millisecond, MaxDelay: time.Second, MaxRetries: 2})

	_, ok := b.Next()
	assert.True(t, ok)
	_, ok = b.Next()
	assert.True(t, ok)
	_, ok = b.Next()
	assert.False(t, ok)
}

func TestBackoff_ResetClearsAttempts(t *testing.T) {
	b := NewBackoff(BackoffConfig{BaseDelay: time.Millisecond, MaxDelay: time.Second})
	_, _ = b.Next()
	_, _ = b.Next()
	assert.Equal(t, 2, b.Attempts())
	b.Reset()
	assert.Equal(t, 0, b.Attempts())
}

func TestController_DispatchesToMatchingHandler(t *testing.T) {
	var gotRTSP, gotDiskFull bool
	var gotUnknown pipeline.BusEvent

	c := NewController("cam_01", Handlers{
		OnRTSPNetwork: func() { gotRTSP = true },
		OnDiskFull:    func() { gotDiskFull = true },
		OnUnknown:     func(ev pipeline.BusEvent) { gotUnknown = ev },
	}, nil)

	c.Handle(pipeline.BusEvent{Emitter: pipeline.EmitterSource})
	assert.True(t, gotRTSP)
	assert.False(t, gotDiskFull)

	c.Handle(pipeline.BusEvent{Domain: pipeline.DomainIO, Code: pipeline.CodeNoSpaceLeft})
	assert.True(t, gotDiskFull)

	c.Handle(pipeline.BusEvent{Kind: pipeline.BusError, Message: "mystery"})
	assert.Equal(t, "mystery", gotUnknown.Message)
}

func TestController_NilHandlerIsSkippedWithoutPanic(t *testing.T) {
	c := NewController("cam_01", Handlers{}, nil)
	assert.NotPanics(t, func() {
		c.Handle(pipeline.BusEvent{Emitter: pipeline.EmitterSource})
	})
}

package recorder

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/pipeline"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/storagewatcher"
)

func TestRecorder_StartOpensRecordingGateOnly(t *testing.T) {
	gates := pipeline.NewGatePair()
	gates.Streaming.Open()
	r := New("cam_01", gates, nil)

	r.Start()
	assert.Equal(t, StateRecording, r.State())
	assert.True(t, gates.Recording.IsOpen())
	assert.True(t, gates.Streaming.IsOpen())
}

func TestRecorder_StopClosesGateAndSplits(t *testing.T) {
	gates := pipeline.NewGatePair()
	r := New("cam_01", gates, nil)
	r.Start()

	splitCalled := false
	r.Stop(&fakeSink{onSplit: func() { splitCalled = true }})

	assert.Equal(t, StateIdle, r.State())
	assert.False(t, gates.Recording.IsOpen())
	assert.True(t, splitCalled)
}

func TestRecorder_StopWithNilSinkDoesNotPanic(t *testing.T) {
	gates := pipeline.NewGatePair()
	r := New("cam_01", gates, nil)
	r.Start()
	assert.NotPanics(t, func() { r.Stop(nil) })
}

func TestRecorder_PausesOnDiskFullAndAutoResumes(t *testing.T) {
	gates := pipeline.NewGatePair()
	r := New("cam_01", gates, nil)
	r.Start()

	r.OnStorageEvent(storagewatcher.Event{State: storagewatcher.StateDiskFull})
	assert.Equal(t, StatePausedDiskFull, r.State())
	assert.False(t, gates.Recording.IsOpen())
	assert.Equal(t, 1, r.RetryCount())

	r.OnStorageEvent(storagewatcher.Event{State: storagewatcher.StateOK})
	assert.Equal(t, StateRecording, r.State())
	assert.True(t, gates.Recording.IsOpen())
}

func TestRecorder_IdleRecorderIgnoresStorageEvents(t *testing.T) {
	gates := pipeline.NewGatePair()
	r := New("cam_01", gates, nil)

	r.OnStorageEvent(storagewatcher.Event{State: storagewatcher.StateDiskFull})
	assert.Equal(t, StateIdle, r.State())
}

func TestRecorder_DoesNotAutoResumeWithoutPriorPause(t *testing.T) {
	gates := pipeline.NewGatePair()
	r := New("cam_01", gates, nil)
	r.Start()

	r.OnStorageEvent(storagewatcher.Event{State: storagewatcher.StateOK})
	assert.Equal(t, StateRecording, r.State())
}

type fakeSink struct {
	onSplit func()
}

func (f *fakeSink) Write(fr pipeline.Frame) error { return nil }
func (f *fakeSink) SplitNow()                     { f.onSplit() }
func (f *fakeSink) CurrentPath() string           { return "" }
func (f *fakeSink) Close() error                  { return nil }

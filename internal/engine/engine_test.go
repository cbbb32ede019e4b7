package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/configstore"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/pipeline"
)

// fakeSource/fakeAdapter mirror the camerastream package's test doubles;
// duplicated here because Go test helpers aren't exported across packages.
type fakeSource struct {
	frames chan pipeline.Frame
	bus    chan pipeline.BusEvent
}

func newFakeSource() *fakeSource {
	return &fakeSource{frames: make(chan pipeline.Frame, 1), bus: make(chan pipeline.BusEvent, 1)}
}

func (s *fakeSource) Frames() <-chan pipeline.Frame { return s.frames }
func (s *fakeSource) Bus() <-chan pipeline.BusEvent { return s.bus }
func (s *fakeSource) Close() error                  { return nil }

type fakeRecordingSink struct{ splits int }

func (f *fakeRecordingSink) Write(pipeline.Frame) error { return nil }
func (f *fakeRecordingSink) SplitNow()                  { f.splits++ }
func (f *fakeRecordingSink) CurrentPath() string        { return "" }
func (f *fakeRecordingSink) Close() error               { return nil }

type fakeDisplaySink struct{}

func (f *fakeDisplaySink) Render(pipeline.Frame) error { return nil }
func (f *fakeDisplaySink) Close() error                { return nil }

type fakeAdapter struct{}

func (a *fakeAdapter) OpenSource(ctx context.Context, url string, opts pipeline.SourceOptions) (pipeline.Source, error) {
	return newFakeSource(), nil
}
func (a *fakeAdapter) OpenRecordingSink(opts pipeline.SegmentOptions, onSegmentStart func(string)) (pipeline.RecordingSink, error) {
	return &fakeRecordingSink{}, nil
}
func (a *fakeAdapter) OpenDisplaySink() (pipeline.DisplaySink, error) { return &fakeDisplaySink{}, nil }
func (a *fakeAdapter) DecoderAvailable(string) bool                   { return true }

func openTestStore(t *testing.T) *configstore.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := configstore.Open(filepath.Join(dir, "nvr.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEngine_BringsUpEnabledCamerasOnStart(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.SaveCameras([]configstore.CameraSpec{
		{CameraID: "cam_01", Name: "Front", RTSPURL: "rtsp://a", Enabled: true, StreamingOnStart: true},
		{CameraID: "cam_02", Name: "Back", RTSPURL: "rtsp://b", Enabled: false, StreamingOnStart: true},
	}))

	eng := New(store, &fakeAdapter{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.Start(ctx)
	defer eng.Stop()

	require.Eventually(t, func() bool { return eng.supervisorFor("cam_01") != nil }, time.Second, time.Millisecond)
	assert.Nil(t, eng.supervisorFor("cam_02"))
}

func TestEngine_ReconcilesOnConfigChange(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.SaveCameras([]configstore.CameraSpec{
		{CameraID: "cam_01", Name: "Front", RTSPURL: "rtsp://a", Enabled: true, StreamingOnStart: true},
	}))

	eng := New(store, &fakeAdapter{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.Start(ctx)
	defer eng.Stop()

	require.Eventually(t, func() bool { return eng.supervisorFor("cam_01") != nil }, time.Second, time.Millisecond)

	require.NoError(t, store.SaveCameras([]configstore.CameraSpec{
		{CameraID: "cam_01", Name: "Front", RTSPURL: "rtsp://a", Enabled: false},
		{CameraID: "cam_02", Name: "Back", RTSPURL: "rtsp://b", Enabled: true, StreamingOnStart: true},
	}))

	assert.Eventually(t, func() bool { return eng.supervisorFor("cam_01") == nil }, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool { return eng.supervisorFor("cam_02") != nil }, time.Second, time.Millisecond)
}

func TestEngine_StartStopRecordingRequiresRunningCamera(t *testing.T) {
	store := openTestStore(t)
	eng := New(store, &fakeAdapter{}, nil, nil)

	err := eng.StartRecording("cam_missing")
	assert.Error(t, err)
	err = eng.StopRecording("cam_missing")
	assert.Error(t, err)
}

func TestEngine_StartRecordingOnRunningCamera(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.SaveCameras([]configstore.CameraSpec{
		{CameraID: "cam_01", Name: "Front", RTSPURL: "rtsp://a", Enabled: true, StreamingOnStart: true},
	}))

	eng := New(store, &fakeAdapter{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.Start(ctx)
	defer eng.Stop()

	require.Eventually(t, func() bool { return eng.supervisorFor("cam_01") != nil }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		sup := eng.supervisorFor("cam_01")
		return sup != nil && sup.Recorder() != nil
	}, time.Second, time.Millisecond)

	assert.NoError(t, eng.StartRecording("cam_01"))
	assert.NoError(t, eng.StopRecording("cam_01"))
}

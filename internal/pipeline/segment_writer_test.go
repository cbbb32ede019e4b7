package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentWriter_OpensFirstFragmentOnFirstWrite(t *testing.T) {
	dir := t.TempDir()
	var gotPath string
	w := newSegmentWriter(SegmentOptions{Container: "mkv", RotationTarget: time.Hour, RecordingRoot: dir, CameraID: "cam_01"}, func(p string) { gotPath = p }, nil)
	defer w.Close()

	start := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	require.NoError(t, w.Write(Frame{Data: []byte("x"), PTS: start, Keyframe: true}))

	assert.NotEmpty(t, gotPath)
	assert.Equal(t, gotPath, w.CurrentPath())
	assert.FileExists(t, gotPath)
}

func TestSegmentWriter_DropsFramesBeforeFirstKeyframe(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	w := newSegmentWriter(SegmentOptions{Container: "mkv", RotationTarget: time.Hour, RecordingRoot: dir, CameraID: "cam_01"}, func(p string) { paths = append(paths, p) }, nil)
	defer w.Close()

	start := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	require.NoError(t, w.Write(Frame{Data: []byte("p"), PTS: start, Keyframe: false}))
	assert.Empty(t, paths)
	assert.Empty(t, w.CurrentPath())

	require.NoError(t, w.Write(Frame{Data: []byte("x"), PTS: start, Keyframe: true}))
	assert.Len(t, paths, 1)
	assert.NotEmpty(t, w.CurrentPath())
}

func TestSegmentWriter_RotatesOnlyAtKeyframeAfterTargetElapsed(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	w := newSegmentWriter(SegmentOptions{Container: "mkv", RotationTarget: 10 * time.Minute, RecordingRoot: dir, CameraID: "cam_01"}, func(p string) { paths = append(paths, p) }, nil)
	defer w.Close()

	base := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	restore := nowFunc
	defer func() { nowFunc = restore }()

	nowFunc = func() time.Time { return base }
	require.NoError(t, w.Write(Frame{Data: []byte("x"), PTS: base, Keyframe: true}))
	require.Len(t, paths, 1)

	// Rotation target not yet elapsed: a later keyframe must not rotate.
	nowFunc = func() time.Time { return base.Add(5 * time.Minute) }
	require.NoError(t, w.Write(Frame{Data: []byte("x"), PTS: base.Add(5 * time.Minute), Keyframe: true}))
	require.Len(t, paths, 1)

	// Target elapsed, but not a keyframe: must not rotate mid-GOP.
	nowFunc = func() time.Time { return base.Add(11 * time.Minute) }
	require.NoError(t, w.Write(Frame{Data: []byte("x"), PTS: base.Add(11 * time.Minute), Keyframe: false}))
	require.Len(t, paths, 1)

	// Target elapsed and a keyframe arrives: rotates now.
	nowFunc = func() time.Time { return base.Add(12 * time.Minute) }
	require.NoError(t, w.Write(Frame{Data: []byte("x"), PTS: base.Add(12 * time.Minute), Keyframe: true}))
	require.Len(t, paths, 2)
	assert.NotEqual(t, paths[0], paths[1])
}

func TestSegmentWriter_SplitNowForcesRotationAtNextKeyframe(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	w := newSegmentWriter(SegmentOptions{Container: "mkv", RotationTarget: time.Hour, RecordingRoot: dir, CameraID: "cam_01"}, func(p string) { paths = append(paths, p) }, nil)
	defer w.Close()

	base := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	require.NoError(t, w.Write(Frame{Data: []byte("x"), PTS: base, Keyframe: true}))
	require.Len(t, paths, 1)

	w.SplitNow()

	// Non-keyframe after SplitNow must not rotate mid-GOP.
	require.NoError(t, w.Write(Frame{Data: []byte("x"), PTS: base.Add(time.Second), Keyframe: false}))
	require.Len(t, paths, 1)

	require.NoError(t, w.Write(Frame{Data: []byte("x"), PTS: base.Add(2 * time.Second), Keyframe: true}))
	require.Len(t, paths, 2)
}

func TestSegmentWriter_FilenameCollisionErrorsRatherThanOverwriting(t *testing.T) {
	dir := t.TempDir()
	w := newSegmentWriter(SegmentOptions{Container: "mkv", RotationTarget: time.Millisecond, RecordingRoot: dir, CameraID: "cam_01"}, nil, nil)
	defer w.Close()

	same := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	require.NoError(t, w.Write(Frame{Data: []byte("x"), PTS: same, Keyframe: true}))

	restore := nowFunc
	nowFunc = func() time.Time { return same.Add(time.Second) }
	defer func() { nowFunc = restore }()

	err := w.Write(Frame{Data: []byte("x"), PTS: same, Keyframe: true}) // identical second => collision
	assert.Error(t, err)
}

func TestSegmentWriter_CloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w := newSegmentWriter(SegmentOptions{Container: "mkv", RotationTarget: time.Hour, RecordingRoot: dir, CameraID: "cam_01"}, nil, nil)
	require.NoError(t, w.Write(Frame{Data: []byte("x"), PTS: time.Now(), Keyframe: true}))
	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}

package pipeline

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFFmpegSource() *ffmpegSource {
	return &ffmpegSource{
		frames: make(chan Frame, 16),
		bus:    make(chan BusEvent, 4),
		done:   make(chan struct{}),
	}
}

func TestFFmpegSource_ReadFramesMarksKeyframes(t *testing.T) {
	s := newTestFFmpegSource()
	// start code + IDR (type 5) NAL, then start code + non-IDR (type 1) NAL.
	stream := []byte{0, 0, 0, 1, 0x65, 0xAA, 0, 0, 0, 1, 0x01, 0xBB}

	done := make(chan struct{})
	go func() {
		s.readFrames(bytes.NewReader(stream))
		close(done)
	}()

	var got []Frame
	for f := range s.frames {
		got = append(got, f)
	}
	<-done

	require.Len(t, got, 2)
	assert.True(t, got[0].Keyframe)
	assert.False(t, got[1].Keyframe)
}

func TestFFmpegSource_ReadFramesSurvivesTruncatedStartCode(t *testing.T) {
	s := newTestFFmpegSource()
	// A 3-byte start code immediately followed by a 4-byte one, with no NAL
	// header byte between them: the first "pending" slice is exactly 3 bytes
	// long, so its NAL header byte would sit past its end. Must not panic.
	stream := []byte{0, 0, 1, 0, 0, 0, 1, 0x65, 0xCC}

	done := make(chan struct{})
	go func() {
		assert.NotPanics(t, func() { s.readFrames(bytes.NewReader(stream)) })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("readFrames did not complete")
	}
}

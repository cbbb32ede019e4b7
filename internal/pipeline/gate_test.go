package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGate_StartsClosed(t *testing.T) {
	g := NewGate()
	assert.False(t, g.IsOpen())

	called := false
	forwarded := g.Forward(Frame{}, func(Frame) { called = true })
	assert.False(t, forwarded)
	assert.False(t, called)
}

func TestGate_ForwardsWhenOpen(t *testing.T) {
	g := NewGate()
	g.Open()

	var got Frame
	forwarded := g.Forward(Frame{Keyframe: true}, func(f Frame) { got = f })
	assert.True(t, forwarded)
	assert.True(t, got.Keyframe)
}

func TestGate_CloseDropsWithoutCallingSink(t *testing.T) {
	g := NewGate()
	g.Open()
	g.Close()

	called := false
	g.Forward(Frame{}, func(Frame) { called = true })
	assert.False(t, called)
}

func TestGatePair_ApplyMode(t *testing.T) {
	p := NewGatePair()

	p.ApplyMode(ModeBoth)
	assert.True(t, p.Streaming.IsOpen())
	assert.True(t, p.Recording.IsOpen())

	p.ApplyMode(ModeStreamingOnly)
	assert.True(t, p.Streaming.IsOpen())
	assert.False(t, p.Recording.IsOpen())

	p.ApplyMode(ModeRecordingOnly)
	assert.False(t, p.Streaming.IsOpen())
	assert.True(t, p.Recording.IsOpen())

	p.ApplyMode(ModeIdle)
	assert.False(t, p.Streaming.IsOpen())
	assert.False(t, p.Recording.IsOpen())
}

func TestGatePair_OpenCloseRecordingIndependentOfStreaming(t *testing.T) {
	p := NewGatePair()
	p.ApplyMode(ModeStreamingOnly)

	p.OpenRecording()
	assert.True(t, p.Recording.IsOpen())
	assert.True(t, p.Streaming.IsOpen())

	p.CloseRecording()
	assert.False(t, p.Recording.IsOpen())
	assert.True(t, p.Streaming.IsOpen())
}

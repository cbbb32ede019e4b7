/*
Branch gate (valve-like element).

Two independently addressable gates share one fan-out point; each silently
drops or forwards buffers without any pipeline state transition. Implemented
as an atomic boolean guarding a sink callback rather than a real GStreamer
valve element, since this module's Adapter is FFmpeg-process based, not a
GStreamer binding — but the contract (closed gate never blocks the upstream
tee, re-appliable after every state transition) is preserved exactly.
*/

package pipeline

import "sync/atomic"

// Mode is the combination of gate states the factory/detector applies in one
// step.
type Mode string

const (
	ModeIdle           Mode = "idle"
	ModeStreamingOnly  Mode = "streaming_only"
	ModeRecordingOnly  Mode = "recording_only"
	ModeBoth           Mode = "both"
)

// Gate is a single branch valve: closed (drop=true) silently discards every
// buffer offered to Forward; open (drop=false) lets it through.
type Gate struct {
	closed int32 // atomic: 0 = open, 1 = closed
}

// NewGate returns a gate, initially closed: the safe default before the
// pipeline factory applies the requested start mode.
func NewGate() *Gate {
	g := &Gate{}
	g.Close()
	return g
}

// Close drops all subsequently offered buffers. Idempotent.
func (g *Gate) Close() { atomic.StoreInt32(&g.closed, 1) }

// Open forwards all subsequently offered buffers. Idempotent.
func (g *Gate) Open() { atomic.StoreInt32(&g.closed, 0) }

// IsOpen reports the current state.
func (g *Gate) IsOpen() bool { return atomic.LoadInt32(&g.closed) == 0 }

// Forward offers a frame to the gate. It returns true if the frame should
// continue downstream (gate open), false if it was dropped (gate closed).
// Forward never blocks: a closed gate returns immediately, so a stalled or
// absent downstream sink can never back-pressure the shared source.
func (g *Gate) Forward(f Frame, sink func(Frame)) bool {
	if !g.IsOpen() {
		return false
	}
	sink(f)
	return true
}

// GatePair is the streaming/recording gate pair owned by one pipeline
// instance.
type GatePair struct {
	Streaming *Gate
	Recording *Gate
}

// NewGatePair returns both gates closed.
func NewGatePair() *GatePair {
	return &GatePair{Streaming: NewGate(), Recording: NewGate()}
}

// ApplyMode sets both gates consistently. For recording_only/both, actual
// writing is additionally gated by the recorder — ApplyMode only controls
// whether buffers reach that branch at all.
func (p *GatePair) ApplyMode(mode Mode) {
	switch mode {
	case ModeIdle:
		p.Streaming.Close()
		p.Recording.Close()
	case ModeStreamingOnly:
		p.Streaming.Open()
		p.Recording.Close()
	case ModeRecordingOnly:
		p.Streaming.Close()
		p.Recording.Open()
	case ModeBoth:
		p.Streaming.Open()
		p.Recording.Open()
	}
}

// OpenRecording flips only the recording gate. Idempotent.
func (p *GatePair) OpenRecording() { p.Recording.Open() }

// CloseRecording flips only the recording gate. Idempotent.
func (p *GatePair) CloseRecording() { p.Recording.Close() }

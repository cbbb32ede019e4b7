/*
Pipeline factory: builds one camera's graph from its durable configuration.

Grounded on internal/mediamtx/controller.go's wiring style (one
constructor assembling several collaborating managers) and
recording_manager.go's RotationSettings translation from minutes to a
time.Duration.
*/

package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/configstore"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/logging"
)

// BusHandler receives every bus event raised by a pipeline's source, in
// source order. Implementations must not block; the fault detector is the
// canonical handler.
type BusHandler func(BusEvent)

// FrameProbe is invoked for every frame that reaches the tee, before the
// gates. The liveness monitor uses this to reset its deadline timer.
type FrameProbe func(Frame)

// Pipeline is one camera's live graph: source -> tee -> {streaming, recording}
// gated branches, plus the bus and frame-arrival probe hookups the rest of
// the engine observes it through.
type Pipeline struct {
	CameraID  string
	SessionID string // identifies this connect attempt across reconnects, for log correlation
	Gates     *GatePair

	adapter Adapter
	logger  *logging.Logger

	mu         sync.Mutex
	source     Source
	display    DisplaySink
	recording  RecordingSink
	busHandler BusHandler
	frameProbe FrameProbe
	cancelRead context.CancelFunc
	state      State
}

// Options carries everything the factory needs beyond the camera's own spec.
type Options struct {
	Streaming  configstore.StreamingSettings
	Recording  configstore.RecordingSettings
	Storage    configstore.StorageSettings
	StartMode  Mode
	BusHandler BusHandler
	FrameProbe FrameProbe
}

// Build links a new pipeline graph for one camera and starts pulling frames.
// It returns a *BuildError naming the stage that failed to link.
func Build(ctx context.Context, adapter Adapter, cam configstore.CameraSpec, opts Options, logger *logging.Logger) (*Pipeline, error) {
	sessionID := uuid.NewString()
	if logger == nil {
		logger = logging.NewLogger("pipeline")
	}
	logger = logger.WithField("camera_id", cam.CameraID).WithField("session_id", sessionID)

	p := &Pipeline{
		CameraID:   cam.CameraID,
		SessionID:  sessionID,
		Gates:      NewGatePair(),
		adapter:    adapter,
		logger:     logger,
		busHandler: opts.BusHandler,
		frameProbe: opts.FrameProbe,
		state:      StateConnecting,
	}

	srcOpts := SourceOptions{
		RTSPLatencyMs: opts.Streaming.RTSPLatencyMs,
		TCPTimeoutMs:  opts.Streaming.TCPTimeoutMs,
		TimeoutS:      opts.Streaming.ConnectionTimeoutS,
		Retry:         opts.Streaming.MaxReconnectAttempts,
		Username:      cam.Username,
		Password:      cam.Password,
	}
	src, err := adapter.OpenSource(ctx, cam.RTSPURL, srcOpts)
	if err != nil {
		return nil, &BuildError{Stage: StageSource, Cause: err}
	}
	p.source = src

	display, err := adapter.OpenDisplaySink()
	if err != nil {
		_ = src.Close()
		return nil, &BuildError{Stage: StageSink, Cause: err}
	}
	p.display = display

	segOpts := SegmentOptions{
		Container:        string(opts.Recording.Container),
		RotationTarget:   time.Duration(opts.Recording.RotationMinutes) * time.Minute,
		FragmentDuration: time.Duration(opts.Recording.FragmentDurationMs) * time.Millisecond,
		RecordingRoot:    opts.Storage.RecordingRoot,
		CameraID:         cam.CameraID,
	}
	recSink, err := adapter.OpenRecordingSink(segOpts, nil)
	if err != nil {
		_ = src.Close()
		_ = display.Close()
		return nil, &BuildError{Stage: StageSplitMux, Cause: err}
	}
	p.recording = recSink

	p.Gates.ApplyMode(opts.StartMode)

	readCtx, cancel := context.WithCancel(ctx)
	p.cancelRead = cancel
	go p.pump(readCtx)
	go p.drainBus(readCtx)

	return p, nil
}

// pump forwards frames from the source through the tee into both gated
// branches and the frame-arrival probe. It exits when Frames() closes.
func (p *Pipeline) pump(ctx context.Context) {
	for {
		select {
		case f, ok := <-p.source.Frames():
			if !ok {
				return
			}
			if p.frameProbe != nil {
				p.frameProbe(f)
			}
			p.Gates.Streaming.Forward(f, func(fr Frame) {
				if err := p.display.Render(fr); err != nil {
					p.emitLocal(BusEvent{Kind: BusWarning, Domain: DomainUnknown, Emitter: EmitterVideoSink, Message: err.Error(), Cause: err})
				}
			})
			p.Gates.Recording.Forward(f, func(fr Frame) {
				if err := p.recording.Write(fr); err != nil {
					p.emitLocal(BusEvent{Kind: BusError, Domain: DomainIO, Code: CodeWriteError, Emitter: EmitterSplitMux, Message: err.Error(), Cause: err})
				}
			})
		case <-ctx.Done():
			return
		}
	}
}

// drainBus relays the source's bus events and locally-raised sink/recording
// faults to the one registered handler, in order.
func (p *Pipeline) drainBus(ctx context.Context) {
	for {
		select {
		case ev, ok := <-p.source.Bus():
			if !ok {
				return
			}
			p.dispatch(ev)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) emitLocal(ev BusEvent) { p.dispatch(ev) }

func (p *Pipeline) dispatch(ev BusEvent) {
	if p.busHandler != nil {
		p.busHandler(ev)
	}
}

// SetState records the pipeline's externally-visible lifecycle state; the
// camera stream supervisor owns transitions.
func (p *Pipeline) SetState(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// RecordingSink exposes the recording branch's sink for the recorder to
// drive SplitNow/CurrentPath directly.
func (p *Pipeline) RecordingSink() RecordingSink { return p.recording }

// Close tears the graph down: stops the read/bus goroutines, then closes
// the source, sinks, in that order.
func (p *Pipeline) Close() error {
	if p.cancelRead != nil {
		p.cancelRead()
	}
	var firstErr error
	if err := p.source.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close source: %w", err)
	}
	if err := p.recording.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close recording sink: %w", err)
	}
	if err := p.display.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close display sink: %w", err)
	}
	return firstErr
}

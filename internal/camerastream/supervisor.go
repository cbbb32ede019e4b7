/*
Camera stream supervisor: owns one camera's connect/disconnect/reconnect
lifecycle, its pipeline instance, and the reconnect backoff timer.

Grounded on the pack's camsRelay multi-manager reference for the
Starting/Running/Failed/Degraded/Stopped lifecycle enum and degraded-retry
concept, combined with controller.go's wiring style for owning
collaborating components (here: pipeline, fault detector, liveness monitor,
recorder).
*/

package camerastream

import (
	"context"
	"sync"
	"time"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/configstore"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/faultdetector"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/liveness"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/logging"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/pipeline"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/recorder"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/storagewatcher"
)

// State is the supervisor's connection lifecycle.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateFailed   State = "failed"
	StateDegraded State = "degraded"
	StateStopped  State = "stopped"
)

// DegradedThreshold is the consecutive-failure count after which a camera's
// retry frequency drops to DegradedRetryInterval rather than the backoff
// schedule's exponential delay.
const DegradedThreshold = 8

// DegradedRetryInterval is how often a degraded camera is retried.
const DegradedRetryInterval = 5 * time.Minute

// Event is delivered to the engine/subscription layer on every supervisor
// state transition.
type Event struct {
	CameraID string
	State    State
	Err      error
}

// Supervisor owns the full collaborating set for one camera: its pipeline,
// fault detector, liveness monitor, and recorder, plus the connect/
// reconnect loop tying them together.
type Supervisor struct {
	cam     configstore.CameraSpec
	adapter pipeline.Adapter
	opts    pipeline.Options
	logger  *logging.Logger

	storage *storagewatcher.Watcher
	onEvent func(Event)

	mu                sync.Mutex
	state             State
	pipe              *pipeline.Pipeline
	rec               *recorder.Recorder
	live              *liveness.Monitor
	keepalive         *liveness.Keepalive
	exitListener      chan struct{}
	cancelRun         context.CancelFunc
	failureCount      int
	subscribedStorage bool
}

// New constructs a stopped supervisor for one camera. Call Run to begin
// the connect loop.
func New(cam configstore.CameraSpec, adapter pipeline.Adapter, opts pipeline.Options, storage *storagewatcher.Watcher, onEvent func(Event), logger *logging.Logger) *Supervisor {
	if logger == nil {
		logger = logging.NewLogger("camerastream")
	}
	return &Supervisor{
		cam:     cam,
		adapter: adapter,
		opts:    opts,
		logger:  logger.WithField("camera_id", cam.CameraID),
		storage: storage,
		onEvent: onEvent,
		state:   StateStopped,
	}
}

// Run starts the connect/reconnect loop in the background. Cancel ctx or
// call Stop to tear it down.
func (s *Supervisor) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancelRun = cancel
	s.mu.Unlock()

	backoff := faultdetector.NewBackoff(faultdetector.BackoffConfig{
		BaseDelay:  time.Duration(s.opts.Streaming.ReconnectBaseDelayS) * time.Second,
		MaxDelay:   time.Minute,
		MaxRetries: 0,
	})

	go s.loop(runCtx, backoff)
}

func (s *Supervisor) loop(ctx context.Context, backoff *faultdetector.Backoff) {
	for {
		select {
		case <-ctx.Done():
			s.setState(StateStopped, nil)
			return
		default:
		}

		s.setState(StateStarting, nil)
		if err := s.connect(ctx); err != nil {
			s.recordFailure(err)
			delay := s.nextDelay(backoff)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				s.setState(StateStopped, nil)
				return
			}
		}

		backoff.Reset()
		s.mu.Lock()
		s.failureCount = 0
		s.mu.Unlock()
		s.setState(StateRunning, nil)

		select {
		case <-s.waitForExit():
		case <-ctx.Done():
		}
		s.teardownSession()
		if ctx.Err() != nil {
			s.setState(StateStopped, nil)
			return
		}
	}
}

// teardownSession closes the current session's pipeline and liveness
// monitor before the loop reconnects. The recorder is not reset here:
// connect reads whether it was recording and, if so, starts recording on
// the new session's recorder. A paused state (and its auto-resume flag) is
// not carried over; the new recorder starts idle in that case.
func (s *Supervisor) teardownSession() {
	s.mu.Lock()
	pipe := s.pipe
	live := s.live
	keepalive := s.keepalive
	s.pipe = nil
	s.live = nil
	s.keepalive = nil
	s.exitListener = nil
	s.mu.Unlock()

	if keepalive != nil {
		keepalive.Stop()
	}
	if live != nil {
		live.Stop()
	}
	if pipe != nil {
		_ = pipe.Close()
	}
}

func (s *Supervisor) nextDelay(backoff *faultdetector.Backoff) time.Duration {
	s.mu.Lock()
	degraded := s.failureCount >= DegradedThreshold
	s.mu.Unlock()
	if degraded {
		s.setState(StateDegraded, nil)
		return DegradedRetryInterval
	}
	delay, _ := backoff.Next()
	return delay
}

func (s *Supervisor) recordFailure(err error) {
	s.mu.Lock()
	s.failureCount++
	s.mu.Unlock()
	s.setState(StateFailed, err)
}

// connect builds the pipeline and its collaborators, and wires the fault
// detector and liveness monitor to drive reconnection.
func (s *Supervisor) connect(ctx context.Context) error {
	exitCh := make(chan struct{})
	var exitOnce sync.Once
	triggerExit := func() { exitOnce.Do(func() { close(exitCh) }) }

	gates := pipeline.NewGatePair()
	rec := recorder.New(s.cam.CameraID, gates, s.logger)
	live := liveness.NewMonitor(liveness.DefaultConfig(), triggerExit)

	busOpts := s.opts
	busOpts.FrameProbe = func(f pipeline.Frame) { live.Touch() }

	fd := faultdetector.NewController(s.cam.CameraID, faultdetector.Handlers{
		OnRTSPNetwork: triggerExit,
		// Storage faults pause the recorder only; the pipeline and its
		// display branch stay up, matching recorder.OnStorageEvent's own
		// storage-watcher handling.
		OnStorageDisconnected: func() { rec.OnStorageEvent(storagewatcher.Event{State: storagewatcher.StateInaccessible}) },
		OnDiskFull:            func() { s.handleDiskFull(rec) },
		OnDecoder:             func() {},
		OnVideoSink:           func() {},
	}, s.logger)
	busOpts.BusHandler = fd.Handle

	pipe, err := pipeline.Build(ctx, s.adapter, s.cam, busOpts, s.logger)
	if err != nil {
		return err
	}

	if s.storage != nil && !s.subscribedStorage {
		s.storage.Subscribe(func(ev storagewatcher.Event) {
			s.mu.Lock()
			current := s.rec
			s.mu.Unlock()
			if current != nil {
				current.OnStorageEvent(ev)
			}
		})
		s.subscribedStorage = true
	}
	s.mu.Lock()
	prev := s.rec
	s.mu.Unlock()
	wasRecording := prev != nil && prev.State() == recorder.StateRecording
	if s.cam.RecordingOnStart || wasRecording {
		rec.Start()
	}

	s.mu.Lock()
	s.pipe = pipe
	s.rec = rec
	s.live = live
	s.mu.Unlock()

	live.Start()

	var keepalive *liveness.Keepalive
	if s.opts.Streaming.KeepaliveIntervalS > 0 {
		interval := time.Duration(s.opts.Streaming.KeepaliveIntervalS) * time.Second
		keepalive = liveness.NewKeepalive(s.cam.RTSPURL, interval, interval, func(err error) {
			s.logger.WithError(err).Warn("rtsp keepalive probe failed")
			// A secondary line of defense alongside the frame-probe stall
			// detector: once a dial exceeds the keepalive timeout, raise the
			// same network-fault path rather than only logging it.
			if keepalive.FailureCount() >= 1 {
				triggerExit()
			}
		})
		keepalive.Start(ctx)
	}

	s.mu.Lock()
	s.exitListener = exitCh
	s.keepalive = keepalive
	s.mu.Unlock()
	return nil
}

// handleDiskFull pauses rec for a disk-full fault raised directly off the
// pipeline's write-failure bus event (as opposed to the storage watcher's
// own polling), then asks the storage watcher to re-evaluate and attempt a
// cleanup pass immediately rather than waiting for its next tick.
func (s *Supervisor) handleDiskFull(rec *recorder.Recorder) {
	rec.OnStorageEvent(storagewatcher.Event{State: storagewatcher.StateDiskFull})
	if s.storage != nil {
		go s.storage.PollNow()
	}
}

// waitForExit returns the channel that closes when the current session
// needs a reconnect (a fault detector or liveness-monitor trigger fired).
func (s *Supervisor) waitForExit() <-chan struct{} {
	s.mu.Lock()
	ch := s.exitListener
	s.mu.Unlock()
	if ch == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return ch
}

// Stop cancels the connect loop and tears down the current pipeline.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.cancelRun
	pipe := s.pipe
	live := s.live
	keepalive := s.keepalive
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if keepalive != nil {
		keepalive.Stop()
	}
	if live != nil {
		live.Stop()
	}
	if pipe != nil {
		_ = pipe.Close()
	}
}

func (s *Supervisor) setState(state State, err error) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	if s.onEvent != nil {
		s.onEvent(Event{CameraID: s.cam.CameraID, State: state, Err: err})
	}
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Recorder exposes the current session's recorder, or nil if not connected.
func (s *Supervisor) Recorder() *recorder.Recorder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec
}

// RecordingSink exposes the current session's recording sink, or nil if
// not connected.
func (s *Supervisor) RecordingSink() pipeline.RecordingSink {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pipe == nil {
		return nil
	}
	return s.pipe.RecordingSink()
}

/*
Recorder: the start/stop/rotate state machine that owns one camera's
recording gate and its splitting muxer sink, auto-pausing on storage faults
and auto-resuming when the storage watcher reports recovery.

Grounded on internal/mediamtx/recording_manager.go's state
bookkeeping (RecordingSegment/StorageMonitor interplay) and on
circuit_breaker.go's explicit state-plus-retry-counter shape.
*/

package recorder

import (
	"sync"

	"github.com/google/uuid"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/logging"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/pipeline"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/storagewatcher"
)

// State is the recorder's externally-visible lifecycle state.
type State string

const (
	StateIdle               State = "idle"
	StateRecording          State = "recording"
	StatePausedStorageError State = "paused_storage_error"
	StatePausedDiskFull     State = "paused_disk_full"
)

// Recorder drives one camera's recording gate open/closed in response to
// explicit start/stop calls and storage-watcher events, without ever
// touching the streaming branch.
type Recorder struct {
	cameraID string
	gates    *pipeline.GatePair
	logger   *logging.Logger

	mu               sync.Mutex
	state            State
	sessionID        string // identifies the current recording session, for log/file correlation
	shouldAutoResume bool
	retryCount       int
}

func New(cameraID string, gates *pipeline.GatePair, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.NewLogger("recorder")
	}
	return &Recorder{cameraID: cameraID, gates: gates, logger: logger.WithField("camera_id", cameraID), state: StateIdle}
}

// Start opens the recording gate and transitions to recording. A no-op if
// already recording.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateRecording {
		return
	}
	r.gates.OpenRecording()
	r.state = StateRecording
	r.sessionID = uuid.NewString()
	r.shouldAutoResume = false
	r.retryCount = 0
	r.logger.WithField("recording_session_id", r.sessionID).Info("recording started")
}

// Stop closes the recording gate and requests a clean-stop finalize split
// on the sink, then transitions to idle.
func (r *Recorder) Stop(sink pipeline.RecordingSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateIdle {
		return
	}
	r.gates.CloseRecording()
	if sink != nil {
		sink.SplitNow()
	}
	r.state = StateIdle
	r.sessionID = ""
	r.shouldAutoResume = false
	r.logger.Info("recording stopped")
}

// State returns the current lifecycle state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// OnStorageEvent reacts to a storage-watcher transition. Only a recorder
// that was actively recording when the fault hit is marked for auto-resume.
func (r *Recorder) OnStorageEvent(ev storagewatcher.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.State {
	case storagewatcher.StateDiskFull:
		if r.state == StateRecording {
			r.pauseLocked(StatePausedDiskFull)
		}
	case storagewatcher.StateInaccessible:
		if r.state == StateRecording {
			r.pauseLocked(StatePausedStorageError)
		}
	case storagewatcher.StateOK:
		if r.shouldAutoResume && (r.state == StatePausedStorageError || r.state == StatePausedDiskFull) {
			r.gates.OpenRecording()
			r.state = StateRecording
			r.shouldAutoResume = false
			r.logger.Info("recording auto-resumed after storage recovery")
		}
	}
}

func (r *Recorder) pauseLocked(s State) {
	r.gates.CloseRecording()
	r.state = s
	r.shouldAutoResume = true
	r.retryCount++
	r.logger.WithField("pause_reason", string(s)).Warn("recording paused")
}

// RetryCount reports how many times this recorder has paused due to a
// storage fault since the last explicit Start.
func (r *Recorder) RetryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retryCount
}

// SessionID identifies the current recording session, empty when idle.
func (r *Recorder) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

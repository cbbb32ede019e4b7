/*
Engine: the top-level façade over camera_id -> supervisor, wiring the
configuration store, storage watcher, and subscription hub together and
exposing list/save camera operations plus the external
event fan-out.

Grounded on internal/mediamtx/controller.go, which plays the identical
role of assembling and owning every other manager behind one façade the
outer server talks to.
*/

package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/camerastream"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/configstore"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/health"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/logging"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/pipeline"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/storagewatcher"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/subscription"
)

// maxConcurrentStartups bounds how many supervisors Start brings up at once,
// so booting a roster of many cameras doesn't spawn every ffmpeg subprocess
// in the same instant.
const maxConcurrentStartups = 4

// Engine owns one supervisor per enabled camera and reacts to
// configuration saves by reconciling the running set.
type Engine struct {
	store   *configstore.Store
	adapter pipeline.Adapter
	storage *storagewatcher.Watcher
	hub     *subscription.Hub
	health  *health.Monitor
	logger  *logging.Logger

	mu          sync.Mutex
	supervisors map[string]*camerastream.Supervisor
	ctx         context.Context
	cancel      context.CancelFunc
}

// New constructs an engine from its durable store and media adapter. Call
// Start to bring enabled cameras up.
func New(store *configstore.Store, adapter pipeline.Adapter, hub *subscription.Hub, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewLogger("engine")
	}
	snap := store.Snapshot()
	storage := storagewatcher.New(snap.Storage, logger)

	e := &Engine{
		store:       store,
		adapter:     adapter,
		storage:     storage,
		hub:         hub,
		logger:      logger,
		supervisors: make(map[string]*camerastream.Supervisor),
	}
	store.Subscribe(e.onConfigChanged)
	return e
}

// SetHealthMonitor attaches a health.Monitor that tracks one component per
// running camera, kept in sync via onSupervisorEvent. Optional: an engine
// with no monitor attached simply skips the updates.
func (e *Engine) SetHealthMonitor(m *health.Monitor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.health = m
}

// Start begins the storage watcher and brings up a supervisor for every
// camera with Enabled=true and StreamingOnStart or RecordingOnStart set.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	e.ctx, e.cancel = context.WithCancel(ctx)
	runCtx := e.ctx
	e.mu.Unlock()

	e.storage.Start()

	snap := e.store.Snapshot()
	sem := semaphore.NewWeighted(maxConcurrentStartups)
	var wg sync.WaitGroup
	for _, cam := range snap.Cameras {
		if !cam.Enabled || !(cam.StreamingOnStart || cam.RecordingOnStart) {
			continue
		}
		cam := cam
		if err := sem.Acquire(runCtx, 1); err != nil {
			break // context cancelled before every camera could be scheduled
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			e.bringUp(runCtx, cam, snap)
		}()
	}
	wg.Wait()
}

// Stop tears every supervisor down and stops the storage watcher.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	sups := make([]*camerastream.Supervisor, 0, len(e.supervisors))
	for _, s := range e.supervisors {
		sups = append(sups, s)
	}
	e.supervisors = make(map[string]*camerastream.Supervisor)
	e.mu.Unlock()

	for _, s := range sups {
		s.Stop()
	}
	e.storage.Stop()

	if e.health != nil {
		for _, c := range e.health.Components() {
			e.health.Remove(c.Name)
		}
	}
}

func (e *Engine) bringUp(ctx context.Context, cam configstore.CameraSpec, snap configstore.Snapshot) {
	opts := pipeline.Options{
		Streaming: snap.Streaming,
		Recording: snap.Recording,
		Storage:   snap.Storage,
		StartMode: startModeFor(cam),
	}

	sup := camerastream.New(cam, e.adapter, opts, e.storage, e.onSupervisorEvent, e.logger)

	e.mu.Lock()
	e.supervisors[cam.CameraID] = sup
	e.mu.Unlock()

	sup.Run(ctx)
}

func startModeFor(cam configstore.CameraSpec) pipeline.Mode {
	switch {
	case cam.StreamingOnStart && cam.RecordingOnStart:
		return pipeline.ModeBoth
	case cam.StreamingOnStart:
		return pipeline.ModeStreamingOnly
	case cam.RecordingOnStart:
		return pipeline.ModeRecordingOnly
	default:
		return pipeline.ModeIdle
	}
}

func (e *Engine) onSupervisorEvent(ev camerastream.Event) {
	e.updateHealth(ev)

	if e.hub == nil {
		return
	}
	kind := subscription.EventConnectionState
	msg := ""
	if ev.Err != nil {
		kind = subscription.EventConnectionError
		msg = ev.Err.Error()
	}
	e.hub.Publish(subscription.Event{
		Kind:      kind,
		CameraID:  ev.CameraID,
		State:     string(ev.State),
		Message:   msg,
		Timestamp: time.Now(),
	})
}

func (e *Engine) updateHealth(ev camerastream.Event) {
	e.mu.Lock()
	mon := e.health
	e.mu.Unlock()
	if mon == nil {
		return
	}

	msg := ""
	if ev.Err != nil {
		msg = ev.Err.Error()
	}
	switch ev.State {
	case camerastream.StateRunning:
		mon.Update(ev.CameraID, health.StatusHealthy, msg)
	case camerastream.StateDegraded:
		mon.Update(ev.CameraID, health.StatusDegraded, msg)
	case camerastream.StateFailed:
		mon.Update(ev.CameraID, health.StatusUnhealthy, msg)
	case camerastream.StateStarting:
		mon.Update(ev.CameraID, health.StatusDegraded, "connecting")
	case camerastream.StateStopped:
		mon.Remove(ev.CameraID)
	}
}

// onConfigChanged reconciles the running supervisor set whenever the
// configuration store publishes a new snapshot: cameras removed or
// disabled are torn down, cameras newly enabled are brought up. Running
// cameras are left alone even if their settings changed; a changed camera
// must be explicitly stopped and restarted by the caller of Save to pick
// up new connection parameters; see DESIGN.md open question.
func (e *Engine) onConfigChanged(snap configstore.Snapshot) {
	e.mu.Lock()
	ctx := e.ctx
	e.mu.Unlock()
	if ctx == nil {
		return
	}

	wanted := make(map[string]configstore.CameraSpec, len(snap.Cameras))
	for _, cam := range snap.Cameras {
		if cam.Enabled {
			wanted[cam.CameraID] = cam
		}
	}

	e.mu.Lock()
	var toStop []*camerastream.Supervisor
	for id, sup := range e.supervisors {
		if _, ok := wanted[id]; !ok {
			toStop = append(toStop, sup)
			delete(e.supervisors, id)
		}
	}
	var toStart []configstore.CameraSpec
	for id, cam := range wanted {
		if _, exists := e.supervisors[id]; !exists {
			toStart = append(toStart, cam)
		}
	}
	e.mu.Unlock()

	for _, sup := range toStop {
		sup.Stop()
	}
	for _, cam := range toStart {
		e.bringUp(ctx, cam, snap)
	}
}

// ListCameras returns the current camera roster.
func (e *Engine) ListCameras() []configstore.CameraSpec {
	return e.store.Snapshot().Cameras
}

// SaveCameras validates and persists a new camera roster; the config
// store's publish triggers onConfigChanged to reconcile supervisors.
func (e *Engine) SaveCameras(cameras []configstore.CameraSpec) error {
	return e.store.SaveCameras(cameras)
}

// StartRecording begins recording on cam, returning an error if the camera
// has no running supervisor (i.e. its pipeline is not connected).
func (e *Engine) StartRecording(cameraID string) error {
	sup := e.supervisorFor(cameraID)
	if sup == nil {
		return fmt.Errorf("camera %s is not running", cameraID)
	}
	rec := sup.Recorder()
	if rec == nil {
		return fmt.Errorf("camera %s has no active session", cameraID)
	}
	rec.Start()
	return nil
}

// StopRecording stops recording on cam.
func (e *Engine) StopRecording(cameraID string) error {
	sup := e.supervisorFor(cameraID)
	if sup == nil {
		return fmt.Errorf("camera %s is not running", cameraID)
	}
	rec := sup.Recorder()
	if rec == nil {
		return fmt.Errorf("camera %s has no active session", cameraID)
	}
	rec.Stop(sup.RecordingSink())
	return nil
}

func (e *Engine) supervisorFor(cameraID string) *camerastream.Supervisor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.supervisors[cameraID]
}

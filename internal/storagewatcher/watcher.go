/*
Storage watcher: polls the recording mount's accessibility and free space,
and disseminates edge-triggered storage-error/storage-ok events to
subscribed recorders.

Grounded on internal/mediamtx/system_metrics_manager.go's
gopsutil disk.Usage polling pattern, generalized from a periodic metrics
sample into a fault-edge detector.
*/

package storagewatcher

import (
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"golang.org/x/sys/unix"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/configstore"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/logging"
)

// State is the watcher's edge-triggered view of the recording mount.
type State string

const (
	StateUnknown      State = "unknown"
	StateOK           State = "ok"
	StateDiskFull     State = "disk_full"
	StateInaccessible State = "inaccessible"
)

// Event is delivered on every state transition.
type Event struct {
	State     State
	FreeBytes uint64
	FreePct   float64
	Err       error
}

// Watcher polls one recording root on a fixed cadence (5s default, matching
// internal/mediamtx/system_metrics_manager.go's metrics-sampling interval),
// runs the storage cleanup pass when space is tight, and fans out
// transitions to subscribers.
type Watcher struct {
	root     string
	interval time.Duration
	settings configstore.StorageSettings

	logger *logging.Logger

	mu      sync.Mutex
	state   State
	subs    []func(Event)
	stopCh  chan struct{}
	stopped bool

	statFunc func(path string) (*disk.UsageStat, error)
}

// New constructs a watcher for settings.RecordingRoot, polling every 5s.
func New(settings configstore.StorageSettings, logger *logging.Logger) *Watcher {
	if logger == nil {
		logger = logging.NewLogger("storagewatcher")
	}
	return &Watcher{
		root:     settings.RecordingRoot,
		interval: 5 * time.Second,
		settings: settings,
		logger:   logger,
		state:    StateUnknown,
		statFunc: disk.Usage,
	}
}

// Subscribe registers a callback for every state transition. Does not
// replay the current state; callers needing the starting point should call
// CurrentState first.
func (w *Watcher) Subscribe(fn func(Event)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subs = append(w.subs, fn)
}

// CurrentState returns the last-evaluated state.
func (w *Watcher) CurrentState() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Start begins the polling loop, running an upfront cleanup pass first if
// settings.CleanupOnStartup is set. Call Stop to release it.
func (w *Watcher) Start() {
	w.mu.Lock()
	w.stopCh = make(chan struct{})
	stopCh := w.stopCh
	w.mu.Unlock()

	if w.settings.CleanupOnStartup {
		w.runCleanupPass()
	}

	go func() {
		w.poll()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.poll()
			case <-stopCh:
				return
			}
		}
	}()
}

// PollNow runs one poll cycle immediately, outside the ticker cadence.
// Callers that classify a disk-full fault off the media pipeline's own
// write-failure bus event use this to re-evaluate and attempt cleanup
// without waiting for the next tick.
func (w *Watcher) PollNow() {
	w.poll()
}

func (w *Watcher) poll() {
	if _, err := os.Stat(w.root); err != nil {
		w.transition(Event{State: StateInaccessible, Err: err})
		return
	}
	if err := unix.Access(w.root, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		w.transition(Event{State: StateInaccessible, Err: err})
		return
	}

	usage, err := w.statFunc(w.root)
	if err != nil {
		w.transition(Event{State: StateInaccessible, Err: err})
		return
	}

	freeGB := float64(usage.Free) / (1 << 30)
	freePct := 100.0 - usage.UsedPercent
	tight := freeGB < w.settings.MinFreeGB || int(freePct) < w.settings.MinFreePercent
	nearThreshold := w.settings.CleanupThresholdPct > 0 && usage.UsedPercent >= float64(w.settings.CleanupThresholdPct)
	if (tight || nearThreshold) && w.settings.AutoCleanup {
		if freed, _, err := runCleanup(w.root, w.settings, w.statFunc, w.logger); err != nil {
			w.logger.WithError(err).Warn("storage cleanup pass failed")
		} else if freed > 0 {
			w.logger.WithField("freed_bytes", freed).Info("storage cleanup pass freed space")
		}
		usage, err = w.statFunc(w.root)
		if err != nil {
			w.transition(Event{State: StateInaccessible, Err: err})
			return
		}
		freeGB = float64(usage.Free) / (1 << 30)
		freePct = 100.0 - usage.UsedPercent
		tight = freeGB < w.settings.MinFreeGB || int(freePct) < w.settings.MinFreePercent
	}

	if tight {
		w.transition(Event{State: StateDiskFull, FreeBytes: usage.Free, FreePct: freePct})
		return
	}
	w.transition(Event{State: StateOK, FreeBytes: usage.Free, FreePct: freePct})
}

func (w *Watcher) runCleanupPass() {
	if _, _, err := runCleanup(w.root, w.settings, w.statFunc, w.logger); err != nil {
		w.logger.WithError(err).Warn("startup storage cleanup pass failed")
	}
}

func (w *Watcher) transition(ev Event) {
	w.mu.Lock()
	changed := w.state != ev.State
	w.state = ev.State
	subs := append([]func(Event){}, w.subs...)
	w.mu.Unlock()

	if !changed {
		return
	}
	w.logger.WithField("storage_state", string(ev.State)).Info("storage state transition")
	for _, fn := range subs {
		fn(ev)
	}
}

// Stop halts the polling loop. Safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	if w.stopCh != nil {
		close(w.stopCh)
	}
}

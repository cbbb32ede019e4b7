/*
Recovery controller: per-fault-kind handlers and a reconnect backoff state
machine.

Grounded on internal/mediamtx/circuit_breaker.go's failure
counting and on the pack's exponential-backoff config shape (base delay,
max attempts, cap) from the camsRelay multi-manager reference.
*/

package faultdetector

import (
	"math"
	"sync"
	"time"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/logging"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/pipeline"
)

// BackoffConfig parameterizes the reconnect delay schedule.
type BackoffConfig struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int // 0 = unlimited
}

// Backoff computes exponential reconnect delays with a hard cap, capturing
// consecutive-failure count for the supervisor's observability.
type Backoff struct {
	cfg     BackoffConfig
	mu      sync.Mutex
	attempt int
}

func NewBackoff(cfg BackoffConfig) *Backoff {
	return &Backoff{cfg: cfg}
}

// Next returns the delay before the next reconnect attempt and whether the
// caller should keep retrying at all (false once MaxRetries is exhausted).
func (b *Backoff) Next() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cfg.MaxRetries > 0 && b.attempt >= b.cfg.MaxRetries {
		return 0, false
	}
	delay := b.cfg.BaseDelay * time.Duration(math.Pow(2, float64(b.attempt)))
	if delay < 0 || (b.cfg.MaxDelay > 0 && delay > b.cfg.MaxDelay) {
		delay = b.cfg.MaxDelay
	}
	b.attempt++
	return delay, true
}

// Reset clears the attempt counter after a successful reconnect.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempt = 0
}

func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt
}

// Handlers groups the callbacks the recovery controller invokes for each
// fault kind. A nil handler is simply skipped.
type Handlers struct {
	OnRTSPNetwork         func()
	OnStorageDisconnected func()
	OnDiskFull            func()
	OnDecoder             func()
	OnVideoSink           func()
	OnUnknown             func(pipeline.BusEvent)
}

// Controller watches one camera's pipeline bus and dispatches classified
// faults to Handlers. It owns no reconnect timer itself: OnRTSPNetwork etc.
// are expected to drive their own Backoff (typically owned by the camera
// stream supervisor, which already serializes connect/reconnect).
type Controller struct {
	cameraID string
	logger   *logging.Logger
	handlers Handlers
}

func NewController(cameraID string, handlers Handlers, logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.NewLogger("faultdetector")
	}
	return &Controller{cameraID: cameraID, logger: logger.WithField("camera_id", cameraID), handlers: handlers}
}

// Handle classifies one bus event and invokes the matching handler.
func (c *Controller) Handle(ev pipeline.BusEvent) {
	kind := Classify(ev)
	c.logger.WithField("fault_kind", string(kind)).Debug("classified bus event")

	switch kind {
	case KindRTSPNetwork:
		if c.handlers.OnRTSPNetwork != nil {
			c.handlers.OnRTSPNetwork()
		}
	case KindStorageDisconnected:
		if c.handlers.OnStorageDisconnected != nil {
			c.handlers.OnStorageDisconnected()
		}
	case KindDiskFull:
		if c.handlers.OnDiskFull != nil {
			c.handlers.OnDiskFull()
		}
	case KindDecoder:
		if c.handlers.OnDecoder != nil {
			c.handlers.OnDecoder()
		}
	case KindVideoSink:
		if c.handlers.OnVideoSink != nil {
			c.handlers.OnVideoSink()
		}
	case KindUnknown:
		if c.handlers.OnUnknown != nil {
			c.handlers.OnUnknown(ev)
		}
	}
}

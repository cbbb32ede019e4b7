/*
Fault classification taxonomy.

A pipeline's bus events and probe timeouts are reduced to a small closed set
of fault kinds before any recovery decision is made, so the recovery
controller and the recorder never need to see a raw BusEvent. Grounded on
the CameraState enum in the pack's multi-manager reference (Starting/
Running/Failed/Degraded/Stopped) generalized into fault *kinds* rather than
connection states, and on circuit_breaker.go's failure-counting
discipline.
*/

package faultdetector

import (
	"strings"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/pipeline"
)

// Kind is the closed set of fault categories the recovery controller acts on.
type Kind string

const (
	KindNone                Kind = "none"
	KindRTSPNetwork         Kind = "rtsp_network"
	KindStorageDisconnected Kind = "storage_disconnected"
	KindDiskFull            Kind = "disk_full"
	KindDecoder             Kind = "decoder"
	KindVideoSink           Kind = "video_sink"
	KindUnknown             Kind = "unknown"
)

// Classify reduces one bus event to a fault Kind using, in priority order:
// domain/code, emitter, then the human message as a last resort.
func Classify(ev pipeline.BusEvent) Kind {
	switch {
	case ev.Domain == pipeline.DomainResource && ev.Code == pipeline.CodeResourceNotFound:
		return KindRTSPNetwork
	case ev.Domain == pipeline.DomainIO && ev.Code == pipeline.CodeNoSpaceLeft:
		return KindDiskFull
	case ev.Domain == pipeline.DomainIO && ev.Code == pipeline.CodeWriteError:
		return KindStorageDisconnected
	case ev.Domain == pipeline.DomainStream && ev.Code == pipeline.CodeStreamError:
		return KindDecoder
	}

	switch ev.Emitter {
	case pipeline.EmitterSource:
		return KindRTSPNetwork
	case pipeline.EmitterSplitMux:
		return KindStorageDisconnected
	case pipeline.EmitterDecoder:
		return KindDecoder
	case pipeline.EmitterVideoSink:
		return KindVideoSink
	}

	switch {
	case strings.Contains(ev.Message, "space"):
		return KindDiskFull
	case strings.Contains(ev.Message, "Permission denied"):
		return KindStorageDisconnected
	case strings.Contains(ev.Message, "Output window"):
		return KindVideoSink
	}

	if ev.Kind == pipeline.BusError || ev.Kind == pipeline.BusWarning {
		return KindUnknown
	}
	return KindNone
}

package faultdetector

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/pipeline"
)

func TestClassify_DomainCodeTakesPriority(t *testing.T) {
	ev := pipeline.BusEvent{
		Domain:  pipeline.DomainIO,
		Code:    pipeline.CodeNoSpaceLeft,
		Emitter: pipeline.EmitterSource, // would otherwise say RTSPNetwork
	}
	assert.Equal(t, KindDiskFull, Classify(ev))
}

func TestClassify_FallsBackToEmitter(t *testing.T) {
	ev := pipeline.BusEvent{Emitter: pipeline.EmitterSplitMux}
	assert.Equal(t, KindStorageDisconnected, Classify(ev))
}

func TestClassify_UnknownErrorWithNoEmitterMatch(t *testing.T) {
	ev := pipeline.BusEvent{Kind: pipeline.BusError}
	assert.Equal(t, KindUnknown, Classify(ev))
}

func TestClassify_NoneForNonErrorWithNoMatch(t *testing.T) {
	ev := pipeline.BusEvent{Kind: pipeline.BusEOS}
	assert.Equal(t, KindNone, Classify(ev))
}

func TestClassify_SourceEmitterMeansRTSPNetwork(t *testing.T) {
	ev := pipeline.BusEvent{Emitter: pipeline.EmitterSource}
	assert.Equal(t, KindRTSPNetwork, Classify(ev))
}

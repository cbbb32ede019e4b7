/*
FFmpeg-backed Adapter implementation.

This is the one media library adapter this engine ships: it resolves the
ffmpeg binary on PATH, opens RTSP sources as subprocesses (ffmpeg_source.go),
and opens recording sinks as direct file writers (segment_writer.go). A
headless noopDisplaySink stands in for the desktop video sink, since no
window system is available inside this process.

Grounded on internal/mediamtx/ffmpeg_manager.go for resolving
and probing the ffmpeg binary.
*/

package pipeline

import (
	"context"
	"os/exec"
	"sync"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/logging"
)

// FFmpegAdapter is the default Adapter: FFmpeg subprocesses for ingest,
// plain files for recording, a no-op sink for live display.
type FFmpegAdapter struct {
	ffmpegPath string
	logger     *logging.Logger

	mu           sync.Mutex
	decoderProbe map[string]bool
}

// NewFFmpegAdapter resolves ffmpegPath on PATH if empty.
func NewFFmpegAdapter(ffmpegPath string, logger *logging.Logger) (*FFmpegAdapter, error) {
	if ffmpegPath == "" {
		resolved, err := exec.LookPath("ffmpeg")
		if err != nil {
			return nil, &BuildError{Stage: StageSource, Cause: err}
		}
		ffmpegPath = resolved
	}
	if logger == nil {
		logger = logging.NewLogger("pipeline")
	}
	return &FFmpegAdapter{ffmpegPath: ffmpegPath, logger: logger, decoderProbe: map[string]bool{}}, nil
}

func (a *FFmpegAdapter) OpenSource(ctx context.Context, rtspURL string, opts SourceOptions) (Source, error) {
	return newFFmpegSource(ctx, a.ffmpegPath, rtspURL, opts, a.logger)
}

func (a *FFmpegAdapter) OpenRecordingSink(opts SegmentOptions, onSegmentStart func(path string)) (RecordingSink, error) {
	onErr := func(err error) {
		a.logger.WithError(err).Error("recording sink failure")
	}
	return newSegmentWriter(opts, onSegmentStart, onErr), nil
}

func (a *FFmpegAdapter) OpenDisplaySink() (DisplaySink, error) {
	return &noopDisplaySink{}, nil
}

// DecoderAvailable reports whether ffmpeg's build advertises the named
// decoder, caching the result of one `ffmpeg -decoders` probe per process.
func (a *FFmpegAdapter) DecoderAvailable(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.decoderProbe) == 0 {
		a.probeDecodersLocked()
	}
	return a.decoderProbe[name]
}

func (a *FFmpegAdapter) probeDecodersLocked() {
	out, err := exec.Command(a.ffmpegPath, "-hide_banner", "-decoders").CombinedOutput()
	if err != nil {
		a.logger.WithError(err).Warn("failed to probe ffmpeg decoders")
		a.decoderProbe["probe_failed"] = false
		return
	}
	for _, known := range []string{"h264", "hevc", "vaapi", "nvdec", "qsv"} {
		a.decoderProbe[known] = containsToken(string(out), known)
	}
}

func containsToken(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

// noopDisplaySink discards every frame; a real window-system sink is an
// external collaborator this engine doesn't implement.
type noopDisplaySink struct{}

func (n *noopDisplaySink) Render(f Frame) error { return nil }
func (n *noopDisplaySink) Close() error         { return nil }

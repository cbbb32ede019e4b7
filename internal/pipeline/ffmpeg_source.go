/*
FFmpeg-backed RTSP source element.

Grounded on internal/mediamtx/ffmpeg_manager.go's process lifecycle
(exec.CommandContext, PID tracking, background monitor goroutine) and
internal/mediamtx/rtsp_keepalive_reader.go's stderr-driven fault detection.
Unlike a MediaMTX-backed stack, which shells FFmpeg out to MediaMTX and back, this
source pipes FFmpeg's raw Annex-B H.264/H.265 elementary stream to stdout
and parses NAL unit boundaries itself, since the pipeline here owns
demux/parse/tee directly rather than delegating to an external server.
*/

package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/logging"
)

// nalUnitType extracts the H.264 NAL unit type from its header byte.
func nalUnitType(header byte) int { return int(header & 0x1f) }

func isKeyframeStart(nalType int) bool {
	// IDR slice (5) or SPS (7): a new GOP begins here.
	return nalType == 5 || nalType == 7
}

type ffmpegSource struct {
	logger  *logging.Logger
	cmd     *exec.Cmd
	frames  chan Frame
	bus     chan BusEvent
	closeOnce sync.Once
	done    chan struct{}
}

// newFFmpegSource launches `ffmpeg -rtsp_transport tcp -i <url> ... -f h264 pipe:1`
// and begins streaming parsed access units.
func newFFmpegSource(ctx context.Context, ffmpegPath, rtspURL string, opts SourceOptions, logger *logging.Logger) (*ffmpegSource, error) {
	args := []string{
		"-rtsp_transport", "tcp",
		"-rw_timeout", fmt.Sprintf("%d", opts.TCPTimeoutMs*1000),
		"-stimeout", fmt.Sprintf("%d", opts.TimeoutS*1_000_000),
		"-i", rtspURL,
		"-c", "copy",
		"-f", "h264",
		"pipe:1",
	}

	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &BuildError{Stage: StageSource, Cause: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &BuildError{Stage: StageSource, Cause: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &BuildError{Stage: StageSource, Cause: err}
	}

	s := &ffmpegSource{
		logger: logger,
		cmd:    cmd,
		frames: make(chan Frame, 64),
		bus:    make(chan BusEvent, 8),
		done:   make(chan struct{}),
	}

	go s.readFrames(stdout)
	go s.readStderr(stderr)
	go s.wait()

	return s, nil
}

func (s *ffmpegSource) Frames() <-chan Frame    { return s.frames }
func (s *ffmpegSource) Bus() <-chan BusEvent    { return s.bus }

func (s *ffmpegSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.cmd.Process != nil {
			err = s.cmd.Process.Kill()
		}
	})
	return err
}

func (s *ffmpegSource) wait() {
	_ = s.cmd.Wait()
	close(s.done)
}

// readFrames scans the Annex-B byte stream for start codes and emits one
// Frame per NAL unit, marking keyframe starts per isKeyframeStart.
func (s *ffmpegSource) readFrames(r io.Reader) {
	defer close(s.frames)

	reader := bufio.NewReaderSize(r, 1<<20)
	var pending []byte

	flush := func(next []byte) {
		if len(pending) == 0 {
			pending = next
			return
		}
		scLen := startCodeLen(pending)
		if len(pending) <= scLen {
			// Start code with no NAL header byte after it (truncated/corrupt
			// stream); nothing to classify, just drop it.
			pending = next
			return
		}
		nalType := nalUnitType(pending[scLen])
		f := Frame{
			Data:     pending,
			PTS:      time.Now(),
			Keyframe: isKeyframeStart(nalType),
		}
		select {
		case s.frames <- f:
		case <-s.done:
		}
		pending = next
	}

	buf := make([]byte, 0, 1<<20)
	tmp := make([]byte, 32*1024)
	for {
		n, err := reader.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			for {
				idx := findNextStartCode(buf, 4)
				if idx < 0 {
					break
				}
				flush(buf[:idx])
				buf = buf[idx:]
			}
		}
		if err != nil {
			if len(buf) > 0 {
				flush(buf)
				flush(nil)
			}
			return
		}
	}
}

func startCodeLen(b []byte) int {
	if len(b) >= 4 && b[0] == 0 && b[1] == 0 && b[2] == 0 && b[3] == 1 {
		return 4
	}
	return 3
}

// findNextStartCode finds the offset of the next Annex-B start code at or
// after `from`, or -1 if none is present yet.
func findNextStartCode(buf []byte, from int) int {
	for i := from; i+2 < len(buf); i++ {
		if buf[i] == 0 && buf[i+1] == 0 && buf[i+2] == 1 {
			if i > 0 && buf[i-1] == 0 {
				return i - 1
			}
			return i
		}
	}
	return -1
}

// readStderr classifies FFmpeg's diagnostic stream into bus events using a
// message-substring fallback; domain/code classification isn't available
// from a subprocess's stderr, so the fault detector leans more heavily on
// this path for network faults than a native GStreamer bus would need to.
func (s *ffmpegSource) readStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		lower := strings.ToLower(line)
		switch {
		case strings.Contains(lower, "connection refused"),
			strings.Contains(lower, "connection timed out"),
			strings.Contains(lower, "no route to host"),
			strings.Contains(lower, "server returned 404"),
			strings.Contains(lower, "end of file"):
			s.emit(BusEvent{Kind: BusError, Domain: DomainResource, Code: CodeResourceNotFound, Emitter: EmitterSource, Message: line})
		case strings.Contains(lower, "error while decoding"), strings.Contains(lower, "invalid nal"):
			s.emit(BusEvent{Kind: BusWarning, Domain: DomainStream, Code: CodeStreamError, Emitter: EmitterDecoder, Message: line})
		default:
			s.logger.WithField("ffmpeg_stderr", line).Debug("ffmpeg source diagnostic")
		}
	}
}

func (s *ffmpegSource) emit(ev BusEvent) {
	select {
	case s.bus <- ev:
	case <-s.done:
	default:
		// bus is bounded; never block the reader goroutine on a slow
		// consumer.
	}
}

/*
Configuration store data model: camera records and the global streaming,
recording, and storage settings singletons.
*/

package configstore

import "fmt"

// FlipMode is the video transform's mirroring axis.
type FlipMode string

const (
	FlipNone FlipMode = "none"
	FlipH    FlipMode = "h"
	FlipV    FlipMode = "v"
	FlipBoth FlipMode = "both"
)

// VideoTransform describes an optional flip/rotate applied before overlay.
type VideoTransform struct {
	Enabled  bool     `json:"enabled"`
	Flip     FlipMode `json:"flip"`
	Rotation int      `json:"rotation"` // one of 0, 90, 180, 270
}

func (t VideoTransform) validate() error {
	if !t.Enabled {
		return nil
	}
	switch t.Flip {
	case FlipNone, FlipH, FlipV, FlipBoth:
	default:
		return fmt.Errorf("video_transform: invalid flip %q", t.Flip)
	}
	switch t.Rotation {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("video_transform: invalid rotation %d", t.Rotation)
	}
	return nil
}

// PTZKind identifies the PTZ protocol family a camera speaks, if any.
type PTZKind string

const (
	PTZNone    PTZKind = "none"
	PTZONVIF   PTZKind = "onvif"
	PTZVISCA   PTZKind = "visca"
	PTZPelcoD  PTZKind = "pelco_d"
)

// PTZDescriptor is the PTZ transport binding for a camera, informational to
// this engine: the PTZ protocol client itself is an external collaborator.
type PTZDescriptor struct {
	Kind    PTZKind `json:"kind"`
	Port    int     `json:"port"`
	Channel int     `json:"channel"`
}

// CameraSpec is the durable, per-camera configuration record. Identity is
// CameraID; uniqueness is enforced by Store.SaveCameras.
type CameraSpec struct {
	CameraID         string         `json:"camera_id"`
	Name             string         `json:"name"`
	RTSPURL          string         `json:"rtsp_url"`
	Username         string         `json:"username,omitempty"`
	Password         string         `json:"password,omitempty"` // stored in cleartext
	Enabled          bool           `json:"enabled"`
	StreamingOnStart bool           `json:"streaming_on_start"`
	RecordingOnStart bool           `json:"recording_on_start"`
	PTZ              PTZDescriptor  `json:"ptz"`
	VideoTransform   VideoTransform `json:"video_transform"`
	DisplayOrder     int            `json:"display_order"`
}

// Validate enforces the field-level invariants of a camera record.
func (c CameraSpec) Validate() error {
	if c.CameraID == "" {
		return fmt.Errorf("camera_id must not be empty")
	}
	if c.RTSPURL == "" {
		return fmt.Errorf("camera %s: rtsp_url must not be empty", c.CameraID)
	}
	if c.DisplayOrder < 0 {
		return fmt.Errorf("camera %s: display_order must be non-negative", c.CameraID)
	}
	if err := c.VideoTransform.validate(); err != nil {
		return fmt.Errorf("camera %s: %w", c.CameraID, err)
	}
	return nil
}

// DecoderPreference is an ordered list of decoder element factory names,
// tried in order by the pipeline factory.
type DecoderPreference []string

// OSDAlignment positions the timestamp/name overlay.
type OSDAlignment string

const (
	OSDTopLeft     OSDAlignment = "top_left"
	OSDTopRight    OSDAlignment = "top_right"
	OSDBottomLeft  OSDAlignment = "bottom_left"
	OSDBottomRight OSDAlignment = "bottom_right"
)

// OSDSettings configures the text overlay element.
type OSDSettings struct {
	ShowName      bool         `json:"show_name"`
	ShowTimestamp bool         `json:"show_timestamp"`
	Font          string       `json:"font"`
	TextColor     string       `json:"text_color"`
	BackColor     string       `json:"back_color"`
	Alignment     OSDAlignment `json:"alignment"`
	PaddingPx     int          `json:"padding_px"`
}

// StreamingSettings is the singleton streaming configuration.
type StreamingSettings struct {
	DecoderPreference      DecoderPreference `json:"decoder_preference"`
	HardwareAccel          bool              `json:"hardware_accel"`
	RTSPLatencyMs          int               `json:"rtsp_latency_ms"`
	TCPTimeoutMs           int               `json:"tcp_timeout_ms"`
	KeepaliveIntervalS      int              `json:"keepalive_interval_s"`
	ConnectionTimeoutS     int               `json:"connection_timeout_s"`
	AutoReconnect          bool              `json:"auto_reconnect"`
	MaxReconnectAttempts   int               `json:"max_reconnect_attempts"`
	ReconnectBaseDelayS    int               `json:"reconnect_base_delay_s"`
	OSD                    OSDSettings       `json:"osd"`
}

// DefaultStreamingSettings returns the documented factory defaults.
func DefaultStreamingSettings() StreamingSettings {
	return StreamingSettings{
		DecoderPreference:    DecoderPreference{"avdec_h264", "vaapih264dec", "nvh264dec"},
		HardwareAccel:        false,
		RTSPLatencyMs:        200,
		TCPTimeoutMs:         5_000_000,
		KeepaliveIntervalS:   5,
		ConnectionTimeoutS:   10,
		AutoReconnect:        true,
		MaxReconnectAttempts: 10,
		ReconnectBaseDelayS:  5,
		OSD: OSDSettings{
			ShowName:      true,
			ShowTimestamp: true,
			Font:          "Sans 12",
			TextColor:     "white",
			BackColor:     "black",
			Alignment:     OSDTopLeft,
			PaddingPx:     8,
		},
	}
}

func (s StreamingSettings) Validate() error {
	if len(s.DecoderPreference) == 0 {
		return fmt.Errorf("streaming: decoder_preference must not be empty")
	}
	if s.MaxReconnectAttempts < 0 {
		return fmt.Errorf("streaming: max_reconnect_attempts must be non-negative")
	}
	if s.ReconnectBaseDelayS <= 0 {
		return fmt.Errorf("streaming: reconnect_base_delay_s must be positive")
	}
	return nil
}

// ContainerFormat is the recording file container.
type ContainerFormat string

const (
	ContainerMKV ContainerFormat = "mkv"
	ContainerMP4 ContainerFormat = "mp4"
)

// Extension returns the file extension for the container.
func (f ContainerFormat) Extension() string {
	return string(f)
}

// RecordingSettings is the singleton recording configuration.
type RecordingSettings struct {
	Container          ContainerFormat `json:"container"`
	RotationMinutes     int             `json:"rotation_minutes"`
	Codec               string          `json:"codec"` // informational
	FragmentDurationMs  int             `json:"fragment_duration_ms"` // MP4 only
}

func DefaultRecordingSettings() RecordingSettings {
	return RecordingSettings{
		Container:          ContainerMKV,
		RotationMinutes:    60,
		Codec:              "h264",
		FragmentDurationMs: 1000,
	}
}

func (s RecordingSettings) Validate() error {
	switch s.Container {
	case ContainerMKV, ContainerMP4:
	default:
		return fmt.Errorf("recording: invalid container %q", s.Container)
	}
	if s.RotationMinutes < 1 {
		return fmt.Errorf("recording: rotation_minutes must be >= 1")
	}
	return nil
}

// CleanupPriority names which files a storage cleanup pass deletes first.
// Only oldest_first is implemented; largest_first falls back to it with a
// logged warning, see DESIGN.md.
type CleanupPriority string

const (
	CleanupOldestFirst CleanupPriority = "oldest_first"
	CleanupLargestFirst CleanupPriority = "largest_first"
)

// StorageSettings is the singleton storage configuration.
type StorageSettings struct {
	RecordingRoot         string          `json:"recording_root"`
	AutoCleanup           bool            `json:"auto_cleanup"`
	CleanupIntervalHours  int             `json:"cleanup_interval_hours"`
	CleanupOnStartup      bool            `json:"cleanup_on_startup"`
	MinFreeGB             float64         `json:"min_free_gb"`
	MinFreePercent        int             `json:"min_free_percent"`
	CleanupThresholdPct   int             `json:"cleanup_threshold_pct"`
	RetentionDays         int             `json:"retention_days"`
	DeleteBatchSize       int             `json:"delete_batch_size"`
	DeleteBatchDelayS     int             `json:"delete_batch_delay_s"`
	CleanupPriority       CleanupPriority `json:"cleanup_priority"`
}

func DefaultStorageSettings() StorageSettings {
	return StorageSettings{
		RecordingRoot:        "/var/lib/nvrengine/recordings",
		AutoCleanup:          true,
		CleanupIntervalHours: 6,
		CleanupOnStartup:     false,
		MinFreeGB:            2.0,
		MinFreePercent:       5,
		CleanupThresholdPct:  90,
		RetentionDays:        30,
		DeleteBatchSize:      50,
		DeleteBatchDelayS:    1,
		CleanupPriority:      CleanupOldestFirst,
	}
}

func (s StorageSettings) Validate() error {
	if s.RecordingRoot == "" {
		return fmt.Errorf("storage: recording_root must not be empty")
	}
	if s.MinFreeGB < 0 {
		return fmt.Errorf("storage: min_free_gb must be non-negative")
	}
	if s.MinFreePercent < 0 || s.MinFreePercent > 100 {
		return fmt.Errorf("storage: min_free_percent must be in [0,100]")
	}
	switch s.CleanupPriority {
	case CleanupOldestFirst, CleanupLargestFirst:
	default:
		return fmt.Errorf("storage: invalid cleanup_priority %q", s.CleanupPriority)
	}
	return nil
}

// Snapshot is an immutable, point-in-time view of everything the store
// holds. It is mutated only by the engine's save operations; readers
// observe one immutable snapshot between saves.
type Snapshot struct {
	Cameras   []CameraSpec
	Streaming StreamingSettings
	Recording RecordingSettings
	Storage   StorageSettings
}

// CameraByID looks up a camera within the snapshot by its stable key.
func (s Snapshot) CameraByID(id string) (CameraSpec, bool) {
	for _, c := range s.Cameras {
		if c.CameraID == id {
			return c, true
		}
	}
	return CameraSpec{}, false
}

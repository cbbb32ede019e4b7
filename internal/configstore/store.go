/*
Durable configuration store.

A relational store (embedded, single-process) for camera records and the
three singleton settings tables, persisted across restarts. Grounded on
internal/config.ConfigManager's atomic-snapshot and callback-fanout
discipline, with persistence swapped from YAML+Viper to an embedded SQLite
database (modernc.org/sqlite, pure Go, no cgo) the way ManuGH-xg2g's
internal/persistence/sqlite package opens its database: WAL journaling,
NORMAL synchronous, and a DSN-level busy_timeout.
*/

package configstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/logging"
)

const (
	schemaVersion = 1
	appName       = "nvrengine"
)

// StoreError is the structured error type for configuration-store failures,
// following internal/mediamtx/errors.go's Op+Message+Err shape.
type StoreError struct {
	Op      string
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configstore %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("configstore %s: %s", e.Op, e.Message)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Store is the durable, mutex-guarded configuration database. A process
// holds exactly one Store for its lifetime; Engine is its only mutator.
type Store struct {
	db     *sql.DB
	logger *logging.Logger

	mu       sync.RWMutex
	snapshot Snapshot

	subMu sync.Mutex
	subs  []func(Snapshot)
}

// Open opens (creating if necessary) the SQLite-backed configuration store
// at path, migrating a legacy JSON sidecar (path + ".json") into it in one
// transaction on first open if the database is otherwise empty, and loads
// the initial snapshot.
func Open(path string, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.NewLogger("configstore")
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &StoreError{Op: "open", Message: "failed to open database", Err: err}
	}
	db.SetMaxOpenConns(1) // single-writer process-wide discipline

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, &StoreError{Op: "open", Message: "ping failed", Err: err}
	}

	s := &Store{db: db, logger: logger}

	if err := s.migrateSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	empty, err := s.isEmpty()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if empty {
		if err := s.migrateJSONSidecar(path + ".json"); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	if err := s.reload(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrateSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS app (
			name TEXT NOT NULL, version TEXT NOT NULL, schema_version INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS streaming (
			singleton INTEGER PRIMARY KEY CHECK (singleton = 0),
			decoder_preference TEXT NOT NULL,
			hardware_accel INTEGER NOT NULL,
			rtsp_latency_ms INTEGER NOT NULL,
			tcp_timeout_ms INTEGER NOT NULL,
			keepalive_interval_s INTEGER NOT NULL,
			connection_timeout_s INTEGER NOT NULL,
			auto_reconnect INTEGER NOT NULL,
			max_reconnect_attempts INTEGER NOT NULL,
			reconnect_base_delay_s INTEGER NOT NULL,
			osd_show_name INTEGER NOT NULL,
			osd_show_timestamp INTEGER NOT NULL,
			osd_font TEXT,
			osd_text_color TEXT,
			osd_back_color TEXT,
			osd_alignment TEXT,
			osd_padding_px INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS recording (
			singleton INTEGER PRIMARY KEY CHECK (singleton = 0),
			container TEXT NOT NULL,
			rotation_minutes INTEGER NOT NULL,
			codec TEXT,
			fragment_duration_ms INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS storage (
			singleton INTEGER PRIMARY KEY CHECK (singleton = 0),
			recording_root TEXT NOT NULL,
			auto_cleanup INTEGER NOT NULL,
			cleanup_interval_hours INTEGER NOT NULL,
			cleanup_on_startup INTEGER NOT NULL,
			min_free_gb REAL NOT NULL,
			min_free_percent INTEGER NOT NULL,
			cleanup_threshold_pct INTEGER NOT NULL,
			retention_days INTEGER NOT NULL,
			delete_batch_size INTEGER NOT NULL,
			delete_batch_delay_s INTEGER NOT NULL,
			cleanup_priority TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cameras (
			camera_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			rtsp_url TEXT NOT NULL,
			enabled INTEGER NOT NULL,
			username TEXT,
			password TEXT,
			ptz_type TEXT,
			ptz_port INTEGER,
			ptz_channel INTEGER,
			display_order INTEGER NOT NULL,
			streaming_on_start INTEGER NOT NULL,
			recording_on_start INTEGER NOT NULL,
			video_transform_enabled INTEGER NOT NULL,
			video_transform_flip TEXT,
			video_transform_rotation INTEGER
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return &StoreError{Op: "migrate_schema", Message: stmt, Err: err}
		}
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM app`).Scan(&count); err != nil {
		return &StoreError{Op: "migrate_schema", Message: "count app rows", Err: err}
	}
	if count == 0 {
		if _, err := s.db.Exec(`INSERT INTO app (name, version, schema_version) VALUES (?, ?, ?)`,
			appName, "1.0.0", schemaVersion); err != nil {
			return &StoreError{Op: "migrate_schema", Message: "seed app row", Err: err}
		}
	}
	return nil
}

// isEmpty reports whether the database has never been seeded. It checks the
// streaming settings singleton rather than the cameras table: an operator
// deleting every camera via SaveCameras leaves cameras empty but must not
// cause the next Open to reseed (and so silently discard) saved streaming/
// recording/storage settings.
func (s *Store) isEmpty() (bool, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM streaming`).Scan(&count); err != nil {
		return false, &StoreError{Op: "is_empty", Message: "count streaming", Err: err}
	}
	return count == 0, nil
}

// jsonSidecar is the legacy on-disk shape migrated in one transaction.
type jsonSidecar struct {
	Cameras   []CameraSpec      `json:"cameras"`
	Streaming StreamingSettings `json:"streaming"`
	Recording RecordingSettings `json:"recording"`
	Storage   StorageSettings   `json:"storage"`
}

func (s *Store) migrateJSONSidecar(sidecarPath string) error {
	data, err := os.ReadFile(sidecarPath)
	if os.IsNotExist(err) {
		return s.seedDefaults()
	}
	if err != nil {
		return &StoreError{Op: "migrate_json", Message: "read sidecar", Err: err}
	}

	var sidecar jsonSidecar
	if err := json.Unmarshal(data, &sidecar); err != nil {
		return &StoreError{Op: "migrate_json", Message: "decode sidecar", Err: err}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return &StoreError{Op: "migrate_json", Message: "begin tx", Err: err}
	}
	defer tx.Rollback()

	if err := writeCamerasTx(tx, sidecar.Cameras); err != nil {
		return err
	}
	if err := writeStreamingTx(tx, sidecar.Streaming); err != nil {
		return err
	}
	if err := writeRecordingTx(tx, sidecar.Recording); err != nil {
		return err
	}
	if err := writeStorageTx(tx, sidecar.Storage); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return &StoreError{Op: "migrate_json", Message: "commit tx", Err: err}
	}

	backupPath := sidecarPath + ".backup"
	if err := os.Rename(sidecarPath, backupPath); err != nil {
		s.logger.WithError(err).Warn("failed to back up migrated JSON sidecar")
	}
	s.logger.WithFields(logging.Fields{"sidecar": sidecarPath, "backup": backupPath}).Info("migrated legacy JSON configuration into database")
	return nil
}

func (s *Store) seedDefaults() error {
	tx, err := s.db.Begin()
	if err != nil {
		return &StoreError{Op: "seed_defaults", Message: "begin tx", Err: err}
	}
	defer tx.Rollback()

	if err := writeStreamingTx(tx, DefaultStreamingSettings()); err != nil {
		return err
	}
	if err := writeRecordingTx(tx, DefaultRecordingSettings()); err != nil {
		return err
	}
	if err := writeStorageTx(tx, DefaultStorageSettings()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return &StoreError{Op: "seed_defaults", Message: "commit tx", Err: err}
	}
	return nil
}

func writeStreamingTx(tx *sql.Tx, v StreamingSettings) error {
	_, err := tx.Exec(`INSERT INTO streaming (
			singleton, decoder_preference, hardware_accel, rtsp_latency_ms, tcp_timeout_ms,
			keepalive_interval_s, connection_timeout_s, auto_reconnect, max_reconnect_attempts,
			reconnect_base_delay_s, osd_show_name, osd_show_timestamp, osd_font, osd_text_color,
			osd_back_color, osd_alignment, osd_padding_px
		) VALUES (0,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(singleton) DO UPDATE SET
			decoder_preference=excluded.decoder_preference, hardware_accel=excluded.hardware_accel,
			rtsp_latency_ms=excluded.rtsp_latency_ms, tcp_timeout_ms=excluded.tcp_timeout_ms,
			keepalive_interval_s=excluded.keepalive_interval_s, connection_timeout_s=excluded.connection_timeout_s,
			auto_reconnect=excluded.auto_reconnect, max_reconnect_attempts=excluded.max_reconnect_attempts,
			reconnect_base_delay_s=excluded.reconnect_base_delay_s, osd_show_name=excluded.osd_show_name,
			osd_show_timestamp=excluded.osd_show_timestamp, osd_font=excluded.osd_font,
			osd_text_color=excluded.osd_text_color, osd_back_color=excluded.osd_back_color,
			osd_alignment=excluded.osd_alignment, osd_padding_px=excluded.osd_padding_px`,
		strings.Join(v.DecoderPreference, ","), v.HardwareAccel, v.RTSPLatencyMs, v.TCPTimeoutMs,
		v.KeepaliveIntervalS, v.ConnectionTimeoutS, v.AutoReconnect, v.MaxReconnectAttempts,
		v.ReconnectBaseDelayS, v.OSD.ShowName, v.OSD.ShowTimestamp, v.OSD.Font, v.OSD.TextColor,
		v.OSD.BackColor, string(v.OSD.Alignment), v.OSD.PaddingPx,
	)
	if err != nil {
		return &StoreError{Op: "write_streaming", Err: err}
	}
	return nil
}

func readStreaming(db *sql.DB) (StreamingSettings, bool, error) {
	var v StreamingSettings
	var decoderPref, font, textColor, backColor, alignment sql.NullString
	row := db.QueryRow(`SELECT decoder_preference, hardware_accel, rtsp_latency_ms, tcp_timeout_ms,
		keepalive_interval_s, connection_timeout_s, auto_reconnect, max_reconnect_attempts,
		reconnect_base_delay_s, osd_show_name, osd_show_timestamp, osd_font, osd_text_color,
		osd_back_color, osd_alignment, osd_padding_px
		FROM streaming WHERE singleton = 0`)
	err := row.Scan(&decoderPref, &v.HardwareAccel, &v.RTSPLatencyMs, &v.TCPTimeoutMs,
		&v.KeepaliveIntervalS, &v.ConnectionTimeoutS, &v.AutoReconnect, &v.MaxReconnectAttempts,
		&v.ReconnectBaseDelayS, &v.OSD.ShowName, &v.OSD.ShowTimestamp, &font, &textColor,
		&backColor, &alignment, &v.OSD.PaddingPx)
	if err == sql.ErrNoRows {
		return v, false, nil
	}
	if err != nil {
		return v, false, &StoreError{Op: "read_streaming", Err: err}
	}
	if decoderPref.String != "" {
		v.DecoderPreference = strings.Split(decoderPref.String, ",")
	}
	v.OSD.Font = font.String
	v.OSD.TextColor = textColor.String
	v.OSD.BackColor = backColor.String
	v.OSD.Alignment = OSDAlignment(alignment.String)
	return v, true, nil
}

func writeRecordingTx(tx *sql.Tx, v RecordingSettings) error {
	_, err := tx.Exec(`INSERT INTO recording (singleton, container, rotation_minutes, codec, fragment_duration_ms)
		VALUES (0,?,?,?,?)
		ON CONFLICT(singleton) DO UPDATE SET
			container=excluded.container, rotation_minutes=excluded.rotation_minutes,
			codec=excluded.codec, fragment_duration_ms=excluded.fragment_duration_ms`,
		string(v.Container), v.RotationMinutes, v.Codec, v.FragmentDurationMs,
	)
	if err != nil {
		return &StoreError{Op: "write_recording", Err: err}
	}
	return nil
}

func readRecording(db *sql.DB) (RecordingSettings, bool, error) {
	var v RecordingSettings
	var container, codec sql.NullString
	row := db.QueryRow(`SELECT container, rotation_minutes, codec, fragment_duration_ms FROM recording WHERE singleton = 0`)
	err := row.Scan(&container, &v.RotationMinutes, &codec, &v.FragmentDurationMs)
	if err == sql.ErrNoRows {
		return v, false, nil
	}
	if err != nil {
		return v, false, &StoreError{Op: "read_recording", Err: err}
	}
	v.Container = ContainerFormat(container.String)
	v.Codec = codec.String
	return v, true, nil
}

func writeStorageTx(tx *sql.Tx, v StorageSettings) error {
	_, err := tx.Exec(`INSERT INTO storage (
			singleton, recording_root, auto_cleanup, cleanup_interval_hours, cleanup_on_startup,
			min_free_gb, min_free_percent, cleanup_threshold_pct, retention_days,
			delete_batch_size, delete_batch_delay_s, cleanup_priority
		) VALUES (0,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(singleton) DO UPDATE SET
			recording_root=excluded.recording_root, auto_cleanup=excluded.auto_cleanup,
			cleanup_interval_hours=excluded.cleanup_interval_hours, cleanup_on_startup=excluded.cleanup_on_startup,
			min_free_gb=excluded.min_free_gb, min_free_percent=excluded.min_free_percent,
			cleanup_threshold_pct=excluded.cleanup_threshold_pct, retention_days=excluded.retention_days,
			delete_batch_size=excluded.delete_batch_size, delete_batch_delay_s=excluded.delete_batch_delay_s,
			cleanup_priority=excluded.cleanup_priority`,
		v.RecordingRoot, v.AutoCleanup, v.CleanupIntervalHours, v.CleanupOnStartup,
		v.MinFreeGB, v.MinFreePercent, v.CleanupThresholdPct, v.RetentionDays,
		v.DeleteBatchSize, v.DeleteBatchDelayS, string(v.CleanupPriority),
	)
	if err != nil {
		return &StoreError{Op: "write_storage", Err: err}
	}
	return nil
}

func readStorage(db *sql.DB) (StorageSettings, bool, error) {
	var v StorageSettings
	var recordingRoot, cleanupPriority sql.NullString
	row := db.QueryRow(`SELECT recording_root, auto_cleanup, cleanup_interval_hours, cleanup_on_startup,
		min_free_gb, min_free_percent, cleanup_threshold_pct, retention_days,
		delete_batch_size, delete_batch_delay_s, cleanup_priority
		FROM storage WHERE singleton = 0`)
	err := row.Scan(&recordingRoot, &v.AutoCleanup, &v.CleanupIntervalHours, &v.CleanupOnStartup,
		&v.MinFreeGB, &v.MinFreePercent, &v.CleanupThresholdPct, &v.RetentionDays,
		&v.DeleteBatchSize, &v.DeleteBatchDelayS, &cleanupPriority)
	if err == sql.ErrNoRows {
		return v, false, nil
	}
	if err != nil {
		return v, false, &StoreError{Op: "read_storage", Err: err}
	}
	v.RecordingRoot = recordingRoot.String
	v.CleanupPriority = CleanupPriority(cleanupPriority.String)
	return v, true, nil
}

func writeCamerasTx(tx *sql.Tx, cameras []CameraSpec) error {
	if _, err := tx.Exec(`DELETE FROM cameras`); err != nil {
		return &StoreError{Op: "write_cameras", Message: "clear", Err: err}
	}
	for _, c := range cameras {
		if err := c.Validate(); err != nil {
			return &StoreError{Op: "write_cameras", Message: "validate", Err: err}
		}
		if _, err := tx.Exec(`INSERT INTO cameras (
			camera_id, name, rtsp_url, enabled, username, password,
			ptz_type, ptz_port, ptz_channel, display_order,
			streaming_on_start, recording_on_start,
			video_transform_enabled, video_transform_flip, video_transform_rotation
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			c.CameraID, c.Name, c.RTSPURL, c.Enabled, c.Username, c.Password,
			string(c.PTZ.Kind), c.PTZ.Port, c.PTZ.Channel, c.DisplayOrder,
			c.StreamingOnStart, c.RecordingOnStart,
			c.VideoTransform.Enabled, string(c.VideoTransform.Flip), c.VideoTransform.Rotation,
		); err != nil {
			return &StoreError{Op: "write_cameras", Message: c.CameraID, Err: err}
		}
	}
	return nil
}

func readCameras(db *sql.DB) ([]CameraSpec, error) {
	rows, err := db.Query(`SELECT camera_id, name, rtsp_url, enabled, username, password,
		ptz_type, ptz_port, ptz_channel, display_order,
		streaming_on_start, recording_on_start,
		video_transform_enabled, video_transform_flip, video_transform_rotation
		FROM cameras ORDER BY display_order ASC, camera_id ASC`)
	if err != nil {
		return nil, &StoreError{Op: "read_cameras", Message: "query", Err: err}
	}
	defer rows.Close()

	var out []CameraSpec
	for rows.Next() {
		var c CameraSpec
		var ptzType, flip sql.NullString
		if err := rows.Scan(&c.CameraID, &c.Name, &c.RTSPURL, &c.Enabled, &c.Username, &c.Password,
			&ptzType, &c.PTZ.Port, &c.PTZ.Channel, &c.DisplayOrder,
			&c.StreamingOnStart, &c.RecordingOnStart,
			&c.VideoTransform.Enabled, &flip, &c.VideoTransform.Rotation); err != nil {
			return nil, &StoreError{Op: "read_cameras", Message: "scan", Err: err}
		}
		c.PTZ.Kind = PTZKind(ptzType.String)
		c.VideoTransform.Flip = FlipMode(flip.String)
		out = append(out, c)
	}
	return out, rows.Err()
}

// reload re-reads the whole database into the in-memory snapshot. Callers
// must hold no locks; reload takes s.mu itself.
func (s *Store) reload() error {
	cameras, err := readCameras(s.db)
	if err != nil {
		return err
	}

	streaming, ok, err := readStreaming(s.db)
	if err != nil {
		return err
	}
	if !ok {
		streaming = DefaultStreamingSettings()
	}
	recording, ok, err := readRecording(s.db)
	if err != nil {
		return err
	}
	if !ok {
		recording = DefaultRecordingSettings()
	}
	storage, ok, err := readStorage(s.db)
	if err != nil {
		return err
	}
	if !ok {
		storage = DefaultStorageSettings()
	}

	snap := Snapshot{Cameras: cameras, Streaming: streaming, Recording: recording, Storage: storage}

	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()

	s.publish(snap)
	return nil
}

// Snapshot returns the current immutable view.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Subscribe registers a callback invoked with the new snapshot after every
// successful save. Subscribing does not replay the current snapshot; callers
// that need the starting point should call Snapshot() first.
func (s *Store) Subscribe(fn func(Snapshot)) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subs = append(s.subs, fn)
}

func (s *Store) publish(snap Snapshot) {
	s.subMu.Lock()
	subs := append([]func(Snapshot){}, s.subs...)
	s.subMu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}

// SaveCameras atomically replaces the full camera list, enforcing CameraID
// uniqueness, and commits in one transaction.
func (s *Store) SaveCameras(cameras []CameraSpec) error {
	seen := make(map[string]bool, len(cameras))
	ordered := append([]CameraSpec{}, cameras...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].DisplayOrder < ordered[j].DisplayOrder })
	for _, c := range ordered {
		if seen[c.CameraID] {
			return &StoreError{Op: "save_cameras", Message: fmt.Sprintf("duplicate camera_id %q", c.CameraID)}
		}
		seen[c.CameraID] = true
	}

	tx, err := s.db.Begin()
	if err != nil {
		return &StoreError{Op: "save_cameras", Message: "begin tx", Err: err}
	}
	defer tx.Rollback()

	if err := writeCamerasTx(tx, ordered); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return &StoreError{Op: "save_cameras", Message: "commit tx", Err: err}
	}
	return s.reload()
}

// SaveStreaming persists a new StreamingSettings singleton.
func (s *Store) SaveStreaming(v StreamingSettings) error {
	if err := v.Validate(); err != nil {
		return &StoreError{Op: "save_streaming", Err: err}
	}
	tx, err := s.db.Begin()
	if err != nil {
		return &StoreError{Op: "save_streaming", Message: "begin tx", Err: err}
	}
	defer tx.Rollback()
	if err := writeStreamingTx(tx, v); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return &StoreError{Op: "save_streaming", Message: "commit tx", Err: err}
	}
	return s.reload()
}

// SaveRecording persists a new RecordingSettings singleton.
func (s *Store) SaveRecording(v RecordingSettings) error {
	if err := v.Validate(); err != nil {
		return &StoreError{Op: "save_recording", Err: err}
	}
	tx, err := s.db.Begin()
	if err != nil {
		return &StoreError{Op: "save_recording", Message: "begin tx", Err: err}
	}
	defer tx.Rollback()
	if err := writeRecordingTx(tx, v); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return &StoreError{Op: "save_recording", Message: "commit tx", Err: err}
	}
	return s.reload()
}

// SaveStorage persists a new StorageSettings singleton.
func (s *Store) SaveStorage(v StorageSettings) error {
	if err := v.Validate(); err != nil {
		return &StoreError{Op: "save_storage", Err: err}
	}
	tx, err := s.db.Begin()
	if err != nil {
		return &StoreError{Op: "save_storage", Message: "begin tx", Err: err}
	}
	defer tx.Rollback()
	if err := writeStorageTx(tx, v); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return &StoreError{Op: "save_storage", Message: "commit tx", Err: err}
	}
	return s.reload()
}

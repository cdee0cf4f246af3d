package webmonitor

import (
	"bytes"
	"image/jpeg"
	"sync"
	"time"

	"github.com/dj-oyu/traffic-sign-alert/internal/logger"
	"github.com/dj-oyu/traffic-sign-alert/internal/pipeline"
)

// Monitor is the browser-facing presenter. It keeps the latest display frame
// and detection history and pushes both to the broadcasters.
type Monitor struct {
	cfg Config

	frames     *FrameBroadcaster
	detections *DetectionBroadcaster
	idleJPEG   []byte

	mu               sync.Mutex
	framesPublished  int
	detectionVersion int
	fps              float64
	lastPublish      time.Time
	latestJPEG       []byte
	latestDetection  *DetectionResult
	detectionHistory []DetectionResult
}

// NewMonitor creates an idle monitor
func NewMonitor(cfg Config) *Monitor {
	cfg = cfg.withDefaults()
	idle, err := placeholderJPEG(cfg.IdleWidth, cfg.IdleHeight, "No active session")
	if err != nil {
		logger.Warn("Monitor", "Rendering idle frame: %v", err)
	}
	m := &Monitor{
		cfg:      cfg,
		idleJPEG: idle,
	}
	m.frames = NewFrameBroadcaster(m.LatestJPEG)
	m.detections = NewDetectionBroadcaster()
	return m
}

// Publish implements pipeline.Presenter
func (m *Monitor) Publish(u pipeline.Update) {
	img, err := u.Frame.Image()
	if err != nil {
		logger.Warn("Monitor", "Dropping frame #%d: %v", u.Index, err)
		return
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: m.cfg.JPEGQuality}); err != nil {
		logger.Warn("Monitor", "JPEG encode failed for frame #%d: %v", u.Index, err)
		return
	}
	jpegData := buf.Bytes()

	m.mu.Lock()
	m.framesPublished++
	if !m.lastPublish.IsZero() {
		if dt := u.At.Sub(m.lastPublish).Seconds(); dt > 0 {
			m.fps = 0.8*m.fps + 0.2*(1/dt)
		}
	}
	m.lastPublish = u.At

	m.detectionVersion++
	result := DetectionResult{
		FrameNumber:   u.Index,
		Timestamp:     float64(u.At.UnixNano()) / 1e9,
		NumDetections: len(u.Detections),
		Version:       m.detectionVersion,
		Source:        u.Kind.String(),
		LabelText:     u.Text,
		Spoken:        u.Spoken,
		Detections:    convertReportable(u.Detections),
	}
	m.latestJPEG = jpegData
	m.latestDetection = &result
	if result.NumDetections > 0 {
		m.detectionHistory = append([]DetectionResult{result}, m.detectionHistory...)
		if len(m.detectionHistory) > m.cfg.HistorySize {
			m.detectionHistory = m.detectionHistory[:m.cfg.HistorySize]
		}
	}
	m.mu.Unlock()

	m.frames.broadcast(jpegData)
	m.detections.publish(result)
}

// Idle implements pipeline.Presenter
func (m *Monitor) Idle() {
	m.mu.Lock()
	m.latestJPEG = nil
	m.latestDetection = nil
	m.fps = 0
	m.lastPublish = time.Time{}
	m.mu.Unlock()

	logger.Debug("Monitor", "Display idle")
	if m.idleJPEG != nil {
		m.frames.broadcast(m.idleJPEG)
	}
	m.detections.publishIdle()
}

// LatestJPEG returns the current display frame, or the idle placeholder
func (m *Monitor) LatestJPEG() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latestJPEG != nil {
		return m.latestJPEG
	}
	return m.idleJPEG
}

// Snapshot returns the monitor stats, label text, latest result and history.
func (m *Monitor) Snapshot() (MonitorStats, string, *DetectionResult, []DetectionResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := MonitorStats{
		FramesPublished: m.framesPublished,
		CurrentFPS:      m.fps,
		Idle:            m.latestJPEG == nil,
	}

	var latest *DetectionResult
	labelText := ""
	if m.latestDetection != nil {
		stats.DetectionCount = m.latestDetection.NumDetections
		labelText = m.latestDetection.LabelText
		cp := *m.latestDetection
		latest = &cp
	}

	historyCopy := make([]DetectionResult, len(m.detectionHistory))
	copy(historyCopy, m.detectionHistory)

	return stats, labelText, latest, historyCopy
}

// Frames returns the MJPEG broadcaster
func (m *Monitor) Frames() *FrameBroadcaster {
	return m.frames
}

// Detections returns the detection event broadcaster
func (m *Monitor) Detections() *DetectionBroadcaster {
	return m.detections
}

// Close disconnects all stream clients
func (m *Monitor) Close() {
	m.frames.Stop()
	m.detections.Stop()
}

package webmonitor

import (
	"github.com/dj-oyu/traffic-sign-alert/internal/filter"
)

// BoundingBox is the JSON box shape used by the monitor APIs
type BoundingBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Detection is one reportable detection as seen by browser clients
type Detection struct {
	ClassID    int         `json:"class_id"`
	ClassName  string      `json:"class_name"`
	Confidence float64     `json:"confidence"`
	BBox       BoundingBox `json:"bbox"`
}

// DetectionResult is the monitor's record of one published frame
type DetectionResult struct {
	FrameNumber   uint64      `json:"frame_number"`
	Timestamp     float64     `json:"timestamp"`
	NumDetections int         `json:"num_detections"`
	Version       int         `json:"version"`
	Source        string      `json:"source"`
	LabelText     string      `json:"label_text"`
	Spoken        string      `json:"spoken,omitempty"`
	Detections    []Detection `json:"detections"`
}

// MonitorStats summarizes what the monitor has displayed
type MonitorStats struct {
	FramesPublished int     `json:"frames_published"`
	CurrentFPS      float64 `json:"current_fps"`
	DetectionCount  int     `json:"detection_count"`
	Idle            bool    `json:"idle"`
}

func convertReportable(rs []filter.Reportable) []Detection {
	out := make([]Detection, len(rs))
	for i, r := range rs {
		rect := r.Box.Rect()
		out[i] = Detection{
			ClassID:    r.ClassID,
			ClassName:  r.Label,
			Confidence: r.Confidence,
			BBox:       BoundingBox{X: rect.Min.X, Y: rect.Min.Y, W: rect.Dx(), H: rect.Dy()},
		}
	}
	return out
}

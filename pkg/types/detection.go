package types

import (
	"fmt"
	"image"
	"math"
)

// Box is an axis-aligned bounding box in pixel coordinates
type Box struct {
	XMin float64 `json:"x_min"`
	YMin float64 `json:"y_min"`
	XMax float64 `json:"x_max"`
	YMax float64 `json:"y_max"`
}

// Rect rounds the box to integer pixel coordinates
func (b Box) Rect() image.Rectangle {
	return image.Rect(
		int(math.Round(b.XMin)), int(math.Round(b.YMin)),
		int(math.Round(b.XMax)), int(math.Round(b.YMax)),
	)
}

// Detection is one candidate object produced by the detector for a frame
type Detection struct {
	ClassID    int     `json:"class_id"`
	Confidence float64 `json:"confidence"` // 0-100
	Box        Box     `json:"box"`
}

// SourceKind identifies where frames come from
type SourceKind int

const (
	SourceImage SourceKind = iota
	SourceVideo
	SourceCamera
)

var sourceKindNames = map[SourceKind]string{
	SourceImage:  "image",
	SourceVideo:  "video",
	SourceCamera: "camera",
}

// String returns the lowercase name of the source kind
func (k SourceKind) String() string {
	if name, ok := sourceKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Streaming reports whether the source produces more than one frame
func (k SourceKind) Streaming() bool {
	return k != SourceImage
}

// ParseSourceKind parses a source kind name
func ParseSourceKind(s string) (SourceKind, error) {
	switch s {
	case "image", "still":
		return SourceImage, nil
	case "video", "file":
		return SourceVideo, nil
	case "camera", "webcam":
		return SourceCamera, nil
	default:
		return SourceImage, fmt.Errorf("invalid source kind: %s", s)
	}
}

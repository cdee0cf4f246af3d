// Package detect defines the object-detector boundary and its adapters.
package detect

import (
	"context"

	"github.com/pkg/errors"

	"github.com/dj-oyu/traffic-sign-alert/pkg/types"
)

// ErrModelUnavailable means the detector cannot serve inference at all.
// A session cannot start, or must stop, when it sees this error.
var ErrModelUnavailable = errors.New("detection model unavailable")

// Detector returns the raw detections for one RGB frame.
// Confidence is on a 0-100 scale and boxes are in frame pixel coordinates.
type Detector interface {
	Detect(ctx context.Context, frame types.Frame) ([]types.Detection, error)
}

// DetectorFunc adapts a plain function to the Detector interface
type DetectorFunc func(ctx context.Context, frame types.Frame) ([]types.Detection, error)

// Detect calls f
func (f DetectorFunc) Detect(ctx context.Context, frame types.Frame) ([]types.Detection, error) {
	return f(ctx, frame)
}

// Closer is implemented by detectors that hold resources
type Closer interface {
	Close() error
}

// Close releases d if it holds resources
func Close(d Detector) error {
	if c, ok := d.(Closer); ok {
		return c.Close()
	}
	return nil
}

package source

import (
	"context"

	"github.com/dj-oyu/traffic-sign-alert/internal/metrics"
	"github.com/dj-oyu/traffic-sign-alert/pkg/types"
)

// Skipper forwards only every nth frame pulled from the wrapped source.
// Counting is 1-based: pulls n, 2n, 3n... are forwarded.
type Skipper struct {
	src     Source
	n       int
	pulled  uint64
	metrics *metrics.Metrics
}

// NewSkipper wraps src. n <= 1 forwards every frame. m may be nil.
func NewSkipper(src Source, n int, m *metrics.Metrics) *Skipper {
	if n < 1 {
		n = 1
	}
	return &Skipper{src: src, n: n, metrics: m}
}

// Next implements Source
func (s *Skipper) Next(ctx context.Context) (types.Frame, error) {
	for {
		frame, err := s.src.Next(ctx)
		if err != nil {
			return types.Frame{}, err
		}
		s.pulled++
		if s.pulled%uint64(s.n) == 0 {
			return frame, nil
		}
		if s.metrics != nil {
			s.metrics.FramesSkipped.Add(1)
		}
	}
}

// Kind implements Source
func (s *Skipper) Kind() types.SourceKind {
	return s.src.Kind()
}

// Close implements Source
func (s *Skipper) Close() error {
	return s.src.Close()
}

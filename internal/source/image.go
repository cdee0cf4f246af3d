package source

import (
	"context"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/dj-oyu/traffic-sign-alert/internal/logger"
	"github.com/dj-oyu/traffic-sign-alert/pkg/types"
)

// ImageSource yields a single decoded still image
type ImageSource struct {
	path  string
	frame types.Frame

	mu     sync.Mutex
	served bool
	closed bool
	once   sync.Once
}

// OpenImage decodes path, applying EXIF orientation
func OpenImage(path string) (*ImageSource, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, unreadable(err, "open image %s", path)
	}

	frame := types.FrameFromImage(img)
	frame.Index = 1
	frame.Timestamp = time.Now()
	logger.Debug("Source", "Loaded image %s (%dx%d)", path, frame.Width, frame.Height)
	return &ImageSource{path: path, frame: frame}, nil
}

// Next returns the image once, then ErrSourceExhausted
func (s *ImageSource) Next(ctx context.Context) (types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return types.Frame{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.served || s.closed {
		return types.Frame{}, ErrSourceExhausted
	}
	s.served = true
	return s.frame.Clone(), nil
}

// Kind implements Source
func (s *ImageSource) Kind() types.SourceKind {
	return types.SourceImage
}

// Close implements Source
func (s *ImageSource) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.frame = types.Frame{}
		s.mu.Unlock()
	})
	return nil
}

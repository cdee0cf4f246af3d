// Package source produces frames from still images, video files and cameras.
package source

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/dj-oyu/traffic-sign-alert/internal/metrics"
	"github.com/dj-oyu/traffic-sign-alert/pkg/types"
)

var (
	// ErrSourceExhausted is the normal end of a source
	ErrSourceExhausted = errors.New("source exhausted")
	// ErrSourceUnreadable means the source could not be opened or decoded
	ErrSourceUnreadable = errors.New("source unreadable")
)

// Source yields frames in order until exhausted
type Source interface {
	// Next blocks until a frame is available. It returns ErrSourceExhausted
	// once no more frames will be produced.
	Next(ctx context.Context) (types.Frame, error)
	Kind() types.SourceKind
	// Close releases the capture resource. It is safe to call more than once.
	Close() error
}

// Spec selects a source
type Spec struct {
	Kind types.SourceKind
	Path string // File path, or camera device override
}

// Options configures how sources are opened
type Options struct {
	CameraDevice    string // e.g. /dev/video0
	CameraFormat    string // ffmpeg input format, e.g. v4l2
	CameraWidth     int
	CameraHeight    int
	CameraFrameRate int
	FrameSkip       int  // Forward every Nth frame of a camera stream
	SkipVideo       bool // Apply FrameSkip to video files too
	Metrics         *metrics.Metrics // Optional pull/skip counters
}

// DefaultOptions returns the defaults for a typical USB webcam
func DefaultOptions() Options {
	return Options{
		CameraDevice:    "/dev/video0",
		CameraFormat:    "v4l2",
		CameraWidth:     640,
		CameraHeight:    480,
		CameraFrameRate: 30,
		FrameSkip:       10,
	}
}

// KindForPath picks image or video from a file extension
func KindForPath(path string) types.SourceKind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg":
		return types.SourceImage
	default:
		return types.SourceVideo
	}
}

// Open opens the source described by spec. Failures wrap ErrSourceUnreadable.
// ctx bounds the lifetime of any capture process.
func Open(ctx context.Context, spec Spec, opts Options) (Source, error) {
	switch spec.Kind {
	case types.SourceImage:
		src, err := OpenImage(spec.Path)
		if err != nil {
			return nil, err
		}
		return src, nil
	case types.SourceVideo:
		src, err := OpenVideo(ctx, spec.Path, opts)
		if err != nil {
			return nil, err
		}
		if opts.SkipVideo {
			return NewSkipper(src, opts.FrameSkip, opts.Metrics), nil
		}
		return src, nil
	case types.SourceCamera:
		device := opts.CameraDevice
		if spec.Path != "" {
			device = spec.Path
		}
		src, err := OpenCamera(ctx, device, opts)
		if err != nil {
			return nil, err
		}
		return NewSkipper(src, opts.FrameSkip, opts.Metrics), nil
	default:
		return nil, errors.Wrapf(ErrSourceUnreadable, "unknown source kind %d", spec.Kind)
	}
}

func unreadable(err error, format string, args ...interface{}) error {
	return errors.Wrapf(ErrSourceUnreadable, "%s: %v", fmt.Sprintf(format, args...), err)
}

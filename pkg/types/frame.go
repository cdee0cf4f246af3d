package types

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"time"
)

// ErrMalformedFrame is returned when a frame's buffer does not match its declared geometry.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is a rectangular pixel buffer pulled from a source
type Frame struct {
	Pix       []byte    // Interleaved pixels, row-major, Channels bytes per pixel
	Width     int       // Frame width
	Height    int       // Frame height
	Channels  int       // 3 (RGB) or 4 (RGBA)
	Index     uint64    // Sequential frame number within the session (1-based)
	Timestamp time.Time // Capture timestamp
}

// Validate checks the frame geometry against its buffer
func (f Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: invalid size %dx%d", ErrMalformedFrame, f.Width, f.Height)
	}
	if f.Channels != 3 && f.Channels != 4 {
		return fmt.Errorf("%w: unsupported channel count %d", ErrMalformedFrame, f.Channels)
	}
	if want := f.Width * f.Height * f.Channels; len(f.Pix) != want {
		return fmt.Errorf("%w: buffer has %d bytes, want %d", ErrMalformedFrame, len(f.Pix), want)
	}
	return nil
}

// ToRGB returns a 3-channel copy of the frame. 4-channel frames drop their alpha channel.
func (f Frame) ToRGB() (Frame, error) {
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}

	out := f
	if f.Channels == 3 {
		out.Pix = append([]byte(nil), f.Pix...)
		return out, nil
	}

	out.Channels = 3
	out.Pix = make([]byte, f.Width*f.Height*3)
	for src, dst := 0, 0; src < len(f.Pix); src, dst = src+4, dst+3 {
		out.Pix[dst] = f.Pix[src]
		out.Pix[dst+1] = f.Pix[src+1]
		out.Pix[dst+2] = f.Pix[src+2]
	}
	return out, nil
}

// Clone returns a deep copy of the frame
func (f Frame) Clone() Frame {
	out := f
	out.Pix = append([]byte(nil), f.Pix...)
	return out
}

// Image converts the frame to an opaque RGBA image for drawing and encoding
func (f Frame) Image() (*image.RGBA, error) {
	rgb, err := f.ToRGB()
	if err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, rgb.Width, rgb.Height))
	for src, dst := 0, 0; src < len(rgb.Pix); src, dst = src+3, dst+4 {
		img.Pix[dst] = rgb.Pix[src]
		img.Pix[dst+1] = rgb.Pix[src+1]
		img.Pix[dst+2] = rgb.Pix[src+2]
		img.Pix[dst+3] = 0xff
	}
	return img, nil
}

// FrameFromImage builds a 4-channel frame from any image.Image
func FrameFromImage(img image.Image) Frame {
	b := img.Bounds()
	nrgba, ok := img.(*image.NRGBA)
	if !ok || b.Min != (image.Point{}) || nrgba.Stride != b.Dx()*4 {
		nrgba = image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(nrgba, nrgba.Bounds(), img, b.Min, draw.Src)
	}

	return Frame{
		Pix:      append([]byte(nil), nrgba.Pix...),
		Width:    b.Dx(),
		Height:   b.Dy(),
		Channels: 4,
	}
}

// FrameFromRGB wraps an rgb24 buffer without copying
func FrameFromRGB(pix []byte, width, height int) Frame {
	return Frame{Pix: pix, Width: width, Height: height, Channels: 3}
}

// At returns the pixel at (x, y) as an opaque color
func (f Frame) At(x, y int) color.RGBA {
	i := (y*f.Width + x) * f.Channels
	return color.RGBA{R: f.Pix[i], G: f.Pix[i+1], B: f.Pix[i+2], A: 0xff}
}

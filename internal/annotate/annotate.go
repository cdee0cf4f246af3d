// Package annotate draws reportable detections onto frames for display.
package annotate

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/dj-oyu/traffic-sign-alert/internal/filter"
	"github.com/dj-oyu/traffic-sign-alert/pkg/types"
)

// Style controls stroke and text size
type Style struct {
	Thickness float64
	FontScale float64
}

var (
	// ImageStyle is used for still images
	ImageStyle = Style{Thickness: 2, FontScale: 1}
	// StreamStyle is used for video and camera frames
	StreamStyle = Style{Thickness: 1, FontScale: 0.5}
)

// StyleFor returns the style matching a source kind
func StyleFor(kind types.SourceKind) Style {
	if kind.Streaming() {
		return StreamStyle
	}
	return ImageStyle
}

const basePointSize = 24

var (
	boxColor   = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	plateColor = color.RGBA{R: 0, G: 0, B: 0, A: 200}
	textColor  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

var font *truetype.Font

func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Label formats the on-frame text for a detection
func Label(r filter.Reportable) string {
	return fmt.Sprintf("%s: %.2f%%", r.Label, r.Confidence)
}

// Annotate returns a new RGB frame with a rectangle and label per detection.
// The input frame is never modified. With no detections the result is a
// pixel-identical RGB copy.
func Annotate(frame types.Frame, rs []filter.Reportable, style Style) (types.Frame, error) {
	if len(rs) == 0 {
		return frame.ToRGB()
	}

	img, err := frame.Image()
	if err != nil {
		return types.Frame{}, err
	}

	dc := gg.NewContextForRGBA(img)
	dc.SetFontFace(truetype.NewFace(font, &truetype.Options{Size: basePointSize * style.FontScale}))

	for _, r := range rs {
		rect := r.Box.Rect().Intersect(img.Bounds())
		if rect.Empty() {
			continue
		}
		drawBox(dc, rect, style.Thickness)
		drawLabel(dc, Label(r), rect, style)
	}

	out := fromRGBA(img)
	out.Index = frame.Index
	out.Timestamp = frame.Timestamp
	return out, nil
}

func drawBox(dc *gg.Context, r image.Rectangle, width float64) {
	dc.SetColor(boxColor)
	dc.SetLineWidth(width)
	dc.DrawRectangle(float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy()))
	dc.Stroke()
}

// drawLabel places text above the box, or below it when there is no room
func drawLabel(dc *gg.Context, text string, r image.Rectangle, style Style) {
	tw, th := dc.MeasureString(text)
	pad := 2 * style.FontScale
	plateH := th + 2*pad

	x := float64(r.Min.X)
	y := float64(r.Min.Y) - plateH - style.Thickness
	if y < 0 {
		y = float64(r.Max.Y) + style.Thickness
	}

	dc.SetColor(plateColor)
	dc.DrawRectangle(x, y, tw+2*pad, plateH)
	dc.Fill()

	dc.SetColor(textColor)
	dc.DrawStringAnchored(text, x+pad, y+pad, 0, 1)
}

// Fit scales the frame to fit within width x height, preserving aspect ratio
func Fit(frame types.Frame, width, height int) (types.Frame, error) {
	if width <= 0 || height <= 0 {
		return types.Frame{}, fmt.Errorf("invalid display size %dx%d", width, height)
	}
	img, err := frame.Image()
	if err != nil {
		return types.Frame{}, err
	}

	sw, sh := float64(frame.Width), float64(frame.Height)
	scale := min(float64(width)/sw, float64(height)/sh)
	w := max(1, int(sw*scale+0.5))
	h := max(1, int(sh*scale+0.5))

	var out types.Frame
	if w == frame.Width && h == frame.Height {
		out = fromRGBA(img)
	} else {
		out = types.FrameFromImage(imaging.Resize(img, w, h, imaging.Lanczos))
		if out, err = out.ToRGB(); err != nil {
			return types.Frame{}, err
		}
	}
	out.Index = frame.Index
	out.Timestamp = frame.Timestamp
	return out, nil
}

func fromRGBA(img *image.RGBA) types.Frame {
	b := img.Bounds()
	pix := make([]byte, 0, b.Dx()*b.Dy()*3)
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+b.Dx()*4]
		for i := 0; i < len(row); i += 4 {
			pix = append(pix, row[i], row[i+1], row[i+2])
		}
	}
	return types.FrameFromRGB(pix, b.Dx(), b.Dy())
}

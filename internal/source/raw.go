package source

import (
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/dj-oyu/traffic-sign-alert/pkg/types"
)

// rawReader splits an rgb24 byte stream into fixed-size frames
type rawReader struct {
	r      io.Reader
	width  int
	height int
	index  uint64
}

func newRawReader(r io.Reader, width, height int) *rawReader {
	return &rawReader{r: r, width: width, height: height}
}

func (rr *rawReader) frameSize() int {
	return rr.width * rr.height * 3
}

// next reads exactly one frame. A clean or truncated end of stream is
// ErrSourceExhausted; any other read failure is ErrSourceUnreadable.
func (rr *rawReader) next() (types.Frame, error) {
	buf := make([]byte, rr.frameSize())
	if _, err := io.ReadFull(rr.r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return types.Frame{}, ErrSourceExhausted
		}
		return types.Frame{}, errors.Wrap(ErrSourceUnreadable, err.Error())
	}

	rr.index++
	frame := types.FrameFromRGB(buf, rr.width, rr.height)
	frame.Index = rr.index
	frame.Timestamp = time.Now()
	return frame, nil
}

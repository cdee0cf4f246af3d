package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/dj-oyu/traffic-sign-alert/internal/logger"
	"github.com/dj-oyu/traffic-sign-alert/pkg/types"
)

// FFmpegSource decodes a video file or camera with an ffmpeg child process
// writing rgb24 frames to a pipe.
type FFmpegSource struct {
	kind   types.SourceKind
	name   string
	width  int
	height int

	pr  *io.PipeReader
	raw *rawReader

	cancel context.CancelFunc
	done   chan struct{}
	stderr tailBuffer
	runErr error

	closed atomic.Bool
	once   sync.Once
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

// OpenVideo probes path for its frame size and starts decoding it
func OpenVideo(ctx context.Context, path string, opts Options) (*FFmpegSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, unreadable(err, "open video %s", path)
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, unreadable(err, "open video %s", path)
	}

	width, height, err := probeSize(path)
	if err != nil {
		return nil, unreadable(err, "probe video %s", path)
	}

	input := ffmpeg.Input(path, ffmpeg.KwArgs{"loglevel": "error"})
	return start(ctx, types.SourceVideo, path, input, width, height), nil
}

// OpenCamera starts capturing from a video device
func OpenCamera(ctx context.Context, device string, opts Options) (*FFmpegSource, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, unreadable(err, "open camera %s", device)
	}
	if strings.HasPrefix(device, "/dev/") {
		if _, err := os.Stat(device); err != nil {
			return nil, unreadable(err, "open camera %s", device)
		}
	}
	if opts.CameraWidth <= 0 || opts.CameraHeight <= 0 {
		return nil, unreadable(fmt.Errorf("invalid size %dx%d", opts.CameraWidth, opts.CameraHeight), "open camera %s", device)
	}

	kw := ffmpeg.KwArgs{
		"loglevel":   "error",
		"video_size": fmt.Sprintf("%dx%d", opts.CameraWidth, opts.CameraHeight),
	}
	if opts.CameraFormat != "" {
		kw["f"] = opts.CameraFormat
	}
	if opts.CameraFrameRate > 0 {
		kw["framerate"] = opts.CameraFrameRate
	}

	input := ffmpeg.Input(device, kw)
	return start(ctx, types.SourceCamera, device, input, opts.CameraWidth, opts.CameraHeight), nil
}

func probeSize(path string) (int, int, error) {
	out, err := ffmpeg.Probe(path)
	if err != nil {
		return 0, 0, err
	}

	var probe probeOutput
	if err := json.Unmarshal([]byte(out), &probe); err != nil {
		return 0, 0, errors.Wrap(err, "decode ffprobe output")
	}
	for _, s := range probe.Streams {
		if s.CodecType == "video" && s.Width > 0 && s.Height > 0 {
			return s.Width, s.Height, nil
		}
	}
	return 0, 0, errors.New("no video stream")
}

func start(ctx context.Context, kind types.SourceKind, name string, input *ffmpeg.Stream, width, height int) *FFmpegSource {
	runCtx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()

	s := &FFmpegSource{
		kind:   kind,
		name:   name,
		width:  width,
		height: height,
		pr:     pr,
		raw:    newRawReader(pr, width, height),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	stream := input.Output("pipe:", ffmpeg.KwArgs{
		"format":  "rawvideo",
		"pix_fmt": "rgb24",
		"s":       fmt.Sprintf("%dx%d", width, height),
	})
	stream.Context = runCtx

	go func() {
		defer close(s.done)
		err := stream.WithOutput(pw).WithErrorOutput(&s.stderr).Run()
		if err != nil && !s.closed.Load() {
			err = errors.Wrapf(err, "ffmpeg %s: %s", name, s.stderr.String())
			s.runErr = err
		}
		_ = pw.CloseWithError(s.runErr)
	}()

	logger.Info("Source", "Started %s decoder for %s (%dx%d)", kind, name, width, height)
	return s
}

// Next implements Source. Cancelling ctx stops the decoder.
func (s *FFmpegSource) Next(ctx context.Context) (types.Frame, error) {
	if s.closed.Load() {
		return types.Frame{}, ErrSourceExhausted
	}

	stop := context.AfterFunc(ctx, func() {
		_ = s.pr.CloseWithError(ctx.Err())
	})
	defer stop()

	frame, err := s.raw.next()
	if err == nil {
		return frame, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return types.Frame{}, ctxErr
	}
	if s.closed.Load() {
		return types.Frame{}, ErrSourceExhausted
	}
	return types.Frame{}, err
}

// Kind implements Source
func (s *FFmpegSource) Kind() types.SourceKind {
	return s.kind
}

// Size returns the decoded frame size
func (s *FFmpegSource) Size() (int, int) {
	return s.width, s.height
}

// Close stops ffmpeg and waits for it to exit
func (s *FFmpegSource) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		s.cancel()
		_ = s.pr.Close()
		<-s.done
		logger.Info("Source", "Closed %s decoder for %s", s.kind, s.name)
	})
	return nil
}

const tailSize = 2048

// tailBuffer keeps the last bytes written to it
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > tailSize {
		t.buf = t.buf[len(t.buf)-tailSize:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}

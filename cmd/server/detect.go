package main

import (
	"context"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/dj-oyu/traffic-sign-alert/internal/logger"
	"github.com/dj-oyu/traffic-sign-alert/internal/metrics"
	"github.com/dj-oyu/traffic-sign-alert/internal/pipeline"
	"github.com/dj-oyu/traffic-sign-alert/internal/source"
	"github.com/dj-oyu/traffic-sign-alert/pkg/types"
)

func newDetectCommand(a *app) *cobra.Command {
	var (
		camera bool
		out    string
	)
	cmd := &cobra.Command{
		Use:   "detect [path]",
		Short: "Run one headless session and log the detections",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, ok := specFromArgs(args, camera)
			if !ok {
				return errors.New("need an image or video path, or --camera")
			}
			return a.detect(cmd.Context(), spec, out)
		},
	}
	cmd.Flags().BoolVar(&camera, "camera", false, "Read from the camera instead of a file")
	cmd.Flags().StringVar(&out, "out", "", "Write the last annotated frame to this file (.jpg or .png)")
	return cmd
}

// specFromArgs picks the session source. --camera wins; a path argument overrides the camera device.
func specFromArgs(args []string, camera bool) (source.Spec, bool) {
	switch {
	case camera:
		spec := source.Spec{Kind: types.SourceCamera}
		if len(args) == 1 {
			spec.Path = args[0]
		}
		return spec, true
	case len(args) == 1:
		return source.Spec{Kind: source.KindForPath(args[0]), Path: args[0]}, true
	default:
		return source.Spec{}, false
	}
}

func (a *app) detect(parent context.Context, spec source.Spec, out string) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	sp, closeSpeaker := newSpeaker(a.cfg, m)
	console := &consolePresenter{}
	ctrl := newController(ctx, a.cfg, m, sp, console)

	if err := ctrl.Start(ctx, spec); err != nil {
		_ = closeSpeaker()
		return err
	}
	if err := ctrl.Wait(ctx); err != nil {
		ctrl.Stop()
	}
	if err := closeSpeaker(); err != nil {
		logger.Warn("Main", "Closing speaker: %v", err)
	}

	if out != "" {
		if err := console.save(out); err != nil {
			return err
		}
		logger.Info("Main", "Wrote %s", out)
	}

	st := ctrl.Status()
	logger.Info("Main", "Processed %d frames, %d alerts spoken", st.Frames, m.AlertsSpoken.Load())
	if st.State == pipeline.StateFailed {
		return errors.New(st.LastError)
	}
	return nil
}

// consolePresenter logs the label summary of each frame and keeps the last display frame
type consolePresenter struct {
	mu   sync.Mutex
	last *types.Frame
}

func (c *consolePresenter) Publish(u pipeline.Update) {
	text := strings.ReplaceAll(u.Text, "\n", "; ")
	if u.Spoken != "" {
		logger.Info("Detect", "[%s #%d] %s (spoken: %s)", u.Kind, u.Index, text, u.Spoken)
	} else {
		logger.Info("Detect", "[%s #%d] %s", u.Kind, u.Index, text)
	}

	c.mu.Lock()
	frame := u.Frame
	c.last = &frame
	c.mu.Unlock()
}

func (c *consolePresenter) Idle() {
	logger.Debug("Detect", "Session idle")
}

func (c *consolePresenter) save(path string) error {
	c.mu.Lock()
	last := c.last
	c.mu.Unlock()
	if last == nil {
		return errors.New("no frame was processed")
	}

	img, err := last.Image()
	if err != nil {
		return err
	}
	return errors.Wrapf(imaging.Save(img, path), "writing %s", path)
}

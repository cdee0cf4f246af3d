// Package pipeline runs frames through detection, filtering, annotation and alerting.
package pipeline

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/dj-oyu/traffic-sign-alert/internal/alert"
	"github.com/dj-oyu/traffic-sign-alert/internal/annotate"
	"github.com/dj-oyu/traffic-sign-alert/internal/catalog"
	"github.com/dj-oyu/traffic-sign-alert/internal/detect"
	"github.com/dj-oyu/traffic-sign-alert/internal/filter"
	"github.com/dj-oyu/traffic-sign-alert/internal/logger"
	"github.com/dj-oyu/traffic-sign-alert/internal/metrics"
	"github.com/dj-oyu/traffic-sign-alert/internal/source"
	"github.com/dj-oyu/traffic-sign-alert/pkg/types"
)

const (
	// NoDetectionText is shown when the detector found nothing
	NoDetectionText = "No detection"
	// NoHighConfidenceText is shown on streams when nothing cleared the threshold
	NoHighConfidenceText = "No high-confidence detection"
)

// DriverConfig tunes one session's processing
type DriverConfig struct {
	Threshold         float64
	DisplayWidth      int
	DisplayHeight     int
	AlertWindow       time.Duration
	MaxDetectFailures int // Consecutive detector errors before giving up
}

// DefaultDriverConfig returns the stock settings
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		Threshold:         filter.DefaultThreshold,
		DisplayWidth:      640,
		DisplayHeight:     480,
		AlertWindow:       alert.DefaultWindow,
		MaxDetectFailures: 5,
	}
}

// Deps are the collaborators of a driver. Clock, Speaker, Presenter and Metrics may be nil.
type Deps struct {
	Source    source.Source
	Detector  detect.Detector
	Catalog   *catalog.Catalog
	Speaker   alert.Speaker
	Presenter Presenter
	Clock     clock.Clock
	Metrics   *metrics.Metrics
}

// Driver executes one pipeline step per frame
type Driver struct {
	deps      Deps
	cfg       DriverConfig
	debouncer alert.Debouncer
	failures  int
	frames    atomic.Uint64
}

// NewDriver fills in defaults for optional dependencies
func NewDriver(deps Deps, cfg DriverConfig) *Driver {
	def := DefaultDriverConfig()
	if cfg.DisplayWidth <= 0 || cfg.DisplayHeight <= 0 {
		cfg.DisplayWidth, cfg.DisplayHeight = def.DisplayWidth, def.DisplayHeight
	}
	if cfg.MaxDetectFailures <= 0 {
		cfg.MaxDetectFailures = def.MaxDetectFailures
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Speaker == nil {
		deps.Speaker = alert.LogSpeaker{}
	}
	if deps.Presenter == nil {
		deps.Presenter = PresenterFunc(func(Update) {})
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	return &Driver{
		deps:      deps,
		cfg:       cfg,
		debouncer: alert.NewDebouncer(cfg.AlertWindow),
	}
}

// Frames returns how many frames have been processed
func (d *Driver) Frames() uint64 {
	return d.frames.Load()
}

// Kind returns the kind of the driver's source
func (d *Driver) Kind() types.SourceKind {
	return d.deps.Source.Kind()
}

// pull fetches the next frame from the source
func (d *Driver) pull(ctx context.Context) (types.Frame, error) {
	frame, err := d.deps.Source.Next(ctx)
	if err != nil {
		return types.Frame{}, err
	}
	d.deps.Metrics.FramesPulled.Add(1)
	return frame, nil
}

// Tick pulls one frame and processes it. It returns source.ErrSourceExhausted
// at the end of the stream.
func (d *Driver) Tick(ctx context.Context, state alert.State) (alert.State, error) {
	frame, err := d.pull(ctx)
	if err != nil {
		return state, err
	}
	return d.Process(ctx, frame, state)
}

// Process runs one frame through the pipeline and returns the next alert state.
// A malformed frame is dropped and leaves the state unchanged. Only
// detect.ErrModelUnavailable and context errors are returned.
func (d *Driver) Process(ctx context.Context, frame types.Frame, state alert.State) (alert.State, error) {
	start := d.deps.Clock.Now()
	m := d.deps.Metrics
	kind := d.deps.Source.Kind()

	rgb, err := frame.ToRGB()
	if err != nil {
		m.FramesMalformed.Add(1)
		logger.Warn("Driver", "Dropping frame #%d: %v", frame.Index, err)
		return state, nil
	}

	detectStart := d.deps.Clock.Now()
	dets, err := d.deps.Detector.Detect(ctx, rgb)
	if err != nil {
		return state, d.detectFailed(ctx, frame.Index, err)
	}
	d.failures = 0
	m.UpdateDetectLatency(d.deps.Clock.Since(detectStart))
	m.Detections.Add(uint64(len(dets)))

	reportable := filter.Apply(dets, d.deps.Catalog, d.cfg.Threshold)
	m.ReportableDetections.Add(uint64(len(reportable)))

	annotated, err := annotate.Annotate(rgb, reportable, annotate.StyleFor(kind))
	if err != nil {
		return state, errors.Wrap(err, "annotate")
	}
	display, err := annotate.Fit(annotated, d.cfg.DisplayWidth, d.cfg.DisplayHeight)
	if err != nil {
		return state, errors.Wrap(err, "fit to display")
	}

	now := d.deps.Clock.Now()
	decision := d.debouncer.Decide(state, filter.Labels(reportable), !kind.Streaming(), now)

	u := Update{
		Frame:      display,
		Text:       LabelText(reportable, len(dets), kind),
		Detections: reportable,
		Kind:       kind,
		Index:      frame.Index,
		At:         now,
	}
	if decision.Speak {
		u.Spoken = decision.Text
	}
	d.deps.Presenter.Publish(u)

	if decision.Speak {
		m.AlertsSpoken.Add(1)
		if err := d.deps.Speaker.Speak(ctx, decision.Text); err != nil {
			m.SpeechErrors.Add(1)
			logger.Warn("Driver", "Speech failed for %q: %v", decision.Text, err)
		}
	} else if len(reportable) > 0 {
		m.AlertsSuppressed.Add(1)
	}

	d.frames.Add(1)
	m.FramesProcessed.Add(1)
	m.UpdateTickLatency(d.deps.Clock.Since(start))
	return decision.State, nil
}

func (d *Driver) detectFailed(ctx context.Context, index uint64, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	d.deps.Metrics.DetectErrors.Add(1)
	if errors.Is(err, detect.ErrModelUnavailable) {
		return err
	}

	d.failures++
	logger.Warn("Driver", "Detection failed on frame #%d (%d/%d): %v", index, d.failures, d.cfg.MaxDetectFailures, err)
	if d.failures >= d.cfg.MaxDetectFailures {
		return errors.Wrapf(detect.ErrModelUnavailable, "%d consecutive detection failures, last: %v", d.failures, err)
	}
	return nil
}

// LabelText summarizes reportable detections, one "<label>: <conf>%" line each.
// raw is the number of detections before filtering.
func LabelText(rs []filter.Reportable, raw int, kind types.SourceKind) string {
	if len(rs) == 0 {
		if kind.Streaming() && raw > 0 {
			return NoHighConfidenceText
		}
		return NoDetectionText
	}

	lines := make([]string, len(rs))
	for i, r := range rs {
		lines[i] = annotate.Label(r)
	}
	return strings.Join(lines, "\n")
}

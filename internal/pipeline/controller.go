package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/dj-oyu/traffic-sign-alert/internal/alert"
	"github.com/dj-oyu/traffic-sign-alert/internal/catalog"
	"github.com/dj-oyu/traffic-sign-alert/internal/detect"
	"github.com/dj-oyu/traffic-sign-alert/internal/logger"
	"github.com/dj-oyu/traffic-sign-alert/internal/metrics"
	"github.com/dj-oyu/traffic-sign-alert/internal/source"
)

// Session states reported by Status
const (
	StateIdle    = "idle"
	StateRunning = "running"
	StateFailed  = "failed"
)

// Factories open the per-session resources
type Factories struct {
	Catalog  func() (*catalog.Catalog, error)
	Detector func(ctx context.Context) (detect.Detector, error)
	Source   func(ctx context.Context, spec source.Spec) (source.Source, error)
}

// ControllerConfig configures a controller
type ControllerConfig struct {
	Factories Factories
	Driver    DriverConfig
	Prefetch  int
	Speaker   alert.Speaker
	Presenter Presenter
	Clock     clock.Clock
	Metrics   *metrics.Metrics
}

// Status describes the controller's current session
type Status struct {
	State     string    `json:"state"`
	Source    string    `json:"source,omitempty"`
	Path      string    `json:"path,omitempty"`
	Frames    uint64    `json:"frames"`
	StartedAt time.Time `json:"started_at,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

type run struct {
	spec    source.Spec
	session *Session
	cancel  context.CancelFunc
	done    chan struct{}
	stopped atomic.Bool
}

// Controller starts and stops sessions. At most one session runs at a time.
type Controller struct {
	base context.Context
	cfg  ControllerConfig

	mu      sync.Mutex // serializes Start and Stop
	current *run

	statusMu sync.Mutex
	status   Status
}

// NewController returns an idle controller. Sessions are bounded by ctx.
func NewController(ctx context.Context, cfg ControllerConfig) *Controller {
	if cfg.Factories.Catalog == nil {
		cfg.Factories.Catalog = func() (*catalog.Catalog, error) { return catalog.Default(), nil }
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.Presenter == nil {
		cfg.Presenter = PresenterFunc(func(Update) {})
	}
	return &Controller{base: ctx, cfg: cfg, status: Status{State: StateIdle}}
}

// Start stops any running session and starts a new one for spec.
// Catalog, detector and source errors are returned before anything runs.
func (c *Controller) Start(ctx context.Context, spec source.Spec) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()

	if c.cfg.Factories.Detector == nil || c.cfg.Factories.Source == nil {
		return errors.New("controller has no detector or source factory")
	}

	cat, err := c.cfg.Factories.Catalog()
	if err != nil {
		return c.failStart(spec, errors.Wrap(err, "load catalog"))
	}

	det, err := c.cfg.Factories.Detector(ctx)
	if err != nil {
		return c.failStart(spec, err)
	}

	sessCtx, cancel := context.WithCancel(c.base)
	src, err := c.cfg.Factories.Source(sessCtx, spec)
	if err != nil {
		cancel()
		_ = detect.Close(det)
		return c.failStart(spec, err)
	}

	driver := NewDriver(Deps{
		Source:    src,
		Detector:  det,
		Catalog:   cat,
		Speaker:   c.cfg.Speaker,
		Presenter: c.cfg.Presenter,
		Clock:     c.cfg.Clock,
		Metrics:   c.cfg.Metrics,
	}, c.cfg.Driver)

	r := &run{
		spec:    spec,
		session: NewSession(driver, c.cfg.Prefetch),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	c.current = r

	c.setStatus(Status{State: StateRunning, Source: spec.Kind.String(), Path: spec.Path, StartedAt: time.Now()})
	c.cfg.Metrics.SessionsStarted.Add(1)
	c.cfg.Metrics.SetSessionActive(true)
	logger.Info("Controller", "Starting %s session (%s)", spec.Kind, spec.Path)

	go c.runSession(sessCtx, r, det)
	return nil
}

func (c *Controller) runSession(ctx context.Context, r *run, det detect.Detector) {
	defer close(r.done)

	err := r.session.Run(ctx)
	if cerr := detect.Close(det); cerr != nil {
		logger.Warn("Controller", "Closing detector: %v", cerr)
	}
	r.cancel()

	c.cfg.Metrics.SetSessionActive(false)
	frames := r.session.Driver().Frames()

	c.statusMu.Lock()
	c.status.Frames = frames
	switch {
	case err != nil:
		c.status.State = StateFailed
		c.status.LastError = err.Error()
	default:
		c.status.State = StateIdle
	}
	c.statusMu.Unlock()

	switch {
	case err != nil:
		c.cfg.Metrics.SessionsFailed.Add(1)
		logger.Error("Controller", "Session failed: %v", err)
		c.cfg.Presenter.Idle()
	case r.stopped.Load():
		logger.Info("Controller", "Session stopped after %d frames", frames)
		c.cfg.Presenter.Idle()
	default:
		logger.Info("Controller", "Session finished after %d frames", frames)
	}
}

func (c *Controller) failStart(spec source.Spec, err error) error {
	c.cfg.Metrics.SessionsFailed.Add(1)
	c.setStatus(Status{State: StateFailed, Source: spec.Kind.String(), Path: spec.Path, LastError: err.Error()})
	logger.Warn("Controller", "Cannot start %s session: %v", spec.Kind, err)
	c.cfg.Presenter.Idle()
	return err
}

// Stop cancels the running session and waits for it to release its source.
// It does nothing when idle.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Controller) stopLocked() {
	r := c.current
	if r == nil {
		return
	}
	c.current = nil
	defer c.flushSpeech()

	select {
	case <-r.done:
		return
	default:
	}

	r.stopped.Store(true)
	r.cancel()
	<-r.done
}

// flushSpeech drops announcements the previous session queued but never started
func (c *Controller) flushSpeech() {
	f, ok := c.cfg.Speaker.(alert.Flusher)
	if !ok {
		return
	}
	if n := f.Flush(); n > 0 {
		logger.Debug("Controller", "Dropped %d pending announcements", n)
	}
}

// Wait blocks until the current session ends or ctx is done
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	r := c.current
	c.mu.Unlock()
	if r == nil {
		return nil
	}

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a snapshot of the current session
func (c *Controller) Status() Status {
	c.mu.Lock()
	r := c.current
	c.mu.Unlock()

	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	st := c.status
	if r != nil && st.State == StateRunning {
		st.Frames = r.session.Driver().Frames()
	}
	return st
}

// Running reports whether a session is active
func (c *Controller) Running() bool {
	return c.Status().State == StateRunning
}

func (c *Controller) setStatus(st Status) {
	c.statusMu.Lock()
	c.status = st
	c.statusMu.Unlock()
}

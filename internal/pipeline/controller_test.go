package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/dj-oyu/traffic-sign-alert/internal/alert"
	"github.com/dj-oyu/traffic-sign-alert/internal/detect"
	"github.com/dj-oyu/traffic-sign-alert/internal/metrics"
	"github.com/dj-oyu/traffic-sign-alert/internal/source"
	"github.com/dj-oyu/traffic-sign-alert/pkg/types"
)

type controllerFixture struct {
	ctrl      *Controller
	presenter *recordingPresenter
	speaker   *recordingSpeaker
	metrics   *metrics.Metrics

	mu      sync.Mutex
	sources []*scriptSource
}

func newControllerFixture(t *testing.T, frames int, block bool, det detect.Detector, detErr error) *controllerFixture {
	t.Helper()
	f := &controllerFixture{
		presenter: &recordingPresenter{},
		speaker:   &recordingSpeaker{},
		metrics:   metrics.New(),
	}
	f.ctrl = NewController(context.Background(), ControllerConfig{
		Factories: Factories{
			Detector: func(context.Context) (detect.Detector, error) {
				if detErr != nil {
					return nil, detErr
				}
				return det, nil
			},
			Source: func(_ context.Context, spec source.Spec) (source.Source, error) {
				if spec.Path == "missing" {
					return nil, source.ErrSourceUnreadable
				}
				src := newScriptSource(spec.Kind, frames)
				src.block = block
				f.mu.Lock()
				f.sources = append(f.sources, src)
				f.mu.Unlock()
				return src, nil
			},
		},
		Driver:    DriverConfig{Threshold: 80, DisplayWidth: 16, DisplayHeight: 16},
		Speaker:   f.speaker,
		Presenter: f.presenter,
		Metrics:   f.metrics,
	})
	t.Cleanup(f.ctrl.Stop)
	return f
}

func (f *controllerFixture) source(i int) *scriptSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sources[i]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestControllerStopWhileIdle(t *testing.T) {
	f := newControllerFixture(t, 1, false, fixed(), nil)
	f.ctrl.Stop()
	f.ctrl.Stop()
	test.That(t, f.ctrl.Status().State, test.ShouldEqual, StateIdle)
	_, idles := f.presenter.snapshot()
	test.That(t, idles, test.ShouldEqual, 0)
}

func TestControllerNaturalEndKeepsLastFrame(t *testing.T) {
	f := newControllerFixture(t, 3, false, fixed(types.Detection{ClassID: 1, Confidence: 95}), nil)

	err := f.ctrl.Start(context.Background(), source.Spec{Kind: types.SourceVideo, Path: "clip.mp4"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.ctrl.Wait(context.Background()), test.ShouldBeNil)

	st := f.ctrl.Status()
	test.That(t, st.State, test.ShouldEqual, StateIdle)
	test.That(t, st.Frames, test.ShouldEqual, uint64(3))
	test.That(t, st.Source, test.ShouldEqual, "video")

	updates, idles := f.presenter.snapshot()
	test.That(t, updates, test.ShouldHaveLength, 3)
	test.That(t, idles, test.ShouldEqual, 0)
	test.That(t, f.source(0).closes.Load(), test.ShouldEqual, int32(1))
	test.That(t, f.metrics.SessionActive.Load(), test.ShouldEqual, uint64(0))
}

func TestControllerStopIdlesPresenter(t *testing.T) {
	f := newControllerFixture(t, 1, true, fixed(), nil)

	test.That(t, f.ctrl.Start(context.Background(), source.Spec{Kind: types.SourceCamera}), test.ShouldBeNil)
	waitFor(t, func() bool { return f.ctrl.Status().Frames >= 1 })
	test.That(t, f.ctrl.Running(), test.ShouldBeTrue)

	f.ctrl.Stop()
	test.That(t, f.ctrl.Status().State, test.ShouldEqual, StateIdle)
	_, idles := f.presenter.snapshot()
	test.That(t, idles, test.ShouldEqual, 1)
	test.That(t, f.source(0).closes.Load(), test.ShouldEqual, int32(1))
}

func TestControllerRestartResetsAlertState(t *testing.T) {
	f := newControllerFixture(t, 1, true, fixed(types.Detection{ClassID: 1, Confidence: 95}), nil)

	test.That(t, f.ctrl.Start(context.Background(), source.Spec{Kind: types.SourceCamera}), test.ShouldBeNil)
	waitFor(t, func() bool { return len(f.speaker.spoken()) == 1 })

	test.That(t, f.ctrl.Start(context.Background(), source.Spec{Kind: types.SourceCamera}), test.ShouldBeNil)
	waitFor(t, func() bool { return len(f.speaker.spoken()) == 2 })

	test.That(t, f.source(0).closes.Load(), test.ShouldEqual, int32(1))
	test.That(t, f.speaker.spoken(), test.ShouldResemble, []string{"P.102", "P.102"})
}

func TestControllerStartFailures(t *testing.T) {
	f := newControllerFixture(t, 1, false, fixed(), nil)
	err := f.ctrl.Start(context.Background(), source.Spec{Kind: types.SourceVideo, Path: "missing"})
	test.That(t, errors.Is(err, source.ErrSourceUnreadable), test.ShouldBeTrue)
	test.That(t, f.ctrl.Status().State, test.ShouldEqual, StateFailed)

	g := newControllerFixture(t, 1, false, nil, detect.ErrModelUnavailable)
	err = g.ctrl.Start(context.Background(), source.Spec{Kind: types.SourceImage, Path: "a.png"})
	test.That(t, errors.Is(err, detect.ErrModelUnavailable), test.ShouldBeTrue)
	test.That(t, g.ctrl.Status().LastError, test.ShouldContainSubstring, "unavailable")
}

func TestControllerFatalErrorIdlesPresenter(t *testing.T) {
	f := newControllerFixture(t, 2, false, detect.DetectorFunc(func(context.Context, types.Frame) ([]types.Detection, error) {
		return nil, detect.ErrModelUnavailable
	}), nil)

	test.That(t, f.ctrl.Start(context.Background(), source.Spec{Kind: types.SourceVideo, Path: "clip.mp4"}), test.ShouldBeNil)
	test.That(t, f.ctrl.Wait(context.Background()), test.ShouldBeNil)

	st := f.ctrl.Status()
	test.That(t, st.State, test.ShouldEqual, StateFailed)
	test.That(t, st.LastError, test.ShouldNotBeEmpty)
	_, idles := f.presenter.snapshot()
	test.That(t, idles, test.ShouldEqual, 1)
	test.That(t, f.metrics.SessionsFailed.Load(), test.ShouldEqual, uint64(1))
	test.That(t, f.source(0).closes.Load(), test.ShouldEqual, int32(1))
}

func TestControllerFailedStartAfterNaturalEndIdlesPresenter(t *testing.T) {
	f := newControllerFixture(t, 2, false, fixed(types.Detection{ClassID: 1, Confidence: 95}), nil)

	test.That(t, f.ctrl.Start(context.Background(), source.Spec{Kind: types.SourceVideo, Path: "clip.mp4"}), test.ShouldBeNil)
	test.That(t, f.ctrl.Wait(context.Background()), test.ShouldBeNil)
	_, idles := f.presenter.snapshot()
	test.That(t, idles, test.ShouldEqual, 0)

	err := f.ctrl.Start(context.Background(), source.Spec{Kind: types.SourceVideo, Path: "missing"})
	test.That(t, errors.Is(err, source.ErrSourceUnreadable), test.ShouldBeTrue)

	updates, idles := f.presenter.snapshot()
	test.That(t, updates, test.ShouldHaveLength, 2)
	test.That(t, idles, test.ShouldEqual, 1)
	test.That(t, f.ctrl.Status().State, test.ShouldEqual, StateFailed)
}

func TestControllerModelUnavailableIdlesPresenter(t *testing.T) {
	f := newControllerFixture(t, 1, false, nil, detect.ErrModelUnavailable)

	err := f.ctrl.Start(context.Background(), source.Spec{Kind: types.SourceImage, Path: "a.png"})
	test.That(t, errors.Is(err, detect.ErrModelUnavailable), test.ShouldBeTrue)
	_, idles := f.presenter.snapshot()
	test.That(t, idles, test.ShouldEqual, 1)
}

func TestControllerStopDropsQueuedAnnouncements(t *testing.T) {
	started := make(chan string, 8)
	release := make(chan struct{})
	q := alert.NewQueuedSpeaker(alert.SpeakerFunc(func(_ context.Context, text string) error {
		started <- text
		<-release
		return nil
	}), 4, nil)

	// Alternate classes so every frame announces a new set
	var calls atomic.Int32
	det := detect.DetectorFunc(func(context.Context, types.Frame) ([]types.Detection, error) {
		id := 1 + int(calls.Add(1)%2)
		return []types.Detection{{ClassID: id, Confidence: 95}}, nil
	})

	ctrl := NewController(context.Background(), ControllerConfig{
		Factories: Factories{
			Detector: func(context.Context) (detect.Detector, error) { return det, nil },
			Source: func(_ context.Context, spec source.Spec) (source.Source, error) {
				src := newScriptSource(spec.Kind, 3)
				src.block = true
				return src, nil
			},
		},
		Driver:  DriverConfig{Threshold: 80, DisplayWidth: 16, DisplayHeight: 16},
		Speaker: q,
	})

	test.That(t, ctrl.Start(context.Background(), source.Spec{Kind: types.SourceCamera}), test.ShouldBeNil)
	waitFor(t, func() bool { return ctrl.Status().Frames >= 3 })
	first := <-started

	ctrl.Stop()
	close(release)
	test.That(t, q.Close(), test.ShouldBeNil)

	test.That(t, first, test.ShouldNotBeEmpty)
	test.That(t, len(started), test.ShouldEqual, 0)
}

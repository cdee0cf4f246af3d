package webmonitor

import (
	"bytes"
	"image/jpeg"
	"testing"

	"go.viam.com/test"

	"github.com/dj-oyu/traffic-sign-alert/pkg/types"
)

func TestMonitorHistoryIsCapped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistorySize = 3
	mon := NewMonitor(cfg)
	defer mon.Close()

	for i := uint64(1); i <= 5; i++ {
		mon.Publish(sampleUpdate(i))
	}
	empty := sampleUpdate(6)
	empty.Detections = nil
	empty.Text = "No detection"
	mon.Publish(empty)

	stats, text, latest, history := mon.Snapshot()
	test.That(t, stats.FramesPublished, test.ShouldEqual, 6)
	test.That(t, stats.DetectionCount, test.ShouldEqual, 0)
	test.That(t, stats.Idle, test.ShouldBeFalse)
	test.That(t, text, test.ShouldEqual, "No detection")
	test.That(t, latest.FrameNumber, test.ShouldEqual, uint64(6))
	test.That(t, history, test.ShouldHaveLength, 3)
	test.That(t, history[0].FrameNumber, test.ShouldEqual, uint64(5))
	test.That(t, history[0].Detections[0].BBox, test.ShouldResemble, BoundingBox{X: 1, Y: 1, W: 4, H: 3})
}

func TestMonitorIdleShowsPlaceholder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleWidth, cfg.IdleHeight = 80, 60
	mon := NewMonitor(cfg)
	defer mon.Close()

	idle := mon.LatestJPEG()
	img, err := jpeg.Decode(bytes.NewReader(idle))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds().Dx(), test.ShouldEqual, 80)

	mon.Publish(sampleUpdate(1))
	live := mon.LatestJPEG()
	img, err = jpeg.Decode(bytes.NewReader(live))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds().Dx(), test.ShouldEqual, 8)

	mon.Idle()
	test.That(t, bytes.Equal(mon.LatestJPEG(), idle), test.ShouldBeTrue)
	stats, text, latest, _ := mon.Snapshot()
	test.That(t, stats.Idle, test.ShouldBeTrue)
	test.That(t, text, test.ShouldEqual, "")
	test.That(t, latest, test.ShouldBeNil)
}

func TestMonitorDropsMalformedFrame(t *testing.T) {
	mon := NewMonitor(DefaultConfig())
	defer mon.Close()

	u := sampleUpdate(1)
	u.Frame = types.Frame{Width: 2, Height: 2, Channels: 3}
	mon.Publish(u)
	stats, _, _, _ := mon.Snapshot()
	test.That(t, stats.FramesPublished, test.ShouldEqual, 0)
}

func TestFrameBroadcasterDropsForSlowClients(t *testing.T) {
	fb := NewFrameBroadcaster(nil)
	id, ch := fb.Subscribe()
	test.That(t, fb.Clients(), test.ShouldEqual, 1)

	for i := 0; i < 5; i++ {
		fb.broadcast([]byte{byte(i)})
	}
	test.That(t, len(ch), test.ShouldEqual, 2)
	test.That(t, <-ch, test.ShouldResemble, []byte{0})

	fb.Unsubscribe(id)
	_, ok := <-ch
	for ok {
		_, ok = <-ch
	}
	test.That(t, fb.Clients(), test.ShouldEqual, 0)

	fb.Stop()
	_, late := fb.Subscribe()
	_, open := <-late
	test.That(t, open, test.ShouldBeFalse)
}

package webmonitor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.viam.com/test"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/traffic-sign-alert/internal/detect"
	"github.com/dj-oyu/traffic-sign-alert/internal/filter"
	"github.com/dj-oyu/traffic-sign-alert/internal/metrics"
	"github.com/dj-oyu/traffic-sign-alert/internal/pipeline"
	"github.com/dj-oyu/traffic-sign-alert/internal/source"
	"github.com/dj-oyu/traffic-sign-alert/pkg/types"
)

type fakeController struct {
	mu       sync.Mutex
	startErr error
	started  []source.Spec
	stops    int
	status   pipeline.Status
}

func (c *fakeController) Start(_ context.Context, spec source.Spec) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return c.startErr
	}
	c.started = append(c.started, spec)
	c.status = pipeline.Status{State: pipeline.StateRunning, Source: spec.Kind.String(), Path: spec.Path}
	return nil
}

func (c *fakeController) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	c.status = pipeline.Status{State: pipeline.StateIdle}
}

func (c *fakeController) Status() pipeline.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.State == "" {
		return pipeline.Status{State: pipeline.StateIdle}
	}
	return c.status
}

func newTestServer(t *testing.T, ctrl *fakeController) (*httptest.Server, *Monitor) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.IdleWidth, cfg.IdleHeight = 64, 48
	cfg.KeepAlive = 50 * time.Millisecond
	mon := NewMonitor(cfg)
	srv := httptest.NewServer(NewServer(cfg, mon, ctrl, metrics.New()).Handler())
	t.Cleanup(func() {
		mon.Close()
		srv.Close()
	})
	return srv, mon
}

func sampleUpdate(index uint64) pipeline.Update {
	frame := types.FrameFromRGB(bytes.Repeat([]byte{90}, 8*6*3), 8, 6)
	return pipeline.Update{
		Frame: frame,
		Text:  "P.102: 95.00%",
		Detections: []filter.Reportable{
			{ClassID: 1, Label: "P.102", Confidence: 95, Box: types.Box{XMin: 1, YMin: 1, XMax: 5, YMax: 4}},
		},
		Kind:   types.SourceVideo,
		Index:  index,
		At:     time.Unix(1700000000, 0),
		Spoken: "P.102",
	}
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()
	var payload map[string]any
	test.That(t, json.NewDecoder(resp.Body).Decode(&payload), test.ShouldBeNil)
	return resp, payload
}

func TestHealthAndIndex(t *testing.T) {
	srv, _ := newTestServer(t, &fakeController{})

	resp, err := http.Get(srv.URL + "/health")
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)

	resp, err = http.Get(srv.URL + "/")
	test.That(t, err, test.ShouldBeNil)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	test.That(t, string(body), test.ShouldContainSubstring, "/api/session/start")
}

func TestStatusReportsLatestDetection(t *testing.T) {
	srv, mon := newTestServer(t, &fakeController{})
	mon.Publish(sampleUpdate(3))

	resp, err := http.Get(srv.URL + "/api/status")
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()

	var payload map[string]any
	test.That(t, json.NewDecoder(resp.Body).Decode(&payload), test.ShouldBeNil)
	test.That(t, payload["label_text"], test.ShouldEqual, "P.102: 95.00%")

	session := payload["session"].(map[string]any)
	test.That(t, session["state"], test.ShouldEqual, "idle")

	latest := payload["latest_detection"].(map[string]any)
	test.That(t, latest["frame_number"], test.ShouldEqual, 3.0)
	test.That(t, latest["source"], test.ShouldEqual, "video")
	dets := latest["detections"].([]any)
	test.That(t, dets, test.ShouldHaveLength, 1)
	test.That(t, dets[0].(map[string]any)["class_name"], test.ShouldEqual, "P.102")

	test.That(t, payload["detection_history"].([]any), test.ShouldHaveLength, 1)
}

func TestSessionStartAndStop(t *testing.T) {
	ctrl := &fakeController{}
	srv, _ := newTestServer(t, ctrl)

	resp, payload := postJSON(t, srv.URL+"/api/session/start", `{"source":"video","path":"drive.mp4"}`)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	test.That(t, payload["status"], test.ShouldEqual, "started")
	test.That(t, ctrl.started, test.ShouldResemble, []source.Spec{{Kind: types.SourceVideo, Path: "drive.mp4"}})

	resp, _ = postJSON(t, srv.URL+"/api/session/start", `{"path":"sign.png"}`)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	test.That(t, ctrl.started[1].Kind, test.ShouldEqual, types.SourceImage)

	resp, _ = postJSON(t, srv.URL+"/api/session/start", `{"source":"camera"}`)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)

	resp, payload = postJSON(t, srv.URL+"/api/session/stop", `{}`)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	test.That(t, payload["status"], test.ShouldEqual, "stopped")
	test.That(t, ctrl.stops, test.ShouldEqual, 1)
}

func TestSessionStartErrors(t *testing.T) {
	ctrl := &fakeController{}
	srv, _ := newTestServer(t, ctrl)

	resp, _ := postJSON(t, srv.URL+"/api/session/start", `{not json`)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusBadRequest)

	resp, _ = postJSON(t, srv.URL+"/api/session/start", `{"source":"radar"}`)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusBadRequest)

	resp, _ = postJSON(t, srv.URL+"/api/session/start", `{"source":"video"}`)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusBadRequest)

	ctrl.startErr = source.ErrSourceUnreadable
	resp, payload := postJSON(t, srv.URL+"/api/session/start", `{"source":"video","path":"missing.mp4"}`)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusUnprocessableEntity)
	test.That(t, payload["error"], test.ShouldContainSubstring, "unreadable")

	ctrl.startErr = detect.ErrModelUnavailable
	resp, _ = postJSON(t, srv.URL+"/api/session/start", `{"source":"camera"}`)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusServiceUnavailable)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &fakeController{})
	resp, err := http.Get(srv.URL + "/metrics")
	test.That(t, err, test.ShouldBeNil)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	test.That(t, string(body), test.ShouldContainSubstring, "signalert_stream_clients")
}

func TestMJPEGStreamStartsWithIdleFrame(t *testing.T) {
	srv, _ := newTestServer(t, &fakeController{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/stream", nil)
	test.That(t, err, test.ShouldBeNil)
	resp, err := http.DefaultClient.Do(req)
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()

	test.That(t, resp.Header.Get("Content-Type"), test.ShouldContainSubstring, "boundary=frame")

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)
	test.That(t, strings.TrimSpace(line), test.ShouldEqual, "--frame")

	for {
		line, err = reader.ReadString('\n')
		test.That(t, err, test.ShouldBeNil)
		if strings.TrimSpace(line) == "" {
			break
		}
	}
	magic := make([]byte, 2)
	_, err = io.ReadFull(reader, magic)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, magic, test.ShouldResemble, []byte{0xff, 0xd8})
}

// openSSE connects and returns once headers (and the subscription) are in place
func openSSE(t *testing.T, url, accept string) (*http.Response, *bufio.Reader, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	test.That(t, err, test.ShouldBeNil)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := http.DefaultClient.Do(req)
	test.That(t, err, test.ShouldBeNil)
	return resp, bufio.NewReader(resp.Body), cancel
}

// nextData returns the payload of the next data event, skipping keepalives
func nextData(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		test.That(t, err, test.ShouldBeNil)
		if strings.HasPrefix(line, "data:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
}

func TestDetectionStreamJSON(t *testing.T) {
	srv, mon := newTestServer(t, &fakeController{})
	resp, reader, cancel := openSSE(t, srv.URL+"/api/detections/stream", "")
	defer cancel()
	defer resp.Body.Close()
	test.That(t, resp.Header.Get("Content-Type"), test.ShouldContainSubstring, "text/event-stream")
	test.That(t, resp.Header.Get("X-Content-Format"), test.ShouldEqual, "application/json")

	mon.Publish(sampleUpdate(9))

	var event map[string]any
	test.That(t, json.Unmarshal([]byte(nextData(t, reader)), &event), test.ShouldBeNil)
	test.That(t, event["type"], test.ShouldEqual, "detection")
	test.That(t, event["frame_number"], test.ShouldEqual, 9.0)
	test.That(t, event["spoken"], test.ShouldEqual, "P.102")

	mon.Idle()
	test.That(t, json.Unmarshal([]byte(nextData(t, reader)), &event), test.ShouldBeNil)
	test.That(t, event["type"], test.ShouldEqual, "idle")
}

func TestDetectionStreamProtobuf(t *testing.T) {
	srv, mon := newTestServer(t, &fakeController{})
	resp, reader, cancel := openSSE(t, srv.URL+"/api/detections/stream", "application/x-protobuf")
	defer cancel()
	defer resp.Body.Close()
	test.That(t, resp.Header.Get("X-Content-Format"), test.ShouldEqual, "application/protobuf")

	mon.Publish(sampleUpdate(4))

	raw, err := base64.StdEncoding.DecodeString(nextData(t, reader))
	test.That(t, err, test.ShouldBeNil)
	var st structpb.Struct
	test.That(t, proto.Unmarshal(raw, &st), test.ShouldBeNil)

	fields := st.AsMap()
	test.That(t, fields["label_text"], test.ShouldEqual, "P.102: 95.00%")
	test.That(t, fields["frame_number"], test.ShouldEqual, 4.0)
	dets := fields["detections"].([]any)
	test.That(t, dets[0].(map[string]any)["class_id"], test.ShouldEqual, 1.0)
}

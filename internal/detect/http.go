package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/dj-oyu/traffic-sign-alert/internal/logger"
	"github.com/dj-oyu/traffic-sign-alert/pkg/types"
)

// HTTPConfig configures the model-server adapter
type HTTPConfig struct {
	URL         string
	Timeout     time.Duration
	JPEGQuality int
}

// HTTPDetector sends frames to a model server.
//
//	GET  {url}/health  -> 200 when the model is loaded
//	POST {url}/detect  multipart "image" (JPEG) -> {"detections":[{"class_id","confidence","box"}]}
//
// The server reports confidence in [0,1]; it is scaled to [0,100].
type HTTPDetector struct {
	base    string
	quality int
	c       *http.Client
}

type wireDetection struct {
	ClassID    int       `json:"class_id"`
	Confidence float64   `json:"confidence"`
	Box        []float64 `json:"box"`
}

type wireResponse struct {
	Detections []wireDetection `json:"detections"`
}

// NewHTTP probes the model server and returns a ready detector.
// It returns ErrModelUnavailable when the health probe fails.
func NewHTTP(ctx context.Context, cfg HTTPConfig) (*HTTPDetector, error) {
	if cfg.URL == "" {
		return nil, errors.Wrap(ErrModelUnavailable, "no model server url configured")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 90
	}

	d := &HTTPDetector{
		base:    strings.TrimRight(cfg.URL, "/"),
		quality: cfg.JPEGQuality,
		c:       &http.Client{Timeout: cfg.Timeout},
	}
	if err := d.health(ctx); err != nil {
		return nil, errors.Wrapf(ErrModelUnavailable, "health probe %s: %v", d.base, err)
	}
	logger.Info("Detect", "Model server ready at %s", d.base)
	return d, nil
}

func (d *HTTPDetector) health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.base+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := d.c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %s", resp.Status)
	}
	return nil
}

// Detect implements Detector
func (d *HTTPDetector) Detect(ctx context.Context, frame types.Frame) ([]types.Detection, error) {
	img, err := frame.Image()
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	fw, err := w.CreateFormFile("image", fmt.Sprintf("frame-%d.jpg", frame.Index))
	if err != nil {
		return nil, err
	}
	if err := jpeg.Encode(fw, img, &jpeg.Options{Quality: d.quality}); err != nil {
		return nil, errors.Wrap(err, "encode frame")
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.base+"/detect", &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := d.c.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "detect request")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		return nil, errors.Wrap(ErrModelUnavailable, "model server returned 503")
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("detect %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var out wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "detect decode")
	}

	dets := make([]types.Detection, 0, len(out.Detections))
	for _, wd := range out.Detections {
		if len(wd.Box) != 4 {
			logger.Debug("Detect", "Dropping detection with %d box values", len(wd.Box))
			continue
		}
		dets = append(dets, types.Detection{
			ClassID:    wd.ClassID,
			Confidence: wd.Confidence * 100,
			Box:        types.Box{XMin: wd.Box[0], YMin: wd.Box[1], XMax: wd.Box[2], YMax: wd.Box[3]},
		})
	}
	return dets, nil
}

// Close releases idle connections
func (d *HTTPDetector) Close() error {
	d.c.CloseIdleConnections()
	return nil
}

package webmonitor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/color"
	"image/jpeg"
	"net/http"
	"time"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/dj-oyu/traffic-sign-alert/internal/logger"
)

func writeSSE(w http.ResponseWriter, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// placeholderJPEG renders color bars with a caption, shown while no session runs
func placeholderJPEG(width, height int, caption string) ([]byte, error) {
	colors := []color.RGBA{
		{R: 255, G: 255, B: 255, A: 255}, // White
		{R: 255, G: 255, B: 0, A: 255},   // Yellow
		{R: 0, G: 255, B: 255, A: 255},   // Cyan
		{R: 0, G: 255, B: 0, A: 255},     // Green
		{R: 255, G: 0, B: 255, A: 255},   // Magenta
		{R: 255, G: 0, B: 0, A: 255},     // Red
		{R: 0, G: 0, B: 255, A: 255},     // Blue
		{R: 0, G: 0, B: 0, A: 255},       // Black
	}

	dc := gg.NewContext(width, height)
	barWidth := float64(width) / float64(len(colors))
	for i, c := range colors {
		dc.SetColor(c)
		dc.DrawRectangle(float64(i)*barWidth, 0, barWidth+1, float64(height))
		dc.Fill()
	}

	font, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, err
	}
	dc.SetFontFace(truetype.NewFace(font, &truetype.Options{Size: float64(height) / 16}))
	tw, th := dc.MeasureString(caption)
	cx, cy := float64(width)/2, float64(height)/2
	dc.SetRGBA(0, 0, 0, 0.75)
	dc.DrawRectangle(cx-tw/2-10, cy-th/2-10, tw+20, th+20)
	dc.Fill()
	dc.SetRGB(1, 1, 1)
	dc.DrawStringAnchored(caption, cx, cy, 0.5, 0.35)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dc.Image(), &jpeg.Options{Quality: 75}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// streamMJPEGFromChannel streams MJPEG from a channel (fanout pattern).
// The last frame is repeated every keepAlive so proxies keep the connection open.
func streamMJPEGFromChannel(w http.ResponseWriter, r *http.Request, frameCh <-chan []byte, keepAlive time.Duration) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	var last []byte
	timer := time.NewTimer(keepAlive)
	defer timer.Stop()

	for {
		select {
		case data, ok := <-frameCh:
			if !ok {
				return
			}
			last = data
		case <-timer.C:
			if last == nil {
				timer.Reset(keepAlive)
				continue
			}
		case <-r.Context().Done():
			return
		}
		timer.Reset(keepAlive)

		if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(last)); err != nil {
			logger.Debug("MJPEG", "Client disconnected during write: %v", err)
			return
		}
		if _, err := w.Write(last); err != nil {
			logger.Debug("MJPEG", "Client disconnected during frame write: %v", err)
			return
		}
		if _, err := w.Write([]byte("\r\n")); err != nil {
			logger.Debug("MJPEG", "Client disconnected during delimiter write: %v", err)
			return
		}
		flusher.Flush()
	}
}

// streamEventsFromChannel streams pre-serialized events to an SSE client.
func streamEventsFromChannel(w http.ResponseWriter, r *http.Request, eventCh <-chan *SerializedEvent, useProtobuf bool, keepAlive time.Duration) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if useProtobuf {
		w.Header().Set("X-Content-Format", "application/protobuf")
	} else {
		w.Header().Set("X-Content-Format", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			data := event.JSONData
			if useProtobuf {
				data = event.ProtobufData
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				logger.Debug("SSE", "Client disconnected during event write: %v", err)
				return
			}
			flusher.Flush()

		case <-ticker.C:
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				logger.Debug("SSE", "Client disconnected during keepalive: %v", err)
				return
			}
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

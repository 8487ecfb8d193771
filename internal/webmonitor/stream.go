package webmonitor

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"net/http"
	"time"

	"github.com/dj-oyu/code-scanner/internal/logger"
	"github.com/dj-oyu/code-scanner/internal/overlay"
	"github.com/dj-oyu/code-scanner/pkg/types"
)

const (
	mjpegIdleTimeout = 5 * time.Second
	sseKeepalive     = 30 * time.Second
)

// placeholderJPEG renders the frame shown while no camera frame is available
func placeholderJPEG(label string) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	c := overlay.NewCanvas(img)
	c.FillRect(types.Rect{Width: 640, Height: 480}, color.RGBA{R: 0x20, G: 0x20, B: 0x24, A: 0xff})
	w, h := c.TextSize(label)
	c.Text(types.Point{X: (640 - w) / 2, Y: (480 - h) / 2}, label, overlay.TextColor)
	return encodeJPEG(img, 75)
}

// streamMJPEGFromChannel writes multipart JPEG parts from frameCh until the
// channel closes or the client goes away
func streamMJPEGFromChannel(ctx context.Context, w http.ResponseWriter, frameCh <-chan []byte) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	blank, err := placeholderJPEG("waiting for camera")
	if err != nil {
		http.Error(w, "Failed to render frame", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	data := blank
	for {
		if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(data)); err != nil {
			logger.Debug("MJPEG", "Client disconnected during write: %v", err)
			return
		}
		if _, err := w.Write(data); err != nil {
			logger.Debug("MJPEG", "Client disconnected during frame write: %v", err)
			return
		}
		if _, err := w.Write([]byte("\r\n")); err != nil {
			logger.Debug("MJPEG", "Client disconnected during delimiter write: %v", err)
			return
		}
		flusher.Flush()

		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frameCh:
			if !ok {
				return
			}
			data = frame
		case <-time.After(mjpegIdleTimeout):
			// keep the connection alive while the camera is quiet
			data = blank
		}
	}
}

// streamEventsFromChannel writes pre-serialized events as SSE until the
// channel closes or the client goes away
func streamEventsFromChannel(ctx context.Context, w http.ResponseWriter, eventCh <-chan *SerializedEvent, first *SerializedEvent, useProtobuf bool) {
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

	send := func(event *SerializedEvent) bool {
		data := event.JSONData
		if useProtobuf {
			data = event.ProtobufData
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			logger.Debug("SSE", "Client disconnected during event write: %v", err)
			return false
		}
		flusher.Flush()
		return true
	}

	if first != nil && !send(first) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			if !send(event) {
				return
			}
		case <-time.After(sseKeepalive):
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				logger.Debug("SSE", "Client disconnected during keepalive: %v", err)
				return
			}
			flusher.Flush()
		}
	}
}

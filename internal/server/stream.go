package server

import (
	"fmt"
	"image"
	"net/http"
	"time"

	"github.com/ayusman/scanpipe/internal/capture"
	"github.com/ayusman/scanpipe/internal/opencv"
)

const streamInterval = 66 * time.Millisecond // ~15 FPS

// FrameSource exposes the most recently processed frame.
type FrameSource interface {
	LatestFrame() (capture.Frame, bool)
}

// StreamHandler serves the processed frames as MJPEG.
type StreamHandler struct {
	frames FrameSource
	encode func(image.Image) ([]byte, error)
}

// NewStreamHandler creates a StreamHandler. A nil encode uses the OpenCV
// JPEG encoder.
func NewStreamHandler(frames FrameSource, encode func(image.Image) ([]byte, error)) *StreamHandler {
	if encode == nil {
		encode = opencv.EncodeImage
	}
	return &StreamHandler{frames: frames, encode: encode}
}

// ServeHTTP streams MJPEG frames to connected clients. Each frame is sent
// once.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	var lastSeq uint64
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		frame, ok := h.frames.LatestFrame()
		if !ok || frame.Seq == lastSeq {
			continue
		}
		lastSeq = frame.Seq

		data, err := h.encode(frame.Image)
		if err != nil {
			continue
		}

		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(data))
		if _, err := w.Write(data); err != nil {
			return
		}
		fmt.Fprintf(w, "\r\n")

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}

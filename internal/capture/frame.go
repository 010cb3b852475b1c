package capture

import (
	"image"
	"time"

	"github.com/ayusman/scanpipe/internal/geometry"
)

// Frame represents a captured video frame with metadata.
type Frame struct {
	Seq       uint64
	Image     image.Image
	Timestamp time.Time
	Width     int
	Height    int
}

// Size returns the frame dimensions as a geometry.Size.
func (f Frame) Size() geometry.Size {
	return geometry.Size{Width: float64(f.Width), Height: float64(f.Height)}
}

// FrameHandler receives frames from a frame-stream output. It is invoked on
// the device's frame goroutine and must not block.
type FrameHandler func(Frame)

// Photo is the payload of a completed still capture.
type Photo struct {
	ID     string
	Data   []byte // JPEG
	Width  int
	Height int
}

// Size returns the photo dimensions as a geometry.Size.
func (p Photo) Size() geometry.Size {
	return geometry.Size{Width: float64(p.Width), Height: float64(p.Height)}
}

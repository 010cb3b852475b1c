// Package testdata generates camera frames and photos for tests.
package testdata

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"github.com/ayusman/scanpipe/internal/capture"
	"github.com/ayusman/scanpipe/internal/opencv"
)

// Image returns a w x h gradient whose shade depends on seq, so consecutive
// frames differ.
func Image(seq uint64, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	shade := uint8(seq * 16)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(x * 255 / max(w-1, 1)),
				G: uint8(y * 255 / max(h-1, 1)),
				B: shade,
				A: 0xff,
			})
		}
	}
	return img
}

// Frame returns a frame carrying Image(seq, w, h).
func Frame(seq uint64, w, h int) capture.Frame {
	return capture.Frame{
		Seq:       seq,
		Image:     Image(seq, w, h),
		Timestamp: time.Now(),
		Width:     w,
		Height:    h,
	}
}

// Sequence returns n consecutive frames starting at sequence number start.
func Sequence(start uint64, n, w, h int) []capture.Frame {
	frames := make([]capture.Frame, 0, n)
	for i := 0; i < n; i++ {
		frames = append(frames, Frame(start+uint64(i), w, h))
	}
	return frames
}

// Photo returns a JPEG-encoded still of the given size.
func Photo(id string, w, h int) (*capture.Photo, error) {
	data, err := opencv.EncodeImage(Image(0, w, h))
	if err != nil {
		return nil, fmt.Errorf("encode photo %s: %w", id, err)
	}
	return &capture.Photo{ID: id, Data: data, Width: w, Height: h}, nil
}

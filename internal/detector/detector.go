// Package detector defines the model boundary of the scanning pipeline and
// the suppression engine that reduces redundant detector proposals.
package detector

import (
	"github.com/ayusman/scanpipe/internal/capture"
	"github.com/ayusman/scanpipe/internal/geometry"
	"github.com/ayusman/scanpipe/internal/transform"
)

// RawDetection is a single proposal produced by the model for one frame.
// Rect is normalized to [0,1] in the model's convention, which
// transform.Denormalize flips once on the way to the screen.
type RawDetection struct {
	ClassIndex int           `json:"classIndex"`
	Score      float32       `json:"score"`
	Rect       geometry.Rect `json:"rect"`
}

// Barcode is a decoded barcode payload and its normalized location.
type Barcode struct {
	Payload string        `json:"payload"`
	Rect    geometry.Rect `json:"rect"`
}

// Detector defines the interface for object detection implementations.
type Detector interface {
	// Detect analyzes a video frame and returns raw proposals.
	// Returns an empty slice if nothing is detected.
	Detect(frame capture.Frame) ([]RawDetection, error)

	// Close releases any resources held by the detector.
	Close() error
}

// BarcodeDecoder defines the interface for barcode decoding implementations.
type BarcodeDecoder interface {
	// Decode looks for a barcode in the frame. ok is false when none is found.
	Decode(frame capture.Frame) (barcode Barcode, ok bool, err error)

	// Close releases any resources held by the decoder.
	Close() error
}

// Config holds post-processing options for detection output.
type Config struct {
	// IOUThreshold is the overlap above which a lower-scoring box is suppressed.
	IOUThreshold float32

	// MaxBoxes caps the number of surviving boxes per frame.
	MaxBoxes int

	// MinScore drops proposals scoring below it before suppression.
	MinScore float32
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		IOUThreshold: 0.5,
		MaxBoxes:     10,
		MinScore:     0.3,
	}
}

// FilterByScore returns the detections scoring at least minScore, preserving order.
func FilterByScore(detections []RawDetection, minScore float32) []RawDetection {
	filtered := make([]RawDetection, 0, len(detections))
	for _, d := range detections {
		if d.Score >= minScore {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

// NormalizeRect converts a pixel-space rect into normalized space for an
// image of the given size. Empty image sizes yield a zero rect.
func NormalizeRect(r geometry.Rect, imageSize geometry.Size) geometry.Rect {
	if imageSize.IsEmpty() {
		return geometry.Rect{}
	}
	return geometry.Rect{
		X:      r.X / imageSize.Width,
		Y:      r.Y / imageSize.Height,
		Width:  r.Width / imageSize.Width,
		Height: r.Height / imageSize.Height,
	}
}

// FromPixelRect converts a top-left pixel rect, as produced by image
// libraries, into the model's normalized convention. transform.Denormalize
// flips it back when projecting to the screen.
func FromPixelRect(r geometry.Rect, imageSize geometry.Size) geometry.Rect {
	return transform.FlipVertical(NormalizeRect(r, imageSize))
}

// Package scan turns per-frame detector output into the published
// DetectionResult and decides when a new result is worth publishing.
package scan

import (
	"github.com/ayusman/scanpipe/internal/detector"
	"github.com/ayusman/scanpipe/internal/geometry"
	"github.com/ayusman/scanpipe/internal/transform"
)

// Frame is the detector-space outcome of one processed frame. Rects are
// normalized.
type Frame struct {
	ImageSize geometry.Size
	Barcode   *detector.Barcode
	Boxes     []detector.BoundingBox
}

// IsEmpty reports whether the frame found neither a barcode nor a box.
func (f Frame) IsEmpty() bool {
	return f.Barcode == nil && len(f.Boxes) == 0
}

// DetectionResult is the published, screen-space result.
type DetectionResult struct {
	Barcode     *string                `json:"barcode,omitempty"`
	BarcodeRect *geometry.Rect         `json:"barcodeRect,omitempty"`
	Boxes       []detector.BoundingBox `json:"boxes"`
}

// IsEmpty reports whether the result carries no barcode and no boxes.
func (r DetectionResult) IsEmpty() bool {
	return r.Barcode == nil && len(r.Boxes) == 0
}

// Payload returns the barcode payload, if any.
func (r DetectionResult) Payload() (string, bool) {
	if r.Barcode == nil {
		return "", false
	}
	return *r.Barcode, true
}

// SamePayload reports whether both results carry the same barcode payload,
// or both carry none.
func (r DetectionResult) SamePayload(o DetectionResult) bool {
	a, aok := r.Payload()
	b, bok := o.Payload()
	return aok == bok && a == b
}

// SameGeometry reports whether both results draw the same overlay. Box IDs
// and scores are ignored.
func (r DetectionResult) SameGeometry(o DetectionResult) bool {
	switch {
	case (r.BarcodeRect == nil) != (o.BarcodeRect == nil):
		return false
	case r.BarcodeRect != nil && *r.BarcodeRect != *o.BarcodeRect:
		return false
	case len(r.Boxes) != len(o.Boxes):
		return false
	}
	for i := range r.Boxes {
		if !r.Boxes[i].SameGeometry(o.Boxes[i]) {
			return false
		}
	}
	return true
}

// Layout is everything needed to project detector space into a container.
type Layout struct {
	ContainerSize geometry.Size        `json:"containerSize"`
	ContentMode   geometry.ContentMode `json:"contentMode"`
	Orientation   geometry.Orientation `json:"orientation"`
}

// Project maps every rect of f into the layout's container. It is the only
// route from detector space to screen space for both the live overlay and
// captured photos.
func (l Layout) Project(f Frame) DetectionResult {
	project := func(r geometry.Rect) geometry.Rect {
		return transform.ToScreenRect(r, f.ImageSize, l.ContainerSize, l.ContentMode, l.Orientation)
	}

	res := DetectionResult{Boxes: make([]detector.BoundingBox, len(f.Boxes))}
	if f.Barcode != nil {
		payload := f.Barcode.Payload
		rect := project(f.Barcode.Rect)
		res.Barcode = &payload
		res.BarcodeRect = &rect
	}
	for i, b := range f.Boxes {
		b.Rect = project(b.Rect)
		res.Boxes[i] = b
	}
	return res
}

// PhotoLayout projects into the pixel space of a captured photo.
func PhotoLayout(photoSize geometry.Size) Layout {
	return Layout{
		ContainerSize: photoSize,
		ContentMode:   geometry.Fill,
		Orientation:   geometry.Portrait,
	}
}

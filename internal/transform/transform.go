// Package transform maps normalized detector-space rectangles into the
// coordinate space of the container they are drawn into.
//
// The pipeline is PlaceImage -> Denormalize -> RotateForOrientation, composed
// by ToScreenRect. Every function here is pure and safe for concurrent use.
package transform

import "github.com/ayusman/scanpipe/internal/geometry"

// PlaceImage computes where an image of imageSize is drawn inside
// containerSize under the given content mode.
//
// Fill uses the larger uniform scale so the image covers the container; the
// result may extend past the container bounds. Fit uses the smaller scale so
// the whole image is visible, leaving bars on two sides. In both cases the
// image is centered. Empty sizes yield a zero rect.
func PlaceImage(imageSize, containerSize geometry.Size, mode geometry.ContentMode) geometry.Rect {
	if imageSize.IsEmpty() || containerSize.IsEmpty() {
		return geometry.Rect{}
	}

	imageAspect := imageSize.Aspect()
	containerAspect := containerSize.Aspect()
	wider := imageAspect > containerAspect

	var scale float64
	switch mode {
	case geometry.Fit:
		if wider {
			scale = containerSize.Width / imageSize.Width
		} else {
			scale = containerSize.Height / imageSize.Height
		}
	default:
		if wider {
			scale = containerSize.Height / imageSize.Height
		} else {
			scale = containerSize.Width / imageSize.Width
		}
	}

	w := imageSize.Width * scale
	h := imageSize.Height * scale
	return geometry.Rect{
		X:      (containerSize.Width - w) / 2,
		Y:      (containerSize.Height - h) / 2,
		Width:  w,
		Height: h,
	}
}

// FlipVertical mirrors a normalized rect across the horizontal midline
// (y' = 1 - y - height). It converts between the detector's top-left origin
// and the placement rect's vertical convention.
func FlipVertical(normalized geometry.Rect) geometry.Rect {
	return geometry.Rect{
		X:      normalized.X,
		Y:      1 - normalized.Y - normalized.Height,
		Width:  normalized.Width,
		Height: normalized.Height,
	}
}

// Denormalize maps a normalized detector rect onto the placed image rect.
func Denormalize(normalized, placed geometry.Rect) geometry.Rect {
	return FlipVertical(normalized).
		Scale(placed.Width, placed.Height).
		Offset(placed.X, placed.Y)
}

// RotateForOrientation rotates a rect computed in portrait coordinates into
// the device's current orientation. referenceSize is the portrait space the
// rect was computed in.
//
// PortraitUpsideDown is treated as Portrait.
func RotateForOrientation(r geometry.Rect, o geometry.Orientation, referenceSize geometry.Size) geometry.Rect {
	switch o {
	case geometry.LandscapeRight:
		return geometry.Rect{
			X:      r.Y,
			Y:      referenceSize.Width - r.X - r.Width,
			Width:  r.Height,
			Height: r.Width,
		}
	case geometry.LandscapeLeft:
		return geometry.Rect{
			X:      referenceSize.Height - r.Y - r.Height,
			Y:      r.X,
			Width:  r.Height,
			Height: r.Width,
		}
	default:
		return r
	}
}

// ToScreenRect maps a normalized detector rect to container space.
// It is the only supported path from detector space to screen space.
func ToScreenRect(
	normalized geometry.Rect,
	imageSize, containerSize geometry.Size,
	mode geometry.ContentMode,
	o geometry.Orientation,
) geometry.Rect {
	placed := PlaceImage(imageSize, containerSize, mode)
	return RotateForOrientation(Denormalize(normalized, placed), o, containerSize)
}

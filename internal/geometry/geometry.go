// Package geometry provides the value types shared by the detection pipeline:
// points, sizes, rectangles, device orientation and content placement modes.
package geometry

import (
	"encoding/json"
	"fmt"
)

// Point is a location in some 2D coordinate space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is a width/height pair.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// IsEmpty reports whether either dimension is non-positive.
func (s Size) IsEmpty() bool {
	return s.Width <= 0 || s.Height <= 0
}

// Aspect returns width divided by height, or 0 for an empty size.
func (s Size) Aspect() float64 {
	if s.IsEmpty() {
		return 0
	}
	return s.Width / s.Height
}

// Rect is an origin plus a size. Normalized rects live in [0,1]x[0,1] with a
// top-left origin and y increasing downward.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// UnitRect is the full normalized space.
var UnitRect = Rect{X: 0, Y: 0, Width: 1, Height: 1}

// MinX returns the smallest x coordinate of the rectangle.
func (r Rect) MinX() float64 { return r.X }

// MaxX returns the largest x coordinate of the rectangle.
func (r Rect) MaxX() float64 { return r.X + r.Width }

// MinY returns the smallest y coordinate of the rectangle.
func (r Rect) MinY() float64 { return r.Y }

// MaxY returns the largest y coordinate of the rectangle.
func (r Rect) MaxY() float64 { return r.Y + r.Height }

// Area returns width times height. Rects with a negative dimension report 0.
func (r Rect) Area() float64 {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return r.Width * r.Height
}

// IsEmpty reports whether the rect has non-positive area.
func (r Rect) IsEmpty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Center returns the midpoint of the rect.
func (r Rect) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// Size returns the rect's dimensions.
func (r Rect) Size() Size {
	return Size{Width: r.Width, Height: r.Height}
}

// Intersect returns the overlapping region of r and o. Disjoint rects yield a
// zero-size rect positioned at the would-be overlap origin.
func (r Rect) Intersect(o Rect) Rect {
	x := max(r.MinX(), o.MinX())
	y := max(r.MinY(), o.MinY())
	w := max(0, min(r.MaxX(), o.MaxX())-x)
	h := max(0, min(r.MaxY(), o.MaxY())-y)
	return Rect{X: x, Y: y, Width: w, Height: h}
}

// Scale multiplies every component by the given factors.
func (r Rect) Scale(sx, sy float64) Rect {
	return Rect{X: r.X * sx, Y: r.Y * sy, Width: r.Width * sx, Height: r.Height * sy}
}

// Offset translates the rect by (dx, dy).
func (r Rect) Offset(dx, dy float64) Rect {
	return Rect{X: r.X + dx, Y: r.Y + dy, Width: r.Width, Height: r.Height}
}

// String implements fmt.Stringer.
func (r Rect) String() string {
	return fmt.Sprintf("(%.2f, %.2f, %.2f, %.2f)", r.X, r.Y, r.Width, r.Height)
}

// Orientation is the physical orientation of the device.
type Orientation int

const (
	// Portrait is the camera's native orientation.
	Portrait Orientation = iota
	// PortraitUpsideDown is portrait rotated 180 degrees.
	PortraitUpsideDown
	// LandscapeLeft is the device rotated with the home edge on the right.
	LandscapeLeft
	// LandscapeRight is the device rotated with the home edge on the left.
	LandscapeRight
)

var orientationNames = map[Orientation]string{
	Portrait:           "portrait",
	PortraitUpsideDown: "portraitUpsideDown",
	LandscapeLeft:      "landscapeLeft",
	LandscapeRight:     "landscapeRight",
}

// String implements fmt.Stringer.
func (o Orientation) String() string {
	if name, ok := orientationNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Orientation(%d)", int(o))
}

// IsLandscape reports whether the orientation is rotated 90 degrees from portrait.
func (o Orientation) IsLandscape() bool {
	return o == LandscapeLeft || o == LandscapeRight
}

// ParseOrientation parses the names produced by Orientation.String.
func ParseOrientation(s string) (Orientation, error) {
	for o, name := range orientationNames {
		if name == s {
			return o, nil
		}
	}
	return Portrait, fmt.Errorf("unknown orientation %q", s)
}

// MarshalJSON encodes the orientation by name.
func (o Orientation) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// UnmarshalJSON decodes an orientation name.
func (o *Orientation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseOrientation(s)
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// ContentMode governs how an image is placed inside a container of a
// different aspect ratio.
type ContentMode int

const (
	// Fill scales the image to cover the container, cropping the overflow.
	Fill ContentMode = iota
	// Fit scales the image to fit inside the container, letterboxing the rest.
	Fit
)

// String implements fmt.Stringer.
func (m ContentMode) String() string {
	switch m {
	case Fill:
		return "fill"
	case Fit:
		return "fit"
	default:
		return fmt.Sprintf("ContentMode(%d)", int(m))
	}
}

// ParseContentMode parses "fill" or "fit".
func ParseContentMode(s string) (ContentMode, error) {
	switch s {
	case "fill":
		return Fill, nil
	case "fit":
		return Fit, nil
	default:
		return Fill, fmt.Errorf("unknown content mode %q", s)
	}
}

// MarshalJSON encodes the content mode by name.
func (m ContentMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON decodes a content mode name.
func (m *ContentMode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseContentMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

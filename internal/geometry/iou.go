package geometry

// IOU returns the intersection-over-union of a and b.
// Degenerate rects (non-positive area) yield 0 rather than an error.
func IOU(a, b Rect) float32 {
	areaA := a.Area()
	areaB := b.Area()
	if areaA <= 0 || areaB <= 0 {
		return 0
	}

	iw := max(0, min(a.MaxX(), b.MaxX())-max(a.MinX(), b.MinX()))
	ih := max(0, min(a.MaxY(), b.MaxY())-max(a.MinY(), b.MinY()))
	intersection := iw * ih
	if intersection <= 0 {
		return 0
	}

	return float32(intersection / (areaA + areaB - intersection))
}

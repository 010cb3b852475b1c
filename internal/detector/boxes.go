package detector

import (
	"github.com/google/uuid"

	"github.com/ayusman/scanpipe/internal/geometry"
)

// BoundingBox is a detection instance flowing through the pipeline.
// ID is unique per instance and is not stable across frames.
type BoundingBox struct {
	ID         string        `json:"id"`
	ClassIndex int           `json:"classIndex"`
	Score      float32       `json:"score"`
	Rect       geometry.Rect `json:"rect"`
}

// SameGeometry reports whether two boxes describe the same class at the same
// place. IDs and scores are ignored.
func (b BoundingBox) SameGeometry(o BoundingBox) bool {
	return b.ClassIndex == o.ClassIndex && b.Rect == o.Rect
}

// NewBoundingBoxes assigns a fresh ID to every raw detection.
func NewBoundingBoxes(detections []RawDetection) []BoundingBox {
	boxes := make([]BoundingBox, len(detections))
	for i, d := range detections {
		boxes[i] = BoundingBox{
			ID:         uuid.NewString(),
			ClassIndex: d.ClassIndex,
			Score:      d.Score,
			Rect:       d.Rect,
		}
	}
	return boxes
}

package detector

import (
	"sort"

	"github.com/ayusman/scanpipe/internal/geometry"
)

// Suppress performs greedy non-max suppression and returns the indices of
// the surviving boxes in selection order (highest score first).
//
// Suppression is class-agnostic: a box of one class suppresses an overlapping
// lower-scoring box of any other class. Equal scores keep their input order.
// A candidate is rejected when its IOU with any selected box exceeds
// iouThreshold. At most maxBoxes indices are returned.
func Suppress(boxes []BoundingBox, iouThreshold float32, maxBoxes int) []int {
	order := make([]int, len(boxes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return boxes[order[i]].Score > boxes[order[j]].Score
	})

	selected := make([]int, 0, min(len(boxes), max(maxBoxes, 0)))
	for _, candidate := range order {
		if len(selected) >= maxBoxes {
			break
		}

		keep := true
		for _, s := range selected {
			if geometry.IOU(boxes[candidate].Rect, boxes[s].Rect) > iouThreshold {
				keep = false
				break
			}
		}
		if keep {
			selected = append(selected, candidate)
		}
	}

	return selected
}

// SuppressBoxes is Suppress returning the surviving boxes themselves.
func SuppressBoxes(boxes []BoundingBox, iouThreshold float32, maxBoxes int) []BoundingBox {
	keep := Suppress(boxes, iouThreshold, maxBoxes)
	out := make([]BoundingBox, len(keep))
	for i, idx := range keep {
		out[i] = boxes[idx]
	}
	return out
}

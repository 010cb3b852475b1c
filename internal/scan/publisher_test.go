package scan

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/scanpipe/internal/detector"
	"github.com/ayusman/scanpipe/internal/dispatch"
	"github.com/ayusman/scanpipe/internal/geometry"
	"github.com/ayusman/scanpipe/internal/transform"
)

var (
	phone = geometry.Size{Width: 390, Height: 844}
	hd    = geometry.Size{Width: 1920, Height: 1080}
)

type countingRecorder struct {
	published  atomic.Int64
	suppressed atomic.Int64
}

func (r *countingRecorder) ResultPublished()  { r.published.Add(1) }
func (r *countingRecorder) ResultSuppressed() { r.suppressed.Add(1) }

type harness struct {
	pub  *Publisher
	main *dispatch.Queue
	rec  *countingRecorder

	mu  sync.Mutex
	got []DetectionResult
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		main: dispatch.NewQueue("main"),
		rec:  &countingRecorder{},
	}
	t.Cleanup(h.main.Close)

	h.pub = NewPublisher(Options{
		Main:    h.main,
		Layout:  Layout{ContainerSize: phone, ContentMode: geometry.Fill, Orientation: geometry.Portrait},
		Metrics: h.rec,
	})
	h.pub.Subscribe(func(r DetectionResult) {
		h.mu.Lock()
		h.got = append(h.got, r)
		h.mu.Unlock()
	})
	return h
}

func (h *harness) published(t *testing.T) []DetectionResult {
	t.Helper()
	require.NoError(t, h.main.Flush(context.Background()))
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]DetectionResult, len(h.got))
	copy(out, h.got)
	return out
}

func boxFrame(rects ...geometry.Rect) Frame {
	raws := make([]detector.RawDetection, len(rects))
	for i, r := range rects {
		raws[i] = detector.RawDetection{ClassIndex: 0, Score: 0.9, Rect: r}
	}
	return Frame{ImageSize: hd, Boxes: detector.NewBoundingBoxes(raws)}
}

func barcodeFrame(payload string, rect geometry.Rect, boxes ...geometry.Rect) Frame {
	f := boxFrame(boxes...)
	f.Barcode = &detector.Barcode{Payload: payload, Rect: rect}
	return f
}

func TestPublisher_EmptyPublishesOnce(t *testing.T) {
	h := newHarness(t)

	assert.True(t, h.pub.Submit(Frame{ImageSize: hd}))
	assert.False(t, h.pub.Submit(Frame{ImageSize: hd}))
	assert.False(t, h.pub.Submit(Frame{ImageSize: hd}))

	got := h.published(t)
	require.Len(t, got, 1)
	assert.True(t, got[0].IsEmpty())
	assert.Equal(t, int64(1), h.rec.published.Load())
	assert.Equal(t, int64(2), h.rec.suppressed.Load())
}

func TestPublisher_MovingBoxesPublishEveryFrame(t *testing.T) {
	h := newHarness(t)
	code := geometry.Rect{X: 0.4, Y: 0.4, Width: 0.2, Height: 0.1}

	for i := 0; i < 5; i++ {
		box := geometry.Rect{X: 0.1 + float64(i)*0.05, Y: 0.2, Width: 0.3, Height: 0.3}
		assert.True(t, h.pub.Submit(barcodeFrame("0123456789012", code, box)), "frame %d", i)
	}

	got := h.published(t)
	require.Len(t, got, 5)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i].SamePayload(got[i-1]))
		assert.False(t, got[i].SameGeometry(got[i-1]))
	}
}

func TestPublisher_IdenticalFrameSuppressed(t *testing.T) {
	h := newHarness(t)
	box := geometry.Rect{X: 0.1, Y: 0.1, Width: 0.2, Height: 0.2}

	assert.True(t, h.pub.Submit(boxFrame(box)))
	// Fresh box IDs alone do not make a new result.
	assert.False(t, h.pub.Submit(boxFrame(box)))

	assert.Len(t, h.published(t), 1)
}

func TestPublisher_BarcodeChangePublishes(t *testing.T) {
	h := newHarness(t)
	rect := geometry.Rect{X: 0.4, Y: 0.4, Width: 0.2, Height: 0.1}

	assert.True(t, h.pub.Submit(barcodeFrame("A", rect)))
	assert.False(t, h.pub.Submit(barcodeFrame("A", rect)))
	assert.True(t, h.pub.Submit(barcodeFrame("B", rect)))
	assert.True(t, h.pub.Submit(Frame{ImageSize: hd}))

	got := h.published(t)
	require.Len(t, got, 3)

	payload, ok := got[1].Payload()
	require.True(t, ok)
	assert.Equal(t, "B", payload)
	assert.True(t, got[2].IsEmpty())
}

func TestPublisher_ProjectsThroughTransform(t *testing.T) {
	h := newHarness(t)
	norm := geometry.Rect{X: 0.45, Y: 0.45, Width: 0.1, Height: 0.1}
	code := geometry.Rect{X: 0.2, Y: 0.3, Width: 0.1, Height: 0.05}

	h.pub.Submit(barcodeFrame("X", code, norm))
	got := h.published(t)
	require.Len(t, got, 1)

	want := transform.ToScreenRect(norm, hd, phone, geometry.Fill, geometry.Portrait)
	assert.Equal(t, want, got[0].Boxes[0].Rect)
	assert.Equal(t, transform.ToScreenRect(code, hd, phone, geometry.Fill, geometry.Portrait), *got[0].BarcodeRect)

	center := got[0].Boxes[0].Rect.Center()
	assert.InDelta(t, 195, center.X, 1e-6)
	assert.InDelta(t, 422, center.Y, 1e-6)
}

func TestPublisher_OrientationRecomputes(t *testing.T) {
	h := newHarness(t)
	box := geometry.Rect{X: 0.1, Y: 0.2, Width: 0.3, Height: 0.1}

	assert.False(t, h.pub.SetOrientation(geometry.LandscapeRight), "no held frame yet")

	h.pub.SetOrientation(geometry.Portrait)
	require.True(t, h.pub.Submit(boxFrame(box)))

	assert.True(t, h.pub.SetOrientation(geometry.LandscapeRight))
	assert.False(t, h.pub.SetOrientation(geometry.LandscapeRight), "recompute is idempotent")

	got := h.published(t)
	require.Len(t, got, 2)

	portrait := transform.ToScreenRect(box, hd, phone, geometry.Fill, geometry.Portrait)
	assert.Equal(t, transform.RotateForOrientation(portrait, geometry.LandscapeRight, phone), got[1].Boxes[0].Rect)
	assert.Equal(t, geometry.LandscapeRight, h.pub.Layout().Orientation)
}

func TestPublisher_UpsideDownMatchesPortrait(t *testing.T) {
	h := newHarness(t)
	h.pub.Submit(boxFrame(geometry.Rect{X: 0.1, Y: 0.2, Width: 0.3, Height: 0.1}))

	assert.False(t, h.pub.SetOrientation(geometry.PortraitUpsideDown))
	assert.Len(t, h.published(t), 1)
}

func TestPublisher_SetLayout(t *testing.T) {
	h := newHarness(t)
	h.pub.Submit(boxFrame(geometry.Rect{X: 0, Y: 0, Width: 1, Height: 1}))

	layout := Layout{ContainerSize: geometry.Size{Width: 1920, Height: 1080}, ContentMode: geometry.Fit}
	assert.True(t, h.pub.SetLayout(layout))

	got := h.published(t)
	require.Len(t, got, 2)
	assert.Equal(t, geometry.Rect{X: 0, Y: 0, Width: 1920, Height: 1080}, got[1].Boxes[0].Rect)
}

func TestPublisher_Latest(t *testing.T) {
	h := newHarness(t)
	assert.True(t, h.pub.Latest().IsEmpty())
	assert.NotNil(t, h.pub.Latest().Boxes)

	h.pub.Submit(barcodeFrame("L", geometry.Rect{X: 0.1, Y: 0.1, Width: 0.1, Height: 0.1}))
	h.published(t)

	payload, ok := h.pub.Latest().Payload()
	require.True(t, ok)
	assert.Equal(t, "L", payload)
}

func TestPublisher_Overlay(t *testing.T) {
	h := newHarness(t)
	photo := geometry.Size{Width: 1000, Height: 800}

	assert.True(t, h.pub.Overlay(photo).IsEmpty())

	code := detector.FromPixelRect(geometry.Rect{X: 100, Y: 80, Width: 500, Height: 200}, photo)
	h.pub.Submit(barcodeFrame("P", code))

	overlay := h.pub.Overlay(photo)
	require.NotNil(t, overlay.BarcodeRect)
	assert.InDelta(t, 100, overlay.BarcodeRect.X, 1e-9)
	assert.InDelta(t, 80, overlay.BarcodeRect.Y, 1e-9)
	assert.InDelta(t, 500, overlay.BarcodeRect.Width, 1e-9)
	assert.InDelta(t, 200, overlay.BarcodeRect.Height, 1e-9)
}

func TestPublisher_Reset(t *testing.T) {
	h := newHarness(t)

	assert.True(t, h.pub.Submit(Frame{ImageSize: hd}))
	h.pub.Reset()
	assert.True(t, h.pub.Submit(Frame{ImageSize: hd}))
	assert.False(t, h.pub.SetOrientation(geometry.LandscapeLeft))
}

func TestPublisher_Unsubscribe(t *testing.T) {
	h := newHarness(t)

	calls := 0
	unsubscribe := h.pub.Subscribe(func(DetectionResult) { calls++ })
	unsubscribe()

	h.pub.Submit(Frame{ImageSize: hd})
	h.published(t)
	assert.Equal(t, 0, calls)
}

func TestDetectionResult_SameGeometry(t *testing.T) {
	a := geometry.Rect{X: 1, Y: 2, Width: 3, Height: 4}
	b := geometry.Rect{X: 2, Y: 2, Width: 3, Height: 4}

	tests := []struct {
		name string
		x, y DetectionResult
		want bool
	}{
		{"both empty", DetectionResult{}, DetectionResult{}, true},
		{"barcode rect vs none", DetectionResult{BarcodeRect: &a}, DetectionResult{}, false},
		{"barcode rect moved", DetectionResult{BarcodeRect: &a}, DetectionResult{BarcodeRect: &b}, false},
		{"ids ignored",
			DetectionResult{Boxes: []detector.BoundingBox{{ID: "1", Rect: a}}},
			DetectionResult{Boxes: []detector.BoundingBox{{ID: "2", Rect: a}}}, true},
		{"class differs",
			DetectionResult{Boxes: []detector.BoundingBox{{ClassIndex: 1, Rect: a}}},
			DetectionResult{Boxes: []detector.BoundingBox{{ClassIndex: 2, Rect: a}}}, false},
		{"count differs",
			DetectionResult{Boxes: []detector.BoundingBox{{Rect: a}}},
			DetectionResult{Boxes: []detector.BoundingBox{{Rect: a}, {Rect: b}}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.x.SameGeometry(tt.y))
		})
	}
}

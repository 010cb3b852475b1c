package opencv

import (
	"math"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/scanpipe/internal/capture"
	"github.com/ayusman/scanpipe/internal/detector"
	"github.com/ayusman/scanpipe/internal/geometry"
)

// QRDecoder implements detector.BarcodeDecoder with the OpenCV QR code
// detector.
type QRDecoder struct {
	mu     sync.Mutex
	qr     gocv.QRCodeDetector
	closed bool
}

// NewQRDecoder creates a QR decoder. Close releases its native resources.
func NewQRDecoder() *QRDecoder {
	return &QRDecoder{qr: gocv.NewQRCodeDetector()}
}

// Decode looks for a QR code in frame.
func (d *QRDecoder) Decode(frame capture.Frame) (detector.Barcode, bool, error) {
	mat, err := toMat(frame.Image)
	defer mat.Close()
	if err != nil {
		return detector.Barcode{}, false, err
	}

	points := gocv.NewMat()
	defer points.Close()
	straight := gocv.NewMat()
	defer straight.Close()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return detector.Barcode{}, false, nil
	}
	payload := d.qr.DetectAndDecode(mat, &points, &straight)
	d.mu.Unlock()

	if payload == "" {
		return detector.Barcode{}, false, nil
	}

	size := geometry.Size{Width: float64(mat.Cols()), Height: float64(mat.Rows())}
	return detector.Barcode{
		Payload: payload,
		Rect:    detector.FromPixelRect(pointBounds(cornerPoints(points)), size),
	}, true, nil
}

// Close releases the detector.
func (d *QRDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.qr.Close()
}

// cornerPoints reads the CV_32FC2 corner Mat produced by the QR detector.
func cornerPoints(points gocv.Mat) []geometry.Point {
	if points.Empty() {
		return nil
	}
	n := points.Cols()
	byRow := points.Rows() > 1
	if byRow {
		n = points.Rows()
	}

	out := make([]geometry.Point, 0, n)
	for i := 0; i < n; i++ {
		var v gocv.Vecf
		if byRow {
			v = points.GetVecfAt(i, 0)
		} else {
			v = points.GetVecfAt(0, i)
		}
		if len(v) < 2 {
			continue
		}
		out = append(out, geometry.Point{X: float64(v[0]), Y: float64(v[1])})
	}
	return out
}

// pointBounds returns the smallest rect containing pts.
func pointBounds(pts []geometry.Point) geometry.Rect {
	if len(pts) == 0 {
		return geometry.Rect{}
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range pts {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return geometry.Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

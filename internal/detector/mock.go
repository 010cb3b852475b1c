package detector

import (
	"sync"

	"github.com/ayusman/scanpipe/internal/capture"
	"github.com/ayusman/scanpipe/internal/geometry"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results.
type MockDetector struct {
	mu         sync.Mutex
	detections []RawDetection
	err        error
	calls      int
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetDetections sets the detections that will be returned by Detect.
func (m *MockDetector) SetDetections(detections []RawDetection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detections = detections
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Detect has been invoked.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Detect returns the pre-configured detections or error.
func (m *MockDetector) Detect(frame capture.Frame) ([]RawDetection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.detections, nil
}

// Close is a no-op for the mock detector.
func (m *MockDetector) Close() error {
	return nil
}

// MockDecoder is a test implementation of the BarcodeDecoder interface.
type MockDecoder struct {
	mu      sync.Mutex
	barcode *Barcode
	err     error
}

// NewMockDecoder creates a new MockDecoder that finds nothing.
func NewMockDecoder() *MockDecoder {
	return &MockDecoder{}
}

// SetBarcode sets the barcode returned by Decode. nil means none found.
func (m *MockDecoder) SetBarcode(b *Barcode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.barcode = b
}

// SetError sets the error that will be returned by Decode.
func (m *MockDecoder) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Decode returns the pre-configured barcode or error.
func (m *MockDecoder) Decode(frame capture.Frame) (Barcode, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return Barcode{}, false, m.err
	}
	if m.barcode == nil {
		return Barcode{}, false, nil
	}
	return *m.barcode, true, nil
}

// Close is a no-op for the mock decoder.
func (m *MockDecoder) Close() error {
	return nil
}

// NutritionTableDetections returns a preset frame of proposals: a
// high-scoring table with an overlapping duplicate and one unrelated box.
func NutritionTableDetections() []RawDetection {
	return []RawDetection{
		{ClassIndex: 0, Score: 0.92, Rect: geometry.Rect{X: 0.20, Y: 0.30, Width: 0.40, Height: 0.30}},
		{ClassIndex: 0, Score: 0.81, Rect: geometry.Rect{X: 0.22, Y: 0.31, Width: 0.40, Height: 0.30}},
		{ClassIndex: 1, Score: 0.75, Rect: geometry.Rect{X: 0.70, Y: 0.05, Width: 0.15, Height: 0.10}},
	}
}

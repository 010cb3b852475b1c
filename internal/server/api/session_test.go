package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/ayusman/scanpipe/internal/app"
	"github.com/ayusman/scanpipe/internal/capture"
	"github.com/ayusman/scanpipe/internal/geometry"
	"github.com/ayusman/scanpipe/internal/scan"
)

// fakeScanner records calls and returns canned values.
type fakeScanner struct {
	status      capture.Status
	result      scan.DetectionResult
	layout      scan.Layout
	shot        *app.Shot
	err         error
	calls       []string
	zoom        float64
	focus       geometry.Point
	orientation geometry.Orientation
}

func (f *fakeScanner) call(name string) error {
	f.calls = append(f.calls, name)
	return f.err
}

func (f *fakeScanner) Start(context.Context) error        { return f.call("start") }
func (f *fakeScanner) Stop(context.Context) error         { return f.call("stop") }
func (f *fakeScanner) ChangeCamera(context.Context) error { return f.call("camera") }

func (f *fakeScanner) SetZoom(_ context.Context, factor float64) error {
	f.zoom = factor
	return f.call("zoom")
}

func (f *fakeScanner) Focus(_ context.Context, p geometry.Point) error {
	f.focus = p
	return f.call("focus")
}

func (f *fakeScanner) CapturePhoto(context.Context) (*app.Shot, error) {
	if err := f.call("photo"); err != nil {
		return nil, err
	}
	return f.shot, nil
}

func (f *fakeScanner) SetOrientation(o geometry.Orientation) { f.orientation = o }
func (f *fakeScanner) SetLayout(l scan.Layout)               { f.layout = l }
func (f *fakeScanner) Layout() scan.Layout                   { return f.layout }
func (f *fakeScanner) Status() capture.Status                { return f.status }
func (f *fakeScanner) Result() scan.DetectionResult          { return f.result }

func TestSessionHandler_Status(t *testing.T) {
	sc := &fakeScanner{status: capture.Status{
		State:               capture.StateInterrupted,
		Interruption:        capture.InterruptionInBackground,
		Setup:               capture.SetupSuccess,
		Position:            capture.PositionBack,
		IsCameraUnavailable: true,
	}}

	rec := do(t, NewSessionHandler(sc), http.MethodGet, "/api/session", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got StatusResponse
	decode(t, rec, &got)

	want := StatusResponse{
		State:             "interrupted",
		Interruption:      "inBackground",
		Setup:             "success",
		Position:          "back",
		Pressure:          "nominal",
		CameraUnavailable: true,
	}
	if got != want {
		t.Errorf("status = %+v, want %+v", got, want)
	}
}

func TestToStatusResponse_Failure(t *testing.T) {
	got := ToStatusResponse(capture.Status{
		State:     capture.StateFailed,
		Failure:   capture.FailureRuntimeError,
		LastError: errors.New("sensor unplugged"),
	})
	if got.Failure != "runtimeError" || got.Error != "sensor unplugged" || got.Interruption != "" {
		t.Errorf("status = %+v", got)
	}
}

func TestSessionHandler_Commands(t *testing.T) {
	tests := []struct {
		path string
		call string
	}{
		{"/api/session/start", "start"},
		{"/api/session/stop", "stop"},
		{"/api/session/camera", "camera"},
	}

	for _, tt := range tests {
		t.Run(tt.call, func(t *testing.T) {
			sc := &fakeScanner{status: capture.Status{State: capture.StateRunning}}
			rec := do(t, NewSessionHandler(sc), http.MethodPost, tt.path, nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
			}
			if len(sc.calls) != 1 || sc.calls[0] != tt.call {
				t.Errorf("calls = %v", sc.calls)
			}
			var got StatusResponse
			decode(t, rec, &got)
			if got.State != "running" {
				t.Errorf("state = %q", got.State)
			}
		})
	}
}

func TestSessionHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{capture.ErrNotAuthorized, http.StatusForbidden},
		{capture.ErrNotRunning, http.StatusConflict},
		{capture.ErrNotConfigured, http.StatusConflict},
		{fmt.Errorf("switch: %w", capture.ErrNoAlternateCamera), http.StatusConflict},
		{capture.ErrNoCamera, http.StatusServiceUnavailable},
		{capture.ErrSessionClosed, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			sc := &fakeScanner{err: tt.err}
			rec := do(t, NewSessionHandler(sc), http.MethodPost, "/api/session/camera", nil)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			var resp errorResponse
			decode(t, rec, &resp)
			if resp.Error != tt.err.Error() {
				t.Errorf("error = %q", resp.Error)
			}
		})
	}
}

func TestSessionHandler_Zoom(t *testing.T) {
	sc := &fakeScanner{}
	handler := NewSessionHandler(sc)

	if rec := do(t, handler, http.MethodPost, "/api/session/zoom", map[string]float64{"factor": 2.5}); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if sc.zoom != 2.5 {
		t.Errorf("zoom = %v", sc.zoom)
	}

	for _, body := range []any{"{", map[string]float64{"factor": 0}} {
		if rec := do(t, handler, http.MethodPost, "/api/session/zoom", body); rec.Code != http.StatusBadRequest {
			t.Errorf("body %v: status = %d", body, rec.Code)
		}
	}
}

func TestSessionHandler_Focus(t *testing.T) {
	sc := &fakeScanner{}
	handler := NewSessionHandler(sc)

	if rec := do(t, handler, http.MethodPost, "/api/session/focus", geometry.Point{X: 0.25, Y: 0.75}); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if sc.focus != (geometry.Point{X: 0.25, Y: 0.75}) {
		t.Errorf("focus = %+v", sc.focus)
	}

	if rec := do(t, handler, http.MethodPost, "/api/session/focus", geometry.Point{X: 1.5}); rec.Code != http.StatusBadRequest {
		t.Errorf("out of range status = %d", rec.Code)
	}
}

func TestSessionHandler_Photo(t *testing.T) {
	payload := "4006381333931"
	sc := &fakeScanner{shot: &app.Shot{
		Photo: &capture.Photo{ID: "p1", Data: []byte{0xff, 0xd8}, Width: 1920, Height: 1080},
		Overlay: scan.DetectionResult{
			Barcode: &payload,
			Boxes:   nil,
		},
	}}

	rec := do(t, NewSessionHandler(sc), http.MethodPost, "/api/session/photo", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got photoResponse
	decode(t, rec, &got)
	if got.ID != "p1" || got.Width != 1920 || string(got.Image) != "\xff\xd8" {
		t.Errorf("photo = %+v", got)
	}
	if p, ok := got.Overlay.Payload(); !ok || p != payload {
		t.Errorf("overlay payload = %q, %v", p, ok)
	}

	sc.err = capture.ErrNotRunning
	if rec := do(t, NewSessionHandler(sc), http.MethodPost, "/api/session/photo", nil); rec.Code != http.StatusConflict {
		t.Errorf("not running status = %d", rec.Code)
	}
}

func TestSessionHandler_Layout(t *testing.T) {
	sc := &fakeScanner{}
	handler := NewSessionHandler(sc)

	rec := do(t, handler, http.MethodPut, "/api/session/layout",
		`{"containerSize":{"width":390,"height":844},"contentMode":"fit","orientation":"landscapeLeft"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	want := scan.Layout{
		ContainerSize: geometry.Size{Width: 390, Height: 844},
		ContentMode:   geometry.Fit,
		Orientation:   geometry.LandscapeLeft,
	}
	if sc.layout != want {
		t.Errorf("layout = %+v, want %+v", sc.layout, want)
	}

	rec = do(t, handler, http.MethodGet, "/api/session/layout", nil)
	var got scan.Layout
	decode(t, rec, &got)
	if got != want {
		t.Errorf("GET layout = %+v", got)
	}

	for _, body := range []string{
		`{"containerSize":{"width":0,"height":844}}`,
		`{"containerSize":{"width":1,"height":1},"contentMode":"stretch"}`,
	} {
		if rec := do(t, handler, http.MethodPut, "/api/session/layout", body); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", body, rec.Code)
		}
	}
}

func TestSessionHandler_Orientation(t *testing.T) {
	sc := &fakeScanner{}
	handler := NewSessionHandler(sc)

	if rec := do(t, handler, http.MethodPut, "/api/session/orientation", `{"orientation":"landscapeRight"}`); rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if sc.orientation != geometry.LandscapeRight {
		t.Errorf("orientation = %v", sc.orientation)
	}
	if rec := do(t, handler, http.MethodPut, "/api/session/orientation", `{"orientation":"sideways"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown orientation status = %d", rec.Code)
	}
}

func TestSessionHandler_Result(t *testing.T) {
	payload := "hello"
	rect := geometry.Rect{X: 1, Y: 2, Width: 3, Height: 4}
	sc := &fakeScanner{result: scan.DetectionResult{Barcode: &payload, BarcodeRect: &rect}}

	rec := do(t, NewSessionHandler(sc), http.MethodGet, "/api/session/result", nil)
	var got scan.DetectionResult
	decode(t, rec, &got)
	if p, _ := got.Payload(); p != "hello" || got.BarcodeRect == nil || *got.BarcodeRect != rect {
		t.Errorf("result = %+v", got)
	}
}

func TestSessionHandler_Routing(t *testing.T) {
	handler := NewSessionHandler(&fakeScanner{})

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodPost, "/api/session", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/session/start", http.StatusMethodNotAllowed},
		{http.MethodDelete, "/api/session/layout", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/session/torch", http.StatusNotFound},
	}
	for _, tt := range tests {
		if rec := do(t, handler, tt.method, tt.path, nil); rec.Code != tt.want {
			t.Errorf("%s %s status = %d, want %d", tt.method, tt.path, rec.Code, tt.want)
		}
	}
}

package opencv

import (
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/scanpipe/internal/capture"
	"github.com/ayusman/scanpipe/internal/geometry"
)

func testDevices() map[int]capture.DeviceInfo {
	return map[int]capture.DeviceInfo{
		2: {Name: "Front", Position: capture.PositionFront, Type: capture.DeviceWideAngle},
		0: {ID: "rear", Name: "Rear", Position: capture.PositionBack, Type: capture.DeviceDualCamera},
	}
}

func TestNewCamera(t *testing.T) {
	tests := []struct {
		name       string
		opts       CameraOptions
		wantWidth  int
		wantHeight int
	}{
		{name: "defaults", wantWidth: DefaultWidth, wantHeight: DefaultHeight},
		{name: "custom size", opts: CameraOptions{Width: 640, Height: 480}, wantWidth: 640, wantHeight: 480},
		{name: "partial size", opts: CameraOptions{Width: 640}, wantWidth: DefaultWidth, wantHeight: DefaultHeight},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cam := NewCamera(tt.opts)
			if cam.width != tt.wantWidth || cam.height != tt.wantHeight {
				t.Errorf("size = %dx%d, want %dx%d", cam.width, cam.height, tt.wantWidth, tt.wantHeight)
			}
			if cam.AuthorizationStatus() != capture.AuthorizationAuthorized {
				t.Error("camera should be authorized")
			}
		})
	}
}

func TestCamera_Devices(t *testing.T) {
	cam := NewCamera(CameraOptions{Devices: testDevices()})

	devices, err := cam.Devices()
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("got %d devices, want 2", len(devices))
	}
	if devices[0].ID != "rear" || devices[1].ID != "2" {
		t.Errorf("device IDs = %q, %q; want rear, 2", devices[0].ID, devices[1].ID)
	}
	if cam.devices["2"] != 2 {
		t.Errorf("index for device 2 = %d", cam.devices["2"])
	}
}

func TestCamera_OpenUnknown(t *testing.T) {
	cam := NewCamera(CameraOptions{Devices: testDevices()})
	if _, err := cam.Open("nope"); err == nil {
		t.Error("expected error for unknown camera")
	}
}

type foreignInput struct{ capture.Input }

func TestCamera_Configuration(t *testing.T) {
	cam := NewCamera(CameraOptions{})

	if err := cam.AddInput(foreignInput{}); err == nil {
		t.Error("expected error for foreign input")
	}

	in := &cameraInput{fps: 30}
	if err := cam.AddInput(in); err != nil {
		t.Fatalf("AddInput: %v", err)
	}
	if err := cam.AddInput(&cameraInput{fps: 30}); !errors.Is(err, errInputAttached) {
		t.Errorf("second AddInput = %v, want errInputAttached", err)
	}

	if err := cam.AddOutput(capture.Output{Kind: capture.FrameOutput}); err == nil {
		t.Error("expected error for frame output without handler")
	}
	if err := cam.AddOutput(capture.Output{Kind: capture.PhotoOutput}); err != nil {
		t.Errorf("AddOutput photo: %v", err)
	}
	if err := cam.CommitConfiguration(); err != nil {
		t.Errorf("CommitConfiguration: %v", err)
	}

	cam.RemoveInput(in)
	if cam.input != nil {
		t.Error("input should be detached")
	}
	cam.RemoveOutput(capture.PhotoOutput)
	if len(cam.outputs) != 0 {
		t.Errorf("outputs = %v, want none", cam.outputs)
	}
}

func TestCamera_StartWithoutInput(t *testing.T) {
	cam := NewCamera(CameraOptions{})
	if err := cam.Start(); !errors.Is(err, errNoInput) {
		t.Errorf("Start = %v, want errNoInput", err)
	}
	cam.Stop()
}

func TestCamera_CapturePhotoErrors(t *testing.T) {
	cam := NewCamera(CameraOptions{})
	req := capture.PhotoRequest{ID: "p1", Done: func(capture.Photo, error) {}}

	if err := cam.CapturePhoto(req); !errors.Is(err, errNoPhotoOutput) {
		t.Errorf("CapturePhoto without output = %v, want errNoPhotoOutput", err)
	}

	if err := cam.AddOutput(capture.Output{Kind: capture.PhotoOutput}); err != nil {
		t.Fatal(err)
	}
	if err := cam.CapturePhoto(req); !errors.Is(err, capture.ErrCameraNotOpen) {
		t.Errorf("CapturePhoto while stopped = %v, want ErrCameraNotOpen", err)
	}
}

func TestCamera_Subscribe(t *testing.T) {
	cam := NewCamera(CameraOptions{})

	var got []capture.EventKind
	cancel := cam.Subscribe(func(ev capture.Event) { got = append(got, ev.Kind) })

	cam.emit(capture.Event{Kind: capture.EventRuntimeError})
	cancel()
	cancel()
	cam.emit(capture.Event{Kind: capture.EventRuntimeError})

	if len(got) != 1 {
		t.Errorf("got %d events, want 1", len(got))
	}
}

func TestCamera_DeliverServesPhoto(t *testing.T) {
	cam := NewCamera(CameraOptions{})

	var frames []capture.Frame
	if err := cam.AddOutput(capture.Output{Kind: capture.FrameOutput, Frames: func(f capture.Frame) {
		frames = append(frames, f)
	}}); err != nil {
		t.Fatal(err)
	}

	var willCapture bool
	var photo capture.Photo
	var photoErr error
	cam.pending = append(cam.pending, capture.PhotoRequest{
		ID:          "p1",
		WillCapture: func() { willCapture = true },
		Done:        func(p capture.Photo, err error) { photo, photoErr = p, err },
	})

	mat := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer mat.Close()

	cam.deliver(mat)
	cam.deliver(mat)

	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].Seq != 1 || frames[1].Seq != 2 {
		t.Errorf("frame seqs = %d, %d", frames[0].Seq, frames[1].Seq)
	}
	if frames[0].Width != 64 || frames[0].Height != 48 {
		t.Errorf("frame size = %dx%d, want 64x48", frames[0].Width, frames[0].Height)
	}

	if !willCapture {
		t.Error("WillCapture not called")
	}
	if photoErr != nil {
		t.Fatalf("photo error: %v", photoErr)
	}
	if photo.ID != "p1" || photo.Width != 64 || photo.Height != 48 || len(photo.Data) == 0 {
		t.Errorf("photo = %s %dx%d (%d bytes)", photo.ID, photo.Width, photo.Height, len(photo.Data))
	}
	if len(cam.pending) != 0 {
		t.Errorf("pending = %d, want 0", len(cam.pending))
	}
}

func TestEncodeImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 32, 16))
	for x := 0; x < 32; x++ {
		img.Set(x, 4, color.RGBA{R: 255, A: 255})
	}

	data, err := EncodeImage(img)
	if err != nil {
		t.Fatalf("EncodeImage: %v", err)
	}

	decoded, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		t.Fatalf("IMDecode: %v", err)
	}
	defer decoded.Close()
	if decoded.Cols() != 32 || decoded.Rows() != 16 {
		t.Errorf("decoded size = %dx%d, want 32x16", decoded.Cols(), decoded.Rows())
	}
}

func TestEncodeImage_Empty(t *testing.T) {
	if _, err := EncodeImage(nil); !errors.Is(err, errEmptyImage) {
		t.Errorf("EncodeImage(nil) = %v, want errEmptyImage", err)
	}
	if _, err := EncodeImage(image.NewRGBA(image.Rectangle{})); !errors.Is(err, errEmptyImage) {
		t.Errorf("EncodeImage(empty) = %v, want errEmptyImage", err)
	}
}

// TestCamera_Hardware streams from the first system camera.
func TestCamera_Hardware(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping hardware test")
	}

	cam := NewCamera(CameraOptions{Devices: map[int]capture.DeviceInfo{0: {Name: "Camera 0"}}})
	in, err := cam.Open("0")
	if err != nil {
		t.Skipf("no camera available: %v", err)
	}
	defer in.Close()

	frames := make(chan capture.Frame, 1)
	if err := cam.AddInput(in); err != nil {
		t.Fatal(err)
	}
	if err := cam.AddOutput(capture.Output{Kind: capture.FrameOutput, Frames: func(f capture.Frame) {
		select {
		case frames <- f:
		default:
		}
	}}); err != nil {
		t.Fatal(err)
	}
	if err := cam.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer cam.Stop()

	select {
	case f := <-frames:
		if f.Image == nil || f.Width == 0 {
			t.Errorf("empty frame: %+v", f)
		}
	case <-time.After(5 * time.Second):
		t.Skip("camera produced no frames")
	}
}

type fakeSource struct {
	mu       sync.Mutex
	autoSets []float64
	closed   bool
}

func (f *fakeSource) Set(prop gocv.VideoCaptureProperties, param float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if prop == gocv.VideoCaptureAutoFocus {
		f.autoSets = append(f.autoSets, param)
	}
}

func (f *fakeSource) Read(*gocv.Mat) bool { return false }

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSource) autoFocus() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.autoSets...)
}

func waitAutoFocus(t *testing.T, src *fakeSource, n int) []float64 {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if got := src.autoFocus(); len(got) >= n {
			return got
		}
		time.Sleep(time.Millisecond)
	}
	return src.autoFocus()
}

func TestCameraInput_Focus(t *testing.T) {
	if err := (&cameraInput{fps: 30}).Focus(geometry.Point{}, false); !errors.Is(err, capture.ErrCameraNotOpen) {
		t.Errorf("Focus on closed input = %v, want ErrCameraNotOpen", err)
	}

	t.Run("single pass locks", func(t *testing.T) {
		src := &fakeSource{}
		in := &cameraInput{capture: src, fps: 30, settle: 5 * time.Millisecond}
		p := geometry.Point{X: 0.25, Y: 0.75}
		if err := in.Focus(p, false); err != nil {
			t.Fatalf("Focus: %v", err)
		}
		got := waitAutoFocus(t, src, 2)
		if len(got) != 2 || got[0] != 1 || got[1] != 0 {
			t.Errorf("auto focus sets = %v, want [1 0]", got)
		}
		if in.focusPoint != p || in.focusContinuous {
			t.Errorf("focus state = %v/%v, want %v/false", in.focusPoint, in.focusContinuous, p)
		}
	})

	t.Run("continuous stays on", func(t *testing.T) {
		src := &fakeSource{}
		in := &cameraInput{capture: src, fps: 30, settle: 5 * time.Millisecond}
		if err := in.Focus(geometry.Point{X: 0.5, Y: 0.5}, true); err != nil {
			t.Fatalf("Focus: %v", err)
		}
		time.Sleep(30 * time.Millisecond)
		if got := src.autoFocus(); len(got) != 1 || got[0] != 1 {
			t.Errorf("auto focus sets = %v, want [1]", got)
		}
	})

	t.Run("continuous cancels pending lock", func(t *testing.T) {
		src := &fakeSource{}
		in := &cameraInput{capture: src, fps: 30, settle: 20 * time.Millisecond}
		if err := in.Focus(geometry.Point{}, false); err != nil {
			t.Fatalf("Focus: %v", err)
		}
		if err := in.Focus(geometry.Point{}, true); err != nil {
			t.Fatalf("Focus: %v", err)
		}
		time.Sleep(60 * time.Millisecond)
		for _, v := range src.autoFocus() {
			if v != 1 {
				t.Errorf("auto focus sets = %v, want no lock", src.autoFocus())
				break
			}
		}
	})

	t.Run("close cancels pending lock", func(t *testing.T) {
		src := &fakeSource{}
		in := &cameraInput{capture: src, fps: 30, settle: 20 * time.Millisecond}
		if err := in.Focus(geometry.Point{}, false); err != nil {
			t.Fatalf("Focus: %v", err)
		}
		if err := in.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		time.Sleep(60 * time.Millisecond)
		if got := src.autoFocus(); len(got) != 1 {
			t.Errorf("auto focus sets = %v, want [1]", got)
		}
		if !src.closed {
			t.Error("source not closed")
		}
	})
}

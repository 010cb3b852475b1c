package opencv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/ayusman/scanpipe/internal/capture"
	"github.com/ayusman/scanpipe/internal/geometry"
)

// Default capture settings.
const (
	DefaultWidth  = 1280
	DefaultHeight = 720

	maxZoom = 5.0

	// focusSettle is how long a single focus pass runs before auto focus is
	// switched off to hold the lens position.
	focusSettle = 500 * time.Millisecond

	// readFailureLimit is the number of consecutive failed reads reported as
	// a runtime error.
	readFailureLimit = 30
)

var (
	errInputAttached = errors.New("camera already has an input")
	errNoInput       = errors.New("camera has no input")
	errNoPhotoOutput = errors.New("photo output not attached")
)

// CameraOptions configures a Camera.
type CameraOptions struct {
	// Devices maps OpenCV capture indices to camera descriptions.
	Devices map[int]capture.DeviceInfo
	Width   int
	Height  int
	Logger  *zap.Logger
}

// Camera is a capture.Device over OpenCV video capture. It streams one
// input at a time; still photos are encoded from the next streamed frame.
type Camera struct {
	devices map[string]int
	infos   []capture.DeviceInfo
	width   int
	height  int
	log     *zap.Logger

	mu       sync.Mutex
	input    *cameraInput
	outputs  map[capture.OutputKind]capture.Output
	pending  []capture.PhotoRequest
	handlers map[int]capture.EventHandler
	nextID   int
	seq      uint64

	stopCh chan struct{}
	done   chan struct{}
}

// NewCamera creates a Camera exposing the given devices.
func NewCamera(opts CameraOptions) *Camera {
	c := &Camera{
		devices:  make(map[string]int, len(opts.Devices)),
		width:    opts.Width,
		height:   opts.Height,
		log:      opts.Logger,
		outputs:  make(map[capture.OutputKind]capture.Output),
		handlers: make(map[int]capture.EventHandler),
	}
	if c.width <= 0 || c.height <= 0 {
		c.width, c.height = DefaultWidth, DefaultHeight
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}

	indices := make([]int, 0, len(opts.Devices))
	for idx := range opts.Devices {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	for _, idx := range indices {
		info := opts.Devices[idx]
		if info.ID == "" {
			info.ID = strconv.Itoa(idx)
		}
		c.devices[info.ID] = idx
		c.infos = append(c.infos, info)
	}
	return c
}

// AuthorizationStatus reports authorized; desktop cameras have no
// permission prompt of their own.
func (c *Camera) AuthorizationStatus() capture.AuthorizationStatus {
	return capture.AuthorizationAuthorized
}

// RequestAccess always grants access.
func (c *Camera) RequestAccess(context.Context) (bool, error) {
	return true, nil
}

// Devices returns the configured cameras ordered by capture index.
func (c *Camera) Devices() ([]capture.DeviceInfo, error) {
	out := make([]capture.DeviceInfo, len(c.infos))
	copy(out, c.infos)
	return out, nil
}

// Open opens the camera with the given ID.
func (c *Camera) Open(id string) (capture.Input, error) {
	idx, ok := c.devices[id]
	if !ok {
		return nil, fmt.Errorf("unknown camera %q", id)
	}

	vc, err := gocv.OpenVideoCapture(idx)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", idx, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("open camera %d: %w", idx, capture.ErrCameraNotOpen)
	}

	vc.Set(gocv.VideoCaptureFrameWidth, float64(c.width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(c.height))

	var info capture.DeviceInfo
	for _, d := range c.infos {
		if d.ID == id {
			info = d
		}
	}

	return &cameraInput{
		info:    info,
		capture: vc,
		zoom:    1,
		fps:     capture.DefaultFrameRate.Max,
	}, nil
}

// BeginConfiguration is a no-op: every change is applied under the camera
// lock, and the read loop picks up the new input on its next frame.
func (c *Camera) BeginConfiguration() {}

// CommitConfiguration validates the pending configuration.
func (c *Camera) CommitConfiguration() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.input == nil && len(c.outputs) > 0 && c.stopCh != nil {
		return errNoInput
	}
	return nil
}

// AddInput attaches in. Only one input is supported.
func (c *Camera) AddInput(in capture.Input) error {
	ci, ok := in.(*cameraInput)
	if !ok {
		return fmt.Errorf("unsupported input %T", in)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.input != nil {
		return errInputAttached
	}
	c.input = ci
	return nil
}

// RemoveInput detaches in if it is the current input.
func (c *Camera) RemoveInput(in capture.Input) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ci, ok := in.(*cameraInput); ok && c.input == ci {
		c.input = nil
	}
}

// AddOutput attaches out, replacing an output of the same kind.
func (c *Camera) AddOutput(out capture.Output) error {
	if out.Kind == capture.FrameOutput && out.Frames == nil {
		return errors.New("frame output needs a handler")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs[out.Kind] = out
	return nil
}

// RemoveOutput detaches the output of kind.
func (c *Camera) RemoveOutput(kind capture.OutputKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.outputs, kind)
}

// Start starts the read loop.
func (c *Camera) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopCh != nil {
		return nil
	}
	if c.input == nil {
		return errNoInput
	}

	c.stopCh = make(chan struct{})
	c.done = make(chan struct{})
	go c.readLoop(c.stopCh, c.done)

	c.log.Info("camera streaming", zap.String("device", c.input.info.Name))
	return nil
}

// Stop stops the read loop and waits for it to exit. Pending photo requests
// fail.
func (c *Camera) Stop() {
	c.mu.Lock()
	stopCh, done := c.stopCh, c.done
	c.stopCh, c.done = nil, nil
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-done

	for _, req := range pending {
		req.Done(capture.Photo{}, capture.ErrCameraNotOpen)
	}
}

// Subscribe registers handler for camera events.
func (c *Camera) Subscribe(handler capture.EventHandler) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.handlers[id] = handler
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.handlers, id)
			c.mu.Unlock()
		})
	}
}

func (c *Camera) emit(ev capture.Event) {
	c.mu.Lock()
	handlers := make([]capture.EventHandler, 0, len(c.handlers))
	for _, h := range c.handlers {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// CapturePhoto queues req for the next streamed frame.
func (c *Camera) CapturePhoto(req capture.PhotoRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.outputs[capture.PhotoOutput]; !ok {
		return errNoPhotoOutput
	}
	if c.stopCh == nil {
		return capture.ErrCameraNotOpen
	}
	c.pending = append(c.pending, req)
	return nil
}

// readLoop reads frames at the input's frame rate until stopCh closes.
func (c *Camera) readLoop(stopCh, done chan struct{}) {
	defer close(done)

	mat := gocv.NewMat()
	defer mat.Close()

	failures := 0
	interval := time.Duration(0)
	ticker := time.NewTicker(time.Second / 30)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		in := c.input
		c.mu.Unlock()
		if in == nil {
			continue
		}

		if next := in.interval(); next != interval {
			interval = next
			ticker.Reset(interval)
		}

		if ok := in.read(&mat); !ok || mat.Empty() {
			failures++
			if failures == readFailureLimit {
				c.log.Error("camera stopped delivering frames", zap.String("device", in.info.Name))
				go c.emit(capture.Event{
					Kind: capture.EventRuntimeError,
					Err:  fmt.Errorf("%s: %d consecutive empty reads", in.info.Name, failures),
				})
			}
			continue
		}
		failures = 0

		c.deliver(mat)
	}
}

// deliver hands mat to the frame output and completes one pending photo.
func (c *Camera) deliver(mat gocv.Mat) {
	c.mu.Lock()
	c.seq++
	seq := c.seq
	out, streaming := c.outputs[capture.FrameOutput]
	var photo *capture.PhotoRequest
	if len(c.pending) > 0 {
		req := c.pending[0]
		c.pending = c.pending[1:]
		photo = &req
	}
	c.mu.Unlock()

	if photo != nil {
		c.takePhoto(*photo, mat)
	}

	if !streaming {
		return
	}
	img, err := mat.ToImage()
	if err != nil {
		c.log.Debug("convert frame", zap.Uint64("seq", seq), zap.Error(err))
		return
	}
	out.Frames(capture.Frame{
		Seq:       seq,
		Image:     img,
		Timestamp: time.Now(),
		Width:     mat.Cols(),
		Height:    mat.Rows(),
	})
}

func (c *Camera) takePhoto(req capture.PhotoRequest, mat gocv.Mat) {
	if req.WillCapture != nil {
		req.WillCapture()
	}
	data, err := encodeJPEG(mat)
	if err != nil {
		req.Done(capture.Photo{}, err)
		return
	}
	req.Done(capture.Photo{
		ID:     req.ID,
		Data:   data,
		Width:  mat.Cols(),
		Height: mat.Rows(),
	}, nil)
}

// videoSource is the subset of *gocv.VideoCapture an input drives.
type videoSource interface {
	Set(prop gocv.VideoCaptureProperties, param float64)
	Read(m *gocv.Mat) bool
	Close() error
}

// cameraInput is an opened OpenCV video capture.
type cameraInput struct {
	info capture.DeviceInfo

	mu      sync.Mutex
	capture videoSource
	zoom    float64
	fps     float64

	focusPoint      geometry.Point
	focusContinuous bool
	focusLock       *time.Timer
	settle          time.Duration
}

func (in *cameraInput) Info() capture.DeviceInfo { return in.info }

func (in *cameraInput) ZoomRange() (float64, float64) { return 1, maxZoom }

func (in *cameraInput) SetZoom(factor float64) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.capture == nil {
		return capture.ErrCameraNotOpen
	}
	in.zoom = factor
	in.capture.Set(gocv.VideoCaptureZoom, factor)
	return nil
}

// Focus starts auto focus. In continuous mode it stays on; otherwise it is
// switched off once the pass has had time to settle, holding the lens where
// it landed. OpenCV has no point-of-interest control, so p is only recorded.
func (in *cameraInput) Focus(p geometry.Point, continuous bool) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.capture == nil {
		return capture.ErrCameraNotOpen
	}
	in.stopFocusLock()
	in.focusPoint = p
	in.focusContinuous = continuous
	in.capture.Set(gocv.VideoCaptureAutoFocus, 1)
	if continuous {
		return nil
	}

	settle := in.settle
	if settle <= 0 {
		settle = focusSettle
	}
	var t *time.Timer
	t = time.AfterFunc(settle, func() {
		in.mu.Lock()
		defer in.mu.Unlock()
		if in.focusLock != t || in.capture == nil {
			return
		}
		in.focusLock = nil
		in.capture.Set(gocv.VideoCaptureAutoFocus, 0)
	})
	in.focusLock = t
	return nil
}

// stopFocusLock cancels a pending single-pass lock. Caller holds in.mu.
func (in *cameraInput) stopFocusLock() {
	if in.focusLock != nil {
		in.focusLock.Stop()
		in.focusLock = nil
	}
}

func (in *cameraInput) SetFrameRateRange(r capture.FrameRateRange) error {
	if r.Max <= 0 {
		return fmt.Errorf("invalid frame rate %v", r.Max)
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.capture == nil {
		return capture.ErrCameraNotOpen
	}
	in.fps = r.Max
	in.capture.Set(gocv.VideoCaptureFPS, r.Max)
	return nil
}

func (in *cameraInput) interval() time.Duration {
	in.mu.Lock()
	defer in.mu.Unlock()
	return time.Duration(float64(time.Second) / in.fps)
}

func (in *cameraInput) read(mat *gocv.Mat) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.capture == nil {
		return false
	}
	return in.capture.Read(mat)
}

func (in *cameraInput) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.stopFocusLock()
	if in.capture == nil {
		return nil
	}
	err := in.capture.Close()
	in.capture = nil
	return err
}

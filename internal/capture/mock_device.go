package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/ayusman/scanpipe/internal/geometry"
)

// MockDevices is the camera set a MockDevice exposes by default.
func MockDevices() []DeviceInfo {
	return []DeviceInfo{
		{ID: "back-dual", Name: "Back Dual Camera", Position: PositionBack, Type: DeviceDualCamera},
		{ID: "back-wide", Name: "Back Camera", Position: PositionBack, Type: DeviceWideAngle},
		{ID: "front-wide", Name: "Front Camera", Position: PositionFront, Type: DeviceWideAngle},
	}
}

// MockDevice is an in-memory Device for tests. Frames, events and photo
// completions are driven explicitly by the test.
type MockDevice struct {
	mu sync.Mutex

	auth    AuthorizationStatus
	grant   bool
	devices []DeviceInfo

	inputs   []Input
	outputs  map[OutputKind]Output
	inConfig bool
	running  bool

	handlers    map[int]EventHandler
	nextHandler int

	pending   []PhotoRequest
	autoPhoto *Photo

	openErr      map[string]error
	addInputErr  map[string]error
	addOutputErr map[OutputKind]error
	commitErr    error
	startErr     error
	captureErr   error

	calls            []string
	zeroInputCommits int
}

// NewMockDevice creates an authorized MockDevice. With no devices given it
// exposes MockDevices().
func NewMockDevice(devices ...DeviceInfo) *MockDevice {
	if len(devices) == 0 {
		devices = MockDevices()
	}
	return &MockDevice{
		auth:         AuthorizationAuthorized,
		grant:        true,
		devices:      devices,
		outputs:      make(map[OutputKind]Output),
		handlers:     make(map[int]EventHandler),
		openErr:      make(map[string]error),
		addInputErr:  make(map[string]error),
		addOutputErr: make(map[OutputKind]error),
	}
}

// SetAuthorization sets the reported status and the answer to RequestAccess.
func (d *MockDevice) SetAuthorization(status AuthorizationStatus, grant bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.auth = status
	d.grant = grant
}

// FailOpen makes Open fail for id.
func (d *MockDevice) FailOpen(id string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openErr[id] = err
}

// FailAddInput makes AddInput fail for inputs opened from id.
func (d *MockDevice) FailAddInput(id string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addInputErr[id] = err
}

// FailAddOutput makes AddOutput fail for kind.
func (d *MockDevice) FailAddOutput(kind OutputKind, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addOutputErr[kind] = err
}

// FailCommit makes the next CommitConfiguration fail.
func (d *MockDevice) FailCommit(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commitErr = err
}

// FailStart makes Start fail until cleared with nil.
func (d *MockDevice) FailStart(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.startErr = err
}

// FailCapture makes CapturePhoto fail until cleared with nil.
func (d *MockDevice) FailCapture(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.captureErr = err
}

// AutoCompletePhotos makes every photo request complete on its own with p.
// Pass nil to go back to manual completion.
func (d *MockDevice) AutoCompletePhotos(p *Photo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.autoPhoto = p
}

func (d *MockDevice) record(call string) {
	d.calls = append(d.calls, call)
}

func (d *MockDevice) AuthorizationStatus() AuthorizationStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.auth
}

func (d *MockDevice) RequestAccess(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("requestAccess")
	if d.grant {
		d.auth = AuthorizationAuthorized
	} else {
		d.auth = AuthorizationDenied
	}
	return d.grant, nil
}

func (d *MockDevice) Devices() ([]DeviceInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DeviceInfo, len(d.devices))
	copy(out, d.devices)
	return out, nil
}

func (d *MockDevice) Open(id string) (Input, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("open " + id)
	if err := d.openErr[id]; err != nil {
		return nil, err
	}
	for _, info := range d.devices {
		if info.ID == id {
			return &MockInput{info: info, zoomMin: 1, zoomMax: 10, zoom: 1}, nil
		}
	}
	return nil, fmt.Errorf("unknown device %q", id)
}

func (d *MockDevice) BeginConfiguration() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("begin")
	d.inConfig = true
}

func (d *MockDevice) CommitConfiguration() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("commit")
	d.inConfig = false
	if len(d.inputs) == 0 && len(d.outputs) > 0 {
		d.zeroInputCommits++
	}
	if err := d.commitErr; err != nil {
		d.commitErr = nil
		return err
	}
	return nil
}

func (d *MockDevice) AddInput(in Input) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := in.Info().ID
	d.record("addInput " + id)
	if err := d.addInputErr[id]; err != nil {
		return err
	}
	d.inputs = append(d.inputs, in)
	return nil
}

func (d *MockDevice) RemoveInput(in Input) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("removeInput " + in.Info().ID)
	for i, cur := range d.inputs {
		if cur == in {
			d.inputs = append(d.inputs[:i], d.inputs[i+1:]...)
			return
		}
	}
}

func (d *MockDevice) AddOutput(out Output) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(fmt.Sprintf("addOutput %d", out.Kind))
	if err := d.addOutputErr[out.Kind]; err != nil {
		return err
	}
	d.outputs[out.Kind] = out
	return nil
}

func (d *MockDevice) RemoveOutput(kind OutputKind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.outputs, kind)
}

func (d *MockDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("start")
	if d.startErr != nil {
		return d.startErr
	}
	d.running = true
	return nil
}

func (d *MockDevice) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("stop")
	d.running = false
}

func (d *MockDevice) Subscribe(handler EventHandler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextHandler
	d.nextHandler++
	d.handlers[id] = handler
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.handlers, id)
	}
}

func (d *MockDevice) CapturePhoto(req PhotoRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.captureErr != nil {
		return d.captureErr
	}
	if p := d.autoPhoto; p != nil {
		photo := *p
		go func() {
			req.WillCapture()
			req.Done(photo, nil)
		}()
		return nil
	}
	d.pending = append(d.pending, req)
	return nil
}

// Emit delivers ev to every subscriber, as the hardware would.
func (d *MockDevice) Emit(ev Event) {
	d.mu.Lock()
	handlers := make([]EventHandler, 0, len(d.handlers))
	for _, h := range d.handlers {
		handlers = append(handlers, h)
	}
	d.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// PushFrame delivers f to the frame output. It returns false when the
// device is not streaming.
func (d *MockDevice) PushFrame(f Frame) bool {
	d.mu.Lock()
	out, ok := d.outputs[FrameOutput]
	running := d.running
	d.mu.Unlock()

	if !ok || !running || out.Frames == nil {
		return false
	}
	out.Frames(f)
	return true
}

// BeginPhoto signals will-capture for the oldest pending photo request.
func (d *MockDevice) BeginPhoto() bool {
	d.mu.Lock()
	if len(d.pending) == 0 {
		d.mu.Unlock()
		return false
	}
	req := d.pending[0]
	d.mu.Unlock()

	req.WillCapture()
	return true
}

// CompletePhoto finishes the oldest pending photo request.
func (d *MockDevice) CompletePhoto(p Photo, err error) bool {
	d.mu.Lock()
	if len(d.pending) == 0 {
		d.mu.Unlock()
		return false
	}
	req := d.pending[0]
	d.pending = d.pending[1:]
	d.mu.Unlock()

	req.Done(p, err)
	return true
}

// Calls returns the recorded hardware calls in order.
func (d *MockDevice) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.calls))
	copy(out, d.calls)
	return out
}

// Inputs returns the attached inputs.
func (d *MockDevice) Inputs() []Input {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Input, len(d.inputs))
	copy(out, d.inputs)
	return out
}

// HasOutput reports whether an output of kind is attached.
func (d *MockDevice) HasOutput(kind OutputKind) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.outputs[kind]
	return ok
}

// IsRunning reports whether the device is streaming.
func (d *MockDevice) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Subscribers returns the number of event subscriptions.
func (d *MockDevice) Subscribers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handlers)
}

// PendingPhotos returns the number of uncompleted photo requests.
func (d *MockDevice) PendingPhotos() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// ZeroInputCommits counts commits that left outputs without an input.
func (d *MockDevice) ZeroInputCommits() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.zeroInputCommits
}

// MockInput is the Input returned by MockDevice.Open.
type MockInput struct {
	mu         sync.Mutex
	info       DeviceInfo
	zoomMin    float64
	zoomMax    float64
	zoom       float64
	focus      geometry.Point
	continuous bool
	rate       FrameRateRange
	closed     bool
}

func (in *MockInput) Info() DeviceInfo { return in.info }

func (in *MockInput) ZoomRange() (float64, float64) {
	return in.zoomMin, in.zoomMax
}

func (in *MockInput) SetZoom(factor float64) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return ErrCameraNotOpen
	}
	in.zoom = factor
	return nil
}

func (in *MockInput) Focus(p geometry.Point, continuous bool) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return ErrCameraNotOpen
	}
	in.focus = p
	in.continuous = continuous
	return nil
}

func (in *MockInput) SetFrameRateRange(r FrameRateRange) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return ErrCameraNotOpen
	}
	in.rate = r
	return nil
}

func (in *MockInput) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.closed = true
	return nil
}

// Zoom returns the last zoom factor set.
func (in *MockInput) Zoom() float64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.zoom
}

// FocusPoint returns the last focus point and mode.
func (in *MockInput) FocusPoint() (geometry.Point, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.focus, in.continuous
}

// FrameRate returns the last frame rate range set.
func (in *MockInput) FrameRate() FrameRateRange {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.rate
}

// IsClosed reports whether Close was called.
func (in *MockInput) IsClosed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.closed
}

// Package capture provides the capture-session state machine that owns a
// hardware video pipeline, and the Device abstraction it drives.
package capture

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayusman/scanpipe/internal/geometry"
)

// ErrCameraNotOpen is returned when trying to use a camera that is not open.
var ErrCameraNotOpen = errors.New("camera is not open")

// Position is the side of the device a camera faces.
type Position int

const (
	PositionUnspecified Position = iota
	PositionBack
	PositionFront
)

// String implements fmt.Stringer.
func (p Position) String() string {
	switch p {
	case PositionBack:
		return "back"
	case PositionFront:
		return "front"
	default:
		return "unspecified"
	}
}

// ParsePosition parses "back" or "front".
func ParsePosition(s string) (Position, error) {
	switch s {
	case "back":
		return PositionBack, nil
	case "front":
		return PositionFront, nil
	default:
		return PositionUnspecified, fmt.Errorf("unknown camera position %q", s)
	}
}

// DeviceType distinguishes physical camera modules.
type DeviceType int

const (
	DeviceWideAngle DeviceType = iota
	DeviceDualCamera
	DeviceTelephoto
)

// String implements fmt.Stringer.
func (t DeviceType) String() string {
	switch t {
	case DeviceWideAngle:
		return "wideAngle"
	case DeviceDualCamera:
		return "dualCamera"
	case DeviceTelephoto:
		return "telephoto"
	default:
		return fmt.Sprintf("DeviceType(%d)", int(t))
	}
}

// ParseDeviceType parses the String form of a DeviceType.
func ParseDeviceType(s string) (DeviceType, error) {
	for _, t := range []DeviceType{DeviceWideAngle, DeviceDualCamera, DeviceTelephoto} {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown camera type %q", s)
}

// DeviceInfo describes a camera that can be opened.
type DeviceInfo struct {
	ID       string
	Name     string
	Position Position
	Type     DeviceType
}

// AuthorizationStatus is the user's camera permission.
type AuthorizationStatus int

const (
	AuthorizationNotDetermined AuthorizationStatus = iota
	AuthorizationAuthorized
	AuthorizationDenied
	AuthorizationRestricted
)

// OutputKind identifies an output attached to the capture pipeline.
type OutputKind int

const (
	// PhotoOutput produces still captures.
	PhotoOutput OutputKind = iota
	// FrameOutput streams video frames.
	FrameOutput
)

// Output is an output to attach. Frames is required for FrameOutput.
type Output struct {
	Kind   OutputKind
	Frames FrameHandler
}

// FrameRateRange bounds the capture frame rate.
type FrameRateRange struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// PhotoRequest asks the device for a still capture. WillCapture fires when
// the exposure begins; Done fires exactly once with the result.
type PhotoRequest struct {
	ID          string
	WillCapture func()
	Done        func(Photo, error)
}

// Input is an opened camera attached (or attachable) to the pipeline.
type Input interface {
	Info() DeviceInfo
	// ZoomRange returns the supported zoom factors.
	ZoomRange() (lo, hi float64)
	SetZoom(factor float64) error
	// Focus focuses at p in normalized device coordinates. continuous selects
	// continuous auto focus instead of a single pass.
	Focus(p geometry.Point, continuous bool) error
	SetFrameRateRange(r FrameRateRange) error
	Close() error
}

// Device abstracts the platform capture API.
//
// Configuration changes between BeginConfiguration and CommitConfiguration
// are applied atomically. Event handlers and frame handlers run on
// goroutines owned by the device.
type Device interface {
	AuthorizationStatus() AuthorizationStatus
	// RequestAccess prompts for permission and blocks until answered.
	RequestAccess(ctx context.Context) (bool, error)

	Devices() ([]DeviceInfo, error)
	Open(id string) (Input, error)

	BeginConfiguration()
	CommitConfiguration() error
	AddInput(in Input) error
	RemoveInput(in Input)
	AddOutput(out Output) error
	RemoveOutput(kind OutputKind)

	// Start begins streaming. It blocks until the hardware is running.
	Start() error
	// Stop halts streaming. It blocks until the hardware has stopped.
	Stop()

	// Subscribe registers an event handler and returns its cancel func.
	Subscribe(handler EventHandler) (cancel func())

	CapturePhoto(req PhotoRequest) error
}

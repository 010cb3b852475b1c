package capture

import (
	"errors"
	"fmt"
)

// Session errors.
var (
	ErrNotAuthorized     = errors.New("camera access not authorized")
	ErrNotConfigured     = errors.New("capture session not configured")
	ErrAlreadyConfigured = errors.New("capture session already configured")
	ErrNoCamera          = errors.New("no usable camera")
	ErrNotRunning        = errors.New("capture session not running")
	ErrNoAlternateCamera = errors.New("no alternate camera")
	ErrSessionClosed     = errors.New("capture session closed")
)

// State is the lifecycle state of a Session.
type State int

const (
	StateUnconfigured State = iota
	StateConfiguring
	StateIdle
	StateRunning
	StateStopping
	StateInterrupted
	StateFailed
)

var stateNames = map[State]string{
	StateUnconfigured: "unconfigured",
	StateConfiguring:  "configuring",
	StateIdle:         "idle",
	StateRunning:      "running",
	StateStopping:     "stopping",
	StateInterrupted:  "interrupted",
	StateFailed:       "failed",
}

// String implements fmt.Stringer.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// FailureReason qualifies StateFailed.
type FailureReason int

const (
	FailureNone FailureReason = iota
	FailureConfigurationFailed
	FailureNotAuthorized
	FailureRuntimeError
)

// String implements fmt.Stringer.
func (r FailureReason) String() string {
	switch r {
	case FailureNone:
		return "none"
	case FailureConfigurationFailed:
		return "configurationFailed"
	case FailureNotAuthorized:
		return "notAuthorized"
	case FailureRuntimeError:
		return "runtimeError"
	default:
		return fmt.Sprintf("FailureReason(%d)", int(r))
	}
}

// SetupResult is the outcome of the last Configure.
type SetupResult int

const (
	SetupPending SetupResult = iota
	SetupSuccess
	SetupNotAuthorized
	SetupConfigurationFailed
)

// String implements fmt.Stringer.
func (r SetupResult) String() string {
	switch r {
	case SetupPending:
		return "pending"
	case SetupSuccess:
		return "success"
	case SetupNotAuthorized:
		return "notAuthorized"
	case SetupConfigurationFailed:
		return "configurationFailed"
	default:
		return fmt.Sprintf("SetupResult(%d)", int(r))
	}
}

// Status is the externally observable state of a Session. It is republished
// on the UI queue after every change.
type Status struct {
	State               State
	Failure             FailureReason
	Interruption        InterruptionReason
	Setup               SetupResult
	Position            Position
	Pressure            PressureLevel
	IsCameraUnavailable bool
	WillCapturePhoto    bool
	LastError           error
}

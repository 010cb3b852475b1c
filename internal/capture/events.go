package capture

import "fmt"

// EventKind identifies a device notification.
type EventKind int

const (
	EventInterrupted EventKind = iota
	EventInterruptionEnded
	EventRuntimeError
	EventSystemPressure
	EventSubjectAreaChanged
)

// String implements fmt.Stringer.
func (k EventKind) String() string {
	switch k {
	case EventInterrupted:
		return "interrupted"
	case EventInterruptionEnded:
		return "interruptionEnded"
	case EventRuntimeError:
		return "runtimeError"
	case EventSystemPressure:
		return "systemPressure"
	case EventSubjectAreaChanged:
		return "subjectAreaChanged"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// InterruptionReason explains why the hardware suspended the stream.
type InterruptionReason int

const (
	InterruptionNone InterruptionReason = iota
	// InterruptionInBackground: the app moved to the background.
	InterruptionInBackground
	// InterruptionAudioInUse: another client took the audio device.
	InterruptionAudioInUse
	// InterruptionInUseByAnotherClient: another client took the camera.
	InterruptionInUseByAnotherClient
	// InterruptionMultipleForegroundApps: the camera is unavailable while
	// several apps share the foreground.
	InterruptionMultipleForegroundApps
	// InterruptionSystemPressure: the hardware stopped itself under pressure.
	InterruptionSystemPressure
	// InterruptionMediaServicesReset: the media server restarted.
	InterruptionMediaServicesReset
)

var interruptionNames = map[InterruptionReason]string{
	InterruptionNone:                   "none",
	InterruptionInBackground:           "inBackground",
	InterruptionAudioInUse:             "audioInUse",
	InterruptionInUseByAnotherClient:   "inUseByAnotherClient",
	InterruptionMultipleForegroundApps: "multipleForegroundApps",
	InterruptionSystemPressure:         "systemPressure",
	InterruptionMediaServicesReset:     "mediaServicesReset",
}

// String implements fmt.Stringer.
func (r InterruptionReason) String() string {
	if name, ok := interruptionNames[r]; ok {
		return name
	}
	return fmt.Sprintf("InterruptionReason(%d)", int(r))
}

// AutoResumes reports whether the session resumes by itself once the
// interruption ends. Other reasons need an explicit Start.
func (r InterruptionReason) AutoResumes() bool {
	switch r {
	case InterruptionInBackground, InterruptionMediaServicesReset:
		return true
	default:
		return false
	}
}

// PressureLevel is the system pressure reported by the hardware.
type PressureLevel int

const (
	PressureNominal PressureLevel = iota
	PressureFair
	PressureSerious
	PressureCritical
	PressureShutdown
)

// String implements fmt.Stringer.
func (l PressureLevel) String() string {
	switch l {
	case PressureNominal:
		return "nominal"
	case PressureFair:
		return "fair"
	case PressureSerious:
		return "serious"
	case PressureCritical:
		return "critical"
	case PressureShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("PressureLevel(%d)", int(l))
	}
}

// Event is a notification from the device.
type Event struct {
	Kind EventKind

	// Reason is set for EventInterrupted.
	Reason InterruptionReason

	// Err is set for EventRuntimeError. MediaServicesReset marks errors
	// caused by a media server restart, which are recoverable.
	Err                error
	MediaServicesReset bool

	// Pressure is set for EventSystemPressure.
	Pressure PressureLevel
}

// EventHandler receives device events.
type EventHandler func(Event)

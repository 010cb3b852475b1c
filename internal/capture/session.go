package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ayusman/scanpipe/internal/dispatch"
	"github.com/ayusman/scanpipe/internal/geometry"
)

// Default frame rate ranges.
var (
	DefaultFrameRate   = FrameRateRange{Min: 30, Max: 30}
	ThrottledFrameRate = FrameRateRange{Min: 15, Max: 20}
)

// devicePreference is the order in which cameras are tried on Configure.
var devicePreference = []struct {
	Position Position
	Type     DeviceType
}{
	{PositionBack, DeviceDualCamera},
	{PositionBack, DeviceWideAngle},
	{PositionFront, DeviceWideAngle},
}

// Options configures a Session.
type Options struct {
	// Main is the UI-affinity queue on which status changes and completion
	// callbacks are delivered. The session creates its own when nil.
	Main *dispatch.Queue

	Logger *zap.Logger

	// FrameRate is the nominal range; Throttled is used under serious or
	// critical system pressure.
	FrameRate FrameRateRange
	Throttled FrameRateRange
}

type photoCapture struct {
	onComplete func(*Photo, error)
	capturing  bool
}

// Session owns the capture pipeline of a Device. Every hardware call and
// every state field is confined to the session queue.
type Session struct {
	device   Device
	queue    *dispatch.Queue
	main     *dispatch.Queue
	ownsMain bool
	log      *zap.Logger
	rates    FrameRateRange
	throttle FrameRateRange

	// Session queue only.
	state        State
	failure      FailureReason
	interruption InterruptionReason
	setup        SetupResult
	pressure     PressureLevel
	lastErr      error
	input        Input
	cancelEvents func()
	inflight     map[string]*photoCapture
	capturing    int
	closed       bool

	frameMu sync.RWMutex
	onFrame FrameHandler

	statusMu sync.RWMutex
	status   Status
	subs     map[int]func(Status)
	nextSub  int
}

// NewSession creates an unconfigured session over device.
func NewSession(device Device, opts Options) *Session {
	s := &Session{
		device:   device,
		queue:    dispatch.NewQueue("session"),
		main:     opts.Main,
		log:      opts.Logger,
		rates:    opts.FrameRate,
		throttle: opts.Throttled,
		inflight: make(map[string]*photoCapture),
		subs:     make(map[int]func(Status)),
	}
	if s.main == nil {
		s.main = dispatch.NewQueue("main")
		s.ownsMain = true
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.rates.Max <= 0 {
		s.rates = DefaultFrameRate
	}
	if s.throttle.Max <= 0 {
		s.throttle = ThrottledFrameRate
	}
	return s
}

// SetFrameHandler sets the sink for streamed frames. It may be changed at
// any time; nil discards frames.
func (s *Session) SetFrameHandler(fn FrameHandler) {
	s.frameMu.Lock()
	s.onFrame = fn
	s.frameMu.Unlock()
}

func (s *Session) deliverFrame(f Frame) {
	s.frameMu.RLock()
	fn := s.onFrame
	s.frameMu.RUnlock()
	if fn != nil {
		fn(f)
	}
}

// Status returns the last status published on the main queue.
func (s *Session) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

// Subscribe registers fn to receive every status change on the main queue.
func (s *Session) Subscribe(fn func(Status)) (unsubscribe func()) {
	s.statusMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.statusMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.statusMu.Lock()
			delete(s.subs, id)
			s.statusMu.Unlock()
		})
	}
}

// publish snapshots the queue-owned fields and republishes them on main.
func (s *Session) publish() {
	st := Status{
		State:               s.state,
		Failure:             s.failure,
		Interruption:        s.interruption,
		Setup:               s.setup,
		Pressure:            s.pressure,
		IsCameraUnavailable: s.state == StateInterrupted,
		WillCapturePhoto:    s.capturing > 0,
		LastError:           s.lastErr,
	}
	if s.input != nil {
		st.Position = s.input.Info().Position
	}

	s.main.Async(func() {
		s.statusMu.Lock()
		s.status = st
		subs := make([]func(Status), 0, len(s.subs))
		for _, fn := range s.subs {
			subs = append(subs, fn)
		}
		s.statusMu.Unlock()

		for _, fn := range subs {
			fn(st)
		}
	})
}

func (s *Session) setState(next State) {
	if next != s.state {
		s.log.Info("capture session state",
			zap.Stringer("from", s.state),
			zap.Stringer("to", next))
	}
	s.state = next
	if next != StateFailed {
		s.failure = FailureNone
	}
	if next != StateInterrupted {
		s.interruption = InterruptionNone
	}
	s.publish()
}

func (s *Session) fail(reason FailureReason, err error) {
	s.log.Error("capture session failed",
		zap.Stringer("reason", reason),
		zap.Error(err))
	s.lastErr = err
	s.state = StateFailed
	s.failure = reason
	s.interruption = InterruptionNone
	s.publish()
}

// run executes fn on the session queue and waits for its error.
func (s *Session) run(ctx context.Context, fn func() error) error {
	var err error
	if serr := s.queue.Sync(ctx, func() {
		if s.closed {
			err = ErrSessionClosed
			return
		}
		err = fn()
	}); serr != nil {
		if errors.Is(serr, dispatch.ErrClosed) {
			return ErrSessionClosed
		}
		return serr
	}
	return err
}

// Configure acquires a camera and attaches the photo and frame outputs.
// It is valid only from StateUnconfigured or StateFailed.
func (s *Session) Configure(ctx context.Context) error {
	return s.run(ctx, func() error { return s.configure(ctx) })
}

func (s *Session) configure(ctx context.Context) error {
	switch s.state {
	case StateUnconfigured, StateFailed:
	default:
		return ErrAlreadyConfigured
	}

	s.setState(StateConfiguring)

	if !s.authorize(ctx) {
		s.setup = SetupNotAuthorized
		s.fail(FailureNotAuthorized, ErrNotAuthorized)
		return ErrNotAuthorized
	}

	s.device.BeginConfiguration()
	s.detach()

	input, err := s.attach()
	if err != nil {
		if cerr := s.device.CommitConfiguration(); cerr != nil {
			s.log.Warn("commit after failed configuration", zap.Error(cerr))
		}
		s.setup = SetupConfigurationFailed
		s.fail(FailureConfigurationFailed, err)
		return err
	}

	if err := s.device.CommitConfiguration(); err != nil {
		s.device.BeginConfiguration()
		s.rollback(input)
		_ = s.device.CommitConfiguration()

		err = fmt.Errorf("commit configuration: %w", err)
		s.setup = SetupConfigurationFailed
		s.fail(FailureConfigurationFailed, err)
		return err
	}

	s.input = input
	s.setup = SetupSuccess
	s.lastErr = nil
	s.applyFrameRate()
	s.log.Info("capture session configured",
		zap.String("device", input.Info().Name),
		zap.Stringer("position", input.Info().Position))
	s.setState(StateIdle)
	return nil
}

func (s *Session) authorize(ctx context.Context) bool {
	switch s.device.AuthorizationStatus() {
	case AuthorizationAuthorized:
		return true
	case AuthorizationNotDetermined:
		granted, err := s.device.RequestAccess(ctx)
		if err != nil {
			s.log.Warn("camera access request failed", zap.Error(err))
			return false
		}
		return granted
	default:
		return false
	}
}

// attach opens the preferred camera and adds it with both outputs. It must
// run inside a configuration block and undoes its own partial work.
func (s *Session) attach() (Input, error) {
	devices, err := s.device.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	info, ok := selectDevice(devices, PositionUnspecified, "")
	if !ok {
		return nil, ErrNoCamera
	}

	input, err := s.device.Open(info.ID)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", info.Name, err)
	}
	if err := s.device.AddInput(input); err != nil {
		input.Close()
		return nil, fmt.Errorf("add input %s: %w", info.Name, err)
	}
	if err := s.device.AddOutput(Output{Kind: PhotoOutput}); err != nil {
		s.rollback(input)
		return nil, fmt.Errorf("add photo output: %w", err)
	}
	if err := s.device.AddOutput(Output{Kind: FrameOutput, Frames: s.deliverFrame}); err != nil {
		s.rollback(input)
		return nil, fmt.Errorf("add frame output: %w", err)
	}
	return input, nil
}

// rollback removes everything attach added.
func (s *Session) rollback(input Input) {
	s.device.RemoveOutput(FrameOutput)
	s.device.RemoveOutput(PhotoOutput)
	s.device.RemoveInput(input)
	if err := input.Close(); err != nil {
		s.log.Warn("close input", zap.Error(err))
	}
}

// detach tears down a previous configuration before reconfiguring.
func (s *Session) detach() {
	if s.input == nil {
		return
	}
	s.rollback(s.input)
	s.input = nil
}

// selectDevice picks the first camera in preference order. A non-zero
// position restricts the search; exclude skips one device ID.
func selectDevice(devices []DeviceInfo, position Position, exclude string) (DeviceInfo, bool) {
	for _, pref := range devicePreference {
		if position != PositionUnspecified && pref.Position != position {
			continue
		}
		for _, d := range devices {
			if d.ID != exclude && d.Position == pref.Position && d.Type == pref.Type {
				return d, true
			}
		}
	}
	return DeviceInfo{}, false
}

// Start begins streaming, or resumes an interrupted session.
func (s *Session) Start(ctx context.Context) error {
	return s.run(ctx, s.start)
}

func (s *Session) start() error {
	switch s.state {
	case StateRunning:
		return nil
	case StateIdle:
		s.cancelEvents = s.device.Subscribe(s.onEvent)
		if err := s.device.Start(); err != nil {
			s.unsubscribeEvents()
			err = fmt.Errorf("start capture: %w", err)
			s.fail(FailureRuntimeError, err)
			return err
		}
		s.lastErr = nil
		s.setState(StateRunning)
		return nil
	case StateInterrupted:
		return s.resume()
	case StateFailed:
		if s.failure == FailureNotAuthorized {
			s.lastErr = ErrNotAuthorized
			s.publish()
			return ErrNotAuthorized
		}
		return ErrNotConfigured
	default:
		return ErrNotConfigured
	}
}

func (s *Session) resume() error {
	if err := s.device.Start(); err != nil {
		err = fmt.Errorf("resume capture: %w", err)
		s.halt()
		s.fail(FailureRuntimeError, err)
		return err
	}
	s.setState(StateRunning)
	return nil
}

// halt stops the hardware and drops the event subscription.
func (s *Session) halt() {
	s.unsubscribeEvents()
	s.device.Stop()
}

func (s *Session) unsubscribeEvents() {
	if s.cancelEvents != nil {
		s.cancelEvents()
		s.cancelEvents = nil
	}
}

// Stop halts streaming without blocking the caller. onComplete, if set, runs
// on the main queue once the session is idle, or immediately when there was
// nothing to stop.
func (s *Session) Stop(onComplete func()) {
	done := func() {
		if onComplete != nil {
			s.main.Async(onComplete)
		}
	}
	if !s.queue.Async(func() {
		s.stop()
		done()
	}) {
		done()
	}
}

func (s *Session) stop() {
	switch s.state {
	case StateRunning, StateInterrupted:
	default:
		return
	}
	s.setState(StateStopping)
	s.halt()
	s.setState(StateIdle)
}

func (s *Session) onEvent(ev Event) {
	s.queue.Async(func() { s.handleEvent(ev) })
}

func (s *Session) handleEvent(ev Event) {
	switch ev.Kind {
	case EventInterrupted:
		if s.state != StateRunning {
			return
		}
		s.log.Warn("capture session interrupted", zap.Stringer("reason", ev.Reason))
		s.interruption = ev.Reason
		s.setState(StateInterrupted)

	case EventInterruptionEnded:
		if s.state != StateInterrupted {
			return
		}
		if !s.interruption.AutoResumes() {
			s.log.Info("interruption ended, waiting for start",
				zap.Stringer("reason", s.interruption))
			return
		}
		_ = s.resume()

	case EventRuntimeError:
		if s.state != StateRunning && s.state != StateInterrupted {
			return
		}
		if ev.MediaServicesReset && s.state == StateRunning {
			s.log.Warn("media services reset, restarting", zap.Error(ev.Err))
			if err := s.device.Start(); err != nil {
				s.halt()
				s.fail(FailureRuntimeError, fmt.Errorf("restart capture: %w", err))
			}
			return
		}
		s.halt()
		s.fail(FailureRuntimeError, ev.Err)

	case EventSystemPressure:
		s.onPressure(ev.Pressure)

	case EventSubjectAreaChanged:
		if s.input == nil {
			return
		}
		if err := s.input.Focus(geometry.Point{X: 0.5, Y: 0.5}, true); err != nil {
			s.log.Debug("refocus failed", zap.Error(err))
		}
	}
}

func (s *Session) onPressure(level PressureLevel) {
	if level == s.pressure {
		return
	}
	s.log.Info("system pressure", zap.Stringer("level", level))
	s.pressure = level

	if level == PressureShutdown {
		if s.state == StateRunning {
			s.interruption = InterruptionSystemPressure
			s.setState(StateInterrupted)
			return
		}
		s.publish()
		return
	}
	s.applyFrameRate()
	s.publish()
}

// applyFrameRate sets the input's frame rate for the current pressure.
func (s *Session) applyFrameRate() {
	if s.input == nil {
		return
	}
	r := s.rates
	if s.pressure == PressureSerious || s.pressure == PressureCritical {
		r = s.throttle
	}
	if err := s.input.SetFrameRateRange(r); err != nil {
		s.log.Warn("set frame rate", zap.Error(err))
	}
}

// ChangeCamera switches between the rear and front cameras. On failure the
// previous camera stays attached.
func (s *Session) ChangeCamera(ctx context.Context) error {
	return s.run(ctx, s.changeCamera)
}

func (s *Session) changeCamera() error {
	switch s.state {
	case StateIdle, StateRunning, StateInterrupted:
	default:
		return ErrNotConfigured
	}

	current := s.input
	want := PositionBack
	if current.Info().Position == PositionBack {
		want = PositionFront
	}

	devices, err := s.device.Devices()
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	info, ok := selectDevice(devices, want, current.Info().ID)
	if !ok {
		return ErrNoAlternateCamera
	}

	s.device.BeginConfiguration()
	s.device.RemoveInput(current)

	next, err := s.swapIn(info)
	if err != nil {
		if rerr := s.device.AddInput(current); rerr != nil {
			_ = s.device.CommitConfiguration()
			s.input = nil
			s.halt()
			err = fmt.Errorf("restore camera after %v: %w", err, rerr)
			s.fail(FailureConfigurationFailed, err)
			return err
		}
		if cerr := s.device.CommitConfiguration(); cerr != nil {
			s.log.Warn("commit after failed camera change", zap.Error(cerr))
		}
		s.lastErr = err
		s.publish()
		return err
	}

	if err := s.device.CommitConfiguration(); err != nil {
		s.device.BeginConfiguration()
		s.device.RemoveInput(next)
		next.Close()
		restoreErr := s.device.AddInput(current)
		_ = s.device.CommitConfiguration()
		if restoreErr != nil {
			s.input = nil
			s.halt()
			s.fail(FailureConfigurationFailed, restoreErr)
			return restoreErr
		}
		err = fmt.Errorf("commit camera change: %w", err)
		s.lastErr = err
		s.publish()
		return err
	}

	if err := current.Close(); err != nil {
		s.log.Warn("close previous input", zap.Error(err))
	}
	s.input = next
	s.lastErr = nil
	s.applyFrameRate()
	s.log.Info("camera changed",
		zap.String("device", info.Name),
		zap.Stringer("position", info.Position))
	s.publish()
	return nil
}

func (s *Session) swapIn(info DeviceInfo) (Input, error) {
	next, err := s.device.Open(info.ID)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", info.Name, err)
	}
	if err := s.device.AddInput(next); err != nil {
		next.Close()
		return nil, fmt.Errorf("add input %s: %w", info.Name, err)
	}
	return next, nil
}

// CapturePhoto requests a still capture. onComplete runs on the main queue
// with the photo, or with a nil photo and an error. Once the main queue is
// closed it runs on the caller's goroutine instead. Failures never change
// the session state.
func (s *Session) CapturePhoto(onComplete func(*Photo, error)) {
	complete := func(p *Photo, err error) {
		if onComplete == nil {
			return
		}
		if !s.main.Async(func() { onComplete(p, err) }) {
			onComplete(p, err)
		}
	}
	if !s.queue.Async(func() { s.capturePhoto(complete) }) {
		complete(nil, ErrSessionClosed)
	}
}

func (s *Session) capturePhoto(complete func(*Photo, error)) {
	if s.closed || s.state != StateRunning {
		complete(nil, ErrNotRunning)
		return
	}

	id := uuid.NewString()
	s.inflight[id] = &photoCapture{onComplete: complete}

	err := s.device.CapturePhoto(PhotoRequest{
		ID: id,
		WillCapture: func() {
			s.queue.Async(func() { s.photoWillCapture(id) })
		},
		Done: func(p Photo, err error) {
			if !s.queue.Async(func() { s.photoDone(id, p, err) }) {
				complete(nil, ErrSessionClosed)
			}
		},
	})
	if err != nil {
		delete(s.inflight, id)
		complete(nil, fmt.Errorf("capture photo: %w", err))
	}
}

func (s *Session) photoWillCapture(id string) {
	pc, ok := s.inflight[id]
	if !ok || pc.capturing {
		return
	}
	pc.capturing = true
	s.capturing++
	s.publish()
}

func (s *Session) photoDone(id string, p Photo, err error) {
	pc, ok := s.inflight[id]
	if !ok {
		return
	}
	delete(s.inflight, id)
	if pc.capturing {
		s.capturing--
		s.publish()
	}

	if err != nil {
		s.log.Warn("photo capture failed", zap.String("id", id), zap.Error(err))
		pc.onComplete(nil, err)
		return
	}
	p.ID = id
	pc.onComplete(&p, nil)
}

// InFlightPhotos returns the number of photo captures awaiting completion.
func (s *Session) InFlightPhotos(ctx context.Context) (int, error) {
	var n int
	err := s.run(ctx, func() error {
		n = len(s.inflight)
		return nil
	})
	return n, err
}

// SetZoom sets the zoom factor, clamped to the camera's range.
func (s *Session) SetZoom(ctx context.Context, factor float64) error {
	return s.run(ctx, func() error {
		if s.input == nil {
			return ErrNotConfigured
		}
		lo, hi := s.input.ZoomRange()
		factor = clamp(factor, lo, hi)
		if err := s.input.SetZoom(factor); err != nil {
			return fmt.Errorf("set zoom %.2f: %w", factor, err)
		}
		return nil
	})
}

// Focus runs a single auto focus pass at p, given in normalized device
// coordinates.
func (s *Session) Focus(ctx context.Context, p geometry.Point) error {
	return s.run(ctx, func() error {
		if s.input == nil {
			return ErrNotConfigured
		}
		p = geometry.Point{X: clamp(p.X, 0, 1), Y: clamp(p.Y, 0, 1)}
		if err := s.input.Focus(p, false); err != nil {
			return fmt.Errorf("focus: %w", err)
		}
		return nil
	})
}

// Close stops the session, releases the camera and shuts down its queues.
// Photo captures still in flight are not cancelled; their completions
// report ErrSessionClosed.
func (s *Session) Close() {
	_ = s.queue.Sync(context.Background(), func() {
		if s.closed {
			return
		}
		s.stop()
		if s.input != nil {
			s.device.BeginConfiguration()
			s.detach()
			_ = s.device.CommitConfiguration()
		}
		s.closed = true
	})
	s.queue.Close()

	if s.ownsMain {
		s.main.Close()
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

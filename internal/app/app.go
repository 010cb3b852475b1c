// Package app wires the capture session, the detection pipeline, the result
// publisher and barcode hooks into one scanner.
package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ayusman/scanpipe/internal/capture"
	"github.com/ayusman/scanpipe/internal/detector"
	"github.com/ayusman/scanpipe/internal/dispatch"
	"github.com/ayusman/scanpipe/internal/geometry"
	"github.com/ayusman/scanpipe/internal/metrics"
	"github.com/ayusman/scanpipe/internal/plugin"
	"github.com/ayusman/scanpipe/internal/scan"
	"github.com/ayusman/scanpipe/internal/store"
)

// Config holds the collaborators of an App. Device and Detector are
// required; everything else is optional.
type Config struct {
	Device   capture.Device
	Detector detector.Detector
	// Decoder finds barcodes. Nil disables barcode scanning.
	Decoder   detector.BarcodeDecoder
	Detection detector.Config
	Layout    scan.Layout
	FrameRate capture.FrameRateRange
	Throttled capture.FrameRateRange

	// Store records scans and holds hooks. Nil disables both.
	Store    *store.Store
	Plugins  *plugin.Manager
	Executor *plugin.Executor

	Metrics *metrics.Metrics
	Logger  *zap.Logger
	// Main is the queue status and results are delivered on. The app
	// creates its own when nil.
	Main *dispatch.Queue
}

// Shot is a captured photo with the current overlay projected into its
// pixel space.
type Shot struct {
	Photo   *capture.Photo
	Overlay scan.DetectionResult
}

// App is the scanner: a capture session feeding a detection worker whose
// output is debounced by a publisher.
type App struct {
	cfg      Config
	log      *zap.Logger
	metrics  *metrics.Metrics
	main     *dispatch.Queue
	ownsMain bool

	session   *capture.Session
	publisher *scan.Publisher
	hooks     *hookRunner

	frames     chan pending
	stopCh     chan struct{}
	wg         sync.WaitGroup
	workerOnce sync.Once
	closeOnce  sync.Once
	unsubs     []func()
	latest     atomic.Pointer[capture.Frame]

	// gen advances on every Stop; frames delivered earlier are not
	// published. genMu also orders Submit calls against the clear.
	genMu sync.Mutex
	gen   uint64

	// Main queue only.
	lastPayload string
}

// New creates an App. The session is not configured until Start.
func New(cfg Config) (*App, error) {
	if cfg.Device == nil {
		return nil, errors.New("app: device is required")
	}
	if cfg.Detector == nil {
		return nil, errors.New("app: detector is required")
	}
	if cfg.Detection.MaxBoxes <= 0 {
		cfg.Detection = detector.DefaultConfig()
	}

	a := &App{
		cfg:     cfg,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		main:    cfg.Main,
		frames:  make(chan pending, 1),
		stopCh:  make(chan struct{}),
	}
	if a.log == nil {
		a.log = zap.NewNop()
	}
	if a.metrics == nil {
		a.metrics = metrics.New()
	}
	if a.main == nil {
		a.main = dispatch.NewQueue("main")
		a.ownsMain = true
	}

	a.session = capture.NewSession(cfg.Device, capture.Options{
		Main:      a.main,
		Logger:    a.log.Named("capture"),
		FrameRate: cfg.FrameRate,
		Throttled: cfg.Throttled,
	})
	a.publisher = scan.NewPublisher(scan.Options{
		Main:    a.main,
		Layout:  cfg.Layout,
		Logger:  a.log.Named("publisher"),
		Metrics: a.metrics,
	})
	a.hooks = newHookRunner(cfg.Store, cfg.Plugins, cfg.Executor, a.metrics, a.log.Named("hooks"))

	a.session.SetFrameHandler(a.enqueue)
	a.unsubs = append(a.unsubs,
		a.session.Subscribe(a.metrics.SessionStatus),
		a.publisher.Subscribe(a.onResult),
	)

	return a, nil
}

// DiscoverPlugins scans the plugin directory and loads available plugins.
func (a *App) DiscoverPlugins() error {
	if a.cfg.Plugins == nil {
		return nil
	}
	return a.cfg.Plugins.Discover()
}

// Start configures the session on first use and begins scanning. Starting
// a running scanner is a no-op.
func (a *App) Start(ctx context.Context) error {
	a.workerOnce.Do(func() {
		a.wg.Add(1)
		go a.runPipeline()
	})

	if err := a.session.Configure(ctx); err != nil && !errors.Is(err, capture.ErrAlreadyConfigured) {
		return err
	}
	return a.session.Start(ctx)
}

// Stop halts scanning and clears the published result.
func (a *App) Stop(ctx context.Context) error {
	done := make(chan struct{})
	a.session.Stop(func() { close(done) })

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	a.genMu.Lock()
	a.gen++
	a.drain()
	a.publisher.Submit(scan.Frame{})
	a.genMu.Unlock()
	return nil
}

// IsRunning reports whether the session is streaming.
func (a *App) IsRunning() bool {
	return a.session.Status().State == capture.StateRunning
}

// ChangeCamera switches to the camera on the other side.
func (a *App) ChangeCamera(ctx context.Context) error {
	return a.session.ChangeCamera(ctx)
}

// SetZoom sets the zoom factor of the active camera.
func (a *App) SetZoom(ctx context.Context, factor float64) error {
	return a.session.SetZoom(ctx, factor)
}

// Focus runs a single auto focus pass at a normalized device point.
func (a *App) Focus(ctx context.Context, p geometry.Point) error {
	return a.session.Focus(ctx, p)
}

// SetOrientation reprojects the current result for o.
func (a *App) SetOrientation(o geometry.Orientation) {
	a.publisher.SetOrientation(o)
}

// SetLayout replaces the display layout.
func (a *App) SetLayout(l scan.Layout) {
	a.publisher.SetLayout(l)
}

// CapturePhoto takes a still and projects the current overlay onto it. A
// barcode visible in the overlay is recorded as a photo scan.
func (a *App) CapturePhoto(ctx context.Context) (*Shot, error) {
	type outcome struct {
		photo *capture.Photo
		err   error
	}
	ch := make(chan outcome, 1)
	a.session.CapturePhoto(func(p *capture.Photo, err error) {
		ch <- outcome{p, err}
	})

	var out outcome
	select {
	case out = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if out.err != nil {
		return nil, out.err
	}

	shot := &Shot{
		Photo:   out.photo,
		Overlay: a.publisher.Overlay(out.photo.Size()),
	}
	if payload, ok := shot.Overlay.Payload(); ok {
		a.hooks.Record(payload, store.SourcePhoto)
	}
	a.log.Info("photo captured",
		zap.String("id", out.photo.ID),
		zap.Int("width", out.photo.Width),
		zap.Int("height", out.photo.Height),
		zap.Int("boxes", len(shot.Overlay.Boxes)))
	return shot, nil
}

// onResult records a scan whenever a new barcode payload is published. It
// runs on the main queue.
func (a *App) onResult(r scan.DetectionResult) {
	payload, ok := r.Payload()
	if !ok {
		a.lastPayload = ""
		return
	}
	if payload == a.lastPayload {
		return
	}
	a.lastPayload = payload
	a.hooks.Record(payload, store.SourceLive)
}

// Status returns the latest session status.
func (a *App) Status() capture.Status {
	return a.session.Status()
}

// LatestFrame returns the most recently processed frame.
func (a *App) LatestFrame() (capture.Frame, bool) {
	f := a.latest.Load()
	if f == nil {
		return capture.Frame{}, false
	}
	return *f, true
}

// Result returns the latest published detection result.
func (a *App) Result() scan.DetectionResult {
	return a.publisher.Latest()
}

// Layout returns the current display layout.
func (a *App) Layout() scan.Layout {
	return a.publisher.Layout()
}

// SubscribeStatus registers fn for every session status change.
func (a *App) SubscribeStatus(fn func(capture.Status)) (unsubscribe func()) {
	return a.session.Subscribe(fn)
}

// SubscribeResults registers fn for every published result.
func (a *App) SubscribeResults(fn func(scan.DetectionResult)) (unsubscribe func()) {
	return a.publisher.Subscribe(fn)
}

// Session returns the capture session.
func (a *App) Session() *capture.Session {
	return a.session
}

// Publisher returns the result publisher.
func (a *App) Publisher() *scan.Publisher {
	return a.publisher
}

// Store returns the scan store, or nil.
func (a *App) Store() *store.Store {
	return a.cfg.Store
}

// PluginManager returns the plugin manager, or nil.
func (a *App) PluginManager() *plugin.Manager {
	return a.cfg.Plugins
}

// Metrics returns the pipeline metrics.
func (a *App) Metrics() *metrics.Metrics {
	return a.metrics
}

// Close stops scanning and releases the camera, the models and the queues.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		for _, unsubscribe := range a.unsubs {
			unsubscribe()
		}

		a.session.SetFrameHandler(nil)
		a.session.Close()

		close(a.stopCh)
		a.wg.Wait()
		a.hooks.Close()

		if err := a.cfg.Detector.Close(); err != nil {
			a.log.Warn("close detector", zap.Error(err))
		}
		if a.cfg.Decoder != nil {
			if err := a.cfg.Decoder.Close(); err != nil {
				a.log.Warn("close decoder", zap.Error(err))
			}
		}

		if a.ownsMain {
			a.main.Close()
		}
		a.log.Info("scanner closed")
	})
}

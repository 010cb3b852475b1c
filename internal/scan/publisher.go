package scan

import (
	"sync"

	"go.uber.org/zap"

	"github.com/ayusman/scanpipe/internal/detector"
	"github.com/ayusman/scanpipe/internal/dispatch"
	"github.com/ayusman/scanpipe/internal/geometry"
)

// Recorder observes publisher decisions.
type Recorder interface {
	ResultPublished()
	ResultSuppressed()
}

type nopRecorder struct{}

func (nopRecorder) ResultPublished()  {}
func (nopRecorder) ResultSuppressed() {}

// Options configures a Publisher.
type Options struct {
	// Main is the queue subscribers are called on. Required.
	Main    *dispatch.Queue
	Layout  Layout
	Logger  *zap.Logger
	Metrics Recorder
}

// Publisher holds the latest detector-space frame and decides when its
// projection replaces the externally visible DetectionResult.
//
// An update is published when the barcode payload changes or the overlay
// geometry moves. An empty result following an empty result, and a result
// identical to the published one, are suppressed.
type Publisher struct {
	main    *dispatch.Queue
	log     *zap.Logger
	metrics Recorder

	mu        sync.Mutex
	layout    Layout
	held      Frame
	hasHeld   bool
	decided   DetectionResult
	published bool

	subMu   sync.RWMutex
	latest  DetectionResult
	subs    map[int]func(DetectionResult)
	nextSub int
}

// NewPublisher creates a Publisher.
func NewPublisher(opts Options) *Publisher {
	p := &Publisher{
		main:    opts.Main,
		log:     opts.Logger,
		metrics: opts.Metrics,
		layout:  opts.Layout,
		latest:  DetectionResult{Boxes: []detector.BoundingBox{}},
		subs:    make(map[int]func(DetectionResult)),
	}
	if p.log == nil {
		p.log = zap.NewNop()
	}
	if p.metrics == nil {
		p.metrics = nopRecorder{}
	}
	return p
}

// Submit offers the outcome of a new frame. It reports whether the result
// was published.
func (p *Publisher) Submit(f Frame) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.held = f
	p.hasHeld = true
	return p.decide(p.layout.Project(f))
}

// SetOrientation reprojects the held frame for orientation o. Repeating the
// same orientation publishes nothing.
func (p *Publisher) SetOrientation(o geometry.Orientation) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.layout.Orientation = o
	return p.recompute()
}

// SetLayout replaces the whole layout and reprojects the held frame.
func (p *Publisher) SetLayout(l Layout) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.layout = l
	return p.recompute()
}

// Layout returns the current layout.
func (p *Publisher) Layout() Layout {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.layout
}

func (p *Publisher) recompute() bool {
	if !p.hasHeld {
		return false
	}
	return p.decide(p.layout.Project(p.held))
}

// decide applies the publication rules. Callers hold p.mu.
func (p *Publisher) decide(next DetectionResult) bool {
	prev := p.decided

	switch {
	case !p.published:
	case next.IsEmpty() && prev.IsEmpty():
		p.metrics.ResultSuppressed()
		return false
	case !next.SamePayload(prev):
		if payload, ok := next.Payload(); ok {
			p.log.Info("barcode changed", zap.String("payload", payload))
		}
	case !next.SameGeometry(prev):
	default:
		p.metrics.ResultSuppressed()
		return false
	}

	p.decided = next
	p.published = true
	p.metrics.ResultPublished()

	p.main.Async(func() {
		p.subMu.Lock()
		p.latest = next
		subs := make([]func(DetectionResult), 0, len(p.subs))
		for _, fn := range p.subs {
			subs = append(subs, fn)
		}
		p.subMu.Unlock()

		for _, fn := range subs {
			fn(next)
		}
	})
	return true
}

// Latest returns the result most recently delivered on the main queue.
func (p *Publisher) Latest() DetectionResult {
	p.subMu.RLock()
	defer p.subMu.RUnlock()
	return p.latest
}

// Subscribe registers fn for every published result. fn runs on the main
// queue.
func (p *Publisher) Subscribe(fn func(DetectionResult)) (unsubscribe func()) {
	p.subMu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	p.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.subMu.Lock()
			delete(p.subs, id)
			p.subMu.Unlock()
		})
	}
}

// Overlay projects the held frame into the pixel space of a photo of
// photoSize, through the same path as the live overlay.
func (p *Publisher) Overlay(photoSize geometry.Size) DetectionResult {
	p.mu.Lock()
	held := p.held
	p.mu.Unlock()

	held.ImageSize = photoSize
	return PhotoLayout(photoSize).Project(held)
}

// Reset forgets the held frame and the publication history, so the next
// frame publishes unconditionally.
func (p *Publisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.held = Frame{}
	p.hasHeld = false
	p.decided = DetectionResult{}
	p.published = false
}

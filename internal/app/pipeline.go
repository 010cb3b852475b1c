package app

import (
	"time"

	"go.uber.org/zap"

	"github.com/ayusman/scanpipe/internal/capture"
	"github.com/ayusman/scanpipe/internal/detector"
	"github.com/ayusman/scanpipe/internal/scan"
)

// pending is a frame waiting in the mailbox, tagged with the scan
// generation it was delivered in.
type pending struct {
	frame capture.Frame
	gen   uint64
}

// enqueue is the session's frame handler. The mailbox holds one frame; a
// newer frame replaces one the worker has not picked up yet.
func (a *App) enqueue(f capture.Frame) {
	a.metrics.FrameReceived()
	p := pending{frame: f, gen: a.generation()}

	for {
		select {
		case a.frames <- p:
			return
		default:
		}

		select {
		case <-a.frames:
			a.metrics.FrameDropped()
		default:
		}
	}
}

// drain discards a frame still waiting in the mailbox.
func (a *App) drain() {
	select {
	case <-a.frames:
		a.metrics.FrameDropped()
	default:
	}
}

func (a *App) generation() uint64 {
	a.genMu.Lock()
	defer a.genMu.Unlock()
	return a.gen
}

// runPipeline is the detection worker. Each frame goes through:
//  1. model proposals
//  2. score filter
//  3. class-agnostic suppression
//  4. barcode decoding
//  5. the publisher, which decides whether observers hear about it
func (a *App) runPipeline() {
	defer a.wg.Done()

	for {
		select {
		case <-a.stopCh:
			return
		case p := <-a.frames:
			a.processAt(p.frame, p.gen)
		}
	}
}

func (a *App) process(f capture.Frame) {
	a.processAt(f, a.generation())
}

// processAt runs one frame. Its result is discarded when Stop has run since
// the frame was delivered.
func (a *App) processAt(f capture.Frame, gen uint64) {
	start := time.Now()
	cfg := a.cfg.Detection

	// Detection and decoding fail independently; a broken model still
	// lets barcodes through and clears stale boxes.
	var boxes, kept []detector.BoundingBox
	raws, err := a.cfg.Detector.Detect(f)
	if err != nil {
		a.metrics.DetectFailed()
		a.log.Debug("detect failed", zap.Uint64("seq", f.Seq), zap.Error(err))
	} else {
		boxes = detector.NewBoundingBoxes(detector.FilterByScore(raws, cfg.MinScore))
		kept = detector.SuppressBoxes(boxes, cfg.IOUThreshold, cfg.MaxBoxes)
	}

	var code *detector.Barcode
	if a.cfg.Decoder != nil {
		b, ok, err := a.cfg.Decoder.Decode(f)
		switch {
		case err != nil:
			a.log.Debug("barcode decode failed", zap.Uint64("seq", f.Seq), zap.Error(err))
		case ok:
			code = &b
		}
	}

	a.latest.Store(&f)
	a.metrics.FrameProcessed(time.Since(start), len(boxes)-len(kept))

	a.genMu.Lock()
	defer a.genMu.Unlock()
	if gen != a.gen {
		a.log.Debug("discarding frame from before stop", zap.Uint64("seq", f.Seq))
		return
	}
	a.publisher.Submit(scan.Frame{
		ImageSize: f.Size(),
		Barcode:   code,
		Boxes:     kept,
	})
}

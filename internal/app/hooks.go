package app

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ayusman/scanpipe/internal/dispatch"
	"github.com/ayusman/scanpipe/internal/metrics"
	"github.com/ayusman/scanpipe/internal/plugin"
	"github.com/ayusman/scanpipe/internal/store"
)

// hookRunner records scans and runs the hooks they match, one scan at a
// time, off the detection and main queues.
type hookRunner struct {
	store   *store.Store
	plugins *plugin.Manager
	exec    *plugin.Executor
	metrics *metrics.Metrics
	log     *zap.Logger

	queue  *dispatch.Queue
	ctx    context.Context
	cancel context.CancelFunc
}

func newHookRunner(s *store.Store, plugins *plugin.Manager, exec *plugin.Executor, m *metrics.Metrics, log *zap.Logger) *hookRunner {
	ctx, cancel := context.WithCancel(context.Background())
	if exec == nil {
		exec = plugin.NewExecutor(5*time.Second, log)
	}
	return &hookRunner{
		store:   s,
		plugins: plugins,
		exec:    exec,
		metrics: m,
		log:     log,
		queue:   dispatch.NewQueue("hooks"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Record queues a scan of payload. Without a store it only logs.
func (h *hookRunner) Record(payload string, source store.Source) {
	if h.store == nil {
		h.log.Info("barcode scanned", zap.String("payload", payload), zap.String("source", string(source)))
		return
	}
	h.queue.Async(func() { h.record(payload, source) })
}

func (h *hookRunner) record(payload string, source store.Source) {
	sc, err := h.store.Scans().Record(payload, source)
	if err != nil {
		h.log.Error("record scan", zap.String("payload", payload), zap.Error(err))
		return
	}
	h.metrics.ScanRecorded()
	h.log.Info("barcode scanned",
		zap.String("scan", sc.ID),
		zap.String("payload", payload),
		zap.String("source", string(source)))

	hooks, err := h.store.Hooks().Matching(payload)
	if err != nil {
		h.log.Error("match hooks", zap.Error(err))
		return
	}
	for _, hk := range hooks {
		run := h.run(hk, sc)
		h.metrics.HookRan(run.Success)
		if err := h.store.Hooks().RecordRun(run); err != nil {
			h.log.Warn("record hook run", zap.String("hook", hk.Name), zap.Error(err))
		}
	}
}

// run executes one hook against a scan and reports the outcome.
func (h *hookRunner) run(hk *store.Hook, sc *store.Scan) *store.HookRun {
	out := &store.HookRun{HookID: hk.ID, ScanID: sc.ID}
	start := time.Now()
	defer func() { out.Duration = time.Since(start) }()

	resp, err := h.execute(hk, sc)
	switch {
	case err != nil:
		out.Error = err.Error()
	case !resp.Success:
		out.Error = resp.Error
	default:
		out.Success = true
	}

	if out.Success {
		h.log.Info("hook ran", zap.String("hook", hk.Name), zap.String("plugin", hk.PluginName))
	} else {
		h.log.Warn("hook failed", zap.String("hook", hk.Name), zap.String("plugin", hk.PluginName), zap.String("error", out.Error))
	}
	return out
}

func (h *hookRunner) execute(hk *store.Hook, sc *store.Scan) (*plugin.Response, error) {
	if h.plugins == nil {
		return nil, errors.New("plugins disabled")
	}
	p, err := h.plugins.Get(hk.PluginName)
	if err != nil {
		return nil, err
	}

	return h.exec.Execute(h.ctx, p, &plugin.Request{
		Action: hk.ActionName,
		Hook:   hk.Name,
		Barcode: plugin.Barcode{
			ScanID:    sc.ID,
			Payload:   sc.Payload,
			Source:    string(sc.Source),
			ScannedAt: sc.ScannedAt,
		},
		Config: hk.Config,
	})
}

// Flush waits until every queued scan has been handled.
func (h *hookRunner) Flush(ctx context.Context) error {
	return h.queue.Flush(ctx)
}

// Close cancels running plugins and stops accepting scans.
func (h *hookRunner) Close() {
	h.cancel()
	h.queue.Close()
}

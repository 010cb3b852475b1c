package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ayusman/scanpipe/internal/app"
	"github.com/ayusman/scanpipe/internal/capture"
	"github.com/ayusman/scanpipe/internal/config"
	"github.com/ayusman/scanpipe/internal/detector"
	"github.com/ayusman/scanpipe/internal/logger"
	"github.com/ayusman/scanpipe/internal/metrics"
	"github.com/ayusman/scanpipe/internal/opencv"
	"github.com/ayusman/scanpipe/internal/plugin"
	"github.com/ayusman/scanpipe/internal/scan"
	"github.com/ayusman/scanpipe/internal/server"
	"github.com/ayusman/scanpipe/internal/store"
	"github.com/ayusman/scanpipe/internal/tray"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	withTray := flag.Bool("tray", false, "show a system tray menu")
	flag.Parse()

	if err := run(*configPath, *withTray); err != nil {
		fmt.Fprintf(os.Stderr, "scanpipe: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, withTray bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck
	zap.ReplaceGlobals(log)

	dataDir, err := dataDir()
	if err != nil {
		return err
	}

	var st *store.Store
	if cfg.Store.Path != "" {
		dbPath := cfg.Store.Path
		if !filepath.IsAbs(dbPath) {
			dbPath = filepath.Join(dataDir, dbPath)
		}
		st, err = store.New(dbPath)
		if err != nil {
			return fmt.Errorf("initialize store: %w", err)
		}
		defer st.Close()
		log.Info("scan history enabled", zap.String("path", dbPath))
	}

	hooksDir := cfg.Hooks.Dir
	if !filepath.IsAbs(hooksDir) {
		hooksDir = filepath.Join(dataDir, hooksDir)
	}
	plugins := plugin.NewManager(hooksDir, log.Named("plugins"))
	m := metrics.New()

	camera := opencv.NewCamera(opencv.CameraOptions{
		Devices: cfg.Camera.DeviceInfos(),
		Width:   cfg.Camera.Width,
		Height:  cfg.Camera.Height,
		Logger:  log.Named("camera"),
	})

	det, err := newDetector(cfg.Detection, log)
	if err != nil {
		return err
	}
	var dec detector.BarcodeDecoder
	if cfg.Detection.Barcodes {
		dec = opencv.NewQRDecoder()
	}

	scanner, err := app.New(app.Config{
		Device:    camera,
		Detector:  det,
		Decoder:   dec,
		Detection: cfg.Detection.DetectorConfig(),
		Layout:    cfg.Display.Layout(),
		FrameRate: cfg.Camera.FrameRate,
		Throttled: cfg.Camera.Throttled,
		Store:     st,
		Plugins:   plugins,
		Executor:  plugin.NewExecutor(cfg.Hooks.Timeout, log.Named("executor")),
		Metrics:   m,
		Logger:    log,
	})
	if err != nil {
		return err
	}
	defer scanner.Close()

	if err := scanner.DiscoverPlugins(); err != nil {
		log.Warn("plugin discovery failed", zap.String("dir", hooksDir), zap.Error(err))
	}

	webDir := findWebDir(dataDir)
	if webDir != "" {
		log.Info("serving static files", zap.String("dir", webDir))
	}

	srv := server.New(server.Config{
		StaticDir: webDir,
		Store:     st,
		Plugins:   plugins,
		Scanner:   scanner,
		Metrics:   m.Handler(),
		Logger:    log.Named("server"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := scanner.Start(ctx); err != nil {
		log.Error("camera did not start", zap.Error(err))
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", cfg.Server.Addr))
		serveErr <- srv.ListenAndServe(cfg.Server.Addr)
	}()

	if withTray {
		t := newTray(ctx, scanner, settingsURL(cfg.Server.Addr), stop, log)
		go func() {
			<-ctx.Done()
			t.Quit()
		}()
		// systray needs the main goroutine.
		t.Run()
		stop()
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := scanner.Stop(shutdownCtx); err != nil {
		log.Warn("stop scanner", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	return nil
}

// newDetector starts the model service when one is configured, falling back
// to the mock detector otherwise.
func newDetector(cfg config.DetectionConfig, log *zap.Logger) (detector.Detector, error) {
	if cfg.Service == "" {
		log.Warn("no model service configured, using mock detector")
		return detector.NewMockDetector(), nil
	}
	d, err := opencv.NewServiceDetector(opencv.ServiceOptions{
		Script: cfg.Service,
		Logger: log.Named("model"),
	})
	if err != nil {
		return nil, fmt.Errorf("model service: %w", err)
	}
	return d, nil
}

func newTray(ctx context.Context, scanner *app.App, url string, quit func(), log *zap.Logger) *tray.Tray {
	t := tray.New()

	scanner.SubscribeStatus(func(st capture.Status) {
		t.SetStatus(st.State.String())
		t.SetScanning(st.State == capture.StateRunning)
	})
	scanner.SubscribeResults(func(r scan.DetectionResult) {
		if payload, ok := r.Payload(); ok {
			t.SetLastBarcode(payload)
		}
	})

	t.OnToggle(func(scanning bool) {
		var err error
		if scanning {
			err = scanner.Start(ctx)
		} else {
			err = scanner.Stop(ctx)
		}
		if err != nil {
			log.Warn("toggle scanning", zap.Bool("scanning", scanning), zap.Error(err))
		}
	})
	t.OnSwitchCamera(func() {
		if err := scanner.ChangeCamera(ctx); err != nil {
			log.Warn("switch camera", zap.Error(err))
		}
	})
	t.OnSettings(func() {
		if err := openBrowser(url); err != nil {
			log.Warn("open settings", zap.String("url", url), zap.Error(err))
		}
	})
	t.OnQuit(quit)
	return t
}

func settingsURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/"
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}

// dataDir returns ~/.scanpipe, creating it if needed.
func dataDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	dir := filepath.Join(homeDir, ".scanpipe")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create data directory: %w", err)
	}
	return dir, nil
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and the data directory.
// Returns the first existing directory or empty string if none found.
func findWebDir(dataDir string) string {
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	homeWebDir := filepath.Join(dataDir, "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}
	return ""
}

package opencv

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ayusman/scanpipe/internal/capture"
	"github.com/ayusman/scanpipe/internal/detector"
	"github.com/ayusman/scanpipe/internal/geometry"
)

// DefaultIdleTimeout is how long the model service may sit unused before it
// is stopped.
const DefaultIdleTimeout = 30 * time.Second

const serviceScript = "detect_service.py"

// ErrServiceNotFound is returned when no model service script exists.
var ErrServiceNotFound = errors.New(serviceScript + " not found")

// ServiceOptions configures a ServiceDetector.
type ServiceOptions struct {
	// Script is the model service script. Empty searches the usual places.
	Script string
	// Python is the interpreter. Empty prefers a venv, then python3.
	Python      string
	IdleTimeout time.Duration
	Logger      *zap.Logger
}

// ServiceDetector implements detector.Detector by streaming JPEG frames to a
// Python model service.
//
// Each request is a 4-byte big-endian length followed by the JPEG bytes. The
// service answers with one JSON line holding pixel-space boxes.
type ServiceDetector struct {
	script  string
	python  string
	idle    time.Duration
	log     *zap.Logger
	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	started bool
	timer   *time.Timer
}

// NewServiceDetector creates a detector. The service is started lazily on
// the first frame.
func NewServiceDetector(opts ServiceOptions) (*ServiceDetector, error) {
	script := opts.Script
	if script == "" {
		script = findServiceScript()
	}
	if script == "" {
		return nil, ErrServiceNotFound
	}
	if _, err := os.Stat(script); err != nil {
		return nil, fmt.Errorf("model service: %w", err)
	}

	python := opts.Python
	if python == "" {
		python = findVenvPython()
	}
	if python == "" {
		python = "python3"
	}

	d := &ServiceDetector{
		script: script,
		python: python,
		idle:   opts.IdleTimeout,
		log:    opts.Logger,
	}
	if d.idle <= 0 {
		d.idle = DefaultIdleTimeout
	}
	if d.log == nil {
		d.log = zap.NewNop()
	}
	return d, nil
}

// Detect sends frame to the service and returns its proposals in the
// model's normalized convention.
func (d *ServiceDetector) Detect(frame capture.Frame) ([]detector.RawDetection, error) {
	data, err := EncodeImage(frame.Image)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureStarted(); err != nil {
		return nil, err
	}

	resp, err := exchange(d.stdin, d.stdout, data)
	if err != nil {
		// The stream is out of sync; restart on the next frame.
		if serr := d.shutdown(); serr != nil {
			d.log.Debug("model service exit", zap.Error(serr))
		}
		return nil, err
	}
	d.resetIdleTimer()

	if resp.Error != "" {
		return nil, fmt.Errorf("model service: %s", resp.Error)
	}
	return resp.detections(frame.Size()), nil
}

// Close shuts down the service process.
func (d *ServiceDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdown()
}

func (d *ServiceDetector) ensureStarted() error {
	if d.started {
		return nil
	}

	cmd := exec.Command(d.python, d.script)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start model service: %w", err)
	}

	d.cmd = cmd
	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)
	d.started = true
	d.log.Info("model service started", zap.String("script", d.script), zap.Int("pid", cmd.Process.Pid))
	return nil
}

func (d *ServiceDetector) shutdown() error {
	if !d.started {
		return nil
	}

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.stdin.Close()

	err := d.cmd.Wait()
	d.started = false
	d.cmd = nil
	d.stdin = nil
	d.stdout = nil
	d.log.Info("model service stopped")
	return err
}

func (d *ServiceDetector) resetIdleTimer() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.idle, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if err := d.shutdown(); err != nil {
			d.log.Debug("model service exit", zap.Error(err))
		}
	})
}

// serviceResponse is one JSON line from the model service.
type serviceResponse struct {
	Detections []serviceDetection `json:"detections"`
	Error      string             `json:"error,omitempty"`
}

// serviceDetection is a pixel-space box with a top-left origin.
type serviceDetection struct {
	Class int        `json:"class"`
	Score float32    `json:"score"`
	Box   [4]float64 `json:"box"` // x, y, width, height
}

func (r serviceResponse) detections(size geometry.Size) []detector.RawDetection {
	out := make([]detector.RawDetection, 0, len(r.Detections))
	for _, d := range r.Detections {
		rect := geometry.Rect{X: d.Box[0], Y: d.Box[1], Width: d.Box[2], Height: d.Box[3]}
		out = append(out, detector.RawDetection{
			ClassIndex: d.Class,
			Score:      d.Score,
			Rect:       detector.FromPixelRect(rect, size),
		})
	}
	return out
}

// exchange writes one length-prefixed frame and reads the reply line.
func exchange(w io.Writer, r *bufio.Reader, data []byte) (serviceResponse, error) {
	var resp serviceResponse

	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))
	if _, err := w.Write(length); err != nil {
		return resp, fmt.Errorf("write length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return resp, fmt.Errorf("write data: %w", err)
	}

	line, err := r.ReadBytes('\n')
	if err != nil {
		return resp, fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(line, &resp); err != nil {
		return resp, fmt.Errorf("parse response: %w", err)
	}
	return resp, nil
}

func findServiceScript() string {
	var execDir string
	if execPath, err := os.Executable(); err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		filepath.Join("scripts", serviceScript),
		filepath.Join("..", "scripts", serviceScript),
		filepath.Join(execDir, "scripts", serviceScript),
		filepath.Join(os.Getenv("HOME"), ".scanpipe", "scripts", serviceScript),
	}
	return firstExisting(candidates)
}

// findVenvPython looks for a virtual environment interpreter next to the
// working directory or the executable.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".scanpipe/venv/bin/python"),
	}
	return firstExisting(candidates)
}

func firstExisting(paths []string) string {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if abs, err := filepath.Abs(path); err == nil {
			return abs
		}
		return path
	}
	return ""
}

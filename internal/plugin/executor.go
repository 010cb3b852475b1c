package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// ErrUnsupportedAction is returned when a request names an action the
// plugin's manifest does not declare.
var ErrUnsupportedAction = errors.New("action not supported by plugin")

// Executor runs plugins with a per-call timeout.
type Executor struct {
	timeout time.Duration
	log     *zap.Logger
}

// NewExecutor creates an Executor. A nil logger disables logging.
func NewExecutor(timeout time.Duration, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{timeout: timeout, log: log}
}

// Timeout returns the per-call timeout.
func (e *Executor) Timeout() time.Duration {
	return e.timeout
}

// Execute writes req to the plugin's stdin and parses its stdout as a
// Response. The call is bounded by both ctx and the executor timeout.
func (e *Executor) Execute(ctx context.Context, plugin *Plugin, req *Request) (*Response, error) {
	if !plugin.Supports(req.Action) {
		return nil, fmt.Errorf("%s/%s: %w", plugin.Manifest.Name, req.Action, ErrUnsupportedAction)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	cmd := exec.CommandContext(ctx, plugin.Executable)
	cmd.Dir = plugin.Path
	cmd.WaitDelay = time.Second
	cmd.Stdin = bytes.NewReader(reqJSON)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	elapsed := time.Since(start)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		e.log.Warn("plugin timed out",
			zap.String("plugin", plugin.Manifest.Name),
			zap.String("action", req.Action),
			zap.Duration("timeout", e.timeout))
		return nil, fmt.Errorf("plugin execution timeout after %s", e.timeout)
	}

	if err != nil {
		if s := stderr.String(); s != "" {
			return nil, fmt.Errorf("plugin execution failed: %w, stderr: %s", err, s)
		}
		return nil, fmt.Errorf("plugin execution failed: %w", err)
	}

	var response Response
	if err := json.Unmarshal(stdout.Bytes(), &response); err != nil {
		return nil, fmt.Errorf("failed to parse plugin response: %w, stdout: %s", err, stdout.String())
	}

	e.log.Debug("plugin finished",
		zap.String("plugin", plugin.Manifest.Name),
		zap.String("action", req.Action),
		zap.Bool("success", response.Success),
		zap.Duration("elapsed", elapsed))

	return &response, nil
}

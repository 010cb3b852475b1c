// Package main provides a clipboard hook plugin.
// It copies scanned barcode payloads to the system clipboard.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Request represents the input from the plugin executor.
type Request struct {
	Action  string `json:"action"`
	Hook    string `json:"hook"`
	Barcode struct {
		Payload string `json:"payload"`
	} `json:"barcode"`
	Config json.RawMessage `json:"config"`
}

// Response represents the output to the plugin executor.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Config is the per-hook configuration.
type Config struct {
	// Prefix is prepended to the payload before copying.
	Prefix string `json:"prefix"`
	// Trim removes surrounding whitespace from the payload.
	Trim bool `json:"trim"`
}

func main() {
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeErrorResponse(fmt.Sprintf("failed to decode request: %v", err))
		return
	}

	switch req.Action {
	case "copy":
		text, err := buildText(req)
		if err != nil {
			writeErrorResponse(err.Error())
			return
		}
		if err := copyToClipboard(text); err != nil {
			writeErrorResponse(fmt.Sprintf("copy failed: %v", err))
			return
		}
		writeSuccessResponse(len(text))
	default:
		writeErrorResponse(fmt.Sprintf("unknown action: %s", req.Action))
	}
}

func buildText(req Request) (string, error) {
	var cfg Config
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			return "", fmt.Errorf("failed to parse config: %w", err)
		}
	}

	payload := req.Barcode.Payload
	if cfg.Trim {
		payload = strings.TrimSpace(payload)
	}
	if payload == "" {
		return "", errors.New("payload is empty")
	}
	return cfg.Prefix + payload, nil
}

// clipboardCommand returns the platform's clipboard writer.
func clipboardCommand() (*exec.Cmd, error) {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("pbcopy"), nil
	case "windows":
		return exec.Command("clip"), nil
	}
	for _, candidate := range [][]string{{"wl-copy"}, {"xclip", "-selection", "clipboard"}, {"xsel", "--clipboard", "--input"}} {
		if _, err := exec.LookPath(candidate[0]); err == nil {
			return exec.Command(candidate[0], candidate[1:]...), nil
		}
	}
	return nil, errors.New("no clipboard tool found (wl-copy, xclip or xsel)")
}

func copyToClipboard(text string) error {
	cmd, err := clipboardCommand()
	if err != nil {
		return err
	}
	cmd.Stdin = strings.NewReader(text)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(output))
	}
	return nil
}

func writeErrorResponse(errMsg string) {
	json.NewEncoder(os.Stdout).Encode(Response{Success: false, Error: errMsg})
}

func writeSuccessResponse(copied int) {
	data, _ := json.Marshal(map[string]int{"copied": copied})
	json.NewEncoder(os.Stdout).Encode(Response{Success: true, Data: data})
}

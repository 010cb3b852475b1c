// Package main provides a hook plugin that opens URL payloads in the
// default browser.
package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"runtime"
	"slices"
)

// Request represents the input from the plugin executor.
type Request struct {
	Action  string `json:"action"`
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

// Config restricts which URLs are opened.
type Config struct {
	Schemes []string `json:"schemes"`
	Hosts   []string `json:"hosts"`
}

var defaultSchemes = []string{"http", "https"}

func main() {
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeErrorResponse(fmt.Sprintf("failed to decode request: %v", err))
		return
	}

	if req.Action != "open" {
		writeErrorResponse(fmt.Sprintf("unknown action: %s", req.Action))
		return
	}

	u, err := validate(req)
	if err != nil {
		writeErrorResponse(err.Error())
		return
	}
	if err := openURL(u.String()); err != nil {
		writeErrorResponse(fmt.Sprintf("open failed: %v", err))
		return
	}

	data, _ := json.Marshal(map[string]string{"opened": u.String()})
	json.NewEncoder(os.Stdout).Encode(Response{Success: true, Data: data})
}

func validate(req Request) (*url.URL, error) {
	cfg := Config{Schemes: defaultSchemes}
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		if len(cfg.Schemes) == 0 {
			cfg.Schemes = defaultSchemes
		}
	}

	u, err := url.Parse(req.Barcode.Payload)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("payload is not a URL: %q", req.Barcode.Payload)
	}
	if !slices.Contains(cfg.Schemes, u.Scheme) {
		return nil, fmt.Errorf("scheme %q not allowed", u.Scheme)
	}
	if len(cfg.Hosts) > 0 && !slices.Contains(cfg.Hosts, u.Hostname()) {
		return nil, fmt.Errorf("host %q not allowed", u.Hostname())
	}
	return u, nil
}

func openURL(target string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", target)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", target)
	default:
		cmd = exec.Command("xdg-open", target)
	}
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(output))
	}
	return nil
}

func writeErrorResponse(errMsg string) {
	json.NewEncoder(os.Stdout).Encode(Response{Success: false, Error: errMsg})
}

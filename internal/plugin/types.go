// Package plugin discovers barcode hook plugins and runs them as
// subprocesses speaking JSON over stdin and stdout.
package plugin

import (
	"encoding/json"
	"slices"
	"time"
)

// Manifest describes a plugin's metadata and capabilities.
type Manifest struct {
	Name         string          `json:"name"`
	Version      string          `json:"version"`
	Description  string          `json:"description"`
	Executable   string          `json:"executable"`
	Actions      []string        `json:"actions"`
	ConfigSchema json.RawMessage `json:"configSchema,omitempty"`
}

// Barcode is the scanned code handed to a plugin.
type Barcode struct {
	ScanID    string    `json:"scanId"`
	Payload   string    `json:"payload"`
	Source    string    `json:"source"`
	ScannedAt time.Time `json:"scannedAt"`
}

// Request is written to the plugin's stdin.
type Request struct {
	Action  string          `json:"action"`
	Hook    string          `json:"hook,omitempty"`
	Barcode Barcode         `json:"barcode"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// Response is read from the plugin's stdout.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Plugin is a discovered plugin with its manifest and location.
type Plugin struct {
	Manifest   Manifest
	Path       string
	Executable string
}

// Supports reports whether the manifest declares action.
func (p *Plugin) Supports(action string) bool {
	return slices.Contains(p.Manifest.Actions, action)
}

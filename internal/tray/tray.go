// Package tray provides a system tray interface for the scanpipe scanner.
package tray

import (
	"sync"

	"github.com/getlantern/systray"
)

// Tray represents the system tray application.
type Tray struct {
	onToggle       func(scanning bool)
	onSwitchCamera func()
	onSettings     func()
	onQuit         func()
	scanning       bool
	status         string
	lastBarcode    string
	mu             sync.RWMutex

	// Menu items stored for later updates
	menuToggle      *systray.MenuItem
	menuStatus      *systray.MenuItem
	menuLastBarcode *systray.MenuItem
}

// New creates a new Tray instance with scanning on by default.
func New() *Tray {
	return &Tray{
		scanning: true,
		status:   "starting",
	}
}

// OnToggle sets the callback function to be called when scanning is toggled.
func (t *Tray) OnToggle(fn func(scanning bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnSwitchCamera sets the callback for the switch camera menu item.
func (t *Tray) OnSwitchCamera(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSwitchCamera = fn
}

// OnSettings sets the callback function to be called when the settings menu item is clicked.
func (t *Tray) OnSettings(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSettings = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit exits Run.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("Scanpipe")
	systray.SetTooltip("Scanpipe Barcode Scanner")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.scanning), "Pause or resume scanning")
	t.menuStatus = systray.AddMenuItem(statusTitle(t.status), "Camera session state")
	t.menuStatus.Disable()
	systray.AddSeparator()

	t.menuLastBarcode = systray.AddMenuItem(barcodeTitle(t.lastBarcode), "Last scanned barcode")
	t.menuLastBarcode.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuSwitch := systray.AddMenuItem("Switch Camera", "Use the camera on the other side")
	menuSettings := systray.AddMenuItem("Open Settings...", "Open settings in browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit Scanpipe")

	// Handle menu item clicks in a separate goroutine
	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuSwitch.ClickedCh:
				t.handleSwitchCamera()
			case <-menuSettings.ClickedCh:
				t.handleSettings()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

func toggleTitle(scanning bool) string {
	if scanning {
		return "● Scanning"
	}
	return "○ Paused"
}

func statusTitle(status string) string {
	return "Camera: " + status
}

func barcodeTitle(payload string) string {
	if payload == "" {
		return "Last: none"
	}
	const maxRunes = 40
	if r := []rune(payload); len(r) > maxRunes {
		payload = string(r[:maxRunes-1]) + "…"
	}
	return "Last: " + payload
}

// handleToggle handles the toggle menu item click.
func (t *Tray) handleToggle() {
	t.mu.Lock()
	t.scanning = !t.scanning
	scanning := t.scanning
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(scanning))
	}
	callback := t.onToggle
	t.mu.Unlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(scanning)
	}
}

func (t *Tray) handleSwitchCamera() {
	t.mu.RLock()
	callback := t.onSwitchCamera
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// handleSettings handles the settings menu item click.
func (t *Tray) handleSettings() {
	t.mu.RLock()
	callback := t.onSettings
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// handleQuit handles the quit menu item click.
func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// SetScanning updates the toggle without firing OnToggle.
func (t *Tray) SetScanning(scanning bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.scanning = scanning
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(scanning))
	}
}

// SetStatus updates the camera state line.
func (t *Tray) SetStatus(status string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status = status
	if t.menuStatus != nil {
		t.menuStatus.SetTitle(statusTitle(status))
	}
}

// SetLastBarcode updates the last barcode display in the menu.
func (t *Tray) SetLastBarcode(payload string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastBarcode = payload
	if t.menuLastBarcode != nil {
		t.menuLastBarcode.SetTitle(barcodeTitle(payload))
	}
}

// IsScanning returns the current toggle state.
func (t *Tray) IsScanning() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.scanning
}

// LastBarcode returns the payload shown in the menu.
func (t *Tray) LastBarcode() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastBarcode
}

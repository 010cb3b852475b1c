package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ayusman/scanpipe/internal/app"
	"github.com/ayusman/scanpipe/internal/capture"
	"github.com/ayusman/scanpipe/internal/dispatch"
	"github.com/ayusman/scanpipe/internal/geometry"
	"github.com/ayusman/scanpipe/internal/scan"
)

// requestTimeout bounds session operations started by a request.
const requestTimeout = 10 * time.Second

// Scanner is the scanner surface driven over HTTP. *app.App implements it.
type Scanner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	ChangeCamera(ctx context.Context) error
	SetZoom(ctx context.Context, factor float64) error
	Focus(ctx context.Context, p geometry.Point) error
	CapturePhoto(ctx context.Context) (*app.Shot, error)
	SetOrientation(o geometry.Orientation)
	SetLayout(l scan.Layout)
	Layout() scan.Layout
	Status() capture.Status
	Result() scan.DetectionResult
}

// SessionHandler controls the capture session.
type SessionHandler struct {
	scanner Scanner
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(s Scanner) *SessionHandler {
	return &SessionHandler{scanner: s}
}

// ServeHTTP routes /api/session and its sub-resources.
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/session")
	path = strings.TrimPrefix(path, "/")

	type route struct {
		path   string
		method string
	}
	handlers := map[route]func(http.ResponseWriter, *http.Request){
		{"", http.MethodGet}:            h.status,
		{"start", http.MethodPost}:      h.start,
		{"stop", http.MethodPost}:       h.stop,
		{"camera", http.MethodPost}:     h.changeCamera,
		{"zoom", http.MethodPost}:       h.zoom,
		{"focus", http.MethodPost}:      h.focus,
		{"photo", http.MethodPost}:      h.photo,
		{"result", http.MethodGet}:      h.result,
		{"layout", http.MethodGet}:      h.layout,
		{"layout", http.MethodPut}:      h.setLayout,
		{"orientation", http.MethodPut}: h.setOrientation,
	}

	if fn, ok := handlers[route{path, r.Method}]; ok {
		fn(w, r)
		return
	}
	for rt := range handlers {
		if rt.path == path {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
	}
	http.NotFound(w, r)
}

// StatusResponse is the JSON form of a capture.Status.
type StatusResponse struct {
	State             string `json:"state"`
	Failure           string `json:"failure,omitempty"`
	Interruption      string `json:"interruption,omitempty"`
	Setup             string `json:"setup"`
	Position          string `json:"position"`
	Pressure          string `json:"pressure"`
	CameraUnavailable bool   `json:"camera_unavailable"`
	WillCapturePhoto  bool   `json:"will_capture_photo"`
	Error             string `json:"error,omitempty"`
}

// ToStatusResponse converts st for the wire.
func ToStatusResponse(st capture.Status) StatusResponse {
	resp := StatusResponse{
		State:             st.State.String(),
		Setup:             st.Setup.String(),
		Position:          st.Position.String(),
		Pressure:          st.Pressure.String(),
		CameraUnavailable: st.IsCameraUnavailable,
		WillCapturePhoto:  st.WillCapturePhoto,
	}
	if st.Failure != capture.FailureNone {
		resp.Failure = st.Failure.String()
	}
	if st.Interruption != capture.InterruptionNone {
		resp.Interruption = st.Interruption.String()
	}
	if st.LastError != nil {
		resp.Error = st.LastError.Error()
	}
	return resp
}

type zoomRequest struct {
	Factor float64 `json:"factor"`
}

type orientationRequest struct {
	Orientation geometry.Orientation `json:"orientation"`
}

type photoResponse struct {
	ID      string               `json:"id"`
	Width   int                  `json:"width"`
	Height  int                  `json:"height"`
	Image   []byte               `json:"image"`
	Overlay scan.DetectionResult `json:"overlay"`
}

func (h *SessionHandler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ToStatusResponse(h.scanner.Status()))
}

func (h *SessionHandler) start(w http.ResponseWriter, r *http.Request) {
	h.do(w, r, h.scanner.Start)
}

func (h *SessionHandler) stop(w http.ResponseWriter, r *http.Request) {
	h.do(w, r, h.scanner.Stop)
}

func (h *SessionHandler) changeCamera(w http.ResponseWriter, r *http.Request) {
	h.do(w, r, h.scanner.ChangeCamera)
}

func (h *SessionHandler) zoom(w http.ResponseWriter, r *http.Request) {
	var req zoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Factor <= 0 {
		writeError(w, http.StatusBadRequest, "factor must be positive")
		return
	}
	h.do(w, r, func(ctx context.Context) error {
		return h.scanner.SetZoom(ctx, req.Factor)
	})
}

func (h *SessionHandler) focus(w http.ResponseWriter, r *http.Request) {
	var p geometry.Point
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
		writeError(w, http.StatusBadRequest, "focus point must be normalized")
		return
	}
	h.do(w, r, func(ctx context.Context) error {
		return h.scanner.Focus(ctx, p)
	})
}

func (h *SessionHandler) photo(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	shot, err := h.scanner.CapturePhoto(ctx)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, photoResponse{
		ID:      shot.Photo.ID,
		Width:   shot.Photo.Width,
		Height:  shot.Photo.Height,
		Image:   shot.Photo.Data,
		Overlay: shot.Overlay,
	})
}

func (h *SessionHandler) result(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scanner.Result())
}

func (h *SessionHandler) layout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scanner.Layout())
}

func (h *SessionHandler) setLayout(w http.ResponseWriter, r *http.Request) {
	var l scan.Layout
	if err := json.NewDecoder(r.Body).Decode(&l); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid layout")
		return
	}
	if l.ContainerSize.IsEmpty() {
		writeError(w, http.StatusBadRequest, "containerSize must be positive")
		return
	}
	h.scanner.SetLayout(l)
	writeJSON(w, http.StatusOK, l)
}

func (h *SessionHandler) setOrientation(w http.ResponseWriter, r *http.Request) {
	var req orientationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid orientation")
		return
	}
	h.scanner.SetOrientation(req.Orientation)
	w.WriteHeader(http.StatusNoContent)
}

// do runs fn with a request-scoped timeout and answers with the resulting
// status.
func (h *SessionHandler) do(w http.ResponseWriter, r *http.Request, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ToStatusResponse(h.scanner.Status()))
}

func writeSessionError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, capture.ErrNotAuthorized):
		status = http.StatusForbidden
	case errors.Is(err, capture.ErrNotConfigured),
		errors.Is(err, capture.ErrNotRunning),
		errors.Is(err, capture.ErrNoAlternateCamera):
		status = http.StatusConflict
	case errors.Is(err, capture.ErrNoCamera),
		errors.Is(err, capture.ErrSessionClosed),
		errors.Is(err, dispatch.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	writeError(w, status, err.Error())
}

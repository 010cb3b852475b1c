package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ayusman/scanpipe/internal/store"
)

const defaultScansLimit = 100

// ScanHandler serves the scan history.
type ScanHandler struct {
	store *store.Store
}

// NewScanHandler creates a new ScanHandler with the given store.
func NewScanHandler(s *store.Store) *ScanHandler {
	return &ScanHandler{store: s}
}

// ServeHTTP routes /api/scans and /api/scans/{id}.
func (h *ScanHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/scans")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.list(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.get(w, r, path)
	case http.MethodDelete:
		h.delete(w, r, path)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type scanResponse struct {
	ID        string `json:"id"`
	Payload   string `json:"payload"`
	Source    string `json:"source"`
	ScannedAt string `json:"scanned_at"`
}

type listScansResponse struct {
	Scans []scanResponse `json:"scans"`
	Total int            `json:"total"`
}

func toScanResponse(sc *store.Scan) scanResponse {
	return scanResponse{
		ID:        sc.ID,
		Payload:   sc.Payload,
		Source:    string(sc.Source),
		ScannedAt: sc.ScannedAt.Format(timeFormat),
	}
}

// list handles GET /api/scans?limit=N, newest first.
func (h *ScanHandler) list(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultScansLimit)
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}

	scans, err := h.store.Scans().List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list scans")
		return
	}
	total, err := h.store.Scans().Count()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count scans")
		return
	}

	response := listScansResponse{
		Scans: make([]scanResponse, 0, len(scans)),
		Total: total,
	}
	for _, sc := range scans {
		response.Scans = append(response.Scans, toScanResponse(sc))
	}
	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/scans/{id}.
func (h *ScanHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	sc, err := h.store.Scans().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Scan not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get scan")
		return
	}
	writeJSON(w, http.StatusOK, toScanResponse(sc))
}

// delete handles DELETE /api/scans/{id}.
func (h *ScanHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.store.Scans().Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Scan not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete scan")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

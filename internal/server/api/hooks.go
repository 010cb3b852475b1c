package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ayusman/scanpipe/internal/plugin"
	"github.com/ayusman/scanpipe/internal/store"
)

const defaultRunsLimit = 50

// HookHandler handles HTTP requests for hook resources.
type HookHandler struct {
	store   *store.Store
	plugins *plugin.Manager
}

// NewHookHandler creates a new HookHandler. When plugins is non-nil, hooks
// must name a discovered plugin and one of its actions.
func NewHookHandler(s *store.Store, plugins *plugin.Manager) *HookHandler {
	return &HookHandler{store: s, plugins: plugins}
}

// ServeHTTP implements the http.Handler interface and routes requests to appropriate methods.
func (h *HookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Expected paths: /api/hooks, /api/hooks/{id} or /api/hooks/{id}/runs
	path := strings.TrimPrefix(r.URL.Path, "/api/hooks")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			h.list(w, r)
		case http.MethodPost:
			h.create(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	if id, ok := strings.CutSuffix(path, "/runs"); ok {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.runs(w, r, id)
		return
	}

	id := path
	switch r.Method {
	case http.MethodGet:
		h.get(w, r, id)
	case http.MethodPut:
		h.update(w, r, id)
	case http.MethodDelete:
		h.delete(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// Request and response types

type createHookRequest struct {
	Name       string          `json:"name"`
	PluginName string          `json:"plugin_name"`
	ActionName string          `json:"action_name"`
	Pattern    string          `json:"pattern"`
	Config     json.RawMessage `json:"config"`
	Enabled    *bool           `json:"enabled"`
}

type updateHookRequest struct {
	Name       string          `json:"name"`
	PluginName string          `json:"plugin_name"`
	ActionName string          `json:"action_name"`
	Pattern    *string         `json:"pattern"`
	Config     json.RawMessage `json:"config"`
	Enabled    *bool           `json:"enabled"`
}

type hookResponse struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	PluginName string          `json:"plugin_name"`
	ActionName string          `json:"action_name"`
	Pattern    string          `json:"pattern"`
	Config     json.RawMessage `json:"config"`
	Enabled    bool            `json:"enabled"`
	CreatedAt  string          `json:"created_at"`
}

type listHooksResponse struct {
	Hooks []hookResponse `json:"hooks"`
}

type hookRunResponse struct {
	ID         int64  `json:"id"`
	ScanID     string `json:"scan_id"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	RanAt      string `json:"ran_at"`
}

type listRunsResponse struct {
	Runs []hookRunResponse `json:"runs"`
}

func toHookResponse(hk *store.Hook) hookResponse {
	config := hk.Config
	if config == nil {
		config = json.RawMessage("{}")
	}
	return hookResponse{
		ID:         hk.ID,
		Name:       hk.Name,
		PluginName: hk.PluginName,
		ActionName: hk.ActionName,
		Pattern:    hk.Pattern,
		Config:     config,
		Enabled:    hk.Enabled,
		CreatedAt:  hk.CreatedAt.Format(timeFormat),
	}
}

// list handles GET /api/hooks and returns all hooks.
func (h *HookHandler) list(w http.ResponseWriter, r *http.Request) {
	hooks, err := h.store.Hooks().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list hooks")
		return
	}

	response := listHooksResponse{Hooks: make([]hookResponse, 0, len(hooks))}
	for _, hk := range hooks {
		response.Hooks = append(response.Hooks, toHookResponse(hk))
	}
	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/hooks/{id} and returns a single hook.
func (h *HookHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	hk, err := h.store.Hooks().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Hook not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get hook")
		return
	}

	writeJSON(w, http.StatusOK, toHookResponse(hk))
}

// create handles POST /api/hooks and creates a new hook.
func (h *HookHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createHookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.PluginName == "" {
		writeError(w, http.StatusBadRequest, "plugin_name is required")
		return
	}
	if req.ActionName == "" {
		writeError(w, http.StatusBadRequest, "action_name is required")
		return
	}
	if msg := h.checkAction(req.PluginName, req.ActionName); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	taken, err := h.nameTaken(req.Name, "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to check existing hooks")
		return
	}
	if taken {
		writeError(w, http.StatusConflict, "Hook name already in use")
		return
	}

	hk := &store.Hook{
		ID:         uuid.New().String(),
		Name:       req.Name,
		PluginName: req.PluginName,
		ActionName: req.ActionName,
		Pattern:    req.Pattern,
		Config:     req.Config,
		Enabled:    true,
	}
	if req.Enabled != nil {
		hk.Enabled = *req.Enabled
	}

	if err := h.store.Hooks().Create(hk); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create hook")
		return
	}

	writeJSON(w, http.StatusCreated, toHookResponse(hk))
}

// update handles PUT /api/hooks/{id} and updates an existing hook.
func (h *HookHandler) update(w http.ResponseWriter, r *http.Request, id string) {
	hk, err := h.store.Hooks().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Hook not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get hook")
		return
	}

	var req updateHookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.Name != "" && req.Name != hk.Name {
		taken, err := h.nameTaken(req.Name, hk.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to check existing hooks")
			return
		}
		if taken {
			writeError(w, http.StatusConflict, "Hook name already in use")
			return
		}
		hk.Name = req.Name
	}
	if req.PluginName != "" {
		hk.PluginName = req.PluginName
	}
	if req.ActionName != "" {
		hk.ActionName = req.ActionName
	}
	if req.PluginName != "" || req.ActionName != "" {
		if msg := h.checkAction(hk.PluginName, hk.ActionName); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}
	}
	if req.Pattern != nil {
		hk.Pattern = *req.Pattern
	}
	if req.Config != nil {
		hk.Config = req.Config
	}
	if req.Enabled != nil {
		hk.Enabled = *req.Enabled
	}

	if err := h.store.Hooks().Update(hk); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update hook")
		return
	}

	writeJSON(w, http.StatusOK, toHookResponse(hk))
}

// delete handles DELETE /api/hooks/{id} and removes a hook with its runs.
func (h *HookHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.store.Hooks().Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Hook not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete hook")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// runs handles GET /api/hooks/{id}/runs and returns the newest runs first.
func (h *HookHandler) runs(w http.ResponseWriter, r *http.Request, id string) {
	limit, err := queryInt(r, "limit", defaultRunsLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}

	if _, err := h.store.Hooks().GetByID(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Hook not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get hook")
		return
	}

	runs, err := h.store.Hooks().Runs(id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	response := listRunsResponse{Runs: make([]hookRunResponse, 0, len(runs))}
	for _, run := range runs {
		response.Runs = append(response.Runs, hookRunResponse{
			ID:         run.ID,
			ScanID:     run.ScanID,
			Success:    run.Success,
			Error:      run.Error,
			DurationMS: run.Duration.Milliseconds(),
			RanAt:      run.RanAt.Format(timeFormat),
		})
	}
	writeJSON(w, http.StatusOK, response)
}

// checkAction returns a client error message when the plugin or action is
// unknown.
func (h *HookHandler) checkAction(pluginName, action string) string {
	if h.plugins == nil {
		return ""
	}
	p, err := h.plugins.Get(pluginName)
	if err != nil {
		return "Plugin not found"
	}
	if !p.Supports(action) {
		return "Plugin does not support action " + action
	}
	return ""
}

func (h *HookHandler) nameTaken(name, exceptID string) (bool, error) {
	hooks, err := h.store.Hooks().List()
	if err != nil {
		return false, err
	}
	for _, hk := range hooks {
		if hk.Name == name && hk.ID != exceptID {
			return true, nil
		}
	}
	return false, nil
}

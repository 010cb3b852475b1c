package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// Hook binds a plugin action to scanned barcodes. An empty Pattern matches
// every payload; otherwise the payload must start with it.
type Hook struct {
	ID         string
	Name       string
	PluginName string
	ActionName string
	Pattern    string
	Config     json.RawMessage
	Enabled    bool
	CreatedAt  time.Time
}

// HookRun is the outcome of one hook execution.
type HookRun struct {
	ID       int64
	HookID   string
	ScanID   string
	Success  bool
	Error    string
	Duration time.Duration
	RanAt    time.Time
}

// HookRepository provides CRUD operations for hooks.
type HookRepository struct {
	db *sql.DB
}

// Hooks returns the hook repository for this store.
func (s *Store) Hooks() *HookRepository {
	return &HookRepository{db: s.db}
}

const hookColumns = `id, name, plugin_name, action_name, pattern, config, enabled, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHook(row rowScanner) (*Hook, error) {
	h := &Hook{}
	var config string
	var enabled int

	if err := row.Scan(&h.ID, &h.Name, &h.PluginName, &h.ActionName, &h.Pattern, &config, &enabled, &h.CreatedAt); err != nil {
		return nil, err
	}

	h.Config = json.RawMessage(config)
	h.Enabled = enabled != 0
	return h, nil
}

func configOrEmpty(c json.RawMessage) string {
	if len(c) == 0 {
		return "{}"
	}
	return string(c)
}

// Create inserts a new hook into the database.
func (r *HookRepository) Create(h *Hook) error {
	h.CreatedAt = time.Now().UTC()

	_, err := r.db.Exec(
		`INSERT INTO hooks (`+hookColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.Name, h.PluginName, h.ActionName, h.Pattern, configOrEmpty(h.Config), h.Enabled, h.CreatedAt,
	)
	return err
}

// GetByID retrieves a hook by its ID.
func (r *HookRepository) GetByID(id string) (*Hook, error) {
	h, err := scanHook(r.db.QueryRow(`SELECT `+hookColumns+` FROM hooks WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return h, nil
}

// List retrieves all hooks, newest first.
func (r *HookRepository) List() ([]*Hook, error) {
	return r.query(`SELECT ` + hookColumns + ` FROM hooks ORDER BY created_at DESC`)
}

// Matching returns the enabled hooks whose pattern prefixes payload.
func (r *HookRepository) Matching(payload string) ([]*Hook, error) {
	return r.query(
		`SELECT `+hookColumns+` FROM hooks
		 WHERE enabled = 1 AND (pattern = '' OR substr(?, 1, length(pattern)) = pattern)
		 ORDER BY name`,
		payload,
	)
}

func (r *HookRepository) query(q string, args ...any) ([]*Hook, error) {
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hooks []*Hook
	for rows.Next() {
		h, err := scanHook(rows)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, h)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return hooks, nil
}

// Update updates an existing hook in the database.
func (r *HookRepository) Update(h *Hook) error {
	result, err := r.db.Exec(
		`UPDATE hooks SET name = ?, plugin_name = ?, action_name = ?, pattern = ?, config = ?, enabled = ?
		 WHERE id = ?`,
		h.Name, h.PluginName, h.ActionName, h.Pattern, configOrEmpty(h.Config), h.Enabled, h.ID,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// Delete removes a hook and its run history.
func (r *HookRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM hooks WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// RecordRun stores the outcome of a hook execution.
func (r *HookRepository) RecordRun(run *HookRun) error {
	if run.RanAt.IsZero() {
		run.RanAt = time.Now().UTC()
	}

	result, err := r.db.Exec(
		`INSERT INTO hook_runs (hook_id, scan_id, success, error, duration_ms, ran_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.HookID, run.ScanID, run.Success, run.Error, run.Duration.Milliseconds(), run.RanAt,
	)
	if err != nil {
		return err
	}

	run.ID, err = result.LastInsertId()
	return err
}

// Runs returns the most recent runs of a hook.
func (r *HookRepository) Runs(hookID string, limit int) ([]*HookRun, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.Query(
		`SELECT id, hook_id, scan_id, success, error, duration_ms, ran_at
		 FROM hook_runs WHERE hook_id = ? ORDER BY id DESC LIMIT ?`,
		hookID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*HookRun
	for rows.Next() {
		run := &HookRun{}
		var success int
		var ms int64
		if err := rows.Scan(&run.ID, &run.HookID, &run.ScanID, &success, &run.Error, &ms, &run.RanAt); err != nil {
			return nil, err
		}
		run.Success = success != 0
		run.Duration = time.Duration(ms) * time.Millisecond
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return runs, nil
}

package store

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func createHook(t *testing.T, repo *HookRepository, id, pattern string, enabled bool) *Hook {
	t.Helper()
	h := &Hook{
		ID:         id,
		Name:       "hook-" + id,
		PluginName: "clipboard",
		ActionName: "copy",
		Pattern:    pattern,
		Enabled:    enabled,
	}
	if err := repo.Create(h); err != nil {
		t.Fatalf("Create(%s): %v", id, err)
	}
	return h
}

func TestHookRepository_CreateAndGet(t *testing.T) {
	repo := newTestStore(t).Hooks()

	h := &Hook{
		ID:         "h1",
		Name:       "open urls",
		PluginName: "browser",
		ActionName: "open",
		Pattern:    "https://",
		Config:     json.RawMessage(`{"new_window":true}`),
		Enabled:    true,
	}
	if err := repo.Create(h); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if h.CreatedAt.IsZero() {
		t.Error("Create should set CreatedAt")
	}

	got, err := repo.GetByID("h1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Name != "open urls" || got.PluginName != "browser" || got.ActionName != "open" {
		t.Errorf("GetByID = %+v", got)
	}
	if got.Pattern != "https://" || !got.Enabled {
		t.Errorf("pattern/enabled = %q/%v", got.Pattern, got.Enabled)
	}
	if string(got.Config) != `{"new_window":true}` {
		t.Errorf("Config = %s", got.Config)
	}
}

func TestHookRepository_EmptyConfigDefaults(t *testing.T) {
	repo := newTestStore(t).Hooks()
	createHook(t, repo, "h1", "", true)

	got, err := repo.GetByID("h1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if string(got.Config) != "{}" {
		t.Errorf("Config = %q, want {}", got.Config)
	}
}

func TestHookRepository_DuplicateName(t *testing.T) {
	repo := newTestStore(t).Hooks()
	createHook(t, repo, "h1", "", true)

	dup := &Hook{ID: "h2", Name: "hook-h1", PluginName: "p", ActionName: "a"}
	if err := repo.Create(dup); err == nil {
		t.Error("Create with duplicate name should fail")
	}
}

func TestHookRepository_Matching(t *testing.T) {
	repo := newTestStore(t).Hooks()
	createHook(t, repo, "all", "", true)
	createHook(t, repo, "urls", "https://", true)
	createHook(t, repo, "ean", "400", true)
	createHook(t, repo, "off", "https://", false)

	tests := []struct {
		payload string
		want    []string
	}{
		{"https://example.com", []string{"all", "urls"}},
		{"4006381333931", []string{"all", "ean"}},
		{"40", []string{"all"}},
		{"plain", []string{"all"}},
	}

	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			hooks, err := repo.Matching(tt.payload)
			if err != nil {
				t.Fatalf("Matching: %v", err)
			}
			if len(hooks) != len(tt.want) {
				t.Fatalf("Matching(%q) returned %d hooks, want %d", tt.payload, len(hooks), len(tt.want))
			}
			for i, h := range hooks {
				if h.ID != tt.want[i] {
					t.Errorf("hook[%d] = %s, want %s", i, h.ID, tt.want[i])
				}
			}
		})
	}
}

func TestHookRepository_Update(t *testing.T) {
	repo := newTestStore(t).Hooks()
	h := createHook(t, repo, "h1", "", true)

	h.Pattern = "978"
	h.Enabled = false
	if err := repo.Update(h); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, _ := repo.GetByID("h1")
	if got.Pattern != "978" || got.Enabled {
		t.Errorf("after update pattern/enabled = %q/%v", got.Pattern, got.Enabled)
	}

	missing := &Hook{ID: "nope", Name: "nope"}
	if err := repo.Update(missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrNotFound", err)
	}
}

func TestHookRepository_DeleteCascadesRuns(t *testing.T) {
	s := newTestStore(t)
	repo := s.Hooks()
	createHook(t, repo, "h1", "", true)

	sc, err := s.Scans().Record("payload", SourceLive)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := repo.RecordRun(&HookRun{HookID: "h1", ScanID: sc.ID, Success: true}); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	if err := repo.Delete("h1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	var n int
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM hook_runs").Scan(&n); err != nil {
		t.Fatalf("count runs: %v", err)
	}
	if n != 0 {
		t.Errorf("hook_runs has %d rows after hook delete, want 0", n)
	}

	if err := repo.Delete("h1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete error = %v, want ErrNotFound", err)
	}
}

func TestHookRepository_Runs(t *testing.T) {
	s := newTestStore(t)
	repo := s.Hooks()
	createHook(t, repo, "h1", "", true)

	sc, err := s.Scans().Record("payload", SourceLive)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	first := &HookRun{HookID: "h1", ScanID: sc.ID, Success: true, Duration: 120 * time.Millisecond}
	second := &HookRun{HookID: "h1", ScanID: sc.ID, Error: "exit status 1", Duration: 3 * time.Second}
	for _, run := range []*HookRun{first, second} {
		if err := repo.RecordRun(run); err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
	}
	if first.ID == 0 || second.ID <= first.ID {
		t.Errorf("run IDs = %d, %d", first.ID, second.ID)
	}

	runs, err := repo.Runs("h1", 0)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("Runs returned %d, want 2", len(runs))
	}
	if runs[0].Success || runs[0].Error != "exit status 1" || runs[0].Duration != 3*time.Second {
		t.Errorf("latest run = %+v", runs[0])
	}
	if !runs[1].Success || runs[1].Duration != 120*time.Millisecond {
		t.Errorf("earlier run = %+v", runs[1])
	}

	if err := repo.RecordRun(&HookRun{HookID: "missing", ScanID: sc.ID}); err == nil {
		t.Error("RecordRun for unknown hook should fail the foreign key")
	}
}

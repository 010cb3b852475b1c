package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/ayusman/scanpipe/internal/store"
)

func seedScans(t *testing.T, s *store.Store, payloads ...string) {
	t.Helper()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, p := range payloads {
		sc := &store.Scan{
			ID:        p,
			Payload:   p,
			Source:    store.SourceLive,
			ScannedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.Scans().Create(sc); err != nil {
			t.Fatalf("failed to create scan: %v", err)
		}
	}
}

func TestScanHandler_List(t *testing.T) {
	s := newTestStore(t)
	seedScans(t, s, "a", "b", "c")
	handler := NewScanHandler(s)

	rec := do(t, handler, http.MethodGet, "/api/scans", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp listScansResponse
	decode(t, rec, &resp)
	if resp.Total != 3 || len(resp.Scans) != 3 {
		t.Fatalf("total = %d, scans = %d", resp.Total, len(resp.Scans))
	}
	if resp.Scans[0].Payload != "c" || resp.Scans[2].Payload != "a" {
		t.Errorf("scans not newest first: %+v", resp.Scans)
	}
	if resp.Scans[0].ScannedAt != "2026-01-01T12:02:00Z" || resp.Scans[0].Source != "live" {
		t.Errorf("scan = %+v", resp.Scans[0])
	}

	rec = do(t, handler, http.MethodGet, "/api/scans?limit=2", nil)
	decode(t, rec, &resp)
	if resp.Total != 3 || len(resp.Scans) != 2 {
		t.Errorf("limited: total = %d, scans = %d", resp.Total, len(resp.Scans))
	}
}

func TestScanHandler_ListInvalidLimit(t *testing.T) {
	handler := NewScanHandler(newTestStore(t))
	for _, q := range []string{"?limit=x", "?limit=-1"} {
		if rec := do(t, handler, http.MethodGet, "/api/scans"+q, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", q, rec.Code)
		}
	}
}

func TestScanHandler_GetAndDelete(t *testing.T) {
	s := newTestStore(t)
	seedScans(t, s, "a")
	handler := NewScanHandler(s)

	rec := do(t, handler, http.MethodGet, "/api/scans/a", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d", rec.Code)
	}
	var got scanResponse
	decode(t, rec, &got)
	if got.Payload != "a" {
		t.Errorf("payload = %q", got.Payload)
	}

	if rec := do(t, handler, http.MethodDelete, "/api/scans/a", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE status = %d", rec.Code)
	}
	if rec := do(t, handler, http.MethodGet, "/api/scans/a", nil); rec.Code != http.StatusNotFound {
		t.Errorf("GET after delete status = %d", rec.Code)
	}
	if rec := do(t, handler, http.MethodDelete, "/api/scans/a", nil); rec.Code != http.StatusNotFound {
		t.Errorf("second DELETE status = %d", rec.Code)
	}
}

func TestScanHandler_MethodNotAllowed(t *testing.T) {
	handler := NewScanHandler(newTestStore(t))
	if rec := do(t, handler, http.MethodPost, "/api/scans", "{}"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d", rec.Code)
	}
	if rec := do(t, handler, http.MethodPut, "/api/scans/a", "{}"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("PUT status = %d", rec.Code)
	}
}

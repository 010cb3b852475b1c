package server

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/scanpipe/internal/capture"
	"github.com/ayusman/scanpipe/internal/scan"
)

// fakeObserver fans status and results out to its subscribers synchronously.
type fakeObserver struct {
	mu       sync.Mutex
	status   capture.Status
	result   scan.DetectionResult
	statuses []func(capture.Status)
	results  []func(scan.DetectionResult)
}

func (o *fakeObserver) Status() capture.Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

func (o *fakeObserver) Result() scan.DetectionResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.result
}

func (o *fakeObserver) SubscribeStatus(fn func(capture.Status)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, fn)
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.statuses = nil
	}
}

func (o *fakeObserver) SubscribeResults(fn func(scan.DetectionResult)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, fn)
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.results = nil
	}
}

func (o *fakeObserver) publish(r scan.DetectionResult) {
	o.mu.Lock()
	o.result = r
	subs := append([]func(scan.DetectionResult){}, o.results...)
	o.mu.Unlock()
	for _, fn := range subs {
		fn(r)
	}
}

func (o *fakeObserver) subscribers() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.statuses) + len(o.results)
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var m Message
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("read: %v", err)
	}
	return m
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestResultsHandler_InitialStateThenUpdates(t *testing.T) {
	payload := "9780201633610"
	obs := &fakeObserver{status: capture.Status{State: capture.StateRunning}}
	h := NewResultsHandler(obs, nil)
	defer h.Close()

	ts := httptest.NewServer(h)
	defer ts.Close()
	conn := dial(t, ts)

	m := readMessage(t, conn)
	if m.Type != "status" || m.Status == nil || m.Status.State != "running" {
		t.Errorf("first message = %+v", m)
	}
	m = readMessage(t, conn)
	if m.Type != "result" || m.Result == nil || m.Result.Barcode != nil {
		t.Errorf("second message = %+v", m)
	}

	waitFor(t, func() bool { return h.Clients() == 1 })
	obs.publish(scan.DetectionResult{Barcode: &payload})

	m = readMessage(t, conn)
	if m.Type != "result" || m.Timestamp == 0 {
		t.Fatalf("update = %+v", m)
	}
	if got, ok := m.Result.Payload(); !ok || got != payload {
		t.Errorf("payload = %q, %v", got, ok)
	}
}

func TestResultsHandler_ClientDisconnect(t *testing.T) {
	obs := &fakeObserver{}
	h := NewResultsHandler(obs, nil)
	defer h.Close()

	ts := httptest.NewServer(h)
	defer ts.Close()

	conn := dial(t, ts)
	waitFor(t, func() bool { return h.Clients() == 1 })

	conn.Close()
	waitFor(t, func() bool { return h.Clients() == 0 })

	// Broadcasting with no clients must not block.
	obs.publish(scan.DetectionResult{})
}

func TestResultsHandler_Close(t *testing.T) {
	obs := &fakeObserver{}
	h := NewResultsHandler(obs, nil)
	if obs.subscribers() != 2 {
		t.Fatalf("subscribers = %d, want 2", obs.subscribers())
	}

	ts := httptest.NewServer(h)
	defer ts.Close()
	conn := dial(t, ts)
	readMessage(t, conn)
	readMessage(t, conn)
	waitFor(t, func() bool { return h.Clients() == 1 })

	h.Close()
	h.Close()

	if obs.subscribers() != 0 {
		t.Errorf("subscribers after Close = %d", obs.subscribers())
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected connection to be closed")
	}

	// New connections are refused.
	late := dial(t, ts)
	late.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := late.ReadMessage(); err == nil {
		t.Error("expected late connection to be closed")
	}
}

package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ayusman/scanpipe/internal/capture"
	"github.com/ayusman/scanpipe/internal/scan"
	"github.com/ayusman/scanpipe/internal/server/api"
)

const (
	clientBuffer = 16
	writeTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// Observer is the scanner surface the results feed listens to.
type Observer interface {
	Status() capture.Status
	Result() scan.DetectionResult
	SubscribeStatus(fn func(capture.Status)) (unsubscribe func())
	SubscribeResults(fn func(scan.DetectionResult)) (unsubscribe func())
}

// Message is one websocket frame of the results feed.
type Message struct {
	Type      string                `json:"type"` // "status" or "result"
	Status    *api.StatusResponse   `json:"status,omitempty"`
	Result    *scan.DetectionResult `json:"result,omitempty"`
	Timestamp int64                 `json:"timestamp"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// ResultsHandler pushes session status and published detection results to
// websocket clients. Slow clients miss messages rather than stall the
// publisher.
type ResultsHandler struct {
	observer Observer
	log      *zap.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	unsubs  []func()
	closed  bool
}

// NewResultsHandler creates a ResultsHandler subscribed to o.
func NewResultsHandler(o Observer, log *zap.Logger) *ResultsHandler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &ResultsHandler{
		observer: o,
		log:      log,
		clients:  make(map[*wsClient]struct{}),
	}
	h.unsubs = []func(){
		o.SubscribeStatus(func(st capture.Status) { h.broadcast(statusMessage(st)) }),
		o.SubscribeResults(func(r scan.DetectionResult) { h.broadcast(resultMessage(r)) }),
	}
	return h
}

func statusMessage(st capture.Status) Message {
	resp := api.ToStatusResponse(st)
	return Message{Type: "status", Status: &resp, Timestamp: time.Now().UnixMilli()}
}

func resultMessage(r scan.DetectionResult) Message {
	return Message{Type: "result", Result: &r, Timestamp: time.Now().UnixMilli()}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *ResultsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	c := &wsClient{conn: conn, send: make(chan []byte, clientBuffer)}

	// Late joiners start from the current state.
	c.send <- encode(statusMessage(h.observer.Status()))
	c.send <- encode(resultMessage(h.observer.Result()))

	if !h.register(c) {
		return
	}
	defer h.unregister(c)

	go c.writeLoop(h.log)

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (h *ResultsHandler) register(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.log.Debug("websocket client connected", zap.Int("clients", len(h.clients)))
	return true
}

func (h *ResultsHandler) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// Clients returns the number of connected clients.
func (h *ResultsHandler) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *ResultsHandler) broadcast(m Message) {
	data := encode(m)

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.log.Debug("websocket client lagging, message dropped", zap.String("type", m.Type))
		}
	}
}

// Close unsubscribes from the scanner and disconnects every client.
func (h *ResultsHandler) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	unsubs := h.unsubs
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c.conn)
	}
	h.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	for _, conn := range conns {
		conn.Close()
	}
}

func (c *wsClient) writeLoop(log *zap.Logger) {
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Debug("websocket write failed", zap.Error(err))
			c.conn.Close()
			return
		}
	}
}

func encode(m Message) []byte {
	data, _ := json.Marshal(m)
	return data
}

package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/audiolibrelab/mixcapture/internal/monitor"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// clientBuffer is how many ticks a slow client may fall behind before
	// ticks are dropped for it
	clientBuffer = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// LevelMessage is sent to websocket clients once per monitoring tick
type LevelMessage struct {
	Levels   monitor.Levels `json:"levels"`
	Waveform []float32      `json:"waveform"`
}

// levelHub fans monitoring ticks out to websocket clients. Levels and the
// waveform of one tick arrive as two callbacks and are sent as one message.
type levelHub struct {
	mu      sync.Mutex
	levels  monitor.Levels
	clients map[*levelClient]struct{}
}

type levelClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newLevelHub() *levelHub {
	return &levelHub{clients: make(map[*levelClient]struct{})}
}

func (h *levelHub) onLevels(l monitor.Levels) {
	h.mu.Lock()
	h.levels = l
	h.mu.Unlock()
}

// onWaveform completes a tick. It never blocks the monitoring loop.
func (h *levelHub) onWaveform(w []float32) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.clients) == 0 {
		return
	}
	if w == nil {
		w = []float32{}
	}
	data, err := json.Marshal(LevelMessage{Levels: h.levels, Waveform: w})
	if err != nil {
		slog.Error("Failed to encode level message", "error", err)
		return
	}
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
		}
	}
}

func (h *levelHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *levelHub) register(c *levelClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	slog.Debug("Level client connected", "remote", c.conn.RemoteAddr())
}

func (h *levelHub) unregister(c *levelClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
	slog.Debug("Level client disconnected", "remote", c.conn.RemoteAddr())
}

// closeAll disconnects every client
func (h *levelHub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*levelClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

func (c *levelClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// serve upgrades the request and pumps level messages until the client goes
// away. Incoming messages are ignored.
func (h *levelHub) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	c := &levelClient{
		conn: conn,
		send: make(chan []byte, clientBuffer),
		done: make(chan struct{}),
	}
	h.register(c)

	go c.writePump()
	c.readPump()
	h.unregister(c)
}

func (c *levelClient) readPump() {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("Level client read error", "error", err)
			}
			return
		}
	}
}

func (c *levelClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Debug("Level client write error", "error", err)
				c.close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

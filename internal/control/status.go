package control

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NodePath81/fbspeed/internal/monitor"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

// statusMessage is one frame on the /status stream. The first frame after
// connecting is a "snapshot"; later frames carry monitor events.
type statusMessage struct {
	Type      string         `json:"type"`
	Timestamp int64          `json:"timestamp"`
	Status    monitor.Status `json:"status"`
}

// StatusHub fans monitor events out to websocket clients. Slow clients drop
// frames rather than block the runner.
type StatusHub struct {
	mu        sync.Mutex
	clients   map[*statusClient]struct{}
	broadcast chan statusMessage
	ctxDone   <-chan struct{}
}

type statusClient struct {
	send      chan []byte
	closeOnce sync.Once
}

func NewStatusHub(ctxDone <-chan struct{}) *StatusHub {
	h := &StatusHub{
		clients:   make(map[*statusClient]struct{}),
		broadcast: make(chan statusMessage, 128),
		ctxDone:   ctxDone,
	}
	go h.run()
	return h
}

func (h *StatusHub) run() {
	for {
		select {
		case <-h.ctxDone:
			h.mu.Lock()
			for client := range h.clients {
				client.close()
			}
			h.clients = make(map[*statusClient]struct{})
			h.mu.Unlock()
			return
		case msg := <-h.broadcast:
			data, _ := json.Marshal(msg)
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish queues a monitor event. It matches monitor.Runner.OnEvent.
func (h *StatusHub) Publish(event string, status monitor.Status) {
	msg := statusMessage{Type: event, Timestamp: time.Now().UnixMilli(), Status: status}
	select {
	case h.broadcast <- msg:
	default:
	}
}

func (h *StatusHub) register(client *statusClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
}

func (h *StatusHub) unregister(client *statusClient) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
	client.close()
}

func (c *statusClient) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

func (c *ControlServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if c.hub == nil {
		http.NotFound(w, r)
		return
	}
	if !c.checkAuth(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	client := &statusClient{send: make(chan []byte, 32)}
	if c.status != nil {
		data, _ := json.Marshal(statusMessage{
			Type:      "snapshot",
			Timestamp: time.Now().UnixMilli(),
			Status:    c.status.Status(),
		})
		client.send <- data
	}
	c.hub.register(client)

	done := make(chan struct{})
	var cleanupOnce sync.Once
	cleanup := func() {
		cleanupOnce.Do(func() {
			close(done)
			_ = conn.Close()
			c.hub.unregister(client)
		})
	}

	// Clients never send anything useful; reading keeps pongs and close
	// frames flowing.
	go func() {
		defer cleanup()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		defer cleanup()
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			case data, ok := <-client.send:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(wsWriteWait))
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			}
		}
	}()
}

package health

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub is a live dashboard push of health Records, adapted from
// bally65-singularity/v1/internal/telemetry/hub.go: one broadcast
// channel fanned out to every connected websocket client, pruning any
// client whose write fails. Optional: cmd/tradesim only starts one
// when HEALTH_WS_ADDR is configured.
type Hub struct {
	logger    *slog.Logger
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	lock      sync.Mutex
}

// NewHub constructs an idle Hub; call Run in a goroutine to drive it.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:    logger,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte),
	}
}

// Run drains the broadcast channel and fans each message out to every
// connected client until stop is closed.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case message := <-h.broadcast:
			h.lock.Lock()
			for client := range h.clients {
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					client.Close()
					delete(h.clients, client)
				}
			}
			h.lock.Unlock()
		}
	}
}

// Broadcast implements the Broadcaster interface: it serializes rec to
// JSON and queues it for delivery to every connected client.
func (h *Hub) Broadcast(rec Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		h.logger.Error("error", "message", "failed to marshal health record: "+err.Error())
		return
	}
	h.broadcast <- data
}

// StartServer serves the /ws upgrade endpoint on addr in a new
// goroutine, returning the *http.Server so the caller can Shutdown it.
func StartServer(hub *Hub, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.logger.Error("error", "message", "websocket upgrade failed: "+err.Error())
			return
		}
		hub.lock.Lock()
		hub.clients[conn] = true
		hub.lock.Unlock()
	})

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		hub.logger.Info("health dashboard listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			hub.logger.Error("error", "message", "health dashboard server failed: "+err.Error())
		}
	}()
	return server
}

package presence

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marketsim/tradesim/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 16
)

// Message is the JSON frame pushed to clients.
type Message struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
}

// client is one websocket connection. Only the hub closes send.
type client struct {
	conn     *websocket.Conn
	username string
	send     chan []byte
}

// Hub owns the roster. All roster reads and writes happen on the Run
// goroutine; other goroutines talk to it over channels.
type Hub struct {
	register   chan *client
	unregister chan *client
	query      chan chan []string
	done       chan struct{}
	log        *slog.Logger
}

// NewHub creates a hub. Call Run before serving connections.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		query:      make(chan chan []string),
		done:       make(chan struct{}),
		log:        logger,
	}
}

// Run processes roster events until ctx is cancelled, then closes every
// client.
func (h *Hub) Run(ctx context.Context) {
	roster := NewRoster()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for c := range roster.conns {
				close(c.send)
			}
			metrics.WebSocketClients.Set(0)
			metrics.OnlineUsers.Set(0)
			return

		case c := <-h.register:
			roster.Add(c, c.username)
			h.log.Info("ws client connected", "user", c.username, "total", roster.Conns())
			// Always broadcast so the new connection receives the roster.
			h.broadcast(roster)

		case c := <-h.unregister:
			if _, ok := roster.conns[c]; !ok {
				continue
			}
			changed := roster.Remove(c)
			close(c.send)
			h.log.Info("ws client disconnected", "user", c.username, "total", roster.Conns())
			if changed {
				h.broadcast(roster)
			} else {
				h.observe(roster)
			}

		case reply := <-h.query:
			reply <- roster.Users()
		}
	}
}

// broadcast pushes the current roster to every client. A client whose
// buffer is full is dropped rather than stalling the hub.
func (h *Hub) broadcast(roster *Roster) {
	data, err := json.Marshal(Message{Type: "onlineUsers", Users: roster.Users()})
	if err != nil {
		return
	}
	for c := range roster.conns {
		select {
		case c.send <- data:
		default:
			roster.Remove(c)
			close(c.send)
			h.log.Warn("ws client too slow, dropped", "user", c.username)
		}
	}
	h.observe(roster)
}

func (h *Hub) observe(roster *Roster) {
	metrics.WebSocketClients.Set(float64(roster.Conns()))
	metrics.OnlineUsers.Set(float64(len(roster.Users())))
}

// Online returns the sorted usernames currently connected.
func (h *Hub) Online(ctx context.Context) ([]string, error) {
	reply := make(chan []string, 1)
	select {
	case h.query <- reply:
	case <-h.done:
		return []string{}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case users := <-reply:
		return users, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Sessions are cookie-authenticated before the upgrade.
	},
}

// ServeWS upgrades the request and joins username to the roster. The
// username comes from the caller's session, never from the client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, username string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("ws upgrade failed", "err", err)
		return
	}

	c := &client{conn: conn, username: username, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump(h)
}

// readPump keeps the connection alive and detects disconnects. Client
// frames carry nothing the server needs.
func (c *client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump drains send and pings through proxies.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

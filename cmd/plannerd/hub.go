package main

import (
	"encoding/json"
	"net/http"
	gosync "sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yuchilin/plannerd/internal/logging"
	"github.com/yuchilin/plannerd/internal/reminder"
	"github.com/yuchilin/plannerd/internal/uuid"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Local daemon, local clients only.
		return true
	},
}

// Outbound event types pushed to UI clients.
const (
	EventDataUpdated          = "data.updated"
	EventNotificationShow     = "notification.show"
	EventNotificationSchedule = "notification.schedule"
	EventNotificationCancel   = "notification.cancel"
	EventSyncStatus           = "sync.status"
)

// WSEnvelope wraps all outbound WebSocket messages.
type WSEnvelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// inboundMessage is what UI clients send: save requests, connectivity
// changes and notification action responses.
type inboundMessage struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// WSClient is one connected UI client.
type WSClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *WSHub
}

// WSHub maintains active client connections, broadcasts daemon events
// to them and routes their inbound messages. It doubles as the
// scheduler's Notifier and BackgroundChannel: the UI client owns the
// platform notification API, the hub just relays.
type WSHub struct {
	clients    map[string]*WSClient
	broadcast  chan []byte
	register   chan *WSClient
	unregister chan *WSClient
	mu         gosync.RWMutex

	inbound func(msg inboundMessage)
}

// NewWSHub creates a hub; inbound is called for every client message.
func NewWSHub(inbound func(msg inboundMessage)) *WSHub {
	hub := &WSHub{
		clients:    make(map[string]*WSClient),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		inbound:    inbound,
	}
	go hub.run()
	return hub
}

func (h *WSHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			total := len(h.clients)
			h.mu.Unlock()
			logging.Info("ws client connected", map[string]interface{}{
				"client_id": client.id, "total": total,
			})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			logging.Info("ws client disconnected", map[string]interface{}{
				"client_id": client.id, "total": total,
			})

		case message := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Send buffer full, drop the client.
					close(client.send)
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast pushes an event to every connected client.
func (h *WSHub) Broadcast(eventType string, data interface{}) {
	envelope := WSEnvelope{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
	bytes, err := json.Marshal(envelope)
	if err != nil {
		logging.Error("marshalling ws envelope failed", err,
			map[string]interface{}{"type": eventType})
		return
	}
	h.broadcast <- bytes
}

// Permission implements reminder.Notifier. The UI client owns the
// platform permission prompt; the daemon treats its side as granted and
// lets the client drop notifications it may not show.
func (h *WSHub) Permission() reminder.Permission {
	return reminder.PermissionGranted
}

// RequestPermission implements reminder.Notifier.
func (h *WSHub) RequestPermission() (reminder.Permission, error) {
	return reminder.PermissionGranted, nil
}

// Show implements reminder.Notifier by relaying the notification to UI
// clients.
func (h *WSHub) Show(n reminder.Notification) error {
	h.Broadcast(EventNotificationShow, n)
	return nil
}

// Send implements reminder.BackgroundChannel by relaying schedule and
// cancel requests to the UI client's service worker.
func (h *WSHub) Send(msg reminder.Message) error {
	switch msg.Type {
	case reminder.MsgScheduleNotification:
		h.Broadcast(EventNotificationSchedule, msg.Payload)
	case reminder.MsgCancelNotification:
		h.Broadcast(EventNotificationCancel, msg.Payload)
	}
	return nil
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn("ws read error", map[string]interface{}{
					"client_id": c.id, "error": err.Error(),
				})
			}
			break
		}

		var msg inboundMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			logging.Warn("malformed ws message", map[string]interface{}{
				"client_id": c.id, "error": err.Error(),
			})
			continue
		}

		if msg.Action == "ping" {
			c.sendPong()
			continue
		}
		if c.hub.inbound != nil {
			c.hub.inbound(msg)
		}
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) sendPong() {
	bytes, _ := json.Marshal(map[string]interface{}{
		"action":    "pong",
		"timestamp": time.Now().UnixMilli(),
	})
	select {
	case c.send <- bytes:
	default:
		// Buffer full; drop the pong rather than stall the read loop.
	}
}

// HandleWebSocket upgrades connections and registers them with the hub.
func HandleWebSocket(hub *WSHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Error("ws upgrade failed", err, nil)
			return
		}

		client := &WSClient{
			id:   uuid.New(),
			conn: conn,
			send: make(chan []byte, 256),
			hub:  hub,
		}
		hub.register <- client

		go client.writePump()
		go client.readPump()
	}
}

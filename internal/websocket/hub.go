package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/platemate/order-core/pkg/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The gateway terminates auth; origin checks belong there.
		return true
	},
}

// OrderUpdate is the message pushed to dashboard clients when an order
// changes. It carries a summary, not the full order graph.
type OrderUpdate struct {
	Type          string  `json:"type"`
	OrderID       string  `json:"order_id"`
	RestaurantID  string  `json:"restaurant_id"`
	BranchID      string  `json:"branch_id,omitempty"`
	Status        string  `json:"status"`
	PaymentStatus string  `json:"payment_status"`
	TotalAmount   float64 `json:"total_amount"`
	Timestamp     string  `json:"timestamp"`
	Source        string  `json:"source"`
}

type Client struct {
	conn *websocket.Conn
	send chan OrderUpdate
	hub  *Hub

	// restaurantID filters delivery; empty means all restaurants.
	restaurantID string

	logger *logrus.Logger
}

// Hub fans order updates out to connected dashboard clients. Clients
// may subscribe to a single restaurant via the restaurant_id query
// parameter.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan OrderUpdate
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	logger     *logrus.Logger
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan OrderUpdate, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()
			h.logger.WithFields(logrus.Fields{
				"client_count":  len(h.clients),
				"restaurant_id": client.restaurantID,
			}).Info("Dashboard client connected")

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mutex.Unlock()
			h.logger.WithField("client_count", len(h.clients)).Info("Dashboard client disconnected")

		case update := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				if client.restaurantID != "" && client.restaurantID != update.RestaurantID {
					continue
				}
				select {
				case client.send <- update:
				default:
					// Slow consumer; drop it rather than block the hub.
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// BroadcastOrderUpdate publishes a summary of the order to every client
// subscribed to its restaurant. Drops the message if the hub is
// backlogged; dashboards recover state over HTTP.
func (h *Hub) BroadcastOrderUpdate(messageType string, order *models.Order, source string) {
	update := OrderUpdate{
		Type:          messageType,
		OrderID:       order.ID,
		RestaurantID:  order.RestaurantID,
		BranchID:      order.BranchID,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		TotalAmount:   order.TotalAmount,
		Timestamp:     time.Now().Format(time.RFC3339),
		Source:        source,
	}

	select {
	case h.broadcast <- update:
	default:
		h.logger.WithField("order_id", order.ID).Warn("Broadcast channel full, dropping order update")
	}
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade to WebSocket")
		return
	}

	client := &Client{
		conn:         conn,
		send:         make(chan OrderUpdate, 256),
		hub:          h,
		restaurantID: r.URL.Query().Get("restaurant_id"),
		logger:       h.logger,
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	// Clients never send application data; the read loop only services
	// control frames and detects disconnects.
	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Error("WebSocket error")
			}
			break
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case update, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(update)
			if err != nil {
				c.logger.WithError(err).Error("Failed to marshal order update")
				continue
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

package chathub

import (
	"chatgogo/messenger/internal/models"
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
)

// WebSocketClient реалізує інтерфейс chathub.Client
type WebSocketClient struct {
	ParticipantID string
	Topic         string
	Conn          *websocket.Conn
	Hub           *ManagerService
	Send          chan models.Message
}

// NewWebSocketClient wraps an upgraded connection subscribed to topic.
func NewWebSocketClient(hub *ManagerService, conn *websocket.Conn, participantID, topic string) *WebSocketClient {
	return &WebSocketClient{
		ParticipantID: participantID,
		Topic:         topic,
		Conn:          conn,
		Hub:           hub,
		Send:          make(chan models.Message, sendBuffer),
	}
}

func (c *WebSocketClient) GetParticipantID() string              { return c.ParticipantID }
func (c *WebSocketClient) GetTopic() string                      { return c.Topic }
func (c *WebSocketClient) GetSendChannel() chan<- models.Message { return c.Send }

// Run запускає 'pumps' для WebSocket
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close закриває Send канал (що зупинить writePump)
func (c *WebSocketClient) Close() {
	close(c.Send)
}

// readPump keeps the read deadline alive and notices disconnects. The
// push channel is one-way, so inbound frames are dropped.
func (c *WebSocketClient) readPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WARNING: read error for %s on %s: %v", c.ParticipantID, c.Topic, err)
			}
			return
		}
	}
}

// writePump sends one JSON text frame per message event and pings the peer.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Канал закрито хабом, закриваємо з'єднання WS
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(message)
			if err != nil {
				log.Printf("ERROR: encoding message %d for %s: %v", message.ID, c.ParticipantID, err)
				continue
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			// Надсилаємо Ping для підтримки з'єднання активним
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

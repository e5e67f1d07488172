package handler

import (
	"chatgogo/messenger/internal/chathub"
	"chatgogo/messenger/internal/roomid"
	"chatgogo/messenger/internal/transport"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Дозволяє з'єднання з будь-якого домену. У продакшені налаштувати!
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket оновлює HTTP-з'єднання до WebSocket і підписує клієнта
// на топік ?topic=room:<key> або ?topic=thread:<id>.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	viewer := currentParticipant(c)
	ref, err := parseTopic(c.Query("topic"))
	if err != nil {
		respondError(c, err)
		return
	}
	if ref.Mode == transport.ModeDirect && !roomid.Key(ref.ID).Has(viewer.ID) {
		respondError(c, errNotMember)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the handshake error.
		log.Printf("WARNING: websocket upgrade for %s failed: %v", viewer.ID, err)
		return
	}

	client := chathub.NewWebSocketClient(h.Hub, conn, viewer.ID, ref.Topic())
	if !h.Hub.Register(client) {
		conn.Close()
		return
	}
	client.Run()
}

func parseTopic(topic string) (transport.ConversationRef, error) {
	mode, id, ok := strings.Cut(topic, ":")
	if !ok || id == "" {
		return transport.ConversationRef{}, fmt.Errorf("%w: topic must be room:<key> or thread:<id>", errBadRequest)
	}
	switch transport.Mode(mode) {
	case transport.ModeDirect, transport.ModeThread:
		return transport.ConversationRef{Mode: transport.Mode(mode), ID: id}, nil
	}
	return transport.ConversationRef{}, fmt.Errorf("%w: unknown topic kind %q", errBadRequest, mode)
}

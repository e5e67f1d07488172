package chathub

import (
	"chatgogo/messenger/internal/models"
	"chatgogo/messenger/internal/storage"
	"encoding/json"
	"log"
	"strings"

	"github.com/redis/go-redis/v9"
)

// StartPubSubListener запускає Goroutine, яка слухає Redis Pub/Sub
func (m *ManagerService) StartPubSubListener() {
	pubsub := m.Storage.SubscribeToTopics()
	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				d, err := decodeDelivery(msg)
				if err != nil {
					log.Printf("ERROR: unmarshalling Redis message on %s: %v", msg.Channel, err)
					continue
				}
				select {
				case m.PubSubCh <- d:
				case <-m.done:
					return
				}
			case <-m.done:
				return
			}
		}
	}()
}

func decodeDelivery(msg *redis.Message) (Delivery, error) {
	var chatMsg models.Message
	if err := json.Unmarshal([]byte(msg.Payload), &chatMsg); err != nil {
		return Delivery{}, err
	}
	return Delivery{
		Topic:   strings.TrimPrefix(msg.Channel, storage.TopicChannelPrefix),
		Message: chatMsg,
	}, nil
}

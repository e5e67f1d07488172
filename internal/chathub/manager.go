package chathub

import (
	"chatgogo/messenger/internal/models"
	"chatgogo/messenger/internal/storage"
	"log"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatgogo_push_clients",
		Help: "Websocket clients currently subscribed to a topic.",
	})
	deliveredEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatgogo_push_delivered_total",
		Help: "Message events handed to subscribed clients.",
	})
	droppedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatgogo_push_dropped_clients_total",
		Help: "Clients disconnected because their send buffer was full.",
	})
)

// Delivery is one message event addressed to a topic.
type Delivery struct {
	Topic   string
	Message models.Message
}

// ManagerService fans message events out to the clients subscribed to
// each topic. With a Redis broker every instance receives every event
// through pub/sub; without one, delivery stays in-process.
type ManagerService struct {
	mu     sync.RWMutex
	Topics map[string]map[Client]struct{}

	RegisterCh   chan Client
	UnregisterCh chan Client
	BroadcastCh  chan Delivery
	PubSubCh     chan Delivery

	Storage storage.Storage

	done     chan struct{}
	stopOnce sync.Once
}

func NewManagerService(s storage.Storage) *ManagerService {
	return &ManagerService{
		Topics:       make(map[string]map[Client]struct{}),
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client),
		BroadcastCh:  make(chan Delivery, 16),
		PubSubCh:     make(chan Delivery, 16),
		Storage:      s,
		done:         make(chan struct{}),
	}
}

// Run processes registrations and deliveries until Stop is called.
func (m *ManagerService) Run() {
	if m.Storage != nil && m.Storage.HasBroker() {
		m.StartPubSubListener()
	}

	for {
		select {
		case client := <-m.RegisterCh:
			m.register(client)
		case client := <-m.UnregisterCh:
			m.unregister(client)
		case d := <-m.BroadcastCh:
			m.deliver(d)
		case d := <-m.PubSubCh:
			// Повідомлення надійшло від іншого Go-сервера через Redis
			m.deliver(d)
		case <-m.done:
			m.closeAll()
			return
		}
	}
}

// Stop ends Run and closes every client. Safe to call more than once.
func (m *ManagerService) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
}

// Register hands a client to the hub; it returns false once the hub stopped.
func (m *ManagerService) Register(c Client) bool {
	select {
	case m.RegisterCh <- c:
		return true
	case <-m.done:
		return false
	}
}

// Unregister removes a client. It never blocks after Stop.
func (m *ManagerService) Unregister(c Client) {
	select {
	case m.UnregisterCh <- c:
	case <-m.done:
	}
}

// Publish sends a message event to every subscriber of topic, on every
// instance when a broker is configured.
func (m *ManagerService) Publish(topic string, msg models.Message) error {
	if m.Storage != nil && m.Storage.HasBroker() {
		return m.Storage.PublishMessage(topic, msg)
	}
	select {
	case m.BroadcastCh <- Delivery{Topic: topic, Message: msg}:
	case <-m.done:
	}
	return nil
}

// ClientCount returns the number of clients subscribed to topic.
func (m *ManagerService) ClientCount(topic string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.Topics[topic])
}

func (m *ManagerService) register(c Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs, ok := m.Topics[c.GetTopic()]
	if !ok {
		subs = make(map[Client]struct{})
		m.Topics[c.GetTopic()] = subs
	}
	if _, dup := subs[c]; dup {
		return
	}
	subs[c] = struct{}{}
	connectedClients.Inc()
	log.Printf("INFO: %s subscribed to %s", c.GetParticipantID(), c.GetTopic())
}

func (m *ManagerService) unregister(c Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(c)
}

// removeLocked closes c if it is still registered, so a client is closed once.
func (m *ManagerService) removeLocked(c Client) {
	subs, ok := m.Topics[c.GetTopic()]
	if !ok {
		return
	}
	if _, ok := subs[c]; !ok {
		return
	}
	delete(subs, c)
	if len(subs) == 0 {
		delete(m.Topics, c.GetTopic())
	}
	c.Close()
	connectedClients.Dec()
}

func (m *ManagerService) deliver(d Delivery) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for client := range m.Topics[d.Topic] {
		select {
		case client.GetSendChannel() <- d.Message:
			deliveredEvents.Inc()
		default:
			log.Printf("WARNING: dropping slow client %s on %s", client.GetParticipantID(), d.Topic)
			droppedClients.Inc()
			m.removeLocked(client)
		}
	}
}

func (m *ManagerService) closeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, subs := range m.Topics {
		for client := range subs {
			m.removeLocked(client)
		}
	}
}

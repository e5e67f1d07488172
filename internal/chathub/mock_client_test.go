package chathub_test

import (
	"chatgogo/messenger/internal/models"
	"sync/atomic"
)

type MockClient struct {
	participantID string
	topic         string
	RecvChannel   chan models.Message
	closed        atomic.Int32
}

func newMockClient(participantID, topic string, buffer int) *MockClient {
	return &MockClient{
		participantID: participantID,
		topic:         topic,
		RecvChannel:   make(chan models.Message, buffer),
	}
}

func (c *MockClient) GetParticipantID() string {
	return c.participantID
}

func (c *MockClient) GetTopic() string {
	return c.topic
}

func (c *MockClient) GetSendChannel() chan<- models.Message {
	return c.RecvChannel
}

func (c *MockClient) Run() {
	// Not needed for testing
}

func (c *MockClient) Close() {
	c.closed.Add(1)
}

func (c *MockClient) Closed() int {
	return int(c.closed.Load())
}

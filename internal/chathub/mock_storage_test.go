package chathub_test

import (
	"chatgogo/messenger/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
)

// MockStorage is a testify mock of storage.Storage.
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) SaveParticipant(p *models.ParticipantRecord) error {
	args := m.Called(p)
	return args.Error(0)
}

func (m *MockStorage) GetParticipant(id string) (*models.ParticipantRecord, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ParticipantRecord), args.Error(1)
}

func (m *MockStorage) SaveMessage(rec *models.MessageRecord) error {
	args := m.Called(rec)
	return args.Error(0)
}

func (m *MockStorage) FindMessage(id uint64) (*models.MessageRecord, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.MessageRecord), args.Error(1)
}

func (m *MockStorage) GetHistory(conversationID, viewerID string) ([]models.Message, error) {
	args := m.Called(conversationID, viewerID)
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MockStorage) GetThreadMessages(threadID string) ([]models.Message, error) {
	args := m.Called(threadID)
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MockStorage) UpdateContent(id uint64, content string) (*models.MessageRecord, error) {
	args := m.Called(id, content)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.MessageRecord), args.Error(1)
}

func (m *MockStorage) SetBestReply(id uint64, best bool) (*models.MessageRecord, error) {
	args := m.Called(id, best)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.MessageRecord), args.Error(1)
}

func (m *MockStorage) DeleteMessage(id uint64) error {
	args := m.Called(id)
	return args.Error(0)
}

func (m *MockStorage) HideMessage(id uint64, viewerID string) error {
	args := m.Called(id, viewerID)
	return args.Error(0)
}

func (m *MockStorage) PublishMessage(topic string, msg models.Message) error {
	args := m.Called(topic, msg)
	return args.Error(0)
}

func (m *MockStorage) SubscribeToTopics() *redis.PubSub {
	args := m.Called()
	return args.Get(0).(*redis.PubSub)
}

func (m *MockStorage) HasBroker() bool {
	args := m.Called()
	return args.Bool(0)
}

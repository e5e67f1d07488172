package chat_test

import (
	"chatgogo/messenger/internal/models"
	"chatgogo/messenger/internal/transport"
	"context"

	"github.com/stretchr/testify/mock"
)

// MockTransport is a testify/mock implementation of transport.Transport.
type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) FetchHistory(ctx context.Context, ref transport.ConversationRef) ([]models.Message, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MockTransport) SendMessage(ctx context.Context, req transport.SendRequest) (models.Message, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(models.Message), args.Error(1)
}

func (m *MockTransport) EditMessage(ctx context.Context, id uint64, content string) (models.Message, error) {
	args := m.Called(ctx, id, content)
	return args.Get(0).(models.Message), args.Error(1)
}

func (m *MockTransport) DeleteMessage(ctx context.Context, id uint64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockTransport) MarkBestReply(ctx context.Context, id uint64) (models.Message, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(models.Message), args.Error(1)
}

func (m *MockTransport) UnmarkBestReply(ctx context.Context, id uint64) (models.Message, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(models.Message), args.Error(1)
}

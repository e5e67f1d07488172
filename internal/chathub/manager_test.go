package chathub_test

import (
	"chatgogo/messenger/internal/chathub"
	"chatgogo/messenger/internal/models"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T, broker bool) (*chathub.ManagerService, *MockStorage) {
	t.Helper()
	storageMock := new(MockStorage)
	storageMock.On("HasBroker").Return(broker)
	hub := chathub.NewManagerService(storageMock)
	if !broker {
		go hub.Run()
		t.Cleanup(hub.Stop)
	}
	return hub, storageMock
}

func TestManager_RegisterUnregister(t *testing.T) {
	hub, _ := startHub(t, false)
	clientA := newMockClient("user_A", "room:A_B", 4)

	require.True(t, hub.Register(clientA))
	assert.Eventually(t, func() bool { return hub.ClientCount("room:A_B") == 1 }, time.Second, 10*time.Millisecond)

	hub.Unregister(clientA)
	assert.Eventually(t, func() bool { return hub.ClientCount("room:A_B") == 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, clientA.Closed())

	// a second unregister (e.g. readPump after a slow-client drop) is a no-op
	hub.Unregister(clientA)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, clientA.Closed())
}

func TestManager_PublishLocalDeliversByTopic(t *testing.T) {
	hub, storageMock := startHub(t, false)
	inRoom := newMockClient("user_A", "room:A_B", 4)
	otherRoom := newMockClient("user_C", "room:A_C", 4)
	inThread := newMockClient("user_B", "thread:T1", 4)
	for _, c := range []*MockClient{inRoom, otherRoom, inThread} {
		require.True(t, hub.Register(c))
	}

	require.NoError(t, hub.Publish("room:A_B", models.Message{ID: 1, ConversationID: "A_B", Content: "hello"}))

	select {
	case msg := <-inRoom.RecvChannel:
		assert.Equal(t, uint64(1), msg.ID)
		assert.Equal(t, "hello", msg.Content)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive message")
	}
	assert.Empty(t, otherRoom.RecvChannel)
	assert.Empty(t, inThread.RecvChannel)
	storageMock.AssertNotCalled(t, "PublishMessage", mock.Anything, mock.Anything)
}

func TestManager_PublishThroughBroker(t *testing.T) {
	hub, storageMock := startHub(t, true)
	msg := models.Message{ID: 9, ThreadID: "T1"}
	storageMock.On("PublishMessage", "thread:T1", msg).Return(nil).Once()

	require.NoError(t, hub.Publish("thread:T1", msg))

	storageMock.AssertExpectations(t)
	assert.Empty(t, hub.BroadcastCh)
}

func TestManager_PubSubDelivery(t *testing.T) {
	hub, _ := startHub(t, false)
	clientB := newMockClient("user_B", "room:A_B", 4)
	require.True(t, hub.Register(clientB))

	hub.PubSubCh <- chathub.Delivery{Topic: "room:A_B", Message: models.Message{ID: 3, Content: "from another instance"}}

	select {
	case msg := <-clientB.RecvChannel:
		assert.Equal(t, "from another instance", msg.Content)
	case <-time.After(time.Second):
		t.Fatal("clientB did not receive message")
	}
}

func TestManager_SlowClientIsDropped(t *testing.T) {
	hub, _ := startHub(t, false)
	slow := newMockClient("slow", "room:A_B", 0)
	require.True(t, hub.Register(slow))

	require.NoError(t, hub.Publish("room:A_B", models.Message{ID: 1}))

	assert.Eventually(t, func() bool { return slow.Closed() == 1 }, time.Second, 10*time.Millisecond)
	assert.Zero(t, hub.ClientCount("room:A_B"))
}

func TestManager_StopClosesClients(t *testing.T) {
	storageMock := new(MockStorage)
	storageMock.On("HasBroker").Return(false)
	hub := chathub.NewManagerService(storageMock)
	done := make(chan struct{})
	go func() {
		hub.Run()
		close(done)
	}()

	c := newMockClient("user_A", "room:A_B", 1)
	require.True(t, hub.Register(c))
	hub.Stop()
	hub.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.Equal(t, 1, c.Closed())
	assert.False(t, hub.Register(newMockClient("late", "room:A_B", 1)))
	assert.NoError(t, hub.Publish("room:A_B", models.Message{ID: 2}))
}

package chat_test

import (
	"chatgogo/messenger/internal/chat"
	"chatgogo/messenger/internal/models"
	"chatgogo/messenger/internal/roomid"
	"chatgogo/messenger/internal/thread"
	"chatgogo/messenger/internal/transport"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	alice   = models.Participant{ID: "alice", DisplayName: "Alice"}
	bob     = models.Participant{ID: "bob", DisplayName: "Bob"}
	creator = models.Participant{ID: "creator", DisplayName: "Creator"}
	mod     = models.Participant{ID: "mod", Role: models.RoleModerator}
)

func tmsg(id uint64, sender string, sec int64, best bool) models.Message {
	return models.Message{
		ID:             id,
		ConversationID: "T1",
		ThreadID:       "T1",
		SenderID:       sender,
		Content:        "body",
		Kind:           models.KindText,
		Status:         models.StatusSent,
		CreatedAt:      time.Unix(sec, 0),
		IsBestReply:    best,
	}
}

func threadRef() transport.ConversationRef {
	return transport.ConversationRef{Mode: transport.ModeThread, ID: "T1"}
}

func openThread(t *testing.T, self models.Participant, tr *MockTransport, history []models.Message) *chat.Conversation {
	t.Helper()
	tr.On("FetchHistory", mock.Anything, threadRef()).Return(history, nil).Once()

	c, err := chat.NewThread(self, "T1", chat.Options{Transport: tr})
	require.NoError(t, err)
	require.NoError(t, c.Open(context.Background()))
	t.Cleanup(c.Close)
	return c
}

func TestNewDirect_DerivesRoomKey(t *testing.T) {
	c, err := chat.NewDirect(models.Participant{ID: "EMP-021"}, "EMP-010", chat.Options{Transport: new(MockTransport)})

	require.NoError(t, err)
	assert.Equal(t, transport.ModeDirect, c.Ref.Mode)
	assert.Equal(t, "EMP-010_EMP-021", c.Ref.ID)

	_, err = chat.NewDirect(models.Participant{ID: "EMP-021"}, "", chat.Options{})
	assert.ErrorIs(t, err, roomid.ErrInvalidParticipant)

	_, err = chat.NewThread(models.Participant{}, "T1", chat.Options{})
	assert.ErrorIs(t, err, roomid.ErrInvalidParticipant)
}

func TestOpen_SortsHistory(t *testing.T) {
	tr := new(MockTransport)
	c := openThread(t, alice, tr, []models.Message{
		tmsg(2, "bob", 100, false),
		tmsg(1, "creator", 100, false),
		tmsg(3, "alice", 99, false),
	})

	var got []uint64
	for m := range c.Snapshot() {
		got = append(got, m.ID)
	}
	assert.Equal(t, []uint64{3, 1, 2}, got)
}

func TestOpen_UnauthorizedHistory(t *testing.T) {
	tr := new(MockTransport)
	tr.On("FetchHistory", mock.Anything, mock.Anything).Return(nil, transport.ErrUnauthorized).Once()
	c, err := chat.NewThread(alice, "T1", chat.Options{Transport: tr})
	require.NoError(t, err)

	err = c.Open(context.Background())

	assert.ErrorIs(t, err, chat.ErrUnauthorized)
}

func TestOpen_HistoryFailureAborts(t *testing.T) {
	tr := new(MockTransport)
	tr.On("FetchHistory", mock.Anything, mock.Anything).Return(nil, &transport.StatusError{Code: 500, Message: "boom"}).Once()
	c, err := chat.NewThread(alice, "T1", chat.Options{Transport: tr})
	require.NoError(t, err)

	err = c.Open(context.Background())

	var se *transport.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 500, se.Code)
}

func TestOpen_LiveFailureDegradesButContinues(t *testing.T) {
	tr := new(MockTransport)
	tr.On("FetchHistory", mock.Anything, mock.Anything).Return([]models.Message{tmsg(1, "creator", 1, false)}, nil).Once()
	var reported error
	c, err := chat.NewThread(alice, "T1", chat.Options{
		Transport:  tr,
		LiveURL:    "ws://127.0.0.1:1/ws",
		OnDegraded: func(err error) { reported = err },
	})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Open(context.Background()))

	assert.True(t, c.Degraded())
	assert.ErrorIs(t, reported, chat.ErrLiveChannelDegraded)
	assert.Len(t, c.Messages(), 1)
}

func TestMarkBest_ConflictLeavesStateUntouched(t *testing.T) {
	// Scenario: M1 (2) is best; marking M2 (3) without unmarking fails.
	tr := new(MockTransport)
	c := openThread(t, creator, tr, []models.Message{
		tmsg(1, "creator", 1, false),
		tmsg(2, "alice", 2, true),
		tmsg(3, "bob", 3, false),
	})

	_, err := c.MarkBest(context.Background(), 3)

	assert.ErrorIs(t, err, thread.ErrBestReplyConflict)
	m1, _ := c.Store().Find(2)
	m2, _ := c.Store().Find(3)
	assert.True(t, m1.IsBestReply)
	assert.False(t, m2.IsBestReply)
	tr.AssertNotCalled(t, "MarkBestReply", mock.Anything, mock.Anything)
}

func TestMarkBest_UnmarkThenMark(t *testing.T) {
	tr := new(MockTransport)
	c := openThread(t, creator, tr, []models.Message{
		tmsg(1, "creator", 1, false),
		tmsg(2, "alice", 2, true),
		tmsg(3, "bob", 3, false),
	})
	ctx := context.Background()
	tr.On("UnmarkBestReply", mock.Anything, uint64(2)).Return(tmsg(2, "alice", 2, false), nil).Once()
	// server answered without a body: the flag is applied locally
	tr.On("MarkBestReply", mock.Anything, uint64(3)).Return(models.Message{}, nil).Once()

	_, err := c.UnmarkBest(ctx, 2)
	require.NoError(t, err)
	marked, err := c.MarkBest(ctx, 3)
	require.NoError(t, err)

	assert.True(t, marked.IsBestReply)
	best := 0
	for m := range c.Snapshot() {
		if m.IsBestReply {
			best++
			assert.Equal(t, uint64(3), m.ID)
		}
	}
	assert.Equal(t, 1, best)
	tr.AssertExpectations(t)
}

func TestMarkBest_TransportErrorChangesNothing(t *testing.T) {
	tr := new(MockTransport)
	c := openThread(t, creator, tr, []models.Message{tmsg(1, "creator", 1, false), tmsg(2, "alice", 2, false)})
	tr.On("MarkBestReply", mock.Anything, uint64(2)).Return(models.Message{}, errors.New("boom")).Once()

	_, err := c.MarkBest(context.Background(), 2)

	assert.Error(t, err)
	m, _ := c.Store().Find(2)
	assert.False(t, m.IsBestReply)
}

func TestMarkBest_DirectModeRejected(t *testing.T) {
	c, err := chat.NewDirect(alice, "bob", chat.Options{Transport: new(MockTransport)})
	require.NoError(t, err)

	_, err = c.MarkBest(context.Background(), 1)
	assert.ErrorIs(t, err, chat.ErrNotThread)
	_, err = c.UnmarkBest(context.Background(), 1)
	assert.ErrorIs(t, err, chat.ErrNotThread)
}

func TestEdit_Thread(t *testing.T) {
	history := []models.Message{tmsg(1, "creator", 1, false), tmsg(2, "alice", 2, false)}

	t.Run("author edits reply", func(t *testing.T) {
		tr := new(MockTransport)
		c := openThread(t, alice, tr, history)
		edited := tmsg(2, "alice", 2, false)
		edited.Content = "fixed typo"
		tr.On("EditMessage", mock.Anything, uint64(2), "fixed typo").Return(edited, nil).Once()

		got, err := c.Edit(context.Background(), 2, "fixed typo")

		require.NoError(t, err)
		assert.Equal(t, "fixed typo", got.Content)
	})

	t.Run("non-author rejected locally", func(t *testing.T) {
		tr := new(MockTransport)
		c := openThread(t, bob, tr, history)

		_, err := c.Edit(context.Background(), 2, "hijack")

		assert.ErrorIs(t, err, thread.ErrNotAuthor)
		tr.AssertNotCalled(t, "EditMessage", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("root locked after replies", func(t *testing.T) {
		tr := new(MockTransport)
		c := openThread(t, creator, tr, history)

		_, err := c.Edit(context.Background(), 1, "new question")

		assert.ErrorIs(t, err, thread.ErrRootLocked)
	})

	t.Run("root editable when policy allows", func(t *testing.T) {
		tr := new(MockTransport)
		tr.On("FetchHistory", mock.Anything, threadRef()).Return(history, nil).Once()
		tr.On("EditMessage", mock.Anything, uint64(1), "new question").Return(models.Message{}, nil).Once()
		c, err := chat.NewThread(creator, "T1", chat.Options{Transport: tr, Policy: thread.Policy{RootEditableAfterReplies: true}})
		require.NoError(t, err)
		require.NoError(t, c.Open(context.Background()))
		defer c.Close()

		got, err := c.Edit(context.Background(), 1, "new question")

		require.NoError(t, err)
		assert.Equal(t, "new question", got.Content)
	})
}

func TestDelete_ThreadIsHard(t *testing.T) {
	tr := new(MockTransport)
	c := openThread(t, mod, tr, []models.Message{tmsg(1, "creator", 1, false), tmsg(2, "alice", 2, false)})
	tr.On("DeleteMessage", mock.Anything, uint64(2)).Return(nil).Once()

	require.NoError(t, c.Delete(context.Background(), 2))

	assert.Len(t, c.Messages(), 1)
	_, ok := c.Store().Find(2)
	assert.False(t, ok)
}

func TestDelete_ThreadForbidden(t *testing.T) {
	tr := new(MockTransport)
	c := openThread(t, bob, tr, []models.Message{tmsg(1, "creator", 1, false), tmsg(2, "alice", 2, false)})

	err := c.Delete(context.Background(), 2)

	assert.ErrorIs(t, err, thread.ErrDeleteForbidden)
	assert.Len(t, c.Messages(), 2)
}

func TestDelete_ThreadRootWithReplies(t *testing.T) {
	tr := new(MockTransport)
	c := openThread(t, mod, tr, []models.Message{tmsg(1, "creator", 1, false), tmsg(2, "alice", 2, false)})

	err := c.Delete(context.Background(), 1)

	assert.ErrorIs(t, err, thread.ErrRootHasReplies)
	assert.Len(t, c.Messages(), 2)
	tr.AssertNotCalled(t, "DeleteMessage", mock.Anything, uint64(1))
}

func TestDelete_DirectIsSoft(t *testing.T) {
	tr := new(MockTransport)
	c, err := chat.NewDirect(alice, "bob", chat.Options{Transport: tr})
	require.NoError(t, err)
	ref := c.Ref
	tr.On("FetchHistory", mock.Anything, ref).Return([]models.Message{
		{ID: 1, ConversationID: ref.ID, SenderID: "bob", ReceiverID: "alice", Content: "hi", Kind: models.KindText, Status: models.StatusSent, CreatedAt: time.Unix(1, 0)},
	}, nil).Once()
	tr.On("DeleteMessage", mock.Anything, uint64(1)).Return(nil).Once()
	require.NoError(t, c.Open(context.Background()))
	defer c.Close()

	require.NoError(t, c.Delete(context.Background(), 1))

	msgs := c.Messages()
	require.Len(t, msgs, 1, "soft-deleted message stays as a tombstone")
	assert.True(t, msgs[0].DeletedForViewer)
	assert.Empty(t, msgs[0].Content)

	err = c.Delete(context.Background(), 99)
	assert.ErrorIs(t, err, thread.ErrMessageNotFound)
}

func TestEdit_DirectAuthorOnly(t *testing.T) {
	tr := new(MockTransport)
	c, err := chat.NewDirect(alice, "bob", chat.Options{Transport: tr})
	require.NoError(t, err)
	tr.On("FetchHistory", mock.Anything, c.Ref).Return([]models.Message{
		{ID: 1, ConversationID: c.Ref.ID, SenderID: "bob", Content: "hi", CreatedAt: time.Unix(1, 0)},
	}, nil).Once()
	require.NoError(t, c.Open(context.Background()))
	defer c.Close()

	_, err = c.Edit(context.Background(), 1, "changed")

	assert.ErrorIs(t, err, thread.ErrNotAuthor)
}

func TestClose_InFlightSendCompletesSilently(t *testing.T) {
	tr := new(MockTransport)
	c, err := chat.NewDirect(alice, "bob", chat.Options{Transport: tr})
	require.NoError(t, err)

	release := make(chan struct{})
	tr.On("SendMessage", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		<-release
	}).Return(models.Message{ID: 10, CreatedAt: time.Now()}, nil).Once()

	done := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "bye", nil)
		done <- err
	}()

	require.Eventually(t, func() bool { return c.Store().Len() == 1 }, time.Second, 5*time.Millisecond)
	c.Close()
	c.Close()
	close(release)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("send did not complete")
	}
	assert.Zero(t, c.Store().Len())
	assert.True(t, c.Store().Closed())
}

func TestRefresh_RevalidatesAgainstServer(t *testing.T) {
	tr := new(MockTransport)
	var fetches atomic.Int32
	tr.On("FetchHistory", mock.Anything, threadRef()).Run(func(mock.Arguments) {
		fetches.Add(1)
	}).Return([]models.Message{tmsg(1, "creator", 1, false)}, nil)

	c, err := chat.NewThread(alice, "T1", chat.Options{Transport: tr, RefreshInterval: time.Second})
	require.NoError(t, err)
	require.NoError(t, c.Open(context.Background()))
	defer c.Close()

	assert.Eventually(t, func() bool { return fetches.Load() >= 2 }, 3*time.Second, 50*time.Millisecond)
}

func TestRevalidator_RejectsBadInterval(t *testing.T) {
	rv := &chat.Revalidator{Refresh: func(context.Context) error { return nil }}

	assert.Error(t, rv.Start())
	assert.NotPanics(t, rv.Stop)
}

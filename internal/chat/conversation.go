// Package chat is the client-side messaging core: optimistic sending,
// live push updates and the discussion-thread mutations, all feeding one
// MessageStore per open conversation.
package chat

import (
	"chatgogo/messenger/internal/attachment"
	"chatgogo/messenger/internal/models"
	"chatgogo/messenger/internal/roomid"
	"chatgogo/messenger/internal/store"
	"chatgogo/messenger/internal/thread"
	"chatgogo/messenger/internal/transport"
	"context"
	"errors"
	"fmt"
	"iter"
	"log"
	"sync"
	"time"
)

// Options configures a Conversation.
type Options struct {
	Transport transport.Transport

	// LiveURL is the websocket push endpoint. Empty disables the live
	// channel; the conversation then works on history refresh alone.
	LiveURL string
	Token   string

	// RefreshInterval enables periodic history revalidation when positive.
	RefreshInterval time.Duration

	Policy thread.Policy
	Clock  func() time.Time

	OnMessage  func(models.Message)
	OnDegraded func(error)
}

// Conversation is one open room or thread. It owns its store, sender,
// live channel, revalidator and attachment uploader; nothing is shared
// across conversations.
type Conversation struct {
	Self models.Participant
	Ref  transport.ConversationRef

	store     *store.MessageStore
	sender    *Sender
	uploader  *attachment.Uploader
	transport transport.Transport
	policy    thread.Policy
	opts      Options

	mu          sync.Mutex
	live        *LiveChannel
	revalidator *Revalidator
	degraded    bool
	closed      bool
}

// NewDirect prepares the direct room between self and peerID. The room
// key is derived locally.
func NewDirect(self models.Participant, peerID string, opts Options) (*Conversation, error) {
	key, err := roomid.DeriveKey(self.ID, peerID)
	if err != nil {
		return nil, err
	}
	ref := transport.ConversationRef{Mode: transport.ModeDirect, ID: key.String()}
	return newConversation(self, ref, peerID, opts), nil
}

// NewThread prepares the discussion thread threadID.
func NewThread(self models.Participant, threadID string, opts Options) (*Conversation, error) {
	if threadID == "" {
		return nil, fmt.Errorf("chat: thread id is required")
	}
	if self.ID == "" {
		return nil, roomid.ErrInvalidParticipant
	}
	ref := transport.ConversationRef{Mode: transport.ModeThread, ID: threadID}
	return newConversation(self, ref, "", opts), nil
}

func newConversation(self models.Participant, ref transport.ConversationRef, peerID string, opts Options) *Conversation {
	st := store.New()
	up := attachment.NewUploader()
	return &Conversation{
		Self:      self,
		Ref:       ref,
		store:     st,
		uploader:  up,
		transport: opts.Transport,
		policy:    opts.Policy,
		opts:      opts,
		sender: &Sender{
			Store:     st,
			Transport: opts.Transport,
			Target:    Target{Ref: ref, SenderID: self.ID, ReceiverID: peerID},
			Uploader:  up,
			Clock:     opts.Clock,
		},
	}
}

// Open loads the history, subscribes to the live channel and starts
// revalidation. A failed history load aborts it, as does an unauthorized
// subscription; any other subscription failure leaves the conversation
// degraded but usable.
func (c *Conversation) Open(ctx context.Context) error {
	if err := c.Refresh(ctx); err != nil {
		return err
	}

	if c.opts.LiveURL != "" {
		live := NewLiveChannel(c.opts.LiveURL, c.opts.Token, c.Ref, c.store)
		live.OnMessage = c.opts.OnMessage
		live.OnDegraded = c.markDegraded
		if err := live.Subscribe(ctx); err != nil {
			if errors.Is(err, transport.ErrUnauthorized) {
				return err
			}
			c.markDegraded(fmt.Errorf("%w: %v", ErrLiveChannelDegraded, err))
		} else {
			c.mu.Lock()
			c.live = live
			c.mu.Unlock()
		}
	}

	if c.opts.RefreshInterval > 0 {
		rv := &Revalidator{Interval: c.opts.RefreshInterval, Refresh: c.Refresh}
		if err := rv.Start(); err != nil {
			return err
		}
		c.mu.Lock()
		c.revalidator = rv
		c.mu.Unlock()
	}
	return nil
}

// Refresh re-fetches the full history and merges it into the store.
func (c *Conversation) Refresh(ctx context.Context) error {
	since := c.store.Generation()
	history, err := c.transport.FetchHistory(ctx, c.Ref)
	if err != nil {
		return fmt.Errorf("chat: fetch history %s: %w", c.Ref.Topic(), err)
	}
	c.store.Merge(history, since)
	return nil
}

// Close tears the conversation down: unsubscribe, stop revalidation,
// release previews, discard the store. It is idempotent. A send still in
// flight completes in the background against the discarded store.
func (c *Conversation) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	live, rv := c.live, c.revalidator
	c.mu.Unlock()

	if live != nil {
		live.Close()
	}
	if rv != nil {
		rv.Stop()
	}
	c.uploader.ReleaseAll()
	c.store.Close()
}

// Degraded reports whether the conversation has fallen back to
// pull-based refresh.
func (c *Conversation) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.degraded
}

func (c *Conversation) markDegraded(err error) {
	c.mu.Lock()
	c.degraded = true
	c.mu.Unlock()

	log.Printf("WARNING: %s continues on history refresh: %v", c.Ref.Topic(), err)
	if c.opts.OnDegraded != nil {
		c.opts.OnDegraded(err)
	}
}

// Store exposes the conversation's message store.
func (c *Conversation) Store() *store.MessageStore {
	return c.store
}

// Uploader is where attachments for this conversation are selected.
func (c *Conversation) Uploader() *attachment.Uploader {
	return c.uploader
}

// Snapshot is the ordered sequence of visible messages.
func (c *Conversation) Snapshot() iter.Seq[models.Message] {
	return c.store.Snapshot()
}

// Messages collects Snapshot into a slice.
func (c *Conversation) Messages() []models.Message {
	return c.store.Messages()
}

// Send submits content with an optional prepared attachment.
func (c *Conversation) Send(ctx context.Context, content string, att *attachment.Prepared) (models.Message, error) {
	return c.sender.Send(ctx, Submission{Content: content, Attachment: att})
}

// SendSelected submits content together with the uploader's current
// selection, if any.
func (c *Conversation) SendSelected(ctx context.Context, content string) (models.Message, error) {
	return c.Send(ctx, content, c.uploader.Current())
}

// Edit changes the content of one of the viewer's own messages.
func (c *Conversation) Edit(ctx context.Context, id uint64, content string) (models.Message, error) {
	if err := c.checkEdit(id); err != nil {
		return models.Message{}, err
	}

	updated, err := c.transport.EditMessage(ctx, id, content)
	if err != nil {
		return models.Message{}, fmt.Errorf("chat: edit %d: %w", id, err)
	}
	c.applyAuthoritative(id, updated, func(m *models.Message) {
		m.Content = content
	})
	return c.find(id), nil
}

// Delete removes a message. In a direct room this is a per-viewer soft
// delete that leaves a tombstone; in a thread it is a hard removal.
func (c *Conversation) Delete(ctx context.Context, id uint64) error {
	if c.Ref.Mode == transport.ModeThread {
		if err := c.policy.CheckDelete(c.view(), c.Self, id); err != nil {
			return err
		}
	} else if _, ok := c.store.Find(id); !ok {
		return fmt.Errorf("%w: %d", thread.ErrMessageNotFound, id)
	}

	if err := c.transport.DeleteMessage(ctx, id); err != nil {
		return fmt.Errorf("chat: delete %d: %w", id, err)
	}

	if c.Ref.Mode == transport.ModeThread {
		c.store.Remove(store.ServerKey(id))
	} else {
		c.store.MarkDeletedForViewer(id)
	}
	return nil
}

// MarkBest marks a reply as the thread's best reply. It fails with
// thread.ErrBestReplyConflict, without touching the store or the
// transport, while another reply holds the flag.
func (c *Conversation) MarkBest(ctx context.Context, id uint64) (models.Message, error) {
	if c.Ref.Mode != transport.ModeThread {
		return models.Message{}, ErrNotThread
	}
	if err := c.policy.CheckMarkBest(c.view(), id); err != nil {
		return models.Message{}, err
	}

	updated, err := c.transport.MarkBestReply(ctx, id)
	if err != nil {
		return models.Message{}, fmt.Errorf("chat: mark best %d: %w", id, err)
	}
	c.applyAuthoritative(id, updated, func(m *models.Message) {
		m.IsBestReply = true
	})
	return c.find(id), nil
}

// UnmarkBest clears the best-reply flag from a reply.
func (c *Conversation) UnmarkBest(ctx context.Context, id uint64) (models.Message, error) {
	if c.Ref.Mode != transport.ModeThread {
		return models.Message{}, ErrNotThread
	}
	if err := c.policy.CheckUnmarkBest(c.view(), id); err != nil {
		return models.Message{}, err
	}

	updated, err := c.transport.UnmarkBestReply(ctx, id)
	if err != nil {
		return models.Message{}, fmt.Errorf("chat: unmark best %d: %w", id, err)
	}
	c.applyAuthoritative(id, updated, func(m *models.Message) {
		m.IsBestReply = false
	})
	return c.find(id), nil
}

func (c *Conversation) checkEdit(id uint64) error {
	if c.Ref.Mode == transport.ModeThread {
		return c.policy.CheckEdit(c.view(), c.Self.ID, id)
	}
	m, ok := c.store.Find(id)
	if !ok {
		return fmt.Errorf("%w: %d", thread.ErrMessageNotFound, id)
	}
	if m.SenderID != c.Self.ID {
		return thread.ErrNotAuthor
	}
	return nil
}

func (c *Conversation) view() thread.View {
	return thread.NewView(c.Ref.ID, c.store.Messages())
}

func (c *Conversation) find(id uint64) models.Message {
	m, _ := c.store.Find(id)
	return m
}

// applyAuthoritative stores the server's version of a mutated message,
// or applies fallback locally when the server answered without a body.
func (c *Conversation) applyAuthoritative(id uint64, server models.Message, fallback func(*models.Message)) {
	if server.ID == id {
		if server.Status == "" {
			server.Status = models.StatusSent
		}
		c.store.Insert(server)
		return
	}
	c.store.Update(id, fallback)
}

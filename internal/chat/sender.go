package chat

import (
	"chatgogo/messenger/internal/attachment"
	"chatgogo/messenger/internal/models"
	"chatgogo/messenger/internal/store"
	"chatgogo/messenger/internal/transport"
	"context"
	"errors"
	"log"
	"strings"
	"time"
)

// Target identifies where a Sender's messages go.
type Target struct {
	Ref        transport.ConversationRef
	SenderID   string
	ReceiverID string
}

// Submission is one user send action.
type Submission struct {
	Content    string
	Attachment *attachment.Prepared
}

// Sender turns submissions into confirmed messages. The provisional
// message is in the store before the transport call starts.
type Sender struct {
	Store     *store.MessageStore
	Transport transport.Transport
	Target    Target
	// Uploader, when set, is told when a preview is no longer needed.
	Uploader *attachment.Uploader
	Clock    func() time.Time
}

// Send validates sub, inserts a PENDING message, makes exactly one
// transport call and reconciles or rolls back. It never retries.
func (s *Sender) Send(ctx context.Context, sub Submission) (models.Message, error) {
	if strings.TrimSpace(sub.Content) == "" && sub.Attachment == nil {
		return models.Message{}, ErrEmptySubmission
	}
	defer s.release(sub.Attachment)

	pending := s.provisional(sub)
	key := s.Store.Insert(pending)

	req := transport.SendRequest{
		ConversationID: s.Target.Ref.ID,
		SenderID:       s.Target.SenderID,
		ReceiverID:     pending.ReceiverID,
		ThreadID:       pending.ThreadID,
		Content:        sub.Content,
		Kind:           pending.Kind,
	}
	if sub.Attachment != nil {
		file := sub.Attachment.File
		file.MimeType = sub.Attachment.MimeType
		req.File = &file
	}

	confirmed, err := s.Transport.SendMessage(ctx, req)
	if err == nil && !confirmed.Confirmed() {
		err = errors.New("server response carried no message id")
	}
	if err != nil {
		s.Store.Remove(key)
		log.Printf("ERROR: send to %s failed, provisional message rolled back: %v", s.Target.Ref.Topic(), err)
		return models.Message{}, sendError(key, err)
	}

	if confirmed.Kind == "" {
		confirmed.Kind = pending.Kind
	}
	confirmed.Status = models.StatusSent
	s.Store.Reconcile(key, confirmed)
	return confirmed, nil
}

func (s *Sender) provisional(sub Submission) models.Message {
	now := time.Now
	if s.Clock != nil {
		now = s.Clock
	}

	msg := models.Message{
		ConversationID: s.Target.Ref.ID,
		SenderID:       s.Target.SenderID,
		Content:        sub.Content,
		Kind:           models.KindText,
		Status:         models.StatusPending,
		CreatedAt:      now(),
	}
	switch s.Target.Ref.Mode {
	case transport.ModeThread:
		msg.ThreadID = s.Target.Ref.ID
	default:
		msg.ReceiverID = s.Target.ReceiverID
	}
	if sub.Attachment != nil {
		msg.Kind = sub.Attachment.Kind
		msg.Attachment = sub.Attachment.Attachment()
	}
	return msg
}

func (s *Sender) release(p *attachment.Prepared) {
	if p == nil {
		return
	}
	if s.Uploader != nil {
		s.Uploader.Release(p)
		return
	}
	p.Release()
}

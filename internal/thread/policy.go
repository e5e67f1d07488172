// Package thread enforces the invariants of discussion threads: a single
// best reply, author-only edits and author-or-moderator deletes. The same
// checks run on the client before a mutation is sent and again on the
// server before it is applied.
package thread

import (
	"chatgogo/messenger/internal/models"
	"errors"
	"fmt"
)

var (
	ErrBestReplyConflict = errors.New("thread: another reply is already marked best")
	ErrNotBestReply      = errors.New("thread: message is not the best reply")
	ErrRootNotReply      = errors.New("thread: the root message cannot be a best reply")
	ErrNotAuthor         = errors.New("thread: only the author may edit this message")
	ErrRootLocked        = errors.New("thread: the root message cannot be edited once replies exist")
	ErrDeleteForbidden   = errors.New("thread: only the author or a moderator may delete this message")
	ErrRootHasReplies    = errors.New("thread: the root message cannot be deleted once replies exist")
	ErrMessageNotFound   = errors.New("thread: message not found")
)

// View is the state of one thread as seen by a policy check.
type View struct {
	ID       string
	Messages []models.Message
}

// NewView builds a View, ignoring unconfirmed messages.
func NewView(id string, msgs []models.Message) View {
	confirmed := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Confirmed() {
			confirmed = append(confirmed, m)
		}
	}
	return View{ID: id, Messages: confirmed}
}

// Root returns the earliest message of the thread.
func (v View) Root() (models.Message, bool) {
	var root models.Message
	found := false
	for _, m := range v.Messages {
		if !found || models.Less(m, root) {
			root = m
			found = true
		}
	}
	return root, found
}

// CreatorID is the sender of the root message.
func (v View) CreatorID() string {
	root, _ := v.Root()
	return root.SenderID
}

// HasReplies reports whether anything besides the root exists.
func (v View) HasReplies() bool {
	return len(v.Messages) > 1
}

// BestReply returns the message currently holding the best-reply flag.
func (v View) BestReply() (models.Message, bool) {
	for _, m := range v.Messages {
		if m.IsBestReply {
			return m, true
		}
	}
	return models.Message{}, false
}

func (v View) find(id uint64) (models.Message, error) {
	for _, m := range v.Messages {
		if m.ID == id {
			return m, nil
		}
	}
	return models.Message{}, fmt.Errorf("%w: %d", ErrMessageNotFound, id)
}

func (v View) isRoot(id uint64) bool {
	root, ok := v.Root()
	return ok && root.ID == id
}

// Policy holds the configurable parts of the thread rules.
type Policy struct {
	// RootEditableAfterReplies lets the thread creator keep editing the
	// root message after the first reply has been posted.
	RootEditableAfterReplies bool
}

// CheckMarkBest permits marking msgID as the best reply. There is no
// implicit swap: if another reply holds the flag the caller must unmark
// it first. Marking the current best reply again is allowed.
func (p Policy) CheckMarkBest(v View, msgID uint64) error {
	if _, err := v.find(msgID); err != nil {
		return err
	}
	if v.isRoot(msgID) {
		return ErrRootNotReply
	}
	if best, ok := v.BestReply(); ok && best.ID != msgID {
		return fmt.Errorf("%w: message %d", ErrBestReplyConflict, best.ID)
	}
	return nil
}

// CheckUnmarkBest permits clearing the flag from msgID.
func (p Policy) CheckUnmarkBest(v View, msgID uint64) error {
	m, err := v.find(msgID)
	if err != nil {
		return err
	}
	if !m.IsBestReply {
		return ErrNotBestReply
	}
	return nil
}

// CheckEdit permits viewerID to change the content of msgID.
func (p Policy) CheckEdit(v View, viewerID string, msgID uint64) error {
	m, err := v.find(msgID)
	if err != nil {
		return err
	}
	if viewerID == "" || m.SenderID != viewerID {
		return ErrNotAuthor
	}
	if v.isRoot(msgID) {
		if v.CreatorID() != viewerID {
			return ErrNotAuthor
		}
		if v.HasReplies() && !p.RootEditableAfterReplies {
			return ErrRootLocked
		}
	}
	return nil
}

// CheckDelete permits viewer to remove msgID. Thread deletes are hard
// removals. The root stays while replies exist, for moderators too, so
// the thread keeps its creator.
func (p Policy) CheckDelete(v View, viewer models.Participant, msgID uint64) error {
	m, err := v.find(msgID)
	if err != nil {
		return err
	}
	if v.isRoot(msgID) && v.HasReplies() {
		return ErrRootHasReplies
	}
	if viewer.IsModerator() {
		return nil
	}
	if viewer.ID == "" || m.SenderID != viewer.ID {
		return ErrDeleteForbidden
	}
	return nil
}

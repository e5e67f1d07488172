// Package transport is the client side of the REST boundary: history
// fetch, multipart message submission and the thread mutations.
package transport

import (
	"chatgogo/messenger/internal/attachment"
	"chatgogo/messenger/internal/models"
	"context"
	"errors"
	"fmt"
)

// ErrUnauthorized is returned for any 401-class response. The host is
// expected to re-authenticate; the core never refreshes tokens itself.
var ErrUnauthorized = errors.New("transport: authentication expired")

// StatusError is a non-2xx response other than 401.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("transport: server returned %d", e.Code)
	}
	return fmt.Sprintf("transport: server returned %d: %s", e.Code, e.Message)
}

// Mode distinguishes direct rooms from discussion threads.
type Mode string

const (
	ModeDirect Mode = "room"
	ModeThread Mode = "thread"
)

// ConversationRef names a room or a thread.
type ConversationRef struct {
	Mode Mode
	ID   string
}

// Topic is the push-channel topic of the conversation.
func (r ConversationRef) Topic() string {
	return string(r.Mode) + ":" + r.ID
}

// SendRequest is one multipart submission.
type SendRequest struct {
	ConversationID string
	SenderID       string
	ReceiverID     string
	ThreadID       string
	Content        string
	Kind           models.Kind
	File           *attachment.File
}

// Transport is the request/response collaborator used by the core.
type Transport interface {
	FetchHistory(ctx context.Context, ref ConversationRef) ([]models.Message, error)
	SendMessage(ctx context.Context, req SendRequest) (models.Message, error)
	EditMessage(ctx context.Context, id uint64, content string) (models.Message, error)
	DeleteMessage(ctx context.Context, id uint64) error
	MarkBestReply(ctx context.Context, id uint64) (models.Message, error)
	UnmarkBestReply(ctx context.Context, id uint64) (models.Message, error)
}

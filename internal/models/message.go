package models

import (
	"path/filepath"
	"strings"
	"time"
)

// Kind is the closed set of message shapes. It is decided once when a
// message is built and never re-inferred from file names afterwards.
type Kind string

const (
	KindText  Kind = "TEXT"
	KindImage Kind = "IMAGE"
	KindFile  Kind = "FILE"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindImage, KindFile:
		return true
	}
	return false
}

// Status is the transport status of a message.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
	// StatusFailed is accepted on the wire. The client never stores it:
	// a failed send is removed from the store instead.
	StatusFailed Status = "FAILED"
)

// imageMimeTypes is the recognised image set.
var imageMimeTypes = map[string]bool{
	"image/jpeg":    true,
	"image/png":     true,
	"image/gif":     true,
	"image/webp":    true,
	"image/bmp":     true,
	"image/svg+xml": true,
}

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
	".svg":  true,
}

// IsImage reports whether the media type or, failing that, the file
// extension belongs to the recognised image set.
func IsImage(mimeType, fileName string) bool {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if imageMimeTypes[mt] {
		return true
	}
	return imageExtensions[strings.ToLower(filepath.Ext(fileName))]
}

// KindFor derives the kind of a message from its attachment.
func KindFor(att *Attachment) Kind {
	if att == nil {
		return KindText
	}
	if IsImage(att.MimeType, att.FileName) {
		return KindImage
	}
	return KindFile
}

// Attachment is the metadata of a file carried by a message. The core
// never stores the bytes itself.
type Attachment struct {
	FileName string `json:"fileName"`
	FileURL  string `json:"fileUrl"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// Message is the wire and in-memory representation of a chat or
// discussion message. Direct-chat messages carry ReceiverID, discussion
// messages carry ThreadID and IsBestReply.
type Message struct {
	// ID is assigned by the server. Zero means not yet confirmed.
	ID               uint64      `json:"id,omitempty"`
	ConversationID   string      `json:"roomOrThreadId"`
	SenderID         string      `json:"senderId"`
	ReceiverID       string      `json:"receiverId,omitempty"`
	ThreadID         string      `json:"threadId,omitempty"`
	Content          string      `json:"content,omitempty"`
	Kind             Kind        `json:"kind"`
	Attachment       *Attachment `json:"attachment,omitempty"`
	Status           Status      `json:"status"`
	CreatedAt        time.Time   `json:"createdAt"`
	DeletedForViewer bool        `json:"deletedForViewer,omitempty"`
	IsBestReply      bool        `json:"isBestReply,omitempty"`
}

// Confirmed reports whether the server has assigned an id.
func (m Message) Confirmed() bool {
	return m.ID != 0
}

// IsThreadMessage reports whether the message belongs to a discussion.
func (m Message) IsThreadMessage() bool {
	return m.ThreadID != ""
}

// Tombstone returns the viewer-facing form of a soft-deleted message:
// identity and ordering fields survive, the body does not.
func (m Message) Tombstone() Message {
	m.Content = ""
	m.Attachment = nil
	m.DeletedForViewer = true
	return m
}

// Less orders messages by (CreatedAt, ID). Unconfirmed messages sort
// after confirmed ones with the same timestamp.
func Less(a, b Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	if a.Confirmed() != b.Confirmed() {
		return a.Confirmed()
	}
	return a.ID < b.ID
}

package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// MessageRecord is the persisted form of a Message in the reference
// server's database. Per-viewer soft deletes live in MessageHide.
type MessageRecord struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	// ConversationID is the room key (direct mode) or the thread id.
	ConversationID string `gorm:"size:160;not null;index:idx_conv_created,priority:1"`
	SenderID       string `gorm:"size:64;not null"`
	ReceiverID     string `gorm:"size:64"`
	ThreadID       string `gorm:"size:64;index"`
	Content        string `gorm:"type:text"`
	Kind           string `gorm:"size:8;not null;default:TEXT"`

	FileName string `gorm:"size:255"`
	FileURL  string `gorm:"size:1024"`
	MimeType string `gorm:"size:128"`
	Size     int64

	IsBestReply bool `gorm:"not null;default:false"`

	CreatedAt time.Time `gorm:"index:idx_conv_created,priority:2"`
	UpdatedAt time.Time
}

func (MessageRecord) TableName() string {
	return "messages"
}

// ToMessage converts the record for a given viewer. Hidden messages are
// returned as tombstones.
func (r MessageRecord) ToMessage(hidden bool) Message {
	msg := Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		SenderID:       r.SenderID,
		ReceiverID:     r.ReceiverID,
		ThreadID:       r.ThreadID,
		Content:        r.Content,
		Kind:           Kind(r.Kind),
		Status:         StatusSent,
		CreatedAt:      r.CreatedAt,
		IsBestReply:    r.IsBestReply,
	}
	if r.FileURL != "" || r.FileName != "" {
		msg.Attachment = &Attachment{
			FileName: r.FileName,
			FileURL:  r.FileURL,
			MimeType: r.MimeType,
			Size:     r.Size,
		}
	}
	if hidden {
		return msg.Tombstone()
	}
	return msg
}

// MessageHide records that one viewer soft-deleted a direct message.
type MessageHide struct {
	MessageID uint64 `gorm:"primaryKey"`
	ViewerID  string `gorm:"primaryKey;size:64"`
	CreatedAt time.Time
}

// ParticipantRecord is the reference server's directory entry for a
// participant.
type ParticipantRecord struct {
	ID          string         `gorm:"primaryKey" json:"id"`
	DisplayName string         `gorm:"size:128"`
	AvatarURL   string         `gorm:"size:1024"`
	Role        string         `gorm:"size:32"`
	Departments pq.StringArray `gorm:"type:text[]"`
}

func (ParticipantRecord) TableName() string {
	return "participants"
}

// BeforeCreate generates a UUID for participants created without one.
func (p *ParticipantRecord) BeforeCreate(tx *gorm.DB) (err error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return
}

// ToParticipant converts the record to the core's immutable view.
func (p ParticipantRecord) ToParticipant() Participant {
	return Participant{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		AvatarURL:   p.AvatarURL,
		Role:        p.Role,
		Departments: []string(p.Departments),
	}
}

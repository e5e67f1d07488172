package storage

import (
	"chatgogo/messenger/internal/models"
	"chatgogo/messenger/internal/thread"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"slices"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// TopicChannelPrefix prefixes the Redis channel of every push topic.
const TopicChannelPrefix = "chat:topic:"

// ErrNotFound is returned when a message does not exist.
var ErrNotFound = errors.New("storage: message not found")

type Storage interface {
	SaveParticipant(p *models.ParticipantRecord) error
	GetParticipant(id string) (*models.ParticipantRecord, error)

	SaveMessage(rec *models.MessageRecord) error
	FindMessage(id uint64) (*models.MessageRecord, error)
	GetHistory(conversationID, viewerID string) ([]models.Message, error)
	GetThreadMessages(threadID string) ([]models.Message, error)
	UpdateContent(id uint64, content string) (*models.MessageRecord, error)
	SetBestReply(id uint64, best bool) (*models.MessageRecord, error)
	DeleteMessage(id uint64) error
	HideMessage(id uint64, viewerID string) error

	PublishMessage(topic string, msg models.Message) error
	SubscribeToTopics() *redis.PubSub
	HasBroker() bool
}

type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
	Ctx   context.Context
}

// NewStorageService Constructor. rdb may be nil for a single-instance
// deployment; publishing then stays in-process.
func NewStorageService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{
		DB:    db,
		Redis: rdb,
		Ctx:   context.Background(),
	}
}

// Migrate creates the tables used by the reference server.
func (s *Service) Migrate() error {
	return s.DB.AutoMigrate(
		&models.MessageRecord{},
		&models.MessageHide{},
		&models.ParticipantRecord{},
	)
}

// SaveParticipant upserts a participant directory entry.
func (s *Service) SaveParticipant(p *models.ParticipantRecord) error {
	return s.DB.Save(p).Error
}

// GetParticipant returns nil, nil for an unknown participant.
func (s *Service) GetParticipant(id string) (*models.ParticipantRecord, error) {
	var p models.ParticipantRecord
	err := s.DB.Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SaveMessage inserts a new message; rec.ID and rec.CreatedAt are filled in.
func (s *Service) SaveMessage(rec *models.MessageRecord) error {
	if err := s.DB.Create(rec).Error; err != nil {
		log.Printf("ERROR: Failed to save message for %s: %v", rec.ConversationID, err)
		return err
	}
	return nil
}

// FindMessage returns ErrNotFound for an unknown id.
func (s *Service) FindMessage(id uint64) (*models.MessageRecord, error) {
	var rec models.MessageRecord
	err := s.DB.First(&rec, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetHistory returns a conversation's messages as seen by viewerID:
// messages the viewer soft-deleted come back as tombstones.
func (s *Service) GetHistory(conversationID, viewerID string) ([]models.Message, error) {
	var records []models.MessageRecord
	if err := s.DB.Where("conversation_id = ?", conversationID).
		Order("created_at asc").Order("id asc").
		Find(&records).Error; err != nil {
		log.Printf("ERROR: Failed to get history for %s: %v", conversationID, err)
		return nil, err
	}

	var hidden []uint64
	if viewerID != "" && len(records) > 0 {
		ids := make([]uint64, 0, len(records))
		for _, r := range records {
			ids = append(ids, r.ID)
		}
		if err := s.DB.Model(&models.MessageHide{}).
			Where("viewer_id = ? AND message_id IN ?", viewerID, ids).
			Pluck("message_id", &hidden).Error; err != nil {
			return nil, err
		}
	}

	out := make([]models.Message, 0, len(records))
	for _, r := range records {
		out = append(out, r.ToMessage(slices.Contains(hidden, r.ID)))
	}
	return out, nil
}

// GetThreadMessages returns every message of a thread.
func (s *Service) GetThreadMessages(threadID string) ([]models.Message, error) {
	return s.GetHistory(threadID, "")
}

// UpdateContent replaces the text of a message.
func (s *Service) UpdateContent(id uint64, content string) (*models.MessageRecord, error) {
	res := s.DB.Model(&models.MessageRecord{}).Where("id = ?", id).Update("content", content)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return s.FindMessage(id)
}

// SetBestReply toggles the best-reply flag. Marking is refused with
// thread.ErrBestReplyConflict when another message of the same thread
// already holds the flag; the check and the update share a transaction.
func (s *Service) SetBestReply(id uint64, best bool) (*models.MessageRecord, error) {
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var rec models.MessageRecord
		if err := tx.First(&rec, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %d", ErrNotFound, id)
			}
			return err
		}
		if best {
			var others int64
			if err := tx.Model(&models.MessageRecord{}).
				Where("thread_id = ? AND is_best_reply = ? AND id <> ?", rec.ThreadID, true, id).
				Count(&others).Error; err != nil {
				return err
			}
			if others > 0 {
				return thread.ErrBestReplyConflict
			}
		}
		return tx.Model(&models.MessageRecord{}).Where("id = ?", id).Update("is_best_reply", best).Error
	})
	if err != nil {
		return nil, err
	}
	return s.FindMessage(id)
}

// DeleteMessage removes a message permanently (discussion mode).
func (s *Service) DeleteMessage(id uint64) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&models.MessageRecord{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		return tx.Where("message_id = ?", id).Delete(&models.MessageHide{}).Error
	})
}

// HideMessage soft-deletes a message for one viewer (direct mode).
func (s *Service) HideMessage(id uint64, viewerID string) error {
	hide := models.MessageHide{MessageID: id, ViewerID: viewerID}
	return s.DB.Where(hide).FirstOrCreate(&hide).Error
}

// HasBroker reports whether messages fan out through Redis.
func (s *Service) HasBroker() bool {
	return s.Redis != nil
}

// PublishMessage публікує повідомлення в Redis Pub/Sub
func (s *Service) PublishMessage(topic string, msg models.Message) error {
	if s.Redis == nil {
		return errors.New("storage: no redis broker configured")
	}
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.Redis.Publish(s.Ctx, TopicChannelPrefix+topic, string(msgBytes)).Err()
}

// SubscribeToTopics listens on every push topic channel.
func (s *Service) SubscribeToTopics() *redis.PubSub {
	return s.Redis.PSubscribe(s.Ctx, TopicChannelPrefix+"*")
}

package store

import (
	"context"
	"errors"
	"time"

	"chat-server/internal/models"

	"gorm.io/gorm"
)

// Messages is the durable message store. The store, not the client, assigns
// timestamps, so per-conversation order equals persistence order.
type Messages struct {
	DB *gorm.DB
}

func NewMessages(db *gorm.DB) *Messages {
	return &Messages{DB: db}
}

// Append stores one message and assigns its id and UTC timestamp.
func (s *Messages) Append(ctx context.Context, msg *models.ChatMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	return s.DB.WithContext(ctx).Create(msg).Error
}

// Conversation returns the private history between two users, both
// directions, oldest first.
func (s *Messages) Conversation(ctx context.Context, userA, userB uint) ([]models.ChatMessage, error) {
	var msgs []models.ChatMessage
	err := s.DB.WithContext(ctx).
		Where("message_type = ?", models.MessagePrivate).
		Where("(from_user_id = ? AND to_user_id = ?) OR (from_user_id = ? AND to_user_id = ?)",
			userA, userB, userB, userA).
		Order("id").
		Find(&msgs).Error
	return msgs, err
}

// PublicHistory returns the latest public messages, oldest first.
func (s *Messages) PublicHistory(ctx context.Context, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var msgs []models.ChatMessage
	err := s.DB.WithContext(ctx).
		Where("message_type = ?", models.MessagePublic).
		Order("id desc").Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *Messages) Find(ctx context.Context, id uint) (*models.ChatMessage, error) {
	var msg models.ChatMessage
	err := s.DB.WithContext(ctx).First(&msg, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *Messages) MarkRead(ctx context.Context, id uint) error {
	return s.DB.WithContext(ctx).Model(&models.ChatMessage{}).Where("id = ?", id).
		Update("is_read", true).Error
}

// UnreadCount counts unread private messages addressed to a user.
func (s *Messages) UnreadCount(ctx context.Context, username string) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.ChatMessage{}).
		Where("`to` = ? AND message_type = ? AND is_read = ?", username, models.MessagePrivate, false).
		Count(&n).Error
	return n, err
}

package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"chat-server/internal/models"

	"gorm.io/gorm"
)

var (
	ErrNotAllowed     = errors.New("not allowed")
	ErrGroupNotFound  = errors.New("group not found")
	ErrAlreadyMember  = errors.New("already a member")
	ErrCreatorRemoval = errors.New("group creator cannot be removed")
	ErrInvalidGroup   = errors.New("invalid group")
)

// Groups owns group metadata and membership. Membership rows are soft
// deleted (is_active = false) so old messages stay attributable.
type Groups struct {
	DB *gorm.DB
}

func NewGroups(db *gorm.DB) *Groups {
	return &Groups{DB: db}
}

// Create stores the group and its initial members in one transaction. The
// creator always becomes a member with the admin flag set.
func (s *Groups) Create(ctx context.Context, name, description, imageURL string, creatorID uint, memberIDs []uint, isPrivate bool) (*models.Group, error) {
	name = strings.TrimSpace(name)
	if len(name) < 3 {
		return nil, ErrInvalidGroup
	}

	now := time.Now().UTC()
	group := &models.Group{
		Name:            name,
		Description:     strings.TrimSpace(description),
		GroupImageURL:   imageURL,
		CreatedByUserID: creatorID,
		IsActive:        true,
		IsPrivate:       isPrivate,
		CreatedAt:       now,
		LastActivityAt:  now,
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(group).Error; err != nil {
			return err
		}

		members := []models.GroupMember{{
			GroupID:  group.ID,
			UserID:   creatorID,
			IsAdmin:  true,
			IsActive: true,
			JoinedAt: now,
		}}
		for _, id := range memberIDs {
			if id == creatorID {
				continue
			}
			var exists int64
			if err := tx.Model(&models.User{}).Where("id = ?", id).Count(&exists).Error; err != nil {
				return err
			}
			if exists == 0 {
				continue
			}
			members = append(members, models.GroupMember{
				GroupID:  group.ID,
				UserID:   id,
				IsActive: true,
				JoinedAt: now,
			})
		}
		return tx.Create(&members).Error
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

func (s *Groups) GetByID(ctx context.Context, groupID uint) (*models.Group, error) {
	var g models.Group
	err := s.DB.WithContext(ctx).Where("id = ? AND is_active = ?", groupID, true).First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// ForUser lists the active groups a user actively belongs to, newest first.
func (s *Groups) ForUser(ctx context.Context, userID uint) ([]models.Group, error) {
	var groups []models.Group
	err := s.DB.WithContext(ctx).
		Joins("JOIN group_members gm ON gm.group_id = groups.id").
		Where("groups.is_active = ? AND gm.user_id = ? AND gm.is_active = ?", true, userID, true).
		Order("groups.created_at desc").
		Find(&groups).Error
	return groups, err
}

// AddMember is admin-gated. A previously removed member is reactivated
// rather than duplicated.
func (s *Groups) AddMember(ctx context.Context, groupID, userID, requestingUserID uint) error {
	admin, err := s.IsAdmin(ctx, groupID, requestingUserID)
	if err != nil {
		return err
	}
	if !admin {
		return ErrNotAllowed
	}

	member, err := s.IsMember(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if member {
		return ErrAlreadyMember
	}

	var existing models.GroupMember
	err = s.DB.WithContext(ctx).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		First(&existing).Error
	switch {
	case err == nil:
		return s.DB.WithContext(ctx).Model(&existing).
			Updates(map[string]any{"is_active": true, "is_admin": false, "joined_at": time.Now().UTC()}).Error
	case errors.Is(err, gorm.ErrRecordNotFound):
		return s.DB.WithContext(ctx).Create(&models.GroupMember{
			GroupID:  groupID,
			UserID:   userID,
			IsActive: true,
			JoinedAt: time.Now().UTC(),
		}).Error
	default:
		return err
	}
}

// RemoveMember soft-deletes a membership. Admins may remove anyone except
// the creator; a member may remove themselves.
func (s *Groups) RemoveMember(ctx context.Context, groupID, userID, requestingUserID uint) error {
	admin, err := s.IsAdmin(ctx, groupID, requestingUserID)
	if err != nil {
		return err
	}
	if !admin && requestingUserID != userID {
		return ErrNotAllowed
	}

	group, err := s.GetByID(ctx, groupID)
	if err != nil {
		return err
	}
	if group == nil {
		return ErrGroupNotFound
	}
	if group.CreatedByUserID == userID {
		return ErrCreatorRemoval
	}

	res := s.DB.WithContext(ctx).Model(&models.GroupMember{}).
		Where("group_id = ? AND user_id = ? AND is_active = ?", groupID, userID, true).
		Update("is_active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotAllowed
	}
	return nil
}

func (s *Groups) Update(ctx context.Context, groupID uint, name, description, imageURL string, requestingUserID uint) error {
	admin, err := s.IsAdmin(ctx, groupID, requestingUserID)
	if err != nil {
		return err
	}
	if !admin {
		return ErrNotAllowed
	}

	updates := map[string]any{
		"name":        strings.TrimSpace(name),
		"description": strings.TrimSpace(description),
	}
	if imageURL != "" {
		updates["group_image_url"] = imageURL
	}
	res := s.DB.WithContext(ctx).Model(&models.Group{}).
		Where("id = ? AND is_active = ?", groupID, true).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrGroupNotFound
	}
	return nil
}

func (s *Groups) IsMember(ctx context.Context, groupID, userID uint) (bool, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.GroupMember{}).
		Where("group_id = ? AND user_id = ? AND is_active = ?", groupID, userID, true).
		Count(&n).Error
	return n > 0, err
}

func (s *Groups) IsAdmin(ctx context.Context, groupID, userID uint) (bool, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.GroupMember{}).
		Where("group_id = ? AND user_id = ? AND is_active = ? AND is_admin = ?", groupID, userID, true, true).
		Count(&n).Error
	return n > 0, err
}

func (s *Groups) ActiveMemberIDs(ctx context.Context, groupID uint) ([]uint, error) {
	var ids []uint
	err := s.DB.WithContext(ctx).Model(&models.GroupMember{}).
		Where("group_id = ? AND is_active = ?", groupID, true).
		Pluck("user_id", &ids).Error
	return ids, err
}

func (s *Groups) Members(ctx context.Context, groupID uint) ([]models.GroupMember, error) {
	var members []models.GroupMember
	err := s.DB.WithContext(ctx).
		Where("group_id = ? AND is_active = ?", groupID, true).
		Order("is_admin desc, joined_at").
		Find(&members).Error
	return members, err
}

// AppendMessage stores one group message (body already encrypted) and bumps
// the group's last-activity time.
func (s *Groups) AppendMessage(ctx context.Context, groupID, fromUserID uint, encryptedBody string) (*models.ChatMessage, error) {
	var from models.User
	if err := s.DB.WithContext(ctx).First(&from, fromUserID).Error; err != nil {
		return nil, err
	}

	msg := &models.ChatMessage{
		FromUserID:  fromUserID,
		From:        from.Username,
		Body:        encryptedBody,
		Timestamp:   time.Now().UTC(),
		MessageType: models.MessageGroup,
		GroupID:     &groupID,
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Group{}).Where("id = ?", groupID).
			Update("last_activity_at", msg.Timestamp).Error
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// Messages returns the last N group messages, oldest first.
func (s *Groups) Messages(ctx context.Context, groupID uint, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var msgs []models.ChatMessage
	err := s.DB.WithContext(ctx).
		Where("group_id = ? AND message_type = ?", groupID, models.MessageGroup).
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

package store

import (
	"context"
	"errors"
	"time"

	"chat-server/internal/models"

	"gorm.io/gorm"
)

var ErrSelfBlock = errors.New("cannot block yourself")

// Blocks keeps the blocking relationships the router consults at send time
// plus the report bookkeeping behind the REST surface.
type Blocks struct {
	DB *gorm.DB
}

func NewBlocks(db *gorm.DB) *Blocks {
	return &Blocks{DB: db}
}

func (s *Blocks) Block(ctx context.Context, userID, blockedUserID uint, reason string) error {
	if userID == blockedUserID {
		return ErrSelfBlock
	}

	blocked, err := s.IsBlocked(ctx, userID, blockedUserID)
	if err != nil {
		return err
	}
	if blocked {
		return nil
	}
	return s.DB.WithContext(ctx).Create(&models.BlockedUser{
		UserID:        userID,
		BlockedUserID: blockedUserID,
		Reason:        reason,
		BlockedAt:     time.Now().UTC(),
	}).Error
}

func (s *Blocks) Unblock(ctx context.Context, userID, blockedUserID uint) error {
	return s.DB.WithContext(ctx).
		Where("user_id = ? AND blocked_user_id = ?", userID, blockedUserID).
		Delete(&models.BlockedUser{}).Error
}

// IsBlocked reports whether userID has blocked otherID, one direction.
func (s *Blocks) IsBlocked(ctx context.Context, userID, otherID uint) (bool, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.BlockedUser{}).
		Where("user_id = ? AND blocked_user_id = ?", userID, otherID).
		Count(&n).Error
	return n > 0, err
}

// BlockedEither reports whether either side has blocked the other. The
// router's private-send authorization gate.
func (s *Blocks) BlockedEither(ctx context.Context, userID, otherID uint) (bool, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.BlockedUser{}).
		Where("(user_id = ? AND blocked_user_id = ?) OR (user_id = ? AND blocked_user_id = ?)",
			userID, otherID, otherID, userID).
		Count(&n).Error
	return n > 0, err
}

func (s *Blocks) ListBlocked(ctx context.Context, userID uint) ([]models.BlockedUser, error) {
	var rows []models.BlockedUser
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).Order("blocked_at desc").Find(&rows).Error
	return rows, err
}

func (s *Blocks) Report(ctx context.Context, reporterID, reportedUserID uint, reason, category string) error {
	if category == "" {
		category = "General"
	}
	return s.DB.WithContext(ctx).Create(&models.UserReport{
		ReporterID:     reporterID,
		ReportedUserID: reportedUserID,
		Reason:         reason,
		Category:       category,
		ReportedAt:     time.Now().UTC(),
	}).Error
}

func (s *Blocks) Reports(ctx context.Context, reportedUserID uint) ([]models.UserReport, error) {
	var rows []models.UserReport
	err := s.DB.WithContext(ctx).Where("reported_user_id = ?", reportedUserID).
		Order("reported_at desc").Find(&rows).Error
	return rows, err
}

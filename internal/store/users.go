package store

import (
	"context"
	"errors"
	"time"

	"chat-server/internal/models"

	"gorm.io/gorm"
)

// Users is the user directory. Lookups return (nil, nil) when the user
// does not exist; an error means the storage layer itself failed.
type Users struct {
	DB *gorm.DB
}

func NewUsers(db *gorm.DB) *Users {
	return &Users{DB: db}
}

func (s *Users) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	err := s.DB.WithContext(ctx).Where("username = ?", username).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Users) FindByID(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	err := s.DB.WithContext(ctx).First(&u, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Users) Create(ctx context.Context, u *models.User) error {
	return s.DB.WithContext(ctx).Create(u).Error
}

func (s *Users) All(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := s.DB.WithContext(ctx).Order("username").Find(&users).Error
	return users, err
}

func (s *Users) SetOnline(ctx context.Context, id uint) error {
	now := time.Now().UTC()
	return s.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).
		Updates(map[string]any{
			"is_online":     true,
			"user_status":   models.StatusOnline,
			"last_active":   now,
			"last_login_at": now,
		}).Error
}

func (s *Users) SetOffline(ctx context.Context, id uint) error {
	return s.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).
		Updates(map[string]any{
			"is_online":   false,
			"user_status": models.StatusOffline,
			"last_active": time.Now().UTC(),
		}).Error
}

func (s *Users) SetStatus(ctx context.Context, id uint, status string) error {
	return s.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).
		Update("user_status", status).Error
}

func (s *Users) UpdateLastActive(ctx context.Context, id uint) error {
	return s.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).
		Update("last_active", time.Now().UTC()).Error
}

package models

import "time"

// User statuses. Offline is derived from the connection set; Busy and Away
// are explicit user choices that survive reconnects.
const (
	StatusOnline  = "Online"
	StatusOffline = "Offline"
	StatusBusy    = "Busy"
	StatusAway    = "Away"
)

// Message kinds stored in ChatMessage.MessageType.
const (
	MessagePrivate = "Private"
	MessagePublic  = "Public"
	MessageGroup   = "Group"
)

// Synthetic recipient for public/broadcast messages. No real user may take
// this id or username.
const (
	GeneralChatUserID   = 999
	GeneralChatUsername = "SYSTEM_GENERAL_CHAT"
)

type User struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Username        string     `gorm:"size:50;uniqueIndex;not null" json:"username"`
	PasswordHash    string     `gorm:"size:255;not null" json:"-"`
	Email           string     `gorm:"size:100" json:"email,omitempty"`
	DisplayName     string     `gorm:"size:100" json:"display_name,omitempty"`
	Bio             string     `gorm:"size:500" json:"bio,omitempty"`
	ProfileImageURL string     `gorm:"size:255" json:"profile_image_url,omitempty"`
	UserStatus      string     `gorm:"size:20;default:Offline" json:"user_status"`
	IsOnline        bool       `json:"is_online"`
	LastActive      *time.Time `json:"last_active,omitempty"`
	LastLoginAt     *time.Time `json:"last_login_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ChatMessage holds Body in encrypted form only. From/To usernames are
// denormalized copies kept for older clients that key history by name.
type ChatMessage struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	FromUserID  uint      `gorm:"index;not null" json:"from_user_id"`
	ToUserID    *uint     `gorm:"index" json:"to_user_id,omitempty"`
	From        string    `gorm:"size:50;not null" json:"from"`
	To          string    `gorm:"size:50" json:"to"`
	Body        string    `gorm:"size:1000;not null" json:"body"`
	Timestamp   time.Time `gorm:"index" json:"timestamp"`
	MessageType string    `gorm:"size:20;default:Private" json:"message_type"`
	IsRead      bool      `json:"is_read"`
	GroupID     *uint     `gorm:"index" json:"group_id,omitempty"`
}

type Group struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Name            string    `gorm:"size:100;not null" json:"name"`
	Description     string    `gorm:"size:500" json:"description"`
	GroupImageURL   string    `gorm:"size:255" json:"group_image_url,omitempty"`
	CreatedByUserID uint      `gorm:"index;not null" json:"created_by_user_id"`
	IsActive        bool      `gorm:"default:true" json:"is_active"`
	IsPrivate       bool      `json:"is_private"`
	CreatedAt       time.Time `json:"created_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
}

// GroupMember rows are soft-deleted via IsActive so history stays
// attributable to former members.
type GroupMember struct {
	ID       uint      `gorm:"primaryKey" json:"id"`
	GroupID  uint      `gorm:"uniqueIndex:idx_group_user;not null" json:"group_id"`
	UserID   uint      `gorm:"uniqueIndex:idx_group_user;not null" json:"user_id"`
	IsAdmin  bool      `json:"is_admin"`
	IsActive bool      `gorm:"default:true" json:"is_active"`
	JoinedAt time.Time `json:"joined_at"`
}

type BlockedUser struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UserID        uint      `gorm:"uniqueIndex:idx_blocker_blocked;not null" json:"user_id"`
	BlockedUserID uint      `gorm:"uniqueIndex:idx_blocker_blocked;not null" json:"blocked_user_id"`
	Reason        string    `gorm:"size:500" json:"reason,omitempty"`
	BlockedAt     time.Time `json:"blocked_at"`
}

type UserReport struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	ReporterID     uint       `gorm:"index;not null" json:"reporter_id"`
	ReportedUserID uint       `gorm:"index;not null" json:"reported_user_id"`
	Reason         string     `gorm:"size:500;not null" json:"reason"`
	Category       string     `gorm:"size:50;default:General" json:"category"`
	ReportedAt     time.Time  `json:"reported_at"`
	IsResolved     bool       `json:"is_resolved"`
	AdminNotes     string     `gorm:"size:500" json:"admin_notes,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

package model

import (
	"time"

	"gorm.io/gorm"
)

// User is a login account. Staff members optionally link to one.
type User struct {
	gorm.Model
	Name           string `json:"name" gorm:"type:varchar(191);not null"`
	Email          string `json:"email" gorm:"type:varchar(191);uniqueIndex;not null"`
	Password       string `json:"-" gorm:"type:varchar(255);not null"`
	PasswordSalt   string `json:"-" gorm:"type:varchar(255)"`
	RoleID         uint32 `json:"role_id" gorm:"not null;index"`
	FailedAttempts int    `json:"-" gorm:"default:0"`
	LockedUntil    *int64 `json:"-"`
}

// Session is a persisted login session keyed by its token.
type Session struct {
	gorm.Model
	SessionToken string    `json:"session_token" gorm:"type:varchar(512);uniqueIndex;not null"`
	UserID       uint      `json:"user_id" gorm:"not null;index"`
	ExpiresAt    time.Time `json:"expires_at" gorm:"not null;index"`
	ClientIP     string    `json:"client_ip" gorm:"type:varchar(45)"`
	Browser      string    `json:"browser" gorm:"type:varchar(512)"`
}

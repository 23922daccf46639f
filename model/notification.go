package model

import (
	"time"

	"gorm.io/gorm"
)

type Notification struct {
	gorm.Model
	UserID   uint       `json:"user_id" gorm:"not null;index"`
	Title    string     `json:"title" gorm:"type:varchar(191);not null"`
	Message  string     `json:"message" gorm:"type:text"`
	Category string     `json:"category" gorm:"type:varchar(32);index"`
	Link     string     `json:"link"`
	ReadAt   *time.Time `json:"read_at" gorm:"index"`
}

const (
	CategoryAppointment = "appointment"
	CategoryBilling     = "billing"
	CategoryLeave       = "leave"
	CategorySystem      = "system"
)

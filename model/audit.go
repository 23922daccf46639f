package model

import (
	"time"

	"gorm.io/datatypes"
)

// AuditEvent is one row of the practice audit trail: sign-ins, denied
// access and every API call that touched patient or billing data.
type AuditEvent struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	CreatedAt  time.Time `json:"created_at" gorm:"index"`
	Kind       string    `json:"kind" gorm:"type:varchar(32);index"`
	ActorID    *uint     `json:"actor_id,omitempty" gorm:"index"`
	ActorEmail string    `json:"actor_email,omitempty" gorm:"type:varchar(191)"`
	IP         string    `json:"ip" gorm:"type:varchar(45)"`
	// "City/Country" when a GeoIP database is loaded.
	Location  string         `json:"location,omitempty" gorm:"type:varchar(255)"`
	UserAgent string         `json:"user_agent,omitempty" gorm:"type:varchar(512)"`
	Method    string         `json:"method,omitempty" gorm:"type:varchar(8)"`
	Route     string         `json:"route,omitempty" gorm:"type:varchar(191);index"`
	Status    int            `json:"status,omitempty"`
	RequestID string         `json:"request_id,omitempty" gorm:"type:varchar(64)"`
	Message   string         `json:"message" gorm:"type:text"`
	Details   datatypes.JSON `json:"details,omitempty" gorm:"type:json"`
}

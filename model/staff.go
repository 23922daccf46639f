package model

import "gorm.io/gorm"

type StaffPosition string

const (
	PositionPhysiotherapist StaffPosition = "physiotherapist"
	PositionReceptionist    StaffPosition = "receptionist"
	PositionAdmin           StaffPosition = "admin"
)

// Valid reports whether p is a known position.
func (p StaffPosition) Valid() bool {
	switch p {
	case PositionPhysiotherapist, PositionReceptionist, PositionAdmin:
		return true
	}
	return false
}

type StaffStatus string

const (
	StaffActive   StaffStatus = "active"
	StaffInactive StaffStatus = "inactive"
)

// Staff represents a clinic employee
// @Description Staff member information
type Staff struct {
	gorm.Model
	UserID         *uint         `json:"user_id" gorm:"column:user_id;index" example:"1"`
	FullName       string        `json:"full_name" gorm:"column:full_name;type:varchar(191);not null" example:"Dr. John Smith"`
	Email          string        `json:"email" gorm:"column:email;type:varchar(191);index" example:"dr.john@example.com"`
	PhoneNumber    string        `json:"phone_number" gorm:"column:phone_number" example:"+6281234567890"`
	Position       StaffPosition `json:"position" gorm:"column:position;type:varchar(32);not null" example:"physiotherapist"`
	Specialization string        `json:"specialization" gorm:"column:specialization" example:"Sports injury"`
	LicenseNumber  string        `json:"license_number" gorm:"column:license_number" example:"STR-1234"`
	Status         StaffStatus   `json:"status" gorm:"column:status;type:varchar(16);default:active" example:"active"`
	JoinedAt       string        `json:"joined_at" gorm:"column:joined_at;type:varchar(10)" example:"2024-01-15"`
}

// TableName overrides the pluralized default ("staffs").
func (Staff) TableName() string {
	return "staff"
}

package model

import (
	"time"

	"gorm.io/gorm"
)

type LeaveType string

const (
	LeaveAnnual LeaveType = "annual"
	LeaveSick   LeaveType = "sick"
	LeaveUnpaid LeaveType = "unpaid"
	LeaveOther  LeaveType = "other"
)

func (t LeaveType) Valid() bool {
	switch t {
	case LeaveAnnual, LeaveSick, LeaveUnpaid, LeaveOther:
		return true
	}
	return false
}

type LeaveStatus string

const (
	LeavePending   LeaveStatus = "pending"
	LeaveApproved  LeaveStatus = "approved"
	LeaveRejected  LeaveStatus = "rejected"
	LeaveCancelled LeaveStatus = "cancelled"
)

type LeaveRequest struct {
	gorm.Model
	StaffID    uint        `json:"staff_id" gorm:"not null;index"`
	LeaveType  LeaveType   `json:"leave_type" gorm:"type:varchar(16);not null"`
	StartDate  string      `json:"start_date" gorm:"type:varchar(10);not null;index"`
	EndDate    string      `json:"end_date" gorm:"type:varchar(10);not null"`
	Days       int         `json:"days"`
	Reason     string      `json:"reason" gorm:"type:text"`
	Status     LeaveStatus `json:"status" gorm:"type:varchar(16);not null;default:pending;index"`
	ReviewedBy *uint       `json:"reviewed_by"`
	ReviewedAt *time.Time  `json:"reviewed_at"`
	ReviewNote string      `json:"review_note"`
}

package model

import (
	"time"

	"gorm.io/gorm"
)

type AppointmentType string

const (
	AppointmentAssessment AppointmentType = "assessment"
	AppointmentTreatment  AppointmentType = "treatment"
	AppointmentFollowUp   AppointmentType = "follow_up"
	AppointmentHomeVisit  AppointmentType = "home_visit"
)

func (t AppointmentType) Valid() bool {
	switch t {
	case AppointmentAssessment, AppointmentTreatment, AppointmentFollowUp, AppointmentHomeVisit:
		return true
	}
	return false
}

type AppointmentStatus string

const (
	AppointmentScheduled AppointmentStatus = "scheduled"
	AppointmentCompleted AppointmentStatus = "completed"
	AppointmentCancelled AppointmentStatus = "cancelled"
	AppointmentNoShow    AppointmentStatus = "no_show"
)

// CanTransitionTo reports whether an appointment in status s may move to next.
// Only scheduled appointments change status.
func (s AppointmentStatus) CanTransitionTo(next AppointmentStatus) bool {
	if s != AppointmentScheduled {
		return false
	}
	switch next {
	case AppointmentCompleted, AppointmentCancelled, AppointmentNoShow:
		return true
	}
	return false
}

type Appointment struct {
	gorm.Model
	PatientID      uint              `json:"patient_id" gorm:"not null;index"`
	StaffID        uint              `json:"staff_id" gorm:"not null;index"`
	StartAt        time.Time         `json:"start_at" gorm:"not null;index"`
	EndAt          time.Time         `json:"end_at" gorm:"not null"`
	Type           AppointmentType   `json:"type" gorm:"type:varchar(32);not null"`
	Status         AppointmentStatus `json:"status" gorm:"type:varchar(16);not null;default:scheduled;index"`
	Notes          string            `json:"notes" gorm:"type:text"`
	CancelReason   string            `json:"cancel_reason"`
	ReminderSentAt *time.Time        `json:"reminder_sent_at"`
	// BillingCycleID is set once the session is on an invoice.
	BillingCycleID *uint `json:"billing_cycle_id" gorm:"index"`
}

// ListAppointmentResponse is an appointment joined with display names.
type ListAppointmentResponse struct {
	Appointment
	PatientName string `json:"patient_name" gorm:"column:patient_name"`
	PatientCode string `json:"patient_code" gorm:"column:patient_code"`
	StaffName   string `json:"staff_name" gorm:"column:staff_name"`
}

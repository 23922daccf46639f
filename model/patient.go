package model

import "gorm.io/gorm"

type PatientStatus string

const (
	PatientActive     PatientStatus = "active"
	PatientDischarged PatientStatus = "discharged"
)

type BillingFrequency string

const (
	FrequencyWeekly   BillingFrequency = "weekly"
	FrequencyBiweekly BillingFrequency = "biweekly"
	FrequencyMonthly  BillingFrequency = "monthly"
	FrequencySessions BillingFrequency = "sessions"
)

type Patient struct {
	gorm.Model
	PatientCode       string           `json:"patient_code" gorm:"type:varchar(191);uniqueIndex"`
	FullName          string           `json:"full_name" gorm:"type:varchar(191);index;not null"`
	Gender            string           `json:"gender"`
	DateOfBirth       string           `json:"date_of_birth" gorm:"type:varchar(10)"`
	Age               int              `json:"age"`
	Job               string           `json:"job"`
	Address           string           `json:"address"`
	PhoneNumber       string           `json:"phone_number"`
	Email             string           `json:"email"`
	HealthHistory     string           `json:"health_history"`
	SurgeryHistory    string           `json:"surgery_history"`
	Diagnosis         string           `json:"diagnosis"`
	ReferredBy        string           `json:"referred_by"`
	AssignedStaffID   *uint            `json:"assigned_staff_id" gorm:"index"`
	Status            PatientStatus    `json:"status" gorm:"type:varchar(16);default:active;index"`
	SessionFee        float64          `json:"session_fee"`
	BillingFrequency  BillingFrequency `json:"billing_frequency" gorm:"type:varchar(16);default:monthly"`
	BillingAnchorDate string           `json:"billing_anchor_date" gorm:"type:varchar(10)"`
	SessionsPerCycle  int              `json:"sessions_per_cycle"`
}

// UpdatePatientRequest carries the mutable patient fields; zero values are ignored.
type UpdatePatientRequest struct {
	FullName          string           `json:"full_name"`
	Gender            string           `json:"gender"`
	DateOfBirth       string           `json:"date_of_birth"`
	Age               int              `json:"age"`
	Job               string           `json:"job"`
	Address           string           `json:"address"`
	PhoneNumbers      []string         `json:"phone_number"`
	Email             string           `json:"email"`
	HealthHistory     string           `json:"health_history"`
	SurgeryHistory    string           `json:"surgery_history"`
	Diagnosis         string           `json:"diagnosis"`
	ReferredBy        string           `json:"referred_by"`
	AssignedStaffID   *uint            `json:"assigned_staff_id"`
	Status            PatientStatus    `json:"status"`
	SessionFee        *float64         `json:"session_fee"`
	BillingFrequency  BillingFrequency `json:"billing_frequency"`
	BillingAnchorDate string           `json:"billing_anchor_date"`
	SessionsPerCycle  *int             `json:"sessions_per_cycle"`
}

package model

import (
	"time"

	"gorm.io/gorm"
)

type BillingCycleStatus string

const (
	CycleOpen     BillingCycleStatus = "open"
	CycleInvoiced BillingCycleStatus = "invoiced"
)

// BillingCycle is one billed period of a patient's treatment plan.
type BillingCycle struct {
	gorm.Model
	PatientID    uint               `json:"patient_id" gorm:"not null;uniqueIndex:idx_cycle_patient_index"`
	CycleIndex   int                `json:"cycle_index" gorm:"not null;uniqueIndex:idx_cycle_patient_index"`
	Frequency    BillingFrequency   `json:"frequency" gorm:"type:varchar(16);not null"`
	PeriodStart  string             `json:"period_start" gorm:"type:varchar(10);not null"`
	PeriodEnd    string             `json:"period_end" gorm:"type:varchar(10);not null"`
	SessionCount int                `json:"session_count"`
	SessionFee   float64            `json:"session_fee"`
	Amount       float64            `json:"amount"`
	Status       BillingCycleStatus `json:"status" gorm:"type:varchar(16);default:open"`
}

type BillingStatus string

const (
	BillingUnpaid  BillingStatus = "unpaid"
	BillingPartial BillingStatus = "partial"
	BillingPaid    BillingStatus = "paid"
	BillingOverdue BillingStatus = "overdue"
	BillingVoid    BillingStatus = "void"
)

// Payable reports whether payments may still be recorded against an invoice in status s.
func (s BillingStatus) Payable() bool {
	return s == BillingUnpaid || s == BillingPartial || s == BillingOverdue
}

// Billing is an invoice issued for a billing cycle.
type Billing struct {
	gorm.Model
	InvoiceNumber  string        `json:"invoice_number" gorm:"type:varchar(64);uniqueIndex;not null"`
	PatientID      uint          `json:"patient_id" gorm:"not null;index"`
	BillingCycleID *uint         `json:"billing_cycle_id" gorm:"index"`
	Amount         float64       `json:"amount"`
	AmountPaid     float64       `json:"amount_paid"`
	Status         BillingStatus `json:"status" gorm:"type:varchar(16);not null;default:unpaid;index"`
	DueDate        string        `json:"due_date" gorm:"type:varchar(10);index"`
	PaidAt         *time.Time    `json:"paid_at"`
	PaymentMethod  string        `json:"payment_method"`
	Notes          string        `json:"notes" gorm:"type:text"`
}

// Outstanding is the unpaid remainder of the invoice.
func (b Billing) Outstanding() float64 {
	rest := b.Amount - b.AmountPaid
	if rest < 0 {
		return 0
	}
	return rest
}

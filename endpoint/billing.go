package endpoint

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ariebrainware/physio-practice/billing"
	"github.com/ariebrainware/physio-practice/model"
	"github.com/ariebrainware/physio-practice/util"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// amounts closer than half a cent are equal
const centTolerance = 0.005

var (
	errNotPayable  = errors.New("invoice does not accept payments")
	errOverpayment = errors.New("payment exceeds the outstanding amount")
	errNotVoidable = errors.New("invoice cannot be voided")
)

type billingRow struct {
	model.Billing
	PatientName string `json:"patient_name" gorm:"column:patient_name"`
	PatientCode string `json:"patient_code" gorm:"column:patient_code"`
}

type PaymentRequest struct {
	Amount float64 `json:"amount" binding:"required,gt=0"`
	Method string  `json:"method"`
}

type VoidRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// billingFilter applies the patient_id and status query filters to a query on billings.
func billingFilter(c *gin.Context) (func(*gorm.DB) *gorm.DB, bool) {
	patientID, ok := parseOptionalUint(c, "patient_id")
	if !ok {
		return nil, false
	}
	status := strings.TrimSpace(c.Query("status"))
	return func(q *gorm.DB) *gorm.DB {
		q = q.Where("billings.deleted_at IS NULL")
		if patientID != 0 {
			q = q.Where("billings.patient_id = ?", patientID)
		}
		if status != "" {
			q = q.Where("billings.status = ?", status)
		}
		return q
	}, true
}

func billingRows(db *gorm.DB, filter func(*gorm.DB) *gorm.DB) *gorm.DB {
	return filter(db.Table("billings").
		Select("billings.*, patients.full_name AS patient_name, patients.patient_code AS patient_code").
		Joins("LEFT JOIN patients ON patients.id = billings.patient_id"))
}

// ListBillings godoc
// @Summary      List invoices
// @Tags         Billing
// @Produce      json
// @Security     SessionToken
// @Param        patient_id query int false "Patient ID"
// @Param        status query string false "unpaid|partial|paid|overdue|void"
// @Param        limit query int false "Limit number of results"
// @Param        offset query int false "Offset for pagination"
// @Success      200 {object} util.APIResponse{data=object} "Invoices retrieved"
// @Router       /billing [get]
func ListBillings(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	filter, ok := billingFilter(c)
	if !ok {
		return
	}

	var total int64
	if err := filter(db.Table("billings")).Count(&total).Error; err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to count invoices", Err: err})
		return
	}

	var rows []billingRow
	if err := parsePagination(c).apply(billingRows(db, filter).Order("billings.created_at DESC")).Scan(&rows).Error; err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to retrieve invoices", Err: err})
		return
	}

	var outstanding float64
	for _, r := range rows {
		if r.Status.Payable() {
			outstanding += r.Outstanding()
		}
	}

	util.CallSuccessOK(c, util.APISuccessParams{
		Msg: "Invoices retrieved",
		Data: gin.H{
			"total":         total,
			"total_fetched": len(rows),
			"outstanding":   billing.RoundCents(outstanding),
			"billings":      rows,
		},
	})
}

// applyPayment adds amount to inv. The final payment may differ from the
// outstanding amount by less than half a cent.
func applyPayment(inv *model.Billing, amount float64, method string, now time.Time) error {
	if !inv.Status.Payable() {
		return errNotPayable
	}
	amount = billing.RoundCents(amount)
	outstanding := billing.RoundCents(inv.Outstanding())
	if amount-outstanding > centTolerance {
		return errOverpayment
	}
	inv.AmountPaid = billing.RoundCents(inv.AmountPaid + amount)
	if method != "" {
		inv.PaymentMethod = method
	}
	if inv.Amount-inv.AmountPaid <= centTolerance {
		inv.AmountPaid = inv.Amount
		inv.Status = model.BillingPaid
		inv.PaidAt = &now
		return nil
	}
	if inv.Status != model.BillingOverdue {
		inv.Status = model.BillingPartial
	}
	return nil
}

// storePayment writes the payment fields of inv only while the row still
// holds the status and amount_paid of read. false means another payment
// landed first.
func storePayment(db *gorm.DB, read, inv model.Billing) (bool, error) {
	res := db.Model(&model.Billing{}).
		Where("id = ? AND status = ? AND amount_paid = ?", read.ID, read.Status, read.AmountPaid).
		Updates(map[string]interface{}{
			"amount_paid":    inv.AmountPaid,
			"status":         inv.Status,
			"paid_at":        inv.PaidAt,
			"payment_method": inv.PaymentMethod,
		})
	return res.RowsAffected == 1, res.Error
}

// RecordPayment godoc
// @Summary      Record a payment
// @Description  Partial and full payments are accepted; paying more than the outstanding amount is rejected
// @Tags         Billing
// @Accept       json
// @Produce      json
// @Security     SessionToken
// @Param        id path int true "Invoice ID"
// @Param        request body PaymentRequest true "Payment"
// @Success      200 {object} util.APIResponse{data=model.Billing} "Payment recorded"
// @Failure      400 {object} util.APIResponse "Invalid amount"
// @Failure      404 {object} util.APIResponse "Invoice not found"
// @Failure      409 {object} util.APIResponse "Invoice is paid or void"
// @Router       /billing/{id}/payment [post]
func RecordPayment(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id", "invoice")
	if !ok {
		return
	}
	var req PaymentRequest
	if !bindJSONOrRespond(c, &req, "Invalid payment") {
		return
	}

	var inv model.Billing
	if !findOrRespond(c, db, &inv, id, "Invoice") {
		return
	}
	read := inv

	if err := applyPayment(&inv, req.Amount, strings.TrimSpace(req.Method), time.Now().UTC()); err != nil {
		if errors.Is(err, errNotPayable) {
			util.CallConflict(c, util.APIErrorParams{Msg: fmt.Sprintf("Invoice is %s", inv.Status), Err: err})
			return
		}
		util.CallUserError(c, util.APIErrorParams{
			Msg: fmt.Sprintf("Payment exceeds the outstanding amount of %.2f", inv.Outstanding()),
			Err: err,
		})
		return
	}

	stored, err := storePayment(db, read, inv)
	if err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to record payment", Err: err})
		return
	}
	if !stored {
		util.CallConflict(c, util.APIErrorParams{Msg: "Invoice changed concurrently, please retry", Err: errNotPayable})
		return
	}

	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Payment recorded", Data: inv})
}

// VoidBilling godoc
// @Summary      Void an invoice
// @Description  Only invoices without payments can be voided. The billing cycle is reopened so it can be invoiced again
// @Tags         Billing
// @Accept       json
// @Produce      json
// @Security     SessionToken
// @Param        id path int true "Invoice ID"
// @Param        request body VoidRequest true "Reason"
// @Success      200 {object} util.APIResponse{data=model.Billing} "Invoice voided"
// @Failure      409 {object} util.APIResponse "Invoice has payments or is already void"
// @Router       /billing/{id}/void [post]
func VoidBilling(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id", "invoice")
	if !ok {
		return
	}
	var req VoidRequest
	if !bindJSONOrRespond(c, &req, "A reason is required to void an invoice") {
		return
	}

	var inv model.Billing
	if !findOrRespond(c, db, &inv, id, "Invoice") {
		return
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Billing{}).
			Where("id = ? AND status IN ? AND amount_paid = 0", inv.ID,
				[]model.BillingStatus{model.BillingUnpaid, model.BillingOverdue}).
			Updates(map[string]interface{}{
				"status": model.BillingVoid,
				"notes":  strings.TrimSpace(inv.Notes + "\nVoided: " + strings.TrimSpace(req.Reason)),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errNotVoidable
		}
		if inv.BillingCycleID == nil {
			return nil
		}
		if err := tx.Model(&model.BillingCycle{}).
			Where("id = ?", *inv.BillingCycleID).
			Update("status", model.CycleOpen).Error; err != nil {
			return err
		}
		// released sessions can go on the next invoice
		return tx.Model(&model.Appointment{}).
			Where("billing_cycle_id = ?", *inv.BillingCycleID).
			Update("billing_cycle_id", nil).Error
	})
	if errors.Is(err, errNotVoidable) {
		util.CallConflict(c, util.APIErrorParams{Msg: "Only unpaid invoices can be voided", Err: err})
		return
	}
	if err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to void invoice", Err: err})
		return
	}

	if err := db.First(&inv, inv.ID).Error; err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to reload invoice", Err: err})
		return
	}
	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Invoice voided", Data: inv})
}

var billingCSVHeader = []string{
	"invoice_number", "patient_code", "patient_name", "amount", "amount_paid",
	"outstanding", "status", "due_date", "paid_at", "payment_method", "issued_at",
}

// ExportBillings godoc
// @Summary      Export invoices as CSV
// @Tags         Billing
// @Produce      text/csv
// @Security     SessionToken
// @Param        patient_id query int false "Patient ID"
// @Param        status query string false "Invoice status"
// @Success      200 {string} string "CSV file"
// @Router       /billing/export [get]
func ExportBillings(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	filter, ok := billingFilter(c)
	if !ok {
		return
	}
	var rows []billingRow
	if err := billingRows(db, filter).Order("billings.created_at ASC").Scan(&rows).Error; err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to export invoices", Err: err})
		return
	}

	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		paidAt := ""
		if r.PaidAt != nil {
			paidAt = r.PaidAt.UTC().Format(time.RFC3339)
		}
		out = append(out, []string{
			r.InvoiceNumber,
			r.PatientCode,
			r.PatientName,
			strconv.FormatFloat(r.Amount, 'f', 2, 64),
			strconv.FormatFloat(r.AmountPaid, 'f', 2, 64),
			strconv.FormatFloat(r.Outstanding(), 'f', 2, 64),
			string(r.Status),
			r.DueDate,
			paidAt,
			r.PaymentMethod,
			r.CreatedAt.UTC().Format(billing.DateLayout),
		})
	}
	writeCSVResponse(c, fmt.Sprintf("invoices-%s.csv", today()), billingCSVHeader, out)
}

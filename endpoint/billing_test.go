package endpoint_test

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ariebrainware/physio-practice/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type invoiceData struct {
	BillingCycle model.BillingCycle `json:"billing_cycle"`
	Billing      model.Billing      `json:"billing"`
}

type cyclePreview struct {
	CycleIndex      int     `json:"cycle_index"`
	PeriodStart     string  `json:"period_start"`
	PeriodEnd       string  `json:"period_end"`
	SessionCount    int     `json:"session_count"`
	Amount          float64 `json:"amount"`
	DueDate         string  `json:"due_date"`
	Complete        bool    `json:"complete"`
	AlreadyInvoiced bool    `json:"already_invoiced"`
}

// completed books and completes one appointment per start time.
func (ts *testServer) completed(t *testing.T, patientID, staffID uint, days ...string) {
	t.Helper()
	for _, d := range days {
		appt := ts.book(t, ts.adminToken, patientID, staffID, at(d, 9))
		require.Equal(t, http.StatusOK, ts.setStatus(t, ts.adminToken, appt.ID, model.AppointmentCompleted).Code)
	}
}

func (ts *testServer) generate(t *testing.T, token string, patientID uint, date string) *invoiceData {
	t.Helper()
	rr := ts.do(t, http.MethodPost, "/billing-cycle/generate", token, map[string]interface{}{"patient_id": patientID, "date": date})
	if rr.Code != http.StatusCreated {
		return nil
	}
	var data invoiceData
	decodeData(t, rr, http.StatusCreated, &data)
	return &data
}

func TestBillingCycle_Monthly(t *testing.T) {
	ts := setupTestServer(t)
	physio, _ := ts.createStaff(t, "Budi Physio", "budi@example.com", model.PositionPhysiotherapist)
	p := ts.createPatient(t, map[string]interface{}{"billing_anchor_date": "2024-01-01"})
	ts.completed(t, p.ID, physio.ID, "2024-01-05", "2024-01-19")

	// a cancelled session is never billed
	skipped := ts.book(t, ts.adminToken, p.ID, physio.ID, at("2024-01-26", 9))
	require.Equal(t, http.StatusOK, ts.setStatus(t, ts.adminToken, skipped.ID, model.AppointmentCancelled).Code)

	rr := ts.do(t, http.MethodGet, fmt.Sprintf("/billing-cycle/preview?patient_id=%d&date=2024-01-15", p.ID), ts.adminToken, nil)
	var preview cyclePreview
	decodeData(t, rr, http.StatusOK, &preview)
	assert.Equal(t, 0, preview.CycleIndex)
	assert.Equal(t, "2024-01-01", preview.PeriodStart)
	assert.Equal(t, "2024-01-31", preview.PeriodEnd)
	assert.Equal(t, 2, preview.SessionCount)
	assert.InDelta(t, 300000, preview.Amount, 0.001)
	assert.Equal(t, "2024-02-07", preview.DueDate)
	assert.False(t, preview.AlreadyInvoiced)

	inv := ts.generate(t, ts.adminToken, p.ID, "2024-01-15")
	require.NotNil(t, inv)
	assert.Equal(t, model.CycleInvoiced, inv.BillingCycle.Status)
	assert.Equal(t, model.BillingUnpaid, inv.Billing.Status)
	assert.InDelta(t, 300000, inv.Billing.Amount, 0.001)
	assert.Regexp(t, `^INV-\d{8}-[0-9A-F]{8}$`, inv.Billing.InvoiceNumber)
	require.NotNil(t, inv.Billing.BillingCycleID)
	assert.Equal(t, inv.BillingCycle.ID, *inv.Billing.BillingCycleID)

	t.Run("same cycle twice", func(t *testing.T) {
		rr := ts.do(t, http.MethodPost, "/billing-cycle/generate", ts.adminToken, map[string]interface{}{"patient_id": p.ID, "date": "2024-01-31"})
		assert.Equal(t, http.StatusConflict, rr.Code)

		rr = ts.do(t, http.MethodGet, fmt.Sprintf("/billing-cycle/preview?patient_id=%d&date=2024-01-20", p.ID), ts.adminToken, nil)
		decodeData(t, rr, http.StatusOK, &preview)
		assert.True(t, preview.AlreadyInvoiced)
	})

	t.Run("empty month", func(t *testing.T) {
		rr := ts.do(t, http.MethodPost, "/billing-cycle/generate", ts.adminToken, map[string]interface{}{"patient_id": p.ID, "date": "2024-02-10"})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "Nothing to bill yet", ParseAPIResp(t, rr).Msg)
	})

	t.Run("before anchor", func(t *testing.T) {
		rr := ts.do(t, http.MethodGet, fmt.Sprintf("/billing-cycle/preview?patient_id=%d&date=2023-12-31", p.ID), ts.adminToken, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("request errors", func(t *testing.T) {
		rr := ts.do(t, http.MethodGet, "/billing-cycle/preview", ts.adminToken, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		rr = ts.do(t, http.MethodGet, fmt.Sprintf("/billing-cycle/preview?patient_id=%d&date=15-01-2024", p.ID), ts.adminToken, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		rr = ts.do(t, http.MethodGet, "/billing-cycle/preview?patient_id=404", ts.adminToken, nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	rr = ts.do(t, http.MethodGet, fmt.Sprintf("/billing-cycle?patient_id=%d", p.ID), ts.adminToken, nil)
	var cycles []model.BillingCycle
	decodeData(t, rr, http.StatusOK, &cycles)
	require.Len(t, cycles, 1)
	assert.Equal(t, 2, cycles[0].SessionCount)

	var notes int64
	ts.db.Model(&model.Notification{}).Where("category = ?", model.CategoryBilling).Count(&notes)
	assert.EqualValues(t, 1, notes, "the admin is told about the invoice")
}

func TestBillingCycle_SessionCount(t *testing.T) {
	ts := setupTestServer(t)
	physio, _ := ts.createStaff(t, "Budi Physio", "budi@example.com", model.PositionPhysiotherapist)
	_, receptionist := ts.createStaff(t, "Dewi Front", "dewi@example.com", model.PositionReceptionist)
	p := ts.createPatient(t, map[string]interface{}{
		"billing_frequency": "sessions", "sessions_per_cycle": 3, "session_fee": 100000.5,
	})
	ts.completed(t, p.ID, physio.ID, "2024-03-01", "2024-03-04")

	rr := ts.do(t, http.MethodGet, fmt.Sprintf("/billing-cycle/preview?patient_id=%d", p.ID), receptionist, nil)
	var preview cyclePreview
	decodeData(t, rr, http.StatusOK, &preview)
	assert.False(t, preview.Complete)
	assert.Equal(t, 2, preview.SessionCount)

	require.Nil(t, ts.generate(t, receptionist, p.ID, ""), "an incomplete chunk is not billed")

	ts.completed(t, p.ID, physio.ID, "2024-03-08", "2024-03-11")
	inv := ts.generate(t, receptionist, p.ID, "")
	require.NotNil(t, inv)
	assert.Equal(t, 0, inv.BillingCycle.CycleIndex)
	assert.Equal(t, "2024-03-01", inv.BillingCycle.PeriodStart)
	assert.Equal(t, "2024-03-08", inv.BillingCycle.PeriodEnd)
	assert.InDelta(t, 300001.5, inv.Billing.Amount, 0.001)
	assert.Equal(t, "2024-03-15", inv.Billing.DueDate)

	// the fourth session starts the next, still incomplete, chunk
	rr = ts.do(t, http.MethodGet, fmt.Sprintf("/billing-cycle/preview?patient_id=%d", p.ID), receptionist, nil)
	decodeData(t, rr, http.StatusOK, &preview)
	assert.Equal(t, 1, preview.CycleIndex)
	assert.Equal(t, 1, preview.SessionCount)
	require.Nil(t, ts.generate(t, receptionist, p.ID, ""))
}

func TestBillingCycle_SessionCountLateCompletion(t *testing.T) {
	ts := setupTestServer(t)
	physio, _ := ts.createStaff(t, "Budi Physio", "budi@example.com", model.PositionPhysiotherapist)
	p := ts.createPatient(t, map[string]interface{}{
		"billing_frequency": "sessions", "sessions_per_cycle": 2, "session_fee": 100000,
	})
	ts.completed(t, p.ID, physio.ID, "2024-03-03", "2024-03-04")
	first := ts.generate(t, ts.adminToken, p.ID, "")
	require.NotNil(t, first)
	assert.Equal(t, 0, first.BillingCycle.CycleIndex)
	assert.Equal(t, "2024-03-03", first.BillingCycle.PeriodStart)
	assert.Equal(t, "2024-03-04", first.BillingCycle.PeriodEnd)

	// an earlier session marked completed late goes on the next invoice
	ts.completed(t, p.ID, physio.ID, "2024-03-01", "2024-03-05")
	second := ts.generate(t, ts.adminToken, p.ID, "")
	require.NotNil(t, second)
	assert.Equal(t, 1, second.BillingCycle.CycleIndex)
	assert.Equal(t, "2024-03-01", second.BillingCycle.PeriodStart)
	assert.Equal(t, "2024-03-05", second.BillingCycle.PeriodEnd)
	assert.Equal(t, 2, second.BillingCycle.SessionCount)
	assert.InDelta(t, 200000, second.Billing.Amount, 0.001)

	var unbilled int64
	ts.db.Model(&model.Appointment{}).Where("patient_id = ? AND billing_cycle_id IS NULL", p.ID).Count(&unbilled)
	assert.Zero(t, unbilled, "every completed session is on exactly one invoice")
	for _, cycleID := range []uint{first.BillingCycle.ID, second.BillingCycle.ID} {
		var n int64
		ts.db.Model(&model.Appointment{}).Where("billing_cycle_id = ?", cycleID).Count(&n)
		assert.EqualValues(t, 2, n, "cycle %d", cycleID)
	}

	rr := ts.do(t, http.MethodPost, "/billing-cycle/generate", ts.adminToken, map[string]interface{}{"patient_id": p.ID})
	assert.Equal(t, http.StatusBadRequest, rr.Code, "nothing left to bill")

	t.Run("void releases sessions", func(t *testing.T) {
		rr := ts.do(t, http.MethodPost, fmt.Sprintf("/billing/%d/void", second.Billing.ID), ts.adminToken, map[string]string{"reason": "wrong fee"})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		var released int64
		ts.db.Model(&model.Appointment{}).Where("patient_id = ? AND billing_cycle_id IS NULL", p.ID).Count(&released)
		assert.EqualValues(t, 2, released)

		reissued := ts.generate(t, ts.adminToken, p.ID, "")
		require.NotNil(t, reissued)
		assert.Equal(t, second.BillingCycle.ID, reissued.BillingCycle.ID)
		assert.Equal(t, 1, reissued.BillingCycle.CycleIndex)
		assert.Equal(t, 2, reissued.BillingCycle.SessionCount)
	})
}

func TestBillingCycle_RunningPeriodNotBilled(t *testing.T) {
	ts := setupTestServer(t)
	physio, _ := ts.createStaff(t, "Budi Physio", "budi@example.com", model.PositionPhysiotherapist)
	now := time.Now().UTC()
	anchor := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
	p := ts.createPatient(t, map[string]interface{}{"billing_anchor_date": anchor})
	today := now.Format("2006-01-02")
	ts.completed(t, p.ID, physio.ID, today)

	rr := ts.do(t, http.MethodGet, fmt.Sprintf("/billing-cycle/preview?patient_id=%d&date=%s", p.ID, today), ts.adminToken, nil)
	var preview cyclePreview
	decodeData(t, rr, http.StatusOK, &preview)
	assert.False(t, preview.Complete)
	assert.Equal(t, 1, preview.SessionCount)

	rr = ts.do(t, http.MethodPost, "/billing-cycle/generate", ts.adminToken, map[string]interface{}{"patient_id": p.ID, "date": today})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Nothing to bill yet", ParseAPIResp(t, rr).Msg)

	var cycles int64
	ts.db.Model(&model.BillingCycle{}).Where("patient_id = ?", p.ID).Count(&cycles)
	assert.Zero(t, cycles)
}

func TestRecordPayment(t *testing.T) {
	ts := setupTestServer(t)
	physio, _ := ts.createStaff(t, "Budi Physio", "budi@example.com", model.PositionPhysiotherapist)
	_, receptionist := ts.createStaff(t, "Dewi Front", "dewi@example.com", model.PositionReceptionist)
	p := ts.createPatient(t, map[string]interface{}{"billing_anchor_date": "2024-01-01"})
	ts.completed(t, p.ID, physio.ID, "2024-01-05", "2024-01-19")
	inv := ts.generate(t, ts.adminToken, p.ID, "2024-01-10")
	require.NotNil(t, inv)
	path := fmt.Sprintf("/billing/%d/payment", inv.Billing.ID)

	var got model.Billing
	rr := ts.do(t, http.MethodPost, path, receptionist, map[string]interface{}{"amount": 100000, "method": "cash"})
	decodeData(t, rr, http.StatusOK, &got)
	assert.Equal(t, model.BillingPartial, got.Status)
	assert.InDelta(t, 100000, got.AmountPaid, 0.001)
	assert.Nil(t, got.PaidAt)

	rr = ts.do(t, http.MethodPost, path, receptionist, map[string]interface{}{"amount": 200000.01})
	assert.Equal(t, http.StatusBadRequest, rr.Code, "overpayment")
	assert.Contains(t, ParseAPIResp(t, rr).Msg, "200000.00")

	for _, bad := range []interface{}{0, -5, "ten"} {
		rr = ts.do(t, http.MethodPost, path, receptionist, map[string]interface{}{"amount": bad})
		assert.Equal(t, http.StatusBadRequest, rr.Code, "amount %v", bad)
	}

	// within half a cent settles the invoice
	rr = ts.do(t, http.MethodPost, path, receptionist, map[string]interface{}{"amount": 199999.996, "method": "transfer"})
	decodeData(t, rr, http.StatusOK, &got)
	assert.Equal(t, model.BillingPaid, got.Status)
	assert.InDelta(t, 300000, got.AmountPaid, 0.0001)
	assert.NotNil(t, got.PaidAt)
	assert.Equal(t, "transfer", got.PaymentMethod)

	rr = ts.do(t, http.MethodPost, path, receptionist, map[string]interface{}{"amount": 1})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = ts.do(t, http.MethodPost, "/billing/999/payment", receptionist, map[string]interface{}{"amount": 1})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestVoidBilling_ReopensCycle(t *testing.T) {
	ts := setupTestServer(t)
	physio, _ := ts.createStaff(t, "Budi Physio", "budi@example.com", model.PositionPhysiotherapist)
	_, receptionist := ts.createStaff(t, "Dewi Front", "dewi@example.com", model.PositionReceptionist)
	p := ts.createPatient(t, map[string]interface{}{"billing_anchor_date": "2024-01-01"})
	ts.completed(t, p.ID, physio.ID, "2024-01-05", "2024-02-02")
	jan := ts.generate(t, ts.adminToken, p.ID, "2024-01-10")
	feb := ts.generate(t, ts.adminToken, p.ID, "2024-02-10")
	require.NotNil(t, jan)
	require.NotNil(t, feb)

	voidPath := func(id uint) string { return fmt.Sprintf("/billing/%d/void", id) }

	rr := ts.do(t, http.MethodPost, voidPath(jan.Billing.ID), receptionist, map[string]string{"reason": "typo"})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = ts.do(t, http.MethodPost, voidPath(jan.Billing.ID), ts.adminToken, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rr.Code, "reason is required")

	rr = ts.do(t, http.MethodPost, voidPath(jan.Billing.ID), ts.adminToken, map[string]string{"reason": "wrong fee"})
	var voided model.Billing
	decodeData(t, rr, http.StatusOK, &voided)
	assert.Equal(t, model.BillingVoid, voided.Status)
	assert.Contains(t, voided.Notes, "Voided: wrong fee")

	var cycle model.BillingCycle
	require.NoError(t, ts.db.First(&cycle, jan.BillingCycle.ID).Error)
	assert.Equal(t, model.CycleOpen, cycle.Status)

	rr = ts.do(t, http.MethodPost, voidPath(jan.Billing.ID), ts.adminToken, map[string]string{"reason": "again"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	reissued := ts.generate(t, ts.adminToken, p.ID, "2024-01-10")
	require.NotNil(t, reissued, "a voided cycle can be invoiced again")
	assert.Equal(t, jan.BillingCycle.ID, reissued.BillingCycle.ID)
	assert.NotEqual(t, jan.Billing.InvoiceNumber, reissued.Billing.InvoiceNumber)

	rr = ts.do(t, http.MethodPost, fmt.Sprintf("/billing/%d/payment", feb.Billing.ID), ts.adminToken, map[string]interface{}{"amount": 50000})
	require.Equal(t, http.StatusOK, rr.Code)
	rr = ts.do(t, http.MethodPost, voidPath(feb.Billing.ID), ts.adminToken, map[string]string{"reason": "refund"})
	assert.Equal(t, http.StatusConflict, rr.Code, "invoices with payments cannot be voided")
}

func TestListAndExportBillings(t *testing.T) {
	ts := setupTestServer(t)
	physio, _ := ts.createStaff(t, "Budi Physio", "budi@example.com", model.PositionPhysiotherapist)
	p := ts.createPatient(t, map[string]interface{}{"full_name": "-Minus Patient", "billing_anchor_date": "2024-01-01"})
	ts.completed(t, p.ID, physio.ID, "2024-01-05", "2024-02-02")
	jan := ts.generate(t, ts.adminToken, p.ID, "2024-01-10")
	require.NotNil(t, jan)
	require.NotNil(t, ts.generate(t, ts.adminToken, p.ID, "2024-02-10"))

	rr := ts.do(t, http.MethodPost, fmt.Sprintf("/billing/%d/payment", jan.Billing.ID), ts.adminToken, map[string]interface{}{"amount": 150000})
	require.Equal(t, http.StatusOK, rr.Code)

	var data struct {
		Total       int64   `json:"total"`
		Outstanding float64 `json:"outstanding"`
		Billings    []struct {
			model.Billing
			PatientName string `json:"patient_name"`
			PatientCode string `json:"patient_code"`
		} `json:"billings"`
	}
	rr = ts.do(t, http.MethodGet, "/billing", ts.adminToken, nil)
	decodeData(t, rr, http.StatusOK, &data)
	assert.EqualValues(t, 2, data.Total)
	assert.InDelta(t, 150000, data.Outstanding, 0.001)
	require.Len(t, data.Billings, 2)
	assert.Equal(t, "-Minus Patient", data.Billings[0].PatientName)

	rr = ts.do(t, http.MethodGet, "/billing?status=paid", ts.adminToken, nil)
	decodeData(t, rr, http.StatusOK, &data)
	assert.EqualValues(t, 1, data.Total)

	rr = ts.do(t, http.MethodGet, "/billing?patient_id=x", ts.adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ts.do(t, http.MethodGet, "/billing/export", ts.adminToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rr.Header().Get("Content-Type"))
	records, err := csv.NewReader(strings.NewReader(rr.Body.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "invoice_number", records[0][0])
	assert.Equal(t, jan.Billing.InvoiceNumber, records[1][0])
	assert.Equal(t, "'-Minus Patient", records[1][2])
	assert.Equal(t, "150000.00", records[1][4])
	assert.Equal(t, "paid", records[1][6])
}

package endpoint

import (
	"time"

	"github.com/ariebrainware/physio-practice/billing"
	"github.com/ariebrainware/physio-practice/model"
	"github.com/ariebrainware/physio-practice/util"
	"github.com/gin-gonic/gin"
)

type dashboardStats struct {
	ActivePatients      int64   `json:"active_patients"`
	AppointmentsToday   int64   `json:"appointments_today"`
	CompletedToday      int64   `json:"completed_today"`
	UnpaidInvoices      int64   `json:"unpaid_invoices"`
	OverdueInvoices     int64   `json:"overdue_invoices"`
	OutstandingAmount   float64 `json:"outstanding_amount"`
	PendingLeave        int64   `json:"pending_leave"`
	StaffOnLeaveToday   int64   `json:"staff_on_leave_today"`
	UnreadNotifications int64   `json:"unread_notifications"`
}

// Dashboard godoc
// @Summary      Front-desk dashboard counters
// @Tags         Dashboard
// @Produce      json
// @Security     SessionToken
// @Success      200 {object} util.APIResponse{data=dashboardStats} "Dashboard"
// @Router       /dashboard [get]
func Dashboard(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	uid, ok := currentUserOrRespond(c)
	if !ok {
		return
	}

	start, _ := billing.ParseDate(today())
	end := start.Add(24 * time.Hour)
	payable := []model.BillingStatus{model.BillingUnpaid, model.BillingPartial, model.BillingOverdue}

	var s dashboardStats
	counts := []struct {
		dst   *int64
		model interface{}
		where string
		args  []interface{}
	}{
		{&s.ActivePatients, &model.Patient{}, "status = ?", []interface{}{model.PatientActive}},
		{&s.AppointmentsToday, &model.Appointment{}, "start_at >= ? AND start_at < ? AND status <> ?", []interface{}{start, end, model.AppointmentCancelled}},
		{&s.CompletedToday, &model.Appointment{}, "start_at >= ? AND start_at < ? AND status = ?", []interface{}{start, end, model.AppointmentCompleted}},
		{&s.UnpaidInvoices, &model.Billing{}, "status IN ?", []interface{}{payable}},
		{&s.OverdueInvoices, &model.Billing{}, "status = ?", []interface{}{model.BillingOverdue}},
		{&s.PendingLeave, &model.LeaveRequest{}, "status = ?", []interface{}{model.LeavePending}},
		{&s.StaffOnLeaveToday, &model.LeaveRequest{}, "status = ? AND start_date <= ? AND end_date >= ?", []interface{}{model.LeaveApproved, today(), today()}},
		{&s.UnreadNotifications, &model.Notification{}, "user_id = ? AND read_at IS NULL", []interface{}{uid}},
	}
	for _, q := range counts {
		if err := db.Model(q.model).Where(q.where, q.args...).Count(q.dst).Error; err != nil {
			util.CallServerError(c, util.APIErrorParams{Msg: "Failed to load dashboard", Err: err})
			return
		}
	}

	var outstanding struct{ Total float64 }
	if err := db.Model(&model.Billing{}).
		Select("COALESCE(SUM(amount - amount_paid), 0) AS total").
		Where("status IN ?", payable).
		Scan(&outstanding).Error; err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to load dashboard", Err: err})
		return
	}
	s.OutstandingAmount = billing.RoundCents(outstanding.Total)

	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Dashboard", Data: s})
}

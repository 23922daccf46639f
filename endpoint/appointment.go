package endpoint

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ariebrainware/physio-practice/billing"
	"github.com/ariebrainware/physio-practice/middleware"
	"github.com/ariebrainware/physio-practice/model"
	"github.com/ariebrainware/physio-practice/sms"
	"github.com/ariebrainware/physio-practice/util"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const (
	defaultAppointmentMinutes = 60
	maxAppointmentDuration    = 8 * time.Hour
)

// scheduleError is a rule violation reported to the client with the given status.
type scheduleError struct {
	status int
	msg    string
}

func (e *scheduleError) Error() string { return e.msg }

func conflictf(format string, args ...interface{}) error {
	return &scheduleError{status: http.StatusConflict, msg: fmt.Sprintf(format, args...)}
}

func invalidf(format string, args ...interface{}) error {
	return &scheduleError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

type AppointmentRequest struct {
	PatientID       uint                  `json:"patient_id" example:"1"`
	StaffID         uint                  `json:"staff_id" example:"2"`
	StartAt         time.Time             `json:"start_at" example:"2024-05-06T09:00:00+07:00"`
	EndAt           *time.Time            `json:"end_at"`
	DurationMinutes int                   `json:"duration_minutes" example:"60"`
	Type            model.AppointmentType `json:"type" example:"treatment"`
	Notes           string                `json:"notes"`
	// SendConfirmation texts the patient after booking when SMS is configured.
	SendConfirmation bool `json:"send_confirmation"`
}

type AppointmentStatusRequest struct {
	Status       model.AppointmentStatus `json:"status" binding:"required" example:"completed"`
	CancelReason string                  `json:"cancel_reason"`
}

// appointmentWindow resolves the end time from end_at or duration_minutes.
func appointmentWindow(start time.Time, end *time.Time, minutes int) (time.Time, time.Time, error) {
	if start.IsZero() {
		return time.Time{}, time.Time{}, invalidf("start_at is required")
	}
	start = start.UTC().Truncate(time.Second)
	var stop time.Time
	switch {
	case end != nil && !end.IsZero():
		stop = end.UTC().Truncate(time.Second)
	case minutes > 0:
		stop = start.Add(time.Duration(minutes) * time.Minute)
	default:
		stop = start.Add(defaultAppointmentMinutes * time.Minute)
	}
	if !stop.After(start) {
		return time.Time{}, time.Time{}, invalidf("end_at must be after start_at")
	}
	if stop.Sub(start) > maxAppointmentDuration {
		return time.Time{}, time.Time{}, invalidf("appointment may not exceed %s", maxAppointmentDuration)
	}
	return start, stop, nil
}

// checkSchedule enforces the booking rules for appt: an active patient, an
// active staff member who is not on approved leave, and no overlap with other
// scheduled appointments of either party.
func checkSchedule(tx *gorm.DB, appt *model.Appointment) error {
	var patient model.Patient
	if err := tx.First(&patient, appt.PatientID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return invalidf("patient %d not found", appt.PatientID)
		}
		return err
	}
	if patient.Status != model.PatientActive {
		return invalidf("patient %s is %s", patient.PatientCode, patient.Status)
	}

	var staff model.Staff
	if err := tx.First(&staff, appt.StaffID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return invalidf("staff %d not found", appt.StaffID)
		}
		return err
	}
	if staff.Status != model.StaffActive {
		return invalidf("%s is not active", staff.FullName)
	}

	var onLeave int64
	err := tx.Model(&model.LeaveRequest{}).
		Where("staff_id = ? AND status = ? AND start_date <= ? AND end_date >= ?",
			appt.StaffID, model.LeaveApproved, appt.EndAt.Format(billing.DateLayout), appt.StartAt.Format(billing.DateLayout)).
		Count(&onLeave).Error
	if err != nil {
		return err
	}
	if onLeave > 0 {
		return conflictf("%s is on approved leave at that time", staff.FullName)
	}

	overlap := func(column string, id uint) (bool, error) {
		var n int64
		err := tx.Model(&model.Appointment{}).
			Where(column+" = ? AND status = ? AND id <> ? AND start_at < ? AND end_at > ?",
				id, model.AppointmentScheduled, appt.ID, appt.EndAt, appt.StartAt).
			Count(&n).Error
		return n > 0, err
	}
	if busy, err := overlap("staff_id", appt.StaffID); err != nil {
		return err
	} else if busy {
		return conflictf("%s already has an appointment at that time", staff.FullName)
	}
	if busy, err := overlap("patient_id", appt.PatientID); err != nil {
		return err
	} else if busy {
		return conflictf("patient %s already has an appointment at that time", patient.PatientCode)
	}
	return nil
}

func respondScheduleError(c *gin.Context, err error, fallback string) {
	var se *scheduleError
	if errors.As(err, &se) {
		if se.status == http.StatusConflict {
			util.CallConflict(c, util.APIErrorParams{Msg: se.msg, Err: err})
		} else {
			util.CallUserError(c, util.APIErrorParams{Msg: se.msg, Err: err})
		}
		return
	}
	util.CallServerError(c, util.APIErrorParams{Msg: fallback, Err: err})
}

// ListAppointments godoc
// @Summary      List appointments
// @Description  Appointments joined with patient and staff names, ordered by start time
// @Tags         Appointment
// @Produce      json
// @Security     SessionToken
// @Param        date query string false "Single day (YYYY-MM-DD)"
// @Param        from query string false "Range start (YYYY-MM-DD)"
// @Param        to query string false "Range end, inclusive (YYYY-MM-DD)"
// @Param        staff_id query int false "Staff ID"
// @Param        patient_id query int false "Patient ID"
// @Param        status query string false "scheduled|completed|cancelled|no_show"
// @Param        filter_by_staff query bool false "Only the signed-in staff member's appointments"
// @Param        limit query int false "Limit number of results"
// @Param        offset query int false "Offset for pagination"
// @Success      200 {object} util.APIResponse{data=object} "Appointments retrieved"
// @Failure      400 {object} util.APIResponse "Invalid filter"
// @Router       /appointment [get]
func ListAppointments(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	staffID, ok := parseOptionalUint(c, "staff_id")
	if !ok {
		return
	}
	patientID, ok := parseOptionalUint(c, "patient_id")
	if !ok {
		return
	}

	from, to, err := dateRangeQuery(c)
	if err != nil {
		util.CallUserError(c, util.APIErrorParams{Msg: "Invalid date filter", Err: err})
		return
	}

	if c.Query("filter_by_staff") == "true" {
		uid, ok := currentUserOrRespond(c)
		if !ok {
			return
		}
		staff, err := staffForUser(db, uid)
		if err != nil {
			util.CallErrorNotFound(c, util.APIErrorParams{Msg: "No staff record for this account", Err: err})
			return
		}
		staffID = staff.ID
	}
	status := c.Query("status")

	filter := func(q *gorm.DB) *gorm.DB {
		q = q.Where("appointments.deleted_at IS NULL")
		if !from.IsZero() {
			q = q.Where("appointments.start_at >= ?", from)
		}
		if !to.IsZero() {
			q = q.Where("appointments.start_at < ?", to)
		}
		if staffID != 0 {
			q = q.Where("appointments.staff_id = ?", staffID)
		}
		if patientID != 0 {
			q = q.Where("appointments.patient_id = ?", patientID)
		}
		if status != "" {
			q = q.Where("appointments.status = ?", status)
		}
		return q
	}

	var total int64
	if err := filter(db.Table("appointments")).Count(&total).Error; err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to count appointments", Err: err})
		return
	}

	var rows []model.ListAppointmentResponse
	query := filter(db.Table("appointments").
		Select("appointments.*, patients.full_name AS patient_name, patients.patient_code AS patient_code, staff.full_name AS staff_name").
		Joins("LEFT JOIN patients ON patients.id = appointments.patient_id").
		Joins("LEFT JOIN staff ON staff.id = appointments.staff_id"))
	if err := parsePagination(c).apply(query.Order("appointments.start_at ASC")).Scan(&rows).Error; err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to retrieve appointments", Err: err})
		return
	}

	util.CallSuccessOK(c, util.APISuccessParams{
		Msg:  "Appointments retrieved",
		Data: map[string]interface{}{"total": total, "total_fetched": len(rows), "appointments": rows},
	})
}

// dateRangeQuery reads date, or from/to, as a half-open UTC range.
func dateRangeQuery(c *gin.Context) (time.Time, time.Time, error) {
	if d := strings.TrimSpace(c.Query("date")); d != "" {
		day, err := billing.ParseDate(d)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		return day, day.AddDate(0, 0, 1), nil
	}
	var from, to time.Time
	if f := strings.TrimSpace(c.Query("from")); f != "" {
		d, err := billing.ParseDate(f)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = d
	}
	if t := strings.TrimSpace(c.Query("to")); t != "" {
		d, err := billing.ParseDate(t)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = d.AddDate(0, 0, 1)
	}
	if !from.IsZero() && !to.IsZero() && !to.After(from) {
		return time.Time{}, time.Time{}, billing.ErrInvalidRange
	}
	return from, to, nil
}

// CreateAppointment godoc
// @Summary      Book an appointment
// @Tags         Appointment
// @Accept       json
// @Produce      json
// @Security     SessionToken
// @Param        request body AppointmentRequest true "Appointment"
// @Success      201 {object} util.APIResponse{data=object} "Appointment created"
// @Failure      400 {object} util.APIResponse "Invalid request"
// @Failure      409 {object} util.APIResponse "Scheduling conflict"
// @Router       /appointment [post]
func CreateAppointment(c *gin.Context) {
	var req AppointmentRequest
	if !bindJSONOrRespond(c, &req, "Invalid request body") {
		return
	}
	if req.PatientID == 0 || req.StaffID == 0 {
		util.CallUserError(c, util.APIErrorParams{
			Msg: "patient_id and staff_id are required",
			Err: fmt.Errorf("missing patient or staff"),
		})
		return
	}
	if req.Type == "" {
		req.Type = model.AppointmentTreatment
	}
	if !req.Type.Valid() {
		util.CallUserError(c, util.APIErrorParams{Msg: "Invalid appointment type", Err: fmt.Errorf("type %q", req.Type)})
		return
	}
	start, end, err := appointmentWindow(req.StartAt, req.EndAt, req.DurationMinutes)
	if err != nil {
		respondScheduleError(c, err, "Invalid appointment time")
		return
	}

	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}

	appt := model.Appointment{
		PatientID: req.PatientID,
		StaffID:   req.StaffID,
		StartAt:   start,
		EndAt:     end,
		Type:      req.Type,
		Status:    model.AppointmentScheduled,
		Notes:     strings.TrimSpace(req.Notes),
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := checkSchedule(tx, &appt); err != nil {
			return err
		}
		return tx.Create(&appt).Error
	})
	if err != nil {
		respondScheduleError(c, err, "Failed to create appointment")
		return
	}

	middleware.GetServices(c).Progress.Invalidate(progressKey(appt.PatientID))

	var patient model.Patient
	var staff model.Staff
	db.First(&patient, appt.PatientID)
	db.First(&staff, appt.StaffID)

	if uid, _ := middleware.GetUserID(c); staff.UserID != nil && *staff.UserID != uid {
		sendNotification(c, db, model.Notification{
			UserID:   *staff.UserID,
			Title:    "New appointment",
			Message:  fmt.Sprintf("%s (%s) booked for %s", patient.FullName, patient.PatientCode, appt.StartAt.Format("02 Jan 15:04 MST")),
			Category: model.CategoryAppointment,
			Link:     fmt.Sprintf("/appointment/%d", appt.ID),
		})
	}

	resp := gin.H{"appointment": appt}
	if req.SendConfirmation {
		resp["sms"] = sendConfirmation(c, patient, staff, appt)
	}
	util.CallCreated(c, util.APISuccessParams{Msg: "Appointment created", Data: resp})
}

// sendConfirmation texts the patient and reports the outcome; it never fails the booking.
func sendConfirmation(c *gin.Context, patient model.Patient, staff model.Staff, appt model.Appointment) string {
	svc := middleware.GetServices(c)
	if svc.SMS == nil {
		return "not_configured"
	}
	phones := util.SplitPhones(patient.PhoneNumber)
	if len(phones) == 0 {
		return "no_phone"
	}
	body := fmt.Sprintf("Hi %s, your appointment with %s is booked for %s.",
		patient.FullName, staff.FullName, appt.StartAt.Format("Mon 02 Jan 15:04 MST"))
	res, err := svc.SMS.Send(c.Request.Context(), sms.Message{To: phones[0], Body: body})
	if err != nil {
		svc.Metrics.ObserveSMS("failed")
		log.Warn().Err(err).Uint("appointment_id", appt.ID).Msg("appointment confirmation sms failed")
		return "failed"
	}
	svc.Metrics.ObserveSMS("sent")
	if res.Status != "" {
		return res.Status
	}
	return "sent"
}

// UpdateAppointment godoc
// @Summary      Edit or reschedule an appointment
// @Description  Only scheduled appointments can be edited; the booking rules are re-checked
// @Tags         Appointment
// @Accept       json
// @Produce      json
// @Security     SessionToken
// @Param        id path int true "Appointment ID"
// @Param        request body AppointmentRequest true "Fields to change"
// @Success      200 {object} util.APIResponse{data=model.Appointment} "Appointment updated"
// @Failure      400 {object} util.APIResponse "Invalid request"
// @Failure      404 {object} util.APIResponse "Appointment not found"
// @Failure      409 {object} util.APIResponse "Not scheduled or conflicting"
// @Router       /appointment/{id} [patch]
func UpdateAppointment(c *gin.Context) {
	id, ok := parseIDParam(c, "id", "appointment")
	if !ok {
		return
	}
	var req AppointmentRequest
	if !bindJSONOrRespond(c, &req, "Invalid request body") {
		return
	}
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}

	var appt model.Appointment
	if !findOrRespond(c, db, &appt, id, "Appointment") {
		return
	}
	if appt.Status != model.AppointmentScheduled {
		util.CallConflict(c, util.APIErrorParams{
			Msg: fmt.Sprintf("A %s appointment can no longer be edited", appt.Status),
			Err: fmt.Errorf("appointment %d is %s", appt.ID, appt.Status),
		})
		return
	}

	if req.Type != "" {
		if !req.Type.Valid() {
			util.CallUserError(c, util.APIErrorParams{Msg: "Invalid appointment type", Err: fmt.Errorf("type %q", req.Type)})
			return
		}
		appt.Type = req.Type
	}
	if req.Notes != "" {
		appt.Notes = strings.TrimSpace(req.Notes)
	}
	if req.StaffID != 0 {
		appt.StaffID = req.StaffID
	}

	rescheduled := false
	if !req.StartAt.IsZero() || req.EndAt != nil || req.DurationMinutes > 0 {
		start := req.StartAt
		if start.IsZero() {
			start = appt.StartAt
		}
		minutes := req.DurationMinutes
		if req.EndAt == nil && minutes == 0 {
			minutes = int(appt.EndAt.Sub(appt.StartAt).Minutes())
		}
		newStart, newEnd, err := appointmentWindow(start, req.EndAt, minutes)
		if err != nil {
			respondScheduleError(c, err, "Invalid appointment time")
			return
		}
		rescheduled = !newStart.Equal(appt.StartAt)
		appt.StartAt, appt.EndAt = newStart, newEnd
	}
	if rescheduled {
		appt.ReminderSentAt = nil
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := checkSchedule(tx, &appt); err != nil {
			return err
		}
		return tx.Save(&appt).Error
	})
	if err != nil {
		respondScheduleError(c, err, "Failed to update appointment")
		return
	}

	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Appointment updated", Data: appt})
}

// UpdateAppointmentStatus godoc
// @Summary      Change appointment status
// @Description  A scheduled appointment may become completed, cancelled or no_show; other transitions are rejected
// @Tags         Appointment
// @Accept       json
// @Produce      json
// @Security     SessionToken
// @Param        id path int true "Appointment ID"
// @Param        request body AppointmentStatusRequest true "New status"
// @Success      200 {object} util.APIResponse{data=model.Appointment} "Status updated"
// @Failure      404 {object} util.APIResponse "Appointment not found"
// @Failure      409 {object} util.APIResponse "Transition not allowed"
// @Router       /appointment/{id}/status [patch]
func UpdateAppointmentStatus(c *gin.Context) {
	id, ok := parseIDParam(c, "id", "appointment")
	if !ok {
		return
	}
	var req AppointmentStatusRequest
	if !bindJSONOrRespond(c, &req, "Invalid request body") {
		return
	}
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}

	var appt model.Appointment
	if !findOrRespond(c, db, &appt, id, "Appointment") {
		return
	}
	if !appt.Status.CanTransitionTo(req.Status) {
		util.CallConflict(c, util.APIErrorParams{
			Msg: fmt.Sprintf("Cannot change a %s appointment to %s", appt.Status, req.Status),
			Err: fmt.Errorf("invalid status transition"),
		})
		return
	}

	updates := map[string]interface{}{"status": req.Status}
	if req.Status == model.AppointmentCancelled {
		updates["cancel_reason"] = strings.TrimSpace(req.CancelReason)
	}
	// guarded on the old status so a concurrent change is not overwritten
	res := db.Model(&model.Appointment{}).
		Where("id = ? AND status = ?", appt.ID, model.AppointmentScheduled).
		Updates(updates)
	if res.Error != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to update appointment", Err: res.Error})
		return
	}
	if res.RowsAffected == 0 {
		util.CallConflict(c, util.APIErrorParams{
			Msg: "Appointment status changed concurrently",
			Err: fmt.Errorf("appointment %d no longer scheduled", appt.ID),
		})
		return
	}
	db.First(&appt, appt.ID)
	middleware.GetServices(c).Progress.Invalidate(progressKey(appt.PatientID))

	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Appointment status updated", Data: appt})
}

// DeleteAppointment godoc
// @Summary      Delete an appointment
// @Tags         Appointment
// @Produce      json
// @Security     SessionToken
// @Param        id path int true "Appointment ID"
// @Success      200 {object} util.APIResponse "Appointment deleted"
// @Failure      404 {object} util.APIResponse "Appointment not found"
// @Router       /appointment/{id} [delete]
func DeleteAppointment(c *gin.Context) {
	id, ok := parseIDParam(c, "id", "appointment")
	if !ok {
		return
	}
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	var appt model.Appointment
	if !findOrRespond(c, db, &appt, id, "Appointment") {
		return
	}
	if err := db.Delete(&appt).Error; err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to delete appointment", Err: err})
		return
	}
	middleware.GetServices(c).Progress.Invalidate(progressKey(appt.PatientID))
	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Appointment deleted"})
}

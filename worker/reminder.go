// Package worker runs the periodic jobs of the practice: appointment
// reminders and invoice overdue marking.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/ariebrainware/physio-practice/billing"
	"github.com/ariebrainware/physio-practice/metrics"
	"github.com/ariebrainware/physio-practice/model"
	"github.com/ariebrainware/physio-practice/notify"
	"github.com/ariebrainware/physio-practice/sms"
	"github.com/ariebrainware/physio-practice/util"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type ReminderWorker struct {
	DB       *gorm.DB
	SMS      sms.Sender
	Hub      *notify.Hub
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
	Lead     time.Duration
	Interval time.Duration
	Location *time.Location
}

func (w *ReminderWorker) loc() *time.Location {
	if w.Location != nil {
		return w.Location
	}
	return time.Local
}

// Start runs both jobs once, then on every Interval tick. It blocks until ctx
// is cancelled.
func (w *ReminderWorker) Start(ctx context.Context) {
	interval := w.Interval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	w.tick(ctx, time.Now())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.Logger.Info().Msg("reminder worker stopped")
			return
		case now := <-ticker.C:
			w.tick(ctx, now)
		}
	}
}

func (w *ReminderWorker) tick(ctx context.Context, now time.Time) {
	if _, err := w.RunOnce(ctx, now); err != nil {
		w.Logger.Error().Err(err).Msg("appointment reminders failed")
	}
	if _, err := w.MarkOverdue(ctx, now.In(w.loc())); err != nil {
		w.Logger.Error().Err(err).Msg("overdue marking failed")
	}
}

// RunOnce reminds patients of scheduled appointments starting within Lead of
// now. It returns the number of appointments marked as reminded.
func (w *ReminderWorker) RunOnce(ctx context.Context, now time.Time) (int, error) {
	lead := w.Lead
	if lead <= 0 {
		lead = 24 * time.Hour
	}
	db := w.DB.WithContext(ctx)

	var due []model.Appointment
	err := db.Where("status = ? AND reminder_sent_at IS NULL AND start_at > ? AND start_at <= ?",
		model.AppointmentScheduled, now, now.Add(lead)).
		Order("start_at ASC").
		Find(&due).Error
	if err != nil {
		return 0, fmt.Errorf("worker: load due appointments: %w", err)
	}

	sent := 0
	for _, appt := range due {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		if err := w.remind(ctx, appt, now); err != nil {
			w.Logger.Warn().Err(err).Uint("appointment_id", appt.ID).Msg("appointment reminder skipped")
			continue
		}
		sent++
	}
	w.Metrics.AddRemindersSent(sent)
	if sent > 0 {
		w.Logger.Info().Int("count", sent).Msg("appointment reminders sent")
	}
	return sent, nil
}

func (w *ReminderWorker) remind(ctx context.Context, appt model.Appointment, now time.Time) error {
	db := w.DB.WithContext(ctx)

	var patient model.Patient
	if err := db.First(&patient, appt.PatientID).Error; err != nil {
		return fmt.Errorf("load patient %d: %w", appt.PatientID, err)
	}
	var staff model.Staff
	if err := db.First(&staff, appt.StaffID).Error; err != nil {
		return fmt.Errorf("load staff %d: %w", appt.StaffID, err)
	}

	start := appt.StartAt.In(w.loc())
	if phones := util.SplitPhones(patient.PhoneNumber); w.SMS != nil && len(phones) > 0 {
		body := fmt.Sprintf("Hi %s, this is a reminder of your %s with %s on %s. Please contact the clinic to reschedule.",
			patient.FullName, appointmentLabel(appt.Type), staff.FullName, start.Format("Mon 02 Jan 15:04"))
		if _, err := w.SMS.Send(ctx, sms.Message{To: phones[0], Body: body}); err != nil {
			w.Metrics.ObserveSMS("failed")
			return fmt.Errorf("send sms: %w", err)
		}
		w.Metrics.ObserveSMS("sent")
	}

	res := db.Model(&model.Appointment{}).
		Where("id = ? AND reminder_sent_at IS NULL", appt.ID).
		Update("reminder_sent_at", now)
	if res.Error != nil {
		return fmt.Errorf("mark reminder sent: %w", res.Error)
	}

	if staff.UserID != nil {
		n := &model.Notification{
			UserID:   *staff.UserID,
			Title:    "Upcoming appointment",
			Message:  fmt.Sprintf("%s (%s) at %s", patient.FullName, patient.PatientCode, start.Format("02 Jan 15:04")),
			Category: model.CategoryAppointment,
			Link:     fmt.Sprintf("/appointment/%d", appt.ID),
		}
		if err := w.Hub.Deliver(ctx, w.DB, n); err != nil {
			w.Logger.Warn().Err(err).Uint("appointment_id", appt.ID).Msg("staff reminder notification failed")
		}
	}
	return nil
}

func appointmentLabel(t model.AppointmentType) string {
	switch t {
	case model.AppointmentAssessment:
		return "assessment"
	case model.AppointmentFollowUp:
		return "follow-up session"
	case model.AppointmentHomeVisit:
		return "home visit"
	default:
		return "treatment session"
	}
}

// MarkOverdue moves unpaid and partially paid invoices whose due date is
// before today to overdue.
func (w *ReminderWorker) MarkOverdue(ctx context.Context, today time.Time) (int64, error) {
	cutoff := today.Format(billing.DateLayout)
	res := w.DB.WithContext(ctx).Model(&model.Billing{}).
		Where("status IN ? AND due_date <> '' AND due_date < ?",
			[]model.BillingStatus{model.BillingUnpaid, model.BillingPartial}, cutoff).
		Update("status", model.BillingOverdue)
	if res.Error != nil {
		return 0, fmt.Errorf("worker: mark overdue: %w", res.Error)
	}
	w.Metrics.AddOverdue(int(res.RowsAffected))
	if res.RowsAffected > 0 {
		w.Logger.Info().Int64("count", res.RowsAffected).Str("before", cutoff).Msg("invoices marked overdue")
	}
	return res.RowsAffected, nil
}

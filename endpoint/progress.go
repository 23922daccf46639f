package endpoint

import (
	"errors"
	"fmt"

	"github.com/ariebrainware/physio-practice/analytics"
	"github.com/ariebrainware/physio-practice/assistant"
	"github.com/ariebrainware/physio-practice/metrics"
	"github.com/ariebrainware/physio-practice/middleware"
	"github.com/ariebrainware/physio-practice/model"
	"github.com/ariebrainware/physio-practice/util"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func progressKey(patientID uint) string {
	return fmt.Sprintf("progress:%d", patientID)
}

// attendanceFor counts the patient's appointments by outcome.
func attendanceFor(db *gorm.DB, patientID uint) (analytics.Attendance, error) {
	var rows []struct {
		Status model.AppointmentStatus
		Total  int
	}
	err := db.Model(&model.Appointment{}).
		Select("status, COUNT(*) AS total").
		Where("patient_id = ?", patientID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return analytics.Attendance{}, err
	}
	var a analytics.Attendance
	for _, r := range rows {
		switch r.Status {
		case model.AppointmentCompleted:
			a.Completed = r.Total
		case model.AppointmentCancelled:
			a.Cancelled = r.Total
		case model.AppointmentNoShow:
			a.NoShow = r.Total
		case model.AppointmentScheduled:
			a.Upcoming = r.Total
		}
	}
	return a, nil
}

// progressSummary returns the memoized summary for a patient, computing it on a miss.
func progressSummary(c *gin.Context, db *gorm.DB, patientID uint) (analytics.Summary, error) {
	svc := middleware.GetServices(c)
	key := progressKey(patientID)
	if v, ok := svc.Progress.Get(key); ok {
		if s, ok := v.(analytics.Summary); ok {
			return s, nil
		}
	}
	if svc.Reports == nil {
		return analytics.Summary{}, errReportsUnavailable
	}
	versions, err := svc.Reports.List(c.Request.Context(), patientID)
	if err != nil {
		return analytics.Summary{}, err
	}
	attendance, err := attendanceFor(db, patientID)
	if err != nil {
		return analytics.Summary{}, err
	}
	summary := analytics.Summarize(patientID, versions, attendance)
	svc.Progress.Set(key, summary)
	return summary, nil
}

func progressPatientOrRespond(c *gin.Context) (*gorm.DB, model.Patient, bool) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return nil, model.Patient{}, false
	}
	id, ok := parseIDParam(c, "id", "patient")
	if !ok {
		return nil, model.Patient{}, false
	}
	var patient model.Patient
	if !findOrRespond(c, db, &patient, id, "Patient") {
		return nil, model.Patient{}, false
	}
	return db, patient, true
}

// GetProgress godoc
// @Summary      Patient progress summary
// @Description  Pain, range of motion and strength trends across report versions, plus attendance
// @Tags         Analytics
// @Produce      json
// @Security     SessionToken
// @Param        id path int true "Patient ID"
// @Success      200 {object} util.APIResponse{data=analytics.Summary} "Progress summary"
// @Failure      404 {object} util.APIResponse "Patient not found"
// @Failure      503 {object} util.APIResponse "Report store unavailable"
// @Router       /patient/{id}/progress [get]
func GetProgress(c *gin.Context) {
	db, patient, ok := progressPatientOrRespond(c)
	if !ok {
		return
	}
	summary, err := progressSummary(c, db, patient.ID)
	if err != nil {
		respondReportError(c, err, "Failed to build progress summary")
		return
	}
	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Progress summary", Data: summary})
}

// GenerateInsight godoc
// @Summary      Narrate patient progress
// @Description  Sends the progress summary to the assistant for a short clinical note
// @Tags         Analytics
// @Produce      json
// @Security     SessionToken
// @Param        id path int true "Patient ID"
// @Success      200 {object} util.APIResponse{data=object} "Insight generated"
// @Failure      502 {object} util.APIResponse "Assistant provider error"
// @Failure      503 {object} util.APIResponse "Assistant not configured"
// @Router       /patient/{id}/progress/insight [post]
func GenerateInsight(c *gin.Context) {
	db, patient, ok := progressPatientOrRespond(c)
	if !ok {
		return
	}
	summary, err := progressSummary(c, db, patient.ID)
	if err != nil {
		respondReportError(c, err, "Failed to build progress summary")
		return
	}

	svc := middleware.GetServices(c)
	resp, err := svc.Assistant.Insight(c.Request.Context(), summary)
	if err != nil {
		respondAssistantError(c, svc.Metrics, err)
		return
	}
	observeAssistant(svc.Metrics, resp)

	util.CallSuccessOK(c, util.APISuccessParams{
		Msg:  "Insight generated",
		Data: gin.H{"summary": summary, "insight": resp},
	})
}

func observeAssistant(m *metrics.Metrics, resp assistant.ChatResponse) {
	if resp.Fallback {
		m.ObserveAssistant(metrics.OutcomeFallback)
		return
	}
	m.ObserveAssistant(metrics.OutcomeOK)
}

func respondAssistantError(c *gin.Context, m *metrics.Metrics, err error) {
	switch {
	case errors.Is(err, assistant.ErrNotConfigured):
		util.CallServiceUnavailable(c, util.APIErrorParams{Msg: "Assistant is not configured", Err: err})
	case errors.Is(err, assistant.ErrInvalidRequest):
		util.CallUserError(c, util.APIErrorParams{Msg: "Invalid chat request", Err: err})
	default:
		m.ObserveAssistant(metrics.OutcomeError)
		util.CallBadGateway(c, util.APIErrorParams{Msg: "Assistant provider error", Err: err})
	}
}

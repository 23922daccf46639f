package endpoint

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ariebrainware/physio-practice/billing"
	"github.com/ariebrainware/physio-practice/middleware"
	"github.com/ariebrainware/physio-practice/model"
	"github.com/ariebrainware/physio-practice/util"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	errCycleInvoiced   = errors.New("billing cycle already invoiced")
	errCycleIncomplete = errors.New("session cycle is not complete yet")
	errNoSessions      = errors.New("no completed sessions to bill")
	errPeriodRunning   = errors.New("billing period has not ended")
)

// cyclePlan is the computed, not yet stored, billing cycle for a patient.
type cyclePlan struct {
	PatientID       uint                   `json:"patient_id"`
	CycleIndex      int                    `json:"cycle_index"`
	Frequency       model.BillingFrequency `json:"frequency"`
	PeriodStart     string                 `json:"period_start"`
	PeriodEnd       string                 `json:"period_end"`
	SessionCount    int                    `json:"session_count"`
	SessionFee      float64                `json:"session_fee"`
	Amount          float64                `json:"amount"`
	DueDate         string                 `json:"due_date"`
	Complete        bool                   `json:"complete"`
	AlreadyInvoiced bool                   `json:"already_invoiced"`

	appointments []uint
}

// billingAnchor is the patient's anchor date, falling back to the registration day.
func billingAnchor(p model.Patient) (time.Time, error) {
	if strings.TrimSpace(p.BillingAnchorDate) != "" {
		return billing.ParseDate(p.BillingAnchorDate)
	}
	y, m, d := p.CreatedAt.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}

type billedSession struct {
	ID      uint
	StartAt time.Time
}

// planCycle computes the cycle containing date for calendar frequencies, or
// the next chunk of not yet invoiced sessions for session-count plans. Only
// sessions that are unbilled or already on this cycle are counted.
func planCycle(db *gorm.DB, p model.Patient, date time.Time, graceDays int) (cyclePlan, error) {
	plan := cyclePlan{PatientID: p.ID, Frequency: p.BillingFrequency, SessionFee: p.SessionFee}

	var period billing.Period
	if p.BillingFrequency == model.FrequencySessions {
		if p.SessionsPerCycle < 1 {
			return plan, billing.ErrInvalidCycleSize
		}
		index, err := nextSessionCycleIndex(db, p.ID)
		if err != nil {
			return plan, err
		}
		period.Index = index
	} else {
		anchor, err := billingAnchor(p)
		if err != nil {
			return plan, err
		}
		if period, err = billing.PeriodFor(anchor, p.BillingFrequency, date); err != nil {
			return plan, err
		}
	}

	var existing model.BillingCycle
	err := db.Where("patient_id = ? AND cycle_index = ?", p.ID, period.Index).First(&existing).Error
	switch {
	case err == nil:
		plan.AlreadyInvoiced = existing.Status == model.CycleInvoiced
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return plan, err
	}

	query := db.Model(&model.Appointment{}).
		Select("id, start_at").
		Where("patient_id = ? AND status = ?", p.ID, model.AppointmentCompleted).
		Where("(billing_cycle_id IS NULL OR billing_cycle_id = ?)", existing.ID).
		Order("start_at ASC, id ASC")
	if p.BillingFrequency == model.FrequencySessions {
		query = query.Limit(p.SessionsPerCycle)
	} else {
		query = query.Where("start_at >= ? AND start_at < ?", period.Start, period.End.AddDate(0, 0, 1))
	}
	var sessions []billedSession
	if err := query.Scan(&sessions).Error; err != nil {
		return plan, err
	}

	if p.BillingFrequency == model.FrequencySessions {
		if len(sessions) == 0 {
			return plan, errNoSessions
		}
		starts := make([]time.Time, len(sessions))
		for i, s := range sessions {
			starts[i] = s.StartAt
		}
		chunks, err := billing.GroupSessions(starts, p.SessionsPerCycle)
		if err != nil {
			return plan, err
		}
		index := period.Index
		period = chunks[0].Period
		period.Index = index
		plan.Complete = chunks[0].Complete
	} else {
		plan.Complete = period.EndDate() < today()
	}
	plan.SessionCount = len(sessions)
	for _, s := range sessions {
		plan.appointments = append(plan.appointments, s.ID)
	}

	amount, err := billing.Charge(plan.SessionCount, p.SessionFee)
	if err != nil {
		return plan, err
	}
	plan.CycleIndex = period.Index
	plan.PeriodStart = period.StartDate()
	plan.PeriodEnd = period.EndDate()
	plan.Amount = amount
	plan.DueDate = billing.DueDate(period, graceDays).Format(billing.DateLayout)
	return plan, nil
}

// nextSessionCycleIndex reuses the lowest reopened cycle, otherwise it
// continues after the highest index issued so far.
func nextSessionCycleIndex(db *gorm.DB, patientID uint) (int, error) {
	var reopened []int
	err := db.Model(&model.BillingCycle{}).
		Where("patient_id = ? AND status = ?", patientID, model.CycleOpen).
		Order("cycle_index ASC").Limit(1).
		Pluck("cycle_index", &reopened).Error
	if err != nil {
		return 0, err
	}
	if len(reopened) > 0 {
		return reopened[0], nil
	}
	var last struct{ Max *int }
	if err := db.Model(&model.BillingCycle{}).Select("MAX(cycle_index) AS max").
		Where("patient_id = ?", patientID).Scan(&last).Error; err != nil {
		return 0, err
	}
	if last.Max == nil {
		return 0, nil
	}
	return *last.Max + 1, nil
}

// cycleRequestOrRespond reads patient_id and date from the query or JSON body.
func cycleRequestOrRespond(c *gin.Context, db *gorm.DB) (model.Patient, time.Time, bool) {
	var body struct {
		PatientID uint   `json:"patient_id"`
		Date      string `json:"date"`
	}
	if c.Request.Method != "GET" && c.Request.ContentLength != 0 {
		if !bindJSONOrRespond(c, &body, "Invalid request body") {
			return model.Patient{}, time.Time{}, false
		}
	}
	if body.PatientID == 0 {
		id, ok := parseOptionalUint(c, "patient_id")
		if !ok {
			return model.Patient{}, time.Time{}, false
		}
		body.PatientID = id
	}
	if body.Date == "" {
		body.Date = c.Query("date")
	}
	if body.PatientID == 0 {
		util.CallUserError(c, util.APIErrorParams{Msg: "patient_id is required", Err: fmt.Errorf("missing patient_id")})
		return model.Patient{}, time.Time{}, false
	}

	date := time.Now().UTC()
	if body.Date != "" {
		d, err := billing.ParseDate(body.Date)
		if err != nil {
			util.CallUserError(c, util.APIErrorParams{Msg: "Invalid date", Err: err})
			return model.Patient{}, time.Time{}, false
		}
		date = d
	}

	var patient model.Patient
	if !findOrRespond(c, db, &patient, body.PatientID, "Patient") {
		return model.Patient{}, time.Time{}, false
	}
	return patient, date, true
}

func respondCycleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errCycleInvoiced):
		util.CallConflict(c, util.APIErrorParams{Msg: "This billing cycle has already been invoiced", Err: err})
	case errors.Is(err, errCycleIncomplete), errors.Is(err, errNoSessions), errors.Is(err, errPeriodRunning):
		util.CallUserError(c, util.APIErrorParams{Msg: "Nothing to bill yet", Err: err})
	case errors.Is(err, billing.ErrBeforeAnchor), errors.Is(err, billing.ErrInvalidFrequency),
		errors.Is(err, billing.ErrInvalidCycleSize), errors.Is(err, billing.ErrInvalidDate),
		errors.Is(err, billing.ErrNegativeAmount):
		util.CallUserError(c, util.APIErrorParams{Msg: "Invalid billing plan", Err: err})
	default:
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to compute billing cycle", Err: err})
	}
}

// ListBillingCycles godoc
// @Summary      List billing cycles
// @Tags         Billing
// @Produce      json
// @Security     SessionToken
// @Param        patient_id query int false "Patient ID"
// @Success      200 {object} util.APIResponse{data=[]model.BillingCycle} "Billing cycles retrieved"
// @Router       /billing-cycle [get]
func ListBillingCycles(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	patientID, ok := parseOptionalUint(c, "patient_id")
	if !ok {
		return
	}
	query := db.Model(&model.BillingCycle{})
	if patientID != 0 {
		query = query.Where("patient_id = ?", patientID)
	}
	var cycles []model.BillingCycle
	if err := parsePagination(c).apply(query.Order("patient_id ASC, cycle_index DESC")).Find(&cycles).Error; err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to retrieve billing cycles", Err: err})
		return
	}
	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Billing cycles retrieved", Data: cycles})
}

// PreviewBillingCycle godoc
// @Summary      Preview a billing cycle
// @Description  Computes the cycle containing date (or the next session chunk) without storing anything
// @Tags         Billing
// @Produce      json
// @Security     SessionToken
// @Param        patient_id query int true "Patient ID"
// @Param        date query string false "Date inside the cycle (YYYY-MM-DD), defaults to today"
// @Success      200 {object} util.APIResponse{data=cyclePlan} "Billing cycle preview"
// @Failure      400 {object} util.APIResponse "Invalid plan or nothing to bill"
// @Router       /billing-cycle/preview [get]
func PreviewBillingCycle(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	patient, date, ok := cycleRequestOrRespond(c, db)
	if !ok {
		return
	}
	plan, err := planCycle(db, patient, date, middleware.GetServices(c).BillingGraceDays())
	if err != nil {
		respondCycleError(c, err)
		return
	}
	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Billing cycle preview", Data: plan})
}

// GenerateBillingCycle godoc
// @Summary      Invoice a billing cycle
// @Description  Stores the cycle and its invoice in one transaction. A cycle is invoiced at most once
// @Tags         Billing
// @Accept       json
// @Produce      json
// @Security     SessionToken
// @Param        request body object true "patient_id and optional date"
// @Success      201 {object} util.APIResponse{data=object} "Invoice issued"
// @Failure      400 {object} util.APIResponse "Invalid plan or nothing to bill"
// @Failure      409 {object} util.APIResponse "Already invoiced"
// @Router       /billing-cycle/generate [post]
func GenerateBillingCycle(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	patient, date, ok := cycleRequestOrRespond(c, db)
	if !ok {
		return
	}
	grace := middleware.GetServices(c).BillingGraceDays()

	var cycle model.BillingCycle
	var invoice model.Billing
	err := db.Transaction(func(tx *gorm.DB) error {
		plan, err := planCycle(tx, patient, date, grace)
		if err != nil {
			return err
		}
		if plan.AlreadyInvoiced {
			return errCycleInvoiced
		}
		if !plan.Complete {
			if plan.Frequency == model.FrequencySessions {
				return errCycleIncomplete
			}
			return errPeriodRunning
		}
		if plan.SessionCount == 0 {
			return errNoSessions
		}

		err = tx.Where("patient_id = ? AND cycle_index = ?", patient.ID, plan.CycleIndex).First(&cycle).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		cycle.PatientID = patient.ID
		cycle.CycleIndex = plan.CycleIndex
		cycle.Frequency = plan.Frequency
		cycle.PeriodStart = plan.PeriodStart
		cycle.PeriodEnd = plan.PeriodEnd
		cycle.SessionCount = plan.SessionCount
		cycle.SessionFee = plan.SessionFee
		cycle.Amount = plan.Amount
		cycle.Status = model.CycleInvoiced
		if err := tx.Save(&cycle).Error; err != nil {
			return err
		}
		if err := attachSessions(tx, cycle.ID, plan.appointments); err != nil {
			return err
		}

		invoice = model.Billing{
			InvoiceNumber:  newInvoiceNumber(time.Now()),
			PatientID:      patient.ID,
			BillingCycleID: &cycle.ID,
			Amount:         plan.Amount,
			Status:         model.BillingUnpaid,
			DueDate:        plan.DueDate,
			Notes:          fmt.Sprintf("%d %s session(s), %s to %s", plan.SessionCount, plan.Frequency, plan.PeriodStart, plan.PeriodEnd),
		}
		return tx.Create(&invoice).Error
	})
	if err != nil {
		respondCycleError(c, err)
		return
	}

	if admins, err := usersWithRole(db, model.RoleAdmin); err == nil {
		for _, uid := range admins {
			sendNotification(c, db, model.Notification{
				UserID:   uid,
				Title:    "Invoice issued",
				Message:  fmt.Sprintf("%s for %s (%s), due %s", invoice.InvoiceNumber, patient.FullName, patient.PatientCode, invoice.DueDate),
				Category: model.CategoryBilling,
				Link:     fmt.Sprintf("/billing/%d", invoice.ID),
			})
		}
	}

	util.CallCreated(c, util.APISuccessParams{
		Msg:  "Invoice issued",
		Data: gin.H{"billing_cycle": cycle, "billing": invoice},
	})
}

// attachSessions marks the appointments as billed by cycleID. A session
// already claimed by another cycle means a concurrent generate won.
func attachSessions(tx *gorm.DB, cycleID uint, ids []uint) error {
	res := tx.Model(&model.Appointment{}).
		Where("id IN ?", ids).
		Where("(billing_cycle_id IS NULL OR billing_cycle_id = ?)", cycleID).
		Update("billing_cycle_id", cycleID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != int64(len(ids)) {
		return errCycleInvoiced
	}
	return nil
}

// newInvoiceNumber returns INV-YYYYMMDD-XXXXXXXX.
func newInvoiceNumber(now time.Time) string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return fmt.Sprintf("INV-%s-%s", now.UTC().Format("20060102"), id[:8])
}

package endpoint

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ariebrainware/physio-practice/billing"
	"github.com/ariebrainware/physio-practice/middleware"
	"github.com/ariebrainware/physio-practice/model"
	"github.com/ariebrainware/physio-practice/util"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var (
	errDuplicatePatient = errors.New("patient already exists with same name and phone number")
	errPatientCodeTaken = errors.New("patient_code already registered")
)

type patientListQuery struct {
	Page        pagination
	Keyword     string
	GroupByDate string
	SortBy      string
	SortDir     string
	Status      string
}

func parseQueryParams(c *gin.Context) patientListQuery {
	return patientListQuery{
		Page:        parsePagination(c),
		Keyword:     strings.TrimSpace(c.Query("keyword")),
		GroupByDate: c.Query("group_by_date"),
		SortBy:      c.Query("sort"),                      // full_name, patient_code
		SortDir:     strings.ToLower(c.Query("sort_dir")), // asc, desc
		Status:      c.Query("status"),
	}
}

// applyCreatedAtFilter applies a created_at filter for supported ranges.
// Supported values for groupByDate: "last_2_days", "last_3_months", "last_6_months".
func applyCreatedAtFilter(query *gorm.DB, groupByDate string) *gorm.DB {
	switch groupByDate {
	case "last_2_days":
		query = query.Where("patients.created_at >= ?", time.Now().AddDate(0, 0, -2))
	case "last_3_months":
		query = query.Where("patients.created_at >= ?", time.Now().AddDate(0, -3, 0))
	case "last_6_months":
		query = query.Where("patients.created_at >= ?", time.Now().AddDate(0, -6, 0))
	case "":
	default:
		log.Debug().Str("group_by_date", groupByDate).Msg("unknown patient date filter ignored")
	}
	return query
}

// filterPatients applies keyword, status and date filters shared by list and export.
func filterPatients(db *gorm.DB, q patientListQuery) *gorm.DB {
	query := db.Model(&model.Patient{})
	if q.Keyword != "" {
		kw := "%" + q.Keyword + "%"
		query = query.Where("full_name LIKE ? OR patient_code LIKE ? OR address LIKE ? OR phone_number LIKE ?", kw, kw, kw, kw)
	}
	if q.Status != "" {
		query = query.Where("status = ?", q.Status)
	}
	return applyCreatedAtFilter(query, q.GroupByDate)
}

func orderPatients(query *gorm.DB, sortBy, sortDir string) *gorm.DB {
	orderDir := "ASC"
	if sortDir == "desc" {
		orderDir = "DESC"
	}
	switch sortBy {
	case "full_name":
		return query.Order(fmt.Sprintf("patients.full_name %s", orderDir))
	case "patient_code":
		return query.Order(fmt.Sprintf("patients.patient_code %s", orderDir))
	default:
		return query.Order("patients.created_at DESC")
	}
}

func fetchPatients(db *gorm.DB, q patientListQuery) ([]model.Patient, int64, error) {
	var total int64
	if err := filterPatients(db, q).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var patients []model.Patient
	query := q.Page.apply(orderPatients(filterPatients(db, q), q.SortBy, q.SortDir))
	if err := query.Find(&patients).Error; err != nil {
		return nil, 0, err
	}
	return patients, total, nil
}

// ListPatients godoc
// @Summary      List all patients
// @Description  Get a paginated list of patients with optional filtering
// @Tags         Patient
// @Accept       json
// @Produce      json
// @Security     SessionToken
// @Param        limit query int false "Limit number of results"
// @Param        offset query int false "Offset for pagination"
// @Param        keyword query string false "Search keyword for patient name, code, address, or phone"
// @Param        group_by_date query string false "Filter by date range (last_2_days, last_3_months, last_6_months)"
// @Param        sort query string false "Optional sort field: full_name|patient_code"
// @Param        sort_dir query string false "Optional sort direction: asc|desc"
// @Param        status query string false "active|discharged"
// @Success      200 {object} util.APIResponse{data=object} "Patients retrieved"
// @Failure      401 {object} util.APIResponse "Unauthorized"
// @Failure      500 {object} util.APIResponse "Server error"
// @Router       /patient [get]
func ListPatients(c *gin.Context) {
	query := parseQueryParams(c)

	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}

	patients, totalPatient, err := fetchPatients(db, query)
	if err != nil {
		util.CallServerError(c, util.APIErrorParams{
			Msg: "Failed to retrieve patients",
			Err: err,
		})
		return
	}

	util.CallSuccessOK(c, util.APISuccessParams{
		Msg:  "Patients retrieved",
		Data: map[string]interface{}{"total": totalPatient, "total_fetched": len(patients), "patients": patients},
	})
}

type createPatientRequest struct {
	FullName          string                 `json:"full_name" example:"John Doe"`
	Gender            string                 `json:"gender" example:"Male"`
	DateOfBirth       string                 `json:"date_of_birth" example:"1990-04-12"`
	Age               int                    `json:"age" example:"30"`
	Job               string                 `json:"job" example:"Engineer"`
	Address           string                 `json:"address" example:"123 Main St"`
	PhoneNumber       []string               `json:"phone_number" example:"081234567890,081234567891"`
	Email             string                 `json:"email,omitempty" example:"john@example.com"`
	HealthHistory     []string               `json:"health_history" example:"Diabetes,Hypertension"`
	SurgeryHistory    string                 `json:"surgery_history" example:"Appendectomy 2020"`
	Diagnosis         string                 `json:"diagnosis" example:"Lumbar strain"`
	ReferredBy        string                 `json:"referred_by" example:"Dr. Rina"`
	PatientCode       string                 `json:"patient_code" example:"J001"`
	AssignedStaffID   *uint                  `json:"assigned_staff_id" example:"2"`
	SessionFee        float64                `json:"session_fee" example:"250000"`
	BillingFrequency  model.BillingFrequency `json:"billing_frequency" example:"monthly"`
	BillingAnchorDate string                 `json:"billing_anchor_date" example:"2024-03-01"`
	SessionsPerCycle  int                    `json:"sessions_per_cycle" example:"8"`
}

// normalizePhoneNumbers de-duplicates and converts every number to E.164.
func normalizePhoneNumbers(numbers []string, region string) ([]string, error) {
	cleaned := util.NormalizePhoneList(numbers)
	out := make([]string, 0, len(cleaned))
	seen := make(map[string]struct{}, len(cleaned))
	for _, n := range cleaned {
		e164, err := util.NormalizePhone(n, region)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", err, n)
		}
		if _, dup := seen[e164]; dup {
			continue
		}
		seen[e164] = struct{}{}
		out = append(out, e164)
	}
	return out, nil
}

func hasDuplicatePatientByNameAndPhone(db *gorm.DB, fullName string, phoneNumbers []string, exceptID uint) (bool, error) {
	if len(phoneNumbers) == 0 {
		return false, nil
	}
	phoneSet := make(map[string]struct{}, len(phoneNumbers))
	for _, p := range phoneNumbers {
		phoneSet[p] = struct{}{}
	}

	var matches []model.Patient
	if err := db.Where("full_name = ? AND id <> ?", fullName, exceptID).Find(&matches).Error; err != nil {
		return false, err
	}

	for _, m := range matches {
		for _, sp := range util.SplitPhones(m.PhoneNumber) {
			if _, ok := phoneSet[sp]; ok {
				return true, nil
			}
		}
	}

	return false, nil
}

// getInitials returns the upper-cased first letter of the name, or "X" when
// the name does not start with a latin letter.
func getInitials(fullName string) string {
	trimmed := strings.TrimSpace(fullName)
	if trimmed == "" {
		return "X"
	}
	first := strings.ToUpper(trimmed[:1])
	if first[0] < 'A' || first[0] > 'Z' {
		return "X"
	}
	return first
}

func buildPatientCode(tx *gorm.DB, fullName, requestedCode string) (string, error) {
	if code := strings.ToUpper(strings.TrimSpace(requestedCode)); code != "" {
		return code, nil
	}
	return model.NextPatientCode(tx, getInitials(fullName))
}

func ensurePatientCodeAvailable(tx *gorm.DB, patientCode string) error {
	var existing model.Patient
	err := tx.Unscoped().Where("patient_code = ?", patientCode).First(&existing).Error
	if err == nil {
		return errPatientCodeTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return nil
}

// validateBillingPlan checks the billing fields of a patient.
func validateBillingPlan(p *model.Patient) error {
	if p.SessionFee < 0 {
		return fmt.Errorf("session_fee must not be negative")
	}
	freq, err := billing.ParseFrequency(string(p.BillingFrequency))
	if err != nil {
		return err
	}
	p.BillingFrequency = freq
	if p.BillingAnchorDate != "" {
		if _, err := billing.ParseDate(p.BillingAnchorDate); err != nil {
			return err
		}
	}
	if freq == model.FrequencySessions && p.SessionsPerCycle < 1 {
		return billing.ErrInvalidCycleSize
	}
	if p.DateOfBirth != "" {
		if _, err := billing.ParseDate(p.DateOfBirth); err != nil {
			return err
		}
	}
	if p.Status != model.PatientActive && p.Status != model.PatientDischarged {
		return fmt.Errorf("invalid status %q", p.Status)
	}
	return nil
}

func ensureStaffExists(db *gorm.DB, id *uint) error {
	if id == nil || *id == 0 {
		return nil
	}
	var count int64
	if err := db.Model(&model.Staff{}).Where("id = ?", *id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("staff %d not found", *id)
	}
	return nil
}

func buildPatientModel(req createPatientRequest, phoneNumbers []string) model.Patient {
	p := model.Patient{
		FullName:          req.FullName,
		Gender:            req.Gender,
		DateOfBirth:       req.DateOfBirth,
		Age:               req.Age,
		Job:               req.Job,
		Address:           req.Address,
		PhoneNumber:       strings.Join(phoneNumbers, ","),
		Email:             strings.TrimSpace(req.Email),
		HealthHistory:     joinNonEmpty(req.HealthHistory),
		SurgeryHistory:    req.SurgeryHistory,
		Diagnosis:         req.Diagnosis,
		ReferredBy:        req.ReferredBy,
		AssignedStaffID:   req.AssignedStaffID,
		Status:            model.PatientActive,
		SessionFee:        req.SessionFee,
		BillingFrequency:  req.BillingFrequency,
		BillingAnchorDate: req.BillingAnchorDate,
		SessionsPerCycle:  req.SessionsPerCycle,
	}
	if p.BillingFrequency == "" {
		p.BillingFrequency = model.FrequencyMonthly
	}
	if p.BillingAnchorDate == "" {
		p.BillingAnchorDate = today()
	}
	return p
}

// CreatePatient godoc
// @Summary      Create a new patient
// @Description  Register a new patient; the patient code is generated from the name's initial unless provided
// @Tags         Patient
// @Accept       json
// @Produce      json
// @Security     SessionToken
// @Param        request body createPatientRequest true "Patient information"
// @Success      201 {object} util.APIResponse{data=model.Patient} "Patient created"
// @Failure      400 {object} util.APIResponse "Invalid request"
// @Failure      409 {object} util.APIResponse "Patient already exists"
// @Failure      500 {object} util.APIResponse "Server error"
// @Router       /patient [post]
func CreatePatient(c *gin.Context) {
	patientRequest := createPatientRequest{}
	if !bindJSONOrRespond(c, &patientRequest, "Invalid request body") {
		return
	}

	// Normalize full_name to prevent duplicate detection bypass via whitespace variations
	patientRequest.FullName = util.NormalizeName(patientRequest.FullName)
	if patientRequest.FullName == "" || len(util.NormalizePhoneList(patientRequest.PhoneNumber)) == 0 {
		util.CallUserError(c, util.APIErrorParams{
			Msg: "Patient payload is empty or missing required fields",
			Err: fmt.Errorf("invalid payload"),
		})
		return
	}

	normalizedPhones, err := normalizePhoneNumbers(patientRequest.PhoneNumber, middleware.GetServices(c).PhoneRegion())
	if err != nil {
		util.CallUserError(c, util.APIErrorParams{
			Msg: "Invalid phone number",
			Err: err,
		})
		return
	}

	patient := buildPatientModel(patientRequest, normalizedPhones)
	if err := validateBillingPlan(&patient); err != nil {
		util.CallUserError(c, util.APIErrorParams{
			Msg: "Invalid patient data",
			Err: err,
		})
		return
	}

	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}

	if err := ensureStaffExists(db, patient.AssignedStaffID); err != nil {
		util.CallUserError(c, util.APIErrorParams{
			Msg: "Assigned staff not found",
			Err: err,
		})
		return
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		duplicate, err := hasDuplicatePatientByNameAndPhone(tx, patient.FullName, normalizedPhones, 0)
		if err != nil {
			return err
		}
		if duplicate {
			return errDuplicatePatient
		}

		patientCode, err := buildPatientCode(tx, patient.FullName, patientRequest.PatientCode)
		if err != nil {
			return err
		}
		if err := ensurePatientCodeAvailable(tx, patientCode); err != nil {
			return err
		}
		patient.PatientCode = patientCode

		return tx.Create(&patient).Error
	})
	switch {
	case errors.Is(err, errDuplicatePatient), errors.Is(err, errPatientCodeTaken):
		util.CallConflict(c, util.APIErrorParams{
			Msg: "Patient already exists",
			Err: err,
		})
		return
	case err != nil:
		util.CallServerError(c, util.APIErrorParams{
			Msg: "Failed to create patient",
			Err: err,
		})
		return
	}

	util.CallCreated(c, util.APISuccessParams{
		Msg:  "Patient created",
		Data: patient,
	})
}

// UpdatePatient godoc
// @Summary      Update patient information
// @Description  Update an existing patient's information
// @Tags         Patient
// @Accept       json
// @Produce      json
// @Security     SessionToken
// @Param        id path string true "Patient ID"
// @Param        request body model.UpdatePatientRequest true "Updated patient information"
// @Success      200 {object} util.APIResponse{data=model.Patient} "Patient updated"
// @Failure      400 {object} util.APIResponse "Invalid request"
// @Failure      404 {object} util.APIResponse "Patient not found"
// @Failure      409 {object} util.APIResponse "Duplicate patient"
// @Failure      500 {object} util.APIResponse "Server error"
// @Router       /patient/{id} [patch]
func UpdatePatient(c *gin.Context) {
	id, ok := parseIDParam(c, "id", "patient")
	if !ok {
		return
	}

	req := model.UpdatePatientRequest{}
	if !bindJSONOrRespond(c, &req, "Invalid request body") {
		return
	}

	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}

	var existingPatient model.Patient
	if !findOrRespond(c, db, &existingPatient, id, "Patient") {
		return
	}

	if err := mergePatientUpdate(c, &existingPatient, req); err != nil {
		util.CallUserError(c, util.APIErrorParams{
			Msg: "Invalid patient data",
			Err: err,
		})
		return
	}
	if err := ensureStaffExists(db, existingPatient.AssignedStaffID); err != nil {
		util.CallUserError(c, util.APIErrorParams{
			Msg: "Assigned staff not found",
			Err: err,
		})
		return
	}

	duplicate, err := hasDuplicatePatientByNameAndPhone(db, existingPatient.FullName, util.SplitPhones(existingPatient.PhoneNumber), existingPatient.ID)
	if err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to check existing patient", Err: err})
		return
	}
	if duplicate {
		util.CallConflict(c, util.APIErrorParams{Msg: "Patient already exists", Err: errDuplicatePatient})
		return
	}

	if err := db.Save(&existingPatient).Error; err != nil {
		util.CallServerError(c, util.APIErrorParams{
			Msg: "Failed to update patient",
			Err: err,
		})
		return
	}
	middleware.GetServices(c).Progress.Invalidate(progressKey(existingPatient.ID))

	util.CallSuccessOK(c, util.APISuccessParams{
		Msg:  "Patient updated",
		Data: existingPatient,
	})
}

// mergePatientUpdate copies the non-zero fields of req into p and validates the result.
func mergePatientUpdate(c *gin.Context, p *model.Patient, req model.UpdatePatientRequest) error {
	if len(req.PhoneNumbers) > 0 {
		phones, err := normalizePhoneNumbers(req.PhoneNumbers, middleware.GetServices(c).PhoneRegion())
		if err != nil {
			return err
		}
		if len(phones) > 0 {
			p.PhoneNumber = strings.Join(phones, ",")
		}
	}
	if name := util.NormalizeName(req.FullName); name != "" {
		p.FullName = name
	}
	setIfNotEmpty(&p.Gender, req.Gender)
	setIfNotEmpty(&p.DateOfBirth, req.DateOfBirth)
	setIfNotEmpty(&p.Job, req.Job)
	setIfNotEmpty(&p.Address, req.Address)
	setIfNotEmpty(&p.Email, req.Email)
	setIfNotEmpty(&p.HealthHistory, req.HealthHistory)
	setIfNotEmpty(&p.SurgeryHistory, req.SurgeryHistory)
	setIfNotEmpty(&p.Diagnosis, req.Diagnosis)
	setIfNotEmpty(&p.ReferredBy, req.ReferredBy)
	setIfNotEmpty(&p.BillingAnchorDate, req.BillingAnchorDate)
	if req.Age != 0 {
		p.Age = req.Age
	}
	if req.AssignedStaffID != nil {
		p.AssignedStaffID = req.AssignedStaffID
	}
	if req.Status != "" {
		p.Status = req.Status
	}
	if req.SessionFee != nil {
		p.SessionFee = *req.SessionFee
	}
	if req.BillingFrequency != "" {
		p.BillingFrequency = req.BillingFrequency
	}
	if req.SessionsPerCycle != nil {
		p.SessionsPerCycle = *req.SessionsPerCycle
	}
	return validateBillingPlan(p)
}

func joinNonEmpty(items []string) string {
	kept := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			kept = append(kept, it)
		}
	}
	return strings.Join(kept, ",")
}

func setIfNotEmpty(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

// DeletePatient godoc
// @Summary      Delete a patient
// @Description  Soft delete a patient by ID
// @Tags         Patient
// @Produce      json
// @Security     SessionToken
// @Param        id path string true "Patient ID"
// @Success      200 {object} util.APIResponse "Patient deleted"
// @Failure      404 {object} util.APIResponse "Patient not found"
// @Failure      500 {object} util.APIResponse "Server error"
// @Router       /patient/{id} [delete]
func DeletePatient(c *gin.Context) {
	id, ok := parseIDParam(c, "id", "patient")
	if !ok {
		return
	}
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}

	var patient model.Patient
	if !findOrRespond(c, db, &patient, id, "Patient") {
		return
	}

	if err := db.Delete(&patient).Error; err != nil {
		util.CallServerError(c, util.APIErrorParams{
			Msg: "Failed to delete patient",
			Err: err,
		})
		return
	}

	util.CallSuccessOK(c, util.APISuccessParams{
		Msg: "Patient deleted",
	})
}

// GetPatientInfo godoc
// @Summary      Get patient information
// @Description  Get detailed information about a specific patient
// @Tags         Patient
// @Produce      json
// @Security     SessionToken
// @Param        id path string true "Patient ID"
// @Success      200 {object} util.APIResponse{data=model.Patient} "Patient retrieved"
// @Failure      404 {object} util.APIResponse "Patient not found"
// @Failure      500 {object} util.APIResponse "Server error"
// @Router       /patient/{id} [get]
func GetPatientInfo(c *gin.Context) {
	id, ok := parseIDParam(c, "id", "patient")
	if !ok {
		return
	}
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}

	var patient model.Patient
	if !findOrRespond(c, db, &patient, id, "Patient") {
		return
	}

	util.CallSuccessOK(c, util.APISuccessParams{
		Msg:  "Patient retrieved",
		Data: patient,
	})
}

var patientCSVHeader = []string{
	"patient_code", "full_name", "gender", "date_of_birth", "age", "phone_number", "email",
	"address", "diagnosis", "status", "billing_frequency", "session_fee", "created_at",
}

// ExportPatients godoc
// @Summary      Export patients as CSV
// @Description  Download the filtered patient list; cells that could run as spreadsheet formulas are neutralized
// @Tags         Patient
// @Produce      text/csv
// @Security     SessionToken
// @Param        keyword query string false "Search keyword"
// @Param        status query string false "active|discharged"
// @Success      200 {string} string "CSV file"
// @Failure      500 {object} util.APIResponse "Server error"
// @Router       /patient/export [get]
func ExportPatients(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	q := parseQueryParams(c)

	var patients []model.Patient
	if err := orderPatients(filterPatients(db, q), "patient_code", "asc").Find(&patients).Error; err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to retrieve patients", Err: err})
		return
	}

	rows := make([][]string, 0, len(patients))
	for _, p := range patients {
		rows = append(rows, []string{
			p.PatientCode,
			p.FullName,
			p.Gender,
			p.DateOfBirth,
			strconv.Itoa(p.Age),
			p.PhoneNumber,
			p.Email,
			p.Address,
			p.Diagnosis,
			string(p.Status),
			string(p.BillingFrequency),
			strconv.FormatFloat(p.SessionFee, 'f', 2, 64),
			p.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeCSVResponse(c, fmt.Sprintf("patients-%s.csv", today()), patientCSVHeader, rows)
}

func writeCSVResponse(c *gin.Context, filename string, header []string, rows [][]string) {
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Status(http.StatusOK)
	if err := util.WriteCSV(c.Writer, header, rows); err != nil {
		log.Error().Err(err).Str("file", filename).Msg("csv export interrupted")
	}
}

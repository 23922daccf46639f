package endpoint

import (
	"errors"
	"strconv"
	"time"

	"github.com/ariebrainware/physio-practice/middleware"
	"github.com/ariebrainware/physio-practice/model"
	"github.com/ariebrainware/physio-practice/report"
	"github.com/ariebrainware/physio-practice/util"
	"github.com/gin-gonic/gin"
)

var errReportsUnavailable = errors.New("report store not configured")

// ReportRequest is the body of a new report version.
type ReportRequest struct {
	AssessedAt      *time.Time             `json:"assessed_at"`
	ChiefComplaint  string                 `json:"chief_complaint"`
	Diagnosis       string                 `json:"diagnosis"`
	VAS             *float64               `json:"vas"`
	ROM             map[string]float64     `json:"rom"`
	MMT             map[string]float64     `json:"mmt"`
	FunctionalNotes string                 `json:"functional_notes"`
	Goals           string                 `json:"goals"`
	TreatmentPlan   string                 `json:"treatment_plan"`
	Extra           map[string]interface{} `json:"extra"`
}

func respondReportError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, errReportsUnavailable):
		util.CallServiceUnavailable(c, util.APIErrorParams{Msg: "Report store is not available", Err: err})
	case errors.Is(err, report.ErrNotFound):
		util.CallErrorNotFound(c, util.APIErrorParams{Msg: "Report not found", Err: err})
	case errors.Is(err, report.ErrInvalid):
		util.CallUserError(c, util.APIErrorParams{Msg: err.Error(), Err: err})
	default:
		util.CallServerError(c, util.APIErrorParams{Msg: msg, Err: err})
	}
}

func reportStoreOrRespond(c *gin.Context) (report.Store, bool) {
	store := middleware.GetServices(c).Reports
	if store == nil {
		respondReportError(c, errReportsUnavailable, "")
		return nil, false
	}
	return store, true
}

// ListReports godoc
// @Summary      List report versions
// @Tags         Reports
// @Produce      json
// @Security     SessionToken
// @Param        id path int true "Patient ID"
// @Success      200 {object} util.APIResponse{data=[]report.Version} "Report versions retrieved"
// @Failure      404 {object} util.APIResponse "Patient not found"
// @Router       /patient/{id}/report [get]
func ListReports(c *gin.Context) {
	_, patient, ok := progressPatientOrRespond(c)
	if !ok {
		return
	}
	store, ok := reportStoreOrRespond(c)
	if !ok {
		return
	}
	versions, err := store.List(c.Request.Context(), patient.ID)
	if err != nil {
		respondReportError(c, err, "Failed to retrieve reports")
		return
	}
	if versions == nil {
		versions = []report.Version{}
	}
	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Report versions retrieved", Data: versions})
}

// GetReport godoc
// @Summary      Get one report version
// @Tags         Reports
// @Produce      json
// @Security     SessionToken
// @Param        id path int true "Patient ID"
// @Param        version path string true "Version number or latest"
// @Success      200 {object} util.APIResponse{data=report.Version} "Report retrieved"
// @Failure      404 {object} util.APIResponse "Report not found"
// @Router       /patient/{id}/report/{version} [get]
func GetReport(c *gin.Context) {
	_, patient, ok := progressPatientOrRespond(c)
	if !ok {
		return
	}
	store, ok := reportStoreOrRespond(c)
	if !ok {
		return
	}

	var (
		v   report.Version
		err error
	)
	if raw := c.Param("version"); raw == "latest" {
		v, err = store.Latest(c.Request.Context(), patient.ID)
	} else {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n < 1 {
			util.CallUserError(c, util.APIErrorParams{Msg: "Invalid report version", Err: convErr})
			return
		}
		v, err = store.Get(c.Request.Context(), patient.ID, n)
	}
	if err != nil {
		respondReportError(c, err, "Failed to retrieve report")
		return
	}
	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Report retrieved", Data: v})
}

// CreateReport godoc
// @Summary      Save a new report version
// @Description  Every save creates a new version; earlier versions are kept unchanged
// @Tags         Reports
// @Accept       json
// @Produce      json
// @Security     SessionToken
// @Param        id path int true "Patient ID"
// @Param        request body ReportRequest true "Assessment"
// @Success      201 {object} util.APIResponse{data=report.Version} "Report version saved"
// @Failure      400 {object} util.APIResponse "Measurement out of range"
// @Router       /patient/{id}/report [post]
func CreateReport(c *gin.Context) {
	db, patient, ok := progressPatientOrRespond(c)
	if !ok {
		return
	}
	store, ok := reportStoreOrRespond(c)
	if !ok {
		return
	}
	uid, ok := currentUserOrRespond(c)
	if !ok {
		return
	}
	var req ReportRequest
	if !bindJSONOrRespond(c, &req, "Invalid report") {
		return
	}

	v := report.Version{
		PatientID:       patient.ID,
		AuthorID:        uid,
		ChiefComplaint:  req.ChiefComplaint,
		Diagnosis:       req.Diagnosis,
		VAS:             req.VAS,
		ROM:             req.ROM,
		MMT:             req.MMT,
		FunctionalNotes: req.FunctionalNotes,
		Goals:           req.Goals,
		TreatmentPlan:   req.TreatmentPlan,
		Extra:           req.Extra,
	}
	if req.AssessedAt != nil {
		v.AssessedAt = req.AssessedAt.UTC()
	}
	if staff, err := staffForUser(db, uid); err == nil {
		v.AuthorName = staff.FullName
	} else {
		var user model.User
		if db.Select("name").First(&user, uid).Error == nil {
			v.AuthorName = user.Name
		}
	}

	if err := report.Validate(&v, time.Now().UTC()); err != nil {
		respondReportError(c, err, "")
		return
	}
	if err := store.Create(c.Request.Context(), &v); err != nil {
		respondReportError(c, err, "Failed to save report")
		return
	}
	middleware.GetServices(c).Progress.Invalidate(progressKey(patient.ID))

	util.CallCreated(c, util.APISuccessParams{Msg: "Report version saved", Data: v})
}

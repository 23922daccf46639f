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
	"gorm.io/gorm"
)

const maxLeaveDays = 90

var errLeaveOverlap = errors.New("leave overlaps an existing request")

type LeaveCreateRequest struct {
	StaffID   uint            `json:"staff_id"`
	LeaveType model.LeaveType `json:"leave_type" binding:"required"`
	StartDate string          `json:"start_date" binding:"required"`
	EndDate   string          `json:"end_date" binding:"required"`
	Reason    string          `json:"reason"`
}

type LeaveReviewRequest struct {
	Status model.LeaveStatus `json:"status" binding:"required"`
	Note   string            `json:"note"`
}

// leaveDays validates the range and counts calendar days, both ends included.
func leaveDays(start, end string) (int, error) {
	s, err := billing.ParseDate(start)
	if err != nil {
		return 0, fmt.Errorf("invalid start_date: %w", err)
	}
	e, err := billing.ParseDate(end)
	if err != nil {
		return 0, fmt.Errorf("invalid end_date: %w", err)
	}
	if e.Before(s) {
		return 0, fmt.Errorf("end_date is before start_date")
	}
	days := int(e.Sub(s).Hours()/24) + 1
	if days > maxLeaveDays {
		return 0, fmt.Errorf("leave cannot exceed %d days", maxLeaveDays)
	}
	return days, nil
}

// ListLeave godoc
// @Summary      List leave requests
// @Description  Admins see every request; other staff see their own
// @Tags         Leave
// @Produce      json
// @Security     SessionToken
// @Param        staff_id query int false "Staff ID (admin only)"
// @Param        status query string false "pending|approved|rejected|cancelled"
// @Success      200 {object} util.APIResponse{data=[]model.LeaveRequest} "Leave requests retrieved"
// @Router       /leave [get]
func ListLeave(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	staffID, ok := parseOptionalUint(c, "staff_id")
	if !ok {
		return
	}
	if !middleware.IsAdmin(c) {
		uid, ok := currentUserOrRespond(c)
		if !ok {
			return
		}
		staff, err := staffForUser(db, uid)
		if err != nil {
			util.CallSuccessOK(c, util.APISuccessParams{Msg: "Leave requests retrieved", Data: []model.LeaveRequest{}})
			return
		}
		staffID = staff.ID
	}

	query := db.Model(&model.LeaveRequest{})
	if staffID != 0 {
		query = query.Where("staff_id = ?", staffID)
	}
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		query = query.Where("status = ?", status)
	}
	var leaves []model.LeaveRequest
	if err := parsePagination(c).apply(query.Order("start_date DESC")).Find(&leaves).Error; err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to retrieve leave requests", Err: err})
		return
	}
	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Leave requests retrieved", Data: leaves})
}

// CreateLeave godoc
// @Summary      Request leave
// @Description  Dates are inclusive. Requests overlapping a pending or approved request are rejected
// @Tags         Leave
// @Accept       json
// @Produce      json
// @Security     SessionToken
// @Param        request body LeaveCreateRequest true "Leave request"
// @Success      201 {object} util.APIResponse{data=model.LeaveRequest} "Leave requested"
// @Failure      400 {object} util.APIResponse "Invalid dates"
// @Failure      409 {object} util.APIResponse "Overlapping request"
// @Router       /leave [post]
func CreateLeave(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	uid, ok := currentUserOrRespond(c)
	if !ok {
		return
	}
	var req LeaveCreateRequest
	if !bindJSONOrRespond(c, &req, "Invalid leave request") {
		return
	}
	if !req.LeaveType.Valid() {
		util.CallUserError(c, util.APIErrorParams{Msg: "Invalid leave type", Err: fmt.Errorf("leave type %q", req.LeaveType)})
		return
	}
	days, err := leaveDays(req.StartDate, req.EndDate)
	if err != nil {
		util.CallUserError(c, util.APIErrorParams{Msg: err.Error(), Err: err})
		return
	}
	if req.LeaveType != model.LeaveSick && req.StartDate < today() {
		util.CallUserError(c, util.APIErrorParams{Msg: "Leave cannot start in the past", Err: fmt.Errorf("start_date %s", req.StartDate)})
		return
	}

	var staff model.Staff
	if req.StaffID != 0 && middleware.IsAdmin(c) {
		if !findOrRespond(c, db, &staff, req.StaffID, "Staff") {
			return
		}
	} else {
		staff, err = staffForUser(db, uid)
		if err != nil {
			util.CallErrorNotFound(c, util.APIErrorParams{Msg: "No staff record for this account", Err: err})
			return
		}
	}

	leave := model.LeaveRequest{
		StaffID:   staff.ID,
		LeaveType: req.LeaveType,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		Days:      days,
		Reason:    strings.TrimSpace(req.Reason),
		Status:    model.LeavePending,
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		var overlapping int64
		if err := tx.Model(&model.LeaveRequest{}).
			Where("staff_id = ? AND status IN ? AND start_date <= ? AND end_date >= ?",
				staff.ID, []model.LeaveStatus{model.LeavePending, model.LeaveApproved}, leave.EndDate, leave.StartDate).
			Count(&overlapping).Error; err != nil {
			return err
		}
		if overlapping > 0 {
			return errLeaveOverlap
		}
		return tx.Create(&leave).Error
	})
	if errors.Is(err, errLeaveOverlap) {
		util.CallConflict(c, util.APIErrorParams{Msg: "Leave overlaps an existing request", Err: err})
		return
	}
	if err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to create leave request", Err: err})
		return
	}

	if admins, err := usersWithRole(db, model.RoleAdmin); err == nil {
		for _, adminID := range admins {
			if adminID == uid {
				continue
			}
			sendNotification(c, db, model.Notification{
				UserID:   adminID,
				Title:    "Leave request",
				Message:  fmt.Sprintf("%s requested %d day(s) of %s leave from %s", staff.FullName, days, leave.LeaveType, leave.StartDate),
				Category: model.CategoryLeave,
				Link:     fmt.Sprintf("/leave/%d", leave.ID),
			})
		}
	}

	util.CallCreated(c, util.APISuccessParams{Msg: "Leave requested", Data: leave})
}

// ReviewLeave godoc
// @Summary      Approve or reject a leave request
// @Tags         Leave
// @Accept       json
// @Produce      json
// @Security     SessionToken
// @Param        id path int true "Leave request ID"
// @Param        request body LeaveReviewRequest true "Decision"
// @Success      200 {object} util.APIResponse{data=model.LeaveRequest} "Leave reviewed"
// @Failure      409 {object} util.APIResponse "Request is no longer pending"
// @Router       /leave/{id}/review [patch]
func ReviewLeave(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	uid, ok := currentUserOrRespond(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id", "leave request")
	if !ok {
		return
	}
	var req LeaveReviewRequest
	if !bindJSONOrRespond(c, &req, "Invalid review") {
		return
	}
	if req.Status != model.LeaveApproved && req.Status != model.LeaveRejected {
		util.CallUserError(c, util.APIErrorParams{Msg: "Status must be approved or rejected", Err: fmt.Errorf("status %q", req.Status)})
		return
	}

	var leave model.LeaveRequest
	if !findOrRespond(c, db, &leave, id, "Leave request") {
		return
	}
	now := time.Now().UTC()
	res := db.Model(&model.LeaveRequest{}).
		Where("id = ? AND status = ?", leave.ID, model.LeavePending).
		Updates(map[string]interface{}{
			"status":      req.Status,
			"reviewed_by": uid,
			"reviewed_at": now,
			"review_note": strings.TrimSpace(req.Note),
		})
	if res.Error != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to review leave request", Err: res.Error})
		return
	}
	if res.RowsAffected == 0 {
		util.CallConflict(c, util.APIErrorParams{Msg: "Leave request is no longer pending", Err: fmt.Errorf("status %s", leave.Status)})
		return
	}
	if err := db.First(&leave, leave.ID).Error; err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to reload leave request", Err: err})
		return
	}

	var staff model.Staff
	if err := db.First(&staff, leave.StaffID).Error; err == nil && staff.UserID != nil {
		sendNotification(c, db, model.Notification{
			UserID:   *staff.UserID,
			Title:    fmt.Sprintf("Leave %s", leave.Status),
			Message:  fmt.Sprintf("Your leave from %s to %s was %s", leave.StartDate, leave.EndDate, leave.Status),
			Category: model.CategoryLeave,
			Link:     fmt.Sprintf("/leave/%d", leave.ID),
		})
	}

	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Leave reviewed", Data: leave})
}

// CancelLeave godoc
// @Summary      Cancel a pending leave request
// @Tags         Leave
// @Produce      json
// @Security     SessionToken
// @Param        id path int true "Leave request ID"
// @Success      200 {object} util.APIResponse{data=model.LeaveRequest} "Leave cancelled"
// @Failure      403 {object} util.APIResponse "Not the requester"
// @Failure      409 {object} util.APIResponse "Request is no longer pending"
// @Router       /leave/{id}/cancel [patch]
func CancelLeave(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	uid, ok := currentUserOrRespond(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id", "leave request")
	if !ok {
		return
	}
	var leave model.LeaveRequest
	if !findOrRespond(c, db, &leave, id, "Leave request") {
		return
	}
	staff, err := staffForUser(db, uid)
	if err != nil || staff.ID != leave.StaffID {
		util.CallForbidden(c, util.APIErrorParams{Msg: "Only the requester can cancel this leave", Err: fmt.Errorf("user %d is not the requester", uid)})
		return
	}

	res := db.Model(&model.LeaveRequest{}).
		Where("id = ? AND status = ?", leave.ID, model.LeavePending).
		Update("status", model.LeaveCancelled)
	if res.Error != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to cancel leave request", Err: res.Error})
		return
	}
	if res.RowsAffected == 0 {
		util.CallConflict(c, util.APIErrorParams{Msg: "Leave request is no longer pending", Err: fmt.Errorf("status %s", leave.Status)})
		return
	}
	leave.Status = model.LeaveCancelled
	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Leave cancelled", Data: leave})
}

package endpoint

import (
	"errors"
	"time"

	"github.com/ariebrainware/physio-practice/middleware"
	"github.com/ariebrainware/physio-practice/model"
	"github.com/ariebrainware/physio-practice/util"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type tokenStatus struct {
	UserID    uint      `json:"user_id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	RoleID    uint32    `json:"role_id"`
	StaffID   *uint     `json:"staff_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

var errNoToken = errors.New("session token not provided")

// loadTokenStatus resolves a live session into the account behind it.
func loadTokenStatus(db *gorm.DB, token string) (tokenStatus, error) {
	var session model.Session
	err := db.Where("session_token = ? AND expires_at > ?", token, time.Now()).First(&session).Error
	if err != nil {
		return tokenStatus{}, err
	}
	var user model.User
	if err := db.First(&user, session.UserID).Error; err != nil {
		return tokenStatus{}, err
	}

	status := tokenStatus{
		UserID:    user.ID,
		Email:     user.Email,
		Role:      model.RoleName(user.RoleID),
		RoleID:    user.RoleID,
		ExpiresAt: session.ExpiresAt,
	}
	if staff, err := staffForUser(db, user.ID); err == nil {
		status.StaffID = &staff.ID
	}
	return status, nil
}

// ValidateToken godoc
// @Summary      Validate session token
// @Description  Reports who a session token belongs to while it is still live
// @Tags         Authentication
// @Produce      json
// @Security     SessionToken
// @Success      200 {object} util.APIResponse{data=tokenStatus} "Valid session token"
// @Failure      401 {object} util.APIResponse "Invalid or expired session token"
// @Router       /token/validate [get]
func ValidateToken(c *gin.Context) {
	token := c.GetHeader(middleware.SessionTokenHeader)
	if token == "" {
		util.CallUserNotAuthorized(c, util.APIErrorParams{Msg: "Invalid session token", Err: errNoToken})
		return
	}
	if _, err := parseJWTToken(token); err != nil {
		util.CallUserNotAuthorized(c, util.APIErrorParams{Msg: "Invalid session token", Err: err})
		return
	}

	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	status, err := loadTokenStatus(db, token)
	if err != nil {
		util.CallUserNotAuthorized(c, util.APIErrorParams{Msg: "Session not found", Err: err})
		return
	}
	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Valid session token", Data: status})
}

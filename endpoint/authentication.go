package endpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ariebrainware/physio-practice/config"
	"github.com/ariebrainware/physio-practice/middleware"
	"github.com/ariebrainware/physio-practice/model"
	"github.com/ariebrainware/physio-practice/util"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	maxFailedAttempts = 5
	lockoutDuration   = 15 * time.Minute
)

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email" example:"user@example.com"`
	Password string `json:"password" binding:"required" example:"password123"`
}

type LoginResponse struct {
	Token     string    `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."`
	Role      string    `json:"role" example:"Admin"`
	RoleID    uint32    `json:"role_id" example:"1"`
	UserID    uint      `json:"user_id" example:"1"`
	StaffID   *uint     `json:"staff_id" example:"3"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login godoc
// @Summary      User login
// @Description  Authenticate user with email and password
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        request body LoginRequest true "Login credentials"
// @Success      200 {object} util.APIResponse{data=LoginResponse} "Login successful"
// @Failure      400 {object} util.APIResponse "Invalid request payload"
// @Failure      429 {object} util.APIResponse "Too many requests"
// @Failure      500 {object} util.APIResponse "Server error"
// @Router       /login [post]
func Login(c *gin.Context) {
	var req LoginRequest
	if !bindJSONOrRespond(c, &req, "Invalid request payload") {
		return
	}
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}

	a := &loginAttempt{
		c:     c,
		db:    db,
		email: strings.ToLower(strings.TrimSpace(req.Email)),
		ip:    c.ClientIP(),
		agent: c.Request.UserAgent(),
	}
	if a.loadUser() && a.checkLock() && a.checkPassword(req.Password) && a.checkStaff() {
		a.open(req.Password)
	}
}

// loginAttempt carries one sign-in through its checks. Each check answers
// the request itself when it refuses.
type loginAttempt struct {
	c     *gin.Context
	db    *gorm.DB
	email string
	ip    string
	agent string
	user  model.User
	staff *model.Staff
}

func (a *loginAttempt) refuse(reason string, respond func(*gin.Context, util.APIErrorParams), msg string, err error) bool {
	util.AuditLoginFailed(a.email, a.ip, a.agent, reason)
	if err == nil {
		err = errors.New(reason)
	}
	respond(a.c, util.APIErrorParams{Msg: msg, Err: err})
	return false
}

func (a *loginAttempt) loadUser() bool {
	err := a.db.Where("email = ?", a.email).First(&a.user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return a.refuse("user not found", util.CallUserError, "Invalid email or password", nil)
	case err != nil:
		return a.refuse("database error", util.CallServerError, "Database error", err)
	}
	return true
}

func (a *loginAttempt) checkLock() bool {
	until := a.user.LockedUntil
	if until == nil || *until <= time.Now().Unix() {
		return true
	}
	msg := fmt.Sprintf("Account is locked until %s due to multiple failed login attempts", time.Unix(*until, 0).Format(time.RFC3339))
	return a.refuse("account locked", util.CallUserError, msg, nil)
}

func (a *loginAttempt) checkPassword(plain string) bool {
	match, err := util.VerifyPassword(plain, a.user.Password, a.user.PasswordSalt)
	if err != nil {
		return a.refuse("password verification error", util.CallServerError, "Password verification failed", err)
	}
	if !match {
		a.countFailure()
		return a.refuse("invalid password", util.CallUserError, "Invalid email or password", nil)
	}
	return true
}

// countFailure increments failed_attempts in place and locks the account
// for lockoutDuration on the maxFailedAttempts-th failure.
func (a *loginAttempt) countFailure() {
	updates := map[string]interface{}{"failed_attempts": gorm.Expr("failed_attempts + 1")}
	if a.user.FailedAttempts+1 >= maxFailedAttempts {
		updates["locked_until"] = time.Now().Add(lockoutDuration).Unix()
		util.AuditLockout(a.user.ID, a.user.Email, a.ip, "too many failed login attempts")
	}
	if err := a.db.Model(&model.User{}).Where("id = ?", a.user.ID).Updates(updates).Error; err != nil {
		util.AuditAnomalyf(a.user.ID, a.ip, "counting failed sign-in: %v", err)
	}
}

// checkStaff refuses deactivated staff. Accounts without a staff record,
// such as the bootstrap admin, pass.
func (a *loginAttempt) checkStaff() bool {
	staff, err := staffForUser(a.db, a.user.ID)
	if err != nil {
		return true
	}
	if staff.Status == model.StaffInactive {
		return a.refuse("staff inactive", util.CallForbidden, "Account is disabled", fmt.Errorf("staff %d is inactive", staff.ID))
	}
	a.staff = &staff
	return true
}

// open issues the session once every check has passed.
func (a *loginAttempt) open(plain string) {
	if a.user.FailedAttempts > 0 || a.user.LockedUntil != nil {
		err := a.db.Model(&a.user).Updates(map[string]interface{}{"failed_attempts": 0, "locked_until": nil}).Error
		if err != nil {
			util.AuditAnomalyf(a.user.ID, a.ip, "resetting failed attempts: %v", err)
		}
	}
	a.upgradeHash(plain)

	var role model.Role
	if err := a.db.First(&role, a.user.RoleID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			a.refuse("role not found", util.CallUserError, "Role not found", nil)
			return
		}
		util.CallServerError(a.c, util.APIErrorParams{Msg: "Database error", Err: err})
		return
	}

	expires := time.Now().Add(sessionTTL())
	token, err := createJWTToken(a.user, expires)
	if err != nil {
		a.refuse("token generation failed", util.CallServerError, "Could not generate token", err)
		return
	}
	session := model.Session{
		UserID:       a.user.ID,
		SessionToken: token,
		ExpiresAt:    expires,
		ClientIP:     a.ip,
		Browser:      a.agent,
	}
	if err := a.db.Create(&session).Error; err != nil {
		a.refuse("session creation failed", util.CallServerError, "Failed to record session", err)
		return
	}

	// The sessions table stays authoritative when Redis is down.
	_ = util.CacheSession(a.c.Request.Context(), token, util.CachedSession{UserID: a.user.ID, RoleID: role.ID}, time.Until(expires))
	_ = middleware.ClearRateLimit(a.c, loginRateScope)

	resp := LoginResponse{
		Token:     token,
		Role:      role.Name,
		RoleID:    role.ID,
		UserID:    a.user.ID,
		ExpiresAt: session.ExpiresAt,
	}
	if a.staff != nil {
		resp.StaffID = &a.staff.ID
	}
	util.AuditLogin(a.user.ID, a.user.Email, a.ip, a.agent)
	util.CallSuccessOK(a.c, util.APISuccessParams{Msg: "Login successful", Data: resp})
}

// upgradeHash rehashes a legacy password with Argon2id after it verified.
func (a *loginAttempt) upgradeHash(plain string) {
	if util.IsArgon2Hash(a.user.Password) {
		return
	}
	hashed, salt, err := hashPassword(plain)
	if err != nil {
		return
	}
	if err := a.db.Model(&a.user).Updates(map[string]interface{}{"password": hashed, "password_salt": salt}).Error; err != nil {
		util.AuditAnomalyf(a.user.ID, a.ip, "upgrading password hash: %v", err)
		return
	}
	util.AuditPasswordChanged(a.user.ID, a.user.Email, a.ip, "password hash upgraded to Argon2id")
}

func sessionTTL() time.Duration {
	if ttl := config.LoadConfig().SessionTTL; ttl > 0 {
		return ttl
	}
	return 8 * time.Hour
}

// hashPassword returns an Argon2id hash and its salt.
func hashPassword(plain string) (string, string, error) {
	salt, err := util.GenerateSalt()
	if err != nil {
		return "", "", err
	}
	hashed, err := util.HashPasswordArgon2(plain, salt)
	if err != nil {
		return "", "", err
	}
	return hashed, salt, nil
}

type sessionClaims struct {
	Email  string `json:"email"`
	RoleID uint32 `json:"role"`
	jwt.RegisteredClaims
}

// createJWTToken signs an HS256 token. The jti keeps tokens unique when a user
// logs in twice within the same second.
func createJWTToken(user model.User, expires time.Time) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		Email:  user.Email,
		RoleID: user.RoleID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", user.ID),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(util.GetJWTSecretByte())
}

// parseJWTToken verifies signature and expiry.
func parseJWTToken(tokenString string) (*sessionClaims, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return util.GetJWTSecretByte(), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// revokeUserSessions deletes every session of userID from the table and the cache.
func revokeUserSessions(db *gorm.DB, userID uint) error {
	if err := db.Where("user_id = ?", userID).Delete(&model.Session{}).Error; err != nil {
		return err
	}
	return util.DropUserSessions(context.Background(), userID)
}

// Logout godoc
// @Summary      User logout
// @Description  Invalidate the user session token
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Security     SessionToken
// @Success      200 {object} util.APIResponse "Logout successful"
// @Failure      401 {object} util.APIResponse "Unauthorized"
// @Failure      400 {object} util.APIResponse "Session not found"
// @Failure      500 {object} util.APIResponse "Server error"
// @Router       /logout [delete]
func Logout(c *gin.Context) {
	sessionToken := c.GetHeader(middleware.SessionTokenHeader)
	if sessionToken == "" {
		util.CallUserNotAuthorized(c, util.APIErrorParams{
			Msg: "Session token not provided",
			Err: fmt.Errorf("session token not provided"),
		})
		c.Abort()
		return
	}

	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}

	var session model.Session
	if err := db.Where("session_token = ?", sessionToken).First(&session).Error; err != nil {
		util.CallUserError(c, util.APIErrorParams{
			Msg: "Session not found",
			Err: err,
		})
		return
	}

	var user model.User
	if err := db.First(&user, session.UserID).Error; err == nil {
		util.AuditSignedOut(user.ID, user.Email, c.ClientIP(), c.Request.UserAgent())
	}

	if err := db.Where("session_token = ?", sessionToken).Delete(&session).Error; err != nil {
		util.CallServerError(c, util.APIErrorParams{
			Msg: "Failed to delete session",
			Err: err,
		})
		return
	}

	_ = util.DropSession(c.Request.Context(), session.UserID, sessionToken)

	util.CallSuccessOK(c, util.APISuccessParams{
		Msg: "Logout successful",
	})
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required,min=8"`
}

// ChangePassword godoc
// @Summary      Change own password
// @Description  Verify the current password, store the new one with Argon2id and sign out every session
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Security     SessionToken
// @Param        request body ChangePasswordRequest true "Current and new password"
// @Success      200 {object} util.APIResponse "Password changed"
// @Failure      400 {object} util.APIResponse "Invalid request payload or password reuse"
// @Failure      401 {object} util.APIResponse "Current password is wrong"
// @Failure      404 {object} util.APIResponse "User not found"
// @Failure      500 {object} util.APIResponse "Server error"
// @Router       /user/password [patch]
func ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if !bindJSONOrRespond(c, &req, "Invalid request payload") {
		return
	}

	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}

	userID, ok := currentUserOrRespond(c)
	if !ok {
		return
	}

	var user model.User
	if !findOrRespond(c, db, &user, userID, "User") {
		return
	}

	// wrong current passwords count toward the same lockout as sign-in
	attempt := &loginAttempt{c: c, db: db, email: user.Email, ip: c.ClientIP(), agent: c.Request.UserAgent(), user: user}
	if !attempt.checkLock() {
		return
	}

	match, err := util.VerifyPassword(req.CurrentPassword, user.Password, user.PasswordSalt)
	if err != nil {
		util.CallServerError(c, util.APIErrorParams{
			Msg: "Password verification failed",
			Err: err,
		})
		return
	}
	if !match {
		attempt.countFailure()
		util.AuditLoginFailed(user.Email, c.ClientIP(), c.Request.UserAgent(), "password change with wrong current password")
		util.CallUserNotAuthorized(c, util.APIErrorParams{
			Msg: "Current password is incorrect",
			Err: fmt.Errorf("provided password does not match"),
		})
		return
	}
	if req.NewPassword == req.CurrentPassword {
		util.CallUserError(c, util.APIErrorParams{
			Msg: "New password must differ from the current password",
			Err: fmt.Errorf("password reuse"),
		})
		return
	}

	hashed, salt, err := hashPassword(req.NewPassword)
	if err != nil {
		util.CallServerError(c, util.APIErrorParams{
			Msg: "Failed to hash password",
			Err: err,
		})
		return
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&user).Updates(map[string]interface{}{
			"password":        hashed,
			"password_salt":   salt,
			"failed_attempts": 0,
			"locked_until":    nil,
		}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", user.ID).Delete(&model.Session{}).Error
	})
	if err != nil {
		util.CallServerError(c, util.APIErrorParams{
			Msg: "Failed to update password",
			Err: err,
		})
		return
	}
	_ = util.DropUserSessions(c.Request.Context(), user.ID)

	util.AuditPasswordChanged(user.ID, user.Email, c.ClientIP(), "Password changed by user; all sessions revoked")
	util.CallSuccessOK(c, util.APISuccessParams{
		Msg: "Password changed. Please sign in again",
	})
}

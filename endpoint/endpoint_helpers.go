package endpoint

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ariebrainware/physio-practice/middleware"
	"github.com/ariebrainware/physio-practice/model"
	"github.com/ariebrainware/physio-practice/util"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func bindJSONOrRespond(c *gin.Context, dst interface{}, msg string) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		util.CallUserError(c, util.APIErrorParams{Msg: msg, Err: err})
		return false
	}
	return true
}

func getDBOrRespond(c *gin.Context) (*gorm.DB, bool) {
	db := middleware.GetDB(c)
	if db == nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Database connection not available", Err: fmt.Errorf("db is nil")})
		return nil, false
	}
	return db, true
}

// currentUserOrRespond returns the authenticated user id set by ValidateLoginToken.
func currentUserOrRespond(c *gin.Context) (uint, bool) {
	uid, ok := middleware.GetUserID(c)
	if !ok || uid == 0 {
		util.CallUserNotAuthorized(c, util.APIErrorParams{
			Msg: "User not authenticated",
			Err: fmt.Errorf("user id not found in context"),
		})
		return 0, false
	}
	return uid, true
}

// parseIDParam reads a positive integer path parameter.
func parseIDParam(c *gin.Context, name, label string) (uint, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		util.CallUserError(c, util.APIErrorParams{
			Msg: fmt.Sprintf("Invalid %s ID", label),
			Err: fmt.Errorf("invalid %s id %q", label, raw),
		})
		return 0, false
	}
	return uint(id), true
}

// parseOptionalUint parses a query value; empty yields 0.
func parseOptionalUint(c *gin.Context, key string) (uint, bool) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		util.CallUserError(c, util.APIErrorParams{
			Msg: fmt.Sprintf("Invalid %s", key),
			Err: fmt.Errorf("invalid %s %q", key, raw),
		})
		return 0, false
	}
	return uint(v), true
}

type pagination struct {
	Limit  int
	Offset int
}

func parsePagination(c *gin.Context) pagination {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return pagination{Limit: limit, Offset: offset}
}

func (p pagination) apply(q *gorm.DB) *gorm.DB {
	return q.Limit(p.Limit).Offset(p.Offset)
}

// findOrRespond loads a record by primary key, answering 404 when it is missing.
func findOrRespond(c *gin.Context, db *gorm.DB, dst interface{}, id uint, label string) bool {
	err := db.First(dst, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		util.CallErrorNotFound(c, util.APIErrorParams{
			Msg: fmt.Sprintf("%s not found", label),
			Err: err,
		})
		return false
	}
	if err != nil {
		util.CallServerError(c, util.APIErrorParams{
			Msg: fmt.Sprintf("Failed to retrieve %s", strings.ToLower(label)),
			Err: err,
		})
		return false
	}
	return true
}

// staffForUser returns the staff record linked to a login account.
func staffForUser(db *gorm.DB, userID uint) (model.Staff, error) {
	var staff model.Staff
	err := db.Where("user_id = ?", userID).First(&staff).Error
	return staff, err
}

// usersWithRole lists the ids of every login account holding roleID.
func usersWithRole(db *gorm.DB, roleID uint32) ([]uint, error) {
	var ids []uint
	err := db.Model(&model.User{}).Where("role_id = ?", roleID).Pluck("id", &ids).Error
	return ids, err
}

// sendNotification stores and publishes n, logging instead of failing the request.
func sendNotification(c *gin.Context, db *gorm.DB, n model.Notification) {
	if n.UserID == 0 {
		return
	}
	hub := middleware.GetServices(c).Notify
	if err := hub.Deliver(c.Request.Context(), db, &n); err != nil {
		log.Warn().Err(err).Uint("user_id", n.UserID).Str("category", n.Category).Msg("notification not delivered")
	}
}

// today returns the current UTC calendar date as YYYY-MM-DD.
func today() string {
	return time.Now().UTC().Format("2006-01-02")
}

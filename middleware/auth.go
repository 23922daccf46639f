package middleware

import (
	"errors"
	"fmt"
	"time"

	"github.com/ariebrainware/physio-practice/model"
	"github.com/ariebrainware/physio-practice/util"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	UserIDKey          = "user_id"
	RoleIDKey          = "role_id"
	SessionTokenHeader = "session-token"
)

// ValidateLoginToken authenticates the session-token header against the Redis
// session cache, falling back to the sessions table and re-caching on a hit.
func ValidateLoginToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(SessionTokenHeader)
		if token == "" {
			util.AuditDenied(0, c.ClientIP(), c.Request.URL.Path, "missing session token")
			util.CallUserNotAuthorized(c, util.APIErrorParams{
				Msg: "Session token not provided",
				Err: fmt.Errorf("session token not provided"),
			})
			c.Abort()
			return
		}

		db := GetDB(c)
		if db == nil {
			util.CallServerError(c, util.APIErrorParams{
				Msg: "Database connection not available",
				Err: fmt.Errorf("db is nil"),
			})
			c.Abort()
			return
		}

		id, ok := util.LookupSession(c.Request.Context(), token)
		if !ok {
			var (
				expires time.Time
				err     error
			)
			id, expires, err = lookupSessionDB(db, token)
			if err != nil {
				util.AuditDenied(0, c.ClientIP(), c.Request.URL.Path, "invalid or expired session")
				util.CallUserNotAuthorized(c, util.APIErrorParams{
					Msg: "Invalid or expired session token",
					Err: err,
				})
				c.Abort()
				return
			}
			_ = util.CacheSession(c.Request.Context(), token, id, time.Until(expires))
		}

		c.Set(UserIDKey, id.UserID)
		c.Set(RoleIDKey, id.RoleID)
		c.Next()
	}
}

// lookupSessionDB resolves an unexpired session of a live user.
func lookupSessionDB(db *gorm.DB, token string) (util.CachedSession, time.Time, error) {
	var row struct {
		UserID    uint
		RoleID    uint32
		ExpiresAt time.Time
	}
	err := db.Table("sessions").
		Select("sessions.user_id, users.role_id, sessions.expires_at").
		Joins("JOIN users ON users.id = sessions.user_id AND users.deleted_at IS NULL").
		Where("sessions.session_token = ? AND sessions.expires_at > ? AND sessions.deleted_at IS NULL", token, time.Now()).
		Take(&row).Error
	if err != nil {
		return util.CachedSession{}, time.Time{}, err
	}
	if row.UserID == 0 {
		return util.CachedSession{}, time.Time{}, errors.New("session has no user")
	}
	return util.CachedSession{UserID: row.UserID, RoleID: row.RoleID}, row.ExpiresAt, nil
}

// RequireRole allows the request only for the listed roles. It must run after
// ValidateLoginToken.
func RequireRole(roles ...uint32) gin.HandlerFunc {
	return func(c *gin.Context) {
		roleID, ok := GetRoleID(c)
		if ok {
			for _, r := range roles {
				if r == roleID {
					c.Next()
					return
				}
			}
		}
		userID, _ := GetUserID(c)
		util.AuditDenied(userID, c.ClientIP(), c.Request.URL.Path, "insufficient role")
		util.CallForbidden(c, util.APIErrorParams{
			Msg: "You are not allowed to perform this action",
			Err: fmt.Errorf("role %d not permitted", roleID),
		})
		c.Abort()
	}
}

func GetUserID(c *gin.Context) (uint, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok && id != 0
}

func GetRoleID(c *gin.Context) (uint32, bool) {
	v, ok := c.Get(RoleIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint32)
	return id, ok
}

// IsAdmin reports whether the authenticated user holds the admin role.
func IsAdmin(c *gin.Context) bool {
	rid, ok := GetRoleID(c)
	return ok && rid == model.RoleAdmin
}

package middleware

import (
	"fmt"
	"time"

	"github.com/ariebrainware/physio-practice/util"
	"github.com/gin-gonic/gin"
)

// AuditTrail writes one REQUEST audit entry per handled call. Routes listed
// in skip (matched on the registered pattern) are not recorded.
func AuditTrail(skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, s := range skip {
		skipped[s] = struct{}{}
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if _, ok := skipped[route]; ok {
			return
		}
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		a := util.Audit{
			Kind:      util.AuditRequest,
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			Method:    c.Request.Method,
			Route:     route,
			Status:    status,
			RequestID: c.GetString(RequestIDKey),
			Message:   fmt.Sprintf("%s %s -> %d", c.Request.Method, c.Request.URL.Path, status),
			Details: map[string]interface{}{
				"path":        c.Request.URL.Path,
				"duration_ms": time.Since(start).Milliseconds(),
			},
		}
		if q := c.Request.URL.RawQuery; q != "" {
			a.Details["query"] = q
		}
		if userID, ok := GetUserID(c); ok && userID != 0 {
			a.ActorID = userID
			a.Email = util.GetUserEmail(GetDB(c), userID)
		}
		if roleID, ok := GetRoleID(c); ok {
			a.Details["role_id"] = roleID
		}
		util.RecordAudit(a)
	}
}

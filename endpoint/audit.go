package endpoint

import (
	"fmt"
	"strings"
	"time"

	"github.com/ariebrainware/physio-practice/billing"
	"github.com/ariebrainware/physio-practice/model"
	"github.com/ariebrainware/physio-practice/util"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// parseDayBound accepts YYYY-MM-DD. When end is set the bound is the start
// of the following day, so the named day is included.
func parseDayBound(c *gin.Context, key string, end bool) (time.Time, bool) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return time.Time{}, true
	}
	day, err := time.Parse(billing.DateLayout, raw)
	if err != nil {
		util.CallUserError(c, util.APIErrorParams{
			Msg: fmt.Sprintf("Invalid %s, expected YYYY-MM-DD", key),
			Err: err,
		})
		return time.Time{}, false
	}
	if end {
		day = day.AddDate(0, 0, 1)
	}
	return day, true
}

// ListAuditEvents godoc
// @Summary      Browse the audit trail
// @Tags         Audit
// @Produce      json
// @Security     SessionToken
// @Param        kind query string false "Entry kind, e.g. LOGIN_FAILURE"
// @Param        actor_id query int false "Acting user ID"
// @Param        route query string false "Registered route pattern, e.g. /patient/:id"
// @Param        from query string false "First day (YYYY-MM-DD)"
// @Param        to query string false "Last day (YYYY-MM-DD)"
// @Param        limit query int false "Limit number of results"
// @Param        offset query int false "Offset for pagination"
// @Success      200 {object} util.APIResponse{data=object} "Audit events retrieved"
// @Failure      400 {object} util.APIResponse "Invalid filter"
// @Router       /audit [get]
func ListAuditEvents(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	actorID, ok := parseOptionalUint(c, "actor_id")
	if !ok {
		return
	}
	from, ok := parseDayBound(c, "from", false)
	if !ok {
		return
	}
	to, ok := parseDayBound(c, "to", true)
	if !ok {
		return
	}
	kind := strings.ToUpper(strings.TrimSpace(c.Query("kind")))
	route := strings.TrimSpace(c.Query("route"))

	filter := func(q *gorm.DB) *gorm.DB {
		if kind != "" {
			q = q.Where("kind = ?", kind)
		}
		if actorID != 0 {
			q = q.Where("actor_id = ?", actorID)
		}
		if route != "" {
			q = q.Where("route = ?", route)
		}
		if !from.IsZero() {
			q = q.Where("created_at >= ?", from)
		}
		if !to.IsZero() {
			q = q.Where("created_at < ?", to)
		}
		return q
	}

	var total int64
	if err := filter(db.Model(&model.AuditEvent{})).Count(&total).Error; err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to count audit events", Err: err})
		return
	}
	var events []model.AuditEvent
	query := filter(db.Model(&model.AuditEvent{})).Order("created_at DESC, id DESC")
	if err := parsePagination(c).apply(query).Find(&events).Error; err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to retrieve audit events", Err: err})
		return
	}

	util.CallSuccessOK(c, util.APISuccessParams{
		Msg:  "Audit events retrieved",
		Data: gin.H{"total": total, "events": events},
	})
}

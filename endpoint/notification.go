package endpoint

import (
	"fmt"
	"io"
	"time"

	"github.com/ariebrainware/physio-practice/middleware"
	"github.com/ariebrainware/physio-practice/model"
	"github.com/ariebrainware/physio-practice/util"
	"github.com/gin-gonic/gin"
)

const streamHeartbeat = 25 * time.Second

// ListNotifications godoc
// @Summary      List my notifications
// @Tags         Notifications
// @Produce      json
// @Security     SessionToken
// @Param        unread_only query bool false "Only unread notifications"
// @Param        limit query int false "Limit number of results"
// @Param        offset query int false "Offset for pagination"
// @Success      200 {object} util.APIResponse{data=object} "Notifications retrieved"
// @Router       /notification [get]
func ListNotifications(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	uid, ok := currentUserOrRespond(c)
	if !ok {
		return
	}

	query := db.Model(&model.Notification{}).Where("user_id = ?", uid)
	if c.Query("unread_only") == "true" {
		query = query.Where("read_at IS NULL")
	}
	var notifications []model.Notification
	if err := parsePagination(c).apply(query.Order("created_at DESC, id DESC")).Find(&notifications).Error; err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to retrieve notifications", Err: err})
		return
	}

	var unread int64
	if err := db.Model(&model.Notification{}).Where("user_id = ? AND read_at IS NULL", uid).Count(&unread).Error; err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to count notifications", Err: err})
		return
	}

	util.CallSuccessOK(c, util.APISuccessParams{
		Msg:  "Notifications retrieved",
		Data: gin.H{"unread": unread, "notifications": notifications},
	})
}

// MarkNotificationRead godoc
// @Summary      Mark a notification as read
// @Tags         Notifications
// @Produce      json
// @Security     SessionToken
// @Param        id path int true "Notification ID"
// @Success      200 {object} util.APIResponse "Notification marked as read"
// @Failure      404 {object} util.APIResponse "Notification not found"
// @Router       /notification/{id}/read [patch]
func MarkNotificationRead(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	uid, ok := currentUserOrRespond(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id", "notification")
	if !ok {
		return
	}

	var n model.Notification
	if err := db.Where("id = ? AND user_id = ?", id, uid).First(&n).Error; err != nil {
		util.CallErrorNotFound(c, util.APIErrorParams{Msg: "Notification not found", Err: err})
		return
	}
	if n.ReadAt == nil {
		now := time.Now().UTC()
		if err := db.Model(&n).Update("read_at", now).Error; err != nil {
			util.CallServerError(c, util.APIErrorParams{Msg: "Failed to update notification", Err: err})
			return
		}
		n.ReadAt = &now
	}
	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Notification marked as read", Data: n})
}

// MarkAllNotificationsRead godoc
// @Summary      Mark all my notifications as read
// @Tags         Notifications
// @Produce      json
// @Security     SessionToken
// @Success      200 {object} util.APIResponse{data=object} "Notifications marked as read"
// @Router       /notification/read-all [patch]
func MarkAllNotificationsRead(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	uid, ok := currentUserOrRespond(c)
	if !ok {
		return
	}
	res := db.Model(&model.Notification{}).
		Where("user_id = ? AND read_at IS NULL", uid).
		Update("read_at", time.Now().UTC())
	if res.Error != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to update notifications", Err: res.Error})
		return
	}
	util.CallSuccessOK(c, util.APISuccessParams{
		Msg:  "Notifications marked as read",
		Data: gin.H{"updated": res.RowsAffected},
	})
}

// StreamNotifications godoc
// @Summary      Stream my notifications
// @Description  Server-sent events; each new notification is sent as event "notification"
// @Tags         Notifications
// @Produce      text/event-stream
// @Security     SessionToken
// @Success      200 {string} string "event stream"
// @Failure      503 {object} util.APIResponse "Streaming unavailable"
// @Router       /notification/stream [get]
func StreamNotifications(c *gin.Context) {
	uid, ok := currentUserOrRespond(c)
	if !ok {
		return
	}
	hub := middleware.GetServices(c).Notify
	if hub == nil {
		util.CallServiceUnavailable(c, util.APIErrorParams{
			Msg: "Notification streaming is not available",
			Err: fmt.Errorf("notify hub not configured"),
		})
		return
	}

	ctx := c.Request.Context()
	ch, release := hub.Subscribe(ctx, uid)
	defer release()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("ready", gin.H{"user_id": uid})
	c.Writer.Flush()

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case n, open := <-ch:
			if !open {
				return false
			}
			c.SSEvent("notification", n)
			return true
		case <-heartbeat.C:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			return true
		}
	})
}

package endpoint

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ariebrainware/physio-practice/metrics"
	"github.com/ariebrainware/physio-practice/middleware"
	"github.com/ariebrainware/physio-practice/model"
	"github.com/gin-gonic/gin"
)

const loginRateScope = "login"

// RegisterRoutes mounts the public and authenticated API on r. m may be nil,
// in which case /metrics is not exposed.
func RegisterRoutes(r *gin.Engine, appName string, m *metrics.Metrics) {
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": fmt.Sprintf("Welcome to %s!", appName),
		})
	})
	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	r.POST("/login", middleware.RateLimiter(middleware.RateLimitConfig{Scope: loginRateScope, Limit: 5, Window: 15 * time.Minute}), Login)
	r.GET("/token/validate", ValidateToken)

	auth := r.Group("/")
	auth.Use(middleware.ValidateLoginToken())

	admin := middleware.RequireRole(model.RoleAdmin)
	clinical := middleware.RequireRole(model.RoleAdmin, model.RolePhysiotherapist)
	frontDesk := middleware.RequireRole(model.RoleAdmin, model.RoleReceptionist)

	auth.DELETE("/logout", Logout)
	auth.PATCH("/user/password", ChangePassword)

	auth.GET("/staff", ListStaff)
	auth.GET("/staff/:id", GetStaff)
	auth.POST("/staff", admin, CreateStaff)
	auth.PATCH("/staff/:id", admin, UpdateStaff)
	auth.DELETE("/staff/:id", admin, DeleteStaff)

	auth.GET("/patient", ListPatients)
	auth.GET("/patient/export", ExportPatients)
	auth.GET("/patient/:id", GetPatientInfo)
	auth.POST("/patient", CreatePatient)
	auth.PATCH("/patient/:id", UpdatePatient)
	auth.DELETE("/patient/:id", admin, DeletePatient)

	auth.GET("/patient/:id/report", clinical, ListReports)
	auth.GET("/patient/:id/report/:version", clinical, GetReport)
	auth.POST("/patient/:id/report", clinical, CreateReport)
	auth.GET("/patient/:id/progress", clinical, GetProgress)
	auth.POST("/patient/:id/progress/insight", clinical, GenerateInsight)

	auth.GET("/appointment", ListAppointments)
	auth.POST("/appointment", CreateAppointment)
	auth.PATCH("/appointment/:id", UpdateAppointment)
	auth.PATCH("/appointment/:id/status", UpdateAppointmentStatus)
	auth.DELETE("/appointment/:id", admin, DeleteAppointment)

	auth.GET("/billing", frontDesk, ListBillings)
	auth.GET("/billing/export", frontDesk, ExportBillings)
	auth.POST("/billing/:id/payment", frontDesk, RecordPayment)
	auth.POST("/billing/:id/void", admin, VoidBilling)

	auth.GET("/billing-cycle", frontDesk, ListBillingCycles)
	auth.GET("/billing-cycle/preview", frontDesk, PreviewBillingCycle)
	auth.POST("/billing-cycle/generate", frontDesk, GenerateBillingCycle)

	auth.GET("/leave", ListLeave)
	auth.POST("/leave", CreateLeave)
	auth.PATCH("/leave/:id/review", admin, ReviewLeave)
	auth.PATCH("/leave/:id/cancel", CancelLeave)

	auth.GET("/notification", ListNotifications)
	auth.GET("/notification/stream", StreamNotifications)
	auth.PATCH("/notification/read-all", MarkAllNotificationsRead)
	auth.PATCH("/notification/:id/read", MarkNotificationRead)

	outbound := middleware.RateLimiter(middleware.RateLimitConfig{Limit: 30, Window: time.Minute})
	auth.POST("/ai/chat", outbound, Chat)
	auth.POST("/sms/send", frontDesk, outbound, SendSMS)
	auth.GET("/dashboard", Dashboard)
	auth.GET("/audit", admin, ListAuditEvents)
}

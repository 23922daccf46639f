package util

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ariebrainware/physio-practice/model"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditKind classifies an audit trail entry.
type AuditKind string

const (
	AuditLoginSuccess   AuditKind = "LOGIN_SUCCESS"
	AuditLoginFailure   AuditKind = "LOGIN_FAILURE"
	AuditLogout         AuditKind = "LOGOUT"
	AuditAccountLocked  AuditKind = "ACCOUNT_LOCKED"
	AuditPasswordChange AuditKind = "PASSWORD_CHANGED"
	AuditAccessDenied   AuditKind = "ACCESS_DENIED"
	AuditRateLimited    AuditKind = "RATE_LIMITED"
	AuditAnomaly        AuditKind = "ANOMALY"
	AuditRequest        AuditKind = "REQUEST"
)

// Routine reports whether entries of this kind are expected traffic.
func (k AuditKind) Routine() bool {
	return k == AuditRequest || k == AuditLoginSuccess || k == AuditLogout
}

// Audit is a single entry before it is written out.
type Audit struct {
	Kind      AuditKind
	ActorID   uint
	Email     string
	IP        string
	UserAgent string
	Method    string
	Route     string
	Status    int
	RequestID string
	Message   string
	Details   map[string]interface{}
}

type auditTrail struct {
	mu  sync.RWMutex
	log zerolog.Logger
	db  *gorm.DB
}

var trail = &auditTrail{
	log: zerolog.New(os.Stdout).With().Timestamp().Str("channel", "audit").Logger(),
}

// SetAuditDB enables persisting entries to the audit_events table.
func SetAuditDB(db *gorm.DB) {
	trail.mu.Lock()
	trail.db = db
	trail.mu.Unlock()
}

// SetAuditLogger redirects the audit channel, e.g. to the application logger.
func SetAuditLogger(logger zerolog.Logger) {
	trail.mu.Lock()
	trail.log = logger.With().Str("channel", "audit").Logger()
	trail.mu.Unlock()
}

var logValueReplacer = strings.NewReplacer("\n", " ", "\r", " ", "\t", " ")

// clean keeps user-supplied values on one line and bounded.
func clean(value string) string {
	value = logValueReplacer.Replace(value)
	if len(value) > 200 {
		value = value[:200] + "..."
	}
	return value
}

// RecordAudit logs a to the audit channel and stores it when a DB is set.
// Storage failures are logged and otherwise ignored.
func RecordAudit(a Audit) {
	trail.mu.RLock()
	logger, db := trail.log, trail.db
	trail.mu.RUnlock()

	evt := logger.Warn()
	if a.Kind.Routine() {
		evt = logger.Info()
	}
	if a.ActorID != 0 {
		evt = evt.Uint("actor_id", a.ActorID)
	}
	if a.Route != "" {
		evt = evt.Str("method", a.Method).Str("route", a.Route).Int("status", a.Status)
	}
	if a.RequestID != "" {
		evt = evt.Str("request_id", a.RequestID)
	}
	evt.Str("kind", string(a.Kind)).
		Str("email", clean(a.Email)).
		Str("ip", clean(a.IP)).
		Str("user_agent", clean(a.UserAgent)).
		Int("details", len(a.Details)).
		Msg(clean(a.Message))

	if db == nil {
		return
	}
	row := model.AuditEvent{
		Kind:       string(a.Kind),
		ActorEmail: clean(a.Email),
		IP:         clean(a.IP),
		Location:   clean(LocateIP(a.IP).String()),
		UserAgent:  clean(a.UserAgent),
		Method:     a.Method,
		Route:      clean(a.Route),
		Status:     a.Status,
		RequestID:  clean(a.RequestID),
		Message:    clean(a.Message),
	}
	if a.ActorID != 0 {
		id := a.ActorID
		row.ActorID = &id
	}
	row.Details = datatypes.JSON("{}")
	if len(a.Details) > 0 {
		if b, err := json.Marshal(a.Details); err == nil {
			row.Details = datatypes.JSON(b)
		}
	}
	if err := db.Create(&row).Error; err != nil {
		logger.Error().Err(err).Msg("audit event not stored")
	}
}

func AuditLogin(userID uint, email, ip, userAgent string) {
	RecordAudit(Audit{Kind: AuditLoginSuccess, ActorID: userID, Email: email, IP: ip, UserAgent: userAgent, Message: "signed in"})
}

func AuditLoginFailed(email, ip, userAgent, reason string) {
	RecordAudit(Audit{Kind: AuditLoginFailure, Email: email, IP: ip, UserAgent: userAgent, Message: "sign-in refused: " + reason})
}

func AuditSignedOut(userID uint, email, ip, userAgent string) {
	RecordAudit(Audit{Kind: AuditLogout, ActorID: userID, Email: email, IP: ip, UserAgent: userAgent, Message: "signed out"})
}

func AuditLockout(userID uint, email, ip, reason string) {
	RecordAudit(Audit{Kind: AuditAccountLocked, ActorID: userID, Email: email, IP: ip, Message: "account locked: " + reason})
}

func AuditPasswordChanged(userID uint, email, ip, message string) {
	RecordAudit(Audit{Kind: AuditPasswordChange, ActorID: userID, Email: email, IP: ip, Message: message})
}

// AuditDenied records a request refused by the session or role guards.
func AuditDenied(userID uint, ip, route, reason string) {
	RecordAudit(Audit{Kind: AuditAccessDenied, ActorID: userID, IP: ip, Route: route, Message: fmt.Sprintf("%s: %s", route, reason)})
}

func AuditRateLimit(ip, route string) {
	RecordAudit(Audit{Kind: AuditRateLimited, IP: ip, Route: route, Status: 429, Message: "too many requests to " + route})
}

// AuditAnomalyf records something that went wrong without failing the request.
func AuditAnomalyf(userID uint, ip, format string, args ...interface{}) {
	RecordAudit(Audit{Kind: AuditAnomaly, ActorID: userID, IP: ip, Message: fmt.Sprintf(format, args...)})
}

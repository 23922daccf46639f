package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/ariebrainware/physio-practice/model"
	"github.com/ariebrainware/physio-practice/util"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func captureAudit(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	util.SetAuditLogger(zerolog.New(&buf))
	t.Cleanup(func() { util.SetAuditLogger(zerolog.New(os.Stdout)) })
	return &buf
}

func auditLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		out = append(out, entry)
	}
	return out
}

func TestAuditTrail_AnonymousRequest(t *testing.T) {
	buf := captureAudit(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), AuditTrail())
	r.GET("/patient/:id", func(c *gin.Context) { c.Status(http.StatusUnauthorized) })

	req := httptest.NewRequest(http.MethodGet, "/patient/12?include=reports", nil)
	req.RemoteAddr = "192.168.1.100:1234"
	req.Header.Set("User-Agent", "FrontDesk/2.1")
	r.ServeHTTP(httptest.NewRecorder(), req)

	lines := auditLines(t, buf)
	require.Len(t, lines, 1)
	entry := lines[0]
	assert.Equal(t, "REQUEST", entry["kind"])
	assert.Equal(t, "audit", entry["channel"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "/patient/:id", entry["route"])
	assert.Equal(t, float64(http.StatusUnauthorized), entry["status"])
	assert.Equal(t, "GET /patient/12 -> 401", entry["message"])
	assert.Equal(t, "192.168.1.100", entry["ip"])
	assert.Equal(t, "FrontDesk/2.1", entry["user_agent"])
	assert.NotEmpty(t, entry["request_id"])
	assert.NotContains(t, entry, "actor_id")
	assert.Equal(t, float64(3), entry["details"], "path, duration and query")
}

func TestAuditTrail_SignedInStaff(t *testing.T) {
	buf := captureAudit(t)
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Exec("CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT)").Error)
	require.NoError(t, db.Exec("INSERT INTO users (id, email) VALUES (4242, 'budi@clinic.example')").Error)
	util.ForgetUserEmail(4242)
	defer util.ForgetUserEmail(4242)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(DatabaseMiddleware(db), AuditTrail())
	r.GET("/appointment", func(c *gin.Context) {
		c.Set(UserIDKey, uint(4242))
		c.Set(RoleIDKey, model.RolePhysiotherapist)
		c.Status(http.StatusOK)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/appointment", nil))

	lines := auditLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, float64(4242), lines[0]["actor_id"])
	assert.Equal(t, "budi@clinic.example", lines[0]["email"])
	assert.Equal(t, float64(3), lines[0]["details"], "path, duration and role")
}

func TestAuditTrail_SkipsAndStores(t *testing.T) {
	buf := captureAudit(t)
	db, err := gorm.Open(sqlite.Open("file:audit_trail_store?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.AuditEvent{}))
	util.SetAuditDB(db)
	defer util.SetAuditDB(nil)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), AuditTrail("/metrics"))
	r.GET("/metrics", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/billing/:id/payment", func(c *gin.Context) { c.Status(http.StatusConflict) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/billing/9/payment", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/no/such/route", nil))

	assert.Len(t, auditLines(t, buf), 2, "skipped routes are not logged")

	var rows []model.AuditEvent
	require.NoError(t, db.Order("id").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, "REQUEST", rows[0].Kind)
	assert.Equal(t, http.MethodPost, rows[0].Method)
	assert.Equal(t, "/billing/:id/payment", rows[0].Route)
	assert.Equal(t, http.StatusConflict, rows[0].Status)
	assert.NotEmpty(t, rows[0].RequestID)
	assert.Nil(t, rows[0].ActorID)
	assert.Contains(t, string(rows[0].Details), `"path":"/billing/9/payment"`)
	assert.Equal(t, "/no/such/route", rows[1].Route, "unmatched requests fall back to the raw path")
	assert.Equal(t, http.StatusNotFound, rows[1].Status)
}

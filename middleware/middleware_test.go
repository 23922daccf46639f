package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ariebrainware/physio-practice/config"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCORSMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dashboard := "https://dashboard.clinic.example"
	r := gin.New()
	r.Use(CORSMiddleware([]string{dashboard}))
	r.GET("/patient", func(c *gin.Context) { c.Status(http.StatusOK) })

	preflight := httptest.NewRequest(http.MethodOptions, "/patient", nil)
	preflight.Header.Set("Origin", dashboard)
	preflight.Header.Set("Access-Control-Request-Method", http.MethodGet)
	preflight.Header.Set("Access-Control-Request-Headers", SessionTokenHeader)
	w := serve(r, preflight)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, dashboard, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodPatch)

	foreign := httptest.NewRequest(http.MethodGet, "/patient", nil)
	foreign.Header.Set("Origin", "https://evil.example.com")
	assert.Equal(t, http.StatusForbidden, serve(r, foreign).Code)

	open := gin.New()
	open.Use(CORSMiddleware(nil))
	open.GET("/patient", func(c *gin.Context) { c.Status(http.StatusOK) })
	local := httptest.NewRequest(http.MethodGet, "/patient", nil)
	local.Header.Set("Origin", "http://localhost:3000")
	w = serve(open, local)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequireAPIToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequireAPIToken("desk-secret"))
	r.Any("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	cases := []struct {
		name   string
		method string
		header string
		want   int
	}{
		{"missing", http.MethodGet, "", http.StatusUnauthorized},
		{"wrong", http.MethodGet, "Bearer nope", http.StatusUnauthorized},
		{"without scheme", http.MethodGet, "desk-secret", http.StatusUnauthorized},
		{"valid", http.MethodGet, "Bearer desk-secret", http.StatusOK},
		{"preflight skips the check", http.MethodOptions, "", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			assert.Equal(t, tc.want, serve(r, req).Code)
		})
	}

	open := gin.New()
	open.Use(RequireAPIToken(""))
	open.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	assert.Equal(t, http.StatusOK, serve(open, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
}

func TestDatabaseMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := &gorm.DB{}
	r := gin.New()
	r.GET("/with", DatabaseMiddleware(db), func(c *gin.Context) {
		if GetDB(c) != db {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusOK)
	})
	r.GET("/without", func(c *gin.Context) {
		if GetDB(c) != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusOK)
	})
	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/with", nil)).Code)
	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/without", nil)).Code)
}

func TestServices(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &Services{Config: &config.Config{DefaultPhoneRegion: "SG", BillingGraceDays: 14}}
	var got *Services
	r := gin.New()
	r.GET("/with", ServicesMiddleware(svc), func(c *gin.Context) { got = GetServices(c) })
	r.GET("/without", func(c *gin.Context) { got = GetServices(c) })

	serve(r, httptest.NewRequest(http.MethodGet, "/with", nil))
	assert.Same(t, svc, got)
	assert.Equal(t, "SG", got.PhoneRegion())
	assert.Equal(t, 14, got.BillingGraceDays())

	serve(r, httptest.NewRequest(http.MethodGet, "/without", nil))
	if assert.NotNil(t, got) {
		assert.Equal(t, "ID", got.PhoneRegion())
		assert.Equal(t, 7, got.BillingGraceDays())
		assert.Nil(t, got.RateCounter)
	}
}

func TestServices_ZeroGraceDays(t *testing.T) {
	svc := &Services{Config: &config.Config{BillingGraceDays: 0}}
	assert.Equal(t, 0, svc.BillingGraceDays())

	svc.Config.BillingGraceDays = -3
	assert.Equal(t, 0, svc.BillingGraceDays())
}

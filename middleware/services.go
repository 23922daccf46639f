package middleware

import (
	"github.com/ariebrainware/physio-practice/assistant"
	"github.com/ariebrainware/physio-practice/config"
	"github.com/ariebrainware/physio-practice/metrics"
	"github.com/ariebrainware/physio-practice/notify"
	"github.com/ariebrainware/physio-practice/report"
	"github.com/ariebrainware/physio-practice/sms"
	"github.com/ariebrainware/physio-practice/util"
	"github.com/gin-gonic/gin"
)

const servicesContextKey = "services"

// Services bundles the non-relational dependencies handlers need. Any field
// may be nil when the backing service is not configured.
type Services struct {
	Config    *config.Config
	Reports   report.Store
	Assistant *assistant.Client
	SMS       sms.Sender
	Notify    *notify.Hub
	Metrics   *metrics.Metrics
	Progress  *util.Memo

	// RateCounter overrides the Redis-backed counter used by RateLimiter.
	RateCounter RateCounter
}

func ServicesMiddleware(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(servicesContextKey, svc)
		c.Next()
	}
}

// GetServices never returns nil; a request without ServicesMiddleware gets an
// empty bundle.
func GetServices(c *gin.Context) *Services {
	if v, ok := c.Get(servicesContextKey); ok {
		if svc, ok := v.(*Services); ok && svc != nil {
			return svc
		}
	}
	return &Services{}
}

// PhoneRegion is the default region for parsing local phone numbers.
func (s *Services) PhoneRegion() string {
	if s.Config != nil && s.Config.DefaultPhoneRegion != "" {
		return s.Config.DefaultPhoneRegion
	}
	return "ID"
}

// BillingGraceDays is the days between a cycle's end and its due date. 0
// makes invoices due the day the cycle ends.
func (s *Services) BillingGraceDays() int {
	if s.Config == nil {
		return 7
	}
	if s.Config.BillingGraceDays < 0 {
		return 0
	}
	return s.Config.BillingGraceDays
}

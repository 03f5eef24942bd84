package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware records request count and latency per route template.
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// Timer measures one remote call.
type Timer struct {
	start   time.Time
	metrics *Metrics
	method  string
}

// NewTimer starts timing a call to method.
func NewTimer(metrics *Metrics, method string) *Timer {
	return &Timer{start: time.Now(), metrics: metrics, method: method}
}

// Stop records the call with its outcome label.
func (t *Timer) Stop(outcome string) {
	t.metrics.RecordCall(t.method, outcome, time.Since(t.start))
}

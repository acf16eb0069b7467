package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for metrics collection
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		metrics.RecordHTTPRequest(method, path, status, time.Since(start))
	}
}

// Model call statuses
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Timer measures model call duration
type Timer struct {
	start   time.Time
	metrics *Metrics
	model   string
	items   int
}

// NewTimer starts timing a call of items inputs to model
func NewTimer(metrics *Metrics, model string, items int) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
		model:   model,
		items:   items,
	}
}

// Stop stops the timer and records the call
func (t *Timer) Stop(err error) time.Duration {
	duration := time.Since(t.start)
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	if t.metrics != nil {
		t.metrics.RecordModelCall(t.model, status, t.items, duration)
	}
	return duration
}

package httpmw

import (
	"github.com/gin-gonic/gin"
)

// RequestCounter records one served request against its matched route.
type RequestCounter interface {
	RecordHTTPRequest(method, path string, status int)
}

// Metrics counts every request by method, matched route, and status.
// Unmatched paths are collapsed under their raw URL to keep cardinality
// bounded to registered routes plus 404s.
func Metrics(counter RequestCounter) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		counter.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status())
	}
}

package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/pkg/middleware/requestid"
)

// Keys of the response "meta" object.
const (
	MetaCacheHit       = "cache_hit"
	MetaProcessingTime = "processing_time_ms"
	MetaRequestID      = "request_id"
)

const (
	responseMetaKey = "response_meta"
	requestStartKey = "response_meta_start"
)

// ResponseMeta is the free-form "meta" object attached to catalog responses.
type ResponseMeta map[string]interface{}

// WithResponseMeta starts the per-request meta object and its clock.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(requestStartKey, time.Now())
		c.Set(responseMetaKey, ResponseMeta{})
		c.Next()
	}
}

// SetCacheHit records whether the course cache served the response.
func SetCacheHit(c *gin.Context, hit bool) {
	metaOf(c)[MetaCacheHit] = hit
}

// ExtractMeta snapshots the meta object for the response body, stamping the
// elapsed time and request id. It returns nil when WithResponseMeta is not installed.
func ExtractMeta(c *gin.Context) ResponseMeta {
	if c == nil {
		return nil
	}
	raw, exists := c.Get(responseMetaKey)
	if !exists {
		return nil
	}
	meta, ok := raw.(ResponseMeta)
	if !ok {
		return nil
	}
	if start, ok := c.Get(requestStartKey); ok {
		if t, ok := start.(time.Time); ok {
			meta[MetaProcessingTime] = time.Since(t).Milliseconds()
		}
	}
	if id := requestid.Value(c); id != "" {
		meta[MetaRequestID] = id
	}
	return meta
}

func metaOf(c *gin.Context) ResponseMeta {
	if raw, exists := c.Get(responseMetaKey); exists {
		if meta, ok := raw.(ResponseMeta); ok {
			return meta
		}
	}
	meta := ResponseMeta{}
	c.Set(responseMetaKey, meta)
	return meta
}
